package language

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskforge/agentcore/model/modeltest"
)

func TestResolve_ExplicitInstructionWins(t *testing.T) {
	client := modeltest.NewClient().ScriptText(`{"lang":"fr","none":false}`)
	r := New(client)

	lang := r.Resolve(context.Background(), "answer en français please", "en", "ja", "de")
	assert.Equal(t, "fr", lang)
}

func TestResolve_ConversationOverrideBeatsAgentDefault(t *testing.T) {
	client := modeltest.NewClient().ScriptText(`{"lang":"","none":true}`)
	r := New(client)

	lang := r.Resolve(context.Background(), "hello", "en", "es", "de")
	assert.Equal(t, "es", lang)
}

func TestResolve_AgentDefaultUsedWhenNoOverride(t *testing.T) {
	client := modeltest.NewClient().ScriptText(`{"lang":"","none":true}`)
	r := New(client)

	lang := r.Resolve(context.Background(), "hello", "de", "", "fr")
	assert.Equal(t, "de", lang)
}

func TestResolve_QuickDetectHangulFastPath(t *testing.T) {
	client := modeltest.NewClient() // no scripted detect response — quick path must short-circuit
	r := New(client)

	lang := r.Resolve(context.Background(), "안녕하세요", "", "", "")
	assert.Equal(t, "ko", lang)
}

func TestResolve_BrowserHintFallback(t *testing.T) {
	client := modeltest.NewClient().
		ScriptText(`{"lang":"","none":true}`). // ParseInstruction
		ScriptText(`{"lang":""}`)               // detect: empty, falls through
	r := New(client)

	lang := r.Resolve(context.Background(), "hello there", "", "", "pt")
	assert.Equal(t, "pt", lang)
}

func TestResolve_UnsupportedCodeMapsToEnglish(t *testing.T) {
	client := modeltest.NewClient().ScriptText(`{"lang":"","none":true}`)
	r := New(client)

	lang := r.Resolve(context.Background(), "hello", "xx", "", "")
	assert.Equal(t, "en", lang)
}
