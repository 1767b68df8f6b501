// Package language resolves the output language for an engine run: an
// explicit in-message instruction, a conversation override, the agent's
// configured default, LLM-based detection (with a fast path for
// unambiguous scripts), a browser hint, and finally English.
package language

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode"

	"github.com/taskforge/agentcore/model"
)

// Supported is the closed set of ISO-639-1 codes the engine renders output
// in. Any other code produced by detection maps to English.
var Supported = map[string]bool{
	"zh": true, "en": true, "ja": true, "ko": true, "es": true,
	"fr": true, "de": true, "it": true, "pt": true, "ru": true, "ar": true,
}

const fallback = "en"

// Resolver performs language resolution against an LLM client.
type Resolver struct {
	client model.Client
}

// New returns a Resolver backed by client.
func New(client model.Client) *Resolver {
	return &Resolver{client: client}
}

// Resolve implements the priority-ordered algorithm: explicit instruction,
// conversation override, agent default, detection, browser hint, English.
func (r *Resolver) Resolve(ctx context.Context, userMessage, agentDefault, conversationOverride, browserHint string) string {
	if lang, ok := r.ParseInstruction(ctx, userMessage); ok {
		return normalize(lang)
	}
	if conversationOverride != "" {
		return normalize(conversationOverride)
	}
	if agentDefault != "" {
		return normalize(agentDefault)
	}
	if lang, ok := quickDetect(userMessage); ok {
		return lang
	}
	if lang, ok := r.detect(ctx, userMessage); ok {
		return normalize(lang)
	}
	if browserHint != "" {
		return normalize(browserHint)
	}
	return fallback
}

type instructionVerdict struct {
	Lang string `json:"lang"`
	None bool   `json:"none"`
}

// ParseInstruction asks the LLM whether text contains an explicit
// language-instruction ("in English", "한국어로", "en français",
// "用韩语回答"). ok is false when none is found or the call/parse fails.
func (r *Resolver) ParseInstruction(ctx context.Context, text string) (string, bool) {
	if text == "" {
		return "", false
	}
	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	prompt := "Does the following message contain an explicit instruction about what language to respond in " +
		"(e.g. \"in English\", \"한국어로\", \"en français\", \"用韩语回答\")?\n" +
		"Message: " + text + "\n" +
		`Respond with exactly one JSON object: {"lang": "<ISO-639-1 code or empty>", "none": bool}.`

	resp, err := r.client.Complete(callCtx, model.Request{
		Messages: []model.Message{model.NewTextMessage(model.RoleUser, prompt)},
		JSONMode: true,
	})
	if err != nil {
		return "", false
	}
	var v instructionVerdict
	if jsonErr := json.Unmarshal([]byte(strings.TrimSpace(resp.Text)), &v); jsonErr != nil {
		return "", false
	}
	if v.None || v.Lang == "" {
		return "", false
	}
	return v.Lang, true
}

type detectVerdict struct {
	Lang string `json:"lang"`
}

func (r *Resolver) detect(ctx context.Context, text string) (string, bool) {
	if text == "" {
		return "", false
	}
	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	prompt := "Identify the primary language of the following text as an ISO-639-1 code.\n" +
		"Text: " + text + "\n" +
		`Respond with exactly one JSON object: {"lang": "<ISO-639-1 code>"}.`

	resp, err := r.client.Complete(callCtx, model.Request{
		Messages: []model.Message{model.NewTextMessage(model.RoleUser, prompt)},
		JSONMode: true,
	})
	if err != nil {
		return "", false
	}
	var v detectVerdict
	if jsonErr := json.Unmarshal([]byte(strings.TrimSpace(resp.Text)), &v); jsonErr != nil || v.Lang == "" {
		return "", false
	}
	return v.Lang, true
}

// quickDetect is the synchronous fast path for scripts that unambiguously
// identify a supported language, skipping the LLM round-trip entirely.
func quickDetect(text string) (string, bool) {
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
			return "ja", true
		case unicode.Is(unicode.Hangul, r):
			return "ko", true
		case unicode.Is(unicode.Arabic, r):
			return "ar", true
		case unicode.Is(unicode.Cyrillic, r):
			return "ru", true
		}
	}
	return "", false
}

// normalize maps an arbitrary detected/declared code onto the supported
// set, defaulting to English for anything unrecognized.
func normalize(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if len(lang) > 2 {
		lang = lang[:2]
	}
	if Supported[lang] {
		return lang
	}
	return fallback
}
