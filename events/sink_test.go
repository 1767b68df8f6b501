package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelSink_SendAndDrain(t *testing.T) {
	s := NewChannelSink(4)
	ctx := context.Background()

	require.NoError(t, s.Send(ctx, Event{Tag: TagExecutionStart, Data: ExecutionStartData{TaskID: "t1"}}))
	require.NoError(t, s.Send(ctx, Event{Tag: TagFinalResult, Data: FinalResultData{Success: true}}))
	require.NoError(t, s.Close(ctx))

	var tags []Tag
	for ev := range s.Events() {
		tags = append(tags, ev.Tag)
	}
	assert.Equal(t, []Tag{TagExecutionStart, TagFinalResult}, tags)
}

func TestChannelSink_SendRespectsCancellation(t *testing.T) {
	s := NewChannelSink(1)
	require.NoError(t, s.Send(context.Background(), Event{Tag: TagError}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Send(ctx, Event{Tag: TagError})
	assert.Error(t, err, "send on a full channel with a cancelled context must not block forever")
}
