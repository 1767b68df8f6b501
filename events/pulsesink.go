package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

// PulseSink publishes run events to a Redis-backed goa.design/pulse stream,
// so callers on another process (a separate API gateway, a persistence
// worker) can subscribe to a run in progress instead of holding the engine
// connection open themselves.
type PulseSink struct {
	stream  *streaming.Stream
	runID   string
	timeout time.Duration
}

// envelope is the wire record written to the Pulse stream: the tag, the
// run it belongs to, a timestamp, and the JSON-encoded payload.
type envelope struct {
	Tag       Tag             `json:"tag"`
	RunID     string          `json:"runId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewPulseSink opens (or attaches to) the Pulse stream named
// "run/<runID>" backed by redisClient.
func NewPulseSink(ctx context.Context, redisClient *redis.Client, runID string, streamMaxLen int) (*PulseSink, error) {
	var opts []streamopts.Stream
	if streamMaxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(streamMaxLen))
	}
	stream, err := streaming.NewStream(fmt.Sprintf("run/%s", runID), redisClient, opts...)
	if err != nil {
		return nil, fmt.Errorf("events: open pulse stream: %w", err)
	}
	return &PulseSink{stream: stream, runID: runID, timeout: 5 * time.Second}, nil
}

// Send publishes ev to the stream, JSON-encoding its payload.
func (s *PulseSink) Send(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("events: marshal payload for %s: %w", ev.Tag, err)
	}
	env := envelope{Tag: ev.Tag, RunID: s.runID, Timestamp: time.Now().UTC(), Payload: payload}
	encoded, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: marshal envelope for %s: %w", ev.Tag, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err = s.stream.Add(sendCtx, string(ev.Tag), encoded)
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", ev.Tag, err)
	}
	return nil
}

// Close destroys the underlying Pulse stream. Callers that want the stream
// to outlive the run (e.g. for late subscribers) should not call Close and
// instead rely on the stream's own retention/maxlen policy.
func (s *PulseSink) Close(ctx context.Context) error {
	return s.stream.Destroy(ctx)
}
