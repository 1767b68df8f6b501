// Package modeltest provides a scriptable fake model.Client for unit tests
// across the engine, planner, observer, formatter, and language packages.
package modeltest

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/taskforge/agentcore/model"
)

// Client is a fake model.Client that returns pre-scripted responses in call
// order. It records every request it receives for assertions.
type Client struct {
	mu            sync.Mutex
	responses     []model.Response
	errs          []error
	streams       [][]string // scripted chunk text per Stream call, in order
	calls         []model.Request
	completeCalls int
	streamCalls   int
}

// NewClient returns an empty fake; configure it with Script/ScriptError/
// ScriptStream before use.
func NewClient() *Client {
	return &Client{}
}

// Script appends a canned Complete response.
func (c *Client) Script(resp model.Response) *Client {
	c.responses = append(c.responses, resp)
	c.errs = append(c.errs, nil)
	return c
}

// ScriptText is a convenience wrapper around Script for plain text replies.
func (c *Client) ScriptText(text string) *Client {
	return c.Script(model.Response{Text: text})
}

// ScriptError appends a canned Complete error, consumed in call order
// alongside scripted responses.
func (c *Client) ScriptError(err error) *Client {
	c.responses = append(c.responses, model.Response{})
	c.errs = append(c.errs, err)
	return c
}

// ScriptStream appends a canned sequence of text chunks for the next Stream
// call.
func (c *Client) ScriptStream(chunks ...string) *Client {
	c.streams = append(c.streams, chunks)
	return c
}

// Calls returns every request received so far, in order.
func (c *Client) Calls() []model.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Request(nil), c.calls...)
}

// Complete returns the next scripted response/error pair.
func (c *Client) Complete(_ context.Context, req model.Request) (model.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)
	idx := c.completeCalls
	c.completeCalls++
	if idx >= len(c.responses) {
		return model.Response{}, errors.New("modeltest: no scripted response")
	}
	return c.responses[idx], c.errs[idx]
}

// Stream returns a streamer over the next scripted chunk sequence.
func (c *Client) Stream(_ context.Context, req model.Request) (model.Streamer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)
	idx := c.streamCalls
	c.streamCalls++
	if idx >= len(c.streams) {
		return nil, errors.New("modeltest: no scripted stream")
	}
	return &streamer{chunks: c.streams[idx]}, nil
}

type streamer struct {
	chunks []string
	pos    int
}

func (s *streamer) Recv() (model.Chunk, error) {
	if s.pos >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	text := s.chunks[s.pos]
	s.pos++
	return model.Chunk{Type: model.ChunkText, Text: text}, nil
}

func (s *streamer) Close() error { return nil }
