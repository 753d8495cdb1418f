package transcription

import (
	"context"
	"sync"
)

// StaticTranscriber returns a fixed response or error and records every
// request. It is deterministic and never touches the network.
type StaticTranscriber struct {
	Response *Response
	Err      error

	mu       sync.Mutex
	requests []Request
}

// NewStaticTranscriber returns a transcriber that always answers with text
// and a single segment carrying avgLogprob.
func NewStaticTranscriber(text string, avgLogprob float64) *StaticTranscriber {
	return &StaticTranscriber{
		Response: &Response{
			Text:     text,
			Segments: []Segment{{Text: text, AvgLogprob: avgLogprob}},
		},
	}
}

// Transcribe records the request and returns the configured result
func (s *StaticTranscriber) Transcribe(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}

	resp := *s.Response
	return &resp, nil
}

// Requests returns a copy of the requests seen so far
func (s *StaticTranscriber) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}
