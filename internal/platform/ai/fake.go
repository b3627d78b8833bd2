package ai

import (
	"context"
	"sync"
)

// FakeClient is a scriptable test double. Replies are returned in order; when
// the script is exhausted the last entry repeats. An entry with a non-nil Err
// fails the call.
type FakeClient struct {
	mu       sync.Mutex
	script   []FakeReply
	pos      int
	Requests []Request
}

type FakeReply struct {
	Content string
	Err     error
}

func NewFakeClient(script ...FakeReply) *FakeClient {
	return &FakeClient{script: script}
}

func (f *FakeClient) Complete(_ context.Context, req Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Requests = append(f.Requests, req)
	if len(f.script) == 0 {
		return "", ErrNoOutput
	}
	reply := f.script[f.pos]
	if f.pos < len(f.script)-1 {
		f.pos++
	}
	if reply.Err != nil {
		return "", reply.Err
	}
	return reply.Content, nil
}
