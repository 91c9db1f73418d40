package chat

import (
	"context"
	"sync"
)

// FakeService answers with a function of the received messages and keeps
// every request for inspection
type FakeService struct {
	mu       sync.Mutex
	Reply    func(messages []Message) (string, error)
	requests [][]Message
}

func NewFake(reply func(messages []Message) (string, error)) *FakeService {
	if reply == nil {
		reply = func(_ []Message) (string, error) {
			return "ok", nil
		}
	}
	return &FakeService{Reply: reply}
}

func (svc *FakeService) Complete(ctx context.Context, messages []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	svc.mu.Lock()
	svc.requests = append(svc.requests, messages)
	svc.mu.Unlock()

	return svc.Reply(messages)
}

func (svc *FakeService) Requests() [][]Message {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([][]Message(nil), svc.requests...)
}
