package chat

import (
	"context"
	"testing"
	"time"

	"consult-chat/internal/api"
	"consult-chat/internal/domain"
)

func TestPollerUsesLastMessageCursor(t *testing.T) {
	mock := &mockConsultationsAPI{
		pageFn: func(sinceID int64) (api.MessagePage, error) {
			if sinceID == 0 {
				return api.MessagePage{
					Conversation: &domain.Conversation{ID: 900},
					Results:      msgs(1, 2, 3),
				}, nil
			}
			return api.MessagePage{Results: []domain.Message{}}, nil
		},
	}
	svc := NewService(mock, nil, nil)
	svc.Bind(42, 7)
	if err := svc.FetchMessages(context.Background(), 0); err != nil {
		t.Fatalf("seed fetch: %v", err)
	}

	poller := NewPoller(svc, 10*time.Millisecond, nil)
	poller.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	poller.Stop()

	mock.mu.Lock()
	polls := append([]int64(nil), mock.messagesCalls...)
	mock.mu.Unlock()
	if len(polls) == 0 {
		t.Fatalf("expected at least one poll fetch")
	}
	for _, since := range polls {
		if since != 3 {
			t.Fatalf("expected poll cursor 3, got %d", since)
		}
	}
}

func TestPollerStopsCompletely(t *testing.T) {
	mock := &mockConsultationsAPI{
		pageFn: func(sinceID int64) (api.MessagePage, error) {
			if sinceID == 0 {
				return api.MessagePage{
					Conversation: &domain.Conversation{ID: 900},
					Results:      msgs(1),
				}, nil
			}
			return api.MessagePage{}, nil
		},
	}
	svc := NewService(mock, nil, nil)
	svc.Bind(42, 7)
	_ = svc.FetchMessages(context.Background(), 0)

	poller := NewPoller(svc, 10*time.Millisecond, nil)
	poller.Start(context.Background())
	time.Sleep(40 * time.Millisecond)
	poller.Stop()

	// Dejar aterrizar cualquier fetch que haya quedado en vuelo.
	time.Sleep(30 * time.Millisecond)
	_, before, _, _, _, _ := mock.counts()
	time.Sleep(60 * time.Millisecond)
	_, after, _, _, _, _ := mock.counts()
	if after != before {
		t.Fatalf("poller kept fetching after Stop: before=%d after=%d", before, after)
	}
}

func TestPollerIdleWithoutMessages(t *testing.T) {
	mock := &mockConsultationsAPI{}
	svc := NewService(mock, nil, nil)
	svc.Bind(42, 7)

	poller := NewPoller(svc, 10*time.Millisecond, nil)
	poller.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	poller.Stop()

	_, messages, operator, _, _, _ := mock.counts()
	if messages+operator != 0 {
		t.Fatalf("poller must stay idle without a bound conversation, got messages=%d operator=%d", messages, operator)
	}
}

func TestPollerStopIsIdempotent(t *testing.T) {
	svc := NewService(&mockConsultationsAPI{}, nil, nil)
	poller := NewPoller(svc, 10*time.Millisecond, nil)
	poller.Start(context.Background())
	poller.Stop()
	poller.Stop()
}
