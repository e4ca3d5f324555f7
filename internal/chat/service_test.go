package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"consult-chat/internal/api"
	"consult-chat/internal/domain"
)

type mockConsultationsAPI struct {
	mu sync.Mutex

	createCalls int
	createConv  domain.Conversation
	createErr   error

	messagesCalls []int64
	operatorCalls []int64
	pageFn        func(sinceID int64) (api.MessagePage, error)
	fetchHook     func()

	sendCalls int
	sendMsg   domain.Message
	sendErr   error

	markAllCalls int
	markOpCalls  int
	markErr      error
}

func (m *mockConsultationsAPI) CreateConversation(_ context.Context, _ int64, _ string) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return domain.Conversation{}, m.createErr
	}
	return m.createConv, nil
}

func (m *mockConsultationsAPI) Messages(_ context.Context, _ int64, sinceID int64) (api.MessagePage, error) {
	m.mu.Lock()
	m.messagesCalls = append(m.messagesCalls, sinceID)
	hook := m.fetchHook
	fn := m.pageFn
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	if fn != nil {
		return fn(sinceID)
	}
	return api.MessagePage{}, nil
}

func (m *mockConsultationsAPI) OperatorMessages(_ context.Context, _ int64, sinceID int64) (api.MessagePage, error) {
	m.mu.Lock()
	m.operatorCalls = append(m.operatorCalls, sinceID)
	hook := m.fetchHook
	fn := m.pageFn
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	if fn != nil {
		return fn(sinceID)
	}
	return api.MessagePage{}, nil
}

func (m *mockConsultationsAPI) SendMessage(_ context.Context, _ int64, _ api.SendInput) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCalls++
	if m.sendErr != nil {
		return domain.Message{}, m.sendErr
	}
	return m.sendMsg, nil
}

func (m *mockConsultationsAPI) MarkAllRead(_ context.Context, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markAllCalls++
	return m.markErr
}

func (m *mockConsultationsAPI) MarkOperatorRead(_ context.Context, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markOpCalls++
	return m.markErr
}

func (m *mockConsultationsAPI) counts() (create, messages, operator, send, markAll, markOp int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls, len(m.messagesCalls), len(m.operatorCalls), m.sendCalls, m.markAllCalls, m.markOpCalls
}

func msgs(ids ...int64) []domain.Message {
	out := make([]domain.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Message{ID: id, Type: domain.MessageTypeText, Content: fmt.Sprintf("m%d", id)})
	}
	return out
}

func TestServiceValidatesPairBeforeNetwork(t *testing.T) {
	mock := &mockConsultationsAPI{}
	svc := NewService(mock, nil, nil)
	svc.Bind(0, 7)

	if err := svc.CreateConversation(context.Background()); !errors.Is(err, ErrInvalidPair) {
		t.Fatalf("expected ErrInvalidPair, got %v", err)
	}
	if err := svc.FetchMessages(context.Background(), 0); !errors.Is(err, ErrInvalidPair) {
		t.Fatalf("expected ErrInvalidPair, got %v", err)
	}
	if _, err := svc.SendMessage(context.Background(), api.SendInput{Content: "hi"}); !errors.Is(err, ErrInvalidPair) {
		t.Fatalf("expected ErrInvalidPair, got %v", err)
	}

	create, messages, operator, send, _, _ := mock.counts()
	if create+messages+operator+send != 0 {
		t.Fatalf("expected no network calls, got create=%d messages=%d operator=%d send=%d", create, messages, operator, send)
	}
}

func TestCreateConversationIdempotent(t *testing.T) {
	var notified []int64
	mock := &mockConsultationsAPI{createConv: domain.Conversation{ID: 900}}
	svc := NewService(mock, func(id int64) { notified = append(notified, id) }, nil)
	svc.Bind(42, 7)

	if err := svc.CreateConversation(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := svc.CreateConversation(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if create, _, _, _, _, _ := mock.counts(); create != 1 {
		t.Fatalf("expected exactly one create call, got %d", create)
	}
	if len(notified) != 1 || notified[0] != 900 {
		t.Fatalf("expected one created notification for 900, got %v", notified)
	}
	snap := svc.Snapshot()
	if snap.Conversation == nil || snap.Conversation.ID != 900 {
		t.Fatalf("expected adopted conversation 900, got %+v", snap.Conversation)
	}
}

func TestCreateAfterFetchAdoptionIsNoop(t *testing.T) {
	var notified int
	mock := &mockConsultationsAPI{
		pageFn: func(int64) (api.MessagePage, error) {
			return api.MessagePage{
				Conversation: &domain.Conversation{ID: 900},
				Results:      msgs(1, 2),
			}, nil
		},
	}
	svc := NewService(mock, func(int64) { notified++ }, nil)
	svc.Bind(42, 7)

	if err := svc.FetchMessages(context.Background(), 0); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := svc.CreateConversation(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if create, _, _, _, _, _ := mock.counts(); create != 0 {
		t.Fatalf("fetch adoption must set the one-shot flag, got %d create calls", create)
	}
	if notified != 1 {
		t.Fatalf("expected exactly one created notification, got %d", notified)
	}
}

func TestFetchIncrementalMerge(t *testing.T) {
	mock := &mockConsultationsAPI{
		pageFn: func(sinceID int64) (api.MessagePage, error) {
			if sinceID == 0 {
				return api.MessagePage{
					Conversation: &domain.Conversation{ID: 900},
					Results:      msgs(1, 2),
				}, nil
			}
			return api.MessagePage{Results: msgs(3)}, nil
		},
	}
	svc := NewService(mock, nil, nil)
	svc.Bind(42, 7)

	if err := svc.FetchMessages(context.Background(), 0); err != nil {
		t.Fatalf("initial fetch: %v", err)
	}
	if err := svc.FetchMessages(context.Background(), 2); err != nil {
		t.Fatalf("incremental fetch: %v", err)
	}

	snap := svc.Snapshot()
	if len(snap.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(snap.Messages))
	}
	for i, want := range []int64{1, 2, 3} {
		if snap.Messages[i].ID != want {
			t.Fatalf("position %d: expected id %d, got %d", i, want, snap.Messages[i].ID)
		}
	}
	if got := svc.LastMessageID(); got != 3 {
		t.Fatalf("expected cursor 3, got %d", got)
	}
}

func TestFetchDropsDuplicateIDs(t *testing.T) {
	mock := &mockConsultationsAPI{
		pageFn: func(sinceID int64) (api.MessagePage, error) {
			if sinceID == 0 {
				return api.MessagePage{
					Conversation: &domain.Conversation{ID: 900},
					Results:      msgs(1, 2),
				}, nil
			}
			// Ventana solapada del backend.
			return api.MessagePage{Results: msgs(2, 3)}, nil
		},
	}
	svc := NewService(mock, nil, nil)
	svc.Bind(42, 7)

	_ = svc.FetchMessages(context.Background(), 0)
	_ = svc.FetchMessages(context.Background(), 1)

	snap := svc.Snapshot()
	if len(snap.Messages) != 3 {
		t.Fatalf("expected de-duplicated sequence of 3, got %d", len(snap.Messages))
	}
	seen := map[int64]bool{}
	for _, m := range snap.Messages {
		if seen[m.ID] {
			t.Fatalf("duplicate id %d in sequence", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestFetchWithoutCursorReplacesSequence(t *testing.T) {
	call := 0
	mock := &mockConsultationsAPI{}
	mock.pageFn = func(int64) (api.MessagePage, error) {
		call++
		if call == 1 {
			return api.MessagePage{Conversation: &domain.Conversation{ID: 900}, Results: msgs(1, 2, 3)}, nil
		}
		return api.MessagePage{Results: msgs(2, 3)}, nil
	}
	svc := NewService(mock, nil, nil)
	svc.Bind(42, 7)

	_ = svc.FetchMessages(context.Background(), 0)
	_ = svc.FetchMessages(context.Background(), 0)

	snap := svc.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("resync must replace the sequence, got %d messages", len(snap.Messages))
	}
	if snap.Messages[0].ID != 2 || snap.Messages[1].ID != 3 {
		t.Fatalf("unexpected sequence after resync: %+v", snap.Messages)
	}
}

func TestFetchNotFoundFallsBackToCreate(t *testing.T) {
	mock := &mockConsultationsAPI{
		createConv: domain.Conversation{ID: 901},
		pageFn: func(int64) (api.MessagePage, error) {
			return api.MessagePage{}, fmt.Errorf("%w: detail", api.ErrConversationNotFound)
		},
	}
	svc := NewService(mock, nil, nil)
	svc.Bind(42, 7)

	if err := svc.FetchMessages(context.Background(), 0); err != nil {
		t.Fatalf("expected self-heal, got %v", err)
	}

	create, _, operator, _, _, _ := mock.counts()
	if create != 1 {
		t.Fatalf("expected exactly one create fallback, got %d", create)
	}
	if operator != 1 {
		t.Fatalf("expected one fetch before fallback, got %d", operator)
	}
	snap := svc.Snapshot()
	if snap.Conversation == nil || snap.Conversation.ID != 901 {
		t.Fatalf("expected conversation from fallback create, got %+v", snap.Conversation)
	}
}

func TestCreateExistsFallsBackToFetch(t *testing.T) {
	mock := &mockConsultationsAPI{
		createErr: fmt.Errorf("%w: detail", api.ErrConversationExists),
		pageFn: func(int64) (api.MessagePage, error) {
			return api.MessagePage{
				Conversation: &domain.Conversation{ID: 900},
				Results:      msgs(1),
			}, nil
		},
	}
	svc := NewService(mock, nil, nil)
	svc.Bind(42, 7)

	if err := svc.CreateConversation(context.Background()); err != nil {
		t.Fatalf("expected fetch fallback to succeed, got %v", err)
	}

	create, _, operator, _, _, _ := mock.counts()
	if create != 1 || operator != 1 {
		t.Fatalf("expected one create and one fallback fetch, got create=%d operator=%d", create, operator)
	}
	snap := svc.Snapshot()
	if snap.Conversation == nil || len(snap.Messages) != 1 {
		t.Fatalf("expected adopted conversation with messages, got %+v", snap)
	}
}

func TestSendWithoutConversationCreatesFirst(t *testing.T) {
	mock := &mockConsultationsAPI{
		createConv: domain.Conversation{ID: 900},
		sendMsg:    domain.Message{ID: 10, Content: "hello"},
	}
	svc := NewService(mock, nil, nil)
	svc.Bind(42, 7)

	msg, err := svc.SendMessage(context.Background(), api.SendInput{Content: "hello"})
	if err != nil {
		t.Fatalf("expected send to succeed, got %v", err)
	}
	if msg.ID != 10 {
		t.Fatalf("expected acked message, got %+v", msg)
	}

	create, _, _, send, markAll, markOp := mock.counts()
	if create != 1 {
		t.Fatalf("expected exactly one create before send, got %d", create)
	}
	if send != 1 {
		t.Fatalf("expected exactly one send, got %d", send)
	}
	if markOp != 1 || markAll != 0 {
		t.Fatalf("expected one per-message mark-read, got markOp=%d markAll=%d", markOp, markAll)
	}
	snap := svc.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].ID != 10 {
		t.Fatalf("expected acked message appended, got %+v", snap.Messages)
	}
}

func TestSendFailsWhenCreateYieldsNoConversation(t *testing.T) {
	mock := &mockConsultationsAPI{createErr: errors.New("backend down")}
	svc := NewService(mock, nil, nil)
	svc.Bind(42, 7)

	if _, err := svc.SendMessage(context.Background(), api.SendInput{Content: "hello"}); err == nil {
		t.Fatalf("expected error when no conversation can be created")
	}
	if _, _, _, send, _, _ := mock.counts(); send != 0 {
		t.Fatalf("send must not be attempted without a conversation, got %d", send)
	}
}

func TestSendErrorRecordedAndRaised(t *testing.T) {
	mock := &mockConsultationsAPI{
		createConv: domain.Conversation{ID: 900},
		sendErr:    errors.New("payload too large"),
	}
	svc := NewService(mock, nil, nil)
	svc.Bind(42, 7)
	_ = svc.CreateConversation(context.Background())

	if _, err := svc.SendMessage(context.Background(), api.SendInput{Content: "x"}); err == nil {
		t.Fatalf("expected send error surfaced")
	}
	if snap := svc.Snapshot(); snap.Err == "" {
		t.Fatalf("expected error recorded for the UI")
	}
}

func TestErrorClearedOnNextSuccess(t *testing.T) {
	failing := true
	mock := &mockConsultationsAPI{}
	mock.pageFn = func(int64) (api.MessagePage, error) {
		if failing {
			return api.MessagePage{}, errors.New("boom")
		}
		return api.MessagePage{Conversation: &domain.Conversation{ID: 900}, Results: msgs(1)}, nil
	}
	svc := NewService(mock, nil, nil)
	svc.Bind(42, 7)

	if err := svc.FetchMessages(context.Background(), 0); err == nil {
		t.Fatalf("expected fetch error")
	}
	if snap := svc.Snapshot(); snap.Err == "" {
		t.Fatalf("expected error recorded")
	}

	failing = false
	if err := svc.FetchMessages(context.Background(), 0); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if snap := svc.Snapshot(); snap.Err != "" {
		t.Fatalf("expected error cleared, got %q", snap.Err)
	}
}

func TestMarkAsReadSwallowsFailures(t *testing.T) {
	mock := &mockConsultationsAPI{
		createConv: domain.Conversation{ID: 900},
		markErr:    errors.New("receipt endpoint down"),
	}
	svc := NewService(mock, nil, nil)
	svc.Bind(42, 7)
	_ = svc.CreateConversation(context.Background())

	svc.MarkAsRead(context.Background(), 0)
	svc.MarkAsRead(context.Background(), 5)

	_, _, _, _, markAll, markOp := mock.counts()
	if markAll != 1 || markOp != 1 {
		t.Fatalf("expected both endpoints tried, got markAll=%d markOp=%d", markAll, markOp)
	}
	if snap := svc.Snapshot(); snap.Err != "" {
		t.Fatalf("read receipt failure must not surface, got %q", snap.Err)
	}
}

func TestMarkAsReadNoopWithoutConversation(t *testing.T) {
	mock := &mockConsultationsAPI{}
	svc := NewService(mock, nil, nil)
	svc.Bind(42, 7)

	svc.MarkAsRead(context.Background(), 3)

	_, _, _, _, markAll, markOp := mock.counts()
	if markAll+markOp != 0 {
		t.Fatalf("expected no mark-read calls, got markAll=%d markOp=%d", markAll, markOp)
	}
}

func TestRebindDiscardsStaleFetch(t *testing.T) {
	mock := &mockConsultationsAPI{}
	svc := NewService(mock, nil, nil)
	svc.Bind(42, 7)

	mock.pageFn = func(int64) (api.MessagePage, error) {
		return api.MessagePage{Conversation: &domain.Conversation{ID: 900}, Results: msgs(1, 2)}, nil
	}
	// El par cambia mientras el fetch esta en vuelo.
	mock.fetchHook = func() { svc.Bind(43, 8) }

	if err := svc.FetchMessages(context.Background(), 0); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	snap := svc.Snapshot()
	if snap.Conversation != nil || len(snap.Messages) != 0 {
		t.Fatalf("stale response must be discarded after rebind, got %+v", snap)
	}
}

func TestRebindResetsOneShotFlag(t *testing.T) {
	var notified int
	mock := &mockConsultationsAPI{createConv: domain.Conversation{ID: 900}}
	svc := NewService(mock, func(int64) { notified++ }, nil)

	svc.Bind(42, 7)
	_ = svc.CreateConversation(context.Background())
	svc.Bind(43, 8)
	_ = svc.CreateConversation(context.Background())

	if create, _, _, _, _, _ := mock.counts(); create != 2 {
		t.Fatalf("rebind must reset the one-shot flag, got %d create calls", create)
	}
	if notified != 2 {
		t.Fatalf("expected one notification per session, got %d", notified)
	}
}
