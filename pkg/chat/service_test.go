package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nestbay/realtime/pkg/errs"
	"github.com/nestbay/realtime/pkg/limiter"
	"github.com/nestbay/realtime/pkg/model"
	"github.com/nestbay/realtime/pkg/notify"
	"github.com/nestbay/realtime/pkg/snowflake"
)

type fakeStore struct {
	mu            sync.Mutex
	conversations map[string]*model.Conversation
	messages      map[string]map[int64]*model.Message
	markers       map[string]int64 // conversationID+":"+userID -> last read
	failAppend    bool
	appends       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string]map[int64]*model.Message),
		markers:       make(map[string]int64),
	}
}

func (st *fakeStore) addConversation(c *model.Conversation) {
	st.conversations[c.ID] = c
	st.messages[c.ID] = make(map[int64]*model.Message)
}

func (st *fakeStore) Conversation(ctx context.Context, id string) (*model.Conversation, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	c, ok := st.conversations[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "conversation not found")
	}
	cp := *c
	return &cp, nil
}

func (st *fakeStore) CreateConversation(ctx context.Context, c *model.Conversation) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.conversations[c.ID] = c
	st.messages[c.ID] = make(map[int64]*model.Message)
	return nil
}

func (st *fakeStore) AppendMessage(ctx context.Context, m *model.Message) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.failAppend {
		return errs.Wrap(errs.KindTransient, "save message", errors.New("down"))
	}
	st.appends++
	cp := *m
	st.messages[m.ConversationID][m.ID] = &cp
	conv := st.conversations[m.ConversationID]
	conv.LastMessage = m.Content
	conv.LastSenderID = m.SenderID
	conv.LastActivity = m.CreatedAt
	return nil
}

func (st *fakeStore) Message(ctx context.Context, conversationID string, id int64) (*model.Message, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	m, ok := st.messages[conversationID][id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "message not found")
	}
	cp := *m
	return &cp, nil
}

func (st *fakeStore) UpdateMessage(ctx context.Context, m *model.Message) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	cp := *m
	st.messages[m.ConversationID][m.ID] = &cp
	return nil
}

func (st *fakeStore) MarkRead(ctx context.Context, conversationID, readerID string) ([]int64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	var flipped []int64
	for id, m := range st.messages[conversationID] {
		if m.SenderID != readerID && !m.Read {
			m.Read = true
			flipped = append(flipped, id)
		}
	}
	return flipped, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
	// persistedAt snapshots the store's append count when each event was
	// published, to assert publish-after-persist ordering.
	persistedAt []int
	store       *fakeStore
}

func (p *recordingPublisher) Publish(ctx context.Context, ev notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	if p.store != nil {
		p.store.mu.Lock()
		p.persistedAt = append(p.persistedAt, p.store.appends)
		p.store.mu.Unlock()
	}
	return nil
}

func (p *recordingPublisher) named(name string) []notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []notify.Event
	for _, ev := range p.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

type allowAll struct{}

func (allowAll) Allow(ctx context.Context, id string, a limiter.Action) (bool, time.Duration, error) {
	return true, 0, nil
}

type denyAll struct{}

func (denyAll) Allow(ctx context.Context, id string, a limiter.Action) (bool, time.Duration, error) {
	return false, 30 * time.Second, nil
}

var (
	sender = model.Identity{ID: "u1", Name: "Uma", Role: model.RoleCustomer}
	peer   = model.Identity{ID: "u2", Name: "Pat", Role: model.RoleCustomer}
	other  = model.Identity{ID: "u3", Name: "Olu", Role: model.RoleCustomer}
)

func newTestService(t *testing.T, lim limiter.Limiter) (*Service, *fakeStore, *recordingPublisher) {
	t.Helper()
	store := newFakeStore()
	pub := &recordingPublisher{store: store}
	ids, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatal(err)
	}
	return NewService(store, lim, pub, ids), store, pub
}

func directConversation(store *fakeStore) *model.Conversation {
	c := &model.Conversation{
		ID:           "c1",
		Type:         model.ConversationDirect,
		Participants: []string{"u1", "u2"},
	}
	store.addConversation(c)
	return c
}

func TestSendDeliversToRoomWithoutEcho(t *testing.T) {
	svc, store, pub := newTestService(t, allowAll{})
	directConversation(store)

	msg, err := svc.Send(context.Background(), sender, "c1", "hello", model.KindText, "")
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID == 0 || msg.Content != "hello" {
		t.Fatalf("unexpected message %+v", msg)
	}

	room := pub.named(model.EventNewMessage)
	if len(room) != 1 {
		t.Fatalf("room broadcasts = %d, want 1", len(room))
	}
	if room[0].Target != notify.Room("c1") {
		t.Fatalf("target = %+v, want room:c1", room[0].Target)
	}
	if len(room[0].Exclude) != 1 || room[0].Exclude[0] != "u1" {
		t.Fatalf("sender must be excluded from the room broadcast, got %v", room[0].Exclude)
	}

	notes := pub.named(model.EventNewNotification)
	if len(notes) != 1 || notes[0].Target != notify.User("u2") {
		t.Fatalf("expected one personal notification to u2, got %+v", notes)
	}
}

func TestSendPublishesOnlyAfterPersist(t *testing.T) {
	svc, store, pub := newTestService(t, allowAll{})
	directConversation(store)

	if _, err := svc.Send(context.Background(), sender, "c1", "hello", model.KindText, ""); err != nil {
		t.Fatal(err)
	}
	for i, n := range pub.persistedAt {
		if n < 1 {
			t.Fatalf("event %d published before the message was persisted", i)
		}
	}
}

func TestSendRejectsNonParticipant(t *testing.T) {
	svc, store, pub := newTestService(t, allowAll{})
	directConversation(store)

	_, err := svc.Send(context.Background(), other, "c1", "hello", model.KindText, "")
	if !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
	if store.appends != 0 || len(pub.events) != 0 {
		t.Fatal("authorization failure must not persist or broadcast")
	}
}

func TestSendRateLimited(t *testing.T) {
	svc, store, pub := newTestService(t, denyAll{})
	directConversation(store)

	_, err := svc.Send(context.Background(), sender, "c1", "hello", model.KindText, "")
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindRateLimited {
		t.Fatalf("err = %v, want rate_limited", err)
	}
	if e.RetryAfter != 30*time.Second {
		t.Fatalf("retry hint = %v, want 30s", e.RetryAfter)
	}
	if store.appends != 0 || len(pub.events) != 0 {
		t.Fatal("rate-limited send must not be persisted or broadcast")
	}
}

func TestSendSpamRejectedWithDistinctKind(t *testing.T) {
	svc, store, pub := newTestService(t, allowAll{})
	directConversation(store)

	_, err := svc.Send(context.Background(), sender, "c1",
		"buy buy buy buy buy buy buy buy buy buy buy buy", model.KindText, "")
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindSpam {
		t.Fatalf("err = %v, want spam", err)
	}
	if store.appends != 0 || len(pub.events) != 0 {
		t.Fatal("spam must not be persisted or broadcast")
	}
}

func TestSendPersistenceFailureIsTransientAndSilent(t *testing.T) {
	svc, store, pub := newTestService(t, allowAll{})
	directConversation(store)
	store.failAppend = true

	_, err := svc.Send(context.Background(), sender, "c1", "hello", model.KindText, "")
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindTransient {
		t.Fatalf("err = %v, want transient", err)
	}
	if len(pub.events) != 0 {
		t.Fatal("no broadcast may occur when persistence fails")
	}
}

func TestSupportConversationUsesTicketMessageEvent(t *testing.T) {
	svc, store, pub := newTestService(t, allowAll{})
	store.addConversation(&model.Conversation{
		ID:           "t1",
		Type:         model.ConversationSupport,
		Participants: []string{"u1", "agent1"},
	})

	if _, err := svc.Send(context.Background(), sender, "t1", "my payment failed", model.KindText, ""); err != nil {
		t.Fatal(err)
	}
	if len(pub.named(model.EventTicketMessage)) != 1 {
		t.Fatal("support room messages should go out as ticket-message")
	}
	if len(pub.named(model.EventNewMessage)) != 0 {
		t.Fatal("support room messages should not go out as new-message")
	}
}

func TestEditOnlyBySender(t *testing.T) {
	svc, store, pub := newTestService(t, allowAll{})
	directConversation(store)

	msg, err := svc.Send(context.Background(), sender, "c1", "helo", model.KindText, "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Edit(context.Background(), peer, "c1", msg.ID, "hijacked"); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("edit by non-sender = %v, want forbidden", err)
	}
	stored, _ := store.Message(context.Background(), "c1", msg.ID)
	if stored.Content != "helo" || stored.Edited {
		t.Fatal("failed edit must not mutate the message")
	}

	edited, err := svc.Edit(context.Background(), sender, "c1", msg.ID, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !edited.Edited || edited.Content != "hello" {
		t.Fatalf("edit result = %+v", edited)
	}
	if len(pub.named(model.EventMessageEdited)) != 1 {
		t.Fatal("room must be told about the edit")
	}
}

func TestDeleteTombstones(t *testing.T) {
	svc, store, pub := newTestService(t, allowAll{})
	directConversation(store)

	msg, err := svc.Send(context.Background(), sender, "c1", "oops", model.KindText, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(context.Background(), sender, "c1", msg.ID); err != nil {
		t.Fatal(err)
	}

	stored, err := store.Message(context.Background(), "c1", msg.ID)
	if err != nil {
		t.Fatal("tombstoned message must still exist")
	}
	if !stored.Deleted || stored.Content != Tombstone {
		t.Fatalf("stored = %+v, want tombstone", stored)
	}
	if len(pub.named(model.EventMessageDeleted)) != 1 {
		t.Fatal("room must be told about the deletion")
	}

	if _, err := svc.Edit(context.Background(), sender, "c1", msg.ID, "resurrect"); err == nil {
		t.Fatal("editing a deleted message should fail")
	}
}

func TestMarkReadSkipsOwnMessages(t *testing.T) {
	svc, store, pub := newTestService(t, allowAll{})
	directConversation(store)
	ctx := context.Background()

	mine, _ := svc.Send(ctx, sender, "c1", "mine", model.KindText, "")
	theirs, _ := svc.Send(ctx, peer, "c1", "theirs", model.KindText, "")

	if err := svc.MarkRead(ctx, sender, "c1"); err != nil {
		t.Fatal(err)
	}

	m1, _ := store.Message(ctx, "c1", mine.ID)
	m2, _ := store.Message(ctx, "c1", theirs.ID)
	if m1.Read {
		t.Fatal("caller's own message must not be marked read")
	}
	if !m2.Read {
		t.Fatal("peer's message should be marked read")
	}

	reads := pub.named(model.EventMessagesRead)
	if len(reads) != 1 {
		t.Fatalf("messages-read broadcasts = %d, want 1", len(reads))
	}
	if len(reads[0].Exclude) != 1 || reads[0].Exclude[0] != "u1" {
		t.Fatal("reader should be excluded from the read receipt broadcast")
	}
}

func TestMarkReadNoopWithoutUnread(t *testing.T) {
	svc, store, pub := newTestService(t, allowAll{})
	directConversation(store)

	if err := svc.MarkRead(context.Background(), sender, "c1"); err != nil {
		t.Fatal(err)
	}
	if len(pub.events) != 0 {
		t.Fatal("nothing to read, nothing to broadcast")
	}
}

func TestStartConversationDedupesParticipants(t *testing.T) {
	svc, _, pub := newTestService(t, allowAll{})

	conv, err := svc.Start(context.Background(), sender, []string{"u2", "u2", "u1"}, model.ConversationDirect, "listing-9")
	if err != nil {
		t.Fatal(err)
	}
	if len(conv.Participants) != 2 {
		t.Fatalf("participants = %v, want [u1 u2]", conv.Participants)
	}
	if conv.ListingID != "listing-9" {
		t.Fatalf("listing = %q", conv.ListingID)
	}
	if len(pub.named(model.EventConversationStarted)) != 1 {
		t.Fatal("the other participant should be notified")
	}
}

func TestStartConversationNeedsTwoParticipants(t *testing.T) {
	svc, _, _ := newTestService(t, allowAll{})
	_, err := svc.Start(context.Background(), sender, nil, model.ConversationDirect, "")
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindInvalid {
		t.Fatalf("err = %v, want invalid", err)
	}
}

func TestTypingExcludesSenderAndPersistsNothing(t *testing.T) {
	svc, store, pub := newTestService(t, denyAll{})
	directConversation(store)

	if err := svc.Typing(context.Background(), sender, "c1", true); err != nil {
		t.Fatal(err)
	}
	evs := pub.named(model.EventUserTyping)
	if len(evs) != 1 {
		t.Fatalf("typing events = %d, want 1", len(evs))
	}
	if len(evs[0].Exclude) != 1 || evs[0].Exclude[0] != "u1" {
		t.Fatal("typing must exclude the sender")
	}
	if store.appends != 0 {
		t.Fatal("typing must not persist anything")
	}
}
