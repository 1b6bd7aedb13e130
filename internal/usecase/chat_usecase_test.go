package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"lokapasar/internal/domain/entity"
	"lokapasar/internal/infrastructure/presence"
	"lokapasar/pkg/errors"
)

// ---- in-memory fakes ----

type memConversationRepo struct {
	mu     sync.Mutex
	seq    int
	byID   map[string]*entity.Conversation
	byPair map[string]*entity.Conversation
}

func newMemConversationRepo() *memConversationRepo {
	return &memConversationRepo{
		byID:   make(map[string]*entity.Conversation),
		byPair: make(map[string]*entity.Conversation),
	}
}

func (r *memConversationRepo) Create(_ context.Context, c *entity.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if c.ID == "" {
		c.ID = fmt.Sprintf("conv-%d", r.seq)
	}
	if c.UnreadCount == nil {
		c.UnreadCount = make(map[string]int)
	}
	c.IsActive = true
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	r.byID[c.ID] = c
	r.byPair[c.PairKey] = c
	return nil
}

func (r *memConversationRepo) GetByID(_ context.Context, id string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}
	return c, nil
}

func (r *memConversationRepo) GetByPairKey(_ context.Context, pairKey string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byPair[pairKey]
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}
	return c, nil
}

func (r *memConversationRepo) ListByUserID(_ context.Context, userID string, limit, offset int) ([]*entity.Conversation, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Conversation
	for _, c := range r.byID {
		if c.IsParticipant(userID) {
			out = append(out, c)
		}
	}
	return out, int64(len(out)), nil
}

func (r *memConversationRepo) Update(_ context.Context, c *entity.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[c.ID]; !ok {
		return errors.NotFound("Conversation", nil)
	}
	c.UpdatedAt = time.Now()
	r.byID[c.ID] = c
	r.byPair[c.PairKey] = c
	return nil
}

func (r *memConversationRepo) SetLastMessage(_ context.Context, conversationID string, last *entity.LastMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[conversationID]
	if !ok {
		return errors.NotFound("Conversation", nil)
	}
	c.LastMessage = last
	c.UpdatedAt = time.Now()
	return nil
}

func (r *memConversationRepo) IncrementUnread(_ context.Context, conversationID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[conversationID]
	if !ok {
		return errors.NotFound("Conversation", nil)
	}
	if c.UnreadCount == nil {
		c.UnreadCount = make(map[string]int)
	}
	c.UnreadCount[userID]++
	return nil
}

func (r *memConversationRepo) DecrementUnread(_ context.Context, conversationID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[conversationID]
	if !ok {
		return errors.NotFound("Conversation", nil)
	}
	if c.UnreadCount[userID] > 0 {
		c.UnreadCount[userID]--
	}
	return nil
}

func (r *memConversationRepo) ResetUnread(_ context.Context, conversationID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[conversationID]
	if !ok {
		return errors.NotFound("Conversation", nil)
	}
	if c.UnreadCount == nil {
		c.UnreadCount = make(map[string]int)
	}
	c.UnreadCount[userID] = 0
	return nil
}

type memMessageRepo struct {
	mu       sync.Mutex
	seq      int
	messages map[string]map[string]*entity.Message // conversationID -> messageID
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{messages: make(map[string]map[string]*entity.Message)}
}

func (r *memMessageRepo) Create(_ context.Context, m *entity.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if m.ID == "" {
		m.ID = fmt.Sprintf("msg-%d", r.seq)
	}
	bucket, ok := r.messages[m.ConversationID]
	if !ok {
		bucket = make(map[string]*entity.Message)
		r.messages[m.ConversationID] = bucket
	}
	bucket[m.ID] = m
	return nil
}

func (r *memMessageRepo) GetByID(_ context.Context, conversationID, messageID string) (*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[conversationID][messageID]
	if !ok {
		return nil, errors.NotFound("Message", nil)
	}
	return m, nil
}

func (r *memMessageRepo) ListByConversation(_ context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Message
	for _, m := range r.messages[conversationID] {
		out = append(out, m)
	}
	return out, int64(len(out)), nil
}

func (r *memMessageRepo) Update(_ context.Context, m *entity.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[m.ConversationID][m.ID]; !ok {
		return errors.NotFound("Message", nil)
	}
	r.messages[m.ConversationID][m.ID] = m
	return nil
}

func (r *memMessageRepo) FindUnreadForReceiver(_ context.Context, conversationID, userID string) ([]*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Message
	for _, m := range r.messages[conversationID] {
		if m.ReceiverID == userID && !m.IsRead {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memMessageRepo) LatestInConversation(_ context.Context, conversationID string) (*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *entity.Message
	for _, m := range r.messages[conversationID] {
		if latest == nil || m.SentDate.After(latest.SentDate) {
			latest = m
		}
	}
	return latest, nil
}

func (r *memMessageRepo) Delete(_ context.Context, conversationID, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages[conversationID], messageID)
	return nil
}

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*entity.User
}

func newMemUserRepo(ids ...string) *memUserRepo {
	r := &memUserRepo{users: make(map[string]*entity.User)}
	for _, id := range ids {
		r.users[id] = &entity.User{ID: id, Username: id}
	}
	return r
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, errors.NotFound("User", nil)
	}
	return u, nil
}

func (r *memUserRepo) UpdateLastSeen(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.LastSeen = time.Now()
	}
	return nil
}

// recorder captures every fan-out the usecase performs so tests can assert on
// the emitted protocol events.
type recorded struct {
	Target string // "user:<id>", "conn:<user>/<conn>", "conv:<id>", "all"
	Type   string
	Data   map[string]interface{}
}

type recorder struct {
	mu     sync.Mutex
	events []recorded
}

func (r *recorder) record(target string, payload []byte) {
	var envelope struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	json.Unmarshal(payload, &envelope)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{Target: target, Type: envelope.Type, Data: envelope.Data})
}

func (r *recorder) SendToUser(userID string, payload []byte) {
	r.record("user:"+userID, payload)
}

func (r *recorder) SendToConnection(userID, connID string, payload []byte) {
	r.record("conn:"+userID+"/"+connID, payload)
}

func (r *recorder) SendToConversation(conversationID string, payload []byte, _ string) {
	r.record("conv:"+conversationID, payload)
}

func (r *recorder) BroadcastAll(payload []byte, _ string) {
	r.record("all", payload)
}

func (r *recorder) AddToRoom(string, string)    {}
func (r *recorder) RemoveFromRoom(string, string) {}
func (r *recorder) RemoveFromAllRooms(string)     {}

func (r *recorder) find(target, eventType string) []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recorded
	for _, e := range r.events {
		if e.Target == target && e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// ---- fixtures ----

type chatFixture struct {
	uc       *ChatUseCase
	convRepo *memConversationRepo
	msgRepo  *memMessageRepo
	tracker  presence.Tracker
	rec      *recorder
}

func newChatFixture(userIDs ...string) *chatFixture {
	convRepo := newMemConversationRepo()
	msgRepo := newMemMessageRepo()
	tracker := presence.NewMemoryTracker()
	rec := &recorder{}
	uc := NewChatUseCase(convRepo, msgRepo, newMemUserRepo(userIDs...), tracker, rec)
	return &chatFixture{uc: uc, convRepo: convRepo, msgRepo: msgRepo, tracker: tracker, rec: rec}
}

func (f *chatFixture) mustConversation(t *testing.T, a, b string) *entity.Conversation {
	t.Helper()
	conversation, err := f.uc.CreateOrGetConversation(context.Background(), a, CreateConversationInput{RecipientID: b})
	if err != nil {
		t.Fatalf("CreateOrGetConversation: %v", err)
	}
	return conversation
}

// ---- tests ----

func TestCreateOrGetConversationCanonicalPair(t *testing.T) {
	f := newChatFixture("alice", "bob")
	ctx := context.Background()

	first := f.mustConversation(t, "alice", "bob")
	second, err := f.uc.CreateOrGetConversation(ctx, "bob", CreateConversationInput{RecipientID: "alice"})
	if err != nil {
		t.Fatalf("reverse direction failed: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("both orderings must resolve to the same conversation: %s vs %s", first.ID, second.ID)
	}

	if _, err := f.uc.CreateOrGetConversation(ctx, "alice", CreateConversationInput{RecipientID: "alice"}); !errors.Is(err, "BAD_REQUEST") {
		t.Fatalf("self conversation must be rejected, got %v", err)
	}
	if _, err := f.uc.CreateOrGetConversation(ctx, "alice", CreateConversationInput{RecipientID: "nobody"}); !errors.Is(err, "NOT_FOUND") {
		t.Fatalf("unknown recipient must be NOT_FOUND, got %v", err)
	}
}

func TestSendMessageOfflineReceiver(t *testing.T) {
	f := newChatFixture("alice", "bob")
	ctx := context.Background()
	conversation := f.mustConversation(t, "alice", "bob")

	message, err := f.uc.SendMessage(ctx, "alice", SendMessageInput{ConversationID: conversation.ID, Content: "hi"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if message.Status != entity.StatusSent {
		t.Fatalf("offline receiver must leave status sent, got %s", message.Status)
	}
	if got := conversation.UnreadFor("bob"); got != 1 {
		t.Fatalf("unread = %d, want 1", got)
	}
	if len(f.rec.find("user:alice", "message_delivered")) != 0 {
		t.Fatalf("no delivered receipt when receiver is offline")
	}
	if len(f.rec.find("user:bob", "new_message")) != 1 {
		t.Fatalf("receiver's personal group must get the message")
	}
	if len(f.rec.find("user:bob", "notification")) != 1 {
		t.Fatalf("receiver should get a notification preview")
	}
}

func TestSendMessageOnlineNotViewing(t *testing.T) {
	f := newChatFixture("alice", "bob")
	ctx := context.Background()
	conversation := f.mustConversation(t, "alice", "bob")

	f.tracker.AddConnection(ctx, "bob", "b1")

	message, err := f.uc.SendMessage(ctx, "alice", SendMessageInput{ConversationID: conversation.ID, Content: "hi"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if message.Status != entity.StatusDelivered || !message.IsDelivered {
		t.Fatalf("online receiver must yield delivered, got %s", message.Status)
	}
	if message.IsRead {
		t.Fatalf("message must not be read until the receiver views it")
	}
	if len(f.rec.find("user:alice", "message_delivered")) != 1 {
		t.Fatalf("sender must get a delivered receipt")
	}
	if got := conversation.UnreadFor("bob"); got != 1 {
		t.Fatalf("unread = %d, want 1", got)
	}
	if len(f.rec.find("user:bob", "unread_count_update")) != 1 {
		t.Fatalf("receiver must get an unread count update")
	}
}

func TestSendMessageReceiverViewing(t *testing.T) {
	f := newChatFixture("alice", "bob")
	ctx := context.Background()
	conversation := f.mustConversation(t, "alice", "bob")

	f.tracker.AddConnection(ctx, "bob", "b1")
	if err := f.uc.JoinConversation(ctx, "bob", "b1", conversation.ID); err != nil {
		t.Fatalf("JoinConversation: %v", err)
	}

	message, err := f.uc.SendMessage(ctx, "alice", SendMessageInput{ConversationID: conversation.ID, Content: "hi"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if message.Status != entity.StatusRead || !message.IsRead {
		t.Fatalf("viewing receiver must yield read immediately, got %s", message.Status)
	}
	if got := conversation.UnreadFor("bob"); got != 0 {
		t.Fatalf("no unread increment when read immediately, got %d", got)
	}
	if len(f.rec.find("user:alice", "messages_read")) != 1 {
		t.Fatalf("sender must get a read receipt")
	}
	if len(f.rec.find("user:bob", "notification")) != 0 {
		t.Fatalf("no notification while the receiver is viewing")
	}
}

func TestSendMessageNonParticipant(t *testing.T) {
	f := newChatFixture("alice", "bob", "mallory")
	ctx := context.Background()
	conversation := f.mustConversation(t, "alice", "bob")

	_, err := f.uc.SendMessage(ctx, "mallory", SendMessageInput{ConversationID: conversation.ID, Content: "hi"})
	if !errors.Is(err, "FORBIDDEN") {
		t.Fatalf("non-participant send must be FORBIDDEN, got %v", err)
	}
}

func TestJoinConversationMarksAllRead(t *testing.T) {
	f := newChatFixture("alice", "bob")
	ctx := context.Background()
	conversation := f.mustConversation(t, "alice", "bob")

	for i := 0; i < 3; i++ {
		if _, err := f.uc.SendMessage(ctx, "alice", SendMessageInput{ConversationID: conversation.ID, Content: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}
	if got := conversation.UnreadFor("bob"); got != 3 {
		t.Fatalf("unread = %d, want 3", got)
	}

	f.tracker.AddConnection(ctx, "bob", "b1")
	if err := f.uc.JoinConversation(ctx, "bob", "b1", conversation.ID); err != nil {
		t.Fatalf("JoinConversation: %v", err)
	}

	if got := conversation.UnreadFor("bob"); got != 0 {
		t.Fatalf("join must reset unread, got %d", got)
	}

	readEvents := f.rec.find("user:alice", "messages_read")
	if len(readEvents) != 1 {
		t.Fatalf("want exactly one batched read receipt, got %d", len(readEvents))
	}
	ids, ok := readEvents[0].Data["message_ids"].([]interface{})
	if !ok || len(ids) != 3 {
		t.Fatalf("read receipt must cover all 3 messages, got %v", readEvents[0].Data["message_ids"])
	}

	unread, err := f.msgRepo.FindUnreadForReceiver(ctx, conversation.ID, "bob")
	if err != nil || len(unread) != 0 {
		t.Fatalf("all messages must be read after join, %d left", len(unread))
	}

	viewing := f.rec.find("user:alice", "user_in_conversation")
	if len(viewing) == 0 || viewing[0].Data["viewing"] != true {
		t.Fatalf("other participant must learn the receiver is viewing")
	}
}

func TestMarkMessagesReadFiltersForeignIDs(t *testing.T) {
	f := newChatFixture("alice", "bob")
	ctx := context.Background()
	conversation := f.mustConversation(t, "alice", "bob")

	sent, err := f.uc.SendMessage(ctx, "alice", SendMessageInput{ConversationID: conversation.ID, Content: "hi"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// alice trying to read her own outgoing message is a no-op.
	if err := f.uc.MarkMessagesRead(ctx, "alice", conversation.ID, []string{sent.ID, "missing-id"}); err != nil {
		t.Fatalf("MarkMessagesRead: %v", err)
	}
	if len(f.rec.find("user:alice", "messages_read")) != 0 {
		t.Fatalf("no read receipt for a no-op mark")
	}

	if err := f.uc.MarkMessagesRead(ctx, "bob", conversation.ID, []string{sent.ID, "missing-id"}); err != nil {
		t.Fatalf("MarkMessagesRead: %v", err)
	}
	if len(f.rec.find("user:alice", "messages_read")) != 1 {
		t.Fatalf("sender must get the read receipt")
	}
	if got := conversation.UnreadFor("bob"); got != 0 {
		t.Fatalf("unread must reset, got %d", got)
	}
}

func TestDeleteMessageIdempotentUnreadDecrement(t *testing.T) {
	f := newChatFixture("alice", "bob")
	ctx := context.Background()
	conversation := f.mustConversation(t, "alice", "bob")

	keep, err := f.uc.SendMessage(ctx, "alice", SendMessageInput{ConversationID: conversation.ID, Content: "first"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	doomed, err := f.uc.SendMessage(ctx, "alice", SendMessageInput{ConversationID: conversation.ID, Content: "second"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got := conversation.UnreadFor("bob"); got != 2 {
		t.Fatalf("unread = %d, want 2", got)
	}

	if err := f.uc.DeleteMessage(ctx, "bob", conversation.ID, doomed.ID); !errors.Is(err, "FORBIDDEN") {
		t.Fatalf("only the sender may delete, got %v", err)
	}

	if err := f.uc.DeleteMessage(ctx, "alice", conversation.ID, doomed.ID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if got := conversation.UnreadFor("bob"); got != 1 {
		t.Fatalf("unread = %d, want 1 after deleting one unread message", got)
	}
	if conversation.LastMessage == nil || conversation.LastMessage.ID != keep.ID {
		t.Fatalf("last message snapshot must fall back to the previous message")
	}

	// Duplicate delete from another tab: silent success, no second decrement.
	if err := f.uc.DeleteMessage(ctx, "alice", conversation.ID, doomed.ID); err != nil {
		t.Fatalf("duplicate delete must succeed silently, got %v", err)
	}
	if got := conversation.UnreadFor("bob"); got != 1 {
		t.Fatalf("unread = %d, duplicate delete must not double-decrement", got)
	}
}

func TestDeleteLastMessageClearsSnapshot(t *testing.T) {
	f := newChatFixture("alice", "bob")
	ctx := context.Background()
	conversation := f.mustConversation(t, "alice", "bob")

	only, err := f.uc.SendMessage(ctx, "alice", SendMessageInput{ConversationID: conversation.ID, Content: "only"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := f.uc.DeleteMessage(ctx, "alice", conversation.ID, only.ID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if conversation.LastMessage != nil {
		t.Fatalf("deleting the only message must clear the snapshot")
	}
}

func TestUnreadNeverNegative(t *testing.T) {
	f := newChatFixture("alice", "bob")
	ctx := context.Background()
	conversation := f.mustConversation(t, "alice", "bob")

	f.tracker.AddConnection(ctx, "bob", "b1")
	if err := f.uc.JoinConversation(ctx, "bob", "b1", conversation.ID); err != nil {
		t.Fatalf("JoinConversation: %v", err)
	}

	// Read immediately, so unread stays 0; deleting it must not go below.
	message, err := f.uc.SendMessage(ctx, "alice", SendMessageInput{ConversationID: conversation.ID, Content: "hi"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := f.uc.DeleteMessage(ctx, "alice", conversation.ID, message.ID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if got := conversation.UnreadFor("bob"); got != 0 {
		t.Fatalf("unread = %d, must never go negative", got)
	}
}

func TestRegisterConnectionPresenceAndCatchUp(t *testing.T) {
	f := newChatFixture("alice", "bob")
	ctx := context.Background()
	conversation := f.mustConversation(t, "alice", "bob")

	if _, err := f.uc.SendMessage(ctx, "alice", SendMessageInput{ConversationID: conversation.ID, Content: "while you were away"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	f.uc.RegisterConnection(ctx, "bob", "b1")

	online := f.rec.find("all", "user_online")
	if len(online) != 1 || online[0].Data["online"] != true {
		t.Fatalf("first device must broadcast the online transition")
	}

	pending := f.rec.find("conn:bob/b1", "pending_notifications")
	if len(pending) != 1 {
		t.Fatalf("new connection must receive the catch-up push")
	}
	if got := pending[0].Data["total_unread"].(float64); got != 1 {
		t.Fatalf("total_unread = %v, want 1", got)
	}

	// Second device: no new broadcast.
	f.uc.RegisterConnection(ctx, "bob", "b2")
	if len(f.rec.find("all", "user_online")) != 1 {
		t.Fatalf("second device must not re-broadcast the online transition")
	}

	f.uc.UnregisterConnection(ctx, "bob", "b2")
	if len(f.rec.find("all", "user_online")) != 1 {
		t.Fatalf("user still online on b1, no offline broadcast yet")
	}

	f.uc.UnregisterConnection(ctx, "bob", "b1")
	online = f.rec.find("all", "user_online")
	if len(online) != 2 || online[1].Data["online"] != false {
		t.Fatalf("last device gone must broadcast offline")
	}
}

func TestTypingRelayedToRoomOnly(t *testing.T) {
	f := newChatFixture("alice", "bob")
	ctx := context.Background()
	conversation := f.mustConversation(t, "alice", "bob")

	f.uc.Typing(ctx, "alice", conversation.ID, true)
	events := f.rec.find("conv:"+conversation.ID, "typing_indicator")
	if len(events) != 1 {
		t.Fatalf("typing must go to the conversation room, got %d events", len(events))
	}
	if events[0].Data["is_typing"] != true {
		t.Fatalf("is_typing flag lost")
	}

	// Non-participants are dropped silently.
	f.uc.Typing(ctx, "mallory", conversation.ID, true)
	if len(f.rec.find("conv:"+conversation.ID, "typing_indicator")) != 1 {
		t.Fatalf("non-participant typing must be dropped")
	}
}
