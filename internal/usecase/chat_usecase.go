package usecase

import (
	"context"
	"time"

	"lokapasar/internal/domain/entity"
	"lokapasar/internal/domain/repository"
	"lokapasar/internal/infrastructure/presence"
	"lokapasar/internal/infrastructure/ratelimit"
	"lokapasar/pkg/errors"
	"lokapasar/pkg/logger"
)

const notificationPreviewLength = 80

// pendingNotificationLimit caps how many conversations the catch-up push
// enumerates for a freshly connected client.
const pendingNotificationLimit = 50

type ChatUseCase struct {
	conversationRepo repository.ConversationRepository
	messageRepo      repository.MessageRepository
	userRepo         repository.UserRepository
	tracker          presence.Tracker
	broadcaster      Broadcaster
	rateLimiter      *ratelimit.RateLimiter
}

func NewChatUseCase(
	conversationRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	tracker presence.Tracker,
	broadcaster Broadcaster,
) *ChatUseCase {
	return &ChatUseCase{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		userRepo:         userRepo,
		tracker:          tracker,
		broadcaster:      broadcaster,
		rateLimiter:      ratelimit.NewRateLimiter(),
	}
}

type CreateConversationInput struct {
	RecipientID    string
	ProductID      string
	InitialMessage string
}

type SendMessageInput struct {
	ConversationID string
	Content        string
	Type           entity.MessageType
}

// CreateOrGetConversation resolves the single direct conversation for a pair,
// creating it lazily on first contact. Participants are stored in canonical
// order so both orderings resolve to the same record.
func (uc *ChatUseCase) CreateOrGetConversation(ctx context.Context, userID string, input CreateConversationInput) (*entity.Conversation, error) {
	if allowed, _ := uc.rateLimiter.Allow(userID, "create_conversation"); !allowed {
		return nil, errors.TooManyRequests("Rate limit exceeded. Please wait before starting another conversation")
	}

	if userID == input.RecipientID {
		return nil, errors.BadRequest("You cannot start a conversation with yourself", nil)
	}

	if _, err := uc.userRepo.GetByID(ctx, input.RecipientID); err != nil {
		return nil, errors.NotFound("Recipient", err)
	}

	pairKey := entity.PairKeyFor(userID, input.RecipientID)

	conversation, err := uc.conversationRepo.GetByPairKey(ctx, pairKey)
	if err != nil {
		if !errors.Is(err, "NOT_FOUND") {
			return nil, err
		}

		conversation = &entity.Conversation{
			Participants: entity.CanonicalParticipants(userID, input.RecipientID),
			PairKey:      pairKey,
			ProductID:    input.ProductID,
			UnreadCount:  make(map[string]int),
		}
		if err := uc.conversationRepo.Create(ctx, conversation); err != nil {
			return nil, err
		}
	} else if input.ProductID != "" && conversation.ProductID != input.ProductID {
		// A new product inquiry retargets the existing conversation.
		conversation.ProductID = input.ProductID
		if err := uc.conversationRepo.Update(ctx, conversation); err != nil {
			logger.Warn("CreateOrGetConversation: failed to update product context for %s: %v", conversation.ID, err)
		}
	}

	if input.InitialMessage != "" {
		if _, err := uc.SendMessage(ctx, userID, SendMessageInput{
			ConversationID: conversation.ID,
			Content:        input.InitialMessage,
			Type:           entity.TypeText,
		}); err != nil {
			return nil, err
		}
	}

	return conversation, nil
}

func (uc *ChatUseCase) GetConversation(ctx context.Context, userID, conversationID string) (*entity.Conversation, error) {
	conversation, err := uc.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.IsParticipant(userID) {
		return nil, errors.Forbidden("User is not a participant in this conversation", nil)
	}
	return conversation, nil
}

func (uc *ChatUseCase) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*entity.Conversation, int64, error) {
	return uc.conversationRepo.ListByUserID(ctx, userID, limit, offset)
}

func (uc *ChatUseCase) GetMessages(ctx context.Context, userID, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	if _, err := uc.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, 0, err
	}
	return uc.messageRepo.ListByConversation(ctx, conversationID, limit, offset)
}

// SendMessage persists a new message and runs the delivery protocol against
// the receiver's current presence.
func (uc *ChatUseCase) SendMessage(ctx context.Context, userID string, input SendMessageInput) (*entity.Message, error) {
	if allowed, _ := uc.rateLimiter.Allow(userID, "send_message"); !allowed {
		uc.broadcaster.SendToUser(userID, Event("error", map[string]interface{}{
			"code":    "TOO_MANY_REQUESTS",
			"message": "You are sending messages too quickly. Please slow down.",
		}))
		return nil, errors.TooManyRequests("Rate limit exceeded. Please wait before sending another message")
	}

	conversation, err := uc.GetConversation(ctx, userID, input.ConversationID)
	if err != nil {
		return nil, err
	}

	messageType := input.Type
	if messageType == "" {
		messageType = entity.TypeText
	}

	message := &entity.Message{
		ConversationID: conversation.ID,
		SenderID:       userID,
		ReceiverID:     conversation.OtherParticipant(userID),
		Content:        input.Content,
		Type:           messageType,
		Status:         entity.StatusSent,
		SentDate:       time.Now(),
	}

	if err := uc.deliver(ctx, conversation, message); err != nil {
		return nil, err
	}

	return message, nil
}

// RecordCallMessage logs a finished, rejected, or missed call as a message and
// fans it out through the same delivery pipeline as a regular send.
func (uc *ChatUseCase) RecordCallMessage(ctx context.Context, callerID, conversationID string, callType entity.CallType, duration int, content string) (*entity.Message, error) {
	conversation, err := uc.GetConversation(ctx, callerID, conversationID)
	if err != nil {
		return nil, err
	}

	message := &entity.Message{
		ConversationID: conversation.ID,
		SenderID:       callerID,
		ReceiverID:     conversation.OtherParticipant(callerID),
		Content:        content,
		Type:           entity.TypeCall,
		Status:         entity.StatusSent,
		CallType:       callType,
		CallDuration:   duration,
		SentDate:       time.Now(),
	}

	if err := uc.deliver(ctx, conversation, message); err != nil {
		return nil, err
	}

	return message, nil
}

// deliver persists the message, updates the conversation snapshot, and decides
// the immediate delivery/read status:
//
//	receiver viewing the conversation  -> read, no unread increment
//	receiver online elsewhere          -> delivered, unread +1
//	receiver fully offline             -> stays sent, unread +1
//
// The receiver's personal group always gets the message so every connected
// device sees it even without the room joined.
func (uc *ChatUseCase) deliver(ctx context.Context, conversation *entity.Conversation, message *entity.Message) error {
	if err := uc.messageRepo.Create(ctx, message); err != nil {
		return err
	}

	if err := uc.conversationRepo.SetLastMessage(ctx, conversation.ID, message.Snapshot()); err != nil {
		logger.Warn("deliver: failed to update last message for %s: %v", conversation.ID, err)
	}

	receiver := message.ReceiverID
	receiverViewing := receiver != "" && uc.tracker.UserInRoom(ctx, conversation.ID, receiver)

	uc.broadcaster.SendToConversation(conversation.ID, Event("new_message", map[string]interface{}{
		"conversation_id": conversation.ID,
		"message":         message,
	}), message.SenderID)

	if receiver != "" {
		if receiverViewing {
			if err := message.Advance(entity.StatusRead); err == nil {
				if err := uc.messageRepo.Update(ctx, message); err != nil {
					logger.Warn("deliver: failed to persist read status for %s: %v", message.ID, err)
				}
			}
			uc.broadcaster.SendToUser(message.SenderID, Event("messages_read", map[string]interface{}{
				"conversation_id": conversation.ID,
				"message_ids":     []string{message.ID},
				"reader_id":       receiver,
			}))
		} else {
			if uc.tracker.IsUserOnline(ctx, receiver) {
				if err := message.Advance(entity.StatusDelivered); err == nil {
					if err := uc.messageRepo.Update(ctx, message); err != nil {
						logger.Warn("deliver: failed to persist delivered status for %s: %v", message.ID, err)
					}
				}
				uc.broadcaster.SendToUser(message.SenderID, Event("message_delivered", map[string]interface{}{
					"conversation_id": conversation.ID,
					"message_id":      message.ID,
				}))
			}

			if err := uc.conversationRepo.IncrementUnread(ctx, conversation.ID, receiver); err != nil {
				logger.Error("deliver: failed to increment unread for %s in %s: %v", receiver, conversation.ID, err)
			}
			uc.broadcaster.SendToUser(receiver, Event("unread_count_update", map[string]interface{}{
				"conversation_id": conversation.ID,
				"unread_count":    conversation.UnreadFor(receiver) + 1,
			}))
		}

		uc.broadcaster.SendToUser(receiver, Event("new_message", map[string]interface{}{
			"conversation_id": conversation.ID,
			"message":         message,
		}))

		if !receiverViewing {
			uc.broadcaster.SendToUser(receiver, Event("notification", map[string]interface{}{
				"conversation_id": conversation.ID,
				"sender_id":       message.SenderID,
				"message_type":    message.Type,
				"preview":         message.Preview(notificationPreviewLength),
			}))
		}
	}

	return nil
}

// JoinConversation adds the connection to the conversation's broadcast group
// and, as a side effect, marks everything addressed to this user as read:
// opening a chat reads it.
func (uc *ChatUseCase) JoinConversation(ctx context.Context, userID, connID, conversationID string) error {
	conversation, err := uc.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return err
	}

	uc.broadcaster.AddToRoom(conversationID, connID)
	uc.tracker.JoinRoom(ctx, conversationID, userID, connID)

	unread, err := uc.messageRepo.FindUnreadForReceiver(ctx, conversationID, userID)
	if err != nil {
		return err
	}

	if len(unread) > 0 {
		messageIDs := make([]string, 0, len(unread))
		for _, message := range unread {
			if err := message.Advance(entity.StatusRead); err != nil {
				continue
			}
			if err := uc.messageRepo.Update(ctx, message); err != nil {
				logger.Warn("JoinConversation: failed to mark %s read: %v", message.ID, err)
				continue
			}
			messageIDs = append(messageIDs, message.ID)
		}

		if err := uc.conversationRepo.ResetUnread(ctx, conversationID, userID); err != nil {
			logger.Error("JoinConversation: failed to reset unread for %s in %s: %v", userID, conversationID, err)
		}

		if len(messageIDs) > 0 {
			readEvent := Event("messages_read", map[string]interface{}{
				"conversation_id": conversationID,
				"message_ids":     messageIDs,
				"reader_id":       userID,
			})
			for _, participant := range conversation.Participants {
				if participant != userID {
					uc.broadcaster.SendToUser(participant, readEvent)
				}
			}
			uc.broadcaster.SendToConversation(conversationID, readEvent, userID)
		}
	}

	if other := conversation.OtherParticipant(userID); other != "" {
		uc.broadcaster.SendToUser(other, Event("user_in_conversation", map[string]interface{}{
			"conversation_id": conversationID,
			"user_id":         userID,
			"viewing":         true,
		}))
	}

	return nil
}

func (uc *ChatUseCase) LeaveConversation(ctx context.Context, userID, connID, conversationID string) error {
	uc.tracker.LeaveRoom(ctx, conversationID, connID)
	uc.broadcaster.RemoveFromRoom(conversationID, connID)

	conversation, err := uc.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}

	if other := conversation.OtherParticipant(userID); other != "" {
		uc.broadcaster.SendToUser(other, Event("user_in_conversation", map[string]interface{}{
			"conversation_id": conversationID,
			"user_id":         userID,
			"viewing":         false,
		}))
	}

	return nil
}

// MarkMessagesRead is the client-initiated bulk read. Ids not addressed to the
// caller or already read are ignored, which makes the operation idempotent.
func (uc *ChatUseCase) MarkMessagesRead(ctx context.Context, userID, conversationID string, messageIDs []string) error {
	if _, err := uc.GetConversation(ctx, userID, conversationID); err != nil {
		return err
	}

	readBySender := make(map[string][]string)
	var flipped []string

	for _, messageID := range messageIDs {
		message, err := uc.messageRepo.GetByID(ctx, conversationID, messageID)
		if err != nil {
			if errors.Is(err, "NOT_FOUND") {
				continue
			}
			return err
		}
		if message.ReceiverID != userID || message.IsRead {
			continue
		}
		if err := message.Advance(entity.StatusRead); err != nil {
			continue
		}
		if err := uc.messageRepo.Update(ctx, message); err != nil {
			logger.Warn("MarkMessagesRead: failed to mark %s read: %v", messageID, err)
			continue
		}
		readBySender[message.SenderID] = append(readBySender[message.SenderID], messageID)
		flipped = append(flipped, messageID)
	}

	if len(flipped) == 0 {
		return nil
	}

	if err := uc.conversationRepo.ResetUnread(ctx, conversationID, userID); err != nil {
		logger.Error("MarkMessagesRead: failed to reset unread for %s in %s: %v", userID, conversationID, err)
	}

	for senderID, ids := range readBySender {
		uc.broadcaster.SendToUser(senderID, Event("messages_read", map[string]interface{}{
			"conversation_id": conversationID,
			"message_ids":     ids,
			"reader_id":       userID,
		}))
	}
	uc.broadcaster.SendToConversation(conversationID, Event("messages_read", map[string]interface{}{
		"conversation_id": conversationID,
		"message_ids":     flipped,
		"reader_id":       userID,
	}), userID)

	return nil
}

// DeleteMessage removes a message (sender only). A second delete of the same
// id is a silent success, tolerating duplicate delete events from multiple
// tabs, and never double-decrements the unread counter.
func (uc *ChatUseCase) DeleteMessage(ctx context.Context, userID, conversationID, messageID string) error {
	message, err := uc.messageRepo.GetByID(ctx, conversationID, messageID)
	if err != nil {
		if errors.Is(err, "NOT_FOUND") {
			return nil
		}
		return err
	}

	if message.SenderID != userID {
		return errors.Forbidden("Only the sender can delete a message", nil)
	}

	if err := uc.messageRepo.Delete(ctx, conversationID, messageID); err != nil {
		return err
	}

	var snapshot *entity.LastMessage
	latest, err := uc.messageRepo.LatestInConversation(ctx, conversationID)
	if err != nil {
		logger.Warn("DeleteMessage: failed to find latest message in %s: %v", conversationID, err)
	} else if latest != nil {
		snapshot = latest.Snapshot()
	}
	if err := uc.conversationRepo.SetLastMessage(ctx, conversationID, snapshot); err != nil {
		logger.Warn("DeleteMessage: failed to update last message for %s: %v", conversationID, err)
	}

	if !message.IsRead && message.ReceiverID != "" {
		if err := uc.conversationRepo.DecrementUnread(ctx, conversationID, message.ReceiverID); err != nil {
			logger.Error("DeleteMessage: failed to decrement unread for %s in %s: %v", message.ReceiverID, conversationID, err)
		}
	}

	conversation, err := uc.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}

	deletedEvent := Event("message_deleted", map[string]interface{}{
		"conversation_id": conversationID,
		"message_id":      messageID,
	})
	uc.broadcaster.SendToConversation(conversationID, deletedEvent, "")

	for _, participant := range conversation.Participants {
		uc.broadcaster.SendToUser(participant, deletedEvent)
		// Unread counts are per recipient; each participant only ever sees
		// their own.
		uc.broadcaster.SendToUser(participant, Event("conversation_updated", map[string]interface{}{
			"conversation_id": conversationID,
			"last_message":    conversation.LastMessage,
			"unread_count":    conversation.UnreadFor(participant),
		}))
	}

	return nil
}

// Typing relays a typing indicator to the other members of the conversation's
// room. Nothing is persisted; the client owns debounce and expiry.
func (uc *ChatUseCase) Typing(ctx context.Context, userID, conversationID string, isTyping bool) {
	if allowed, _ := uc.rateLimiter.Allow(userID, "typing"); !allowed {
		return
	}

	conversation, err := uc.conversationRepo.GetByID(ctx, conversationID)
	if err != nil || !conversation.IsParticipant(userID) {
		return
	}

	uc.broadcaster.SendToConversation(conversationID, Event("typing_indicator", map[string]interface{}{
		"conversation_id": conversationID,
		"user_id":         userID,
		"is_typing":       isTyping,
	}), userID)
}

// RegisterConnection records the new connection, announces the online
// transition when this is the user's first device, and sends the catch-up
// push (pending notifications plus unread counts) to the new client only.
func (uc *ChatUseCase) RegisterConnection(ctx context.Context, userID, connID string) {
	wasOffline := uc.tracker.AddConnection(ctx, userID, connID)

	if wasOffline {
		uc.broadcaster.BroadcastAll(Event("user_online", map[string]interface{}{
			"user_id": userID,
			"online":  true,
		}), userID)
	}

	uc.pushPending(ctx, userID, connID)
}

func (uc *ChatUseCase) pushPending(ctx context.Context, userID, connID string) {
	conversations, _, err := uc.conversationRepo.ListByUserID(ctx, userID, pendingNotificationLimit, 0)
	if err != nil {
		logger.Warn("pushPending: failed to list conversations for %s: %v", userID, err)
		return
	}

	totalUnread := 0
	var pending []map[string]interface{}
	for _, conversation := range conversations {
		count := conversation.UnreadFor(userID)
		if count == 0 {
			continue
		}
		totalUnread += count
		pending = append(pending, map[string]interface{}{
			"conversation_id": conversation.ID,
			"unread_count":    count,
			"last_message":    conversation.LastMessage,
		})
	}

	uc.broadcaster.SendToConnection(userID, connID, Event("pending_notifications", map[string]interface{}{
		"total_unread":  totalUnread,
		"conversations": pending,
	}))
}

// UnregisterConnection handles disconnect: implicit leave of every joined room
// (without the auto-read a real join performs), presence pruning, and the
// offline broadcast when the last device goes away.
func (uc *ChatUseCase) UnregisterConnection(ctx context.Context, userID, connID string) {
	left := uc.tracker.LeaveAllRooms(ctx, connID)
	uc.broadcaster.RemoveFromAllRooms(connID)

	for _, conversationID := range left {
		conversation, err := uc.conversationRepo.GetByID(ctx, conversationID)
		if err != nil {
			continue
		}
		if other := conversation.OtherParticipant(userID); other != "" {
			uc.broadcaster.SendToUser(other, Event("user_in_conversation", map[string]interface{}{
				"conversation_id": conversationID,
				"user_id":         userID,
				"viewing":         false,
			}))
		}
	}

	if offline := uc.tracker.RemoveConnection(ctx, userID, connID); offline {
		uc.broadcaster.BroadcastAll(Event("user_online", map[string]interface{}{
			"user_id": userID,
			"online":  false,
		}), userID)

		if err := uc.userRepo.UpdateLastSeen(ctx, userID); err != nil {
			logger.Warn("UnregisterConnection: failed to update last seen for %s: %v", userID, err)
		}
	}
}
