package realtime

import (
	"context"
	"encoding/json"
	"time"

	"lokapasar/internal/domain/entity"
	"lokapasar/internal/usecase"
	"lokapasar/pkg/errors"
	"lokapasar/pkg/logger"
)

const handleTimeout = 10 * time.Second

// Dispatcher routes inbound envelopes to the chat and call usecases and pushes
// any resulting error back to the originating connection only.
type Dispatcher struct {
	hub  *Hub
	chat *usecase.ChatUseCase
	call *usecase.CallUseCase
}

func NewDispatcher(hub *Hub, chat *usecase.ChatUseCase, call *usecase.CallUseCase) *Dispatcher {
	return &Dispatcher{
		hub:  hub,
		chat: chat,
		call: call,
	}
}

// Connect wires a freshly upgraded client into the hub and the presence
// tracker, then starts its pumps.
func (d *Dispatcher) Connect(client *Client) {
	d.hub.Register(client)
	d.chat.RegisterConnection(context.Background(), client.UserID, client.ConnID)

	go client.WritePump()
	go client.ReadPump(d)

	logger.Info("realtime: %s connected (conn %s)", client.UserID, client.ConnID)
}

// Disconnect tears the client down in the reverse order: flush live calls,
// release presence and rooms, then drop the hub registration.
func (d *Dispatcher) Disconnect(client *Client) {
	ctx := context.Background()
	d.call.FlushOnDisconnect(ctx, client.UserID, client.ConnID)
	d.chat.UnregisterConnection(ctx, client.UserID, client.ConnID)
	d.hub.Unregister(client)
	client.Conn.Close()

	logger.Info("realtime: %s disconnected (conn %s)", client.UserID, client.ConnID)
}

// Handle processes one inbound frame.
func (d *Dispatcher) Handle(client *Client, raw []byte) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		d.sendError(client, errors.BadRequest("Malformed event payload", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	if err := d.dispatch(ctx, client, envelope); err != nil {
		d.sendError(client, err)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, client *Client, envelope Envelope) error {
	switch envelope.Type {
	case "ping":
		d.hub.SendToConnection(client.UserID, client.ConnID, usecase.Event("pong", map[string]interface{}{}))
		return nil

	case "join_conversation":
		var data JoinConversationData
		if err := decode(envelope.Data, &data); err != nil {
			return err
		}
		if data.ConversationID == "" {
			return errors.Validation("conversation_id is required", nil)
		}
		return d.chat.JoinConversation(ctx, client.UserID, client.ConnID, data.ConversationID)

	case "leave_conversation":
		var data LeaveConversationData
		if err := decode(envelope.Data, &data); err != nil {
			return err
		}
		if data.ConversationID == "" {
			return errors.Validation("conversation_id is required", nil)
		}
		return d.chat.LeaveConversation(ctx, client.UserID, client.ConnID, data.ConversationID)

	case "send_message":
		var data SendMessageData
		if err := decode(envelope.Data, &data); err != nil {
			return err
		}
		if data.ConversationID == "" || data.Content == "" {
			return errors.Validation("conversation_id and content are required", nil)
		}
		_, err := d.chat.SendMessage(ctx, client.UserID, usecase.SendMessageInput{
			ConversationID: data.ConversationID,
			Content:        data.Content,
			Type:           entity.MessageType(data.Type),
		})
		return err

	case "typing":
		var data TypingData
		if err := decode(envelope.Data, &data); err != nil {
			return err
		}
		if data.ConversationID == "" {
			return errors.Validation("conversation_id is required", nil)
		}
		d.chat.Typing(ctx, client.UserID, data.ConversationID, data.IsTyping)
		return nil

	case "mark_read":
		var data MarkReadData
		if err := decode(envelope.Data, &data); err != nil {
			return err
		}
		if data.ConversationID == "" || len(data.MessageIDs) == 0 {
			return errors.Validation("conversation_id and message_ids are required", nil)
		}
		return d.chat.MarkMessagesRead(ctx, client.UserID, data.ConversationID, data.MessageIDs)

	case "delete_message":
		var data DeleteMessageData
		if err := decode(envelope.Data, &data); err != nil {
			return err
		}
		if data.ConversationID == "" || data.MessageID == "" {
			return errors.Validation("conversation_id and message_id are required", nil)
		}
		return d.chat.DeleteMessage(ctx, client.UserID, data.ConversationID, data.MessageID)

	case "call_user":
		var data CallUserData
		if err := decode(envelope.Data, &data); err != nil {
			return err
		}
		if data.To == "" || data.ConversationID == "" {
			return errors.Validation("to and conversation_id are required", nil)
		}
		return d.call.CallUser(ctx, client.UserID, client.ConnID, usecase.CallUserInput{
			To:             data.To,
			ConversationID: data.ConversationID,
			CallType:       entity.CallType(data.CallType),
			Offer:          data.Offer,
		})

	case "answer_call":
		var data AnswerCallData
		if err := decode(envelope.Data, &data); err != nil {
			return err
		}
		if data.To == "" {
			return errors.Validation("to is required", nil)
		}
		return d.call.AnswerCall(ctx, client.UserID, data.To, data.Answer)

	case "reject_call":
		var data RejectCallData
		if err := decode(envelope.Data, &data); err != nil {
			return err
		}
		if data.To == "" {
			return errors.Validation("to is required", nil)
		}
		return d.call.RejectCall(ctx, client.UserID, data.To)

	case "end_call":
		var data EndCallData
		if err := decode(envelope.Data, &data); err != nil {
			return err
		}
		if data.To == "" {
			return errors.Validation("to is required", nil)
		}
		return d.call.EndCall(ctx, client.UserID, data.To)

	case "ice_candidate":
		var data IceCandidateData
		if err := decode(envelope.Data, &data); err != nil {
			return err
		}
		if data.To == "" {
			return errors.Validation("to is required", nil)
		}
		d.call.RelayCandidate(ctx, client.UserID, data.To, data.Candidate)
		return nil

	default:
		return errors.BadRequest("Unknown event type: "+envelope.Type, nil)
	}
}

func (d *Dispatcher) sendError(client *Client, err error) {
	code := errors.Code(err)
	message := err.Error()
	if appErr, ok := err.(*errors.AppError); ok {
		message = appErr.Message
	}
	d.hub.SendToConnection(client.UserID, client.ConnID, usecase.Event("error", map[string]interface{}{
		"code":    code,
		"message": message,
	}))
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return errors.Validation("Event data is required", nil)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.BadRequest("Malformed event data", err)
	}
	return nil
}
