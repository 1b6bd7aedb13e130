package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"lokapasar/internal/domain/entity"
	"lokapasar/internal/infrastructure/presence"
	"lokapasar/pkg/errors"
	"lokapasar/pkg/logger"
)

// callSession is the transient call state kept for the lifetime of a call,
// keyed by the caller's connection id. It exists only to compute the duration
// logged when the call ends; nothing is persisted until then.
type callSession struct {
	From           string
	To             string
	ConversationID string
	CallType       entity.CallType
	StartedAt      time.Time
	Answered       bool
}

// CallUseCase relays offer/answer/ICE payloads point-to-point between personal
// broadcast groups and logs call outcomes into the message store.
type CallUseCase struct {
	chat        *ChatUseCase
	tracker     presence.Tracker
	broadcaster Broadcaster

	mu       sync.Mutex
	sessions map[string]*callSession // caller connID -> session
}

func NewCallUseCase(chat *ChatUseCase, tracker presence.Tracker, broadcaster Broadcaster) *CallUseCase {
	return &CallUseCase{
		chat:        chat,
		tracker:     tracker,
		broadcaster: broadcaster,
		sessions:    make(map[string]*callSession),
	}
}

type CallUserInput struct {
	To             string
	ConversationID string
	CallType       entity.CallType
	Offer          json.RawMessage
}

// CallUser initiates a call. If the callee has no active connection the caller
// gets an immediate call_failed and a missed call is logged; there is no
// ringing timeout on the server.
func (uc *CallUseCase) CallUser(ctx context.Context, userID, connID string, input CallUserInput) error {
	if input.CallType != entity.CallVoice && input.CallType != entity.CallVideo {
		return errors.Validation("call_type must be voice or video", nil)
	}

	conversation, err := uc.chat.GetConversation(ctx, userID, input.ConversationID)
	if err != nil {
		return err
	}
	if input.To != conversation.OtherParticipant(userID) {
		return errors.Forbidden("Callee is not a participant in this conversation", nil)
	}

	if !uc.tracker.IsUserOnline(ctx, input.To) {
		uc.broadcaster.SendToConnection(userID, connID, Event("call_failed", map[string]interface{}{
			"to":     input.To,
			"reason": "offline",
		}))
		if _, err := uc.chat.RecordCallMessage(ctx, userID, input.ConversationID, input.CallType, 0, missedCallContent(input.CallType)); err != nil {
			logger.Warn("CallUser: failed to log missed call in %s: %v", input.ConversationID, err)
		}
		return nil
	}

	uc.mu.Lock()
	uc.sessions[connID] = &callSession{
		From:           userID,
		To:             input.To,
		ConversationID: input.ConversationID,
		CallType:       input.CallType,
		StartedAt:      time.Now(),
	}
	uc.mu.Unlock()

	uc.broadcaster.SendToUser(input.To, Event("incoming_call", map[string]interface{}{
		"from":            userID,
		"conversation_id": input.ConversationID,
		"call_type":       input.CallType,
		"offer":           input.Offer,
	}))

	return nil
}

// AnswerCall relays the answer back to the caller and starts the clock for
// duration accounting.
func (uc *CallUseCase) AnswerCall(ctx context.Context, userID string, to string, answer json.RawMessage) error {
	uc.mu.Lock()
	if session := uc.findSession(to, userID); session != nil {
		session.Answered = true
		session.StartedAt = time.Now()
	}
	uc.mu.Unlock()

	uc.broadcaster.SendToUser(to, Event("call_answered", map[string]interface{}{
		"from":   userID,
		"answer": answer,
	}))

	return nil
}

// RejectCall relays the rejection and logs a missed call with zero duration.
func (uc *CallUseCase) RejectCall(ctx context.Context, userID string, to string) error {
	uc.broadcaster.SendToUser(to, Event("call_rejected", map[string]interface{}{
		"from": userID,
	}))

	uc.mu.Lock()
	session, _ := uc.takeSession(to, userID)
	uc.mu.Unlock()

	if session != nil {
		if _, err := uc.chat.RecordCallMessage(ctx, session.From, session.ConversationID, session.CallType, 0, missedCallContent(session.CallType)); err != nil {
			logger.Warn("RejectCall: failed to log rejected call in %s: %v", session.ConversationID, err)
		}
	}

	return nil
}

// EndCall relays the hang-up to the other party and logs the call with its
// computed duration (zero when it never connected).
func (uc *CallUseCase) EndCall(ctx context.Context, userID string, to string) error {
	uc.broadcaster.SendToUser(to, Event("call_ended", map[string]interface{}{
		"from": userID,
	}))

	uc.mu.Lock()
	session, _ := uc.takeSession(userID, to)
	if session == nil {
		session, _ = uc.takeSession(to, userID)
	}
	uc.mu.Unlock()

	if session != nil {
		uc.logOutcome(ctx, session)
	}

	return nil
}

// RelayCandidate forwards an ICE candidate to the peer's personal group.
func (uc *CallUseCase) RelayCandidate(ctx context.Context, userID, to string, candidate json.RawMessage) {
	uc.broadcaster.SendToUser(to, Event("ice_candidate", map[string]interface{}{
		"from":      userID,
		"candidate": candidate,
	}))
}

// FlushOnDisconnect closes out any call the disconnecting user was part of,
// notifying the peer and logging the outcome as if the call had ended.
func (uc *CallUseCase) FlushOnDisconnect(ctx context.Context, userID, connID string) {
	uc.mu.Lock()
	var flushed []*callSession
	if session, ok := uc.sessions[connID]; ok {
		delete(uc.sessions, connID)
		flushed = append(flushed, session)
	}
	for id, session := range uc.sessions {
		if session.To == userID {
			delete(uc.sessions, id)
			flushed = append(flushed, session)
		}
	}
	uc.mu.Unlock()

	for _, session := range flushed {
		peer := session.To
		if peer == userID {
			peer = session.From
		}
		uc.broadcaster.SendToUser(peer, Event("call_ended", map[string]interface{}{
			"from":   userID,
			"reason": "disconnected",
		}))
		uc.logOutcome(ctx, session)
	}
}

// findSession locates the live session between caller and callee. Callers must
// hold uc.mu.
func (uc *CallUseCase) findSession(from, to string) *callSession {
	for _, session := range uc.sessions {
		if session.From == from && session.To == to {
			return session
		}
	}
	return nil
}

// takeSession removes and returns the live session between caller and callee.
// Callers must hold uc.mu.
func (uc *CallUseCase) takeSession(from, to string) (*callSession, string) {
	for connID, session := range uc.sessions {
		if session.From == from && session.To == to {
			delete(uc.sessions, connID)
			return session, connID
		}
	}
	return nil, ""
}

func (uc *CallUseCase) logOutcome(ctx context.Context, session *callSession) {
	duration := 0
	content := missedCallContent(session.CallType)
	if session.Answered {
		duration = int(time.Since(session.StartedAt).Seconds())
		content = callContent(session.CallType, duration)
	}

	if _, err := uc.chat.RecordCallMessage(ctx, session.From, session.ConversationID, session.CallType, duration, content); err != nil {
		logger.Warn("call: failed to log call outcome in %s: %v", session.ConversationID, err)
	}
}

func callTypeLabel(callType entity.CallType) string {
	if callType == entity.CallVideo {
		return "Video"
	}
	return "Voice"
}

func missedCallContent(callType entity.CallType) string {
	return fmt.Sprintf("Missed %s call", strings.ToLower(callTypeLabel(callType)))
}

func callContent(callType entity.CallType, durationSeconds int) string {
	return fmt.Sprintf("%s call • %s", callTypeLabel(callType), formatCallDuration(durationSeconds))
}

func formatCallDuration(seconds int) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
}
