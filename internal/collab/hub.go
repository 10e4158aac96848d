package collab

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lexdesk/internal/session"
)

const DefaultPresenceTTL = 2 * time.Minute

type Hub struct {
	editor      Editor
	presence    PresenceStore
	presenceTTL time.Duration
	relay       Relay
	logger      *zap.Logger
	now         func() time.Time

	mu    sync.Mutex
	rooms map[string]*Room
}

type Option func(*Hub)

func WithPresence(store PresenceStore, ttl time.Duration) Option {
	return func(h *Hub) {
		h.presence = store
		if ttl > 0 {
			h.presenceTTL = ttl
		}
	}
}

func WithRelay(relay Relay) Option {
	return func(h *Hub) { h.relay = relay }
}

func WithLogger(logger *zap.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

func NewHub(editor Editor, opts ...Option) *Hub {
	h := &Hub{
		editor:      editor,
		presenceTTL: DefaultPresenceTTL,
		logger:      zap.NewNop(),
		now:         time.Now,
		rooms:       make(map[string]*Room),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start subscribes to the relay so broadcasts from other nodes reach local
// participants. Without a relay it does nothing.
func (h *Hub) Start(ctx context.Context) error {
	if h.relay == nil {
		return nil
	}
	return h.relay.Subscribe(ctx, h.deliverRemote)
}

// Join registers a participant on documentID. The participant's first
// queued message is the private document_state; everyone already in the
// room is told about the newcomer.
func (h *Hub) Join(ctx context.Context, documentID, userID, username string) (*Participant, error) {
	state, err := h.editor.DocumentState(ctx, documentID)
	if err != nil {
		return nil, err
	}

	p := &Participant{
		SessionID:  uuid.NewString(),
		DocumentID: documentID,
		UserID:     userID,
		Username:   username,
		Color:      ColorFor(userID),
		JoinedAt:   h.now().UTC(),
		Send:       make(chan []byte, sendQueueSize),
	}

	h.mu.Lock()
	room, ok := h.rooms[documentID]
	if !ok {
		room = newRoom(documentID)
		h.rooms[documentID] = room
	}
	others := room.members()
	p.Send <- encode(map[string]any{
		"type":           EventDocumentState,
		"id":             state.ID,
		"title":          state.Title,
		"content":        state.Content,
		"content_html":   state.ContentHTML,
		"is_locked":      state.IsLocked,
		"locked_by":      state.LockedBy,
		"version_number": state.VersionNumber,
		"last_edited_at": state.LastEditedAt,
		"participants":   others,
		"you":            p.info(),
	})
	room.add(p)
	h.mu.Unlock()

	h.touchPresence(ctx, p, 0, [2]int{})
	h.publish(ctx, room, p, map[string]any{
		"type":       EventUserJoined,
		"user_id":    p.UserID,
		"username":   p.Username,
		"session_id": p.SessionID,
		"color":      p.Color,
		"timestamp":  h.now().UTC(),
	})
	h.logger.Info("participant joined",
		zap.String("document_id", documentID),
		zap.String("user_id", userID),
		zap.String("session_id", p.SessionID),
	)
	return p, nil
}

// Leave removes p and tells the remaining members, including when the room
// already dropped p for falling behind. The room is dropped once it is
// empty. Calling Leave twice is harmless.
func (h *Hub) Leave(ctx context.Context, p *Participant) {
	h.mu.Lock()
	room, ok := h.rooms[p.DocumentID]
	if !ok {
		h.mu.Unlock()
		p.close()
		return
	}
	removed, empty := room.remove(p)
	if empty {
		delete(h.rooms, p.DocumentID)
	}
	h.mu.Unlock()
	if !removed && !p.evicted.Load() {
		return
	}
	if !p.departed.CompareAndSwap(false, true) {
		return
	}

	if h.presence != nil {
		if err := h.presence.RemovePresence(ctx, p.DocumentID, p.UserID); err != nil {
			h.logger.Warn("presence remove failed", zap.String("document_id", p.DocumentID), zap.Error(err))
		}
	}
	h.publish(ctx, room, p, map[string]any{
		"type":       EventUserLeft,
		"user_id":    p.UserID,
		"username":   p.Username,
		"session_id": p.SessionID,
		"timestamp":  h.now().UTC(),
	})
	h.logger.Info("participant left",
		zap.String("document_id", p.DocumentID),
		zap.String("user_id", p.UserID),
		zap.String("session_id", p.SessionID),
	)
}

// Participants lists who is connected to documentID on this node.
func (h *Hub) Participants(documentID string) []ParticipantInfo {
	room := h.room(documentID)
	if room == nil {
		return []ParticipantInfo{}
	}
	return room.members()
}

// RoomCount is the number of live rooms on this node.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Handle processes one raw client message from p. Bad or unauthorized
// messages only ever produce a private error for p.
func (h *Hub) Handle(ctx context.Context, p *Participant, raw []byte) {
	room := h.room(p.DocumentID)
	if room == nil {
		return
	}
	in, err := DecodeInbound(raw)
	if err != nil {
		h.replyError(room, p, "VALIDATION_ERROR", err.Error())
		return
	}
	if in.mutates() {
		allowed, err := h.editor.CanEdit(ctx, p.DocumentID, p.UserID)
		if err != nil {
			h.replyError(room, p, errorCode(err), err.Error())
			return
		}
		if !allowed {
			h.replyError(room, p, "PERMISSION_DENIED", "you cannot edit this document")
			return
		}
	}

	now := h.now().UTC()
	switch in.Type {
	case EventEditOperation:
		h.publish(ctx, room, p, map[string]any{
			"type":           EventEditOperation,
			"user_id":        p.UserID,
			"username":       p.Username,
			"operation_id":   deref(in.OperationID),
			"operation_type": deref(in.OperationType),
			"position":       deref(in.Position),
			"length":         deref(in.Length),
			"content":        deref(in.Content),
			"timestamp":      now,
		})

	case EventCursorUpdate:
		h.touchPresence(ctx, p, deref(in.Position), [2]int{})
		h.publish(ctx, room, p, map[string]any{
			"type":     EventCursorUpdate,
			"user_id":  p.UserID,
			"username": p.Username,
			"color":    p.Color,
			"position": deref(in.Position),
		})

	case EventSelectionUpdate:
		selection := [2]int{deref(in.Start), deref(in.End)}
		h.touchPresence(ctx, p, selection[1], selection)
		h.publish(ctx, room, p, map[string]any{
			"type":     EventSelectionUpdate,
			"user_id":  p.UserID,
			"username": p.Username,
			"color":    p.Color,
			"start":    selection[0],
			"end":      selection[1],
		})

	case EventPresenceUpdate:
		h.touchPresence(ctx, p, deref(in.Position), [2]int{})
		h.publish(ctx, room, p, map[string]any{
			"type":      EventPresenceUpdate,
			"user_id":   p.UserID,
			"username":  p.Username,
			"color":     p.Color,
			"status":    deref(in.Status),
			"timestamp": now,
		})

	case EventCommentAdd:
		comment, err := h.editor.AddComment(ctx, p.DocumentID, p.UserID, CommentInput{
			Content:         deref(in.Content),
			PositionStart:   in.PositionStart,
			PositionEnd:     in.PositionEnd,
			SelectedText:    deref(in.SelectedText),
			ParentCommentID: in.ParentCommentID,
		})
		if err != nil {
			h.replyError(room, p, errorCode(err), err.Error())
			return
		}
		h.publish(ctx, room, p, map[string]any{
			"type":     EventCommentAdd,
			"user_id":  p.UserID,
			"username": p.Username,
			"comment":  comment,
		})
		h.ack(room, p, in.Type, map[string]any{"comment_id": comment.ID})

	case EventDocumentLock:
		if deref(in.Action) == "lock" {
			if err := h.editor.Lock(ctx, p.DocumentID, p.UserID); err != nil {
				h.replyError(room, p, errorCode(err), err.Error())
				return
			}
			h.publish(ctx, room, p, map[string]any{
				"type":      EventDocumentLocked,
				"user_id":   p.UserID,
				"username":  p.Username,
				"timestamp": now,
			})
			h.ack(room, p, in.Type, map[string]any{"action": "lock"})
			return
		}
		released, err := h.editor.Unlock(ctx, p.DocumentID, p.UserID)
		if err != nil {
			h.replyError(room, p, errorCode(err), err.Error())
			return
		}
		if !released {
			h.replyError(room, p, "LOCK_NOT_HELD", "you do not hold the lock on this document")
			return
		}
		h.publish(ctx, room, p, map[string]any{
			"type":      EventDocumentUnlocked,
			"user_id":   p.UserID,
			"username":  p.Username,
			"timestamp": now,
		})
		h.ack(room, p, in.Type, map[string]any{"action": "unlock"})

	case EventDocumentSave:
		version, err := h.editor.Save(ctx, p.DocumentID, p.UserID, deref(in.Content), deref(in.ContentHTML))
		if err != nil {
			h.replyError(room, p, errorCode(err), err.Error())
			return
		}
		h.publish(ctx, room, p, map[string]any{
			"type":           EventDocumentSaved,
			"user_id":        p.UserID,
			"username":       p.Username,
			"version_number": version,
			"timestamp":      now,
		})
		h.ack(room, p, in.Type, map[string]any{"version_number": version})
	}
}

func (h *Hub) room(documentID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[documentID]
}

// publish delivers message to every local member but the sender, then hands
// it to the relay for the other nodes.
func (h *Hub) publish(ctx context.Context, room *Room, sender *Participant, message map[string]any) {
	data := encode(message)
	room.broadcast(data, sender.SessionID)
	if h.relay == nil {
		return
	}
	if err := h.relay.Publish(ctx, room.documentID, data); err != nil {
		h.logger.Warn("relay publish failed", zap.String("document_id", room.documentID), zap.Error(err))
	}
}

func (h *Hub) deliverRemote(documentID string, payload []byte) {
	room := h.room(documentID)
	if room == nil {
		return
	}
	room.broadcast(payload, "")
}

func (h *Hub) ack(room *Room, p *Participant, of string, fields map[string]any) {
	message := map[string]any{"type": EventAck, "ack_of": of}
	for key, value := range fields {
		message[key] = value
	}
	room.sendTo(p, encode(message))
}

func (h *Hub) replyError(room *Room, p *Participant, code, message string) {
	room.sendTo(p, encode(map[string]any{
		"type":    EventError,
		"code":    code,
		"message": message,
	}))
}

func (h *Hub) touchPresence(ctx context.Context, p *Participant, cursor int, selection [2]int) {
	if h.presence == nil {
		return
	}
	err := h.presence.TouchPresence(ctx, session.Presence{
		DocumentID: p.DocumentID,
		UserID:     p.UserID,
		Username:   p.Username,
		Color:      p.Color,
		Cursor:     cursor,
		Selection:  selection,
		LastSeen:   h.now().UTC(),
	}, h.presenceTTL)
	if err != nil {
		h.logger.Warn("presence update failed", zap.String("document_id", p.DocumentID), zap.Error(err))
	}
}

type coded interface {
	ErrorCode() string
}

func errorCode(err error) string {
	var c coded
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return "SERVER_ERROR"
}
