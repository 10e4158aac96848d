package collab

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	EventEditOperation   = "edit_operation"
	EventCursorUpdate    = "cursor_update"
	EventSelectionUpdate = "selection_update"
	EventCommentAdd      = "comment_add"
	EventDocumentLock    = "document_lock"
	EventDocumentSave    = "document_save"
	EventPresenceUpdate  = "presence_update"

	EventDocumentState    = "document_state"
	EventUserJoined       = "user_joined"
	EventUserLeft         = "user_left"
	EventDocumentSaved    = "document_saved"
	EventDocumentLocked   = "document_locked"
	EventDocumentUnlocked = "document_unlocked"
	EventAck              = "ack"
	EventError            = "error"
)

// Inbound is the union of every client event. Pointers distinguish a
// missing field from its zero value.
type Inbound struct {
	Type string `json:"type"`

	OperationID   *string `json:"operation_id"`
	OperationType *string `json:"operation_type"`
	Position      *int    `json:"position"`
	Length        *int    `json:"length"`
	Content       *string `json:"content"`

	Start *int `json:"start"`
	End   *int `json:"end"`

	PositionStart   *int    `json:"position_start"`
	PositionEnd     *int    `json:"position_end"`
	SelectedText    *string `json:"selected_text"`
	ParentCommentID *int64  `json:"parent_comment_id"`

	Action      *string `json:"action"`
	ContentHTML *string `json:"content_html"`

	Status *string `json:"status"`
}

var errMissingType = errors.New("message type is required")

func DecodeInbound(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, fmt.Errorf("invalid message: %w", err)
	}
	if in.Type == "" {
		return Inbound{}, errMissingType
	}
	return in, in.Validate()
}

// Validate checks the required fields for the event type.
func (in Inbound) Validate() error {
	switch in.Type {
	case EventEditOperation:
		if in.OperationID == nil || *in.OperationID == "" {
			return missing("operation_id")
		}
		if in.OperationType == nil {
			return missing("operation_type")
		}
		switch *in.OperationType {
		case "insert", "delete", "replace":
		default:
			return fmt.Errorf("operation_type must be insert, delete or replace")
		}
		if in.Position == nil {
			return missing("position")
		}
	case EventCursorUpdate:
		if in.Position == nil {
			return missing("position")
		}
	case EventSelectionUpdate:
		if in.Start == nil {
			return missing("start")
		}
		if in.End == nil {
			return missing("end")
		}
	case EventCommentAdd:
		if in.Content == nil {
			return missing("content")
		}
	case EventDocumentLock:
		if in.Action == nil {
			return missing("action")
		}
		if *in.Action != "lock" && *in.Action != "unlock" {
			return fmt.Errorf("action must be lock or unlock")
		}
	case EventDocumentSave:
		if in.Content == nil {
			return missing("content")
		}
	case EventPresenceUpdate:
	default:
		return fmt.Errorf("unknown message type %q", in.Type)
	}
	return nil
}

// mutates reports whether the event needs edit permission.
func (in Inbound) mutates() bool {
	switch in.Type {
	case EventEditOperation, EventDocumentSave, EventDocumentLock:
		return true
	}
	return false
}

func missing(field string) error {
	return fmt.Errorf("missing required field %q", field)
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
