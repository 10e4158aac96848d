// Package locking grants and revokes the exclusive edit lock on a document.
//
// Lock state lives on the document row itself (is_locked, locked_by,
// locked_at). Every transition goes through a conditional update in the
// store so that concurrent acquirers race on the database, not in memory.
// Expiry is lazy: a stale lock is only cleared by the next actor that runs
// into it.
package locking

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lexdesk/internal/rbac"
	"lexdesk/internal/store"
)

const DefaultTimeout = 300 * time.Second

const (
	ActionAcquire = "lock_acquire"
	ActionRelease = "lock_release"
	ActionExpired = "lock_expired"
)

type Store interface {
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	LockDocument(ctx context.Context, documentID, userID string, at time.Time) (bool, error)
	UnlockDocument(ctx context.Context, documentID, holderID string) (bool, error)
}

type Auditor interface {
	InsertAuditEntry(ctx context.Context, entry store.AuditEntry) error
}

type Manager struct {
	store   Store
	audit   Auditor
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(st Store, audit Auditor, timeout time.Duration, logger *zap.Logger, opts ...Option) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{store: st, audit: audit, timeout: timeout, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Timeout() time.Duration { return m.timeout }

// Acquire succeeds only when the document is unlocked. A second Acquire by
// the current holder returns false as well; callers that want re-entrant
// behaviour have to check LockedBy themselves.
func (m *Manager) Acquire(ctx context.Context, documentID, userID string) (bool, error) {
	ok, err := m.store.LockDocument(ctx, documentID, userID, m.now().UTC())
	if err != nil {
		return false, fmt.Errorf("lock document: %w", err)
	}
	if ok {
		m.record(ctx, documentID, userID, ActionAcquire, "Document locked for editing", nil)
	}
	return ok, nil
}

// Release clears the lock when subject holds it, or when subject may override
// someone else's lock.
func (m *Manager) Release(ctx context.Context, documentID string, subject rbac.Subject) (bool, error) {
	doc, err := m.store.GetDocument(ctx, documentID)
	if err != nil {
		return false, err
	}
	if !doc.IsLocked {
		return false, nil
	}
	holder := doc.LockedBy
	if holder != subject.UserID && !rbac.CanOverrideLock(subject) {
		return false, nil
	}
	ok, err := m.store.UnlockDocument(ctx, documentID, holder)
	if err != nil {
		return false, fmt.Errorf("unlock document: %w", err)
	}
	if ok {
		metadata := map[string]any{"locked_by": holder}
		if holder != subject.UserID {
			metadata["override"] = true
		}
		m.record(ctx, documentID, subject.UserID, ActionRelease, "Document lock released", metadata)
	}
	return ok, nil
}

// ForceRelease drops an expired lock on behalf of actorID. It is a no-op
// returning false if the lock changed hands or is not yet expired.
func (m *Manager) ForceRelease(ctx context.Context, doc store.Document, actorID string) (bool, error) {
	if !m.Expired(doc) {
		return false, nil
	}
	ok, err := m.store.UnlockDocument(ctx, doc.ID, doc.LockedBy)
	if err != nil {
		return false, fmt.Errorf("force unlock document: %w", err)
	}
	if ok {
		m.logger.Info("expired lock released",
			zap.String("document_id", doc.ID),
			zap.String("previous_holder", doc.LockedBy),
			zap.String("released_by", actorID),
		)
		m.record(ctx, doc.ID, actorID, ActionExpired, "Expired lock released", map[string]any{
			"previous_holder": doc.LockedBy,
			"held_seconds":    int(m.Held(doc).Seconds()),
		})
	}
	return ok, nil
}

// IsExpired loads the document and reports whether its lock is older than timeout.
func (m *Manager) IsExpired(ctx context.Context, documentID string, timeout time.Duration) (bool, error) {
	doc, err := m.store.GetDocument(ctx, documentID)
	if err != nil {
		return false, err
	}
	return expired(doc, m.now(), timeout), nil
}

func (m *Manager) Expired(doc store.Document) bool {
	return expired(doc, m.now(), m.timeout)
}

// Held is how long the current lock has been held; zero when unlocked.
func (m *Manager) Held(doc store.Document) time.Duration {
	if !doc.IsLocked || doc.LockedAt == nil {
		return 0
	}
	return m.now().Sub(*doc.LockedAt)
}

// Remaining is the time left before the lock may be force-released.
func (m *Manager) Remaining(doc store.Document) time.Duration {
	if !doc.IsLocked {
		return 0
	}
	left := m.timeout - m.Held(doc)
	if left < 0 {
		return 0
	}
	return left
}

type Status struct {
	IsLocked         bool       `json:"isLocked"`
	LockedBy         string     `json:"lockedBy,omitempty"`
	LockedAt         *time.Time `json:"lockedAt,omitempty"`
	RemainingSeconds int        `json:"remainingSeconds"`
	Expired          bool       `json:"expired"`
}

func (m *Manager) Status(doc store.Document) Status {
	return Status{
		IsLocked:         doc.IsLocked,
		LockedBy:         doc.LockedBy,
		LockedAt:         doc.LockedAt,
		RemainingSeconds: int(m.Remaining(doc).Seconds()),
		Expired:          m.Expired(doc),
	}
}

func (m *Manager) record(ctx context.Context, documentID, userID, action, details string, metadata map[string]any) {
	if m.audit == nil {
		return
	}
	err := m.audit.InsertAuditEntry(ctx, store.AuditEntry{
		DocumentID: documentID,
		UserID:     userID,
		Action:     action,
		Details:    details,
		Metadata:   metadata,
		CreatedAt:  m.now().UTC(),
	})
	if err != nil {
		m.logger.Warn("audit write failed", zap.String("action", action), zap.String("document_id", documentID), zap.Error(err))
	}
}

func expired(doc store.Document, now time.Time, timeout time.Duration) bool {
	if !doc.IsLocked || doc.LockedAt == nil {
		return false
	}
	return now.Sub(*doc.LockedAt) > timeout
}
