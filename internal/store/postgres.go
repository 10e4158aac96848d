package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, display_name, role, created_at FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.Role, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	const insertUser = `
		INSERT INTO users (display_name, role)
		VALUES ($1, 'editor')
		ON CONFLICT (display_name) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, display_name, role, created_at
	`
	if err := s.db.QueryRowContext(ctx, insertUser, name).Scan(&user.ID, &user.DisplayName, &user.Role, &user.CreatedAt); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, role, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) error {
	metadata, err := encodeJSON(doc.Metadata)
	if err != nil {
		return err
	}
	if doc.VersionNumber == 0 {
		doc.VersionNumber = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, content, content_rendered, version_number, metadata, owner_id, creator_id, template_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
	`, doc.ID, doc.Title, doc.Content, doc.ContentRendered, doc.VersionNumber, metadata, doc.OwnerID, doc.CreatorID, doc.TemplateID)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

const documentColumns = `
	id, title, content, content_rendered, version_number,
	is_locked, COALESCE(locked_by, ''), locked_at,
	last_edited_at, COALESCE(last_edited_by, ''), metadata,
	owner_id, creator_id, COALESCE(template_id, ''), created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var (
		doc      Document
		metadata []byte
	)
	err := row.Scan(
		&doc.ID, &doc.Title, &doc.Content, &doc.ContentRendered, &doc.VersionNumber,
		&doc.IsLocked, &doc.LockedBy, &doc.LockedAt,
		&doc.LastEditedAt, &doc.LastEditedBy, &metadata,
		&doc.OwnerID, &doc.CreatorID, &doc.TemplateID, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	if doc.Metadata, err = decodeJSON(metadata); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, documentID))
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, doc)
	}
	return items, rows.Err()
}

func (s *PostgresStore) SearchDocuments(ctx context.Context, query string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE content ILIKE '%' || $1 || '%' OR title ILIKE '%' || $1 || '%'
		ORDER BY updated_at DESC
		LIMIT $2
	`, escapeLike(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, doc)
	}
	return items, rows.Err()
}

// SaveDocument writes doc's editable fields if version_number still equals
// doc.VersionNumber. A non-nil snapshot is inserted under that number first
// and the document moves to the next one. Everything runs in one transaction
// holding the document row lock.
func (s *PostgresStore) SaveDocument(ctx context.Context, doc Document, snapshot *VersionSnapshot) (*VersionSnapshot, error) {
	metadata, err := encodeJSON(doc.Metadata)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin save tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := lockVersionNumber(ctx, tx, doc.ID)
	if err != nil {
		return nil, err
	}
	if current != doc.VersionNumber {
		return nil, ErrVersionConflict
	}

	next := current
	var kept *VersionSnapshot
	if snapshot != nil {
		stored := *snapshot
		stored.DocumentID = doc.ID
		stored.VersionNumber = current
		if err := insertVersion(ctx, tx, &stored); err != nil {
			return nil, err
		}
		kept = &stored
		next = current + 1
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE documents
		SET version_number=$2, content=$3, content_rendered=$4, metadata=$5, last_edited_at=$6,
			last_edited_by=NULLIF($7, ''), updated_at=NOW()
		WHERE id=$1
	`, doc.ID, next, doc.Content, doc.ContentRendered, metadata, doc.LastEditedAt, doc.LastEditedBy)
	if err != nil {
		return nil, fmt.Errorf("update document content: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit save tx: %w", err)
	}
	return kept, nil
}

func (s *PostgresStore) UpdateDocumentMetadata(ctx context.Context, documentID string, metadata map[string]any) error {
	payload, err := encodeJSON(metadata)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `UPDATE documents SET metadata=$2, updated_at=NOW() WHERE id=$1`, documentID, payload)
	if err != nil {
		return fmt.Errorf("update document metadata: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document metadata rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) LockDocument(ctx context.Context, documentID, userID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET is_locked=TRUE, locked_by=$2, locked_at=$3
		WHERE id=$1 AND is_locked=FALSE
	`, documentID, userID, at)
	if err != nil {
		return false, fmt.Errorf("lock document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("lock document rows: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetDocument(ctx, documentID); err != nil {
			return false, err
		}
	}
	return affected > 0, nil
}

func (s *PostgresStore) UnlockDocument(ctx context.Context, documentID, holderID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET is_locked=FALSE, locked_by=NULL, locked_at=NULL
		WHERE id=$1 AND is_locked=TRUE AND locked_by=$2
	`, documentID, holderID)
	if err != nil {
		return false, fmt.Errorf("unlock document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unlock document rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListEditorGrants(ctx context.Context, documentID string) ([]EditorGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, user_id, permission_level, COALESCE(added_by, ''), created_at
		FROM document_editor_grants
		WHERE document_id=$1
		ORDER BY created_at
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list editor grants: %w", err)
	}
	defer rows.Close()

	items := make([]EditorGrant, 0)
	for rows.Next() {
		var item EditorGrant
		if err := rows.Scan(&item.DocumentID, &item.UserID, &item.PermissionLevel, &item.AddedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan editor grant: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpsertEditorGrant(ctx context.Context, grant EditorGrant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_editor_grants (document_id, user_id, permission_level, added_by)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT (document_id, user_id) DO UPDATE SET permission_level=EXCLUDED.permission_level, added_by=EXCLUDED.added_by
	`, grant.DocumentID, grant.UserID, grant.PermissionLevel, grant.AddedBy)
	if err != nil {
		return fmt.Errorf("upsert editor grant: %w", err)
	}
	return nil
}

// AppendVersion stores snapshot under the document's current version number and
// increments that number, in one transaction holding the document row lock.
func (s *PostgresStore) AppendVersion(ctx context.Context, snapshot VersionSnapshot) (VersionSnapshot, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return VersionSnapshot{}, 0, fmt.Errorf("begin version tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := lockVersionNumber(ctx, tx, snapshot.DocumentID)
	if err != nil {
		return VersionSnapshot{}, 0, err
	}
	snapshot.VersionNumber = current
	if err := insertVersion(ctx, tx, &snapshot); err != nil {
		return VersionSnapshot{}, 0, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET version_number=version_number+1, updated_at=NOW() WHERE id=$1`, snapshot.DocumentID); err != nil {
		return VersionSnapshot{}, 0, fmt.Errorf("bump version number: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return VersionSnapshot{}, 0, fmt.Errorf("commit version tx: %w", err)
	}
	return snapshot, current + 1, nil
}

func lockVersionNumber(ctx context.Context, tx *sql.Tx, documentID string) (int, error) {
	var current int
	err := tx.QueryRowContext(ctx, `SELECT version_number FROM documents WHERE id=$1 FOR UPDATE`, documentID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lock document row: %w", err)
	}
	return current, nil
}

func insertVersion(ctx context.Context, tx *sql.Tx, snapshot *VersionSnapshot) error {
	metadata, err := encodeJSON(snapshot.MetadataSnapshot)
	if err != nil {
		return err
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO document_versions (
			document_id, version_number, content_snapshot, content_rendered_snapshot, metadata_snapshot,
			changes_summary, added_content, removed_content, created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
		RETURNING id, created_at
	`, snapshot.DocumentID, snapshot.VersionNumber, snapshot.ContentSnapshot, snapshot.ContentRenderedSnapshot, metadata,
		snapshot.ChangesSummary, snapshot.AddedContent, snapshot.RemovedContent, snapshot.CreatedBy,
	).Scan(&snapshot.ID, &snapshot.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

const versionColumns = `
	id, document_id, version_number, content_snapshot, content_rendered_snapshot, metadata_snapshot,
	changes_summary, added_content, removed_content, COALESCE(created_by, ''), created_at
`

func scanVersion(row rowScanner) (VersionSnapshot, error) {
	var (
		item     VersionSnapshot
		metadata []byte
	)
	err := row.Scan(
		&item.ID, &item.DocumentID, &item.VersionNumber, &item.ContentSnapshot, &item.ContentRenderedSnapshot, &metadata,
		&item.ChangesSummary, &item.AddedContent, &item.RemovedContent, &item.CreatedBy, &item.CreatedAt,
	)
	if err != nil {
		return VersionSnapshot{}, err
	}
	if item.MetadataSnapshot, err = decodeJSON(metadata); err != nil {
		return VersionSnapshot{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, documentID string, limit int) ([]VersionSnapshot, error) {
	query := `SELECT ` + versionColumns + ` FROM document_versions WHERE document_id=$1 ORDER BY version_number DESC`
	args := []any{documentID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]VersionSnapshot, 0)
	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetVersion(ctx context.Context, documentID string, versionNumber int) (VersionSnapshot, error) {
	item, err := scanVersion(s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM document_versions WHERE document_id=$1 AND version_number=$2`,
		documentID, versionNumber,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return VersionSnapshot{}, ErrNotFound
	}
	if err != nil {
		return VersionSnapshot{}, fmt.Errorf("get version: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) DeleteVersion(ctx context.Context, documentID string, versionNumber int) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM document_versions WHERE document_id=$1 AND version_number=$2`, documentID, versionNumber)
	if err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete version rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const commentColumns = `
	c.id, c.document_id, c.content, c.author_id, COALESCE(u.display_name, ''),
	c.position_start, c.position_end, c.selected_text, c.parent_comment_id,
	c.is_resolved, COALESCE(c.resolved_by, ''), c.resolved_at, c.created_at
`

func scanComment(row rowScanner) (Comment, error) {
	var (
		item          Comment
		positionStart sql.NullInt64
		positionEnd   sql.NullInt64
		parentID      sql.NullInt64
	)
	err := row.Scan(
		&item.ID, &item.DocumentID, &item.Content, &item.AuthorID, &item.AuthorName,
		&positionStart, &positionEnd, &item.SelectedText, &parentID,
		&item.IsResolved, &item.ResolvedBy, &item.ResolvedAt, &item.CreatedAt,
	)
	if err != nil {
		return Comment{}, err
	}
	if positionStart.Valid {
		value := int(positionStart.Int64)
		item.PositionStart = &value
	}
	if positionEnd.Valid {
		value := int(positionEnd.Int64)
		item.PositionEnd = &value
	}
	if parentID.Valid {
		value := parentID.Int64
		item.ParentCommentID = &value
	}
	return item, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) (Comment, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO document_comments (document_id, content, author_id, position_start, position_end, selected_text, parent_comment_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, comment.DocumentID, comment.Content, comment.AuthorID, comment.PositionStart, comment.PositionEnd, comment.SelectedText, comment.ParentCommentID,
	).Scan(&comment.ID, &comment.CreatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return s.GetComment(ctx, comment.ID)
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID int64) (Comment, error) {
	item, err := scanComment(s.db.QueryRowContext(ctx, `
		SELECT `+commentColumns+`
		FROM document_comments c
		LEFT JOIN users u ON u.id = c.author_id
		WHERE c.id=$1
	`, commentID))
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, ErrNotFound
	}
	if err != nil {
		return Comment{}, fmt.Errorf("get comment: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ResolveComment(ctx context.Context, commentID int64, userID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE document_comments
		SET is_resolved=TRUE, resolved_by=$2, resolved_at=$3
		WHERE id=$1 AND is_resolved=FALSE
	`, commentID, userID, at)
	if err != nil {
		return false, fmt.Errorf("resolve comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve comment rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, documentID string, includeResolved bool) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM document_comments c
		LEFT JOIN users u ON u.id = c.author_id
		WHERE c.document_id=$1 AND ($2 OR c.is_resolved=FALSE)
		ORDER BY c.position_start ASC NULLS LAST, c.created_at ASC, c.id ASC
	`, documentID, includeResolved)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		item, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertAuditEntry(ctx context.Context, entry AuditEntry) error {
	metadata, err := encodeJSON(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO document_audit_log (document_id, user_id, action, details, metadata)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5)
	`, entry.DocumentID, entry.UserID, entry.Action, entry.Details, metadata)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditEntries(ctx context.Context, documentID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, COALESCE(user_id, ''), action, details, metadata, created_at
		FROM document_audit_log
		WHERE document_id=$1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	items := make([]AuditEntry, 0)
	for rows.Next() {
		var (
			item     AuditEntry
			metadata []byte
		)
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.UserID, &item.Action, &item.Details, &metadata, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if item.Metadata, err = decodeJSON(metadata); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertTemplate(ctx context.Context, tpl Template) error {
	variables := tpl.Variables
	if len(variables) == 0 {
		variables = []byte("[]")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_templates (id, name, description, category, content, variables, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		ON CONFLICT (id) DO UPDATE
		SET name=EXCLUDED.name, description=EXCLUDED.description, category=EXCLUDED.category,
			content=EXCLUDED.content, variables=EXCLUDED.variables, updated_at=NOW()
	`, tpl.ID, tpl.Name, tpl.Description, tpl.Category, tpl.Content, variables, tpl.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

const templateColumns = `id, name, description, category, content, variables, COALESCE(created_by, ''), created_at, updated_at`

func scanTemplate(row rowScanner) (Template, error) {
	var tpl Template
	err := row.Scan(&tpl.ID, &tpl.Name, &tpl.Description, &tpl.Category, &tpl.Content, &tpl.Variables, &tpl.CreatedBy, &tpl.CreatedAt, &tpl.UpdatedAt)
	return tpl, err
}

func (s *PostgresStore) GetTemplate(ctx context.Context, templateID string) (Template, error) {
	tpl, err := scanTemplate(s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM document_templates WHERE id=$1`, templateID))
	if errors.Is(err, sql.ErrNoRows) {
		return Template{}, ErrNotFound
	}
	if err != nil {
		return Template{}, fmt.Errorf("get template: %w", err)
	}
	return tpl, nil
}

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM document_templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	items := make([]Template, 0)
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		items = append(items, tpl)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertLLMInteraction(ctx context.Context, item LLMInteraction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_interactions (
			document_id, user_id, interaction_type, prompt, response, confidence,
			processing_time, model, provider, total_tokens, error
		)
		VALUES (NULLIF($1, ''), NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, item.DocumentID, item.UserID, item.InteractionType, item.Prompt, item.Response, item.Confidence,
		item.ProcessingTime, item.Model, item.Provider, item.TotalTokens, item.Error)
	if err != nil {
		return fmt.Errorf("insert llm interaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListLLMInteractions(ctx context.Context, documentID string) ([]LLMInteraction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(document_id, ''), COALESCE(user_id, ''), interaction_type, prompt, response, confidence,
			processing_time, model, provider, total_tokens, error, created_at
		FROM llm_interactions
		WHERE document_id=$1
		ORDER BY created_at
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list llm interactions: %w", err)
	}
	defer rows.Close()

	items := make([]LLMInteraction, 0)
	for rows.Next() {
		var item LLMInteraction
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.UserID, &item.InteractionType, &item.Prompt, &item.Response,
			&item.Confidence, &item.ProcessingTime, &item.Model, &item.Provider, &item.TotalTokens, &item.Error, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan llm interaction: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) DocumentCounts(ctx context.Context, documentID string) (DocumentCounts, error) {
	var counts DocumentCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM document_versions WHERE document_id=$1),
			(SELECT COUNT(*) FROM document_comments WHERE document_id=$1),
			(SELECT COUNT(*) FROM document_comments WHERE document_id=$1 AND is_resolved=FALSE)
	`, documentID).Scan(&counts.Versions, &counts.Comments, &counts.UnresolvedComments)
	if err != nil {
		return DocumentCounts{}, fmt.Errorf("document counts: %w", err)
	}
	return counts, nil
}

func encodeJSON(value map[string]any) ([]byte, error) {
	if value == nil {
		return []byte("{}"), nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return payload, nil
}

func decodeJSON(raw []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return out, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
