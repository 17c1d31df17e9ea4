package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
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

// --- users ---

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, display_name, role FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.Role)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	insertUser := `
		INSERT INTO users (display_name, email, role)
		VALUES ($1, CONCAT(LOWER(REPLACE($1, ' ', '.')), '@local.trialsage.dev'), 'editor')
		RETURNING id, display_name, role
	`
	if err := s.db.QueryRowContext(ctx, insertUser, name).Scan(&user.ID, &user.DisplayName, &user.Role); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, role, is_email_verified FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified
		FROM users WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token='', updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// --- refresh sessions (Postgres fallback when Redis is not configured) ---

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at) VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1 AND expires_at > NOW())
	`, jti).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return exists, nil
}

// --- folders ---

func (s *PostgresStore) ListFolders(ctx context.Context) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_by, created_at FROM folders ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	var items []Folder
	for rows.Next() {
		var folder Folder
		if err := rows.Scan(&folder.ID, &folder.Name, &folder.Description, &folder.CreatedBy, &folder.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		items = append(items, folder)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetFolder(ctx context.Context, folderID string) (Folder, error) {
	var folder Folder
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_by, created_at FROM folders WHERE id=$1
	`, folderID).Scan(&folder.ID, &folder.Name, &folder.Description, &folder.CreatedBy, &folder.CreatedAt)
	if err != nil {
		return Folder{}, err
	}
	return folder, nil
}

func (s *PostgresStore) InsertFolder(ctx context.Context, folder Folder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO folders (id, name, description, created_by) VALUES ($1, $2, $3, $4)
	`, folder.ID, folder.Name, folder.Description, folder.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert folder: %w", err)
	}
	return nil
}

// --- documents ---

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, document_type, status, COALESCE(folder_id, ''), version, updated_by, updated_at
		FROM documents ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func (s *PostgresStore) ListDocumentsByFolder(ctx context.Context, folderID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, document_type, status, COALESCE(folder_id, ''), version, updated_by, updated_at
		FROM documents WHERE folder_id=$1 ORDER BY updated_at DESC
	`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list documents by folder: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func scanDocuments(rows *sql.Rows) ([]Document, error) {
	var items []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.DocumentType, &doc.Status, &doc.FolderID, &doc.Version, &doc.UpdatedBy, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, doc)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, document_type, status, COALESCE(folder_id, ''), version, updated_by, updated_at
		FROM documents WHERE id=$1
	`, documentID).Scan(&doc.ID, &doc.Title, &doc.DocumentType, &doc.Status, &doc.FolderID, &doc.Version, &doc.UpdatedBy, &doc.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, document_type, status, folder_id, version, updated_by)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
	`, doc.ID, doc.Title, doc.DocumentType, doc.Status, doc.FolderID, doc.Version, doc.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDocumentState(ctx context.Context, documentID, title, status, updatedBy string, version int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET title=$2, status=$3, updated_by=$4, version=$5, updated_at=NOW() WHERE id=$1
	`, documentID, title, status, updatedBy, version)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) MoveDocument(ctx context.Context, documentID, folderID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET folder_id=NULLIF($2, ''), updated_at=NOW() WHERE id=$1
	`, documentID, folderID)
	if err != nil {
		return fmt.Errorf("move document: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("move document rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SummaryCounts(ctx context.Context) (allDocuments int, inReview int, approved int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'In review'),
			COUNT(*) FILTER (WHERE status = 'Approved')
		FROM documents
	`).Scan(&allDocuments, &inReview, &approved)
	if err != nil {
		err = fmt.Errorf("summary counts: %w", err)
	}
	return
}

// --- document files ---

func (s *PostgresStore) InsertDocumentFile(ctx context.Context, file DocumentFile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_files (id, document_id, name, object_key, size_bytes, content_type, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, file.ID, file.DocumentID, file.Name, file.ObjectKey, file.Size, file.ContentType, file.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert document file: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDocumentFiles(ctx context.Context, documentID string) ([]DocumentFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, name, object_key, size_bytes, content_type, uploaded_by, created_at
		FROM document_files WHERE document_id=$1 ORDER BY created_at DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list document files: %w", err)
	}
	defer rows.Close()

	var items []DocumentFile
	for rows.Next() {
		var file DocumentFile
		if err := rows.Scan(&file.ID, &file.DocumentID, &file.Name, &file.ObjectKey, &file.Size, &file.ContentType, &file.UploadedBy, &file.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document file: %w", err)
		}
		items = append(items, file)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetDocumentFile(ctx context.Context, documentID, fileID string) (DocumentFile, error) {
	var file DocumentFile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, name, object_key, size_bytes, content_type, uploaded_by, created_at
		FROM document_files WHERE document_id=$1 AND id=$2
	`, documentID, fileID).Scan(&file.ID, &file.DocumentID, &file.Name, &file.ObjectKey, &file.Size, &file.ContentType, &file.UploadedBy, &file.CreatedAt)
	if err != nil {
		return DocumentFile{}, err
	}
	return file, nil
}

// --- comments ---

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, document_id, author, body) VALUES ($1, $2, $3, $4)
	`, comment.ID, comment.DocumentID, comment.Author, comment.Body)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, documentID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, author, body, created_at
		FROM comments WHERE document_id=$1 ORDER BY created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var items []Comment
	for rows.Next() {
		var comment Comment
		if err := rows.Scan(&comment.ID, &comment.DocumentID, &comment.Author, &comment.Body, &comment.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, comment)
	}
	return items, rows.Err()
}

// --- workflows ---

func (s *PostgresStore) InsertWorkflow(ctx context.Context, workflow Workflow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, document_id, type, state, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, workflow.ID, workflow.DocumentID, workflow.Type, workflow.State, workflow.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, workflowID string) (Workflow, error) {
	var workflow Workflow
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, type, state, created_by, created_at FROM workflows WHERE id=$1
	`, workflowID).Scan(&workflow.ID, &workflow.DocumentID, &workflow.Type, &workflow.State, &workflow.CreatedBy, &workflow.CreatedAt)
	if err != nil {
		return Workflow{}, err
	}
	return workflow, nil
}

func (s *PostgresStore) GetActiveWorkflow(ctx context.Context, documentID string) (*Workflow, error) {
	var workflow Workflow
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, type, state, created_by, created_at
		FROM workflows
		WHERE document_id=$1 AND state IN ('pending', 'in_progress')
		ORDER BY created_at DESC
		LIMIT 1
	`, documentID).Scan(&workflow.ID, &workflow.DocumentID, &workflow.Type, &workflow.State, &workflow.CreatedBy, &workflow.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active workflow: %w", err)
	}
	return &workflow, nil
}

func (s *PostgresStore) UpdateWorkflowState(ctx context.Context, workflowID, state string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workflows SET state=$2 WHERE id=$1`, workflowID, state)
	if err != nil {
		return fmt.Errorf("update workflow state: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertWorkflowStep(ctx context.Context, step WorkflowStep) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_steps (id, workflow_id, role, order_index, status)
		VALUES ($1, $2, $3, $4, $5)
	`, step.ID, step.WorkflowID, step.Role, step.OrderIndex, step.Status)
	if err != nil {
		return fmt.Errorf("insert workflow step: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListWorkflowSteps(ctx context.Context, workflowID string) ([]WorkflowStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, role, order_index, status, COALESCE(decided_by, ''), COALESCE(rationale, ''), decided_at
		FROM workflow_steps WHERE workflow_id=$1 ORDER BY order_index ASC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow steps: %w", err)
	}
	defer rows.Close()

	var items []WorkflowStep
	for rows.Next() {
		var step WorkflowStep
		if err := rows.Scan(&step.ID, &step.WorkflowID, &step.Role, &step.OrderIndex, &step.Status, &step.DecidedBy, &step.Rationale, &step.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan workflow step: %w", err)
		}
		items = append(items, step)
	}
	return items, rows.Err()
}

func (s *PostgresStore) DecideWorkflowStep(ctx context.Context, stepID, status, decidedBy, rationale string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE workflow_steps
		SET status=$2, decided_by=$3, rationale=$4, decided_at=NOW()
		WHERE id=$1 AND status='pending'
	`, stepID, status, decidedBy, rationale)
	if err != nil {
		return false, fmt.Errorf("decide workflow step: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decide workflow step rows: %w", err)
	}
	return rows > 0, nil
}

// --- verification ledger ---

func (s *PostgresStore) HeadVerification(ctx context.Context) (*VerificationRecord, error) {
	record, err := s.scanVerificationRow(s.db.QueryRowContext(ctx, `
		SELECT id, document_id, hash, transaction_id, prev_hash, block_number, verified_by, created_at
		FROM verifications ORDER BY block_number DESC LIMIT 1
	`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("head verification: %w", err)
	}
	return &record, nil
}

func (s *PostgresStore) InsertVerification(ctx context.Context, record VerificationRecord) (VerificationRecord, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO verifications (document_id, hash, transaction_id, prev_hash, block_number, verified_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, record.DocumentID, record.Hash, record.TransactionID, record.PrevHash, record.BlockNumber, record.VerifiedBy).
		Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return VerificationRecord{}, fmt.Errorf("insert verification: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) LatestVerification(ctx context.Context, documentID string) (*VerificationRecord, error) {
	record, err := s.scanVerificationRow(s.db.QueryRowContext(ctx, `
		SELECT id, document_id, hash, transaction_id, prev_hash, block_number, verified_by, created_at
		FROM verifications WHERE document_id=$1 ORDER BY block_number DESC LIMIT 1
	`, documentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest verification: %w", err)
	}
	return &record, nil
}

func (s *PostgresStore) ListVerifications(ctx context.Context, documentID string) ([]VerificationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, hash, transaction_id, prev_hash, block_number, verified_by, created_at
		FROM verifications WHERE document_id=$1 ORDER BY block_number DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()
	return s.scanVerificationRows(rows)
}

func (s *PostgresStore) ListLedger(ctx context.Context, limit int) ([]VerificationRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, hash, transaction_id, prev_hash, block_number, verified_by, created_at
		FROM verifications ORDER BY block_number ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()
	return s.scanVerificationRows(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanVerificationRow(row rowScanner) (VerificationRecord, error) {
	var record VerificationRecord
	err := row.Scan(&record.ID, &record.DocumentID, &record.Hash, &record.TransactionID, &record.PrevHash, &record.BlockNumber, &record.VerifiedBy, &record.CreatedAt)
	if err != nil {
		return VerificationRecord{}, err
	}
	return record, nil
}

func (s *PostgresStore) scanVerificationRows(rows *sql.Rows) ([]VerificationRecord, error) {
	var items []VerificationRecord
	for rows.Next() {
		record, err := s.scanVerificationRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		items = append(items, record)
	}
	return items, rows.Err()
}

// --- audit log ---

func (s *PostgresStore) InsertAuditEvent(ctx context.Context, event AuditEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_type, actor_name, document_id, workflow_id, payload)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)
	`, event.EventType, event.ActorName, event.DocumentID, event.WorkflowID, payload)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, documentID string, limit int) ([]AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, actor_name, COALESCE(document_id, ''), COALESCE(workflow_id, ''), payload, created_at
		FROM audit_events
		WHERE ($1 = '' OR document_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var items []AuditEvent
	for rows.Next() {
		var event AuditEvent
		var payload []byte
		if err := rows.Scan(&event.ID, &event.EventType, &event.ActorName, &event.DocumentID, &event.WorkflowID, &payload, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &event.Payload)
		}
		items = append(items, event)
	}
	return items, rows.Err()
}

// ListUserEmailsByRole returns verified addresses for every user holding the
// role, for workflow approval notifications.
func (s *PostgresStore) ListUserEmailsByRole(ctx context.Context, role string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email FROM users WHERE role = $1 AND is_email_verified ORDER BY email
	`, role)
	if err != nil {
		return nil, fmt.Errorf("list user emails by role: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan user email: %w", err)
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

// --- literature references ---

func (s *PostgresStore) InsertLiteratureRef(ctx context.Context, ref LiteratureRef) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO literature_refs (id, title, journal, year, doi, abstract)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, journal=EXCLUDED.journal,
			year=EXCLUDED.year, doi=EXCLUDED.doi, abstract=EXCLUDED.abstract
	`, ref.ID, ref.Title, ref.Journal, ref.Year, ref.DOI, ref.Abstract)
	if err != nil {
		return fmt.Errorf("insert literature ref: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListLiteratureRefs(ctx context.Context, limit int) ([]LiteratureRef, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, journal, year, COALESCE(doi, ''), abstract
		FROM literature_refs ORDER BY year DESC, title LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list literature refs: %w", err)
	}
	defer rows.Close()

	var items []LiteratureRef
	for rows.Next() {
		var ref LiteratureRef
		if err := rows.Scan(&ref.ID, &ref.Title, &ref.Journal, &ref.Year, &ref.DOI, &ref.Abstract); err != nil {
			return nil, fmt.Errorf("scan literature ref: %w", err)
		}
		items = append(items, ref)
	}
	return items, rows.Err()
}
