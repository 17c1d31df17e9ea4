package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Folder struct {
	ID          string
	Name        string
	Description string
	CreatedBy   string
	CreatedAt   time.Time
}

type Document struct {
	ID           string
	Title        string
	DocumentType string
	Status       string
	FolderID     string
	Version      int
	UpdatedBy    string
	UpdatedAt    time.Time
}

type DocumentFile struct {
	ID          string
	DocumentID  string
	Name        string
	ObjectKey   string
	Size        int64
	ContentType string
	UploadedBy  string
	CreatedAt   time.Time
}

type Comment struct {
	ID         string
	DocumentID string
	Author     string
	Body       string
	CreatedAt  time.Time
}

type Workflow struct {
	ID         string
	DocumentID string
	Type       string
	State      string
	CreatedBy  string
	CreatedAt  time.Time
}

type WorkflowStep struct {
	ID         string
	WorkflowID string
	Role       string
	OrderIndex int
	Status     string
	DecidedBy  string
	Rationale  string
	DecidedAt  *time.Time
}

// VerificationRecord is one link of the append-only verification chain.
// TransactionID is derived from PrevHash, so rewriting any historical
// record invalidates every later link.
type VerificationRecord struct {
	ID            int64
	DocumentID    string
	Hash          string
	TransactionID string
	PrevHash      string
	BlockNumber   int64
	VerifiedBy    string
	CreatedAt     time.Time
}

type AuditEvent struct {
	ID         int64
	EventType  string
	ActorName  string
	DocumentID string
	WorkflowID string
	Payload    map[string]any
	CreatedAt  time.Time
}

type LiteratureRef struct {
	ID       string
	Title    string
	Journal  string
	Year     int
	DOI      string
	Abstract string
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
