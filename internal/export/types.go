// Package export provides document export functionality for PDF and DOCX formats.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Request contains parameters for an export operation
type Request struct {
	DocumentID          string
	Version             string // "latest" or commit hash
	Format              Format
	IncludeComments     bool
	IncludeVerification bool
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// DocumentInfo holds basic document metadata
type DocumentInfo struct {
	ID           string
	Title        string
	DocumentType string
	Status       string
	Version      int
	UpdatedBy    string
	UpdatedAt    time.Time
}

// CommentInfo holds comment data included in the export appendix
type CommentInfo struct {
	Author    string
	Body      string
	CreatedAt time.Time
}

// VerificationInfo holds the most recent ledger record for the document
type VerificationInfo struct {
	Hash          string
	TransactionID string
	BlockNumber   int64
	VerifiedBy    string
	CreatedAt     time.Time
}

var (
	// ErrContentUnavailable indicates document content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
