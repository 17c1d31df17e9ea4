package export

import (
	"context"
	"fmt"

	"trialsage/api/internal/docvault"
)

// DataStore defines the data access the export service needs
type DataStore interface {
	GetDocument(ctx context.Context, id string) (DocumentInfo, error)
	GetContent(documentID, version string) (docvault.Content, error)
	ListComments(ctx context.Context, documentID string) ([]CommentInfo, error)
	LatestVerification(ctx context.Context, documentID string) (*VerificationInfo, error)
}

// Service provides document export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	docInfo, err := s.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	version := req.Version
	if version == "" {
		version = "latest"
	}
	content, err := s.store.GetContent(req.DocumentID, version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	data := TemplateData{
		Title:        docInfo.Title,
		DocumentType: content.DocumentType,
		CTDSection:   content.CTDSection,
		Summary:      content.Summary,
		Status:       docInfo.Status,
		Version:      docInfo.Version,
		BodyHTML:     BodyToHTML(content.Body),
		Author:       docInfo.UpdatedBy,
		UpdatedAt:    docInfo.UpdatedAt,
	}
	if content.Title != "" {
		data.Title = content.Title
	}

	if req.IncludeComments {
		comments, err := s.store.ListComments(ctx, req.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("list comments: %w", err)
		}
		for _, c := range comments {
			data.Comments = append(data.Comments, TemplateComment{
				Author:    c.Author,
				Body:      c.Body,
				CreatedAt: c.CreatedAt,
			})
		}
	}

	if req.IncludeVerification {
		record, err := s.store.LatestVerification(ctx, req.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("latest verification: %w", err)
		}
		if record != nil {
			data.Verification = &TemplateVerification{
				Hash:          record.Hash,
				TransactionID: record.TransactionID,
				BlockNumber:   record.BlockNumber,
				CreatedAt:     record.CreatedAt,
			}
		}
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return renderPDF(html, data.Title)
	case FormatDOCX:
		return renderDOCX(html, data.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
