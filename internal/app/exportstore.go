package app

import (
	"context"

	"trialsage/api/internal/docvault"
	"trialsage/api/internal/export"
)

// ExportStore adapts the app's storage and vault to the export service's
// read-only view of a document.
type ExportStore struct {
	store dataStore
	vault vaultService
}

func NewExportStore(store dataStore, vault vaultService) *ExportStore {
	return &ExportStore{store: store, vault: vault}
}

func (e *ExportStore) GetDocument(ctx context.Context, id string) (export.DocumentInfo, error) {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return export.DocumentInfo{}, err
	}
	return export.DocumentInfo{
		ID:           doc.ID,
		Title:        doc.Title,
		DocumentType: doc.DocumentType,
		Status:       doc.Status,
		Version:      doc.Version,
		UpdatedBy:    doc.UpdatedBy,
		UpdatedAt:    doc.UpdatedAt,
	}, nil
}

func (e *ExportStore) GetContent(documentID, version string) (docvault.Content, error) {
	if version == "" || version == "latest" {
		content, _, err := e.vault.GetHeadContent(documentID)
		return content, err
	}
	return e.vault.GetContentByHash(documentID, version)
}

func (e *ExportStore) ListComments(ctx context.Context, documentID string) ([]export.CommentInfo, error) {
	comments, err := e.store.ListComments(ctx, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]export.CommentInfo, 0, len(comments))
	for _, comment := range comments {
		out = append(out, export.CommentInfo{
			Author:    comment.Author,
			Body:      comment.Body,
			CreatedAt: comment.CreatedAt,
		})
	}
	return out, nil
}

func (e *ExportStore) LatestVerification(ctx context.Context, documentID string) (*export.VerificationInfo, error) {
	record, err := e.store.LatestVerification(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	return &export.VerificationInfo{
		Hash:          record.Hash,
		TransactionID: record.TransactionID,
		BlockNumber:   record.BlockNumber,
		VerifiedBy:    record.VerifiedBy,
		CreatedAt:     record.CreatedAt,
	}, nil
}
