package ledger

import (
	"context"
	"testing"
	"time"

	"trialsage/api/internal/store"
)

type fakeChainStore struct {
	records []store.VerificationRecord
}

func (f *fakeChainStore) HeadVerification(ctx context.Context) (*store.VerificationRecord, error) {
	if len(f.records) == 0 {
		return nil, nil
	}
	head := f.records[len(f.records)-1]
	return &head, nil
}

func (f *fakeChainStore) InsertVerification(ctx context.Context, record store.VerificationRecord) (store.VerificationRecord, error) {
	record.ID = int64(len(f.records) + 1)
	record.CreatedAt = time.Now()
	f.records = append(f.records, record)
	return record, nil
}

func (f *fakeChainStore) LatestVerification(ctx context.Context, documentID string) (*store.VerificationRecord, error) {
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].DocumentID == documentID {
			record := f.records[i]
			return &record, nil
		}
	}
	return nil, nil
}

func (f *fakeChainStore) ListVerifications(ctx context.Context, documentID string) ([]store.VerificationRecord, error) {
	var items []store.VerificationRecord
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].DocumentID == documentID {
			items = append(items, f.records[i])
		}
	}
	return items, nil
}

func (f *fakeChainStore) ListLedger(ctx context.Context, limit int) ([]store.VerificationRecord, error) {
	return append([]store.VerificationRecord(nil), f.records...), nil
}

func TestContentHashIsCanonical(t *testing.T) {
	first, err := ContentHash(map[string]any{"b": 2, "a": 1})
	if err != nil {
		t.Fatalf("ContentHash() error = %v", err)
	}
	second, err := ContentHash(map[string]any{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("ContentHash() error = %v", err)
	}
	if first != second {
		t.Fatalf("hash changed with key order: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(first))
	}

	changed, err := ContentHash(map[string]any{"a": 1, "b": 3})
	if err != nil {
		t.Fatalf("ContentHash() error = %v", err)
	}
	if changed == first {
		t.Fatal("expected different hash for different content")
	}
}

func TestRecordBuildsChain(t *testing.T) {
	chain := &fakeChainStore{}
	svc := New(chain)
	ctx := context.Background()

	first, err := svc.Record(ctx, "doc-1", map[string]any{"title": "A"}, "Avery")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if first.BlockNumber != 1 {
		t.Fatalf("expected block 1, got %d", first.BlockNumber)
	}
	if first.PrevHash != GenesisHash {
		t.Fatalf("expected genesis prev hash, got %s", first.PrevHash)
	}

	second, err := svc.Record(ctx, "doc-2", map[string]any{"title": "B"}, "Blake")
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if second.BlockNumber != 2 {
		t.Fatalf("expected block 2, got %d", second.BlockNumber)
	}
	if second.PrevHash != first.TransactionID {
		t.Fatal("expected second record to link to first transaction")
	}
}

func TestStatusMatchesLatestVerification(t *testing.T) {
	chain := &fakeChainStore{}
	svc := New(chain)
	ctx := context.Background()

	payload := map[string]any{"title": "A", "version": 1}
	if _, err := svc.Record(ctx, "doc-1", payload, "Avery"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	status, err := svc.Status(ctx, "doc-1", payload)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.Verified {
		t.Fatal("expected verified status for unchanged content")
	}

	status, err = svc.Status(ctx, "doc-1", map[string]any{"title": "A", "version": 2})
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Verified {
		t.Fatal("expected unverified status for changed content")
	}
	if status.Record == nil {
		t.Fatal("expected latest record to be returned")
	}

	status, err = svc.Status(ctx, "doc-never-verified", payload)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Verified || status.Record != nil {
		t.Fatal("expected no verification for unknown document")
	}
}

func TestAuditDetectsTampering(t *testing.T) {
	chain := &fakeChainStore{}
	svc := New(chain)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Record(ctx, "doc-1", map[string]any{"rev": i}, "Avery"); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	report, err := svc.Audit(ctx, 0)
	if err != nil {
		t.Fatalf("Audit() error = %v", err)
	}
	if !report.Intact {
		t.Fatalf("expected intact chain, got issues: %v", report.Issues)
	}
	if report.Records != 3 {
		t.Fatalf("expected 3 records, got %d", report.Records)
	}

	// Rewrite a historical record's hash.
	chain.records[1].Hash = "deadbeef" + chain.records[1].Hash[8:]

	report, err = svc.Audit(ctx, 0)
	if err != nil {
		t.Fatalf("Audit() error = %v", err)
	}
	if report.Intact {
		t.Fatal("expected audit to flag tampered record")
	}
	if len(report.Issues) == 0 {
		t.Fatal("expected at least one issue")
	}
}
