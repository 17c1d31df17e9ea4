package docvault

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestDocumentVaultLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Content{
		Title:        "Clinical Overview",
		DocumentType: "clinical_overview",
		CTDSection:   "2.5",
		Summary:      "Initial summary",
		Body: json.RawMessage(`{
			"sections":[
				{"heading":"Benefit-Risk","text":"Draft benefit-risk assessment."},
				{"heading":"Safety","text":"Pooled safety summary."}
			]
		}`),
	}

	if err := svc.EnsureDocumentRepo("doc-1", initial, "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "doc-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	updated := initial
	updated.Summary = "Updated summary"
	commit, err := svc.CommitContent("doc-1", updated, "Avery", "Update summary")
	if err != nil {
		t.Fatalf("CommitContent() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}

	history, err := svc.History("doc-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}

	changed, err := svc.GetContentByHash("doc-1", commit.Hash)
	if err != nil {
		t.Fatalf("GetContentByHash() error = %v", err)
	}
	if changed.Summary != "Updated summary" {
		t.Fatalf("unexpected content: %+v", changed)
	}
	if len(changed.Body) == 0 {
		t.Fatal("expected persisted body JSON")
	}

	if err := svc.TagVersion("doc-1", commit.Hash, "v2-approved"); err != nil {
		t.Fatalf("TagVersion() error = %v", err)
	}
	// Tagging the same revision twice is a no-op.
	if err := svc.TagVersion("doc-1", commit.Hash, "v2-approved"); err != nil {
		t.Fatalf("TagVersion() repeat error = %v", err)
	}
}

func TestBodyRoundTripPreservesStructure(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Content{
		Title:        "Module 3 Quality",
		DocumentType: "cmc",
		CTDSection:   "3.2",
		Summary:      "Quality overview",
		Body: json.RawMessage(`{
			"sections":[
				{"heading":"Drug Substance","text":"Specification tables.","tables":[{"rows":2,"cols":3}]},
				{"heading":"Drug Product","text":"Stability data.","refs":["ICH Q1A"]}
			]
		}`),
	}

	if err := svc.EnsureDocumentRepo("doc-1", initial, "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}
	updated := initial
	updated.Summary = "Quality overview (edited)"
	if _, err := svc.CommitContent("doc-1", updated, "Avery", "Round-trip body"); err != nil {
		t.Fatalf("CommitContent() error = %v", err)
	}

	got, _, err := svc.GetHeadContent("doc-1")
	if err != nil {
		t.Fatalf("GetHeadContent() error = %v", err)
	}

	wantNorm := normalizeBody(updated.Body)
	gotNorm := normalizeBody(got.Body)
	if string(wantNorm) != string(gotNorm) {
		t.Fatalf("body JSON mismatch after round-trip\nwant=%s\ngot=%s", string(wantNorm), string(gotNorm))
	}
}

func TestDiffFields(t *testing.T) {
	from := Content{Title: "A", DocumentType: "csr", Summary: "one", Body: json.RawMessage(`{"x":1}`)}
	to := Content{Title: "B", DocumentType: "csr", Summary: "one", Body: json.RawMessage(`{ "x": 1 }`)}

	diff := DiffFields(from, to)
	if len(diff) != 1 {
		t.Fatalf("expected 1 changed field, got %d: %v", len(diff), diff)
	}
	if diff[0]["field"] != "title" {
		t.Fatalf("expected title change, got %v", diff[0])
	}
	if HasChanges(from, to) != true {
		t.Fatal("expected HasChanges true")
	}

	// Body reformatting alone is not a change.
	same := Content{Title: "A", DocumentType: "csr", Summary: "one", Body: json.RawMessage(`{ "x": 1 }`)}
	if HasChanges(from, same) {
		t.Fatal("expected no changes for reformatted body")
	}
}

func TestConcurrentCommitsSameDocument(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Content{
		Title:        "Protocol",
		DocumentType: "protocol",
		Summary:      "Base",
	}

	if err := svc.EnsureDocumentRepo("doc-1", initial, "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			next := initial
			next.Summary = fmt.Sprintf("summary-%02d", idx)
			if _, err := svc.CommitContent("doc-1", next, "Avery", fmt.Sprintf("Commit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("CommitContent() concurrent error = %v", err)
		}
	}

	history, err := svc.History("doc-1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) < writers+1 {
		t.Fatalf("expected at least %d commits in history, got %d", writers+1, len(history))
	}

	head, _, err := svc.GetHeadContent("doc-1")
	if err != nil {
		t.Fatalf("GetHeadContent() error = %v", err)
	}
	if !strings.HasPrefix(head.Summary, "summary-") {
		t.Fatalf("unexpected head content after concurrent commits: %+v", head)
	}
}
