package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"trialsage/api/internal/store"
)

// GenesisHash anchors the first chain link.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

type chainStore interface {
	HeadVerification(ctx context.Context) (*store.VerificationRecord, error)
	InsertVerification(ctx context.Context, record store.VerificationRecord) (store.VerificationRecord, error)
	LatestVerification(ctx context.Context, documentID string) (*store.VerificationRecord, error)
	ListVerifications(ctx context.Context, documentID string) ([]store.VerificationRecord, error)
	ListLedger(ctx context.Context, limit int) ([]store.VerificationRecord, error)
}

// Service maintains an append-only verification chain over document content
// hashes. Each record links to the previous one through its transaction id,
// so tampering with any stored record is detectable by Audit.
type Service struct {
	store chainStore

	mu sync.Mutex
}

func New(chain chainStore) *Service {
	return &Service{store: chain}
}

// ContentHash returns the canonical SHA-256 of a document payload. The
// payload is re-marshalled through a generic value first so that key order
// and whitespace differences never change the hash.
func ContentHash(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("normalize payload: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func transactionID(prevHash, hash, documentID string, blockNumber int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s:%d", prevHash, hash, documentID, blockNumber)))
	return hex.EncodeToString(sum[:])
}

// Record appends a verification for the given document content and returns
// the stored chain link.
func (s *Service) Record(ctx context.Context, documentID string, payload any, verifiedBy string) (store.VerificationRecord, error) {
	hash, err := ContentHash(payload)
	if err != nil {
		return store.VerificationRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.store.HeadVerification(ctx)
	if err != nil {
		return store.VerificationRecord{}, err
	}

	prevHash := GenesisHash
	blockNumber := int64(1)
	if head != nil {
		prevHash = head.TransactionID
		blockNumber = head.BlockNumber + 1
	}

	record := store.VerificationRecord{
		DocumentID:    documentID,
		Hash:          hash,
		TransactionID: transactionID(prevHash, hash, documentID, blockNumber),
		PrevHash:      prevHash,
		BlockNumber:   blockNumber,
		VerifiedBy:    verifiedBy,
	}
	return s.store.InsertVerification(ctx, record)
}

// Status reports whether the given content still matches the most recent
// verification recorded for the document.
type Status struct {
	Verified    bool
	CurrentHash string
	Record      *store.VerificationRecord
}

func (s *Service) Status(ctx context.Context, documentID string, payload any) (Status, error) {
	hash, err := ContentHash(payload)
	if err != nil {
		return Status{}, err
	}
	latest, err := s.store.LatestVerification(ctx, documentID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Verified:    latest != nil && latest.Hash == hash,
		CurrentHash: hash,
		Record:      latest,
	}, nil
}

func (s *Service) History(ctx context.Context, documentID string) ([]store.VerificationRecord, error) {
	return s.store.ListVerifications(ctx, documentID)
}

// AuditIssue describes one broken link found while walking the chain.
type AuditIssue struct {
	BlockNumber int64  `json:"blockNumber"`
	Problem     string `json:"problem"`
}

type AuditReport struct {
	Intact  bool         `json:"intact"`
	Records int          `json:"records"`
	Issues  []AuditIssue `json:"issues"`
}

// Audit walks the full chain in block order and recomputes every link.
func (s *Service) Audit(ctx context.Context, limit int) (AuditReport, error) {
	records, err := s.store.ListLedger(ctx, limit)
	if err != nil {
		return AuditReport{}, err
	}

	report := AuditReport{Intact: true, Records: len(records), Issues: []AuditIssue{}}
	prevTxn := GenesisHash
	prevBlock := int64(0)
	for _, record := range records {
		if record.BlockNumber != prevBlock+1 {
			report.Issues = append(report.Issues, AuditIssue{
				BlockNumber: record.BlockNumber,
				Problem:     fmt.Sprintf("expected block %d, found %d", prevBlock+1, record.BlockNumber),
			})
		}
		if record.PrevHash != prevTxn {
			report.Issues = append(report.Issues, AuditIssue{
				BlockNumber: record.BlockNumber,
				Problem:     "prev hash does not match preceding transaction",
			})
		}
		if !validHex(record.Hash) {
			report.Issues = append(report.Issues, AuditIssue{
				BlockNumber: record.BlockNumber,
				Problem:     "content hash is not 64 hex chars",
			})
		}
		want := transactionID(record.PrevHash, record.Hash, record.DocumentID, record.BlockNumber)
		if record.TransactionID != want {
			report.Issues = append(report.Issues, AuditIssue{
				BlockNumber: record.BlockNumber,
				Problem:     "transaction id does not match record contents",
			})
		}
		prevTxn = record.TransactionID
		prevBlock = record.BlockNumber
	}
	report.Intact = len(report.Issues) == 0
	return report, nil
}

func validHex(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	return strings.IndexFunc(hash, func(r rune) bool {
		return !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'))
	}) == -1
}
