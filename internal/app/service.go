package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"trialsage/api/internal/assistant"
	"trialsage/api/internal/auth"
	"trialsage/api/internal/authpw"
	"trialsage/api/internal/coauthor"
	"trialsage/api/internal/config"
	"trialsage/api/internal/docvault"
	"trialsage/api/internal/email"
	"trialsage/api/internal/export"
	"trialsage/api/internal/ledger"
	"trialsage/api/internal/rbac"
	"trialsage/api/internal/search"
	"trialsage/api/internal/session"
	"trialsage/api/internal/store"
	"trialsage/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

var allowedWorkflowTypes = map[string]struct{}{
	"sequential":    {},
	"parallel":      {},
	"hybrid":        {},
	"collaborative": {},
}

var allowedDocumentStatuses = map[string]struct{}{
	"Draft":             {},
	"In review":         {},
	"Changes requested": {},
	"Approved":          {},
}

type dataStore interface {
	Ping(ctx context.Context) error
	EnsureUserByName(ctx context.Context, name string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	ListUserEmailsByRole(ctx context.Context, role string) ([]string, error)

	ListFolders(ctx context.Context) ([]store.Folder, error)
	GetFolder(ctx context.Context, folderID string) (store.Folder, error)
	InsertFolder(ctx context.Context, folder store.Folder) error

	ListDocuments(ctx context.Context) ([]store.Document, error)
	ListDocumentsByFolder(ctx context.Context, folderID string) ([]store.Document, error)
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	InsertDocument(ctx context.Context, doc store.Document) error
	UpdateDocumentState(ctx context.Context, documentID, title, status, updatedBy string, version int) error
	MoveDocument(ctx context.Context, documentID, folderID string) error
	DeleteDocument(ctx context.Context, documentID string) error
	SummaryCounts(ctx context.Context) (int, int, int, error)

	InsertDocumentFile(ctx context.Context, file store.DocumentFile) error
	ListDocumentFiles(ctx context.Context, documentID string) ([]store.DocumentFile, error)
	GetDocumentFile(ctx context.Context, documentID, fileID string) (store.DocumentFile, error)

	InsertComment(ctx context.Context, comment store.Comment) error
	ListComments(ctx context.Context, documentID string) ([]store.Comment, error)

	InsertWorkflow(ctx context.Context, workflow store.Workflow) error
	GetWorkflow(ctx context.Context, workflowID string) (store.Workflow, error)
	GetActiveWorkflow(ctx context.Context, documentID string) (*store.Workflow, error)
	UpdateWorkflowState(ctx context.Context, workflowID, state string) error
	InsertWorkflowStep(ctx context.Context, step store.WorkflowStep) error
	ListWorkflowSteps(ctx context.Context, workflowID string) ([]store.WorkflowStep, error)
	DecideWorkflowStep(ctx context.Context, stepID, status, decidedBy, rationale string) (bool, error)

	LatestVerification(ctx context.Context, documentID string) (*store.VerificationRecord, error)
	InsertAuditEvent(ctx context.Context, event store.AuditEvent) error
	ListAuditEvents(ctx context.Context, documentID string, limit int) ([]store.AuditEvent, error)
	InsertLiteratureRef(ctx context.Context, ref store.LiteratureRef) error
	ListLiteratureRefs(ctx context.Context, limit int) ([]store.LiteratureRef, error)
}

type vaultService interface {
	EnsureDocumentRepo(documentID string, initial docvault.Content, author string) error
	CommitContent(documentID string, content docvault.Content, author, message string) (store.CommitInfo, error)
	GetHeadContent(documentID string) (docvault.Content, store.CommitInfo, error)
	GetContentByHash(documentID, hash string) (docvault.Content, error)
	History(documentID string, limit int) ([]store.CommitInfo, error)
	TagVersion(documentID, hash, name string) error
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	IndexLiterature(ref search.LiteratureRecord)
	DeleteDocument(id string)
}

type drafter interface {
	GenerateDraft(ctx context.Context, req assistant.DraftRequest) (assistant.Draft, error)
}

type coauthorLauncher interface {
	OpenEditSession(ctx context.Context, userID, providerName, documentID, title string) (coauthor.EditSession, error)
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type blobStore interface {
	Put(ctx context.Context, documentID, fileID, filename, contentType string, reader io.Reader, size int64) (string, error)
	PresignedDownload(ctx context.Context, key, filename string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	SaveProviderToken(ctx context.Context, userID string, token session.ProviderToken) error
}

type publisher interface {
	Publish(documentID, eventType string, data any)
}

// Deps bundles the collaborators a Service needs. Store, Vault, and Ledger
// are required; everything else degrades gracefully when nil.
type Deps struct {
	Store     dataStore
	Vault     vaultService
	Ledger    *ledger.Service
	Search    searchService
	Assistant drafter
	Coauthor  coauthorLauncher
	Export    exporter
	Email     *email.Service
	Blob      blobStore
	Sessions  sessionStore
	Hub       publisher
	AuthPW    *authpw.Service
}

type Service struct {
	cfg       config.Config
	store     dataStore
	vault     vaultService
	ledger    *ledger.Service
	search    searchService
	assistant drafter
	coauthor  coauthorLauncher
	export    exporter
	email     *email.Service
	blob      blobStore
	sessions  sessionStore
	hub       publisher
	authpw    *authpw.Service

	collabs *collabRegistry
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		vault:     deps.Vault,
		ledger:    deps.Ledger,
		search:    deps.Search,
		assistant: deps.Assistant,
		coauthor:  deps.Coauthor,
		export:    deps.Export,
		email:     deps.Email,
		blob:      deps.Blob,
		sessions:  deps.Sessions,
		hub:       deps.Hub,
		authpw:    deps.AuthPW,
		collabs:   newCollabRegistry(15 * time.Minute),
	}
}

// AttachHub wires the realtime hub after construction. The hub's auth
// callback needs the service, so the two cannot be built in one step.
func (s *Service) AttachHub(hub publisher) {
	s.hub = hub
}

func (s *Service) AttachExport(e exporter) {
	s.export = e
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// Bootstrap seeds an empty database with a folder layout and sample
// regulatory documents so the UI has something to show on first run.
func (s *Service) Bootstrap(ctx context.Context) error {
	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return err
	}
	if len(documents) > 0 {
		return nil
	}

	owner, err := s.store.EnsureUserByName(ctx, "Priya")
	if err != nil {
		return err
	}

	folders := []store.Folder{
		{ID: "fld-submissions", Name: "Regulatory Submissions", Description: "eCTD modules in preparation", CreatedBy: owner.DisplayName},
		{ID: "fld-clinical", Name: "Clinical", Description: "Protocols and study reports", CreatedBy: owner.DisplayName},
	}
	for _, folder := range folders {
		if err := s.store.InsertFolder(ctx, folder); err != nil {
			return err
		}
	}

	seeds := []struct {
		ID       string
		Title    string
		Type     string
		Section  string
		FolderID string
		Status   string
		Summary  string
	}{
		{ID: "doc-co-101", Title: "Clinical Overview: XR-204", Type: "clinical_overview", Section: "2.5", FolderID: "fld-submissions", Status: "In review", Summary: "Benefit-risk assessment supporting the XR-204 marketing application."},
		{ID: "doc-csr-009", Title: "CSR: Study XR-204-301", Type: "csr", Section: "5.3.5", FolderID: "fld-clinical", Status: "Draft", Summary: "Pivotal phase 3 efficacy and safety results."},
		{ID: "doc-prot-014", Title: "Protocol Amendment 2: XR-204-302", Type: "protocol", Section: "5.3.1", FolderID: "fld-clinical", Status: "Draft", Summary: "Dosing schedule change and added interim analysis."},
	}

	for _, seed := range seeds {
		if err := s.store.InsertDocument(ctx, store.Document{
			ID:           seed.ID,
			Title:        seed.Title,
			DocumentType: seed.Type,
			Status:       seed.Status,
			FolderID:     seed.FolderID,
			Version:      1,
			UpdatedBy:    owner.DisplayName,
		}); err != nil {
			return err
		}
		content := docvault.Content{
			Title:        seed.Title,
			DocumentType: seed.Type,
			CTDSection:   seed.Section,
			Summary:      seed.Summary,
		}
		if err := s.vault.EnsureDocumentRepo(seed.ID, content, owner.DisplayName); err != nil {
			return err
		}
		s.indexDocument(store.Document{ID: seed.ID, Title: seed.Title, DocumentType: seed.Type, Status: seed.Status, FolderID: seed.FolderID}, seed.Summary)
	}

	refs := []store.LiteratureRef{
		{ID: "lit-0001", Title: "Long-term outcomes of XR-class inhibitors in refractory disease", Journal: "J Clin Pharmacol", Year: 2024, DOI: "10.1000/jcp.2024.0001", Abstract: "Five-year follow-up of pooled phase 3 cohorts."},
		{ID: "lit-0002", Title: "Benefit-risk frameworks for accelerated approvals", Journal: "Regul Sci", Year: 2023, DOI: "10.1000/regsci.2023.0417", Abstract: "Survey of structured benefit-risk methods accepted by major agencies."},
	}
	for _, ref := range refs {
		if err := s.store.InsertLiteratureRef(ctx, ref); err != nil {
			return err
		}
		if s.search != nil {
			s.search.IndexLiterature(search.LiteratureRecord{ID: ref.ID, Title: ref.Title, Journal: ref.Journal, Year: ref.Year, Abstract: ref.Abstract})
		}
	}
	return nil
}

// --- sessions ---

// Login issues a session for a display name without a password. Kept for
// local development; production clients go through /api/auth.
func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.lookupRefresh(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.revokeRefresh(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.saveRefresh(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.revokeRefresh(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, perm rbac.Permission) bool {
	return rbac.Allowed(rbac.Normalize(role), perm)
}

// Refresh tokens live in Redis when a session store is attached, otherwise
// in Postgres.
func (s *Service) saveRefresh(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	if s.sessions != nil {
		return s.sessions.SaveRefreshSession(ctx, tokenHash, user, expiresAt)
	}
	return s.store.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (s *Service) lookupRefresh(ctx context.Context, tokenHash string) (store.User, error) {
	if s.sessions != nil {
		cached, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
		if err != nil {
			return store.User{}, err
		}
		// The cache carries the role at issue time; re-read the user so a
		// role change takes effect on the next rotation.
		return s.store.GetUserByID(ctx, cached.ID)
	}
	return s.store.LookupRefreshSession(ctx, tokenHash)
}

func (s *Service) revokeRefresh(ctx context.Context, tokenHash string) error {
	if s.sessions != nil {
		return s.sessions.RevokeRefreshSession(ctx, tokenHash)
	}
	return s.store.RevokeRefreshSession(ctx, tokenHash)
}

// SaveProviderToken caches a Google/Microsoft OAuth token for co-authoring.
func (s *Service) SaveProviderToken(ctx context.Context, sess Session, providerName, accessToken string, expiresAt time.Time) error {
	if s.sessions == nil {
		return domainError(http.StatusServiceUnavailable, "SESSIONS_UNAVAILABLE", "Provider token cache not configured", nil)
	}
	if providerName != "google" && providerName != "microsoft" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "provider must be google or microsoft", nil)
	}
	if strings.TrimSpace(accessToken) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "accessToken is required", nil)
	}
	err := s.sessions.SaveProviderToken(ctx, sess.UserID, session.ProviderToken{
		Provider:    providerName,
		AccessToken: accessToken,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	return nil
}

// --- documents ---

type CreateDocumentInput struct {
	Title            string          `json:"title"`
	DocumentType     string          `json:"documentType"`
	CTDSection       string          `json:"ctdSection"`
	Summary          string          `json:"summary"`
	Body             json.RawMessage `json:"body"`
	FolderID         string          `json:"folderId"`
	EnableBlockchain bool            `json:"enableBlockchain"`
}

type UpdateDocumentInput struct {
	Title            *string         `json:"title"`
	Status           *string         `json:"status"`
	CTDSection       *string         `json:"ctdSection"`
	Summary          *string         `json:"summary"`
	Body             json.RawMessage `json:"body"`
	EnableBlockchain bool            `json:"enableBlockchain"`
}

func (s *Service) Summary(ctx context.Context) (map[string]any, error) {
	all, inReview, approved, err := s.store.SummaryCounts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"documents": all,
		"inReview":  inReview,
		"approved":  approved,
	}, nil
}

func (s *Service) ListDocuments(ctx context.Context, folderID string) ([]map[string]any, error) {
	var (
		documents []store.Document
		err       error
	)
	if folderID != "" {
		documents, err = s.store.ListDocumentsByFolder(ctx, folderID)
	} else {
		documents, err = s.store.ListDocuments(ctx)
	}
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		items = append(items, documentPayload(doc))
	}
	return items, nil
}

func (s *Service) CreateDocument(ctx context.Context, input CreateDocumentInput, actor Session) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if input.FolderID != "" {
		if _, err := s.store.GetFolder(ctx, input.FolderID); err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "folderId does not exist", nil)
		}
	}

	doc := store.Document{
		ID:           util.NewID("doc"),
		Title:        title,
		DocumentType: strings.TrimSpace(input.DocumentType),
		Status:       "Draft",
		FolderID:     input.FolderID,
		Version:      1,
		UpdatedBy:    actor.UserName,
		UpdatedAt:    time.Now(),
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	content := docvault.Content{
		Title:        title,
		DocumentType: doc.DocumentType,
		CTDSection:   strings.TrimSpace(input.CTDSection),
		Summary:      strings.TrimSpace(input.Summary),
		Body:         input.Body,
	}
	if err := s.vault.EnsureDocumentRepo(doc.ID, content, actor.UserName); err != nil {
		return nil, err
	}

	s.indexDocument(doc, content.Summary)
	s.audit(ctx, "document_created", actor, doc.ID, "", map[string]any{"title": title})
	s.publish(doc.ID, "document_update", map[string]any{"documentId": doc.ID, "action": "created", "title": title})

	payload := documentPayload(doc)
	payload["content"] = content
	if input.EnableBlockchain {
		record, err := s.ledger.Record(ctx, doc.ID, content, actor.UserName)
		if err != nil {
			return nil, err
		}
		payload["blockchain"] = blockchainPayload(record)
	}
	return payload, nil
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	content, head, err := s.vault.GetHeadContent(documentID)
	if err != nil {
		return nil, err
	}

	payload := documentPayload(doc)
	payload["content"] = content
	payload["headCommit"] = commitPayload(head)

	latest, err := s.store.LatestVerification(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		payload["blockchain"] = blockchainPayload(*latest)
	}
	return payload, nil
}

func (s *Service) UpdateDocument(ctx context.Context, documentID string, input UpdateDocumentInput, actor Session) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	current, _, err := s.vault.GetHeadContent(documentID)
	if err != nil {
		return nil, err
	}

	next := current
	if input.Title != nil {
		trimmed := strings.TrimSpace(*input.Title)
		if trimmed == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title cannot be blank", nil)
		}
		next.Title = trimmed
		doc.Title = trimmed
	}
	if input.CTDSection != nil {
		next.CTDSection = strings.TrimSpace(*input.CTDSection)
	}
	if input.Summary != nil {
		next.Summary = strings.TrimSpace(*input.Summary)
	}
	if len(input.Body) > 0 {
		next.Body = input.Body
	}
	if input.Status != nil {
		if _, ok := allowedDocumentStatuses[*input.Status]; !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown document status", nil)
		}
		doc.Status = *input.Status
	}

	if docvault.HasChanges(current, next) {
		if _, err := s.vault.CommitContent(documentID, next, actor.UserName, "Update document"); err != nil {
			return nil, err
		}
		doc.Version++
	}
	doc.UpdatedBy = actor.UserName
	doc.UpdatedAt = time.Now()
	if err := s.store.UpdateDocumentState(ctx, documentID, doc.Title, doc.Status, doc.UpdatedBy, doc.Version); err != nil {
		return nil, err
	}

	s.indexDocument(doc, next.Summary)
	s.audit(ctx, "document_updated", actor, documentID, "", map[string]any{"version": doc.Version})
	s.publish(documentID, "document_update", map[string]any{"documentId": documentID, "action": "updated", "version": doc.Version})

	payload := documentPayload(doc)
	payload["content"] = next
	if input.EnableBlockchain {
		record, err := s.ledger.Record(ctx, documentID, next, actor.UserName)
		if err != nil {
			return nil, err
		}
		payload["blockchain"] = blockchainPayload(record)
	}
	return payload, nil
}

func (s *Service) DeleteDocument(ctx context.Context, documentID string, actor Session) error {
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteDocument(documentID)
	}
	s.audit(ctx, "document_deleted", actor, documentID, "", nil)
	s.publish(documentID, "document_update", map[string]any{"documentId": documentID, "action": "deleted"})
	return nil
}

func (s *Service) MoveDocument(ctx context.Context, documentID, folderID string, actor Session) (map[string]any, error) {
	if folderID != "" {
		if _, err := s.store.GetFolder(ctx, folderID); err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "folderId does not exist", nil)
		}
	}
	if err := s.store.MoveDocument(ctx, documentID, folderID); err != nil {
		return nil, err
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	s.indexDocument(doc, "")
	s.audit(ctx, "document_moved", actor, documentID, "", map[string]any{"folderId": folderID})
	return documentPayload(doc), nil
}

func (s *Service) History(ctx context.Context, documentID string, limit int) (map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	commits, err := s.vault.History(documentID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, commitPayload(commit))
	}
	return map[string]any{"documentId": documentID, "commits": items}, nil
}

func (s *Service) Compare(ctx context.Context, documentID, from, to string) (map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	fromContent, err := s.vault.GetContentByHash(documentID, from)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "from revision not found", nil)
	}
	toContent, err := s.vault.GetContentByHash(documentID, to)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "to revision not found", nil)
	}
	return map[string]any{
		"documentId": documentID,
		"from":       from,
		"to":         to,
		"changes":    docvault.DiffFields(fromContent, toContent),
	}, nil
}

func (s *Service) ExportDocument(ctx context.Context, req export.Request) (*export.Result, error) {
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export service not configured", nil)
	}
	return s.export.Export(ctx, req)
}

// --- folders ---

func (s *Service) ListFolders(ctx context.Context) ([]map[string]any, error) {
	folders, err := s.store.ListFolders(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(folders))
	for _, folder := range folders {
		items = append(items, map[string]any{
			"id":          folder.ID,
			"name":        folder.Name,
			"description": folder.Description,
			"createdBy":   folder.CreatedBy,
			"createdAt":   folder.CreatedAt,
		})
	}
	return items, nil
}

func (s *Service) CreateFolder(ctx context.Context, name, description string, actor Session) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	folder := store.Folder{
		ID:          util.NewID("fld"),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedBy:   actor.UserName,
	}
	if err := s.store.InsertFolder(ctx, folder); err != nil {
		return nil, err
	}
	s.audit(ctx, "folder_created", actor, "", "", map[string]any{"folderId": folder.ID, "name": name})
	return map[string]any{"id": folder.ID, "name": folder.Name, "description": folder.Description}, nil
}

// --- files ---

func (s *Service) UploadFile(ctx context.Context, documentID, filename, contentType string, reader io.Reader, size int64, actor Session) (map[string]any, error) {
	if s.blob == nil {
		return nil, domainError(http.StatusServiceUnavailable, "FILES_UNAVAILABLE", "Object storage not configured", nil)
	}
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "filename is required", nil)
	}

	fileID := util.NewID("file")
	key, err := s.blob.Put(ctx, documentID, fileID, filename, contentType, reader, size)
	if err != nil {
		return nil, err
	}
	file := store.DocumentFile{
		ID:          fileID,
		DocumentID:  documentID,
		Name:        filename,
		ObjectKey:   key,
		Size:        size,
		ContentType: contentType,
		UploadedBy:  actor.UserName,
	}
	if err := s.store.InsertDocumentFile(ctx, file); err != nil {
		// Best effort: do not leave an orphaned object behind.
		_ = s.blob.Delete(ctx, key)
		return nil, err
	}
	s.audit(ctx, "file_uploaded", actor, documentID, "", map[string]any{"fileId": fileID, "name": filename})
	return filePayload(file), nil
}

func (s *Service) ListFiles(ctx context.Context, documentID string) ([]map[string]any, error) {
	files, err := s.store.ListDocumentFiles(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(files))
	for _, file := range files {
		items = append(items, filePayload(file))
	}
	return items, nil
}

func (s *Service) FileDownloadURL(ctx context.Context, documentID, fileID string) (map[string]any, error) {
	if s.blob == nil {
		return nil, domainError(http.StatusServiceUnavailable, "FILES_UNAVAILABLE", "Object storage not configured", nil)
	}
	file, err := s.store.GetDocumentFile(ctx, documentID, fileID)
	if err != nil {
		return nil, err
	}
	url, err := s.blob.PresignedDownload(ctx, file.ObjectKey, file.Name, 15*time.Minute)
	if err != nil {
		return nil, err
	}
	return map[string]any{"fileId": file.ID, "name": file.Name, "url": url}, nil
}

// --- comments ---

func (s *Service) AddComment(ctx context.Context, documentID, body string, actor Session) (map[string]any, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	comment := store.Comment{
		ID:         util.NewID("cmt"),
		DocumentID: documentID,
		Author:     actor.UserName,
		Body:       body,
		CreatedAt:  time.Now(),
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return nil, err
	}
	s.publish(documentID, "comment_added", map[string]any{
		"documentId": documentID,
		"commentId":  comment.ID,
		"author":     comment.Author,
	})
	return commentPayload(comment), nil
}

func (s *Service) ListComments(ctx context.Context, documentID string) ([]map[string]any, error) {
	comments, err := s.store.ListComments(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(comments))
	for _, comment := range comments {
		items = append(items, commentPayload(comment))
	}
	return items, nil
}

// --- verification ledger ---

func (s *Service) VerifyDocument(ctx context.Context, documentID string, actor Session) (map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	content, _, err := s.vault.GetHeadContent(documentID)
	if err != nil {
		return nil, err
	}
	record, err := s.ledger.Record(ctx, documentID, content, actor.UserName)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, "document_verified", actor, documentID, "", map[string]any{
		"hash":        record.Hash,
		"blockNumber": record.BlockNumber,
	})
	s.publish(documentID, "document_update", map[string]any{"documentId": documentID, "action": "verified"})
	return blockchainPayload(record), nil
}

func (s *Service) VerificationStatus(ctx context.Context, documentID string) (map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	content, _, err := s.vault.GetHeadContent(documentID)
	if err != nil {
		return nil, err
	}
	status, err := s.ledger.Status(ctx, documentID, content)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"documentId":  documentID,
		"verified":    status.Verified,
		"currentHash": status.CurrentHash,
	}
	if status.Record != nil {
		payload["record"] = blockchainPayload(*status.Record)
	}
	return payload, nil
}

func (s *Service) VerificationHistory(ctx context.Context, documentID string) (map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	records, err := s.ledger.History(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(records))
	for _, record := range records {
		items = append(items, blockchainPayload(record))
	}
	return map[string]any{"documentId": documentID, "records": items}, nil
}

func (s *Service) LedgerAudit(ctx context.Context, limit int) (ledger.AuditReport, error) {
	report, err := s.ledger.Audit(ctx, limit)
	if err != nil {
		return ledger.AuditReport{}, err
	}
	if !report.Intact {
		s.notifyLedgerBreach(report)
	}
	return report, nil
}

// --- workflows ---

type WorkflowStepInput struct {
	Role       string `json:"role"`
	OrderIndex int    `json:"orderIndex"`
}

func (s *Service) CreateWorkflow(ctx context.Context, documentID, workflowType string, steps []WorkflowStepInput, actor Session) (map[string]any, error) {
	if _, ok := allowedWorkflowTypes[workflowType]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be sequential, parallel, hybrid, or collaborative", nil)
	}
	if len(steps) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "at least one step is required", nil)
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if active, err := s.store.GetActiveWorkflow(ctx, documentID); err != nil {
		return nil, err
	} else if active != nil {
		return nil, domainError(http.StatusConflict, "WORKFLOW_ACTIVE", "Document already has an active workflow", map[string]any{"workflowId": active.ID})
	}

	workflow := store.Workflow{
		ID:         util.NewID("wf"),
		DocumentID: documentID,
		Type:       workflowType,
		State:      "pending",
		CreatedBy:  actor.UserName,
	}
	if err := s.store.InsertWorkflow(ctx, workflow); err != nil {
		return nil, err
	}
	for i, stepInput := range steps {
		role := string(rbac.Normalize(stepInput.Role))
		orderIndex := stepInput.OrderIndex
		if orderIndex == 0 {
			orderIndex = i + 1
		}
		step := store.WorkflowStep{
			ID:         util.NewID("step"),
			WorkflowID: workflow.ID,
			Role:       role,
			OrderIndex: orderIndex,
			Status:     "pending",
		}
		if err := s.store.InsertWorkflowStep(ctx, step); err != nil {
			return nil, err
		}
	}

	doc.Status = "In review"
	if err := s.store.UpdateDocumentState(ctx, documentID, doc.Title, doc.Status, actor.UserName, doc.Version); err != nil {
		return nil, err
	}
	s.indexDocument(doc, "")
	s.audit(ctx, "workflow_created", actor, documentID, workflow.ID, map[string]any{"type": workflowType, "steps": len(steps)})
	s.publish(documentID, "workflow_update", map[string]any{"documentId": documentID, "workflowId": workflow.ID, "state": "pending"})

	inserted, err := s.store.ListWorkflowSteps(ctx, workflow.ID)
	if err != nil {
		return nil, err
	}
	s.notifyPendingApprovers(ctx, workflow, doc, inserted)
	return workflowPayload(workflow, inserted), nil
}

func (s *Service) GetWorkflow(ctx context.Context, workflowID string) (map[string]any, error) {
	workflow, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	steps, err := s.store.ListWorkflowSteps(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return workflowPayload(workflow, steps), nil
}

// DecideStep approves or rejects a single workflow step. Sequential and
// hybrid workflows enforce step order: approving while an earlier step is
// still pending returns APPROVAL_ORDER_BLOCKED.
func (s *Service) DecideStep(ctx context.Context, workflowID, stepID string, approve bool, rationale string, actor Session) (map[string]any, error) {
	workflow, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if workflow.State != "pending" && workflow.State != "in_progress" {
		return nil, domainError(http.StatusConflict, "WORKFLOW_CLOSED", "Workflow is no longer active", map[string]any{"state": workflow.State})
	}
	steps, err := s.store.ListWorkflowSteps(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	var target *store.WorkflowStep
	for i := range steps {
		if steps[i].ID == stepID {
			target = &steps[i]
			break
		}
	}
	if target == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Step not found", nil)
	}
	if !s.Can(actor.Role, rbac.PermWorkflowsApprove) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	rationale = strings.TrimSpace(rationale)
	if !approve && rationale == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "rationale is required to reject", nil)
	}

	if approve && (workflow.Type == "sequential" || workflow.Type == "hybrid") {
		blocking := blockingSteps(steps, *target)
		if len(blocking) > 0 {
			return nil, domainError(http.StatusConflict, "APPROVAL_ORDER_BLOCKED", "Earlier steps must be decided first", map[string]any{"blockedBy": blocking})
		}
	}

	status := "approved"
	if !approve {
		status = "rejected"
	}
	decided, err := s.store.DecideWorkflowStep(ctx, stepID, status, actor.UserName, rationale)
	if err != nil {
		return nil, err
	}
	if !decided {
		return nil, domainError(http.StatusConflict, "STEP_ALREADY_DECIDED", "Step was already decided", nil)
	}

	doc, err := s.store.GetDocument(ctx, workflow.DocumentID)
	if err != nil {
		return nil, err
	}

	if !approve {
		if err := s.store.UpdateWorkflowState(ctx, workflowID, "rejected"); err != nil {
			return nil, err
		}
		workflow.State = "rejected"
		doc.Status = "Changes requested"
		if err := s.store.UpdateDocumentState(ctx, doc.ID, doc.Title, doc.Status, actor.UserName, doc.Version); err != nil {
			return nil, err
		}
		s.indexDocument(doc, "")
		s.audit(ctx, "workflow_rejected", actor, doc.ID, workflowID, map[string]any{"stepId": stepID, "rationale": rationale})
		s.publish(doc.ID, "workflow_update", map[string]any{"documentId": doc.ID, "workflowId": workflowID, "state": "rejected"})
	} else {
		steps, err = s.store.ListWorkflowSteps(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		if allApproved(steps) {
			if err := s.finalizeApproval(ctx, &workflow, &doc, actor); err != nil {
				return nil, err
			}
		} else {
			if workflow.State == "pending" {
				if err := s.store.UpdateWorkflowState(ctx, workflowID, "in_progress"); err != nil {
					return nil, err
				}
				workflow.State = "in_progress"
			}
			s.audit(ctx, "workflow_step_approved", actor, doc.ID, workflowID, map[string]any{"stepId": stepID})
			s.publish(doc.ID, "workflow_update", map[string]any{"documentId": doc.ID, "workflowId": workflowID, "state": workflow.State})
			s.notifyPendingApprovers(ctx, workflow, doc, steps)
		}
	}

	steps, err = s.store.ListWorkflowSteps(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return workflowPayload(workflow, steps), nil
}

func (s *Service) finalizeApproval(ctx context.Context, workflow *store.Workflow, doc *store.Document, actor Session) error {
	if err := s.store.UpdateWorkflowState(ctx, workflow.ID, "approved"); err != nil {
		return err
	}
	workflow.State = "approved"

	doc.Status = "Approved"
	doc.Version++
	if err := s.store.UpdateDocumentState(ctx, doc.ID, doc.Title, doc.Status, actor.UserName, doc.Version); err != nil {
		return err
	}

	content, _, err := s.vault.GetHeadContent(doc.ID)
	if err != nil {
		return err
	}
	if err := s.vault.TagVersion(doc.ID, "main", fmt.Sprintf("v%d-approved", doc.Version)); err != nil {
		return err
	}
	if _, err := s.ledger.Record(ctx, doc.ID, content, actor.UserName); err != nil {
		return err
	}

	s.indexDocument(*doc, content.Summary)
	s.audit(ctx, "workflow_approved", actor, doc.ID, workflow.ID, map[string]any{"version": doc.Version})
	s.publish(doc.ID, "workflow_update", map[string]any{"documentId": doc.ID, "workflowId": workflow.ID, "state": "approved"})
	return nil
}

// blockingSteps returns pending or rejected steps that must be decided
// before target, in order.
func blockingSteps(steps []store.WorkflowStep, target store.WorkflowStep) []map[string]any {
	blocked := make([]map[string]any, 0)
	for _, step := range steps {
		if step.OrderIndex < target.OrderIndex && step.Status != "approved" {
			blocked = append(blocked, map[string]any{
				"stepId":     step.ID,
				"role":       step.Role,
				"orderIndex": step.OrderIndex,
				"status":     step.Status,
			})
		}
	}
	sort.SliceStable(blocked, func(i, j int) bool {
		return blocked[i]["orderIndex"].(int) < blocked[j]["orderIndex"].(int)
	})
	return blocked
}

func allApproved(steps []store.WorkflowStep) bool {
	for _, step := range steps {
		if step.Status != "approved" {
			return false
		}
	}
	return len(steps) > 0
}

// notifyPendingApprovers emails the roles whose steps are currently
// actionable. Skipped when SMTP is not configured.
func (s *Service) notifyPendingApprovers(ctx context.Context, workflow store.Workflow, doc store.Document, steps []store.WorkflowStep) {
	if !s.SMTPConfigured() {
		return
	}
	roles := actionableRoles(workflow.Type, steps)
	documentURL := fmt.Sprintf("%s/documents/%s", strings.TrimRight(s.cfg.CORSOrigin, "/"), doc.ID)
	for _, role := range roles {
		emails, err := s.store.ListUserEmailsByRole(ctx, role)
		if err != nil {
			log.Printf("notify approvers: list %s users: %v", role, err)
			continue
		}
		for _, to := range emails {
			if err := s.email.SendApprovalRequestEmail(to, "Reviewer", doc.Title, role, documentURL); err != nil {
				log.Printf("notify approvers: send to %s: %v", to, err)
			}
		}
	}
}

func actionableRoles(workflowType string, steps []store.WorkflowStep) []string {
	seen := map[string]struct{}{}
	var roles []string
	add := func(role string) {
		if _, ok := seen[role]; !ok {
			seen[role] = struct{}{}
			roles = append(roles, role)
		}
	}

	if workflowType == "parallel" || workflowType == "collaborative" {
		for _, step := range steps {
			if step.Status == "pending" {
				add(step.Role)
			}
		}
		return roles
	}

	// Sequential and hybrid: only the lowest pending order index is
	// actionable.
	minPending := -1
	for _, step := range steps {
		if step.Status == "pending" && (minPending == -1 || step.OrderIndex < minPending) {
			minPending = step.OrderIndex
		}
	}
	for _, step := range steps {
		if step.Status == "pending" && step.OrderIndex == minPending {
			add(step.Role)
		}
	}
	return roles
}

func (s *Service) notifyLedgerBreach(report ledger.AuditReport) {
	if !s.SMTPConfigured() {
		return
	}
	admins, err := s.store.ListUserEmailsByRole(context.Background(), string(rbac.RoleAdmin))
	if err != nil || len(admins) == 0 {
		return
	}
	body := fmt.Sprintf("Ledger audit found %d issue(s) across %d records. First: block %d: %s",
		len(report.Issues), report.Records, report.Issues[0].BlockNumber, report.Issues[0].Problem)
	if err := s.email.SendEmail(admins, "TrialSage ledger audit failed", body); err != nil {
		log.Printf("ledger breach notification: %v", err)
	}
}

// --- AI drafting ---

func (s *Service) GenerateDraft(ctx context.Context, documentType, prompt string) (assistant.Draft, error) {
	if s.assistant == nil {
		return assistant.Draft{}, domainError(http.StatusServiceUnavailable, "AI_UNAVAILABLE", "AI providers not configured", nil)
	}
	draft, err := s.assistant.GenerateDraft(ctx, assistant.DraftRequest{
		DocumentType: documentType,
		Prompt:       prompt,
	})
	if err != nil {
		if errors.Is(err, assistant.ErrAllProvidersFailed) {
			return assistant.Draft{}, domainError(http.StatusBadGateway, "PROVIDERS_UNAVAILABLE", "All AI providers failed", nil)
		}
		return assistant.Draft{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	return draft, nil
}

// --- co-authoring ---

func (s *Service) OpenCoauthorSession(ctx context.Context, documentID, providerName string, actor Session) (coauthor.EditSession, error) {
	if s.coauthor == nil {
		return coauthor.EditSession{}, domainError(http.StatusServiceUnavailable, "COAUTHOR_UNAVAILABLE", "Co-authoring providers not configured", nil)
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return coauthor.EditSession{}, err
	}
	editSession, err := s.coauthor.OpenEditSession(ctx, actor.UserID, providerName, documentID, doc.Title)
	if err != nil {
		switch {
		case errors.Is(err, coauthor.ErrUnknownProvider):
			return coauthor.EditSession{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "provider must be google or microsoft", nil)
		case errors.Is(err, coauthor.ErrNoCredential):
			return coauthor.EditSession{}, domainError(http.StatusUnauthorized, "PROVIDER_AUTH_REQUIRED", "Connect your "+providerName+" account first", nil)
		}
		return coauthor.EditSession{}, err
	}
	s.audit(ctx, "coauthor_session_opened", actor, documentID, "", map[string]any{"provider": providerName})
	return editSession, nil
}

// --- search & literature ---

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search not configured", nil)
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	return s.search.Search(q), nil
}

func (s *Service) ListLiterature(ctx context.Context, limit int) ([]map[string]any, error) {
	refs, err := s.store.ListLiteratureRefs(ctx, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(refs))
	for _, ref := range refs {
		items = append(items, map[string]any{
			"id":       ref.ID,
			"title":    ref.Title,
			"journal":  ref.Journal,
			"year":     ref.Year,
			"doi":      ref.DOI,
			"abstract": ref.Abstract,
		})
	}
	return items, nil
}

type LiteratureInput struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Journal  string `json:"journal"`
	Year     int    `json:"year"`
	DOI      string `json:"doi"`
	Abstract string `json:"abstract"`
}

func (s *Service) AddLiteratureRef(ctx context.Context, input LiteratureInput, actor Session) (map[string]any, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if input.ID == "" {
		input.ID = util.NewID("lit")
	}
	ref := store.LiteratureRef{
		ID:       input.ID,
		Title:    strings.TrimSpace(input.Title),
		Journal:  strings.TrimSpace(input.Journal),
		Year:     input.Year,
		DOI:      strings.TrimSpace(input.DOI),
		Abstract: strings.TrimSpace(input.Abstract),
	}
	if err := s.store.InsertLiteratureRef(ctx, ref); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexLiterature(search.LiteratureRecord{
			ID: ref.ID, Title: ref.Title, Journal: ref.Journal, Year: ref.Year, Abstract: ref.Abstract,
		})
	}
	s.audit(ctx, "literature_added", actor, "", "", map[string]any{"refId": ref.ID})
	return map[string]any{"id": ref.ID, "title": ref.Title}, nil
}

// --- audit trail ---

func (s *Service) AuditEvents(ctx context.Context, documentID string, limit int) ([]map[string]any, error) {
	events, err := s.store.ListAuditEvents(ctx, documentID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(events))
	for _, event := range events {
		item := map[string]any{
			"id":        event.ID,
			"type":      event.EventType,
			"actor":     event.ActorName,
			"createdAt": event.CreatedAt,
		}
		if event.DocumentID != "" {
			item["documentId"] = event.DocumentID
		}
		if event.WorkflowID != "" {
			item["workflowId"] = event.WorkflowID
		}
		if event.Payload != nil {
			item["payload"] = event.Payload
		}
		items = append(items, item)
	}
	return items, nil
}

// --- internal helpers ---

func (s *Service) audit(ctx context.Context, eventType string, actor Session, documentID, workflowID string, payload map[string]any) {
	err := s.store.InsertAuditEvent(ctx, store.AuditEvent{
		EventType:  eventType,
		ActorName:  actor.UserName,
		DocumentID: documentID,
		WorkflowID: workflowID,
		Payload:    payload,
	})
	if err != nil {
		log.Printf("audit %s: %v", eventType, err)
	}
}

func (s *Service) publish(documentID, eventType string, data any) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(documentID, eventType, data)
}

func (s *Service) indexDocument(doc store.Document, summary string) {
	if s.search == nil {
		return
	}
	s.search.IndexDocument(search.DocumentRecord{
		ID:           doc.ID,
		Title:        doc.Title,
		DocumentType: doc.DocumentType,
		Summary:      summary,
		FolderID:     doc.FolderID,
		Status:       doc.Status,
	})
}

func documentPayload(doc store.Document) map[string]any {
	payload := map[string]any{
		"id":           doc.ID,
		"title":        doc.Title,
		"documentType": doc.DocumentType,
		"status":       doc.Status,
		"version":      doc.Version,
		"updatedBy":    doc.UpdatedBy,
		"updatedAt":    doc.UpdatedAt,
	}
	if doc.FolderID != "" {
		payload["folderId"] = doc.FolderID
	}
	return payload
}

func commitPayload(commit store.CommitInfo) map[string]any {
	return map[string]any{
		"hash":      commit.Hash,
		"message":   strings.TrimSpace(commit.Message),
		"author":    commit.Author,
		"createdAt": commit.CreatedAt,
	}
}

func blockchainPayload(record store.VerificationRecord) map[string]any {
	return map[string]any{
		"documentId":    record.DocumentID,
		"hash":          record.Hash,
		"transactionId": record.TransactionID,
		"prevHash":      record.PrevHash,
		"blockNumber":   record.BlockNumber,
		"verifiedBy":    record.VerifiedBy,
		"timestamp":     record.CreatedAt,
	}
}

func commentPayload(comment store.Comment) map[string]any {
	return map[string]any{
		"id":         comment.ID,
		"documentId": comment.DocumentID,
		"author":     comment.Author,
		"body":       comment.Body,
		"createdAt":  comment.CreatedAt,
	}
}

func filePayload(file store.DocumentFile) map[string]any {
	return map[string]any{
		"id":          file.ID,
		"documentId":  file.DocumentID,
		"name":        file.Name,
		"size":        file.Size,
		"contentType": file.ContentType,
		"uploadedBy":  file.UploadedBy,
		"createdAt":   file.CreatedAt,
	}
}

func workflowPayload(workflow store.Workflow, steps []store.WorkflowStep) map[string]any {
	stepItems := make([]map[string]any, 0, len(steps))
	for _, step := range steps {
		item := map[string]any{
			"id":         step.ID,
			"role":       step.Role,
			"orderIndex": step.OrderIndex,
			"status":     step.Status,
		}
		if step.DecidedBy != "" {
			item["decidedBy"] = step.DecidedBy
		}
		if step.Rationale != "" {
			item["rationale"] = step.Rationale
		}
		if step.DecidedAt != nil {
			item["decidedAt"] = *step.DecidedAt
		}
		stepItems = append(stepItems, item)
	}
	return map[string]any{
		"workflowId": workflow.ID,
		"documentId": workflow.DocumentID,
		"type":       workflow.Type,
		"state":      workflow.State,
		"createdBy":  workflow.CreatedBy,
		"steps":      stepItems,
	}
}
