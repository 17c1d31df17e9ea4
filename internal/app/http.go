package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trialsage/api/internal/auth"
	"trialsage/api/internal/authpw"
	"trialsage/api/internal/export"
	"trialsage/api/internal/rbac"
	"trialsage/api/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) forbid(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/verify-email" {
		s.handleAuthVerifyEmail(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password/request" {
		s.handleAuthRequestReset(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password" {
		s.handleAuthResetPassword(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID, "role": session.Role})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Login failed", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.RefreshToken == "" {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "refreshToken is required", nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "INVALID_REFRESH", "Refresh token is invalid or expired", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/provider-token" {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		var body struct {
			Provider    string `json:"provider"`
			AccessToken string `json:"accessToken"`
			ExpiresAt   int64  `json:"expiresAt"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		expiresAt := time.Now().Add(time.Hour)
		if body.ExpiresAt > 0 {
			expiresAt = time.Unix(body.ExpiresAt, 0)
		}
		if err := s.service.SaveProviderToken(r.Context(), session, body.Provider, body.AccessToken, expiresAt); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "provider": body.Provider})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	switch parts[1] {
	case "summary":
		if r.Method == http.MethodGet && len(parts) == 2 {
			if !s.service.Can(session.Role, rbac.PermDocumentsRead) {
				s.forbid(w)
				return
			}
			payload, err := s.service.Summary(r.Context())
			s.respond(w, payload, err)
			return
		}
	case "search":
		if r.Method == http.MethodGet && len(parts) == 2 {
			if !s.service.Can(session.Role, rbac.PermDocumentsRead) {
				s.forbid(w)
				return
			}
			q := search.Query{
				Text:           r.URL.Query().Get("q"),
				FilterType:     search.ResultType(r.URL.Query().Get("type")),
				FilterFolderID: r.URL.Query().Get("folderId"),
				Limit:          queryInt(r, "limit", 20),
				Offset:         queryInt(r, "offset", 0),
			}
			response, err := s.service.Search(r.Context(), q)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, response)
			return
		}
	case "literature":
		if len(parts) == 2 {
			switch r.Method {
			case http.MethodGet:
				if !s.service.Can(session.Role, rbac.PermDocumentsRead) {
					s.forbid(w)
					return
				}
				items, err := s.service.ListLiterature(r.Context(), queryInt(r, "limit", 50))
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"references": items})
				return
			case http.MethodPost:
				if !s.service.Can(session.Role, rbac.PermDocumentsWrite) {
					s.forbid(w)
					return
				}
				var body LiteratureInput
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				payload, err := s.service.AddLiteratureRef(r.Context(), body, session)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusCreated, payload)
				return
			}
		}
	case "ledger":
		if r.Method == http.MethodGet && len(parts) == 3 && parts[2] == "audit" {
			if !s.service.Can(session.Role, rbac.PermAdminManage) {
				s.forbid(w)
				return
			}
			report, err := s.service.LedgerAudit(r.Context(), queryInt(r, "limit", 0))
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, report)
			return
		}
	case "ai":
		if r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "draft" {
			if !s.service.Can(session.Role, rbac.PermAIGenerate) {
				s.forbid(w)
				return
			}
			var body struct {
				DocumentType string `json:"documentType"`
				Prompt       string `json:"prompt"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if strings.TrimSpace(body.Prompt) == "" {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "prompt is required", nil)
				return
			}
			draft, err := s.service.GenerateDraft(r.Context(), body.DocumentType, body.Prompt)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, draft)
			return
		}
	case "workflows":
		s.handleWorkflows(w, r, session, parts[2:])
		return
	case "vault":
		s.handleVault(w, r, session, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleWorkflows serves /api/workflows/:id and step decisions.
func (s *HTTPServer) handleWorkflows(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 1 && r.Method == http.MethodGet {
		if !s.service.Can(session.Role, rbac.PermDocumentsRead) {
			s.forbid(w)
			return
		}
		payload, err := s.service.GetWorkflow(r.Context(), parts[0])
		s.respond(w, payload, err)
		return
	}

	if len(parts) == 4 && parts[1] == "steps" && r.Method == http.MethodPost {
		action := parts[3]
		if action != "approve" && action != "reject" {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		if !s.service.Can(session.Role, rbac.PermWorkflowsApprove) {
			s.forbid(w)
			return
		}
		var body struct {
			Rationale string `json:"rationale"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.DecideStep(r.Context(), parts[0], parts[2], action == "approve", body.Rationale, session)
		s.respond(w, payload, err)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleVault serves everything under /api/vault/.
func (s *HTTPServer) handleVault(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[0] {
	case "folders":
		s.handleFolders(w, r, session, parts[1:])
		return
	case "documents":
		s.handleDocuments(w, r, session, parts[1:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleFolders(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			if !s.service.Can(session.Role, rbac.PermDocumentsRead) {
				s.forbid(w)
				return
			}
			items, err := s.service.ListFolders(r.Context())
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"folders": items})
			return
		case http.MethodPost:
			if !s.service.Can(session.Role, rbac.PermDocumentsWrite) {
				s.forbid(w)
				return
			}
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateFolder(r.Context(), body.Name, body.Description, session)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		}
	}

	if len(parts) == 2 && parts[1] == "documents" && r.Method == http.MethodGet {
		if !s.service.Can(session.Role, rbac.PermDocumentsRead) {
			s.forbid(w)
			return
		}
		items, err := s.service.ListDocuments(r.Context(), parts[0])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": items})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			if !s.service.Can(session.Role, rbac.PermDocumentsRead) {
				s.forbid(w)
				return
			}
			items, err := s.service.ListDocuments(r.Context(), r.URL.Query().Get("folderId"))
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"documents": items})
			return
		case http.MethodPost:
			if !s.service.Can(session.Role, rbac.PermDocumentsWrite) {
				s.forbid(w)
				return
			}
			var body CreateDocumentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateDocument(r.Context(), body, session)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	documentID := parts[0]
	rest := parts[1:]

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			if !s.service.Can(session.Role, rbac.PermDocumentsRead) {
				s.forbid(w)
				return
			}
			payload, err := s.service.GetDocument(r.Context(), documentID)
			s.respond(w, payload, err)
			return
		case http.MethodPatch:
			if !s.service.Can(session.Role, rbac.PermDocumentsWrite) {
				s.forbid(w)
				return
			}
			var body UpdateDocumentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateDocument(r.Context(), documentID, body, session)
			s.respond(w, payload, err)
			return
		case http.MethodDelete:
			if !s.service.Can(session.Role, rbac.PermDocumentsDelete) {
				s.forbid(w)
				return
			}
			if err := s.service.DeleteDocument(r.Context(), documentID, session); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch rest[0] {
	case "move":
		if r.Method == http.MethodPost && len(rest) == 1 {
			if !s.service.Can(session.Role, rbac.PermDocumentsWrite) {
				s.forbid(w)
				return
			}
			var body struct {
				FolderID string `json:"folderId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.MoveDocument(r.Context(), documentID, body.FolderID, session)
			s.respond(w, payload, err)
			return
		}
	case "history":
		if r.Method == http.MethodGet && len(rest) == 1 {
			if !s.service.Can(session.Role, rbac.PermDocumentsRead) {
				s.forbid(w)
				return
			}
			payload, err := s.service.History(r.Context(), documentID, queryInt(r, "limit", 50))
			s.respond(w, payload, err)
			return
		}
	case "compare":
		if r.Method == http.MethodGet && len(rest) == 1 {
			if !s.service.Can(session.Role, rbac.PermDocumentsRead) {
				s.forbid(w)
				return
			}
			from := r.URL.Query().Get("from")
			to := r.URL.Query().Get("to")
			if from == "" || to == "" {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "from and to revisions are required", nil)
				return
			}
			payload, err := s.service.Compare(r.Context(), documentID, from, to)
			s.respond(w, payload, err)
			return
		}
	case "export":
		if r.Method == http.MethodGet && len(rest) == 1 {
			if !s.service.Can(session.Role, rbac.PermDocumentsExport) {
				s.forbid(w)
				return
			}
			format := export.Format(r.URL.Query().Get("format"))
			if format == "" {
				format = export.FormatPDF
			}
			result, err := s.service.ExportDocument(r.Context(), export.Request{
				DocumentID:          documentID,
				Version:             r.URL.Query().Get("version"),
				Format:              format,
				IncludeComments:     r.URL.Query().Get("includeComments") == "true",
				IncludeVerification: r.URL.Query().Get("includeVerification") == "true",
			})
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
			w.Header().Set("Content-Type", result.MimeType)
			w.Write(result.Data)
			return
		}
	case "files":
		s.handleFiles(w, r, session, documentID, rest[1:])
		return
	case "comments":
		if len(rest) == 1 {
			switch r.Method {
			case http.MethodGet:
				if !s.service.Can(session.Role, rbac.PermDocumentsRead) {
					s.forbid(w)
					return
				}
				items, err := s.service.ListComments(r.Context(), documentID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"comments": items})
				return
			case http.MethodPost:
				if !s.service.Can(session.Role, rbac.PermCommentsWrite) {
					s.forbid(w)
					return
				}
				var body struct {
					Body string `json:"body"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				payload, err := s.service.AddComment(r.Context(), documentID, body.Body, session)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusCreated, payload)
				return
			}
		}
	case "verify":
		if r.Method == http.MethodPost && len(rest) == 1 {
			if !s.service.Can(session.Role, rbac.PermDocumentsVerify) {
				s.forbid(w)
				return
			}
			payload, err := s.service.VerifyDocument(r.Context(), documentID, session)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		}
	case "verification":
		if r.Method == http.MethodGet && len(rest) == 1 {
			if !s.service.Can(session.Role, rbac.PermDocumentsRead) {
				s.forbid(w)
				return
			}
			payload, err := s.service.VerificationStatus(r.Context(), documentID)
			s.respond(w, payload, err)
			return
		}
	case "verifications":
		if r.Method == http.MethodGet && len(rest) == 1 {
			if !s.service.Can(session.Role, rbac.PermDocumentsRead) {
				s.forbid(w)
				return
			}
			payload, err := s.service.VerificationHistory(r.Context(), documentID)
			s.respond(w, payload, err)
			return
		}
	case "audit-events":
		if r.Method == http.MethodGet && len(rest) == 1 {
			if !s.service.Can(session.Role, rbac.PermDocumentsRead) {
				s.forbid(w)
				return
			}
			items, err := s.service.AuditEvents(r.Context(), documentID, queryInt(r, "limit", 100))
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"events": items})
			return
		}
	case "collaboration":
		s.handleCollaboration(w, r, session, documentID, rest[1:])
		return
	case "coauthor":
		if r.Method == http.MethodPost && len(rest) == 1 {
			if !s.service.Can(session.Role, rbac.PermDocumentsWrite) {
				s.forbid(w)
				return
			}
			var body struct {
				Provider string `json:"provider"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			editSession, err := s.service.OpenCoauthorSession(r.Context(), documentID, body.Provider, session)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, editSession)
			return
		}
	case "workflows":
		if r.Method == http.MethodPost && len(rest) == 1 {
			if !s.service.Can(session.Role, rbac.PermWorkflowsManage) {
				s.forbid(w)
				return
			}
			var body struct {
				Type  string              `json:"type"`
				Steps []WorkflowStepInput `json:"steps"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateWorkflow(r.Context(), documentID, body.Type, body.Steps, session)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleFiles(w http.ResponseWriter, r *http.Request, session Session, documentID string, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			if !s.service.Can(session.Role, rbac.PermDocumentsRead) {
				s.forbid(w)
				return
			}
			items, err := s.service.ListFiles(r.Context(), documentID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"files": items})
			return
		case http.MethodPost:
			if !s.service.Can(session.Role, rbac.PermDocumentsWrite) {
				s.forbid(w)
				return
			}
			if err := r.ParseMultipartForm(64 << 20); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart form required", nil)
				return
			}
			file, header, err := r.FormFile("file")
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", "file field is required", nil)
				return
			}
			defer file.Close()
			contentType := header.Header.Get("Content-Type")
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			payload, err := s.service.UploadFile(r.Context(), documentID, header.Filename, contentType, file, header.Size, session)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
			return
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodGet {
		if !s.service.Can(session.Role, rbac.PermDocumentsRead) {
			s.forbid(w)
			return
		}
		payload, err := s.service.FileDownloadURL(r.Context(), documentID, parts[0])
		s.respond(w, payload, err)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleCollaboration(w http.ResponseWriter, r *http.Request, session Session, documentID string, parts []string) {
	if len(parts) == 0 && r.Method == http.MethodGet {
		if !s.service.Can(session.Role, rbac.PermDocumentsRead) {
			s.forbid(w)
			return
		}
		payload, active := s.service.CollaborationStatus(documentID)
		if !active {
			writeJSON(w, http.StatusOK, map[string]any{"documentId": documentID, "active": false})
			return
		}
		payload["active"] = true
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodPost {
		if !s.service.Can(session.Role, rbac.PermDocumentsWrite) {
			s.forbid(w)
			return
		}
		switch parts[0] {
		case "start":
			payload, err := s.service.StartCollaboration(r.Context(), documentID, session)
			s.respond(w, payload, err)
			return
		case "join":
			payload, err := s.service.JoinCollaboration(r.Context(), documentID, session)
			s.respond(w, payload, err)
			return
		case "leave":
			payload, err := s.service.LeaveCollaboration(r.Context(), documentID, session)
			s.respond(w, payload, err)
			return
		case "end":
			if err := s.service.EndCollaboration(r.Context(), documentID, session); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// respond writes payload or a mapped error.
func (s *HTTPServer) respond(w http.ResponseWriter, payload any, err error) {
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, export.ErrContentUnavailable) {
		return http.StatusNotFound, "NOT_FOUND", "Document content not found", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return http.StatusServiceUnavailable, "EXPORT_DEPENDENCY_MISSING", err.Error(), nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// Auth handlers for email/password authentication

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
		Role        string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	resp, err := authSvc.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
		Role:        body.Role,
	})
	if err != nil {
		if err.Error() == "email already registered" {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		return
	}

	emailConfigured := s.service.SMTPConfigured()

	response := map[string]any{
		"userId":  resp.UserID,
		"message": "Please check your email to verify your account",
	}
	if emailConfigured {
		verifyURL := fmt.Sprintf("%s/verify-email?token=%s", strings.TrimRight(s.corsOrigin, "/"), resp.VerificationToken)
		if err := s.service.email.SendVerificationEmail(body.Email, body.DisplayName, verifyURL); err != nil {
			log.Printf("send verification email: %v", err)
		}
	} else {
		// Dev bypass: include verification token in response when email not configured
		response["devVerificationToken"] = resp.VerificationToken
		response["message"] = "Account created. Verify your email to continue."
	}

	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	resp, err := authSvc.SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}

	if resp.RequiresVerify {
		writeError(w, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
		return
	}

	session, err := s.service.CreateSession(r.Context(), resp.User.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_FAILED", "Failed to create session", nil)
		return
	}

	payload := sessionPayload(session)
	payload["expiresAt"] = session.ExpiresAt.Unix()
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.VerifyEmail(r.Context(), body.Token); err != nil {
		writeError(w, http.StatusBadRequest, "VERIFICATION_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Email verified successfully",
	})
}

func (s *HTTPServer) handleAuthRequestReset(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	token, _ := authSvc.RequestPasswordReset(r.Context(), body.Email)

	emailConfigured := s.service.SMTPConfigured()

	response := map[string]any{
		"message": "If an account exists, a reset email has been sent",
	}
	if emailConfigured && token != "" {
		resetURL := fmt.Sprintf("%s/reset-password?token=%s", strings.TrimRight(s.corsOrigin, "/"), token)
		if err := s.service.email.SendPasswordResetEmail(body.Email, "", resetURL); err != nil {
			log.Printf("send reset email: %v", err)
		}
	}
	// Dev bypass: include reset token in response when email not configured and token was created
	if !emailConfigured && token != "" {
		response["devResetToken"] = token
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.ResetPassword(r.Context(), authpw.ResetPasswordRequest{
		Token:       body.Token,
		NewPassword: body.NewPassword,
	}); err != nil {
		writeError(w, http.StatusBadRequest, "RESET_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Password reset successfully",
	})
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
	}
}
