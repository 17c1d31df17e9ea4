package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trialsage/api/internal/auth"
	"trialsage/api/internal/docvault"
	"trialsage/api/internal/store"
)

func newServerAndToken(t *testing.T, role string) (*HTTPServer, string, *fakeStore, *fakeVault) {
	t.Helper()
	fs := newFakeStore()
	fv := newFakeVault()
	svc := newTestService(fs, fv)
	server := NewHTTPServer(svc, "*")

	user := store.User{ID: "usr-" + role, DisplayName: "Test User", Role: role}
	fs.users[user.ID] = user

	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  "jti-test",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return server, token, fs, fv
}

func doRequest(t *testing.T, server *HTTPServer, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _, _ := newServerAndToken(t, "viewer")
	rr := doRequest(t, server, http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if payload := decodeJSON(t, rr); payload["ok"] != true {
		t.Fatalf("expected ok=true, got %v", payload)
	}
}

func TestReadyEndpointChecksDatabase(t *testing.T) {
	server, _, _, _ := newServerAndToken(t, "viewer")
	rr := doRequest(t, server, http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeJSON(t, rr)
	checks, ok := payload["checks"].(map[string]any)
	if !ok {
		t.Fatalf("expected checks map, got %v", payload)
	}
	if _, ok := checks["database"]; !ok {
		t.Fatal("expected database check")
	}
}

func TestRequestsWithoutTokenAreUnauthorized(t *testing.T) {
	server, _, _, _ := newServerAndToken(t, "editor")
	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/vault/documents"},
		{http.MethodGet, "/api/summary"},
		{http.MethodPost, "/api/vault/documents"},
		{http.MethodGet, "/api/ledger/audit"},
	}
	for _, tc := range paths {
		rr := doRequest(t, server, tc.method, tc.path, "", "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", tc.method, tc.path, rr.Code)
		}
	}
}

func TestViewerWriteEndpointsAreForbidden(t *testing.T) {
	server, token, fs, fv := newServerAndToken(t, "viewer")
	fs.documents = append(fs.documents, store.Document{ID: "doc-1", Title: "Doc", Status: "Draft", Version: 1})
	_ = fv.EnsureDocumentRepo("doc-1", docvault.Content{Title: "Doc"}, "Priya")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{name: "create document", method: http.MethodPost, path: "/api/vault/documents", body: `{"title":"Doc"}`},
		{name: "update document", method: http.MethodPatch, path: "/api/vault/documents/doc-1", body: `{"title":"Doc"}`},
		{name: "delete document", method: http.MethodDelete, path: "/api/vault/documents/doc-1", body: ""},
		{name: "create folder", method: http.MethodPost, path: "/api/vault/folders", body: `{"name":"Clinical"}`},
		{name: "verify document", method: http.MethodPost, path: "/api/vault/documents/doc-1/verify", body: ""},
		{name: "create workflow", method: http.MethodPost, path: "/api/vault/documents/doc-1/workflows", body: `{"type":"sequential","steps":[{"role":"editor"}]}`},
		{name: "add comment", method: http.MethodPost, path: "/api/vault/documents/doc-1/comments", body: `{"body":"Note"}`},
		{name: "generate draft", method: http.MethodPost, path: "/api/ai/draft", body: `{"prompt":"Write a summary"}`},
		{name: "ledger audit", method: http.MethodGet, path: "/api/ledger/audit", body: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(t, server, tc.method, tc.path, token, tc.body)
			if rr.Code != http.StatusForbidden {
				t.Fatalf("expected 403, got %d body=%s", rr.Code, rr.Body.String())
			}
			if payload := decodeJSON(t, rr); payload["code"] != "FORBIDDEN" {
				t.Fatalf("expected code FORBIDDEN, got %v", payload["code"])
			}
		})
	}
}

func TestEditorCannotDeleteButAdminCan(t *testing.T) {
	server, editorToken, fs, fv := newServerAndToken(t, "editor")
	fs.documents = append(fs.documents, store.Document{ID: "doc-1", Title: "Doc", Status: "Draft", Version: 1})
	_ = fv.EnsureDocumentRepo("doc-1", docvault.Content{Title: "Doc"}, "Priya")

	rr := doRequest(t, server, http.MethodDelete, "/api/vault/documents/doc-1", editorToken, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected editor delete to be forbidden, got %d", rr.Code)
	}

	admin := store.User{ID: "usr-admin", DisplayName: "Admin", Role: "admin"}
	fs.users[admin.ID] = admin
	adminToken, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub: admin.ID, Name: admin.DisplayName, Role: admin.Role, JTI: "jti-admin",
		Exp: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	rr = doRequest(t, server, http.MethodDelete, "/api/vault/documents/doc-1", adminToken, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected admin delete to succeed, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestDocumentLifecycleOverHTTP(t *testing.T) {
	server, token, _, _ := newServerAndToken(t, "editor")

	rr := doRequest(t, server, http.MethodPost, "/api/vault/documents", token,
		`{"title":"CSR Draft","documentType":"csr","ctdSection":"5.3.5","summary":"Pivotal study","enableBlockchain":true}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	created := decodeJSON(t, rr)
	documentID, _ := created["id"].(string)
	if documentID == "" {
		t.Fatal("expected document id")
	}
	blockchain, ok := created["blockchain"].(map[string]any)
	if !ok {
		t.Fatalf("expected blockchain decoration, got %v", created["blockchain"])
	}
	if hash, _ := blockchain["hash"].(string); len(hash) != 64 {
		t.Fatalf("expected 64-char hash, got %q", blockchain["hash"])
	}

	rr = doRequest(t, server, http.MethodGet, "/api/vault/documents/"+documentID, token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}

	rr = doRequest(t, server, http.MethodPatch, "/api/vault/documents/"+documentID, token, `{"summary":"Pivotal study, revised"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	updated := decodeJSON(t, rr)
	if updated["version"].(float64) != 2 {
		t.Fatalf("expected version 2 after change, got %v", updated["version"])
	}

	rr = doRequest(t, server, http.MethodGet, "/api/vault/documents", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rr.Code)
	}
	listed := decodeJSON(t, rr)
	if docs, ok := listed["documents"].([]any); !ok || len(docs) != 1 {
		t.Fatalf("expected one document, got %v", listed["documents"])
	}
}

func TestWorkflowOrderBlockedOverHTTP(t *testing.T) {
	server, token, fs, fv := newServerAndToken(t, "admin")
	fs.documents = append(fs.documents, store.Document{ID: "doc-1", Title: "Doc", Status: "Draft", Version: 1})
	_ = fv.EnsureDocumentRepo("doc-1", docvault.Content{Title: "Doc"}, "Priya")

	rr := doRequest(t, server, http.MethodPost, "/api/vault/documents/doc-1/workflows", token,
		`{"type":"sequential","steps":[{"role":"editor","orderIndex":1},{"role":"admin","orderIndex":2}]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create workflow: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	workflow := decodeJSON(t, rr)
	workflowID := workflow["workflowId"].(string)
	steps := workflow["steps"].([]any)
	secondStepID := steps[1].(map[string]any)["id"].(string)

	rr = doRequest(t, server, http.MethodPost,
		"/api/workflows/"+workflowID+"/steps/"+secondStepID+"/approve", token, `{}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeJSON(t, rr)
	if payload["code"] != "APPROVAL_ORDER_BLOCKED" {
		t.Fatalf("expected APPROVAL_ORDER_BLOCKED, got %v", payload["code"])
	}
	details, ok := payload["details"].(map[string]any)
	if !ok {
		t.Fatalf("expected blocking details, got %v", payload["details"])
	}
	if blocked, ok := details["blockedBy"].([]any); !ok || len(blocked) != 1 {
		t.Fatalf("expected one blocking step, got %v", details["blockedBy"])
	}
}

func TestRejectWithoutRationaleOverHTTP(t *testing.T) {
	server, token, fs, fv := newServerAndToken(t, "admin")
	fs.documents = append(fs.documents, store.Document{ID: "doc-1", Title: "Doc", Status: "Draft", Version: 1})
	_ = fv.EnsureDocumentRepo("doc-1", docvault.Content{Title: "Doc"}, "Priya")

	rr := doRequest(t, server, http.MethodPost, "/api/vault/documents/doc-1/workflows", token,
		`{"type":"parallel","steps":[{"role":"editor"}]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create workflow: expected 201, got %d", rr.Code)
	}
	workflow := decodeJSON(t, rr)
	workflowID := workflow["workflowId"].(string)
	stepID := workflow["steps"].([]any)[0].(map[string]any)["id"].(string)

	rr = doRequest(t, server, http.MethodPost,
		"/api/workflows/"+workflowID+"/steps/"+stepID+"/reject", token, `{}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without rationale, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestCommentsRoundTripOverHTTP(t *testing.T) {
	server, token, fs, fv := newServerAndToken(t, "commenter")
	fs.documents = append(fs.documents, store.Document{ID: "doc-1", Title: "Doc", Status: "Draft", Version: 1})
	_ = fv.EnsureDocumentRepo("doc-1", docvault.Content{Title: "Doc"}, "Priya")

	rr := doRequest(t, server, http.MethodPost, "/api/vault/documents/doc-1/comments", token, `{"body":"Please cite the pivotal study."}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, server, http.MethodGet, "/api/vault/documents/doc-1/comments", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decodeJSON(t, rr)
	comments, ok := payload["comments"].([]any)
	if !ok || len(comments) != 1 {
		t.Fatalf("expected one comment, got %v", payload["comments"])
	}
}

func TestCollaborationRoutesOverHTTP(t *testing.T) {
	server, token, fs, fv := newServerAndToken(t, "editor")
	fs.documents = append(fs.documents, store.Document{ID: "doc-1", Title: "Doc", Status: "Draft", Version: 1})
	_ = fv.EnsureDocumentRepo("doc-1", docvault.Content{Title: "Doc"}, "Priya")

	rr := doRequest(t, server, http.MethodPost, "/api/vault/documents/doc-1/collaboration/start", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	started := decodeJSON(t, rr)
	if started["sessionId"] == "" {
		t.Fatal("expected session id")
	}

	rr = doRequest(t, server, http.MethodGet, "/api/vault/documents/doc-1/collaboration", token, "")
	status := decodeJSON(t, rr)
	if status["active"] != true {
		t.Fatalf("expected active session, got %v", status)
	}

	rr = doRequest(t, server, http.MethodPost, "/api/vault/documents/doc-1/collaboration/end", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("end: expected 200, got %d", rr.Code)
	}

	rr = doRequest(t, server, http.MethodGet, "/api/vault/documents/doc-1/collaboration", token, "")
	status = decodeJSON(t, rr)
	if status["active"] != false {
		t.Fatalf("expected no active session, got %v", status)
	}
}

func TestAuthRoutesUnavailableWithoutService(t *testing.T) {
	server, _, _, _ := newServerAndToken(t, "editor")
	rr := doRequest(t, server, http.MethodPost, "/api/auth/signup", "", `{"email":"a@b.c","password":"longenough","displayName":"A"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when authpw not wired, got %d", rr.Code)
	}
	if payload := decodeJSON(t, rr); payload["code"] != "AUTH_UNAVAILABLE" {
		t.Fatalf("expected AUTH_UNAVAILABLE, got %v", payload["code"])
	}
}

func TestAIDraftUnavailableWithoutProviders(t *testing.T) {
	server, token, _, _ := newServerAndToken(t, "editor")
	rr := doRequest(t, server, http.MethodPost, "/api/ai/draft", token, `{"documentType":"csr","prompt":"Draft the safety section"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without providers, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestUnknownRouteReturnsNotFound(t *testing.T) {
	server, token, _, _ := newServerAndToken(t, "editor")
	rr := doRequest(t, server, http.MethodGet, "/api/nonsense", token, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
