// Package coauthor hands documents off to external editing surfaces:
// Google Docs and Microsoft Word Online (WOPI).
package coauthor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"trialsage/api/internal/provider"
	"trialsage/api/internal/session"
)

var (
	ErrUnknownProvider = errors.New("coauthor: unknown provider")
	ErrNoCredential    = errors.New("coauthor: no cached provider credential")
)

type tokenCache interface {
	GetProviderToken(ctx context.Context, userID, provider string) (session.ProviderToken, error)
}

// EditSession points the client at an external editing surface for one
// document.
type EditSession struct {
	Provider  string    `json:"provider"`
	EditURL   string    `json:"editUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Service struct {
	tokens         tokenCache
	googleEndpoint string
	wopiBase       string
	timeout        time.Duration
	sessionLife    time.Duration
}

func New(tokens tokenCache, googleEndpoint, wopiBase string, timeout time.Duration) *Service {
	return &Service{
		tokens:         tokens,
		googleEndpoint: googleEndpoint,
		wopiBase:       wopiBase,
		timeout:        timeout,
		sessionLife:    time.Hour,
	}
}

// OpenEditSession resolves a cached provider credential for the user and
// builds the external edit link. The credential is validated here so an
// expired token fails fast instead of bouncing at the editor.
func (s *Service) OpenEditSession(ctx context.Context, userID, providerName, documentID, title string) (EditSession, error) {
	switch providerName {
	case "google":
		return s.openGoogleSession(ctx, userID, documentID, title)
	case "microsoft":
		return s.openWordSession(ctx, userID, documentID)
	default:
		return EditSession{}, fmt.Errorf("%w: %s", ErrUnknownProvider, providerName)
	}
}

func (s *Service) openGoogleSession(ctx context.Context, userID, documentID, title string) (EditSession, error) {
	token, err := s.credential(ctx, userID, "google")
	if err != nil {
		return EditSession{}, err
	}

	// Create or reuse the mirror Google Doc for this document.
	var resp struct {
		DocumentID string `json:"documentId"`
	}
	body := map[string]string{"title": title, "sourceRef": documentID}
	client := provider.New(s.googleEndpoint,
		provider.WithHeader("Authorization", "Bearer "+token.AccessToken),
		provider.WithTimeout(s.timeout),
	)
	if err := client.Post(ctx, "/v1/documents", body, &resp); err != nil {
		return EditSession{}, fmt.Errorf("create google doc: %w", err)
	}

	return EditSession{
		Provider:  "google",
		EditURL:   fmt.Sprintf("https://docs.google.com/document/d/%s/edit", url.PathEscape(resp.DocumentID)),
		ExpiresAt: time.Now().Add(s.sessionLife),
	}, nil
}

func (s *Service) openWordSession(ctx context.Context, userID, documentID string) (EditSession, error) {
	token, err := s.credential(ctx, userID, "microsoft")
	if err != nil {
		return EditSession{}, err
	}

	// WOPI action URL; the host serves the document via the files endpoint
	// and Word Online authenticates with the cached access token.
	actionURL := fmt.Sprintf("%s/we/wordeditorframe.aspx?WOPISrc=%s&access_token=%s",
		s.wopiBase,
		url.QueryEscape(fmt.Sprintf("%s/wopi/files/%s", s.wopiBase, documentID)),
		url.QueryEscape(token.AccessToken),
	)

	return EditSession{
		Provider:  "microsoft",
		EditURL:   actionURL,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

func (s *Service) credential(ctx context.Context, userID, providerName string) (session.ProviderToken, error) {
	token, err := s.tokens.GetProviderToken(ctx, userID, providerName)
	if errors.Is(err, session.ErrNotFound) {
		return session.ProviderToken{}, fmt.Errorf("%w for %s", ErrNoCredential, providerName)
	}
	if err != nil {
		return session.ProviderToken{}, err
	}
	if time.Now().After(token.ExpiresAt) {
		return session.ProviderToken{}, fmt.Errorf("%w for %s", ErrNoCredential, providerName)
	}
	return token, nil
}
