package app

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// collabRegistry tracks live co-editing sessions in memory. One session per
// document; sessions expire after ttl of inactivity and are reaped lazily.
type collabRegistry struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*collabSession
	now      func() time.Time
}

type collabSession struct {
	ID           string
	DocumentID   string
	StartedBy    string
	StartedAt    time.Time
	LastActivity time.Time
	// participants keyed by user ID
	participants map[string]string
}

func newCollabRegistry(ttl time.Duration) *collabRegistry {
	return &collabRegistry{
		ttl:      ttl,
		sessions: make(map[string]*collabSession),
		now:      time.Now,
	}
}

func (r *collabRegistry) reapLocked() {
	cutoff := r.now().Add(-r.ttl)
	for documentID, sess := range r.sessions {
		if sess.LastActivity.Before(cutoff) {
			delete(r.sessions, documentID)
		}
	}
}

func collabPayload(sess *collabSession) map[string]any {
	users := make([]map[string]any, 0, len(sess.participants))
	for userID, name := range sess.participants {
		users = append(users, map[string]any{"userId": userID, "name": name})
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i]["userId"].(string) < users[j]["userId"].(string)
	})
	return map[string]any{
		"sessionId":    sess.ID,
		"documentId":   sess.DocumentID,
		"startedBy":    sess.StartedBy,
		"startedAt":    sess.StartedAt,
		"lastActivity": sess.LastActivity,
		"activeUsers":  users,
	}
}

// StartCollaboration opens a session for a document, or joins the existing
// one when a session is already live.
func (s *Service) StartCollaboration(ctx context.Context, documentID string, actor Session) (map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}

	r := s.collabs
	r.mu.Lock()
	r.reapLocked()
	sess, ok := r.sessions[documentID]
	if !ok {
		sess = &collabSession{
			ID:           uuid.NewString(),
			DocumentID:   documentID,
			StartedBy:    actor.UserName,
			StartedAt:    r.now(),
			participants: make(map[string]string),
		}
		r.sessions[documentID] = sess
	}
	sess.participants[actor.UserID] = actor.UserName
	sess.LastActivity = r.now()
	payload := collabPayload(sess)
	r.mu.Unlock()

	s.publish(documentID, "collaboration_update", payload)
	return payload, nil
}

func (s *Service) JoinCollaboration(ctx context.Context, documentID string, actor Session) (map[string]any, error) {
	r := s.collabs
	r.mu.Lock()
	r.reapLocked()
	sess, ok := r.sessions[documentID]
	if !ok {
		r.mu.Unlock()
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "No active collaboration session", nil)
	}
	sess.participants[actor.UserID] = actor.UserName
	sess.LastActivity = r.now()
	payload := collabPayload(sess)
	r.mu.Unlock()

	s.publish(documentID, "collaboration_update", payload)
	return payload, nil
}

func (s *Service) LeaveCollaboration(ctx context.Context, documentID string, actor Session) (map[string]any, error) {
	r := s.collabs
	r.mu.Lock()
	sess, ok := r.sessions[documentID]
	if !ok {
		r.mu.Unlock()
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "No active collaboration session", nil)
	}
	delete(sess.participants, actor.UserID)
	sess.LastActivity = r.now()
	if len(sess.participants) == 0 {
		delete(r.sessions, documentID)
	}
	payload := collabPayload(sess)
	r.mu.Unlock()

	s.publish(documentID, "collaboration_update", payload)
	return payload, nil
}

func (s *Service) EndCollaboration(ctx context.Context, documentID string, actor Session) error {
	r := s.collabs
	r.mu.Lock()
	sess, ok := r.sessions[documentID]
	if ok {
		delete(r.sessions, documentID)
	}
	r.mu.Unlock()
	if !ok {
		return domainError(http.StatusNotFound, "NOT_FOUND", "No active collaboration session", nil)
	}

	s.audit(ctx, "collaboration_ended", actor, documentID, "", map[string]any{"sessionId": sess.ID})
	s.publish(documentID, "collaboration_update", map[string]any{
		"sessionId":  sess.ID,
		"documentId": documentID,
		"ended":      true,
	})
	return nil
}

func (s *Service) CollaborationStatus(documentID string) (map[string]any, bool) {
	r := s.collabs
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reapLocked()
	sess, ok := r.sessions[documentID]
	if !ok {
		return nil, false
	}
	return collabPayload(sess), true
}
