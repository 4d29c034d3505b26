// Package sessions owns the lifecycle of import sessions: short-lived,
// ownership-checked handles over a staged upload, kept in memory for speed
// and mirrored to durable storage for crash recovery.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/username/tradejournal/backend/src/logger"
	"github.com/username/tradejournal/backend/src/models"
	"github.com/username/tradejournal/backend/src/storage"
)

var (
	ErrSessionNotFound = errors.New("import session not found")
	ErrSessionExpired  = errors.New("import session expired")
	ErrNotOwner        = errors.New("import session not owned by caller")
)

// Registry maps session IDs to session state. All mutation goes through
// its methods as atomic read-modify-writes; per-session locks (WithLock)
// serialize whole preview/execute passes against the cleanup sweep.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*models.ImportSession

	store Store
	files storage.FileStore
	ttl   time.Duration
	locks *sessionLocks

	now func() time.Time
}

func NewRegistry(store Store, files storage.FileStore, ttl time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]*models.ImportSession),
		store:    store,
		files:    files,
		ttl:      ttl,
		locks:    newSessionLocks(),
		now:      time.Now,
	}
}

// WithLock runs fn while holding the lock for the given session ID. A
// session is never deleted out from under a caller running inside fn.
func (r *Registry) WithLock(id string, fn func() error) error {
	r.locks.Lock(id)
	defer r.locks.Unlock(id)
	return fn()
}

// LoadActive restores durable session records on process start, dropping
// (and deleting the files of) any that expired while the process was down.
func (r *Registry) LoadActive(ctx context.Context) error {
	recorded, err := r.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("loading session records: %w", err)
	}

	now := r.now()
	kept, dropped := 0, 0
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sess := range recorded {
		if sess.Expired(now) {
			dropped++
			if err := r.store.Delete(ctx, sess.ID); err != nil {
				logger.L.Error("Failed to drop expired session record on startup", "sessionID", sess.ID, "error", err)
			}
			if err := r.files.Remove(sess.FilePath); err != nil {
				logger.L.Warn("Failed to remove expired session file on startup", "sessionID", sess.ID, "error", err)
			}
			continue
		}
		r.sessions[sess.ID] = sess
		kept++
	}
	logger.L.Info("Session registry loaded", "active", kept, "droppedExpired", dropped)
	return nil
}

// Create stages a new session for an already-written upload file. The
// format is derived from the file name extension; unknown extensions fail
// with models.ErrUnsupportedFormat. The record is durable before Create
// returns.
func (r *Registry) Create(ctx context.Context, userID int64, filePath, fileName string, fileSizeBytes int64) (*models.ImportSession, error) {
	format, err := models.FormatFromFilename(fileName)
	if err != nil {
		return nil, err
	}

	now := r.now()
	sess := &models.ImportSession{
		ID:            uuid.NewString(),
		UserID:        userID,
		FilePath:      filePath,
		FileName:      fileName,
		FileFormat:    format,
		FileSizeBytes: fileSizeBytes,
		UploadedAt:    now,
		ExpiresAt:     now.Add(r.ttl),
		Metadata:      map[string]string{},
	}

	if err := r.store.Insert(ctx, sess); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()

	logger.L.Info("Import session created", "sessionID", sess.ID, "userID", userID,
		"fileName", fileName, "format", format, "expiresAt", sess.ExpiresAt)
	return cloneSession(sess), nil
}

// Get returns the session only when the caller owns it. An expired session
// is deleted as a side effect and reported as expired, so the caller can
// distinguish "upload again" from "not yours".
func (r *Registry) Get(ctx context.Context, id string, userID int64) (*models.ImportSession, error) {
	// The copy is taken while r.mu is held: Update mutates the metadata
	// map in place under the write lock, so reading it outside the lock
	// would be a concurrent map access.
	r.mu.RLock()
	sess, ok := r.sessions[id]
	var c *models.ImportSession
	if ok {
		c = cloneSession(sess)
	}
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if c.UserID != userID {
		logger.L.Warn("Session ownership check failed", "sessionID", id, "ownerID", c.UserID, "callerID", userID)
		return nil, ErrNotOwner
	}
	if c.Expired(r.now()) {
		logger.L.Info("Lazily expiring session on access", "sessionID", id)
		if err := r.Delete(ctx, id); err != nil {
			logger.L.Error("Failed to delete expired session", "sessionID", id, "error", err)
		}
		return nil, ErrSessionExpired
	}
	return c, nil
}

// Update merges the patch into an owned, unexpired session. Structural
// identity fields (ID, owner, file path) are not expressible in a patch
// and therefore can never be overwritten.
func (r *Registry) Update(ctx context.Context, id string, userID int64, patch models.SessionPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.UserID != userID {
		return ErrNotOwner
	}
	if sess.Expired(r.now()) {
		return ErrSessionExpired
	}

	if patch.ParseCacheKey != nil {
		sess.ParseCacheKey = *patch.ParseCacheKey
	}
	if len(patch.Metadata) > 0 {
		if sess.Metadata == nil {
			sess.Metadata = map[string]string{}
		}
		for k, v := range patch.Metadata {
			sess.Metadata[k] = v
		}
	}

	if err := r.store.Update(ctx, sess); err != nil {
		return fmt.Errorf("persisting session update: %w", err)
	}
	return nil
}

// Delete removes the record and its backing file. A file that is already
// gone is not an error. Callers that race against the sweep hold the
// session lock (WithLock) around Delete.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}
	if ok {
		if err := r.files.Remove(sess.FilePath); err != nil {
			logger.L.Warn("Failed to remove session file", "sessionID", id, "path", sess.FilePath, "error", err)
		}
	}
	return nil
}

// Sweep deletes every expired session and returns the count reclaimed.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	r.mu.RLock()
	var expired []string
	for id, sess := range r.sessions {
		if sess.Expired(now) {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()

	reclaimed := 0
	for _, id := range expired {
		err := r.WithLock(id, func() error {
			r.mu.RLock()
			sess, ok := r.sessions[id]
			stillExpired := ok && sess.Expired(r.now())
			r.mu.RUnlock()
			if !stillExpired {
				return nil
			}
			if err := r.Delete(ctx, id); err != nil {
				return err
			}
			reclaimed++
			return nil
		})
		if err != nil {
			logger.L.Error("Failed to reclaim expired session", "sessionID", id, "error", err)
		}
	}
	return reclaimed, nil
}

// PurgeAllFiles removes the backing files of every remaining session,
// best effort. Used for the final sweep on graceful shutdown.
func (r *Registry) PurgeAllFiles() {
	r.mu.RLock()
	paths := make(map[string]string, len(r.sessions))
	for id, sess := range r.sessions {
		paths[id] = sess.FilePath
	}
	r.mu.RUnlock()

	for id, path := range paths {
		if err := r.files.Remove(path); err != nil {
			logger.L.Warn("Final sweep could not remove session file", "sessionID", id, "path", path, "error", err)
		}
	}
	logger.L.Info("Final session file sweep complete", "files", len(paths))
}

func cloneSession(s *models.ImportSession) *models.ImportSession {
	c := *s
	if s.Metadata != nil {
		c.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
