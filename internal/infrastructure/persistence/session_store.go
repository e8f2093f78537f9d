package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/salmalm/salmalm/internal/domain/entity"
	"github.com/salmalm/salmalm/internal/domain/service"
	"github.com/salmalm/salmalm/internal/infrastructure/persistence/models"
	apperrors "github.com/salmalm/salmalm/pkg/errors"
)

// PromptFunc builds the system prompt for a lazily created session.
type PromptFunc func(sessionID string) string

// SessionStore keeps sessions in the sessions table with an on-disk JSON
// snapshot per session. The row is authoritative; the snapshot exists for
// inspection and disaster recovery, and both are written in one transaction.
type SessionStore struct {
	db         *gorm.DB
	dir        string
	prompt     PromptFunc
	summarizer service.Summarizer
	logger     *zap.Logger

	mu sync.Mutex // serializes row+snapshot writes
}

// NewSessionStore builds the store. dir is created if missing.
func NewSessionStore(db *gorm.DB, dir string, prompt PromptFunc, logger *zap.Logger) (*SessionStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "create sessions dir", err)
	}
	return &SessionStore{
		db:     db,
		dir:    dir,
		prompt: prompt,
		logger: logger.With(zap.String("component", "session-store")),
	}, nil
}

// SetSummarizer wires the LLM-backed compaction summarizer. Optional; the
// deterministic fallback applies without it.
func (s *SessionStore) SetSummarizer(sum service.Summarizer) {
	s.summarizer = sum
}

var _ service.SessionAccess = (*SessionStore)(nil)

// Load returns the session, lazily creating it with a system-prompt first
// message. Admin scope; channel handlers with a real user use LoadOwned.
func (s *SessionStore) Load(ctx context.Context, id string) (*entity.Session, error) {
	return s.LoadOwned(ctx, id, 0)
}

// LoadOwned loads (or creates, owned by userID) and enforces ownership.
func (s *SessionStore) LoadOwned(ctx context.Context, id string, userID int64) (*entity.Session, error) {
	if !entity.ValidLaneID(id) {
		return nil, apperrors.NewInvalidInputError("invalid session id: " + id)
	}

	var row models.SessionModel
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	switch {
	case err == nil:
		sess, derr := s.fromModel(&row)
		if derr != nil {
			return nil, derr
		}
		if oerr := checkOwner(sess, userID); oerr != nil {
			return nil, oerr
		}
		return sess, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		// fall through to snapshot, then lazy create
	default:
		return nil, apperrors.Wrap(apperrors.CodeInternal, "load session "+id, err)
	}

	if sess, ok := s.readSnapshot(id); ok {
		if oerr := checkOwner(sess, userID); oerr != nil {
			return nil, oerr
		}
		if perr := s.Persist(ctx, sess); perr != nil {
			return nil, perr
		}
		s.logger.Info("Imported session from snapshot", zap.String("session", id))
		return sess, nil
	}

	now := time.Now()
	sess := &entity.Session{ID: id, UserID: userID, CreatedAt: now, LastActive: now}
	if s.prompt != nil {
		if p := s.prompt(id); p != "" {
			sess.Append(entity.NewSystemMessage(p))
		}
	}
	if err := s.Persist(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Persist writes the row and the JSON snapshot together; a snapshot failure
// rolls the row back.
func (s *SessionStore) Persist(ctx context.Context, sess *entity.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.DeriveTitle()
	row, err := s.toModel(sess)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(row).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "save session "+sess.ID, err)
		}
		return s.writeSnapshot(sess)
	})
}

// Compact shrinks the session if needed and persists the result.
func (s *SessionStore) Compact(ctx context.Context, sess *entity.Session) (bool, error) {
	if !service.CompactSession(ctx, sess, s.summarizer, s.logger) {
		return false, nil
	}
	return true, s.Persist(ctx, sess)
}

// List returns session infos, newest activity first. userID 0 sees all.
func (s *SessionStore) List(ctx context.Context, userID int64) ([]entity.SessionInfo, error) {
	q := s.db.WithContext(ctx).Order("last_active desc")
	if userID != 0 {
		q = q.Where("user_id = ?", userID)
	}
	var rows []models.SessionModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "list sessions", err)
	}

	infos := make([]entity.SessionInfo, 0, len(rows))
	for _, row := range rows {
		sess, err := s.fromModel(&row)
		if err != nil {
			s.logger.Warn("Skipping unreadable session row", zap.String("session", row.ID), zap.Error(err))
			continue
		}
		infos = append(infos, sess.Info())
	}
	return infos, nil
}

// Rename sets the title.
func (s *SessionStore) Rename(ctx context.Context, id string, userID int64, title string) error {
	sess, err := s.LoadOwned(ctx, id, userID)
	if err != nil {
		return err
	}
	sess.Title = strings.TrimSpace(title)
	return s.Persist(ctx, sess)
}

// Delete removes the row and the snapshot.
func (s *SessionStore) Delete(ctx context.Context, id string, userID int64) error {
	if _, err := s.LoadOwned(ctx, id, userID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.WithContext(ctx).Delete(&models.SessionModel{}, "id = ?", id).Error; err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "delete session "+id, err)
	}
	if err := os.Remove(s.snapshotPath(id)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Snapshot removal failed", zap.String("session", id), zap.Error(err))
	}
	return nil
}

// Clear deletes every session in scope except keepID. Returns how many went.
func (s *SessionStore) Clear(ctx context.Context, keepID string, userID int64) (int, error) {
	infos, err := s.List(ctx, userID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, info := range infos {
		if info.ID == keepID {
			continue
		}
		if err := s.Delete(ctx, info.ID, userID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// EditMessage replaces the content of one message.
func (s *SessionStore) EditMessage(ctx context.Context, id string, userID int64, index int, newContent string) error {
	sess, err := s.LoadOwned(ctx, id, userID)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(sess.Messages) {
		return apperrors.NewInvalidInputError(fmt.Sprintf("message index %d out of range", index))
	}
	sess.Messages[index].Content = newContent
	sess.Messages[index].Blocks = nil
	return s.Persist(ctx, sess)
}

// DeleteMessage removes one message.
func (s *SessionStore) DeleteMessage(ctx context.Context, id string, userID int64, index int) error {
	sess, err := s.LoadOwned(ctx, id, userID)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(sess.Messages) {
		return apperrors.NewInvalidInputError(fmt.Sprintf("message index %d out of range", index))
	}
	sess.Messages = append(sess.Messages[:index], sess.Messages[index+1:]...)
	return s.Persist(ctx, sess)
}

// Rollback drops the last count user/assistant pairs. Returns how many
// messages were removed.
func (s *SessionStore) Rollback(ctx context.Context, id string, userID int64, count int) (int, error) {
	sess, err := s.LoadOwned(ctx, id, userID)
	if err != nil {
		return 0, err
	}
	if count <= 0 {
		return 0, apperrors.NewInvalidInputError("rollback count must be positive")
	}

	// Cut at the count-th user message from the end.
	cut := -1
	seen := 0
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if sess.Messages[i].Role == entity.RoleUser {
			seen++
			if seen == count {
				cut = i
				break
			}
		}
	}
	if cut < 0 {
		cut = 0
		if len(sess.Messages) > 0 && sess.Messages[0].Role == entity.RoleSystem {
			cut = 1
		}
	}
	removed := len(sess.Messages) - cut
	if removed <= 0 {
		return 0, nil
	}
	sess.Messages = sess.Messages[:cut]
	return removed, s.Persist(ctx, sess)
}

// Branch copies messages up to and including index into a new session that
// records this one as its parent. Returns the new session id.
func (s *SessionStore) Branch(ctx context.Context, id string, userID int64, index int) (string, error) {
	sess, err := s.LoadOwned(ctx, id, userID)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= len(sess.Messages) {
		return "", apperrors.NewInvalidInputError(fmt.Sprintf("message index %d out of range", index))
	}

	branchID := fmt.Sprintf("%s-b%s", id, uuid.NewString()[:8])
	if !entity.ValidSessionID(branchID) {
		// Long or lane-prefixed parent ids cannot carry the suffix.
		branchID = "branch-" + uuid.NewString()[:8]
	}

	now := time.Now()
	branch := &entity.Session{
		ID:              branchID,
		UserID:          sess.UserID,
		ParentSessionID: id,
		Messages:        entity.CloneMessages(sess.Messages[:index+1]),
		CreatedAt:       now,
		LastActive:      now,
	}
	if err := s.Persist(ctx, branch); err != nil {
		return "", err
	}
	return branchID, nil
}

// --- internal ---

func checkOwner(sess *entity.Session, userID int64) error {
	if userID != 0 && sess.UserID != userID {
		return apperrors.NewForbiddenError("session belongs to another user")
	}
	return nil
}

func (s *SessionStore) toModel(sess *entity.Session) (*models.SessionModel, error) {
	data, err := json.Marshal(sess.Messages)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "marshal session messages", err)
	}
	return &models.SessionModel{
		ID:            sess.ID,
		UserID:        sess.UserID,
		Title:         sess.Title,
		ParentID:      sess.ParentSessionID,
		ModelOverride: sess.ModelOverride,
		Data:          string(data),
		TTSEnabled:    sess.TTSEnabled,
		TTSVoice:      sess.TTSVoice,
		LastActive:    sess.LastActive,
		CreatedAt:     sess.CreatedAt,
	}, nil
}

func (s *SessionStore) fromModel(row *models.SessionModel) (*entity.Session, error) {
	sess := &entity.Session{
		ID:              row.ID,
		UserID:          row.UserID,
		Title:           row.Title,
		ParentSessionID: row.ParentID,
		ModelOverride:   row.ModelOverride,
		TTSEnabled:      row.TTSEnabled,
		TTSVoice:        row.TTSVoice,
		LastActive:      row.LastActive,
		CreatedAt:       row.CreatedAt,
	}
	if row.Data != "" {
		if err := json.Unmarshal([]byte(row.Data), &sess.Messages); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "unmarshal session "+row.ID, err)
		}
	}
	return sess, nil
}

// snapshotPath maps a session id to its JSON file; colons in sub-agent ids
// are not filename-safe everywhere.
func (s *SessionStore) snapshotPath(id string) string {
	return filepath.Join(s.dir, strings.ReplaceAll(id, ":", "__")+".json")
}

func (s *SessionStore) writeSnapshot(sess *entity.Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "marshal session snapshot", err)
	}
	path := s.snapshotPath(sess.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "write session snapshot", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "replace session snapshot", err)
	}
	return nil
}

func (s *SessionStore) readSnapshot(id string) (*entity.Session, bool) {
	data, err := os.ReadFile(s.snapshotPath(id))
	if err != nil {
		return nil, false
	}
	var sess entity.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		s.logger.Warn("Unreadable session snapshot", zap.String("session", id), zap.Error(err))
		return nil, false
	}
	if sess.ID != id {
		return nil, false
	}
	return &sess, true
}
