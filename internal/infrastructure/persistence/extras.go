package persistence

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/salmalm/salmalm/internal/infrastructure/persistence/models"
	apperrors "github.com/salmalm/salmalm/pkg/errors"
)

// AlternativeRepo preserves assistant turns replaced by regeneration.
type AlternativeRepo struct {
	db *gorm.DB
}

func NewAlternativeRepo(db *gorm.DB) *AlternativeRepo { return &AlternativeRepo{db: db} }

// Add stores the replaced turn.
func (r *AlternativeRepo) Add(ctx context.Context, sessionID string, index int, content, model string) error {
	row := models.AlternativeModel{
		SessionID:    sessionID,
		MessageIndex: index,
		Content:      content,
		Model:        model,
		CreatedAt:    time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "store alternative", err)
	}
	return nil
}

// List returns all preserved alternatives for a session, oldest first.
func (r *AlternativeRepo) List(ctx context.Context, sessionID string) ([]models.AlternativeModel, error) {
	var rows []models.AlternativeModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "list alternatives", err)
	}
	return rows, nil
}

// BookmarkRepo marks messages worth finding again.
type BookmarkRepo struct {
	db *gorm.DB
}

func NewBookmarkRepo(db *gorm.DB) *BookmarkRepo { return &BookmarkRepo{db: db} }

func (r *BookmarkRepo) Add(ctx context.Context, sessionID string, index int, note string) error {
	row := models.BookmarkModel{
		SessionID:    sessionID,
		MessageIndex: index,
		Note:         note,
		CreatedAt:    time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "store bookmark", err)
	}
	return nil
}

func (r *BookmarkRepo) List(ctx context.Context, sessionID string) ([]models.BookmarkModel, error) {
	var rows []models.BookmarkModel
	q := r.db.WithContext(ctx).Order("id asc")
	if sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "list bookmarks", err)
	}
	return rows, nil
}

func (r *BookmarkRepo) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.BookmarkModel{}, id)
	if result.Error != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "delete bookmark", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NewNotFoundError("bookmark not found")
	}
	return nil
}

// GroupRepo assigns sessions to named groups.
type GroupRepo struct {
	db *gorm.DB
}

func NewGroupRepo(db *gorm.DB) *GroupRepo { return &GroupRepo{db: db} }

// Assign sets (or clears, with "") the group for a session.
func (r *GroupRepo) Assign(ctx context.Context, sessionID, group string) error {
	if group == "" {
		err := r.db.WithContext(ctx).Delete(&models.SessionGroupModel{}, "session_id = ?", sessionID).Error
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "clear session group", err)
		}
		return nil
	}
	row := models.SessionGroupModel{SessionID: sessionID, GroupName: group, UpdatedAt: time.Now()}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"group_name", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "assign session group", err)
	}
	return nil
}

// List returns group → session ids.
func (r *GroupRepo) List(ctx context.Context) (map[string][]string, error) {
	var rows []models.SessionGroupModel
	if err := r.db.WithContext(ctx).Order("group_name, session_id").Find(&rows).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "list session groups", err)
	}
	out := make(map[string][]string)
	for _, row := range rows {
		out[row.GroupName] = append(out[row.GroupName], row.SessionID)
	}
	return out, nil
}
