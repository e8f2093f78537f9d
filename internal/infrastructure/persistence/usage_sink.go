package persistence

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/salmalm/salmalm/internal/domain/entity"
	"github.com/salmalm/salmalm/internal/infrastructure/persistence/models"
	apperrors "github.com/salmalm/salmalm/pkg/errors"
)

// UsageSink persists meter records: one detail row per call and an upserted
// per-day per-model rollup. Implements usage.Sink.
type UsageSink struct {
	db *gorm.DB
}

// NewUsageSink builds the sink.
func NewUsageSink(db *gorm.DB) *UsageSink {
	return &UsageSink{db: db}
}

// AppendUsage writes one record.
func (s *UsageSink) AppendUsage(rec entity.UsageRecord) error {
	detail := models.UsageDetailModel{
		SessionID:    rec.SessionID,
		Model:        rec.Model,
		Intent:       rec.Intent,
		InputTokens:  rec.InputTokens,
		OutputTokens: rec.OutputTokens,
		CostUSD:      rec.CostUSD,
		CreatedAt:    rec.Timestamp,
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&detail).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "append usage detail", err)
		}
		stat := models.UsageStatModel{
			Day:          rec.Timestamp.Format("2006-01-02"),
			Model:        rec.Model,
			InputTokens:  int64(rec.InputTokens),
			OutputTokens: int64(rec.OutputTokens),
			CostUSD:      rec.CostUSD,
			Calls:        1,
			UpdatedAt:    time.Now(),
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "day"}, {Name: "model"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"input_tokens":  gorm.Expr("usage_stats.input_tokens + ?", stat.InputTokens),
				"output_tokens": gorm.Expr("usage_stats.output_tokens + ?", stat.OutputTokens),
				"cost_usd":      gorm.Expr("usage_stats.cost_usd + ?", stat.CostUSD),
				"calls":         gorm.Expr("usage_stats.calls + 1"),
				"updated_at":    time.Now(),
			}),
		}).Create(&stat).Error
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "upsert usage stat", err)
		}
		return nil
	})
}

// Stats returns the day rollups, newest first.
func (s *UsageSink) Stats(limitDays int) ([]models.UsageStatModel, error) {
	var rows []models.UsageStatModel
	q := s.db.Order("day desc, cost_usd desc")
	if limitDays > 0 {
		q = q.Where("day >= ?", time.Now().AddDate(0, 0, -limitDays).Format("2006-01-02"))
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "load usage stats", err)
	}
	return rows, nil
}
