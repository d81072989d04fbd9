package calls

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ringwise/ringwise-backend/pkg/db/models"
	"github.com/ringwise/ringwise-backend/pkg/pagination"
)

// Repository stores call records. Rows are append-only; only the archived
// recording URL is ever filled in afterwards.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// InsertIfAbsent inserts the record unless its provider call id is already
// stored. The boolean reports whether this call won the insert.
func (r *Repository) InsertIfAbsent(ctx context.Context, record *models.CallRecord) (bool, error) {
	if record == nil {
		return false, errors.New("call record is required")
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_call_id"}},
			DoNothing: true,
		}).
		Create(record)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FindByProviderCallID returns nil when no record exists.
func (r *Repository) FindByProviderCallID(ctx context.Context, providerCallID string) (*models.CallRecord, error) {
	var record models.CallRecord
	if err := r.db.WithContext(ctx).
		Where("provider_call_id = ?", providerCallID).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// ListByAccount returns calls newest first using keyset pagination.
func (r *Repository) ListByAccount(ctx context.Context, accountID uuid.UUID, params pagination.Params) ([]models.CallRecord, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", err
	}
	limit := pagination.NormalizeLimit(params.Limit)

	q := r.db.WithContext(ctx).Where("account_id = ?", accountID)
	if cursor != nil {
		q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.CallRecord
	if err := q.Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(limit)).
		Find(&rows).Error; err != nil {
		return nil, "", err
	}

	next := ""
	if len(rows) > limit {
		last := rows[limit-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		rows = rows[:limit]
	}
	return rows, next, nil
}

// PendingArchive lists recent calls still pointing at the provider's
// transient recording URL.
func (r *Repository) PendingArchive(ctx context.Context, since time.Time, limit int) ([]models.CallRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.CallRecord
	err := r.db.WithContext(ctx).
		Where("archived_recording_url IS NULL").
		Where("recording_url IS NOT NULL AND recording_url <> ''").
		Where("created_at >= ?", since).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// AttachArchivedURL sets the durable URL once. The boolean is false when
// another writer got there first.
func (r *Repository) AttachArchivedURL(ctx context.Context, id uuid.UUID, url string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CallRecord{}).
		Where("id = ? AND archived_recording_url IS NULL", id).
		Update("archived_recording_url", url)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) DeleteForAccount(ctx context.Context, accountID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("account_id = ?", accountID).Delete(&models.CallRecord{}).Error
}
