package numbers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ringwise/ringwise-backend/pkg/db/models"
	"github.com/ringwise/ringwise-backend/pkg/enums"
)

// ListFilter narrows pool listings.
type ListFilter struct {
	CountryCode string
	Status      *enums.NumberStatus
	Assigned    *bool
	Limit       int
}

// Repository manages the virtual number pool.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx, now: r.now}
}

func (r *Repository) Create(ctx context.Context, number *models.VirtualNumber) error {
	if number == nil {
		return errors.New("virtual number is required")
	}
	return r.db.WithContext(ctx).Create(number).Error
}

// ClaimNext binds the oldest free active number of the country to accountID
// with a single conditional update. It returns nil when nothing was claimed,
// either because the pool is empty or because a concurrent claim won.
func (r *Repository) ClaimNext(ctx context.Context, accountID uuid.UUID, countryCode string) (*models.VirtualNumber, error) {
	now := r.now()
	rows, err := r.db.WithContext(ctx).Raw(`
UPDATE virtual_numbers
SET assigned_user_id = ?, assigned_at = ?, updated_at = ?
WHERE id = (
    SELECT id FROM virtual_numbers
    WHERE assigned_user_id IS NULL AND status = ? AND country_code = ?
    ORDER BY created_at ASC, id ASC
    LIMIT 1
)
AND assigned_user_id IS NULL
RETURNING id`,
		accountID, now, now, enums.NumberStatusActive, strings.ToUpper(countryCode),
	).Rows()
	if err != nil {
		return nil, err
	}
	var claimed uuid.UUID
	found := rows.Next()
	if found {
		err = rows.Scan(&claimed)
	}
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = rows.Err()
	}
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return r.FindByID(ctx, claimed)
}

// FindByID returns nil when the number does not exist.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.VirtualNumber, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindAssignedTo returns the number held by the account, or nil.
func (r *Repository) FindAssignedTo(ctx context.Context, accountID uuid.UUID) (*models.VirtualNumber, error) {
	return r.findOne(ctx, "assigned_user_id = ?", accountID)
}

func (r *Repository) FindByPhone(ctx context.Context, phone string) (*models.VirtualNumber, error) {
	return r.findOne(ctx, "phone_number = ?", phone)
}

func (r *Repository) findOne(ctx context.Context, query string, args ...any) (*models.VirtualNumber, error) {
	var number models.VirtualNumber
	if err := r.db.WithContext(ctx).Where(query, args...).First(&number).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &number, nil
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]models.VirtualNumber, error) {
	q := r.db.WithContext(ctx)
	if cc := strings.TrimSpace(filter.CountryCode); cc != "" {
		q = q.Where("country_code = ?", strings.ToUpper(cc))
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if filter.Assigned != nil {
		if *filter.Assigned {
			q = q.Where("assigned_user_id IS NOT NULL")
		} else {
			q = q.Where("assigned_user_id IS NULL")
		}
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	var numbers []models.VirtualNumber
	err := q.Order("country_code ASC").
		Order("created_at ASC").
		Limit(limit).
		Find(&numbers).Error
	return numbers, err
}

// ReleaseFrom returns the account's number to the pool.
func (r *Repository) ReleaseFrom(ctx context.Context, accountID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.VirtualNumber{}).
		Where("assigned_user_id = ?", accountID).
		Updates(map[string]any{
			"assigned_user_id": nil,
			"assigned_at":      nil,
			"updated_at":       r.now(),
		})
	return res.RowsAffected, res.Error
}
