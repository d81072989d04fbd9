package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ringwise/ringwise-backend/pkg/db/models"
)

// LedgerState is the balance a ledger mutation leaves behind.
type LedgerState struct {
	MinutesRemaining int
	AgentEnabled     bool
}

// PlanReset describes a plan change. Included and remaining minutes are both
// set to Minutes and consumption starts over.
type PlanReset struct {
	PlanID      string
	Minutes     int
	RenewalDate time.Time
}

// Repository persists accounts. Balance changes go through the explicit
// operations below; there is no generic field update.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithTx binds the repository to an open transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx, now: r.now}
}

func (r *Repository) Create(ctx context.Context, account *models.Account) error {
	if account == nil {
		return errors.New("account is required")
	}
	return r.db.WithContext(ctx).Create(account).Error
}

// FindByID returns nil when the account does not exist.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// FindByVirtualNumber resolves the account currently holding phone.
func (r *Repository) FindByVirtualNumber(ctx context.Context, phone string) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).
		Table("accounts").
		Select("accounts.*").
		Joins("JOIN virtual_numbers ON virtual_numbers.assigned_user_id = accounts.id").
		Where("virtual_numbers.phone_number = ?", phone).
		Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// ApplyCallUsage debits billed minutes in one statement. The balance floors
// at zero and the agent is switched off when it gets there.
func (r *Repository) ApplyCallUsage(ctx context.Context, id uuid.UUID, billed int) (LedgerState, error) {
	if billed < 0 {
		billed = 0
	}
	rows, err := r.db.WithContext(ctx).Raw(`
UPDATE accounts
SET minutes_remaining = CASE WHEN minutes_remaining > ? THEN minutes_remaining - ? ELSE 0 END,
    minutes_consumed = minutes_consumed + ?,
    voice_agent_enabled = CASE WHEN minutes_remaining > ? THEN voice_agent_enabled ELSE FALSE END,
    updated_at = ?
WHERE id = ?
RETURNING minutes_remaining, voice_agent_enabled`,
		billed, billed, billed, billed, r.now(), id,
	).Rows()
	if err != nil {
		return LedgerState{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return LedgerState{}, err
		}
		return LedgerState{}, gorm.ErrRecordNotFound
	}
	var state LedgerState
	if err := rows.Scan(&state.MinutesRemaining, &state.AgentEnabled); err != nil {
		return LedgerState{}, err
	}
	return state, rows.Err()
}

// ResetPlan replaces the balance with the plan's minutes. Unused minutes from
// the previous period are dropped.
func (r *Repository) ResetPlan(ctx context.Context, id uuid.UUID, reset PlanReset) error {
	minutes := reset.Minutes
	if minutes < 0 {
		minutes = 0
	}
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"plan_id":             reset.PlanID,
			"minutes_included":    minutes,
			"minutes_remaining":   minutes,
			"minutes_consumed":    0,
			"voice_agent_enabled": minutes > 0,
			"renewal_date":        reset.RenewalDate,
			"updated_at":          r.now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *Repository) AssignVirtualNumber(ctx context.Context, id, numberID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"virtual_number_id": numberID,
			"updated_at":        r.now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetAgentEnabled toggles the voice agent. Enabling only succeeds while the
// account still has minutes; the boolean reports whether a row changed.
func (r *Repository) SetAgentEnabled(ctx context.Context, id uuid.UUID, enabled bool) (bool, error) {
	q := r.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id)
	if enabled {
		q = q.Where("minutes_remaining > 0")
	}
	res := q.Updates(map[string]any{
		"voice_agent_enabled": enabled,
		"updated_at":          r.now(),
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Account{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteCascade removes the account with its calls, subscriptions and
// payments, and returns its virtual number to the pool. Run it inside a
// transaction.
func (r *Repository) DeleteCascade(ctx context.Context, id uuid.UUID) error {
	db := r.db.WithContext(ctx)
	if err := db.Model(&models.VirtualNumber{}).
		Where("assigned_user_id = ?", id).
		Updates(map[string]any{
			"assigned_user_id": nil,
			"assigned_at":      nil,
			"updated_at":       r.now(),
		}).Error; err != nil {
		return err
	}
	if err := db.Where("account_id = ?", id).Delete(&models.CallRecord{}).Error; err != nil {
		return err
	}
	if err := db.Where("account_id = ?", id).Delete(&models.Payment{}).Error; err != nil {
		return err
	}
	if err := db.Where("account_id = ?", id).Delete(&models.Subscription{}).Error; err != nil {
		return err
	}
	return r.Delete(ctx, id)
}
