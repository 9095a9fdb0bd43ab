package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/rentdesk/internal/adapters/gormstore/gormdb"
	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
)

type AccountRepository struct {
	db *gormdb.DB
}

func NewAccountRepository(db *gormdb.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create stores a new account. The email check runs inside the write
// transaction, so two signups racing for one address cannot both succeed.
func (r *AccountRepository) Create(ctx context.Context, account domain.Account) error {
	model := userModel{
		UID:          account.UID,
		Email:        account.Email,
		DisplayName:  account.DisplayName,
		PasswordHash: account.PasswordHash,
		CreatedAt:    account.CreatedAt.UTC(),
		LastLogin:    account.LastLogin.UTC(),
	}
	return r.db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		var count int64
		if err := tx.Model(&userModel{}).Where("email = ?", account.Email).Count(&count).Error; err != nil {
			return fmt.Errorf("check email: %w", err)
		}
		if count > 0 {
			return domain.ErrEmailInUse
		}
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		return nil
	})
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (domain.Account, error) {
	return r.find(ctx, "email = ?", email)
}

func (r *AccountRepository) FindByUID(ctx context.Context, uid string) (domain.Account, error) {
	return r.find(ctx, "uid = ?", uid)
}

func (r *AccountRepository) TouchLastLogin(ctx context.Context, uid string, at time.Time) error {
	err := r.db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		res := tx.Model(&userModel{}).Where("uid = ?", uid).Update("last_login", at.UTC())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("touch last login: %w", err)
	}
	return err
}

func (r *AccountRepository) find(ctx context.Context, where string, arg string) (domain.Account, error) {
	var model userModel
	err := r.db.ReadTX(ctx, func(tx *gormdb.Tx) error {
		return tx.Where(where, arg).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("find account: %w", err)
	}
	return toAccountDomain(model), nil
}
