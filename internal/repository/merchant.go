package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/p2deal/dealbot/internal/model"
)

type MerchantRepository interface {
	FindByID(ctx context.Context, id string) (*model.Merchant, error)
	FindByAddress(ctx context.Context, address string) (*model.Merchant, error)
	Create(ctx context.Context, params model.CreateMerchantParams) (*model.Merchant, error)
	Count(ctx context.Context) (int, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) MerchantRepository
}

type merchantRepo struct {
	db sqlxDB
}

// sqlxDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type sqlxDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func NewMerchantRepository(db *sqlx.DB) MerchantRepository {
	return &merchantRepo{db: db}
}

func (r *merchantRepo) WithTx(tx *sqlx.Tx) MerchantRepository {
	return &merchantRepo{db: tx}
}

func (r *merchantRepo) FindByID(ctx context.Context, id string) (*model.Merchant, error) {
	var merchant model.Merchant
	err := r.db.GetContext(ctx, &merchant, `
		SELECT * FROM merchants WHERE id = $1
	`, id)
	return HandleNotFound(&merchant, err)
}

func (r *merchantRepo) FindByAddress(ctx context.Context, address string) (*model.Merchant, error) {
	var merchant model.Merchant
	err := r.db.GetContext(ctx, &merchant, `
		SELECT * FROM merchants WHERE lower(wallet_address) = lower($1)
	`, strings.TrimSpace(address))
	return HandleNotFound(&merchant, err)
}

func (r *merchantRepo) Create(ctx context.Context, params model.CreateMerchantParams) (*model.Merchant, error) {
	var merchant model.Merchant
	err := r.db.GetContext(ctx, &merchant, `
		INSERT INTO merchants (user_id, wallet_address, display_name, pickup_zip)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, params.UserID, params.WalletAddress, params.DisplayName, params.PickupZip)
	if err != nil {
		return nil, err
	}
	return &merchant, nil
}

func (r *merchantRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM merchants`)
	return count, err
}
