package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/p2deal/dealbot/internal/model"
)

type ListingRepository interface {
	FindByID(ctx context.Context, id string) (*model.ListingRecord, error)
	FindByMerchant(ctx context.Context, merchantID string, limit, offset int) ([]model.ListingRecord, error)
	Create(ctx context.Context, params model.CreateListingParams) (*model.ListingRecord, error)
	Count(ctx context.Context) (int, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) ListingRepository
}

type listingRepo struct {
	db sqlxDB
}

func NewListingRepository(db *sqlx.DB) ListingRepository {
	return &listingRepo{db: db}
}

func (r *listingRepo) WithTx(tx *sqlx.Tx) ListingRepository {
	return &listingRepo{db: tx}
}

func (r *listingRepo) FindByID(ctx context.Context, id string) (*model.ListingRecord, error) {
	var listing model.ListingRecord
	err := r.db.GetContext(ctx, &listing, `
		SELECT * FROM listings WHERE id = $1
	`, id)
	return HandleNotFound(&listing, err)
}

func (r *listingRepo) FindByMerchant(ctx context.Context, merchantID string, limit, offset int) ([]model.ListingRecord, error) {
	var listings []model.ListingRecord
	err := r.db.SelectContext(ctx, &listings, `
		SELECT * FROM listings
		WHERE merchant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, merchantID, limit, offset)
	if err != nil {
		return nil, err
	}
	return listings, nil
}

func (r *listingRepo) Create(ctx context.Context, params model.CreateListingParams) (*model.ListingRecord, error) {
	var listing model.ListingRecord
	err := r.db.GetContext(ctx, &listing, `
		INSERT INTO listings (merchant_id, user_id, title, description, price_value, price_asset,
			inventory, pickup_zip, deliverable, image_url, conversation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING *
	`, params.MerchantID, params.UserID, params.Title, params.Description, params.PriceValue,
		params.PriceAsset, params.Inventory, params.PickupZip, params.Deliverable,
		params.ImageURL, params.ConversationID)
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

func (r *listingRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM listings`)
	return count, err
}
