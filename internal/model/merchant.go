package model

import "time"

type Merchant struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"userId"`
	WalletAddress string    `db:"wallet_address" json:"walletAddress"`
	DisplayName   *string   `db:"display_name" json:"displayName,omitempty"`
	PickupZip     *string   `db:"pickup_zip" json:"pickupZip,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

type CreateMerchantParams struct {
	UserID        string
	WalletAddress string
	DisplayName   *string
	PickupZip     *string
}

type ListingRecord struct {
	ID             string    `db:"id" json:"id"`
	MerchantID     string    `db:"merchant_id" json:"merchantId"`
	UserID         string    `db:"user_id" json:"userId"`
	Title          string    `db:"title" json:"title"`
	Description    string    `db:"description" json:"description"`
	PriceValue     string    `db:"price_value" json:"priceValue"`
	PriceAsset     string    `db:"price_asset" json:"priceAsset"`
	Inventory      int       `db:"inventory" json:"inventory"`
	PickupZip      string    `db:"pickup_zip" json:"pickupZip"`
	Deliverable    bool      `db:"deliverable" json:"deliverable"`
	ImageURL       string    `db:"image_url" json:"imageUrl"`
	ConversationID *string   `db:"conversation_id" json:"conversationId,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

type CreateListingParams struct {
	MerchantID     string
	UserID         string
	Title          string
	Description    string
	PriceValue     string
	PriceAsset     string
	Inventory      int
	PickupZip      string
	Deliverable    bool
	ImageURL       string
	ConversationID *string
}
