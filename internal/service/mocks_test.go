package service

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/p2deal/dealbot/internal/model"
	"github.com/p2deal/dealbot/internal/repository"
	"github.com/p2deal/dealbot/internal/transport"
)

// Mock transport

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) GetConversation(ctx context.Context, conversationID string) (*transport.Conversation, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*transport.Conversation), args.Error(1)
}

func (m *mockTransport) RecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	args := m.Called(ctx, conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *mockTransport) ResolveAddress(ctx context.Context, inboxID string) (string, error) {
	args := m.Called(ctx, inboxID)
	return args.String(0), args.Error(1)
}

func (m *mockTransport) SendText(ctx context.Context, conversationID, text string) (string, error) {
	args := m.Called(ctx, conversationID, text)
	return args.String(0), args.Error(1)
}

func (m *mockTransport) SendReply(ctx context.Context, conversationID, referenceID, text string) (string, error) {
	args := m.Called(ctx, conversationID, referenceID, text)
	return args.String(0), args.Error(1)
}

func (m *mockTransport) React(ctx context.Context, conversationID, targetID, emoji string) error {
	args := m.Called(ctx, conversationID, targetID, emoji)
	return args.Error(0)
}

func (m *mockTransport) RemoveReaction(ctx context.Context, conversationID, targetID, emoji string) error {
	args := m.Called(ctx, conversationID, targetID, emoji)
	return args.Error(0)
}

func (m *mockTransport) LoadAttachment(ctx context.Context, msg *model.Message) ([]byte, string, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}

// Mock AI generator

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) GenerateListing(ctx context.Context, description, imageURL string) (*model.Listing, error) {
	args := m.Called(ctx, description, imageURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Listing), args.Error(1)
}

func (m *mockGenerator) GenerateImage(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

// Mock object store

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Upload(ctx context.Context, bucket string, data []byte, mimeType string, signed bool) (string, error) {
	args := m.Called(ctx, bucket, data, mimeType, signed)
	return args.String(0), args.Error(1)
}

func (m *mockStore) Download(ctx context.Context, url string) ([]byte, string, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}

// Mock repositories

type mockMerchantRepo struct {
	mock.Mock
}

func (m *mockMerchantRepo) FindByID(ctx context.Context, id string) (*model.Merchant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Merchant), args.Error(1)
}

func (m *mockMerchantRepo) FindByAddress(ctx context.Context, address string) (*model.Merchant, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Merchant), args.Error(1)
}

func (m *mockMerchantRepo) Create(ctx context.Context, params model.CreateMerchantParams) (*model.Merchant, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Merchant), args.Error(1)
}

func (m *mockMerchantRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockMerchantRepo) WithTx(tx *sqlx.Tx) repository.MerchantRepository {
	return m
}

type mockListingRepo struct {
	mock.Mock
}

func (m *mockListingRepo) FindByID(ctx context.Context, id string) (*model.ListingRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ListingRecord), args.Error(1)
}

func (m *mockListingRepo) FindByMerchant(ctx context.Context, merchantID string, limit, offset int) ([]model.ListingRecord, error) {
	args := m.Called(ctx, merchantID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ListingRecord), args.Error(1)
}

func (m *mockListingRepo) Create(ctx context.Context, params model.CreateListingParams) (*model.ListingRecord, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ListingRecord), args.Error(1)
}

func (m *mockListingRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockListingRepo) WithTx(tx *sqlx.Tx) repository.ListingRepository {
	return m
}

// Mock deduper

type mockDeduper struct {
	seen map[string]bool
}

func newMockDeduper() *mockDeduper {
	return &mockDeduper{seen: make(map[string]bool)}
}

func (m *mockDeduper) Seen(ctx context.Context, messageID string) bool {
	if m.seen[messageID] {
		return true
	}
	m.seen[messageID] = true
	return false
}

// Message builders shared across tests

func textMsg(id, convID, sender, text string) model.Message {
	return model.Message{ID: id, ConversationID: convID, SenderInboxID: sender, Kind: model.KindText, Text: text}
}

func replyMsg(id, convID, sender, refID, text string) model.Message {
	return model.Message{
		ID: id, ConversationID: convID, SenderInboxID: sender, Kind: model.KindReply,
		Reply: &model.ReplyContent{ReferenceID: refID, Text: text},
	}
}

func imageMsg(id, convID, sender string) model.Message {
	return model.Message{
		ID: id, ConversationID: convID, SenderInboxID: sender, Kind: model.KindAttachment,
		Attachment: &model.AttachmentContent{Filename: "item.jpg", MimeType: "image/jpeg", Data: []byte{0xFF}},
	}
}

func reactionMsg(id, convID, sender, targetID, emoji string) model.Message {
	return model.Message{
		ID: id, ConversationID: convID, SenderInboxID: sender, Kind: model.KindReaction,
		Reaction: &model.ReactionContent{TargetID: targetID, Emoji: emoji, Action: model.ReactionAdded},
	}
}
