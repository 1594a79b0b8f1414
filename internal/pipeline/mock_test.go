package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/leadextract/pkg/highlevel"
	"github.com/sells-group/leadextract/pkg/llm"
	"github.com/sells-group/leadextract/pkg/wallet"
)

type mockCRM struct {
	mock.Mock
}

func (m *mockCRM) GetContact(ctx context.Context, token, contactID string) (*highlevel.Contact, error) {
	args := m.Called(ctx, token, contactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*highlevel.Contact), args.Error(1)
}

func (m *mockCRM) UpdateContact(ctx context.Context, token, contactID string, update highlevel.ContactUpdate) (*highlevel.Contact, error) {
	args := m.Called(ctx, token, contactID, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*highlevel.Contact), args.Error(1)
}

func (m *mockCRM) RefreshToken(ctx context.Context, refreshToken string) (*highlevel.TokenResponse, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*highlevel.TokenResponse), args.Error(1)
}

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) CreateMessage(ctx context.Context, req llm.MessageRequest) (*llm.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.MessageResponse), args.Error(1)
}

type mockWallet struct {
	mock.Mock
}

func (m *mockWallet) HasFunds(ctx context.Context, companyID string) (bool, error) {
	args := m.Called(ctx, companyID)
	return args.Bool(0), args.Error(1)
}

func (m *mockWallet) CreateCharge(ctx context.Context, req wallet.ChargeRequest) (*wallet.ChargeResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.ChargeResponse), args.Error(1)
}
