package lnwallet

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnchan/lnwallet/chainfee"
	"github.com/lightningnetwork/lnchan/lnwire"
	"github.com/stretchr/testify/mock"
)

// MockWallet is a mock implementation of the Wallet interface.
type MockWallet struct {
	mock.Mock
}

// A compile time check to ensure MockWallet implements the Wallet interface.
var _ Wallet = (*MockWallet)(nil)

func (m *MockWallet) DustLimit() btcutil.Amount {
	args := m.Called()

	return args.Get(0).(btcutil.Amount)
}

func (m *MockWallet) CheckFunds(ctx context.Context,
	amt btcutil.Amount) (bool, error) {

	args := m.Called(ctx, amt)

	return args.Bool(0), args.Error(1)
}

func (m *MockWallet) DeriveFundingKey(
	ctx context.Context) (*btcec.PrivateKey, error) {

	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*btcec.PrivateKey), args.Error(1)
}

func (m *MockWallet) DeriveBasePointSecrets(
	ctx context.Context) (*BasePointSecrets, error) {

	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*BasePointSecrets), args.Error(1)
}

func (m *MockWallet) DerivePerCommitmentSeed(
	ctx context.Context) ([32]byte, error) {

	args := m.Called(ctx)

	return args.Get(0).([32]byte), args.Error(1)
}

func (m *MockWallet) FundTx(ctx context.Context, output *wire.TxOut,
	feeRate chainfee.SatPerKWeight) (*wire.MsgTx, error) {

	args := m.Called(ctx, output, feeRate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*wire.MsgTx), args.Error(1)
}

func (m *MockWallet) BroadcastTx(ctx context.Context, tx *wire.MsgTx) error {
	args := m.Called(ctx, tx)

	return args.Error(0)
}

func (m *MockWallet) BestHeight(ctx context.Context) (uint32, error) {
	args := m.Called(ctx)

	return args.Get(0).(uint32), args.Error(1)
}

// MockPeerMessenger is a mock implementation of the PeerMessenger
// interface.
type MockPeerMessenger struct {
	mock.Mock
}

// A compile time check to ensure MockPeerMessenger implements the
// PeerMessenger interface.
var _ PeerMessenger = (*MockPeerMessenger)(nil)

func (m *MockPeerMessenger) SendMessage(ctx context.Context,
	peer *btcec.PublicKey, msg lnwire.Message) error {

	args := m.Called(ctx, peer, msg)

	return args.Error(0)
}

// ExpectTestKeys sets up the key derivation calls of a wallet to return
// keys.
func (m *MockWallet) ExpectTestKeys(keys *TestKeySet) {
	m.On("DeriveFundingKey", mock.Anything).Return(keys.FundingKey, nil)

	secrets := keys.BasePoints
	m.On("DeriveBasePointSecrets", mock.Anything).Return(&secrets, nil)
	m.On("DerivePerCommitmentSeed", mock.Anything).Return(keys.Seed, nil)
}
