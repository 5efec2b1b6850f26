package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/driftgate/driftgate/internal/chain"
	"github.com/driftgate/driftgate/internal/domain"
	"github.com/driftgate/driftgate/internal/orderbook"
	"github.com/driftgate/driftgate/pkg/config"
)

// feeClient 只编排费率采样的链访问桩
type feeClient struct {
	fees []uint64
	err  error
}

func (f *feeClient) GetRecentPriorityFees(context.Context) ([]uint64, error) {
	return f.fees, f.err
}

func (f *feeClient) SubmitTransaction(context.Context, []byte) (string, error) {
	return "", errors.New("not implemented")
}
func (f *feeClient) SubmitTransactionTo(context.Context, string, []byte) (string, error) {
	return "", errors.New("not implemented")
}
func (f *feeClient) GetSignatureStatus(context.Context, string) (*chain.SignatureStatus, error) {
	return nil, chain.ErrTxNotFound
}
func (f *feeClient) GetTransaction(context.Context, string) (*chain.TxResult, error) {
	return nil, chain.ErrTxNotFound
}
func (f *feeClient) GetAccount(context.Context, string) ([]byte, uint64, error) {
	return nil, 0, chain.ErrAccountNotFound
}
func (f *feeClient) GetBalance(context.Context, string) (uint64, error) { return 0, nil }
func (f *feeClient) GetLatestBlockhash(context.Context) (string, error) { return "hash", nil }
func (f *feeClient) SubscribeAccount(context.Context, string) (<-chan chain.AccountUpdate, error) {
	return nil, errors.New("not implemented")
}
func (f *feeClient) Endpoints() []string { return []string{"http://localhost"} }

var _ chain.Client = (*feeClient)(nil)

func newTestGateway(client chain.Client) *Gateway {
	cfg := config.Default()
	cfg.RPC.Endpoints = []string{"http://localhost"}
	cfg.Wallet.DefaultSubAccountID = 2
	return New(cfg, client, chain.NewReadOnlyWallet("auth"), chain.CommitmentConfirmed, nil, nil)
}

func TestEstimatePriorityFee_Percentile(t *testing.T) {
	fees := make([]uint64, 0, 100)
	for i := uint64(1); i <= 100; i++ {
		fees = append(fees, i*10)
	}
	g := newTestGateway(&feeClient{fees: fees})

	// 1..100 * 10 的 90 分位
	got := g.EstimatePriorityFee(context.Background())
	if got != 910 {
		t.Fatalf("expected 910, got %d", got)
	}
}

func TestEstimatePriorityFee_Fallback(t *testing.T) {
	// 采样失败
	g := newTestGateway(&feeClient{err: errors.New("rpc down")})
	if got := g.EstimatePriorityFee(context.Background()); got != fallbackPriorityFee {
		t.Fatalf("expected fallback, got %d", got)
	}
	// 采样为空
	g = newTestGateway(&feeClient{})
	if got := g.EstimatePriorityFee(context.Background()); got != fallbackPriorityFee {
		t.Fatalf("expected fallback, got %d", got)
	}
	// 采样全零
	g = newTestGateway(&feeClient{fees: []uint64{0, 0, 0}})
	if got := g.EstimatePriorityFee(context.Background()); got != fallbackPriorityFee {
		t.Fatalf("expected fallback for zero samples, got %d", got)
	}
}

func TestSubAccountResolution(t *testing.T) {
	g := newTestGateway(&feeClient{})

	if got := g.SubAccount(TxOptions{}); got != 2 {
		t.Fatalf("expected config default 2, got %d", got)
	}
	id := uint16(7)
	if got := g.SubAccount(TxOptions{SubAccountID: &id}); got != 7 {
		t.Fatalf("expected request override 7, got %d", got)
	}
}

func TestGetOrderbookRequiresProvider(t *testing.T) {
	g := newTestGateway(&feeClient{})
	_, err := g.GetOrderbook(context.Background(), domain.PerpMarket(0), 0)
	if !errors.Is(err, orderbook.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestReadOnlyGatewayRejectsWrites(t *testing.T) {
	g := newTestGateway(&feeClient{})
	_, err := g.submit(context.Background(), nil, TxOptions{})
	if !errors.Is(err, chain.ErrNoSigner) {
		t.Fatalf("expected ErrNoSigner, got %v", err)
	}
}
