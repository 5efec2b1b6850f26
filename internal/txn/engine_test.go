package txn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/driftgate/driftgate/internal/chain"
	"github.com/driftgate/driftgate/internal/command"
)

const testSeed = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d"

func testWallet(t *testing.T) *chain.Wallet {
	t.Helper()
	signer, err := chain.NewKeypairSigner(testSeed)
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	return chain.NewWallet(signer)
}

// mockClient 可编排确认状态的链访问桩
type mockClient struct {
	mu sync.Mutex

	submitErr error
	// statuses 依查询次序返回；耗尽后重复最后一个
	statuses []statusReply
	queries  int
	submits  int
	result   *chain.TxResult
}

type statusReply struct {
	status *chain.SignatureStatus
	err    error
}

func (m *mockClient) SubmitTransaction(_ context.Context, _ []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submits++
	if m.submitErr != nil {
		return "", m.submitErr
	}
	return "sig", nil
}

func (m *mockClient) SubmitTransactionTo(ctx context.Context, _ string, raw []byte) (string, error) {
	return m.SubmitTransaction(ctx, raw)
}

func (m *mockClient) GetSignatureStatus(_ context.Context, _ string) (*chain.SignatureStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.queries
	if idx >= len(m.statuses) {
		idx = len(m.statuses) - 1
	}
	m.queries++
	if idx < 0 {
		return nil, chain.ErrTxNotFound
	}
	reply := m.statuses[idx]
	return reply.status, reply.err
}

func (m *mockClient) GetTransaction(context.Context, string) (*chain.TxResult, error) {
	if m.result == nil {
		return nil, chain.ErrTxNotFound
	}
	return m.result, nil
}

func (m *mockClient) GetAccount(context.Context, string) ([]byte, uint64, error) {
	return nil, 0, chain.ErrAccountNotFound
}
func (m *mockClient) GetBalance(context.Context, string) (uint64, error) { return 0, nil }
func (m *mockClient) GetLatestBlockhash(context.Context) (string, error) {
	return "blockhash-1", nil
}
func (m *mockClient) GetRecentPriorityFees(context.Context) ([]uint64, error) { return nil, nil }
func (m *mockClient) SubscribeAccount(context.Context, string) (<-chan chain.AccountUpdate, error) {
	return nil, nil
}
func (m *mockClient) Endpoints() []string { return []string{"http://primary", "http://backup"} }

var _ chain.Client = (*mockClient)(nil)

func newTestEngine(client chain.Client, wallet *chain.Wallet, ttl time.Duration) *Engine {
	return NewEngine(client, wallet, Config{
		DefaultTTL:  ttl,
		MaxTTL:      2 * ttl,
		Rebroadcast: 10 * time.Millisecond,
		Commitment:  chain.CommitmentConfirmed,
	})
}

func testInstructions() []command.Instruction {
	return command.ComputeBudget(200_000, 1000)
}

func TestEngine_Confirm(t *testing.T) {
	client := &mockClient{statuses: []statusReply{
		{err: chain.ErrTxNotFound},
		{status: &chain.SignatureStatus{Slot: 42, Commitment: chain.CommitmentConfirmed}},
	}}
	engine := newTestEngine(client, testWallet(t), time.Second)

	pending, err := engine.Submit(context.Background(), testInstructions(), Options{})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	receipt, err := pending.Wait(ctx)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if receipt.Status != StatusConfirmed || receipt.Slot != 42 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	// 第一次查询 not-found 触发过一次重播
	if receipt.Rebroadcasts < 1 {
		t.Fatalf("expected at least one rebroadcast, got %d", receipt.Rebroadcasts)
	}
	if engine.InFlight() != 0 {
		t.Fatalf("pending set not drained")
	}
}

func TestEngine_FailedOnchain(t *testing.T) {
	client := &mockClient{statuses: []statusReply{
		{status: &chain.SignatureStatus{
			Slot:       7,
			Commitment: chain.CommitmentConfirmed,
			Err:        &chain.ExecError{Code: 6059, Message: "order would cross"},
		}},
	}}
	engine := newTestEngine(client, testWallet(t), time.Second)

	pending, err := engine.Submit(context.Background(), testInstructions(), Options{})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	receipt, err := pending.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if receipt.Status != StatusFailedOnchain || receipt.Err == nil || receipt.Err.Code != 6059 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
}

func TestEngine_ExpireAtTTL(t *testing.T) {
	client := &mockClient{statuses: []statusReply{
		{err: chain.ErrTxNotFound},
	}}
	engine := newTestEngine(client, testWallet(t), 100*time.Millisecond)

	pending, err := engine.Submit(context.Background(), testInstructions(), Options{})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	receipt, err := pending.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if receipt.Status != StatusExpired {
		t.Fatalf("expected expired, got %s", receipt.Status)
	}
}

func TestEngine_PreflightRejectFailsFast(t *testing.T) {
	client := &mockClient{
		submitErr: &chain.RejectedError{Code: 6001, Reason: "invalid order"},
	}
	engine := newTestEngine(client, testWallet(t), time.Second)

	_, err := engine.Submit(context.Background(), testInstructions(), Options{})
	if !chain.IsRejected(err) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if engine.InFlight() != 0 {
		t.Fatalf("rejected tx must not stay pending")
	}
}

func TestEngine_ReadOnlyWalletCannotSubmit(t *testing.T) {
	engine := newTestEngine(&mockClient{}, chain.NewReadOnlyWallet("watch-only"), time.Second)
	_, err := engine.Submit(context.Background(), testInstructions(), Options{})
	if !errors.Is(err, chain.ErrNoSigner) {
		t.Fatalf("expected ErrNoSigner, got %v", err)
	}
}

func TestEngine_DuplicateSubmitIsIdempotent(t *testing.T) {
	client := &mockClient{statuses: []statusReply{
		{err: chain.ErrTxNotFound},
	}}
	engine := newTestEngine(client, testWallet(t), 500*time.Millisecond)

	// 同一 blockhash + 同一指令 -> 同一签名
	p1, err := engine.Submit(context.Background(), testInstructions(), Options{})
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	p2, err := engine.Submit(context.Background(), testInstructions(), Options{})
	if err != nil {
		t.Fatalf("second submit failed: %v", err)
	}
	if p1 != p2 {
		t.Fatalf("duplicate submit must return the same pending handle")
	}

	receipt, err := p1.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if receipt.Status != StatusExpired {
		t.Fatalf("unexpected terminal status: %s", receipt.Status)
	}
}

func TestEngine_ConfirmedCallbackReceivesLogs(t *testing.T) {
	client := &mockClient{
		statuses: []statusReply{
			{status: &chain.SignatureStatus{Slot: 5, Commitment: chain.CommitmentFinalized}},
		},
		result: &chain.TxResult{Slot: 5, Logs: []string{"Program data: e30="}},
	}
	engine := newTestEngine(client, testWallet(t), time.Second)

	got := make(chan string, 1)
	engine.OnConfirmed(func(signature string, result *chain.TxResult) {
		if len(result.Logs) == 1 {
			got <- signature
		}
	})

	pending, err := engine.Submit(context.Background(), testInstructions(), Options{})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := pending.Wait(context.Background()); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	select {
	case sig := <-got:
		if sig != pending.Signature {
			t.Fatalf("callback got wrong signature: %s", sig)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("confirmed callback never fired")
	}
}
