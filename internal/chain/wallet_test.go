package chain

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"testing"
)

const seedHex = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d"

func TestKeypairSigner_SignVerify(t *testing.T) {
	signer, err := NewKeypairSigner(seedHex)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	msg := []byte("payload")
	sig, err := signer.Sign(msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	pub, err := hex.DecodeString(signer.PublicKey())
	if err != nil {
		t.Fatalf("decode pubkey: %v", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		t.Fatal("signature does not verify")
	}
}

func TestKeypairSigner_BadSeed(t *testing.T) {
	if _, err := NewKeypairSigner("zz"); err == nil {
		t.Fatal("expected error for non-hex seed")
	}
	if _, err := NewKeypairSigner("abcd"); err == nil {
		t.Fatal("expected error for short seed")
	}
}

func TestWallet_SubAccountDerivation(t *testing.T) {
	w := NewReadOnlyWallet("authority-A")

	// 同 id 稳定，不同 id / 不同 authority 地址不同
	if w.SubAccount(0) != w.SubAccount(0) {
		t.Fatal("derivation must be deterministic")
	}
	if w.SubAccount(0) == w.SubAccount(1) {
		t.Fatal("distinct sub-account ids must derive distinct addresses")
	}
	other := NewReadOnlyWallet("authority-B")
	if w.SubAccount(0) == other.SubAccount(0) {
		t.Fatal("distinct authorities must derive distinct addresses")
	}
}

func TestWallet_ReadOnlyCannotSign(t *testing.T) {
	w := NewReadOnlyWallet("watcher")
	if !w.IsReadOnly() {
		t.Fatal("expected read-only wallet")
	}
	if _, err := w.SignTx([]byte("x")); !errors.Is(err, ErrNoSigner) {
		t.Fatalf("expected ErrNoSigner, got %v", err)
	}
}

func TestWallet_Delegated(t *testing.T) {
	signer, err := NewKeypairSigner(seedHex)
	if err != nil {
		t.Fatal(err)
	}
	w := NewDelegatedWallet(signer, "principal-authority")
	if !w.IsDelegated() || w.IsReadOnly() {
		t.Fatalf("unexpected wallet mode: delegated=%v readOnly=%v", w.IsDelegated(), w.IsReadOnly())
	}
	// 子账户派生基于 authority，而不是签名者公钥
	if w.Authority() != "principal-authority" {
		t.Fatalf("authority mismatch: %s", w.Authority())
	}
	direct := NewWallet(signer)
	if w.SubAccount(0) == direct.SubAccount(0) {
		t.Fatal("delegated wallet must derive from the principal authority")
	}
}

func TestCommitment_AtLeast(t *testing.T) {
	if !CommitmentFinalized.AtLeast(CommitmentConfirmed) {
		t.Fatal("finalized >= confirmed")
	}
	if CommitmentProcessed.AtLeast(CommitmentConfirmed) {
		t.Fatal("processed < confirmed")
	}
	if _, err := ParseCommitment("sorta"); err == nil {
		t.Fatal("expected parse error")
	}
}
