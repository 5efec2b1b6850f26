package chain

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/pkg/errors"
)

// Signer 签名能力（外部协作者，网关只依赖这个接口）
type Signer interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() string
}

// Wallet 管理签名者与交易主体（authority）的关系。
// 三种合法配置：
//  1. normal：signer 即 authority
//  2. delegated：signer 为受托 key，所有读写作用于 authority 的子账户
//  3. emulation：无 signer，只读
type Wallet struct {
	authority string
	signer    Signer
	delegated bool
}

// NewWallet 普通模式
func NewWallet(signer Signer) *Wallet {
	return &Wallet{authority: signer.PublicKey(), signer: signer}
}

// NewDelegatedWallet 委托签名模式：authority 的子账户，delegate 的签名
func NewDelegatedWallet(signer Signer, authority string) *Wallet {
	return &Wallet{authority: authority, signer: signer, delegated: true}
}

// NewReadOnlyWallet emulation 模式：无签名者，写路径全部失败
func NewReadOnlyWallet(authority string) *Wallet {
	return &Wallet{authority: authority}
}

func (w *Wallet) Authority() string { return w.authority }
func (w *Wallet) IsDelegated() bool { return w.delegated }
func (w *Wallet) IsReadOnly() bool  { return w.signer == nil }

// SignerKey 返回签名者公钥；只读模式返回 authority（仅展示用途）
func (w *Wallet) SignerKey() string {
	if w.signer == nil {
		return w.authority
	}
	return w.signer.PublicKey()
}

// SubAccount 推导子账户地址：authority + 小端 id 的哈希派生
func (w *Wallet) SubAccount(id uint16) string {
	h := sha256.New()
	h.Write([]byte(w.authority))
	h.Write([]byte("sub-account"))
	var idle [2]byte
	binary.LittleEndian.PutUint16(idle[:], id)
	h.Write(idle[:])
	return hex.EncodeToString(h.Sum(nil))
}

// SignTx 对交易消息签名；只读模式返回 ErrNoSigner
func (w *Wallet) SignTx(msg []byte) ([]byte, error) {
	if w.signer == nil {
		return nil, ErrNoSigner
	}
	return w.signer.Sign(msg)
}

// KeypairSigner ed25519 keypair 签名者（hex 编码的 32 字节 seed）
type KeypairSigner struct {
	priv ed25519.PrivateKey
}

// NewKeypairSigner 从 hex seed 构造签名者
func NewKeypairSigner(seedHex string) (*KeypairSigner, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, errors.Wrap(err, "decode key seed")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errors.Errorf("expected %d byte seed, got %d", ed25519.SeedSize, len(seed))
	}
	return &KeypairSigner{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

func (k *KeypairSigner) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, msg), nil
}

func (k *KeypairSigner) PublicKey() string {
	return hex.EncodeToString(k.priv.Public().(ed25519.PublicKey))
}
