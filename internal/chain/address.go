package chain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// MarketAddress 推导市场账户地址（协议程序的确定性派生）
func MarketAddress(kind string, index uint16) string {
	h := sha256.New()
	h.Write([]byte("market"))
	h.Write([]byte(kind))
	var idle [2]byte
	binary.LittleEndian.PutUint16(idle[:], index)
	h.Write(idle[:])
	return hex.EncodeToString(h.Sum(nil))
}
