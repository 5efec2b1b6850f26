// Package txstore 终态交易回执的本地日志，基于 badger 嵌入式 KV。
//
// 只记录终态（confirmed / failedOnchain / expired），供重启后排障与
// 对账查询使用；在途状态不落盘。
package txstore

import (
	"encoding/json"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/driftgate/driftgate/internal/txn"
	"github.com/driftgate/driftgate/pkg/logger"
)

const keyPrefix = "tx:"

// ErrNotFound 签名无记录
var ErrNotFound = errors.New("receipt not found")

// Store 回执存储
type Store struct {
	db  *badger.DB
	log *logrus.Entry
}

// Open 打开（或创建）存储目录
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithCompactL0OnClose(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open tx store")
	}
	return &Store{
		db:  db,
		log: logger.Logger.WithField("component", "txstore"),
	}, nil
}

// Record 写入一条终态回执（覆盖写，幂等）
func (s *Store) Record(receipt *txn.Receipt) error {
	if !receipt.Status.Terminal() {
		return errors.Errorf("receipt %s is not terminal: %s", receipt.Signature, receipt.Status)
	}
	raw, err := json.Marshal(receipt)
	if err != nil {
		return errors.Wrap(err, "marshal receipt")
	}
	err = s.db.Update(func(txd *badger.Txn) error {
		return txd.Set([]byte(keyPrefix+receipt.Signature), raw)
	})
	return errors.Wrap(err, "record receipt")
}

// Get 按签名查询回执
func (s *Store) Get(signature string) (*txn.Receipt, error) {
	var receipt txn.Receipt
	err := s.db.View(func(txd *badger.Txn) error {
		item, err := txd.Get([]byte(keyPrefix + signature))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &receipt)
		})
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Recent 按前缀遍历最近的回执（排障用，最多 limit 条）
func (s *Store) Recent(limit int) ([]*txn.Receipt, error) {
	var out []*txn.Receipt
	err := s.db.View(func(txd *badger.Txn) error {
		it := txd.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			var receipt txn.Receipt
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &receipt)
			})
			if err != nil {
				return err
			}
			out = append(out, &receipt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close 关闭存储
func (s *Store) Close() error {
	return s.db.Close()
}
