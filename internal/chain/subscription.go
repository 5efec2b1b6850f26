package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/driftgate/driftgate/pkg/sigchan"
)

const (
	subReconnectDelay    = 2 * time.Second
	subMaxReconnectDelay = 30 * time.Second
	subPingInterval      = 30 * time.Second
	subWriteTimeout      = 10 * time.Second
	subUpdateBuffer      = 64
)

// accountSubscription 单个账户的变更订阅。
// 每个订阅持有独立连接；断线后指数退避重连并重新订阅。
type accountSubscription struct {
	endpoint   string
	pubkey     string
	commitment Commitment

	conn   *websocket.Conn
	connMu sync.Mutex

	updates   chan AccountUpdate
	reconnect *sigchan.Chan
	log       *logrus.Entry
}

// SubscribeAccount 订阅账户变更，返回更新流。
// ctx 结束后流关闭，内部 goroutine 退出。
func (c *RPCClient) SubscribeAccount(ctx context.Context, pubkey string) (<-chan AccountUpdate, error) {
	if c.wsEndpoint == "" {
		return nil, errors.New("no ws endpoint configured")
	}
	sub := &accountSubscription{
		endpoint:   c.wsEndpoint,
		pubkey:     pubkey,
		commitment: c.stateCommit,
		updates:    make(chan AccountUpdate, subUpdateBuffer),
		reconnect:  sigchan.New(1),
		log:        c.log.WithField("sub", pubkey),
	}
	if err := sub.connect(ctx); err != nil {
		return nil, err
	}
	go sub.run(ctx)
	return sub.updates, nil
}

func (s *accountSubscription) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "ws dial")
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "accountSubscribe",
		Params: []any{s.pubkey, map[string]any{
			"encoding":   "base64",
			"commitment": s.commitment,
		}},
	}
	conn.SetWriteDeadline(time.Now().Add(subWriteTimeout))
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return errors.Wrap(err, "ws subscribe")
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	return nil
}

// run 驱动 readLoop + ping + 重连，直到 ctx 结束
func (s *accountSubscription) run(ctx context.Context) {
	defer close(s.updates)
	defer s.closeConn()

	go s.readLoop(ctx)

	ping := time.NewTicker(subPingInterval)
	defer ping.Stop()

	delay := subReconnectDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.SetWriteDeadline(time.Now().Add(subWriteTimeout))
				_ = s.conn.WriteMessage(websocket.PingMessage, nil)
			}
			s.connMu.Unlock()
		case <-s.reconnect.C():
			s.closeConn()
			for {
				if err := s.connect(ctx); err != nil {
					s.log.WithError(err).Warnf("账户订阅重连失败，%v 后重试", delay)
					select {
					case <-ctx.Done():
						return
					case <-time.After(delay):
					}
					if delay *= 2; delay > subMaxReconnectDelay {
						delay = subMaxReconnectDelay
					}
					continue
				}
				delay = subReconnectDelay
				go s.readLoop(ctx)
				break
			}
		}
	}
}

func (s *accountSubscription) closeConn() {
	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()
}

// accountNotification 通知帧
type accountNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Data []string `json:"data"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

func (s *accountSubscription) readLoop(ctx context.Context) {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.log.WithError(err).Warn("账户订阅连接断开")
				s.reconnect.Emit()
			}
			return
		}

		var note accountNotification
		if err := json.Unmarshal(raw, &note); err != nil || note.Method != "accountNotification" {
			continue // 订阅确认等控制帧
		}
		if len(note.Params.Result.Value.Data) == 0 {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(note.Params.Result.Value.Data[0])
		if err != nil {
			s.log.WithError(err).Warn("账户通知 payload 解码失败，丢弃")
			continue
		}

		update := AccountUpdate{
			Pubkey: s.pubkey,
			Slot:   note.Params.Result.Context.Slot,
			Data:   data,
		}
		select {
		case s.updates <- update:
		case <-ctx.Done():
			return
		}
	}
}
