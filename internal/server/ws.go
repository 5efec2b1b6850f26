package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/driftgate/driftgate/internal/events"
	"github.com/driftgate/driftgate/internal/fanout"
	"github.com/driftgate/driftgate/pkg/logger"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsPongWait     = 60 * time.Second
)

// WSServer 订阅推送服务。
// 客户端通过控制帧管理订阅，事件帧只发不收。
type WSServer struct {
	registry *fanout.Registry
	srv      *http.Server
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// NewWS 创建 WS 服务
func NewWS(registry *fanout.Registry, addr string) *WSServer {
	s := &WSServer{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 自托管网关：同机/内网客户端，不做 origin 校验
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: logger.Logger.WithField("component", "ws"),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe 阻塞运行
func (s *WSServer) ListenAndServe() error {
	s.log.Infof("ws 服务启动: %s", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown 优雅关闭
func (s *WSServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// controlFrame 客户端控制帧
type controlFrame struct {
	Method       string `json:"method"` // subscribe | unsubscribe
	SubAccountID uint16 `json:"subAccountId"`
	Channel      string `json:"channel,omitempty"` // 空 = 全部通道
}

// eventFrame 服务端推送帧
type eventFrame struct {
	Channel      events.Channel `json:"channel"`
	SubAccountID uint16         `json:"subAccountId"`
	Data         any            `json:"data"`
}

type subKey struct {
	subAccountID uint16
	channel      string
}

// wsConn 单个客户端连接
type wsConn struct {
	conn     *websocket.Conn
	registry *fanout.Registry
	outbound chan eventFrame
	log      *logrus.Entry

	mu   sync.Mutex
	subs map[subKey]uuid.UUID
	wg   sync.WaitGroup
}

func (s *WSServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("ws 升级失败")
		return
	}
	c := &wsConn{
		conn:     conn,
		registry: s.registry,
		outbound: make(chan eventFrame, 64),
		subs:     make(map[subKey]uuid.UUID),
		log:      s.log.WithField("remote", conn.RemoteAddr().String()),
	}
	go c.writePump()
	c.readPump()
}

// readPump 读取控制帧；连接断开时注销全部订阅
func (c *wsConn) readPump() {
	defer c.teardown()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame controlFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendError("malformed control frame")
			continue
		}
		switch frame.Method {
		case "subscribe":
			c.subscribe(frame)
		case "unsubscribe":
			c.unsubscribe(frame)
		default:
			c.sendError("unknown method: " + frame.Method)
		}
	}
}

func (c *wsConn) subscribe(frame controlFrame) {
	key := subKey{subAccountID: frame.SubAccountID, channel: frame.Channel}
	c.mu.Lock()
	if _, exists := c.subs[key]; exists {
		c.mu.Unlock()
		return
	}
	var channels []events.Channel
	if frame.Channel != "" {
		channels = []events.Channel{events.Channel(frame.Channel)}
	}
	id, queue := c.registry.Subscribe(frame.SubAccountID, channels...)
	c.subs[key] = id
	c.mu.Unlock()

	c.wg.Add(1)
	go c.forward(queue)
	c.log.Debugf("订阅: sub-account %d channel=%q", frame.SubAccountID, frame.Channel)
}

func (c *wsConn) unsubscribe(frame controlFrame) {
	key := subKey{subAccountID: frame.SubAccountID, channel: frame.Channel}
	c.mu.Lock()
	id, exists := c.subs[key]
	if exists {
		delete(c.subs, key)
	}
	c.mu.Unlock()
	if exists {
		c.registry.Unsubscribe(frame.SubAccountID, id)
	}
}

// forward 分发队列 -> 连接出站队列
func (c *wsConn) forward(queue <-chan fanout.Message) {
	defer c.wg.Done()
	for msg := range queue {
		frame := eventFrame{
			Channel:      msg.Channel,
			SubAccountID: msg.SubAccountID,
		}
		if msg.Event != nil {
			frame.Data = msg.Event
		} else {
			frame.Data = msg.Change
		}
		select {
		case c.outbound <- frame:
		default:
			// 连接出站积压，丢弃（订阅队列层已有 drop-oldest 保护）
		}
	}
}

// writePump 序列化全部出站写入并维持心跳
func (c *wsConn) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case frame, ok := <-c.outbound:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(frame); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (c *wsConn) sendError(reason string) {
	select {
	case c.outbound <- eventFrame{Channel: "error", Data: reason}:
	default:
	}
}

// teardown 注销订阅并关闭连接
func (c *wsConn) teardown() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[subKey]uuid.UUID)
	c.mu.Unlock()
	for key, id := range subs {
		c.registry.Unsubscribe(key.subAccountID, id)
	}
	c.wg.Wait()
	close(c.outbound)
	_ = c.conn.Close()
}
