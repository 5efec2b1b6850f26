// Package fanout 订阅分发：把事件与状态变更推送给各订阅者。
//
// 每个订阅者持有独立的有界队列；慢消费者触发 drop-oldest，
// 互不影响其它订阅者。同一 (sub-account, channel) 的事件按发布顺序投递。
package fanout

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/driftgate/driftgate/internal/events"
	"github.com/driftgate/driftgate/internal/metrics"
	"github.com/driftgate/driftgate/internal/statecache"
	"github.com/driftgate/driftgate/pkg/logger"
)

// DefaultQueueSize 订阅者默认队列深度
const DefaultQueueSize = 256

// Message 推送帧：事件或状态变更二选一
type Message struct {
	Channel      events.Channel        `json:"channel"`
	SubAccountID uint16                `json:"subAccountId"`
	Event        *events.AccountEvent  `json:"data,omitempty"`
	Change       *statecache.ChangeSet `json:"change,omitempty"`
}

// subscriber 单个订阅者：不关闭时只依赖队列背压
type subscriber struct {
	id       uuid.UUID
	queue    chan Message
	channels map[events.Channel]bool // nil = 全部通道
}

func (s *subscriber) wants(ch events.Channel) bool {
	return s.channels == nil || s.channels[ch]
}

// push 非阻塞入队；队列满时丢弃最旧的一条为新消息腾位
func (s *subscriber) push(msg Message) bool {
	for {
		select {
		case s.queue <- msg:
			return true
		default:
		}
		select {
		case <-s.queue:
			metrics.FanoutDrops.Add(1)
		default:
		}
	}
}

// Registry 订阅注册表
type Registry struct {
	mu sync.RWMutex
	// subaccount id -> subscription id -> subscriber
	bySubAccount map[uint16]map[uuid.UUID]*subscriber
	queueSize    int
	log          *logrus.Entry
}

// New 创建注册表
func New(queueSize int) *Registry {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Registry{
		bySubAccount: make(map[uint16]map[uuid.UUID]*subscriber),
		queueSize:    queueSize,
		log:          logger.Logger.WithField("component", "fanout"),
	}
}

// Subscribe 注册订阅者。channels 为空表示订阅全部通道。
// 返回订阅 id 与消息通道；调用方必须最终 Unsubscribe。
func (r *Registry) Subscribe(subAccountID uint16, channels ...events.Channel) (uuid.UUID, <-chan Message) {
	sub := &subscriber{
		id:    uuid.New(),
		queue: make(chan Message, r.queueSize),
	}
	if len(channels) > 0 {
		sub.channels = make(map[events.Channel]bool, len(channels))
		for _, ch := range channels {
			sub.channels[ch] = true
		}
	}

	r.mu.Lock()
	subs, ok := r.bySubAccount[subAccountID]
	if !ok {
		subs = make(map[uuid.UUID]*subscriber)
		r.bySubAccount[subAccountID] = subs
	}
	subs[sub.id] = sub
	r.mu.Unlock()

	r.log.Debugf("新订阅: sub-account %d, id %s", subAccountID, sub.id)
	return sub.id, sub.queue
}

// Unsubscribe 注销订阅者并关闭其消息通道
func (r *Registry) Unsubscribe(subAccountID uint16, id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.bySubAccount[subAccountID]
	if !ok {
		return
	}
	sub, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(r.bySubAccount, subAccountID)
	}
	close(sub.queue)
}

// PublishEvent 推送一条领域事件给该子账户的所有相关订阅者
func (r *Registry) PublishEvent(subAccountID uint16, event events.AccountEvent) {
	msg := Message{
		Channel:      event.Channel(),
		SubAccountID: subAccountID,
		Event:        &event,
	}
	r.publish(subAccountID, msg)
}

// PublishChange 推送状态变更摘要（orders 通道）
func (r *Registry) PublishChange(change statecache.ChangeSet) {
	msg := Message{
		Channel:      events.ChannelOrders,
		SubAccountID: change.SubAccountID,
		Change:       &change,
	}
	r.publish(change.SubAccountID, msg)
}

func (r *Registry) publish(subAccountID uint16, msg Message) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.bySubAccount[subAccountID] {
		if !sub.wants(msg.Channel) {
			continue
		}
		if sub.push(msg) {
			metrics.FanoutDelivered.Add(1)
		}
	}
}

// Listeners 当前订阅者总数
func (r *Registry) Listeners() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, subs := range r.bySubAccount {
		n += len(subs)
	}
	return n
}
