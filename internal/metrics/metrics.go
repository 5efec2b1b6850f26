package metrics

import "expvar"

var (
	TxSubmitted    = expvar.NewInt("tx_submitted")
	TxRebroadcasts = expvar.NewInt("tx_rebroadcasts")
	TxConfirmed    = expvar.NewInt("tx_confirmed")
	TxFailed       = expvar.NewInt("tx_failed")
	TxExpired      = expvar.NewInt("tx_expired")

	// EventDecodeSkips 抽取管线跳过的坏记录数（可观测的数据丢失）
	EventDecodeSkips = expvar.NewInt("event_decode_skips")
	EventsExtracted  = expvar.NewInt("events_extracted")

	// CacheUpdateDrops 解码失败被丢弃的账户更新数
	CacheUpdateDrops    = expvar.NewInt("cache_update_drops")
	CacheUpdatesApplied = expvar.NewInt("cache_updates_applied")

	// FanoutDrops 因监听者队列满被挤掉的事件数
	FanoutDrops     = expvar.NewInt("fanout_drops")
	FanoutDelivered = expvar.NewInt("fanout_delivered")
)
