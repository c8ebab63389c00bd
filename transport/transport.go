// Package transport 定義了即時事件通道的合約。
// 核心依賴這個介面但不擁有它的實作：正式環境走 Redis Stream
// （或 PubNub 橋接），純本地展示模式走 Loopback。
package transport

import (
	"errors"

	"livebid/auction"
)

// ErrTransportClosed 表示傳輸層已關閉
var ErrTransportClosed = errors.New("transport is closed")

// EventKind 是入站事件的種類
type EventKind string

const (
	// EventBidPlaced 其他出價者的出價，觸發遠端出價套用
	EventBidPlaced EventKind = "bid_placed"
	// EventEndingSoon 拍賣即將結束的提示，僅供參考
	EventEndingSoon EventKind = "ending_soon"
	// EventAuctionEnded 後端宣告拍賣結束
	EventAuctionEnded EventKind = "auction_ended"
)

// Event 是從傳輸層收到的入站事件
type Event struct {
	Kind        EventKind            `json:"kind"`
	AuctionID   string               `json:"auctionId"`
	Bid         *auction.OutboundBid `json:"bid,omitempty"`
	SecondsLeft int                  `json:"secondsLeft,omitempty"`
}

// Transport 是雙向事件通道的合約。
// SendBid 送出本地出價；Subscribe/Unsubscribe 管理拍賣房間的訂閱；
// Inbound 回傳入站事件的唯讀通道。
type Transport interface {
	auction.Sender

	Start()
	Subscribe(auctionID string) error
	Unsubscribe(auctionID string) error
	Inbound() <-chan Event
	Close()
}
