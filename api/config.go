package api

import "time"

type ServerConfig struct {
	// ID 是這個節點的識別，用於 consumer group 的 consumer 名稱
	ID string

	// Transport 選擇出價通道的實作（redis 或 pubnub）
	Transport string

	User    UserConfig
	DB      DBConfig
	Redis   RedisConfig
	PubNub  PubNubConfig
	Auction AuctionConfig

	// Demo 啟用純本地展示模式：迴路傳輸加上合成出價產生器，
	// 不需要 Redis 與資料庫
	Demo bool
}

type UserConfig struct {
	ID             string
	Name           string
	InitialBalance string
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	KeyPrefix     string
	ConsumerGroup string
	StreamKeys    RedisStreamKeys
}

type RedisStreamKeys struct {
	// Bids 是所有節點共享的出價流
	Bids string
	// Events 是 SSE 跨節點廣播用的事件流
	Events string
}

type PubNubConfig struct {
	PublishKey   string
	SubscribeKey string
}

type AuctionConfig struct {
	// GracePeriod 是付款義務的寬限期
	GracePeriod time.Duration

	SyntheticBids     bool
	SyntheticInterval time.Duration
	SyntheticChance   float64
}
