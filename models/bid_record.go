package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BidRecord 代表一筆從共享訊息流同步回資料庫的出價紀錄
type BidRecord struct {
	gorm.Model

	ID         uuid.UUID       `gorm:"type:uuid;default:public.uuid_generate_v7();primaryKey;<-:false"`
	AuctionID  string          `gorm:"type:varchar(255);not null;index;<-:create"`
	BidderID   string          `gorm:"type:varchar(255);not null;<-:create"`
	BidderName string          `gorm:"type:varchar(255);not null;<-:create"`
	Amount     decimal.Decimal `gorm:"type:numeric(20,2);not null;<-:create"`
	PlacedAt   time.Time       `gorm:"type:timestamp with time zone;not null;<-:create"`
}
