package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentObligation 代表贏得拍賣後產生的付款義務
// 同一個拍賣在未結清前最多只會有一筆
type PaymentObligation struct {
	gorm.Model

	ID        uuid.UUID       `gorm:"type:uuid;default:public.uuid_generate_v7();primaryKey;<-:false"`
	UserID    string          `gorm:"type:varchar(255);not null;index;<-:create"`
	AuctionID string          `gorm:"type:varchar(255);not null;uniqueIndex:idx_obligation_auction_unsettled,where:settled_at IS NULL AND deleted_at IS NULL;<-:create"`
	Title     string          `gorm:"type:varchar(255);not null;<-:create"`
	Amount    decimal.Decimal `gorm:"type:numeric(20,2);not null;<-:create"`
	DueAt     time.Time       `gorm:"type:timestamp with time zone;not null;<-:create"`
	SettledAt *time.Time      `gorm:"type:timestamp with time zone"`
}
