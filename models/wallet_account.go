package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// WalletAccount 代表使用者錢包的持久化餘額
// 暫扣金額不入庫，由記憶體中的 Ledger 推導
type WalletAccount struct {
	gorm.Model

	ID      uuid.UUID       `gorm:"type:uuid;default:public.uuid_generate_v7();primaryKey;<-:false"`
	UserID  string          `gorm:"type:varchar(255);not null;uniqueIndex,where:deleted_at IS NULL"`
	Balance decimal.Decimal `gorm:"type:numeric(20,2);not null"`
}
