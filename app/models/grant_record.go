package models

import "time"

// Grant record statuses.
const (
	GrantStatusPending = "pending"
	GrantStatusGranted = "granted"
	GrantStatusFailed  = "failed"
)

// Payment providers we accept callbacks from.
const (
	PaymentProviderStripe    = "stripe"
	PaymentProviderToyyibPay = "toyyibpay"
)

// GrantRecord is one idempotency ledger entry per confirmed payment. The
// unique (provider, external_reference) index is the synchronization point:
// the first insert wins, every replay sees the existing row.
type GrantRecord struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	Provider          string     `gorm:"type:varchar(20);not null;index:ux_grant_records_provider_reference,unique,priority:1" json:"provider"`
	ExternalReference string     `gorm:"type:varchar(191);not null;index:ux_grant_records_provider_reference,unique,priority:2" json:"external_reference"`
	TelegramUserID    int64      `gorm:"not null;index" json:"telegram_user_id"`
	Status            string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Attempts          int        `gorm:"not null;default:0" json:"attempts"`
	InviteLink        string     `gorm:"type:varchar(255)" json:"invite_link,omitempty"`
	LastError         string     `gorm:"type:text" json:"last_error,omitempty"`
	GrantedAt         *time.Time `gorm:"type:timestamp;default:null" json:"granted_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
