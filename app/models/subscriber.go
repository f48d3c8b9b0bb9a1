package models

import "time"

// Subscriber records one issued payment link. Purely informational: the
// grant pipeline recovers the user id from the round-tripped reference, but
// support wants to see who asked for a link and through which provider.
type Subscriber struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	TelegramUserID int64     `gorm:"not null;index" json:"telegram_user_id"`
	Username       string    `gorm:"type:varchar(100)" json:"username"`
	Provider       string    `gorm:"type:varchar(20);not null;index" json:"provider"`
	Reference      string    `gorm:"type:varchar(191);not null;index" json:"reference"`
	ProviderRef    string    `gorm:"type:varchar(191)" json:"provider_ref"` // bill code / checkout session id
	AmountCents    int64     `gorm:"not null;default:0" json:"amount_cents"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
