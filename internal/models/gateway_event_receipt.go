package models

import "time"

// GatewayEventReceipt records that a verified gateway event was applied.
// Only identifiers are kept; payloads are never stored.
type GatewayEventReceipt struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	Gateway     string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_event_receipt_gateway_event" json:"gateway"`
	EventID     string    `gorm:"type:varchar(191);not null;uniqueIndex:idx_event_receipt_gateway_event" json:"event_id"`
	Kind        string    `gorm:"type:varchar(64);not null" json:"kind"`
	ProcessedAt time.Time `gorm:"index;not null" json:"processed_at"`
}

// TableName table name
func (GatewayEventReceipt) TableName() string {
	return "gateway_event_receipts"
}
