package models

import (
	"encoding/json"
	"time"
)

// Ledger row statuses. A row is created as succeeded and may only move to
// refunded afterwards; failed rows come from explicitly recorded failures.
const (
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusRefunded  = "refunded"
	PaymentStatusFailed    = "failed"
)

// Payment is one row per financial transaction attempt/confirmation.
// PaymentIntentID is the idempotency key: the unique index makes a second
// write for the same transaction a no-op instead of a duplicate row.
type Payment struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	SubscriberID    *uint     `gorm:"index" json:"subscriber_id,omitempty"`
	PaymentIntentID string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_payments_payment_intent" json:"payment_intent_id"`
	CustomerID      string    `gorm:"type:varchar(255);not null;index" json:"customer_id"`
	SubscriptionID  *string   `gorm:"type:varchar(255);index" json:"subscription_id,omitempty"`
	Status          string    `gorm:"type:varchar(50);not null;index" json:"status"`
	Amount          int64     `gorm:"not null" json:"amount"`
	Currency        string    `gorm:"type:varchar(3);not null" json:"currency"`
	ItemName        string    `gorm:"type:text" json:"item_name"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	Metadata        string    `gorm:"type:longtext" json:"metadata"`
}

// SetMetadata serializes a key-value map into the metadata column.
func (p *Payment) SetMetadata(m map[string]string) error {
	if len(m) == 0 {
		p.Metadata = ""
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	p.Metadata = string(raw)
	return nil
}

// MetadataMap deserializes the metadata column; an empty or broken column
// yields an empty map.
func (p *Payment) MetadataMap() map[string]string {
	out := map[string]string{}
	if p.Metadata == "" {
		return out
	}
	if err := json.Unmarshal([]byte(p.Metadata), &out); err != nil {
		return map[string]string{}
	}
	return out
}
