package models

import "time"

// Meta keys stored per subscriber. Billing state is kept as key-value pairs
// so new attributes never need a schema change.
const (
	MetaKeyCustomerID         = "customer_id"
	MetaKeySubscriptionID     = "subscription_id"
	MetaKeySubscriptionStatus = "subscription_status"
	MetaKeyRole               = "role"
)

// Subscriber is the local identity that owns a billing relationship.
type Subscriber struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"type:varchar(200);not null;uniqueIndex:ux_subscribers_email" json:"email"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SubscriberMeta is one billing attribute of a subscriber.
type SubscriberMeta struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SubscriberID uint      `gorm:"not null;uniqueIndex:ux_subscriber_meta_key,priority:1" json:"subscriber_id"`
	MetaKey      string    `gorm:"type:varchar(100);not null;uniqueIndex:ux_subscriber_meta_key,priority:2;index:idx_subscriber_meta_kv,priority:1" json:"meta_key"`
	MetaValue    string    `gorm:"type:varchar(255);not null;default:'';index:idx_subscriber_meta_kv,priority:2" json:"meta_value"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
