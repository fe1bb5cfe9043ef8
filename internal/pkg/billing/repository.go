package billing

import (
	"errors"
	"strings"
	"time"

	"github.com/kessaihq/kessai/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the reconciliation service.
type Repository interface {
	// UpsertPayment inserts a ledger row keyed by payment intent id.
	// A concurrent duplicate insert is absorbed by the unique constraint
	// and reported as created=false, never as an error.
	UpsertPayment(p *models.Payment) (created bool, err error)
	GetPaymentByIntentID(paymentIntentID string) (*models.Payment, error)
	// MarkPaymentRefunded transitions an existing row to refunded.
	// Returns updated=false when the row is already refunded.
	MarkPaymentRefunded(paymentIntentID string) (updated bool, err error)

	FindSubscriberByCustomerID(customerID string) (*models.Subscriber, error)
	FindSubscriberBySubscriptionID(subscriptionID string) (*models.Subscriber, error)
	GetOrCreateSubscriberByEmail(email string) (sub *models.Subscriber, created bool, err error)
	FindSubscriberByEmail(email string) (*models.Subscriber, error)
	GetMeta(subscriberID uint, key string) (string, error)
	SetMeta(subscriberID uint, key, value string) error
	// SetSubscriberStatus writes the status attribute and recomputes the
	// derived role in the same transaction.
	SetSubscriberStatus(subscriberID uint, status string) (granted bool, err error)

	CreateWebhookEventIfNotExists(ev *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) UpsertPayment(p *models.Payment) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_intent_id"}},
		DoNothing: true,
	}).Create(p)
	if tx.Error != nil {
		return false, tx.Error
	}
	created := tx.RowsAffected > 0

	// Ensure the struct reflects the stored row after a conflict no-op.
	if err := r.db.Where("payment_intent_id = ?", p.PaymentIntentID).First(p).Error; err != nil {
		return false, err
	}
	return created, nil
}

func (r *gormRepository) GetPaymentByIntentID(paymentIntentID string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.Where("payment_intent_id = ?", paymentIntentID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) MarkPaymentRefunded(paymentIntentID string) (bool, error) {
	tx := r.db.Model(&models.Payment{}).
		Where("payment_intent_id = ? AND status <> ?", paymentIntentID, models.PaymentStatusRefunded).
		Updates(map[string]interface{}{
			"status":     models.PaymentStatusRefunded,
			"updated_at": time.Now().UTC(),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) FindSubscriberByCustomerID(customerID string) (*models.Subscriber, error) {
	return r.findSubscriberByMeta(models.MetaKeyCustomerID, customerID)
}

func (r *gormRepository) FindSubscriberBySubscriptionID(subscriptionID string) (*models.Subscriber, error) {
	return r.findSubscriberByMeta(models.MetaKeySubscriptionID, subscriptionID)
}

func (r *gormRepository) findSubscriberByMeta(key, value string) (*models.Subscriber, error) {
	if value == "" {
		return nil, ErrNotFound
	}

	var meta models.SubscriberMeta
	err := r.db.
		Where("meta_key = ? AND meta_value = ?", key, value).
		First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var sub models.Subscriber
	if err := r.db.First(&sub, meta.SubscriberID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetOrCreateSubscriberByEmail(email string) (*models.Subscriber, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, false, &ValidationError{Field: "email", Message: "is required"}
	}

	sub := &models.Subscriber{Email: email}
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoNothing: true,
	}).Create(sub)
	if tx.Error != nil {
		return nil, false, tx.Error
	}
	created := tx.RowsAffected > 0

	if err := r.db.Where("email = ?", email).First(sub).Error; err != nil {
		return nil, false, err
	}
	return sub, created, nil
}

func (r *gormRepository) FindSubscriberByEmail(email string) (*models.Subscriber, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrNotFound
	}

	var sub models.Subscriber
	err := r.db.Where("email = ?", email).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetMeta(subscriberID uint, key string) (string, error) {
	var meta models.SubscriberMeta
	err := r.db.
		Where("subscriber_id = ? AND meta_key = ?", subscriberID, key).
		First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return meta.MetaValue, nil
}

func (r *gormRepository) SetMeta(subscriberID uint, key, value string) error {
	return upsertMeta(r.db, subscriberID, key, value)
}

func (r *gormRepository) SetSubscriberStatus(subscriberID uint, status string) (bool, error) {
	granted := RoleGranted(status)
	role := ""
	if granted {
		role = "granted"
	} else {
		role = "revoked"
	}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := upsertMeta(tx, subscriberID, models.MetaKeySubscriptionStatus, status); err != nil {
			return err
		}
		return upsertMeta(tx, subscriberID, models.MetaKeyRole, role)
	})
	if err != nil {
		return false, err
	}
	return granted, nil
}

func upsertMeta(db *gorm.DB, subscriberID uint, key, value string) error {
	meta := &models.SubscriberMeta{
		SubscriberID: subscriberID,
		MetaKey:      key,
		MetaValue:    value,
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "subscriber_id"},
			{Name: "meta_key"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"meta_value", "updated_at"}),
	}).Create(meta).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ev *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(ev)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("event_id = ?", ev.EventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
