package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aimanhazmi/GroupGate/app/models"
)

// EventStore persists verified callbacks idempotently, keyed by
// (provider, provider_event_id). It is the audit trail and a secondary
// dedupe signal behind the grant ledger. Only successful outcomes stamp
// processed_at; a failed outcome records processing_error and leaves the
// row open so a provider resend reaches the ledger again.
type EventStore interface {
	CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uint, processingErr error) error
}

type gormEventStore struct {
	db *gorm.DB
}

func NewEventStore(db *gorm.DB) EventStore {
	return &gormEventStore{db: db}
}

func (s *gormEventStore) CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	// Some providers omit an event id; hash the payload so the unique index
	// still has something stable to bite on.
	if strings.TrimSpace(event.ProviderEventID) == "" {
		sum := sha256.Sum256([]byte(event.PayloadJSON))
		event.ProviderEventID = "hash:" + hex.EncodeToString(sum[:])
	}

	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := s.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (s *gormEventStore) MarkProcessed(ctx context.Context, id uint, processingErr error) error {
	updates := map[string]interface{}{}
	if processingErr != nil {
		// processed_at stays NULL: the failed-grant row must not trip the
		// duplicate short-circuit before the ledger can re-admit a resend.
		updates["processing_error"] = processingErr.Error()
	} else {
		now := time.Now()
		updates["processed_at"] = &now
		updates["processing_error"] = ""
	}
	return s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}
