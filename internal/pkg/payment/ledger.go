package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aimanhazmi/GroupGate/app/models"
	"github.com/aimanhazmi/GroupGate/internal/pkg/cache"
)

// Admission is the outcome of Ledger.TryBegin.
type Admission int

const (
	// AdmissionAdmitted: no prior record, a Pending record now exists and
	// the caller owns the grant.
	AdmissionAdmitted Admission = iota
	// AdmissionAlreadyGranted: a Granted record exists; replay, no-op.
	AdmissionAlreadyGranted
	// AdmissionInProgress: a Pending record exists; a concurrent grant for
	// the same key is in flight.
	AdmissionInProgress
)

func (a Admission) String() string {
	switch a {
	case AdmissionAdmitted:
		return "admitted"
	case AdmissionAlreadyGranted:
		return "already_granted"
	case AdmissionInProgress:
		return "in_progress"
	default:
		return "unknown"
	}
}

// Ledger is the idempotency store. It exclusively owns GrantRecord storage;
// every mutation goes through TryBegin/Complete, and TryBegin is a single
// atomic check-and-set. Key = (provider, externalReference).
type Ledger interface {
	TryBegin(ctx context.Context, provider Provider, reference string, userID int64) (Admission, error)
	Complete(ctx context.Context, provider Provider, reference string, inviteLink string, grantErr error) error
	Lookup(ctx context.Context, provider Provider, reference string) (*models.GrantRecord, error)
	HasGrantedUser(ctx context.Context, userID int64) (bool, error)
}

// grantCacheTTL bounds the redis fast-path entries for granted keys. The DB
// row stays authoritative; the cache only spares replays a DB round trip.
const grantCacheTTL = 24 * time.Hour

func grantCacheKey(provider Provider, reference string) string {
	return fmt.Sprintf("grant:%s:%s", provider, reference)
}

// GormLedger persists grant records through GORM; admission relies on the
// unique (provider, external_reference) index plus an insert-if-absent.
type GormLedger struct {
	db       *gorm.DB
	useCache bool
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db, useCache: true}
}

// NewGormLedgerWithoutCache is for deployments running without redis.
func NewGormLedgerWithoutCache(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

func (l *GormLedger) TryBegin(ctx context.Context, provider Provider, reference string, userID int64) (Admission, error) {
	if l.useCache {
		if v, err := cache.Get(grantCacheKey(provider, reference)); err == nil && v == models.GrantStatusGranted {
			return AdmissionAlreadyGranted, nil
		}
	}

	record := &models.GrantRecord{
		Provider:          string(provider),
		ExternalReference: reference,
		TelegramUserID:    userID,
		Status:            models.GrantStatusPending,
	}
	tx := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "external_reference"},
		},
		DoNothing: true,
	}).Create(record)
	if tx.Error != nil {
		return 0, tx.Error
	}
	if tx.RowsAffected > 0 {
		return AdmissionAdmitted, nil
	}

	var existing models.GrantRecord
	if err := l.db.WithContext(ctx).
		Where("provider = ? AND external_reference = ?", provider, reference).
		First(&existing).Error; err != nil {
		return 0, err
	}

	switch existing.Status {
	case models.GrantStatusGranted:
		if l.useCache {
			_ = cache.Set(grantCacheKey(provider, reference), models.GrantStatusGranted, grantCacheTTL)
		}
		return AdmissionAlreadyGranted, nil
	case models.GrantStatusFailed:
		// A provider resend may retry a failed grant. The guarded update is
		// the atomic re-admission: only one caller flips failed -> pending.
		res := l.db.WithContext(ctx).Model(&models.GrantRecord{}).
			Where("provider = ? AND external_reference = ? AND status = ?", provider, reference, models.GrantStatusFailed).
			Updates(map[string]interface{}{
				"status":           models.GrantStatusPending,
				"telegram_user_id": userID,
			})
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected > 0 {
			return AdmissionAdmitted, nil
		}
		return AdmissionInProgress, nil
	default:
		return AdmissionInProgress, nil
	}
}

func (l *GormLedger) Complete(ctx context.Context, provider Provider, reference string, inviteLink string, grantErr error) error {
	updates := map[string]interface{}{
		"attempts": gorm.Expr("attempts + 1"),
	}
	if grantErr == nil {
		now := time.Now()
		updates["status"] = models.GrantStatusGranted
		updates["invite_link"] = inviteLink
		updates["granted_at"] = &now
		updates["last_error"] = ""
	} else {
		updates["status"] = models.GrantStatusFailed
		updates["last_error"] = grantErr.Error()
	}

	res := l.db.WithContext(ctx).Model(&models.GrantRecord{}).
		Where("provider = ? AND external_reference = ? AND status = ?", provider, reference, models.GrantStatusPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("no pending grant record for %s/%s", provider, reference)
	}

	if grantErr == nil && l.useCache {
		_ = cache.Set(grantCacheKey(provider, reference), models.GrantStatusGranted, grantCacheTTL)
	}
	return nil
}

func (l *GormLedger) Lookup(ctx context.Context, provider Provider, reference string) (*models.GrantRecord, error) {
	var record models.GrantRecord
	err := l.db.WithContext(ctx).
		Where("provider = ? AND external_reference = ?", provider, reference).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (l *GormLedger) HasGrantedUser(ctx context.Context, userID int64) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&models.GrantRecord{}).
		Where("telegram_user_id = ? AND status = ?", userID, models.GrantStatusGranted).
		Count(&count).Error
	return count > 0, err
}

// ErrNotFound is returned by MemoryLedger.Lookup for unknown keys, matching
// the GORM implementation's gorm.ErrRecordNotFound contract.
var ErrNotFound = errors.New("grant record not found")

// MemoryLedger is a mutex-guarded in-process ledger. Replay protection only
// holds for a single long-lived process; production uses GormLedger.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]*models.GrantRecord
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]*models.GrantRecord)}
}

func (l *MemoryLedger) key(provider Provider, reference string) string {
	return string(provider) + "|" + reference
}

func (l *MemoryLedger) TryBegin(ctx context.Context, provider Provider, reference string, userID int64) (Admission, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[l.key(provider, reference)]
	if !ok {
		l.records[l.key(provider, reference)] = &models.GrantRecord{
			Provider:          string(provider),
			ExternalReference: reference,
			TelegramUserID:    userID,
			Status:            models.GrantStatusPending,
			CreatedAt:         time.Now(),
		}
		return AdmissionAdmitted, nil
	}

	switch record.Status {
	case models.GrantStatusGranted:
		return AdmissionAlreadyGranted, nil
	case models.GrantStatusFailed:
		record.Status = models.GrantStatusPending
		record.TelegramUserID = userID
		return AdmissionAdmitted, nil
	default:
		return AdmissionInProgress, nil
	}
}

func (l *MemoryLedger) Complete(ctx context.Context, provider Provider, reference string, inviteLink string, grantErr error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[l.key(provider, reference)]
	if !ok || record.Status != models.GrantStatusPending {
		return fmt.Errorf("no pending grant record for %s/%s", provider, reference)
	}

	record.Attempts++
	if grantErr == nil {
		now := time.Now()
		record.Status = models.GrantStatusGranted
		record.InviteLink = inviteLink
		record.GrantedAt = &now
		record.LastError = ""
	} else {
		record.Status = models.GrantStatusFailed
		record.LastError = grantErr.Error()
	}
	return nil
}

func (l *MemoryLedger) Lookup(ctx context.Context, provider Provider, reference string) (*models.GrantRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[l.key(provider, reference)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (l *MemoryLedger) HasGrantedUser(ctx context.Context, userID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, record := range l.records {
		if record.TelegramUserID == userID && record.Status == models.GrantStatusGranted {
			return true, nil
		}
	}
	return false, nil
}
