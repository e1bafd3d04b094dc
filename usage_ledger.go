package main

import (
	"errors"
	"sync"

	"gorm.io/gorm"
)

// UsageKind labels which daily counter a send consumes.
type UsageKind string

const (
	KindMessage   UsageKind = "message"
	KindBroadcast UsageKind = "broadcast"
	KindAutoReply UsageKind = "auto_reply"
)

func (k UsageKind) column() string {
	switch k {
	case KindBroadcast:
		return "broadcasts_sent"
	case KindAutoReply:
		return "auto_replies_sent"
	default:
		return "messages_sent"
	}
}

// UsageLedger enforces the per-user daily quota. The check and the increment
// run under a per-user lock inside one transaction, so two racing callers
// for the same user can never both pass a last-slot check.
type UsageLedger struct {
	db       *gorm.DB
	clock    Clock
	settings *SettingsCache

	locksMu   sync.Mutex
	userLocks map[uint]*sync.Mutex
}

func NewUsageLedger(db *gorm.DB, clock Clock, settings *SettingsCache) *UsageLedger {
	return &UsageLedger{
		db:        db,
		clock:     clock,
		settings:  settings,
		userLocks: make(map[uint]*sync.Mutex),
	}
}

func (l *UsageLedger) lockFor(userID uint) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	lock, ok := l.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		l.userLocks[userID] = lock
	}
	return lock
}

// dayKey derives the quota date at the UTC day boundary.
func (l *UsageLedger) dayKey() string {
	return l.clock.Now().UTC().Format("2006-01-02")
}

// CheckAndReserve checks the user's aggregate usage for today across all
// devices and, if allowed, increments the counter for kind on the given
// device. Returns the remaining quota after the reservation.
//
// A storage failure is fail-open: the send is allowed, remaining is the -1
// sentinel, and the anomaly is logged. A denied reservation returns a
// *QuotaExceededError.
func (l *UsageLedger) CheckAndReserve(userID uint, deviceID string, kind UsageKind) (int, error) {
	settings := l.settings.Get(userID)
	today := l.dayKey()

	lock := l.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	remaining := -1
	err := l.db.Transaction(func(tx *gorm.DB) error {
		counter, err := l.ensureCounter(tx, userID, deviceID, today)
		if err != nil {
			return err
		}

		total, err := aggregateUsage(tx, userID, today)
		if err != nil {
			return err
		}

		if settings.RateLimitingEnabled && total >= settings.DailyMessageLimit {
			return &QuotaExceededError{Limit: settings.DailyMessageLimit}
		}

		col := kind.column()
		if err := tx.Model(&UsageCounter{}).
			Where("id = ?", counter.ID).
			UpdateColumn(col, gorm.Expr(col+" + 1")).Error; err != nil {
			return err
		}

		remaining = settings.DailyMessageLimit - total - 1
		return nil
	})

	var quotaErr *QuotaExceededError
	if errors.As(err, &quotaErr) {
		return 0, quotaErr
	}
	if err != nil {
		ErrorLogger.Printf("Quota check failed for user %d, allowing send: %v", userID, err)
		return -1, nil
	}
	return remaining, nil
}

// RecordBroadcastSent increments the broadcast counter directly, bypassing
// the per-call reservation. BroadcastRunner validates the whole batch up
// front, so individual sends only need the bookkeeping.
func (l *UsageLedger) RecordBroadcastSent(userID uint, deviceID string) {
	today := l.dayKey()

	lock := l.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	err := l.db.Transaction(func(tx *gorm.DB) error {
		counter, err := l.ensureCounter(tx, userID, deviceID, today)
		if err != nil {
			return err
		}
		return tx.Model(&UsageCounter{}).
			Where("id = ?", counter.ID).
			UpdateColumn("broadcasts_sent", gorm.Expr("broadcasts_sent + 1")).Error
	})
	if err != nil {
		ErrorLogger.Printf("Error recording broadcast send for user %d device %s: %v", userID, deviceID, err)
	}
}

// UsageToday returns the user's aggregate messages+broadcasts across all
// devices for the current UTC date.
func (l *UsageLedger) UsageToday(userID uint) (int, error) {
	return aggregateUsage(l.db, userID, l.dayKey())
}

// ResetUsage removes a user's counters for a date. Admin-only; counters are
// otherwise never deleted.
func (l *UsageLedger) ResetUsage(userID uint, date string) error {
	lock := l.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	return l.db.Unscoped().
		Where("user_id = ? AND date = ?", userID, date).
		Delete(&UsageCounter{}).Error
}

func (l *UsageLedger) ensureCounter(tx *gorm.DB, userID uint, deviceID, date string) (*UsageCounter, error) {
	var counter UsageCounter
	err := tx.Where(UsageCounter{UserID: userID, DeviceID: deviceID, Date: date}).
		FirstOrCreate(&counter).Error
	if err != nil {
		return nil, err
	}
	return &counter, nil
}

func aggregateUsage(tx *gorm.DB, userID uint, date string) (int, error) {
	var total int
	err := tx.Model(&UsageCounter{}).
		Where("user_id = ? AND date = ?", userID, date).
		Select("COALESCE(SUM(messages_sent + broadcasts_sent), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
