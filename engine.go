package main

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// Engine wires the dispatch components together and is the surface the
// HTTP layer calls into.
type Engine struct {
	db            *gorm.DB
	transport     Transport
	clock         Clock
	settings      *SettingsCache
	ledger        *UsageLedger
	dispatcher    *Dispatcher
	broadcasts    *BroadcastRunner
	conversations *ConversationStore
	cascade       *AutoReplyCascade
	scheduled     *ScheduledMessageRunner
	router        *InboundRouter

	scheduler gocron.Scheduler
}

func NewEngine(db *gorm.DB, transport Transport, provider AIProvider, clock Clock) *Engine {
	settings := NewSettingsCache(db, clock)
	ledger := NewUsageLedger(db, clock, settings)
	dispatcher := NewDispatcher(db, transport, ledger, settings)
	conversations := NewConversationStore(db)
	cascade := NewAutoReplyCascade(db, dispatcher, conversations, provider, settings, clock)

	return &Engine{
		db:            db,
		transport:     transport,
		clock:         clock,
		settings:      settings,
		ledger:        ledger,
		dispatcher:    dispatcher,
		broadcasts:    NewBroadcastRunner(db, dispatcher, ledger, settings, clock),
		conversations: conversations,
		cascade:       cascade,
		scheduled:     NewScheduledMessageRunner(db, dispatcher, transport, clock),
		router:        NewInboundRouter(cascade),
	}
}

// Start launches the inbound router and the scheduled-message poller.
func (e *Engine) Start(ctx context.Context) error {
	e.router.Start(ctx)

	scheduler, err := e.scheduled.Start(ctx)
	if err != nil {
		return err
	}
	e.scheduler = scheduler
	return nil
}

// Stop drains the inbound queues and shuts the poller down.
func (e *Engine) Stop() {
	if e.scheduler != nil {
		if err := e.scheduler.Shutdown(); err != nil {
			ErrorLogger.Printf("Error shutting down scheduler: %v", err)
		}
	}
	e.router.Stop()
}

// HandleInbound is the transport's event callback.
func (e *Engine) HandleInbound(msg InboundMessage) {
	e.router.Dispatch(msg)
}

// SendMessage sends one direct message with quota accounting.
func (e *Engine) SendMessage(ctx context.Context, deviceID, recipient, body, mediaRef string) (*SendReceipt, error) {
	return e.dispatcher.Send(ctx, deviceID, recipient, body, DispatchOptions{MediaRef: mediaRef})
}

// Broadcast fans body out to recipients with pacing.
func (e *Engine) Broadcast(ctx context.Context, deviceID string, recipients []string, body, mediaRef string) ([]BroadcastResult, error) {
	return e.broadcasts.Broadcast(ctx, deviceID, recipients, body, mediaRef)
}

// ScheduleMessage stores a message for later delivery by the poller.
func (e *Engine) ScheduleMessage(deviceID, toNumber, body, mediaRef string, scheduledAt time.Time) (*ScheduledMessage, error) {
	return CreateScheduledMessage(e.db, deviceID, toNumber, body, mediaRef, scheduledAt)
}

// CancelScheduledMessage cancels a still-pending scheduled message.
func (e *Engine) CancelScheduledMessage(id uint, deviceID string) error {
	return CancelScheduledMessage(e.db, id, deviceID)
}

// RegisterDevice records a device session and its owning user.
func (e *Engine) RegisterDevice(deviceID string, userID uint, name string) error {
	var device Device
	err := e.db.Where("device_id = ?", deviceID).First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return e.db.Create(&Device{DeviceID: deviceID, UserID: userID, Name: name}).Error
	}
	if err != nil {
		return err
	}
	device.UserID = userID
	device.Name = name
	return e.db.Save(&device).Error
}

// UpdateUserSettings persists new settings and invalidates the cache so the
// next read sees them.
func (e *Engine) UpdateUserSettings(settings UserSettings) error {
	var existing UserSettings
	err := e.db.Where("user_id = ?", settings.UserID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := e.db.Create(&settings).Error; err != nil {
			return err
		}
		e.settings.Invalidate(settings.UserID)
		return nil
	}
	if err != nil {
		return err
	}

	settings.ID = existing.ID
	settings.CreatedAt = existing.CreatedAt
	if err := e.db.Save(&settings).Error; err != nil {
		return err
	}
	e.settings.Invalidate(settings.UserID)
	return nil
}

// ResetUsage wipes a user's counters for a date. Admin-only.
func (e *Engine) ResetUsage(userID uint, date string) error {
	return e.ledger.ResetUsage(userID, date)
}

// UsageToday reports the user's aggregate sends for the current UTC date.
func (e *Engine) UsageToday(userID uint) (int, error) {
	return e.ledger.UsageToday(userID)
}
