package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

const (
	schedulerPollInterval = time.Minute
	schedulerBatchSize    = 10
)

// ScheduledMessageRunner polls for due pending messages and promotes them
// to live sends. Each row reaches exactly one terminal state; failed rows
// are never retried by the runner.
type ScheduledMessageRunner struct {
	db         *gorm.DB
	dispatcher *Dispatcher
	transport  Transport
	clock      Clock
}

func NewScheduledMessageRunner(db *gorm.DB, dispatcher *Dispatcher, transport Transport, clock Clock) *ScheduledMessageRunner {
	return &ScheduledMessageRunner{
		db:         db,
		dispatcher: dispatcher,
		transport:  transport,
		clock:      clock,
	}
}

// Start registers the poll job. Singleton mode with reschedule keeps a slow
// batch from overlapping the next tick; the tick is skipped instead.
func (r *ScheduledMessageRunner) Start(ctx context.Context) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = s.NewJob(
		gocron.DurationJob(schedulerPollInterval),
		gocron.NewTask(func() {
			r.processDue(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}

	s.Start()
	return s, nil
}

// processDue promotes one batch of due pending rows, earliest first.
func (r *ScheduledMessageRunner) processDue(ctx context.Context) {
	now := r.clock.Now()

	var due []ScheduledMessage
	err := r.db.
		Where("status = ? AND scheduled_at <= ?", ScheduleStatusPending, now).
		Order("scheduled_at asc").
		Limit(schedulerBatchSize).
		Find(&due).Error
	if err != nil {
		ErrorLogger.Printf("Error loading due scheduled messages: %v", err)
		return
	}

	for i := range due {
		if ctx.Err() != nil {
			return
		}
		r.promote(ctx, &due[i])
	}
}

func (r *ScheduledMessageRunner) promote(ctx context.Context, msg *ScheduledMessage) {
	if !r.transport.IsConnected(msg.DeviceID) {
		r.markFailed(msg, "Device not connected")
		return
	}

	_, err := r.dispatcher.Send(ctx, msg.DeviceID, msg.ToNumber, msg.Body, DispatchOptions{
		MediaRef: msg.MediaRef,
	})
	if err != nil {
		r.markFailed(msg, err.Error())
		return
	}

	sentAt := r.clock.Now()
	res := r.db.Model(&ScheduledMessage{}).
		Where("id = ? AND status = ?", msg.ID, ScheduleStatusPending).
		Updates(map[string]interface{}{
			"status":  ScheduleStatusSent,
			"sent_at": sentAt,
		})
	if res.Error != nil {
		ErrorLogger.Printf("Error marking scheduled message %d sent: %v", msg.ID, res.Error)
	}
}

// markFailed transitions pending -> failed. The status guard keeps a row
// that lost a race (e.g. a concurrent cancel) in its terminal state.
func (r *ScheduledMessageRunner) markFailed(msg *ScheduledMessage, reason string) {
	res := r.db.Model(&ScheduledMessage{}).
		Where("id = ? AND status = ?", msg.ID, ScheduleStatusPending).
		Updates(map[string]interface{}{
			"status":        ScheduleStatusFailed,
			"error_message": reason,
		})
	if res.Error != nil {
		ErrorLogger.Printf("Error marking scheduled message %d failed: %v", msg.ID, res.Error)
	}
}

// CreateScheduledMessage stores a new pending row.
func CreateScheduledMessage(db *gorm.DB, deviceID, toNumber, body, mediaRef string, scheduledAt time.Time) (*ScheduledMessage, error) {
	msg := ScheduledMessage{
		DeviceID:    deviceID,
		ToNumber:    toNumber,
		Body:        body,
		MediaRef:    mediaRef,
		ScheduledAt: scheduledAt,
		Status:      ScheduleStatusPending,
	}
	if err := db.Create(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// ErrNotPending rejects a cancellation of a row already in a terminal state.
var ErrNotPending = errors.New("scheduled message is not pending")

// CancelScheduledMessage transitions pending -> cancelled. The conditional
// update is the only synchronization with the runner: if promotion already
// started, the cancel loses the race.
func CancelScheduledMessage(db *gorm.DB, id uint, deviceID string) error {
	res := db.Model(&ScheduledMessage{}).
		Where("id = ? AND device_id = ? AND status = ?", id, deviceID, ScheduleStatusPending).
		Update("status", ScheduleStatusCancelled)
	if res.Error != nil {
		return fmt.Errorf("failed to cancel scheduled message %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotPending
	}
	return nil
}
