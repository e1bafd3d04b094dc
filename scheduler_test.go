package main

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"
)

type schedulerFixture struct {
	db        *gorm.DB
	clock     *MockClock
	transport *MockTransport
	runner    *ScheduledMessageRunner

	sends []string
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	db := setupTestDB(t)
	clock := testClock()
	settings := NewSettingsCache(db, clock)
	ledger := NewUsageLedger(db, clock, settings)

	f := &schedulerFixture{db: db, clock: clock}
	f.transport = &MockTransport{
		IsConnectedFunc: func(deviceID string) bool { return true },
		SendMessageFunc: func(ctx context.Context, deviceID, recipient, body string, opts *SendOptions) (*SendReceipt, error) {
			f.sends = append(f.sends, recipient)
			return &SendReceipt{MessageID: "m-1", Timestamp: clock.Now()}, nil
		},
	}
	dispatcher := NewDispatcher(db, f.transport, ledger, settings)
	f.runner = NewScheduledMessageRunner(db, dispatcher, f.transport, clock)

	seedDevice(t, db, "dev-1", 1)
	seedSettings(t, db, 1, 100, true)
	return f
}

func seedScheduled(t *testing.T, db *gorm.DB, deviceID, toNumber string, at time.Time) *ScheduledMessage {
	t.Helper()
	msg, err := CreateScheduledMessage(db, deviceID, toNumber, "scheduled body", "", at)
	if err != nil {
		t.Fatalf("Failed to seed scheduled message: %v", err)
	}
	return msg
}

func statusOf(t *testing.T, db *gorm.DB, id uint) ScheduledMessage {
	t.Helper()
	var msg ScheduledMessage
	if err := db.First(&msg, id).Error; err != nil {
		t.Fatalf("Scheduled message %d missing: %v", id, err)
	}
	return msg
}

func TestDueMessagesPromotedInOrder(t *testing.T) {
	f := newSchedulerFixture(t)
	now := f.clock.Now()

	late := seedScheduled(t, f.db, "dev-1", "222", now.Add(-1*time.Minute))
	early := seedScheduled(t, f.db, "dev-1", "111", now.Add(-10*time.Minute))
	future := seedScheduled(t, f.db, "dev-1", "333", now.Add(10*time.Minute))

	f.runner.processDue(context.Background())

	if len(f.sends) != 2 {
		t.Fatalf("Expected 2 sends, got %d", len(f.sends))
	}
	if f.sends[0] != "111@s.whatsapp.net" || f.sends[1] != "222@s.whatsapp.net" {
		t.Errorf("Expected earliest-due-first order, got %v", f.sends)
	}

	if got := statusOf(t, f.db, early.ID); got.Status != ScheduleStatusSent || got.SentAt == nil {
		t.Errorf("Expected early row sent with SentAt, got status=%s sentAt=%v", got.Status, got.SentAt)
	}
	if got := statusOf(t, f.db, late.ID); got.Status != ScheduleStatusSent {
		t.Errorf("Expected late row sent, got %s", got.Status)
	}
	if got := statusOf(t, f.db, future.ID); got.Status != ScheduleStatusPending {
		t.Errorf("Expected future row untouched, got %s", got.Status)
	}
}

// TestPromotionIsIdempotent re-runs the poll and verifies terminal rows are
// never re-sent.
func TestPromotionIsIdempotent(t *testing.T) {
	f := newSchedulerFixture(t)
	seedScheduled(t, f.db, "dev-1", "111", f.clock.Now().Add(-time.Minute))

	f.runner.processDue(context.Background())
	f.runner.processDue(context.Background())
	f.runner.processDue(context.Background())

	if len(f.sends) != 1 {
		t.Fatalf("Expected exactly one send across repeated polls, got %d", len(f.sends))
	}
}

func TestDisconnectedDeviceFailsWithoutSend(t *testing.T) {
	f := newSchedulerFixture(t)
	msg := seedScheduled(t, f.db, "dev-1", "111", f.clock.Now().Add(-time.Minute))
	f.transport.IsConnectedFunc = func(deviceID string) bool { return false }

	f.runner.processDue(context.Background())

	if len(f.sends) != 0 {
		t.Errorf("Expected no send for a disconnected device, got %d", len(f.sends))
	}
	got := statusOf(t, f.db, msg.ID)
	if got.Status != ScheduleStatusFailed {
		t.Fatalf("Expected failed status, got %s", got.Status)
	}
	if got.ErrorMessage != "Device not connected" {
		t.Errorf("Expected 'Device not connected' error, got %q", got.ErrorMessage)
	}
}

func TestDispatchErrorMarksFailed(t *testing.T) {
	f := newSchedulerFixture(t)
	msg := seedScheduled(t, f.db, "dev-1", "111", f.clock.Now().Add(-time.Minute))
	f.transport.SendMessageFunc = func(ctx context.Context, deviceID, recipient, body string, opts *SendOptions) (*SendReceipt, error) {
		return nil, fmt.Errorf("send rejected")
	}

	f.runner.processDue(context.Background())
	got := statusOf(t, f.db, msg.ID)
	if got.Status != ScheduleStatusFailed {
		t.Fatalf("Expected failed status, got %s", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Error("Expected the dispatch error to be recorded")
	}

	// Failed rows are terminal; the next poll must leave them alone.
	f.runner.processDue(context.Background())
	if got := statusOf(t, f.db, msg.ID); got.Status != ScheduleStatusFailed {
		t.Errorf("Expected failed to stay terminal, got %s", got.Status)
	}
}

func TestOneFailureDoesNotAbortTheBatch(t *testing.T) {
	f := newSchedulerFixture(t)
	now := f.clock.Now()
	bad := seedScheduled(t, f.db, "dev-1", "111", now.Add(-2*time.Minute))
	good := seedScheduled(t, f.db, "dev-1", "222", now.Add(-1*time.Minute))

	f.transport.SendMessageFunc = func(ctx context.Context, deviceID, recipient, body string, opts *SendOptions) (*SendReceipt, error) {
		if recipient == "111@s.whatsapp.net" {
			return nil, fmt.Errorf("send rejected")
		}
		f.sends = append(f.sends, recipient)
		return &SendReceipt{MessageID: "m-1", Timestamp: f.clock.Now()}, nil
	}

	f.runner.processDue(context.Background())

	if got := statusOf(t, f.db, bad.ID); got.Status != ScheduleStatusFailed {
		t.Errorf("Expected first row failed, got %s", got.Status)
	}
	if got := statusOf(t, f.db, good.ID); got.Status != ScheduleStatusSent {
		t.Errorf("Expected second row sent, got %s", got.Status)
	}
}

func TestBatchSizeLimit(t *testing.T) {
	f := newSchedulerFixture(t)
	now := f.clock.Now()
	for i := 0; i < schedulerBatchSize+5; i++ {
		seedScheduled(t, f.db, "dev-1", fmt.Sprintf("6%d", i), now.Add(-time.Duration(i+1)*time.Minute))
	}

	f.runner.processDue(context.Background())

	if len(f.sends) != schedulerBatchSize {
		t.Errorf("Expected one batch of %d sends, got %d", schedulerBatchSize, len(f.sends))
	}
}

func TestCancelScheduledMessage(t *testing.T) {
	f := newSchedulerFixture(t)
	msg := seedScheduled(t, f.db, "dev-1", "111", f.clock.Now().Add(time.Hour))

	if err := CancelScheduledMessage(f.db, msg.ID, "dev-1"); err != nil {
		t.Fatalf("Cancel of a pending message failed: %v", err)
	}
	if got := statusOf(t, f.db, msg.ID); got.Status != ScheduleStatusCancelled {
		t.Fatalf("Expected cancelled status, got %s", got.Status)
	}

	// Cancelled rows are terminal for both the runner and further cancels.
	f.runner.processDue(context.Background())
	if len(f.sends) != 0 {
		t.Errorf("Expected no send for a cancelled row, got %d", len(f.sends))
	}
	if err := CancelScheduledMessage(f.db, msg.ID, "dev-1"); !errors.Is(err, ErrNotPending) {
		t.Errorf("Expected ErrNotPending on a second cancel, got: %v", err)
	}
}

func TestCancelAfterSentFails(t *testing.T) {
	f := newSchedulerFixture(t)
	msg := seedScheduled(t, f.db, "dev-1", "111", f.clock.Now().Add(-time.Minute))

	f.runner.processDue(context.Background())
	if got := statusOf(t, f.db, msg.ID); got.Status != ScheduleStatusSent {
		t.Fatalf("Expected sent status, got %s", got.Status)
	}

	if err := CancelScheduledMessage(f.db, msg.ID, "dev-1"); !errors.Is(err, ErrNotPending) {
		t.Errorf("Expected ErrNotPending for a sent message, got: %v", err)
	}
}

func TestCancelChecksDeviceOwnership(t *testing.T) {
	f := newSchedulerFixture(t)
	msg := seedScheduled(t, f.db, "dev-1", "111", f.clock.Now().Add(time.Hour))

	if err := CancelScheduledMessage(f.db, msg.ID, "dev-other"); !errors.Is(err, ErrNotPending) {
		t.Errorf("Expected cancel from another device to fail, got: %v", err)
	}
	if got := statusOf(t, f.db, msg.ID); got.Status != ScheduleStatusPending {
		t.Errorf("Expected the row to stay pending, got %s", got.Status)
	}
}
