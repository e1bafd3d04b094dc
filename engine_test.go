package main

import (
	"context"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) (*Engine, *MockTransport, *MockClock) {
	t.Helper()
	db := setupTestDB(t)
	clock := testClock()
	transport := &MockTransport{
		IsConnectedFunc: func(deviceID string) bool { return true },
		SendMessageFunc: func(ctx context.Context, deviceID, recipient, body string, opts *SendOptions) (*SendReceipt, error) {
			return &SendReceipt{MessageID: "m-1", Timestamp: clock.Now()}, nil
		},
	}
	provider := &MockAIProvider{
		CompleteFunc: func(ctx context.Context, aiSettings AISettings, history []ConversationTurn, userMessage string) (string, error) {
			return "ai reply", nil
		},
	}
	return NewEngine(db, transport, provider, clock), transport, clock
}

func TestRegisterDeviceUpsert(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	if err := engine.RegisterDevice("dev-1", 1, "Sales"); err != nil {
		t.Fatalf("RegisterDevice failed: %v", err)
	}
	if err := engine.RegisterDevice("dev-1", 2, "Support"); err != nil {
		t.Fatalf("Re-registering failed: %v", err)
	}

	var devices []Device
	if err := engine.db.Find(&devices).Error; err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("Expected one device row, got %d", len(devices))
	}
	if devices[0].UserID != 2 || devices[0].Name != "Support" {
		t.Errorf("Expected updated owner and name, got %+v", devices[0])
	}
}

// TestUpdateUserSettingsInvalidatesCache verifies a settings write is
// visible on the very next read despite the TTL.
func TestUpdateUserSettingsInvalidatesCache(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	// Prime the cache with the defaults.
	if got := engine.settings.Get(1).DailyMessageLimit; got != defaultDailyMessageLimit {
		t.Fatalf("Unexpected initial limit %d", got)
	}

	updated := defaultUserSettings(1)
	updated.DailyMessageLimit = 7
	if err := engine.UpdateUserSettings(updated); err != nil {
		t.Fatalf("UpdateUserSettings failed: %v", err)
	}

	if got := engine.settings.Get(1).DailyMessageLimit; got != 7 {
		t.Errorf("Expected limit 7 immediately after update, got %d", got)
	}
}

func TestEngineSendMessage(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if err := engine.RegisterDevice("dev-1", 1, ""); err != nil {
		t.Fatalf("RegisterDevice failed: %v", err)
	}
	settings := defaultUserSettings(1)
	settings.MessageDelaySeconds = 0
	if err := engine.UpdateUserSettings(settings); err != nil {
		t.Fatalf("UpdateUserSettings failed: %v", err)
	}

	receipt, err := engine.SendMessage(context.Background(), "dev-1", "628123", "hello", "")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if receipt.MessageID == "" {
		t.Error("Expected a message ID in the receipt")
	}

	used, err := engine.UsageToday(1)
	if err != nil {
		t.Fatalf("UsageToday failed: %v", err)
	}
	if used != 1 {
		t.Errorf("Expected usage 1 after one send, got %d", used)
	}
}

func TestEngineScheduleAndCancel(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	if err := engine.RegisterDevice("dev-1", 1, ""); err != nil {
		t.Fatalf("RegisterDevice failed: %v", err)
	}

	msg, err := engine.ScheduleMessage("dev-1", "628123", "later", "", clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ScheduleMessage failed: %v", err)
	}
	if msg.Status != ScheduleStatusPending {
		t.Errorf("Expected pending status, got %s", msg.Status)
	}

	if err := engine.CancelScheduledMessage(msg.ID, "dev-1"); err != nil {
		t.Fatalf("CancelScheduledMessage failed: %v", err)
	}
}

func TestEngineStartStop(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	engine.HandleInbound(InboundMessage{DeviceID: "dev-1", ChatID: "c", SenderID: "s", Body: ""})
	engine.Stop()
}
