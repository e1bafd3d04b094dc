package main

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// BroadcastResult records the outcome of one recipient of a broadcast.
type BroadcastResult struct {
	Recipient string `json:"recipient"`
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BroadcastRunner fans one message out to many recipients, strictly
// sequentially, sleeping the configured delay between consecutive attempts.
// Quota for the whole batch is validated up front; per-recipient failures
// are recorded and do not abort the rest of the list.
type BroadcastRunner struct {
	db         *gorm.DB
	dispatcher *Dispatcher
	ledger     *UsageLedger
	settings   *SettingsCache
	clock      Clock
}

func NewBroadcastRunner(db *gorm.DB, dispatcher *Dispatcher, ledger *UsageLedger, settings *SettingsCache, clock Clock) *BroadcastRunner {
	return &BroadcastRunner{
		db:         db,
		dispatcher: dispatcher,
		ledger:     ledger,
		settings:   settings,
		clock:      clock,
	}
}

// Broadcast sends body to each recipient in input order. Pre-flight
// failures (*TooManyRecipientsError, *InsufficientQuotaError) reject the
// whole call before any send is attempted.
func (r *BroadcastRunner) Broadcast(ctx context.Context, deviceID string, recipients []string, body string, mediaRef string) ([]BroadcastResult, error) {
	userID, err := r.dispatcher.ownerOf(deviceID)
	if err != nil {
		return nil, err
	}

	userSettings := r.settings.Get(userID)

	if len(recipients) > userSettings.MaxBroadcastRecipients {
		return nil, &TooManyRecipientsError{
			Count: len(recipients),
			Max:   userSettings.MaxBroadcastRecipients,
		}
	}

	if userSettings.RateLimitingEnabled {
		used, err := r.ledger.UsageToday(userID)
		if err != nil {
			// Same fail-open stance as the single-send quota check.
			ErrorLogger.Printf("Usage lookup failed for user %d, allowing broadcast: %v", userID, err)
		} else {
			remaining := userSettings.DailyMessageLimit - used
			if len(recipients) > remaining {
				return nil, &InsufficientQuotaError{
					Requested: len(recipients),
					Remaining: remaining,
				}
			}
		}
	}

	delay := time.Duration(userSettings.BroadcastDelaySeconds) * time.Second
	results := make([]BroadcastResult, 0, len(recipients))

	for i, recipient := range recipients {
		if i > 0 && delay > 0 {
			if err := r.clock.Sleep(ctx, delay); err != nil {
				// Cancelled mid-broadcast: report the remaining recipients as
				// not attempted.
				for _, rest := range recipients[i:] {
					results = append(results, BroadcastResult{Recipient: rest, Error: err.Error()})
				}
				return results, nil
			}
		}

		receipt, err := r.dispatcher.Send(ctx, deviceID, recipient, body, DispatchOptions{
			SkipRateLimit: true,
			SkipPacing:    true,
			MessageType:   KindBroadcast,
			MediaRef:      mediaRef,
		})
		if err != nil {
			results = append(results, BroadcastResult{Recipient: recipient, Error: err.Error()})
			continue
		}

		r.ledger.RecordBroadcastSent(userID, deviceID)
		results = append(results, BroadcastResult{
			Recipient: recipient,
			Success:   true,
			MessageID: receipt.MessageID,
		})
	}

	return results, nil
}
