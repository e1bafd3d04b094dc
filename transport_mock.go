// transport_mock.go
package main

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockTransport is a mock implementation of Transport for testing.
type MockTransport struct {
	mock.Mock
	SendMessageFunc func(ctx context.Context, deviceID, recipient, body string, opts *SendOptions) (*SendReceipt, error)
	IsConnectedFunc func(deviceID string) bool
	ContactInfoFunc func(ctx context.Context, deviceID, jid string) (*ContactInfo, error)
}

// SendMessage mocks sending a message.
func (m *MockTransport) SendMessage(ctx context.Context, deviceID, recipient, body string, opts *SendOptions) (*SendReceipt, error) {
	if m.SendMessageFunc != nil {
		return m.SendMessageFunc(ctx, deviceID, recipient, body, opts)
	}
	args := m.Called(ctx, deviceID, recipient, body, opts)
	if receipt, ok := args.Get(0).(*SendReceipt); ok {
		return receipt, args.Error(1)
	}
	return nil, args.Error(1)
}

// IsConnected mocks the device connect-state check.
func (m *MockTransport) IsConnected(deviceID string) bool {
	if m.IsConnectedFunc != nil {
		return m.IsConnectedFunc(deviceID)
	}
	args := m.Called(deviceID)
	return args.Bool(0)
}

// ContactInfo mocks the contact lookup.
func (m *MockTransport) ContactInfo(ctx context.Context, deviceID, jid string) (*ContactInfo, error) {
	if m.ContactInfoFunc != nil {
		return m.ContactInfoFunc(ctx, deviceID, jid)
	}
	args := m.Called(ctx, deviceID, jid)
	if info, ok := args.Get(0).(*ContactInfo); ok {
		return info, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockAIProvider is a mock implementation of AIProvider for testing.
type MockAIProvider struct {
	mock.Mock
	CompleteFunc func(ctx context.Context, settings AISettings, history []ConversationTurn, userMessage string) (string, error)
}

// Complete mocks an AI completion.
func (m *MockAIProvider) Complete(ctx context.Context, settings AISettings, history []ConversationTurn, userMessage string) (string, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, settings, history, userMessage)
	}
	args := m.Called(ctx, settings, history, userMessage)
	return args.String(0), args.Error(1)
}
