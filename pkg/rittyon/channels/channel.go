// Package channels defines the interface rittyon uses to talk to a chat
// platform. The Discord shell implements it; the scheduler and the health
// endpoint only depend on this package.
package channels

import (
	"context"
	"fmt"
	"time"
)

// Channel is a connected chat platform.
type Channel interface {
	// Name returns the channel identifier (e.g. "discord").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a message to the specified channel ID. Long content is
	// split by the implementation.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// OutgoingMessage represents a message to be sent through a channel.
type OutgoingMessage struct {
	// Content is the text content of the message.
	Content string

	// ReplyTo contains the ID of the message to reply to.
	ReplyTo string
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected   bool      `json:"connected"`
	LastEventAt time.Time `json:"last_event_at"`
	ErrorCount  int       `json:"error_count"`
	ConnectedAs string    `json:"connected_as,omitempty"`
}

// Errors.
var (
	ErrChannelDisconnected = fmt.Errorf("channel is not connected")
	ErrSendFailed          = fmt.Errorf("failed to send message")
)
