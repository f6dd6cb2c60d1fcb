package hub

import (
	"strings"
	"time"

	"github.com/XavierBriggs/fortuna/services/results-service/internal/query"
)

// MessageType identifies websocket messages
type MessageType string

const (
	// Server -> client
	MessageTypeResultUpdate MessageType = "result_update"
	MessageTypeError        MessageType = "error"

	// Client -> server
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"

	// Both directions
	MessageTypeHeartbeat MessageType = "heartbeat"
)

// ServerMessage is sent to clients
type ServerMessage struct {
	Type      MessageType `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// ClientMessage is received from clients
type ClientMessage struct {
	Type    MessageType            `json:"type"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// ResultUpdate is the payload of a result_update message
type ResultUpdate struct {
	Outcome string          `json:"outcome"` // created or updated
	Event   query.EventView `json:"event"`
}

// SubscriptionFilter narrows what a client receives. Empty means everything.
type SubscriptionFilter struct {
	Sports []string `json:"sports,omitempty"`
	Events []string `json:"events,omitempty"`
}

// Matches reports whether an update passes the filter. Sports compare case-insensitively.
func (f SubscriptionFilter) Matches(update ResultUpdate) bool {
	if len(f.Sports) > 0 {
		found := false
		for _, s := range f.Sports {
			if strings.EqualFold(strings.TrimSpace(s), update.Event.Sport) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.Events) > 0 && !contains(f.Events, update.Event.EventID) {
		return false
	}

	return true
}

// ErrorMessage is the payload of an error message
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConnectionStats describes one client connection
type ConnectionStats struct {
	ClientID          string    `json:"client_id"`
	ConnectedAt       time.Time `json:"connected_at"`
	MessagesSent      int64     `json:"messages_sent"`
	MessagesReceived  int64     `json:"messages_received"`
	LastMessageAt     time.Time `json:"last_message_at"`
	BufferSize        int       `json:"buffer_size"`
	BufferUtilization float64   `json:"buffer_utilization"`
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
