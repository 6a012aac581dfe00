package domain

import "time"

// ProviderName identifies the mail/calendar provider behind a connection.
type ProviderName string

const (
	ProviderOutlook ProviderName = "outlook"
	ProviderGmail   ProviderName = "gmail"
)

// ConnectionStatus is the lifecycle state of a connection.
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionError        ConnectionStatus = "error"
)

// Connection is a configured link to one external account.
type Connection struct {
	ID                 string           `json:"id"`
	Provider           ProviderName     `json:"provider"`
	DisplayName        string           `json:"display_name"`
	Status             ConnectionStatus `json:"status"`
	AccountEmail       string           `json:"account_email"`
	CredentialRef      string           `json:"credential_ref"`
	LastSyncAt         *time.Time       `json:"last_sync_at,omitempty"`
	LastMessageSyncAt  *time.Time       `json:"last_message_sync_at,omitempty"`
	LastCalendarSyncAt *time.Time       `json:"last_calendar_sync_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Configured reports whether the connection carries what a sync needs.
func (c Connection) Configured() bool {
	return c.ID != "" && c.AccountEmail != "" && c.Provider != ""
}
