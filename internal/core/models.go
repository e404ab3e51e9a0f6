package core

import (
	"time"
)

// Provenance tags used where no rule set was involved.
const (
	SourceManual = "manual"
	SourceAPI    = "api"
)

type Action string

const (
	ActionOptIn  Action = "optin"
	ActionOptOut Action = "optout"
)

func (a Action) Valid() bool { return a == ActionOptIn || a == ActionOptOut }

// OptOutConfig binds opt-out/opt-in phrases to one receiving number.
type OptOutConfig struct {
	ID           string     `json:"id"`
	OptoutNumber string     `json:"optoutNumber"`
	OptoutPhrase string     `json:"optoutPhrase"`
	OptinPhrase  string     `json:"optinPhrase"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
}

type CustomSender struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"senderId"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// OptOutEntry is one blocklisted number. ConfigID is the matched rule set id,
// or SourceManual / SourceAPI.
type OptOutEntry struct {
	Number         string     `json:"number"`
	ConfigID       string     `json:"configId"`
	OriginalNumber string     `json:"originalNumber,omitempty"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
}

type HistoryEntry struct {
	Number     string    `json:"number"`
	Action     Action    `json:"action"`
	Timestamp  time.Time `json:"timestamp"`
	ReceivedOn string    `json:"receivedOn"`
	ConfigID   string    `json:"configId,omitempty"`
}

// configRecord is the shape stored under db.KeyConfig.
type configRecord struct {
	OptoutConfigs []OptOutConfig `json:"optoutConfigs"`
	CustomSenders []CustomSender `json:"customSenders"`
}

// credentialsRecord is the shape stored under db.KeyCredentials.
type credentialsRecord struct {
	APIKey    string `json:"apiKey"`
	APISecret string `json:"apiSecret"`
	IsLocked  bool   `json:"isLocked"`
}
