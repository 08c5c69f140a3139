package identity

import "time"

// Account binds one origin to a claimed platform identifier.
type Account struct {
	ID                string    `json:"accountId"`
	BoundOrigin       string    `json:"boundOrigin"`
	ClaimedIdentifier string    `json:"claimedIdentifier"`
	DisplayName       string    `json:"verifiedDisplayName"`
	Subject           string    `json:"displaySubject,omitempty"`
	Approved          bool      `json:"approved"`
	CreatedAt         time.Time `json:"createdAt"`
	ApprovedAt        time.Time `json:"approvedAt"`
}

// BanRecord marks a claimed identifier as banned. Presence is the ban.
type BanRecord struct {
	Identifier string    `json:"claimedIdentifier"`
	Reason     string    `json:"reason"`
	CreatedBy  string    `json:"createdBy,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Change event types carried by the realtime feed.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
)

// ChangeEvent is one change to an Account record as pushed by a Feed.
type ChangeEvent struct {
	Type    string  `json:"eventType"`
	Account Account `json:"payload"`
}
