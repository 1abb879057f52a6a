package models

import (
	"time"
)

// Fragment is one physical SMS part as delivered by the reception trigger.
type Fragment struct {
	OriginatingAddress string `json:"originatingAddress"`
	MessageBody        string `json:"messageBody"`
}

// IncomingMessage is one logical message assembled from its fragments.
type IncomingMessage struct {
	Sender     string    `json:"sender"`
	Body       string    `json:"body"`
	PartCount  int       `json:"partCount"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// IsMultipart reports whether the message arrived in more than one fragment.
func (m IncomingMessage) IsMultipart() bool {
	return m.PartCount > 1
}
