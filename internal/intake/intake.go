// Package intake assembles physical SMS fragments into one logical message.
package intake

import (
	"errors"
	"strings"
	"time"

	"smsrelay/internal/models"
)

// ErrNoSender is returned when a reception carries no originating address.
var ErrNoSender = errors.New("reception has no sender")

// Normalize merges the fragments of one reception event. The sender is taken
// from the first fragment and the body is every fragment body in delivery
// order. An all-empty body is returned as "" for the caller to judge.
func Normalize(fragments []models.Fragment, receivedAt time.Time) (models.IncomingMessage, error) {
	if len(fragments) == 0 {
		return models.IncomingMessage{}, ErrNoSender
	}

	sender := strings.TrimSpace(fragments[0].OriginatingAddress)
	if sender == "" {
		return models.IncomingMessage{}, ErrNoSender
	}

	var body strings.Builder
	for _, f := range fragments {
		body.WriteString(f.MessageBody)
	}

	return models.IncomingMessage{
		Sender:     sender,
		Body:       body.String(),
		PartCount:  len(fragments),
		ReceivedAt: receivedAt,
	}, nil
}
