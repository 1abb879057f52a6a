package notify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"smsrelay/internal/constants"
	"smsrelay/internal/models"
	"smsrelay/internal/privacy"
)

// Notifier raises one user-visible notification per permanently failed
// work item. It logs through logrus and, when a hub is attached, pushes the
// notification to stream clients.
type Notifier struct {
	logger  *logrus.Logger
	hub     *Hub
	verbose bool
}

func NewNotifier(logger *logrus.Logger, hub *Hub, verbose bool) *Notifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &Notifier{logger: logger, hub: hub, verbose: verbose}
}

// NotifyPermanentFailure implements queue.Notifier.
func (n *Notifier) NotifyPermanentFailure(_ context.Context, item *models.WorkItem) {
	sender := item.Payload.Sender
	if !n.verbose {
		sender = privacy.MaskSender(sender)
	}

	var message string
	switch {
	case item.Payload.Sender == "":
		message = "A queued message could not be read and was not forwarded"
	case item.Attempt == 0:
		message = fmt.Sprintf("Message from %s was rejected by every endpoint", sender)
	default:
		message = fmt.Sprintf("Message from %s could not be forwarded after %d attempts", sender, item.Attempt)
	}

	n.logger.WithFields(logrus.Fields{
		"work_id":    item.WorkID,
		"sender":     sender,
		"attempts":   item.Attempt,
		"last_error": item.LastError,
	}).Error(constants.DefaultNotificationTitleFailed)

	if n.hub != nil {
		n.hub.Notify(Notification{
			Title:   constants.DefaultNotificationTitleFailed,
			Message: message,
			WorkID:  item.WorkID,
		})
	}
}
