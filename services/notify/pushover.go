package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gregdel/pushover"

	y2g_errors "github.com/mailfwd/y2g/errors"
	"github.com/mailfwd/y2g/interfaces"
	"github.com/mailfwd/y2g/internal/logger"
)

var sendRetryDelays = []time.Duration{2 * time.Second, 5 * time.Second}

type pushoverNotifier struct {
	app       *pushover.Pushover
	recipient *pushover.Recipient
	log       logger.Logger
}

// NewPushoverNotifier returns a Notifier delivering through the Pushover API.
func NewPushoverNotifier(apiToken, userKey string, log logger.Logger) interfaces.Notifier {
	return &pushoverNotifier{
		app:       pushover.New(apiToken),
		recipient: pushover.NewRecipient(userKey),
		log:       log,
	}
}

// Send pushes one notification, retrying transient failures twice. DNS
// failures are returned as PushoverDNSError so callers can tell a broken
// resolver from a rejected message.
func (n *pushoverNotifier) Send(ctx context.Context, title, message string) error {
	msg := pushover.NewMessageWithTitle(message, title)

	var lastErr error
	for attempt := 0; attempt <= len(sendRetryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(sendRetryDelays[attempt-1]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		_, lastErr = n.app.SendMessage(msg, n.recipient)
		if lastErr == nil {
			return nil
		}
		n.log.Warnf("Pushover send attempt %d failed: %v", attempt+1, lastErr)
	}

	var dnsErr *net.DNSError
	if errors.As(lastErr, &dnsErr) {
		return &y2g_errors.PushoverDNSError{Err: lastErr}
	}
	return fmt.Errorf("failed to send pushover notification: %w", lastErr)
}
