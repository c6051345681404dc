package notify

import (
	"context"
	"time"

	"github.com/mailfwd/y2g/interfaces"
	"github.com/mailfwd/y2g/internal/enum"
	"github.com/mailfwd/y2g/internal/logger"
	"github.com/mailfwd/y2g/internal/models"
	"github.com/mailfwd/y2g/internal/utils"
)

type alertService struct {
	log      logger.Logger
	notifier interfaces.Notifier
	alerts   interfaces.AlertRepository
	cooldown time.Duration
}

// NewAlertService wires the per-kind cooldown and history in front of a
// notifier. A nil notifier disables delivery; alerts are still logged and
// recorded so the admin page shows them.
func NewAlertService(log logger.Logger, notifier interfaces.Notifier, alerts interfaces.AlertRepository, cooldown time.Duration) interfaces.AlertService {
	return &alertService{
		log:      log,
		notifier: notifier,
		alerts:   alerts,
		cooldown: cooldown,
	}
}

// Alert sends a notification of the given kind unless one succeeded within
// the cooldown window. Failures are logged, never returned.
func (s *alertService) Alert(ctx context.Context, kind enum.AlertKind, title, message string) {
	lastSuccess, err := s.alerts.LastSuccessAt(ctx, kind)
	if err != nil {
		s.log.Errorf("Failed to check alert history for %s: %v", kind, err)
		return
	}

	now := utils.Now()
	if lastSuccess != nil && now.Sub(*lastSuccess) < s.cooldown {
		s.log.Debugf("Alert %s suppressed, last sent %s", kind, lastSuccess.Format(time.RFC3339))
		return
	}

	success := false
	if s.notifier == nil {
		s.log.Warnf("Alert %s: %s - %s (no notifier configured)", kind, title, message)
	} else if err := s.notifier.Send(ctx, title, message); err != nil {
		s.log.Errorf("Failed to send alert %s: %v", kind, err)
	} else {
		success = true
		s.log.Infof("Sent alert %s: %s", kind, title)
	}

	record := &models.Alert{
		Kind:      kind,
		Title:     title,
		Message:   message,
		Success:   success,
		CreatedAt: now,
	}
	if err := s.alerts.Record(ctx, record); err != nil {
		s.log.Errorf("Failed to record alert %s: %v", kind, err)
	}
}
