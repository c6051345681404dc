package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	y2g_errors "github.com/mailfwd/y2g/errors"
	"github.com/mailfwd/y2g/interfaces"
	"github.com/mailfwd/y2g/internal/enum"
	"github.com/mailfwd/y2g/internal/logger"
	"github.com/mailfwd/y2g/internal/models"
	"github.com/mailfwd/y2g/internal/repository"
	"github.com/mailfwd/y2g/internal/utils"
	"github.com/mailfwd/y2g/services/gmail"
	"github.com/mailfwd/y2g/services/pipeline"
)

const batchSize = 50

// Worker is the single insertion loop. Each pass recovers abandoned leases,
// delivers due messages to Gmail and deletes delivered messages from the
// source. All Gmail and IMAP traffic of the sync path goes through here, so
// message-level work is strictly sequential.
type Worker struct {
	log            logger.Logger
	messages       interfaces.MessageRepository
	gmailManager   interfaces.GmailServiceManager
	imapFactory    interfaces.IMAPClientFactory
	alerts         interfaces.AlertService
	labelName      string
	deliverToInbox bool
	pollInterval   time.Duration
}

func NewWorker(log logger.Logger, messages interfaces.MessageRepository, gmailManager interfaces.GmailServiceManager, imapFactory interfaces.IMAPClientFactory, alerts interfaces.AlertService, labelName string, deliverToInbox bool, pollInterval time.Duration) *Worker {
	return &Worker{
		log:            log,
		messages:       messages,
		gmailManager:   gmailManager,
		imapFactory:    imapFactory,
		alerts:         alerts,
		labelName:      labelName,
		deliverToInbox: deliverToInbox,
		pollInterval:   pollInterval,
	}
}

// Run processes batches until the context ends.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := w.RunOnce(ctx); err != nil {
			w.log.Errorf("Worker pass failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.pollInterval):
		}
	}
}

// RunOnce executes a single pass. An unavailable Gmail credential is not an
// error: it alerts and waits for the operator.
func (w *Worker) RunOnce(ctx context.Context) error {
	now := utils.Now()

	recovered, err := w.messages.RecoverStuckInsertions(ctx, now.Add(-repository.LeaseTimeout()))
	if err != nil {
		return fmt.Errorf("failed to recover stuck insertions: %w", err)
	}
	if recovered > 0 {
		w.log.Event("lease_recover", "recovered abandoned insertions", "", zap.Int64("count", recovered))
	}

	delivery, err := w.gmailManager.GetService(ctx)
	if err != nil {
		if oauthErr := y2g_errors.AsOAuthError(err); oauthErr != nil {
			w.log.Event("oauth_unavailable", oauthErr.Error(), "")
			w.alerts.Alert(ctx, oauthErr.Kind, "Gmail authorization required", oauthErr.Error())
			return nil
		}
		return fmt.Errorf("failed to get gmail service: %w", err)
	}

	// One source connection shared by every fetch and delete in this pass,
	// dialed only when something needs it.
	session := &imapSession{factory: w.imapFactory}
	defer session.close()

	due, err := w.messages.SelectDueInsertions(ctx, now, batchSize)
	if err != nil {
		return fmt.Errorf("failed to select due insertions: %w", err)
	}
	for _, msg := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.processInsertion(ctx, delivery, session, msg)
	}

	deletions, err := w.messages.SelectDueDeletions(ctx, now, batchSize)
	if err != nil {
		return fmt.Errorf("failed to select due deletions: %w", err)
	}
	for _, msg := range deletions {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.attemptDeletion(ctx, session, msg)
	}

	return nil
}

func (w *Worker) processInsertion(ctx context.Context, delivery interfaces.GmailDelivery, session *imapSession, msg *models.Message) {
	correlationID := msg.CorrelationID()
	now := utils.Now()

	won, err := w.messages.AcquireInsertLease(ctx, msg.ID, now)
	if err != nil {
		w.log.Errorf("Failed to lease message %s: %v", correlationID, err)
		return
	}
	if !won {
		return
	}

	w.log.Event("insert_attempt", "inserting message", correlationID,
		zap.Int("attempt", msg.AttemptCount+1))

	gmailMessageID, gmailThreadID, err := w.insert(ctx, delivery, session, msg)
	if err != nil {
		w.failInsertion(ctx, msg, err)
		return
	}

	if err := w.messages.MarkInserted(ctx, msg.ID, gmailMessageID, gmailThreadID); err != nil {
		w.log.Errorf("Failed to mark %s inserted: %v", correlationID, err)
		return
	}
	w.log.Event("insert_success", "message inserted", correlationID,
		zap.String("gmail_message_id", gmailMessageID),
		zap.String("gmail_thread_id", gmailThreadID))

	// Delete from the source right away; on failure the deletion loop
	// picks it up later.
	msg.GmailMessageID = &gmailMessageID
	w.attemptDeletion(ctx, session, msg)
}

// insert re-fetches the message, verifies it against the recorded digest and
// imports it. The returned error carries the retry classification.
func (w *Worker) insert(ctx context.Context, delivery interfaces.GmailDelivery, session *imapSession, msg *models.Message) (string, string, error) {
	c, err := session.client(ctx)
	if err != nil {
		return "", "", err
	}

	uidvalidity, err := c.Select(msg.MailboxName, true)
	if err != nil {
		session.close()
		return "", "", fmt.Errorf("failed to select %s: %w", msg.MailboxName, err)
	}
	if uidvalidity != msg.UIDValidity {
		return "", "", y2g_errors.NewPipelineError("uidvalidity changed on %s: %d -> %d, uid %d no longer addressable",
			msg.MailboxName, msg.UIDValidity, uidvalidity, msg.UID)
	}

	fetched, err := c.FetchMessage(msg.UID)
	if err != nil {
		session.close()
		return "", "", err
	}

	prepared, err := pipeline.PrepareRawMessage(fetched.Raw, msg.MailboxName, msg.UIDValidity, msg.UID, msg.RFC822SHA256)
	if err != nil {
		return "", "", err
	}

	// An empty label name disables the custom label.
	var customLabelID string
	if w.labelName != "" {
		customLabelID, err = delivery.EnsureLabel(ctx, w.labelName)
		if err != nil {
			return "", "", err
		}
	}
	systemIDs, err := delivery.SystemLabelIDs(ctx, []string{"INBOX", "UNREAD"})
	if err != nil {
		return "", "", err
	}
	labelIDs := pipeline.BuildLabelIDs(customLabelID, w.deliverToInbox, msg.IMAPFlags, systemIDs["INBOX"], systemIDs["UNREAD"])

	threadID, err := w.resolveThread(ctx, delivery, fetched.Raw)
	if err != nil {
		return "", "", err
	}

	return delivery.ImportRawMessage(ctx, prepared, labelIDs, threadID)
}

// resolveThread tries In-Reply-To, then References newest-first; the first
// match wins. No match means a new thread.
func (w *Worker) resolveThread(ctx context.Context, delivery interfaces.GmailDelivery, raw []byte) (string, error) {
	for _, candidate := range pipeline.ThreadCandidates(raw) {
		threadID, err := delivery.FindThreadByMessageID(ctx, candidate)
		if err != nil {
			return "", err
		}
		if threadID != "" {
			return threadID, nil
		}
	}
	return "", nil
}

// failInsertion maps the error onto the state machine: pipeline failures and
// non-retryable API errors are permanent, everything else backs off.
func (w *Worker) failInsertion(ctx context.Context, msg *models.Message, insertErr error) {
	correlationID := msg.CorrelationID()
	now := utils.Now()

	if pipelineErr := y2g_errors.AsPipelineError(insertErr); pipelineErr != nil {
		w.log.Event("insert_failure", insertErr.Error(), correlationID, zap.Bool("permanent", true))
		if err := w.messages.MarkFailedPerm(ctx, msg.ID, insertErr.Error()); err != nil {
			w.log.Errorf("Failed to mark %s failed: %v", correlationID, err)
		}
		w.alerts.Alert(ctx, enum.AlertFailedPerm, "Message permanently failed",
			fmt.Sprintf("%s: %s", correlationID, insertErr.Error()))
		return
	}

	class := gmail.ClassifyDeliveryError(insertErr)
	if class.OAuthKind != "" {
		w.alerts.Alert(ctx, class.OAuthKind, "Gmail authorization problem", insertErr.Error())
	}

	if class.Retryable {
		nextAttempt := NextAttemptAt(now, msg.AttemptCount)
		w.log.Event("insert_failure", insertErr.Error(), correlationID,
			zap.Bool("permanent", false),
			zap.Time("next_attempt_at", nextAttempt))
		if err := w.messages.MarkFailedRetry(ctx, msg.ID, insertErr.Error(), nextAttempt); err != nil {
			w.log.Errorf("Failed to mark %s for retry: %v", correlationID, err)
		}
		return
	}

	w.log.Event("insert_failure", insertErr.Error(), correlationID, zap.Bool("permanent", true))
	if err := w.messages.MarkFailedPerm(ctx, msg.ID, insertErr.Error()); err != nil {
		w.log.Errorf("Failed to mark %s failed: %v", correlationID, err)
	}
	w.alerts.Alert(ctx, enum.AlertFailedPerm, "Message permanently failed",
		fmt.Sprintf("%s: %s", correlationID, insertErr.Error()))
}

// attemptDeletion removes the delivered message from the source mailbox. Its
// retry state is tracked separately from the insertion attempts.
func (w *Worker) attemptDeletion(ctx context.Context, session *imapSession, msg *models.Message) {
	correlationID := msg.CorrelationID()

	c, err := session.client(ctx)
	if err == nil {
		err = c.DeleteUID(msg.MailboxName, msg.UIDValidity, msg.UID)
	}
	if err != nil {
		session.close()
		nextAttempt := NextAttemptAt(utils.Now(), msg.YahooDeleteAttemptCount)
		w.log.Event("yahoo_delete_failure", err.Error(), correlationID,
			zap.Time("next_attempt_at", nextAttempt))
		if markErr := w.messages.MarkYahooDeleteFailed(ctx, msg.ID, err.Error(), nextAttempt); markErr != nil {
			w.log.Errorf("Failed to mark %s delete failure: %v", correlationID, markErr)
		}
		return
	}

	if err := w.messages.MarkYahooDeleted(ctx, msg.ID); err != nil {
		w.log.Errorf("Failed to mark %s deleted: %v", correlationID, err)
		return
	}
	w.log.Event("yahoo_delete_success", "source message deleted", correlationID)
}

// imapSession lazily dials one connection per worker pass. Callers close it
// after a failed operation so the next message redials instead of reusing a
// connection that may be dead.
type imapSession struct {
	factory interfaces.IMAPClientFactory
	c       interfaces.IMAPClient
}

func (s *imapSession) client(ctx context.Context) (interfaces.IMAPClient, error) {
	if s.c != nil {
		return s.c, nil
	}
	c, err := s.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to source: %w", err)
	}
	s.c = c
	return s.c, nil
}

func (s *imapSession) close() {
	if s.c != nil {
		_ = s.c.Logout()
		s.c = nil
	}
}
