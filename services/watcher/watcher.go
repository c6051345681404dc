package watcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mailfwd/y2g/interfaces"
	"github.com/mailfwd/y2g/internal/enum"
	"github.com/mailfwd/y2g/internal/logger"
	"github.com/mailfwd/y2g/internal/models"
	"github.com/mailfwd/y2g/internal/utils"
	"github.com/mailfwd/y2g/services/pipeline"
)

// Watcher follows one mailbox: it keeps the sync cursor current, records
// every new message as FETCHED and then blocks in IDLE (or polls) waiting for
// more. Run owns a single connection; any connection error ends the session
// and the supervisor restarts it.
type Watcher struct {
	log          logger.Logger
	factory      interfaces.IMAPClientFactory
	mailboxes    interfaces.MailboxStateRepository
	messages     interfaces.MessageRepository
	accountID    uint64
	mailbox      string
	idleTimeout  time.Duration
	pollInterval time.Duration
}

func NewWatcher(log logger.Logger, factory interfaces.IMAPClientFactory, mailboxes interfaces.MailboxStateRepository, messages interfaces.MessageRepository, accountID uint64, mailbox string, idleTimeout, pollInterval time.Duration) *Watcher {
	return &Watcher{
		log:          log,
		factory:      factory,
		mailboxes:    mailboxes,
		messages:     messages,
		accountID:    accountID,
		mailbox:      mailbox,
		idleTimeout:  idleTimeout,
		pollInterval: pollInterval,
	}
}

func (w *Watcher) Mailbox() string {
	return w.mailbox
}

// Run executes one watch session on a fresh connection.
func (w *Watcher) Run(ctx context.Context) error {
	c, err := w.factory(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect for %s: %w", w.mailbox, err)
	}
	defer c.Logout()

	uidvalidity, lastSeen, err := w.syncCursor(ctx, c)
	if err != nil {
		return err
	}

	lastSeen, err = w.drain(ctx, c, uidvalidity, lastSeen)
	if err != nil {
		return err
	}

	canIdle, err := c.SupportsIdle()
	if err != nil {
		return fmt.Errorf("failed to check IDLE support: %w", err)
	}
	if !canIdle {
		w.log.Warnf("Server does not support IDLE, polling %s every %s", w.mailbox, w.pollInterval)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if canIdle {
			// Both a server update and the timeout fall through to a
			// re-select and drain; new mail and a silently dead IDLE look
			// the same from here.
			if _, err := c.IdleWait(w.idleTimeout); err != nil {
				return fmt.Errorf("idle failed on %s: %w", w.mailbox, err)
			}
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.pollInterval):
			}
			if err := c.Noop(); err != nil {
				return fmt.Errorf("noop failed on %s: %w", w.mailbox, err)
			}
		}

		uv, err := c.Select(w.mailbox, true)
		if err != nil {
			return fmt.Errorf("failed to re-select %s: %w", w.mailbox, err)
		}
		if uv != uidvalidity {
			w.log.Warnf("UIDVALIDITY changed on %s: %d -> %d, resetting cursor", w.mailbox, uidvalidity, uv)
			if err := w.mailboxes.ResetForUIDValidity(ctx, w.accountID, w.mailbox, uv); err != nil {
				return err
			}
			uidvalidity = uv
			lastSeen = 0
		}

		lastSeen, err = w.drain(ctx, c, uidvalidity, lastSeen)
		if err != nil {
			return err
		}
	}
}

// syncCursor selects the mailbox and reconciles the stored cursor with the
// server's UIDVALIDITY. A mailbox seen for the first time adopts the current
// tail so only mail arriving from now on is forwarded.
func (w *Watcher) syncCursor(ctx context.Context, c interfaces.IMAPClient) (uint32, uint32, error) {
	uidvalidity, err := c.Select(w.mailbox, true)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to select %s: %w", w.mailbox, err)
	}

	state, err := w.mailboxes.Get(ctx, w.accountID, w.mailbox)
	if err != nil {
		return 0, 0, err
	}

	if state == nil {
		uids, err := c.SearchAll()
		if err != nil {
			return 0, 0, fmt.Errorf("failed to probe tail of %s: %w", w.mailbox, err)
		}
		var tail uint32
		if len(uids) > 0 {
			tail = uids[len(uids)-1]
		}
		now := utils.Now()
		err = w.mailboxes.Save(ctx, &models.MailboxState{
			AccountID:   w.accountID,
			Name:        w.mailbox,
			UIDValidity: uidvalidity,
			LastSeenUID: tail,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return 0, 0, err
		}
		w.log.Infof("Watching %s from uid %d (uidvalidity %d)", w.mailbox, tail, uidvalidity)
		return uidvalidity, tail, nil
	}

	if state.UIDValidity != uidvalidity {
		w.log.Warnf("UIDVALIDITY changed on %s: %d -> %d, resetting cursor", w.mailbox, state.UIDValidity, uidvalidity)
		if err := w.mailboxes.ResetForUIDValidity(ctx, w.accountID, w.mailbox, uidvalidity); err != nil {
			return 0, 0, err
		}
		return uidvalidity, 0, nil
	}

	return uidvalidity, state.LastSeenUID, nil
}

// drain fetches and records every UID past the cursor, then advances it. The
// uid guard matters: a search for `n:*` past the tail still answers with the
// last message.
func (w *Watcher) drain(ctx context.Context, c interfaces.IMAPClient, uidvalidity, lastSeen uint32) (uint32, error) {
	uids, err := c.SearchSince(lastSeen)
	if err != nil {
		return lastSeen, fmt.Errorf("search failed on %s: %w", w.mailbox, err)
	}

	start := lastSeen
	for _, uid := range uids {
		if uid <= lastSeen {
			continue
		}
		if err := ctx.Err(); err != nil {
			break
		}

		correlationID := models.CorrelationID(w.mailbox, uidvalidity, uid)
		w.log.Event("message_discovered", "new message", correlationID)

		fetched, err := c.FetchMessage(uid)
		if err != nil {
			return lastSeen, fmt.Errorf("fetch failed on %s: %w", w.mailbox, err)
		}

		sha := pipeline.SHA256Hex(fetched.Raw)
		now := utils.Now()
		msg := &models.Message{
			AccountID:    w.accountID,
			MailboxName:  w.mailbox,
			UIDValidity:  uidvalidity,
			UID:          uid,
			MessageID:    pipeline.ExtractMessageID(fetched.Raw),
			RFC822SHA256: sha,
			IMAPFlags:    models.StringList(fetched.Flags),
			State:        enum.MessageStateFetched,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if !fetched.InternalDate.IsZero() {
			msg.InternalDate = &fetched.InternalDate
		}

		created, err := w.messages.Store(ctx, msg)
		if err != nil {
			return lastSeen, err
		}
		if created {
			w.log.Event("message_fetched", "message recorded", correlationID,
				zap.String("sha256", sha), zap.Int("size", len(fetched.Raw)))
		} else {
			w.log.Debugf("Message %s already recorded", correlationID)
		}

		lastSeen = uid
	}

	if lastSeen != start {
		if err := w.mailboxes.UpdateCursor(ctx, w.accountID, w.mailbox, uidvalidity, lastSeen); err != nil {
			return lastSeen, err
		}
	}

	return lastSeen, nil
}
