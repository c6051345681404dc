package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sort"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/pkg/errors"

	"github.com/mailfwd/y2g/interfaces"
	"github.com/mailfwd/y2g/internal/logger"
)

const (
	connectTimeout = 30 * time.Second
	commandTimeout = 30 * time.Second
	fetchTimeout   = 60 * time.Second
	logoutTimeout  = 5 * time.Second
)

type ClientConfig struct {
	Addr     string
	Username string
	Password string
	Log      logger.Logger
}

// Client wraps one authenticated IMAP connection.
type Client struct {
	c   *client.Client
	cfg ClientConfig

	// currently selected mailbox, set by Select
	mailbox string
}

// NewClientFactory returns a factory dialing fresh connections with the given
// credentials. The watcher and worker never share a connection.
func NewClientFactory(cfg ClientConfig) interfaces.IMAPClientFactory {
	return func(ctx context.Context) (interfaces.IMAPClient, error) {
		return Connect(ctx, cfg)
	}
}

// Connect dials the server over TLS, verifies capabilities and logs in.
func Connect(ctx context.Context, cfg ClientConfig) (*Client, error) {
	host, _, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("invalid imap address %s: %w", cfg.Addr, err)
	}

	// Set up connection with timeout
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}

	tlsConfig := &tls.Config{
		ServerName: host,
	}

	c, err := client.DialWithDialerTLS(dialer, cfg.Addr, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Addr, err)
	}

	// Check server capabilities
	c.Timeout = commandTimeout
	if _, err := c.Capability(); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to get capabilities: %w", err)
	}

	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login as %s: %w", cfg.Username, err)
	}

	// Reset client timeout to default
	c.Timeout = 0

	cfg.Log.Infof("Connected and logged in to %s", cfg.Addr)
	return &Client{c: c, cfg: cfg}, nil
}

// ListMailboxes returns every mailbox name advertised by the server.
func (s *Client) ListMailboxes() ([]string, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	s.c.Timeout = commandTimeout
	go func() {
		done <- s.c.List("", "*", mailboxes)
	}()

	var names []string
	for m := range mailboxes {
		names = append(names, m.Name)
	}

	s.c.Timeout = 0
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", err)
	}

	return names, nil
}

// Select opens the mailbox and returns its UIDVALIDITY, falling back to a
// STATUS probe when the SELECT response did not carry one.
func (s *Client) Select(mailbox string, readOnly bool) (uint32, error) {
	s.c.Timeout = commandTimeout
	mbox, err := s.c.Select(mailbox, readOnly)
	s.c.Timeout = 0
	if err != nil {
		return 0, fmt.Errorf("failed to select %s: %w", mailbox, err)
	}

	s.mailbox = mailbox

	if mbox.UidValidity != 0 {
		return mbox.UidValidity, nil
	}

	s.c.Timeout = commandTimeout
	status, err := s.c.Status(mailbox, []imap.StatusItem{imap.StatusUidValidity})
	s.c.Timeout = 0
	if err != nil {
		return 0, fmt.Errorf("failed to get status for %s: %w", mailbox, err)
	}

	return checkUIDValidity(mailbox, status.UidValidity)
}

// checkUIDValidity rejects a zero UIDVALIDITY; UIDs recorded against it could
// never be verified later.
func checkUIDValidity(mailbox string, uidvalidity uint32) (uint32, error) {
	if uidvalidity == 0 {
		return 0, fmt.Errorf("server reported no uidvalidity for %s", mailbox)
	}
	return uidvalidity, nil
}

// SearchSince returns UIDs strictly greater than lastSeenUID in ascending
// order. Servers answer `n:*` with at least the last message even when n is
// past the tail, so callers must keep the uid > lastSeenUID guard.
func (s *Client) SearchSince(lastSeenUID uint32) ([]uint32, error) {
	return s.uidSearchRange(lastSeenUID+1, 0)
}

// SearchAll returns every UID in the selected mailbox in ascending order.
func (s *Client) SearchAll() ([]uint32, error) {
	return s.uidSearchRange(1, 0)
}

func (s *Client) uidSearchRange(from, to uint32) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	uidRange := new(imap.SeqSet)
	uidRange.AddRange(from, to)
	criteria.Uid = uidRange

	s.c.Timeout = commandTimeout
	uids, err := s.c.UidSearch(criteria)
	s.c.Timeout = 0
	if err != nil {
		return nil, fmt.Errorf("uid search failed: %w", err)
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

// FetchMessage fetches the full RFC822 body, flags and internal date of one UID.
func (s *Client) FetchMessage(uid uint32) (*interfaces.FetchedMessage, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		section.FetchItem(),
		imap.FetchFlags,
		imap.FetchInternalDate,
		imap.FetchUid,
	}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	s.c.Timeout = fetchTimeout
	go func() {
		done <- s.c.UidFetch(seqSet, items, messages)
	}()

	var fetched *interfaces.FetchedMessage
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			s.c.Timeout = 0
			<-done
			return nil, fmt.Errorf("failed to read message body: %w", err)
		}
		fetched = &interfaces.FetchedMessage{
			UID:          msg.Uid,
			Raw:          raw,
			Flags:        msg.Flags,
			InternalDate: msg.InternalDate,
		}
	}

	s.c.Timeout = 0
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch uid %d: %w", uid, err)
	}
	if fetched == nil {
		return nil, fmt.Errorf("uid %d not found in %s", uid, s.mailbox)
	}

	return fetched, nil
}

// DeleteUID flags the message deleted and expunges it. The mailbox is
// re-selected read-write and the UIDVALIDITY verified first; a changed
// UIDVALIDITY means the UID may now name a different message.
func (s *Client) DeleteUID(mailbox string, uidvalidity, uid uint32) error {
	s.c.Timeout = commandTimeout
	mbox, err := s.c.Select(mailbox, false)
	s.c.Timeout = 0
	if err != nil {
		return fmt.Errorf("failed to select %s for delete: %w", mailbox, err)
	}
	s.mailbox = mailbox

	if mbox.UidValidity != uidvalidity {
		return errors.Errorf("uidvalidity changed for %s: expected %d, got %d", mailbox, uidvalidity, mbox.UidValidity)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}

	s.c.Timeout = commandTimeout
	err = s.c.UidStore(seqSet, item, flags, nil)
	if err != nil {
		s.c.Timeout = 0
		return fmt.Errorf("failed to flag uid %d deleted: %w", uid, err)
	}

	err = s.c.Expunge(nil)
	s.c.Timeout = 0
	if err != nil {
		return fmt.Errorf("failed to expunge %s: %w", mailbox, err)
	}

	return nil
}

// SupportsIdle reports whether the server advertises the IDLE capability.
func (s *Client) SupportsIdle() (bool, error) {
	s.c.Timeout = commandTimeout
	supported, err := s.c.Support("IDLE")
	s.c.Timeout = 0
	return supported, err
}

// IdleWait issues IDLE and blocks until the server reports activity or the
// timeout elapses. Returns true when an update arrived. An error means the
// connection is no longer usable; the IDLE state is always terminated before
// returning.
func (s *Client) IdleWait(timeout time.Duration) (bool, error) {
	updates := make(chan client.Update, 16)
	s.c.Updates = updates
	defer func() { s.c.Updates = nil }()

	stop := make(chan struct{})
	stopped := false
	stopIdle := func() {
		if !stopped {
			close(stop)
			stopped = true
		}
	}

	idleDone := make(chan error, 1)
	s.c.Timeout = 0
	go func() {
		idleDone <- s.c.Idle(stop, &client.IdleOptions{
			LogoutTimeout: 24 * time.Minute,
		})
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var notified bool
	for {
		select {
		case <-updates:
			notified = true
			stopIdle()
		case <-timer.C:
			stopIdle()
		case err := <-idleDone:
			// Keep draining updates until Idle returns so the client
			// never blocks writing to the channel.
			return notified, err
		}
	}
}

// Noop pings the server to verify the connection is alive.
func (s *Client) Noop() error {
	s.c.Timeout = commandTimeout
	err := s.c.Noop()
	s.c.Timeout = 0
	return err
}

// Logout closes the connection, bounded by a short timeout.
func (s *Client) Logout() error {
	s.c.Timeout = logoutTimeout
	return s.c.Logout()
}
