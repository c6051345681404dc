package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	y2g_errors "github.com/mailfwd/y2g/errors"
	"github.com/mailfwd/y2g/interfaces"
	"github.com/mailfwd/y2g/internal/enum"
	"github.com/mailfwd/y2g/internal/logger"
	"github.com/mailfwd/y2g/internal/models"
	"github.com/mailfwd/y2g/internal/repository"
	"github.com/mailfwd/y2g/internal/utils"
	"github.com/mailfwd/y2g/services/pipeline"
)

func testLogger() logger.Logger {
	l := logger.NewAppLogger(&logger.Config{LogLevel: "error", DevMode: true})
	l.InitLogger()
	return l
}

func testRepos(t *testing.T) *repository.Repositories {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// every pooled connection to :memory: is a distinct database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, repository.MigrateDB(db))
	return repository.InitRepositories(db, make([]byte, 32))
}

type fakeDelivery struct {
	importErr      error
	threadErr      error
	threads        map[string]string
	importedRaw    [][]byte
	importedLabel  [][]string
	importedThread []string
	labelCalls     []string
}

func (f *fakeDelivery) ImportRawMessage(_ context.Context, raw []byte, labelIDs []string, threadID string) (string, string, error) {
	if f.importErr != nil {
		return "", "", f.importErr
	}
	f.importedRaw = append(f.importedRaw, raw)
	f.importedLabel = append(f.importedLabel, labelIDs)
	f.importedThread = append(f.importedThread, threadID)
	return "g1", "t1", nil
}

func (f *fakeDelivery) FindThreadByMessageID(_ context.Context, messageID string) (string, error) {
	if f.threadErr != nil {
		return "", f.threadErr
	}
	return f.threads[messageID], nil
}

func (f *fakeDelivery) EnsureLabel(_ context.Context, name string) (string, error) {
	f.labelCalls = append(f.labelCalls, name)
	return "Label_1", nil
}

func (f *fakeDelivery) SystemLabelIDs(_ context.Context, names []string) (map[string]string, error) {
	ids := make(map[string]string, len(names))
	for _, name := range names {
		ids[name] = name
	}
	return ids, nil
}

type fakeManager struct {
	delivery interfaces.GmailDelivery
	err      error
}

func (f *fakeManager) GetService(context.Context) (interfaces.GmailDelivery, error) {
	return f.delivery, f.err
}
func (f *fakeManager) AuthURL() string                            { return "" }
func (f *fakeManager) ExchangeCode(context.Context, string) error { return nil }
func (f *fakeManager) TokenStatus(context.Context) interfaces.TokenStatus {
	return interfaces.TokenStatus{}
}

type fakeAlerts struct {
	kinds []enum.AlertKind
}

func (f *fakeAlerts) Alert(_ context.Context, kind enum.AlertKind, _, _ string) {
	f.kinds = append(f.kinds, kind)
}

type fakeIMAP struct {
	uidvalidity uint32
	raw         map[uint32][]byte
	deleteErr   error
	deleted     []uint32
}

func (f *fakeIMAP) ListMailboxes() ([]string, error)    { return nil, nil }
func (f *fakeIMAP) Select(string, bool) (uint32, error) { return f.uidvalidity, nil }
func (f *fakeIMAP) SearchSince(uint32) ([]uint32, error) {
	return nil, nil
}
func (f *fakeIMAP) SearchAll() ([]uint32, error) { return nil, nil }

func (f *fakeIMAP) FetchMessage(uid uint32) (*interfaces.FetchedMessage, error) {
	raw, ok := f.raw[uid]
	if !ok {
		return nil, errors.New("uid not found")
	}
	return &interfaces.FetchedMessage{UID: uid, Raw: raw, InternalDate: utils.Now()}, nil
}

func (f *fakeIMAP) DeleteUID(_ string, _ uint32, uid uint32) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, uid)
	return nil
}

func (f *fakeIMAP) SupportsIdle() (bool, error)          { return false, nil }
func (f *fakeIMAP) IdleWait(time.Duration) (bool, error) { return false, nil }
func (f *fakeIMAP) Noop() error                          { return nil }
func (f *fakeIMAP) Logout() error                        { return nil }

// brokenIMAP fails every select, like a connection that died after dialing.
type brokenIMAP struct{ fakeIMAP }

func (b *brokenIMAP) Select(string, bool) (uint32, error) {
	return 0, errors.New("connection reset by peer")
}

func rawMessage(id string) []byte {
	return []byte("From: a@example.com\r\nMessage-Id: <" + id + ">\r\n\r\nbody\r\n")
}

func storeFetched(t *testing.T, repos *repository.Repositories, uid uint32, raw []byte) *models.Message {
	t.Helper()
	now := utils.Now()
	msg := &models.Message{
		AccountID:    1,
		MailboxName:  "INBOX",
		UIDValidity:  7,
		UID:          uid,
		RFC822SHA256: pipeline.SHA256Hex(raw),
		IMAPFlags:    models.StringList{},
		State:        enum.MessageStateFetched,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	created, err := repos.MessageRepository.Store(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, created)
	return msg
}

func newTestWorker(repos *repository.Repositories, delivery *fakeDelivery, deliveryErr error, imap *fakeIMAP, alerts *fakeAlerts) *Worker {
	manager := &fakeManager{delivery: delivery, err: deliveryErr}
	factory := func(context.Context) (interfaces.IMAPClient, error) { return imap, nil }
	return NewWorker(testLogger(), repos.MessageRepository, manager, factory, alerts, "yahoo", true, time.Second)
}

func TestWorker_InsertsAndDeletes(t *testing.T) {
	// Arrange
	repos := testRepos(t)
	raw := rawMessage("m1")
	msg := storeFetched(t, repos, 5, raw)
	delivery := &fakeDelivery{}
	imap := &fakeIMAP{uidvalidity: 7, raw: map[uint32][]byte{5: raw}}
	alerts := &fakeAlerts{}
	w := newTestWorker(repos, delivery, nil, imap, alerts)

	// Act
	require.NoError(t, w.RunOnce(context.Background()))

	// Assert
	stored, err := repos.MessageRepository.GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.MessageStateInserted, stored.State)
	require.NotNil(t, stored.GmailMessageID)
	assert.Equal(t, "g1", *stored.GmailMessageID)
	require.NotNil(t, stored.GmailThreadID)
	assert.Equal(t, "t1", *stored.GmailThreadID)
	assert.NotNil(t, stored.YahooDeletedAt)
	assert.Equal(t, []uint32{5}, imap.deleted)
	assert.Empty(t, alerts.kinds)

	// Imported bytes carry the trace headers, body intact
	require.Len(t, delivery.importedRaw, 1)
	assert.Contains(t, string(delivery.importedRaw[0]), "X-Y2G-UID: 5")
	assert.Equal(t, [][]string{{"Label_1", "INBOX", "UNREAD"}}, delivery.importedLabel)
}

func TestWorker_ThreadResolution(t *testing.T) {
	// Arrange
	repos := testRepos(t)
	raw := []byte("From: a@example.com\r\n" +
		"Message-Id: <m2>\r\n" +
		"In-Reply-To: <parent@x>\r\n" +
		"\r\nbody\r\n")
	storeFetched(t, repos, 6, raw)
	delivery := &fakeDelivery{threads: map[string]string{"<parent@x>": "thread-42"}}
	imap := &fakeIMAP{uidvalidity: 7, raw: map[uint32][]byte{6: raw}}
	w := newTestWorker(repos, delivery, nil, imap, &fakeAlerts{})

	// Act
	require.NoError(t, w.RunOnce(context.Background()))

	// Assert
	assert.Equal(t, []string{"thread-42"}, delivery.importedThread)
}

func TestWorker_ShaMismatchIsPermanent(t *testing.T) {
	// Arrange: the message on the server differs from what was recorded
	repos := testRepos(t)
	msg := storeFetched(t, repos, 5, rawMessage("original"))
	delivery := &fakeDelivery{}
	imap := &fakeIMAP{uidvalidity: 7, raw: map[uint32][]byte{5: rawMessage("tampered")}}
	alerts := &fakeAlerts{}
	w := newTestWorker(repos, delivery, nil, imap, alerts)

	// Act
	require.NoError(t, w.RunOnce(context.Background()))

	// Assert
	stored, err := repos.MessageRepository.GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.MessageStateFailedPerm, stored.State)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "SHA256 mismatch")
	assert.Equal(t, []enum.AlertKind{enum.AlertFailedPerm}, alerts.kinds)
	assert.Empty(t, delivery.importedRaw)
}

func TestWorker_ServerErrorBacksOff(t *testing.T) {
	// Arrange
	repos := testRepos(t)
	raw := rawMessage("m1")
	msg := storeFetched(t, repos, 5, raw)
	delivery := &fakeDelivery{importErr: &googleapi.Error{Code: 503}}
	imap := &fakeIMAP{uidvalidity: 7, raw: map[uint32][]byte{5: raw}}
	alerts := &fakeAlerts{}
	w := newTestWorker(repos, delivery, nil, imap, alerts)
	before := utils.Now()

	// Act
	require.NoError(t, w.RunOnce(context.Background()))

	// Assert: first retry lands in the jittered 60s window
	stored, err := repos.MessageRepository.GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.MessageStateFailedRetry, stored.State)
	assert.Equal(t, 1, stored.AttemptCount)
	require.NotNil(t, stored.NextAttemptAt)
	assert.True(t, !stored.NextAttemptAt.Before(before.Add(48*time.Second)))
	assert.True(t, !stored.NextAttemptAt.After(utils.Now().Add(72*time.Second)))
	assert.Empty(t, alerts.kinds)
	assert.Nil(t, stored.YahooDeletedAt)
}

func TestWorker_BadRequestIsPermanent(t *testing.T) {
	// Arrange
	repos := testRepos(t)
	raw := rawMessage("m1")
	msg := storeFetched(t, repos, 5, raw)
	delivery := &fakeDelivery{importErr: &googleapi.Error{Code: 400, Message: "invalid"}}
	imap := &fakeIMAP{uidvalidity: 7, raw: map[uint32][]byte{5: raw}}
	alerts := &fakeAlerts{}
	w := newTestWorker(repos, delivery, nil, imap, alerts)

	// Act
	require.NoError(t, w.RunOnce(context.Background()))

	// Assert
	stored, err := repos.MessageRepository.GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.MessageStateFailedPerm, stored.State)
	assert.Equal(t, []enum.AlertKind{enum.AlertFailedPerm}, alerts.kinds)
}

func TestWorker_CredentialErrorRetriesAndAlerts(t *testing.T) {
	// Arrange
	repos := testRepos(t)
	raw := rawMessage("m1")
	msg := storeFetched(t, repos, 5, raw)
	delivery := &fakeDelivery{importErr: &googleapi.Error{Code: 401}}
	imap := &fakeIMAP{uidvalidity: 7, raw: map[uint32][]byte{5: raw}}
	alerts := &fakeAlerts{}
	w := newTestWorker(repos, delivery, nil, imap, alerts)

	// Act
	require.NoError(t, w.RunOnce(context.Background()))

	// Assert
	stored, err := repos.MessageRepository.GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.MessageStateFailedRetry, stored.State)
	assert.Equal(t, []enum.AlertKind{enum.AlertOAuthInvalid}, alerts.kinds)
}

func TestWorker_OAuthUnavailableAlertsAndWaits(t *testing.T) {
	// Arrange
	repos := testRepos(t)
	msg := storeFetched(t, repos, 5, rawMessage("m1"))
	alerts := &fakeAlerts{}
	oauthErr := y2g_errors.NewOAuthError(enum.AlertOAuthMissing, "no stored gmail token", nil)
	w := newTestWorker(repos, nil, oauthErr, &fakeIMAP{}, alerts)

	// Act
	require.NoError(t, w.RunOnce(context.Background()))

	// Assert: nothing leased, operator alerted
	stored, err := repos.MessageRepository.GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.MessageStateFetched, stored.State)
	assert.Equal(t, []enum.AlertKind{enum.AlertOAuthMissing}, alerts.kinds)
}

func TestWorker_DeletionFailureBacksOffSeparately(t *testing.T) {
	// Arrange
	repos := testRepos(t)
	raw := rawMessage("m1")
	msg := storeFetched(t, repos, 5, raw)
	delivery := &fakeDelivery{}
	imap := &fakeIMAP{uidvalidity: 7, raw: map[uint32][]byte{5: raw}, deleteErr: errors.New("expunge failed")}
	w := newTestWorker(repos, delivery, nil, imap, &fakeAlerts{})

	// Act
	require.NoError(t, w.RunOnce(context.Background()))

	// Assert: inserted fine, deletion scheduled for retry on its own counter
	stored, err := repos.MessageRepository.GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.MessageStateInserted, stored.State)
	assert.Nil(t, stored.YahooDeletedAt)
	assert.Equal(t, 1, stored.YahooDeleteAttemptCount)
	assert.NotNil(t, stored.YahooDeleteNextAttemptAt)
	assert.Equal(t, 0, stored.AttemptCount)
}

func TestWorker_UIDValidityChangeIsPermanent(t *testing.T) {
	// Arrange
	repos := testRepos(t)
	raw := rawMessage("m1")
	msg := storeFetched(t, repos, 5, raw)
	delivery := &fakeDelivery{}
	imap := &fakeIMAP{uidvalidity: 8, raw: map[uint32][]byte{5: raw}}
	alerts := &fakeAlerts{}
	w := newTestWorker(repos, delivery, nil, imap, alerts)

	// Act
	require.NoError(t, w.RunOnce(context.Background()))

	// Assert
	stored, err := repos.MessageRepository.GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.MessageStateFailedPerm, stored.State)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "uidvalidity changed")
}

func TestWorker_EmptyLabelNameSkipsEnsureLabel(t *testing.T) {
	// Arrange: an empty label name disables the custom label
	repos := testRepos(t)
	raw := rawMessage("m1")
	msg := storeFetched(t, repos, 5, raw)
	delivery := &fakeDelivery{}
	imap := &fakeIMAP{uidvalidity: 7, raw: map[uint32][]byte{5: raw}}
	manager := &fakeManager{delivery: delivery}
	factory := func(context.Context) (interfaces.IMAPClient, error) { return imap, nil }
	w := NewWorker(testLogger(), repos.MessageRepository, manager, factory, &fakeAlerts{}, "", true, time.Second)

	// Act
	require.NoError(t, w.RunOnce(context.Background()))

	// Assert: delivered with the system labels only, no label lookup or create
	stored, err := repos.MessageRepository.GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.MessageStateInserted, stored.State)
	assert.Empty(t, delivery.labelCalls)
	assert.Equal(t, [][]string{{"INBOX", "UNREAD"}}, delivery.importedLabel)
}

func TestWorker_RedialsAfterConnectionError(t *testing.T) {
	// Arrange: the first connection is dead, the second works
	repos := testRepos(t)
	raw1 := rawMessage("m1")
	raw2 := rawMessage("m2")
	first := storeFetched(t, repos, 5, raw1)
	second := storeFetched(t, repos, 6, raw2)
	delivery := &fakeDelivery{}
	good := &fakeIMAP{uidvalidity: 7, raw: map[uint32][]byte{5: raw1, 6: raw2}}
	dials := 0
	factory := func(context.Context) (interfaces.IMAPClient, error) {
		dials++
		if dials == 1 {
			return &brokenIMAP{}, nil
		}
		return good, nil
	}
	manager := &fakeManager{delivery: delivery}
	w := NewWorker(testLogger(), repos.MessageRepository, manager, factory, &fakeAlerts{}, "yahoo", true, time.Second)

	// Act
	require.NoError(t, w.RunOnce(context.Background()))

	// Assert: the dead connection costs one message a retry, not the whole pass
	assert.Equal(t, 2, dials)
	states := map[enum.MessageState]int{}
	for _, id := range []uint64{first.ID, second.ID} {
		stored, err := repos.MessageRepository.GetByID(context.Background(), id)
		require.NoError(t, err)
		states[stored.State]++
	}
	assert.Equal(t, map[enum.MessageState]int{
		enum.MessageStateFailedRetry: 1,
		enum.MessageStateInserted:    1,
	}, states)
}

func TestNextAttemptAt_ScheduleAndJitter(t *testing.T) {
	// Arrange
	now := utils.Now()

	for attempts, base := range map[int]time.Duration{
		0:  60 * time.Second,
		3:  480 * time.Second,
		6:  3600 * time.Second,
		42: 3600 * time.Second,
	} {
		// Act
		next := NextAttemptAt(now, attempts)

		// Assert
		lower := now.Add(time.Duration(float64(base) * 0.8))
		upper := now.Add(time.Duration(float64(base) * 1.2))
		assert.True(t, !next.Before(lower), "attempts=%d next=%s", attempts, next)
		assert.True(t, !next.After(upper), "attempts=%d next=%s", attempts, next)
	}
}
