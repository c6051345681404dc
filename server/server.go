package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"gorm.io/gorm"

	"github.com/mailfwd/y2g/config"
	y2g_errors "github.com/mailfwd/y2g/errors"
	"github.com/mailfwd/y2g/interfaces"
	"github.com/mailfwd/y2g/internal/cron"
	"github.com/mailfwd/y2g/internal/crypto"
	"github.com/mailfwd/y2g/internal/enum"
	"github.com/mailfwd/y2g/internal/logger"
	"github.com/mailfwd/y2g/internal/models"
	"github.com/mailfwd/y2g/internal/repository"
	"github.com/mailfwd/y2g/internal/tracing"
	"github.com/mailfwd/y2g/services/gmail"
	imapsvc "github.com/mailfwd/y2g/services/imap"
	"github.com/mailfwd/y2g/services/notify"
	"github.com/mailfwd/y2g/services/watcher"
	"github.com/mailfwd/y2g/services/worker"
)

// SecretKeyYahooAppPassword is the secret store key for the source password.
const SecretKeyYahooAppPassword = "yahoo_app_password"

const watcherRestartDelay = 5 * time.Second

type Server struct {
	config       *config.Config
	log          logger.Logger
	httpServer   *http.Server
	router       *gin.Engine
	repositories *repository.Repositories
	tracerCloser io.Closer

	account      *models.Account
	imapFactory  interfaces.IMAPClientFactory
	gmailManager interfaces.GmailServiceManager
	alerts       interfaces.AlertService
	watchers     []*watcher.Watcher
	worker       *worker.Worker
	cronManager  *cron.CronManager
}

func NewServer(cfg *config.Config, db *gorm.DB) (*Server, error) {
	// Initialize logger
	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	// Initialize tracing
	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		log.Fatalf("Could not initialize jaeger tracer: %s", err.Error())
	}
	opentracing.SetGlobalTracer(tracer)

	masterKey, err := crypto.DecodeMasterKey(cfg.AppConfig.AppMasterKey)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_MASTER_KEY: %w", err)
	}

	if err := repository.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	repos := repository.InitRepositories(db, masterKey)

	// Initialize Gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger(), tracing.RecoveryWithJaeger(tracer))

	return &Server{
		config:       cfg,
		log:          appLogger,
		router:       router,
		repositories: repos,
		tracerCloser: closer,
		httpServer: &http.Server{
			Addr:    cfg.AdminConfig.Host + ":" + cfg.AdminConfig.Port,
			Handler: router,
		},
	}, nil
}

func (s *Server) Initialize(ctx context.Context) error {
	appCfg := s.config.AppConfig

	account, err := s.repositories.AccountRepository.Ensure(ctx, appCfg.YahooEmail, appCfg.GmailUser)
	if err != nil {
		return fmt.Errorf("failed to ensure account: %w", err)
	}
	s.account = account

	// The app password from the environment is seeded into the secret store
	// so later runs work without it.
	password, err := s.resolveAppPassword(ctx)
	if err != nil {
		return err
	}
	s.imapFactory = imapsvc.NewClientFactory(imapsvc.ClientConfig{
		Addr:     appCfg.IMAPAddr(),
		Username: appCfg.YahooEmail,
		Password: password,
		Log:      s.log,
	})

	oauthConf := gmail.NewOAuthConfig(appCfg.GmailOAuthClientID, appCfg.GmailOAuthClientSecret, appCfg.GmailOAuthRedirectURI)
	s.gmailManager = gmail.NewServiceManager(s.log, s.repositories.SecretRepository, s.repositories.GmailLabelRepository,
		oauthConf, appCfg.GmailUser, account.ID)

	var notifier interfaces.Notifier
	if s.config.PushoverConfig.APIToken != "" && s.config.PushoverConfig.UserKey != "" {
		notifier = notify.NewPushoverNotifier(s.config.PushoverConfig.APIToken, s.config.PushoverConfig.UserKey, s.log)
	} else {
		s.log.Warn("Pushover not configured, alerts are log-only")
	}
	s.alerts = notify.NewAlertService(s.log, notifier, s.repositories.AlertRepository, s.config.PushoverConfig.Cooldown())

	mailboxes, err := s.resolveMailboxes(ctx)
	if err != nil {
		return err
	}
	s.log.Infof("Watching mailboxes: %v", mailboxes)

	for _, mailbox := range mailboxes {
		s.watchers = append(s.watchers, watcher.NewWatcher(s.log, s.imapFactory,
			s.repositories.MailboxStateRepository, s.repositories.MessageRepository,
			account.ID, mailbox, appCfg.IdleTimeout(), appCfg.WatcherPollInterval()))
	}

	s.worker = worker.NewWorker(s.log, s.repositories.MessageRepository, s.gmailManager, s.imapFactory,
		s.alerts, appCfg.GmailLabel, appCfg.DeliverToInbox, appCfg.WorkerPollInterval())

	s.cronManager = cron.NewCronManager(s.config, s.log, s.repositories.MessageRepository, s.alerts)

	s.registerAdminRoutes(ctx)

	s.checkGmailAuthorization(ctx)

	return nil
}

// resolveAppPassword prefers the environment value, seeding it into the
// secret store; otherwise it falls back to a previously stored one.
func (s *Server) resolveAppPassword(ctx context.Context) (string, error) {
	if password := s.config.AppConfig.YahooAppPassword; password != "" {
		if err := s.repositories.SecretRepository.Set(ctx, SecretKeyYahooAppPassword, password); err != nil {
			return "", fmt.Errorf("failed to store app password: %w", err)
		}
		return password, nil
	}

	password, err := s.repositories.SecretRepository.Get(ctx, SecretKeyYahooAppPassword)
	if err != nil {
		if errors.Is(err, y2g_errors.ErrSecretNotFound) {
			return "", errors.New("no yahoo app password: set YAHOO_APP_PASSWORD once to seed it")
		}
		return "", fmt.Errorf("failed to load app password: %w", err)
	}
	return password, nil
}

// resolveMailboxes uses the configured list when present, otherwise asks the
// server and keeps INBOX plus the spam-like folders.
func (s *Server) resolveMailboxes(ctx context.Context) ([]string, error) {
	if len(s.config.AppConfig.WatchMailboxes) > 0 {
		return s.config.AppConfig.WatchMailboxes, nil
	}

	c, err := s.imapFactory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect for mailbox discovery: %w", err)
	}
	defer c.Logout()

	return imapsvc.DiscoverMailboxes(c)
}

// checkGmailAuthorization alerts on startup when no credential is stored so
// the operator authorizes before mail piles up.
func (s *Server) checkGmailAuthorization(ctx context.Context) {
	_, err := s.gmailManager.GetService(ctx)
	if err == nil {
		return
	}

	oauthErr := y2g_errors.AsOAuthError(err)
	if oauthErr == nil {
		s.log.Errorf("Gmail service check failed: %v", err)
		return
	}

	message := oauthErr.Error()
	if oauthErr.Kind == enum.AlertOAuthMissing && s.config.AdminConfig.Enabled {
		message = fmt.Sprintf("%s (admin page on port %s)", message, s.config.AdminConfig.Port)
	}
	s.log.Event("oauth_unavailable", message, "")
	s.alerts.Alert(ctx, oauthErr.Kind, "Gmail authorization required", message)
}

func (s *Server) recoverWithJaeger(name string) {
	if r := recover(); r != nil {
		span := opentracing.GlobalTracer().StartSpan(
			fmt.Sprintf("panic.%s", name),
		)
		defer span.Finish()

		ext.Error.Set(span, true)
		span.LogKV(
			"event", "panic",
			"process", name,
			"error", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)

		s.log.Errorf("Panic in %s: %v\n%s", name, r, debug.Stack())
	}
}

func (s *Server) wrapGoroutine(name string, fn func()) {
	defer s.recoverWithJaeger(name)
	fn()
}

// superviseWatcher restarts the watcher session until the context ends.
func (s *Server) superviseWatcher(ctx context.Context, w *watcher.Watcher) {
	name := "watcher_" + w.Mailbox()
	for {
		s.wrapGoroutine(name, func() {
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				s.log.Errorf("Watcher %s exited: %v", w.Mailbox(), err)
			}
		})

		select {
		case <-ctx.Done():
			return
		case <-time.After(watcherRestartDelay):
		}
	}
}

func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Initialize(ctx); err != nil {
		return err
	}

	for _, w := range s.watchers {
		w := w
		go s.superviseWatcher(ctx, w)
	}
	s.log.Infof("Started %d watcher(s)", len(s.watchers))

	go s.wrapGoroutine("worker", func() {
		if err := s.worker.Run(ctx); err != nil && ctx.Err() == nil {
			s.log.Errorf("Worker exited: %v", err)
		}
	})

	s.cronManager.StartCron()

	if s.config.AdminConfig.Enabled {
		go s.wrapGoroutine("http_server", func() {
			s.log.Infof("Admin server listening on %s", s.httpServer.Addr)
			if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Errorf("HTTP server error: %v", err)
			}
		})
	}

	s.log.Info("Forwarder is now running. Press Ctrl+C to exit.")
	return s.waitForShutdown(cancel)
}

func (s *Server) waitForShutdown(cancel context.CancelFunc) error {
	defer s.recoverWithJaeger("shutdown")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	s.log.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if s.tracerCloser != nil {
		s.tracerCloser.Close()
	}

	if s.config.AdminConfig.Enabled {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("HTTP server shutdown error: %v", err)
		}
	}

	s.cronManager.Stop()
	s.log.Sync()
	return nil
}
