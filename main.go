package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"github.com/mailfwd/y2g/config"
	"github.com/mailfwd/y2g/internal/crypto"
	"github.com/mailfwd/y2g/internal/database"
	"github.com/mailfwd/y2g/internal/logger"
	"github.com/mailfwd/y2g/internal/repository"
	"github.com/mailfwd/y2g/server"
	"github.com/mailfwd/y2g/services/gmail"
)

func main() {
	app := &cli.App{
		Name:  "y2g",
		Usage: "forward yahoo mail to gmail, durably",
		Commands: []*cli.Command{
			{
				Name:   "server",
				Usage:  "start the forwarder",
				Action: runServer,
			},
			{
				Name:   "migrate",
				Usage:  "run database migrations and exit",
				Action: runMigrate,
			},
			{
				Name:      "oauth",
				Usage:     "exchange an authorization code (or print the consent URL when none given)",
				ArgsUsage: "[code or pasted redirect URL]",
				Action:    runOAuth,
			},
		},
		DefaultCommand: "server",
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setup() (*config.Config, *gorm.DB, error) {
	cfg, err := config.InitConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("Config error: %w", err)
	}

	db, err := database.InitDatabase(&database.DatabaseConfig{
		Path:     cfg.AppConfig.SQLitePath,
		LogLevel: cfg.AppConfig.SQLiteLog,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("database initialization failed: %w", err)
	}

	return cfg, db, nil
}

func runServer(*cli.Context) error {
	cfg, db, err := setup()
	if err != nil {
		return err
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Forwarder starting up...")

	srv, err := server.NewServer(cfg, db)
	if err != nil {
		return fmt.Errorf("server setup failed: %w", err)
	}

	if err := srv.Run(); err != nil {
		return fmt.Errorf("server startup failed: %w", err)
	}

	log.Println("Shutdown complete")
	return nil
}

func runMigrate(*cli.Context) error {
	_, db, err := setup()
	if err != nil {
		return err
	}

	if err := repository.MigrateDB(db); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("Database migration completed successfully")
	return nil
}

// runOAuth is the headless authorization path: without an argument it prints
// the consent URL, with one it stores the exchanged tokens.
func runOAuth(c *cli.Context) error {
	cfg, db, err := setup()
	if err != nil {
		return err
	}

	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	masterKey, err := crypto.DecodeMasterKey(cfg.AppConfig.AppMasterKey)
	if err != nil {
		return fmt.Errorf("invalid APP_MASTER_KEY: %w", err)
	}
	if err := repository.MigrateDB(db); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	repos := repository.InitRepositories(db, masterKey)

	ctx := context.Background()
	account, err := repos.AccountRepository.Ensure(ctx, cfg.AppConfig.YahooEmail, cfg.AppConfig.GmailUser)
	if err != nil {
		return err
	}

	oauthConf := gmail.NewOAuthConfig(cfg.AppConfig.GmailOAuthClientID, cfg.AppConfig.GmailOAuthClientSecret, cfg.AppConfig.GmailOAuthRedirectURI)
	manager := gmail.NewServiceManager(appLogger, repos.SecretRepository, repos.GmailLabelRepository,
		oauthConf, cfg.AppConfig.GmailUser, account.ID)

	if !c.Args().Present() {
		fmt.Println("Open this URL, authorize, then run: y2g oauth <code>")
		fmt.Println(manager.AuthURL())
		return nil
	}

	if err := manager.ExchangeCode(ctx, c.Args().First()); err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}
	fmt.Println("Authorized, tokens stored")
	return nil
}
