package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/evgray/keyfort-server/internal/config"
	"github.com/evgray/keyfort-server/internal/crypto"
	"github.com/evgray/keyfort-server/internal/escrow"
	"github.com/evgray/keyfort-server/internal/logger"
	"github.com/evgray/keyfort-server/internal/mail"
	"github.com/evgray/keyfort-server/internal/model"
	"github.com/evgray/keyfort-server/internal/plugin"
	"github.com/evgray/keyfort-server/internal/plugin/passwordfactor"
	"github.com/evgray/keyfort-server/internal/recovery"
	"github.com/evgray/keyfort-server/internal/repository/postgres"
	"github.com/evgray/keyfort-server/internal/securityclass"
	"github.com/evgray/keyfort-server/internal/service"
	"github.com/evgray/keyfort-server/internal/sessioncache"
	"github.com/evgray/keyfort-server/internal/sessionstore"
	"github.com/evgray/keyfort-server/internal/token"
)

var (
	buildVersion = "N/A" // set by ldflags
	buildDate    = "N/A" // set by ldflags
	buildCommit  = "N/A" // set by ldflags
)

func main() {
	root := &cobra.Command{
		Use:           "keyfortd",
		Short:         "Multi-factor secret management engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCmd(), migrateCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("keyfortd: %v", err)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	logger := logger.New(cfg.LogLevel)

	systemKey, err := cfg.System.AuthKey()
	if err != nil {
		return err
	}

	db, err := postgres.NewConnection(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer db.Close()

	userRepo := postgres.NewUserRepository(db)
	groupRepo := postgres.NewGroupRepository(db)
	pluginRepo := postgres.NewPluginRepository(db)
	keyPairRepo := postgres.NewKeyPairRepository(db)
	classRepo := postgres.NewSecurityClassRepository(db)
	secretAccessRepo := postgres.NewSecretAccessRepository(db)
	groupKeyPairRepo := postgres.NewGroupKeyPairRepository(db)
	groupAccessRepo := postgres.NewGroupAccessRepository(db)
	recoveryRepo := postgres.NewRecoveryRepository(db)

	sessions, err := sessionstore.NewBolt(cfg.Session.BoltPath)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer sessions.Close()

	kdf := crypto.KDFParams{Time: cfg.KDF.Time, MemKiB: cfg.KDF.MemKiB, Par: cfg.KDF.Par}

	registry := plugin.NewRegistry(pluginRepo, keyPairRepo, systemKey, logger)
	passwordStore := postgres.NewPasswordFactorRepository(db)
	if _, err := registry.Register(ctx, passwordfactor.New(passwordStore, kdf)); err != nil {
		return fmt.Errorf("failed to register password factor: %w", err)
	}

	classService := securityclass.NewService(
		classRepo, userRepo, groupRepo, keyPairRepo, groupAccessRepo,
		registry, model.SuperUserChecker{}, logger,
	)

	mailer := mail.NewSMTP(cfg.SMTP.Addr, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password, logger)
	recoveryService := recovery.NewService(recoveryRepo, sessions, registry, mailer, systemKey, kdf, logger)

	newResolver := func() *escrow.Resolver {
		return escrow.NewResolver(
			userRepo, groupRepo, classRepo, secretAccessRepo,
			groupKeyPairRepo, groupAccessRepo, registry, classService, logger,
		)
	}

	engine := service.NewEngine(
		userRepo, registry, classService, recoveryService,
		sessions, sessioncache.NewKeyCache(),
		token.NewJWT(cfg.JWT.Secret, cfg.JWT.TTL),
		newResolver, systemKey, cfg.Session.TTL, logger,
	)
	logAppVersion()
	logger.Info("engine ready", "plugins", engine.RegisteredPlugins())

	<-ctx.Done()
	logger.Info("received interruption signal, shutting down")
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfig()
			if err != nil {
				return fmt.Errorf("failed to parse config: %w", err)
			}

			db, err := postgres.NewConnection(cmd.Context(), cfg.Database.DSN)
			if err != nil {
				return err
			}
			return db.Close()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(_ *cobra.Command, _ []string) {
			logAppVersion()
		},
	}
}

func logAppVersion() {
	tmpl := `
Build version: %s
Build date: %s
Build commit: %s
`

	fmt.Printf(tmpl, buildVersion, buildDate, buildCommit)
}
