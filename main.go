package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/handler"
	"github.com/ellavondegurechaff/warden/warden"
	"github.com/ellavondegurechaff/warden/warden/commands/moderation"
	"github.com/ellavondegurechaff/warden/warden/commands/system"
	"github.com/ellavondegurechaff/warden/warden/database"
	"github.com/ellavondegurechaff/warden/warden/database/repositories"
	"github.com/ellavondegurechaff/warden/warden/handlers"
	"github.com/ellavondegurechaff/warden/warden/logger"
	"github.com/ellavondegurechaff/warden/warden/migration"
	"github.com/ellavondegurechaff/warden/warden/mutes"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	commandspkg "github.com/ellavondegurechaff/warden/warden/commands"
	wardendiscord "github.com/ellavondegurechaff/warden/warden/discord"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	shouldSyncCommands := flag.Bool("sync-commands", false, "Whether to sync commands to discord")
	importMongoURI := flag.String("import-mutes-from", "", "Mongo URI of the legacy bot to import mute state from")
	importMongoDB := flag.String("import-mutes-db", "warden_legacy", "Mongo database name for the legacy import")
	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := warden.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}

	slog.SetDefault(slog.New(logger.NewHandler(cfg.Log.Level)))
	slog.Info("Starting Warden",
		slog.String("version", version),
		slog.String("commit", commit))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dbStartTime := time.Now()
	db, err := database.New(ctx, cfg.DB)
	if err != nil {
		slog.Error("Database connection failed",
			slog.String("error", err.Error()),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}
	defer db.Close()

	slog.Info("Database connected",
		slog.String("database", cfg.DB.Database),
		slog.Duration("took", time.Since(dbStartTime)))

	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize database schema", slog.Any("error", err))
		os.Exit(-1)
	}

	b := warden.New(*cfg, version, commit)
	b.DB = db
	b.MuteRepository = repositories.NewMuteRepository(db.BunDB())
	b.SettingsRepository = repositories.NewGuildSettingsRepository(db.BunDB())
	b.ModLogRepository = repositories.NewModLogRepository(db.BunDB())

	if *importMongoURI != "" {
		if err := runLegacyImport(ctx, db, *importMongoURI, *importMongoDB); err != nil {
			slog.Error("Legacy mute import failed", slog.Any("error", err))
			os.Exit(-1)
		}
	}

	registry := mutes.NewRegistry(b.MuteRepository)
	muteRoles, err := b.SettingsRepository.AllMuteRoles(ctx)
	if err != nil {
		slog.Error("Failed to load mute roles", slog.Any("error", err))
		os.Exit(-1)
	}
	if err := registry.Load(ctx, muteRoles); err != nil {
		slog.Error("Failed to load mute registry", slog.Any("error", err))
		os.Exit(-1)
	}

	h := handler.New()
	h.Command("/mute", handlers.WrapWithLogging("mute", moderation.MuteHandler(b)))
	h.Command("/unmute", handlers.WrapWithLogging("unmute", moderation.UnmuteHandler(b)))
	h.Command("/mutechannel", handlers.WrapWithLogging("mutechannel", moderation.MuteChannelHandler(b)))
	h.Command("/unmutechannel", handlers.WrapWithLogging("unmutechannel", moderation.UnmuteChannelHandler(b)))
	h.Command("/muteset", handlers.WrapWithLogging("muteset", moderation.MuteSetHandler(b)))
	h.Command("/mutes", handlers.WrapWithLogging("mutes", moderation.MuteListHandler(b)))
	h.Command("/mutehistory", handlers.WrapWithLogging("mutehistory", moderation.MuteHistoryHandler(b)))
	h.Command("/version", system.VersionHandler(b))

	if err = b.SetupBot(h, bot.NewListenerFunc(b.OnReady)); err != nil {
		logger.LogError("Failed to setup bot", err)
		os.Exit(-1)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		b.Client.Close(ctx)
	}()

	// The platform adapter needs the client, so the engine is assembled
	// after SetupBot and before the gateway opens.
	adapter := wardendiscord.NewAdapter(b.Client)
	b.MuteService = mutes.NewService(mutes.Config{
		PollInterval:  cfg.Mutes.PollInterval(),
		Lookahead:     cfg.Mutes.Lookahead(),
		FanOutWorkers: cfg.Mutes.FanOutWorkers,
		AppOwners:     cfg.Bot.Owners,
	}, registry, adapter, adapter, adapter, adapter, adapter, b.SettingsRepository, b.ModLogRepository)
	b.Reconciler = mutes.NewReconciler(b.MuteService)
	b.Scheduler = mutes.NewScheduler(b.MuteService)

	b.Client.AddEventListeners(wardendiscord.ReconcilerListeners(b.Reconciler)...)

	if *shouldSyncCommands {
		logger.LogSystem("Syncing commands", slog.Any("guild_ids", cfg.Bot.DevGuilds))
		if err = handler.SyncCommands(b.Client, commandspkg.Commands, cfg.Bot.DevGuilds); err != nil {
			logger.LogError("Failed to sync commands", err)
		}
	}

	gatewayCtx, gatewayCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer gatewayCancel()
	if err = b.Client.OpenGateway(gatewayCtx); err != nil {
		slog.Error("Failed to open gateway",
			slog.String("type", "sys"),
			slog.Any("error", err),
			slog.String("error_details", fmt.Sprintf("%+v", err)))
		os.Exit(-1)
	}

	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	defer schedulerCancel()
	b.Scheduler.Start(schedulerCtx)

	slog.Info("Warden is running. Press CTRL-C to exit.")
	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
	<-s

	slog.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := b.Scheduler.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Scheduler did not drain in time", slog.Any("error", err))
	}
}

func runLegacyImport(ctx context.Context, db *database.DB, uri, dbName string) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return fmt.Errorf("failed to connect to legacy mongo: %w", err)
	}
	defer func() {
		_ = client.Disconnect(ctx)
	}()

	importer := migration.NewMuteImporter(db.BunDB())
	importer.UseMongo(client, dbName)
	return importer.ImportAll(ctx)
}
