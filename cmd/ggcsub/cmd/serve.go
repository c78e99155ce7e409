package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sang-woon/ggc-subtitle/internal/asr"
	"github.com/sang-woon/ggc-subtitle/internal/autostt"
	"github.com/sang-woon/ggc-subtitle/internal/config"
	"github.com/sang-woon/ggc-subtitle/internal/database"
	internalhttp "github.com/sang-woon/ggc-subtitle/internal/http"
	"github.com/sang-woon/ggc-subtitle/internal/http/handlers"
	"github.com/sang-woon/ggc-subtitle/internal/hub"
	"github.com/sang-woon/ggc-subtitle/internal/kospacing"
	"github.com/sang-woon/ggc-subtitle/internal/live"
	"github.com/sang-woon/ggc-subtitle/internal/livestatus"
	"github.com/sang-woon/ggc-subtitle/internal/refiner"
	"github.com/sang-woon/ggc-subtitle/internal/repository"
	"github.com/sang-woon/ggc-subtitle/internal/terminology"
	"github.com/sang-woon/ggc-subtitle/internal/version"
	"github.com/sang-woon/ggc-subtitle/internal/vod"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ggcsub server",
	Long: `Start the ggcsub HTTP server and caption engine.

The server provides:
- REST API for channels, meetings and STT control
- SSE stream of broadcast status changes
- Websocket caption delivery per channel or meeting
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "ggcsub.db", "Database DSN (file path for sqlite)")
	serveCmd.Flags().Bool("auto-start", true, "Start caption workers automatically when channels go live")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("stt.auto_start", serveCmd.Flags().Lookup("auto-start"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	meetingRepo := repository.NewMeetingRepository(db.DB)
	captionRepo := repository.NewCaptionRepository(db.DB)
	taskRepo := repository.NewSttTaskRepository(db.DB)

	// Shutdown context; cancelling it winds down every background
	// component before the HTTP server drains.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	captionHub := hub.New(cfg.Hub.HistorySize, logger)
	spacer := kospacing.Get(cfg.Kospacing.ModelDir, logger)
	dict := terminology.Default()
	poller := livestatus.NewPoller(cfg.LiveStatus, nil, logger)

	refinerSvc := refiner.New(cfg.Refiner, captionHub, captionRepo, logger)
	refinerSvc.Start(ctx)
	defer refinerSvc.Stop()

	// Live captions are only persisted when configured; the hub history
	// covers late joiners either way.
	var liveCaptions repository.CaptionRepository
	if cfg.STT.PersistCaptions {
		liveCaptions = captionRepo
	}
	manager := live.NewManager(ctx, cfg.ASR, captionHub, spacer, dict, liveCaptions, refinerSvc, logger)
	defer manager.StopAll()

	supervisor := autostt.New(cfg.AutoSTTEnabled(), poller, manager, logger)
	supervisor.Start(ctx)
	defer supervisor.Stop()

	batchASR := asr.NewBatchClient(cfg.ASR, cfg.VOD.ConnectTimeout, cfg.VOD.ReadTimeout)
	processor := vod.NewProcessor(cfg.VOD, batchASR, dict, captionRepo, meetingRepo, taskRepo, logger)
	if err := processor.StartJanitor(); err != nil {
		return fmt.Errorf("starting task janitor: %w", err)
	}
	defer processor.StopJanitor()

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)

	handlers.NewHealthHandler(version.Version).WithDB(db.DB).Register(server.API())
	handlers.NewChannelsHandler(poller, manager, supervisor, logger).Register(server.API())
	handlers.NewMeetingsHandler(meetingRepo, captionRepo, processor, logger).Register(server.API())
	handlers.NewSystemHandler(manager).Register(server.API())

	// SSE and websocket endpoints bypass huma; they stream.
	handlers.NewStatusStreamHandler(poller, manager, logger).RegisterRoutes(server.Router())
	handlers.NewCaptionSocketHandler(captionHub, logger).RegisterRoutes(server.Router())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting ggcsub server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("version", version.Version),
		slog.Bool("live_stt", cfg.LiveSTTEnabled()),
		slog.Bool("auto_start", cfg.AutoSTTEnabled()),
		slog.Bool("refiner", cfg.RefinerEnabled()),
	)

	return server.ListenAndServe(ctx)
}
