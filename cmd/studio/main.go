package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shortstudio/studio-agent/internal/api"
	"github.com/shortstudio/studio-agent/internal/config"
	"github.com/shortstudio/studio-agent/internal/db"
	"github.com/shortstudio/studio-agent/internal/jobs"
	"github.com/shortstudio/studio-agent/internal/logging"
	"github.com/shortstudio/studio-agent/internal/monitor"
	"github.com/shortstudio/studio-agent/internal/remote"
	"github.com/shortstudio/studio-agent/internal/studio"
)

var Version = "0.1.0"

type rootFlags struct {
	configFile string
	remoteURL  string
	logLevel   string
	port       int
	headless   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "studio",
		Short:         "Local agent for the short-video studio",
		Long:          `Runs the studio agent: a local API, tray and batch inbox in front of the video job service.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "Path to a YAML config file (overrides STUDIO_CONFIG)")
	pf.StringVar(&flags.remoteURL, "remote", "", "Job service base URL")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}
	for _, c := range []*cobra.Command{root, serve} {
		c.Flags().IntVar(&flags.port, "port", 0, "Local API port")
		c.Flags().BoolVar(&flags.headless, "headless", false, "Run without the system tray")
	}

	root.AddCommand(serve, newAnalyzeCmd(flags), newStatusCmd(flags), newBatchCmd(flags), newTimelineCmd(flags))
	return root
}

// loadConfig layers flags over the environment and config file.
func loadConfig(flags *rootFlags) (*config.EnvConfig, error) {
	if flags.configFile != "" {
		os.Setenv(config.EnvConfigFile, flags.configFile)
	}
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flags.port != 0 {
		cfg.SetPort(flags.port)
	}
	if flags.remoteURL != "" {
		cfg.SetRemoteURL(flags.remoteURL)
	}
	if flags.headless {
		cfg.SetHeadless(true)
	}
	if flags.logLevel != "" {
		cfg.SetLogLevel(flags.logLevel)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// app is the wiring shared by every command.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	database *db.DB
	repo     *jobs.SQLiteRepository
	remote   *remote.HTTPClient
	session  *studio.Session
}

func newApp(ctx context.Context, flags *rootFlags) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{cfg.DataDir(), cfg.AssetsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel(), cfg.LogFormat())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	repo := jobs.NewRepository(database.Conn())

	client := remote.NewHTTPClient(cfg.RemoteURL(), cfg.RequestTimeout(), logger)
	mon := monitor.New(client, logger, monitor.WithInterval(cfg.PollInterval()))

	rules := monitor.DefaultRules()
	rules.MaxFailures = cfg.PollMaxFailures()
	rules.Timeout = cfg.PollTimeout()

	session, err := studio.New(ctx, studio.Options{
		Remote:      client,
		Jobs:        repo,
		Monitor:     mon,
		Logger:      logger,
		Rules:       rules,
		BatchMarker: cfg.BatchDoneMarker(),
		Defaults:    studio.DefaultSettings(cfg.AssetsDir()),
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		database: database,
		repo:     repo,
		remote:   client,
		session:  session,
	}, nil
}

func (a *app) Close() {
	a.session.Close()
	if err := a.database.Close(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}

func ensureAuthToken(ctx context.Context, repo jobs.Repository) (string, error) {
	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}
	return token, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
