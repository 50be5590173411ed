package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"caldavsync/internal/config"
	"caldavsync/internal/dav"
	"caldavsync/internal/google"
	"caldavsync/internal/links"
	"caldavsync/internal/metrics"
	"caldavsync/internal/syncer"
	"caldavsync/internal/timezone"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "caldavsync",
		Usage: "Keep a Google Calendar and a CalDAV calendar in sync.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to a YAML config file."},
		},
		Commands: []*cli.Command{
			authCommand(),
			calendarsCommand(),
			syncCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"), nil)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.Log.Level)
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.OAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.CredentialsFile)
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", google.AuthURL(oauthConfig))

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			store := &google.FileTokenStore{Path: cfg.Google.TokenFile}
			if err := store.SaveToken(token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", cfg.Google.TokenFile)
			return nil
		},
	}
}

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "List the calendars visible on both sides.",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"), nil)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.Log.Level)

			davClient, err := dav.NewClient(c.Context, logger, cfg.CalDAV.URL, cfg.CalDAV.Username, cfg.CalDAV.Password, cfg.CalDAV.Calendar)
			if err != nil {
				return fmt.Errorf("failed to create caldav client: %w", err)
			}
			fmt.Println("CalDAV calendars:")
			for _, cal := range davClient.Calendars() {
				marker := " "
				if cal.Path == davClient.TargetPath() {
					marker = "*"
				}
				fmt.Printf(" %s %-30s %s\n", marker, cal.Name, cal.Path)
			}

			gClient, err := googleClient(c.Context, logger, cfg)
			if err != nil {
				logger.Warn("Skipping Google calendars", "error", err)
				return nil
			}
			entries, err := gClient.Calendars(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list google calendars: %w", err)
			}
			fmt.Println("Google calendars:")
			for _, entry := range entries {
				marker := " "
				if entry.Id == cfg.Google.CalendarID || (entry.Primary && cfg.Google.CalendarID == "primary") {
					marker = "*"
				}
				fmt.Printf(" %s %-30s %s\n", marker, entry.Summary, entry.Id)
			}
			return nil
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run the calendar synchronization process.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "Run the sync cycle once and exit."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be synced without making changes."},
			&cli.IntFlag{Name: "watch", Value: 300, Usage: "Run sync every N seconds. Overrides --once."},
			&cli.StringFlag{Name: "schedule", Usage: "Run sync on a cron schedule, e.g. '*/10 * * * *'. Overrides --watch."},
			&cli.StringFlag{Name: "authority", Usage: "System that wins when a matched pair differs: a (Google) or b (CalDAV)."},
			&cli.IntFlag{Name: "window-days", Usage: "Number of days ahead to reconcile."},
		},
		Action: func(c *cli.Context) error {
			overrides := map[string]any{}
			if c.IsSet("authority") {
				overrides["sync.authority"] = c.String("authority")
			}
			if c.IsSet("window-days") {
				overrides["sync.window_days"] = c.Int("window-days")
			}
			cfg, err := config.Load(c.String("config"), overrides)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := setupLogger(cfg.Log.Level)

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if c.Bool("dry-run") {
				logger.Info("Performing a dry run. No changes will be made.")
			}

			s, cleanup, err := buildSyncer(ctx, logger, cfg, c.Bool("dry-run"))
			if err != nil {
				return err
			}
			defer cleanup()

			switch {
			case c.IsSet("schedule"):
				return runScheduled(ctx, logger, s, c.String("schedule"))
			case c.IsSet("watch"):
				interval := time.Duration(c.Int("watch")) * time.Second
				logger.Info("Starting watcher.", "interval", interval)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					if _, err := s.Sync(ctx); err != nil {
						logger.Error("Sync cycle failed", "error", err)
					}
					select {
					case <-ctx.Done():
						logger.Info("Stopping watcher.")
						return nil
					case <-ticker.C:
					}
				}
			default: // --once is the default behavior if --watch is not set
				logger.Info("Running a single sync cycle.")
				report, err := s.Sync(ctx)
				if err != nil {
					return fmt.Errorf("single sync cycle failed: %w", err)
				}
				if report.Failed() > 0 {
					logger.Warn("Some events could not be synced.", "failed", report.Failed())
				}
			}
			return nil
		},
	}
}

// buildSyncer wires both collaborators and the optional link store. cleanup
// releases whatever was opened.
func buildSyncer(ctx context.Context, logger *slog.Logger, cfg *config.Config, dryRun bool) (*syncer.Syncer, func(), error) {
	cleanup := func() {}

	table := timezone.DefaultTable()
	if cfg.Sync.TimezoneFile != "" {
		extra, err := timezone.LoadTable(cfg.Sync.TimezoneFile)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to load timezone table: %w", err)
		}
		table = table.Merge(extra)
	}
	floating, err := cfg.FloatingLocation()
	if err != nil {
		return nil, cleanup, err
	}

	gClient, err := googleClient(ctx, logger, cfg)
	if err != nil {
		return nil, cleanup, err
	}
	logger.Info("Initialized Google client.", "calendar", cfg.Google.CalendarID)

	davClient, err := dav.NewClient(ctx, logger, cfg.CalDAV.URL, cfg.CalDAV.Username, cfg.CalDAV.Password, cfg.CalDAV.Calendar)
	if err != nil {
		return nil, cleanup, fmt.Errorf("failed to create caldav client: %w", err)
	}

	store, cleanup, err := openLinks(ctx, logger, cfg.Links)
	if err != nil {
		return nil, cleanup, err
	}

	recorder := metrics.New()
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", recorder.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("Serving metrics.", "addr", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
		closeLinks := cleanup
		cleanup = func() {
			_ = srv.Close()
			closeLinks()
		}
	}

	s := syncer.NewSyncer(logger, gClient, davClient, syncer.Options{
		DryRun:             dryRun,
		Window:             cfg.Window(),
		Authority:          syncer.Authority(cfg.Sync.Authority),
		PreferNearestStart: cfg.Sync.PreferNearestStart,
		Timezones:          timezone.New(table),
		Floating:           floating,
		Placeholder:        cfg.Sync.Placeholder,
		Links:              store,
		Metrics:            recorder,
	})
	return s, cleanup, nil
}

func googleClient(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*google.CalendarClient, error) {
	oauthConfig, err := google.OAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to get google oauth config: %w", err)
	}
	httpClient, err := google.HTTPClient(ctx, oauthConfig, &google.FileTokenStore{Path: cfg.Google.TokenFile})
	if errors.Is(err, google.ErrNoToken) {
		return nil, fmt.Errorf("no google token found in %s. Run the 'auth' command first", cfg.Google.TokenFile)
	}
	if err != nil {
		return nil, err
	}
	gClient, err := google.NewClient(ctx, logger, httpClient, cfg.Google.CalendarID)
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}
	return gClient, nil
}

func openLinks(ctx context.Context, logger *slog.Logger, cfg config.LinksConfig) (links.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendFile:
		store, err := links.OpenFile(logger, cfg.File)
		if err != nil {
			return nil, func() {}, fmt.Errorf("failed to open link state: %w", err)
		}
		return store, func() {}, nil
	case config.BackendRedis:
		store, client, err := links.DialRedis(ctx, links.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.RedisKey,
		})
		if err != nil {
			return nil, func() {}, err
		}
		logger.Info("Using Redis link state.", "addr", cfg.RedisAddr, "links", store.Len())
		return store, func() { _ = client.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}

func runScheduled(ctx context.Context, logger *slog.Logger, s *syncer.Syncer, spec string) error {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	scheduler := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := scheduler.AddFunc(spec, func() {
		if _, err := s.Sync(ctx); err != nil {
			logger.Error("Sync cycle failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	logger.Info("Starting scheduler.", "schedule", spec)
	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()
	logger.Info("Scheduler stopped.")
	return nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
