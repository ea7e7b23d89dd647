package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/replyclock/internal/api"
	"github.com/MikeSquared-Agency/replyclock/internal/config"
	"github.com/MikeSquared-Agency/replyclock/internal/delivery"
	"github.com/MikeSquared-Agency/replyclock/internal/gist"
	"github.com/MikeSquared-Agency/replyclock/internal/hermes"
	"github.com/MikeSquared-Agency/replyclock/internal/message"
	"github.com/MikeSquared-Agency/replyclock/internal/pipeline"
	"github.com/MikeSquared-Agency/replyclock/internal/slack"
	"github.com/MikeSquared-Agency/replyclock/internal/source"
	"github.com/MikeSquared-Agency/replyclock/internal/source/gmail"
	"github.com/MikeSquared-Agency/replyclock/internal/source/messages"
	"github.com/MikeSquared-Agency/replyclock/internal/source/outlook"
	"github.com/MikeSquared-Agency/replyclock/internal/store"
)

var version = "dev"

const usage = `usage: replyclock <command> [flags]

commands:
  report [-dry-run] [-o file]   fetch, aggregate and email the daily report (default)
  messages-upload               publish local Messages stats to the shared artifact
  serve                         run the read-only HTTP API
  auth-outlook                  obtain an Outlook refresh token via device code
`

func main() {
	cmd, args := "report", os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := config.Load()
	if path := os.Getenv("REPLYCLOCK_CONFIG"); path != "" {
		if err := cfg.ApplyFile(config.ExpandHome(path)); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	setupLogging(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "report":
		err = runReport(ctx, cfg, args)
	case "messages-upload":
		err = runUpload(ctx, cfg)
	case "serve":
		err = runServe(ctx, cfg)
	case "auth-outlook":
		err = runAuthOutlook(ctx, cfg)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("replyclock failed", "command", cmd, "error", err)
		cancel()
		os.Exit(1)
	}
}

func runReport(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "render the report without sending it")
	out := fs.String("o", "", "write the rendered HTML to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.ReportEmail == "" && !*dryRun {
		return errors.New("REPORT_EMAIL is required unless -dry-run is set")
	}

	slog.Info("replyclock report starting", "version", version, "dry_run", *dryRun)

	var adapters []source.Adapter
	var gmailClient *gmail.Client
	if cfg.GmailEnabled || cfg.DeliveryMethod == config.DeliveryGmail {
		gmailClient = gmail.NewClient(ctx, gmail.Credentials{
			ClientID:     cfg.GmailClientID,
			ClientSecret: cfg.GmailClientSecret,
			RefreshToken: cfg.GmailRefreshToken,
		}, slog.Default())
	}
	if cfg.GmailEnabled {
		adapters = append(adapters, gmailClient)
	}
	if cfg.OutlookEnabled {
		adapters = append(adapters, outlook.NewClient(ctx, outlook.Credentials{
			ClientID:     cfg.OutlookClientID,
			TenantID:     cfg.OutlookTenantID,
			RefreshToken: cfg.OutlookRefreshToken,
		}, slog.Default()))
	}

	var artifacts pipeline.ArtifactSource
	gistID := cfg.MessagesGistID
	switch {
	case !cfg.MessagesEnabled:
	case cfg.ArtifactMode():
		if gistID == "" {
			slog.Warn("MESSAGES_GIST_ID not set, messages will be omitted")
		} else {
			artifacts = gist.NewClient(cfg.GitHubToken, slog.Default())
		}
	default:
		adapters = append(adapters, messages.NewReader(messages.Options{
			Path:          cfg.MessagesDBPath,
			IncludeGroups: cfg.MessagesIncludeGroups,
		}, slog.Default()))
	}

	var sender delivery.Sender
	switch cfg.DeliveryMethod {
	case config.DeliverySMTP:
		from := cfg.SMTPFrom
		if from == "" {
			from = cfg.ReportEmail
		}
		sender = delivery.NewSMTPSender(delivery.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     from,
		})
	default:
		sender = delivery.NewGmailSender(gmailClient)
	}

	account := ""
	if cfg.GmailEnabled {
		if addr, err := gmailClient.Profile(ctx); err != nil {
			slog.Warn("could not resolve gmail account", "error", err)
		} else {
			account = addr
		}
	}

	// Optional collaborators. Nil interfaces must stay nil, so each is only
	// assigned when it was constructed.
	var runStore pipeline.RunStore
	if db := openStore(ctx, cfg); db != nil {
		defer db.Close()
		runStore = db
	}
	var events pipeline.Publisher
	if hc := connectHermes(ctx, cfg); hc != nil {
		defer hc.Close()
		events = hc
	}
	var notifier pipeline.Notifier
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		notifier = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
		slog.Info("slack poster ready", "channel", cfg.SlackChannel)
	}

	runner := pipeline.New(adapters, sender, artifacts, runStore, events, notifier, pipeline.Options{
		AnalysisDays:   cfg.AnalysisDays,
		ReportEmail:    cfg.ReportEmail,
		Account:        account,
		Bounds:         pipeline.MessagesBounds(cfg.MessagesMinResponse, cfg.MessagesMaxResponse),
		Lookback:       pipeline.DefaultLookback(cfg.MessagesMaxResponse),
		DryRun:         *dryRun,
		ArtifactID:     gistID,
		ArtifactMaxAge: cfg.ArtifactMaxAge,
	}, slog.Default())

	res, err := runner.Run(ctx, time.Now())
	if res != nil && *out != "" {
		if werr := os.WriteFile(*out, []byte(res.Document.HTML), 0o644); werr != nil {
			slog.Error("failed to write report file", "path", *out, "error", werr)
		} else {
			slog.Info("report written", "path", *out)
		}
	}
	if err != nil {
		return err
	}

	slog.Info("replyclock report finished",
		"run_id", res.RunID.String(),
		"status", res.Status,
		"sources", len(res.Contributing),
		"failed_sources", len(res.Failed),
	)
	return nil
}

func runUpload(ctx context.Context, cfg config.Config) error {
	if cfg.GitHubToken == "" {
		return errors.New("GITHUB_TOKEN is required for messages-upload")
	}
	if cfg.AnalysisDays < 28 {
		return fmt.Errorf("ANALYSIS_DAYS must be at least 28, got %d", cfg.AnalysisDays)
	}

	state, err := gist.LoadState(cfg.MessagesStatePath)
	if err != nil {
		return err
	}

	var events pipeline.Publisher
	if hc := connectHermes(ctx, cfg); hc != nil {
		defer hc.Close()
		events = hc
	}

	reader := messages.NewReader(messages.Options{
		Path:          cfg.MessagesDBPath,
		IncludeGroups: cfg.MessagesIncludeGroups,
	}, slog.Default())

	u := pipeline.NewUploader(reader, gist.NewClient(cfg.GitHubToken, slog.Default()), state, events, pipeline.UploadOptions{
		AnalysisDays:  cfg.AnalysisDays,
		Lookback:      pipeline.DefaultLookback(cfg.MessagesMaxResponse)[message.ChannelMessages],
		Bounds:        pipeline.MessagesBounds(cfg.MessagesMinResponse, cfg.MessagesMaxResponse),
		ClientVersion: version,
		GistID:        cfg.MessagesGistID,
	}, slog.Default())

	id, err := u.Upload(ctx, time.Now())
	if err != nil {
		return err
	}
	if cfg.MessagesGistID == "" {
		slog.Info("set MESSAGES_GIST_ID on the report host to consume this artifact", "gist_id", id)
	}
	return nil
}

func runServe(ctx context.Context, cfg config.Config) error {
	var runs api.RunReader
	if db := openStore(ctx, cfg); db != nil {
		defer db.Close()
		runs = db
	}

	srv := api.NewServer(cfg.Port, cfg.APIToken, runs, slog.Default())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutting down")
		return nil
	}
}

func runAuthOutlook(ctx context.Context, cfg config.Config) error {
	if cfg.OutlookClientID == "" {
		return errors.New("OUTLOOK_CLIENT_ID is required")
	}
	conf := outlook.OAuthConfig(outlook.Credentials{
		ClientID: cfg.OutlookClientID,
		TenantID: cfg.OutlookTenantID,
	})
	tok, err := outlook.DeviceLogin(ctx, conf, os.Stderr)
	if err != nil {
		return err
	}
	fmt.Printf("OUTLOOK_REFRESH_TOKEN=%s\n", tok.RefreshToken)
	return nil
}

// openStore connects to the run history if DATABASE_URL is set. Failures are
// logged and the run continues without history.
func openStore(ctx context.Context, cfg config.Config) *store.Store {
	if cfg.DatabaseURL == "" {
		return nil
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Warn("failed to connect to database, continuing without run history", "error", err)
		return nil
	}
	if err := db.EnsureSchema(ctx); err != nil {
		slog.Warn("failed to prepare schema, continuing without run history", "error", err)
		db.Close()
		return nil
	}
	slog.Info("database connected")
	return db
}

func connectHermes(ctx context.Context, cfg config.Config) *hermes.Client {
	if cfg.NatsURL == "" {
		return nil
	}
	hc, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Warn("failed to connect to NATS, continuing without events", "error", err)
		return nil
	}
	slog.Info("NATS connected", "url", cfg.NatsURL)
	return hc
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
