package main

import (
	"context"
	"log/slog"
	"time"

	"omniasync-backend/lib/configutil"
	"omniasync-backend/lib/notify"
	"omniasync-backend/lib/retryutil"
	"omniasync-backend/lib/scrapers/omnia"
	"omniasync-backend/lib/serviceutil"
	"omniasync-backend/lib/sinks/webform"
	"omniasync-backend/lib/telemetry"
	"omniasync-backend/services/ingest"
)

func parseModes(persistence map[string]string) (map[string]ingest.Mode, error) {
	modes := map[string]ingest.Mode{}
	for name, raw := range persistence {
		mode, err := ingest.ParseMode(raw)
		if err != nil {
			return nil, err
		}
		modes[name] = mode
	}
	return modes, nil
}

func main() {
	ctx := serviceutil.SignalContext()

	config, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}

	t, err := telemetry.SetupFromEnv(ctx, "omniasyncd")
	if err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	defer t.Shutdown(context.Background())
	telemetry.InstrumentPerfStats(ctx)

	db, err := config.Database.OpenDB("")
	if err != nil {
		serviceutil.Fatal("failed to open database", err)
	}

	modes, err := parseModes(config.Persistence)
	if err != nil {
		serviceutil.Fatal("invalid persistence config", err)
	}
	store, err := ingest.NewStore(db, modes)
	if err != nil {
		serviceutil.Fatal("failed to initialize store", err)
	}

	retry := retryutil.Policy{
		MaxAttempts: config.Retry.MaxAttempts,
		Delay:       time.Duration(config.Retry.DelaySeconds) * time.Second,
	}

	portal, err := omnia.NewClient(ctx, omnia.ClientOptions{
		BaseUrl:  config.Portal.BaseUrl,
		Username: config.Portal.Username,
		Password: config.Portal.Password,
		Retry:    retry,
	})
	if err != nil {
		serviceutil.Fatal("failed to login to the portal", err)
	}
	defer portal.Close(context.Background())

	sink, err := webform.NewSink(ctx, config.Destinations, retry)
	if err != nil {
		serviceutil.Fatal("failed to login to a destination", err)
	}

	var notifier notify.Notifier = notify.Log{}
	if config.Smtp != nil {
		notifier = notify.NewEmail(*config.Smtp)
	}

	service := ingest.NewService(
		store,
		ingest.NewPortalExtractor(portal),
		ingest.NewWebformDispatcher(sink),
		ingest.Options{
			Workers:       config.Workers,
			QueueCapacity: config.QueueCapacity,
			Notifier:      notifier,
		},
	)

	poll := time.Duration(config.PollSeconds) * time.Second
	if poll <= 0 {
		poll = time.Second * 20
	}

	scheduler := ingest.NewScheduler(poll, func(ctx context.Context) {
		_, err := service.RunCycle(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "ingestion cycle failed", "err", err)
		}
	})
	scheduler.Run(ctx)
}
