package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github.com/digkill/TGAssistantBot/internal/admin"
	"github.com/digkill/TGAssistantBot/internal/ai"
	"github.com/digkill/TGAssistantBot/internal/config"
	"github.com/digkill/TGAssistantBot/internal/cryptopay"
	"github.com/digkill/TGAssistantBot/internal/database"
	"github.com/digkill/TGAssistantBot/internal/dialogue"
	"github.com/digkill/TGAssistantBot/internal/events"
	"github.com/digkill/TGAssistantBot/internal/journal"
	"github.com/digkill/TGAssistantBot/internal/metrics"
	"github.com/digkill/TGAssistantBot/internal/repository"
	"github.com/digkill/TGAssistantBot/internal/service"
	"github.com/digkill/TGAssistantBot/internal/storage"
	"github.com/digkill/TGAssistantBot/internal/telegram"
	"github.com/digkill/TGAssistantBot/pkg/logger"
)

// core holds what every command needs: config, logs, the database and the
// account-level services.
type core struct {
	cfg      config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	events   events.Publisher
	journals *journal.Store
	accounts *service.AccountService
	payments *repository.PaymentRepository
	admin    *service.AdminService
	sweeper  *service.Sweeper
	closers  []io.Closer
}

func newCore(ctx context.Context) (*core, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	a := &core{cfg: cfg}
	log, closer, err := logger.NewWithFiles(logger.Options{Dir: cfg.LogDir, Level: cfg.LogLevel})
	if err != nil {
		return nil, err
	}
	a.log = log
	a.closers = append(a.closers, closer)

	audit, closer, err := logger.NewAdminLog(cfg.LogDir)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closer)

	db, dialect, err := database.Connect(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("database connect: %w", err)
	}
	a.closers = append(a.closers, db)
	if err := database.Migrate(ctx, db, dialect); err != nil {
		a.Close()
		return nil, fmt.Errorf("database migrate: %w", err)
	}

	a.metrics = metrics.New()
	a.events = events.New(cfg.RabbitMQURL, log)
	a.closers = append(a.closers, a.events)
	a.journals = journal.NewStore(cfg.DataDir, log)

	accountRepo := repository.NewAccountRepository(db, dialect, cfg.Location)
	a.accounts = service.NewAccountService(cfg, accountRepo, repository.NewHistoryRepository(db))
	if err := a.accounts.Bootstrap(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}
	a.payments = repository.NewPaymentRepository(db, dialect)
	a.admin = service.NewAdminService(a.accounts, a.journals, logger.PathsIn(cfg.LogDir), audit, a.events, a.metrics, log)
	a.sweeper = service.NewSweeper(a.accounts, a.events, a.metrics, cfg.SweepInterval, log)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *core) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && a.log != nil {
			a.log.Warn("close resource", "err", err)
		}
	}
	a.closers = nil
}

func runServe(ctx context.Context) error {
	a, err := newCore(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, log := a.cfg, a.log

	if err := cfg.RequireRuntime(); err != nil {
		return err
	}

	store, err := newDialogueStore(ctx, a)
	if err != nil {
		return err
	}
	machine := dialogue.NewMachine(store, log)
	defer machine.Close()

	var archive service.ImageArchive
	s3Archive, err := storage.NewArchive(cfg)
	if err != nil {
		return fmt.Errorf("storage archive: %w", err)
	}
	if s3Archive != nil {
		archive = s3Archive
	}

	meter := service.NewMeter(a.accounts, cfg.FreeUsesLimit, a.metrics, log)
	generation := service.NewGenerationService(meter, ai.NewClient(cfg, log), archive, a.journals, log)
	payments := service.NewPaymentService(cfg, a.payments, a.accounts, a.journals, cryptopay.NewClient(cfg, log), a.events, a.metrics, log)
	broadcasts := service.NewBroadcastService(a.accounts, cfg.BroadcastDelay, a.metrics, log)

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("telegram bot: %w", err)
	}
	bot := telegram.NewBot(cfg, botAPI, log, telegram.Services{
		Accounts:   a.accounts,
		Generation: generation,
		Payments:   payments,
		Broadcasts: broadcasts,
		Admin:      a.admin,
		Dialogue:   machine,
		Metrics:    a.metrics,
	})
	payments.SetNotifier(bot)
	a.admin.SetNotifier(bot)
	a.sweeper.SetNotifier(bot)
	if err := bot.RegisterCommands(); err != nil {
		log.Warn("register bot commands", "err", err)
	}

	server := admin.NewServer(cfg, log, admin.Services{
		Payments:   payments,
		Admin:      a.admin,
		Broadcasts: broadcasts,
		Metrics:    a.metrics,
		Bot:        bot,
	})

	switch cfg.BotMode {
	case config.BotModeWebhook:
		url := cfg.PublicBaseURL + "/webhook/telegram"
		wh, err := tgbotapi.NewWebhook(url)
		if err != nil {
			return fmt.Errorf("build webhook config: %w", err)
		}
		if _, err := botAPI.Request(wh); err != nil {
			return fmt.Errorf("set telegram webhook: %w", err)
		}
		log.Info("telegram webhook registered", "url", url)
	default:
		if _, err := botAPI.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			log.Warn("delete telegram webhook", "err", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return a.sweeper.Run(gctx) })
	g.Go(func() error {
		if cfg.BotMode == config.BotModeWebhook {
			<-gctx.Done()
			bot.Wait()
			return nil
		}
		return bot.Poll(gctx, botAPI)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func newDialogueStore(ctx context.Context, a *core) (dialogue.Store, error) {
	if a.cfg.StateBackend != config.StateBackendRedis {
		return dialogue.NewMemoryStore(), nil
	}
	rdb, err := dialogue.NewRedisClient(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rdb)
	a.log.Info("dialogue state backed by redis", "addr", a.cfg.RedisAddr)
	return dialogue.NewRedisStore(rdb), nil
}
