// Package app wires all yomivox subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes them until the context is cancelled, and
// Shutdown tears everything down in order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/kisaragi-dev/yomivox/internal/admin"
	"github.com/kisaragi-dev/yomivox/internal/config"
	"github.com/kisaragi-dev/yomivox/internal/dict"
	"github.com/kisaragi-dev/yomivox/internal/discord"
	"github.com/kisaragi-dev/yomivox/internal/discord/commands"
	"github.com/kisaragi-dev/yomivox/internal/engine"
	"github.com/kisaragi-dev/yomivox/internal/health"
	"github.com/kisaragi-dev/yomivox/internal/observe"
	"github.com/kisaragi-dev/yomivox/internal/resilience"
	"github.com/kisaragi-dev/yomivox/internal/store"
	"github.com/kisaragi-dev/yomivox/internal/store/memstore"
	"github.com/kisaragi-dev/yomivox/internal/store/postgres"
	"github.com/kisaragi-dev/yomivox/internal/textproc"
	"github.com/kisaragi-dev/yomivox/internal/voice"
	"github.com/kisaragi-dev/yomivox/pkg/voicevox"
)

// Stores is the combined persistence surface the app needs. Both the
// postgres and in-memory backends satisfy it.
type Stores interface {
	store.ProfileStore
	store.SettingsStore
	store.SessionStore
	dict.Store
}

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	log *slog.Logger

	stores   Stores
	pg       *postgres.Store // nil when running on the in-memory store
	settings *store.CachedSettings
	vv       *voicevox.Client
	metrics  *observe.Metrics
	bot      *discord.Bot
	registry *engine.Registry
	admin    *admin.Server
	ops      *http.Server

	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStores injects a persistence backend instead of creating one from
// config.
func WithStores(s Stores) Option {
	return func(a *App) { a.stores = s }
}

// WithMetrics injects a metrics bundle instead of using the global meter
// provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together: persistence,
// synthesis client, session engine, Discord gateway, and the HTTP surfaces.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, log: log}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStores(ctx); err != nil {
		return nil, fmt.Errorf("app: init stores: %w", err)
	}
	if err := a.initSynthesis(); err != nil {
		return nil, fmt.Errorf("app: init synthesis: %w", err)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if err := a.initBot(ctx); err != nil {
		a.Shutdown(context.Background())
		return nil, fmt.Errorf("app: init bot: %w", err)
	}
	a.initEngine()
	a.initHandlers()
	a.initHTTP()

	return a, nil
}

// initStores connects to PostgreSQL when a DSN is configured, otherwise
// falls back to the in-memory store. Guild settings are always wrapped in
// the read-through cache.
func (a *App) initStores(ctx context.Context) error {
	if a.stores == nil {
		if dsn := a.cfg.Database.PostgresDSN; dsn != "" {
			pg, err := postgres.NewStore(ctx, dsn)
			if err != nil {
				return err
			}
			a.pg = pg
			a.stores = pg
			a.closers = append(a.closers, func() error {
				pg.Close()
				return nil
			})
		} else {
			a.log.Warn("no database configured, state will not survive restarts")
			a.stores = memstore.New()
		}
	}

	a.settings = store.NewCachedSettings(a.stores,
		a.cfg.Database.SettingsCacheSize, a.cfg.Database.SettingsCacheTTL)
	return nil
}

// initSynthesis builds the VOICEVOX client and wraps it in the circuit
// breaker.
func (a *App) initSynthesis() error {
	vv, err := voicevox.New(a.cfg.Voicevox.BaseURL,
		voicevox.WithTimeout(a.cfg.Voicevox.Timeout),
		voicevox.WithCache(a.cfg.Voicevox.CacheSize, a.cfg.Voicevox.CacheTTL),
	)
	if err != nil {
		return err
	}
	a.vv = vv
	return nil
}

func (a *App) initBot(ctx context.Context) error {
	bot, err := discord.New(ctx, discord.Config{
		Token:   a.cfg.Discord.Token,
		OwnerID: a.cfg.Discord.OwnerID,
		Status:  a.cfg.Discord.Status,
	})
	if err != nil {
		return err
	}
	a.bot = bot
	a.closers = append(a.closers, bot.Close)
	return nil
}

// initEngine builds the session registry. Each session gets the shared
// breaker-guarded synthesizer, the Discord voice dialer, and hooks feeding
// metrics and session persistence.
func (a *App) initEngine() {
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:      "voicevox",
		Threshold: a.cfg.Voicevox.BreakerThreshold,
		Cooldown:  a.cfg.Voicevox.BreakerCooldown,
	}, a.log)
	synth := newGuardedSynth(a.vv, breaker)

	dialer := voice.NewDiscordDialer(a.bot.Session(), a.log)
	hooks := a.engineHooks()
	sessionCfg := engine.Config{
		QueueDepth:     a.cfg.Engine.QueueDepth,
		LeaveGrace:     a.cfg.Engine.LeaveGrace,
		ConnectTimeout: a.cfg.Engine.ConnectTimeout,
	}

	a.registry = engine.NewRegistry(func(guildID string) *engine.Session {
		return engine.NewSession(guildID, synth, dialer, sessionCfg, hooks, a.log)
	}, a.cfg.Engine.IdleRetention, a.log)
	a.closers = append(a.closers, func() error {
		a.registry.Close()
		return nil
	})
}

// initHandlers registers the gateway event handlers and slash commands.
func (a *App) initHandlers() {
	resolver := dict.NewResolver(a.stores, a.log)
	listener := discord.NewListener(a.registry, a.settings, a.stores,
		resolver, textproc.New(), a.metrics, a.log)
	watcher := discord.NewVoiceWatcher(a.registry, a.settings, a.log)

	a.bot.AddMessageHandler(listener.HandleMessage)
	a.bot.AddVoiceStateHandler(watcher.HandleVoiceState)
	a.bot.AddGuildDeleteHandler(watcher.HandleGuildRemove)

	router := a.bot.Router()
	commands.NewVoiceCommands(a.registry, a.log).Register(router)
	commands.NewSettingsCommands(a.stores, a.settings, a.bot.Permissions(), a.log).Register(router)
	commands.NewDictionaryCommands(a.stores, a.bot.Permissions(), a.log).Register(router)
	commands.NewUtilCommands(a.bot, a.log).Register(router)
}

// initHTTP builds the admin API and the ops endpoint.
func (a *App) initHTTP() {
	if a.cfg.Admin.ListenAddr != "" {
		a.admin = admin.New(admin.Config{
			ListenAddr: a.cfg.Admin.ListenAddr,
			Username:   a.cfg.Admin.Username,
			Password:   a.cfg.Admin.Password,
		}, a.stores, a.vv, a.registry, a.log)
	}

	checkers := []health.Checker{health.EngineChecker(a.vv.Version)}
	if a.pg != nil {
		checkers = append(checkers, health.DatabaseChecker(a.pg))
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.ops = &http.Server{
		Addr:              a.cfg.Server.OpsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Run starts all long-running subsystems and blocks until ctx is cancelled
// or one of them fails.
func (a *App) Run(ctx context.Context) error {
	a.restoreSessions(ctx)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.bot.Run(ctx) })

	g.Go(func() error {
		errCh := make(chan error, 1)
		go func() {
			a.log.Info("ops server listening", "addr", a.ops.Addr)
			if err := a.ops.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.ops.Shutdown(shutdownCtx)
		}
	})

	if a.admin != nil {
		g.Go(func() error { return a.admin.Run(ctx) })
	}

	if a.pg != nil {
		g.Go(func() error { return a.watchSettingsChanges(ctx) })
	}

	a.log.Info("yomivox running")
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchSettingsChanges drops cached guild settings when another process
// writes them, so admin-side edits take effect without a restart.
func (a *App) watchSettingsChanges(ctx context.Context) error {
	err := a.pg.Listen(ctx, a.log, func(c postgres.Change) {
		if c.Table == "guild_settings" {
			a.settings.Invalidate(c.Key)
			a.log.Debug("settings cache invalidated", "guild_id", c.Key)
		}
	})
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return err
}

// Shutdown tears down all subsystems in reverse-init order. It respects
// the context deadline: if ctx expires before all closers finish, the
// remaining closers are skipped.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
