package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"lenabot/internal/delivery"
	"lenabot/internal/generate"
	"lenabot/internal/memory"
	"lenabot/internal/personality"
	"lenabot/internal/proactive"
	kit "lenabot/internal/transport"
	telegram "lenabot/internal/transport/telegram/adapter"
	logx "lenabot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service

	store   memory.Store
	adapter kit.Adapter
	gen     *generate.Static
	deliver *delivery.Service
	engine  *proactive.Engine

	mu      sync.Mutex
	persona *personality.Personality

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Adapter config mapping
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	pollTimeout, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	// Memory store (durable state lives here; refusing to start without it
	// beats silently forgetting users).
	memCfg, err := mapMemoryConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := memory.Open(memCfg, log.With(logx.String("comp", "memory")))
	if err != nil {
		return nil, err
	}
	log.Info("memory store opened", logx.String("path", memCfg.Path))

	// Persona (fail-soft: a broken file logs and falls back to the default)
	persona, perr := personality.Load(cfg.Personality.Path)
	if perr != nil {
		log.Warn("personality file unusable; using built-in persona", logx.Err(perr))
	}

	gen := generate.NewStatic(persona)

	dcfg, err := mapDeliveryConfig(cfg)
	if err != nil {
		return nil, err
	}
	deliver := delivery.New(dcfg, ad, log.With(logx.String("comp", "delivery")))

	ps, err := mapProactiveSettings(cfg)
	if err != nil {
		return nil, err
	}
	plog := log.With(logx.String("comp", "proactive"))
	engine := proactive.NewEngine(ps,
		proactive.NewRegistry(store, plog),
		proactive.NewProfile(store, plog),
		proactive.NewTracker(),
		gen, deliver, persona, plog)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		adapter: ad,
		gen:     gen,
		deliver: deliver,
		engine:  engine,
		persona: persona,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(c context.Context, cfg *Config) error {
			return validateConfig(cfg)
		})
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if a.engine.Enabled() {
		a.engine.Start(a.sup.Context())
	}

	a.sup.Go("updates.dispatch", func(c context.Context) error {
		return a.dispatchLoop(c)
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := SummarizeConfigChange(lastApplied, newCfg)
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Debug("config change summary", fields...)
				} else {
					a.log.Debug("config reload received, but no effective changes detected")
				}
				prev := lastApplied
				lastApplied = newCfg

				a.applyReload(c, prev, newCfg, sections)

				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyReload pushes a validated config into the running components.
func (a *App) applyReload(ctx context.Context, prev, cfg *Config, sections []string) {
	for _, s := range sections {
		if s == "memory" || s == "telegram" {
			a.log.Warn("config section requires a restart to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if dcfg, err := mapDeliveryConfig(cfg); err != nil {
		a.log.Warn("invalid delivery config; keeping previous", logx.Err(err))
	} else {
		a.deliver.Apply(dcfg)
	}

	// Persona reload (only when the path actually changed, or on first set).
	if prev == nil || prev.Personality.Path != cfg.Personality.Path {
		persona, perr := personality.Load(cfg.Personality.Path)
		if perr != nil {
			a.log.Warn("personality file unusable; keeping previous persona", logx.Err(perr))
		} else {
			a.mu.Lock()
			a.persona = persona
			a.mu.Unlock()
			a.gen.SetPersona(persona)
			a.engine.SetPersona(persona)
			a.log.Info("persona reloaded", logx.String("name", persona.Name))
		}
	}

	prevEnabled := a.engine.Enabled()
	ps, err := mapProactiveSettings(cfg)
	if err != nil {
		a.log.Warn("invalid proactive config; keeping previous", logx.Err(err))
		return
	}
	a.engine.Apply(ps)
	switch {
	case prevEnabled && !ps.Enabled:
		a.log.Info("proactive messaging disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.engine.Stop(stopCtx)
		cancel()
	case !prevEnabled && ps.Enabled:
		a.log.Info("proactive messaging enabled via config")
		a.engine.Start(ctx)
	}
}

func validateConfig(cfg *Config) error {
	if _, err := parseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := mapMemoryConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDeliveryConfig(cfg); err != nil {
		return err
	}
	if _, err := mapProactiveSettings(cfg); err != nil {
		return err
	}
	if p := strings.TrimSpace(cfg.Personality.Path); p != "" {
		if _, err := personality.Load(p); err != nil {
			return fmt.Errorf("personality.path: %w", err)
		}
	}
	return nil
}

func (a *App) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-a.updates:
			if !ok {
				return nil
			}
			a.handleUpdate(ctx, u)
		}
	}
}

func (a *App) handleUpdate(ctx context.Context, u kit.Update) {
	msg := u.Message
	if msg == nil || msg.IsGroup {
		return
	}
	userID := strconv.FormatInt(msg.FromID, 10)
	text := strings.TrimSpace(msg.Text)
	to := kit.ChatTarget{ChatID: msg.ChatID}

	// Everything the user sends counts as activity, commands included.
	a.engine.OnUserMessage(ctx, userID, time.Now().UTC())

	switch {
	case text == "/start":
		a.engine.Register(ctx, userID, msg.ChatID)
		a.reply(ctx, to, a.startGreeting())
	case text == "/stop":
		a.engine.Unregister(ctx, userID)
		a.reply(ctx, to, "Okay, I won't message you first anymore. Send /start whenever you want me back.")
	case strings.HasPrefix(text, "/timezone"):
		zone := strings.TrimSpace(strings.TrimPrefix(text, "/timezone"))
		if zone == "" {
			a.reply(ctx, to, "Tell me your zone like this: /timezone Europe/Berlin")
			return
		}
		if err := a.engine.SetUserTimezone(ctx, userID, zone); err != nil {
			a.reply(ctx, to, "I don't know that timezone. Try an IANA name like Europe/Berlin.")
			return
		}
		a.reply(ctx, to, "Got it, I'll use "+zone+" for your local time.")
	}
}

func (a *App) startGreeting() string {
	a.mu.Lock()
	name := a.persona.Name
	a.mu.Unlock()
	return "Hey! I'm " + name + ". I'll check in with you from time to time.\n\n" +
		"Use /timezone <zone> so I know your local time, and /stop if you ever want me to go quiet."
}

func (a *App) reply(ctx context.Context, to kit.ChatTarget, text string) {
	if err := a.deliver.Send(ctx, to, text); err != nil {
		a.log.Warn("reply failed", logx.Int64("chat", to.ChatID), logx.Err(err))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", elapsed),
			)
			// Leak logging: observe when/if the step eventually finishes.
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Stop the proactive engine first so no new sends start mid-shutdown.
	step("proactive", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("memory", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, update dispatcher, etc.)
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
