// Package concierge provides a high-level façade over the gateway, reasoning
// loop, tool registry and cron scheduler enabling rapid construction of a
// personal-assistant runtime. Most applications interact with this package by:
//  1. Creating an App via New() (optionally overriding stores, provider, tools)
//  2. Attaching one or more channel adapters
//  3. Calling Start(), and Shutdown(ctx) on exit
//
// The façade delegates message orchestration to gateway.Gateway while keeping
// setup ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply a durable storage path and
// a structured logger.
package concierge

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/hupe1980/concierge/agent"
	"github.com/hupe1980/concierge/config"
	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/cron"
	"github.com/hupe1980/concierge/gateway"
	"github.com/hupe1980/concierge/logging"
	"github.com/hupe1980/concierge/model"
	"github.com/hupe1980/concierge/model/anthropic"
	"github.com/hupe1980/concierge/model/openai"
	"github.com/hupe1980/concierge/session"
	"github.com/hupe1980/concierge/tool"
)

// Options configures the App instance.
type Options struct {
	// Config carries file-level settings. Defaults to config.Default().
	Config config.Config

	// Provider overrides the config-selected model adapter. Tests normally
	// pass model.NewMockProvider() here.
	Provider model.Provider

	// SessionStore overrides storage selection for conversation state.
	SessionStore core.SessionStore

	// TaskStore overrides storage selection for cron tasks.
	TaskStore cron.TaskStore

	// Instruction overrides the system prompt. Defaults to the config
	// instructions (as a template) or agent.DefaultInstruction.
	Instruction agent.Instruction

	// Tools are registered in addition to the builtin memory and reminder
	// tools.
	Tools []tool.Tool

	// Logger defaults to NoOp logger if nil.
	Logger logging.Logger
}

// App aggregates the assistant runtime: adapters feed the gateway, the
// gateway feeds the reasoning loop, and the scheduler injects cron prompts
// through the same path.
type App struct {
	gateway   *gateway.Gateway
	scheduler *cron.Scheduler
	registry  *tool.Registry
	sessions  core.SessionStore
	logger    logging.Logger
	db        *sql.DB
}

// New assembles an App. Any unset service is initialized from the config,
// falling back to in-memory implementations when no storage path is set.
func New(optFns ...func(o *Options)) (*App, error) {
	opts := Options{
		Config: config.Default(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	cfg := opts.Config

	app := &App{logger: opts.Logger}

	if opts.SessionStore == nil || opts.TaskStore == nil {
		if cfg.Storage.Path != "" {
			db, err := sql.Open("sqlite", cfg.Storage.Path)
			if err != nil {
				return nil, fmt.Errorf("open storage: %w", err)
			}
			app.db = db
			if opts.SessionStore == nil {
				store, err := session.NewSQLiteStoreFromDB(db)
				if err != nil {
					return nil, err
				}
				opts.SessionStore = store
			}
			if opts.TaskStore == nil {
				store, err := cron.NewSQLiteTaskStoreFromDB(db)
				if err != nil {
					return nil, err
				}
				opts.TaskStore = store
			}
		} else {
			if opts.SessionStore == nil {
				opts.SessionStore = session.NewInMemoryStore()
			}
			if opts.TaskStore == nil {
				opts.TaskStore = cron.NewInMemoryTaskStore()
			}
		}
	}
	app.sessions = opts.SessionStore

	provider := opts.Provider
	if provider == nil {
		var err error
		provider, err = buildProvider(cfg.Model)
		if err != nil {
			return nil, err
		}
	}

	disabled := make([]tool.Capability, 0, len(cfg.Tools.DisabledCapabilities))
	for _, c := range cfg.Tools.DisabledCapabilities {
		disabled = append(disabled, tool.Capability(c))
	}
	app.registry = tool.NewRegistry(func(o *tool.RegistryOptions) {
		o.DisabledCapabilities = disabled
	})

	executor := tool.NewExecutor(app.registry, func(o *tool.ExecutorOptions) {
		o.Logger = opts.Logger
	})

	instruction := opts.Instruction
	if instruction == nil {
		if cfg.Agent.Instructions != "" {
			instruction = agent.TemplateInstruction(cfg.Agent.Instructions)
		} else {
			instruction = agent.DefaultInstruction
		}
	}

	loop := agent.NewLoop(provider, opts.SessionStore, app.registry, executor, func(o *agent.LoopOptions) {
		o.MaxIterations = cfg.Agent.MaxIterations
		o.HistoryWindow = cfg.Agent.HistoryWindow
		o.MaxRetries = cfg.Agent.MaxRetries
		o.Instruction = instruction
		o.Logger = opts.Logger
	})

	app.gateway = gateway.New(loop, func(o *gateway.Options) {
		o.QueueDepth = cfg.Gateway.QueueDepth
		o.MaxConcurrentTurns = cfg.Gateway.MaxConcurrentTurns
		o.Logger = opts.Logger
	})

	app.scheduler = cron.NewScheduler(opts.TaskStore, app.gateway.Submit, func(o *cron.Options) {
		o.TickInterval = cfg.Cron.TickInterval.Std()
		o.MaxFireRetries = cfg.Cron.MaxFireRetries
		o.Logger = opts.Logger
	})

	builtins := []tool.Tool{
		tool.NewRememberTool(opts.SessionStore),
		tool.NewRecallTool(opts.SessionStore),
		tool.NewScheduleReminderTool(app.scheduler),
		tool.NewListRemindersTool(app.scheduler),
		tool.NewCancelReminderTool(app.scheduler),
	}
	if err := app.registry.RegisterAll(builtins...); err != nil {
		return nil, err
	}
	if err := app.registry.RegisterAll(opts.Tools...); err != nil {
		return nil, err
	}

	return app, nil
}

// Attach registers a channel adapter. Must be called before Start.
func (a *App) Attach(adapter core.ChannelAdapter) error { return a.gateway.Attach(adapter) }

// OnOutbound registers an observer for routed final messages.
func (a *App) OnOutbound(fn gateway.OutboundFunc) { a.gateway.OnOutbound(fn) }

// Submit admits one message directly, bypassing adapters. Mainly for
// embedding and administrative injection.
func (a *App) Submit(msg core.Message) error { return a.gateway.Submit(msg) }

// Scheduler exposes the cron scheduler for administrative task management.
func (a *App) Scheduler() *cron.Scheduler { return a.scheduler }

// Sessions exposes the session store.
func (a *App) Sessions() core.SessionStore { return a.sessions }

// Registry exposes the tool registry for additional registrations.
func (a *App) Registry() *tool.Registry { return a.registry }

// Start begins adapter pumping and cron polling.
func (a *App) Start(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	a.gateway.Start()
	a.logger.Info("concierge.started")
	return nil
}

// Shutdown drains in-flight turns, stops the scheduler and closes storage.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.gateway.Shutdown(ctx)
	a.scheduler.Stop()
	if a.db != nil {
		if cerr := a.db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	a.logger.Info("concierge.stopped")
	return err
}

func buildProvider(cfg config.ModelConfig) (model.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.New(func(o *anthropic.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
			if cfg.MaxTokens > 0 {
				o.MaxTokens = int64(cfg.MaxTokens)
			}
			o.APIKey = cfg.APIKey()
			o.BaseURL = cfg.BaseURL
		}), nil
	case "openai":
		return openai.New(func(o *openai.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = int64(cfg.MaxTokens)
			}
			o.APIKey = cfg.APIKey()
			o.BaseURL = cfg.BaseURL
		}), nil
	case "mock":
		return model.NewMockProvider(), nil
	default:
		return nil, &core.ValidationError{Field: "model.provider", Message: fmt.Sprintf("unknown provider %q", cfg.Provider)}
	}
}
