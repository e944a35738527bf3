package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/autopost/internal/budget"
	"github.com/autopost/internal/completion"
	"github.com/autopost/internal/config"
	"github.com/autopost/internal/database"
	"github.com/autopost/internal/decision"
	"github.com/autopost/internal/escalation"
	"github.com/autopost/internal/generate"
	"github.com/autopost/internal/llm"
	"github.com/autopost/internal/lock"
	"github.com/autopost/internal/logging"
	"github.com/autopost/internal/orchestrator"
	"github.com/autopost/internal/platform"
	"github.com/autopost/internal/platform/twitter"
	"github.com/autopost/internal/safety"
	"github.com/autopost/internal/store"
)

// App holds the wired engagement runtime.
type App struct {
	Config       *config.Config
	Pool         *pgxpool.Pool
	Store        *store.PostgresStore
	Orchestrator *orchestrator.Orchestrator
}

func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// loadConfig reads and validates the file named by the global --config flag
// and configures logging from it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	level := cfg.Logging.Level
	if c.Bool("verbose") {
		level = "debug"
	}
	logging.Setup(level, cfg.Logging.Format)
	return cfg, nil
}

// NewApp connects to Postgres and builds the orchestrator graph.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	pool, err := database.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, err
	}
	st := store.NewPostgresStore(pool)

	svc, err := newCompletionService(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &App{
		Config:       cfg,
		Pool:         pool,
		Store:        st,
		Orchestrator: newOrchestrator(cfg, st, svc, newAdapters(cfg)),
	}, nil
}

// newOrchestrator assembles the pipeline stages over a single store.
func newOrchestrator(cfg *config.Config, st interface {
	store.EngagementStore
	store.AccountStore
	store.LockStore
}, svc completion.Service, adapters map[string]platform.Adapter) *orchestrator.Orchestrator {
	safetyOpts := safety.Options{
		MinLength:               cfg.Safety.MinLength,
		MinQuestionAnswerLength: cfg.Safety.MinQuestionAnswerLength,
		RepetitionThreshold:     cfg.Safety.RepetitionThreshold,
		QualityThreshold:        cfg.Safety.QualityThreshold,
		QualityFailOpen:         cfg.Safety.QualityFailOpen,
		UppercaseRatio:          cfg.Safety.UppercaseRatio,
		MaxChars:                cfg.Engagement.MaxChars,
	}

	return orchestrator.New(orchestrator.Deps{
		Engagements: st,
		Accounts:    st,
		Locker:      lock.New(st),
		Governor: budget.NewGovernor(st, budget.Limits{
			MaxDailyResponses: cfg.Budget.MaxDailyResponses,
			MaxDailyCost:      cfg.Budget.MaxDailyCost,
			CostPerResponse:   cfg.Budget.CostPerResponse,
		}),
		Adapters: adapters,
		Decision: decision.New(svc, decision.Options{
			FailOpen:        cfg.Decision.FailOpen,
			ContextMessages: cfg.Decision.ContextMessages,
		}),
		Generator: generate.New(svc, generate.Options{
			Strategies:      generate.DefaultStrategies(cfg.Generation.FallbackModel),
			ContextMessages: cfg.Generation.ContextMessages,
			MaxTokens:       cfg.Generation.MaxTokens,
		}),
		Gate:      safety.NewDefaultGate(svc, safetyOpts),
		Escalator: escalation.New(st, cfg.Engagement.FailureThreshold),
		LockName:  cfg.Lock.Name,
		LockOptions: lock.Options{
			TTL:           cfg.Lock.TTL,
			WaitTimeout:   cfg.Lock.WaitTimeout,
			RetryInterval: cfg.Lock.RetryInterval,
		},
		RunLogDir: cfg.General.RunLogDir,
	})
}

// newCompletionService builds the primary and optional fast connectors and
// wraps them with retries and a per-call timeout.
func newCompletionService(ctx context.Context, cfg *config.Config) (completion.Service, error) {
	primaryCfg := cfg.AI[cfg.General.DefaultAI]
	primary, err := completion.NewConnector(ctx, connectorOptions(primaryCfg))
	if err != nil {
		return nil, fmt.Errorf("ai.%s: %w", cfg.General.DefaultAI, err)
	}

	var fast *completion.Connector
	if name := cfg.General.FastAI; name != "" && name != cfg.General.DefaultAI {
		fast, err = completion.NewConnector(ctx, connectorOptions(cfg.AI[name]))
		if err != nil {
			return nil, fmt.Errorf("ai.%s: %w", name, err)
		}
	}

	timeout := primaryCfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return llm.NewResilientServiceWithDefaults(completion.NewClient(primary, fast), timeout), nil
}

func connectorOptions(ai config.AIConfig) completion.ConnectorOptions {
	return completion.ConnectorOptions{
		Provider: completion.Provider(ai.Provider),
		APIKey:   ai.APIKey,
		BaseURL:  ai.BaseURL,
		ModelConfig: completion.ModelConfig{
			Model:       ai.Model,
			Temperature: ai.Temperature,
			MaxTokens:   ai.MaxTokens,
		},
	}
}

// newAdapters returns one adapter per configured platform. Twitter is always
// available with its defaults.
func newAdapters(cfg *config.Config) map[string]platform.Adapter {
	adapters := map[string]platform.Adapter{}
	tw := cfg.Platform["twitter"]
	adapters["twitter"] = twitter.New(twitter.Config{
		BaseURL:           tw.BaseURL,
		Timeout:           tw.Timeout,
		RequestsPerMinute: tw.RequestsPerMinute,
	})
	for name := range cfg.Platform {
		if _, ok := adapters[name]; !ok {
			log.Warn().Str("platform", name).Msg("no adapter for configured platform, ignoring")
		}
	}
	return adapters
}

// runOptions maps the engagement section to a run bundle.
func runOptions(cfg *config.Config) orchestrator.Options {
	e := cfg.Engagement
	return orchestrator.Options{
		AccountID:               e.AccountID,
		MaxConversationsToCheck: e.MaxConversationsToCheck,
		MaxResponsesToSend:      e.MaxResponsesToSend,
		MinTimeBetweenChecks:    e.MinTimeBetweenChecks,
		DryRun:                  e.DryRun,
		UseSmartPolling:         e.UseSmartPolling,
		InterResponseDelay:      e.InterResponseDelay,
		PoolMultiplier:          e.PoolMultiplier,
		MaxChars:                e.MaxChars,
	}
}
