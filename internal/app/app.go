package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ohmynofan/paws-community-bot/internal/adapters/captcha"
	"github.com/ohmynofan/paws-community-bot/internal/adapters/proxy"
	"github.com/ohmynofan/paws-community-bot/internal/app/worker"
	"github.com/ohmynofan/paws-community-bot/internal/config"
	"github.com/ohmynofan/paws-community-bot/internal/domain/model"
	"github.com/ohmynofan/paws-community-bot/internal/platform/logger"
	"github.com/ohmynofan/paws-community-bot/internal/platform/ui"
	"github.com/ohmynofan/paws-community-bot/internal/storage/runlog"
	"github.com/ohmynofan/paws-community-bot/internal/storage/tokencache"
	"github.com/ohmynofan/paws-community-bot/pkg/utils"
)

type App struct {
	cfg    config.Config
	runID  string
	log    *logger.ClassLogger
	solver captcha.Solver
}

func New(cfg config.Config) *App {
	runID := uuid.NewString()
	return &App{
		cfg:   cfg,
		runID: runID,
		log:   logger.NewNamed("App", nil).WithRun(runID),
	}
}

// WithSolver replaces the provider selected from the configured keys.
func (app *App) WithSolver(s captcha.Solver) *App {
	app.solver = s
	return app
}

func (app *App) Run(ctx context.Context) error {
	settings := app.cfg.Settings

	accounts, err := app.cfg.LoadAccounts()
	if err != nil {
		return err
	}

	pool, err := app.loadProxyPool()
	if err != nil {
		return err
	}

	tokens, err := tokencache.Open(app.cfg.TokensPath)
	if err != nil {
		return fmt.Errorf("failed to open token cache: %w", err)
	}
	if tokens.Corrupt() {
		app.log.Warn("Tokens file corrupt, recreating...")
	}

	store, err := runlog.NewStore(app.cfg.RunlogPath)
	if err != nil {
		return err
	}
	defer store.Close()

	solver := app.solver
	if solver == nil {
		solver, err = captcha.New(app.cfg.CaptchaProvider, app.cfg.TwoCaptchaAPIKey, app.cfg.CapSolverAPIKey, captcha.Options{
			MinBalance:   settings.Captcha.MinBalance,
			PollInterval: utils.Seconds(settings.Captcha.PollInterval),
			PollAttempts: settings.Captcha.PollAttempts,
		})
		if err != nil {
			return err
		}
	}
	if balance, err := solver.Balance(ctx); err != nil {
		app.log.Warn(fmt.Sprintf("Could not read %s balance: %v", solver.Name(), err))
	} else {
		app.log.Info(fmt.Sprintf("%s balance: %.3f", solver.Name(), balance))
	}

	w := worker.New(worker.Deps{
		Config: app.cfg,
		Pool:   pool,
		Tokens: tokens,
		Solver: solver,
		Runlog: store,
		RunID:  app.runID,
	})

	threads := min(settings.Threads, len(accounts))
	if settings.BatchSize > 0 {
		app.log.Info(fmt.Sprintf("Starting processing in batches of %d for %d accounts", settings.BatchSize, len(accounts)))
	} else {
		app.log.Info(fmt.Sprintf("Starting processing with %d threads for %d accounts", threads, len(accounts)))
	}

	results := make([]model.AccountResult, len(accounts))
	runner := &BatchRunner{
		Concurrency: threads,
		BatchSize:   settings.BatchSize,
		BatchDelay:  settings.BatchDelay.Random,
		Log:         app.log,
	}
	runErr := runner.Run(ctx, len(accounts), func(ctx context.Context, i int) {
		results[i] = w.Run(ctx, i, accounts[i])
	})

	app.printSummary(results, store)
	return runErr
}

func (app *App) loadProxyPool() (*proxy.Pool, error) {
	lines, err := app.cfg.LoadProxies()
	if err != nil {
		return nil, err
	}
	if lines == nil {
		return nil, nil
	}

	pool, errs := proxy.ParsePool(lines)
	for _, err := range errs {
		app.log.Warn(fmt.Sprintf("Skipping proxy %v", err))
	}
	if pool.Len() == 0 {
		return nil, config.ErrNoProxies
	}
	app.log.Info(fmt.Sprintf("Loaded %d proxies", pool.Len()))
	return pool, nil
}

func (app *App) printSummary(results []model.AccountResult, store *runlog.Store) {
	counts := map[model.Outcome]int{}
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		if res.Label == "" {
			continue
		}
		counts[res.Outcome]++
		balance := res.Balance
		if balance == "" {
			balance = "-"
		}
		rows = append(rows, []string{
			res.Label,
			string(res.Outcome),
			fmt.Sprintf("%d", res.TasksClaimed),
			balance,
			res.Elapsed.Round(time.Second).String(),
			truncateForLog(res.Detail, 60),
		})
	}

	line := fmt.Sprintf("Run %s: %d processed, %d success, %d login failed, %d activity failed, %d not started",
		app.runID, len(rows), counts[model.OutcomeSuccess], counts[model.OutcomeLoginFailed],
		counts[model.OutcomeActivityFailed], len(results)-len(rows))
	app.log.JustLog(line)

	if today, err := store.DailySummary(time.Now()); err == nil {
		line += fmt.Sprintf(" | today: %d success, %d login failed, %d activity failed",
			today[model.OutcomeSuccess], today[model.OutcomeLoginFailed], today[model.OutcomeActivityFailed])
	}

	header := []string{"Account", "Outcome", "Tasks", "Balance", "Elapsed", "Detail"}
	if err := ui.PrintSummary(header, rows, line); err != nil {
		app.log.Warn(fmt.Sprintf("Failed to render summary: %v", err))
	}
}

func truncateForLog(value string, length int) string {
	runes := []rune(value)
	if length <= 0 || len(runes) <= length {
		return value
	}
	return string(runes[:length]) + "..."
}
