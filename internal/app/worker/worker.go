package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/ohmynofan/paws-community-bot/internal/adapters/captcha"
	adhttp "github.com/ohmynofan/paws-community-bot/internal/adapters/http"
	"github.com/ohmynofan/paws-community-bot/internal/adapters/proxy"
	"github.com/ohmynofan/paws-community-bot/internal/config"
	"github.com/ohmynofan/paws-community-bot/internal/domain/model"
	"github.com/ohmynofan/paws-community-bot/internal/platform/logger"
	"github.com/ohmynofan/paws-community-bot/internal/storage/tokencache"
	"github.com/ohmynofan/paws-community-bot/pkg/utils"
)

const (
	statusInProgress = "IN PROGRESS"
	statusDone       = "DONE"
	statusFailed     = "FAILED"
	statusSkipped    = "SKIPPED"
)

// Recorder persists terminal outcomes.
type Recorder interface {
	Record(runID string, day time.Time, res model.AccountResult) error
}

type Deps struct {
	Config config.Config
	Pool   *proxy.Pool
	Tokens tokencache.Store
	Solver captcha.Solver
	Runlog Recorder
	RunID  string
	Sleep  adhttp.Sleeper
}

// Worker drives one account at a time through login, activity check and
// task sweep. It is safe for concurrent use by several accounts.
type Worker struct {
	deps Deps
	// solverDown is set once the solver reports no usable balance; later
	// accounts skip solving instead of paying for a doomed task.
	solverDown atomic.Bool
}

func New(deps Deps) *Worker {
	if deps.Sleep == nil {
		deps.Sleep = utils.SleepContext
	}
	return &Worker{deps: deps}
}

func (w *Worker) settings() config.Settings { return w.deps.Config.Settings }

// Run never panics and never returns an error: every failure ends up in the
// returned outcome.
func (w *Worker) Run(ctx context.Context, index int, cred model.AccountCredential) (res model.AccountResult) {
	start := time.Now()
	session := model.NewSession(cred.Label, index)
	log := logger.NewNamed(fmt.Sprintf("Operation - %s", session.DisplayLabel()), session).WithRun(w.deps.RunID)
	res = model.AccountResult{Label: cred.Label, Outcome: model.OutcomeLoginFailed}

	defer func() {
		if r := recover(); r != nil {
			log.Error(fmt.Sprintf("Critical error: %v", r))
			log.JustLog(string(debug.Stack()))
			res.Detail = fmt.Sprintf("panic: %v", r)
		}
		res.Elapsed = time.Since(start)
		res.TasksClaimed = session.TasksClaimed
		res.Balance = session.Balance
		w.record(log, res)
	}()

	ctx, cancel := context.WithTimeout(ctx, w.settings().AccountTimeout())
	defer cancel()

	s, err := NewPawsSession(cred, session, SessionOptions{
		BaseURL:    w.deps.Config.APIBaseURL,
		IPCheckURL: w.deps.Config.IPCheckURL,
		Settings:   w.settings(),
		Pool:       w.deps.Pool,
		Solver:     w.deps.Solver,
		Sleep:      w.deps.Sleep,
		Log:        log,
	})
	if err != nil {
		log.Error(err.Error())
		res.Detail = err.Error()
		return res
	}
	defer s.Close()

	s.CheckIP(ctx)
	if session.Proxy != "" {
		log.Info(fmt.Sprintf("Using proxy %s", session.Proxy))
	}

	if err := w.ensureToken(ctx, s, cred, log); err != nil {
		log.Error(fmt.Sprintf("Login failed: %v", err))
		res.Detail = err.Error()
		return res
	}

	res.Outcome = model.OutcomeActivityFailed

	if err := s.CheckAccountStatus(ctx); err != nil {
		log.Warn(err.Error())
	}

	if err := w.activityCheck(ctx, s, log); err != nil {
		log.Error(fmt.Sprintf("Activity check failed: %v", err))
		res.Detail = err.Error()
		session.TaskStatus = statusSkipped
		return res
	}
	log.Success("Activity check completed")
	res.Outcome = model.OutcomeSuccess

	if w.settings().Tasks {
		w.sweepTasks(ctx, s, session, log)
	} else {
		session.TaskStatus = statusSkipped
	}
	return res
}

// ensureToken reuses a cached token when the profile endpoint still accepts
// it. A rejected token is evicted before authenticating again.
func (w *Worker) ensureToken(ctx context.Context, s *PawsSession, cred model.AccountCredential, log *logger.ClassLogger) error {
	if cached, ok := w.deps.Tokens.Get(cred.Label); ok {
		s.UseToken(cached)
		if s.ValidateToken(ctx) {
			log.Info("Using cached token")
			return nil
		}
		log.Warn("Cached token is no longer valid, re-authenticating")
		s.ClearToken()
		if err := w.deps.Tokens.Evict(cred.Label); err != nil {
			log.Warn(fmt.Sprintf("Failed to evict token: %v", err))
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	token, err := s.Authenticate(ctx)
	if err != nil {
		switch {
		case adhttp.IsKind(err, adhttp.KindUnauthorized):
			return fmt.Errorf("invalid credentials: %w", err)
		case adhttp.IsKind(err, adhttp.KindRateLimited):
			return fmt.Errorf("rate limited: %w", err)
		}
		return err
	}
	log.Success("Authentication successful")

	if err := w.deps.Tokens.Set(cred.Label, token); err != nil {
		log.Warn(fmt.Sprintf("Failed to save token: %v", err))
	}
	return nil
}

// activityCheck re-solves the CAPTCHA from scratch on every attempt.
func (w *Worker) activityCheck(ctx context.Context, s *PawsSession, log *logger.ClassLogger) error {
	attempts := w.settings().Retry.ActivityAttempts
	if attempts < 1 {
		attempts = 1
	}
	policy := s.policy(attempts)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if w.solverDown.Load() {
			return fmt.Errorf("solver disabled after balance failure: %w", captcha.ErrLowBalance)
		}
		log.Info(fmt.Sprintf("Solving captcha and completing activity check (attempt %d/%d)", attempt, attempts))

		err := s.CompleteActivityCheck(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, captcha.ErrZeroBalance) || errors.Is(err, captcha.ErrLowBalance) || errors.Is(err, captcha.ErrNoSolver) ||
			errors.Is(err, captcha.ErrInvalidKey) {
			if w.solverDown.CompareAndSwap(false, true) {
				log.Error(fmt.Sprintf("Captcha solver unusable, skipping activity checks for remaining accounts: %v", err))
			}
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		if status := adhttp.StatusOf(err); status == http.StatusUnauthorized || status == http.StatusForbidden {
			return err
		}
		if attempt == attempts {
			break
		}

		wait := policy.Backoff(attempt, adhttp.KindOf(err))
		log.Warn(fmt.Sprintf("Activity attempt %d failed: %v. Retrying in %s", attempt, err, wait.Round(time.Millisecond)))
		if err := w.deps.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", adhttp.ErrAttemptsExhausted, attempts, lastErr)
}

// sweepTasks completes and claims every open quest that is not blacklisted.
// A failing quest is logged and the sweep moves on.
func (w *Worker) sweepTasks(ctx context.Context, s *PawsSession, session *model.Session, log *logger.ClassLogger) {
	session.TaskStatus = statusInProgress
	quests, err := s.ListTasks(ctx)
	if err != nil {
		log.Error(err.Error())
		session.TaskStatus = statusFailed
		return
	}

	settings := w.settings()
	for _, quest := range quests {
		if settings.IsBlacklisted(quest.ID) {
			log.Info(fmt.Sprintf("Skipping blacklisted task: %s", quest.Title))
			continue
		}
		if quest.Claimed() {
			continue
		}
		if ctx.Err() != nil {
			log.Warn("Account deadline reached, stopping task sweep")
			break
		}

		if err := s.CompleteAndClaimTask(ctx, quest.ID); err != nil {
			log.Error(fmt.Sprintf("Task %s: %v", quest.Title, err))
		} else {
			session.TasksClaimed++
			log.Success(fmt.Sprintf("Task completed and claimed: %s", quest.Title))
		}

		if err := log.Wait(ctx, "Waiting before next task", settings.Delay.Random(), w.deps.Sleep); err != nil {
			break
		}
	}

	if session.TasksClaimed > 0 {
		log.Success(fmt.Sprintf("Completed %d tasks", session.TasksClaimed))
	}
	session.TaskStatus = statusDone
}

func (w *Worker) record(log *logger.ClassLogger, res model.AccountResult) {
	if w.deps.Runlog == nil {
		return
	}
	if err := w.deps.Runlog.Record(w.deps.RunID, time.Now(), res); err != nil {
		log.Warn(fmt.Sprintf("Failed to record outcome: %v", err))
	}
}
