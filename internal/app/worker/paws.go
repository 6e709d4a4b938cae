package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ohmynofan/paws-community-bot/internal/adapters/captcha"
	adhttp "github.com/ohmynofan/paws-community-bot/internal/adapters/http"
	"github.com/ohmynofan/paws-community-bot/internal/adapters/proxy"
	"github.com/ohmynofan/paws-community-bot/internal/config"
	"github.com/ohmynofan/paws-community-bot/internal/domain/model"
	"github.com/ohmynofan/paws-community-bot/internal/platform/logger"
	"github.com/ohmynofan/paws-community-bot/pkg/utils"
)

const (
	pawsOrigin = "https://paws.community"

	authPath      = "/user/auth"
	userPath      = "/user"
	activityPath  = "/user/activity"
	questListPath = "/quests/list"
	questDonePath = "/quests/completed"
	questClaim    = "/quests/claim"
)

var defaultHeaders = map[string]string{
	"Accept-Language":    "en-US,en;q=0.8",
	"Origin":             pawsOrigin,
	"Referer":            pawsOrigin + "/",
	"Priority":           "u=1, i",
	"Sec-Ch-Ua":          `"Not(A:Brand";v="99", "Brave";v="133", "Chromium";v="133"`,
	"Sec-Ch-Ua-Mobile":   "?0",
	"Sec-Ch-Ua-Platform": `"Windows"`,
	"Sec-Fetch-Dest":     "empty",
	"Sec-Fetch-Mode":     "cors",
	"Sec-Fetch-Site":     "same-site",
	"Sec-Gpc":            "1",
	"Secure-Check":       "paws",
}

var (
	ErrNoToken          = errors.New("auth response carried no token")
	ErrActivityRejected = errors.New("activity check rejected")
	ErrCompleteFailed   = errors.New("quest completion failed")
	ErrClaimFailed      = errors.New("quest claim failed")
)

// PawsSession is one account's view of the remote API: a single HTTP session
// bound to one proxy, carrying at most one bearer token.
type PawsSession struct {
	cred     model.AccountCredential
	session  *model.Session
	api      *adhttp.APIClient
	client   *adhttp.RetryingClient
	solver   captcha.Solver
	settings config.Settings
	baseURL  string
	ipURL    string
	log      *logger.ClassLogger
	profile  *gjson.Result
}

type SessionOptions struct {
	BaseURL    string
	IPCheckURL string
	Settings   config.Settings
	Pool       *proxy.Pool
	Solver     captcha.Solver
	Sleep      adhttp.Sleeper
	Log        *logger.ClassLogger
}

func NewPawsSession(cred model.AccountCredential, session *model.Session, opts SessionOptions) (*PawsSession, error) {
	var initial proxy.Endpoint
	if ep, ok := opts.Pool.Select(nil); ok {
		initial = ep
	}

	api, err := adhttp.NewAPIClient(adhttp.ClientOptions{
		Proxy:   initial,
		Headers: cloneDefaultHeaders(),
		Timeout: opts.Settings.RequestTimeout(),
	}, session)
	if err != nil {
		return nil, fmt.Errorf("could not initialize API client: %w", err)
	}

	client := adhttp.NewRetryingClient(api, opts.Pool)
	if opts.Sleep != nil {
		client.WithSleeper(opts.Sleep)
	}

	log := opts.Log
	if log == nil {
		log = logger.NewLogger(&PawsSession{}, session)
	}

	return &PawsSession{
		cred:     cred,
		session:  session,
		api:      api,
		client:   client,
		solver:   opts.Solver,
		settings: opts.Settings,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		ipURL:    opts.IPCheckURL,
		log:      log,
	}, nil
}

func cloneDefaultHeaders() map[string]string {
	headers := make(map[string]string, len(defaultHeaders))
	for k, v := range defaultHeaders {
		headers[k] = v
	}
	return headers
}

func (s *PawsSession) Close() { s.api.Close() }

func (s *PawsSession) policy(attempts int) adhttp.RetryPolicy {
	r := s.settings.Retry
	return adhttp.RetryPolicy{
		MaxAttempts:         attempts,
		BaseDelay:           utils.Seconds(r.BaseDelay),
		JitterMin:           utils.Seconds(r.Jitter.Min),
		JitterMax:           utils.Seconds(r.Jitter.Max),
		RateLimitMultiplier: r.RateLimitMultiplier,
	}
}

func (s *PawsSession) url(path string) string { return s.baseURL + path }

func (s *PawsSession) syncProxy() {
	if ep := s.api.Proxy(); !ep.IsZero() {
		s.session.Proxy = ep.String()
	}
}

// CheckIP resolves the egress address through the bound proxy. Connection
// failures rotate to another proxy; a final failure leaves the IP unknown.
func (s *PawsSession) CheckIP(ctx context.Context) string {
	defer s.syncProxy()
	if s.ipURL == "" {
		return s.session.IP()
	}

	res, err := s.client.Do(ctx, s.policy(s.settings.Retry.TaskAttempts), s.ipURL, nil, func(res *adhttp.Response) error {
		if !gjson.GetBytes(res.Body, "ip").Exists() {
			return errors.New("no ip in response")
		}
		return nil
	})
	if err != nil {
		s.log.Warn(fmt.Sprintf("Could not resolve egress IP: %v", err))
		return s.session.IP()
	}
	s.session.EgressIP = gjson.GetBytes(res.Body, "ip").String()
	return s.session.EgressIP
}

// UseToken installs a cached token without validating it.
func (s *PawsSession) UseToken(token string) {
	s.api.SetToken(token)
	s.profile = nil
}

func (s *PawsSession) ClearToken() {
	s.api.SetToken("")
	s.profile = nil
}

type authRequest struct {
	Data         string `json:"data"`
	ReferralCode string `json:"referralCode,omitempty"`
}

// Authenticate exchanges the account payload for a bearer token and installs
// it on the session.
func (s *PawsSession) Authenticate(ctx context.Context) (string, error) {
	s.session.LoginStatus = statusInProgress
	res, err := s.client.Do(ctx, s.policy(s.settings.Retry.AuthAttempts), s.url(authPath), &adhttp.FetchOptions{
		Method: http.MethodPost,
		Body:   authRequest{Data: s.cred.AuthPayload, ReferralCode: s.settings.ReferralCode},
	}, func(res *adhttp.Response) error {
		if strings.TrimSpace(gjson.GetBytes(res.Body, "data.0").String()) == "" {
			return ErrNoToken
		}
		return nil
	})
	if err != nil {
		s.session.LoginStatus = statusFailed
		return "", credentialRejected(err)
	}

	token := strings.TrimSpace(gjson.GetBytes(res.Body, "data.0").String())
	s.api.SetToken(token)
	s.profile = nil
	s.session.LoginStatus = statusDone
	return token, nil
}

// credentialRejected tags a 4xx auth answer naming the payload as invalid
// as unauthorized. Only the auth path reads the body this way.
func credentialRejected(err error) error {
	var re *adhttp.RequestError
	if !errors.As(err, &re) || re.StatusCode < 400 || re.StatusCode >= 500 || re.Kind == adhttp.KindRateLimited {
		return err
	}
	lower := strings.ToLower(string(re.Body))
	if strings.Contains(lower, "invalid") || strings.Contains(lower, "unauthorized") {
		re.Kind = adhttp.KindUnauthorized
	}
	return err
}

// ValidateToken reports whether the installed token still reads the profile.
// Only a 200 counts; any error or other status means the token is stale.
func (s *PawsSession) ValidateToken(ctx context.Context) bool {
	if s.api.Token() == "" {
		return false
	}
	profile, err := s.fetchUser(ctx)
	if err != nil {
		s.log.JustLog(fmt.Sprintf("Token validation failed: %v", err))
		return false
	}
	s.profile = profile
	s.session.LoginStatus = statusDone
	return true
}

func (s *PawsSession) fetchUser(ctx context.Context) (*gjson.Result, error) {
	res, err := s.client.Do(ctx, s.policy(s.settings.Retry.TaskAttempts), s.url(userPath), nil, func(res *adhttp.Response) error {
		if res.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", res.StatusCode)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	profile := gjson.ParseBytes(res.Body)
	return &profile, nil
}

// CheckAccountStatus reads the profile and records the game balance.
func (s *PawsSession) CheckAccountStatus(ctx context.Context) error {
	profile := s.profile
	if profile == nil {
		var err error
		if profile, err = s.fetchUser(ctx); err != nil {
			return fmt.Errorf("failed to get account status: %w", err)
		}
		s.profile = profile
	}

	if balance := profile.Get("data.gameData.balance"); balance.Exists() {
		s.session.Balance = balance.String()
		s.log.Info(fmt.Sprintf("Balance: %s", s.session.Balance))
	}
	return nil
}

type activityRequest struct {
	RecaptchaToken string `json:"recaptchaToken"`
}

// CompleteActivityCheck solves one CAPTCHA and submits it. The submission is
// not retried here since a token is single-use; callers re-run the whole cycle.
func (s *PawsSession) CompleteActivityCheck(ctx context.Context) error {
	if s.solver == nil {
		return captcha.ErrNoSolver
	}
	s.session.ActivityStatus = statusInProgress

	sol, err := s.solver.Solve(ctx, captcha.PawsChallenge(s.api.UserAgent, s.api.Proxy()))
	if err != nil {
		s.session.ActivityStatus = statusFailed
		return fmt.Errorf("failed to get captcha code: %w", err)
	}
	s.log.Info(fmt.Sprintf("%s balance %.3f, captcha solved after %d polls", s.solver.Name(), sol.Balance, sol.Polls))

	res, err := s.client.Do(ctx, s.policy(1), s.url(activityPath), &adhttp.FetchOptions{
		Method: http.MethodPost,
		Body:   activityRequest{RecaptchaToken: sol.Token},
	}, nil)
	if err != nil {
		s.session.ActivityStatus = statusFailed
		return err
	}

	if err := s.acceptActivity(res.Body); err != nil {
		s.session.ActivityStatus = statusFailed
		return err
	}
	s.session.ActivityStatus = statusDone
	return nil
}

// acceptActivity treats success=true as done whether or not data reports a
// fresh completion, unless strict_activity also requires data=true.
func (s *PawsSession) acceptActivity(body []byte) error {
	result := gjson.ParseBytes(body)
	if !result.Get("success").Bool() {
		return fmt.Errorf("%w: %s", ErrActivityRejected, strings.TrimSpace(string(body)))
	}
	if !result.Get("data").Bool() {
		if s.settings.StrictActivity {
			return fmt.Errorf("%w: data=false", ErrActivityRejected)
		}
		s.log.Info("Activity check already completed")
	}
	return nil
}

func (s *PawsSession) ListTasks(ctx context.Context) ([]model.Quest, error) {
	res, err := s.client.Do(ctx, s.policy(s.settings.Retry.TaskAttempts), s.url(questListPath), nil, func(res *adhttp.Response) error {
		if !gjson.GetBytes(res.Body, "data").IsArray() {
			return errors.New("quest list is not an array")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tasks: %w", err)
	}

	var quests []model.Quest
	if err := json.Unmarshal([]byte(gjson.GetBytes(res.Body, "data").Raw), &quests); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}
	return quests, nil
}

type questRequest struct {
	QuestID string `json:"questId"`
}

// CompleteAndClaimTask runs both phases; the task counts only when both
// return success.
func (s *PawsSession) CompleteAndClaimTask(ctx context.Context, questID string) error {
	opts := &adhttp.FetchOptions{Method: http.MethodPost, Body: questRequest{QuestID: questID}}
	policy := s.policy(s.settings.Retry.TaskAttempts)

	if _, err := s.client.Do(ctx, policy, s.url(questDonePath), opts, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrCompleteFailed, err)
	}
	if _, err := s.client.Do(ctx, policy, s.url(questClaim), opts, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrClaimFailed, err)
	}
	return nil
}
