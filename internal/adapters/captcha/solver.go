package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ohmynofan/paws-community-bot/internal/adapters/proxy"
	"github.com/ohmynofan/paws-community-bot/pkg/utils"
)

const (
	ProviderTwoCaptcha = "2captcha"
	ProviderCapSolver  = "capsolver"

	defaultPollInterval = 2 * time.Second
	defaultPollAttempts = 30
	defaultMinBalance   = 0.1
	requestTimeout      = 30 * time.Second
)

// Challenge describes one reCAPTCHA to solve. A non-zero Proxy is forwarded
// to the provider so the token is minted from the account's egress address.
type Challenge struct {
	SiteKey    string
	PageURL    string
	UserAgent  string
	Action     string
	Enterprise bool
	Invisible  bool
	Proxy      proxy.Endpoint
}

func PawsChallenge(userAgent string, ep proxy.Endpoint) Challenge {
	return Challenge{
		SiteKey:    PawsSiteKey,
		PageURL:    PawsPageURL,
		UserAgent:  userAgent,
		Action:     PawsAction,
		Enterprise: true,
		Proxy:      ep,
	}
}

func (c Challenge) validate() error {
	if strings.TrimSpace(c.SiteKey) == "" {
		return fmt.Errorf("site key required")
	}
	if strings.TrimSpace(c.PageURL) == "" {
		return fmt.Errorf("page url required")
	}
	return nil
}

type Solution struct {
	Token   string
	TaskID  string
	Balance float64
	Polls   int
}

type Solver interface {
	Name() string
	Balance(ctx context.Context) (float64, error)
	Solve(ctx context.Context, ch Challenge) (*Solution, error)
}

type Options struct {
	MinBalance   float64
	PollInterval time.Duration
	PollAttempts int
	// BaseURL and BalanceURL override the provider endpoints.
	BaseURL    string
	BalanceURL string
	Sleep      func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.MinBalance <= 0 {
		o.MinBalance = defaultMinBalance
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.PollAttempts <= 0 {
		o.PollAttempts = defaultPollAttempts
	}
	if o.Sleep == nil {
		o.Sleep = utils.SleepContext
	}
	return o
}

// New returns the solver for provider. An empty provider picks whichever key
// is present, 2Captcha first.
func New(provider, twoCaptchaKey, capSolverKey string, opts Options) (Solver, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	twoCaptchaKey = strings.TrimSpace(twoCaptchaKey)
	capSolverKey = strings.TrimSpace(capSolverKey)

	switch provider {
	case ProviderTwoCaptcha:
		if twoCaptchaKey == "" {
			return nil, fmt.Errorf("%w: 2captcha api key not provided", ErrNoSolver)
		}
		return NewTwoCaptcha(twoCaptchaKey, opts), nil
	case ProviderCapSolver:
		if capSolverKey == "" {
			return nil, fmt.Errorf("%w: capsolver api key not provided", ErrNoSolver)
		}
		return NewCapSolver(capSolverKey, opts), nil
	case "":
		if twoCaptchaKey != "" {
			return NewTwoCaptcha(twoCaptchaKey, opts), nil
		}
		if capSolverKey != "" {
			return NewCapSolver(capSolverKey, opts), nil
		}
		return nil, ErrNoSolver
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrNoSolver, provider)
	}
}

func newRestyClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(requestTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

func postJSON(ctx context.Context, client *resty.Client, provider, path string, payload, out interface{}) ([]byte, error) {
	res, err := client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s request error: %w", provider, err)
		}
		return nil, fmt.Errorf("%s request error: %w: %w", provider, ErrProviderBusy, err)
	}
	if res.StatusCode() >= 500 || res.StatusCode() == 429 {
		return nil, fmt.Errorf("%s status %s: %w", provider, res.Status(), ErrProviderBusy)
	}
	if res.IsError() {
		return nil, fmt.Errorf("%s status %s body=%s", provider, res.Status(), strings.TrimSpace(res.String()))
	}
	if out != nil {
		if err := json.Unmarshal(res.Body(), out); err != nil {
			return nil, fmt.Errorf("%s decode error: %w", provider, err)
		}
	}
	return res.Body(), nil
}

func checkBalance(balance, min float64) error {
	if balance <= 0 {
		return ErrZeroBalance
	}
	if balance < min {
		return fmt.Errorf("%w: %.4f < %.4f", ErrLowBalance, balance, min)
	}
	return nil
}

type pollFunc func(ctx context.Context) (token string, ready bool, err error)

// poll waits interval before every check and gives up after attempts checks.
// A busy or unreachable provider counts as not ready since the task is
// already paid for.
func poll(ctx context.Context, opts Options, check pollFunc) (string, int, error) {
	var transient error
	for i := 1; i <= opts.PollAttempts; i++ {
		if err := opts.Sleep(ctx, opts.PollInterval); err != nil {
			return "", i - 1, err
		}
		token, ready, err := check(ctx)
		if err != nil {
			if errors.Is(err, ErrProviderBusy) && ctx.Err() == nil {
				transient = err
				continue
			}
			return "", i, err
		}
		if ready {
			return token, i, nil
		}
	}
	if transient != nil {
		return "", opts.PollAttempts, fmt.Errorf("%w (%d x %s), last error: %w", ErrPollExhausted, opts.PollAttempts, opts.PollInterval, transient)
	}
	return "", opts.PollAttempts, fmt.Errorf("%w (%d x %s)", ErrPollExhausted, opts.PollAttempts, opts.PollInterval)
}

// providerProxyType maps our schemes to the names solver APIs accept.
func providerProxyType(scheme proxy.Scheme) string {
	switch scheme {
	case proxy.SchemeSOCKS5:
		return "socks5"
	case proxy.SchemeHTTPS:
		return "https"
	default:
		return "http"
	}
}
