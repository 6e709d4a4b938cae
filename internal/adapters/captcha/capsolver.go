package captcha

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

const (
	capsolverBaseURL       = "https://api.capsolver.com"
	capsolverBalancePath   = "/getBalance"
	capsolverRecaptchaType = "ReCaptchaV2Task"
	capsolverEntType       = "ReCaptchaV2EnterpriseTask"
	capsolverProxyless     = "ProxyLess"
)

type CapSolver struct {
	client *resty.Client
	apiKey string
	opts   Options
}

func NewCapSolver(apiKey string, opts Options) *CapSolver {
	base := opts.BaseURL
	if base == "" {
		base = capsolverBaseURL
	}
	return &CapSolver{
		client: newRestyClient(base),
		apiKey: strings.TrimSpace(apiKey),
		opts:   opts.withDefaults(),
	}
}

func (c *CapSolver) Name() string { return ProviderCapSolver }

type capKeyReq struct {
	ClientKey string `json:"clientKey"`
}

type capCreateTaskReq struct {
	ClientKey string      `json:"clientKey"`
	Task      interface{} `json:"task"`
}

type capRecaptchaTask struct {
	Type          string `json:"type"`
	WebsiteURL    string `json:"websiteURL"`
	WebsiteKey    string `json:"websiteKey"`
	PageAction    string `json:"pageAction,omitempty"`
	UserAgent     string `json:"userAgent,omitempty"`
	IsInvisible   bool   `json:"isInvisible,omitempty"`
	ProxyType     string `json:"proxyType,omitempty"`
	ProxyAddress  string `json:"proxyAddress,omitempty"`
	ProxyPort     int    `json:"proxyPort,omitempty"`
	ProxyLogin    string `json:"proxyLogin,omitempty"`
	ProxyPassword string `json:"proxyPassword,omitempty"`
}

type capResultReq struct {
	ClientKey string `json:"clientKey"`
	TaskID    string `json:"taskId"`
}

func (c *CapSolver) Balance(ctx context.Context) (float64, error) {
	if c.apiKey == "" {
		return 0, errors.New("capsolver api key not provided")
	}
	body, err := postJSON(ctx, c.client, ProviderCapSolver, capsolverBalancePath, capKeyReq{ClientKey: c.apiKey}, nil)
	if err != nil {
		return 0, err
	}
	res := gjson.ParseBytes(body)
	if res.Get("errorId").Int() != 0 {
		code := res.Get("errorCode").String()
		if strings.EqualFold(code, CapErrZeroBalance) {
			return 0, nil
		}
		return 0, fmt.Errorf("capsolver getBalance error: %s", code)
	}
	return res.Get("balance").Float(), nil
}

func (c *CapSolver) Solve(ctx context.Context, ch Challenge) (*Solution, error) {
	if c.apiKey == "" {
		return nil, errors.New("capsolver api key not provided")
	}
	if err := ch.validate(); err != nil {
		return nil, fmt.Errorf("capsolver %w", err)
	}

	balance, err := c.Balance(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkBalance(balance, c.opts.MinBalance); err != nil {
		return nil, err
	}

	task := capRecaptchaTask{
		Type:        capsolverRecaptchaType,
		WebsiteURL:  ch.PageURL,
		WebsiteKey:  ch.SiteKey,
		PageAction:  ch.Action,
		UserAgent:   ch.UserAgent,
		IsInvisible: ch.Invisible,
	}
	if ch.Enterprise {
		task.Type = capsolverEntType
	}
	if ch.Proxy.IsZero() {
		task.Type += capsolverProxyless
	} else {
		task.ProxyType = providerProxyType(ch.Proxy.Scheme)
		task.ProxyAddress = ch.Proxy.Host
		task.ProxyPort = ch.Proxy.Port
		task.ProxyLogin = ch.Proxy.Username
		task.ProxyPassword = ch.Proxy.Password
	}

	body, err := postJSON(ctx, c.client, ProviderCapSolver, createTaskPath, capCreateTaskReq{ClientKey: c.apiKey, Task: task}, nil)
	if err != nil {
		return nil, err
	}
	created := gjson.ParseBytes(body)
	if created.Get("errorId").Int() != 0 {
		return nil, c.mapError("createTask", created.Get("errorCode").String(), created.Get("errorDescription").String())
	}
	taskID := strings.TrimSpace(created.Get("taskId").String())
	if taskID == "" {
		return nil, errors.New("capsolver returned empty task id")
	}

	token, polls, err := poll(ctx, c.opts, func(ctx context.Context) (string, bool, error) {
		body, err := postJSON(ctx, c.client, ProviderCapSolver, getResultPath, capResultReq{ClientKey: c.apiKey, TaskID: taskID}, nil)
		if err != nil {
			return "", false, err
		}
		result := gjson.ParseBytes(body)
		if result.Get("errorId").Int() != 0 {
			return "", false, c.mapError("getTaskResult", result.Get("errorCode").String(), result.Get("errorDescription").String())
		}
		switch strings.ToLower(strings.TrimSpace(result.Get("status").String())) {
		case statusProcessing, statusIdle, "queued":
			return "", false, nil
		case statusReady, "completed":
			token := result.Get("solution.gRecaptchaResponse").String()
			if token == "" {
				token = result.Get("solution.token").String()
			}
			if token == "" {
				return "", false, ErrEmptyToken
			}
			return token, true, nil
		case statusFailed:
			return "", false, fmt.Errorf("%w: %s", ErrUnsolvable, result.Get("errorDescription").String())
		default:
			return "", false, fmt.Errorf("unexpected capsolver status: %s", result.Get("status").String())
		}
	})
	if err != nil {
		return nil, err
	}
	return &Solution{Token: token, TaskID: taskID, Balance: balance, Polls: polls}, nil
}

func (c *CapSolver) mapError(op, code, description string) error {
	switch strings.ToUpper(code) {
	case CapErrZeroBalance:
		return ErrZeroBalance
	case CapErrCaptchaUnsolvable, CapErrTaskNotFound:
		return fmt.Errorf("%w: %s", ErrUnsolvable, description)
	case CapErrKeyDoesNotExist:
		return fmt.Errorf("%w: %s", ErrInvalidKey, code)
	case CapErrMaxRequestsPerMinute:
		return fmt.Errorf("%w: %s", ErrProviderBusy, code)
	case CapErrInvalidTaskData:
		return fmt.Errorf("%w: %s", ErrTaskRejected, description)
	}
	return fmt.Errorf("capsolver %s error: %s - %s", op, code, description)
}
