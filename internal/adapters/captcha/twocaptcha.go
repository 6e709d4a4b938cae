package captcha

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/ohmynofan/paws-community-bot/pkg/utils"
)

const (
	twoCaptchaBaseURL    = "https://api.2captcha.com"
	twoCaptchaBalanceURL = "https://2captcha.com/res.php"
	createTaskPath       = "/createTask"
	getResultPath        = "/getTaskResult"
	recaptchaType        = "RecaptchaV2Task"
	recaptchaEntType     = "RecaptchaV2EnterpriseTask"
	proxylessSuffix      = "Proxyless"
	twoCaptchaSoftID     = 4801
)

type TwoCaptcha struct {
	client     *resty.Client
	apiKey     string
	balanceURL string
	opts       Options
}

func NewTwoCaptcha(apiKey string, opts Options) *TwoCaptcha {
	base := opts.BaseURL
	if base == "" {
		base = twoCaptchaBaseURL
	}
	balanceURL := opts.BalanceURL
	if balanceURL == "" {
		balanceURL = twoCaptchaBalanceURL
	}
	return &TwoCaptcha{
		client:     newRestyClient(base),
		apiKey:     strings.TrimSpace(apiKey),
		balanceURL: balanceURL,
		opts:       opts.withDefaults(),
	}
}

func (tc *TwoCaptcha) Name() string { return ProviderTwoCaptcha }

type createTaskRequest struct {
	ClientKey string      `json:"clientKey"`
	SoftID    int         `json:"softId,omitempty"`
	Task      interface{} `json:"task"`
}

type recaptchaTask struct {
	Type          string `json:"type"`
	WebsiteURL    string `json:"websiteURL"`
	WebsiteKey    string `json:"websiteKey"`
	UserAgent     string `json:"userAgent,omitempty"`
	IsInvisible   bool   `json:"isInvisible,omitempty"`
	ProxyType     string `json:"proxyType,omitempty"`
	ProxyAddress  string `json:"proxyAddress,omitempty"`
	ProxyPort     int    `json:"proxyPort,omitempty"`
	ProxyLogin    string `json:"proxyLogin,omitempty"`
	ProxyPassword string `json:"proxyPassword,omitempty"`
}

type resultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

type balanceQuery struct {
	Key    string `url:"key"`
	Action string `url:"action"`
	JSON   int    `url:"json"`
}

// Balance uses the legacy res.php endpoint, which answers
// {"status":1,"request":"1.2345"}.
func (tc *TwoCaptcha) Balance(ctx context.Context) (float64, error) {
	if tc.apiKey == "" {
		return 0, errors.New("2captcha api key not provided")
	}
	params, err := utils.EncodeURLParams(balanceQuery{Key: tc.apiKey, Action: "getbalance", JSON: 1})
	if err != nil {
		return 0, err
	}

	res, err := tc.client.R().
		SetContext(ctx).
		Get(tc.balanceURL + "?" + params)
	if err != nil {
		return 0, fmt.Errorf("2captcha balance request error: %w", err)
	}
	if res.IsError() {
		return 0, fmt.Errorf("2captcha balance status %s", res.Status())
	}

	body := gjson.ParseBytes(res.Body())
	if body.Get("status").Int() != 1 {
		code := body.Get("request").String()
		if strings.EqualFold(code, TwoErrZeroBalance) {
			return 0, nil
		}
		return 0, fmt.Errorf("2captcha balance error: %s", code)
	}
	balance, err := strconv.ParseFloat(body.Get("request").String(), 64)
	if err != nil {
		return 0, fmt.Errorf("2captcha balance decode error: %w", err)
	}
	return balance, nil
}

func (tc *TwoCaptcha) Solve(ctx context.Context, ch Challenge) (*Solution, error) {
	if tc.apiKey == "" {
		return nil, errors.New("2captcha api key not provided")
	}
	if err := ch.validate(); err != nil {
		return nil, fmt.Errorf("2captcha %w", err)
	}

	balance, err := tc.Balance(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkBalance(balance, tc.opts.MinBalance); err != nil {
		return nil, err
	}

	task := recaptchaTask{
		Type:        recaptchaType,
		WebsiteURL:  ch.PageURL,
		WebsiteKey:  ch.SiteKey,
		UserAgent:   ch.UserAgent,
		IsInvisible: ch.Invisible,
	}
	if ch.Enterprise {
		task.Type = recaptchaEntType
	}
	if ch.Proxy.IsZero() {
		task.Type += proxylessSuffix
	} else {
		task.ProxyType = providerProxyType(ch.Proxy.Scheme)
		task.ProxyAddress = ch.Proxy.Host
		task.ProxyPort = ch.Proxy.Port
		task.ProxyLogin = ch.Proxy.Username
		task.ProxyPassword = ch.Proxy.Password
	}

	payload := createTaskRequest{ClientKey: tc.apiKey, SoftID: twoCaptchaSoftID, Task: task}
	body, err := postJSON(ctx, tc.client, ProviderTwoCaptcha, createTaskPath, payload, nil)
	if err != nil {
		return nil, err
	}
	created := gjson.ParseBytes(body)
	if created.Get("errorId").Int() != 0 {
		return nil, tc.mapError("createTask", created.Get("errorCode").String(), created.Get("errorDescription").String())
	}
	taskID := created.Get("taskId").Int()
	if taskID == 0 {
		return nil, errors.New("2captcha returned empty task id")
	}

	token, polls, err := poll(ctx, tc.opts, func(ctx context.Context) (string, bool, error) {
		body, err := postJSON(ctx, tc.client, ProviderTwoCaptcha, getResultPath,
			resultRequest{ClientKey: tc.apiKey, TaskID: taskID}, nil)
		if err != nil {
			return "", false, err
		}
		result := gjson.ParseBytes(body)
		if result.Get("errorId").Int() != 0 {
			return "", false, tc.mapError("getTaskResult", result.Get("errorCode").String(), result.Get("errorDescription").String())
		}
		switch strings.ToLower(result.Get("status").String()) {
		case statusProcessing, statusIdle:
			return "", false, nil
		case statusReady:
			token := result.Get("solution.gRecaptchaResponse").String()
			if token == "" {
				token = result.Get("solution.token").String()
			}
			if token == "" {
				return "", false, ErrEmptyToken
			}
			return token, true, nil
		default:
			return "", false, fmt.Errorf("unexpected 2captcha status: %s", result.Get("status").String())
		}
	})
	if err != nil {
		return nil, err
	}

	return &Solution{
		Token:   token,
		TaskID:  strconv.FormatInt(taskID, 10),
		Balance: balance,
		Polls:   polls,
	}, nil
}

func (tc *TwoCaptcha) mapError(op, code, description string) error {
	switch strings.ToUpper(code) {
	case TwoErrZeroBalance:
		return ErrZeroBalance
	case TwoErrCaptchaUnsolvable:
		return fmt.Errorf("%w: %s", ErrUnsolvable, description)
	case TwoErrWrongUserKey, TwoErrKeyDoesNotExist:
		return fmt.Errorf("%w: %s", ErrInvalidKey, code)
	case TwoErrNoSlots:
		return fmt.Errorf("%w: %s", ErrProviderBusy, code)
	case TwoErrRecaptchaInvalid:
		return fmt.Errorf("%w: %s", ErrTaskRejected, description)
	}
	return fmt.Errorf("2captcha %s error: %s - %s", op, code, description)
}
