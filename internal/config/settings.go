package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/ohmynofan/paws-community-bot/pkg/utils"
)

// Range is an inclusive bound in seconds.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r Range) Random() time.Duration {
	return utils.RandomDuration(utils.Seconds(r.Min), utils.Seconds(r.Max))
}

type RetrySettings struct {
	AuthAttempts        int     `json:"auth_attempts"`
	TaskAttempts        int     `json:"task_attempts"`
	ActivityAttempts    int     `json:"activity_attempts"`
	BaseDelay           float64 `json:"base_delay"`
	Jitter              Range   `json:"jitter"`
	RateLimitMultiplier int     `json:"rate_limit_multiplier"`
}

type TimeoutSettings struct {
	Request float64 `json:"request"`
	Account float64 `json:"account"`
}

type CaptchaSettings struct {
	MinBalance   float64 `json:"min_balance"`
	PollInterval float64 `json:"poll_interval"`
	PollAttempts int     `json:"poll_attempts"`
}

// Settings mirrors config.json.
type Settings struct {
	UseProxy         bool            `json:"use_proxy"`
	Threads          int             `json:"threads"`
	Delay            Range           `json:"delay"`
	Tasks            bool            `json:"tasks"`
	ReferralCode     string          `json:"referral_code"`
	BlacklistedTasks []string        `json:"blacklisted_tasks"`
	BatchSize        int             `json:"batch_size"`
	BatchDelay       Range           `json:"batch_delay"`
	Retry            RetrySettings   `json:"retry"`
	Timeouts         TimeoutSettings `json:"timeouts"`
	StrictActivity   bool            `json:"strict_activity"`
	Captcha          CaptchaSettings `json:"captcha"`
}

func DefaultSettings() Settings {
	return Settings{
		UseProxy:     false,
		Threads:      3,
		Delay:        Range{Min: 2, Max: 5},
		Tasks:        false,
		ReferralCode: "ss0WegUb",
		BlacklistedTasks: []string{
			"6740b2cb15bd1d26b7b71266",
			"6727ca831ee144b53eb8c08c",
			"671b8ecb22d15820f13dc61a",
			"6714e8b80f93ce482efae727",
		},
		BatchSize:  0,
		BatchDelay: Range{Min: 5, Max: 10},
		Retry: RetrySettings{
			AuthAttempts:        5,
			TaskAttempts:        3,
			ActivityAttempts:    3,
			BaseDelay:           2,
			Jitter:              Range{Min: 0.5, Max: 1.5},
			RateLimitMultiplier: 3,
		},
		Timeouts: TimeoutSettings{Request: 30, Account: 600},
		Captcha:  CaptchaSettings{MinBalance: 0.1, PollInterval: 2, PollAttempts: 30},
	}
}

var settingsKeys = []string{
	"use_proxy", "threads", "delay", "tasks", "referral_code", "blacklisted_tasks",
	"batch_size", "batch_delay", "retry", "timeouts", "strict_activity", "captcha",
}

// LoadSettings reads path over the defaults. A missing file, or one lacking
// top-level keys, is written back with the defaults filled in.
func LoadSettings(path string) (Settings, bool, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return settings, true, SaveSettings(path, settings)
	}
	if err != nil {
		return settings, false, err
	}

	if err := json.Unmarshal(data, &settings); err != nil {
		return settings, false, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	settings.normalize()

	var present map[string]json.RawMessage
	if err := json.Unmarshal(data, &present); err == nil {
		for _, key := range settingsKeys {
			if _, ok := present[key]; !ok {
				return settings, false, SaveSettings(path, settings)
			}
		}
	}
	return settings, false, nil
}

func SaveSettings(path string, s Settings) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(s, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *Settings) normalize() {
	if s.Threads < 1 {
		s.Threads = 1
	}
	if s.BatchSize < 0 {
		s.BatchSize = 0
	}
	s.Delay = s.Delay.ordered()
	s.BatchDelay = s.BatchDelay.ordered()
	s.Retry.Jitter = s.Retry.Jitter.ordered()
}

func (r Range) ordered() Range {
	if r.Min < 0 {
		r.Min = 0
	}
	if r.Max < r.Min {
		r.Max = r.Min
	}
	return r
}

func (s Settings) Validate() error {
	if s.Threads < 1 {
		return errors.New("threads must be at least 1")
	}
	if s.Retry.AuthAttempts < 1 || s.Retry.TaskAttempts < 1 || s.Retry.ActivityAttempts < 1 {
		return errors.New("retry attempt ceilings must be at least 1")
	}
	if s.Retry.BaseDelay < 0 {
		return errors.New("retry.base_delay must not be negative")
	}
	if s.Timeouts.Request <= 0 || s.Timeouts.Account <= 0 {
		return errors.New("timeouts must be positive")
	}
	if s.Captcha.PollAttempts < 1 || s.Captcha.PollInterval <= 0 {
		return errors.New("captcha poll budget must be positive")
	}
	return nil
}

func (s Settings) IsBlacklisted(taskID string) bool {
	return slices.Contains(s.BlacklistedTasks, taskID)
}

func (s Settings) RequestTimeout() time.Duration { return utils.Seconds(s.Timeouts.Request) }
func (s Settings) AccountTimeout() time.Duration { return utils.Seconds(s.Timeouts.Account) }
