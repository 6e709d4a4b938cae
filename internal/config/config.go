package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"

	"github.com/ohmynofan/paws-community-bot/internal/domain/model"
	"github.com/ohmynofan/paws-community-bot/internal/platform/logger"
)

const (
	DefaultAPIBaseURL = "https://api.paws.community/v1"
	DefaultIPCheckURL = "https://ipinfo.io/json"
)

var (
	ErrNoAccounts  = errors.New("no accounts found")
	ErrNoProxies   = errors.New("use_proxy is enabled but no proxies were loaded")
	ErrNoSolverKey = errors.New("captcha solver API key required (provide TWO_CAPTCHA_API_KEY or CAPSOLVER_API_KEY)")
)

type Config struct {
	APIBaseURL string
	IPCheckURL string

	AccountsPath string
	ProxiesPath  string
	SettingsPath string
	TokensPath   string
	RunlogPath   string
	LogPath      string

	CaptchaProvider  string
	TwoCaptchaAPIKey string
	CapSolverAPIKey  string

	Settings Settings
	// SettingsCreated is set when config.json was absent and defaults were written.
	SettingsCreated bool
}

// LoadEnv reads .env into the process environment without overriding
// variables that are already set.
func LoadEnv() error {
	return godotenv.Load()
}

// LogPath is needed before Load so the file sink exists for config logs.
func LogPath() string {
	return envOr("LOG_PATH", "logs/app.log")
}

func Load() (Config, error) {
	log := logger.NewNamed("Config", nil)
	if err := LoadEnv(); err != nil {
		log.JustLog("No .env file found, using environment and defaults")
	}

	cfg := Config{
		APIBaseURL:       strings.TrimRight(envOr("PAWS_API_URL", DefaultAPIBaseURL), "/"),
		IPCheckURL:       envOr("IP_CHECK_URL", DefaultIPCheckURL),
		AccountsPath:     envOr("ACCOUNTS_PATH", "query.txt"),
		ProxiesPath:      envOr("PROXIES_PATH", "proxy.txt"),
		SettingsPath:     envOr("SETTINGS_PATH", "config.json"),
		TokensPath:       envOr("TOKENS_PATH", "tokens.json"),
		RunlogPath:       envOr("RUNLOG_PATH", "data/paws.db"),
		LogPath:          LogPath(),
		CaptchaProvider:  strings.ToLower(envOr("CAPTCHA_PROVIDER", "")),
		TwoCaptchaAPIKey: firstNonEmpty(os.Getenv("TWO_CAPTCHA_API_KEY"), os.Getenv("TWOCAPTCHA_API_KEY")),
		CapSolverAPIKey:  strings.TrimSpace(os.Getenv("CAPSOLVER_API_KEY")),
	}
	if cfg.CaptchaProvider == "auto" {
		cfg.CaptchaProvider = ""
	}

	settings, created, err := LoadSettings(cfg.SettingsPath)
	if err != nil {
		return cfg, err
	}
	if threads := parseIntWithDefault(os.Getenv("THREADS"), 0); threads > 0 {
		settings.Threads = threads
	}
	cfg.Settings = settings
	cfg.SettingsCreated = created
	if created {
		log.Info(fmt.Sprintf("Created new configuration file %s", cfg.SettingsPath))
	} else {
		log.Success("Configuration loaded successfully")
	}
	return cfg, nil
}

func envOr(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func parseIntWithDefault(value string, defaultVal int) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultVal
	}
	if v, err := strconv.Atoi(value); err == nil && v >= 0 {
		return v
	}
	return defaultVal
}

func (c Config) HasSolverKey() bool {
	switch c.CaptchaProvider {
	case "2captcha":
		return c.TwoCaptchaAPIKey != ""
	case "capsolver":
		return c.CapSolverAPIKey != ""
	default:
		return c.TwoCaptchaAPIKey != "" || c.CapSolverAPIKey != ""
	}
}

// PromptFunc reads a secret from the operator.
type PromptFunc func(prompt string) (string, error)

// EnsureSolverKey asks for a missing solver key when stdin is a terminal.
func (c *Config) EnsureSolverKey(prompt PromptFunc) error {
	if c.HasSolverKey() {
		return nil
	}
	if prompt == nil || !isatty.IsTerminal(os.Stdin.Fd()) {
		return ErrNoSolverKey
	}

	label := "Enter your 2captcha API key"
	if c.CaptchaProvider == "capsolver" {
		label = "Enter your CapSolver API key"
	}
	key, err := prompt(label)
	if err != nil {
		return fmt.Errorf("read solver key: %w", err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrNoSolverKey
	}
	if c.CaptchaProvider == "capsolver" {
		c.CapSolverAPIKey = key
	} else {
		c.TwoCaptchaAPIKey = key
	}
	return nil
}

func (c Config) Validate() error {
	if !c.HasSolverKey() {
		return ErrNoSolverKey
	}
	switch c.CaptchaProvider {
	case "", "2captcha", "capsolver":
	default:
		return fmt.Errorf("unknown CAPTCHA_PROVIDER %q", c.CaptchaProvider)
	}
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return errors.New("PAWS_API_URL must not be empty")
	}
	return c.Settings.Validate()
}

// LoadAccounts reads one auth payload per line. Blank lines and lines
// starting with '#' are skipped.
func (c Config) LoadAccounts() ([]model.AccountCredential, error) {
	lines, err := readLines(c.AccountsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found", ErrNoAccounts, c.AccountsPath)
		}
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoAccounts, c.AccountsPath)
	}

	accounts := make([]model.AccountCredential, 0, len(lines))
	for idx, line := range lines {
		accounts = append(accounts, model.NewAccountCredential(line, idx))
	}
	return accounts, nil
}

// LoadProxies returns the raw proxy lines, or nil when proxies are disabled.
func (c Config) LoadProxies() ([]string, error) {
	if !c.Settings.UseProxy {
		return nil, nil
	}
	lines, err := readLines(c.ProxiesPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found", ErrNoProxies, c.ProxiesPath)
		}
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrNoProxies
	}
	return lines, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	// Init strings with long user payloads exceed the default token size.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}
