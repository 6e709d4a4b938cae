package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ohmynofan/paws-community-bot/internal/adapters/captcha"
	"github.com/ohmynofan/paws-community-bot/internal/config"
	"github.com/ohmynofan/paws-community-bot/internal/domain/model"
	"github.com/ohmynofan/paws-community-bot/internal/storage/runlog"
	"github.com/ohmynofan/paws-community-bot/internal/storage/tokencache"
)

type staticSolver struct{ calls atomic.Int32 }

func (s *staticSolver) Name() string { return "static" }

func (s *staticSolver) Balance(context.Context) (float64, error) { return 5, nil }

func (s *staticSolver) Solve(context.Context, captcha.Challenge) (*captcha.Solution, error) {
	s.calls.Add(1)
	return &captcha.Solution{Token: "cap", Balance: 5}, nil
}

// pawsProxy answers absolute-form requests as if it forwarded them to the
// remote API.
func pawsProxy(hits *atomic.Int32) http.Handler {
	var tokens atomic.Int32
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/json":
			w.Write([]byte(`{"ip":"198.51.100.1"}`))
		case "/v1/user/auth":
			w.WriteHeader(http.StatusCreated)
			fmt.Fprintf(w, `{"success":true,"data":["tok-%d"]}`, tokens.Add(1))
		case "/v1/user":
			w.Write([]byte(`{"success":true,"data":{"gameData":{"balance":10}}}`))
		case "/v1/user/activity":
			w.Write([]byte(`{"success":true,"data":true}`))
		default:
			http.NotFound(w, r)
		}
	})
}

func TestApp_TwelveAccountsThroughProxyPool(t *testing.T) {
	dir := t.TempDir()

	var hits [3]atomic.Int32
	proxies := make([]string, 0, 3)
	for i := range hits {
		srv := httptest.NewServer(pawsProxy(&hits[i]))
		t.Cleanup(srv.Close)
		proxies = append(proxies, srv.URL)
	}

	queries := make([]string, 12)
	for i := range queries {
		queries[i] = fmt.Sprintf("query_id=q%d", i)
	}
	accountsPath := filepath.Join(dir, "query.txt")
	proxiesPath := filepath.Join(dir, "proxy.txt")
	if err := os.WriteFile(accountsPath, []byte(strings.Join(queries, "\n")), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(proxiesPath, []byte(strings.Join(proxies, "\n")), 0o644); err != nil {
		t.Fatal(err)
	}

	settings := config.DefaultSettings()
	settings.UseProxy = true
	settings.BatchSize = 10
	settings.BatchDelay = config.Range{}
	cfg := config.Config{
		APIBaseURL:   "http://api.paws.test/v1",
		IPCheckURL:   "http://ip.paws.test/json",
		AccountsPath: accountsPath,
		ProxiesPath:  proxiesPath,
		TokensPath:   filepath.Join(dir, "tokens.json"),
		RunlogPath:   filepath.Join(dir, "data", "paws.db"),
		Settings:     settings,
	}

	solver := &staticSolver{}
	if err := New(cfg).WithSolver(solver).Run(context.Background()); err != nil {
		t.Fatalf("Run returned an error: %v", err)
	}

	store, err := runlog.NewStore(cfg.RunlogPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	summary, err := store.DailySummary(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if summary[model.OutcomeSuccess] != 12 {
		t.Errorf("expected 12 successes, got %v", summary)
	}

	tokens, err := tokencache.Open(cfg.TokensPath)
	if err != nil {
		t.Fatal(err)
	}
	if tokens.Len() != 12 {
		t.Errorf("expected 12 cached tokens, got %d", tokens.Len())
	}

	var total int32
	for i := range hits {
		total += hits[i].Load()
	}
	if total != 12*4 {
		t.Errorf("expected every request to go through a proxy (48), got %d", total)
	}
	if solver.calls.Load() != 12 {
		t.Errorf("expected 12 solves, got %d", solver.calls.Load())
	}
}

func TestApp_NoAccountsIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "query.txt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Config{AccountsPath: path, Settings: config.DefaultSettings()}
	err := New(cfg).WithSolver(&staticSolver{}).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), config.ErrNoAccounts.Error()) {
		t.Errorf("expected ErrNoAccounts, got %v", err)
	}
}
