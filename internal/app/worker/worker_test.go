package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ohmynofan/paws-community-bot/internal/adapters/captcha"
	"github.com/ohmynofan/paws-community-bot/internal/config"
	"github.com/ohmynofan/paws-community-bot/internal/domain/model"
	"github.com/ohmynofan/paws-community-bot/internal/platform/logger"
	"github.com/ohmynofan/paws-community-bot/internal/storage/tokencache"
)

func init() {
	logger.SetOutput(nil, false)
}

type fakeSolver struct {
	calls atomic.Int32
	err   error
	panic bool
}

func (f *fakeSolver) Name() string { return "fake" }

func (f *fakeSolver) Balance(context.Context) (float64, error) { return 1, nil }

func (f *fakeSolver) Solve(_ context.Context, ch captcha.Challenge) (*captcha.Solution, error) {
	f.calls.Add(1)
	if f.panic {
		panic("solver exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	if ch.SiteKey != captcha.PawsSiteKey || !ch.Enterprise {
		return nil, errors.New("unexpected challenge")
	}
	return &captcha.Solution{Token: "cap-token", Balance: 1, Polls: 2}, nil
}

type fakeAPI struct {
	mu            sync.Mutex
	validToken    string
	authStatus    int
	authBody      string
	activityBody  string
	activityCode  int
	completeFail  string
	quests        string
	claimStatus   int
	authCalls     int
	activityCalls int
	completed     []string
	claimed       []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		authStatus:   http.StatusCreated,
		authBody:     `{"success":true,"data":["fresh-token"]}`,
		activityBody: `{"success":true,"data":true}`,
		activityCode: http.StatusOK,
		quests:       `[]`,
		claimStatus:  http.StatusCreated,
	}
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ip", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ip":"203.0.113.7"}`))
	})
	mux.HandleFunc("/v1/user/auth", func(w http.ResponseWriter, r *http.Request) {
		var body authRequest
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.authCalls++
		if body.Data == "" || body.ReferralCode == "" {
			t.Errorf("auth body missing fields: %+v", body)
		}
		if f.authStatus == http.StatusCreated {
			f.validToken = "fresh-token"
		}
		w.WriteHeader(f.authStatus)
		w.Write([]byte(f.authBody))
	})
	mux.HandleFunc("/v1/user", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		valid := f.validToken
		f.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+valid {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"message":"unauthorized"}`))
			return
		}
		w.Write([]byte(`{"success":true,"data":{"gameData":{"balance":1234}}}`))
	})
	mux.HandleFunc("/v1/user/activity", func(w http.ResponseWriter, r *http.Request) {
		var body activityRequest
		json.NewDecoder(r.Body).Decode(&body)
		if body.RecaptchaToken != "cap-token" {
			t.Errorf("unexpected recaptcha token %q", body.RecaptchaToken)
		}
		f.mu.Lock()
		f.activityCalls++
		resp, code := f.activityBody, f.activityCode
		f.mu.Unlock()
		w.WriteHeader(code)
		w.Write([]byte(resp))
	})
	mux.HandleFunc("/v1/quests/list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Write([]byte(`{"success":true,"data":` + f.quests + `}`))
	})
	mux.HandleFunc("/v1/quests/completed", func(w http.ResponseWriter, r *http.Request) {
		var body questRequest
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.completed = append(f.completed, body.QuestID)
		failed := body.QuestID == f.completeFail
		f.mu.Unlock()
		if failed {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"success":false,"message":"quest requirements not met"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"success":true}`))
	})
	mux.HandleFunc("/v1/quests/claim", func(w http.ResponseWriter, r *http.Request) {
		var body questRequest
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.claimed = append(f.claimed, body.QuestID)
		status := http.StatusCreated
		if body.QuestID == "q-broken" {
			status = f.claimStatus
		}
		f.mu.Unlock()
		w.WriteHeader(status)
		w.Write([]byte(`{"success":true}`))
	})
	return mux
}

type apiStats struct {
	authCalls     int
	activityCalls int
	completed     []string
	claimed       []string
}

func (f *fakeAPI) stats() apiStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return apiStats{
		authCalls:     f.authCalls,
		activityCalls: f.activityCalls,
		completed:     append([]string(nil), f.completed...),
		claimed:       append([]string(nil), f.claimed...),
	}
}

type memRecorder struct {
	mu      sync.Mutex
	results []model.AccountResult
}

func (m *memRecorder) Record(_ string, _ time.Time, res model.AccountResult) error {
	m.mu.Lock()
	m.results = append(m.results, res)
	m.mu.Unlock()
	return nil
}

type harness struct {
	api    *fakeAPI
	solver *fakeSolver
	tokens *tokencache.FileStore
	rec    *memRecorder
	worker *Worker
}

func newHarness(t *testing.T, mutate func(*config.Settings)) *harness {
	t.Helper()
	api := newFakeAPI()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	tokens, err := tokencache.Open(filepath.Join(t.TempDir(), "tokens.json"))
	if err != nil {
		t.Fatal(err)
	}

	settings := config.DefaultSettings()
	if mutate != nil {
		mutate(&settings)
	}
	h := &harness{api: api, solver: &fakeSolver{}, tokens: tokens, rec: &memRecorder{}}
	h.worker = New(Deps{
		Config: config.Config{
			APIBaseURL: srv.URL + "/v1",
			IPCheckURL: srv.URL + "/ip",
			Settings:   settings,
		},
		Tokens: tokens,
		Solver: h.solver,
		Runlog: h.rec,
		RunID:  "test-run",
		Sleep:  func(context.Context, time.Duration) error { return nil },
	})
	return h
}

var alice = model.AccountCredential{Label: "alice", AuthPayload: "query_id=abc&user=%7B%22username%22%3A%22alice%22%7D"}

func TestRun_ValidCachedTokenSkipsAuth(t *testing.T) {
	h := newHarness(t, nil)
	h.api.validToken = "cached-token"
	if err := h.tokens.Set("alice", "cached-token"); err != nil {
		t.Fatal(err)
	}

	res := h.worker.Run(context.Background(), 0, alice)
	stats := h.api.stats()
	if res.Outcome != model.OutcomeSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	if stats.authCalls != 0 {
		t.Errorf("expected no auth call, got %d", stats.authCalls)
	}
	if res.Balance != "1234" {
		t.Errorf("expected balance 1234, got %q", res.Balance)
	}
	if len(h.rec.results) != 1 || h.rec.results[0].Outcome != model.OutcomeSuccess {
		t.Errorf("outcome not recorded: %+v", h.rec.results)
	}
}

func TestRun_StaleTokenIsReplaced(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.tokens.Set("alice", "stale-token"); err != nil {
		t.Fatal(err)
	}

	res := h.worker.Run(context.Background(), 0, alice)
	stats := h.api.stats()
	if res.Outcome != model.OutcomeSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	if stats.authCalls != 1 {
		t.Errorf("expected exactly one auth call, got %d", stats.authCalls)
	}
	if tok, ok := h.tokens.Get("alice"); !ok || tok != "fresh-token" {
		t.Errorf("expected cache to hold fresh-token, got %q (%v)", tok, ok)
	}
}

func TestRun_AlreadyCompletedActivityIsSuccess(t *testing.T) {
	h := newHarness(t, nil)
	h.api.activityBody = `{"success":true,"data":false}`

	res := h.worker.Run(context.Background(), 0, alice)
	stats := h.api.stats()
	if res.Outcome != model.OutcomeSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	if stats.activityCalls != 1 || h.solver.calls.Load() != 1 {
		t.Errorf("expected a single solve and submit, got %d submits and %d solves", stats.activityCalls, h.solver.calls.Load())
	}
}

func TestRun_StrictActivityRequiresData(t *testing.T) {
	h := newHarness(t, func(s *config.Settings) { s.StrictActivity = true })
	h.api.activityBody = `{"success":true,"data":false}`

	res := h.worker.Run(context.Background(), 0, alice)
	if res.Outcome != model.OutcomeActivityFailed {
		t.Fatalf("expected activity failure, got %+v", res)
	}
	if got := h.api.stats().activityCalls; got != 3 {
		t.Errorf("expected every attempt to be rejected, got %d submissions", got)
	}
}

func TestRun_RejectedActivityRetriesWithFreshCaptcha(t *testing.T) {
	h := newHarness(t, nil)
	h.api.activityBody = `{"success":false,"message":"captcha failed"}`

	res := h.worker.Run(context.Background(), 0, alice)
	stats := h.api.stats()
	if res.Outcome != model.OutcomeActivityFailed {
		t.Fatalf("expected activity failure, got %+v", res)
	}
	if got := h.solver.calls.Load(); got != 3 {
		t.Errorf("expected 3 solves, got %d", got)
	}
	if stats.activityCalls != 3 {
		t.Errorf("expected 3 submissions, got %d", stats.activityCalls)
	}
}

func TestRun_InvalidRecaptchaIsResolvedAgain(t *testing.T) {
	h := newHarness(t, nil)
	h.api.activityCode = http.StatusBadRequest
	h.api.activityBody = `{"success":false,"message":"Invalid recaptcha token"}`

	res := h.worker.Run(context.Background(), 0, alice)
	stats := h.api.stats()
	if res.Outcome != model.OutcomeActivityFailed {
		t.Fatalf("expected activity failure, got %+v", res)
	}
	if got := h.solver.calls.Load(); got != 3 {
		t.Errorf("a rejected token must trigger a fresh solve each attempt, got %d solves", got)
	}
	if stats.activityCalls != 3 {
		t.Errorf("expected 3 submissions, got %d", stats.activityCalls)
	}
}

func TestRun_ForbiddenActivityStopsRetrying(t *testing.T) {
	h := newHarness(t, nil)
	h.api.activityCode = http.StatusForbidden
	h.api.activityBody = `{"success":false,"message":"forbidden"}`

	res := h.worker.Run(context.Background(), 0, alice)
	if res.Outcome != model.OutcomeActivityFailed {
		t.Fatalf("expected activity failure, got %+v", res)
	}
	if got := h.solver.calls.Load(); got != 1 {
		t.Errorf("expected a single solve after a 403, got %d", got)
	}
}

func TestRun_InvalidCredentialsStopAccount(t *testing.T) {
	h := newHarness(t, nil)
	h.api.authStatus = http.StatusBadRequest
	h.api.authBody = `{"success":false,"message":"Invalid init data"}`

	res := h.worker.Run(context.Background(), 0, alice)
	stats := h.api.stats()
	if res.Outcome != model.OutcomeLoginFailed {
		t.Fatalf("expected login failure, got %+v", res)
	}
	if stats.authCalls != 1 {
		t.Errorf("invalid credentials must not be retried, got %d calls", stats.authCalls)
	}
	if h.solver.calls.Load() != 0 || stats.activityCalls != 0 {
		t.Error("no activity work expected after a failed login")
	}
	if !strings.Contains(res.Detail, "invalid credentials") {
		t.Errorf("expected an invalid credentials detail, got %q", res.Detail)
	}
}

func TestRun_ClaimOnlyAfterSuccessfulComplete(t *testing.T) {
	h := newHarness(t, func(s *config.Settings) { s.Tasks = true })
	h.api.completeFail = "q-locked"
	h.api.quests = `[
		{"_id":"q-locked","title":"locked","progress":{"claimed":false}},
		{"_id":"q-open","title":"open","progress":{"claimed":false}}
	]`

	res := h.worker.Run(context.Background(), 0, alice)
	stats := h.api.stats()
	if res.Outcome != model.OutcomeSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(stats.completed) != 2 {
		t.Errorf("sweep must move past a failed completion, got %v", stats.completed)
	}
	if len(stats.claimed) != 1 || stats.claimed[0] != "q-open" {
		t.Errorf("expected a claim for q-open only, got %v", stats.claimed)
	}
	if res.TasksClaimed != 1 {
		t.Errorf("expected 1 claimed task, got %d", res.TasksClaimed)
	}
}

func TestRun_TaskSweepSkipsBlacklistedAndClaimed(t *testing.T) {
	h := newHarness(t, func(s *config.Settings) { s.Tasks = true })
	h.api.claimStatus = http.StatusBadRequest
	h.api.quests = `[
		{"_id":"6740b2cb15bd1d26b7b71266","title":"blacklisted","progress":{"claimed":false}},
		{"_id":"q-done","title":"already claimed","progress":{"claimed":true}},
		{"_id":"q-broken","title":"claim fails","progress":{"claimed":false}},
		{"_id":"q-open","title":"open","progress":{"claimed":false}}
	]`

	res := h.worker.Run(context.Background(), 0, alice)
	stats := h.api.stats()
	if res.Outcome != model.OutcomeSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.TasksClaimed != 1 {
		t.Errorf("expected 1 claimed task, got %d", res.TasksClaimed)
	}
	want := []string{"q-broken", "q-open"}
	if len(stats.completed) != 2 || stats.completed[0] != want[0] || stats.completed[1] != want[1] {
		t.Errorf("unexpected completed quests %v", stats.completed)
	}
	if len(stats.claimed) != 2 {
		t.Errorf("a failed claim must not block later quests, got %v", stats.claimed)
	}
}

func TestRun_LowBalanceDisablesSolverForLaterAccounts(t *testing.T) {
	h := newHarness(t, nil)
	h.solver.err = captcha.ErrLowBalance

	first := h.worker.Run(context.Background(), 0, alice)
	bob := model.AccountCredential{Label: "bob", AuthPayload: "query_id=bob"}
	second := h.worker.Run(context.Background(), 1, bob)

	if first.Outcome != model.OutcomeActivityFailed || second.Outcome != model.OutcomeActivityFailed {
		t.Errorf("expected activity failures, got %v and %v", first.Outcome, second.Outcome)
	}
	if got := h.solver.calls.Load(); got != 1 {
		t.Errorf("expected a single solve attempt overall, got %d", got)
	}
}

func TestRun_RecoversFromPanic(t *testing.T) {
	h := newHarness(t, nil)
	h.solver.panic = true

	res := h.worker.Run(context.Background(), 0, alice)
	if res.Outcome != model.OutcomeActivityFailed {
		t.Errorf("expected activity failure after a panic, got %+v", res)
	}
	if len(h.rec.results) != 1 {
		t.Errorf("panicking account must still be recorded, got %d", len(h.rec.results))
	}
}
