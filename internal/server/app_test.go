package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/JakeFAU/nmkr-support-router/internal/config"
	"github.com/JakeFAU/nmkr-support-router/internal/support"
)

// cannedGenerator answers every prompt of the pipeline with something
// parseable, routing every request to the user specialist.
type cannedGenerator struct {
	mu    sync.Mutex
	calls int
}

func (g *cannedGenerator) Generate(_ context.Context, system, _ string, _ ...llms.CallOption) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if bytes.Contains([]byte(system), []byte("Routing Specialist")) {
		return `{"user": true, "primary": "user"}`, nil
	}
	if bytes.Contains([]byte(system), []byte("Link Specialist")) {
		return `{"user": ["https://docs.nmkr.io/nmkr-studio/airdrops"]}`, nil
	}
	return "Open the airdrop tool in NMKR Studio.", nil
}

type noopResearcher struct{}

func (noopResearcher) Research(context.Context, []string) (map[string]string, error) {
	return map[string]string{}, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Worker.Concurrency = 1
	cfg.Progress.Enabled = false
	return cfg
}

func overrides() Overrides {
	return Overrides{Generator: &cannedGenerator{}, Researcher: noopResearcher{}}
}

func submit(t *testing.T, baseURL, query string) string {
	t.Helper()
	body, err := json.Marshal(map[string]string{"query": query})
	require.NoError(t, err)
	resp, err := http.Post(baseURL+"/api/support", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	require.NotEmpty(t, accepted.JobID)
	return accepted.JobID
}

func status(t *testing.T, baseURL, jobID string) (string, *support.Answer) {
	t.Helper()
	resp, err := http.Get(baseURL + "/api/support/status/" + jobID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Status string          `json:"status"`
		Result *support.Answer `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.Status, out.Result
}

func TestBuildServeWithMemoryQueue(t *testing.T) {
	cfg := testConfig(t)
	cfg.Queue.Backend = "memory"

	app, err := Build(context.Background(), cfg, Roles{API: true, Workers: true}, zap.NewNop(), overrides())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		app.dispatch.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		require.NoError(t, app.Close(context.Background()))
	})

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	jobID := submit(t, srv.URL, "How do I airdrop NFTs?")
	require.Eventually(t, func() bool {
		st, _ := status(t, srv.URL, jobID)
		return st == string(support.JobStatusFinished)
	}, 5*time.Second, 20*time.Millisecond)

	_, answer := status(t, srv.URL, jobID)
	require.NotNil(t, answer)
	require.Equal(t, support.CategoryUser, answer.Category)
	require.Equal(t, []string{"https://docs.nmkr.io/nmkr-studio/airdrops"}, answer.Links)
}

func TestBuildSplitRolesShareRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.Queue.BlockTimeoutMillis = 50
	cfg.Publisher.Backend = "redis"

	apiApp, err := Build(context.Background(), cfg, Roles{API: true}, zap.NewNop(), Overrides{})
	require.NoError(t, err)
	require.Nil(t, apiApp.dispatch)
	t.Cleanup(func() { require.NoError(t, apiApp.Close(context.Background())) })

	workerApp, err := Build(context.Background(), cfg, Roles{Workers: true}, zap.NewNop(), overrides())
	require.NoError(t, err)
	require.Nil(t, workerApp.Handler())

	srv := httptest.NewServer(apiApp.Handler())
	defer srv.Close()
	jobID := submit(t, srv.URL, "What does NMKR Studio cost?")

	st, _ := status(t, srv.URL, jobID)
	require.Equal(t, string(support.JobStatusQueued), st)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		workerApp.dispatch.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		require.NoError(t, workerApp.Close(context.Background()))
	})

	require.Eventually(t, func() bool {
		st, _ := status(t, srv.URL, jobID)
		return st == string(support.JobStatusFinished)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestBuildRejectsInvalidRoles(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	_, err := Build(context.Background(), cfg, Roles{}, zap.NewNop(), overrides())
	require.Error(t, err)

	cfg.Queue.Backend = "memory"
	_, err = Build(context.Background(), cfg, Roles{API: true}, zap.NewNop(), overrides())
	require.ErrorContains(t, err, "share a process")
}

func TestBuildWorkersRequireLLMKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Queue.Backend = "memory"
	cfg.LLM.OpenAIAPIKey = ""
	cfg.LLM.Provider = "openai"
	_, err := Build(context.Background(), cfg, Roles{API: true, Workers: true}, zap.NewNop(), Overrides{})
	require.ErrorContains(t, err, "llm init failed")
}

func TestBuildBadRedisURLReturnsError(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Redis.URL = "not-a-url://"
	var err error
	require.NotPanics(t, func() {
		_, err = Build(context.Background(), cfg, Roles{API: true}, zap.NewNop(), overrides())
	})
	require.ErrorContains(t, err, "redis client init failed")
}

func TestBuildFailureAfterRedisReturnsError(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.LLM.Provider = "openai"
	cfg.LLM.OpenAIAPIKey = ""
	var (
		app *App
		err error
	)
	require.NotPanics(t, func() {
		app, err = Build(context.Background(), cfg, Roles{Workers: true}, zap.NewNop(), Overrides{})
	})
	require.Nil(t, app)
	require.ErrorContains(t, err, "llm init failed")
}
