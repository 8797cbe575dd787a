//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hanjaemi/hanjaemi/internal/api"
	"github.com/hanjaemi/hanjaemi/internal/audit"
	"github.com/hanjaemi/hanjaemi/internal/auth"
	"github.com/hanjaemi/hanjaemi/internal/chat"
	"github.com/hanjaemi/hanjaemi/internal/config"
	"github.com/hanjaemi/hanjaemi/internal/history"
	"github.com/hanjaemi/hanjaemi/internal/provider"
	"github.com/hanjaemi/hanjaemi/internal/provider/providertest"
	"github.com/hanjaemi/hanjaemi/internal/usage"
)

type TestEnv struct {
	Pool     *pgxpool.Pool
	Server   *httptest.Server
	Verifier *auth.Verifier
}

var testEnv *TestEnv

// Limits used by the test server; small daily budget so gate exhaustion is
// cheap to reach.
var testLimits = config.LimitsConfig{
	Free: config.TierLimits{Daily: 2, Monthly: 100},
	Pro:  config.TierLimits{Daily: 200, Monthly: 3000},
}

func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	if testEnv != nil {
		return testEnv
	}

	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "hanjaemi_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	pgHost, _ := pgContainer.Host(ctx)
	pgPort, _ := pgContainer.MappedPort(ctx, "5432")

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/hanjaemi_test?sslmode=disable", pgHost, pgPort.Port())
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	// Run migrations
	m, err := migrate.New(fmt.Sprintf("file://%s", getMigrationsPath()), dsn)
	if err != nil {
		t.Fatalf("creating migrator: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("running migrations: %v", err)
	}

	// Setup services
	verifier := auth.NewVerifier("integration-secret-32-chars-long!", "hanjaemi")

	usageRepo := usage.NewRepository(pool)
	usageSvc := usage.NewService(usageRepo, testLimits)
	usageHandler := usage.NewHandler(usageSvc)

	store := history.NewStore(pool)
	historyHandler := history.NewHandler(store)

	chatHandler := chat.NewHandler(stubProvider{}, usageSvc, store, nil, nil, nil, config.ProviderConfig{
		ChatModel:       "gpt-4o-mini",
		TranscribeModel: "whisper-1",
		SpeechModel:     "tts-1",
		SpeechVoice:     "nova",
	})

	auditRepo := audit.NewRepository(pool)
	auditHandler := audit.NewHandler(auditRepo)

	router := api.NewRouter(pool, api.RouterConfig{}, api.HandlerSet{
		Chat:       chatHandler.Chat,
		Transcribe: chatHandler.Transcribe,
		Speech:     chatHandler.Speech,

		GetUsage:    usageHandler.Get,
		RecordUsage: usageHandler.Record,

		ListSessionMessages: historyHandler.ListSessionMessages,

		ListAuditLogs: auditHandler.ListRequestLogs,

		AuthMiddleware: auth.Middleware(verifier),
	})

	server := httptest.NewServer(router)
	t.Cleanup(func() { server.Close() })

	testEnv = &TestEnv{
		Pool:     pool,
		Server:   server,
		Verifier: verifier,
	}

	return testEnv
}

// stubProvider hands out a fresh canned stream per call, so consecutive
// requests each see a complete stream.
type stubProvider struct{}

func (stubProvider) ChatCompletion(context.Context, provider.ChatRequest) (provider.Completion, error) {
	return provider.Completion{Content: "안녕하세요", Model: "gpt-4o-mini"}, nil
}

func (stubProvider) ChatCompletionStream(context.Context, provider.ChatRequest) (provider.Stream, error) {
	return providertest.StreamOf("안", "녕", "하세요"), nil
}

func (stubProvider) Transcribe(context.Context, string, string, []byte) (provider.Transcription, error) {
	return provider.Transcription{Text: "안녕하세요"}, nil
}

func (stubProvider) Speech(context.Context, provider.SpeechRequest) ([]byte, error) {
	return []byte("audio"), nil
}

func getMigrationsPath() string {
	paths := []string{
		"../../migrations",
		"../../../migrations",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	log.Fatal("migrations directory not found")
	return ""
}

// Helper functions

func MintToken(t *testing.T, env *TestEnv, userID uuid.UUID) string {
	t.Helper()
	token, err := env.Verifier.Mint(userID.String(), "integration@hanjaemi.app", time.Hour)
	if err != nil {
		t.Fatalf("minting token: %v", err)
	}
	return token
}

func CreateSubscription(t *testing.T, env *TestEnv, userID uuid.UUID, tier string) {
	t.Helper()
	_, err := env.Pool.Exec(context.Background(),
		`INSERT INTO subscriptions (user_id, tier, status, current_period_end)
		 VALUES ($1, $2, 'active', NOW() + interval '30 days')`,
		userID, tier)
	if err != nil {
		t.Fatalf("creating subscription: %v", err)
	}
}

func DoRequest(t *testing.T, env *TestEnv, method, path string, body any, token string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, env.Server.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("doing request: %v", err)
	}
	return resp
}

func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	return string(b)
}

func ParseResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	return result
}
