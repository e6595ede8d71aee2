// Package integration runs the BFF against real PostgreSQL and Redis
// containers and a fake ERP server.
package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	appallocation "github.com/katecvn/backoffice/internal/application/allocation"
	"github.com/katecvn/backoffice/internal/infrastructure/auth"
	"github.com/katecvn/backoffice/internal/infrastructure/cache"
	"github.com/katecvn/backoffice/internal/infrastructure/config"
	"github.com/katecvn/backoffice/internal/infrastructure/erpclient"
	"github.com/katecvn/backoffice/internal/infrastructure/logger"
	"github.com/katecvn/backoffice/internal/infrastructure/migration"
	"github.com/katecvn/backoffice/internal/infrastructure/persistence"
	"github.com/katecvn/backoffice/internal/interfaces/http/handler"
	"github.com/katecvn/backoffice/internal/interfaces/http/middleware"
	"github.com/katecvn/backoffice/internal/interfaces/http/router"
	"github.com/katecvn/backoffice/migrations"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

const jwtSecret = "integration-secret-0123456789abcdef"

// startPostgres runs a migrated PostgreSQL container and returns its config
func startPostgres(t *testing.T) config.DatabaseConfig {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("backoffice_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("admin123"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := config.DatabaseConfig{
		Host:     host,
		Port:     port.Int(),
		User:     "postgres",
		Password: "admin123",
		DBName:   "backoffice_test",
		SSLMode:  "disable",
	}

	sqlDB, err := sql.Open("postgres", cfg.DSN())
	require.NoError(t, err)
	defer sqlDB.Close()

	m, err := migration.New(sqlDB, migrations.FS, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Up(), "Failed to run migrations")

	return cfg
}

// startRedis runs a Redis container and returns its config
func startRedis(t *testing.T) config.RedisConfig {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start Redis container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate redis container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	return config.RedisConfig{Host: host, Port: port.Int()}
}

// fakeERP serves the lots and allocate-lots endpoints
type fakeERP struct {
	mu         sync.Mutex
	lots       string
	lotCalls   int
	commits    []json.RawMessage
	commitCode int
	commitBody string
	tokens     []string
	server     *httptest.Server
}

func newFakeERP(t *testing.T, lotsJSON string) *fakeERP {
	t.Helper()
	f := &fakeERP{lots: lotsJSON, commitCode: http.StatusOK, commitBody: `{"data":{}}`}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeERP) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, r.Header.Get("Authorization"))

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/lots":
		f.lotCalls++
		_, _ = io.WriteString(w, `{"data":`+f.lots+`}`)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/allocate-lots"):
		body, _ := io.ReadAll(r.Body)
		f.commits = append(f.commits, body)
		w.WriteHeader(f.commitCode)
		_, _ = io.WriteString(w, f.commitBody)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"not found"}`)
	}
}

func (f *fakeERP) rejectCommits(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitCode = status
	f.commitBody = body
}

func (f *fakeERP) stats() (lotCalls int, commits []json.RawMessage, tokens []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lotCalls, append([]json.RawMessage(nil), f.commits...), append([]string(nil), f.tokens...)
}

// env is a fully wired BFF
type env struct {
	engine   *gin.Engine
	erp      *fakeERP
	backends *cache.Backends
	db       *persistence.Database
}

func newEnv(t *testing.T, lotsJSON string) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	log := zap.NewNop()

	erp := newFakeERP(t, lotsJSON)
	client, err := erpclient.New(erpclient.Config{
		BaseURL:        erp.server.URL,
		Timeout:        5 * time.Second,
		MaxRetries:     1,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	}, log)
	require.NoError(t, err)

	backends, err := cache.NewBackends(ctx, startRedis(t), false, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backends.Close() })

	db, err := persistence.NewDatabase(startPostgres(t), persistence.Options{Logger: log})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	catalog := cache.NewCachedLotCatalog(client, backends.LotStore, time.Minute, log)
	svc := appallocation.NewAllocationService(catalog, client, appallocation.ServiceConfig{
		SessionTTL:      time.Hour,
		JanitorInterval: time.Hour,
		SubmitLockTTL:   10 * time.Second,
	}, log)
	svc.SetSubmitGuard(backends.SubmitGuard)
	svc.SetCatalogInvalidator(catalog)
	repo := persistence.NewGormAuditRepository(db.DB)
	svc.SetAuditRecorder(repo)
	svc.SetAuditReader(repo)
	t.Cleanup(func() { _ = svc.Shutdown() })

	middleware.SetupValidator()
	engine := gin.New()
	engine.Use(middleware.RequestID(), logger.Recovery(log), logger.GinMiddleware(log), middleware.Secure())

	system := handler.NewSystemHandler("backoffice-bff", "test")
	system.AddCheck("redis", backends.Ping)
	system.AddCheck("database", func(context.Context) error { return db.Ping() })
	engine.GET("/health", system.Health)

	h := handler.NewAllocationHandler(svc)
	r := router.NewRouter(engine).
		Use(middleware.JWTAuth(auth.NewJWTValidator(config.JWTConfig{Secret: jwtSecret})))
	r.Register(router.AllocationRoutes(h)).
		Register(router.AuditRoutes(h)).
		Register(router.PermissionRoutes(h))
	r.Setup()

	return &env{engine: engine, erp: erp, backends: backends, db: db}
}

func issueToken(t *testing.T, userID string, perms ...string) string {
	t.Helper()
	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		UserID:      userID,
		Username:    userID,
		Permissions: perms,
		TokenType:   auth.TokenTypeAccess,
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return token
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Context map[string]any `json:"context"`
	} `json:"error"`
}

func (e *env) call(t *testing.T, token, method, path, body string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)

	var out envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}
