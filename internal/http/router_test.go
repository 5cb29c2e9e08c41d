package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/bot-dispatch/internal/config"
	"github.com/tbourn/bot-dispatch/internal/credential"
	"github.com/tbourn/bot-dispatch/internal/http/middleware"
	"github.com/tbourn/bot-dispatch/internal/queue"
	"github.com/tbourn/bot-dispatch/internal/repo"
	"github.com/tbourn/bot-dispatch/internal/services"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     1000,
		RateBurst:   1000,
		OTEL:        config.OTELConfig{ServiceName: "test"},
	}
}

type brokenQueue struct{ *queue.MemoryQueue }

func (brokenQueue) Ping(context.Context) error { return errors.New("connection refused") }

func newRouter(t *testing.T, cfg config.Config, q queue.Queue) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	cipher, err := credential.NewCipher("01234567890123456789012345678901")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	r := gin.New()
	RegisterRoutes(r, Deps{
		DB:       db,
		Queue:    q,
		Bots:     &services.BotService{DB: db, Cipher: cipher, Logger: zerolog.Nop()},
		Dispatch: &services.DispatchService{DB: db, Queue: q, Logger: zerolog.Nop()},
		Registry: prometheus.NewRegistry(),
	}, cfg)
	return r, db
}

func serve(r *gin.Engine, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_HealthMetricsFallbacks(t *testing.T) {
	r, _ := newRouter(t, testConfig(), queue.NewMemoryQueue())

	w := serve(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK || w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("health: %d", w.Code)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" || w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("security headers missing: %v", w.Header())
	}

	if w := serve(r, http.MethodGet, "/ready", "", nil); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ready"`) {
		t.Fatalf("ready: %d %s", w.Code, w.Body.String())
	}

	if w := serve(r, http.MethodGet, "/nope", "", nil); w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "route not found") {
		t.Fatalf("no route: %d %s", w.Code, w.Body.String())
	}
	if w := serve(r, http.MethodPut, "/health", "", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("no method: %d", w.Code)
	}

	w = serve(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "botdispatch_http_requests_total") {
		t.Fatalf("metrics: %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/swagger/index.html", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger should be off by default: %d", w.Code)
	}
}

func TestRegisterRoutes_ReadyFailsWhenQueueDown(t *testing.T) {
	r, _ := newRouter(t, testConfig(), brokenQueue{queue.NewMemoryQueue()})
	w := serve(r, http.MethodGet, "/ready", "", nil)
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "connection refused") {
		t.Fatalf("ready: %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_EndToEndEnqueue(t *testing.T) {
	q := queue.NewMemoryQueue()
	r, _ := newRouter(t, testConfig(), q)
	user := map[string]string{middleware.HeaderUserID: "u1"}

	w := serve(r, http.MethodPost, "/api/v1/bots", `{"name":"b","token":"t"}`, user)
	if w.Code != http.StatusCreated {
		t.Fatalf("create bot: %d %s", w.Code, w.Body.String())
	}
	botID := strings.Split(strings.Split(w.Body.String(), `"id":"`)[1], `"`)[0]

	hdr := map[string]string{middleware.HeaderUserID: "u1", middleware.HeaderIdempotencyKey: "k1"}
	body := fmt.Sprintf(`{"botId":%q,"channelId":"c1","content":"hello"}`, botID)
	first := serve(r, http.MethodPost, "/api/v1/messages", body, hdr)
	if first.Code != http.StatusAccepted {
		t.Fatalf("enqueue: %d %s", first.Code, first.Body.String())
	}
	if !strings.HasPrefix(first.Header().Get("Location"), "/api/v1/messages/") {
		t.Fatalf("location=%q", first.Header().Get("Location"))
	}
	second := serve(r, http.MethodPost, "/api/v1/messages", body, hdr)
	if second.Code != http.StatusOK || second.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay: %d", second.Code)
	}
	if q.Len() != 1 {
		t.Fatalf("queue len=%d", q.Len())
	}

	if w := serve(r, http.MethodPost, "/api/v1/messages", body, map[string]string{
		middleware.HeaderUserID: "u1", middleware.HeaderIdempotencyKey: "bad key!",
	}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad key: %d", w.Code)
	}
}

func TestRegisterRoutes_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS, cfg.RateBurst = 0.001, 1
	r, _ := newRouter(t, cfg, queue.NewMemoryQueue())

	hdr := map[string]string{middleware.HeaderUserID: "u1"}
	if w := serve(r, http.MethodGet, "/api/v1/bots", "", hdr); w.Code != http.StatusOK {
		t.Fatalf("first: %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/api/v1/bots", "", hdr); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second: %d", w.Code)
	}
}

func TestRegisterRoutes_CORS(t *testing.T) {
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"https://ops.example.com"}
	r, _ := newRouter(t, cfg, queue.NewMemoryQueue())

	w := serve(r, http.MethodGet, "/health", "", map[string]string{"Origin": "https://ops.example.com"})
	if w.Header().Get("Access-Control-Allow-Origin") != "https://ops.example.com" {
		t.Fatalf("allowed origin not echoed: %v", w.Header())
	}
	w = serve(r, http.MethodGet, "/health", "", map[string]string{"Origin": "https://evil.example.com"})
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("foreign origin allowed")
	}
}

func TestRegisterRoutes_Swagger(t *testing.T) {
	cfg := testConfig()
	cfg.SwaggerEnabled = true
	r, _ := newRouter(t, cfg, queue.NewMemoryQueue())
	if w := serve(r, http.MethodGet, "/swagger/doc.json", "", nil); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/messages") {
		t.Fatalf("swagger doc: %d", w.Code)
	}
}

func TestGroupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if g := groupWithPrefix(r, "/"); g.BasePath() != "/" {
		t.Fatalf("root base=%q", g.BasePath())
	}
	if g := groupWithPrefix(r, "/api/v2"); g.BasePath() != "/api/v2" {
		t.Fatalf("base=%q", g.BasePath())
	}
}
