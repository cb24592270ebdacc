package controller_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	cachex "codelens/internal/common/cache"
	"codelens/internal/runner/controller"
	"codelens/internal/runner/model"
	"codelens/internal/runner/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func newStatusRouter(t *testing.T, pingers map[string]controller.Pinger) (*gin.Engine, *repository.StatusRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	cacheClient, err := cachex.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	t.Cleanup(func() { _ = cacheClient.Close() })

	repo := repository.NewStatusRepository(cacheClient, time.Minute)
	statusController := controller.NewStatusController(repo, pingers)

	router := gin.New()
	router.GET("/api/v1/batches/:id/status", statusController.GetStatus)
	router.GET("/healthz", statusController.Health)
	return router, repo
}

func TestGetStatusReturnsSnapshot(t *testing.T) {
	t.Parallel()
	router, repo := newStatusRouter(t, nil)

	status := model.BatchStatus{BatchID: "batch-1", State: model.BatchStateRunning, Total: 4, Completed: 1}
	if err := repo.Save(context.Background(), status); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/batches/batch-1/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}

	var body struct {
		Code int               `json:"code"`
		Data model.BatchStatus `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Data.BatchID != "batch-1" || body.Data.Completed != 1 {
		t.Fatalf("unexpected snapshot: %+v", body.Data)
	}
}

func TestGetStatusUnknownBatch(t *testing.T) {
	t.Parallel()
	router, _ := newStatusRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/batches/no-such/status", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

type staticPinger struct{ err error }

func (p staticPinger) Ping(context.Context) error { return p.err }

func TestHealthReportsDependencies(t *testing.T) {
	t.Parallel()
	router, _ := newStatusRouter(t, map[string]controller.Pinger{
		"redis": staticPinger{},
		"kafka": staticPinger{},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHealthDegradedWhenDependencyDown(t *testing.T) {
	t.Parallel()
	router, _ := newStatusRouter(t, map[string]controller.Pinger{
		"redis": staticPinger{},
		"kafka": staticPinger{err: errors.New("dial tcp: connection refused")},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
