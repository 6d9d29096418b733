package httpx

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/syncteam/project/internal/apperr"
	"github.com/syncteam/project/internal/platform/logger"
)

func TestParseIDList(t *testing.T) {
	ids, err := ParseIDList(" 1, 2,,3 ")
	if err != nil {
		t.Fatalf("ParseIDList returned error: %v", err)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[2] != 3 {
		t.Fatalf("unexpected ids %v", ids)
	}
	if _, err := ParseIDList("-1"); apperr.KindOf(err) != apperr.KindInvalid {
		t.Fatalf("negative ids must be rejected, got %v", err)
	}
}

func TestWriteErrorMasksUnknown(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, logger.Nop(), errors.New("dial tcp 10.0.0.1:5432"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.1") {
		t.Fatalf("internal detail leaked: %s", rec.Body.String())
	}
}

func TestHealthReadiness(t *testing.T) {
	r := chi.NewRouter()
	down := errors.New("nats is not connected")
	Health(r, func() error { return down })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz: expected 503, got %d", rec.Code)
	}
}
