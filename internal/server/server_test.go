package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backend-walkguard/internal/auth"
	"backend-walkguard/internal/config"

	"github.com/pashagolub/pgxmock/v3"
)

func testConfig() config.Config {
	return config.Config{
		JWTSecret:          "secret",
		ServerPort:         ":0",
		AlertQueue:         8,
		DefaultRadiusM:     500,
		AuditAppendRetries: 5,
		TrailDefaultLimit:  100,
		TrailMaxLimit:      1000,
	}
}

func TestHealthRoute(t *testing.T) {
	s, err := NewServer(testConfig(), nil, nil, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 status")
	}
}

func TestNewServerRejectsKeyWithoutID(t *testing.T) {
	cfg := testConfig()
	cfg.AuditHMACKey = "secret"
	cfg.AuditHMACKeyID = ""
	if _, err := NewServer(cfg, nil, nil, nil); err == nil {
		t.Fatalf("expected keyring error")
	}
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	s, err := NewServer(testConfig(), nil, nil, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	for _, path := range []string{"/sessions", "/sessions/start", "/tracking/locations", "/audit/sessions/walk-1/seal"} {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.App.Test(req)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, resp.StatusCode)
		}
	}
}

func TestRoutesReachServices(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	s, err := NewServer(testConfig(), mock, nil, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	token, err := auth.SignToken("secret", "owner-1", time.Minute)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	mock.ExpectExec(`INSERT INTO walk_sessions`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader([]byte(`{"pickup_lat":32,"pickup_lng":34.8}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := s.App.Test(req)
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status: %v %d", err, resp.StatusCode)
	}

	mock.ExpectQuery(`FROM audit_blocks WHERE height > \$1`).
		WithArgs(int64(0), 100).
		WillReturnRows(pgxmock.NewRows([]string{"height"}))
	resp, err = s.App.Test(httptest.NewRequest(http.MethodGet, "/audit/verify", nil))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status: %v %d", err, resp.StatusCode)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
