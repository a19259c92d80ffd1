package session

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"

	"backend-walkguard/internal/walk"
)

func newSessionApp(svc *Service) *fiber.App {
	app := fiber.New()
	RegisterRoutes(app.Group("/sessions"), svc, func(c *fiber.Ctx) error {
		c.Locals("user_id", "user-1")
		return c.Next()
	})
	return app
}

func post(t *testing.T, app *fiber.App, path, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	return resp
}

func TestCreateHandler(t *testing.T) {
	f := newFixture(t, nil)
	app := newSessionApp(f.svc)

	f.mock.ExpectExec(`INSERT INTO walk_sessions`).
		WithArgs(pgxmock.AnyArg(), "user-1", walk.StatePending, int64(1), pgxmock.AnyArg(), 32.0, 34.8, 250.0,
			pgxmock.AnyArg(), 45, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	resp := post(t, app, "/sessions", `{"pickup_lat":32.0,"pickup_lng":34.8,"safe_zone_radius_m":250,"planned_duration_min":45}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", resp.StatusCode)
	}
	var created struct {
		Session          map[string]any `json:"session"`
		ConfirmationCode string         `json:"confirmation_code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(created.ConfirmationCode) != 6 {
		t.Fatalf("expected code in response")
	}
	if _, leaked := created.Session["confirmation_code_hash"]; leaked {
		t.Fatalf("code hash must not be serialized")
	}

	if resp := post(t, app, "/sessions", `{"pickup_lng":34.8}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing pickup should be 400, got %d", resp.StatusCode)
	}
	if resp := post(t, app, "/sessions", `{"pickup_lat":32,"pickup_lng":34.8,"safe_zone_radius_m":-5}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("negative radius should be 400, got %d", resp.StatusCode)
	}
}

func TestLifecycleHandlersErrors(t *testing.T) {
	f := newFixture(t, nil)
	app := newSessionApp(f.svc)

	if resp := post(t, app, "/sessions/start", `{"session_id":"walk-1","lat":91,"lng":0}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad coordinate should be 400, got %d", resp.StatusCode)
	}
	if resp := post(t, app, "/sessions/start", `{"session_id":"walk-1"}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing coordinate should be 400, got %d", resp.StatusCode)
	}

	f.mock.ExpectQuery(`FROM walk_sessions WHERE id=\$1`).
		WithArgs("walk-1").
		WillReturnRows(sessionRows(confirmedSession(t, "123456")))
	if resp := post(t, app, "/sessions/start", `{"session_id":"walk-1","confirmation_code":"000000","lat":32,"lng":34.8}`); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong code should be 403, got %d", resp.StatusCode)
	}

	pending := confirmedSession(t, "123456")
	pending.State = walk.StatePending
	f.mock.ExpectQuery(`FROM walk_sessions WHERE id=\$1`).
		WithArgs("walk-1").
		WillReturnRows(sessionRows(pending))
	if resp := post(t, app, "/sessions/complete", `{"session_id":"walk-1"}`); resp.StatusCode != http.StatusConflict {
		t.Fatalf("completing a pending walk should be 409, got %d", resp.StatusCode)
	}

	f.mock.ExpectQuery(`FROM walk_sessions WHERE id=\$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/sessions/missing", nil))
	if err != nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404")
	}
}

func TestConfirmHandlerUsesTokenUser(t *testing.T) {
	f := newFixture(t, nil)
	app := newSessionApp(f.svc)
	pending := confirmedSession(t, "123456")
	pending.State, pending.Version = walk.StatePending, 1
	confirmed := confirmedSession(t, "123456")
	confirmed.WalkerID = "user-1"

	f.mock.ExpectQuery(`FROM walk_sessions WHERE id=\$1`).
		WithArgs("walk-1").
		WillReturnRows(sessionRows(pending))
	f.mock.ExpectQuery(`UPDATE walk_sessions SET state=\$4`).
		WithArgs("walk-1", int64(1), walk.StatePending, walk.StateConfirmed, "user-1").
		WillReturnRows(sessionRows(confirmed))

	if resp := post(t, app, "/sessions/walk-1/confirm", ``); resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm status %d", resp.StatusCode)
	}
}
