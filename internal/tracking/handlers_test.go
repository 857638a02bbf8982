package tracking

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"drivetracker/internal/backend"

	"github.com/gofiber/fiber/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func newDriveApp(h *harness) *fiber.App {
	app := fiber.New()
	RegisterRoutes(app.Group("/drive"), h.ctrl)
	RegisterMapRoutes(app.Group("/map"), h.ctrl)
	return app
}

func TestDriveRoutesLifecycle(t *testing.T) {
	h := newHarness(t)
	app := newDriveApp(h)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/drive/start", nil))
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("start: %v %d", err, resp.StatusCode)
	}

	// second start conflicts
	resp, _ = app.Test(httptest.NewRequest(http.MethodPost, "/drive/start", nil))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on double start, got %d", resp.StatusCode)
	}

	h.source.initial(posA)
	h.source.watchFix(posB)

	resp, _ = app.Test(httptest.NewRequest(http.MethodGet, "/drive/state", nil))
	var snap map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&snap)
	if snap["status"] != "tracking" {
		t.Fatalf("expected tracking state, got %v", snap)
	}

	resp, _ = app.Test(httptest.NewRequest(http.MethodPost, "/drive/stop", nil))
	var res StopResult
	_ = json.NewDecoder(resp.Body).Decode(&res)
	if resp.StatusCode != http.StatusOK || res.Points != 2 || res.DriveID != "drive-1" {
		t.Fatalf("unexpected stop: %d %+v", resp.StatusCode, res)
	}

	resp, _ = app.Test(httptest.NewRequest(http.MethodGet, "/drive/track.geojson", nil))
	if ct := resp.Header.Get("Content-Type"); ct != "application/geo+json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	feature, err := geojson.UnmarshalFeature(mustRead(t, resp))
	if err != nil {
		t.Fatalf("decode geojson: %v", err)
	}
	line, ok := feature.Geometry.(orb.LineString)
	if !ok || len(line) != 2 || line[0][0] != posA.Lng {
		t.Fatalf("unexpected geometry %#v", feature.Geometry)
	}

	resp, _ = app.Test(httptest.NewRequest(http.MethodPost, "/drive/upload", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected upload 200, got %d", resp.StatusCode)
	}
}

func TestDriveRouteErrors(t *testing.T) {
	h := newHarness(t)
	app := newDriveApp(h)

	resp, _ := app.Test(httptest.NewRequest(http.MethodPost, "/drive/stop", nil))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stop while idle: expected 409, got %d", resp.StatusCode)
	}

	resp, _ = app.Test(httptest.NewRequest(http.MethodPost, "/drive/start", nil))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start: %d", resp.StatusCode)
	}
	resp, _ = app.Test(httptest.NewRequest(http.MethodPost, "/drive/stop", nil))
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("too short: expected 422, got %d", resp.StatusCode)
	}

	h.source.granted = false
	resp, _ = app.Test(httptest.NewRequest(http.MethodPost, "/drive/start", nil))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("denied: expected 403, got %d", resp.StatusCode)
	}

	resp, _ = app.Test(httptest.NewRequest(http.MethodPost, "/drive/sessions/abc/select", nil))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", resp.StatusCode)
	}

	h.backend.sessionErr = &backend.TransportError{Op: "session", Status: 500}
	resp, _ = app.Test(httptest.NewRequest(http.MethodPost, "/drive/sessions/5/select", nil))
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("fetch failure: expected 502, got %d", resp.StatusCode)
	}

	resp, _ = app.Test(httptest.NewRequest(http.MethodGet, "/drive/history?date=yesterday", nil))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad date: expected 400, got %d", resp.StatusCode)
	}

	h.backend.statsErr = backend.ErrUnauthenticated
	resp, _ = app.Test(httptest.NewRequest(http.MethodPost, "/drive/stats/refresh", nil))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("stats without login: expected 401, got %d", resp.StatusCode)
	}
}

func TestHistoryRoute(t *testing.T) {
	h := newHarness(t)
	h.backend.sessions = []backend.SessionSummary{{ID: 3}, {ID: 4}}
	app := newDriveApp(h)

	resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/drive/history?date=2024-07-09", nil))
	var body struct {
		Sessions []backend.SessionSummary `json:"sessions"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || len(body.Sessions) != 2 {
		t.Fatalf("unexpected history: %d %+v", resp.StatusCode, body)
	}
}

func TestThemeRoute(t *testing.T) {
	h := newHarness(t)
	app := newDriveApp(h)

	req := httptest.NewRequest(http.MethodPut, "/map/theme", strings.NewReader(`{"isDarkMode":true}`))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(h.emitter.dark) != 1 || !h.emitter.dark[0] {
		t.Fatalf("expected dark mode forwarded, got %v", h.emitter.dark)
	}
}

func TestToHTTPErrorDefault(t *testing.T) {
	var fe *fiber.Error
	if !errors.As(toHTTPError(errors.New("boom")), &fe) || fe.Code != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 fallback")
	}
}

func mustRead(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return body
}
