package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type staticToken string

func (s staticToken) AccessToken(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("missing")
	}
	return string(s), nil
}

func newTestClient(t *testing.T, token string, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", srv.Client(), staticToken(token), time.Second)
}

func TestSessionsByDateWrapped(t *testing.T) {
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/drive/by-date" || r.URL.Query().Get("date") != "2025-03-04" {
			t.Errorf("unexpected request %s", r.URL)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("expected bearer header")
		}
		_, _ = w.Write([]byte(`{"sessions":[{"id":7,"total_km":"1.5"}]}`))
	})

	sessions, err := c.SessionsByDate(context.Background(), time.Date(2025, 3, 4, 18, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != 7 || string(sessions[0].TotalKm) != `"1.5"` {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
}

func TestSessionsByDateBareListAndEmpty(t *testing.T) {
	body := `[{"id":1},{"id":2}]`
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("expected no auth header without token")
		}
		_, _ = w.Write([]byte(body))
	})

	sessions, err := c.SessionsByDate(context.Background(), time.Now())
	if err != nil || len(sessions) != 2 {
		t.Fatalf("unexpected result: %v %v", sessions, err)
	}

	body = `{"message":"none"}`
	sessions, err = c.SessionsByDate(context.Background(), time.Now())
	if err != nil || sessions == nil || len(sessions) != 0 {
		t.Fatalf("expected empty list: %v %v", sessions, err)
	}
}

func TestSessionKeepsRawBody(t *testing.T) {
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/drive/session/42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"start_time":"2025-01-01T08:00:00Z","meta_data":"{\"path\":[[1,2]]}"}`))
	})

	detail, err := c.Session(context.Background(), 42)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if detail.ID != 42 || string(detail.StartTime) != `"2025-01-01T08:00:00Z"` || len(detail.Raw) == 0 {
		t.Fatalf("unexpected detail: %+v", detail)
	}
}

func TestSessionStatusError(t *testing.T) {
	c := newTestClient(t, "tok", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Session(context.Background(), 1)
	var te *TransportError
	if !errors.As(err, &te) || te.Status != http.StatusNotFound {
		t.Fatalf("expected transport error with 404, got %v", err)
	}
	if te.Error() == "" {
		t.Fatalf("expected message")
	}
}

func TestStats(t *testing.T) {
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/drive/total-km":
			_, _ = w.Write([]byte(`{"total_km":"120.5"}`))
		case "/drive/today-km":
			_, _ = w.Write([]byte(`{"today_km":3.25}`))
		}
	})

	total, err := c.TotalKm(context.Background())
	if err != nil || total != 120.5 {
		t.Fatalf("total: %v %v", total, err)
	}
	today, err := c.TodayKm(context.Background())
	if err != nil || today != 3.25 {
		t.Fatalf("today: %v %v", today, err)
	}
}

func TestStatsWithoutTokenSkipsCall(t *testing.T) {
	called := false
	c := newTestClient(t, "", func(http.ResponseWriter, *http.Request) { called = true })

	if _, err := c.TotalKm(context.Background()); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if called {
		t.Fatalf("expected no request without token")
	}
}

func TestUploadDrive(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/drive/add-point" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusCreated)
	})

	speed := 4.5
	err := c.UploadDrive(context.Background(), UploadRequest{
		UserID:     float64(9),
		EmployeeID: "E-1",
		StartTime:  1000,
		EndTime:    2000,
		TrackPoints: []TrackPoint{
			{Lat: 1, Lng: 2, Timestamp: 1000, Speed: &speed},
			{Lat: 1.1, Lng: 2.1, Timestamp: 2000},
		},
		Distance: 15.2,
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if got["userId"] != float64(9) || got["employeeId"] != "E-1" || got["distance"] != 15.2 {
		t.Fatalf("unexpected payload: %v", got)
	}
	if _, ok := got["phone"]; !ok || got["phone"] != nil {
		t.Fatalf("expected phone null, got %v", got["phone"])
	}
	points := got["trackPoints"].([]any)
	second := points[1].(map[string]any)
	if second["speed"] != nil || second["heading"] != nil {
		t.Fatalf("expected null speed/heading: %v", second)
	}
}

func TestUploadDriveRejected(t *testing.T) {
	c := newTestClient(t, "tok", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	err := c.UploadDrive(context.Background(), UploadRequest{})
	var te *TransportError
	if !errors.As(err, &te) || te.Status != http.StatusAccepted {
		t.Fatalf("expected rejection for 202, got %v", err)
	}
}

func TestUploadDriveTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), staticToken("tok"), 20*time.Millisecond)
	err := c.UploadDrive(context.Background(), UploadRequest{})
	var te *TransportError
	if !errors.As(err, &te) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline transport error, got %v", err)
	}
}

func TestParseKm(t *testing.T) {
	cases := map[string]float64{`12.5`: 12.5, `"7"`: 7, `null`: 0, `"x"`: 0, ``: 0}
	for raw, want := range cases {
		if got := parseKm(json.RawMessage(raw)); got != want {
			t.Fatalf("parseKm(%q) = %v, want %v", raw, got, want)
		}
	}
}
