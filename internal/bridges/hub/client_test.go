package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hubrelay/internal/entity"
)

const testToken = "test-token"

const bedroomJSON = `{
	"entity_id": "light.bedroom",
	"state": "on",
	"attributes": {"brightness": 200, "Friendly Name": "Bedroom", "color_temp": 3.5, "effect": null},
	"last_changed": "2026-05-01T10:00:00+00:00",
	"last_updated": "2026-05-01T10:00:05.5+00:00",
	"last_reported": "2026-05-01T10:00:05.5+00:00"
}`

// fakeREST is a minimal hub REST API.
type fakeREST struct {
	mu       sync.Mutex
	lastBody map[string]any
	lastPath string
}

func (f *fakeREST) last() (string, map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPath, f.lastBody
}

func (f *fakeREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+testToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var body map[string]any
	if b, _ := io.ReadAll(r.Body); len(b) > 0 {
		_ = json.Unmarshal(b, &body)
	}
	f.mu.Lock()
	f.lastPath = r.Method + " " + r.URL.Path
	f.lastBody = body
	f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/":
		_, _ = io.WriteString(w, `{"message":"API running."}`)
	case r.Method == http.MethodGet && r.URL.Path == "/api/states/light.bedroom":
		_, _ = io.WriteString(w, bedroomJSON)
	case r.Method == http.MethodGet && r.URL.Path == "/api/states/sensor.broken":
		_, _ = io.WriteString(w, `{"entity_id":"sensor.broken","state":"1"}`)
	case r.Method == http.MethodGet && r.URL.Path == "/api/states/sensor.boom":
		w.WriteHeader(http.StatusInternalServerError)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/states/"):
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodGet && r.URL.Path == "/api/states":
		_, _ = io.WriteString(w, "["+bedroomJSON+`,{"entity_id":"bad id"}]`)
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/states/"):
		id := strings.TrimPrefix(r.URL.Path, "/api/states/")
		attrs, _ := json.Marshal(body["attributes"])
		state, _ := json.Marshal(body["state"])
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"entity_id":"`+id+`","state":`+string(state)+`,"attributes":`+string(attrs)+
			`,"last_changed":"2026-05-01T11:00:00Z","last_updated":"2026-05-01T11:00:00Z"}`)
	case r.Method == http.MethodDelete && r.URL.Path == "/api/states/light.bedroom":
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPost && r.URL.Path == "/api/services/light/turn_on":
		_, _ = io.WriteString(w, "["+bedroomJSON+"]")
	case r.Method == http.MethodPost && r.URL.Path == "/api/services/light/explode":
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "unknown service")
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T) (*Client, *fakeREST) {
	t.Helper()
	fake := &fakeREST{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, testToken, time.Second)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c, fake
}

func TestNewClient_InvalidURL(t *testing.T) {
	if _, err := NewClient("hub.local:8123", testToken, 0); err == nil {
		t.Error("NewClient() with schemeless url error = nil")
	}
}

func TestClient_Health(t *testing.T) {
	c, _ := newTestClient(t)
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health() error = %v", err)
	}

	bad, _ := NewClient(c.BaseURL(), "wrong", time.Second)
	if err := bad.Health(context.Background()); !errors.Is(err, ErrAuthRejected) {
		t.Errorf("Health() with wrong token error = %v, want ErrAuthRejected", err)
	}
}

func TestClient_GetState(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	snap, err := c.GetState(ctx, entity.MustID("light.bedroom"))
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if snap.State != "on" {
		t.Errorf("State = %q, want on", snap.State)
	}
	if v, _ := snap.Attribute("brightness"); v.Kind() != entity.KindInteger {
		t.Errorf("brightness kind = %s, want integer", v.Kind())
	}
	if v, _ := snap.Attribute("color_temp"); v.Kind() != entity.KindFloat {
		t.Errorf("color_temp kind = %s, want float", v.Kind())
	}
	if _, ok := snap.Attribute("friendly_name"); !ok {
		t.Error("friendly_name missing; attribute names not normalized")
	}
	if _, ok := snap.Attribute("effect"); ok {
		t.Error("null attribute was kept")
	}
	if v, _ := snap.Attribute(entity.AttrLastChanged); v.Kind() != entity.KindTimestamp {
		t.Errorf("last_changed kind = %s, want timestamp", v.Kind())
	}
	want := time.Date(2026, 5, 1, 10, 0, 5, 500_000_000, time.UTC)
	if !snap.LastUpdated.Equal(want) {
		t.Errorf("LastUpdated = %v, want %v", snap.LastUpdated, want)
	}
}

func TestClient_GetStateErrors(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	tests := []struct {
		id   string
		want error
	}{
		{"light.nowhere", ErrEntityNotFound},
		{"sensor.broken", ErrMalformedResponse},
		{"sensor.boom", ErrRequestFailed},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			_, err := c.GetState(ctx, entity.MustID(tt.id))
			if !errors.Is(err, tt.want) {
				t.Errorf("GetState(%s) error = %v, want %v", tt.id, err, tt.want)
			}
		})
	}
}

func TestClient_GetStatesSkipsMalformed(t *testing.T) {
	c, _ := newTestClient(t)
	snaps, err := c.GetStates(context.Background())
	if err != nil {
		t.Fatalf("GetStates() error = %v", err)
	}
	if len(snaps) != 1 || snaps[0].ID.String() != "light.bedroom" {
		t.Errorf("GetStates() = %v, want only light.bedroom", snaps)
	}
}

func TestClient_SetState(t *testing.T) {
	c, fake := newTestClient(t)
	id := entity.MustID("input_text.note")

	snap, err := c.SetState(context.Background(), id, "hello", map[string]entity.Value{
		"count": entity.MustValue(3),
	})
	if err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	path, body := fake.last()
	if path != "POST /api/states/input_text.note" {
		t.Errorf("request = %q", path)
	}
	if body["state"] != "hello" {
		t.Errorf("body state = %v", body["state"])
	}
	if snap.State != "hello" {
		t.Errorf("returned State = %q", snap.State)
	}
	if v, _ := snap.Attribute("count"); v.String() != "3" {
		t.Errorf("returned count = %v", v)
	}
}

func TestClient_DeleteState(t *testing.T) {
	c, _ := newTestClient(t)
	if err := c.DeleteState(context.Background(), entity.MustID("light.bedroom")); err != nil {
		t.Fatalf("DeleteState() error = %v", err)
	}
	if err := c.DeleteState(context.Background(), entity.MustID("light.gone")); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("DeleteState(missing) error = %v, want ErrEntityNotFound", err)
	}
}

func TestClient_CallService(t *testing.T) {
	c, fake := newTestClient(t)

	changed, err := c.CallService(context.Background(), "light", "turn_on", entity.MustID("light.bedroom"),
		map[string]any{"brightness": 128})
	if err != nil {
		t.Fatalf("CallService() error = %v", err)
	}
	_, body := fake.last()
	if body["entity_id"] != "light.bedroom" {
		t.Errorf("entity_id not sent: %v", body)
	}
	if body["brightness"] != float64(128) {
		t.Errorf("params not sent: %v", body)
	}
	if len(changed) != 1 {
		t.Errorf("changed = %d states, want 1", len(changed))
	}

	_, err = c.CallService(context.Background(), "light", "explode", entity.ID{}, nil)
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("CallService(bad) error = %v, want ErrRequestFailed", err)
	}
}

func TestStateString(t *testing.T) {
	tests := map[string]string{
		`"on"`: "on",
		`21.5`: "21.5",
		`true`: "true",
		`null`: "",
		` 7 `:  "7",
	}
	for raw, want := range tests {
		got, err := stateString(json.RawMessage(raw))
		if err != nil {
			t.Errorf("stateString(%s) error = %v", raw, err)
			continue
		}
		if got != want {
			t.Errorf("stateString(%s) = %q, want %q", raw, got, want)
		}
	}
}
