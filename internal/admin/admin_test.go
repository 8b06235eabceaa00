package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"originflux/internal/media"
	"originflux/internal/registry"
	"originflux/internal/session"
)

func newTestMux(t *testing.T, token string) (*http.ServeMux, *session.Manager) {
	t.Helper()
	mgr := session.NewManager()
	svc := New(mgr, token)
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	return mux, mgr
}

func publishTestStream(t *testing.T, mgr *session.Manager, app, name string) registry.Key {
	t.Helper()
	key := registry.NewKey("default", app, name)
	tracks := []media.Track{{ID: 0, Kind: media.KindVideo, Codec: media.CodecH264, Timebase: media.Timebase{Num: 1, Den: 1000}}}
	if _, _, err := mgr.Publish(key, tracks, "test"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	return key
}

func TestAdminRejectsMissingBearerToken(t *testing.T) {
	mux, _ := newTestMux(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/streams", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAdminAcceptsValidBearerToken(t *testing.T) {
	mux, mgr := newTestMux(t, "secret")
	publishTestStream(t, mgr, "live", "stream1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/streams", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if env.StatusCode != http.StatusOK {
		t.Fatalf("envelope statusCode = %d, want 200", env.StatusCode)
	}
}

func TestAdminNoTokenDisablesAuth(t *testing.T) {
	mux, _ := newTestMux(t, "")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/vhosts", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAdminGetStreamByName(t *testing.T) {
	mux, mgr := newTestMux(t, "")
	publishTestStream(t, mgr, "live", "stream2")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/streams/live/stream2", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestAdminGetStreamByNameNotFound(t *testing.T) {
	mux, _ := newTestMux(t, "")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/streams/live/missing", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAdminDeleteStreamTerminates(t *testing.T) {
	mux, mgr := newTestMux(t, "")
	key := publishTestStream(t, mgr, "live", "stream3")

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/streams/live/stream3", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	if _, ok := mgr.RouterFor(key); ok {
		t.Fatal("expected router torn down after DELETE /streams/{app}/{name}")
	}
}

func TestAdminDeleteSubscriberNotFound(t *testing.T) {
	mux, mgr := newTestMux(t, "")
	publishTestStream(t, mgr, "live", "stream4")

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/streams/live/stream4/subscribers/"+"00000000-0000-0000-0000-000000000000", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body=%s", rec.Code, rec.Body.String())
	}
}

func TestAdminDeleteSubscriberRemovesJoinedSubscriber(t *testing.T) {
	mux, mgr := newTestMux(t, "")
	key := publishTestStream(t, mgr, "live", "stream5")

	sub, _, pp, err := mgr.Join(key, 16, 0, 1<<20)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if pp.SubscriberCount() != 1 {
		t.Fatalf("subscriber count = %d, want 1", pp.SubscriberCount())
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/streams/live/stream5/subscribers/"+sub.ID.String(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if pp.SubscriberCount() != 0 {
		t.Fatalf("subscriber count after delete = %d, want 0", pp.SubscriberCount())
	}
}
