package overlay

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type testEnv struct {
	handler  *Handler
	state    *SharedState
	registry *ConnectionRegistry
	library  *Library
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := testLogger()
	library, err := NewLibrary(t.TempDir(), 1<<20, log)
	if err != nil {
		t.Fatal(err)
	}
	state := NewSharedState()
	registry := NewConnectionRegistry(log, nil)
	svc := NewService(state, registry, log, nil)
	h := NewHandler(svc, state, registry, library, log, nil)
	return &testEnv{handler: h, state: state, registry: registry, library: library}
}

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Get("/ws/control", h.ControlSocket)
	r.Get("/ws/overlay", h.OverlaySocket)
	r.Route("/api", func(r chi.Router) {
		r.Get("/state/version", h.StateVersion)
		r.Get("/media", h.ListMedia)
		r.Get("/media/scan", h.ScanMedia)
		r.Post("/media/upload", h.UploadMedia)
		r.Delete("/media/library/{filename}", h.DeleteFromLibrary)
		r.Delete("/media/{media_id}", h.DeleteMedia)
	})
	return r
}

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	return ws
}

func readWS(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := ws.ReadJSON(v); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestWebSocket_initial_sync_and_fanout(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(newTestRouter(env.handler))
	defer srv.Close()

	overlayWS := dialWS(t, srv, "/ws/overlay")
	defer overlayWS.Close()
	controlWS := dialWS(t, srv, "/ws/control")
	defer controlWS.Close()

	// Every connection starts with a full-state snapshot.
	var sync map[string]any
	readWS(t, overlayWS, &sync)
	if sync["action"] != "sync_state" || sync["version"] != float64(0) {
		t.Fatalf("overlay initial sync: got %v", sync)
	}
	readWS(t, controlWS, &sync)
	if sync["action"] != "sync_state" {
		t.Fatalf("control initial sync: got %v", sync)
	}

	err := controlWS.WriteJSON(map[string]any{
		"action":     "add_media",
		"request_id": "r1",
		"media":      map[string]any{"id": "a", "type": "image", "url": "/static/media/x.png"},
	})
	if err != nil {
		t.Fatal(err)
	}

	var delta map[string]any
	readWS(t, overlayWS, &delta)
	if delta["action"] != "add_media" || delta["version"] != float64(1) {
		t.Errorf("delta: got %v", delta)
	}
	media, _ := delta["media"].(map[string]any)
	if media["id"] != "a" {
		t.Errorf("delta media: got %v", media)
	}

	var ack map[string]any
	readWS(t, controlWS, &ack)
	if ack["action"] != "operation_response" {
		t.Fatalf("ack: got %v", ack)
	}
	resp, _ := ack["response"].(map[string]any)
	if resp["request_id"] != "r1" || resp["success"] != true || resp["version"] != float64(1) {
		t.Errorf("ack response: got %v", resp)
	}

	if env.state.Version() != 1 {
		t.Errorf("state version: got %d", env.state.Version())
	}
}

func TestWebSocket_verify_version_self_heals(t *testing.T) {
	env := newTestEnv(t)
	env.state.AddItem(NewMediaItem("a", ItemOptions{}))
	env.state.AddItem(NewMediaItem("b", ItemOptions{}))
	srv := httptest.NewServer(newTestRouter(env.handler))
	defer srv.Close()

	ws := dialWS(t, srv, "/ws/overlay")
	defer ws.Close()

	var sync map[string]any
	readWS(t, ws, &sync)

	if err := ws.WriteJSON(map[string]any{
		"action":          "verify_version",
		"client_version":  0,
		"client_checksum": "stale",
	}); err != nil {
		t.Fatal(err)
	}

	var check map[string]any
	readWS(t, ws, &check)
	if check["action"] != "version_check" || check["needs_sync"] != true {
		t.Fatalf("version_check: got %v", check)
	}

	readWS(t, ws, &sync)
	if sync["action"] != "sync_state" || sync["version"] != float64(2) {
		t.Errorf("sync_state: got %v", sync)
	}
}

func TestWebSocket_disconnect_unregisters(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(newTestRouter(env.handler))
	defer srv.Close()

	ws := dialWS(t, srv, "/ws/overlay")
	var sync map[string]any
	readWS(t, ws, &sync)
	if env.registry.Counts()["overlay"] != 1 {
		t.Fatalf("counts: got %v", env.registry.Counts())
	}

	ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if env.registry.Counts()["overlay"] == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("connection still registered after close: %v", env.registry.Counts())
}

func TestHandler_Health(t *testing.T) {
	env := newTestEnv(t)
	env.state.AddItem(NewMediaItem("a", ItemOptions{}))
	r := newTestRouter(env.handler)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" || body["media_count"] != float64(1) || body["state_version"] != float64(1) {
		t.Errorf("health: got %v", body)
	}
	if conns, _ := body["connections"].(map[string]any); conns["total"] != float64(0) {
		t.Errorf("connections: got %v", body["connections"])
	}
}

func TestHandler_StateVersion(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(env.handler)

	req := httptest.NewRequest(http.MethodGet, "/api/state/version", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body["version"] != float64(0) || body["item_count"] != float64(0) {
		t.Errorf("state version: got %v", body)
	}
	if cs, _ := body["checksum"].(string); len(cs) != 8 {
		t.Errorf("checksum: got %v", body["checksum"])
	}
}

func TestHandler_DeleteMedia(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(env.handler)

	t.Run("not_found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/media/missing", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("removes_active_item", func(t *testing.T) {
		env.state.AddItem(NewMediaItem("a", ItemOptions{}))
		ctrl, ov := &fakeConn{}, &fakeConn{}
		env.registry.Register(ctrl, PoolControl)
		env.registry.Register(ov, PoolOverlay)
		defer env.registry.Unregister(ctrl, PoolControl)
		defer env.registry.Unregister(ov, PoolOverlay)

		req := httptest.NewRequest(http.MethodDelete, "/api/media/a", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if env.state.ItemCount() != 0 {
			t.Errorf("items: got %d", env.state.ItemCount())
		}

		// The API delete notifies overlays only.
		msgs := ov.messages()
		if len(msgs) != 1 {
			t.Fatalf("overlay: got %d messages, want 1", len(msgs))
		}
		if ev := msgs[0].(mediaEvent); ev.Action != ActionRemoveMedia || ev.MediaID != "a" {
			t.Errorf("delta: got %+v", ev)
		}
		if got := ctrl.messages(); len(got) != 0 {
			t.Errorf("control should see no mirror, got %v", got)
		}
	})
}

func uploadRequest(t *testing.T, filename, contentType, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/media/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandler_UploadMedia(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(env.handler)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, uploadRequest(t, "pic.png", "image/png", "png bytes"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&body)
	url, _ := body["url"].(string)
	if !strings.HasPrefix(url, "/static/media/") {
		t.Errorf("url: got %q", url)
	}
	if !env.library.Exists(url) {
		t.Error("uploaded file should exist in the library")
	}
	// Uploads go to the library only, never into the active state.
	if env.state.ItemCount() != 0 {
		t.Errorf("state items: got %d", env.state.ItemCount())
	}

	t.Run("unsupported_type", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, uploadRequest(t, "note.txt", "text/plain", "hi"))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})
}

func TestHandler_DeleteFromLibrary_cascades(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(env.handler)

	item, err := env.library.Save("pic.png", "image/png", strings.NewReader("png bytes"))
	if err != nil {
		t.Fatal(err)
	}
	stored := strings.TrimPrefix(item.URL, "/static/media/")

	// One active item backed by the file, one unrelated.
	env.state.AddItem(NewMediaItem("active", ItemOptions{URL: item.URL, Filename: item.Filename}))
	env.state.AddItem(NewMediaItem("other", ItemOptions{URL: "/static/media/else.png"}))

	// Library deletes do mirror the cascade to controls, unlike the plain
	// item delete, since controls list the library.
	ctrl := &fakeConn{}
	env.registry.Register(ctrl, PoolControl)
	defer env.registry.Unregister(ctrl, PoolControl)

	req := httptest.NewRequest(http.MethodDelete, "/api/media/library/"+stored, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body["removed_from_overlay_count"] != float64(1) {
		t.Errorf("cascade count: got %v", body["removed_from_overlay_count"])
	}
	if env.library.Exists(item.URL) {
		t.Error("file should be gone from the library")
	}
	if env.state.ItemCount() != 1 {
		t.Errorf("state items: got %d", env.state.ItemCount())
	}

	mirrors := ctrl.messages()
	if len(mirrors) != 1 {
		t.Fatalf("control mirrors: got %d, want 1", len(mirrors))
	}
	if ev := mirrors[0].(mediaEvent); ev.Action != ActionMediaRemoved || ev.MediaID != "active" {
		t.Errorf("mirror: got %+v", ev)
	}

	t.Run("missing_file", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/media/library/nope.png", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}
