package overlay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"overlay-sync/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// writeWait bounds how long a single websocket write may block.
const writeWait = 10 * time.Second

// wsConn adapts a gorilla connection to Conn. Writes are serialized by a
// mutex and carry a deadline so one stuck peer cannot wedge a broadcast.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// Handler exposes the websocket channels and the HTTP API using go-chi.
type Handler struct {
	svc      *Service
	state    *SharedState
	registry *ConnectionRegistry
	library  *Library
	log      *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// NewHandler returns a Handler over the given collaborators.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, state *SharedState, registry *ConnectionRegistry, library *Library, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		svc:      svc,
		state:    state,
		registry: registry,
		library:  library,
		log:      log,
		metrics:  m,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ControlSocket handles GET /ws/control.
func (h *Handler) ControlSocket(w http.ResponseWriter, r *http.Request) {
	h.serveSocket(w, r, PoolControl)
}

// OverlaySocket handles GET /ws/overlay.
func (h *Handler) OverlaySocket(w http.ResponseWriter, r *http.Request) {
	h.serveSocket(w, r, PoolOverlay)
}

// serveSocket runs one connection's lifecycle: upgrade, register, push the
// full-state snapshot, then read messages until the transport closes. Each
// message is handled in isolation; only a transport error ends the loop.
// Disconnection is silent towards other clients.
func (h *Handler) serveSocket(w http.ResponseWriter, r *http.Request, pool Pool) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	conn := &wsConn{conn: ws}
	h.registry.Register(conn, pool)
	defer func() {
		h.registry.Unregister(conn, pool)
		ws.Close()
	}()

	if err := h.svc.SendSyncState(conn); err != nil {
		h.log.Warn("initial sync failed",
			slog.String("pool", string(pool)),
			slog.String("error", err.Error()))
		return
	}

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			h.log.Debug("read loop ended",
				slog.String("pool", string(pool)),
				slog.String("remote", ws.RemoteAddr().String()),
				slog.String("error", err.Error()))
			return
		}
		h.svc.HandleMessage(pool, conn, raw)
	}
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rev := h.state.Revision()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"timestamp":      time.Now().Unix(),
		"connections":    h.registry.Counts(),
		"media_count":    h.state.ItemCount(),
		"state_version":  rev.Version,
		"state_checksum": rev.Checksum,
	})
}

// StateVersion handles GET /api/state/version.
func (h *Handler) StateVersion(w http.ResponseWriter, r *http.Request) {
	rev := h.state.Revision()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":       rev.Version,
		"checksum":      rev.Checksum,
		"item_count":    h.state.ItemCount(),
		"last_modified": h.state.LastModified(),
	})
}

// ListMedia handles GET /api/media: the library listing.
func (h *Handler) ListMedia(w http.ResponseWriter, r *http.Request) {
	items, err := h.library.Scan()
	if err != nil {
		h.log.Error("library scan failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "scan failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ScanMedia handles GET /api/media/scan.
func (h *Handler) ScanMedia(w http.ResponseWriter, r *http.Request) {
	items, err := h.library.Scan()
	if err != nil {
		h.log.Error("library scan failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "scan failed"})
		return
	}
	h.log.Info("library scanned", slog.Int("count", len(items)))
	writeJSON(w, http.StatusOK, map[string]any{"scanned": len(items), "items": items})
}

// UploadMedia handles POST /api/media/upload. The file is stored in the
// library only; nothing is added to the active state.
func (h *Handler) UploadMedia(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing file field"})
		return
	}
	defer file.Close()

	item, err := h.library.Save(header.Filename, header.Header.Get("Content-Type"), file)
	switch {
	case errors.Is(err, ErrUnsupportedMedia):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	case errors.Is(err, ErrFileTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": err.Error()})
		return
	case err != nil:
		h.log.Error("upload failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "upload failed"})
		return
	}

	if h.metrics != nil {
		h.metrics.IncUploads()
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": item.ID, "url": item.URL, "item": item})
}

// DeleteMedia handles DELETE /api/media/{media_id}: removes one item from
// the active state. The API acts as a control surface here, so only the
// overlay pool hears the removal; controls get no mirror.
func (h *Handler) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	mediaID := chi.URLParam(r, "media_id")
	if mediaID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if _, err := h.svc.RemoveMedia(mediaID, PoolControl, nil); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "media item not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": mediaID})
}

// DeleteFromLibrary handles DELETE /api/media/library/{filename}: removes
// the file from disk and cascades removal of every active item backed by
// it.
func (h *Handler) DeleteFromLibrary(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if filename == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.library.Delete(filename); err != nil {
		if errors.Is(err, ErrFileNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "file not found"})
			return
		}
		h.log.Error("library delete failed", slog.String("filename", filename), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "delete failed"})
		return
	}

	removed := 0
	for id, item := range h.state.Snapshot().Items {
		if item.Filename == filename || strings.Contains(item.URL, filename) {
			if _, err := h.svc.RemoveMedia(id, "", nil); err == nil {
				removed++
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":                     "deleted",
		"filename":                   filename,
		"removed_from_overlay_count": removed,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
