package overlay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"overlay-sync/internal/platform/metrics"
)

// ErrUnknownAction is returned for an inbound message whose action is not
// part of the protocol.
var ErrUnknownAction = errors.New("unknown action")

// ErrMissingMedia is returned when add_media arrives without a media object.
var ErrMissingMedia = errors.New("add_media requires a media object")

// Service interprets client-issued actions, applies them to the shared
// state, and drives the routed broadcasts plus optional operation
// acknowledgements. One Service instance is shared by every connection.
type Service struct {
	state    *SharedState
	registry *ConnectionRegistry
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewService returns a Service over the given state and registry.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewService(state *SharedState, registry *ConnectionRegistry, log *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{state: state, registry: registry, log: log, metrics: m}
}

// HandleMessage processes one raw inbound message from conn, which lives in
// pool. Errors never escape: a malformed or failing message produces a
// failure acknowledgement when it carried a request_id and otherwise only a
// log line, so the connection's receive loop always continues.
func (s *Service) HandleMessage(pool Pool, conn Conn, raw []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.log.Warn("malformed message", slog.String("pool", string(pool)), slog.String("error", err.Error()))
		s.countError()
		return
	}

	data, err := s.apply(pool, conn, &msg)
	if err != nil {
		s.log.Warn("message failed",
			slog.String("pool", string(pool)),
			slog.String("msg_action", msg.Action),
			slog.String("error", err.Error()))
		s.countError()
	}

	if msg.RequestID == "" {
		return
	}
	rev := s.state.Revision()
	resp := OperationResponse{
		RequestID: msg.RequestID,
		Success:   err == nil,
		Action:    msg.Action,
		Version:   rev.Version,
		Checksum:  rev.Checksum,
		Data:      data,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	if serr := s.registry.SendTo(conn, operationResponseMessage{Action: ActionOperationResponse, Response: resp}); serr != nil {
		s.log.Warn("acknowledgement send failed", slog.String("error", serr.Error()))
	}
}

// apply dispatches one decoded message. The returned data, if any, becomes
// the acknowledgement's result payload.
func (s *Service) apply(pool Pool, conn Conn, msg *InboundMessage) (map[string]any, error) {
	switch msg.Action {
	case ActionAddMedia:
		if msg.Media == nil {
			return nil, ErrMissingMedia
		}
		item := s.AddMedia(*msg.Media, pool, conn)
		return map[string]any{"media": item}, nil

	case ActionRemoveMedia:
		if _, err := s.RemoveMedia(msg.MediaID, pool, conn); err != nil {
			return nil, err
		}
		return nil, nil

	case ActionUpdateProperty:
		if _, err := s.UpdateMediaProperty(msg.MediaID, msg.Property, msg.Value, pool, conn); err != nil {
			return nil, err
		}
		return nil, nil

	case ActionClearAll:
		n := s.ClearAll(pool, conn)
		return map[string]any{"cleared_count": n}, nil

	case ActionVerifyVersion:
		return nil, s.verifyVersion(conn, msg.ClientVersion, msg.ClientChecksum)

	case ActionRequestSync:
		return nil, s.SendSyncState(conn)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, msg.Action)
	}
}

// AddMedia constructs an item from the payload (generating an id when none
// was supplied, defaulting z_index to the current item count, always
// starting visible), stores it, and fans the delta out. origin/originPool
// identify the connection the action came from; both may be zero for
// HTTP-originated mutations.
func (s *Service) AddMedia(payload AddMediaPayload, originPool Pool, origin Conn) MediaItem {
	id := payload.ID
	if id == "" {
		id = uuid.NewString()
	}

	opts := payload.ItemOptions
	if opts.ZIndex == nil {
		n := s.state.ItemCount()
		opts.ZIndex = &n
	}
	visible := true
	opts.Visible = &visible

	item := NewMediaItem(id, opts)
	rev := s.state.AddItem(item)
	s.countMutation()
	s.fanOut(ActionAddMedia, mediaEvent{Media: &item}, rev, originPool, origin)

	s.log.Info("media added",
		slog.String("media_id", item.ID),
		slog.String("filename", item.Filename),
		slog.Int64("version", rev.Version))
	return item
}

// RemoveMedia removes the item with the given id and fans the delta out.
// On ErrItemNotFound nothing is broadcast.
func (s *Service) RemoveMedia(id string, originPool Pool, origin Conn) (MediaItem, error) {
	removed, rev, err := s.state.RemoveItem(id)
	if err != nil {
		return MediaItem{}, err
	}
	s.countMutation()
	s.fanOut(ActionRemoveMedia, mediaEvent{MediaID: id}, rev, originPool, origin)

	s.log.Info("media removed",
		slog.String("media_id", id),
		slog.String("filename", removed.Filename),
		slog.Int64("version", rev.Version))
	return removed, nil
}

// UpdateMediaProperty merges a single property into the item and fans the
// delta out. When the action came from an overlay connection the delta echo
// excludes that connection; the control-pool mirror never excludes anyone.
func (s *Service) UpdateMediaProperty(id, property string, value json.RawMessage, originPool Pool, origin Conn) (MediaItem, error) {
	updated, rev, err := s.state.UpdateItem(id, property, value)
	if err != nil {
		return MediaItem{}, err
	}
	s.countMutation()
	s.fanOut(ActionUpdateProperty, mediaEvent{MediaID: id, Property: property, Value: value}, rev, originPool, origin)

	s.log.Info("property updated",
		slog.String("media_id", id),
		slog.String("property", property),
		slog.Int64("version", rev.Version))
	return updated, nil
}

// ClearAll wipes all items, returning the pre-clear count, and fans the
// event out with that count as payload metadata.
func (s *Service) ClearAll(originPool Pool, origin Conn) int {
	n, rev := s.state.Clear()
	s.countMutation()
	cleared := n
	s.fanOut(ActionClearAll, mediaEvent{ClearedCount: &cleared}, rev, originPool, origin)

	s.log.Info("overlay cleared",
		slog.Int("cleared_count", n),
		slog.Int64("version", rev.Version))
	return n
}

// SendSyncState pushes a full state snapshot to a single connection.
func (s *Service) SendSyncState(conn Conn) error {
	snap := s.state.Snapshot()
	return s.registry.SendTo(conn, syncStateMessage{
		Action:   ActionSyncState,
		State:    snap,
		Version:  snap.Version,
		Checksum: snap.Checksum,
	})
}

// verifyVersion answers a client's reported (version, checksum) pair. A
// mismatch in either triggers an immediate sync_state push after the
// version_check, so a diverged client heals without a separate request.
func (s *Service) verifyVersion(conn Conn, clientVersion int64, clientChecksum string) error {
	rev := s.state.Revision()
	needsSync := clientVersion != rev.Version || clientChecksum != rev.Checksum

	if err := s.registry.SendTo(conn, versionCheckMessage{
		Action:         ActionVersionCheck,
		NeedsSync:      needsSync,
		ServerVersion:  rev.Version,
		ServerChecksum: rev.Checksum,
	}); err != nil {
		return err
	}

	if !needsSync {
		return nil
	}
	s.log.Info("client out of sync",
		slog.Int64("client_version", clientVersion),
		slog.Int64("server_version", rev.Version))
	return s.SendSyncState(conn)
}

// fanOut routes one mutation event per the eventRoutes table: the delta
// (version + checksum) goes to the overlay pool, and unless the action came
// from a control connection, the mirror (version only) goes to the control
// pool. rev is the revision the mutation itself produced; re-reading the
// state here instead would let a concurrent mutation slip in between the
// bump and the broadcast and label two deltas with the same revision.
func (s *Service) fanOut(action string, ev mediaEvent, rev Revision, originPool Pool, origin Conn) {
	route := eventRoutes[action]

	delta := ev
	delta.Action = route.deltaAction
	delta.Version = rev.Version
	delta.Checksum = rev.Checksum

	var exclude Conn
	if route.excludeOrigin && originPool == PoolOverlay {
		exclude = origin
	}
	s.registry.Broadcast(PoolOverlay, delta, exclude)

	if originPool != PoolControl {
		mirror := ev
		mirror.Action = route.mirrorAction
		mirror.Version = rev.Version
		s.registry.Broadcast(PoolControl, mirror, nil)
	}
}

func (s *Service) countMutation() {
	if s.metrics != nil {
		s.metrics.IncMutations()
	}
}

func (s *Service) countError() {
	if s.metrics != nil {
		s.metrics.IncProcessingErrors()
	}
}
