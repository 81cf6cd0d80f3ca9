package overlay

import "encoding/json"

// Client-issued actions.
const (
	ActionAddMedia       = "add_media"
	ActionRemoveMedia    = "remove_media"
	ActionUpdateProperty = "update_property"
	ActionClearAll       = "clear_all"
	ActionVerifyVersion  = "verify_version"
	ActionRequestSync    = "request_sync"
)

// Server-issued message tags.
const (
	ActionSyncState         = "sync_state"
	ActionVersionCheck      = "version_check"
	ActionOperationResponse = "operation_response"

	// Control-pool mirror events for overlay-originated mutations.
	ActionMediaAdded      = "media_added"
	ActionMediaRemoved    = "media_removed"
	ActionPropertyUpdated = "property_updated"
	ActionOverlayCleared  = "overlay_cleared"
)

// AddMediaPayload is the "media" object of an add_media action: an optional
// client-supplied id plus the item construction options.
type AddMediaPayload struct {
	ID string `json:"id"`
	ItemOptions
}

// InboundMessage is the union of all client-issued message shapes. Action
// selects which of the remaining fields are meaningful. A non-empty
// RequestID asks for an operation_response acknowledgement.
type InboundMessage struct {
	Action    string `json:"action"`
	RequestID string `json:"request_id"`

	// add_media
	Media *AddMediaPayload `json:"media"`

	// remove_media, update_property
	MediaID  string          `json:"media_id"`
	Property string          `json:"property"`
	Value    json.RawMessage `json:"value"`

	// verify_version
	ClientVersion  int64  `json:"client_version"`
	ClientChecksum string `json:"client_checksum"`
}

// syncStateMessage carries a full state snapshot; it is the only way a
// client goes from unknown to known state.
type syncStateMessage struct {
	Action   string        `json:"action"`
	State    StateSnapshot `json:"state"`
	Version  int64         `json:"version"`
	Checksum string        `json:"checksum"`
}

// mediaEvent is a delta broadcast describing one incremental change.
// Version and Checksum reflect the state after the change; mirror events
// sent to the control pool omit the checksum.
type mediaEvent struct {
	Action       string          `json:"action"`
	Media        *MediaItem      `json:"media,omitempty"`
	MediaID      string          `json:"media_id,omitempty"`
	Property     string          `json:"property,omitempty"`
	Value        json.RawMessage `json:"value,omitempty"`
	ClearedCount *int            `json:"cleared_count,omitempty"`
	Version      int64           `json:"version"`
	Checksum     string          `json:"checksum,omitempty"`
}

// versionCheckMessage answers verify_version. When NeedsSync is true the
// server immediately follows with a sync_state push.
type versionCheckMessage struct {
	Action         string `json:"action"`
	NeedsSync      bool   `json:"needs_sync"`
	ServerVersion  int64  `json:"server_version"`
	ServerChecksum string `json:"server_checksum"`
}

// OperationResponse acknowledges one client operation that carried a
// request_id. Version and Checksum are current at response time:
// post-mutation if the operation succeeded, unchanged if it did not.
type OperationResponse struct {
	RequestID string         `json:"request_id"`
	Success   bool           `json:"success"`
	Action    string         `json:"action"`
	Version   int64          `json:"version"`
	Checksum  string         `json:"checksum"`
	Error     string         `json:"error,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

type operationResponseMessage struct {
	Action   string            `json:"action"`
	Response OperationResponse `json:"response"`
}

// eventRoute describes the fan-out for one mutating action: the delta event
// name for the overlay pool, the mirror event name for the control pool
// (sent only when the action did not originate from a control connection),
// and whether the originating overlay connection is excluded from the delta
// echo because it already applied the change locally.
type eventRoute struct {
	deltaAction   string
	mirrorAction  string
	excludeOrigin bool
}

// eventRoutes drives origin exclusion and dual notification table-style
// instead of per-action branching.
var eventRoutes = map[string]eventRoute{
	ActionAddMedia:       {deltaAction: ActionAddMedia, mirrorAction: ActionMediaAdded},
	ActionRemoveMedia:    {deltaAction: ActionRemoveMedia, mirrorAction: ActionMediaRemoved},
	ActionUpdateProperty: {deltaAction: ActionUpdateProperty, mirrorAction: ActionPropertyUpdated, excludeOrigin: true},
	ActionClearAll:       {deltaAction: ActionClearAll, mirrorAction: ActionOverlayCleared},
}
