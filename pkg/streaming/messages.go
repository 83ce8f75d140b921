package streaming

import (
	"encoding/json"

	"github.com/OCAP2/markersync/pkg/core"
	"github.com/google/uuid"
)

// Message type constants matching the streaming protocol.
const (
	TypePublishMarkerSet = "publish_marker_set"
	TypeRemoveMarkerSet  = "remove_marker_set"
	TypeListSurfaces     = "list_surfaces"

	// replies
	TypeAck      = "ack"
	TypeSurfaces = "surfaces"
)

// Error codes carried in Reply.Error
const (
	ErrCodeUnknownSurface = "unknown_surface"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"` // request id echoed by the reply
	Payload json.RawMessage `json:"payload"`
}

// Reply is the server's response to a request. Surfaces is set only for
// TypeSurfaces replies.
type Reply struct {
	Type     string         `json:"type"` // "ack" or "surfaces"
	For      string         `json:"for"`  // the message type being answered
	ID       string         `json:"id"`
	Error    string         `json:"error,omitempty"`
	Surfaces []core.Surface `json:"surfaces,omitempty"`
}

// PublishMarkerSetPayload replaces a marker set on a surface.
type PublishMarkerSetPayload struct {
	Surface core.Surface   `json:"surface"`
	Set     core.MarkerSet `json:"set"`
}

// RemoveMarkerSetPayload removes a marker set from a surface.
type RemoveMarkerSetPayload struct {
	Surface core.Surface `json:"surface"`
	Key     string       `json:"key"`
}

// ListSurfacesPayload asks for the surfaces of one world, or all when World is nil.
type ListSurfacesPayload struct {
	World *uuid.UUID `json:"world,omitempty"`
}
