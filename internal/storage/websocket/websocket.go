package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/OCAP2/markersync/internal/gateway"
	"github.com/OCAP2/markersync/internal/logging"
	"github.com/OCAP2/markersync/pkg/core"
	"github.com/OCAP2/markersync/pkg/streaming"
	"github.com/google/uuid"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
	// Timeout bounds a request whose context has no deadline.
	Timeout time.Duration
}

// Backend forwards marker set operations over WebSocket to a remote renderer
// and waits for the server's reply to each of them.
type Backend struct {
	conn *connection
	cfg  Config
}

var _ gateway.Backend = (*Backend)(nil)

// New creates a new WebSocket storage backend.
func New(cfg Config, logger logging.Logger) *Backend {
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Backend{
		conn: newConnection(logger),
		cfg:  cfg,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type, request id and payload.
func marshalEnvelope(msgType, id string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, ID: id, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// call sends one request and returns the server's reply. Server-side errors
// are turned into Go errors.
func (b *Backend) call(ctx context.Context, msgType string, payload any) (streaming.Reply, error) {
	id := uuid.NewString()
	data, err := marshalEnvelope(msgType, id, payload)
	if err != nil {
		return streaming.Reply{}, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	reply, err := b.conn.request(ctx, id, data)
	if err != nil {
		return reply, fmt.Errorf("%s: %w", msgType, err)
	}

	switch {
	case reply.Error == streaming.ErrCodeUnknownSurface:
		return reply, fmt.Errorf("%s: %w", msgType, gateway.ErrUnknownSurface)
	case reply.Error != "":
		return reply, fmt.Errorf("%s rejected: %s", msgType, reply.Error)
	case reply.For != msgType:
		return reply, fmt.Errorf("%s: reply is for %q", msgType, reply.For)
	}
	return reply, nil
}

// SurfacesForWorld asks the server which surfaces render world.
func (b *Backend) SurfacesForWorld(ctx context.Context, world uuid.UUID) ([]core.Surface, error) {
	reply, err := b.call(ctx, streaming.TypeListSurfaces, streaming.ListSurfacesPayload{World: &world})
	if err != nil {
		return nil, err
	}
	return reply.Surfaces, nil
}

// AllKnownSurfaces asks the server for every surface it renders.
func (b *Backend) AllKnownSurfaces(ctx context.Context) ([]core.Surface, error) {
	reply, err := b.call(ctx, streaming.TypeListSurfaces, streaming.ListSurfacesPayload{})
	if err != nil {
		return nil, err
	}
	return reply.Surfaces, nil
}

// PublishMarkerSet sends the full set and waits for the server ack.
func (b *Backend) PublishMarkerSet(ctx context.Context, surface core.Surface, set core.MarkerSet) error {
	if set.Markers == nil {
		set.Markers = map[string]core.Marker{}
	}
	_, err := b.call(ctx, streaming.TypePublishMarkerSet, streaming.PublishMarkerSetPayload{Surface: surface, Set: set})
	return err
}

// RemoveMarkerSet asks the server to drop a set and waits for the ack.
func (b *Backend) RemoveMarkerSet(ctx context.Context, surface core.Surface, key string) error {
	_, err := b.call(ctx, streaming.TypeRemoveMarkerSet, streaming.RemoveMarkerSetPayload{Surface: surface, Key: key})
	return err
}
