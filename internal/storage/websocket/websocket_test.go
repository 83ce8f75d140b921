package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OCAP2/markersync/internal/config"
	"github.com/OCAP2/markersync/internal/gateway"
	"github.com/OCAP2/markersync/internal/storage/memory"
	"github.com/OCAP2/markersync/pkg/core"
	"github.com/OCAP2/markersync/pkg/streaming"
	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	overworld = uuid.MustParse("5a1e4f52-0d7c-4c1b-9a9e-3f0a3c1b2d4e")
	surfWorld = core.Surface{World: overworld, Name: "world"}
	surfFlat  = core.Surface{World: overworld, Name: "world_flat"}
)

// renderer is a test server that applies requests to a memory backend and replies.
type renderer struct {
	store    *memory.Backend
	mu       sync.Mutex
	messages []streaming.Envelope
	secrets  []string

	silent      atomic.Bool  // read but never reply
	dropAfter   atomic.Int32 // close the connection after this many messages, 0 disables
	connections atomic.Int32
}

func (r *renderer) log() []streaming.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]streaming.Envelope(nil), r.messages...)
}

func (r *renderer) handle(env streaming.Envelope) streaming.Reply {
	ctx := context.Background()
	reply := streaming.Reply{Type: streaming.TypeAck, For: env.Type, ID: env.ID}
	fail := func(err error) {
		if errors.Is(err, gateway.ErrUnknownSurface) {
			reply.Error = streaming.ErrCodeUnknownSurface
		} else if err != nil {
			reply.Error = err.Error()
		}
	}

	switch env.Type {
	case streaming.TypePublishMarkerSet:
		var p streaming.PublishMarkerSetPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fail(err)
			break
		}
		fail(r.store.PublishMarkerSet(ctx, p.Surface, p.Set))
	case streaming.TypeRemoveMarkerSet:
		var p streaming.RemoveMarkerSetPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fail(err)
			break
		}
		fail(r.store.RemoveMarkerSet(ctx, p.Surface, p.Key))
	case streaming.TypeListSurfaces:
		var p streaming.ListSurfacesPayload
		_ = json.Unmarshal(env.Payload, &p)
		reply.Type = streaming.TypeSurfaces
		if p.World != nil {
			reply.Surfaces, _ = r.store.SurfacesForWorld(ctx, *p.World)
		} else {
			reply.Surfaces, _ = r.store.AllKnownSurfaces(ctx)
		}
	default:
		reply.Error = "unsupported"
	}
	return reply
}

func testServer(t *testing.T) (*httptest.Server, *renderer) {
	t.Helper()
	store := memory.New(config.MemoryConfig{}, nil)
	store.AddSurface(surfWorld)
	store.AddSurface(surfFlat)
	r := &renderer{store: store}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		c, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()
		r.connections.Add(1)

		r.mu.Lock()
		r.secrets = append(r.secrets, req.URL.Query().Get("secret"))
		r.mu.Unlock()

		var seen int32
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}

			var env streaming.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			r.mu.Lock()
			r.messages = append(r.messages, env)
			r.mu.Unlock()

			seen++
			if n := r.dropAfter.Load(); n > 0 && seen >= n {
				r.dropAfter.Store(0)
				return
			}
			if r.silent.Load() {
				continue
			}

			data, _ := json.Marshal(r.handle(env))
			if err := c.WriteMessage(ws.TextMessage, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return srv, r
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newBackend(t *testing.T, srv *httptest.Server) *Backend {
	t.Helper()
	b := New(Config{URL: wsURL(srv), Secret: "s3cret", Timeout: time.Second}, nil)
	b.conn.backoff = 10 * time.Millisecond
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func warpSet(ids ...string) core.MarkerSet {
	set := core.MarkerSet{Key: core.WarpSetKey, Label: core.WarpSetLabel, Markers: map[string]core.Marker{}}
	for _, id := range ids {
		set.Markers[id] = core.Marker{ID: id, Label: id, IconAnchor: core.DefaultWarpAnchor}
	}
	return set
}

func TestInit_DialFailure(t *testing.T) {
	b := New(Config{URL: "ws://127.0.0.1:1/api/markers"}, nil)
	assert.Error(t, b.Init())
}

func TestInit_SendsSecret(t *testing.T) {
	srv, r := testServer(t)
	b := newBackend(t, srv)

	_, err := b.AllKnownSurfaces(context.Background())
	require.NoError(t, err)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, []string{"s3cret"}, r.secrets)
}

func TestSurfaces(t *testing.T) {
	srv, _ := testServer(t)
	b := newBackend(t, srv)
	ctx := context.Background()

	got, err := b.SurfacesForWorld(ctx, overworld)
	require.NoError(t, err)
	assert.Equal(t, []core.Surface{surfWorld, surfFlat}, got)

	got, err = b.SurfacesForWorld(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, got)

	all, err := b.AllKnownSurfaces(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPublishAndRemove(t *testing.T) {
	srv, r := testServer(t)
	b := newBackend(t, srv)
	ctx := context.Background()

	require.NoError(t, b.PublishMarkerSet(ctx, surfWorld, warpSet("warp:world:spawn", "warp:world:market")))

	set, ok := r.store.GetMarkerSet(surfWorld, core.WarpSetKey)
	require.True(t, ok)
	assert.Equal(t, []string{"warp:world:market", "warp:world:spawn"}, set.IDs())
	assert.Equal(t, core.DefaultWarpAnchor, set.Markers["warp:world:spawn"].IconAnchor)

	require.NoError(t, b.RemoveMarkerSet(ctx, surfWorld, core.WarpSetKey))
	_, ok = r.store.GetMarkerSet(surfWorld, core.WarpSetKey)
	assert.False(t, ok)

	msgs := r.log()
	require.Len(t, msgs, 2)
	assert.Equal(t, streaming.TypePublishMarkerSet, msgs[0].Type)
	assert.Equal(t, streaming.TypeRemoveMarkerSet, msgs[1].Type)
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)
	_, err := uuid.Parse(msgs[0].ID)
	assert.NoError(t, err)
}

func TestPublish_NilMarkersSentAsEmpty(t *testing.T) {
	srv, r := testServer(t)
	b := newBackend(t, srv)

	require.NoError(t, b.PublishMarkerSet(context.Background(), surfFlat, core.MarkerSet{Key: core.HomeSetKey}))

	var p streaming.PublishMarkerSetPayload
	require.NoError(t, json.Unmarshal(r.log()[0].Payload, &p))
	assert.NotNil(t, p.Set.Markers)
}

func TestPublish_UnknownSurface(t *testing.T) {
	srv, _ := testServer(t)
	b := newBackend(t, srv)

	err := b.PublishMarkerSet(context.Background(), core.Surface{World: uuid.New(), Name: "x"}, warpSet())
	assert.ErrorIs(t, err, gateway.ErrUnknownSurface)
}

func TestRequest_TimesOutWithoutReply(t *testing.T) {
	srv, r := testServer(t)
	r.silent.Store(true)
	b := newBackend(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := b.PublishMarkerSet(ctx, surfWorld, warpSet())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	b.conn.mu.Lock()
	defer b.conn.mu.Unlock()
	assert.Empty(t, b.conn.pending)
}

func TestRequest_DefaultTimeout(t *testing.T) {
	srv, r := testServer(t)
	r.silent.Store(true)
	b := New(Config{URL: wsURL(srv), Timeout: 30 * time.Millisecond}, nil)
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })

	_, err := b.AllKnownSurfaces(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRequest_AfterClose(t *testing.T) {
	srv, _ := testServer(t)
	b := newBackend(t, srv)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err := b.AllKnownSurfaces(context.Background())
	assert.Error(t, err)
}

func TestReconnect(t *testing.T) {
	srv, r := testServer(t)
	r.dropAfter.Store(1)
	b := newBackend(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := b.AllKnownSurfaces(ctx)
	require.Error(t, err)

	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_, err := b.AllKnownSurfaces(ctx)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	assert.GreaterOrEqual(t, r.connections.Load(), int32(2))
}

func TestConcurrentRequests(t *testing.T) {
	srv, r := testServer(t)
	b := newBackend(t, srv)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			surface := surfWorld
			if n%2 == 0 {
				surface = surfFlat
			}
			errs <- b.PublishMarkerSet(context.Background(), surface, warpSet())
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, r.log(), 20)
}
