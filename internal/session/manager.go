// If you are AI: This file is the glue between the Stream Registry (C6)
// and the per-Stream MediaRouter (C7) / PublishPoint (C10): Providers
// call Manager.Publish once they know a Stream's track set, egress
// adapters call Manager.Join to attach a Subscriber. Grounded on the
// teacher's bus.Registry, which bundled registry lookup and fan-out into
// one type (internal/core/bus/registry.go-equivalent); this repo keeps
// that bundling but delegates to the more capable registry.Registry and
// router.Router underneath.
package session

import (
	"sync"

	"originflux/internal/errs"
	"originflux/internal/media"
	"originflux/internal/registry"
	"originflux/internal/router"
)

const defaultReorderWindow = router.DefaultReorderWindow

// entry bundles one live Stream's router and GOP cache. Torn down when
// the Stream stops.
type entry struct {
	handle       registry.Handle
	router       *router.Router
	publishPoint *router.PublishPoint
}

// Manager owns the registry and every live Stream's Router/PublishPoint.
type Manager struct {
	reg *registry.Registry

	mu      sync.RWMutex
	entries map[registry.Key]*entry

	hooksMu     sync.RWMutex
	onPublish   []func(registry.Key, []media.Track)
	onUnpublish []func(registry.Key)
}

// NewManager builds a Manager around a fresh Registry.
func NewManager() *Manager {
	return &Manager{
		reg:     registry.New(),
		entries: make(map[registry.Key]*entry),
	}
}

// OnPublish registers fn to run every time a Stream is published,
// after its Router/PublishPoint are live. Used by the server to drive
// per-Application transcode profiles (C8) without the session package
// knowing about config.Application at all.
func (m *Manager) OnPublish(fn func(registry.Key, []media.Track)) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.onPublish = append(m.onPublish, fn)
}

// OnUnpublish registers fn to run every time a Stream is unpublished,
// mirroring OnPublish.
func (m *Manager) OnUnpublish(fn func(registry.Key)) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.onUnpublish = append(m.onUnpublish, fn)
}

// Registry exposes the underlying Registry for the admin surface.
func (m *Manager) Registry() *registry.Registry { return m.reg }

// Publish is called by a Provider once it knows a Stream's track set: it
// registers the Stream, builds its Router and PublishPoint, and wires
// Router output into the PublishPoint. Returns a Handle the Provider
// must hold for the life of the connection and an Ingest func to feed
// packets through reordering/admission/fan-out.
func (m *Manager) Publish(key registry.Key, tracks []media.Track, source string) (registry.Handle, func(*media.Packet), error) {
	handle, err := m.reg.Create(key, tracks, source)
	if err != nil {
		return registry.Handle{}, nil, err
	}

	r := router.NewRouter(tracks, defaultReorderWindow)
	pp := router.NewPublishPoint(tracks)
	r.AddConsumer(pp)

	m.mu.Lock()
	m.entries[key] = &entry{handle: handle, router: r, publishPoint: pp}
	m.mu.Unlock()

	m.hooksMu.RLock()
	hooks := append([]func(registry.Key, []media.Track){}, m.onPublish...)
	m.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(key, tracks)
	}

	return handle, r.Ingest, nil
}

// Unpublish tears down a Stream's Router/PublishPoint and marks it
// Stopped in the registry. Idempotent.
func (m *Manager) Unpublish(handle registry.Handle) {
	m.reg.Stop(handle)

	m.mu.Lock()
	delete(m.entries, handle.Key)
	m.mu.Unlock()

	m.hooksMu.RLock()
	hooks := append([]func(registry.Key){}, m.onUnpublish...)
	m.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(handle.Key)
	}
}

// Join attaches a Subscriber to the named Stream's PublishPoint for live
// egress, returning both the Subscriber and a keyframe-aligned catch-up
// snapshot. Fails with errs.KindResourceExhausted-shaped errors left to
// the caller's own cap checks; this just reports "stream not live".
func (m *Manager) Join(key registry.Key, queueCapacity int, policy router.Policy, hwmBytes int) (*router.Subscriber, []*media.Packet, *router.PublishPoint, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, nil, errs.New(errs.KindProtocol, "stream not live: "+key.String())
	}
	sub, snapshot := e.publishPoint.Join(queueCapacity, policy, hwmBytes)
	return sub, snapshot, e.publishPoint, nil
}

// RouterFor returns the live Router for key, for Providers/Transcoders
// that need to register an additional Consumer (e.g. a transcode input
// queue) beyond the default PublishPoint.
func (m *Manager) RouterFor(key registry.Key) (*router.Router, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	return e.router, true
}

// PublishPointFor returns the live PublishPoint for key, for the admin
// surface's subscriber listing/termination endpoints.
func (m *Manager) PublishPointFor(key registry.Key) (*router.PublishPoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	return e.publishPoint, true
}

// Terminate force-stops the Stream at key, as if its Provider had
// disconnected: used by the admin surface's DELETE /streams endpoint.
func (m *Manager) Terminate(key registry.Key) bool {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	m.Unpublish(e.handle)
	return true
}
