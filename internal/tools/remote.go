package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// RemoteProvider discovers tools from a remote endpoint. Discover must
// be safe to call repeatedly; results are keyed by tool name.
type RemoteProvider interface {
	Name() string
	Discover(ctx context.Context) ([]*Tool, error)
}

// RemoteStatus describes where a remote provider is in discovery.
type RemoteStatus string

const (
	RemotePending RemoteStatus = "pending"
	RemoteReady   RemoteStatus = "ready"
	RemoteFailed  RemoteStatus = "failed"
)

// discovery is one completed discovery run waiting to be integrated.
type discovery struct {
	source string
	tools  []*Tool
	err    error
}

// refreshBuffer bounds completed discoveries awaiting Integrate.
const refreshBuffer = 32

type remoteState struct {
	mu        sync.Mutex
	providers map[string]RemoteProvider
	status    map[string]RemoteStatus
	lastErr   map[string]error
	refresh   chan discovery
	wg        sync.WaitGroup
}

func (s *remoteState) init() {
	s.providers = make(map[string]RemoteProvider)
	s.status = make(map[string]RemoteStatus)
	s.lastErr = make(map[string]error)
	s.refresh = make(chan discovery, refreshBuffer)
}

// AttachRemote starts discovery for p in the background and returns
// immediately. Until the result is integrated, the registry keeps
// serving the tools it already has.
func (r *Registry) AttachRemote(ctx context.Context, p RemoteProvider) {
	r.remote.mu.Lock()
	r.remote.providers[p.Name()] = p
	r.remote.mu.Unlock()
	r.startDiscovery(ctx, p)
}

// Refresh re-runs discovery for the named remote provider, for example
// after its server reconnects.
func (r *Registry) Refresh(ctx context.Context, name string) error {
	r.remote.mu.Lock()
	p, ok := r.remote.providers[name]
	r.remote.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown remote tool provider %q", name)
	}
	r.startDiscovery(ctx, p)
	return nil
}

func (r *Registry) startDiscovery(ctx context.Context, p RemoteProvider) {
	name := p.Name()
	r.remote.mu.Lock()
	r.remote.status[name] = RemotePending
	r.remote.mu.Unlock()

	r.remote.wg.Add(1)
	go func() {
		defer r.remote.wg.Done()
		list, err := safeDiscover(ctx, p)
		select {
		case r.remote.refresh <- discovery{source: name, tools: list, err: err}:
		case <-ctx.Done():
		}
	}()
}

func safeDiscover(ctx context.Context, p RemoteProvider) (list []*Tool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("discovery panicked: %v", rec)
		}
	}()
	return p.Discover(ctx)
}

// Integrate merges every completed discovery into the live tool set
// without blocking, and returns how many discoveries were applied.
func (r *Registry) Integrate() int {
	n := 0
	for {
		select {
		case d := <-r.remote.refresh:
			r.apply(d)
			n++
		default:
			return n
		}
	}
}

// WaitReady integrates discoveries until none is pending or ctx ends.
func (r *Registry) WaitReady(ctx context.Context) error {
	for {
		r.Integrate()
		if len(r.Pending()) == 0 {
			return nil
		}
		select {
		case d := <-r.remote.refresh:
			r.apply(d)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// apply replaces the tools previously contributed by d.source with the
// newly discovered set. A failed discovery leaves existing tools alone.
func (r *Registry) apply(d discovery) {
	log := r.logger.With("remote", d.source)

	r.remote.mu.Lock()
	if d.err != nil {
		r.remote.status[d.source] = RemoteFailed
		r.remote.lastErr[d.source] = d.err
		r.remote.mu.Unlock()
		log.Warn("remote tool discovery failed", "error", d.err)
		return
	}
	r.remote.status[d.source] = RemoteReady
	delete(r.remote.lastErr, d.source)
	r.remote.mu.Unlock()

	keep := make(map[string]bool, len(d.tools))
	for _, t := range d.tools {
		keep[t.Name] = true
	}

	r.mu.Lock()
	removed := 0
	for name, t := range r.tools {
		if t.Source == d.source && !keep[name] {
			delete(r.tools, name)
			removed++
		}
	}
	r.mu.Unlock()

	added := 0
	for _, t := range d.tools {
		t.Source = d.source
		if err := r.register(t); err != nil {
			log.Warn("remote tool rejected", "error", err)
			continue
		}
		added++
	}
	if added > 0 || removed > 0 {
		r.notify()
	}
	log.Info("remote tools integrated", "tools", added, "removed", removed)
}

// Ready reports whether the named remote provider's latest discovery
// has been integrated successfully. It never blocks.
func (r *Registry) Ready(name string) bool {
	r.remote.mu.Lock()
	defer r.remote.mu.Unlock()
	return r.remote.status[name] == RemoteReady
}

// Pending returns remote providers whose discovery has not yet been
// integrated, sorted by name.
func (r *Registry) Pending() []string {
	r.remote.mu.Lock()
	defer r.remote.mu.Unlock()

	var names []string
	for name, st := range r.remote.status {
		if st == RemotePending {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// RemoteStatuses returns the discovery status of every remote provider.
func (r *Registry) RemoteStatuses() map[string]RemoteStatus {
	r.remote.mu.Lock()
	defer r.remote.mu.Unlock()

	out := make(map[string]RemoteStatus, len(r.remote.status))
	for k, v := range r.remote.status {
		out[k] = v
	}
	return out
}

// Close waits for in-flight discoveries to finish. Callers cancel the
// context passed to AttachRemote first.
func (r *Registry) Close() {
	r.remote.wg.Wait()
}
