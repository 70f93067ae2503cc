// SPDX-License-Identifier: LGPL-2.1-only

// Package plugin implements the Plugin Registration entity: named
// per-phase callbacks plus an optional RPC handler table keyed by
// (namespace, local-name), registered once at load and never mutated
// afterward. The registry's shape — an exported/unexported method pair
// guarding a map under a mutex, opened for writes only during a load
// window — follows the "Mgr" pattern the teacher uses for its session
// registries (session/sessionmgr.go), repurposed here for plugins instead
// of sessions.
package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/clicon-go/confd/internal/tree"
)

// Phase identifies one step of the commit pipeline a plugin can hook.
type Phase string

const (
	PhaseBegin      Phase = "begin"
	PhaseValidate   Phase = "validate"
	PhaseComplete   Phase = "complete"
	PhaseCommit     Phase = "commit"
	PhaseCommitDone Phase = "commit-done"
	PhaseRevert     Phase = "revert"
	PhaseEnd        Phase = "end"
	PhaseAbort      Phase = "abort"
)

// Callback is a single phase hook. arg is the transaction's opaque
// per-plugin argument slot (txn.Transaction.PluginArg), carried unchanged
// across every phase of the same transaction for this plugin.
type Callback func(ctx context.Context, arg interface{}) error

// RPCHandler services a local (not tunnelled) RPC. input is the RPC's
// <rpc> child element; the returned tree becomes the <rpc-reply> payload.
type RPCHandler func(ctx context.Context, input *tree.Tree) (*tree.Tree, error)

// Plugin is one registrant: its phase callbacks (any subset may be nil)
// and its RPC handler table.
type Plugin struct {
	Name      string
	Callbacks map[Phase]Callback
	RPCs      map[rpcKey]RPCHandler
}

type rpcKey struct{ ns, local string }

// Registry holds every loaded Plugin, in load order, immutable once
// Freeze is called — mirroring the teacher's pattern of an exported
// method (Register) guarded by a private mutex-held map, here closed for
// further writes rather than merely concurrency-safe for them.
type Registry struct {
	mu      sync.Mutex
	plugins []*Plugin
	byName  map[string]*Plugin
	rpcs    map[rpcKey]RPCHandler
	frozen  bool
}

// NewRegistry returns an empty, open Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Plugin), rpcs: make(map[rpcKey]RPCHandler)}
}

// Register adds a plugin, preserving load order. Register after Freeze
// panics: the contract is "registered once at plugin load; never mutated
// thereafter", so a late registration is a programming error, not a
// runtime condition to recover from.
func (r *Registry) Register(p *Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("plugin: Register called on a frozen Registry")
	}
	if _, exists := r.byName[p.Name]; exists {
		return fmt.Errorf("plugin: %q already registered", p.Name)
	}
	for key, h := range p.RPCs {
		if _, exists := r.rpcs[key]; exists {
			return fmt.Errorf("plugin: rpc handler for {%s}%s already registered", key.ns, key.local)
		}
		r.rpcs[key] = h
	}
	r.plugins = append(r.plugins, p)
	r.byName[p.Name] = p
	return nil
}

// Freeze closes the Registry to further Register calls. Called once, at
// the end of the plugin-load window in cmd/confd's startup sequence.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Ordered returns every registered plugin in load order.
func (r *Registry) Ordered() []*Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Plugin, len(r.plugins))
	copy(out, r.plugins)
	return out
}

// RPC looks up the local handler for an RPC, if a plugin registered one;
// ok is false when the RPC must be tunnelled over the IPC Channel instead.
func (r *Registry) RPC(namespace, local string) (RPCHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.rpcs[rpcKey{namespace, local}]
	return h, ok
}

// InvokePhase runs phase on every plugin, in load order (or reverse when
// reverse is true, as the transaction engine requires for abort/revert),
// skipping plugins with no callback for that phase. It stops and returns
// the first error encountered; the caller is responsible for deciding
// whether that aborts or merely logs (revert is best-effort, see
// internal/txn).
func (r *Registry) InvokePhase(ctx context.Context, phase Phase, reverse bool, argOf func(*Plugin) interface{}) error {
	plugins := r.Ordered()
	if reverse {
		for i, j := 0, len(plugins)-1; i < j; i, j = i+1, j-1 {
			plugins[i], plugins[j] = plugins[j], plugins[i]
		}
	}
	for _, p := range plugins {
		cb, ok := p.Callbacks[phase]
		if !ok || cb == nil {
			continue
		}
		if err := cb(ctx, argOf(p)); err != nil {
			return fmt.Errorf("plugin %q phase %s: %w", p.Name, phase, err)
		}
	}
	return nil
}
