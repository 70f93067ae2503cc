// SPDX-License-Identifier: LGPL-2.1-only

// Package paginator implements the Paginator from spec.md §4.7: a lazy
// offset/limit window over a subtree retrieval, whose snapshot caching is
// tied to whether the requesting session holds the datastore lock.
// Eviction on session unlock/disconnect follows the teacher's
// session/sessionmgr.go pattern of purging per-session state keyed by
// session id under a single mutex-guarded map.
package paginator

import (
	"sync"

	"github.com/clicon-go/confd/internal/tree"
)

// Paginator caches a per-(session,db) snapshot tree for sessions holding
// that db's lock, so repeated windowed calls see a stable view instead of
// re-walking a datastore that may be mutating underneath an unlocked
// reader. Unlocked callers always pass a fresh snapshot and get no
// caching at all.
type Paginator struct {
	mu       sync.Mutex
	sessions map[int32]map[string]*tree.Tree
}

// New returns an empty Paginator.
func New() *Paginator {
	return &Paginator{sessions: make(map[int32]map[string]*tree.Tree)}
}

// Window returns the [offset, offset+limit) slice of full's top-level
// children as a new tree rooted with full's own name/namespace. When
// locked is true, the first call for (sessionID, db) pins full as that
// pair's snapshot; subsequent calls ignore the freshly passed full and
// window the pinned one instead, until the lock is released. When locked
// is false, full is windowed directly every time and nothing is kept.
func (p *Paginator) Window(sessionID int32, db string, locked bool, full *tree.Tree, offset, limit int) *tree.Tree {
	snapshot := full
	if locked {
		p.mu.Lock()
		dbs, ok := p.sessions[sessionID]
		if !ok {
			dbs = make(map[string]*tree.Tree)
			p.sessions[sessionID] = dbs
		}
		if cached, ok := dbs[db]; ok {
			snapshot = cached
		} else {
			dbs[db] = full
		}
		p.mu.Unlock()
	}
	return window(snapshot, offset, limit)
}

func window(full *tree.Tree, offset, limit int) *tree.Tree {
	root := full.Node(full.Root())
	out := tree.New(root.Name, root.Namespace)
	outRoot := out.Node(out.Root())
	outRoot.Body = root.Body
	outRoot.Attrs = append([]tree.Attr(nil), root.Attrs...)

	children := full.Children(full.Root())
	if offset < 0 {
		offset = 0
	}
	if offset >= len(children) {
		return out
	}
	end := len(children)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	for _, c := range children[offset:end] {
		copySubtree(out, out.Root(), full, c)
	}
	return out
}

func copySubtree(dst *tree.Tree, parent tree.ID, src *tree.Tree, srcID tree.ID) {
	n := src.Node(srcID)
	id := dst.AddChild(parent, n.Name, n.Namespace)
	dn := dst.Node(id)
	dn.Body = n.Body
	dn.Attrs = append([]tree.Attr(nil), n.Attrs...)
	for _, c := range src.Children(srcID) {
		copySubtree(dst, id, src, c)
	}
}

// EvictLock drops the cached snapshot for (sessionID, db), called when
// that session releases db's lock.
func (p *Paginator) EvictLock(sessionID int32, db string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if dbs, ok := p.sessions[sessionID]; ok {
		delete(dbs, db)
		if len(dbs) == 0 {
			delete(p.sessions, sessionID)
		}
	}
}

// EvictSession drops every cached snapshot for sessionID, called on
// session disconnect.
func (p *Paginator) EvictSession(sessionID int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, sessionID)
}
