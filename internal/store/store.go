// SPDX-License-Identifier: LGPL-2.1-only

// Package store implements the Datastore Store entity from spec.md §4.1:
// a per-named-database in-memory tree cache with file persistence, lock
// state and a modified flag. Its shape — an exported/unexported method
// pair guarding a map under a single mutex — follows the teacher's
// session/sessionmgr.go SessionMgr, repurposed here to guard datastores
// instead of sessions; the on-disk operations themselves (exists/create/
// delete/copy/rename/atomic write) are grounded in original_source/'s
// clixon_xml_db.c and clixon_datastore.c function set.
package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/clicon-go/confd/internal/codec"
	"github.com/clicon-go/confd/internal/logging"
	"github.com/clicon-go/confd/internal/mgmterror"
	"github.com/clicon-go/confd/internal/tree"
	"github.com/clicon-go/confd/internal/xpath"
	"github.com/clicon-go/confd/internal/yang"
)

// EditOp is a NETCONF edit-config operation applied by Put.
type EditOp string

const (
	OpMerge   EditOp = "merge"
	OpReplace EditOp = "replace"
	OpCreate  EditOp = "create"
	OpDelete  EditOp = "delete"
	OpRemove  EditOp = "remove"
	OpNone    EditOp = "none"
)

// entry is the per-database record the store owns exclusively.
type entry struct {
	name         string
	path         string
	cache        *tree.Tree
	lockedBy     int32
	lockedAt     time.Time
	modified     bool
	emptyOnLoad  bool
}

// Store is the datastore manager: one entry per named database
// (candidate, running, startup, session-scoped temporaries), all file
// I/O rooted under dir.
type Store struct {
	mu      sync.Mutex
	dir     string
	schema  yang.Schema
	codec   codec.Codec
	entries map[string]*entry
	loggers *logging.Loggers
}

// SetLoggers attaches loggers the store uses to warn about a mismatched or
// absent module-state header on load (spec.md §9's "module-state mismatch
// on load"); the mismatch is never fatal, only logged.
func (s *Store) SetLoggers(l *logging.Loggers) {
	s.loggers = l
}

// New returns a Store rooted at dir (created if absent), bound to schema
// and using codec for dump/load serialization.
func New(dir string, schema yang.Schema, c codec.Codec) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("store: create dir %s: %w", dir, err)
	}
	return &Store{dir: dir, schema: schema, codec: c, entries: make(map[string]*entry)}, nil
}

func (s *Store) path(db string) string { return filepath.Join(s.dir, db+".db") }

func (s *Store) entry(db string) *entry {
	e, ok := s.entries[db]
	if !ok {
		e = &entry{name: db, path: s.path(db)}
		s.entries[db] = e
	}
	return e
}

// Connect is a no-op placeholder matching the contract's connect/
// disconnect pair; the Store is ready to use as soon as New returns.
func (s *Store) Connect() error { return nil }

// Disconnect frees every cached tree.
func (s *Store) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		e.cache = nil
	}
}

// Exists reports whether db's on-disk file is present and non-empty.
func (s *Store) Exists(db string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	fi, err := os.Stat(s.path(db))
	if err != nil {
		return false
	}
	return fi.Size() > 0
}

// Create is idempotent: any existing cache is dropped and an empty,
// owner-only file is (re)created.
func (s *Store) Create(db string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(db)
	e.cache = nil
	f, err := os.OpenFile(e.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return mgmterror.New(mgmterror.OriginDB, mgmterror.TagOperationFailed, err.Error())
	}
	return f.Close()
}

// Delete truncates the file to zero length and drops the cache; the file
// itself is left in place so a privilege-dropped process can recreate it
// without a directory-write capability.
func (s *Store) Delete(db string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(db)
	e.cache = nil
	f, err := os.OpenFile(e.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return mgmterror.New(mgmterror.OriginDB, mgmterror.TagOperationFailed, err.Error())
	}
	return f.Close()
}

// Reset is delete followed by create.
func (s *Store) Reset(db string) error {
	if err := s.Delete(db); err != nil {
		return err
	}
	return s.Create(db)
}

// Copy deep-copies from's cache (if any) into to's cache, and atomically
// replaces to's file with a byte copy of from's file. If from has no
// cache, to's cache is cleared instead of copied.
func (s *Store) Copy(from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.entry(from)
	dst := s.entry(to)

	if src.cache != nil {
		dst.cache = tree.Clone(src.cache, src.cache.Root())
	} else {
		dst.cache = nil
	}

	data, err := os.ReadFile(src.path)
	if err != nil {
		if os.IsNotExist(err) {
			data = nil
		} else {
			return mgmterror.New(mgmterror.OriginDB, mgmterror.TagOperationFailed, err.Error())
		}
	}
	return atomicWrite(dst.path, data)
}

// Rename renames db's file to newdb (within the store) and/or appends
// suffix to the current name; both empty is a no-op. Only the on-disk
// file moves; in-memory cache key tracking is updated to match.
func (s *Store) Rename(db string, newdb, suffix *string) error {
	if newdb == nil && suffix == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(db)
	target := db
	if newdb != nil {
		target = *newdb
	}
	if suffix != nil {
		target += *suffix
	}
	newPath := s.path(target)
	if err := os.Rename(e.path, newPath); err != nil && !os.IsNotExist(err) {
		return mgmterror.New(mgmterror.OriginDB, mgmterror.TagOperationFailed, err.Error())
	}
	delete(s.entries, db)
	e.name = target
	e.path = newPath
	s.entries[target] = e
	return nil
}

// Lock records db as locked by sessionID. Fails if already locked by a
// different session.
func (s *Store) Lock(db string, sessionID int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(db)
	if e.lockedBy != 0 && e.lockedBy != sessionID {
		return mgmterror.LockDenied(int(e.lockedBy))
	}
	e.lockedBy = sessionID
	e.lockedAt = time.Now()
	return nil
}

// Unlock clears db's lock unconditionally.
func (s *Store) Unlock(db string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(db)
	e.lockedBy = 0
}

// UnlockAll releases every lock held by sessionID, used on session
// disconnect.
func (s *Store) UnlockAll(sessionID int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.lockedBy == sessionID {
			e.lockedBy = 0
		}
	}
}

// IsLocked returns the session id owning db's lock, or 0.
func (s *Store) IsLocked(db string) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry(db).lockedBy
}

// CacheGet returns the bound cache tree without copying; callers must
// treat it as read-only unless they hold the db's lock.
func (s *Store) CacheGet(db string) *tree.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry(db).cache
}

// ModifiedGet reports whether db has uncommitted edits.
func (s *Store) ModifiedGet(db string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry(db).modified
}

// ModifiedSet sets db's modified flag explicitly.
func (s *Store) ModifiedSet(db string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(db).modified = v
}

// Get returns a minimal tree containing every ancestor of an xpath match
// plus the matches themselves, and the match vector addressing the
// matches within that returned tree.
func (s *Store) Get(db, xpathExpr string, nsctx map[string]string) (*tree.Tree, []tree.ID, error) {
	s.mu.Lock()
	src := s.entry(db).cache
	s.mu.Unlock()
	if src == nil {
		if err := s.load(db); err != nil {
			return nil, nil, err
		}
		s.mu.Lock()
		src = s.entry(db).cache
		s.mu.Unlock()
	}

	matches, err := xpath.Eval(src, src.Root(), xpathExpr, nsctx)
	if err != nil {
		return nil, nil, mgmterror.New(mgmterror.OriginXML, mgmterror.TagInvalidValue, err.Error())
	}

	out := tree.New(src.Node(src.Root()).Name, src.Node(src.Root()).Namespace)
	matchIDs := make([]tree.ID, 0, len(matches))
	copied := map[tree.ID]tree.ID{}
	for _, m := range matches {
		pid := projectPath(src, out, m, copied)
		for _, c := range src.Children(m) {
			copySubtree(out, pid, src, c)
		}
		matchIDs = append(matchIDs, pid)
	}
	return out, matchIDs, nil
}

// projectPath copies the ancestor chain of srcID from src into dst
// (re-using already-copied ancestors, tracked in copied by src id),
// returning the corresponding id in dst for srcID itself.
func projectPath(src, dst *tree.Tree, srcID tree.ID, copied map[tree.ID]tree.ID) tree.ID {
	if srcID == src.Root() {
		return dst.Root()
	}
	if id, ok := copied[srcID]; ok {
		return id
	}
	parent := projectPath(src, dst, src.Parent(srcID), copied)
	n := src.Node(srcID)
	id := dst.AddChild(parent, n.Name, n.Namespace)
	dn := dst.Node(id)
	dn.Body = n.Body
	dn.Attrs = append([]tree.Attr(nil), n.Attrs...)
	copied[srcID] = id
	return id
}

// Put applies an edit to db's cache at the node identified by apiPath
// (a slash-separated, root-exclusive path matching tree.Path), anchoring
// subtree there under the given operation.
func (s *Store) Put(db string, op EditOp, apiPath string, subtree *tree.Tree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(db)
	if e.cache == nil {
		e.cache = tree.New("config", "")
	}

	anchor, err := resolveAPIPath(e.cache, apiPath)
	if err != nil {
		return err
	}
	if err := applyEdit(e.cache, anchor, subtree, subtree.Root(), op); err != nil {
		return err
	}
	e.modified = true
	return nil
}

func resolveAPIPath(t *tree.Tree, apiPath string) (tree.ID, error) {
	if apiPath == "" || apiPath == "/" {
		return t.Root(), nil
	}
	cur := t.Root()
	for _, name := range splitPath(apiPath) {
		next := t.ChildByName(cur, name, "")
		if next == tree.NoNode {
			next = t.AddChild(cur, name, "")
		}
		cur = next
	}
	return cur, nil
}

func splitPath(p string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				out = append(out, p[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// applyEdit applies op to dst (child of anchor, or anchor itself on the
// first call) using the subtree rooted at srcID in src as the edit's
// content, recursing per-child for merge.
func applyEdit(dst *tree.Tree, anchor tree.ID, src *tree.Tree, srcID tree.ID, op EditOp) error {
	srcNode := src.Node(srcID)
	effectiveOp := op
	if op == OpNone {
		if v, ok := srcNode.Attr("operation"); ok {
			effectiveOp = EditOp(v)
		} else {
			effectiveOp = OpMerge
		}
	}

	existing := dst.ChildByName(anchor, srcNode.Name, srcNode.Namespace)

	switch effectiveOp {
	case OpCreate:
		if existing != tree.NoNode {
			return mgmterror.New(mgmterror.OriginNETCONF, mgmterror.TagDataExists,
				fmt.Sprintf("node %q already exists", srcNode.Name))
		}
		copySubtree(dst, anchor, src, srcID)
		return nil

	case OpDelete:
		if existing == tree.NoNode {
			return mgmterror.New(mgmterror.OriginNETCONF, mgmterror.TagDataMissing,
				fmt.Sprintf("node %q does not exist", srcNode.Name))
		}
		dst.RemoveChild(anchor, existing)
		return nil

	case OpRemove:
		if existing != tree.NoNode {
			dst.RemoveChild(anchor, existing)
		}
		return nil

	case OpReplace:
		if existing != tree.NoNode {
			dst.RemoveChild(anchor, existing)
		}
		copySubtree(dst, anchor, src, srcID)
		return nil

	case OpMerge:
		if existing == tree.NoNode {
			copySubtree(dst, anchor, src, srcID)
			return nil
		}
		dst.Node(existing).Body = srcNode.Body
		for _, sc := range src.Children(srcID) {
			if err := applyEdit(dst, existing, src, sc, OpNone); err != nil {
				return err
			}
		}
		return nil

	default:
		return mgmterror.New(mgmterror.OriginNETCONF, mgmterror.TagOperationNotSupported,
			fmt.Sprintf("unknown edit operation %q", effectiveOp))
	}
}

func copySubtree(dst *tree.Tree, parent tree.ID, src *tree.Tree, srcID tree.ID) tree.ID {
	n := src.Node(srcID)
	id := dst.AddChild(parent, n.Name, n.Namespace)
	dn := dst.Node(id)
	dn.Body = n.Body
	for _, a := range n.Attrs {
		if a.Name != "operation" {
			dn.SetAttr(a.Name, a.Namespace, a.Value)
		}
	}
	for _, c := range src.Children(srcID) {
		copySubtree(dst, id, src, c)
	}
	return id
}

// Populate re-binds db's cache to the store's schema and inserts missing
// default leaves throughout, globally and recursively.
func (s *Store) Populate(db string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(db)
	if e.cache == nil {
		e.cache = tree.New("config", "")
	}
	e.cache.Node(e.cache.Root()).Schema = s.schema.Root()
	s.schema.InsertDefaults(e.cache, e.cache.Root(), s.schema.Root())
	return s.schema.ValidateType(e.cache, e.cache.Root(), s.schema.Root())
}

// Dump serializes db's cache to file, prefixed by a module-state header,
// using the Store's codec. withDefaults is not consulted: the cache is
// written as it is, with whatever default leaves it already carries.
func (s *Store) Dump(db, file string, withDefaults bool) error {
	s.mu.Lock()
	e := s.entry(db)
	if e.cache == nil {
		s.mu.Unlock()
		return mgmterror.New(mgmterror.OriginDB, mgmterror.TagOperationFailed, "no cached tree to dump")
	}
	cache := e.cache
	s.mu.Unlock()

	header := moduleStateHeader(s.schema)
	root := cache.Root()
	body, err := s.codec.Pretty(cache, root)
	if err != nil {
		return err
	}
	out := append(header, body...)
	return atomicWrite(file, out)
}

func moduleStateHeader(schema yang.Schema) []byte {
	return []byte("<!-- module-state: core -->\n")
}

// load reads db's file from disk into the cache, used lazily by Get when
// no cache is present yet.
func (s *Store) load(db string) error {
	s.mu.Lock()
	e := s.entry(db)
	path := e.path
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			e.cache = tree.New("config", "")
			s.mu.Unlock()
			return nil
		}
		return mgmterror.New(mgmterror.OriginDB, mgmterror.TagOperationFailed, err.Error())
	}
	if len(data) == 0 {
		s.mu.Lock()
		e.cache = tree.New("config", "")
		s.mu.Unlock()
		return nil
	}

	header := moduleStateHeader(s.schema)
	if bytes.HasPrefix(data, header) {
		data = data[len(header):]
	} else if s.loggers != nil {
		s.loggers.Wlog.Printf("db %s: module-state mismatch on load, loading anyway", db)
	}

	t, err := s.codec.Parse(data)
	if err != nil {
		return mgmterror.New(mgmterror.OriginDB, mgmterror.TagOperationFailed, err.Error())
	}
	s.mu.Lock()
	e.cache = t
	s.mu.Unlock()
	return nil
}

// WriteCacheToFile persists db's cache atomically: write to a temp file
// in the same directory, fsync, rename over the target.
func (s *Store) WriteCacheToFile(db string) error {
	s.mu.Lock()
	e := s.entry(db)
	if e.cache == nil {
		s.mu.Unlock()
		return nil
	}
	cache := e.cache
	path := e.path
	s.mu.Unlock()

	body, err := s.codec.Serialize(cache, cache.Root())
	if err != nil {
		return err
	}
	data := append(moduleStateHeader(s.schema), body...)
	return atomicWrite(path, data)
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return mgmterror.New(mgmterror.OriginDB, mgmterror.TagOperationFailed, err.Error())
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return mgmterror.New(mgmterror.OriginDB, mgmterror.TagOperationFailed, err.Error())
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return mgmterror.New(mgmterror.OriginDB, mgmterror.TagOperationFailed, err.Error())
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return mgmterror.New(mgmterror.OriginDB, mgmterror.TagOperationFailed, err.Error())
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return mgmterror.New(mgmterror.OriginDB, mgmterror.TagOperationFailed, err.Error())
	}
	return nil
}
