// Package memory implements contentstore.Store over an in-process tree.
//
// The tree is seeded from a contentstore.Node document. Sessions stage
// property writes in an overlay that is applied atomically on Commit.
package memory

import (
	"context"
	"crypto/subtle"
	"sync"

	"github.com/3leaps/treeaudit/pkg/contentstore"
)

// Config configures the memory store.
type Config struct {
	// Username is the accepted principal. Empty means contentstore.DefaultUsername.
	Username string

	// Password is the accepted password. Empty accepts any password.
	Password string
}

// Store is an in-memory content tree.
type Store struct {
	mu      sync.RWMutex
	root    *contentstore.Node
	cfg     Config
	commits int
}

// Ensure Store implements contentstore.Store.
var _ contentstore.Store = (*Store)(nil)

// New creates a store holding a deep copy of root.
func New(root *contentstore.Node, cfg Config) *Store {
	if root == nil {
		root = &contentstore.Node{Type: "nt:folder"}
	}
	if cfg.Username == "" {
		cfg.Username = contentstore.DefaultUsername
	}
	return &Store{root: root.Clone(), cfg: cfg}
}

// OpenSession authenticates and returns a session.
func (s *Store) OpenSession(ctx context.Context, creds contentstore.Credentials) (contentstore.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	creds = creds.WithDefaults()
	if creds.Username != s.cfg.Username {
		return nil, &contentstore.StoreError{Op: "OpenSession", Backend: contentstore.BackendMemory, Err: contentstore.ErrInvalidCredentials}
	}
	if s.cfg.Password != "" && subtle.ConstantTimeCompare([]byte(creds.Password), []byte(s.cfg.Password)) != 1 {
		return nil, &contentstore.StoreError{Op: "OpenSession", Backend: contentstore.BackendMemory, Err: contentstore.ErrInvalidCredentials}
	}
	return &session{store: s, staged: make(map[string]map[string]contentstore.Value)}, nil
}

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

// Snapshot returns a deep copy of the committed tree.
func (s *Store) Snapshot() *contentstore.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root.Clone()
}

// Commits returns the number of commits that persisted at least one write.
func (s *Store) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

func (s *Store) lookup(p string) *contentstore.Node {
	return s.root.Find(contentstore.CleanPath(p))
}

type session struct {
	store  *Store
	staged map[string]map[string]contentstore.Value
	closed bool
}

func (ss *session) Resolve(ctx context.Context, p string) (contentstore.Entity, error) {
	if ss.closed {
		return nil, contentstore.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = contentstore.CleanPath(p)

	ss.store.mu.RLock()
	n := ss.store.lookup(p)
	ss.store.mu.RUnlock()

	if n == nil {
		return nil, &contentstore.StoreError{Op: "Resolve", Backend: contentstore.BackendMemory, Path: p, Err: contentstore.ErrNotFound}
	}
	return &entity{sess: ss, node: n, path: p}, nil
}

func (ss *session) HasPendingChanges() bool {
	return len(ss.staged) > 0
}

func (ss *session) Commit(ctx context.Context) error {
	if ss.closed {
		return contentstore.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ss.staged) == 0 {
		return nil
	}

	ss.store.mu.Lock()
	defer ss.store.mu.Unlock()

	for p, props := range ss.staged {
		n := ss.store.lookup(p)
		if n == nil {
			return &contentstore.StoreError{Op: "Commit", Backend: contentstore.BackendMemory, Path: p, Err: contentstore.ErrNotFound}
		}
		if n.Properties == nil {
			n.Properties = make(map[string]contentstore.Value, len(props))
		}
		for name, v := range props {
			n.Properties[name] = v
		}
	}
	ss.store.commits++
	ss.staged = make(map[string]map[string]contentstore.Value)
	return nil
}

func (ss *session) Close() error {
	ss.closed = true
	ss.staged = nil
	return nil
}

type entity struct {
	sess *session
	node *contentstore.Node
	path string
}

func (e *entity) Path() string     { return e.path }
func (e *entity) TypeName() string { return e.node.Type }

func (e *entity) Children(ctx context.Context) ([]contentstore.Entity, error) {
	if e.sess.closed {
		return nil, contentstore.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.sess.store.mu.RLock()
	defer e.sess.store.mu.RUnlock()

	out := make([]contentstore.Entity, 0, len(e.node.Children))
	for _, c := range e.node.Children {
		if c == nil {
			continue
		}
		out = append(out, &entity{sess: e.sess, node: c, path: contentstore.JoinPath(e.path, c.Name)})
	}
	return out, nil
}

func (e *entity) Child(ctx context.Context, rel string) (contentstore.Entity, error) {
	if e.sess.closed {
		return nil, contentstore.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.sess.store.mu.RLock()
	n := e.node.Find(rel)
	e.sess.store.mu.RUnlock()

	p := contentstore.JoinPath(e.path, rel)
	if n == nil {
		return nil, &contentstore.StoreError{Op: "Child", Backend: contentstore.BackendMemory, Path: p, Err: contentstore.ErrNotFound}
	}
	return &entity{sess: e.sess, node: n, path: p}, nil
}

func (e *entity) Property(name string) (contentstore.Value, bool) {
	if staged, ok := e.sess.staged[e.path][name]; ok {
		return staged, true
	}

	e.sess.store.mu.RLock()
	defer e.sess.store.mu.RUnlock()
	v, ok := e.node.Properties[name]
	return v, ok
}

func (e *entity) SetProperty(ctx context.Context, name string, v contentstore.Value) error {
	if e.sess.closed {
		return contentstore.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := v.Validate(); err != nil {
		return &contentstore.StoreError{Op: "SetProperty", Backend: contentstore.BackendMemory, Path: e.path, Err: err}
	}
	props, ok := e.sess.staged[e.path]
	if !ok {
		props = make(map[string]contentstore.Value)
		e.sess.staged[e.path] = props
	}
	props[name] = v
	return nil
}
