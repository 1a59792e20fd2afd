// Package contentstore defines abstractions for hierarchical content stores.
//
// A store exposes a tree of typed entities addressed by slash-separated
// paths. Entities carry scalar properties and own named children. All reads
// and writes go through a Session, which stages property changes until
// Commit is called.
package contentstore

import (
	"context"
	"path"
	"strings"
)

// DefaultUsername is the principal used when credentials omit a username.
const DefaultUsername = "admin"

// Credentials authenticate a session against a store.
type Credentials struct {
	Username string
	Password string
}

// WithDefaults returns a copy of c with an empty username replaced by
// DefaultUsername.
func (c Credentials) WithDefaults() Credentials {
	if strings.TrimSpace(c.Username) == "" {
		c.Username = DefaultUsername
	}
	return c
}

// Store opens authenticated sessions against a content tree.
//
// Implementations should be safe for concurrent use; sessions are not.
type Store interface {
	// OpenSession authenticates and returns a new session.
	// Returns ErrInvalidCredentials if authentication fails.
	OpenSession(ctx context.Context, creds Credentials) (Session, error)

	// Close releases any resources held by the store.
	Close() error
}

// Session is a transactional handle to a store.
//
// A session is owned by a single goroutine. Property writes made through
// entities resolved by the session are staged until Commit.
type Session interface {
	// Resolve returns the entity at the given absolute path.
	// Returns ErrNotFound if no entity exists there.
	Resolve(ctx context.Context, path string) (Entity, error)

	// HasPendingChanges reports whether staged writes await Commit.
	HasPendingChanges() bool

	// Commit persists staged writes.
	Commit(ctx context.Context) error

	// Close discards staged writes and releases the session.
	Close() error
}

// Entity is a node in the content tree.
type Entity interface {
	// Path is the absolute path of the entity; unique within the store.
	Path() string

	// TypeName is the declared node type (e.g., "nt:folder", "dam:Asset").
	TypeName() string

	// Children returns the direct children in store-defined order.
	Children(ctx context.Context) ([]Entity, error)

	// Child returns the descendant at a relative path such as
	// "jcr:content/metadata". Returns ErrNotFound if absent.
	Child(ctx context.Context, relPath string) (Entity, error)

	// Property returns the named property and whether it exists.
	Property(name string) (Value, bool)

	// SetProperty stages a property write in the owning session.
	SetProperty(ctx context.Context, name string, v Value) error
}

// CleanPath normalizes an entity path to an absolute, slash-separated form
// with no trailing slash. The empty string maps to the root "/".
func CleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// JoinPath joins a parent path and a relative child path.
func JoinPath(parent, rel string) string {
	return CleanPath(path.Join(CleanPath(parent), rel))
}

// SplitRel splits a relative path into non-empty segments.
func SplitRel(rel string) []string {
	parts := strings.Split(strings.Trim(rel, "/"), "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" && p != "." {
			out = append(out, p)
		}
	}
	return out
}
