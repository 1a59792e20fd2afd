package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/3leaps/treeaudit/pkg/contentstore"
	"github.com/3leaps/treeaudit/pkg/output"
)

const expirationProp = DefaultProperty

func asset(name string, props map[string]contentstore.Value) *contentstore.Node {
	return &contentstore.Node{
		Name: name,
		Type: "dam:Asset",
		Children: []*contentstore.Node{
			{Name: "jcr:content", Type: "dam:AssetContent", Children: []*contentstore.Node{
				{Name: "metadata", Type: "nt:unstructured", Properties: props},
			}},
		},
	}
}

func legacyAsset(name, raw string) *contentstore.Node {
	return asset(name, map[string]contentstore.Value{expirationProp: contentstore.StringValue(raw)})
}

func folder(name string, children ...*contentstore.Node) *contentstore.Node {
	return &contentstore.Node{Name: name, Type: "nt:folder", Children: children}
}

// assetTree builds a root with n legacy assets spread over folders of 100.
func assetTree(n int) *contentstore.Node {
	root := &contentstore.Node{Type: "sling:Folder"}
	var cur *contentstore.Node
	for i := 0; i < n; i++ {
		if i%100 == 0 {
			cur = folder(fmt.Sprintf("f%03d", i/100))
			root.Children = append(root.Children, cur)
		}
		cur.Children = append(cur.Children, legacyAsset(fmt.Sprintf("a%05d", i), "2023-06-15 10:30"))
	}
	return root
}

// captureWriter records report output in memory.
type captureWriter struct {
	mu       sync.Mutex
	findings []output.FindingRecord
	commits  []output.CommitRecord
	errs     []output.ErrorRecord
	summary  *output.SummaryRecord
	closed   bool
}

func (c *captureWriter) WriteFinding(_ context.Context, f *output.FindingRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.findings = append(c.findings, *f)
	return nil
}

func (c *captureWriter) WriteCommit(_ context.Context, r *output.CommitRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits = append(c.commits, *r)
	return nil
}

func (c *captureWriter) WriteError(_ context.Context, r *output.ErrorRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, *r)
	return nil
}

func (c *captureWriter) WriteSummary(_ context.Context, s *output.SummaryRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *s
	c.summary = &cp
	return nil
}

func (c *captureWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// gatedStore wraps a store and calls hook before listing the children of
// any entity, letting tests hold a walk at a known point.
type gatedStore struct {
	contentstore.Store
	hook func(path string)
}

func (g *gatedStore) OpenSession(ctx context.Context, creds contentstore.Credentials) (contentstore.Session, error) {
	s, err := g.Store.OpenSession(ctx, creds)
	if err != nil {
		return nil, err
	}
	return &gatedSession{Session: s, hook: g.hook}, nil
}

type gatedSession struct {
	contentstore.Session
	hook func(path string)
}

func (g *gatedSession) Resolve(ctx context.Context, p string) (contentstore.Entity, error) {
	e, err := g.Session.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	return &gatedEntity{Entity: e, hook: g.hook}, nil
}

type gatedEntity struct {
	contentstore.Entity
	hook func(path string)
}

func (g *gatedEntity) Children(ctx context.Context) ([]contentstore.Entity, error) {
	g.hook(g.Path())
	children, err := g.Entity.Children(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]contentstore.Entity, len(children))
	for i, c := range children {
		out[i] = &gatedEntity{Entity: c, hook: g.hook}
	}
	return out, nil
}

// gate blocks the first listing of path until release is closed.
type gate struct {
	path    string
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func newGate(path string) *gate {
	return &gate{path: path, reached: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) hook(p string) {
	if p != g.path {
		return
	}
	g.once.Do(func() {
		close(g.reached)
		<-g.release
	})
}

// failingStore opens sessions whose entities fail every child listing.
type failingStore struct{ err error }

func (f failingStore) OpenSession(context.Context, contentstore.Credentials) (contentstore.Session, error) {
	return failingSession(f), nil
}
func (failingStore) Close() error { return nil }

type failingSession struct{ err error }

func (f failingSession) Resolve(_ context.Context, p string) (contentstore.Entity, error) {
	return failingEntity{path: p, err: f.err}, nil
}
func (failingSession) HasPendingChanges() bool      { return false }
func (failingSession) Commit(context.Context) error { return nil }
func (failingSession) Close() error                 { return nil }

type failingEntity struct {
	path string
	err  error
}

func (f failingEntity) Path() string     { return f.path }
func (f failingEntity) TypeName() string { return "nt:folder" }
func (f failingEntity) Children(context.Context) ([]contentstore.Entity, error) {
	return nil, f.err
}
func (f failingEntity) Child(context.Context, string) (contentstore.Entity, error) {
	return nil, contentstore.ErrNotFound
}
func (f failingEntity) Property(string) (contentstore.Value, bool) { return contentstore.Value{}, false }
func (f failingEntity) SetProperty(context.Context, string, contentstore.Value) error {
	return f.err
}
