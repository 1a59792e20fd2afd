package s3

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/3leaps/treeaudit/pkg/contentstore"
)

var errReadOnly = errors.New("properties are only writable on document nodes")

// document is a node document loaded into a session.
type document struct {
	key  string
	path string
	root *contentstore.Node
}

type session struct {
	store  *Store
	client API
	docs   map[string]*document
	dirty  map[string]*document
	closed bool
}

func (ss *session) bucket() *string {
	return aws.String(ss.store.cfg.Bucket)
}

// loadDocument returns the document for p, reading it at most once per
// session so staged writes stay visible.
func (ss *session) loadDocument(ctx context.Context, p string) (*document, error) {
	key := ss.store.documentKey(p)
	if doc, ok := ss.docs[key]; ok {
		return doc, nil
	}

	out, err := ss.client.GetObject(ctx, &s3.GetObjectInput{Bucket: ss.bucket(), Key: aws.String(key)})
	if err != nil {
		return nil, ss.store.wrapError("GetDocument", p, err)
	}
	defer func() { _ = out.Body.Close() }()

	var root contentstore.Node
	if err := json.NewDecoder(out.Body).Decode(&root); err != nil {
		return nil, &contentstore.StoreError{Op: "GetDocument", Backend: contentstore.BackendS3, Path: p, Err: err}
	}
	doc := &document{key: key, path: p, root: &root}
	ss.docs[key] = doc
	return doc, nil
}

func (ss *session) prefixExists(ctx context.Context, prefix string) (bool, error) {
	out, err := ss.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  ss.bucket(),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, err
	}
	return len(out.Contents) > 0 || len(out.CommonPrefixes) > 0, nil
}

func (ss *session) objectExists(ctx context.Context, key string) (bool, error) {
	_, err := ss.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: ss.bucket(), Key: aws.String(key)})
	if err == nil {
		return true, nil
	}
	if contentstore.IsNotFound(ss.store.wrapError("HeadObject", "", err)) {
		return false, nil
	}
	return false, err
}

func (ss *session) Resolve(ctx context.Context, p string) (contentstore.Entity, error) {
	if ss.closed {
		return nil, contentstore.ErrSessionClosed
	}
	p = contentstore.CleanPath(p)
	if p == "/" {
		return &objectEntity{sess: ss, path: p, typ: ss.store.cfg.FolderType, prefix: ss.store.cfg.Prefix}, nil
	}

	doc, err := ss.loadDocument(ctx, p)
	if err == nil {
		return &docEntity{sess: ss, doc: doc, node: doc.root, path: p}, nil
	}
	if !contentstore.IsNotFound(err) {
		return nil, err
	}

	prefix := ss.store.folderPrefix(p)
	ok, err := ss.prefixExists(ctx, prefix)
	if err != nil {
		return nil, ss.store.wrapError("Resolve", p, err)
	}
	if ok {
		return &objectEntity{sess: ss, path: p, typ: ss.store.cfg.FolderType, prefix: prefix}, nil
	}

	ok, err = ss.objectExists(ctx, ss.store.objectKey(p))
	if err != nil {
		return nil, ss.store.wrapError("Resolve", p, err)
	}
	if ok {
		return &objectEntity{sess: ss, path: p, typ: FileType}, nil
	}

	// Nodes embedded in an ancestor's document.
	segs := contentstore.SplitRel(p)
	for i := len(segs) - 1; i >= 1; i-- {
		docPath := "/" + strings.Join(segs[:i], "/")
		doc, err := ss.loadDocument(ctx, docPath)
		if contentstore.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if n := doc.root.Find(strings.Join(segs[i:], "/")); n != nil {
			return &docEntity{sess: ss, doc: doc, node: n, path: p}, nil
		}
		break
	}
	return nil, &contentstore.StoreError{Op: "Resolve", Backend: contentstore.BackendS3, Path: p, Err: contentstore.ErrNotFound}
}

func (ss *session) HasPendingChanges() bool {
	return len(ss.dirty) > 0
}

// Commit uploads dirty documents in key order. Documents that were
// uploaded before a failure are no longer pending.
func (ss *session) Commit(ctx context.Context) error {
	if ss.closed {
		return contentstore.ErrSessionClosed
	}
	keys := make([]string, 0, len(ss.dirty))
	for k := range ss.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := ss.store.putDocument(ctx, ss.client, ss.dirty[k]); err != nil {
			return err
		}
		delete(ss.dirty, k)
	}
	return nil
}

func (ss *session) Close() error {
	ss.closed = true
	ss.docs = nil
	ss.dirty = nil
	return nil
}

// objectEntity is a folder (key prefix) or a plain object.
type objectEntity struct {
	sess   *session
	path   string
	typ    string
	prefix string
}

func (e *objectEntity) Path() string     { return e.path }
func (e *objectEntity) TypeName() string { return e.typ }

func (e *objectEntity) Children(ctx context.Context) ([]contentstore.Entity, error) {
	if e.sess.closed {
		return nil, contentstore.ErrSessionClosed
	}
	if e.prefix == "" && e.path != "/" {
		return nil, nil
	}

	folders := make(map[string]struct{})
	docs := make(map[string]struct{})
	files := make(map[string]struct{})

	paginator := s3.NewListObjectsV2Paginator(e.sess.client, &s3.ListObjectsV2Input{
		Bucket:    e.sess.bucket(),
		Prefix:    aws.String(e.prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, e.sess.store.wrapError("Children", e.path, err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), e.prefix), "/")
			if name != "" {
				folders[name] = struct{}{}
			}
		}
		for _, obj := range page.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), e.prefix)
			switch {
			case rel == "":
			case strings.HasSuffix(rel, DocumentSuffix):
				docs[strings.TrimSuffix(rel, DocumentSuffix)] = struct{}{}
			default:
				files[rel] = struct{}{}
			}
		}
	}

	names := make([]string, 0, len(folders)+len(docs)+len(files))
	for n := range folders {
		names = append(names, n)
	}
	for n := range docs {
		if _, dup := folders[n]; !dup {
			names = append(names, n)
		}
	}
	for n := range files {
		_, isDoc := docs[n]
		_, isFolder := folders[n]
		if !isDoc && !isFolder {
			names = append(names, n)
		}
	}
	sort.Strings(names)

	out := make([]contentstore.Entity, 0, len(names))
	for _, name := range names {
		p := contentstore.JoinPath(e.path, name)
		switch {
		case hasKey(docs, name):
			// A document takes precedence over a same-named prefix.
			doc, err := e.sess.loadDocument(ctx, p)
			if err != nil {
				return nil, err
			}
			out = append(out, &docEntity{sess: e.sess, doc: doc, node: doc.root, path: p})
		case hasKey(folders, name):
			out = append(out, &objectEntity{sess: e.sess, path: p, typ: e.sess.store.cfg.FolderType, prefix: e.sess.store.folderPrefix(p)})
		default:
			out = append(out, &objectEntity{sess: e.sess, path: p, typ: FileType})
		}
	}
	return out, nil
}

func hasKey(m map[string]struct{}, k string) bool {
	_, ok := m[k]
	return ok
}

func (e *objectEntity) Child(ctx context.Context, rel string) (contentstore.Entity, error) {
	if e.prefix == "" && e.path != "/" {
		return nil, &contentstore.StoreError{Op: "Child", Backend: contentstore.BackendS3, Path: contentstore.JoinPath(e.path, rel), Err: contentstore.ErrNotFound}
	}
	return e.sess.Resolve(ctx, contentstore.JoinPath(e.path, rel))
}

func (e *objectEntity) Property(string) (contentstore.Value, bool) {
	return contentstore.Value{}, false
}

func (e *objectEntity) SetProperty(context.Context, string, contentstore.Value) error {
	return &contentstore.StoreError{Op: "SetProperty", Backend: contentstore.BackendS3, Path: e.path, Err: errReadOnly}
}

// docEntity is a node inside a loaded document.
type docEntity struct {
	sess *session
	doc  *document
	node *contentstore.Node
	path string
}

func (e *docEntity) Path() string     { return e.path }
func (e *docEntity) TypeName() string { return e.node.Type }

func (e *docEntity) Children(context.Context) ([]contentstore.Entity, error) {
	if e.sess.closed {
		return nil, contentstore.ErrSessionClosed
	}
	out := make([]contentstore.Entity, 0, len(e.node.Children))
	for _, c := range e.node.Children {
		if c == nil {
			continue
		}
		out = append(out, &docEntity{sess: e.sess, doc: e.doc, node: c, path: contentstore.JoinPath(e.path, c.Name)})
	}
	return out, nil
}

func (e *docEntity) Child(_ context.Context, rel string) (contentstore.Entity, error) {
	if e.sess.closed {
		return nil, contentstore.ErrSessionClosed
	}
	p := contentstore.JoinPath(e.path, rel)
	n := e.node.Find(rel)
	if n == nil {
		return nil, &contentstore.StoreError{Op: "Child", Backend: contentstore.BackendS3, Path: p, Err: contentstore.ErrNotFound}
	}
	return &docEntity{sess: e.sess, doc: e.doc, node: n, path: p}, nil
}

func (e *docEntity) Property(name string) (contentstore.Value, bool) {
	v, ok := e.node.Properties[name]
	return v, ok
}

func (e *docEntity) SetProperty(_ context.Context, name string, v contentstore.Value) error {
	if e.sess.closed {
		return contentstore.ErrSessionClosed
	}
	if err := v.Validate(); err != nil {
		return &contentstore.StoreError{Op: "SetProperty", Backend: contentstore.BackendS3, Path: e.path, Err: err}
	}
	if e.node.Properties == nil {
		e.node.Properties = make(map[string]contentstore.Value)
	}
	e.node.Properties[name] = v
	e.sess.dirty[e.doc.key] = e.doc
	return nil
}
