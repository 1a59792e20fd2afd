package sqlite

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"

	"github.com/3leaps/treeaudit/pkg/contentstore"
)

// Store is a SQLite-backed content store.
type Store struct {
	db *sql.DB
}

// Ensure Store implements contentstore.Store.
var _ contentstore.Store = (*Store)(nil)

// Open opens (and creates if needed) a content database and migrates its
// schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func wrap(op, p string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		err = contentstore.ErrNotFound
	}
	return &contentstore.StoreError{Op: op, Backend: contentstore.BackendSQLite, Path: p, Err: err}
}

// Seed replaces the stored tree with root. Principals are kept.
func (s *Store) Seed(ctx context.Context, root *contentstore.Node) error {
	if root == nil {
		return errors.New("seed tree is nil")
	}
	if err := root.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("Seed", "", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{`DELETE FROM properties`, `DELETE FROM nodes`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return wrap("Seed", "", err)
		}
	}

	nodeStmt, err := tx.PrepareContext(ctx, `INSERT INTO nodes (path, parent, name, type, ord) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return wrap("Seed", "", err)
	}
	defer func() { _ = nodeStmt.Close() }()

	propStmt, err := tx.PrepareContext(ctx, `INSERT INTO properties (path, name, type, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return wrap("Seed", "", err)
	}
	defer func() { _ = propStmt.Close() }()

	var insert func(n *contentstore.Node, p string, parent sql.NullString, ord int) error
	insert = func(n *contentstore.Node, p string, parent sql.NullString, ord int) error {
		if _, err := nodeStmt.ExecContext(ctx, p, parent, n.Name, n.Type, ord); err != nil {
			return wrap("Seed", p, err)
		}
		for name, v := range n.Properties {
			if _, err := propStmt.ExecContext(ctx, p, name, string(v.Type), v.Raw); err != nil {
				return wrap("Seed", p, err)
			}
		}
		ord = 0
		for _, c := range n.Children {
			if c == nil {
				continue
			}
			if err := insert(c, contentstore.JoinPath(p, c.Name), sql.NullString{String: p, Valid: true}, ord); err != nil {
				return err
			}
			ord++
		}
		return nil
	}
	if err := insert(root, "/", sql.NullString{}, 0); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrap("Seed", "", err)
	}
	return nil
}

// Export reads the committed tree back as a document.
func (s *Store) Export(ctx context.Context) (*contentstore.Node, error) {
	type row struct {
		path   string
		parent sql.NullString
		node   *contentstore.Node
	}
	nodes := make(map[string]*contentstore.Node)
	var ordered []row

	rows, err := s.db.QueryContext(ctx, `SELECT path, parent, name, type FROM nodes ORDER BY parent, ord`)
	if err != nil {
		return nil, wrap("Export", "", err)
	}
	for rows.Next() {
		var (
			r         row
			name, typ string
		)
		if err := rows.Scan(&r.path, &r.parent, &name, &typ); err != nil {
			_ = rows.Close()
			return nil, wrap("Export", "", err)
		}
		r.node = &contentstore.Node{Name: name, Type: typ}
		nodes[r.path] = r.node
		ordered = append(ordered, r)
	}
	if err := rows.Close(); err != nil {
		return nil, wrap("Export", "", err)
	}

	var root *contentstore.Node
	for _, r := range ordered {
		if !r.parent.Valid {
			root = r.node
			continue
		}
		if pn := nodes[r.parent.String]; pn != nil {
			pn.Children = append(pn.Children, r.node)
		}
	}
	if root == nil {
		return nil, wrap("Export", "/", contentstore.ErrNotFound)
	}

	prows, err := s.db.QueryContext(ctx, `SELECT path, name, type, value FROM properties`)
	if err != nil {
		return nil, wrap("Export", "", err)
	}
	defer func() { _ = prows.Close() }()
	for prows.Next() {
		var p, name, typ, raw string
		if err := prows.Scan(&p, &name, &typ, &raw); err != nil {
			return nil, wrap("Export", "", err)
		}
		n := nodes[p]
		if n == nil {
			continue
		}
		if n.Properties == nil {
			n.Properties = make(map[string]contentstore.Value)
		}
		n.Properties[name] = contentstore.Value{Type: contentstore.PropertyType(typ), Raw: raw}
	}
	if err := prows.Err(); err != nil {
		return nil, wrap("Export", "", err)
	}
	return root, nil
}

func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// AddPrincipal registers or updates a username/password pair. While no
// principal exists the store accepts any credentials.
func (s *Store) AddPrincipal(ctx context.Context, username, password string) error {
	username = contentstore.Credentials{Username: username}.WithDefaults().Username
	_, err := s.db.ExecContext(ctx, `INSERT INTO principals (username, password_sha256) VALUES (?, ?)
		ON CONFLICT(username) DO UPDATE SET password_sha256 = excluded.password_sha256`,
		username, hashPassword(password))
	return wrap("AddPrincipal", "", err)
}

func (s *Store) authenticate(ctx context.Context, creds contentstore.Credentials) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM principals`).Scan(&count); err != nil {
		return wrap("OpenSession", "", err)
	}
	if count == 0 {
		return nil
	}

	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT password_sha256 FROM principals WHERE username = ?`, creds.Username).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return wrap("OpenSession", "", contentstore.ErrInvalidCredentials)
	}
	if err != nil {
		return wrap("OpenSession", "", err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(hashPassword(creds.Password))) != 1 {
		return wrap("OpenSession", "", contentstore.ErrInvalidCredentials)
	}
	return nil
}

// OpenSession authenticates and begins a transaction.
func (s *Store) OpenSession(ctx context.Context, creds contentstore.Credentials) (contentstore.Session, error) {
	creds = creds.WithDefaults()
	if err := s.authenticate(ctx, creds); err != nil {
		return nil, err
	}
	ss := &session{store: s, ctx: context.WithoutCancel(ctx)}
	if err := ss.begin(); err != nil {
		return nil, err
	}
	return ss, nil
}

type session struct {
	store   *Store
	ctx     context.Context
	tx      *sql.Tx
	pending int
	closed  bool
}

func (ss *session) begin() error {
	tx, err := ss.store.db.BeginTx(ss.ctx, nil)
	if err != nil {
		return wrap("Begin", "", err)
	}
	ss.tx = tx
	return nil
}

func (ss *session) lookup(ctx context.Context, p string) (*entity, error) {
	if ss.closed {
		return nil, contentstore.ErrSessionClosed
	}
	var typ string
	if err := ss.tx.QueryRowContext(ctx, `SELECT type FROM nodes WHERE path = ?`, p).Scan(&typ); err != nil {
		return nil, err
	}
	return &entity{sess: ss, path: p, typ: typ}, nil
}

func (ss *session) Resolve(ctx context.Context, p string) (contentstore.Entity, error) {
	p = contentstore.CleanPath(p)
	e, err := ss.lookup(ctx, p)
	if err != nil {
		return nil, wrap("Resolve", p, err)
	}
	return e, nil
}

func (ss *session) HasPendingChanges() bool {
	return ss.pending > 0
}

func (ss *session) Commit(ctx context.Context) error {
	if ss.closed {
		return contentstore.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ss.tx.Commit(); err != nil {
		return wrap("Commit", "", err)
	}
	ss.pending = 0
	return ss.begin()
}

func (ss *session) Close() error {
	if ss.closed {
		return nil
	}
	ss.closed = true
	if err := ss.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return wrap("Close", "", err)
	}
	return nil
}

type entity struct {
	sess  *session
	path  string
	typ   string
	props map[string]contentstore.Value
}

func (e *entity) Path() string     { return e.path }
func (e *entity) TypeName() string { return e.typ }

func (e *entity) Children(ctx context.Context) ([]contentstore.Entity, error) {
	if e.sess.closed {
		return nil, contentstore.ErrSessionClosed
	}
	rows, err := e.sess.tx.QueryContext(ctx, `SELECT path, type FROM nodes WHERE parent = ? ORDER BY ord, name`, e.path)
	if err != nil {
		return nil, wrap("Children", e.path, err)
	}
	defer func() { _ = rows.Close() }()

	var out []contentstore.Entity
	for rows.Next() {
		c := &entity{sess: e.sess}
		if err := rows.Scan(&c.path, &c.typ); err != nil {
			return nil, wrap("Children", e.path, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("Children", e.path, err)
	}
	return out, nil
}

func (e *entity) Child(ctx context.Context, rel string) (contentstore.Entity, error) {
	p := contentstore.JoinPath(e.path, rel)
	c, err := e.sess.lookup(ctx, p)
	if err != nil {
		return nil, wrap("Child", p, err)
	}
	return c, nil
}

// loadProps reads all properties of the entity once.
func (e *entity) loadProps() error {
	if e.props != nil {
		return nil
	}
	if e.sess.closed {
		return contentstore.ErrSessionClosed
	}
	rows, err := e.sess.tx.QueryContext(e.sess.ctx, `SELECT name, type, value FROM properties WHERE path = ?`, e.path)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	props := make(map[string]contentstore.Value)
	for rows.Next() {
		var name, typ, raw string
		if err := rows.Scan(&name, &typ, &raw); err != nil {
			return err
		}
		props[name] = contentstore.Value{Type: contentstore.PropertyType(typ), Raw: raw}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	e.props = props
	return nil
}

func (e *entity) Property(name string) (contentstore.Value, bool) {
	if err := e.loadProps(); err != nil {
		return contentstore.Value{}, false
	}
	v, ok := e.props[name]
	return v, ok
}

func (e *entity) SetProperty(ctx context.Context, name string, v contentstore.Value) error {
	if e.sess.closed {
		return contentstore.ErrSessionClosed
	}
	if err := v.Validate(); err != nil {
		return wrap("SetProperty", e.path, err)
	}
	_, err := e.sess.tx.ExecContext(ctx, `INSERT INTO properties (path, name, type, value) VALUES (?, ?, ?, ?)
		ON CONFLICT(path, name) DO UPDATE SET type = excluded.type, value = excluded.value`,
		e.path, name, string(v.Type), v.Raw)
	if err != nil {
		return wrap("SetProperty", e.path, err)
	}
	if e.props != nil {
		e.props[name] = v
	}
	e.sess.pending++
	return nil
}
