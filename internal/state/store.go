// Package state persists user port annotations and last-good statistics
// snapshots in SQLite.
//
// The store provides:
// - Persistent storage via SQLite with WAL mode for performance
// - Port annotations keyed by range, protocol and optional zone
// - Last-good stats snapshots so a restart can serve stale data at once
//
// The pure Go driver (modernc.org/sqlite) is used so the binary builds
// without CGO.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/firewall"
)

// Common errors
var (
	ErrNotFound      = errors.New("key not found")
	ErrStoreClosed   = errors.New("store is closed")
	ErrInvalidRecord = errors.New("invalid annotation")
)

const (
	schemaVersion     = "1"
	annotationColumns = "port_start, port_end, protocol, zone, name, description, incoming_action, outgoing_action, created_at"
)

// Action values for the incoming/outgoing fields of an annotation.
const (
	ActionNone  = ""
	ActionAllow = "allow"
	ActionDeny  = "deny"
)

// PortAnnotation is a stored annotation together with the port it labels.
type PortAnnotation struct {
	Range    firewall.PortRange `json:"range"`
	Protocol firewall.Protocol  `json:"protocol"`
	firewall.Annotation
}

// Key returns "range/proto" or "range/proto/zone".
func (a PortAnnotation) Key() string {
	key := a.Range.String() + "/" + string(a.Protocol)
	if a.Zone != "" {
		key += "/" + a.Zone
	}
	return key
}

// Denies reports whether the annotation asks for traffic to be rejected.
func (a PortAnnotation) Denies() bool {
	return a.IncomingAction == ActionDeny || a.OutgoingAction == ActionDeny
}

// Validate checks the range, protocol, name and action values.
func (a PortAnnotation) Validate() error {
	if err := a.Range.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if !a.Protocol.Valid() {
		return fmt.Errorf("%w: protocol %q", ErrInvalidRecord, a.Protocol)
	}
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: %s has no name", ErrInvalidRecord, a.Key())
	}
	for _, action := range []string{a.IncomingAction, a.OutgoingAction} {
		switch action {
		case ActionNone, ActionAllow, ActionDeny:
		default:
			return fmt.Errorf("%w: action %q", ErrInvalidRecord, action)
		}
	}
	return nil
}

// SQLiteStore stores annotations and snapshots in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	clock  clock.Clock // Time source for testability
}

// Options configures the SQLite store.
type Options struct {
	Path    string      // Database file path (":memory:" for in-memory)
	WALMode bool        // Enable WAL mode for better concurrency
	Clock   clock.Clock // Optional: time source (defaults to RealClock if nil)
}

// DefaultOptions returns sensible defaults.
func DefaultOptions(path string) Options {
	return Options{
		Path:    path,
		WALMode: true,
	}
}

// NewSQLiteStore opens (creating if needed) the database at opts.Path.
func NewSQLiteStore(opts Options) (*SQLiteStore, error) {
	dsn := opts.Path
	if opts.WALMode && opts.Path != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if opts.Path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.Exec("PRAGMA temp_store = MEMORY"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute pragma: %w", err)
	}

	s := &SQLiteStore{
		db:    db,
		clock: clock.OrReal(opts.Clock),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the database tables.
func (s *SQLiteStore) initSchema() error {
	schema := `
		-- User annotations; zone '' applies to every zone
		CREATE TABLE IF NOT EXISTS port_annotations (
			port_start INTEGER NOT NULL,
			port_end INTEGER NOT NULL,
			protocol TEXT NOT NULL,
			zone TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			incoming_action TEXT NOT NULL DEFAULT '',
			outgoing_action TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (port_start, port_end, protocol, zone)
		);

		-- Last good snapshot per stats kind
		CREATE TABLE IF NOT EXISTS stats_snapshots (
			kind TEXT PRIMARY KEY,
			taken_at INTEGER NOT NULL,
			data BLOB NOT NULL
		);

		-- Metadata
		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(
		"INSERT INTO metadata (key, value) VALUES ('schema_version', ?) ON CONFLICT(key) DO NOTHING",
		schemaVersion,
	)
	return err
}

// SchemaVersion returns the schema version recorded in the database.
func (s *SQLiteStore) SchemaVersion() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrStoreClosed
	}
	var v string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&v)
	return v, err
}

// SetAnnotation inserts or replaces an annotation. The original creation
// time is kept on update.
func (s *SQLiteStore) SetAnnotation(a PortAnnotation) error {
	if err := a.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	now := s.clock.Now()
	created := a.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.db.Exec(`
		INSERT INTO port_annotations (`+annotationColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(port_start, port_end, protocol, zone) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			incoming_action = excluded.incoming_action,
			outgoing_action = excluded.outgoing_action,
			updated_at = excluded.updated_at
	`, a.Range.Start, a.Range.End, string(a.Protocol), a.Zone,
		a.Name, a.Description, a.IncomingAction, a.OutgoingAction,
		created.UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("store annotation %s: %w", a.Key(), err)
	}
	return nil
}

// GetAnnotation returns the annotation for the exact key.
func (s *SQLiteStore) GetAnnotation(r firewall.PortRange, proto firewall.Protocol, zone string) (PortAnnotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return PortAnnotation{}, ErrStoreClosed
	}

	row := s.db.QueryRow(`SELECT `+annotationColumns+` FROM port_annotations
		WHERE port_start = ? AND port_end = ? AND protocol = ? AND zone = ?`,
		r.Start, r.End, string(proto), zone)
	a, err := scanAnnotation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PortAnnotation{}, ErrNotFound
	}
	return a, err
}

// DeleteAnnotation removes the annotation for the exact key.
func (s *SQLiteStore) DeleteAnnotation(r firewall.PortRange, proto firewall.Protocol, zone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.Exec(`DELETE FROM port_annotations
		WHERE port_start = ? AND port_end = ? AND protocol = ? AND zone = ?`,
		r.Start, r.End, string(proto), zone)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAnnotations returns every annotation ordered by protocol, range and zone.
func (s *SQLiteStore) ListAnnotations() ([]PortAnnotation, error) {
	return s.queryAnnotations(`SELECT ` + annotationColumns + ` FROM port_annotations
		ORDER BY protocol, port_start, port_end, zone`)
}

// DenyAnnotations returns the annotations that ask for traffic to be rejected.
func (s *SQLiteStore) DenyAnnotations() ([]PortAnnotation, error) {
	return s.queryAnnotations(`SELECT `+annotationColumns+` FROM port_annotations
		WHERE incoming_action = ? OR outgoing_action = ?
		ORDER BY protocol, port_start, port_end, zone`, ActionDeny, ActionDeny)
}

func (s *SQLiteStore) queryAnnotations(query string, args ...any) ([]PortAnnotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PortAnnotation
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AnnotationIndex loads every annotation into an in-memory lookup table.
func (s *SQLiteStore) AnnotationIndex() (firewall.AnnotationIndex, error) {
	all, err := s.ListAnnotations()
	if err != nil {
		return nil, err
	}
	idx := make(firewall.AnnotationIndex, len(all))
	for _, a := range all {
		idx.Add(a.Range, a.Protocol, a.Annotation)
	}
	return idx, nil
}

// LookupAnnotation implements firewall.AnnotationLookup. A zone-less
// annotation wins over zone-scoped ones for the same port.
func (s *SQLiteStore) LookupAnnotation(r firewall.PortRange, proto firewall.Protocol) (firewall.Annotation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return firewall.Annotation{}, false
	}

	row := s.db.QueryRow(`SELECT `+annotationColumns+` FROM port_annotations
		WHERE port_start = ? AND port_end = ? AND protocol = ?
		ORDER BY zone != '', zone LIMIT 1`,
		r.Start, r.End, string(proto))
	a, err := scanAnnotation(row)
	if err != nil {
		return firewall.Annotation{}, false
	}
	return a.Annotation, true
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAnnotation(row scanner) (PortAnnotation, error) {
	var (
		a       PortAnnotation
		proto   string
		created int64
	)
	err := row.Scan(&a.Range.Start, &a.Range.End, &proto, &a.Zone,
		&a.Name, &a.Description, &a.IncomingAction, &a.OutgoingAction, &created)
	if err != nil {
		return PortAnnotation{}, err
	}
	a.Protocol = firewall.Protocol(proto)
	a.CreatedAt = time.Unix(0, created).UTC()
	return a, nil
}

// SaveSnapshot stores the encoded snapshot for kind, replacing any earlier one.
func (s *SQLiteStore) SaveSnapshot(kind string, takenAt time.Time, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := s.db.Exec(`
		INSERT INTO stats_snapshots (kind, taken_at, data) VALUES (?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET taken_at = excluded.taken_at, data = excluded.data
	`, kind, takenAt.UnixNano(), data)
	if err != nil {
		return fmt.Errorf("store snapshot %s: %w", kind, err)
	}
	return nil
}

// LoadSnapshot returns the stored snapshot for kind, or ErrNotFound.
func (s *SQLiteStore) LoadSnapshot(kind string) (time.Time, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return time.Time{}, nil, ErrStoreClosed
	}

	var (
		takenAt int64
		data    []byte
	)
	err := s.db.QueryRow("SELECT taken_at, data FROM stats_snapshots WHERE kind = ?", kind).Scan(&takenAt, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil, ErrNotFound
	}
	if err != nil {
		return time.Time{}, nil, err
	}
	return time.Unix(0, takenAt).UTC(), data, nil
}

// Close closes the store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
