package archive

import (
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/louisbranch/tapedeck/internal/archive/migrations"
	"github.com/louisbranch/tapedeck/internal/platform/storage/sqlitemigrate"
	_ "modernc.org/sqlite"
)

// SchemaDirEnvVar overrides the embedded archive schema with .sql files read
// from the named directory. It is resolved once per store open.
const SchemaDirEnvVar = "TAPEDECK_SCHEMA_DIR"

// store is the process-shared state behind one logical archive. All handles
// addressing the same locator share one store, so a recorder and a player can
// operate on one archive concurrently and appends serialize on one writer.
type store struct {
	key    string
	memory bool
	db     *sql.DB

	// writeMu is the single-writer critical section. It guarantees message
	// ids follow Append call order.
	writeMu sync.Mutex

	refs int
}

var registry = struct {
	sync.Mutex
	stores map[string]*store
}{stores: make(map[string]*store)}

// openStore returns the shared store for loc, creating it on first open.
func openStore(loc Locator) (*store, error) {
	registry.Lock()
	defer registry.Unlock()

	if st, ok := registry.stores[loc.Key()]; ok {
		st.refs++
		return st, nil
	}

	db, err := sql.Open("sqlite", loc.dsn())
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single pooled connection keeps in-memory databases alive and rules
	// out SQLITE_BUSY between a live recorder and a player in one process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := checkSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := sqlitemigrate.ApplyMigrations(db, schemaFS(), ""); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	st := &store{key: loc.Key(), memory: loc.Memory, db: db, refs: 1}
	registry.stores[loc.Key()] = st
	return st, nil
}

// release drops one handle reference. The last release of a store closes the
// underlying database, which discards anonymous in-memory instances.
func (st *store) release() error {
	registry.Lock()
	defer registry.Unlock()

	st.refs--
	if st.refs > 0 {
		return nil
	}
	delete(registry.stores, st.key)
	if err := st.db.Close(); err != nil {
		return fmt.Errorf("close sqlite db: %w", err)
	}
	return nil
}

func schemaFS() fs.FS {
	if dir := strings.TrimSpace(os.Getenv(SchemaDirEnvVar)); dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

// checkSchema rejects databases that hold foreign or newer-versioned schemas
// before migrations touch them.
func checkSchema(db *sql.DB) error {
	var tables int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'").Scan(&tables); err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	if tables == 0 {
		return nil
	}

	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'archive_meta'").Scan(&name)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: not a tapedeck archive", ErrSchemaMismatch)
	}
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}

	var version int
	if err := db.QueryRow("SELECT MAX(version) FROM archive_meta").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: version %d, supported %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}
