package repositories

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// sqliteLinkIndex backs LinkIndex with a local SQLite file. SQLite allows
// one writer, so the pool is pinned to a single connection.
type sqliteLinkIndex struct {
	db *sql.DB
}

// NewSQLiteLinkIndex opens (creating if needed) the index database at dbPath
// and runs pending migrations.
func NewSQLiteLinkIndex(dbPath string) (LinkIndex, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	// modernc.org/sqlite takes pragmas as _pragma query parameters. Foreign
	// keys must be on for RemovePointer's cascade to reach the link rows.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening link index: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging link index: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &sqliteLinkIndex{db: db}, nil
}

// NewSQLiteLinkIndexFromDB wraps an already-open database. Used by tests.
func NewSQLiteLinkIndexFromDB(db *sql.DB) (LinkIndex, error) {
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &sqliteLinkIndex{db: db}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running link index migrations: %w", err)
	}
	return nil
}

func (i *sqliteLinkIndex) GetPointer(ctx context.Context, link string) (*PointerRow, error) {
	row := i.db.QueryRowContext(ctx, `
		SELECT p.uri, p.last_looked_up_at
		FROM links l
		JOIN pointers p ON p.id = l.pointer_id
		WHERE l.link = ?`, link)

	var out PointerRow
	var lookedUp string
	if err := row.Scan(&out.Pointer, &lookedUp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading link index: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, lookedUp)
	if err != nil {
		return nil, fmt.Errorf("parsing last_looked_up_at for %s: %w", out.Pointer, err)
	}
	out.LookedUpAt = t
	return &out, nil
}

func (i *sqliteLinkIndex) CreatePointer(ctx context.Context, pointer string, lookedUpAt time.Time, links []string) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning index transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stamp := lookedUpAt.UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO pointers (uri, created_at, last_looked_up_at) VALUES (?, ?, ?)
		ON CONFLICT (uri) DO UPDATE SET last_looked_up_at = excluded.last_looked_up_at`,
		pointer, stamp, stamp)
	if err != nil {
		return fmt.Errorf("inserting pointer: %w", err)
	}

	id, err := pointerID(ctx, tx, pointer)
	if err != nil {
		return err
	}
	if err := insertLinks(ctx, tx, id, links, stamp); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing pointer: %w", err)
	}
	return nil
}

func (i *sqliteLinkIndex) AddLinks(ctx context.Context, pointer string, links []string) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning index transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, err := pointerID(ctx, tx, pointer)
	if err != nil {
		return err
	}
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := insertLinks(ctx, tx, id, links, stamp); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing links: %w", err)
	}
	return nil
}

func pointerID(ctx context.Context, tx *sql.Tx, pointer string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM pointers WHERE uri = ?`, pointer).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("unknown pointer %s", pointer)
		}
		return 0, fmt.Errorf("resolving pointer %s: %w", pointer, err)
	}
	return id, nil
}

// insertLinks attaches links to a pointer. OR IGNORE gives first-writer-wins
// when two entities race on the same link.
func insertLinks(ctx context.Context, tx *sql.Tx, pointerID int64, links []string, stamp string) error {
	for _, link := range links {
		if link == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO links (link, pointer_id, created_at) VALUES (?, ?, ?)`,
			link, pointerID, stamp); err != nil {
			return fmt.Errorf("inserting link %s: %w", link, err)
		}
	}
	return nil
}

func (i *sqliteLinkIndex) TouchPointer(ctx context.Context, pointer string, lookedUpAt time.Time) error {
	_, err := i.db.ExecContext(ctx, `
		UPDATE pointers SET last_looked_up_at = ? WHERE uri = ?`,
		lookedUpAt.UTC().Format(time.RFC3339Nano), pointer)
	if err != nil {
		return fmt.Errorf("touching pointer: %w", err)
	}
	return nil
}

func (i *sqliteLinkIndex) RemovePointer(ctx context.Context, pointer string) error {
	// links cascade on pointer delete
	_, err := i.db.ExecContext(ctx, `DELETE FROM pointers WHERE uri = ?`, pointer)
	if err != nil {
		return fmt.Errorf("removing pointer: %w", err)
	}
	return nil
}

func (i *sqliteLinkIndex) Health(ctx context.Context) error {
	return i.db.PingContext(ctx)
}

func (i *sqliteLinkIndex) Close() error {
	return i.db.Close()
}
