// Package catalogcache keeps library and object listings in a local SQLite
// database so they can be browsed without a server round trip.
package catalogcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/drunlade/go-ndv/ndv"
	"github.com/drunlade/go-ndv/pal"
)

const schema = `
CREATE TABLE IF NOT EXISTS libraries (
	server     TEXT    NOT NULL,
	dbid       INTEGER NOT NULL,
	fnr        INTEGER NOT NULL,
	name       TEXT    NOT NULL,
	flags      INTEGER NOT NULL,
	fetched_at INTEGER NOT NULL,
	PRIMARY KEY (server, dbid, fnr, name)
);
CREATE TABLE IF NOT EXISTS objects (
	server      TEXT    NOT NULL,
	dbid        INTEGER NOT NULL,
	fnr         INTEGER NOT NULL,
	library     TEXT    NOT NULL,
	name        TEXT    NOT NULL,
	long_name   TEXT    NOT NULL,
	kind        INTEGER NOT NULL,
	nat_type    INTEGER NOT NULL,
	user_id     TEXT    NOT NULL,
	source_size INTEGER NOT NULL,
	gp_size     INTEGER NOT NULL,
	source_date TEXT    NOT NULL,
	gp_date     TEXT    NOT NULL,
	fetched_at  INTEGER NOT NULL,
	PRIMARY KEY (server, dbid, fnr, library, name, kind, nat_type)
);
CREATE TABLE IF NOT EXISTS listings (
	server     TEXT    NOT NULL,
	dbid       INTEGER NOT NULL,
	fnr        INTEGER NOT NULL,
	library    TEXT    NOT NULL,
	fetched_at INTEGER NOT NULL,
	PRIMARY KEY (server, dbid, fnr, library)
);`

// libraryListing is the library column of the listings row that records
// when the library list itself was fetched.
const libraryListing = "*"

// Location identifies a system file on one server.
type Location struct {
	Server string
	DBID   int
	FNR    int
}

// LocationOf returns the location of sf on server, usually "host:port".
func LocationOf(server string, sf *ndv.SystemFile) Location {
	return Location{Server: server, DBID: sf.DBID, FNR: sf.FNR}
}

// Cache is a listing cache backed by one database file.
type Cache struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the cache at path.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache ping failed: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	return &Cache{db: db, now: time.Now}, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// PutLibraries replaces the cached library list of loc.
func (c *Cache) PutLibraries(ctx context.Context, loc Location, libs []*ndv.Library) error {
	now := c.now().Unix()
	return c.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM libraries WHERE server = ? AND dbid = ? AND fnr = ?",
			loc.Server, loc.DBID, loc.FNR); err != nil {
			return err
		}
		for _, l := range libs {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR REPLACE INTO libraries (server, dbid, fnr, name, flags, fetched_at) VALUES (?, ?, ?, ?, ?, ?)",
				loc.Server, loc.DBID, loc.FNR, l.Name, l.Flags, now); err != nil {
				return err
			}
		}
		return markFetched(ctx, tx, loc, libraryListing, now)
	})
}

// Libraries returns the cached libraries of loc that match filter, sorted
// by name.
func (c *Cache) Libraries(ctx context.Context, loc Location, filter string) ([]*ndv.Library, error) {
	match, args := nameMatch("name", filter)
	query := "SELECT name, flags FROM libraries WHERE server = ? AND dbid = ? AND fnr = ?" + match + " ORDER BY name"
	rows, err := c.db.QueryContext(ctx, query, append([]any{loc.Server, loc.DBID, loc.FNR}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("query libraries: %w", err)
	}
	defer rows.Close()

	var libs []*ndv.Library
	for rows.Next() {
		l := &ndv.Library{}
		if err := rows.Scan(&l.Name, &l.Flags); err != nil {
			return nil, fmt.Errorf("scan library: %w", err)
		}
		libs = append(libs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return libs, nil
}

// PutObjects replaces the cached objects of one library.
func (c *Cache) PutObjects(ctx context.Context, loc Location, library string, objs []*ndv.Object) error {
	now := c.now().Unix()
	return c.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM objects WHERE server = ? AND dbid = ? AND fnr = ? AND library = ?",
			loc.Server, loc.DBID, loc.FNR, library); err != nil {
			return err
		}
		for _, o := range objs {
			if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO objects
				(server, dbid, fnr, library, name, long_name, kind, nat_type, user_id,
				 source_size, gp_size, source_date, gp_date, fetched_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				loc.Server, loc.DBID, loc.FNR, library, o.Name, o.LongName, o.Kind, o.NatType, o.User,
				o.SourceSize, o.GPSize, formatDate(o.SourceDate), formatDate(o.GPDate), now); err != nil {
				return err
			}
		}
		return markFetched(ctx, tx, loc, library, now)
	})
}

// Objects returns the cached objects matching q, sorted by name. Kind zero
// and TypeAll match everything.
func (c *Cache) Objects(ctx context.Context, loc Location, q ndv.ObjectQuery) ([]*ndv.Object, error) {
	query := `SELECT name, long_name, kind, nat_type, user_id, source_size, gp_size, source_date, gp_date
		FROM objects WHERE server = ? AND dbid = ? AND fnr = ? AND library = ?`
	args := []any{loc.Server, loc.DBID, loc.FNR, q.Library}
	if q.Kind != 0 {
		query += " AND (kind & ?) != 0"
		args = append(args, q.Kind)
	}
	if q.Type != ndv.TypeAll && q.Type != ndv.TypeAny {
		query += " AND nat_type = ?"
		args = append(args, q.Type)
	}
	match, margs := nameMatch("name", q.Filter)
	query += match + " ORDER BY name, nat_type"

	rows, err := c.db.QueryContext(ctx, query, append(args, margs...)...)
	if err != nil {
		return nil, fmt.Errorf("query objects: %w", err)
	}
	defer rows.Close()

	var objs []*ndv.Object
	for rows.Next() {
		o := &ndv.Object{DBID: loc.DBID, FNR: loc.FNR}
		var sourceDate, gpDate string
		if err := rows.Scan(&o.Name, &o.LongName, &o.Kind, &o.NatType, &o.User,
			&o.SourceSize, &o.GPSize, &sourceDate, &gpDate); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		o.SourceDate = parseDate(sourceDate)
		o.GPDate = parseDate(gpDate)
		objs = append(objs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return objs, nil
}

// FetchedAt returns when the objects of library were cached. An empty
// library name asks for the library list. ok is false when nothing is
// cached.
func (c *Cache) FetchedAt(ctx context.Context, loc Location, library string) (at time.Time, ok bool, err error) {
	if library == "" {
		library = libraryListing
	}
	var unix int64
	err = c.db.QueryRowContext(ctx,
		"SELECT fetched_at FROM listings WHERE server = ? AND dbid = ? AND fnr = ? AND library = ?",
		loc.Server, loc.DBID, loc.FNR, library).Scan(&unix)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query listing age: %w", err)
	}
	return time.Unix(unix, 0), true, nil
}

// Invalidate drops everything cached for loc.
func (c *Cache) Invalidate(ctx context.Context, loc Location) error {
	return c.tx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"libraries", "objects", "listings"} {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM "+table+" WHERE server = ? AND dbid = ? AND fnr = ?",
				loc.Server, loc.DBID, loc.FNR); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Cache) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache update: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("update cache: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache update: %w", err)
	}
	return nil
}

func markFetched(ctx context.Context, tx *sql.Tx, loc Location, library string, now int64) error {
	_, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO listings (server, dbid, fnr, library, fetched_at) VALUES (?, ?, ?, ?, ?)",
		loc.Server, loc.DBID, loc.FNR, library, now)
	return err
}

// nameMatch turns a Natural name filter into a GLOB condition. Alternatives
// are separated by ';'. An empty filter or "*" matches every name.
func nameMatch(column, filter string) (string, []any) {
	var conds []string
	var args []any
	for _, f := range strings.Split(filter, ";") {
		f = strings.TrimSpace(f)
		if f == "" || f == "*" {
			return "", nil
		}
		conds = append(conds, column+" GLOB ?")
		args = append(args, strings.ReplaceAll(f, "[", "[[]"))
	}
	return " AND (" + strings.Join(conds, " OR ") + ")", args
}

func formatDate(d pal.Date) string {
	return fmt.Sprintf("%04d%02d%02d%02d%02d", d.Year, d.Month, d.Day, d.Hour, d.Minute)
}

func parseDate(s string) pal.Date {
	var d pal.Date
	fmt.Sscanf(s, "%4d%2d%2d%2d%2d", &d.Year, &d.Month, &d.Day, &d.Hour, &d.Minute)
	return d
}
