package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"strconv"
	"strings"
	"time"

	logx "songbot/pkg/logx"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// dialect covers the few places sqlite and postgres disagree.
type dialect struct {
	name   string
	schema string
	// numbered placeholders ($1, $2, ...) instead of '?'
	numbered bool
	// times stored as RFC3339 text instead of a native timestamp
	textTime bool
}

var (
	dialectSQLite   = dialect{name: "sqlite", schema: "schema/sqlite.sql", textTime: true}
	dialectPostgres = dialect{name: "postgres", schema: "schema/postgres.sql", numbered: true}
)

// sqlStore implements Store on database/sql for both SQL drivers.
type sqlStore struct {
	db  *sql.DB
	d   dialect
	log logx.Logger
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, log logx.Logger) (*sqlStore, error) {
	s := &sqlStore{db: db, d: d, log: log}
	if err := s.migrate(ctx); err != nil {
		return nil, unavailable(d.name+" migrate", err)
	}
	return s, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile(s.d.schema)
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// q rewrites '?' placeholders for the active dialect.
func (s *sqlStore) q(query string) string {
	if !s.d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) timeArg(t time.Time) any {
	if s.d.textTime {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return t.UTC()
}

func (s *sqlStore) LoadSubscribers(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM subscribers ORDER BY chat_id`)
	if err != nil {
		return nil, unavailable("load subscribers", err)
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("scan subscriber", err)
		}
		ids = append(ids, id)
	}
	return ids, unavailable("load subscribers", rows.Err())
}

// SaveSubscribers rewrites the table in one transaction.
func (s *sqlStore) SaveSubscribers(ctx context.Context, ids []int64) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM subscribers`); err != nil {
		return unavailable("clear subscribers", err)
	}
	if len(ids) > 0 {
		stmt, perr := tx.PrepareContext(ctx, s.q(`INSERT INTO subscribers(chat_id) VALUES(?) ON CONFLICT(chat_id) DO NOTHING`))
		if perr != nil {
			err = perr
			return unavailable("prepare insert", err)
		}
		defer stmt.Close()
		for _, id := range ids {
			if _, err = stmt.ExecContext(ctx, id); err != nil {
				return unavailable("insert subscriber", err)
			}
		}
	}
	if err = tx.Commit(); err != nil {
		return unavailable("commit subscribers", err)
	}
	return nil
}

func (s *sqlStore) GetMarker(ctx context.Context, key string) (time.Time, bool, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT at FROM markers WHERE key = ?`), key)
	if s.d.textTime {
		var raw string
		err := row.Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		if err != nil {
			return time.Time{}, false, unavailable("get marker", err)
		}
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return time.Time{}, false, unavailable("parse marker", err)
		}
		return at, true, nil
	}
	var at time.Time
	err := row.Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, unavailable("get marker", err)
	}
	return at, true, nil
}

func (s *sqlStore) PutMarker(ctx context.Context, key string, at time.Time) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO markers(key, at) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET at = excluded.at`),
		key, s.timeArg(at),
	)
	return unavailable("put marker", err)
}

func (s *sqlStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO audit(at, actor_id, chat_id, action, target, ok, fail, removed, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`),
		s.timeArg(e.At), e.ActorID, e.ChatID, e.Action, nullStr(e.Target),
		e.OK, e.Fail, e.Removed, nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return unavailable("append audit", err)
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
