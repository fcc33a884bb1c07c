package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"nicorelay/internal/eventlog"
)

const tokenKey = "auth_token"

var ErrNotFound = errors.New("not found")

// TokenStore persists the client's auth credential across restarts.
// Implementations store the value opaquely; Get returns "" when no token
// has been saved.
type TokenStore interface {
	GetToken(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

var _ eventlog.Store = (*SQLStore)(nil)
var _ TokenStore = (*SQLStore)(nil)

func (s *SQLStore) Load(ctx context.Context) ([]eventlog.Entry, error) {
	q := s.sql.Select("ts", "session_id", "event_type", "data_json").
		From("client_events").
		OrderBy("id ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build load events query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	out := make([]eventlog.Entry, 0)
	for rows.Next() {
		var e eventlog.Entry
		var dataJSON string
		if err := rows.Scan(&e.Timestamp, &e.SessionID, &e.EventType, &dataJSON); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		if dataJSON != "" {
			if err := json.Unmarshal([]byte(dataJSON), &e.Data); err != nil {
				return nil, fmt.Errorf("parse event data: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Save(ctx context.Context, entries []eventlog.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save events: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	delStr, delArgs, err := s.sql.Delete("client_events").ToSql()
	if err != nil {
		return fmt.Errorf("build clear events query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, delStr, delArgs...); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}

	for _, e := range entries {
		dataJSON := "{}"
		if e.Data != nil {
			b, err := json.Marshal(e.Data)
			if err != nil {
				return fmt.Errorf("marshal event data: %w", err)
			}
			dataJSON = string(b)
		}
		insStr, insArgs, err := s.sql.Insert("client_events").
			Columns("ts", "session_id", "event_type", "data_json").
			Values(e.Timestamp, e.SessionID, e.EventType, dataJSON).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert event query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insStr, insArgs...); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save events: %w", err)
	}
	return nil
}

func (s *SQLStore) GetToken(ctx context.Context) (string, error) {
	q := s.sql.Select("value").From("kv").Where(sq.Eq{"key": tokenKey})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return "", fmt.Errorf("build get token query: %w", err)
	}
	var value string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get token: %w", err)
	}
	return value, nil
}

func (s *SQLStore) SetToken(ctx context.Context, token string) error {
	q := s.sql.Insert("kv").
		Columns("key", "value").
		Values(tokenKey, token).
		Suffix("ON CONFLICT(key) DO UPDATE SET value=excluded.value")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build set token query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("set token: %w", err)
	}
	return nil
}

func (s *SQLStore) ClearToken(ctx context.Context) error {
	q := s.sql.Delete("kv").Where(sq.Eq{"key": tokenKey})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build clear token query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	return nil
}
