package db

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/epalmerini/msgscope/internal/message"
	"github.com/epalmerini/msgscope/internal/proto"
	"github.com/epalmerini/msgscope/internal/xdg"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store defines the interface for the browse archive.
type Store interface {
	CreateSession(ctx context.Context, params SessionParams) (int64, error)
	EndSession(ctx context.Context, sessionID int64) error
	ListRecentSessions(ctx context.Context, limit int64) ([]Session, error)
	InsertMessage(ctx context.Context, msg *MessageRecord) (int64, error)
	GetMessage(ctx context.Context, id int64) (*Message, error)
	ListMessagesBySession(ctx context.Context, sessionID, limit, offset int64) ([]Message, error)
	SearchMessages(ctx context.Context, query string, limit, offset int64) ([]Message, error)
	SearchMessagesInSession(ctx context.Context, query string, sessionID, limit, offset int64) ([]Message, error)
	Close() error
}

// SessionParams describes a browse session being archived.
type SessionParams struct {
	SourceKind    string
	SourceName    string
	Mode          string
	MsgVPN        string
	ManagementURL string
}

// Session is an archived browse session.
type Session struct {
	ID            int64
	SourceKind    string
	SourceName    string
	Mode          string
	MsgVPN        string
	ManagementURL string
	StartedAt     time.Time
	EndedAt       sql.NullTime
}

// MessageRecord is a fetched record to be archived.
type MessageRecord struct {
	SessionID int64
	Page      int
	Record    message.Record
}

// Message is an archived record as stored. JSON columns are kept raw.
type Message struct {
	ID                    int64
	SessionID             int64
	Page                  int
	Key                   string
	MsgID                 sql.NullInt64
	ReplicationGroupMsgID sql.NullString
	Destination           string
	Payload               string
	PayloadKind           string
	Meta                  sql.NullString
	Headers               sql.NullString
	UserProperties        sql.NullString
	DecodedType           sql.NullString
	ArchivedAt            time.Time
}

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewStore opens the archive at path, or at the default data location when
// path is empty.
func NewStore(path string) (*SQLiteStore, error) {
	if path == "" {
		p, err := xdg.DataFile("archive.db")
		if err != nil {
			return nil, fmt.Errorf("failed to get data directory: %w", err)
		}
		path = p
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps the pragmas and avoids SQLITE_BUSY between writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;"); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to set pragmas: %w", err), db.Close())
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to initialize schema: %w", err), db.Close())
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, p SessionParams) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (source_kind, source_name, mode, msg_vpn, management_url, started_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		p.SourceKind, p.SourceName, p.Mode, p.MsgVPN, p.ManagementURL, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) EndSession(ctx context.Context, sessionID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET ended_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), sessionID)
	return err
}

func (s *SQLiteStore) ListRecentSessions(ctx context.Context, limit int64) (_ []Session, err error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, source_kind, source_name, mode, msg_vpn, management_url, started_at, ended_at
FROM sessions
ORDER BY started_at DESC, id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { err = errors.Join(err, rows.Close()) }()

	var sessions []Session
	for rows.Next() {
		var (
			sess    Session
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&sess.ID, &sess.SourceKind, &sess.SourceName, &sess.Mode,
			&sess.MsgVPN, &sess.ManagementURL, &started, &ended); err != nil {
			return nil, err
		}
		sess.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			sess.EndedAt = sql.NullTime{Time: time.UnixMilli(ended.Int64), Valid: true}
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *MessageRecord) (int64, error) {
	rec := msg.Record

	var (
		msgID       sql.NullInt64
		rgID        sql.NullString
		destination string
		decodedType sql.NullString
	)
	if rec.Meta != nil {
		msgID = toNullInt(rec.Meta.MsgID)
		rgID = toNullString(rec.Meta.ReplicationGroupMsgID)
	}
	if rec.Headers != nil {
		destination = rec.Headers.Destination
	}
	if t, ok := rec.Decoded[proto.TypeField].(string); ok {
		decodedType = toNullString(t)
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO messages (
    session_id, page, record_key, msg_id, replication_group_msg_id, destination,
    payload, payload_kind, meta, headers, user_properties, decoded_type, archived_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.SessionID, msg.Page, rec.Key, msgID, rgID, destination,
		rec.Payload.String(), rec.Payload.Kind.String(),
		toJSON(rec.Meta), toJSON(rec.Headers), toJSON(rec.UserProperties),
		decodedType, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const messageColumns = `m.id, m.session_id, m.page, m.record_key, m.msg_id,
       m.replication_group_msg_id, m.destination, m.payload, m.payload_kind,
       m.meta, m.headers, m.user_properties, m.decoded_type, m.archived_at`

func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	msgs, err := s.scanMessages(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, sql.ErrNoRows
	}
	return &msgs[0], nil
}

// ListMessagesBySession returns a session's records in archive order.
func (s *SQLiteStore) ListMessagesBySession(ctx context.Context, sessionID, limit, offset int64) ([]Message, error) {
	return s.scanMessages(ctx, `
SELECT `+messageColumns+`
FROM messages m
WHERE m.session_id = ?
ORDER BY m.id ASC
LIMIT ? OFFSET ?`, sessionID, limit, offset)
}

// SearchMessages runs an FTS5 query over payloads and destinations, newest
// first.
func (s *SQLiteStore) SearchMessages(ctx context.Context, query string, limit, offset int64) ([]Message, error) {
	return s.scanMessages(ctx, `
SELECT `+messageColumns+`
FROM messages m
JOIN messages_fts fts ON m.id = fts.rowid
WHERE messages_fts MATCH ?
ORDER BY m.id DESC
LIMIT ? OFFSET ?`, query, limit, offset)
}

func (s *SQLiteStore) SearchMessagesInSession(ctx context.Context, query string, sessionID, limit, offset int64) ([]Message, error) {
	return s.scanMessages(ctx, `
SELECT `+messageColumns+`
FROM messages m
JOIN messages_fts fts ON m.id = fts.rowid
WHERE messages_fts MATCH ? AND m.session_id = ?
ORDER BY m.id DESC
LIMIT ? OFFSET ?`, query, sessionID, limit, offset)
}

func (s *SQLiteStore) scanMessages(ctx context.Context, query string, args ...any) (_ []Message, err error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { err = errors.Join(err, rows.Close()) }()

	var messages []Message
	for rows.Next() {
		var (
			m        Message
			archived int64
		)
		if err := rows.Scan(
			&m.ID, &m.SessionID, &m.Page, &m.Key, &m.MsgID,
			&m.ReplicationGroupMsgID, &m.Destination, &m.Payload, &m.PayloadKind,
			&m.Meta, &m.Headers, &m.UserProperties, &m.DecodedType, &archived,
		); err != nil {
			return nil, err
		}
		m.ArchivedAt = time.UnixMilli(archived)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullInt(n int64) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: n, Valid: true}
}

// toJSON encodes v for a JSON column; nil values and encoding failures are
// stored as NULL.
func toJSON[T any](v T) sql.NullString {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}
