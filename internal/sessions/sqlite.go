package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/haasonsaas/agentrt/pkg/models"
)

// SQLiteStore persists sessions in a SQLite database. Positions are
// strictly increasing per session but not necessarily contiguous; List
// orders by position.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// messagePayload is the JSON body stored per row.
type messagePayload struct {
	Content string                `json:"content,omitempty"`
	Blocks  []models.ContentBlock `json:"blocks,omitempty"`
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations. Use ":memory:" for a throwaway store.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	migrator, err := NewMigrator(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if _, err := migrator.Up(ctx, 0); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the handle for migration commands.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Append(ctx context.Context, sessionID string, msgs ...*models.Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var next int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position), -1) + 1 FROM messages WHERE session_id = ?`, sessionID,
		).Scan(&next); err != nil {
			return fmt.Errorf("read position: %w", err)
		}
		for i, msg := range msgs {
			if msg == nil {
				return errors.New("message is required")
			}
			clone := prepare(msg, s.now)
			var exists int
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM messages WHERE session_id = ? AND id = ?`, sessionID, clone.ID,
			).Scan(&exists)
			if err == nil {
				return fmt.Errorf("%w: %s", ErrDuplicateMessage, clone.ID)
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("check message: %w", err)
			}
			if err := insertMessage(ctx, tx, sessionID, next+int64(i), clone); err != nil {
				return err
			}
		}
		return s.touch(ctx, tx, sessionID)
	})
}

func (s *SQLiteStore) List(ctx context.Context, sessionID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, source, payload, usage, created_at
		FROM messages WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	out := []*models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Patch(ctx context.Context, sessionID, msgID string, patch MessagePatch) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, role, source, payload, usage, created_at
			FROM messages WHERE session_id = ? AND id = ?`, sessionID, msgID)
		msg, err := scanMessage(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrMessageNotFound, msgID)
		}
		if err != nil {
			return err
		}
		patch.Apply(msg)

		payload, usage, err := encodeMessage(msg)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET payload = ?, usage = ? WHERE session_id = ? AND id = ?`,
			payload, usage, sessionID, msgID,
		); err != nil {
			return fmt.Errorf("update message: %w", err)
		}
		return s.touch(ctx, tx, sessionID)
	})
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID, msgID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ? AND id = ?`, sessionID, msgID)
		if err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrMessageNotFound, msgID)
		}
		return s.touch(ctx, tx, sessionID)
	})
}

func (s *SQLiteStore) TruncateFrom(ctx context.Context, sessionID string, index int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID,
		).Scan(&count); err != nil {
			return fmt.Errorf("count messages: %w", err)
		}
		if err := checkIndex(index, count); err != nil {
			return err
		}
		if index == count {
			return nil
		}
		var position int64
		if err := tx.QueryRowContext(ctx,
			`SELECT position FROM messages WHERE session_id = ? ORDER BY position LIMIT 1 OFFSET ?`,
			sessionID, index,
		).Scan(&position); err != nil {
			return fmt.Errorf("locate index %d: %w", index, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE session_id = ? AND position >= ?`, sessionID, position,
		); err != nil {
			return fmt.Errorf("truncate messages: %w", err)
		}
		return s.touch(ctx, tx, sessionID)
	})
}

func (s *SQLiteStore) Replace(ctx context.Context, sessionID string, msgs []*models.Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("clear messages: %w", err)
		}
		seen := make(map[string]bool, len(msgs))
		for i, msg := range msgs {
			if msg == nil {
				return errors.New("message is required")
			}
			clone := prepare(msg, s.now)
			if seen[clone.ID] {
				return fmt.Errorf("%w: %s", ErrDuplicateMessage, clone.ID)
			}
			seen[clone.ID] = true
			if err := insertMessage(ctx, tx, sessionID, int64(i), clone); err != nil {
				return err
			}
		}
		return s.touch(ctx, tx, sessionID)
	})
}

func (s *SQLiteStore) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.updated_at, COUNT(m.id)
		FROM sessions s LEFT JOIN messages m ON m.session_id = s.id
		GROUP BY s.id, s.updated_at
		ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	out := []SessionInfo{}
	for rows.Next() {
		var (
			info    SessionInfo
			updated int64
		)
		if err := rows.Scan(&info.ID, &updated, &info.Messages); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		info.UpdatedAt = time.Unix(0, updated)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessions: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) touch(ctx context.Context, tx *sql.Tx, sessionID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, updated_at) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		sessionID, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, sessionID string, position int64, msg *models.Message) error {
	payload, usage, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, position, id, role, source, payload, usage, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, position, msg.ID, string(msg.Role), msg.Source, payload, usage, msg.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return nil
}

func encodeMessage(msg *models.Message) (string, sql.NullString, error) {
	payload, err := json.Marshal(messagePayload{Content: msg.Content, Blocks: msg.Blocks})
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("encode message %s: %w", msg.ID, err)
	}
	var usage sql.NullString
	if msg.Usage != nil {
		data, err := json.Marshal(msg.Usage)
		if err != nil {
			return "", sql.NullString{}, fmt.Errorf("encode usage %s: %w", msg.ID, err)
		}
		usage = sql.NullString{String: string(data), Valid: true}
	}
	return string(payload), usage, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*models.Message, error) {
	var (
		msg     models.Message
		role    string
		payload string
		usage   sql.NullString
		created int64
	)
	if err := row.Scan(&msg.ID, &role, &msg.Source, &payload, &usage, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	msg.Role = models.Role(role)
	msg.CreatedAt = time.Unix(0, created)

	var body messagePayload
	if err := json.Unmarshal([]byte(payload), &body); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", msg.ID, err)
	}
	msg.Content = body.Content
	msg.Blocks = body.Blocks
	if usage.Valid {
		msg.Usage = &models.TokenUsage{}
		if err := json.Unmarshal([]byte(usage.String), msg.Usage); err != nil {
			return nil, fmt.Errorf("decode usage %s: %w", msg.ID, err)
		}
	}
	return &msg, nil
}
