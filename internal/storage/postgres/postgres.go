// Package postgres persists viewer events so the last applied scene can be
// restored after a restart.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lib/pq"
)

const (
	defaultQueryLimit = 200
	maxQueryLimit     = 10000
	appendTimeout     = 5 * time.Second
)

// EventRow is one stored viewer event.
type EventRow struct {
	EventID   int64                  `json:"event_id"`
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	Message   *string                `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	ViewerID  string                 `json:"viewer_id"`
}

// SceneID returns the scene_id field, if the event carries one.
func (r EventRow) SceneID() (string, bool) {
	id, ok := r.Fields["scene_id"].(string)
	return id, ok && id != ""
}

// Settings holds connection parameters.
type Settings struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
}

// SettingsFromEnv reads the standard PG* variables.
func SettingsFromEnv() Settings {
	return Settings{
		Host:     getEnv("PGHOST", "127.0.0.1"),
		Port:     getEnv("PGPORT", "5432"),
		User:     getEnv("PGUSER", "viewer"),
		Password: os.Getenv("PGPASSWORD"),
		Database: getEnv("PGDATABASE", "viewer"),
		SSLMode:  getEnv("PGSSLMODE", "disable"),
	}
}

// ConnString renders s as a lib/pq keyword/value connection string.
func (s Settings) ConnString() string {
	parts := []string{
		"host=" + quote(s.Host),
		"port=" + quote(s.Port),
		"user=" + quote(s.User),
	}
	if s.Password != "" {
		parts = append(parts, "password="+quote(s.Password))
	}
	parts = append(parts, "dbname="+quote(s.Database))
	mode := s.SSLMode
	if mode == "" {
		mode = "disable"
	}
	parts = append(parts, "sslmode="+quote(mode))
	return strings.Join(parts, " ")
}

// quote escapes a value for a keyword/value connection string.
func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Client stores events for one viewer.
type Client struct {
	db       *sql.DB
	viewerID string
}

// New connects, verifies the connection and creates the events table.
func New(ctx context.Context, s Settings, viewerID string) (*Client, error) {
	db, err := sql.Open("postgres", s.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{
		db:       db,
		viewerID: viewerID,
	}

	if err := client.createTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create viewer_events table: %w", err)
	}

	return client, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func (c *Client) createTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS viewer_events (
			event_id  BIGSERIAL PRIMARY KEY,
			ts        TIMESTAMPTZ NOT NULL,
			level     TEXT NOT NULL,
			event     TEXT NOT NULL,
			msg       TEXT,
			fields    JSONB,
			viewer_id TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_viewer_events_ts ON viewer_events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_viewer_events_viewer ON viewer_events(viewer_id, event);
	`
	_, err := c.db.ExecContext(ctx, query)
	return err
}

// Append inserts an event. Its signature matches events.Store.
func (c *Client) Append(ts time.Time, level, event, msg string, fields map[string]interface{}) error {
	var fieldsJSON []byte
	var err error
	if fields != nil {
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	var msgPtr *string
	if msg != "" {
		msgPtr = &msg
	}

	query := `
		INSERT INTO viewer_events (ts, level, event, msg, fields, viewer_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	_, err = c.db.ExecContext(ctx, query, ts, level, event, msgPtr, fieldsJSON, c.viewerID)
	return err
}

// Query returns the viewer's most recent events, newest first.
func (c *Client) Query(limit int) ([]EventRow, error) {
	return c.query(context.Background(), nil, clampLimit(limit))
}

// QueryEvents is Query restricted to the named events.
func (c *Client) QueryEvents(ctx context.Context, names []string, limit int) ([]EventRow, error) {
	return c.query(ctx, names, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultQueryLimit
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

func (c *Client) query(ctx context.Context, names []string, limit int) ([]EventRow, error) {
	query := `
		SELECT event_id, ts, level, event, msg, fields, viewer_id
		FROM viewer_events
		WHERE viewer_id = $1
	`
	args := []interface{}{c.viewerID}
	if len(names) > 0 {
		query += ` AND event = ANY($2)`
		args = append(args, pq.Array(names))
	}
	query += fmt.Sprintf(` ORDER BY ts DESC, event_id DESC LIMIT %d`, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		var fieldsJSON []byte
		var msg sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.ViewerID); err != nil {
			return nil, err
		}

		if msg.Valid {
			e.Message = &msg.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

// Prune deletes this viewer's events older than before and returns how many
// rows were removed.
func (c *Client) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM viewer_events WHERE viewer_id = $1 AND ts < $2`, c.viewerID, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
