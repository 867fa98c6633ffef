// Package store provides namespaced key/value storage and plugin
// bookkeeping over an embedded, write-ahead-logged SQL database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	kerrors "wasmkernel/internal/errors"
)

// Store is a namespaced key/value façade plus plugin bookkeeping tables
// over one embedded SQL database, accessed through a database/sql pool.
type Store struct {
	db *sql.DB
}

// PluginRecord mirrors the plugin_metadata row for one plugin.
type PluginRecord struct {
	PluginID    string
	Name        string
	Version     string
	Description string
	Author      string
	Enabled     bool
	LoadedAt    uint64
	LastActive  uint64
	Config      json.RawMessage
}

func nowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

// Put upserts key under pid's namespace, setting updated_at to now and
// created_at only on first insert.
func (s *Store) Put(ctx context.Context, pid, key string, value json.RawMessage) error {
	now := nowMillis()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plugin_data (plugin_id, key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(plugin_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, pid, key, string(value), now, now)
	if err != nil {
		return kerrors.Wrap(CodeUnavailable, err, "put "+pid+"/"+key)
	}
	return nil
}

// Get returns the value stored under (pid, key). Absence is reported via
// the bool return, not an error.
func (s *Store) Get(ctx context.Context, pid, key string) (json.RawMessage, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM plugin_data WHERE plugin_id = ? AND key = ?`, pid, key,
	).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		return nil, false, nil
	case err != nil:
		return nil, false, kerrors.Wrap(CodeUnavailable, err, "get "+pid+"/"+key)
	}
	return json.RawMessage(raw), true, nil
}

// Delete removes (pid, key) if present, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, pid, key string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM plugin_data WHERE plugin_id = ? AND key = ?`, pid, key,
	)
	if err != nil {
		return false, kerrors.Wrap(CodeUnavailable, err, "delete "+pid+"/"+key)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, kerrors.Wrap(CodeUnavailable, err, "delete result "+pid+"/"+key)
	}
	return affected > 0, nil
}

// ListKeys returns every key in pid's namespace, ascending.
func (s *Store) ListKeys(ctx context.Context, pid string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM plugin_data WHERE plugin_id = ? ORDER BY key ASC`, pid,
	)
	if err != nil {
		return nil, kerrors.Wrap(CodeUnavailable, err, "list keys for "+pid)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, kerrors.Wrap(CodeUnavailable, err, "scan key for "+pid)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, kerrors.Wrap(CodeUnavailable, err, "iterate keys for "+pid)
	}
	return keys, nil
}

// RecordPlugin idempotently upserts a plugin's metadata row.
func (s *Store) RecordPlugin(ctx context.Context, rec PluginRecord) error {
	cfg := rec.Config
	if cfg == nil {
		cfg = json.RawMessage("{}")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plugin_metadata (plugin_id, name, version, description, author, enabled, loaded_at, last_active, config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(plugin_id) DO UPDATE SET
			name = excluded.name,
			version = excluded.version,
			description = excluded.description,
			author = excluded.author,
			enabled = excluded.enabled,
			loaded_at = excluded.loaded_at,
			last_active = excluded.last_active,
			config = excluded.config
	`, rec.PluginID, rec.Name, rec.Version, rec.Description, rec.Author,
		boolToInt(rec.Enabled), rec.LoadedAt, rec.LastActive, string(cfg))
	if err != nil {
		return kerrors.Wrap(CodeUnavailable, err, "record plugin "+rec.PluginID)
	}
	return nil
}

// TouchPlugin updates last_active for pid to now.
func (s *Store) TouchPlugin(ctx context.Context, pid string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE plugin_metadata SET last_active = ? WHERE plugin_id = ?`, nowMillis(), pid,
	)
	if err != nil {
		return kerrors.Wrap(CodeUnavailable, err, "touch plugin "+pid)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return kerrors.New(CodeNotFound, "no plugin_metadata row for "+pid)
	}
	return nil
}

// GetPlugin returns the metadata row for pid.
func (s *Store) GetPlugin(ctx context.Context, pid string) (*PluginRecord, error) {
	var rec PluginRecord
	var enabled int
	var cfg string
	err := s.db.QueryRowContext(ctx, `
		SELECT plugin_id, name, version, description, author, enabled, loaded_at, last_active, config
		FROM plugin_metadata WHERE plugin_id = ?
	`, pid).Scan(&rec.PluginID, &rec.Name, &rec.Version, &rec.Description, &rec.Author,
		&enabled, &rec.LoadedAt, &rec.LastActive, &cfg)
	switch {
	case err == sql.ErrNoRows:
		return nil, kerrors.New(CodeNotFound, "no plugin_metadata row for "+pid)
	case err != nil:
		return nil, kerrors.Wrap(CodeUnavailable, err, "get plugin "+pid)
	}
	rec.Enabled = enabled != 0
	rec.Config = json.RawMessage(cfg)
	return &rec, nil
}

// RecordSubscription idempotently records that pid subscribes to topic.
func (s *Store) RecordSubscription(ctx context.Context, pid, topic string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plugin_subscriptions (plugin_id, topic, subscribed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(plugin_id, topic) DO NOTHING
	`, pid, topic, nowMillis())
	if err != nil {
		return kerrors.Wrap(CodeUnavailable, err, "record subscription "+pid+"/"+topic)
	}
	return nil
}

// ForgetSubscription idempotently removes pid's subscription to topic.
func (s *Store) ForgetSubscription(ctx context.Context, pid, topic string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM plugin_subscriptions WHERE plugin_id = ? AND topic = ?`, pid, topic,
	)
	if err != nil {
		return kerrors.Wrap(CodeUnavailable, err, "forget subscription "+pid+"/"+topic)
	}
	return nil
}

// ForgetAllSubscriptions drops every subscription for pid, called on unload.
func (s *Store) ForgetAllSubscriptions(ctx context.Context, pid string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM plugin_subscriptions WHERE plugin_id = ?`, pid)
	if err != nil {
		return kerrors.Wrap(CodeUnavailable, err, "forget subscriptions for "+pid)
	}
	return nil
}

// Subscriptions returns every topic pid currently subscribes to.
func (s *Store) Subscriptions(ctx context.Context, pid string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT topic FROM plugin_subscriptions WHERE plugin_id = ? ORDER BY topic ASC`, pid,
	)
	if err != nil {
		return nil, kerrors.Wrap(CodeUnavailable, err, "list subscriptions for "+pid)
	}
	defer rows.Close()

	topics := []string{}
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			return nil, kerrors.Wrap(CodeUnavailable, err, "scan subscription for "+pid)
		}
		topics = append(topics, topic)
	}
	return topics, rows.Err()
}

// RecordMessage optionally logs a delivered or dropped message for
// debugging; callers may skip it entirely.
func (s *Store) RecordMessage(ctx context.Context, messageID, from, to, topic string, payload json.RawMessage, status string, createdAt uint64, deliveredAt *uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_log (message_id, sender, receiver, topic, payload, status, created_at, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET status = excluded.status, delivered_at = excluded.delivered_at
	`, messageID, from, to, topic, string(payload), status, createdAt, deliveredAt)
	if err != nil {
		return kerrors.Wrap(CodeUnavailable, err, "record message "+messageID)
	}
	return nil
}

// MessageLogEntry mirrors one message_log row.
type MessageLogEntry struct {
	MessageID   string
	From        string
	To          string
	Topic       string
	Payload     json.RawMessage
	Status      string
	CreatedAt   uint64
	DeliveredAt *uint64
}

// RecentMessages returns up to limit message_log rows where pid is either
// the sender or the receiver, most recent first.
func (s *Store) RecentMessages(ctx context.Context, pid string, limit int) ([]MessageLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, sender, receiver, topic, payload, status, created_at, delivered_at
		FROM message_log WHERE sender = ? OR receiver = ?
		ORDER BY created_at DESC LIMIT ?
	`, pid, pid, limit)
	if err != nil {
		return nil, kerrors.Wrap(CodeUnavailable, err, "recent messages for "+pid)
	}
	defer rows.Close()

	entries := []MessageLogEntry{}
	for rows.Next() {
		var e MessageLogEntry
		var payload string
		var deliveredAt sql.NullInt64
		if err := rows.Scan(&e.MessageID, &e.From, &e.To, &e.Topic, &payload, &e.Status, &e.CreatedAt, &deliveredAt); err != nil {
			return nil, kerrors.Wrap(CodeUnavailable, err, "scan message log row for "+pid)
		}
		e.Payload = json.RawMessage(payload)
		if deliveredAt.Valid {
			v := uint64(deliveredAt.Int64)
			e.DeliveredAt = &v
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
