package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"chatsync/internal/migrations"
	"chatsync/internal/models"
	"chatsync/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

// Database is the local persistent store: conversation snapshots and
// device-local hidden-message tombstones.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(migrations.GetInitialSchema()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	enc, err := newEncryptor()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: enc}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// SaveSnapshot upserts the serialized conversation state for a device user.
func (d *Database) SaveSnapshot(ctx context.Context, deviceUserID string, snapshot *models.ConversationSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	encrypted, err := d.encryptor.EncryptIfEnabled(string(payload))
	if err != nil {
		return fmt.Errorf("failed to encrypt snapshot: %w", err)
	}

	query := `
		INSERT INTO conversation_snapshots (
			conversation_id, device_user_id, snapshot, last_known_id, last_sync_at, updated_at
		) VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (device_user_id, conversation_id) DO UPDATE SET
			snapshot = excluded.snapshot,
			last_known_id = excluded.last_known_id,
			last_sync_at = excluded.last_sync_at,
			updated_at = CURRENT_TIMESTAMP
	`

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			snapshot.ConversationID,
			deviceUserID,
			encrypted,
			snapshot.LastKnownID,
			snapshot.LastSyncAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
		return nil
	}, "save snapshot")
}

// GetSnapshot loads the persisted conversation state, or nil when the
// conversation has never been persisted.
func (d *Database) GetSnapshot(ctx context.Context, deviceUserID, conversationID string) (*models.ConversationSnapshot, error) {
	query := `
		SELECT snapshot
		FROM conversation_snapshots
		WHERE device_user_id = ? AND conversation_id = ?
	`

	var encrypted string
	err := d.db.QueryRowContext(ctx, query, deviceUserID, conversationID).Scan(&encrypted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	payload, err := d.encryptor.DecryptIfEnabled(encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt snapshot: %w", err)
	}

	var snapshot models.ConversationSnapshot
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to deserialize snapshot: %w", err)
	}

	return &snapshot, nil
}

// DeleteSnapshot removes a persisted conversation state.
func (d *Database) DeleteSnapshot(ctx context.Context, deviceUserID, conversationID string) error {
	query := `DELETE FROM conversation_snapshots WHERE device_user_id = ? AND conversation_id = ?`
	if _, err := d.db.ExecContext(ctx, query, deviceUserID, conversationID); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// HideMessage records a device-local tombstone. Hiding twice is a no-op.
func (d *Database) HideMessage(ctx context.Context, deviceUserID, conversationID, messageID string) error {
	query := `
		INSERT OR IGNORE INTO hidden_messages (device_user_id, conversation_id, message_id)
		VALUES (?, ?, ?)
	`
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, deviceUserID, conversationID, messageID)
		if err != nil {
			return fmt.Errorf("failed to hide message: %w", err)
		}
		return nil
	}, "hide message")
}

// UnhideMessage removes a device-local tombstone.
func (d *Database) UnhideMessage(ctx context.Context, deviceUserID, conversationID, messageID string) error {
	query := `
		DELETE FROM hidden_messages
		WHERE device_user_id = ? AND conversation_id = ? AND message_id = ?
	`
	if _, err := d.db.ExecContext(ctx, query, deviceUserID, conversationID, messageID); err != nil {
		return fmt.Errorf("failed to unhide message: %w", err)
	}
	return nil
}

// GetHiddenMessages returns the set of locally hidden message ids for a
// conversation.
func (d *Database) GetHiddenMessages(ctx context.Context, deviceUserID, conversationID string) (map[string]time.Time, error) {
	query := `
		SELECT message_id, hidden_at
		FROM hidden_messages
		WHERE device_user_id = ? AND conversation_id = ?
	`

	rows, err := d.db.QueryContext(ctx, query, deviceUserID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query hidden messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hidden := make(map[string]time.Time)
	for rows.Next() {
		var id string
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("failed to scan hidden message: %w", err)
		}
		hidden[id] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read hidden messages: %w", err)
	}

	return hidden, nil
}

// CleanupIdleSnapshots evicts snapshots not updated within the idle budget.
func (d *Database) CleanupIdleSnapshots(ctx context.Context, idleMinutes int) error {
	query := `
		DELETE FROM conversation_snapshots
		WHERE updated_at < datetime('now', '-' || ? || ' minutes')
	`
	if _, err := d.db.ExecContext(ctx, query, idleMinutes); err != nil {
		return fmt.Errorf("failed to cleanup idle snapshots: %w", err)
	}
	return nil
}
