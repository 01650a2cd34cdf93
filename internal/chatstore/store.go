// Package chatstore persists chat sessions and their append-only messages
// in SQLite. It is the only durable state this service owns; corpus vectors
// are derived data and live in memory.
package chatstore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested chat does not exist.
var ErrNotFound = errors.New("not found")

// Chat is one conversation, created on the first message if the caller
// supplied no id.
type Chat struct {
	ID        string
	Title     string
	CreatedAt time.Time
}

// Message is one turn of a chat. Messages are append-only and are removed
// only by deleting their chat.
type Message struct {
	ID        string
	ChatID    string
	Role      string
	Content   string
	CreatedAt time.Time
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding chats and messages.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "grimoire.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON", // cascade delete of messages
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

// CreateChat creates a chat with the given title and returns it.
func (s *Store) CreateChat(title string) (Chat, error) {
	chat := Chat{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(`INSERT INTO chats (id, title, created_at) VALUES (?, ?, ?)`,
		chat.ID, chat.Title, chat.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return Chat{}, fmt.Errorf("inserting chat: %w", err)
	}
	return chat, nil
}

// GetChat returns the chat with the given id, or ErrNotFound.
func (s *Store) GetChat(id string) (Chat, error) {
	var c Chat
	var createdAt string
	err := s.db.QueryRow(`SELECT id, title, created_at FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.Title, &createdAt)
	if err == sql.ErrNoRows {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Chat{}, fmt.Errorf("parsing created_at: %w", err)
	}
	c.CreatedAt = t
	return c, nil
}

// ListChats returns the most recent chats, newest first.
func (s *Store) ListChats(limit int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, title, created_at FROM chats ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Title, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		c.CreatedAt = t
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// AppendMessage appends one message to an existing chat. The append is
// atomic: the chat existence check and the insert share a transaction.
func (s *Store) AppendMessage(chatID, role, content string) (Message, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Message{}, fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM chats WHERE id = ?`, chatID).Scan(&exists); err != nil {
		return Message{}, err
	}
	if exists == 0 {
		return Message{}, ErrNotFound
	}

	msg := Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.Exec(`INSERT INTO chat_messages (id, chat_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.Role, msg.Content, msg.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return Message{}, fmt.Errorf("inserting message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("committing append: %w", err)
	}
	return msg, nil
}

// ListMessages returns a chat's messages in append order, or ErrNotFound
// when the chat does not exist.
func (s *Store) ListMessages(chatID string) ([]Message, error) {
	if _, err := s.GetChat(chatID); err != nil {
		return nil, err
	}

	// rowid keeps append order even when timestamps collide.
	rows, err := s.db.Query(`SELECT id, chat_id, role, content, created_at
		FROM chat_messages WHERE chat_id = ? ORDER BY rowid`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		m.CreatedAt = t
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// DeleteChat removes a chat and, via cascade, all its messages.
func (s *Store) DeleteChat(id string) error {
	res, err := s.db.Exec(`DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting chat %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
