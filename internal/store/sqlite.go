// This file implements an SQLite-backed store for conversations and
// contact flags.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/cmmodulados/verabot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database
// directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN. The DSN
// is a file path to the database file; a missing directory is created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

const sqliteConversationColumns = `id, contact_id, ticket_id, contact_name, contact_phone,
	current_step, step_data, last_message, is_active, transferred_to_human, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*models.Conversation, error) {
	var conv models.Conversation
	var step string
	var stepDataJSON string
	if err := row.Scan(&conv.ID, &conv.ContactID, &conv.TicketID, &conv.ContactName, &conv.ContactPhone,
		&step, &stepDataJSON, &conv.LastMessage, &conv.IsActive, &conv.TransferredToHuman,
		&conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	conv.CurrentStep = models.StepID(step)
	if stepDataJSON != "" && stepDataJSON != "{}" {
		if err := json.Unmarshal([]byte(stepDataJSON), &conv.StepData); err != nil {
			slog.Error("Store step_data unmarshal failed", "error", err, "contactID", conv.ContactID)
			// Continue with empty step data rather than failing the read.
			conv.StepData = models.StepData{}
		}
	}
	return &conv, nil
}

func marshalStepData(data *models.StepData) (string, error) {
	if data == nil || data.IsZero() {
		return "{}", nil
	}
	out, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal step data: %w", err)
	}
	return string(out), nil
}

func (s *SQLiteStore) FindActiveConversation(contactID int64) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+sqliteConversationColumns+`
		FROM conversations WHERE contact_id = ? AND is_active = 1`, contactID)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore FindActiveConversation not found", "contactID", contactID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore FindActiveConversation failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to query active conversation for %d: %w", contactID, err)
	}
	return conv, nil
}

func (s *SQLiteStore) CreateConversation(conv models.Conversation) (*models.Conversation, error) {
	existing, err := s.FindActiveConversation(conv.ContactID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, models.ErrConversationExists
	}

	stepData, err := marshalStepData(&conv.StepData)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	res, err := s.db.Exec(`INSERT INTO conversations (contact_id, ticket_id, contact_name, contact_phone,
		current_step, step_data, last_message, is_active, transferred_to_human, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, 0, ?, ?)`,
		conv.ContactID, conv.TicketID, conv.ContactName, conv.ContactPhone,
		string(conv.CurrentStep), stepData, conv.LastMessage, now, now)
	if err != nil {
		slog.Error("SQLiteStore CreateConversation failed", "error", err, "contactID", conv.ContactID)
		return nil, fmt.Errorf("failed to insert conversation for %d: %w", conv.ContactID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read inserted conversation id: %w", err)
	}
	conv.ID = id
	conv.IsActive = true
	conv.CreatedAt = now
	conv.UpdatedAt = now
	slog.Debug("SQLiteStore CreateConversation succeeded", "contactID", conv.ContactID, "id", id)
	return &conv, nil
}

func (s *SQLiteStore) UpdateConversationStep(contactID int64, step models.StepID, data *models.StepData, lastMessage string) error {
	stepData, err := marshalStepData(data)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`UPDATE conversations
		SET current_step = ?, step_data = ?, last_message = ?, updated_at = ?
		WHERE contact_id = ? AND is_active = 1`,
		string(step), stepData, lastMessage, time.Now(), contactID)
	if err != nil {
		slog.Error("SQLiteStore UpdateConversationStep failed", "error", err, "contactID", contactID, "step", step)
		return fmt.Errorf("failed to update conversation for %d: %w", contactID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return models.ErrNoActiveConversation
	}
	slog.Debug("SQLiteStore UpdateConversationStep succeeded", "contactID", contactID, "step", step)
	return nil
}

func (s *SQLiteStore) FinalizeConversation(contactID int64) error {
	res, err := s.db.Exec(`UPDATE conversations
		SET is_active = 0, transferred_to_human = 1, updated_at = ?
		WHERE contact_id = ? AND is_active = 1`, time.Now(), contactID)
	if err != nil {
		slog.Error("SQLiteStore FinalizeConversation failed", "error", err, "contactID", contactID)
		return fmt.Errorf("failed to finalize conversation for %d: %w", contactID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return models.ErrNoActiveConversation
	}
	slog.Debug("SQLiteStore FinalizeConversation succeeded", "contactID", contactID)
	return nil
}

func (s *SQLiteStore) ListConversations() ([]models.Conversation, error) {
	rows, err := s.db.Query(`SELECT ` + sqliteConversationColumns + `
		FROM conversations ORDER BY id DESC`)
	if err != nil {
		slog.Error("SQLiteStore ListConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			slog.Error("SQLiteStore ListConversations scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		conversations = append(conversations, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	slog.Debug("SQLiteStore ListConversations succeeded", "count", len(conversations))
	return conversations, nil
}

func (s *SQLiteStore) GetContactFlags(contactID int64) (*models.ContactFlags, error) {
	var flags models.ContactFlags
	err := s.db.QueryRow(`SELECT contact_id, paused, in_human_service, last_message, updated_at
		FROM contact_flags WHERE contact_id = ?`, contactID).Scan(
		&flags.ContactID, &flags.Paused, &flags.InHumanService, &flags.LastMessage, &flags.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetContactFlags failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to query contact flags for %d: %w", contactID, err)
	}
	return &flags, nil
}

func (s *SQLiteStore) SaveContactFlags(flags models.ContactFlags) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO contact_flags (contact_id, paused, in_human_service, last_message, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		flags.ContactID, flags.Paused, flags.InHumanService, flags.LastMessage, time.Now())
	if err != nil {
		slog.Error("SQLiteStore SaveContactFlags failed", "error", err, "contactID", flags.ContactID)
		return fmt.Errorf("failed to save contact flags for %d: %w", flags.ContactID, err)
	}
	slog.Debug("SQLiteStore SaveContactFlags succeeded", "contactID", flags.ContactID)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
