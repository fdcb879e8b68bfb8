// This file implements a PostgreSQL-backed store for conversations and
// contact flags.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/cmmodulados/verabot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants.
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

const postgresConversationColumns = `id, contact_id, ticket_id, contact_name, contact_phone,
	current_step, step_data, last_message, is_active, transferred_to_human, created_at, updated_at`

func (s *PostgresStore) FindActiveConversation(contactID int64) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+postgresConversationColumns+`
		FROM conversations WHERE contact_id = $1 AND is_active`, contactID)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore FindActiveConversation not found", "contactID", contactID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore FindActiveConversation failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to query active conversation for %d: %w", contactID, err)
	}
	return conv, nil
}

func (s *PostgresStore) CreateConversation(conv models.Conversation) (*models.Conversation, error) {
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
	err = s.db.QueryRow(`INSERT INTO conversations (contact_id, ticket_id, contact_name, contact_phone,
		current_step, step_data, last_message, is_active, transferred_to_human, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, FALSE, $8, $8)
		RETURNING id`,
		conv.ContactID, conv.TicketID, conv.ContactName, conv.ContactPhone,
		string(conv.CurrentStep), stepData, conv.LastMessage, now).Scan(&conv.ID)
	if err != nil {
		slog.Error("PostgresStore CreateConversation failed", "error", err, "contactID", conv.ContactID)
		return nil, fmt.Errorf("failed to insert conversation for %d: %w", conv.ContactID, err)
	}

	conv.IsActive = true
	conv.CreatedAt = now
	conv.UpdatedAt = now
	slog.Debug("PostgresStore CreateConversation succeeded", "contactID", conv.ContactID, "id", conv.ID)
	return &conv, nil
}

func (s *PostgresStore) UpdateConversationStep(contactID int64, step models.StepID, data *models.StepData, lastMessage string) error {
	stepData, err := marshalStepData(data)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`UPDATE conversations
		SET current_step = $1, step_data = $2, last_message = $3, updated_at = $4
		WHERE contact_id = $5 AND is_active`,
		string(step), stepData, lastMessage, time.Now(), contactID)
	if err != nil {
		slog.Error("PostgresStore UpdateConversationStep failed", "error", err, "contactID", contactID, "step", step)
		return fmt.Errorf("failed to update conversation for %d: %w", contactID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return models.ErrNoActiveConversation
	}
	slog.Debug("PostgresStore UpdateConversationStep succeeded", "contactID", contactID, "step", step)
	return nil
}

func (s *PostgresStore) FinalizeConversation(contactID int64) error {
	res, err := s.db.Exec(`UPDATE conversations
		SET is_active = FALSE, transferred_to_human = TRUE, updated_at = $1
		WHERE contact_id = $2 AND is_active`, time.Now(), contactID)
	if err != nil {
		slog.Error("PostgresStore FinalizeConversation failed", "error", err, "contactID", contactID)
		return fmt.Errorf("failed to finalize conversation for %d: %w", contactID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return models.ErrNoActiveConversation
	}
	slog.Debug("PostgresStore FinalizeConversation succeeded", "contactID", contactID)
	return nil
}

func (s *PostgresStore) ListConversations() ([]models.Conversation, error) {
	rows, err := s.db.Query(`SELECT ` + postgresConversationColumns + `
		FROM conversations ORDER BY id DESC`)
	if err != nil {
		slog.Error("PostgresStore ListConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			slog.Error("PostgresStore ListConversations scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		conversations = append(conversations, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	slog.Debug("PostgresStore ListConversations succeeded", "count", len(conversations))
	return conversations, nil
}

func (s *PostgresStore) GetContactFlags(contactID int64) (*models.ContactFlags, error) {
	var flags models.ContactFlags
	err := s.db.QueryRow(`SELECT contact_id, paused, in_human_service, last_message, updated_at
		FROM contact_flags WHERE contact_id = $1`, contactID).Scan(
		&flags.ContactID, &flags.Paused, &flags.InHumanService, &flags.LastMessage, &flags.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetContactFlags failed", "error", err, "contactID", contactID)
		return nil, fmt.Errorf("failed to query contact flags for %d: %w", contactID, err)
	}
	return &flags, nil
}

func (s *PostgresStore) SaveContactFlags(flags models.ContactFlags) error {
	_, err := s.db.Exec(`INSERT INTO contact_flags (contact_id, paused, in_human_service, last_message, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (contact_id) DO UPDATE
		SET paused = EXCLUDED.paused, in_human_service = EXCLUDED.in_human_service,
			last_message = EXCLUDED.last_message, updated_at = EXCLUDED.updated_at`,
		flags.ContactID, flags.Paused, flags.InHumanService, flags.LastMessage, time.Now())
	if err != nil {
		slog.Error("PostgresStore SaveContactFlags failed", "error", err, "contactID", flags.ContactID)
		return fmt.Errorf("failed to save contact flags for %d: %w", flags.ContactID, err)
	}
	slog.Debug("PostgresStore SaveContactFlags succeeded", "contactID", flags.ContactID)
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
