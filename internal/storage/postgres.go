package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/xaenox/liveagent/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

// PostgresStorage persists interactions and lead scores for the CRM side of
// the house.
type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(config DatabaseConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db}

	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

func (s *PostgresStorage) SaveInteraction(ctx context.Context, interaction *models.InteractionResult) error {
	query := `
		INSERT INTO interactions (id, session_id, username, user_message, intent,
			agent_response, was_auto_responded, lead_score, matched_product_id,
			requires_human_review, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	var productID sql.NullString
	if interaction.MatchedProduct != nil {
		productID = sql.NullString{String: interaction.MatchedProduct.ID, Valid: true}
	}
	var response sql.NullString
	if interaction.AgentResponse != "" {
		response = sql.NullString{String: interaction.AgentResponse, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		interaction.InteractionID,
		interaction.SessionID,
		interaction.Username,
		interaction.UserMessage,
		interaction.Intent,
		response,
		interaction.WasAutoResponded,
		interaction.LeadScore,
		productID,
		interaction.RequiresHumanReview,
		interaction.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("error saving interaction: %w", err)
	}
	return nil
}

func (s *PostgresStorage) UpdateLeadScore(ctx context.Context, sessionID, username string, score int) error {
	query := `
		INSERT INTO leads (session_id, username, lead_score, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (session_id, username)
		DO UPDATE SET lead_score = EXCLUDED.lead_score, updated_at = NOW()`

	if _, err := s.db.ExecContext(ctx, query, sessionID, username, score); err != nil {
		return fmt.Errorf("error updating lead score: %w", err)
	}
	return nil
}

func (s *PostgresStorage) RecentInteractions(ctx context.Context, sessionID string, limit int) ([]*models.InteractionResult, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, session_id, username, user_message, intent, agent_response,
			was_auto_responded, lead_score, requires_human_review, created_at
		FROM interactions
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying interactions: %w", err)
	}
	defer rows.Close()

	var out []*models.InteractionResult
	for rows.Next() {
		i := &models.InteractionResult{}
		var response sql.NullString
		err := rows.Scan(
			&i.InteractionID,
			&i.SessionID,
			&i.Username,
			&i.UserMessage,
			&i.Intent,
			&response,
			&i.WasAutoResponded,
			&i.LeadScore,
			&i.RequiresHumanReview,
			&i.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning interaction: %w", err)
		}
		i.AgentResponse = response.String
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
