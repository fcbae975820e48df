// Package appdb implements spec.md §6.7's application database:
// jurisdictions, sources (freshness records), conversations, and messages,
// backed by Postgres via pgx (the same pool convention as vectorindex).
package appdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"regulatory-rag-core/internal/domain"
)

// marshalOrNil marshals v to JSON, returning nil for an empty slice so the
// column stores SQL NULL rather than the literal "null" or "[]".
func marshalOrNil(v any) ([]byte, error) {
	switch t := v.(type) {
	case []domain.Jurisdiction:
		if len(t) == 0 {
			return nil, nil
		}
	case []domain.Citation:
		if len(t) == 0 {
			return nil, nil
		}
	case []domain.Permit:
		if len(t) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// DB wraps the application-database tables.
type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New connects and ensures schema exists, following the teacher's
// initializeSchema() pattern.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("appdb: connect: %w", err)
	}
	db := &DB{pool: pool, logger: logger}
	if err := db.initializeSchema(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *DB) initializeSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS jurisdictions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			parent TEXT,
			is_active BOOLEAN NOT NULL DEFAULT true,
			last_scraped_at TIMESTAMPTZ,
			vector_count BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS sources (
			source_type TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			last_scraped_at TIMESTAMPTZ,
			titles_processed INT NOT NULL DEFAULT 0,
			codes_processed INT NOT NULL DEFAULT 0,
			total_vectors BIGINT NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS conversations (
			id UUID PRIMARY KEY,
			user_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			conversation_id UUID NOT NULL REFERENCES conversations(id),
			role TEXT NOT NULL,
			text TEXT,
			address TEXT,
			answer_text TEXT,
			summary TEXT,
			jurisdictions JSONB,
			citations JSONB,
			permits JSONB,
			confidence TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, created_at);
	`
	if _, err := db.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("appdb: initialize schema: %w", err)
	}
	db.logger.Info("application database schema ready")
	return nil
}

// UpsertJurisdiction inserts or updates a jurisdiction row.
func (db *DB) UpsertJurisdiction(ctx context.Context, id, name, typ string, parent *string) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO jurisdictions (id, name, type, parent)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, type = EXCLUDED.type, parent = EXCLUDED.parent
	`, id, name, typ, parent)
	if err != nil {
		return fmt.Errorf("appdb: upsert jurisdiction %s: %w", id, err)
	}
	return nil
}

// UpdateSourceStatus records a freshness update after an ingestion run.
// Called fire-and-forget by the orchestrator (spec.md §4.8 step 3): log but
// do not fail the run on error.
func (db *DB) UpdateSourceStatus(ctx context.Context, sourceType, status string, totalVectors int64, durationMS int64) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO sources (source_type, status, last_scraped_at, total_vectors, duration_ms)
		VALUES ($1, $2, now(), $3, $4)
		ON CONFLICT (source_type) DO UPDATE SET
			status = EXCLUDED.status,
			last_scraped_at = EXCLUDED.last_scraped_at,
			total_vectors = sources.total_vectors + EXCLUDED.total_vectors,
			duration_ms = EXCLUDED.duration_ms
	`, sourceType, status, totalVectors, durationMS)
	if err != nil {
		return fmt.Errorf("appdb: update source status %s: %w", sourceType, err)
	}
	return nil
}

// CreateConversation starts a new conversation, returning its ID.
func (db *DB) CreateConversation(ctx context.Context, userID string) (string, error) {
	id := uuid.NewString()
	_, err := db.pool.Exec(ctx, `INSERT INTO conversations (id, user_id) VALUES ($1, NULLIF($2, ''))`, id, userID)
	if err != nil {
		return "", fmt.Errorf("appdb: create conversation: %w", err)
	}
	return id, nil
}

// AppendMessage appends a message to a conversation.
func (db *DB) AppendMessage(ctx context.Context, conversationID string, msg domain.Message) (string, error) {
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	jurisdictionsJSON, _ := marshalOrNil(msg.Jurisdictions)
	citationsJSON, _ := marshalOrNil(msg.Citations)
	permitsJSON, _ := marshalOrNil(msg.Permits)

	_, err := db.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, role, text, address, answer_text, summary, jurisdictions, citations, permits, confidence, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, NULLIF($11, ''), $12)
	`, id, conversationID, msg.Role, msg.Text, msg.Address, msg.AnswerText, msg.Summary,
		jurisdictionsJSON, citationsJSON, permitsJSON, msg.Confidence, timeOrNow(msg.CreatedAt))
	if err != nil {
		return "", fmt.Errorf("appdb: append message: %w", err)
	}
	return id, nil
}

// PersistTurn writes a query turn (an optional new conversation, the user's
// message, and the assistant's reply) as a single atomic write. conversationID
// empty starts a new conversation; otherwise the turn is appended to the
// existing one. Returns the conversation ID.
func (db *DB) PersistTurn(ctx context.Context, conversationID, userID string, userMsg, assistantMsg domain.Message) (string, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("appdb: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	conv := conversationID
	if conv == "" {
		conv = uuid.NewString()
		if _, err := tx.Exec(ctx, `INSERT INTO conversations (id, user_id) VALUES ($1, NULLIF($2, ''))`, conv, userID); err != nil {
			return "", fmt.Errorf("appdb: create conversation: %w", err)
		}
	}

	for _, msg := range []domain.Message{userMsg, assistantMsg} {
		id := msg.ID
		if id == "" {
			id = uuid.NewString()
		}
		jurisdictionsJSON, _ := marshalOrNil(msg.Jurisdictions)
		citationsJSON, _ := marshalOrNil(msg.Citations)
		permitsJSON, _ := marshalOrNil(msg.Permits)

		if _, err := tx.Exec(ctx, `
			INSERT INTO messages (id, conversation_id, role, text, address, answer_text, summary, jurisdictions, citations, permits, confidence, created_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, NULLIF($11, ''), $12)
		`, id, conv, msg.Role, msg.Text, msg.Address, msg.AnswerText, msg.Summary,
			jurisdictionsJSON, citationsJSON, permitsJSON, msg.Confidence, timeOrNow(msg.CreatedAt)); err != nil {
			return "", fmt.Errorf("appdb: append message: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("appdb: commit turn: %w", err)
	}
	return conv, nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// GetConversation returns a conversation with its messages ordered by time.
func (db *DB) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var conv domain.Conversation
	conv.ID = id
	err := db.pool.QueryRow(ctx, `SELECT user_id, created_at FROM conversations WHERE id = $1`, id).
		Scan(&conv.UserID, &conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("appdb: get conversation %s: %w", id, err)
	}

	rows, err := db.pool.Query(ctx, `
		SELECT id, role, coalesce(text,''), coalesce(address,''), coalesce(answer_text,''), coalesce(summary,''),
			jurisdictions, citations, permits, coalesce(confidence,''), created_at
		FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("appdb: list messages %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.Message
		var role string
		var jurisdictionsJSON, citationsJSON, permitsJSON []byte
		if err := rows.Scan(&m.ID, &role, &m.Text, &m.Address, &m.AnswerText, &m.Summary,
			&jurisdictionsJSON, &citationsJSON, &permitsJSON, &m.Confidence, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("appdb: scan message: %w", err)
		}
		m.Role = domain.MessageRole(role)
		if jurisdictionsJSON != nil {
			if err := json.Unmarshal(jurisdictionsJSON, &m.Jurisdictions); err != nil {
				return nil, fmt.Errorf("appdb: unmarshal message jurisdictions: %w", err)
			}
		}
		if citationsJSON != nil {
			if err := json.Unmarshal(citationsJSON, &m.Citations); err != nil {
				return nil, fmt.Errorf("appdb: unmarshal message citations: %w", err)
			}
		}
		if permitsJSON != nil {
			if err := json.Unmarshal(permitsJSON, &m.Permits); err != nil {
				return nil, fmt.Errorf("appdb: unmarshal message permits: %w", err)
			}
		}
		conv.Messages = append(conv.Messages, m)
	}
	return &conv, rows.Err()
}

// ListConversations lists recent conversations for a user, most recent
// first.
func (db *DB) ListConversations(ctx context.Context, userID string, limit int) ([]domain.Conversation, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, coalesce(user_id,''), created_at FROM conversations
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("appdb: list conversations: %w", err)
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("appdb: scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (db *DB) Close() { db.pool.Close() }
