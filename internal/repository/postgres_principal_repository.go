package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aryan0dhankhar/expensetracker/internal/domain"
	"github.com/lib/pq"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const uniqueViolation = "23505"

// PrincipalSchema creates the users table used by PostgresPrincipalRepository
const PrincipalSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            CHAR(24) PRIMARY KEY,
	firstname     VARCHAR(50) NOT NULL,
	middlename    VARCHAR(50) NOT NULL DEFAULT '',
	lastname      VARCHAR(50) NOT NULL,
	email         VARCHAR(320) NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresPrincipalRepository implements domain.PrincipalRepository using PostgreSQL.
// Ids are ObjectID hex strings so downstream services see one id format
// whichever store issued them.
type PostgresPrincipalRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresPrincipalRepository creates a new principal repository
func NewPostgresPrincipalRepository(db *sql.DB, logger *slog.Logger) *PostgresPrincipalRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresPrincipalRepository{
		db:     db,
		logger: logger,
	}
}

// Migrate creates the users table if it does not exist
func (r *PostgresPrincipalRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, PrincipalSchema); err != nil {
		return fmt.Errorf("failed to migrate users table: %w", err)
	}
	return nil
}

// Create inserts a principal and assigns its id
func (r *PostgresPrincipalRepository) Create(ctx context.Context, p *domain.Principal) error {
	query := `
		INSERT INTO users (id, firstname, middlename, lastname, email, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	id := primitive.NewObjectID().Hex()
	err := r.db.QueryRowContext(ctx,
		query,
		id,
		p.Name.First,
		p.Name.Middle,
		p.Name.Last,
		p.Email,
		p.PasswordHash,
	).Scan(&p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.Conflict(duplicateEmailMessage)
		}
		r.logger.Error("failed to create principal",
			slog.String("email", p.Email),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create principal: %w", err)
	}

	p.ID = id
	return nil
}

// GetByID retrieves a principal by id
func (r *PostgresPrincipalRepository) GetByID(ctx context.Context, id string) (*domain.Principal, error) {
	query := `
		SELECT id, firstname, middlename, lastname, email, password_hash, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves a principal by normalized email
func (r *PostgresPrincipalRepository) GetByEmail(ctx context.Context, email string) (*domain.Principal, error) {
	query := `
		SELECT id, firstname, middlename, lastname, email, password_hash, created_at, updated_at
		FROM users
		WHERE email = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, email))
}

func (r *PostgresPrincipalRepository) scanOne(row *sql.Row) (*domain.Principal, error) {
	p := &domain.Principal{}
	err := row.Scan(
		&p.ID,
		&p.Name.First,
		&p.Name.Middle,
		&p.Name.Last,
		&p.Email,
		&p.PasswordHash,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("user not found")
		}
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	return p, nil
}
