package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/bargain-gateway/internal/domain"
	"github.com/tjfontaine/bargain-gateway/internal/storage"
	"github.com/tjfontaine/bargain-gateway/internal/storage/dialect"
)

// Store is a SQL implementation of NegotiationStore that supports multiple
// database dialects. Each negotiation is one row; its history is kept as a
// CBOR blob.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ storage.NegotiationStore = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres, mysql
	DSN    string // Data source name / connection string
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Run dialect-specific initialization (e.g., PRAGMA for SQLite)
	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a new SQLite store
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

func (s *Store) initSchema() error {
	ts := s.dialect.TimestampType() + " NOT NULL DEFAULT " + s.dialect.CurrentTimestamp()
	statements := []string{
		`CREATE TABLE IF NOT EXISTS negotiations (
id VARCHAR(64) PRIMARY KEY,
role VARCHAR(16) NOT NULL,
network VARCHAR(32) NOT NULL,
status VARCHAR(32) NOT NULL,
history ` + s.dialect.BlobType() + ` NOT NULL,
created_at ` + ts + `,
updated_at ` + ts + `
)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(s.dialect.Rebind(stmt)); err != nil {
			return fmt.Errorf("failed to execute %s schema statement: %w", s.dialect.Name(), err)
		}
	}
	return nil
}

type row struct {
	ID      string `db:"id"`
	Role    string `db:"role"`
	Network string `db:"network"`
	Status  string `db:"status"`
	History []byte `db:"history"`
}

func (r row) negotiation() (*domain.Negotiation, error) {
	var history []domain.Message
	if err := cbor.Unmarshal(r.History, &history); err != nil {
		return nil, fmt.Errorf("failed to decode history of %s: %w", r.ID, err)
	}
	return domain.RestoreNegotiation(domain.NegotiationSnapshot{
		ID:      r.ID,
		Role:    domain.Role(r.Role),
		Network: r.Network,
		Status:  domain.NegotiationStatus(r.Status),
		History: history,
	}), nil
}

func encodeHistory(nego *domain.Negotiation) ([]byte, error) {
	b, err := cbor.Marshal(nego.History())
	if err != nil {
		return nil, fmt.Errorf("failed to encode history: %w", err)
	}
	return b, nil
}

func (s *Store) exists(ctx context.Context, tx *sqlx.Tx, id string) (bool, error) {
	var count int
	query := s.dialect.Rebind(`SELECT COUNT(*) FROM negotiations WHERE id = ?`)
	if err := tx.GetContext(ctx, &count, query, id); err != nil {
		return false, fmt.Errorf("failed to check negotiation: %w", err)
	}
	return count > 0, nil
}

func (s *Store) Create(ctx context.Context, nego *domain.Negotiation) error {
	if err := storage.CheckNegotiation(nego); err != nil {
		return err
	}
	history, err := encodeHistory(nego)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	found, err := s.exists(ctx, tx, nego.ID())
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("negotiation %s: %w", nego.ID(), storage.ErrAlreadyExists)
	}

	query := s.dialect.Rebind(`INSERT INTO negotiations (id, role, network, status, history)
	          VALUES (?, ?, ?, ?, ?)`)
	_, err = tx.ExecContext(ctx, query,
		nego.ID(), string(nego.Role()), nego.Network(), string(nego.Status()), history)
	if err != nil {
		return fmt.Errorf("failed to create negotiation: %w", err)
	}

	return tx.Commit()
}

func (s *Store) Update(ctx context.Context, nego *domain.Negotiation) error {
	if err := storage.CheckNegotiation(nego); err != nil {
		return err
	}
	history, err := encodeHistory(nego)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// MySQL reports zero affected rows for unchanged values, so existence is
	// checked explicitly.
	found, err := s.exists(ctx, tx, nego.ID())
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("negotiation %s: %w", nego.ID(), storage.ErrNotFound)
	}

	query := s.dialect.Rebind(`UPDATE negotiations SET status = ?, history = ?, updated_at = ` +
		s.dialect.CurrentTimestamp() + ` WHERE id = ?`)
	_, err = tx.ExecContext(ctx, query, string(nego.Status()), history, nego.ID())
	if err != nil {
		return fmt.Errorf("failed to update negotiation: %w", err)
	}

	return tx.Commit()
}

func (s *Store) Delete(ctx context.Context, id string) error {
	query := s.dialect.Rebind(`DELETE FROM negotiations WHERE id = ?`)
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete negotiation: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete negotiation: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("negotiation %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Negotiation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, storage.ErrNotFound
	}

	query := s.dialect.Rebind(`SELECT id, role, network, status, history FROM negotiations WHERE id = ?`)
	var r row
	err := s.db.GetContext(ctx, &r, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("negotiation %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get negotiation: %w", err)
	}

	return r.negotiation()
}

func (s *Store) List(ctx context.Context) ([]*domain.Negotiation, error) {
	query := `SELECT id, role, network, status, history FROM negotiations ORDER BY id`
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to query negotiations: %w", err)
	}

	result := make([]*domain.Negotiation, 0, len(rows))
	for _, r := range rows {
		nego, err := r.negotiation()
		if err != nil {
			return nil, err
		}
		result = append(result, nego)
	}
	return result, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
