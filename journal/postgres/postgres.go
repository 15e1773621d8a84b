package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-hclog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xgr-network/xgr-relay/internal/dbx"
	"github.com/xgr-network/xgr-relay/journal"
	"github.com/xgr-network/xgr-relay/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS relay_requests (
	subscription_id TEXT        NOT NULL,
	request_id      BYTEA       NOT NULL,
	kind            TEXT        NOT NULL,
	status          TEXT        NOT NULL,
	block_number    BIGINT      NOT NULL,
	tx_hash         BYTEA,
	prompt_hash     BYTEA,
	attempts        INTEGER     NOT NULL DEFAULT 0,
	error           TEXT        NOT NULL DEFAULT '',
	updated_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (subscription_id, request_id)
);
CREATE INDEX IF NOT EXISTS relay_requests_status_idx
	ON relay_requests (subscription_id, status, block_number);
CREATE TABLE IF NOT EXISTS relay_checkpoints (
	subscription_id TEXT   PRIMARY KEY,
	block_number    BIGINT NOT NULL
);`

const columns = `request_id, kind, status, block_number, tx_hash, prompt_hash, attempts, error, updated_at`

// Store keeps records in Postgres, keyed by subscription id.
type Store struct {
	pool   *pgxpool.Pool
	sub    string
	logger hclog.Logger
}

var _ journal.Store = (*Store)(nil)

func Factory(ctx context.Context, p journal.Params) (journal.Store, error) {
	pool, err := dbx.NewPGXPool(ctx, p.DSN, dbx.PoolSettings{})
	if err != nil {
		return nil, fmt.Errorf("connect journal database: %w", err)
	}

	s, err := New(ctx, pool, p.SubscriptionID, p.Logger)
	if err != nil {
		pool.Close()

		return nil, err
	}

	return s, nil
}

// New migrates the schema and returns a store owning pool.
func New(ctx context.Context, pool *pgxpool.Pool, subscriptionID string, logger hclog.Logger) (*Store, error) {
	if subscriptionID == "" {
		return nil, errors.New("subscription id is required")
	}

	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("migrate journal schema: %w", err)
	}

	return &Store{pool: pool, sub: subscriptionID, logger: logger.Named("journal.postgres")}, nil
}

func (s *Store) Get(ctx context.Context, id types.RequestID) (*journal.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+columns+` FROM relay_requests WHERE subscription_id = $1 AND request_id = $2`,
		s.sub, id[:])

	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, journal.ErrNotFound
	}

	return r, err
}

func (s *Store) Put(ctx context.Context, r *journal.Record) error {
	updated := r.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
INSERT INTO relay_requests (subscription_id, `+columns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (subscription_id, request_id) DO UPDATE SET
	kind = EXCLUDED.kind,
	status = EXCLUDED.status,
	block_number = EXCLUDED.block_number,
	tx_hash = EXCLUDED.tx_hash,
	prompt_hash = EXCLUDED.prompt_hash,
	attempts = EXCLUDED.attempts,
	error = EXCLUDED.error,
	updated_at = EXCLUDED.updated_at`,
		s.sub, r.RequestID[:], r.Kind.String(), string(r.Status), int64(r.BlockNumber),
		r.TxHash.Bytes(), r.PromptHash.Bytes(), r.Attempts, r.Error, updated)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", r.RequestID, err)
	}

	return nil
}

func (s *Store) List(ctx context.Context, f journal.Filter) ([]*journal.Record, error) {
	var (
		where = []string{"subscription_id = $1"}
		args  = []interface{}{s.sub}
	)

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}

		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	if f.Kind != 0 {
		args = append(args, f.Kind.String())
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}

	query := `SELECT ` + columns + ` FROM relay_requests WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY block_number, request_id`

	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*journal.Record

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, r)
	}

	return out, rows.Err()
}

func (s *Store) Checkpoint(ctx context.Context) (uint64, bool, error) {
	var block int64

	err := s.pool.QueryRow(ctx,
		`SELECT block_number FROM relay_checkpoints WHERE subscription_id = $1`, s.sub).Scan(&block)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, err
	}

	return uint64(block), true, nil
}

func (s *Store) SetCheckpoint(ctx context.Context, block uint64) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO relay_checkpoints (subscription_id, block_number) VALUES ($1, $2)
ON CONFLICT (subscription_id) DO UPDATE SET block_number = EXCLUDED.block_number`,
		s.sub, int64(block))

	return err
}

func (s *Store) Close() error {
	s.pool.Close()

	return nil
}

func scanRecord(row pgx.Row) (*journal.Record, error) {
	var (
		r                  journal.Record
		id, txHash, prompt []byte
		kind, status       string
		block              int64
	)

	if err := row.Scan(&id, &kind, &status, &block, &txHash, &prompt, &r.Attempts, &r.Error, &r.UpdatedAt); err != nil {
		return nil, err
	}

	if len(id) != len(r.RequestID) {
		return nil, fmt.Errorf("stored request id has %d bytes", len(id))
	}

	copy(r.RequestID[:], id)

	k, err := types.ParseEventKind(kind)
	if err != nil {
		return nil, err
	}

	r.Kind = k
	r.Status = journal.Status(status)
	r.BlockNumber = uint64(block)
	r.TxHash = common.BytesToHash(txHash)
	r.PromptHash = common.BytesToHash(prompt)

	return &r, nil
}
