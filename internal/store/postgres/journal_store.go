package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/groupmarket/internal/command"
	"github.com/alanyoungcy/groupmarket/internal/domain"
)

// JournalStore implements command.Journal using PostgreSQL.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a new JournalStore backed by the given connection pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

const commandSelectCols = `seq, id, op, caller, nonce, args, at`

func scanCommand(row pgx.Row) (command.Command, error) {
	var (
		c      command.Command
		op     string
		caller string
		args   []byte
	)
	if err := row.Scan(&c.Seq, &c.ID, &op, &caller, &c.Nonce, &args, &c.At); err != nil {
		return command.Command{}, err
	}
	c.Op = command.Op(op)
	c.Caller = common.HexToAddress(caller)
	c.Args = args
	c.At = c.At.UTC()
	return c, nil
}

// Append inserts cmd and returns its sequence number. A (caller, nonce)
// pair that is already journaled yields domain.ErrDuplicateNonce.
func (s *JournalStore) Append(ctx context.Context, cmd command.Command) (int64, error) {
	args := []byte(cmd.Args)
	if len(args) == 0 {
		args = []byte("{}")
	}

	const query = `
		INSERT INTO commands (id, op, caller, nonce, args, at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq`

	var seq int64
	err := s.pool.QueryRow(ctx, query,
		cmd.ID, string(cmd.Op), cmd.Caller.Hex(), cmd.Nonce, args, cmd.At,
	).Scan(&seq)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "commands_caller_nonce_idx" {
			return 0, domain.ErrDuplicateNonce
		}
		return 0, fmt.Errorf("postgres: append command %s: %w", cmd.Op, err)
	}
	return seq, nil
}

// Stream calls fn for every command with seq > afterSeq, in order. It stops
// at the first error fn returns.
func (s *JournalStore) Stream(ctx context.Context, afterSeq int64, fn func(command.Command) error) error {
	query := `SELECT ` + commandSelectCols + ` FROM commands WHERE seq > $1 ORDER BY seq`

	rows, err := s.pool.Query(ctx, query, afterSeq)
	if err != nil {
		return fmt.Errorf("postgres: stream commands: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return fmt.Errorf("postgres: scan command: %w", err)
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: stream commands rows: %w", err)
	}
	return nil
}

// ListUnarchived returns up to limit commands stamped before the given
// instant that have not been archived yet, oldest first.
func (s *JournalStore) ListUnarchived(ctx context.Context, before time.Time, limit int) ([]command.Command, error) {
	query := `SELECT ` + commandSelectCols + ` FROM commands
		WHERE archived_at IS NULL AND at < $1
		ORDER BY seq
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unarchived commands: %w", err)
	}
	defer rows.Close()

	var out []command.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan command: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list unarchived rows: %w", err)
	}
	return out, nil
}

// MarkArchived stamps every unarchived command up to throughSeq as
// archived and returns how many rows changed. Rows are never deleted.
func (s *JournalStore) MarkArchived(ctx context.Context, throughSeq int64) (int64, error) {
	const query = `UPDATE commands SET archived_at = NOW()
		WHERE seq <= $1 AND archived_at IS NULL`

	tag, err := s.pool.Exec(ctx, query, throughSeq)
	if err != nil {
		return 0, fmt.Errorf("postgres: mark archived through %d: %w", throughSeq, err)
	}
	return tag.RowsAffected(), nil
}

// LastSeq returns the highest journaled sequence number, 0 when empty.
func (s *JournalStore) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM commands`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("postgres: last seq: %w", err)
	}
	return seq, nil
}

// Compile-time interface check.
var _ command.Journal = (*JournalStore)(nil)
