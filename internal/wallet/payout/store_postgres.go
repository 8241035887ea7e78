package payout

import (
	"context"
	"database/sql"
	"math/big"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const recordColumns = `request_id, user_id, destination, token_symbol, amount_units, amount_on_chain,
	rate_version, status, failure_kind, failure_reason, nonce, tx_hash, tx_hashes, raw_tx,
	fee_cap, tip_cap, gas_limit, attempts, confirmations, block_number, created_at, updated_at`

// PostgresStore persists records in the payout_transactions table.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Reserve(ctx context.Context, rec *Record) (*Record, bool, error) {
	args := recordArgs(rec)

	res, err := s.db.ExecContext(ctx, `INSERT INTO payout_transactions (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (request_id) DO NOTHING`, args...)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to reserve payout record")
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to reserve payout record")
	}

	stored, err := s.Get(ctx, rec.RequestID)
	if err != nil {
		return nil, false, err
	}

	return stored, inserted == 1, nil
}

func (s *PostgresStore) Get(ctx context.Context, requestID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+`
		FROM payout_transactions WHERE request_id = $1`, requestID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get payout record")
	}

	return rec, nil
}

func (s *PostgresStore) Update(ctx context.Context, rec *Record) error {
	args := recordArgs(rec)

	res, err := s.db.ExecContext(ctx, `UPDATE payout_transactions SET
		user_id = $2, destination = $3, token_symbol = $4, amount_units = $5, amount_on_chain = $6,
		rate_version = $7, status = $8, failure_kind = $9, failure_reason = $10, nonce = $11,
		tx_hash = $12, tx_hashes = $13, raw_tx = $14, fee_cap = $15, tip_cap = $16, gas_limit = $17,
		attempts = $18, confirmations = $19, block_number = $20, created_at = $21, updated_at = $22
		WHERE request_id = $1 AND status NOT IN ('confirmed', 'failed')`, args...)
	if err != nil {
		return errors.Wrap(err, "failed to update payout record")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to update payout record")
	}

	if n == 0 {
		if _, err := s.Get(ctx, rec.RequestID); err != nil {
			return err
		}
		return ErrRecordFinalized
	}

	return nil
}

func (s *PostgresStore) Release(ctx context.Context, requestID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM payout_transactions
		WHERE request_id = $1 AND status = 'pending' AND cardinality(tx_hashes) = 0`, requestID)
	if err != nil {
		return errors.Wrap(err, "failed to release payout record")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to release payout record")
	}

	if n == 0 {
		if _, err := s.Get(ctx, requestID); err != nil {
			return err
		}
		return ErrRecordFinalized
	}

	return nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, statuses ...Status) ([]*Record, error) {
	values := make([]string, 0, len(statuses))
	for _, st := range statuses {
		values = append(values, string(st))
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+`
		FROM payout_transactions WHERE status = ANY($1) ORDER BY created_at, request_id`, pq.Array(values))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list payout records")
	}
	defer rows.Close()

	out := make([]*Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan payout record")
		}
		out = append(out, rec)
	}

	return out, errors.Wrap(rows.Err(), "failed to list payout records")
}

func recordArgs(rec *Record) []any {
	var nonce sql.NullInt64
	if rec.Nonce != nil {
		nonce = sql.NullInt64{Int64: int64(*rec.Nonce), Valid: true} //nolint:gosec // nonces fit into int64
	}

	hashes := rec.TxHashes
	if hashes == nil {
		hashes = []string{}
	}

	return []any{
		rec.RequestID,
		rec.UserID,
		rec.Destination,
		rec.TokenSymbol,
		rec.AmountUnits,
		numeric(rec.AmountOnChain),
		rec.RateVersion,
		string(rec.Status),
		string(rec.FailureKind),
		rec.FailureReason,
		nonce,
		rec.TxHash,
		pq.Array(hashes),
		rec.RawTx,
		numeric(rec.FeeCap),
		numeric(rec.TipCap),
		int64(rec.GasLimit), //nolint:gosec // gas limits fit into int64
		rec.Attempts,
		int64(rec.Confirmations), //nolint:gosec
		int64(rec.BlockNumber),   //nolint:gosec
		rec.CreatedAt,
		rec.UpdatedAt,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec                     Record
		status, kind            string
		amount, feeCap, tipCap  sql.NullString
		nonce                   sql.NullInt64
		gasLimit, confs, number int64
		hashes                  pq.StringArray
	)

	err := row.Scan(
		&rec.RequestID,
		&rec.UserID,
		&rec.Destination,
		&rec.TokenSymbol,
		&rec.AmountUnits,
		&amount,
		&rec.RateVersion,
		&status,
		&kind,
		&rec.FailureReason,
		&nonce,
		&rec.TxHash,
		&hashes,
		&rec.RawTx,
		&feeCap,
		&tipCap,
		&gasLimit,
		&rec.Attempts,
		&confs,
		&number,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = Status(status)
	rec.FailureKind = FailureKind(kind)
	rec.TxHashes = []string(hashes)
	rec.GasLimit = uint64(gasLimit)
	rec.Confirmations = uint64(confs)
	rec.BlockNumber = uint64(number)
	if nonce.Valid {
		n := uint64(nonce.Int64)
		rec.Nonce = &n
	}

	if rec.AmountOnChain, err = parseNumeric(amount); err != nil {
		return nil, err
	}
	if rec.FeeCap, err = parseNumeric(feeCap); err != nil {
		return nil, err
	}
	if rec.TipCap, err = parseNumeric(tipCap); err != nil {
		return nil, err
	}

	return &rec, nil
}

func numeric(v *big.Int) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}

	return sql.NullString{String: v.String(), Valid: true}
}

func parseNumeric(v sql.NullString) (*big.Int, error) {
	if !v.Valid {
		return nil, nil //nolint:nilnil
	}

	// numeric columns may come back as "123" or "123.0"
	s, _, _ := strings.Cut(v.String, ".")
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.Errorf("invalid numeric value %q", v.String)
	}

	return n, nil
}
