package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"LendingLedger/internal/event"

	"github.com/google/uuid"
)

// Store appends raw and normalized contract events to Postgres. Rows are
// never updated; a repeated write of the same raw id is a no-op.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WriteRaw inserts one row into contract_events.
func (s *Store) WriteRaw(ctx context.Context, rec event.RawRecord) error {
	payload := rec.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO contract_events
		(id, contract_package_hash, event_type, payload, deploy_hash, block_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.ContractPackage, rec.EventType, string(payload),
		rec.DeployHash, rec.BlockHash, rec.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert contract event %s: %w", rec.ID, err)
	}
	return nil
}

// WriteLedgerEvent inserts one row into ledger_events. The indexed columns
// come from ev.Indexed(); the full body is kept in fields.
func (s *Store) WriteLedgerEvent(ctx context.Context, rawID uuid.UUID, ev event.Event) error {
	fields, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Kind(), err)
	}
	src := ev.Provenance()
	idx := ev.Indexed()

	_, err = s.db.ExecContext(ctx, `INSERT INTO ledger_events
		(raw_event_id, kind, contract_package_hash, account, counterparty, asset, amount,
		 event_timestamp, fields, deploy_hash, block_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (raw_event_id) DO NOTHING`,
		rawID, ev.Kind().String(), src.ContractPackage,
		nullString(idx.Account), nullString(idx.Counterparty), nullString(idx.Asset), nullString(idx.Amount),
		nullInt64(idx.Timestamp), string(fields),
		src.DeployHash, src.BlockHash, src.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert %s for %s: %w", ev.Kind(), rawID, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
