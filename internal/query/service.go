package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"LendingLedger/internal/event"

	"github.com/lib/pq"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

var (
	ErrMarketNotFound = errors.New("market not found")
	ErrPriceNotFound  = errors.New("price not found")
)

// ClampLimit maps a requested page size onto [1, MaxLimit]. Zero and
// negative values give DefaultLimit.
func ClampLimit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

// Service computes read models from the event tables. Nothing is
// materialized: every call reads the append-only log.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

const recordColumns = `id, raw_event_id, kind, contract_package_hash,
	COALESCE(asset, ''), COALESCE(counterparty, ''),
	fields, deploy_hash, block_hash, created_at`

// where accumulates AND-ed conditions with positional arguments. Each
// clause carries one %d for its placeholder.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, v any) *where {
	w.args = append(w.args, v)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
	return w
}

func (w *where) kind(k event.Kind) *where {
	return w.add("kind = $%d", k.String())
}

func (w *where) kinds(ks []event.Kind) *where {
	names := make([]string, len(ks))
	for i, k := range ks {
		names[i] = k.String()
	}
	return w.add("kind = ANY($%d)", pq.Array(names))
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var r Record
	err := row.Scan(
		&r.ID, &r.RawEventID, &r.Kind, &r.ContractPackageHash,
		&r.asset, &r.counterparty,
		&r.Fields, &r.DeployHash, &r.BlockHash, &r.CreatedAt,
	)
	return r, err
}

// records returns the newest matching ledger events, newest first.
func (s *Service) records(ctx context.Context, w *where, limit int) ([]Record, error) {
	args := append(w.args, limit)
	query := `SELECT ` + recordColumns + ` FROM ledger_events` + w.sql() +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger events: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger event: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// latest returns the newest matching ledger event, or nil.
func (s *Service) latest(ctx context.Context, w *where) (*Record, error) {
	recs, err := s.records(ctx, w, 1)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

// latestByAsset returns the newest record per asset among the newest
// min(2*limit, MaxLimit) records of kind.
func (s *Service) latestByAsset(ctx context.Context, k event.Kind, limit int) ([]Record, error) {
	limit = ClampLimit(limit)
	scan := min(limit*2, MaxLimit)
	recs, err := s.records(ctx, new(where).kind(k), scan)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	out := []Record{}
	for _, r := range recs {
		if seen[r.asset] {
			continue
		}
		seen[r.asset] = true
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Markets lists the latest registration of each asset.
func (s *Service) Markets(ctx context.Context, limit int) ([]Record, error) {
	return s.latestByAsset(ctx, event.KindMarketRegistered, limit)
}

// LatestPrices lists the latest price of each asset.
func (s *Service) LatestPrices(ctx context.Context, limit int) ([]Record, error) {
	return s.latestByAsset(ctx, event.KindPriceUpdated, limit)
}

// Market returns the latest registration of asset, or ErrMarketNotFound.
func (s *Service) Market(ctx context.Context, asset string) (*Record, error) {
	rec, err := s.latest(ctx, new(where).kind(event.KindMarketRegistered).add("asset = $%d", asset))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, asset)
	}
	return rec, nil
}

// marketForPackage returns the latest registration naming pkg as its
// market contract, or nil.
func (s *Service) marketForPackage(ctx context.Context, pkg string) (*Record, error) {
	return s.latest(ctx, new(where).kind(event.KindMarketRegistered).add("counterparty = $%d", pkg))
}

// LatestPrice returns the newest price of asset, or nil.
func (s *Service) LatestPrice(ctx context.Context, asset string) (*Record, error) {
	return s.latest(ctx, new(where).kind(event.KindPriceUpdated).add("asset = $%d", asset))
}

// latestForPackage returns the newest event of kind emitted by pkg, or nil.
func (s *Service) latestForPackage(ctx context.Context, k event.Kind, pkg string) (*Record, error) {
	return s.latest(ctx, new(where).kind(k).add("contract_package_hash = $%d", pkg))
}

func activity(recs []Record) []Activity {
	out := make([]Activity, len(recs))
	for i, r := range recs {
		out[i] = Activity{Type: r.Kind, Event: r}
	}
	return out
}

// RecentActivity lists position-changing events across all markets.
func (s *Service) RecentActivity(ctx context.Context, limit int) ([]Activity, error) {
	recs, err := s.records(ctx, new(where).kinds(event.ActivityKinds), ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	return activity(recs), nil
}

// AccountActivity lists the account's events. A liquidation matches both
// its borrower and its liquidator.
func (s *Service) AccountActivity(ctx context.Context, account string, limit int) ([]Activity, error) {
	w := new(where).kinds(event.ActivityKinds).
		add("(account = $%[1]d OR (kind = 'Liquidate' AND counterparty = $%[1]d))", account)
	recs, err := s.records(ctx, w, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	return activity(recs), nil
}

// MarketActivity lists the activity of the market registered for asset.
func (s *Service) MarketActivity(ctx context.Context, asset string, limit int) (*MarketActivity, error) {
	market, err := s.Market(ctx, asset)
	if err != nil {
		return nil, err
	}
	pkg := market.MarketPackageHash()
	w := new(where).kinds(event.ActivityKinds).add("contract_package_hash = $%d", pkg)
	recs, err := s.records(ctx, w, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	return &MarketActivity{Asset: asset, MarketPackageHash: pkg, Activity: activity(recs)}, nil
}

// LatestRawEvent returns the newest raw event of pkg, or nil.
func (s *Service) LatestRawEvent(ctx context.Context, pkg string) (*RawEvent, error) {
	evs, err := s.rawEvents(ctx, pkg, "", 1)
	if err != nil || len(evs) == 0 {
		return nil, err
	}
	return &evs[0], nil
}

func (s *Service) rawEvents(ctx context.Context, pkg, eventType string, limit int) ([]RawEvent, error) {
	w := new(where).add("contract_package_hash = $%d", pkg)
	if eventType != "" {
		w.add("event_type = $%d", eventType)
	}
	args := append(w.args, limit)
	query := `SELECT id, contract_package_hash, event_type, payload, deploy_hash, block_hash, created_at
		FROM contract_events` + w.sql() +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query contract events: %w", err)
	}
	defer rows.Close()

	var out []RawEvent
	for rows.Next() {
		var e RawEvent
		if err := rows.Scan(&e.ID, &e.ContractPackageHash, &e.EventType, &e.Payload,
			&e.DeployHash, &e.BlockHash, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan contract event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EventHealth reports the newest write time of the raw log and of the
// price, deposit and borrow kinds.
func (s *Service) EventHealth(ctx context.Context) (*EventHealth, error) {
	var h EventHealth
	var raw sql.NullTime
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM contract_events`).Scan(&raw); err != nil {
		return nil, fmt.Errorf("latest contract event: %w", err)
	}
	h.ContractEventAt = nullTime(raw)

	for _, k := range []struct {
		kind event.Kind
		dst  **time.Time
	}{
		{event.KindPriceUpdated, &h.PriceEventAt},
		{event.KindDeposit, &h.DepositEventAt},
		{event.KindBorrow, &h.BorrowEventAt},
	} {
		var t sql.NullTime
		if err := s.db.QueryRowContext(ctx,
			`SELECT MAX(created_at) FROM ledger_events WHERE kind = $1`, k.kind.String(),
		).Scan(&t); err != nil {
			return nil, fmt.Errorf("latest %s: %w", k.kind, err)
		}
		*k.dst = nullTime(t)
	}
	return &h, nil
}
