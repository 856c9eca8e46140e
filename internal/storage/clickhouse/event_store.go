package clickhouse

import (
	"context"
	"fmt"
	"time"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/observability"
	"fractional-ledger/internal/storage"
)

// EventStore implements storage.EventStore using ClickHouse.
type EventStore struct {
	conn *Conn
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Conn) *EventStore {
	return &EventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

// InsertBulk appends events. Fails entire batch on duplicate seq.
// MergeTree does not enforce keys, so duplicates are checked before insert.
func (s *EventStore) InsertBulk(ctx context.Context, events []*domain.LedgerEvent) (err error) {
	if len(events) == 0 {
		return nil
	}
	defer func(start time.Time) {
		observability.RecordDBQuery("clickhouse", "events.insert_bulk", time.Since(start).Seconds(), err)
	}(time.Now())

	seqs := make([]uint64, 0, len(events))
	seen := make(map[uint64]struct{}, len(events))
	for _, e := range events {
		if e == nil || e.Seq == 0 {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[e.Seq]; exists {
			return storage.ErrDuplicateKey
		}
		seen[e.Seq] = struct{}{}
		seqs = append(seqs, e.Seq)
	}

	var existing uint64
	err = s.conn.QueryRow(ctx, `SELECT count() FROM ledger_events WHERE has(?, seq)`, seqs).Scan(&existing)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if existing > 0 {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO ledger_events (
			seq, kind, asset_id, actor, ref_id, attrs, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		attrs := e.Attrs
		if attrs == nil {
			attrs = map[string]string{}
		}
		err = batch.Append(
			e.Seq, string(e.Kind), e.AssetID, e.Actor, e.RefID, attrs, uint64(e.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByAsset retrieves events of an asset with timestamps in [start, end] (inclusive).
func (s *EventStore) GetByAsset(ctx context.Context, assetID string, start, end int64) ([]*domain.LedgerEvent, error) {
	if start < 0 {
		start = 0
	}
	if end < start {
		return nil, nil
	}

	query := `
		SELECT seq, kind, asset_id, actor, ref_id, attrs, timestamp_ms
		FROM ledger_events
		WHERE asset_id = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY seq ASC
	`

	rows, err := s.conn.Query(ctx, query, assetID, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by asset: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByRef retrieves events referencing a payment or proposal, ordered by seq ASC.
func (s *EventStore) GetByRef(ctx context.Context, refID string) ([]*domain.LedgerEvent, error) {
	query := `
		SELECT seq, kind, asset_id, actor, ref_id, attrs, timestamp_ms
		FROM ledger_events
		WHERE ref_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.conn.Query(ctx, query, refID)
	if err != nil {
		return nil, fmt.Errorf("query by ref: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// MaxSeq returns the highest stored seq, 0 when empty.
func (s *EventStore) MaxSeq(ctx context.Context) (uint64, error) {
	var seq uint64
	if err := s.conn.QueryRow(ctx, `SELECT max(seq) FROM ledger_events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query max seq: %w", err)
	}
	return seq, nil
}

// scanEvents scans multiple rows.
func scanEvents(rows chRows) ([]*domain.LedgerEvent, error) {
	var events []*domain.LedgerEvent

	for rows.Next() {
		var e domain.LedgerEvent
		var kind string
		var timestampMs uint64

		err := rows.Scan(
			&e.Seq, &kind, &e.AssetID, &e.Actor, &e.RefID, &e.Attrs, &timestampMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ledger event row: %w", err)
		}

		e.Kind = domain.EventKind(kind)
		e.Timestamp = int64(timestampMs)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger event rows: %w", err)
	}

	return events, nil
}
