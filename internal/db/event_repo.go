package db

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"aiohub/internal/types"
)

// BillingEventRepo is the audit trail for webhook deliveries. Every delivery
// that passes signature verification gets a row, including duplicates: a
// replayed event ID is recorded again rather than skipped, so the trail shows
// exactly what Stripe sent and when. Idempotency lives in the projection
// upsert, not here.
//
// Raw payloads are stored zstd-compressed; Stripe events are verbose JSON and
// compress to a fraction of their size.
type BillingEventRepo struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	db      DBTX
}

// NewBillingEventRepo creates a BillingEventRepo backed by the given database
// connection. The zstd encoder/decoder are reused across calls; both are safe
// for concurrent use via EncodeAll/DecodeAll.
func NewBillingEventRepo(db DBTX) (*BillingEventRepo, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &BillingEventRepo{encoder: encoder, decoder: decoder, db: db}, nil
}

// Record inserts an audit row for one webhook delivery along with its
// compressed raw payload. rawPayload may be nil for synthetic records.
func (r *BillingEventRepo) Record(ctx context.Context, rec *types.BillingEventRecord, rawPayload []byte) error {
	var compressed []byte
	if len(rawPayload) > 0 {
		compressed = r.encoder.EncodeAll(rawPayload, nil)
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO billing_events
		 (event_id, event_type, subscription_id, organization_id, outcome,
		  error_detail, livemode, payload_zstd, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))`,
		rec.EventID,
		rec.EventType,
		nilIfEmpty(rec.SubscriptionID),
		nilIfEmpty(rec.OrganizationID),
		rec.Outcome,
		nilIfEmpty(rec.ErrorDetail),
		rec.Livemode,
		compressed,
		nilIfZeroTime(rec.ReceivedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record billing event", err)
	}
	return nil
}

// ListRecent returns the most recent audit entries, newest first. limit is
// clamped to [1, 100].
func (r *BillingEventRepo) ListRecent(ctx context.Context, limit int) ([]*types.BillingEventRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`SELECT event_id, event_type, subscription_id, organization_id, outcome,
		        error_detail, livemode, received_at
		 FROM billing_events
		 ORDER BY received_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list billing events", err)
	}
	defer rows.Close()

	var records []*types.BillingEventRecord
	for rows.Next() {
		var rec types.BillingEventRecord
		var subID, orgID, errDetail *string
		if err := rows.Scan(
			&rec.EventID,
			&rec.EventType,
			&subID,
			&orgID,
			&rec.Outcome,
			&errDetail,
			&rec.Livemode,
			&rec.ReceivedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan billing event", err)
		}
		if subID != nil {
			rec.SubscriptionID = *subID
		}
		if orgID != nil {
			rec.OrganizationID = *orgID
		}
		if errDetail != nil {
			rec.ErrorDetail = *errDetail
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate billing events", err)
	}

	return records, nil
}

// GetPayload returns the decompressed raw payload of the most recent delivery
// of the given event ID.
func (r *BillingEventRepo) GetPayload(ctx context.Context, eventID string) ([]byte, error) {
	var compressed []byte
	err := r.db.QueryRow(ctx,
		`SELECT payload_zstd FROM billing_events
		 WHERE event_id = $1
		 ORDER BY received_at DESC
		 LIMIT 1`,
		eventID,
	).Scan(&compressed)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeNotFoundEvent, "billing event not found", err)
	}
	if len(compressed) == 0 {
		return nil, nil
	}

	payload, err := r.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decompress event payload", err)
	}
	return payload, nil
}

// CountSeen returns how many deliveries of the given event ID have been
// recorded. Used by processing to log (but not skip) redeliveries.
func (r *BillingEventRepo) CountSeen(ctx context.Context, eventID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM billing_events WHERE event_id = $1`,
		eventID,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count billing events", err)
	}
	return count, nil
}

// nilIfEmpty converts the empty string to nil so nullable columns stay NULL.
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
