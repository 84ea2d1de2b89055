package priority

import (
	"context"
	"time"

	"orchestrator/internal/infra"
	"orchestrator/internal/sqlinline"
)

// PGLedger reads won auction bids.
type PGLedger struct {
	sql infra.SQLExecutor
	now func() time.Time
}

func NewPGLedger(sql infra.SQLExecutor) *PGLedger {
	return &PGLedger{sql: sql, now: time.Now}
}

func (l *PGLedger) ActivePriorityFor(ctx context.Context, requesterID, slotKey string) (*Bid, error) {
	var bid Bid
	row := l.sql.QueryRow(ctx, sqlinline.QPriorityActiveBid, requesterID, slotKey, l.now().UTC())
	if err := row.Scan(&bid.Tier, &bid.ExpiresAt); err != nil {
		if infra.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &bid, nil
}
