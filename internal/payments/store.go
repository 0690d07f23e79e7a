package payments

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	storeMaxRetries = 3
	storeRetryDelay = 250 * time.Millisecond
)

const createPaymentsTable = `
CREATE TABLE IF NOT EXISTS payments (
	"correlationId" UUID PRIMARY KEY,
	processor TEXT NOT NULL,
	amount DOUBLE PRECISION NOT NULL,
	"requestedAt" TIMESTAMPTZ NOT NULL
)`

const insertPayment = `
INSERT INTO payments ("correlationId", processor, amount, "requestedAt")
VALUES ($1, $2, $3, $4)
ON CONFLICT ("correlationId") DO NOTHING`

type PaymentStore struct {
	dbpool *pgxpool.Pool
	logger *slog.Logger
}

func NewPaymentStore(dbpool *pgxpool.Pool, logger *slog.Logger) *PaymentStore {
	return &PaymentStore{dbpool: dbpool, logger: logger}
}

func (ps *PaymentStore) EnsureSchema(ctx context.Context) error {
	if _, err := ps.dbpool.Exec(ctx, createPaymentsTable); err != nil {
		return fmt.Errorf("unable to create payments table: %w", err)
	}
	return nil
}

// SaveBatch persists a batch in a single statement, retrying with a linear
// back-off. Rows whose correlationId already exists are silently skipped.
// If the batch keeps failing, each row is salvaged individually; rows that
// still cannot be persisted are logged and dropped.
func (ps *PaymentStore) SaveBatch(ctx context.Context, batch []ProcessedPayment) error {
	if len(batch) == 0 {
		return nil
	}

	for attempt := 1; attempt <= storeMaxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(storeRetryDelay * time.Duration(attempt-1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := ps.insertBatch(ctx, batch)
		if err == nil {
			return nil
		}
		ps.logger.Warn("batch insert failed", "attempt", attempt, "batchSize", len(batch), "error", err)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	ps.salvage(ctx, batch)
	return nil
}

func (ps *PaymentStore) insertBatch(ctx context.Context, batch []ProcessedPayment) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO payments ("correlationId", processor, amount, "requestedAt") VALUES `)

	args := make([]any, 0, len(batch)*4)
	for i, row := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}
		n := i * 4
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d)", n+1, n+2, n+3, n+4)
		args = append(args, row.CorrelationID, row.Processor, row.Amount, row.RequestedAt)
	}
	sb.WriteString(` ON CONFLICT ("correlationId") DO NOTHING`)

	_, err := ps.dbpool.Exec(ctx, sb.String(), args...)
	return err
}

// salvage recovers rows from a failed batch one at a time. Whatever cannot
// be recovered is dropped, which keeps a single poison row from blocking
// every later flush.
func (ps *PaymentStore) salvage(ctx context.Context, batch []ProcessedPayment) {
	var dead []string
	for _, row := range batch {
		if err := ps.saveMissing(ctx, row); err != nil {
			ps.logger.Warn("failed to salvage payment", "correlationId", row.CorrelationID, "error", err)
			dead = append(dead, row.CorrelationID.String())
		}
	}
	if len(dead) > 0 {
		ps.logger.Error("dropping payments that could not be persisted", "count", len(dead), "correlationIds", dead)
	}
}

func (ps *PaymentStore) saveMissing(ctx context.Context, row ProcessedPayment) error {
	var exists bool
	err := ps.dbpool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE "correlationId" = $1)`,
		row.CorrelationID,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return ps.Save(ctx, row)
}

func (ps *PaymentStore) Save(ctx context.Context, row ProcessedPayment) error {
	_, err := ps.dbpool.Exec(ctx, insertPayment, row.CorrelationID, row.Processor, row.Amount, row.RequestedAt)
	return err
}

// GetAll returns every persisted payment. On error it logs and returns an
// empty slice so the summary degrades to zeroes instead of failing.
func (ps *PaymentStore) GetAll(ctx context.Context) []ProcessedPayment {
	rows, err := ps.dbpool.Query(ctx,
		`SELECT "correlationId", processor, amount, "requestedAt" FROM payments`)
	if err != nil {
		ps.logger.Error("failed to query payments", "error", err)
		return nil
	}
	defer rows.Close()

	var all []ProcessedPayment
	for rows.Next() {
		var p ProcessedPayment
		if err := rows.Scan(&p.CorrelationID, &p.Processor, &p.Amount, &p.RequestedAt); err != nil {
			ps.logger.Error("failed to scan payment row", "error", err)
			return nil
		}
		all = append(all, p)
	}
	if err := rows.Err(); err != nil {
		ps.logger.Error("failed to read payment rows", "error", err)
		return nil
	}
	return all
}

// Purge deletes all persisted payments and reports how many rows went away.
// Storage failures are logged and reported as zero deletions.
func (ps *PaymentStore) Purge(ctx context.Context) int64 {
	tag, err := ps.dbpool.Exec(ctx, "DELETE FROM payments")
	if err != nil {
		ps.logger.Error("failed to purge payments", "error", err)
		return 0
	}
	return tag.RowsAffected()
}
