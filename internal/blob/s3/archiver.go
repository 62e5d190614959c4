package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stratvault/internal/domain"
)

// Narrow store interfaces required by the archiver. The archiver only needs
// the time-ranged queries it actually calls, not the full store interfaces.

// TradeArchiveStore provides read access to settled orders for archival.
type TradeArchiveStore interface {
	// ListTerminalBefore returns all trades that reached a terminal status
	// and were created strictly before the cutoff.
	ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

// DCAPlanArchiveStore provides read access to finished plans for archival.
type DCAPlanArchiveStore interface {
	// ListInactiveBefore returns all deactivated plans created strictly
	// before the cutoff.
	ListInactiveBefore(ctx context.Context, before time.Time) ([]domain.DCAPlan, error)
}

// ArchiveImpl implements domain.Archiver by querying the stores for finished
// records, serializing them to JSONL, and uploading the result to object
// storage.
//
// Deletion of the archived records from the primary store is intentionally
// not performed here; that is a separate, explicit step to be executed after
// the archive has been verified.
type ArchiveImpl struct {
	writer domain.BlobWriter
	trades TradeArchiveStore
	plans  DCAPlanArchiveStore
	audit  domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	trades TradeArchiveStore,
	plans DCAPlanArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		trades: trades,
		plans:  plans,
		audit:  audit,
	}
}

// ArchiveTrades exports all terminal trades created before the cutoff to
// archive/trades/YYYY-MM.jsonl and records the export in the audit log. It
// returns the number of archived records.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListTerminalBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	count := int64(len(trades))
	if err := a.audit.Log(ctx, "archive.trades", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive trades audit log: %w", err)
	}
	return count, nil
}

// ArchiveDCAPlans exports all deactivated plans created before the cutoff to
// archive/dca_plans/YYYY-MM.jsonl and records the export in the audit log.
func (a *ArchiveImpl) ArchiveDCAPlans(ctx context.Context, before time.Time) (int64, error) {
	plans, err := a.plans.ListInactiveBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive dca plans query: %w", err)
	}
	if len(plans) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(plans)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive dca plans marshal: %w", err)
	}

	path := archivePath("dca_plans", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive dca plans upload: %w", err)
	}

	count := int64(len(plans))
	if err := a.audit.Log(ctx, "archive.dca_plans", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive dca plans audit log: %w", err)
	}
	return count, nil
}

// ArchiveAuditLog exports all audit entries recorded before the cutoff to
// archive/audit/YYYY-MM.jsonl. The export itself is logged after the upload,
// so the export record lands in the next archive window.
func (a *ArchiveImpl) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	count := int64(len(entries))
	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/trades/2026-08.jsonl
//	archive/dca_plans/2026-08.jsonl
//	archive/audit/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON. Each
// element is one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
