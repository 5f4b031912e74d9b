package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/POA-Delta/backend-replacement/internal/domain"
)

// Narrow store interfaces: the archiver only needs the time-ranged reads,
// not the full store surface. The Postgres stores satisfy these implicitly.

// TradeArchiveStore provides read access to trades for archival purposes.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

// TransferArchiveStore provides read access to transfers for archival
// purposes.
type TransferArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Transfer, error)
}

// ArchiveImpl implements domain.Archiver by querying the stores for aged
// fact rows, serializing them to JSONL, and uploading the result to S3.
//
// Deletion of the archived rows from the primary store is intentionally NOT
// performed here; the retention pipeline deletes only after the upload
// succeeded.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	trades    TradeArchiveStore
	transfers TransferArchiveStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, trades TradeArchiveStore, transfers TransferArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		trades:    trades,
		transfers: transfers,
	}
}

// tradeRecord is the archived form of a trade. Hashes and addresses are
// hex, amounts decimal strings, so the JSONL survives readers without
// uint256 support.
type tradeRecord struct {
	BlockNumber     uint64 `json:"block_number"`
	TransactionHash string `json:"transaction_hash"`
	LogIndex        uint   `json:"log_index"`
	TokenGive       string `json:"token_give"`
	AmountGive      string `json:"amount_give"`
	TokenGet        string `json:"token_get"`
	AmountGet       string `json:"amount_get"`
	AddrGive        string `json:"addr_give"`
	AddrGet         string `json:"addr_get"`
	Date            string `json:"date"`
}

type transferRecord struct {
	BlockNumber     uint64 `json:"block_number"`
	TransactionHash string `json:"transaction_hash"`
	LogIndex        uint   `json:"log_index"`
	Direction       string `json:"direction"`
	Token           string `json:"token"`
	User            string `json:"user"`
	Amount          string `json:"amount"`
	BalanceAfter    string `json:"balance_after"`
	Date            string `json:"date"`
}

// ArchiveTrades exports all trades before the cutoff as JSONL to an S3
// object keyed by the cutoff and returns the exported count.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	records := make([]tradeRecord, 0, len(trades))
	for _, t := range trades {
		records = append(records, tradeRecord{
			BlockNumber:     t.BlockNumber,
			TransactionHash: t.TransactionHash.Hex(),
			LogIndex:        t.LogIndex,
			TokenGive:       t.TokenGive.Hex(),
			AmountGive:      t.AmountGive.String(),
			TokenGet:        t.TokenGet.Hex(),
			AmountGet:       t.AmountGet.String(),
			AddrGive:        t.AddrGive.Hex(),
			AddrGet:         t.AddrGet.Hex(),
			Date:            t.Date.UTC().Format(time.RFC3339),
		})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	return int64(len(trades)), nil
}

// ArchiveTransfers exports all transfers before the cutoff as JSONL to an
// S3 object keyed by the cutoff and returns the exported count.
func (a *ArchiveImpl) ArchiveTransfers(ctx context.Context, before time.Time) (int64, error) {
	transfers, err := a.transfers.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transfers query: %w", err)
	}
	if len(transfers) == 0 {
		return 0, nil
	}

	records := make([]transferRecord, 0, len(transfers))
	for _, t := range transfers {
		records = append(records, transferRecord{
			BlockNumber:     t.BlockNumber,
			TransactionHash: t.TransactionHash.Hex(),
			LogIndex:        t.LogIndex,
			Direction:       string(t.Direction),
			Token:           t.Token.Hex(),
			User:            t.User.Hex(),
			Amount:          t.Amount.String(),
			BalanceAfter:    t.BalanceAfter.String(),
			Date:            t.Date.UTC().Format(time.RFC3339),
		})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transfers marshal: %w", err)
	}

	path := archivePath("transfers", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive transfers upload: %w", err)
	}

	return int64(len(transfers)), nil
}

// archivePath builds the S3 key for an archive file. The key carries the
// full cutoff timestamp: Put replaces objects wholesale, and once a run's
// source rows are pruned its object is the only copy of those facts, so no
// two runs may ever share a key.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02T150405Z"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
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

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
