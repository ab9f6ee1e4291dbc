package archive

import (
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"creditprotocol/ledger"
)

type eventRow struct {
	BlockNumber int64   `parquet:"name=block_number, type=INT64"`
	BlockHash   string  `parquet:"name=block_hash, type=UTF8"`
	EventID     string  `parquet:"name=event_id, type=UTF8"`
	EventType   string  `parquet:"name=event_type, type=UTF8"`
	Timestamp   string  `parquet:"name=timestamp, type=UTF8"`
	InsightID   string  `parquet:"name=insight_id, type=UTF8"`
	UTID        string  `parquet:"name=utid, type=UTF8"`
	CreatorID   string  `parquet:"name=creator_id, type=UTF8"`
	ValidatorID string  `parquet:"name=validator_id, type=UTF8"`
	FromOwner   string  `parquet:"name=from_owner, type=UTF8"`
	ToOwner     string  `parquet:"name=to_owner, type=UTF8"`
	Method      string  `parquet:"name=method, type=UTF8"`
	ProofScore  float64 `parquet:"name=proof_score, type=DOUBLE"`
	Confidence  float64 `parquet:"name=confidence, type=DOUBLE"`
	Amount      string  `parquet:"name=amount, type=UTF8"`
	Pending     bool    `parquet:"name=pending, type=BOOLEAN"`
}

func rowFromEvent(evt *ledger.Event, pending bool) *eventRow {
	row := &eventRow{
		BlockHash:   evt.BlockHash,
		EventID:     evt.ID,
		EventType:   string(evt.Type),
		Timestamp:   evt.Timestamp.Format(time.RFC3339Nano),
		InsightID:   evt.InsightID,
		UTID:        evt.UTID,
		CreatorID:   evt.CreatorID,
		ValidatorID: evt.ValidatorID,
		FromOwner:   evt.FromOwner,
		ToOwner:     evt.ToOwner,
		Method:      string(evt.Method),
		ProofScore:  evt.ProofScore,
		Confidence:  evt.Confidence,
		Pending:     pending,
	}
	if !pending {
		row.BlockNumber = int64(evt.BlockNumber)
	}
	if evt.Amount != nil {
		row.Amount = evt.Amount.String()
	}
	return row
}

// ExportParquet writes every event in the snapshot, sealed and pending, to a
// Snappy-compressed parquet file at path.
func ExportParquet(path string, snapshot *ledger.Snapshot) error {
	if snapshot == nil {
		return ErrSnapshotRequired
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("archive: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(eventRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("archive: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, block := range snapshot.Blocks {
		for _, evt := range block.Events {
			if err := pw.Write(rowFromEvent(evt, false)); err != nil {
				pw.WriteStop()
				file.Close()
				return fmt.Errorf("archive: parquet write: %w", err)
			}
		}
	}
	for _, evt := range snapshot.Pending {
		if err := pw.Write(rowFromEvent(evt, true)); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("archive: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("archive: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("archive: close parquet file: %w", err)
	}
	return nil
}
