package ledger

import (
	"fmt"
	"math/big"
	"time"
)

// Statistics summarises the recorded chain without mutating it.
type Statistics struct {
	BlockCount      int                  `json:"blockCount"`
	PendingCount    int                  `json:"pendingCount"`
	EventCount      int                  `json:"eventCount"`
	EventsByType    map[EventType]uint64 `json:"eventsByType"`
	TotalRevenue    *big.Int             `json:"totalRevenue"`
	TotalCitations  uint64               `json:"totalCitations"`
	TrackedUTIDs    int                  `json:"trackedUtids"`
	AvgProofScore   float64              `json:"avgProofScore"`
	ValidationCount uint64               `json:"validationCount"`
}

// Statistics aggregates event-type counts, revenue and citation totals, and
// the average proof score over validation events.
func (l *Ledger) Statistics() Statistics {
	l.mu.RLock()
	defer l.mu.RUnlock()
	stats := Statistics{
		BlockCount:   len(l.blocks),
		PendingCount: len(l.pending),
		EventsByType: make(map[EventType]uint64),
		TotalRevenue: big.NewInt(0),
		TrackedUTIDs: len(l.ownership),
	}
	var proofSum float64
	walk := func(evt *Event) {
		stats.EventCount++
		stats.EventsByType[evt.Type]++
		switch evt.Type {
		case EventRevenueDistributed:
			if evt.Amount != nil {
				stats.TotalRevenue = new(big.Int).Add(stats.TotalRevenue, evt.Amount)
			}
		case EventCitationRecorded:
			stats.TotalCitations++
		case EventInsightValidated:
			stats.ValidationCount++
			proofSum += evt.ProofScore
		}
	}
	for _, block := range l.blocks {
		for _, evt := range block.Events {
			walk(evt)
		}
	}
	for _, evt := range l.pending {
		walk(evt)
	}
	if stats.ValidationCount > 0 {
		stats.AvgProofScore = proofSum / float64(stats.ValidationCount)
	}
	return stats
}

// Snapshot is a full serializable view of a block range plus the pending
// buffer, intended for external durable storage.
type Snapshot struct {
	ExportedAt time.Time `json:"exportedAt"`
	FirstBlock uint64    `json:"firstBlock"`
	LastBlock  uint64    `json:"lastBlock"`
	Blocks     []*Block  `json:"blocks"`
	Pending    []*Event  `json:"pending,omitempty"`
}

// Export snapshots the sealed blocks with numbers in [start, end]. An end of
// zero means "through the latest sealed block". Full-chain exports also carry
// the pending buffer; partial ranges never do.
func (l *Ledger) Export(start, end uint64) (*Snapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	last := uint64(len(l.blocks))
	if last == 0 {
		return nil, fmt.Errorf("ledger: no sealed blocks")
	}
	last--
	if end == 0 || end > last {
		end = last
	}
	if start > end {
		return nil, fmt.Errorf("ledger: export range %d-%d is empty", start, end)
	}
	snapshot := &Snapshot{
		ExportedAt: l.now(),
		FirstBlock: start,
		LastBlock:  end,
		Blocks:     make([]*Block, 0, end-start+1),
	}
	for number := start; number <= end; number++ {
		snapshot.Blocks = append(snapshot.Blocks, l.blocks[number].Clone())
	}
	if start == 0 && end == last {
		snapshot.Pending = cloneEvents(l.pending)
	}
	return snapshot, nil
}
