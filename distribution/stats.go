package distribution

import (
	"math/big"
	"strings"
)

// Earnings summarises what one participant has received across all records.
type Earnings struct {
	Participant string            `json:"participant"`
	Total       *big.Int          `json:"total"`
	ByRole      map[Role]*big.Int `json:"byRole"`
	ShareCount  int               `json:"shareCount"`
}

// UserEarnings aggregates every share paid to the participant.
func (d *Distributor) UserEarnings(participant string) Earnings {
	participant = strings.TrimSpace(participant)
	d.mu.RLock()
	defer d.mu.RUnlock()
	earnings := Earnings{
		Participant: participant,
		Total:       big.NewInt(0),
		ByRole:      make(map[Role]*big.Int),
	}
	for _, record := range d.records {
		for _, share := range record.Shares {
			if share.Participant != participant {
				continue
			}
			earnings.Total = new(big.Int).Add(earnings.Total, share.Amount)
			if _, ok := earnings.ByRole[share.Role]; !ok {
				earnings.ByRole[share.Role] = big.NewInt(0)
			}
			earnings.ByRole[share.Role] = new(big.Int).Add(earnings.ByRole[share.Role], share.Amount)
			earnings.ShareCount++
		}
	}
	return earnings
}

// InsightRevenue sums every distribution recorded against an insight.
func (d *Distributor) InsightRevenue(insightID string) (*big.Int, int) {
	insightID = strings.TrimSpace(insightID)
	d.mu.RLock()
	defer d.mu.RUnlock()
	total := big.NewInt(0)
	count := 0
	for _, record := range d.records {
		if record.InsightID != insightID {
			continue
		}
		total = new(big.Int).Add(total, record.Total)
		count++
	}
	return total, count
}

// DistributionStats is the headline view over all records.
type DistributionStats struct {
	RecordCount      int               `json:"recordCount"`
	RecordsByKind    map[Kind]uint64   `json:"recordsByKind"`
	TotalDistributed *big.Int          `json:"totalDistributed"`
	TotalsByRole     map[Role]*big.Int `json:"totalsByRole"`
}

// Stats aggregates record counts and share totals across all distributions.
func (d *Distributor) Stats() DistributionStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	stats := DistributionStats{
		RecordsByKind:    make(map[Kind]uint64),
		TotalDistributed: big.NewInt(0),
		TotalsByRole:     make(map[Role]*big.Int),
	}
	for _, record := range d.records {
		stats.RecordCount++
		stats.RecordsByKind[record.Kind]++
		stats.TotalDistributed = new(big.Int).Add(stats.TotalDistributed, record.Total)
		for _, share := range record.Shares {
			if _, ok := stats.TotalsByRole[share.Role]; !ok {
				stats.TotalsByRole[share.Role] = big.NewInt(0)
			}
			stats.TotalsByRole[share.Role] = new(big.Int).Add(stats.TotalsByRole[share.Role], share.Amount)
		}
	}
	return stats
}

// Records returns copies of every stored record, oldest first.
func (d *Distributor) Records() []*Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Record, len(d.records))
	for i, record := range d.records {
		out[i] = record.Clone()
	}
	return out
}
