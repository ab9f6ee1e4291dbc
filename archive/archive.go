// Package archive persists ledger snapshots to an external key-value store
// and renders them into columnar files for offline analysis. The ledger
// itself stays in memory; this is the hand-off point to durable storage.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"

	"creditprotocol/ledger"
	"creditprotocol/storage"
)

var (
	// ErrNoSnapshots is returned when the archive holds nothing yet.
	ErrNoSnapshots = errors.New("archive: no snapshots")
	// ErrSnapshotRequired is returned when a nil snapshot is offered.
	ErrSnapshotRequired = errors.New("archive: snapshot required")
)

const (
	snapshotPrefix = "snapshot/"
	latestKey      = "snapshot-latest"
)

// Ref identifies one archived snapshot by its block range.
type Ref struct {
	FirstBlock uint64 `json:"firstBlock"`
	LastBlock  uint64 `json:"lastBlock"`
}

func (r Ref) key() []byte {
	return []byte(fmt.Sprintf("%s%016d-%016d", snapshotPrefix, r.FirstBlock, r.LastBlock))
}

// Archive stores ledger snapshots keyed by block range.
type Archive struct {
	db storage.Database
}

// New returns an archive over the given store.
func New(db storage.Database) *Archive {
	return &Archive{db: db}
}

// Save writes the snapshot and advances the latest pointer.
func (a *Archive) Save(snapshot *ledger.Snapshot) error {
	if snapshot == nil {
		return ErrSnapshotRequired
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("archive: encode snapshot: %w", err)
	}
	ref := Ref{FirstBlock: snapshot.FirstBlock, LastBlock: snapshot.LastBlock}
	if err := a.db.Put(ref.key(), payload); err != nil {
		return fmt.Errorf("archive: store snapshot: %w", err)
	}
	pointer, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("archive: encode ref: %w", err)
	}
	if err := a.db.Put([]byte(latestKey), pointer); err != nil {
		return fmt.Errorf("archive: store latest ref: %w", err)
	}
	return nil
}

// Load reads the snapshot covering the exact block range.
func (a *Archive) Load(firstBlock, lastBlock uint64) (*ledger.Snapshot, error) {
	ref := Ref{FirstBlock: firstBlock, LastBlock: lastBlock}
	payload, err := a.db.Get(ref.key())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("archive: blocks %d-%d: %w", firstBlock, lastBlock, ErrNoSnapshots)
	}
	if err != nil {
		return nil, fmt.Errorf("archive: read snapshot: %w", err)
	}
	return decode(payload)
}

// Latest reads the most recently saved snapshot.
func (a *Archive) Latest() (*ledger.Snapshot, error) {
	pointer, err := a.db.Get([]byte(latestKey))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoSnapshots
	}
	if err != nil {
		return nil, fmt.Errorf("archive: read latest ref: %w", err)
	}
	var ref Ref
	if err := json.Unmarshal(pointer, &ref); err != nil {
		return nil, fmt.Errorf("archive: decode latest ref: %w", err)
	}
	return a.Load(ref.FirstBlock, ref.LastBlock)
}

// List returns the refs of every archived snapshot in key order.
func (a *Archive) List() ([]Ref, error) {
	keys, err := a.db.Keys([]byte(snapshotPrefix))
	if err != nil {
		return nil, fmt.Errorf("archive: list snapshots: %w", err)
	}
	refs := make([]Ref, 0, len(keys))
	for _, key := range keys {
		var ref Ref
		if _, err := fmt.Sscanf(key, snapshotPrefix+"%d-%d", &ref.FirstBlock, &ref.LastBlock); err != nil {
			return nil, fmt.Errorf("archive: malformed key %q: %w", key, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Verify loads a snapshot and runs the chain-integrity audit over it.
func (a *Archive) Verify(firstBlock, lastBlock uint64) (bool, []ledger.Violation, error) {
	snapshot, err := a.Load(firstBlock, lastBlock)
	if err != nil {
		return false, nil, err
	}
	ok, violations := ledger.VerifySnapshot(snapshot)
	return ok, violations, nil
}

func decode(payload []byte) (*ledger.Snapshot, error) {
	var snapshot ledger.Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("archive: decode snapshot: %w", err)
	}
	return &snapshot, nil
}
