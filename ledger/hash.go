package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
)

// zeroHash is the previous-hash linkage of the genesis block.
const zeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// canonicalMap flattens the event into a field mapping. encoding/json sorts
// map keys lexicographically, which yields the canonical sorted-key form the
// hash chain depends on. The block stamp is excluded: it is assigned after
// the event hash is computed.
func (e *Event) canonicalMap() map[string]any {
	m := map[string]any{
		"id":        e.ID,
		"type":      string(e.Type),
		"timestamp": e.Timestamp.UTC().UnixNano(),
	}
	if e.InsightID != "" {
		m["insightId"] = e.InsightID
	}
	if e.UTID != "" {
		m["utid"] = e.UTID
	}
	if e.CreatorID != "" {
		m["creatorId"] = e.CreatorID
	}
	if e.ValidatorID != "" {
		m["validatorId"] = e.ValidatorID
	}
	if e.FromOwner != "" {
		m["fromOwner"] = e.FromOwner
	}
	if e.ToOwner != "" {
		m["toOwner"] = e.ToOwner
	}
	if e.Method != "" {
		m["method"] = string(e.Method)
	}
	if e.ProofScore != 0 {
		m["proofScore"] = strconv.FormatFloat(e.ProofScore, 'f', -1, 64)
	}
	if e.Confidence != 0 {
		m["confidence"] = strconv.FormatFloat(e.Confidence, 'f', -1, 64)
	}
	if e.Amount != nil {
		m["amount"] = e.Amount.String()
	}
	if len(e.Shares) > 0 {
		shares := make(map[string]string, len(e.Shares))
		for participant, amount := range e.Shares {
			shares[participant] = amount.String()
		}
		m["shares"] = shares
	}
	if len(e.Metadata) > 0 {
		m["metadata"] = e.Metadata
	}
	if len(e.SourcePapers) > 0 {
		m["sourcePapers"] = e.SourcePapers
	}
	if len(e.CitingPapers) > 0 {
		m["citingPapers"] = e.CitingPapers
	}
	return m
}

// Hash returns the hex encoded SHA-256 digest of the event's canonical form.
func (e *Event) Hash() string {
	encoded, err := json.Marshal(e.canonicalMap())
	if err != nil {
		// The canonical map only holds strings, numbers, slices, and string
		// maps; marshalling cannot fail for well-formed events.
		panic("ledger: canonical event encoding: " + err.Error())
	}
	digest := sha256.Sum256(encoded)
	return hex.EncodeToString(digest[:])
}

// HeaderHash returns the hex encoded SHA-256 digest over the block's
// canonical linkage fields.
func (b *Block) HeaderHash() string {
	m := map[string]any{
		"number":       b.Number,
		"timestamp":    b.Timestamp.UTC().UnixNano(),
		"previousHash": b.PreviousHash,
		"merkleRoot":   b.MerkleRoot,
		"nonce":        b.Nonce,
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		panic("ledger: canonical block encoding: " + err.Error())
	}
	digest := sha256.Sum256(encoded)
	return hex.EncodeToString(digest[:])
}

// merkleRoot folds the leaf hashes pairwise until a single root remains. The
// last hash of an odd-length level is paired with itself. An empty leaf set
// hashes to the digest of the empty string.
func merkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		digest := sha256.Sum256(nil)
		return hex.EncodeToString(digest[:])
	}
	level := append([]string(nil), leaves...)
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			digest := sha256.Sum256([]byte(left + right))
			next = append(next, hex.EncodeToString(digest[:]))
		}
		level = next
	}
	return level[0]
}

// Attest computes a keyed SHA-256 attestation over the block's header hash.
// This is a shared-secret integrity check, not an asymmetric signature.
func (b *Block) Attest(validatorID string, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(validatorID))
	mac.Write([]byte(b.HeaderHash()))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyAttestation reports whether the recorded attestation for validatorID
// matches the supplied shared key.
func (b *Block) VerifyAttestation(validatorID string, key []byte) bool {
	recorded, ok := b.Signatures[validatorID]
	if !ok {
		return false
	}
	expected := b.Attest(validatorID, key)
	return hmac.Equal([]byte(recorded), []byte(expected))
}
