package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ucarion/jcs"
)

// GenesisHash is the previous hash of the first event of every instance
var GenesisHash = strings.Repeat("0", 64)

// ErrChainBroken is returned when stored events do not form a valid hash chain
var ErrChainBroken = errors.New("event hash chain broken")

// ChainHash computes SHA-256(prevHash || JCS(event)) over the identifying fields and payload
func ChainHash(prevHash string, e *Event) (string, error) {
	if prevHash == "" {
		return "", fmt.Errorf("prev hash must not be empty")
	}
	payload, err := e.Payload()
	if err != nil {
		return "", err
	}

	body := map[string]interface{}{
		"id":          e.ID,
		"instance_id": e.InstanceID,
		"sequence":    e.Sequence,
		"type":        e.Type,
		"recorded_at": e.RecordedAt.UTC().Format(time.RFC3339Nano),
		"payload":     payload,
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}
	var normalized interface{}
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return "", fmt.Errorf("failed to normalize event: %w", err)
	}
	canonical, err := jcs.Format(normalized)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize event: %w", err)
	}

	hasher := sha256.New()
	hasher.Write([]byte(prevHash))
	hasher.Write([]byte(canonical))
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Seal sets PrevHash and Hash on e as the successor of prevHash
func Seal(prevHash string, e *Event) error {
	h, err := ChainHash(prevHash, e)
	if err != nil {
		return err
	}
	e.PrevHash = prevHash
	e.Hash = h
	return nil
}

// VerifyChain checks sequence contiguity, linkage and every recomputed hash
func VerifyChain(events []*Event) error {
	prev := GenesisHash
	for i, e := range events {
		if e.Sequence != int64(i+1) {
			return fmt.Errorf("%w: expected sequence %d, got %d", ErrChainBroken, i+1, e.Sequence)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("%w: prev_hash mismatch at sequence %d", ErrChainBroken, e.Sequence)
		}
		h, err := ChainHash(prev, e)
		if err != nil {
			return fmt.Errorf("%w: sequence %d: %v", ErrChainBroken, e.Sequence, err)
		}
		if h != e.Hash {
			return fmt.Errorf("%w: hash mismatch at sequence %d", ErrChainBroken, e.Sequence)
		}
		prev = e.Hash
	}
	return nil
}
