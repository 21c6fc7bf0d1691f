package store

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/signalsfoundry/flowcanvas/model"
	"lukechampine.com/blake3"
)

// EncodeSnapshot renders a snapshot to its storage form: digest over
// the canonical JSON, blob as the zstd-compressed JSON.
func EncodeSnapshot(snap model.Snapshot) (blob []byte, digest string, err error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, "", fmt.Errorf("encoding snapshot: %w", err)
	}

	sum := blake3.Sum256(raw)
	digest = hex.EncodeToString(sum[:])

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating zstd encoder: %w", err)
	}
	defer enc.Close()

	return enc.EncodeAll(raw, nil), digest, nil
}

// DecodeSnapshot reverses EncodeSnapshot and verifies the digest.
func DecodeSnapshot(blob []byte, digest string) (model.Snapshot, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("decompressing revision: %w", err)
	}

	sum := blake3.Sum256(raw)
	if hex.EncodeToString(sum[:]) != digest {
		return model.Snapshot{}, fmt.Errorf("%w: %s", ErrDigestMismatch, digest)
	}

	var snap model.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return model.Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}
