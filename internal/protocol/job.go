package protocol

import (
	"encoding/hex"
	"fmt"
)

// NonceOffset is the byte offset of the 32-bit nonce inside a job blob.
// In NiceHash mode the top nonce byte (NonceOffset+3) is reserved for the
// proxy-assigned fixed byte.
const NonceOffset = 39

const fixedByteOffset = NonceOffset + 3

// Job is one unit of work pushed from upstream into a session.
type Job struct {
	ID       string
	Blob     string // hex encoded hashing blob
	Diff     uint64 // pool assigned difficulty
	Algo     string
	Height   uint64
	SeedHash string
}

// JobParams is the wire shape of a job, sent inside the login result and
// in job notifications.
type JobParams struct {
	Blob     string `json:"blob"`
	JobID    string `json:"job_id"`
	Target   string `json:"target"`
	ID       string `json:"id"`
	Algo     string `json:"algo,omitempty"`
	Height   uint64 `json:"height,omitempty"`
	SeedHash string `json:"seed_hash,omitempty"`
}

// Validate reports why j cannot be forwarded to a miner.
func (j Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job has no id")
	}
	if len(j.Blob) < 2*(fixedByteOffset+1) || len(j.Blob)%2 != 0 {
		return fmt.Errorf("job %s: blob too short (%d hex chars)", j.ID, len(j.Blob))
	}
	if _, err := hex.DecodeString(j.Blob); err != nil {
		return fmt.Errorf("job %s: blob: %w", j.ID, err)
	}
	if j.Diff == 0 {
		return fmt.Errorf("job %s: zero difficulty", j.ID)
	}
	return nil
}

// WithFixedByte returns a copy of j whose blob carries b in the reserved
// nonce byte.
func (j Job) WithFixedByte(b uint8) Job {
	if len(j.Blob) < 2*(fixedByteOffset+1) {
		return j
	}
	blob := []byte(j.Blob)
	hex.Encode(blob[2*fixedByteOffset:2*fixedByteOffset+2], []byte{b})
	j.Blob = string(blob)
	return j
}

// Params renders j for a miner identified by rpcID at the given effective
// difficulty.
func (j Job) Params(rpcID string, diff uint64) JobParams {
	return JobParams{
		Blob:     j.Blob,
		JobID:    j.ID,
		Target:   Target(diff),
		ID:       rpcID,
		Algo:     j.Algo,
		Height:   j.Height,
		SeedHash: j.SeedHash,
	}
}

// NonceFixedByte returns the reserved byte of a submitted 8-hex-char
// nonce.  ok is false for a malformed nonce.
func NonceFixedByte(nonce string) (b uint8, ok bool) {
	if len(nonce) != 8 {
		return 0, false
	}
	raw, err := hex.DecodeString(nonce)
	if err != nil {
		return 0, false
	}
	return raw[3], true
}

// ValidResult reports whether s is a 32-byte hex hash.
func ValidResult(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
