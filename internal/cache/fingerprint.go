// Package cache guarantees at most one fresh upstream computation per unique
// timeseries request within the freshness window. Requests are keyed by a
// fingerprint of their normalized form; results are stored durably through
// the shared store.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Request is the normalized form of a timeseries request. Geometry is the
// canonical WKT, so descriptors that resolve to the same shape fingerprint
// identically while any semantic difference (dates, stat, dataset) changes
// the key.
type Request struct {
	Dataset  string `json:"dataset"`
	Variable string `json:"variable"`
	Geometry string `json:"geometry"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Spatial  string `json:"spatial"`
	Temporal string `json:"temporal"`
}

// Fingerprint returns the hex sha256 of the normalized request. Field order
// is fixed by the struct, so the digest is stable across processes.
func Fingerprint(req Request) string {
	raw, _ := json.Marshal(req)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
