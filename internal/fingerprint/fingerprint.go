// Package fingerprint derives the canonical cache identity of a
// (dataset schema, aggregation spec) pair.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/tally-lab/project-tally/internal/aggregate"
	"github.com/tally-lab/project-tally/internal/dataset"
)

// Fingerprint is the hex-encoded SHA-256 identity of a request. Two requests
// with the same fingerprint are cache-equivalent.
type Fingerprint string

// SchemaMismatchError is returned when the aggregation spec references a
// column the dataset schema does not declare. User input error: surfaced
// immediately, never retried.
type SchemaMismatchError struct {
	Column string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("aggregation spec references unknown column %q", e.Column)
}

// Compute derives the fingerprint of a schema + spec pair.
//
// The derivation is a pure function: column order is canonicalized by sorting,
// the spec vocabulary is normalized, and the free-text prompt is excluded so
// phrasing variations hit the same cache entry. Row data never participates.
func Compute(schema dataset.Schema, spec aggregate.Spec) (Fingerprint, error) {
	norm, err := spec.Normalize()
	if err != nil {
		return "", err
	}

	for _, col := range norm.TargetColumns {
		if !schema.Has(col) {
			return "", &SchemaMismatchError{Column: col}
		}
	}

	cols := make([]string, 0, len(schema))
	for _, c := range schema {
		cols = append(cols, c.Name+"="+string(c.Type))
	}
	sort.Strings(cols)

	var b strings.Builder
	b.WriteString("schema:")
	b.WriteString(strings.Join(cols, ";"))
	b.WriteString("|fn:")
	b.WriteString(norm.Function)
	b.WriteString("|gran:")
	b.WriteString(norm.Granularity)
	b.WriteString("|targets:")
	b.WriteString(strings.Join(norm.TargetColumns, ","))

	hash := sha256.Sum256([]byte(b.String()))
	return Fingerprint(hex.EncodeToString(hash[:])), nil
}
