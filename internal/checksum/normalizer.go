// Package checksum canonicalizes heterogeneous driver values and digests
// rows and chunks. Two rows that are semantically equal must produce the
// same digest no matter which engine supplied them, so every value is
// reduced to a tagged canonical text form before hashing.
package checksum

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Digest is one SHA-256 digest of a row or chunk.
type Digest = [sha256.Size]byte

// separator keeps column pairs from colliding across boundaries.
const separator = byte(0x1F)

// nullToken is the canonical form of SQL NULL. The type tag keeps it
// distinct from empty strings and zeros; they are never coalesced.
const nullToken = "_:"

// Normalizer converts driver values into canonical text.
//
// Canonical forms are tagged by kind ("n:" numeric, "s:" string, "b:"
// binary, "t:" timestamp, "o:" bool, "_:" null) so values of different
// kinds can never collide. Text that parses as a decimal number is
// canonicalized numerically regardless of the Go type the driver chose:
// SQL Server returns DECIMAL as []byte, MySQL returns most values as
// []byte, and pgx returns pgtype.Numeric, so the text form is the only
// representation all engines share.
type Normalizer struct {
	// NumericScale is the scale decimals are rounded to before trailing
	// zeros are trimmed.
	NumericScale int32

	// TimestampPrecision truncates timestamps after conversion to UTC.
	TimestampPrecision time.Duration

	// TrimStrings strips leading/trailing whitespace. Off by default so
	// real padding defects are not masked.
	TrimStrings bool
}

// NewNormalizer returns a normalizer with the default policy:
// scale 6, millisecond timestamps, no string trimming.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		NumericScale:       6,
		TimestampPrecision: time.Millisecond,
	}
}

// CanonicalValue reduces a driver value to canonical tagged text.
func (n *Normalizer) CanonicalValue(v any) string {
	if v == nil {
		return nullToken
	}

	switch val := v.(type) {
	case bool:
		if val {
			return "o:1"
		}
		return "o:0"
	case int:
		return n.canonicalDecimal(decimal.NewFromInt(int64(val)))
	case int8:
		return n.canonicalDecimal(decimal.NewFromInt(int64(val)))
	case int16:
		return n.canonicalDecimal(decimal.NewFromInt(int64(val)))
	case int32:
		return n.canonicalDecimal(decimal.NewFromInt(int64(val)))
	case int64:
		return n.canonicalDecimal(decimal.NewFromInt(val))
	case uint:
		return n.canonicalDecimal(decimal.NewFromUint64(uint64(val)))
	case uint8:
		return n.canonicalDecimal(decimal.NewFromUint64(uint64(val)))
	case uint16:
		return n.canonicalDecimal(decimal.NewFromUint64(uint64(val)))
	case uint32:
		return n.canonicalDecimal(decimal.NewFromUint64(uint64(val)))
	case uint64:
		return n.canonicalDecimal(decimal.NewFromUint64(val))
	case float32:
		return n.canonicalDecimal(decimal.NewFromFloat(float64(val)))
	case float64:
		return n.canonicalDecimal(decimal.NewFromFloat(val))
	case decimal.Decimal:
		return n.canonicalDecimal(val)
	case time.Time:
		return n.canonicalTime(val)
	case string:
		return n.canonicalText(val)
	case []byte:
		if utf8.Valid(val) {
			return n.canonicalText(string(val))
		}
		return "b:" + hex.EncodeToString(val)
	}

	// pgtype values (Numeric, Timestamptz, ...) implement driver.Valuer;
	// unwrap once and canonicalize whatever comes out.
	if valuer, ok := v.(driver.Valuer); ok {
		if dv, err := valuer.Value(); err == nil {
			if dv == nil {
				return nullToken
			}
			if _, again := dv.(driver.Valuer); !again {
				return n.CanonicalValue(dv)
			}
		}
	}

	return n.canonicalText(fmt.Sprintf("%v", v))
}

// canonicalText canonicalizes textual data: numeric-looking text becomes
// a number, everything else is normalized UTF-8.
func (n *Normalizer) canonicalText(s string) string {
	if d, err := decimal.NewFromString(strings.TrimSpace(s)); err == nil && looksNumeric(s) {
		return n.canonicalDecimal(d)
	}
	if n.TrimStrings {
		s = strings.TrimSpace(s)
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, string(utf8.RuneError))
	}
	return "s:" + s
}

// looksNumeric restricts numeric canonicalization to plain decimal text.
// Exponent notation, hex, and empty strings stay textual even though
// decimal.NewFromString would accept some of them.
func looksNumeric(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	seenDigit := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			seenDigit = true
		case (r == '-' || r == '+') && i == 0:
		case r == '.':
		default:
			return false
		}
	}
	return seenDigit
}

func (n *Normalizer) canonicalDecimal(d decimal.Decimal) string {
	scale := n.NumericScale
	if scale <= 0 {
		scale = 6
	}
	s := d.Round(scale).String()
	// Trim trailing zeros beyond the integer part so 1.50 and 1.5000
	// canonicalize identically.
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	if s == "-0" {
		s = "0"
	}
	return "n:" + s
}

func (n *Normalizer) canonicalTime(t time.Time) string {
	precision := n.TimestampPrecision
	if precision <= 0 {
		precision = time.Millisecond
	}
	u := t.UTC().Truncate(precision)
	return "t:" + u.Format("2006-01-02T15:04:05.000000000Z")
}

// RowDigest hashes a row given its column names and values. Pairs are
// hashed in alphabetical column order, so the digest is independent of
// the order columns were requested in.
func (n *Normalizer) RowDigest(cols []string, row []any) Digest {
	idx := make([]int, len(cols))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return cols[idx[a]] < cols[idx[b]] })

	h := sha256.New()
	for _, i := range idx {
		h.Write([]byte(cols[i]))
		h.Write([]byte{'='})
		h.Write([]byte(n.CanonicalValue(row[i])))
		h.Write([]byte{separator})
	}

	var d Digest
	h.Sum(d[:0])
	return d
}

// ChunkDigest combines ordered row digests and the chunk's row count into
// one digest. Either a content change or a cardinality change alters it.
func ChunkDigest(rowDigests []Digest, rowCount int) Digest {
	h := sha256.New()
	for _, rd := range rowDigests {
		h.Write(rd[:])
	}
	var count [8]byte
	binary.BigEndian.PutUint64(count[:], uint64(rowCount))
	h.Write(count[:])

	var d Digest
	h.Sum(d[:0])
	return d
}
