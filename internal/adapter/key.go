package adapter

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Key is an ordered tuple of primary key values, one per pk column.
type Key []any

// String renders the key for log output and map indexing.
func (k Key) String() string {
	if k == nil {
		return "<start>"
	}
	parts := make([]string, len(k))
	for i, v := range k {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// CompareKey compares two keys element-wise in ascending primary key order.
// Returns -1, 0, or 1. Values of different native widths (int32 vs int64,
// driver-dependent) compare by normalized value, since the two sides of a
// comparison rarely report identical Go types.
func CompareKey(a, b Key) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := compareValue(a[i], b[i]); c != 0 {
			return c
		}
	}
	if len(a) < len(b) {
		return -1
	}
	if len(a) > len(b) {
		return 1
	}
	return 0
}

func compareValue(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	if ai, aok := asInt64(a); aok {
		if bi, bok := asInt64(b); bok {
			return compareOrdered(ai, bi)
		}
		if bf, bok := asFloat64(b); bok {
			return compareOrdered(float64(ai), bf)
		}
	}
	if af, aok := asFloat64(a); aok {
		if bf, bok := asFloat64(b); bok {
			return compareOrdered(af, bf)
		}
		if bi, bok := asInt64(b); bok {
			return compareOrdered(af, float64(bi))
		}
	}

	switch va := a.(type) {
	case time.Time:
		if vb, ok := b.(time.Time); ok {
			if va.Before(vb) {
				return -1
			}
			if va.After(vb) {
				return 1
			}
			return 0
		}
	case []byte:
		// go-sql-driver/mysql returns text columns as []byte while pgx
		// and go-mssqldb return string; treat the two as the same kind.
		switch vb := b.(type) {
		case []byte:
			return strings.Compare(string(va), string(vb))
		case string:
			return strings.Compare(string(va), vb)
		}
	case string:
		if vb, ok := b.([]byte); ok {
			return strings.Compare(va, string(vb))
		}
	case *big.Int:
		if vb, ok := b.(*big.Int); ok {
			return va.Cmp(vb)
		}
	case bool:
		if vb, ok := b.(bool); ok {
			if va == vb {
				return 0
			}
			if !va {
				return -1
			}
			return 1
		}
	}

	// Fall back to string comparison; covers string keys and mixed
	// driver representations of textual values.
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func compareOrdered[T int64 | float64](a, b T) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
