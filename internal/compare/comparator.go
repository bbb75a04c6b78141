package compare

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tdalton/dbrecon/internal/adapter"
	"github.com/tdalton/dbrecon/internal/checksum"
	"github.com/tdalton/dbrecon/internal/logging"
)

// Comparator drives the paginated lockstep comparison of one source and
// one target adapter. A comparator is owned by a single worker; the two
// adapters are never shared across workers.
type Comparator struct {
	source     adapter.Adapter
	target     adapter.Adapter
	normalizer *checksum.Normalizer
	retry      adapter.RetryPolicy
	observer   Observer
}

// Config carries optional comparator settings; zero values select the
// defaults.
type Config struct {
	Normalizer *checksum.Normalizer
	Retry      adapter.RetryPolicy
	Observer   Observer
}

// New creates a comparator over a source/target adapter pair.
func New(source, target adapter.Adapter, cfg Config) *Comparator {
	if cfg.Normalizer == nil {
		cfg.Normalizer = checksum.NewNormalizer()
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	return &Comparator{
		source:     source,
		target:     target,
		normalizer: cfg.Normalizer,
		retry:      cfg.Retry,
		observer:   cfg.Observer,
	}
}

// CompareTable runs the full state machine for one table:
// ROW_COUNT, then CHUNK_SCAN when checksums are enabled or counts
// disagree, then ROW_LEVEL_DIFF for flagged chunks. Fatal errors abort
// the table, never the caller; the outcome always lands in the result.
func (c *Comparator) CompareTable(ctx context.Context, spec TableSpec) *TableResult {
	start := time.Now()
	res := &TableResult{Spec: spec, Status: StatusOK}
	defer func() { res.Duration = time.Since(start) }()

	if spec.ChunkSize <= 0 {
		spec.ChunkSize = DefaultChunkSize
	}
	if len(spec.PKColumns) == 0 {
		return c.abort(res, fmt.Errorf("table %s: primary key columns are required", spec.Name()))
	}
	if spec.ToleranceWindow > 0 && spec.ToleranceColumn == "" {
		return c.abort(res, fmt.Errorf("table %s: tolerance_window requires tolerance_column", spec.Name()))
	}

	cols, err := c.resolveColumns(ctx, &spec)
	if err != nil {
		return c.abort(res, err)
	}
	spec.Columns = cols
	res.Spec = spec

	// One cutoff for the whole table keeps the row count and every
	// chunk consistent with each other.
	var filter *adapter.TimeFilter
	if spec.ToleranceWindow > 0 {
		filter = &adapter.TimeFilter{
			Column: spec.ToleranceColumn,
			Before: time.Now().UTC().Add(-spec.ToleranceWindow),
		}
	}

	srcCount, tgtCount, err := c.rowCounts(ctx, &spec, filter)
	if err != nil {
		return c.abort(res, err)
	}
	res.RowCount = NewRowCountResult(spec.Name(), srcCount, tgtCount)

	if srcCount == 0 && tgtCount == 0 {
		// The comparison proved nothing; distinct from OK.
		res.Status = StatusNoData
		return res
	}
	if res.RowCount.Matched && !spec.Checksum {
		logging.Debug("Table %s: counts match (%d), checksum disabled, fast path OK", spec.Name(), srcCount)
		return res
	}

	c.observer.TableCounted(srcCount, tgtCount)

	trailing, err := c.scan(ctx, &spec, filter, res)
	if err != nil {
		return c.abort(res, err)
	}

	if err := c.expand(ctx, &spec, filter, res); err != nil {
		return c.abort(res, err)
	}
	res.Discrepancies = append(res.Discrepancies, trailing...)

	c.finalize(res)
	c.observer.DiscrepanciesFound(len(res.Discrepancies))
	return res
}

func (c *Comparator) abort(res *TableResult, err error) *TableResult {
	logging.Error("Table %s aborted: %v", res.Spec.Name(), err)
	res.Status = StatusAborted
	res.Err = err.Error()
	return res
}

// resolveColumns returns the column set to compare: the configured list,
// or the name intersection of both schemas in source ordinal order. The
// primary key columns must be present either way.
func (c *Comparator) resolveColumns(ctx context.Context, spec *TableSpec) ([]string, error) {
	if len(spec.Columns) > 0 {
		cols := spec.Columns
		for _, pk := range spec.PKColumns {
			if !containsString(cols, pk) {
				cols = append(append([]string{}, cols...), pk)
			}
		}
		return cols, nil
	}

	var srcCols, tgtCols []adapter.Column
	err := c.both(ctx,
		func(ctx context.Context) error {
			var err error
			srcCols, err = c.source.ColumnMetadata(ctx, spec.Source)
			return err
		},
		func(ctx context.Context) error {
			var err error
			tgtCols, err = c.target.ColumnMetadata(ctx, spec.Target)
			return err
		})
	if err != nil {
		return nil, err
	}

	tgtNames := make(map[string]bool, len(tgtCols))
	for _, col := range tgtCols {
		tgtNames[col.Name] = true
	}

	var cols []string
	for _, col := range srcCols {
		if tgtNames[col.Name] {
			cols = append(cols, col.Name)
		}
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("tables %s and %s share no columns: %w",
			spec.Source.FullName(), spec.Target.FullName(), adapter.ErrColumnMismatch)
	}
	for _, pk := range spec.PKColumns {
		if !containsString(cols, pk) {
			return nil, fmt.Errorf("pk column %q not present on both sides: %w", pk, adapter.ErrColumnMismatch)
		}
	}
	return cols, nil
}

// rowCounts queries both sides concurrently.
func (c *Comparator) rowCounts(ctx context.Context, spec *TableSpec, filter *adapter.TimeFilter) (int64, int64, error) {
	var srcCount, tgtCount int64
	err := c.both(ctx,
		func(ctx context.Context) error {
			return adapter.WithRetry(ctx, c.retry, "source count "+spec.Source.FullName(), func() error {
				var err error
				srcCount, err = c.source.RowCount(ctx, spec.Source, filter)
				return err
			})
		},
		func(ctx context.Context) error {
			return adapter.WithRetry(ctx, c.retry, "target count "+spec.Target.FullName(), func() error {
				var err error
				tgtCount, err = c.target.RowCount(ctx, spec.Target, filter)
				return err
			})
		})
	return srcCount, tgtCount, err
}

// scan walks both tables in lockstep, one chunk at a time. Source and
// target fetches for a chunk are issued concurrently (one in-flight
// request per side); chunk indices advance strictly sequentially because
// each afterKey depends on the previous chunk. Returns trailing
// missing-row discrepancies discovered when one side ended early; they
// are appended after expansion to keep discrepancies in key order.
func (c *Comparator) scan(ctx context.Context, spec *TableSpec, filter *adapter.TimeFilter, res *TableResult) ([]Discrepancy, error) {
	pkIdx := adapter.PKIndexes(spec.PKColumns, spec.Columns)

	var after adapter.Key
	idx := 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		src, tgt, err := c.fetchBoth(ctx, spec, filter, after, nil, spec.ChunkSize)
		if err != nil {
			return nil, err
		}

		nSrc, nTgt := len(src.Rows), len(tgt.Rows)
		if nSrc == 0 && nTgt == 0 {
			return nil, nil
		}
		if nSrc == 0 {
			return c.drain(ctx, spec, filter, c.target, spec.Target, after, KindMissingInSource, pkIdx)
		}
		if nTgt == 0 {
			return c.drain(ctx, spec, filter, c.source, spec.Source, after, KindMissingInTarget, pkIdx)
		}

		// The common chunk boundary is the smaller of the two last keys.
		// Rows beyond it on the longer side are re-read next chunk, so a
		// divergence never causes rows to be skipped.
		boundary := src.LastKey
		if adapter.CompareKey(tgt.LastKey, boundary) < 0 {
			boundary = tgt.LastKey
		}
		srcRows := truncateRows(src.Rows, pkIdx, boundary)
		tgtRows := truncateRows(tgt.Rows, pkIdx, boundary)

		cc := ChunkChecksum{
			Index:        idx,
			StartKey:     after,
			EndKey:       boundary,
			SourceDigest: c.digestRows(spec.Columns, srcRows),
			TargetDigest: c.digestRows(spec.Columns, tgtRows),
			SourceRows:   len(srcRows),
			TargetRows:   len(tgtRows),
		}
		res.ChunksScanned++
		res.RowsCompared += int64(len(srcRows))
		c.observer.ChunkScanned()
		c.observer.RowsCompared(int64(len(srcRows) + len(tgtRows)))

		if cc.Mismatched() {
			logging.Debug("Table %s chunk %d mismatched (%d vs %d rows), flagged for expansion",
				spec.Name(), idx, cc.SourceRows, cc.TargetRows)
			res.FlaggedChunks = append(res.FlaggedChunks, cc)
		}

		srcDone := nSrc < spec.ChunkSize && len(srcRows) == nSrc
		tgtDone := nTgt < spec.ChunkSize && len(tgtRows) == nTgt
		if srcDone && tgtDone {
			return nil, nil
		}

		after = boundary
		idx++
	}
}

// drain pages through the remainder of the longer side once the other
// side is exhausted. There is nothing to compare against, so the rows
// are reported as missing directly, subject to the trailing-row policy.
func (c *Comparator) drain(ctx context.Context, spec *TableSpec, filter *adapter.TimeFilter, side adapter.Adapter, table adapter.Table, after adapter.Key, kind Kind, pkIdx []int) ([]Discrepancy, error) {
	if spec.IgnoreTrailing {
		logging.Info("Table %s: ignoring trailing rows on %s per policy", spec.Name(), table.FullName())
		return nil, nil
	}

	var found []Discrepancy
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		req := adapter.ChunkRequest{
			Table:     table,
			PKColumns: spec.PKColumns,
			Columns:   spec.Columns,
			AfterKey:  after,
			Limit:     spec.ChunkSize,
			Filter:    filter,
		}
		var chunk *adapter.Chunk
		err := adapter.WithRetry(ctx, c.retry, "drain "+table.FullName(), func() error {
			var err error
			chunk, err = side.FetchChunk(ctx, req)
			return err
		})
		if err != nil {
			return nil, err
		}
		if len(chunk.Rows) == 0 {
			return found, nil
		}

		for _, row := range chunk.Rows {
			found = append(found, Discrepancy{
				Table:      spec.Name(),
				Kind:       kind,
				PrimaryKey: c.pkValues(spec, pkIdx, row),
				DetectedAt: time.Now().UTC(),
			})
		}
		c.observer.RowsCompared(int64(len(chunk.Rows)))

		if len(chunk.Rows) < spec.ChunkSize {
			return found, nil
		}
		after = chunk.LastKey
	}
}

// expand re-fetches each flagged chunk's exact key range from both sides
// and classifies every row. Only flagged chunks are ever expanded, which
// bounds row-level work to the chunks that actually disagree.
func (c *Comparator) expand(ctx context.Context, spec *TableSpec, filter *adapter.TimeFilter, res *TableResult) error {
	pkIdx := adapter.PKIndexes(spec.PKColumns, spec.Columns)

	for _, chunk := range res.FlaggedChunks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		src, tgt, err := c.fetchBoth(ctx, spec, filter, chunk.StartKey, chunk.EndKey, 0)
		if err != nil {
			return err
		}

		found := c.diffRows(spec, pkIdx, src.Rows, tgt.Rows)
		if len(found) == 0 {
			// The digests disagreed during the scan but the re-read rows
			// match, likely a write racing the two passes. Keep the
			// chunk-level finding so the run is not silently clean.
			found = []Discrepancy{{
				Table:      spec.Name(),
				Kind:       KindChecksumMismatch,
				PrimaryKey: map[string]any{"start_key": chunk.StartKey.String(), "end_key": chunk.EndKey.String()},
				DetectedAt: time.Now().UTC(),
			}}
		}
		res.Discrepancies = append(res.Discrepancies, found...)
	}
	return nil
}

// diffRows classifies the rows of one expanded chunk. Rows are matched by
// canonicalized primary key, so key values of different native widths
// pair up correctly across engines.
func (c *Comparator) diffRows(spec *TableSpec, pkIdx []int, srcRows, tgtRows [][]any) []Discrepancy {
	now := time.Now().UTC()

	type tgtEntry struct {
		row  []any
		used bool
	}
	tgtByKey := make(map[string]*tgtEntry, len(tgtRows))
	for _, row := range tgtRows {
		tgtByKey[c.keyString(pkIdx, row)] = &tgtEntry{row: row}
	}

	var found []Discrepancy
	for _, srcRow := range srcRows {
		key := c.keyString(pkIdx, srcRow)
		entry, ok := tgtByKey[key]
		if !ok {
			found = append(found, Discrepancy{
				Table:      spec.Name(),
				Kind:       KindMissingInTarget,
				PrimaryKey: c.pkValues(spec, pkIdx, srcRow),
				DetectedAt: now,
			})
			continue
		}
		entry.used = true

		if c.normalizer.RowDigest(spec.Columns, srcRow) == c.normalizer.RowDigest(spec.Columns, entry.row) {
			continue
		}

		srcVals, tgtVals := c.differingValues(spec.Columns, srcRow, entry.row)
		found = append(found, Discrepancy{
			Table:        spec.Name(),
			Kind:         KindValueMismatch,
			PrimaryKey:   c.pkValues(spec, pkIdx, srcRow),
			SourceValues: srcVals,
			TargetValues: tgtVals,
			DetectedAt:   now,
		})
	}

	// Rows present only in the target, in ascending key order.
	var extra [][]any
	for _, entry := range tgtByKey {
		if !entry.used {
			extra = append(extra, entry.row)
		}
	}
	sort.Slice(extra, func(i, j int) bool {
		return adapter.CompareKey(keyOf(extra[i], pkIdx), keyOf(extra[j], pkIdx)) < 0
	})
	for _, row := range extra {
		found = append(found, Discrepancy{
			Table:      spec.Name(),
			Kind:       KindMissingInSource,
			PrimaryKey: c.pkValues(spec, pkIdx, row),
			DetectedAt: now,
		})
	}

	return found
}

// differingValues returns the columns whose canonical values disagree.
func (c *Comparator) differingValues(cols []string, srcRow, tgtRow []any) (map[string]any, map[string]any) {
	srcVals := make(map[string]any)
	tgtVals := make(map[string]any)
	for i, col := range cols {
		if c.normalizer.CanonicalValue(srcRow[i]) != c.normalizer.CanonicalValue(tgtRow[i]) {
			srcVals[col] = displayValue(srcRow[i])
			tgtVals[col] = displayValue(tgtRow[i])
		}
	}
	return srcVals, tgtVals
}

// fetchBoth issues the source and target fetches for one key range
// concurrently, with the identical cursor on each side.
func (c *Comparator) fetchBoth(ctx context.Context, spec *TableSpec, filter *adapter.TimeFilter, after, end adapter.Key, limit int) (*adapter.Chunk, *adapter.Chunk, error) {
	var src, tgt *adapter.Chunk
	err := c.both(ctx,
		func(ctx context.Context) error {
			req := adapter.ChunkRequest{
				Table: spec.Source, PKColumns: spec.PKColumns, Columns: spec.Columns,
				AfterKey: after, EndKey: end, Limit: limit, Filter: filter,
			}
			return adapter.WithRetry(ctx, c.retry, "source fetch "+spec.Source.FullName(), func() error {
				var err error
				src, err = c.source.FetchChunk(ctx, req)
				return err
			})
		},
		func(ctx context.Context) error {
			req := adapter.ChunkRequest{
				Table: spec.Target, PKColumns: spec.PKColumns, Columns: spec.Columns,
				AfterKey: after, EndKey: end, Limit: limit, Filter: filter,
			}
			return adapter.WithRetry(ctx, c.retry, "target fetch "+spec.Target.FullName(), func() error {
				var err error
				tgt, err = c.target.FetchChunk(ctx, req)
				return err
			})
		})
	if err != nil {
		return nil, nil, err
	}
	return src, tgt, nil
}

// both runs two adapter calls concurrently and returns the first error.
func (c *Comparator) both(ctx context.Context, fns ...func(context.Context) error) error {
	errs := make(chan error, len(fns))
	for _, fn := range fns {
		go func(fn func(context.Context) error) {
			errs <- fn(ctx)
		}(fn)
	}
	var first error
	for range fns {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c *Comparator) digestRows(cols []string, rows [][]any) checksum.Digest {
	digests := make([]checksum.Digest, len(rows))
	for i, row := range rows {
		digests[i] = c.normalizer.RowDigest(cols, row)
	}
	return checksum.ChunkDigest(digests, len(rows))
}

// keyString canonicalizes a row's primary key for map indexing.
func (c *Comparator) keyString(pkIdx []int, row []any) string {
	parts := make([]string, len(pkIdx))
	for i, idx := range pkIdx {
		parts[i] = c.normalizer.CanonicalValue(row[idx])
	}
	return strings.Join(parts, "\x1f")
}

func (c *Comparator) pkValues(spec *TableSpec, pkIdx []int, row []any) map[string]any {
	m := make(map[string]any, len(pkIdx))
	for i, idx := range pkIdx {
		m[spec.PKColumns[i]] = displayValue(row[idx])
	}
	return m
}

func keyOf(row []any, pkIdx []int) adapter.Key {
	key := make(adapter.Key, len(pkIdx))
	for i, idx := range pkIdx {
		key[i] = row[idx]
	}
	return key
}

func truncateRows(rows [][]any, pkIdx []int, boundary adapter.Key) [][]any {
	n := len(rows)
	for n > 0 && adapter.CompareKey(keyOf(rows[n-1], pkIdx), boundary) > 0 {
		n--
	}
	return rows[:n]
}

func containsString(s []string, v string) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}

// displayValue makes driver values presentable in reports: textual byte
// slices become strings, everything else passes through.
func displayValue(v any) any {
	if b, ok := v.([]byte); ok && utf8.Valid(b) {
		return string(b)
	}
	return v
}
