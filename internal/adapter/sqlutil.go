package adapter

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is the query surface shared by *sql.DB and *sql.Conn.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ScanChunk drains a result set into a Chunk. Column values are read in
// the order the query selected them; pkIdx gives the positions of the
// primary key columns within that order.
func ScanChunk(rows *sql.Rows, numCols int, pkIdx []int) (*Chunk, error) {
	chunk := &Chunk{}
	for rows.Next() {
		row := make([]any, numCols)
		ptrs := make([]any, numCols)
		for j := range row {
			ptrs[j] = &row[j]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		chunk.Rows = append(chunk.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if n := len(chunk.Rows); n > 0 {
		last := chunk.Rows[n-1]
		key := make(Key, len(pkIdx))
		for i, idx := range pkIdx {
			key[i] = last[idx]
		}
		chunk.LastKey = key
	}
	return chunk, nil
}

// PKIndexes returns the position of each pk column within the requested
// column list. ChunkRequest.Validate guarantees every pk column is present.
func PKIndexes(pkColumns, columns []string) []int {
	idx := make([]int, len(pkColumns))
	for i, pk := range pkColumns {
		for j, c := range columns {
			if c == pk {
				idx[i] = j
				break
			}
		}
	}
	return idx
}
