package artifact

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Column is one named column of a columnar result batch — the shape an
// artifact part stores instead of row-oriented JSON, matching spec.md's
// columnar encoding requirement.
type Column struct {
	Name   string `msgpack:"name"`
	Values []any  `msgpack:"values"`
}

// Batch is a self-contained columnar slice of a node's result set, the unit
// one artifact part holds.
type Batch struct {
	Columns  []Column `msgpack:"columns"`
	RowCount int      `msgpack:"row_count"`
}

// Encode msgpack-serializes batch for storage.
func Encode(batch Batch) ([]byte, error) {
	data, err := msgpack.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("encode artifact batch: %w", err)
	}

	return data, nil
}

// Decode reverses Encode.
func Decode(data []byte) (Batch, error) {
	var batch Batch
	if err := msgpack.Unmarshal(data, &batch); err != nil {
		return Batch{}, fmt.Errorf("decode artifact batch: %w", err)
	}

	return batch, nil
}

// RowsToBatch pivots row-oriented data (the shape adapters return) into the
// columnar Batch artifacts are stored as. columns fixes the column order and
// set, since a map has none.
func RowsToBatch(rows []map[string]any, columns []string) Batch {
	batch := Batch{Columns: make([]Column, len(columns)), RowCount: len(rows)}

	for i, name := range columns {
		values := make([]any, len(rows))
		for r, row := range rows {
			values[r] = row[name]
		}

		batch.Columns[i] = Column{Name: name, Values: values}
	}

	return batch
}
