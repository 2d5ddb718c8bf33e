package util

// Batcher collects the rows of a batch insert in order and detects rows which repeat a unique
// value of an earlier row.
type Batcher struct {
	rows []map[string]any
	keys map[string]uint
}

// Duplicate describes the first unique value of a row which was already added.
type Duplicate struct {
	Field string
	Value any
	// Index of the earlier row holding the value.
	Index uint
}

// Rows returns the rows added so far.
func (b *Batcher) Rows() []map[string]any {
	return b.rows
}

// Add will add the row unless one of its unique values was already added. The unique values are
// given as field name and value pairs, nil values never conflict.
func (b *Batcher) Add(row map[string]any, unique []string) *Duplicate {
	for _, field := range unique {
		val := row[field]
		if val == nil {
			continue
		}
		if index, ok := b.keys[Hash(field+":", val)]; ok {
			return &Duplicate{Field: field, Value: val, Index: index}
		}
	}
	index := uint(len(b.rows))
	for _, field := range unique {
		if val := row[field]; val != nil {
			b.keys[Hash(field+":", val)] = index
		}
	}
	b.rows = append(b.rows, row)
	return nil
}

// Chunks splits the rows into consecutive chunks of at most size rows.
func (b *Batcher) Chunks(size int) [][]map[string]any {
	if size <= 0 || len(b.rows) <= size {
		if len(b.rows) == 0 {
			return nil
		}
		return [][]map[string]any{b.rows}
	}
	var res [][]map[string]any
	for i := 0; i < len(b.rows); i += size {
		end := i + size
		if end > len(b.rows) {
			end = len(b.rows)
		}
		res = append(res, b.rows[i:end])
	}
	return res
}

// Clear will clear the batcher and reset the internal state.
func (b *Batcher) Clear() {
	b.rows = nil
	b.keys = make(map[string]uint)
}

// Len will return the number of rows pending in the batcher.
func (b *Batcher) Len() int {
	return len(b.rows)
}

// NewBatcher creates a new batcher instance.
func NewBatcher() *Batcher {
	return &Batcher{
		keys: make(map[string]uint),
	}
}
