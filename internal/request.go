package internal

// RelationDirective is a caller instruction to link related rows. It is either a CreateNested or a Connect.
type RelationDirective interface {
	relationDirective()
}

// CreateNested creates new rows of the related entity and links them.
type CreateNested struct {
	Requests []*CreateRequest
}

// Connect links existing rows of the related entity by primary key.
type Connect struct {
	Keys []any
}

func (*CreateNested) relationDirective() {}
func (*Connect) relationDirective()      {}

// SelectSpec shapes the result of a create. It is either a Select or an Include, nil means all scalar fields.
type SelectSpec interface {
	selectSpec()
}

// Select returns only the named scalar fields plus any named relations.
type Select struct {
	Fields    []string
	Relations []string
}

// Include returns all scalar fields plus the named relations.
type Include struct {
	Relations []string
}

func (*Select) selectSpec()  {}
func (*Include) selectSpec() {}

// CreateRequest is a normalized request to create one row and its relations.
type CreateRequest struct {
	Entity    *EntityType
	Scalars   map[string]any
	Relations map[string]RelationDirective
	Select    SelectSpec
}

// BatchCreateRequest is a normalized request to create many rows of the same entity without relations.
type BatchCreateRequest struct {
	Entity         *EntityType
	Rows           []map[string]any
	SkipDuplicates bool
	Select         SelectSpec
}

// BatchResult is the result of a batch insert.
type BatchResult struct {
	// Count is the number of rows actually inserted.
	Count int
	// Rows are the inserted rows in insertion order, skipped rows are omitted.
	Rows []*Row
}

// OnConflict controls how a batch insert handles unique constraint violations.
type OnConflict int

const (
	// OnConflictAbort fails the batch on the first violation.
	OnConflictAbort OnConflict = iota
	// OnConflictSkip omits the violating rows.
	OnConflictSkip
)

func (o OnConflict) String() string {
	if o == OnConflictSkip {
		return "skip"
	}
	return "abort"
}
