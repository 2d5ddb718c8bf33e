package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userPostEntities() []*EntityType {
	return []*EntityType{
		{
			Name:  "User",
			Table: "users",
			Fields: []*ScalarField{
				{Name: "id", Kind: FieldKindInt, ID: true, Default: DefaultAutoincrement},
				{Name: "email", Kind: FieldKindString, Unique: true},
				{Name: "name", Kind: FieldKindString, Nullable: true},
			},
			Relations: []*RelationField{
				{Name: "posts", Target: "Post", Cardinality: OneToMany, ForeignKey: "authorId"},
			},
		},
		{
			Name: "Post",
			Fields: []*ScalarField{
				{Name: "id", Kind: FieldKindInt, ID: true, Default: DefaultAutoincrement},
				{Name: "title", Kind: FieldKindString},
				{Name: "authorId", Column: "author_id", Kind: FieldKindInt, Nullable: true},
			},
			Relations: []*RelationField{
				{Name: "author", Target: "User", Cardinality: ManyToOne, ForeignKey: "authorId"},
			},
		},
	}
}

func TestNewSchema(t *testing.T) {
	schema, err := NewSchema(userPostEntities())
	require.NoError(t, err)

	entities := schema.Entities()
	require.Len(t, entities, 2)
	assert.Equal(t, "Post", entities[0].Name)
	assert.Equal(t, "User", entities[1].Name)

	user, ok := schema.Entity("User")
	require.True(t, ok)
	assert.Equal(t, "users", user.TableName())
	assert.Equal(t, "id", user.PrimaryKey().Name)
	assert.Len(t, user.UniqueFields(), 2)
	assert.Equal(t, "Post", user.Target("posts").Name)

	post, ok := schema.Entity("Post")
	require.True(t, ok)
	assert.Equal(t, "post", post.TableName())
	f, ok := post.FieldByColumn("AUTHOR_ID")
	require.True(t, ok)
	assert.Equal(t, "authorId", f.Name)
	rel, ok := post.Relation("author")
	require.True(t, ok)
	assert.False(t, rel.IsList())

	_, ok = schema.Entity("Comment")
	assert.False(t, ok)
}

func TestNewSchemaErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(entities []*EntityType)
		err    string
	}{
		{
			name:   "missing id",
			modify: func(e []*EntityType) { e[0].Fields[0].ID = false },
			err:    "entity User: missing id field",
		},
		{
			name:   "invalid kind",
			modify: func(e []*EntityType) { e[0].Fields[1].Kind = "Text" },
			err:    `entity User: field email has invalid kind "Text"`,
		},
		{
			name:   "unknown target",
			modify: func(e []*EntityType) { e[0].Relations[0].Target = "Comment" },
			err:    "entity User: relation posts targets unknown entity Comment",
		},
		{
			name:   "missing foreign key",
			modify: func(e []*EntityType) { e[1].Relations[0].ForeignKey = "userId" },
			err:    "entity Post: relation author foreign key userId not found",
		},
		{
			name:   "foreign key kind",
			modify: func(e []*EntityType) { e[1].Fields[2].Kind = FieldKindString },
			err:    "entity User: relation posts foreign key authorId is String but references Int",
		},
		{
			name:   "generator kind",
			modify: func(e []*EntityType) { e[0].Fields[1].Default = DefaultNow },
			err:    "entity User: field email: now() requires a DateTime field",
		},
		{
			name:   "relation collides",
			modify: func(e []*EntityType) { e[0].Relations[0].Name = "email" },
			err:    "entity User: relation email collides with a field",
		},
		{
			name:   "duplicate table",
			modify: func(e []*EntityType) { e[1].Table = "users" },
			err:    "entity Post: table users already used by User",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entities := userPostEntities()
			tt.modify(entities)
			_, err := NewSchema(entities)
			require.Error(t, err)
			assert.Equal(t, tt.err, err.Error())
		})
	}
}

func TestScalarFieldDefaults(t *testing.T) {
	f := &ScalarField{Name: "id", Kind: FieldKindInt, Default: DefaultAutoincrement}
	assert.True(t, f.BackendGenerated())
	assert.False(t, f.Required())

	f = &ScalarField{Name: "published", Kind: FieldKindBoolean, Default: false}
	assert.Equal(t, "", f.Generator())
	assert.False(t, f.Required())

	f = &ScalarField{Name: "title", Kind: FieldKindString}
	assert.True(t, f.Required())
	assert.Equal(t, "title", f.ColumnName())
}
