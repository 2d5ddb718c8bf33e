package relation

import (
	"context"
	"testing"

	"github.com/shopmonkeyus/entitydb/internal"
	"github.com/shopmonkeyus/entitydb/internal/drivers/memory"
	"github.com/shopmonkeyus/entitydb/internal/normalize"
	"github.com/shopmonkeyus/entitydb/internal/writer"
	"github.com/shopmonkeyus/entitydb/schema"
	"github.com/shopmonkeyus/go-common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	schema   *internal.Schema
	txn      internal.Txn
	resolver *Resolver
}

func setup(t *testing.T) *fixture {
	s, err := schema.Demo()
	require.NoError(t, err)
	backend, err := memory.New(logger.NewTestLogger())
	require.NoError(t, err)
	txn, err := backend.Begin(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		txn.Rollback()
		backend.Stop()
	})
	log := logger.NewTestLogger()
	return &fixture{schema: s, txn: txn, resolver: New(log, writer.New(log, 0))}
}

func (f *fixture) entity(t *testing.T, name string) *internal.EntityType {
	e, ok := f.schema.Entity(name)
	require.True(t, ok)
	return e
}

func (f *fixture) create(t *testing.T, entity string, data map[string]any) (*internal.Row, internal.Links, error) {
	req, err := normalize.Create(f.entity(t, entity), data, nil, nil)
	require.NoError(t, err)
	return f.resolver.Create(context.Background(), f.txn, req)
}

func TestCreateNestedChildren(t *testing.T) {
	f := setup(t)
	user, links, err := f.create(t, "User", map[string]any{
		"email": "u1@test.com",
		"posts": map[string]any{
			"create": []any{
				map[string]any{"title": "Post1", "content": "My first post", "published": false},
				map[string]any{"title": "Post2", "content": "Just another post", "published": true},
			},
		},
	})
	require.NoError(t, err)
	posts := links["posts"]
	require.Len(t, posts, 2)
	assert.Equal(t, "Post1", posts[0].Get("title"))
	assert.Equal(t, "Post2", posts[1].Get("title"))
	for _, post := range posts {
		assert.Equal(t, user.PrimaryKey(), post.Get("authorId"))
		stored, err := f.txn.LookupByPrimaryKey(context.Background(), f.entity(t, "Post"), post.PrimaryKey())
		require.NoError(t, err)
		assert.Equal(t, user.PrimaryKey(), stored.Get("authorId"))
	}
}

func TestCreateEmptyChildren(t *testing.T) {
	f := setup(t)
	_, links, err := f.create(t, "User", map[string]any{
		"email": "u1@test.com",
		"posts": map[string]any{"create": []any{}},
	})
	require.NoError(t, err)
	posts, ok := links["posts"]
	assert.True(t, ok)
	assert.Empty(t, posts)
}

func TestConnectChildren(t *testing.T) {
	f := setup(t)
	post, _, err := f.create(t, "Post", map[string]any{"title": "Post3", "content": ""})
	require.NoError(t, err)
	assert.Nil(t, post.Get("authorId"))

	user, links, err := f.create(t, "User", map[string]any{
		"email": "u3@test.com",
		"posts": map[string]any{"connect": map[string]any{"id": post.PrimaryKey()}},
	})
	require.NoError(t, err)
	require.Len(t, links["posts"], 1)
	assert.Equal(t, post.PrimaryKey(), links["posts"][0].PrimaryKey())
	assert.Equal(t, user.PrimaryKey(), links["posts"][0].Get("authorId"))
}

func TestConnectMissingChild(t *testing.T) {
	f := setup(t)
	_, _, err := f.create(t, "User", map[string]any{
		"email": "u3@test.com",
		"posts": map[string]any{"connect": []any{map[string]any{"id": 99}}},
	})
	var dangling *internal.DanglingReferenceError
	require.ErrorAs(t, err, &dangling)
	assert.Equal(t, "Post", dangling.Entity)
	assert.Equal(t, int64(99), dangling.Key)
}

func TestCreateParent(t *testing.T) {
	f := setup(t)
	post, links, err := f.create(t, "Post", map[string]any{
		"title":  "Post1",
		"author": map[string]any{"create": map[string]any{"email": "u1@test.com"}},
	})
	require.NoError(t, err)
	require.Len(t, links["author"], 1)
	author := links["author"][0]
	assert.Equal(t, "u1@test.com", author.Get("email"))
	assert.Equal(t, author.PrimaryKey(), post.Get("authorId"))
}

func TestConnectParent(t *testing.T) {
	f := setup(t)
	user, _, err := f.create(t, "User", map[string]any{"email": "u1@test.com"})
	require.NoError(t, err)
	post, links, err := f.create(t, "Post", map[string]any{
		"title":  "Post1",
		"author": map[string]any{"connect": map[string]any{"id": user.PrimaryKey()}},
	})
	require.NoError(t, err)
	assert.Equal(t, user.PrimaryKey(), post.Get("authorId"))
	assert.Equal(t, user.PrimaryKey(), links["author"][0].PrimaryKey())

	_, _, err = f.create(t, "Post", map[string]any{
		"title":  "Post2",
		"author": map[string]any{"connect": map[string]any{"id": 42}},
	})
	assert.True(t, internal.IsDanglingReferenceError(err))
}

func TestNestedUniqueViolation(t *testing.T) {
	f := setup(t)
	_, _, err := f.create(t, "User", map[string]any{"email": "u1@test.com"})
	require.NoError(t, err)
	_, _, err = f.create(t, "Post", map[string]any{
		"title":  "Post1",
		"author": map[string]any{"create": map[string]any{"email": "u1@test.com"}},
	})
	assert.True(t, internal.IsUniqueConstraintError(err))
}
