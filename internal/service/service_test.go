package service

import (
	"context"
	"testing"

	"github.com/shopmonkeyus/entitydb/internal"
	"github.com/shopmonkeyus/entitydb/internal/drivers/memory"
	"github.com/shopmonkeyus/entitydb/internal/projection"
	"github.com/shopmonkeyus/entitydb/schema"
	"github.com/shopmonkeyus/go-common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, internal.Backend) {
	s, err := schema.Demo()
	require.NoError(t, err)
	backend, err := memory.New(logger.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { backend.Stop() })
	return New(Config{Registry: s, Backend: backend, Logger: logger.NewTestLogger()}), backend
}

func get(t *testing.T, o *projection.Object, key string) any {
	val, ok := o.Get(key)
	require.True(t, ok, "missing key %s", key)
	return val
}

// countRows returns the number of rows of the entity by probing keys from 1 up.
func countRows(t *testing.T, svc *Service, backend internal.Backend, entity string, max int) int {
	e, ok := svc.Registry().Entity(entity)
	require.True(t, ok)
	txn, err := backend.Begin(context.Background())
	require.NoError(t, err)
	defer txn.Rollback()
	var count int
	for i := 1; i <= max; i++ {
		row, err := txn.LookupByPrimaryKey(context.Background(), e, int64(i))
		require.NoError(t, err)
		if row != nil {
			count++
		}
	}
	return count
}

func TestCreateWithNestedPosts(t *testing.T) {
	svc, backend := newTestService(t)
	user, err := svc.Create(context.Background(), "User", CreateArgs{
		Data: map[string]any{
			"email": "u1@test.com",
			"posts": map[string]any{
				"create": []any{
					map[string]any{"title": "Post1", "content": "My first post", "published": false},
					map[string]any{"title": "Post2", "content": "Just another post", "published": true},
				},
			},
		},
		Include: map[string]any{"posts": true},
	})
	require.NoError(t, err)
	assert.Equal(t, "u1@test.com", get(t, user, "email"))
	posts := get(t, user, "posts").([]*projection.Object)
	require.Len(t, posts, 2)
	assert.Equal(t, "Post1", get(t, posts[0], "title"))
	assert.Equal(t, "Post2", get(t, posts[1], "title"))
	for _, post := range posts {
		assert.Equal(t, get(t, user, "id"), get(t, post, "authorId"))
	}
	assert.Equal(t, 2, countRows(t, svc, backend, "Post", 5))
}

func TestCreateSelectID(t *testing.T) {
	svc, _ := newTestService(t)
	user, err := svc.Create(context.Background(), "User", CreateArgs{
		Data:   map[string]any{"email": "u2@test.com"},
		Select: map[string]any{"id": true},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, user.Keys())
	assert.Equal(t, int64(1), get(t, user, "id"))
}

func TestCreateConnect(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	post, err := svc.Create(ctx, "Post", CreateArgs{Data: map[string]any{"title": "Post3", "content": ""}})
	require.NoError(t, err)
	assert.Equal(t, false, get(t, post, "published"))

	user, err := svc.Create(ctx, "User", CreateArgs{
		Data: map[string]any{
			"email": "u3@test.com",
			"posts": map[string]any{"connect": map[string]any{"id": get(t, post, "id")}},
		},
		Include: map[string]any{"posts": true},
	})
	require.NoError(t, err)
	posts := get(t, user, "posts").([]*projection.Object)
	require.Len(t, posts, 1)
	assert.Equal(t, get(t, post, "id"), get(t, posts[0], "id"))
	assert.Equal(t, get(t, user, "id"), get(t, posts[0], "authorId"))
}

func TestCreateConnectSamePostTwice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	post, err := svc.Create(ctx, "Post", CreateArgs{Data: map[string]any{"title": "Post1"}})
	require.NoError(t, err)
	id := get(t, post, "id")

	user, err := svc.Create(ctx, "User", CreateArgs{
		Data: map[string]any{
			"email": "u1@test.com",
			"posts": map[string]any{"connect": []any{map[string]any{"id": id}, map[string]any{"id": id}}},
		},
		Include: map[string]any{"posts": true},
	})
	require.NoError(t, err)
	posts := get(t, user, "posts").([]*projection.Object)
	require.Len(t, posts, 1)
	assert.Equal(t, id, get(t, posts[0], "id"))
}

func TestCreateDanglingConnectIsAtomic(t *testing.T) {
	svc, backend := newTestService(t)
	_, err := svc.Create(context.Background(), "User", CreateArgs{
		Data: map[string]any{
			"email": "u3@test.com",
			"posts": map[string]any{"connect": []any{map[string]any{"id": 99}}},
		},
	})
	assert.True(t, internal.IsDanglingReferenceError(err))
	assert.Equal(t, 0, countRows(t, svc, backend, "User", 3))
}

func TestCreateNestedFailureIsAtomic(t *testing.T) {
	svc, backend := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "User", CreateArgs{Data: map[string]any{"email": "taken@test.com"}})
	require.NoError(t, err)

	_, err = svc.Create(ctx, "Post", CreateArgs{Data: map[string]any{
		"title":  "Post1",
		"author": map[string]any{"create": map[string]any{"email": "taken@test.com"}},
	}})
	assert.True(t, internal.IsUniqueConstraintError(err))
	assert.Equal(t, 0, countRows(t, svc, backend, "Post", 3))
	assert.Equal(t, 1, countRows(t, svc, backend, "User", 3))
}

func TestCreateIncludeAuthor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user, err := svc.Create(ctx, "User", CreateArgs{Data: map[string]any{"email": "u1@test.com"}})
	require.NoError(t, err)

	post, err := svc.Create(ctx, "Post", CreateArgs{
		Data:    map[string]any{"title": "Post1", "authorId": get(t, user, "id")},
		Include: map[string]any{"author": true},
	})
	require.NoError(t, err)
	author := get(t, post, "author").(*projection.Object)
	assert.Equal(t, "u1@test.com", get(t, author, "email"))
}

func TestCreateValidation(t *testing.T) {
	svc, backend := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "Comment", CreateArgs{Data: map[string]any{}})
	var unknown *internal.UnknownEntityError
	assert.ErrorAs(t, err, &unknown)

	_, err = svc.Create(ctx, "User", CreateArgs{Data: map[string]any{"email": "a", "nickname": "b"}})
	assert.True(t, internal.IsValidationError(err))

	_, err = svc.Create(ctx, "User", CreateArgs{
		Data:    map[string]any{"email": "a"},
		Select:  map[string]any{"id": true},
		Include: map[string]any{"posts": true},
	})
	var conflict *internal.SelectIncludeConflictError
	assert.ErrorAs(t, err, &conflict)
	assert.Equal(t, 0, countRows(t, svc, backend, "User", 3))
}

func TestCreateManyCount(t *testing.T) {
	svc, _ := newTestService(t)
	result, err := svc.CreateMany(context.Background(), "User", CreateManyArgs{
		Data: []map[string]any{{"email": "u4@test.com"}, {"email": "u5@test.com"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Count)
}

func TestCreateManyDuplicates(t *testing.T) {
	svc, backend := newTestService(t)
	ctx := context.Background()
	data := []map[string]any{{"email": "a"}, {"email": "a"}}

	_, err := svc.CreateMany(ctx, "User", CreateManyArgs{Data: data})
	assert.True(t, internal.IsUniqueConstraintError(err))
	assert.Equal(t, 0, countRows(t, svc, backend, "User", 3))

	result, err := svc.CreateMany(ctx, "User", CreateManyArgs{Data: data, SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)
	assert.Equal(t, 1, countRows(t, svc, backend, "User", 3))
}

func TestCreateManyStoredDuplicateRollsBack(t *testing.T) {
	svc, backend := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "User", CreateArgs{Data: map[string]any{"email": "u7@test.com"}})
	require.NoError(t, err)

	_, err = svc.CreateMany(ctx, "User", CreateManyArgs{Data: []map[string]any{{"email": "u8@test.com"}, {"email": "u7@test.com"}}})
	assert.True(t, internal.IsUniqueConstraintError(err))
	assert.Equal(t, 1, countRows(t, svc, backend, "User", 5))
}

func TestCreateManyAndReturn(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	users, err := svc.CreateManyAndReturn(ctx, "User", CreateManyArgs{
		Data: []map[string]any{{"email": "u6@test.com"}, {"email": "u7@test.com"}},
	})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "u6@test.com", get(t, users[0], "email"))
	assert.Equal(t, "u7@test.com", get(t, users[1], "email"))

	more, err := svc.CreateManyAndReturn(ctx, "User", CreateManyArgs{
		Data:           []map[string]any{{"email": "u7@test.com"}, {"email": "u8@test.com"}},
		SkipDuplicates: true,
		Select:         map[string]any{"email": true},
	})
	require.NoError(t, err)
	require.Len(t, more, 1)
	assert.Equal(t, map[string]any{"email": "u8@test.com"}, more[0].Map())
}

func TestCreateManyAndReturnMatchesCount(t *testing.T) {
	data := []map[string]any{{"email": "a"}, {"email": "b"}, {"email": "a"}, {"email": "c"}}

	svc, _ := newTestService(t)
	count, err := svc.CreateMany(context.Background(), "User", CreateManyArgs{Data: data, SkipDuplicates: true})
	require.NoError(t, err)

	svc, _ = newTestService(t)
	rows, err := svc.CreateManyAndReturn(context.Background(), "User", CreateManyArgs{Data: data, SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, count.Count, len(rows))
	assert.Equal(t, 3, count.Count)
}

func TestCreateManyRejectsRelations(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CreateMany(context.Background(), "User", CreateManyArgs{
		Data: []map[string]any{{"email": "a", "posts": map[string]any{"create": []any{}}}},
	})
	var invalid *internal.InvalidRelationDirectiveError
	assert.ErrorAs(t, err, &invalid)
}

func TestCanceledContext(t *testing.T) {
	svc, backend := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Create(ctx, "User", CreateArgs{Data: map[string]any{"email": "a"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, countRows(t, svc, backend, "User", 2))
}

func TestStoppedBackend(t *testing.T) {
	svc, backend := newTestService(t)
	require.NoError(t, backend.Stop())
	_, err := svc.Create(context.Background(), "User", CreateArgs{Data: map[string]any{"email": "a"}})
	assert.True(t, internal.IsBackendUnavailableError(err))
	assert.ErrorIs(t, err, internal.ErrBackendStopped)
}
