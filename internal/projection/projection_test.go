package projection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopmonkeyus/entitydb/internal"
	"github.com/shopmonkeyus/entitydb/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func entities(t *testing.T) (*internal.EntityType, *internal.EntityType) {
	s, err := schema.Demo()
	require.NoError(t, err)
	user, _ := s.Entity("User")
	post, _ := s.Entity("Post")
	return user, post
}

func newRow(entity *internal.EntityType, values map[string]any) *internal.Row {
	row := internal.NewRow(entity)
	for _, f := range entity.Fields {
		row.Values[f.Name] = values[f.Name]
	}
	return row
}

func TestProjectDefault(t *testing.T) {
	user, _ := entities(t)
	row := newRow(user, map[string]any{"id": int64(1), "email": "u1@test.com"})
	o, err := Project(context.Background(), row, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "email", "name"}, o.Keys())
	buf, err := json.Marshal(o)
	require.NoError(t, err)
	assert.Equal(t, `{"id":1,"email":"u1@test.com","name":null}`, string(buf))
}

func TestProjectSelectID(t *testing.T) {
	user, _ := entities(t)
	row := newRow(user, map[string]any{"id": int64(2), "email": "u2@test.com"})
	o, err := Project(context.Background(), row, &internal.Select{Fields: []string{"id"}}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": int64(2)}, o.Map())
}

func TestProjectIncludePosts(t *testing.T) {
	user, post := entities(t)
	row := newRow(user, map[string]any{"id": int64(1), "email": "u1@test.com"})
	links := internal.Links{}
	links.Add("posts",
		newRow(post, map[string]any{"id": int64(1), "title": "Post1", "published": false, "authorId": int64(1)}),
		newRow(post, map[string]any{"id": int64(2), "title": "Post2", "published": true, "authorId": int64(1)}),
	)
	o, err := Project(context.Background(), row, &internal.Include{Relations: []string{"posts"}}, links, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "email", "name", "posts"}, o.Keys())
	val, ok := o.Get("posts")
	require.True(t, ok)
	posts := val.([]*Object)
	require.Len(t, posts, 2)
	title, _ := posts[0].Get("title")
	assert.Equal(t, "Post1", title)
	title, _ = posts[1].Get("title")
	assert.Equal(t, "Post2", title)
}

func TestProjectEmptyList(t *testing.T) {
	user, _ := entities(t)
	row := newRow(user, map[string]any{"id": int64(1), "email": "u1@test.com"})
	o, err := Project(context.Background(), row, &internal.Select{Fields: []string{"email"}, Relations: []string{"posts"}}, nil, nil)
	require.NoError(t, err)
	buf, err := json.Marshal(o)
	require.NoError(t, err)
	assert.Equal(t, `{"email":"u1@test.com","posts":[]}`, string(buf))
}

func TestProjectManyToOneLookup(t *testing.T) {
	user, post := entities(t)
	author := newRow(user, map[string]any{"id": int64(7), "email": "u7@test.com"})
	var looked []any
	lookup := func(ctx context.Context, entity *internal.EntityType, pk any) (*internal.Row, error) {
		looked = append(looked, pk)
		if entity == user && pk == int64(7) {
			return author, nil
		}
		return nil, nil
	}
	include := &internal.Include{Relations: []string{"author"}}

	row := newRow(post, map[string]any{"id": int64(1), "title": "Post1", "authorId": int64(7)})
	o, err := Project(context.Background(), row, include, nil, lookup)
	require.NoError(t, err)
	val, _ := o.Get("author")
	email, _ := val.(*Object).Get("email")
	assert.Equal(t, "u7@test.com", email)
	assert.Equal(t, []any{int64(7)}, looked)

	row = newRow(post, map[string]any{"id": int64(2), "title": "Post2"})
	o, err = Project(context.Background(), row, include, nil, lookup)
	require.NoError(t, err)
	val, ok := o.Get("author")
	assert.True(t, ok)
	assert.Nil(t, val)
	assert.Len(t, looked, 1)

	failing := func(ctx context.Context, entity *internal.EntityType, pk any) (*internal.Row, error) {
		return nil, errors.New("connection reset")
	}
	row = newRow(post, map[string]any{"id": int64(3), "title": "Post3", "authorId": int64(7)})
	_, err = Project(context.Background(), row, include, nil, failing)
	assert.EqualError(t, err, "connection reset")
}

func TestRows(t *testing.T) {
	user, _ := entities(t)
	rows := []*internal.Row{
		newRow(user, map[string]any{"id": int64(6), "email": "u6@test.com"}),
		newRow(user, map[string]any{"id": int64(7), "email": "u7@test.com"}),
	}
	res, err := Rows(context.Background(), rows, &internal.Select{Fields: []string{"email"}}, nil)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, map[string]any{"email": "u7@test.com"}, res[1].Map())
}

func TestObjectMsgpack(t *testing.T) {
	o := NewObject()
	o.Set("id", int64(1))
	o.Set("email", "u1@test.com")
	child := NewObject()
	child.Set("title", "Post1")
	o.Set("posts", []*Object{child})
	o.Set("id", int64(2))

	assert.Equal(t, []string{"id", "email", "posts"}, o.Keys())
	assert.Equal(t, 3, o.Len())

	var buf bytes.Buffer
	require.NoError(t, msgpack.NewEncoder(&buf).Encode(o))
	dec := msgpack.NewDecoder(&buf)
	dec.UseLooseInterfaceDecoding(true)
	var decoded map[string]any
	require.NoError(t, dec.Decode(&decoded))
	assert.Equal(t, "u1@test.com", decoded["email"])
	assert.EqualValues(t, 2, decoded["id"])
	posts := decoded["posts"].([]any)
	require.Len(t, posts, 1)
	assert.Equal(t, "Post1", posts[0].(map[string]any)["title"])
}
