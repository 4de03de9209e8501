package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agor/agor/internal/common/apperr"
	v1 "github.com/agor/agor/pkg/api/v1"
)

func TestCreateAndGetBoard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	board := &v1.Board{Name: "roadmap", CreatorID: "user-1"}
	require.NoError(t, s.CreateBoard(ctx, board))
	require.NotEmpty(t, board.ID)

	got, err := s.GetBoard(ctx, board.ID)
	require.NoError(t, err)
	require.Equal(t, "roadmap", got.Name)
	require.Empty(t, got.Objects)
}

func TestUpsertAndRemoveObject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	board := &v1.Board{Name: "roadmap", CreatorID: "user-1"}
	require.NoError(t, s.CreateBoard(ctx, board))

	obj := v1.BoardObject{ID: "obj-1", Type: v1.BoardObjectText, X: 1, Y: 2, Text: "note"}
	got, err := s.UpsertObject(ctx, board.ID, obj)
	require.NoError(t, err)
	require.Len(t, got.Objects, 1)
	require.Equal(t, "note", got.Objects["obj-1"].Text)

	got, err = s.UpdatePosition(ctx, board.ID, "obj-1", 5, 6)
	require.NoError(t, err)
	require.Equal(t, 5.0, got.Objects["obj-1"].X)
	require.Equal(t, 6.0, got.Objects["obj-1"].Y)

	got, err = s.RemoveObject(ctx, board.ID, "obj-1")
	require.NoError(t, err)
	require.Empty(t, got.Objects)
}

func TestBatchUpsertObjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	board := &v1.Board{Name: "roadmap", CreatorID: "user-1"}
	require.NoError(t, s.CreateBoard(ctx, board))

	objs := []v1.BoardObject{
		{ID: "a", Type: v1.BoardObjectText, Text: "one"},
		{ID: "b", Type: v1.BoardObjectText, Text: "two"},
	}
	got, err := s.BatchUpsertObjects(ctx, board.ID, objs)
	require.NoError(t, err)
	require.Len(t, got.Objects, 2)
}

func TestMutateObjectsBoardNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpsertObject(context.Background(), "missing", v1.BoardObject{ID: "a"})
	require.True(t, apperr.Is(err, apperr.NotFound))
}

func TestBoardYAMLRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	board := &v1.Board{Name: "roadmap", CreatorID: "user-1"}
	require.NoError(t, s.CreateBoard(ctx, board))

	_, err := s.BatchUpsertObjects(ctx, board.ID, []v1.BoardObject{
		{ID: "z1", Type: v1.BoardObjectZone, X: 1, Y: 1, Width: 100, Height: 50},
		{ID: "a1", Type: v1.BoardObjectText, Text: "hello"},
	})
	require.NoError(t, err)

	reloaded, err := s.GetBoard(ctx, board.ID)
	require.NoError(t, err)

	doc, err := ToYAML(reloaded)
	require.NoError(t, err)
	require.Contains(t, doc, "hello")

	name, _, _, _, objects, err := FromYAML([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, "roadmap", name)
	require.Len(t, objects, 2)
	// ToYAML sorts by id, so "a1" precedes "z1".
	require.Equal(t, "a1", objects[0].ID)
	require.Equal(t, "z1", objects[1].ID)
}

func TestRemoveBoardNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.RemoveBoard(context.Background(), "missing")
	require.True(t, apperr.Is(err, apperr.NotFound))
}
