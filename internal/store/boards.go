package store

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/eventbus"
	v1 "github.com/agor/agor/pkg/api/v1"
)

type boardRow struct {
	ID        string  `db:"id"`
	Name      string  `db:"name"`
	Slug      *string `db:"slug"`
	Icon      *string `db:"icon"`
	Color     *string `db:"color"`
	CreatorID string  `db:"creator_id"`
	Objects   string  `db:"objects"`
}

func rowToBoard(r boardRow) (*v1.Board, error) {
	b := &v1.Board{
		ID:        r.ID,
		Name:      r.Name,
		Slug:      r.Slug,
		Icon:      r.Icon,
		Color:     r.Color,
		CreatorID: r.CreatorID,
		Objects:   map[string]v1.BoardObject{},
	}
	if r.Objects != "" {
		if err := json.Unmarshal([]byte(r.Objects), &b.Objects); err != nil {
			return nil, apperr.Internalf(err, "unmarshal board objects")
		}
	}
	return b, nil
}

// CreateBoard inserts a new Board with an empty canvas.
func (s *Store) CreateBoard(ctx context.Context, b *v1.Board) error {
	if b.ID == "" {
		b.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := s.now()
	b.CreatedAt, b.UpdatedAt = now, now
	if b.Objects == nil {
		b.Objects = map[string]v1.BoardObject{}
	}
	objects, err := json.Marshal(b.Objects)
	if err != nil {
		return apperr.Internalf(err, "marshal board objects")
	}

	_, err = s.writer().ExecContext(ctx, s.writer().Rebind(`
		INSERT INTO boards (id, name, slug, icon, color, creator_id, objects, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), b.ID, b.Name, b.Slug, b.Icon, b.Color, b.CreatorID, string(objects), now, now)
	if err != nil {
		return apperr.FromRepository(err)
	}

	s.emit(ctx, "boards", eventbus.Created, b.ID, b)
	return nil
}

// GetBoard returns a Board by id.
func (s *Store) GetBoard(ctx context.Context, id string) (*v1.Board, error) {
	var row boardRow
	err := s.reader().GetContext(ctx, &row, s.reader().Rebind(`SELECT * FROM boards WHERE id = ?`), id)
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	return rowToBoard(row)
}

// ListBoards returns every Board, newest first.
func (s *Store) ListBoards(ctx context.Context) ([]*v1.Board, error) {
	var rows []boardRow
	err := s.reader().SelectContext(ctx, &rows, `SELECT * FROM boards ORDER BY created_at DESC`)
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	out := make([]*v1.Board, 0, len(rows))
	for _, r := range rows {
		b, err := rowToBoard(r)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// RemoveBoard deletes a Board. Worktrees that reference it are not
// cascade-deleted; board_id on those rows is left dangling for the caller
// to clear via AssignWorktreeBoard(nil) first if that matters to them.
func (s *Store) RemoveBoard(ctx context.Context, id string) error {
	res, err := s.writer().ExecContext(ctx, s.writer().Rebind(`DELETE FROM boards WHERE id = ?`), id)
	if err != nil {
		return apperr.FromRepository(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFoundf("board %s", id)
	}
	s.emit(ctx, "boards", eventbus.Removed, id, map[string]string{"id": id})
	return nil
}

// UpsertObject writes a single canvas object, a single-row JSON edit that
// avoids a client-side read-modify-write race (spec.md §4.1).
func (s *Store) UpsertObject(ctx context.Context, boardID string, obj v1.BoardObject) (*v1.Board, error) {
	return s.mutateObjects(ctx, boardID, func(objects map[string]v1.BoardObject) {
		objects[obj.ID] = obj
	})
}

// BatchUpsertObjects applies multiple object edits in one transaction.
func (s *Store) BatchUpsertObjects(ctx context.Context, boardID string, objs []v1.BoardObject) (*v1.Board, error) {
	return s.mutateObjects(ctx, boardID, func(objects map[string]v1.BoardObject) {
		for _, obj := range objs {
			objects[obj.ID] = obj
		}
	})
}

// RemoveObject deletes a single canvas object by id.
func (s *Store) RemoveObject(ctx context.Context, boardID, objectID string) (*v1.Board, error) {
	return s.mutateObjects(ctx, boardID, func(objects map[string]v1.BoardObject) {
		delete(objects, objectID)
	})
}

// UpdatePosition moves a single object; concurrent movers on the same
// object are last-write-wins (spec.md §4.1).
func (s *Store) UpdatePosition(ctx context.Context, boardID, objectID string, x, y float64) (*v1.Board, error) {
	return s.mutateObjects(ctx, boardID, func(objects map[string]v1.BoardObject) {
		obj, ok := objects[objectID]
		if !ok {
			return
		}
		obj.X, obj.Y = x, y
		objects[objectID] = obj
	})
}

func (s *Store) mutateObjects(ctx context.Context, boardID string, mutate func(map[string]v1.BoardObject)) (*v1.Board, error) {
	lock := s.lockFor("board:" + boardID)
	lock.Lock()
	defer lock.Unlock()

	b, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	mutate(b.Objects)

	objects, err := json.Marshal(b.Objects)
	if err != nil {
		return nil, apperr.Internalf(err, "marshal board objects")
	}
	b.UpdatedAt = s.now()

	res, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		UPDATE boards SET objects = ?, updated_at = ? WHERE id = ?
	`), string(objects), b.UpdatedAt, boardID)
	if err != nil {
		return nil, apperr.FromRepository(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.NotFoundf("board %s", boardID)
	}

	s.emit(ctx, "boards", eventbus.Patched, boardID, b)
	return b, nil
}

// ToYAML renders a Board in the canonical export shape, objects sorted by
// id for a deterministic, diffable round trip (spec.md §8).
func ToYAML(b *v1.Board) (string, error) {
	doc := v1.BoardYAML{
		Name:    b.Name,
		Objects: make([]v1.BoardObjectYAML, 0, len(b.Objects)),
	}
	if b.Slug != nil {
		doc.Slug = *b.Slug
	}
	if b.Icon != nil {
		doc.Icon = *b.Icon
	}
	if b.Color != nil {
		doc.Color = *b.Color
	}
	ids := make([]string, 0, len(b.Objects))
	for id := range b.Objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		obj := b.Objects[id]
		doc.Objects = append(doc.Objects, v1.BoardObjectYAML{
			ID: obj.ID, Type: string(obj.Type), X: obj.X, Y: obj.Y,
			Text: obj.Text, WorktreeID: obj.WorktreeID,
			Width: obj.Width, Height: obj.Height, Trigger: obj.Trigger,
		})
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", apperr.Internalf(err, "marshal board yaml")
	}
	return string(out), nil
}

// FromYAML parses the canonical export shape back into objects applicable
// via BatchUpsertObjects. Name/slug/icon/color are returned alongside so
// callers can apply them to an existing Board or seed a new one.
func FromYAML(data []byte) (name, slug, icon, color string, objects []v1.BoardObject, err error) {
	var doc v1.BoardYAML
	if unmarshalErr := yaml.Unmarshal(data, &doc); unmarshalErr != nil {
		return "", "", "", "", nil, apperr.Validationf("invalid board yaml: %v", unmarshalErr)
	}
	objects = make([]v1.BoardObject, 0, len(doc.Objects))
	for _, o := range doc.Objects {
		objects = append(objects, v1.BoardObject{
			ID: o.ID, Type: v1.BoardObjectType(o.Type), X: o.X, Y: o.Y,
			Text: o.Text, WorktreeID: o.WorktreeID,
			Width: o.Width, Height: o.Height, Trigger: o.Trigger,
		})
	}
	return doc.Name, doc.Slug, doc.Icon, doc.Color, objects, nil
}
