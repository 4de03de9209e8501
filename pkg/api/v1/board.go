package v1

import "time"

// BoardObjectType tags the variant of a Board's canvas object.
type BoardObjectType string

const (
	BoardObjectText     BoardObjectType = "text"
	BoardObjectZone     BoardObjectType = "zone"
	BoardObjectWorktree BoardObjectType = "worktree"
)

// ZoneTriggerOn is the event a Zone trigger fires on. Only "enter" is
// implemented: a worktree dropped into the zone.
type ZoneTriggerOn string

const ZoneTriggerOnEnter ZoneTriggerOn = "enter"

// ZoneTrigger fires a prompt against the worktree dropped into a Zone.
// Grounded on the teacher's deleted internal/workflow step-action shape,
// narrowed to the one event this spec names (see SPEC_FULL.md §12).
type ZoneTrigger struct {
	On             ZoneTriggerOn `json:"on"`
	PromptTemplate string        `json:"prompt_template"`
	Vendor         *VendorFamily `json:"vendor,omitempty"`
}

// BoardObject is a tagged union positioned on a Board's canvas: a sticky
// note (text), a trigger region (zone), or a placed reference to exactly
// one Worktree (spec.md §3 BoardObject, invariant 4: "only worktree_id may
// appear on a board" — BoardObject has no session reference field; Text or
// Trigger set on a worktree object are not rejected).
type BoardObject struct {
	ID   string          `json:"id"`
	Type BoardObjectType `json:"type"`
	X    float64         `json:"x"`
	Y    float64         `json:"y"`

	// text
	Text string `json:"text,omitempty"`

	// worktree
	WorktreeID string `json:"worktree_id,omitempty"`

	// zone
	Width   float64      `json:"width,omitempty"`
	Height  float64      `json:"height,omitempty"`
	Trigger *ZoneTrigger `json:"trigger,omitempty"`
}

// Board groups worktrees and zones on a shared canvas.
type Board struct {
	ID        string                  `json:"id" db:"id"`
	Name      string                  `json:"name" db:"name"`
	Slug      *string                 `json:"slug,omitempty" db:"slug"`
	Icon      *string                 `json:"icon,omitempty" db:"icon"`
	Color     *string                 `json:"color,omitempty" db:"color"`
	CreatorID string                  `json:"creator_id" db:"creator_id"`
	Objects   map[string]BoardObject  `json:"objects" db:"-"`
	CreatedAt time.Time               `json:"created_at" db:"created_at"`
	UpdatedAt time.Time               `json:"updated_at" db:"updated_at"`
}

// CreateBoardRequest creates a new Board.
type CreateBoardRequest struct {
	Name  string  `json:"name" binding:"required,max=255"`
	Slug  *string `json:"slug,omitempty"`
	Icon  *string `json:"icon,omitempty"`
	Color *string `json:"color,omitempty"`
}

// UpsertObjectRequest is the payload for Board.upsertObject, a single-row
// JSON edit that avoids client-side read-modify-write races (spec.md §4.1).
type UpsertObjectRequest struct {
	Object BoardObject `json:"object" binding:"required"`
}

// BatchUpsertObjectsRequest batches multiple object edits into one
// transaction.
type BatchUpsertObjectsRequest struct {
	Objects []BoardObject `json:"objects" binding:"required"`
}

// UpdatePositionRequest is the payload for BoardObject.updatePosition:
// one writer per object, last-write-wins.
type UpdatePositionRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BoardYAML is the canonical on-disk/export shape for boards.toYaml /
// boards.fromYaml. Field order and presence define the "canonical inputs"
// round-trip property from spec.md §8.
type BoardYAML struct {
	Name    string                 `yaml:"name"`
	Slug    string                 `yaml:"slug,omitempty"`
	Icon    string                 `yaml:"icon,omitempty"`
	Color   string                 `yaml:"color,omitempty"`
	Objects []BoardObjectYAML      `yaml:"objects"`
}

// BoardObjectYAML is the flattened, order-stable YAML form of a BoardObject.
type BoardObjectYAML struct {
	ID         string       `yaml:"id"`
	Type       string       `yaml:"type"`
	X          float64      `yaml:"x"`
	Y          float64      `yaml:"y"`
	Text       string       `yaml:"text,omitempty"`
	WorktreeID string       `yaml:"worktree_id,omitempty"`
	Width      float64      `yaml:"width,omitempty"`
	Height     float64      `yaml:"height,omitempty"`
	Trigger    *ZoneTrigger `yaml:"trigger,omitempty"`
}
