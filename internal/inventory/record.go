// Package inventory folds decoded game records into a deduplicated
// point-in-time model of the player's inventory.
package inventory

// Kind identifies a record type.
type Kind string

const (
	KindCharacter     Kind = "character"
	KindWeapon        Kind = "weapon"
	KindArtifact      Kind = "artifact"
	KindMaterial      Kind = "material"
	KindArtifactDelta Kind = "artifact_delta"
)

// Record is a decoded game entity or a partial update to one.
// The set of implementations is closed.
type Record interface {
	Kind() Kind
	// ID is the stable in-game identifier the record applies to.
	ID() uint64
	isRecord()
}

// Character is a full avatar record.
type Character struct {
	GUID       uint64
	AvatarID   uint32
	AvatarType uint32
	Level      uint32
	Ascension  uint32
	// Talents holds unlocked constellation ids.
	Talents     []uint32
	SkillLevels map[uint32]uint32
	EquipGUIDs  []uint64
}

func (c *Character) Kind() Kind { return KindCharacter }
func (c *Character) ID() uint64 { return c.GUID }
func (*Character) isRecord()    {}

// Affix is a weapon refinement entry.
type Affix struct {
	ID    uint32
	Level uint32
}

// Weapon is a full weapon item record.
type Weapon struct {
	GUID      uint64
	ItemID    uint32
	Level     uint32
	Ascension uint32
	Affixes   []Affix // wire order
	Locked    bool
}

func (w *Weapon) Kind() Kind { return KindWeapon }
func (w *Weapon) ID() uint64 { return w.GUID }
func (*Weapon) isRecord()    {}

// Roll is one artifact substat increment. Unactivated rolls are locked in
// but do not count toward the current value.
type Roll struct {
	AffixID   uint32
	Activated bool
}

// Artifact is a full artifact item record. Rolls is append-only: the first
// InitialRolls entries came with the full record, later ones from deltas.
type Artifact struct {
	GUID          uint64
	ItemID        uint32
	Level         uint32
	MainPropID    uint32
	Rolls         []Roll
	InitialRolls  int
	Starred       bool
	ElixirChoices []uint32
	Locked        bool
}

func (a *Artifact) Kind() Kind { return KindArtifact }
func (a *Artifact) ID() uint64 { return a.GUID }
func (*Artifact) isRecord()    {}

// ActivatedRolls returns the affix ids of activated rolls in arrival order.
func (a *Artifact) ActivatedRolls() []uint32 {
	return a.rollsWhere(true)
}

// UnactivatedRolls returns the affix ids of unactivated rolls in arrival order.
func (a *Artifact) UnactivatedRolls() []uint32 {
	return a.rollsWhere(false)
}

func (a *Artifact) rollsWhere(activated bool) []uint32 {
	var out []uint32
	for _, r := range a.Rolls {
		if r.Activated == activated {
			out = append(out, r.AffixID)
		}
	}
	return out
}

// Material is a stackable item record.
type Material struct {
	GUID   uint64
	ItemID uint32
	Count  uint32
}

func (m *Material) Kind() Kind { return KindMaterial }
func (m *Material) ID() uint64 { return m.GUID }
func (*Material) isRecord()    {}

// ArtifactDelta mutates an existing artifact: it appends rolls and, when
// Level is non-zero, sets the level.
type ArtifactDelta struct {
	GUID  uint64
	Level uint32
	Rolls []Roll
}

func (d *ArtifactDelta) Kind() Kind { return KindArtifactDelta }
func (d *ArtifactDelta) ID() uint64 { return d.GUID }
func (*ArtifactDelta) isRecord()    {}
