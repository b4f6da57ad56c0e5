package inventory

import (
	"maps"
	"slices"
)

// Model is the accumulated inventory keyed by GUID. Items (weapons, artifacts,
// materials) share one identifier space; characters have their own.
type Model struct {
	Characters map[uint64]*Character
	Weapons    map[uint64]*Weapon
	Artifacts  map[uint64]*Artifact
	Materials  map[uint64]*Material
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{
		Characters: make(map[uint64]*Character),
		Weapons:    make(map[uint64]*Weapon),
		Artifacts:  make(map[uint64]*Artifact),
		Materials:  make(map[uint64]*Material),
	}
}

// Len returns the total number of live records.
func (m *Model) Len() int {
	return len(m.Characters) + len(m.Weapons) + len(m.Artifacts) + len(m.Materials)
}

// Empty reports whether the model holds no records.
func (m *Model) Empty() bool {
	return m.Len() == 0
}

// Counts returns the number of records per kind.
func (m *Model) Counts() map[Kind]int {
	return map[Kind]int{
		KindCharacter: len(m.Characters),
		KindWeapon:    len(m.Weapons),
		KindArtifact:  len(m.Artifacts),
		KindMaterial:  len(m.Materials),
	}
}

// EquippedBy maps item GUIDs to the avatar id of the character wearing them.
func (m *Model) EquippedBy() map[uint64]uint32 {
	out := make(map[uint64]uint32)
	for _, c := range m.Characters {
		for _, guid := range c.EquipGUIDs {
			out[guid] = c.AvatarID
		}
	}
	return out
}

// put stores a full record, superseding any record with the same identity.
func (m *Model) put(r Record) {
	if r.Kind() == KindCharacter {
		m.Characters[r.ID()] = r.(*Character)
		return
	}

	guid := r.ID()
	delete(m.Weapons, guid)
	delete(m.Artifacts, guid)
	delete(m.Materials, guid)
	switch v := r.(type) {
	case *Weapon:
		m.Weapons[guid] = v
	case *Artifact:
		m.Artifacts[guid] = v
	case *Material:
		m.Materials[guid] = v
	}
}

// Clone returns a deep copy.
func (m *Model) Clone() *Model {
	out := NewModel()
	for k, v := range m.Characters {
		c := *v
		c.Talents = slices.Clone(v.Talents)
		c.SkillLevels = maps.Clone(v.SkillLevels)
		c.EquipGUIDs = slices.Clone(v.EquipGUIDs)
		out.Characters[k] = &c
	}
	for k, v := range m.Weapons {
		w := *v
		w.Affixes = slices.Clone(v.Affixes)
		out.Weapons[k] = &w
	}
	for k, v := range m.Artifacts {
		out.Artifacts[k] = cloneArtifact(v)
	}
	for k, v := range m.Materials {
		mat := *v
		out.Materials[k] = &mat
	}
	return out
}

func cloneArtifact(a *Artifact) *Artifact {
	c := *a
	c.Rolls = slices.Clone(a.Rolls)
	c.ElixirChoices = slices.Clone(a.ElixirChoices)
	return &c
}
