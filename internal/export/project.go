package export

import (
	"errors"
	"log/slog"
	"math"
	"slices"

	"firestige.xyz/satchel/internal/gamedata"
	"firestige.xyz/satchel/internal/inventory"
)

// Only playable avatars are exported; trial and NPC avatars use other types.
const avatarTypeFormal = 1

// fourthLineRarity is the rarity whose artifacts may hold an unactivated
// fourth substat.
const fourthLineRarity = 5

// Project builds a GOOD document from an inventory snapshot. Records whose
// ids are missing from the catalog are skipped.
func Project(m *inventory.Model, catalog *gamedata.Catalog, s Settings) (*GOOD, error) {
	if m == nil || catalog == nil {
		return nil, errors.New("export: nil model or catalog")
	}
	p := projector{
		model:    m,
		catalog:  catalog,
		settings: s,
		equipped: m.EquippedBy(),
	}

	good := &GOOD{
		Format:     FormatGOOD,
		Version:    VersionGOOD,
		Source:     s.Source,
		Characters: []Character{},
		Artifacts:  []Artifact{},
		Weapons:    []Weapon{},
		Materials:  map[string]uint32{},
	}
	if s.IncludeCharacters {
		good.Characters = p.characters()
	}
	if s.IncludeArtifacts {
		good.Artifacts = p.artifacts()
	}
	if s.IncludeWeapons {
		good.Weapons = p.weapons()
	}
	if s.IncludeMaterials {
		good.Materials = p.materials()
	}
	return good, nil
}

type projector struct {
	model    *inventory.Model
	catalog  *gamedata.Catalog
	settings Settings
	equipped map[uint64]uint32
}

func sortedKeys[V any](m map[uint64]V) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (p *projector) characters() []Character {
	out := []Character{}
	for _, guid := range sortedKeys(p.model.Characters) {
		c := p.model.Characters[guid]
		if c.AvatarType != avatarTypeFormal {
			continue
		}
		name, ok := p.catalog.Character(c.AvatarID)
		if !ok {
			slog.Debug("character missing from game data", "avatar_id", c.AvatarID)
			continue
		}

		talent := TalentLevel{Auto: 1, Skill: 1, Burst: 1}
		for id, level := range c.SkillLevels {
			switch st, _ := p.catalog.SkillType(id); st {
			case gamedata.SkillAuto:
				talent.Auto = level
			case gamedata.SkillSkill:
				talent.Skill = level
			case gamedata.SkillBurst:
				talent.Burst = level
			}
		}

		constellation := uint32(len(c.Talents))
		s := p.settings
		if c.Level < s.MinCharacterLevel || c.Ascension < s.MinCharacterAscension ||
			constellation < s.MinCharacterConstellation {
			continue
		}
		out = append(out, Character{
			Key:           gamedata.GoodKey(name),
			Level:         c.Level,
			Constellation: constellation,
			Ascension:     c.Ascension,
			Talent:        talent,
		})
	}
	return out
}

// location returns the GOOD key of the character equipping guid, or "".
func (p *projector) location(guid uint64) string {
	avatarID, ok := p.equipped[guid]
	if !ok {
		return ""
	}
	name, ok := p.catalog.Character(avatarID)
	if !ok {
		return ""
	}
	return gamedata.GoodKey(name)
}

func round(prop gamedata.Property, v float64) float64 {
	if prop.Percentage() {
		return math.Round(v*10) / 10
	}
	return math.Round(v)
}

func (p *projector) artifacts() []Artifact {
	out := []Artifact{}
	for _, guid := range sortedKeys(p.model.Artifacts) {
		a := p.model.Artifacts[guid]
		meta, ok := p.catalog.Artifact(a.ItemID)
		if !ok {
			slog.Debug("artifact missing from game data", "item_id", a.ItemID)
			continue
		}
		mainStat, ok := p.catalog.Property(a.MainPropID)
		if !ok {
			slog.Debug("artifact main property missing from game data", "prop_id", a.MainPropID)
			continue
		}

		activated := a.ActivatedRolls()
		level := uint32(0)
		if a.Level > 0 {
			level = a.Level - 1
		}
		art := Artifact{
			SetKey:              gamedata.GoodKey(meta.Set),
			SlotKey:             string(meta.Slot),
			Level:               level,
			Rarity:              meta.Rarity,
			MainStatKey:         string(mainStat),
			Location:            p.location(guid),
			Lock:                a.Locked,
			Substats:            p.substats(activated),
			TotalRolls:          uint32(len(activated)),
			AstralMark:          a.Starred,
			ElixerCrafted:       len(a.ElixirChoices) > 0,
			UnactivatedSubstats: p.unactivated(a.UnactivatedRolls()),
		}
		// Filters see the observed level, not the faked one.
		if art.Level < p.settings.MinArtifactLevel || art.Rarity < p.settings.MinArtifactRarity {
			continue
		}
		if p.settings.FakeInitializeFourthLine {
			fakeFourthLine(&art)
		}
		out = append(out, art)
	}
	return out
}

// substats sums rolls per property in first-seen order. The initial value is
// the first roll's value.
func (p *projector) substats(rolls []uint32) []Substat {
	type acc struct {
		prop           gamedata.Property
		value, initial float64
	}
	var order []*acc
	byProp := make(map[gamedata.Property]*acc)
	for _, id := range rolls {
		affix, ok := p.catalog.Affix(id)
		if !ok {
			continue
		}
		e, ok := byProp[affix.Property]
		if !ok {
			e = &acc{prop: affix.Property, initial: affix.Value}
			byProp[affix.Property] = e
			order = append(order, e)
		}
		e.value += affix.Value
	}

	out := make([]Substat, 0, len(order))
	for _, e := range order {
		out = append(out, Substat{
			Key:          string(e.prop),
			Value:        round(e.prop, e.value),
			InitialValue: round(e.prop, e.initial),
		})
	}
	return out
}

func (p *projector) unactivated(rolls []uint32) []Substat {
	out := []Substat{}
	for _, id := range rolls {
		affix, ok := p.catalog.Affix(id)
		if !ok {
			continue
		}
		v := round(affix.Property, affix.Value)
		out = append(out, Substat{Key: string(affix.Property), Value: v, InitialValue: v})
	}
	return out
}

// fakeFourthLine promotes the unactivated substats of a 5-star artifact below
// +4 to activated ones and raises its level to 4.
func fakeFourthLine(a *Artifact) {
	if a.Rarity != fourthLineRarity || a.Level >= 4 || len(a.UnactivatedSubstats) == 0 {
		return
	}
	a.Substats = append(a.Substats, a.UnactivatedSubstats...)
	a.TotalRolls += uint32(len(a.UnactivatedSubstats))
	a.UnactivatedSubstats = []Substat{}
	a.Level = 4
}

func (p *projector) weapons() []Weapon {
	out := []Weapon{}
	for _, guid := range sortedKeys(p.model.Weapons) {
		w := p.model.Weapons[guid]
		meta, ok := p.catalog.Weapon(w.ItemID)
		if !ok {
			slog.Debug("weapon missing from game data", "item_id", w.ItemID)
			continue
		}

		refinement := uint32(1)
		if len(w.Affixes) > 0 {
			refinement = w.Affixes[0].Level + 1
		}
		s := p.settings
		if w.Level < s.MinWeaponLevel || refinement < s.MinWeaponRefinement ||
			w.Ascension < s.MinWeaponAscension || meta.Rarity < s.MinWeaponRarity {
			continue
		}
		out = append(out, Weapon{
			Key:        gamedata.GoodKey(meta.Name),
			Level:      w.Level,
			Ascension:  w.Ascension,
			Refinement: refinement,
			Location:   p.location(guid),
			Lock:       w.Locked,
		})
	}
	return out
}

func (p *projector) materials() map[string]uint32 {
	out := make(map[string]uint32)
	for _, guid := range sortedKeys(p.model.Materials) {
		m := p.model.Materials[guid]
		name, ok := p.catalog.Material(m.ItemID)
		if !ok {
			continue
		}
		out[gamedata.GoodKey(name)] = m.Count
	}
	return out
}
