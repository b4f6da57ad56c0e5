// Package gamedata maps in-game numeric ids to the names and attributes used
// by the GOOD export format.
package gamedata

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"firestige.xyz/satchel/internal/core"
)

//go:embed default.yaml
var defaultCatalog []byte

// SkillType classifies a character talent.
type SkillType string

const (
	SkillAuto  SkillType = "auto"
	SkillSkill SkillType = "skill"
	SkillBurst SkillType = "burst"
)

// Slot is an artifact slot key.
type Slot string

const (
	SlotFlower  Slot = "flower"
	SlotPlume   Slot = "plume"
	SlotSands   Slot = "sands"
	SlotGoblet  Slot = "goblet"
	SlotCirclet Slot = "circlet"
)

// Property is a GOOD stat key. Keys ending in "_" are percentages.
type Property string

var properties = map[Property]struct{}{
	"hp": {}, "hp_": {}, "atk": {}, "atk_": {}, "def": {}, "def_": {},
	"eleMas": {}, "enerRech_": {}, "critRate_": {}, "critDMG_": {}, "heal_": {},
	"physical_dmg_": {}, "anemo_dmg_": {}, "geo_dmg_": {}, "electro_dmg_": {},
	"hydro_dmg_": {}, "pyro_dmg_": {}, "cryo_dmg_": {}, "dendro_dmg_": {},
}

// Percentage reports whether values of p are percentages.
func (p Property) Percentage() bool {
	return strings.HasSuffix(string(p), "_")
}

// Valid reports whether p is a known GOOD stat key.
func (p Property) Valid() bool {
	_, ok := properties[p]
	return ok
}

type Weapon struct {
	Name   string `yaml:"name"`
	Rarity uint32 `yaml:"rarity"`
}

type Artifact struct {
	Set    string `yaml:"set"`
	Slot   Slot   `yaml:"slot"`
	Rarity uint32 `yaml:"rarity"`
}

// Affix is one substat roll value.
type Affix struct {
	Property Property `yaml:"property"`
	Value    float64  `yaml:"value"`
}

// Catalog is the id lookup table.
type Catalog struct {
	Characters map[uint32]string    `yaml:"characters"`
	Skills     map[uint32]SkillType `yaml:"skills"`
	Weapons    map[uint32]Weapon    `yaml:"weapons"`
	Artifacts  map[uint32]Artifact  `yaml:"artifacts"`
	Affixes    map[uint32]Affix     `yaml:"affixes"`
	// Properties maps artifact main property ids to stat keys.
	Properties map[uint32]Property `yaml:"properties"`
	Materials  map[uint32]string   `yaml:"materials"`
}

// Default returns the catalog bundled with the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog file. An empty path returns the bundled catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read game data %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse game data: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks enum fields.
func (c *Catalog) Validate() error {
	for id, s := range c.Skills {
		switch s {
		case SkillAuto, SkillSkill, SkillBurst:
		default:
			return fmt.Errorf("skill %d: unknown type %q: %w", id, s, core.ErrConfigInvalid)
		}
	}
	for id, a := range c.Artifacts {
		switch a.Slot {
		case SlotFlower, SlotPlume, SlotSands, SlotGoblet, SlotCirclet:
		default:
			return fmt.Errorf("artifact %d: unknown slot %q: %w", id, a.Slot, core.ErrConfigInvalid)
		}
	}
	for id, a := range c.Affixes {
		if !a.Property.Valid() {
			return fmt.Errorf("affix %d: unknown property %q: %w", id, a.Property, core.ErrConfigInvalid)
		}
	}
	for id, p := range c.Properties {
		if !p.Valid() {
			return fmt.Errorf("property %d: unknown key %q: %w", id, p, core.ErrConfigInvalid)
		}
	}
	return nil
}

func (c *Catalog) Character(id uint32) (string, bool) {
	name, ok := c.Characters[id]
	return name, ok
}

func (c *Catalog) SkillType(id uint32) (SkillType, bool) {
	s, ok := c.Skills[id]
	return s, ok
}

func (c *Catalog) Weapon(id uint32) (Weapon, bool) {
	w, ok := c.Weapons[id]
	return w, ok
}

func (c *Catalog) Artifact(id uint32) (Artifact, bool) {
	a, ok := c.Artifacts[id]
	return a, ok
}

func (c *Catalog) Affix(id uint32) (Affix, bool) {
	a, ok := c.Affixes[id]
	return a, ok
}

func (c *Catalog) Property(id uint32) (Property, bool) {
	p, ok := c.Properties[id]
	return p, ok
}

func (c *Catalog) Material(id uint32) (string, bool) {
	name, ok := c.Materials[id]
	return name, ok
}

// GoodKey converts a display name to a GOOD key: apostrophes are dropped,
// remaining non-alphanumeric runs separate words and each word is capitalized.
func GoodKey(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		switch {
		case r == '\'' || r == '’':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if upper {
				r = unicode.ToUpper(r)
				upper = false
			}
			b.WriteRune(r)
		default:
			upper = true
		}
	}
	return b.String()
}
