package gamedata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/satchel/internal/core"
)

func TestGoodKey(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Kamisato Ayaka", "KamisatoAyaka"},
		{"Gladiator's Finale", "GladiatorsFinale"},
		{"Lost Prayer to the Sacred Winds", "LostPrayerToTheSacredWinds"},
		{"Freedom-Sworn", "FreedomSworn"},
		{"Hero’s Wit", "HerosWit"},
		{"  spaced   out ", "SpacedOut"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GoodKey(tt.name))
		})
	}
}

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	name, ok := c.Character(10000002)
	require.True(t, ok)
	assert.Equal(t, "Kamisato Ayaka", name)

	w, ok := c.Weapon(12502)
	require.True(t, ok)
	assert.Equal(t, "Wolf's Gravestone", w.Name)
	assert.Equal(t, uint32(5), w.Rarity)

	a, ok := c.Artifact(81524)
	require.True(t, ok)
	assert.Equal(t, SlotFlower, a.Slot)

	affix, ok := c.Affix(501204)
	require.True(t, ok)
	assert.Equal(t, Property("critRate_"), affix.Property)
	assert.True(t, affix.Property.Percentage())

	st, ok := c.SkillType(10019)
	require.True(t, ok)
	assert.Equal(t, SkillBurst, st)

	_, ok = c.Material(999999)
	assert.False(t, ok)
}

func TestParseRejectsUnknownEnums(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"skill", "skills: {1: ultimate}"},
		{"slot", "artifacts: {1: {set: X, slot: hat, rarity: 5}}"},
		{"affix property", "affixes: {1: {property: luck, value: 1}}"},
		{"main property", "properties: {1: speed}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, core.ErrConfigInvalid)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gamedata.yaml")
	require.NoError(t, os.WriteFile(path, []byte("materials:\n  202: Mora\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	name, ok := c.Material(202)
	assert.True(t, ok)
	assert.Equal(t, "Mora", name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPropertyPercentage(t *testing.T) {
	assert.True(t, Property("hp_").Percentage())
	assert.False(t, Property("hp").Percentage())
	assert.False(t, Property("eleMas").Percentage())
	assert.True(t, Property("pyro_dmg_").Valid())
	assert.False(t, Property("pyro").Valid())
}
