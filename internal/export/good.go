// Package export projects an inventory snapshot into the GOOD interchange
// format consumed by optimizer tools.
package export

import "encoding/json"

const (
	FormatGOOD  = "GOOD"
	VersionGOOD = 3
)

// GOOD is the root export document.
type GOOD struct {
	Format     string            `json:"format"`
	Version    int               `json:"version"`
	Source     string            `json:"source"`
	Characters []Character       `json:"characters"`
	Artifacts  []Artifact        `json:"artifacts"`
	Weapons    []Weapon          `json:"weapons"`
	Materials  map[string]uint32 `json:"materials"`
}

type TalentLevel struct {
	Auto  uint32 `json:"auto"`
	Skill uint32 `json:"skill"`
	Burst uint32 `json:"burst"`
}

type Character struct {
	Key           string      `json:"key"`
	Level         uint32      `json:"level"`
	Constellation uint32      `json:"constellation"`
	Ascension     uint32      `json:"ascension"`
	Talent        TalentLevel `json:"talent"`
}

type Substat struct {
	Key          string  `json:"key"`
	Value        float64 `json:"value"`
	InitialValue float64 `json:"initialValue"`
}

type Artifact struct {
	SetKey              string    `json:"setKey"`
	SlotKey             string    `json:"slotKey"`
	Level               uint32    `json:"level"`
	Rarity              uint32    `json:"rarity"`
	MainStatKey         string    `json:"mainStatKey"`
	Location            string    `json:"location"`
	Lock                bool      `json:"lock"`
	Substats            []Substat `json:"substats"`
	TotalRolls          uint32    `json:"totalRolls"`
	AstralMark          bool      `json:"astralMark"`
	ElixerCrafted       bool      `json:"elixerCrafted"`
	UnactivatedSubstats []Substat `json:"unactivatedSubstats"`
}

type Weapon struct {
	Key        string `json:"key"`
	Level      uint32 `json:"level"`
	Ascension  uint32 `json:"ascension"`
	Refinement uint32 `json:"refinement"`
	Location   string `json:"location"`
	Lock       bool   `json:"lock"`
}

// Marshal serializes the document as compact JSON.
func Marshal(g *GOOD) ([]byte, error) {
	return json.Marshal(g)
}
