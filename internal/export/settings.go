package export

import "firestige.xyz/satchel/internal/config"

// Settings selects which record kinds are exported and filters them.
type Settings struct {
	Source string

	IncludeCharacters bool
	IncludeArtifacts  bool
	IncludeWeapons    bool
	IncludeMaterials  bool

	// FakeInitializeFourthLine reports 5-star artifacts holding unactivated
	// substats as if they had reached +4 and activated them.
	FakeInitializeFourthLine bool

	MinCharacterLevel         uint32
	MinCharacterAscension     uint32
	MinCharacterConstellation uint32

	MinArtifactLevel  uint32
	MinArtifactRarity uint32

	MinWeaponLevel      uint32
	MinWeaponRefinement uint32
	MinWeaponAscension  uint32
	MinWeaponRarity     uint32
}

// DefaultSettings includes every kind with the stock rarity filters.
func DefaultSettings() Settings {
	return Settings{
		Source:            "satchel",
		IncludeCharacters: true,
		IncludeArtifacts:  true,
		IncludeWeapons:    true,
		IncludeMaterials:  true,
		MinCharacterLevel: 1,
		MinArtifactRarity: 5,
		MinWeaponLevel:    1,
		MinWeaponRarity:   3,
	}
}

// SettingsFromConfig converts the validated export section.
func SettingsFromConfig(cfg config.ExportConfig) Settings {
	return Settings{
		Source:                    cfg.Source,
		IncludeCharacters:         cfg.IncludeCharacters,
		IncludeArtifacts:          cfg.IncludeArtifacts,
		IncludeWeapons:            cfg.IncludeWeapons,
		IncludeMaterials:          cfg.IncludeMaterials,
		FakeInitializeFourthLine:  cfg.FakeInitializeFourthLine,
		MinCharacterLevel:         uint32(cfg.MinCharacterLevel),
		MinCharacterAscension:     uint32(cfg.MinCharacterAscension),
		MinCharacterConstellation: uint32(cfg.MinCharacterConstellation),
		MinArtifactLevel:          uint32(cfg.MinArtifactLevel),
		MinArtifactRarity:         uint32(cfg.MinArtifactRarity),
		MinWeaponLevel:            uint32(cfg.MinWeaponLevel),
		MinWeaponRefinement:       uint32(cfg.MinWeaponRefinement),
		MinWeaponAscension:        uint32(cfg.MinWeaponAscension),
		MinWeaponRarity:           uint32(cfg.MinWeaponRarity),
	}
}
