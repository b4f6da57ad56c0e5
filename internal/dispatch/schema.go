package dispatch

import (
	"fmt"

	"firestige.xyz/satchel/internal/inventory"
)

// Property ids inside AvatarInfo.prop_map.
const (
	propLevel     = 4001
	propAscension = 1002
)

func decodeItemList(payload []byte) ([]inventory.Record, error) {
	var out []inventory.Record
	err := walk(payload, func(f field) error {
		if f.num != 1 {
			return nil
		}
		b, err := f.message()
		if err != nil {
			return err
		}
		rec, err := decodeItem(b)
		if err != nil {
			return fmt.Errorf("item %d: %w", len(out), err)
		}
		if rec != nil {
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// decodeItem returns nil for item kinds the inventory does not track.
func decodeItem(b []byte) (inventory.Record, error) {
	var (
		guid                uint64
		itemID              uint32
		material, equip     []byte
		hasMaterial, hasEqp bool
	)
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			guid, err = f.uint64()
		case 2:
			itemID, err = f.uint32()
		case 3:
			material, err = f.message()
			hasMaterial = true
		case 4:
			equip, err = f.message()
			hasEqp = true
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	switch {
	case hasMaterial:
		m := &inventory.Material{GUID: guid, ItemID: itemID}
		err := walk(material, func(f field) error {
			var err error
			if f.num == 1 {
				m.Count, err = f.uint32()
			}
			return err
		})
		return m, err
	case hasEqp:
		return decodeEquip(guid, itemID, equip)
	}
	return nil, nil
}

func decodeEquip(guid uint64, itemID uint32, b []byte) (inventory.Record, error) {
	var (
		weapon, reliquary       []byte
		hasWeapon, hasReliquary bool
		locked                  bool
	)
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			weapon, err = f.message()
			hasWeapon = true
		case 2:
			reliquary, err = f.message()
			hasReliquary = true
		case 3:
			locked, err = f.bool()
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	switch {
	case hasReliquary:
		a, err := decodeReliquary(reliquary)
		if err != nil {
			return nil, fmt.Errorf("reliquary: %w", err)
		}
		a.GUID, a.ItemID, a.Locked = guid, itemID, locked
		return a, nil
	case hasWeapon:
		w, err := decodeWeapon(weapon)
		if err != nil {
			return nil, fmt.Errorf("weapon: %w", err)
		}
		w.GUID, w.ItemID, w.Locked = guid, itemID, locked
		return w, nil
	}
	return nil, nil
}

func decodeWeapon(b []byte) (*inventory.Weapon, error) {
	w := &inventory.Weapon{}
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			w.Level, err = f.uint32()
		case 2:
			w.Ascension, err = f.uint32()
		case 3:
			var k, v uint64
			k, v, err = mapEntry(f)
			w.Affixes = append(w.Affixes, inventory.Affix{ID: uint32(k), Level: uint32(v)})
		}
		return err
	})
	return w, err
}

func decodeReliquary(b []byte) (*inventory.Artifact, error) {
	a := &inventory.Artifact{}
	var activated, unactivated []uint32
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			a.Level, err = f.uint32()
		case 2:
			a.MainPropID, err = f.uint32()
		case 3:
			activated, err = repeated32(activated, f)
		case 4:
			unactivated, err = repeated32(unactivated, f)
		case 5:
			a.Starred, err = f.bool()
		case 6:
			a.ElixirChoices, err = repeated32(a.ElixirChoices, f)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, id := range activated {
		a.Rolls = append(a.Rolls, inventory.Roll{AffixID: id, Activated: true})
	}
	for _, id := range unactivated {
		a.Rolls = append(a.Rolls, inventory.Roll{AffixID: id})
	}
	a.InitialRolls = len(a.Rolls)
	return a, nil
}

func decodeAvatarList(payload []byte) ([]inventory.Record, error) {
	var out []inventory.Record
	err := walk(payload, func(f field) error {
		if f.num != 1 {
			return nil
		}
		b, err := f.message()
		if err != nil {
			return err
		}
		c, err := decodeAvatar(b)
		if err != nil {
			return fmt.Errorf("avatar %d: %w", len(out), err)
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

func decodeAvatarInfo(payload []byte) ([]inventory.Record, error) {
	var out []inventory.Record
	err := walk(payload, func(f field) error {
		if f.num != 1 {
			return nil
		}
		b, err := f.message()
		if err != nil {
			return err
		}
		c, err := decodeAvatar(b)
		if err != nil {
			return err
		}
		out = []inventory.Record{c}
		return nil
	})
	if err == nil && len(out) == 0 {
		err = fmt.Errorf("avatar: %w", errFieldMissing)
	}
	return out, err
}

func decodeAvatar(b []byte) (*inventory.Character, error) {
	c := &inventory.Character{}
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			c.GUID, err = f.uint64()
		case 2:
			c.AvatarID, err = f.uint32()
		case 3:
			c.AvatarType, err = f.uint32()
		case 4:
			var k, v uint64
			if k, v, err = mapEntry(f); err != nil {
				return err
			}
			switch k {
			case propLevel:
				c.Level = uint32(v)
			case propAscension:
				c.Ascension = uint32(v)
			}
		case 5:
			c.Talents, err = repeated32(c.Talents, f)
		case 6:
			var k, v uint64
			if k, v, err = mapEntry(f); err != nil {
				return err
			}
			if c.SkillLevels == nil {
				c.SkillLevels = make(map[uint32]uint32)
			}
			c.SkillLevels[uint32(k)] = uint32(v)
		case 7:
			c.EquipGUIDs, err = repeated(c.EquipGUIDs, f)
		}
		return err
	})
	return c, err
}

func decodeRolls(dst []inventory.Roll, f field) ([]inventory.Roll, error) {
	b, err := f.message()
	if err != nil {
		return dst, err
	}
	var r inventory.Roll
	err = walk(b, func(e field) error {
		var err error
		switch e.num {
		case 1:
			r.AffixID, err = e.uint32()
		case 2:
			r.Activated, err = e.bool()
		}
		return err
	})
	return append(dst, r), err
}

func decodeReroll(payload []byte) ([]inventory.Record, error) {
	d := &inventory.ArtifactDelta{}
	var hasGUID bool
	err := walk(payload, func(f field) error {
		var err error
		switch f.num {
		case 1:
			d.GUID, err = f.uint64()
			hasGUID = true
		case 2:
			d.Rolls, err = decodeRolls(d.Rolls, f)
		}
		return err
	})
	if err == nil && !hasGUID {
		err = fmt.Errorf("guid: %w", errFieldMissing)
	}
	if err != nil {
		return nil, err
	}
	return []inventory.Record{d}, nil
}

func decodeUpgrade(payload []byte) ([]inventory.Record, error) {
	d := &inventory.ArtifactDelta{}
	var hasGUID bool
	err := walk(payload, func(f field) error {
		var err error
		switch f.num {
		case 1:
			d.GUID, err = f.uint64()
			hasGUID = true
		case 2:
			d.Level, err = f.uint32()
		case 3:
			d.Rolls, err = decodeRolls(d.Rolls, f)
		}
		return err
	})
	if err == nil && !hasGUID {
		err = fmt.Errorf("guid: %w", errFieldMissing)
	}
	if err != nil {
		return nil, err
	}
	return []inventory.Record{d}, nil
}
