package dispatch

import (
	"maps"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"

	"firestige.xyz/satchel/internal/inventory"
)

// The encoders below produce payloads in the wire schema decoded by this
// package. They are used to synthesize captures for replay and tests.

// EncodeItemList encodes weapons, artifacts and materials as a
// PlayerStoreNotify / StoreItemChangeNotify payload. Other records are ignored.
func EncodeItemList(records ...inventory.Record) []byte {
	var b []byte
	for _, r := range records {
		item := appendItem(nil, r)
		if item == nil {
			continue
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, item)
	}
	return b
}

func appendItem(b []byte, r inventory.Record) []byte {
	var guid uint64
	var itemID uint32
	var body []byte
	var bodyField protowire.Number

	switch v := r.(type) {
	case *inventory.Material:
		guid, itemID, bodyField = v.GUID, v.ItemID, 3
		body = appendVarint(nil, 1, uint64(v.Count))
	case *inventory.Weapon:
		guid, itemID, bodyField = v.GUID, v.ItemID, 4
		var w []byte
		w = appendVarint(w, 1, uint64(v.Level))
		w = appendVarint(w, 2, uint64(v.Ascension))
		for _, a := range v.Affixes {
			w = appendMapEntry(w, 3, uint64(a.ID), uint64(a.Level))
		}
		body = appendMessage(nil, 1, w)
		body = appendBool(body, 3, v.Locked)
	case *inventory.Artifact:
		guid, itemID, bodyField = v.GUID, v.ItemID, 4
		var rel []byte
		rel = appendVarint(rel, 1, uint64(v.Level))
		rel = appendVarint(rel, 2, uint64(v.MainPropID))
		rel = appendPacked(rel, 3, v.ActivatedRolls())
		rel = appendPacked(rel, 4, v.UnactivatedRolls())
		rel = appendBool(rel, 5, v.Starred)
		rel = appendPacked(rel, 6, v.ElixirChoices)
		body = appendMessage(nil, 2, rel)
		body = appendBool(body, 3, v.Locked)
	default:
		return nil
	}

	b = appendVarint(b, 1, guid)
	b = appendVarint(b, 2, uint64(itemID))
	return appendMessage(b, bodyField, body)
}

// EncodeAvatarList encodes an AvatarDataNotify payload.
func EncodeAvatarList(chars ...*inventory.Character) []byte {
	var b []byte
	for _, c := range chars {
		b = appendMessage(b, 1, appendAvatar(nil, c))
	}
	return b
}

// EncodeAvatarInfo encodes an AvatarInfoNotify payload.
func EncodeAvatarInfo(c *inventory.Character) []byte {
	return appendMessage(nil, 1, appendAvatar(nil, c))
}

func appendAvatar(b []byte, c *inventory.Character) []byte {
	b = appendVarint(b, 1, c.GUID)
	b = appendVarint(b, 2, uint64(c.AvatarID))
	b = appendVarint(b, 3, uint64(c.AvatarType))
	b = appendMapEntry(b, 4, propLevel, uint64(c.Level))
	b = appendMapEntry(b, 4, propAscension, uint64(c.Ascension))
	b = appendPacked(b, 5, c.Talents)
	for _, k := range slices.Sorted(maps.Keys(c.SkillLevels)) {
		b = appendMapEntry(b, 6, uint64(k), uint64(c.SkillLevels[k]))
	}
	if len(c.EquipGUIDs) > 0 {
		var packed []byte
		for _, g := range c.EquipGUIDs {
			packed = protowire.AppendVarint(packed, g)
		}
		b = appendMessage(b, 7, packed)
	}
	return b
}

// EncodeReroll encodes a ReliquaryRerollNotify payload.
func EncodeReroll(d *inventory.ArtifactDelta) []byte {
	b := appendVarint(nil, 1, d.GUID)
	return appendRolls(b, 2, d.Rolls)
}

// EncodeUpgrade encodes a ReliquaryUpgradeNotify payload.
func EncodeUpgrade(d *inventory.ArtifactDelta) []byte {
	b := appendVarint(nil, 1, d.GUID)
	b = appendVarint(b, 2, uint64(d.Level))
	return appendRolls(b, 3, d.Rolls)
}

func appendRolls(b []byte, num protowire.Number, rolls []inventory.Roll) []byte {
	for _, r := range rolls {
		e := appendVarint(nil, 1, uint64(r.AffixID))
		e = appendBool(e, 2, r.Activated)
		b = appendMessage(b, num, e)
	}
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarint(b, num, 1)
}

func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

func appendMapEntry(b []byte, num protowire.Number, k, v uint64) []byte {
	e := appendVarint(nil, 1, k)
	e = appendVarint(e, 2, v)
	return appendMessage(b, num, e)
}

func appendPacked(b []byte, num protowire.Number, vals []uint32) []byte {
	if len(vals) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	return appendMessage(b, num, packed)
}
