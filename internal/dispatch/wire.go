package dispatch

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	errWireType     = errors.New("unexpected wire type")
	errFieldMissing = errors.New("required field missing")
)

type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

// walk calls fn for every top-level field of a protobuf message. Fixed-width
// and group fields are skipped.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.VarintType && typ != protowire.BytesType {
			continue
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) uint64() (uint64, error) {
	if f.typ != protowire.VarintType {
		return 0, fmt.Errorf("field %d: %w %d", f.num, errWireType, f.typ)
	}
	return f.varint, nil
}

func (f field) uint32() (uint32, error) {
	v, err := f.uint64()
	return uint32(v), err
}

func (f field) bool() (bool, error) {
	v, err := f.uint64()
	return v != 0, err
}

func (f field) message() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, fmt.Errorf("field %d: %w %d", f.num, errWireType, f.typ)
	}
	return f.bytes, nil
}

// repeated appends the values of a repeated varint field, accepting both
// packed and unpacked encodings.
func repeated(dst []uint64, f field) ([]uint64, error) {
	switch f.typ {
	case protowire.VarintType:
		return append(dst, f.varint), nil
	case protowire.BytesType:
		b := f.bytes
		for len(b) > 0 {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return dst, fmt.Errorf("packed field %d: %w", f.num, protowire.ParseError(n))
			}
			dst = append(dst, v)
			b = b[n:]
		}
		return dst, nil
	default:
		return dst, fmt.Errorf("field %d: %w %d", f.num, errWireType, f.typ)
	}
}

func repeated32(dst []uint32, f field) ([]uint32, error) {
	vals, err := repeated(nil, f)
	for _, v := range vals {
		dst = append(dst, uint32(v))
	}
	return dst, err
}

// mapEntry decodes a map<varint, varint> entry.
func mapEntry(f field) (key, value uint64, err error) {
	b, err := f.message()
	if err != nil {
		return 0, 0, err
	}
	err = walk(b, func(e field) error {
		var err error
		switch e.num {
		case 1:
			key, err = e.uint64()
		case 2:
			value, err = e.uint64()
		}
		return err
	})
	return key, value, err
}
