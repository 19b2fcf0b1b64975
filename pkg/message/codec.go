package message

import (
	"net"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/openvw/lludp/pkg/wire"
)

// maxVariableBlocks caps the repeat count of a Variable block; the count
// is carried in one byte.
const maxVariableBlocks = 255

// Marshal encodes body against the template's schema. Blocks or fields
// absent from body are encoded as zero values; a value of the wrong Go
// type is a caller bug and fails with wire.ErrFieldMismatch.
func Marshal(tpl *Template, body Body) ([]byte, error) {
	w := wire.NewWriter(64)

	for _, block := range tpl.Blocks {
		instances := body[block.Name]

		switch block.Cardinality {
		case Single:
			if err := marshalInstance(w, tpl, &block, first(instances)); err != nil {
				return nil, err
			}
		case Multiple:
			for i := 0; i < block.Count; i++ {
				var values BlockValues
				if i < len(instances) {
					values = instances[i]
				}
				if err := marshalInstance(w, tpl, &block, values); err != nil {
					return nil, err
				}
			}
		case Variable:
			if len(instances) > maxVariableBlocks {
				return nil, errors.Wrapf(wire.ErrFieldMismatch,
					"%s.%s: %d instances exceed variable block limit", tpl.Name, block.Name, len(instances))
			}
			w.U8(uint8(len(instances)))
			for _, values := range instances {
				if err := marshalInstance(w, tpl, &block, values); err != nil {
					return nil, err
				}
			}
		}
	}

	return w.Bytes(), nil
}

func first(instances []BlockValues) BlockValues {
	if len(instances) == 0 {
		return nil
	}
	return instances[0]
}

func marshalInstance(w *wire.Writer, tpl *Template, block *Block, values BlockValues) error {
	for _, f := range block.Fields {
		if err := marshalField(w, f, values[f.Name]); err != nil {
			return errors.Wrapf(err, "%s.%s.%s", tpl.Name, block.Name, f.Name)
		}
	}
	return nil
}

func marshalField(w *wire.Writer, f Field, v interface{}) error {
	switch f.Type {
	case TypeString:
		s, ok := v.(string)
		if v != nil && !ok {
			return wire.ErrFieldMismatch
		}
		w.String(s)
	case TypeU8:
		n, ok := v.(uint8)
		if v != nil && !ok {
			return wire.ErrFieldMismatch
		}
		w.U8(n)
	case TypeU16:
		n, ok := v.(uint16)
		if v != nil && !ok {
			return wire.ErrFieldMismatch
		}
		w.U16(n)
	case TypeU32:
		n, ok := v.(uint32)
		if v != nil && !ok {
			return wire.ErrFieldMismatch
		}
		w.U32(n)
	case TypeF32:
		n, ok := v.(float32)
		if v != nil && !ok {
			return wire.ErrFieldMismatch
		}
		w.F32(n)
	case TypeVector3:
		vec, ok := v.(wire.Vector3)
		if v != nil && !ok {
			return wire.ErrFieldMismatch
		}
		w.Vector3(vec)
	case TypeUUID:
		id, ok := v.(uuid.UUID)
		if v != nil && !ok {
			return wire.ErrFieldMismatch
		}
		w.UUID(id)
	case TypeIPAddr:
		ip, ok := v.(net.IP)
		if v != nil && !ok {
			return wire.ErrFieldMismatch
		}
		w.IPAddr(ip)
	case TypeIPPort:
		n, ok := v.(uint16)
		if v != nil && !ok {
			return wire.ErrFieldMismatch
		}
		w.IPPort(n)
	}
	return nil
}

// Unmarshal decodes payload against the template's schema. A payload that
// ends before the schema does is not an error: decoding stops and the
// fields read so far are returned, with the rest absent.
func Unmarshal(tpl *Template, payload []byte) Body {
	r := wire.NewReader(payload)
	body := make(Body, len(tpl.Blocks))

	for _, block := range tpl.Blocks {
		count := 1
		switch block.Cardinality {
		case Multiple:
			count = block.Count
		case Variable:
			n, err := r.U8()
			if err != nil {
				return body
			}
			count = int(n)
		}

		for i := 0; i < count; i++ {
			values, ok := unmarshalInstance(r, &block)
			if len(values) > 0 {
				body[block.Name] = append(body[block.Name], values)
			}
			if !ok {
				return body
			}
		}
	}

	return body
}

func unmarshalInstance(r *wire.Reader, block *Block) (BlockValues, bool) {
	values := make(BlockValues, len(block.Fields))
	for _, f := range block.Fields {
		v, err := unmarshalField(r, f)
		if err != nil {
			return values, false
		}
		values[f.Name] = v
	}
	return values, true
}

func unmarshalField(r *wire.Reader, f Field) (interface{}, error) {
	switch f.Type {
	case TypeString:
		return r.String()
	case TypeU8:
		return r.U8()
	case TypeU16:
		return r.U16()
	case TypeU32:
		return r.U32()
	case TypeF32:
		return r.F32()
	case TypeVector3:
		return r.Vector3()
	case TypeUUID:
		return r.UUID()
	case TypeIPAddr:
		return r.IPAddr()
	case TypeIPPort:
		return r.IPPort()
	default:
		return nil, wire.ErrFieldMismatch
	}
}
