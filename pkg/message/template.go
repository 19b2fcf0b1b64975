// Package message defines the structured message templates exchanged on a
// circuit and the codec that maps template field values to payload bytes.
// The template catalog is loaded once at startup and is read-only after
// that.
package message

import "fmt"

// FieldType enumerates the wire types a template field can declare.
type FieldType int

const (
	TypeString FieldType = iota // 1-byte length prefix + bytes
	TypeU8
	TypeU16
	TypeU32
	TypeF32
	TypeVector3 // 3 x F32
	TypeUUID    // 16 bytes
	TypeIPAddr  // 4 bytes
	TypeIPPort  // 2 bytes
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "String"
	case TypeU8:
		return "U8"
	case TypeU16:
		return "U16"
	case TypeU32:
		return "U32"
	case TypeF32:
		return "F32"
	case TypeVector3:
		return "Vector3"
	case TypeUUID:
		return "UUID"
	case TypeIPAddr:
		return "IPAddr"
	case TypeIPPort:
		return "IPPort"
	default:
		return fmt.Sprintf("FieldType(%d)", int(t))
	}
}

// Cardinality describes how many times a block repeats in a payload.
type Cardinality int

const (
	// Single blocks appear exactly once.
	Single Cardinality = iota

	// Multiple blocks appear a fixed number of times (Block.Count).
	Multiple

	// Variable blocks are preceded by a 1-byte repeat count.
	Variable
)

// Field is one typed value inside a block.
type Field struct {
	Name string
	Type FieldType
}

// Block is an ordered group of fields with a repeat rule.
type Block struct {
	Name        string
	Cardinality Cardinality
	Count       int // used when Cardinality == Multiple
	Fields      []Field
}

// Template describes the full wire schema of one named message.
type Template struct {
	Name string

	// ID is the numeric message id written in the packet header.
	ID uint32

	// Compress marks payloads that are zero-run coded on the wire.
	Compress bool

	Blocks []Block
}

// BlockValues holds the field values of a single block instance, keyed by
// field name.
type BlockValues map[string]interface{}

// Body holds the decoded or to-be-encoded content of a message: block
// name to the ordered list of that block's instances. Single-cardinality
// blocks use exactly one instance.
type Body map[string][]BlockValues

// Get returns the named field from the first instance of the named block,
// or nil if absent. It is a convenience for the common single-block case.
func (b Body) Get(block, field string) interface{} {
	instances := b[block]
	if len(instances) == 0 {
		return nil
	}
	return instances[0][field]
}
