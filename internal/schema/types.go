package schema

import "fmt"

// Kind identifies a scalar column type or the list wrapper.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt          // int32
	KindBigInt       // int64
	KindFloat        // float32
	KindBoolean
	KindText
	KindList
)

// Type is a column type. Elem is only meaningful for lists and is always a scalar kind.
type Type struct {
	Kind Kind
	Elem Kind
}

var (
	Int     = Type{Kind: KindInt}
	BigInt  = Type{Kind: KindBigInt}
	Float   = Type{Kind: KindFloat}
	Boolean = Type{Kind: KindBoolean}
	Text    = Type{Kind: KindText}
)

// ListOf returns the list type with the given scalar element type.
func ListOf(elem Type) Type {
	return Type{Kind: KindList, Elem: elem.Kind}
}

// IsList reports whether t is a list type.
func (t Type) IsList() bool { return t.Kind == KindList }

// ElemType returns the element type of a list.
func (t Type) ElemType() Type { return Type{Kind: t.Elem} }

// Valid reports whether t is a usable column type.
func (t Type) Valid() bool {
	if t.Kind == KindList {
		return t.Elem >= KindInt && t.Elem <= KindText
	}
	return t.Kind >= KindInt && t.Kind <= KindText
}

// String returns the CQL spelling of the type.
func (t Type) String() string {
	switch t.Kind {
	case KindInt:
		return "int"
	case KindBigInt:
		return "bigint"
	case KindFloat:
		return "float"
	case KindBoolean:
		return "boolean"
	case KindText:
		return "text"
	case KindList:
		return "list<" + t.ElemType().String() + ">"
	default:
		return fmt.Sprintf("invalid(%d)", t.Kind)
	}
}

// GoType names the Go type a row value of this column must have.
func (t Type) GoType() string {
	switch t.Kind {
	case KindInt:
		return "int32"
	case KindBigInt:
		return "int64"
	case KindFloat:
		return "float32"
	case KindBoolean:
		return "bool"
	case KindText:
		return "string"
	case KindList:
		return "[]" + t.ElemType().GoType()
	default:
		return "invalid"
	}
}

// Accepts reports whether v is a legal value for a column of type t.
// Untyped nil (null) is accepted for every type.
func (t Type) Accepts(v any) bool {
	if v == nil {
		return true
	}
	switch t.Kind {
	case KindInt:
		_, ok := v.(int32)
		return ok
	case KindBigInt:
		_, ok := v.(int64)
		return ok
	case KindFloat:
		_, ok := v.(float32)
		return ok
	case KindBoolean:
		_, ok := v.(bool)
		return ok
	case KindText:
		_, ok := v.(string)
		return ok
	case KindList:
		switch v.(type) {
		case []int32:
			return t.Elem == KindInt
		case []int64:
			return t.Elem == KindBigInt
		case []float32:
			return t.Elem == KindFloat
		case []bool:
			return t.Elem == KindBoolean
		case []string:
			return t.Elem == KindText
		}
	}
	return false
}

// Describe renders a value's dynamic type for error messages.
func Describe(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
