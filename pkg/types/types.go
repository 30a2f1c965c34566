// Package types defines the closed set of Flow value types and the
// runtime Value carrier, grounded on flowa's pkg/eval Object/ObjectKind
// model (senapati484-flowa/pkg/eval/object_kind.go) but restricted to the
// fixed type lattice a Flow program may use (no maps, no user aggregates).
package types

// Type identifies one of the fixed Flow value types.
type Type uint8

const (
	Void Type = iota
	Boolean
	Number
	String
	IPAddress
	Cidr
	RegExp
	Handler
	IntArray
	StringArray
	IPAddrArray
	CidrArray
)

func (t Type) String() string {
	switch t {
	case Void:
		return "void"
	case Boolean:
		return "bool"
	case Number:
		return "int"
	case String:
		return "string"
	case IPAddress:
		return "ipaddr"
	case Cidr:
		return "cidr"
	case RegExp:
		return "regex"
	case Handler:
		return "handler"
	case IntArray:
		return "int[]"
	case StringArray:
		return "string[]"
	case IPAddrArray:
		return "ipaddr[]"
	case CidrArray:
		return "cidr[]"
	default:
		return "invalid"
	}
}

// IsArray reports whether t is one of the array types.
func (t Type) IsArray() bool {
	switch t {
	case IntArray, StringArray, IPAddrArray, CidrArray:
		return true
	default:
		return false
	}
}

// ElementType returns the scalar element type of an array type, or Void if
// t is not an array type.
func (t Type) ElementType() Type {
	switch t {
	case IntArray:
		return Number
	case StringArray:
		return String
	case IPAddrArray:
		return IPAddress
	case CidrArray:
		return Cidr
	default:
		return Void
	}
}

// CastableTo reports whether a value of type t can be explicitly cast to
// target, per the fixed cast matrix in spec.md §4.6: Number->String,
// IPAddress->String, Cidr->String, RegExp->String, String->Number. A
// same-type cast is always a no-op and is reported as castable.
func (t Type) CastableTo(target Type) bool {
	if t == target {
		return true
	}
	switch {
	case t == Number && target == String:
		return true
	case t == IPAddress && target == String:
		return true
	case t == Cidr && target == String:
		return true
	case t == RegExp && target == String:
		return true
	case t == String && target == Number:
		return true
	default:
		return false
	}
}
