package types

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// IPAddr wraps a v4/v6 address as a fixed-width value, per spec.md §3.
type IPAddr struct {
	net.IP
}

func ParseIPAddr(s string) (IPAddr, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return IPAddr{}, fmt.Errorf("invalid IP address literal: %q", s)
	}
	return IPAddr{ip}, nil
}

func (a IPAddr) String() string { return a.IP.String() }
func (a IPAddr) Equal(b IPAddr) bool {
	return a.IP.Equal(b.IP)
}

// CidrNet wraps a CIDR network value.
type CidrNet struct {
	*net.IPNet
}

func ParseCidr(s string) (CidrNet, error) {
	_, ipnet, err := net.ParseCIDR(s)
	if err != nil {
		return CidrNet{}, fmt.Errorf("invalid CIDR literal: %q: %w", s, err)
	}
	return CidrNet{ipnet}, nil
}

func (c CidrNet) String() string { return c.IPNet.String() }
func (c CidrNet) Contains(a IPAddr) bool {
	return c.IPNet.Contains(a.IP)
}

// Regex wraps a compiled regular expression, dialect delegated to Go's
// regexp package (RE2), per spec.md §9 Open Questions — chosen and
// documented here rather than left unfixed.
type Regex struct {
	Source  string
	Regexp  *regexp.Regexp
}

func CompileRegex(src string) (Regex, error) {
	re, err := regexp.Compile(src)
	if err != nil {
		return Regex{}, fmt.Errorf("invalid regular expression literal %q: %w", src, err)
	}
	return Regex{Source: src, Regexp: re}, nil
}

func (r Regex) String() string { return "/" + r.Source + "/" }

// Value is the runtime carrier for any Flow value, per spec.md §3. Every
// kind is stored inline in its own field (Num, Bool, Str, IP, CIDR, RE and
// the array slices); a Value holds no constant-pool index.
type Value struct {
	Type Type

	Num  int64
	Bool bool
	Str  string
	IP   IPAddr
	CIDR CidrNet
	RE   Regex

	Ints    []int64
	Strs    []string
	IPs     []IPAddr
	Cidrs   []CidrNet
}

func VoidValue() Value                { return Value{Type: Void} }
func BoolValue(b bool) Value           { return Value{Type: Boolean, Bool: b} }
func NumberValue(n int64) Value        { return Value{Type: Number, Num: n} }
func StringValue(s string) Value       { return Value{Type: String, Str: s} }
func IPAddrValue(a IPAddr) Value       { return Value{Type: IPAddress, IP: a} }
func CidrValue(c CidrNet) Value        { return Value{Type: Cidr, CIDR: c} }
func RegExpValue(r Regex) Value        { return Value{Type: RegExp, RE: r} }
func IntArrayValue(v []int64) Value    { return Value{Type: IntArray, Ints: v} }
func StringArrayValue(v []string) Value { return Value{Type: StringArray, Strs: v} }
func IPArrayValue(v []IPAddr) Value    { return Value{Type: IPAddrArray, IPs: v} }
func CidrArrayValue(v []CidrNet) Value { return Value{Type: CidrArray, Cidrs: v} }

// Truthy follows Flow's boolean coercion: only used for Boolean values,
// since Flow has no implicit truthiness conversions beyond conditionals.
func (v Value) Truthy() bool {
	return v.Type == Boolean && v.Bool
}

// AsString renders v as its canonical textual form, used by the N2S/P2S/
// C2S/R2S casts (spec.md §4.6).
func (v Value) AsString() (string, error) {
	switch v.Type {
	case String:
		return v.Str, nil
	case Number:
		return strconv.FormatInt(v.Num, 10), nil
	case IPAddress:
		return v.IP.String(), nil
	case Cidr:
		return v.CIDR.String(), nil
	case RegExp:
		return v.RE.String(), nil
	case Boolean:
		return strconv.FormatBool(v.Bool), nil
	default:
		return "", fmt.Errorf("cannot render value of type %s as string", v.Type)
	}
}

// AsNumber implements the S2N cast.
func (v Value) AsNumber() (int64, error) {
	switch v.Type {
	case Number:
		return v.Num, nil
	case String:
		n, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot cast string %q to number: %w", v.Str, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("cannot cast value of type %s to number", v.Type)
	}
}

func (v Value) String() string {
	switch v.Type {
	case Void:
		return "void"
	case Boolean:
		return strconv.FormatBool(v.Bool)
	case Number:
		return strconv.FormatInt(v.Num, 10)
	case String:
		return v.Str
	case IPAddress:
		return v.IP.String()
	case Cidr:
		return v.CIDR.String()
	case RegExp:
		return v.RE.String()
	case IntArray:
		return fmt.Sprintf("%v", v.Ints)
	case StringArray:
		return fmt.Sprintf("%v", v.Strs)
	case IPAddrArray:
		return fmt.Sprintf("%v", v.IPs)
	case CidrArray:
		return fmt.Sprintf("%v", v.Cidrs)
	default:
		return "<handler>"
	}
}
