package vm

import (
	"fmt"

	"x0d/pkg/opcode"
	"x0d/pkg/types"
)

// execOpArith executes every integer/boolean/string/IP opcode codegen's
// arithOpcodes table can emit, plus SSUBSTR's fixed 3-operand shape.
// It is reached through run's default case, mirroring flowa's Run()
// split between the big switch's inlined fast paths (ILOAD.. EXIT above)
// and its own executeBinaryOperation/executeComparison helpers for
// everything else.
func (vm *VM) execOpArith(op opcode.Opcode, stack []types.Value, sp int) (int, error) {
	switch op {
	case opcode.INEG:
		stack[sp-1] = types.NumberValue(-stack[sp-1].Num)
		return sp, nil
	case opcode.INOT:
		stack[sp-1] = types.NumberValue(^stack[sp-1].Num)
		return sp, nil
	case opcode.BNOT:
		stack[sp-1] = types.BoolValue(!stack[sp-1].Bool)
		return sp, nil
	case opcode.SLEN:
		stack[sp-1] = types.NumberValue(int64(len(stack[sp-1].Str)))
		return sp, nil
	case opcode.SISEMPTY:
		stack[sp-1] = types.BoolValue(len(stack[sp-1].Str) == 0)
		return sp, nil

	case opcode.SSUBSTR:
		length := stack[sp-1].Num
		start := stack[sp-2].Num
		s := stack[sp-3].Str
		sp -= 2
		stack[sp-1] = types.StringValue(substr(s, start, length))
		return sp, nil
	}

	lhs, rhs := stack[sp-2], stack[sp-1]
	sp--

	switch op {
	case opcode.IADD:
		stack[sp-1] = types.NumberValue(lhs.Num + rhs.Num)
	case opcode.ISUB:
		stack[sp-1] = types.NumberValue(lhs.Num - rhs.Num)
	case opcode.IMUL:
		stack[sp-1] = types.NumberValue(lhs.Num * rhs.Num)
	case opcode.IDIV:
		if rhs.Num == 0 {
			return sp, fmt.Errorf("vm: division by zero")
		}
		stack[sp-1] = types.NumberValue(lhs.Num / rhs.Num)
	case opcode.IREM:
		if rhs.Num == 0 {
			return sp, fmt.Errorf("vm: division by zero")
		}
		stack[sp-1] = types.NumberValue(lhs.Num % rhs.Num)
	case opcode.IPOW:
		stack[sp-1] = types.NumberValue(ipow(lhs.Num, rhs.Num))
	case opcode.IAND:
		stack[sp-1] = types.NumberValue(lhs.Num & rhs.Num)
	case opcode.IOR:
		stack[sp-1] = types.NumberValue(lhs.Num | rhs.Num)
	case opcode.IXOR:
		stack[sp-1] = types.NumberValue(lhs.Num ^ rhs.Num)
	case opcode.ISHL:
		stack[sp-1] = types.NumberValue(lhs.Num << uint64(rhs.Num))
	case opcode.ISHR:
		stack[sp-1] = types.NumberValue(lhs.Num >> uint64(rhs.Num))
	case opcode.ICMPEQ:
		stack[sp-1] = types.BoolValue(lhs.Num == rhs.Num)
	case opcode.ICMPNE:
		stack[sp-1] = types.BoolValue(lhs.Num != rhs.Num)
	case opcode.ICMPLE:
		stack[sp-1] = types.BoolValue(lhs.Num <= rhs.Num)
	case opcode.ICMPGE:
		stack[sp-1] = types.BoolValue(lhs.Num >= rhs.Num)
	case opcode.ICMPLT:
		stack[sp-1] = types.BoolValue(lhs.Num < rhs.Num)
	case opcode.ICMPGT:
		stack[sp-1] = types.BoolValue(lhs.Num > rhs.Num)

	case opcode.BAND:
		stack[sp-1] = types.BoolValue(lhs.Bool && rhs.Bool)
	case opcode.BOR:
		stack[sp-1] = types.BoolValue(lhs.Bool || rhs.Bool)
	case opcode.BXOR:
		stack[sp-1] = types.BoolValue(lhs.Bool != rhs.Bool)

	case opcode.SADD:
		stack[sp-1] = types.StringValue(lhs.Str + rhs.Str)
	case opcode.SCMPEQ:
		stack[sp-1] = types.BoolValue(lhs.Str == rhs.Str)
	case opcode.SCMPNE:
		stack[sp-1] = types.BoolValue(lhs.Str != rhs.Str)
	case opcode.SCMPLE:
		stack[sp-1] = types.BoolValue(lhs.Str <= rhs.Str)
	case opcode.SCMPGE:
		stack[sp-1] = types.BoolValue(lhs.Str >= rhs.Str)
	case opcode.SCMPLT:
		stack[sp-1] = types.BoolValue(lhs.Str < rhs.Str)
	case opcode.SCMPGT:
		stack[sp-1] = types.BoolValue(lhs.Str > rhs.Str)
	case opcode.SCMPBEG:
		stack[sp-1] = types.BoolValue(len(lhs.Str) >= len(rhs.Str) && lhs.Str[:len(rhs.Str)] == rhs.Str)
	case opcode.SCMPEND:
		stack[sp-1] = types.BoolValue(len(lhs.Str) >= len(rhs.Str) && lhs.Str[len(lhs.Str)-len(rhs.Str):] == rhs.Str)
	case opcode.SCMPRE:
		stack[sp-1] = types.BoolValue(rhs.RE.Regexp.MatchString(lhs.Str))
	case opcode.SIN:
		stack[sp-1] = types.BoolValue(stringIn(lhs.Str, rhs.Strs))

	case opcode.PCMPEQ:
		stack[sp-1] = types.BoolValue(lhs.IP.Equal(rhs.IP))
	case opcode.PCMPNE:
		stack[sp-1] = types.BoolValue(!lhs.IP.Equal(rhs.IP))
	case opcode.PINCIDR:
		stack[sp-1] = types.BoolValue(rhs.CIDR.Contains(lhs.IP))

	default:
		return sp, fmt.Errorf("vm: unhandled opcode %s", op)
	}

	return sp, nil
}

func substr(s string, start, length int64) string {
	if start < 0 {
		start = 0
	}
	if start > int64(len(s)) {
		start = int64(len(s))
	}
	end := start + length
	if end > int64(len(s)) {
		end = int64(len(s))
	}
	if end < start {
		end = start
	}
	return s[start:end]
}

func ipow(base, exp int64) int64 {
	if exp < 0 {
		return 0
	}
	result := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}

func stringIn(needle string, haystack []string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
