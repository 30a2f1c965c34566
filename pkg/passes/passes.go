// Package passes implements the Pass Manager of spec.md §4.3: an
// ordered sequence of IR-to-IR transformations run to a fixed point per
// handler. UnusedBlock is mandatory; MergeBlock, EmptyBlockElimination
// and InstructionElimination are opt-in at optimisation level >= 1.
// Grounded in style on flowa's compiler_constant_folding.go peephole
// pattern (senapati484-flowa/pkg/compiler/compiler_constant_folding.go),
// adapted here to operate on the basic-block IR instead of a linear
// bytecode buffer.
package passes

import (
	"x0d/pkg/constpool"
	"x0d/pkg/ir"
	"x0d/pkg/types"
)

// Pass transforms a handler in place and reports whether it changed
// anything, so the manager can iterate to a fixed point.
type Pass interface {
	Name() string
	Run(h *ir.Handler) bool
}

// Manager runs UnusedBlock unconditionally and, when Level >= 1, also
// runs ConstantFolding, MergeBlock, EmptyBlockElimination and
// InstructionElimination to a per-handler fixed point (spec.md §4.3).
// Pool is the unit's constant pool: ConstantFolding interns its folded
// literals into it the same way irgen interns literals it sees directly.
type Manager struct {
	Level int
	Pool  *constpool.Pool
}

func NewManager(level int, pool *constpool.Pool) *Manager {
	return &Manager{Level: level, Pool: pool}
}

func (m *Manager) Run(prog *ir.Program) {
	for _, h := range prog.Handlers {
		m.runHandler(h)
	}
}

func (m *Manager) runHandler(h *ir.Handler) {
	unusedBlock{}.Run(h)

	if m.Level < 1 {
		return
	}

	opt := []Pass{constantFolding{pool: m.Pool}, mergeBlock{}, emptyBlockElimination{}, instructionElimination{}}
	for {
		changed := false
		for _, p := range opt {
			if p.Run(h) {
				changed = true
			}
		}
		if (unusedBlock{}).Run(h) {
			changed = true
		}
		if !changed {
			return
		}
	}
}

// unusedBlock removes blocks unreachable from the handler's entry block.
type unusedBlock struct{}

func (unusedBlock) Name() string { return "UnusedBlock" }

func (unusedBlock) Run(h *ir.Handler) bool {
	reachable := map[ir.BlockID]bool{h.Entry: true}
	work := []ir.BlockID{h.Entry}

	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		bb := h.Block(id)
		for _, succ := range successors(h, bb) {
			if !reachable[succ] {
				reachable[succ] = true
				work = append(work, succ)
			}
		}
	}

	changed := false
	kept := make([]*ir.BasicBlock, 0, len(h.Blocks))
	for _, bb := range h.Blocks {
		if reachable[bb.ID] {
			kept = append(kept, bb)
		} else {
			changed = true
		}
	}
	h.Blocks = kept
	return changed
}

// mergeBlock concatenates a block into its unique predecessor when that
// predecessor's only successor is this block and this block is the
// predecessor's only successor (spec.md §4.3 rule 2).
type mergeBlock struct{}

func (mergeBlock) Name() string { return "MergeBlock" }

func (mergeBlock) Run(h *ir.Handler) bool {
	changed := false
	for _, bb := range h.Blocks {
		if len(bb.Preds) != 1 {
			continue
		}
		pred := h.Block(bb.Preds[0])
		if pred.ID == bb.ID {
			continue
		}
		if len(pred.Instructions) == 0 {
			continue
		}
		lastID := pred.Instructions[len(pred.Instructions)-1]
		last := h.Instr(lastID)
		if last.Op != ir.OpBr || last.TrueTarget != bb.ID {
			continue
		}
		if len(successors(h, pred)) != 1 {
			continue
		}

		pred.Instructions = pred.Instructions[:len(pred.Instructions)-1]
		pred.Instructions = append(pred.Instructions, bb.Instructions...)
		for _, id := range bb.Instructions {
			h.Instr(id).Block = pred.ID
		}
		bb.Instructions = nil
		changed = true
	}
	return changed
}

// emptyBlockElimination drops blocks whose only instruction is an
// unconditional Br to another block B, rewriting predecessors to jump
// straight to B (spec.md §4.3 rule 3).
type emptyBlockElimination struct{}

func (emptyBlockElimination) Name() string { return "EmptyBlockElimination" }

func (emptyBlockElimination) Run(h *ir.Handler) bool {
	redirect := map[ir.BlockID]ir.BlockID{}
	for _, bb := range h.Blocks {
		if bb.ID == h.Entry || len(bb.Instructions) != 1 {
			continue
		}
		instr := h.Instr(bb.Instructions[0])
		if instr.Op == ir.OpBr {
			redirect[bb.ID] = instr.TrueTarget
		}
	}
	if len(redirect) == 0 {
		return false
	}

	resolve := func(target ir.BlockID) ir.BlockID {
		for {
			next, ok := redirect[target]
			if !ok || next == target {
				return target
			}
			target = next
		}
	}

	changed := false
	for _, bb := range h.Blocks {
		for _, id := range bb.Instructions {
			instr := h.Instr(id)
			switch instr.Op {
			case ir.OpBr:
				if resolved := resolve(instr.TrueTarget); resolved != instr.TrueTarget {
					instr.TrueTarget = resolved
					changed = true
				}
			case ir.OpCondBr:
				if resolved := resolve(instr.TrueTarget); resolved != instr.TrueTarget {
					instr.TrueTarget = resolved
					changed = true
				}
				if resolved := resolve(instr.FalseTarget); resolved != instr.FalseTarget {
					instr.FalseTarget = resolved
					changed = true
				}
			case ir.OpMatch:
				if resolved := resolve(instr.FalseTarget); resolved != instr.FalseTarget {
					instr.FalseTarget = resolved
					changed = true
				}
				for i, c := range instr.MatchCases {
					if resolved := resolve(c.Target); resolved != c.Target {
						instr.MatchCases[i].Target = resolved
						changed = true
					}
				}
			}
		}
	}
	recomputePreds(h)
	return changed
}

// constantFolding evaluates arithmetic, comparison and boolean/string/IP
// operations whose operands are all constant leaves, rewriting the
// instruction in place into the matching constant leaf (spec.md §4.3
// rule 4's "expressions with constant operands are evaluated"). It runs
// ahead of InstructionElimination's CondBr fold so a condition built
// from constant operands (e.g. "1 == 1") is itself a constant leaf by
// the time that fold looks for one. Grounded in style on flowa's
// foldConstants peephole
// (senapati484-flowa/pkg/compiler/compiler_constant_folding.go), which
// folds the same integer/boolean operator set over a plain AST instead
// of this package's basic-block IR.
type constantFolding struct {
	pool *constpool.Pool
}

func (constantFolding) Name() string { return "ConstantFolding" }

func (c constantFolding) Run(h *ir.Handler) bool {
	changed := false
	for _, bb := range h.Blocks {
		for _, id := range bb.Instructions {
			instr := h.Instr(id)
			if v, ok := foldInstruction(h, c.pool, instr); ok {
				rewriteAsConstant(c.pool, instr, v)
				changed = true
			}
		}
	}
	return changed
}

// constLeafValue extracts the literal value of a constant-leaf
// instruction from the pool, or reports ok=false for anything computed
// or not yet folded. A leaf folded by pkg/verify carries its value in
// FoldedValue, since its Aux gets a pool slot only during codegen.
func constLeafValue(h *ir.Handler, pool *constpool.Pool, id ir.ValueID) (types.Value, bool) {
	instr := h.Instr(id)
	if instr.FoldedValue != nil {
		return *instr.FoldedValue, true
	}
	switch instr.Op {
	case ir.OpConstInt:
		return types.NumberValue(pool.Ints[instr.Aux]), true
	case ir.OpConstString:
		return types.StringValue(pool.Strs[instr.Aux]), true
	case ir.OpConstBool:
		return types.BoolValue(instr.Aux != 0), true
	case ir.OpConstIPAddr:
		return types.IPAddrValue(pool.IPs[instr.Aux]), true
	case ir.OpConstCidr:
		return types.CidrValue(pool.Cidrs[instr.Aux]), true
	case ir.OpConstRegExp:
		return types.RegExpValue(pool.Regexps[instr.Aux]), true
	case ir.OpConstStringArray:
		return types.StringArrayValue(pool.StringArrays[instr.Aux]), true
	default:
		return types.Value{}, false
	}
}

func foldInstruction(h *ir.Handler, pool *constpool.Pool, instr *ir.Instruction) (types.Value, bool) {
	switch len(instr.Args) {
	case 1:
		a, ok := constLeafValue(h, pool, instr.Args[0])
		if !ok {
			return types.Value{}, false
		}
		return foldUnary(instr.Op, a)
	case 2:
		a, ok := constLeafValue(h, pool, instr.Args[0])
		if !ok {
			return types.Value{}, false
		}
		b, ok := constLeafValue(h, pool, instr.Args[1])
		if !ok {
			return types.Value{}, false
		}
		return foldBinary(instr.Op, a, b)
	default:
		return types.Value{}, false
	}
}

func foldUnary(op ir.Op, a types.Value) (types.Value, bool) {
	switch op {
	case ir.OpINeg:
		return types.NumberValue(-a.Num), true
	case ir.OpINot:
		return types.NumberValue(^a.Num), true
	case ir.OpBNot:
		return types.BoolValue(!a.Bool), true
	case ir.OpSLen:
		return types.NumberValue(int64(len(a.Str))), true
	case ir.OpSIsEmpty:
		return types.BoolValue(len(a.Str) == 0), true
	default:
		return types.Value{}, false
	}
}

func foldBinary(op ir.Op, a, b types.Value) (types.Value, bool) {
	switch op {
	case ir.OpIAdd:
		return types.NumberValue(a.Num + b.Num), true
	case ir.OpISub:
		return types.NumberValue(a.Num - b.Num), true
	case ir.OpIMul:
		return types.NumberValue(a.Num * b.Num), true
	case ir.OpIDiv:
		if b.Num == 0 {
			return types.Value{}, false
		}
		return types.NumberValue(a.Num / b.Num), true
	case ir.OpIRem:
		if b.Num == 0 {
			return types.Value{}, false
		}
		return types.NumberValue(a.Num % b.Num), true
	case ir.OpIPow:
		return types.NumberValue(ipow(a.Num, b.Num)), true
	case ir.OpIAnd:
		return types.NumberValue(a.Num & b.Num), true
	case ir.OpIOr:
		return types.NumberValue(a.Num | b.Num), true
	case ir.OpIXor:
		return types.NumberValue(a.Num ^ b.Num), true
	case ir.OpIShl:
		return types.NumberValue(a.Num << uint64(b.Num)), true
	case ir.OpIShr:
		return types.NumberValue(a.Num >> uint64(b.Num)), true
	case ir.OpICmpEQ:
		return types.BoolValue(a.Num == b.Num), true
	case ir.OpICmpNE:
		return types.BoolValue(a.Num != b.Num), true
	case ir.OpICmpLE:
		return types.BoolValue(a.Num <= b.Num), true
	case ir.OpICmpGE:
		return types.BoolValue(a.Num >= b.Num), true
	case ir.OpICmpLT:
		return types.BoolValue(a.Num < b.Num), true
	case ir.OpICmpGT:
		return types.BoolValue(a.Num > b.Num), true

	case ir.OpBAnd:
		return types.BoolValue(a.Bool && b.Bool), true
	case ir.OpBOr:
		return types.BoolValue(a.Bool || b.Bool), true
	case ir.OpBXor:
		return types.BoolValue(a.Bool != b.Bool), true

	case ir.OpSAdd:
		return types.StringValue(a.Str + b.Str), true
	case ir.OpSCmpEQ:
		return types.BoolValue(a.Str == b.Str), true
	case ir.OpSCmpNE:
		return types.BoolValue(a.Str != b.Str), true
	case ir.OpSCmpLE:
		return types.BoolValue(a.Str <= b.Str), true
	case ir.OpSCmpGE:
		return types.BoolValue(a.Str >= b.Str), true
	case ir.OpSCmpLT:
		return types.BoolValue(a.Str < b.Str), true
	case ir.OpSCmpGT:
		return types.BoolValue(a.Str > b.Str), true
	case ir.OpSCmpBeg:
		return types.BoolValue(len(a.Str) >= len(b.Str) && a.Str[:len(b.Str)] == b.Str), true
	case ir.OpSCmpEnd:
		return types.BoolValue(len(a.Str) >= len(b.Str) && a.Str[len(a.Str)-len(b.Str):] == b.Str), true
	case ir.OpSCmpRE:
		return types.BoolValue(b.RE.Regexp.MatchString(a.Str)), true
	case ir.OpSIn:
		return types.BoolValue(stringIn(a.Str, b.Strs)), true

	case ir.OpPCmpEQ:
		return types.BoolValue(a.IP.Equal(b.IP)), true
	case ir.OpPCmpNE:
		return types.BoolValue(!a.IP.Equal(b.IP)), true
	case ir.OpPInCidr:
		return types.BoolValue(b.CIDR.Contains(a.IP)), true

	default:
		return types.Value{}, false
	}
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

// rewriteAsConstant turns instr into a constant leaf carrying v,
// interning v into the matching sub-pool the same way a directly
// written literal would be at irgen time.
func rewriteAsConstant(pool *constpool.Pool, instr *ir.Instruction, v types.Value) {
	instr.Args = nil
	switch v.Type {
	case types.Boolean:
		instr.Op = ir.OpConstBool
		instr.Aux = 0
		if v.Bool {
			instr.Aux = 1
		}
	case types.Number:
		instr.Op = ir.OpConstInt
		instr.Aux = int(pool.InternInt(v.Num))
	case types.String:
		instr.Op = ir.OpConstString
		instr.Aux = int(pool.InternString(v.Str))
	case types.IPAddress:
		instr.Op = ir.OpConstIPAddr
		instr.Aux = int(pool.InternIPAddr(v.IP))
	case types.Cidr:
		instr.Op = ir.OpConstCidr
		instr.Aux = int(pool.InternCidr(v.CIDR))
	}
	instr.Type = v.Type
}

// instructionElimination performs peephole folding of redundant
// loads/stores (a Store of a constant immediately followed by a Load of
// the same slot with no intervening write, re-materialized as the
// constant itself rather than a slot load) and of branches whose
// condition is a known constant (spec.md §4.3 rule 4). The load/store
// fold only fires when the stored value is itself a constant leaf: any
// other value's defining instruction has already been consumed by the
// Store and cannot be safely recomputed without re-running its (possibly
// effectful) subexpression.
type instructionElimination struct{}

func (instructionElimination) Name() string { return "InstructionElimination" }

func (instructionElimination) Run(h *ir.Handler) bool {
	changed := false

	for _, bb := range h.Blocks {
		var lastStoreSlot ir.ValueID = -1
		var lastStoreValue ir.ValueID = -1

		for _, id := range bb.Instructions {
			instr := h.Instr(id)
			switch instr.Op {
			case ir.OpStore:
				lastStoreSlot = instr.Args[0]
				lastStoreValue = instr.Args[1]
			case ir.OpLoad:
				if instr.Args[0] == lastStoreSlot && isConstLeaf(h.Instr(lastStoreValue).Op) {
					instr.Op = ir.OpNop
					instr.Args = []ir.ValueID{lastStoreValue}
					changed = true
				}
			case ir.OpAlloca:
				lastStoreSlot, lastStoreValue = -1, -1
			}
		}

		if len(bb.Instructions) == 0 {
			continue
		}
		lastID := bb.Instructions[len(bb.Instructions)-1]
		last := h.Instr(lastID)
		if last.Op != ir.OpCondBr {
			continue
		}
		cond := h.Instr(last.Args[0])
		if cond.Op != ir.OpConstBool {
			continue
		}
		target := last.FalseTarget
		if cond.Aux != 0 {
			target = last.TrueTarget
		}
		last.Op = ir.OpBr
		last.TrueTarget = target
		last.FalseTarget = 0
		// Args keeps the folded-away condition so codegen still pops the
		// value it already pushed when it walked this block's constant
		// leaf; Br normally carries no Args, this is the one exception.
		changed = true
	}

	if changed {
		recomputePreds(h)
	}
	return changed
}

func isConstLeaf(op ir.Op) bool {
	switch op {
	case ir.OpConstInt, ir.OpConstString, ir.OpConstBool, ir.OpConstIPAddr, ir.OpConstCidr,
		ir.OpConstRegExp, ir.OpConstIntArray, ir.OpConstStringArray, ir.OpConstIPArray, ir.OpConstCidrArray:
		return true
	default:
		return false
	}
}

func successors(h *ir.Handler, bb *ir.BasicBlock) []ir.BlockID {
	if len(bb.Instructions) == 0 {
		return nil
	}
	last := h.Instr(bb.Instructions[len(bb.Instructions)-1])
	switch last.Op {
	case ir.OpBr:
		return []ir.BlockID{last.TrueTarget}
	case ir.OpCondBr:
		return []ir.BlockID{last.TrueTarget, last.FalseTarget}
	case ir.OpMatch:
		out := []ir.BlockID{last.FalseTarget}
		for _, c := range last.MatchCases {
			out = append(out, c.Target)
		}
		return out
	default:
		return nil
	}
}

func recomputePreds(h *ir.Handler) {
	for _, bb := range h.Blocks {
		bb.Preds = nil
	}
	for _, bb := range h.Blocks {
		for _, succ := range successors(h, bb) {
			target := h.Block(succ)
			target.Preds = append(target.Preds, bb.ID)
		}
	}
}
