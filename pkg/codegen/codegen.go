// Package codegen implements the Target Code Generator of spec.md §4.5:
// it lowers a verified ir.Program into a linear stream of 64-bit packed
// instructions per handler, tracking a compile-time shadow stack so it
// emits a LOAD only when a value is not already on top, and back-
// patching jump and match targets once every block has a final program
// counter. Grounded on
// _examples/original_source/src/xzero-flow/TargetCodeGenerator.h: the
// emitLoad/emitCondJump/emitJump/getStackPointer shape is reproduced
// here with the stack pointer derived from the shadow stack slice's
// length rather than a separately tracked counter field, resolving the
// "two parallel codegen variants" ambiguity spec.md §9 calls out in
// favour of the stack_.size()-derived version.
package codegen

import (
	"x0d/pkg/constpool"
	"x0d/pkg/diag"
	"x0d/pkg/ir"
	"x0d/pkg/native"
	"x0d/pkg/opcode"
	"x0d/pkg/types"
)

// Handler is one compiled handler's linear bytecode.
type Handler struct {
	Name     string
	Code     []opcode.Instruction
	NumSlots int
}

// Program is the immutable pair of constant pool and per-handler
// bytecode spec.md §6 describes, produced once per configuration load
// and never persisted.
type Program struct {
	Handlers []*Handler
	Pool     *constpool.Pool
}

func (p *Program) HandlerByName(name string) *Handler {
	for _, h := range p.Handlers {
		if h.Name == name {
			return h
		}
	}
	return nil
}

// Generate lowers prog to bytecode. runtime resolves each Call/
// HandlerCall's native id; callers must have already run pkg/verify.Link
// against the same runtime so every call site is known to resolve.
func Generate(prog *ir.Program, pool *constpool.Pool, runtime *native.Runtime) (*Program, *diag.Report) {
	out := &Program{Pool: pool}
	report := &diag.Report{}

	for _, h := range prog.Handlers {
		cg := &handlerGen{ir: h, pool: pool, runtime: runtime, report: report}
		out.Handlers = append(out.Handlers, cg.generate())
	}

	return out, report
}

// jumpFixup records a placeholder instruction index whose A field must
// be patched to the resolved target block's program counter once every
// block in the handler has been emitted.
type jumpFixup struct {
	pc     int
	target ir.BlockID
}

// matchFixup records a MatchDef (already appended to the pool) whose
// case targets and else target are still BlockIDs, not PCs.
type matchFixup struct {
	defID  constpool.ID
	cases  []ir.MatchCase
	elseBB ir.BlockID
}

type handlerGen struct {
	ir      *ir.Handler
	pool    *constpool.Pool
	runtime *native.Runtime
	report  *diag.Report

	code                []opcode.Instruction
	stack               []ir.ValueID // shadow stack, SP = len(stack)
	slots               map[ir.ValueID]int
	blockPC             map[ir.BlockID]int
	jumps               []jumpFixup
	matches             []matchFixup
	skipCompileTimeOnly map[ir.ValueID]bool
	used                map[ir.ValueID]bool
}

func (cg *handlerGen) generate() *Handler {
	cg.slots = map[ir.ValueID]int{}
	cg.blockPC = map[ir.BlockID]int{}
	cg.skipCompileTimeOnly = map[ir.ValueID]bool{}
	cg.used = map[ir.ValueID]bool{}

	cg.assignSlots()
	cg.internFoldedConstants()
	cg.collectCompileTimeOnly()
	cg.collectUsed()

	for i, bb := range cg.ir.Blocks {
		cg.blockPC[bb.ID] = len(cg.code)
		var next *ir.BasicBlock
		if i+1 < len(cg.ir.Blocks) {
			next = cg.ir.Blocks[i+1]
		}
		cg.genBlock(bb, next)
	}

	cg.backpatch()

	return &Handler{Name: cg.ir.Name, Code: cg.code, NumSlots: len(cg.slots)}
}

// assignSlots gives every Alloca instruction a stable variable slot
// number in first-encountered order.
func (cg *handlerGen) assignSlots() {
	next := 0
	for _, bb := range cg.ir.Blocks {
		for _, id := range bb.Instructions {
			instr := cg.ir.Instr(id)
			if instr.Op == ir.OpAlloca {
				cg.slots[id] = next
				next++
			}
		}
	}
}

// internFoldedConstants interns every verifier-folded constant leaf's
// FoldedValue into the matching sub-pool and points Aux at the resulting
// ID. pkg/verify.Link rewrites a call's Op/Type in place when its
// verifier folds the call to a constant (spec.md §4.4) but has no access
// to the constant pool, so it leaves the literal sitting in FoldedValue;
// this is where that value actually gets a pool slot, same as any other
// constant leaf irgen emitted directly.
func (cg *handlerGen) internFoldedConstants() {
	for _, instr := range cg.ir.Instructions {
		if instr.FoldedValue == nil {
			continue
		}
		v := *instr.FoldedValue
		switch instr.Op {
		case ir.OpConstInt:
			instr.Aux = int(cg.pool.InternInt(v.Num))
		case ir.OpConstString:
			instr.Aux = int(cg.pool.InternString(v.Str))
		case ir.OpConstIPAddr:
			instr.Aux = int(cg.pool.InternIPAddr(v.IP))
		case ir.OpConstCidr:
			instr.Aux = int(cg.pool.InternCidr(v.CIDR))
		case ir.OpConstRegExp:
			instr.Aux = int(cg.pool.InternRegexp(v.RE))
		}
		// OpConstBool already carries its value directly in Aux (see
		// verify.foldToConstant); no pool entry needed.
	}
}

// collectCompileTimeOnly marks values that are consulted only for their
// constant-pool id at compile time (a Match's case values, a Ret's
// boolean operand) and must not be emitted into the runtime instruction
// stream or pushed onto the shadow stack.
func (cg *handlerGen) collectCompileTimeOnly() {
	for _, bb := range cg.ir.Blocks {
		for _, id := range bb.Instructions {
			instr := cg.ir.Instr(id)
			switch instr.Op {
			case ir.OpMatch:
				for _, c := range instr.MatchCases {
					cg.skipCompileTimeOnly[c.Value] = true
				}
			case ir.OpRet:
				if len(instr.Args) == 1 {
					cg.skipCompileTimeOnly[instr.Args[0]] = true
				}
			}
		}
	}
}

// collectUsed records every ValueID referenced as an operand anywhere in
// the handler, so genBlock can tell a value computed for its own effect
// (a bare expression statement whose result nobody stores) from one that
// feeds another instruction.
func (cg *handlerGen) collectUsed() {
	for _, bb := range cg.ir.Blocks {
		for _, id := range bb.Instructions {
			for _, arg := range cg.ir.Instr(id).Args {
				cg.used[arg] = true
			}
		}
	}
}

func (cg *handlerGen) emit(op opcode.Opcode, a, b, c uint16) int {
	pc := len(cg.code)
	cg.code = append(cg.code, opcode.Make(op, a, b, c))
	return pc
}

func (cg *handlerGen) push(id ir.ValueID) { cg.stack = append(cg.stack, id) }

func (cg *handlerGen) pop() {
	if len(cg.stack) == 0 {
		cg.report.Add(diag.TypeError, diag.Range{}, "stack underflow in handler %s", cg.ir.Name)
		return
	}
	cg.stack = cg.stack[:len(cg.stack)-1]
}

func (cg *handlerGen) sp() int { return len(cg.stack) }

func (cg *handlerGen) genBlock(bb *ir.BasicBlock, next *ir.BasicBlock) {
	for _, id := range bb.Instructions {
		if cg.skipCompileTimeOnly[id] {
			continue
		}
		cg.genInstr(cg.ir.Instr(id), next)

		// A value-producing instruction whose result is never an operand
		// anywhere (a bare expression statement's call result, say) is
		// live on the shadow stack but dead at runtime; drop it so the
		// next statement starts from a clean stack depth. Checking the
		// top of the shadow stack directly (rather than comparing the
		// depth before/after) is what makes this correct for binary ops
		// and multi-arg calls too: those pop operands before pushing
		// their own result, so their net depth change is never +1 even
		// though they did leave exactly one live, unused value on top.
		if cg.sp() > 0 && cg.stack[cg.sp()-1] == id && !cg.used[id] {
			cg.emit(opcode.DISCARD, 1, 0, 0)
			cg.pop()
		}
	}
}

func (cg *handlerGen) genInstr(instr *ir.Instruction, next *ir.BasicBlock) {
	switch instr.Op {
	case ir.OpConstInt, ir.OpConstString, ir.OpConstBool, ir.OpConstIPAddr, ir.OpConstCidr,
		ir.OpConstRegExp, ir.OpConstIntArray, ir.OpConstStringArray, ir.OpConstIPArray, ir.OpConstCidrArray:
		cg.emitConstLeaf(instr.ID, instr)

	case ir.OpAlloca:
		cg.emit(opcode.ALLOCA, uint16(cg.slots[instr.ID]), 0, 0)

	case ir.OpLoad:
		cg.emit(opcode.LOAD, uint16(cg.slots[instr.Args[0]]), 0, 0)
		cg.push(instr.ID)

	case ir.OpStore:
		cg.pop() // value, already on top per irgen's evaluation order
		cg.emit(opcode.STORE, uint16(cg.slots[instr.Args[0]]), 0, 0)

	case ir.OpNop:
		// InstructionElimination folded a Load of a just-stored constant
		// into a direct re-materialization of that constant, skipping the
		// slot round-trip entirely.
		cg.emitConstLeaf(instr.ID, cg.ir.Instr(instr.Args[0]))

	case ir.OpCall:
		cg.genCall(instr)
	case ir.OpHandlerCall:
		cg.genHandlerCall(instr)

	case ir.OpBr:
		cg.genBr(instr, next)
	case ir.OpCondBr:
		cg.genCondBr(instr, next)
	case ir.OpRet:
		cg.genRet(instr)
	case ir.OpMatch:
		cg.genMatch(instr)
	case ir.OpCast:
		cg.genCast(instr)

	default:
		cg.genArithOrCmp(instr)
	}
}

// emitConstLeaf emits the typed LOAD for c's constant-pool entry and
// pushes pushID onto the shadow stack. pushID and c are the same
// instruction in the common case; OpNop re-materialization passes its
// own ID with the folded-away constant's instruction so later operand
// counting stays in sync without caring about value identity.
func (cg *handlerGen) emitConstLeaf(pushID ir.ValueID, c *ir.Instruction) {
	switch c.Op {
	case ir.OpConstInt:
		v := cg.pool.Ints[c.Aux]
		if v >= 0 && v <= 0xFFFF {
			cg.emit(opcode.ILOAD, uint16(v), 0, 0)
		} else {
			cg.emit(opcode.NLOAD, uint16(c.Aux), 0, 0)
		}
	case ir.OpConstString:
		cg.emit(opcode.SLOAD, uint16(c.Aux), 0, 0)
	case ir.OpConstBool:
		cg.emit(opcode.BLOAD, uint16(c.Aux), 0, 0)
	case ir.OpConstIPAddr:
		cg.emit(opcode.PLOAD, uint16(c.Aux), 0, 0)
	case ir.OpConstCidr:
		cg.emit(opcode.CLOAD, uint16(c.Aux), 0, 0)
	case ir.OpConstRegExp:
		cg.emit(opcode.RLOAD, uint16(c.Aux), 0, 0)
	case ir.OpConstIntArray:
		cg.emit(opcode.ITLOAD, uint16(c.Aux), 0, 0)
	case ir.OpConstStringArray:
		cg.emit(opcode.STLOAD, uint16(c.Aux), 0, 0)
	case ir.OpConstIPArray:
		cg.emit(opcode.PTLOAD, uint16(c.Aux), 0, 0)
	case ir.OpConstCidrArray:
		cg.emit(opcode.CTLOAD, uint16(c.Aux), 0, 0)
	}
	cg.push(pushID)
}

func (cg *handlerGen) genCall(instr *ir.Instruction) {
	for range instr.Args {
		cg.pop()
	}
	nativeID := cg.nativeID(instr)
	hasRet := uint16(0)
	if instr.Type != types.Void {
		hasRet = 1
	}
	cg.emit(opcode.CALL, uint16(nativeID), uint16(len(instr.Args)), hasRet)
	if hasRet == 1 {
		cg.push(instr.ID)
	}
}

func (cg *handlerGen) genHandlerCall(instr *ir.Instruction) {
	for range instr.Args {
		cg.pop()
	}
	nativeID := cg.nativeID(instr)
	cg.emit(opcode.HANDLER, uint16(nativeID), uint16(len(instr.Args)), 0)
	// HandlerCall never pushes a value: per spec.md §4.7 its boolean
	// result is observed by the VM directly to decide termination, not
	// placed on the operand stack.
}

func (cg *handlerGen) nativeID(instr *ir.Instruction) int {
	builtins := cg.runtime.Builtins()
	for i, b := range builtins {
		if b.Signature.Name == instr.CalleeName {
			return i
		}
	}
	cg.report.Add(diag.LinkError, diag.Range{}, "codegen: no native callback for %s (did verify.Link run?)", instr.CalleeName)
	return -1
}

func (cg *handlerGen) genBr(instr *ir.Instruction, next *ir.BasicBlock) {
	if len(instr.Args) == 1 {
		// InstructionElimination folded a CondBr whose condition was a
		// known constant into this Br; the constant was already pushed
		// when its defining instruction was walked, and Br itself never
		// consumes it, so it must still be dropped here — on both the
		// shadow stack and the runtime operand stack, or the BLOAD that
		// pushed it is left dangling at runtime.
		cg.emit(opcode.DISCARD, 1, 0, 0)
		cg.pop()
	}

	if next != nil && instr.TrueTarget == next.ID {
		return
	}
	pc := cg.emit(opcode.JMP, 0, 0, 0)
	cg.jumps = append(cg.jumps, jumpFixup{pc: pc, target: instr.TrueTarget})
}

func (cg *handlerGen) genCondBr(instr *ir.Instruction, next *ir.BasicBlock) {
	cg.pop() // condition

	switch {
	case next != nil && instr.FalseTarget == next.ID:
		pc := cg.emit(opcode.JN, 0, 0, 0)
		cg.jumps = append(cg.jumps, jumpFixup{pc: pc, target: instr.TrueTarget})
	case next != nil && instr.TrueTarget == next.ID:
		pc := cg.emit(opcode.JZ, 0, 0, 0)
		cg.jumps = append(cg.jumps, jumpFixup{pc: pc, target: instr.FalseTarget})
	default:
		pcZ := cg.emit(opcode.JZ, 0, 0, 0)
		cg.jumps = append(cg.jumps, jumpFixup{pc: pcZ, target: instr.FalseTarget})
		pcJ := cg.emit(opcode.JMP, 0, 0, 0)
		cg.jumps = append(cg.jumps, jumpFixup{pc: pcJ, target: instr.TrueTarget})
	}
}

func (cg *handlerGen) genRet(instr *ir.Instruction) {
	if len(instr.Args) != 1 {
		cg.emit(opcode.EXIT, 0, 0, 0)
		return
	}
	arg := cg.ir.Instr(instr.Args[0])
	if arg.Op != ir.OpConstBool {
		cg.report.Add(diag.TypeError, diag.Range{}, "Ret operand must be a boolean constant in handler %s", cg.ir.Name)
		cg.emit(opcode.EXIT, 0, 0, 0)
		return
	}
	cg.emit(opcode.EXIT, uint16(arg.Aux), 0, 0)
}

var matchOpcodes = map[uint8]opcode.Opcode{
	0: opcode.SMATCHEQ,
	1: opcode.SMATCHBEG,
	2: opcode.SMATCHEND,
	3: opcode.SMATCHR,
}

func (cg *handlerGen) genMatch(instr *ir.Instruction) {
	cg.pop() // subject

	var cases []constpool.MatchCase
	for _, c := range instr.MatchCases {
		valInstr := cg.ir.Instr(c.Value)
		cases = append(cases, constpool.MatchCase{ValueID: constpool.ID(valInstr.Aux)})
	}

	def := constpool.MatchDef{
		Op:    constpool.MatchOp(instr.MatchOp),
		Cases: cases,
	}
	defID := cg.pool.AddMatchDef(def)

	op, ok := matchOpcodes[instr.MatchOp]
	if !ok {
		op = opcode.SMATCHEQ
	}
	cg.emit(op, uint16(defID), 0, 0)

	cg.matches = append(cg.matches, matchFixup{defID: defID, cases: instr.MatchCases, elseBB: instr.FalseTarget})
}

func (cg *handlerGen) genCast(instr *ir.Instruction) {
	src := cg.ir.Instr(instr.Args[0])
	var op opcode.Opcode
	switch src.Type {
	case types.Number:
		op = opcode.CASTN2S
	case types.IPAddress:
		op = opcode.CASTP2S
	case types.Cidr:
		op = opcode.CASTC2S
	case types.RegExp:
		op = opcode.CASTR2S
	case types.String:
		op = opcode.CASTS2N
	default:
		cg.report.Add(diag.TypeError, diag.Range{}, "no cast opcode for source type %v in handler %s", src.Type, cg.ir.Name)
		return
	}
	cg.pop()
	cg.emit(op, 0, 0, 0)
	cg.push(instr.ID)
}

var arithOpcodes = map[ir.Op]opcode.Opcode{
	ir.OpINeg: opcode.INEG, ir.OpINot: opcode.INOT,
	ir.OpIAdd: opcode.IADD, ir.OpISub: opcode.ISUB, ir.OpIMul: opcode.IMUL,
	ir.OpIDiv: opcode.IDIV, ir.OpIRem: opcode.IREM, ir.OpIPow: opcode.IPOW,
	ir.OpIAnd: opcode.IAND, ir.OpIOr: opcode.IOR, ir.OpIXor: opcode.IXOR,
	ir.OpIShl: opcode.ISHL, ir.OpIShr: opcode.ISHR,
	ir.OpICmpEQ: opcode.ICMPEQ, ir.OpICmpNE: opcode.ICMPNE,
	ir.OpICmpLE: opcode.ICMPLE, ir.OpICmpGE: opcode.ICMPGE,
	ir.OpICmpLT: opcode.ICMPLT, ir.OpICmpGT: opcode.ICMPGT,

	ir.OpBNot: opcode.BNOT, ir.OpBAnd: opcode.BAND, ir.OpBOr: opcode.BOR, ir.OpBXor: opcode.BXOR,

	ir.OpSLen: opcode.SLEN, ir.OpSIsEmpty: opcode.SISEMPTY, ir.OpSAdd: opcode.SADD,
	ir.OpSCmpEQ: opcode.SCMPEQ, ir.OpSCmpNE: opcode.SCMPNE,
	ir.OpSCmpLE: opcode.SCMPLE, ir.OpSCmpGE: opcode.SCMPGE,
	ir.OpSCmpLT: opcode.SCMPLT, ir.OpSCmpGT: opcode.SCMPGT,
	ir.OpSCmpRE: opcode.SCMPRE, ir.OpSCmpBeg: opcode.SCMPBEG, ir.OpSCmpEnd: opcode.SCMPEND,
	ir.OpSIn: opcode.SIN,

	ir.OpPCmpEQ: opcode.PCMPEQ, ir.OpPCmpNE: opcode.PCMPNE, ir.OpPInCidr: opcode.PINCIDR,
}

var unaryArith = map[ir.Op]bool{
	ir.OpINeg: true, ir.OpINot: true, ir.OpBNot: true, ir.OpSLen: true, ir.OpSIsEmpty: true,
}

func (cg *handlerGen) genArithOrCmp(instr *ir.Instruction) {
	if instr.Op == ir.OpSSubStr {
		cg.pop()
		cg.pop()
		cg.pop()
		cg.emit(opcode.SSUBSTR, 0, 0, 0)
		cg.push(instr.ID)
		return
	}

	op, ok := arithOpcodes[instr.Op]
	if !ok {
		cg.report.Add(diag.SyntaxError, diag.Range{}, "codegen: unhandled instruction kind %v in handler %s", instr.Op, cg.ir.Name)
		return
	}
	if unaryArith[instr.Op] {
		cg.pop()
	} else {
		cg.pop()
		cg.pop()
	}
	cg.emit(op, 0, 0, 0)
	cg.push(instr.ID)
}

func (cg *handlerGen) backpatch() {
	for _, j := range cg.jumps {
		target, ok := cg.blockPC[j.target]
		if !ok {
			cg.report.Add(diag.TypeError, diag.Range{}, "jump target block %d not found in handler %s", j.target, cg.ir.Name)
			continue
		}
		cg.patchA(j.pc, target)
	}

	for _, m := range cg.matches {
		def := &cg.pool.Matches[m.defID]
		elsePC, ok := cg.blockPC[m.elseBB]
		if !ok {
			cg.report.Add(diag.TypeError, diag.Range{}, "match else target block %d not found in handler %s", m.elseBB, cg.ir.Name)
			continue
		}
		def.ElsePC = elsePC
		for i, c := range m.cases {
			pc, ok := cg.blockPC[c.Target]
			if !ok {
				cg.report.Add(diag.TypeError, diag.Range{}, "match case target block %d not found in handler %s", c.Target, cg.ir.Name)
				continue
			}
			def.Cases[i].Target = pc
		}
	}
}

func (cg *handlerGen) patchA(pc, a int) {
	old := cg.code[pc]
	cg.code[pc] = opcode.Make(old.Op(), uint16(a), old.B(), old.C())
}
