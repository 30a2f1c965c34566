// Package ir implements the SSA-style intermediate representation of
// spec.md §3: a Program of Handlers, each an ordered list of BasicBlocks
// terminated exactly once, built from typed Instructions that reference
// their operands by index rather than by pointer. Grounded in spirit on
// flowa's pkg/compiler emit/addInstruction pattern
// (senapati484-flowa/pkg/compiler/compiler.go), but restructured per
// spec.md §9's arena/index-ownership design note: the Program owns flat
// arenas of Handlers, Blocks and Instructions, and every cross-reference
// (operand, successor, user) is a typed index into those arenas rather
// than a pointer, avoiding the cyclic intrusive graphs of the original
// C++ IR.
package ir

import "x0d/pkg/types"

// ValueID identifies one instruction's result within its handler. Most
// instructions produce exactly one value; Void-typed instructions (Store,
// Br, CondBr, Ret, Match) produce none but still occupy a ValueID slot so
// block/operand bookkeeping stays uniform.
type ValueID int

// BlockID identifies a basic block within its handler.
type BlockID int

// Op enumerates every instruction kind named in spec.md §3.
type Op uint8

const (
	OpNop Op = iota
	OpAlloca
	OpLoad
	OpStore
	OpPhi
	OpCall
	OpHandlerCall
	OpBr
	OpCondBr
	OpRet
	OpMatch
	OpCast

	OpINeg
	OpINot
	OpIAdd
	OpISub
	OpIMul
	OpIDiv
	OpIRem
	OpIPow
	OpIAnd
	OpIOr
	OpIXor
	OpIShl
	OpIShr
	OpICmpEQ
	OpICmpNE
	OpICmpLE
	OpICmpGE
	OpICmpLT
	OpICmpGT

	OpBNot
	OpBAnd
	OpBOr
	OpBXor

	OpSLen
	OpSIsEmpty
	OpSAdd
	OpSSubStr
	OpSCmpEQ
	OpSCmpNE
	OpSCmpLE
	OpSCmpGE
	OpSCmpLT
	OpSCmpGT
	OpSCmpRE
	OpSCmpBeg
	OpSCmpEnd
	OpSIn

	OpPCmpEQ
	OpPCmpNE
	OpPInCidr

	// constant leaves, one per literal kind (spec.md §3 "Constants")
	OpConstInt
	OpConstString
	OpConstBool
	OpConstIPAddr
	OpConstCidr
	OpConstRegExp
	OpConstIntArray
	OpConstStringArray
	OpConstIPArray
	OpConstCidrArray
)

func (o Op) IsTerminator() bool {
	switch o {
	case OpBr, OpCondBr, OpRet, OpMatch:
		return true
	default:
		return false
	}
}

// Instruction is one SSA value definition (or void effect, for Store and
// the terminators). Operands are ValueIDs scoped to the owning handler;
// a negative operand means "unused".
type Instruction struct {
	ID     ValueID
	Op     Op
	Type   types.Type
	Block  BlockID

	// Operand value references, meaning depends on Op.
	Args []ValueID

	// Targets for control-flow instructions.
	TrueTarget  BlockID
	FalseTarget BlockID

	// Constant-pool ID for constant leaves (the literal 0/1 for
	// ConstBool); cast target type for Cast. Unused by other ops: slots,
	// native callbacks and match tables are resolved by pkg/codegen.
	Aux int

	// CalleeName names the native callback for Call/HandlerCall; pkg/verify
	// checks it against the Runtime and pkg/codegen resolves it to a
	// native id by name.
	CalleeName string

	// MatchOp/MatchCases describe a Match terminator's table before it is
	// interned into the constant pool by codegen.
	MatchOp    uint8
	MatchCases []MatchCase

	// Variable name this Alloca slot was declared for; used only for
	// diagnostics and pretty-printing.
	Name string

	// FoldedValue is set by pkg/verify's Link step when a call's verifier
	// rewrites this instruction into a constant leaf (spec.md §4.4).
	FoldedValue *types.Value
}

// MatchCase pairs a case value (a ValueID of a constant) with the block
// it branches to.
type MatchCase struct {
	Value  ValueID
	Target BlockID
}

// BasicBlock is an ordered instruction list ending in exactly one
// terminator (spec.md §3 invariant 1), built up incrementally by
// pkg/irgen and finalized by pkg/passes.
type BasicBlock struct {
	ID           BlockID
	Instructions []ValueID
	Preds        []BlockID
}

// Handler is one compiled Flow handler: a name, an ordered list of
// BasicBlocks with exactly one entry, and the arena of Instructions that
// belong to it (indexed by ValueID).
type Handler struct {
	Name         string
	Entry        BlockID
	Blocks       []*BasicBlock
	Instructions []*Instruction
	Exported     bool // true for "setup" and "main", per spec.md §4.1 Exports
}

// Block looks up a block by ID rather than by position: passes like
// UnusedBlock drop entries from Blocks without renumbering survivors, so
// a BlockID is never safe to use as a direct slice index once a pass has
// run.
func (h *Handler) Block(id BlockID) *BasicBlock {
	for _, bb := range h.Blocks {
		if bb.ID == id {
			return bb
		}
	}
	return nil
}
func (h *Handler) Instr(id ValueID) *Instruction  { return h.Instructions[id] }

// Program is the whole compiled unit: an ordered list of Handlers. The
// constant pool is owned by pkg/constpool and passed alongside it
// rather than stored here.
type Program struct {
	Handlers []*Handler
}

func (p *Program) HandlerByName(name string) *Handler {
	for _, h := range p.Handlers {
		if h.Name == name {
			return h
		}
	}
	return nil
}
