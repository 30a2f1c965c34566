package ir

import "x0d/pkg/types"

// Builder accumulates instructions into the current insertion block,
// grounded on the createXxx() factory shape of
// _examples/original_source/include/x0/flow/ir/IRBuilder.h, adapted to
// return ValueIDs into the handler's flat instruction arena instead of
// Value* pointers.
type Builder struct {
	handler *Handler
	block   *BasicBlock
}

func NewBuilder(h *Handler) *Builder {
	return &Builder{handler: h}
}

func (b *Builder) Handler() *Handler { return b.handler }

// CreateBlock appends a new empty block to the handler and returns it
// without changing the current insertion point.
func (b *Builder) CreateBlock() *BasicBlock {
	id := BlockID(len(b.handler.Blocks))
	bb := &BasicBlock{ID: id}
	b.handler.Blocks = append(b.handler.Blocks, bb)
	return bb
}

func (b *Builder) SetInsertPoint(bb *BasicBlock) { b.block = bb }
func (b *Builder) InsertPoint() *BasicBlock       { return b.block }

// CurrentBlockTerminated reports whether the current block already ends
// in a terminator, so callers can avoid emitting dead instructions after
// an early branch/return.
func (b *Builder) CurrentBlockTerminated() bool {
	if b.block == nil || len(b.block.Instructions) == 0 {
		return false
	}
	last := b.handler.Instr(b.block.Instructions[len(b.block.Instructions)-1])
	return last.Op.IsTerminator()
}

func (b *Builder) insert(instr *Instruction) ValueID {
	id := ValueID(len(b.handler.Instructions))
	instr.ID = id
	instr.Block = b.block.ID
	b.handler.Instructions = append(b.handler.Instructions, instr)
	b.block.Instructions = append(b.block.Instructions, id)
	return id
}

func (b *Builder) addPred(target BlockID) {
	bb := b.handler.Block(target)
	bb.Preds = append(bb.Preds, b.block.ID)
}

// Constant leaves

func (b *Builder) CreateConstInt(poolID int) ValueID {
	return b.insert(&Instruction{Op: OpConstInt, Type: types.Number, Aux: poolID})
}
func (b *Builder) CreateConstString(poolID int) ValueID {
	return b.insert(&Instruction{Op: OpConstString, Type: types.String, Aux: poolID})
}
func (b *Builder) CreateConstBool(v bool) ValueID {
	aux := 0
	if v {
		aux = 1
	}
	return b.insert(&Instruction{Op: OpConstBool, Type: types.Boolean, Aux: aux})
}
func (b *Builder) CreateConstIPAddr(poolID int) ValueID {
	return b.insert(&Instruction{Op: OpConstIPAddr, Type: types.IPAddress, Aux: poolID})
}
func (b *Builder) CreateConstCidr(poolID int) ValueID {
	return b.insert(&Instruction{Op: OpConstCidr, Type: types.Cidr, Aux: poolID})
}
func (b *Builder) CreateConstRegExp(poolID int) ValueID {
	return b.insert(&Instruction{Op: OpConstRegExp, Type: types.RegExp, Aux: poolID})
}
func (b *Builder) CreateConstIntArray(poolID int) ValueID {
	return b.insert(&Instruction{Op: OpConstIntArray, Type: types.IntArray, Aux: poolID})
}
func (b *Builder) CreateConstStringArray(poolID int) ValueID {
	return b.insert(&Instruction{Op: OpConstStringArray, Type: types.StringArray, Aux: poolID})
}
func (b *Builder) CreateConstIPArray(poolID int) ValueID {
	return b.insert(&Instruction{Op: OpConstIPArray, Type: types.IPAddrArray, Aux: poolID})
}
func (b *Builder) CreateConstCidrArray(poolID int) ValueID {
	return b.insert(&Instruction{Op: OpConstCidrArray, Type: types.CidrArray, Aux: poolID})
}

// Memory

func (b *Builder) CreateAlloca(ty types.Type, name string) ValueID {
	return b.insert(&Instruction{Op: OpAlloca, Type: ty, Name: name})
}

func (b *Builder) CreateLoad(slot ValueID, ty types.Type) ValueID {
	return b.insert(&Instruction{Op: OpLoad, Type: ty, Args: []ValueID{slot}})
}

func (b *Builder) CreateStore(slot ValueID, value ValueID) ValueID {
	return b.insert(&Instruction{Op: OpStore, Type: types.Void, Args: []ValueID{slot, value}})
}

// Calls

func (b *Builder) CreateCall(name string, args []ValueID, retType types.Type) ValueID {
	return b.insert(&Instruction{Op: OpCall, Type: retType, Args: args, CalleeName: name})
}

func (b *Builder) CreateHandlerCall(name string, args []ValueID) ValueID {
	return b.insert(&Instruction{Op: OpHandlerCall, Type: types.Boolean, Args: args, CalleeName: name})
}

// Control flow

func (b *Builder) CreateBr(target *BasicBlock) ValueID {
	id := b.insert(&Instruction{Op: OpBr, Type: types.Void, TrueTarget: target.ID})
	b.addPred(target.ID)
	return id
}

func (b *Builder) CreateCondBr(cond ValueID, trueTarget, falseTarget *BasicBlock) ValueID {
	id := b.insert(&Instruction{Op: OpCondBr, Type: types.Void, Args: []ValueID{cond}, TrueTarget: trueTarget.ID, FalseTarget: falseTarget.ID})
	b.addPred(trueTarget.ID)
	b.addPred(falseTarget.ID)
	return id
}

func (b *Builder) CreateRet(result ValueID) ValueID {
	return b.insert(&Instruction{Op: OpRet, Type: types.Void, Args: []ValueID{result}})
}

func (b *Builder) CreateMatch(subject ValueID, matchOp uint8, cases []MatchCase, elseTarget *BasicBlock) ValueID {
	id := b.insert(&Instruction{Op: OpMatch, Type: types.Void, Args: []ValueID{subject}, MatchOp: matchOp, MatchCases: cases, FalseTarget: elseTarget.ID})
	for _, c := range cases {
		b.addPred(c.Target)
	}
	b.addPred(elseTarget.ID)
	return id
}

// Cast

func (b *Builder) CreateCast(value ValueID, target types.Type) ValueID {
	return b.insert(&Instruction{Op: OpCast, Type: target, Args: []ValueID{value}, Aux: int(target)})
}

// Unary/binary arithmetic, boolean, string and IP op factories, grounded
// one-to-one on IRBuilder.h's createXxx methods.

func (b *Builder) unary(op Op, ty types.Type, v ValueID) ValueID {
	return b.insert(&Instruction{Op: op, Type: ty, Args: []ValueID{v}})
}

func (b *Builder) binary(op Op, ty types.Type, lhs, rhs ValueID) ValueID {
	return b.insert(&Instruction{Op: op, Type: ty, Args: []ValueID{lhs, rhs}})
}

func (b *Builder) CreateINeg(v ValueID) ValueID { return b.unary(OpINeg, types.Number, v) }
func (b *Builder) CreateINot(v ValueID) ValueID { return b.unary(OpINot, types.Number, v) }

func (b *Builder) CreateIAdd(l, r ValueID) ValueID { return b.binary(OpIAdd, types.Number, l, r) }
func (b *Builder) CreateISub(l, r ValueID) ValueID { return b.binary(OpISub, types.Number, l, r) }
func (b *Builder) CreateIMul(l, r ValueID) ValueID { return b.binary(OpIMul, types.Number, l, r) }
func (b *Builder) CreateIDiv(l, r ValueID) ValueID { return b.binary(OpIDiv, types.Number, l, r) }
func (b *Builder) CreateIRem(l, r ValueID) ValueID { return b.binary(OpIRem, types.Number, l, r) }
func (b *Builder) CreateIPow(l, r ValueID) ValueID { return b.binary(OpIPow, types.Number, l, r) }
func (b *Builder) CreateIAnd(l, r ValueID) ValueID { return b.binary(OpIAnd, types.Number, l, r) }
func (b *Builder) CreateIOr(l, r ValueID) ValueID  { return b.binary(OpIOr, types.Number, l, r) }
func (b *Builder) CreateIXor(l, r ValueID) ValueID { return b.binary(OpIXor, types.Number, l, r) }
func (b *Builder) CreateIShl(l, r ValueID) ValueID { return b.binary(OpIShl, types.Number, l, r) }
func (b *Builder) CreateIShr(l, r ValueID) ValueID { return b.binary(OpIShr, types.Number, l, r) }

func (b *Builder) CreateICmpEQ(l, r ValueID) ValueID { return b.binary(OpICmpEQ, types.Boolean, l, r) }
func (b *Builder) CreateICmpNE(l, r ValueID) ValueID { return b.binary(OpICmpNE, types.Boolean, l, r) }
func (b *Builder) CreateICmpLE(l, r ValueID) ValueID { return b.binary(OpICmpLE, types.Boolean, l, r) }
func (b *Builder) CreateICmpGE(l, r ValueID) ValueID { return b.binary(OpICmpGE, types.Boolean, l, r) }
func (b *Builder) CreateICmpLT(l, r ValueID) ValueID { return b.binary(OpICmpLT, types.Boolean, l, r) }
func (b *Builder) CreateICmpGT(l, r ValueID) ValueID { return b.binary(OpICmpGT, types.Boolean, l, r) }

func (b *Builder) CreateBNot(v ValueID) ValueID    { return b.unary(OpBNot, types.Boolean, v) }
func (b *Builder) CreateBAnd(l, r ValueID) ValueID { return b.binary(OpBAnd, types.Boolean, l, r) }
func (b *Builder) CreateBOr(l, r ValueID) ValueID  { return b.binary(OpBOr, types.Boolean, l, r) }
func (b *Builder) CreateBXor(l, r ValueID) ValueID { return b.binary(OpBXor, types.Boolean, l, r) }

func (b *Builder) CreateSLen(v ValueID) ValueID     { return b.unary(OpSLen, types.Number, v) }
func (b *Builder) CreateSIsEmpty(v ValueID) ValueID { return b.unary(OpSIsEmpty, types.Boolean, v) }
func (b *Builder) CreateSAdd(l, r ValueID) ValueID  { return b.binary(OpSAdd, types.String, l, r) }
func (b *Builder) CreateSSubStr(s, begin, length ValueID) ValueID {
	return b.insert(&Instruction{Op: OpSSubStr, Type: types.String, Args: []ValueID{s, begin, length}})
}
func (b *Builder) CreateSCmpEQ(l, r ValueID) ValueID { return b.binary(OpSCmpEQ, types.Boolean, l, r) }
func (b *Builder) CreateSCmpNE(l, r ValueID) ValueID { return b.binary(OpSCmpNE, types.Boolean, l, r) }
func (b *Builder) CreateSCmpLE(l, r ValueID) ValueID { return b.binary(OpSCmpLE, types.Boolean, l, r) }
func (b *Builder) CreateSCmpGE(l, r ValueID) ValueID { return b.binary(OpSCmpGE, types.Boolean, l, r) }
func (b *Builder) CreateSCmpLT(l, r ValueID) ValueID { return b.binary(OpSCmpLT, types.Boolean, l, r) }
func (b *Builder) CreateSCmpGT(l, r ValueID) ValueID { return b.binary(OpSCmpGT, types.Boolean, l, r) }
func (b *Builder) CreateSCmpRE(l, r ValueID) ValueID { return b.binary(OpSCmpRE, types.Boolean, l, r) }
func (b *Builder) CreateSCmpBeg(l, r ValueID) ValueID {
	return b.binary(OpSCmpBeg, types.Boolean, l, r)
}
func (b *Builder) CreateSCmpEnd(l, r ValueID) ValueID {
	return b.binary(OpSCmpEnd, types.Boolean, l, r)
}
func (b *Builder) CreateSIn(l, r ValueID) ValueID { return b.binary(OpSIn, types.Boolean, l, r) }

func (b *Builder) CreatePCmpEQ(l, r ValueID) ValueID { return b.binary(OpPCmpEQ, types.Boolean, l, r) }
func (b *Builder) CreatePCmpNE(l, r ValueID) ValueID { return b.binary(OpPCmpNE, types.Boolean, l, r) }
func (b *Builder) CreatePInCidr(l, r ValueID) ValueID {
	return b.binary(OpPInCidr, types.Boolean, l, r)
}
