package codegen

import (
	"testing"

	"x0d/pkg/constpool"
	"x0d/pkg/ir"
	"x0d/pkg/native"
	"x0d/pkg/opcode"
	"x0d/pkg/types"
)

func buildHandler(name string, build func(b *ir.Builder)) *ir.Handler {
	h := &ir.Handler{Name: name}
	b := ir.NewBuilder(h)
	entry := b.CreateBlock()
	h.Entry = entry.ID
	b.SetInsertPoint(entry)
	build(b)
	return h
}

func generate(t *testing.T, h *ir.Handler, pool *constpool.Pool, rt *native.Runtime) *Handler {
	t.Helper()
	if pool == nil {
		pool = constpool.New()
	}
	if rt == nil {
		rt = native.NewRuntime()
	}
	prog, report := Generate(&ir.Program{Handlers: []*ir.Handler{h}}, pool, rt)
	if report.HasErrors() {
		t.Fatalf("unexpected codegen errors: %s", report)
	}
	return prog.Handlers[0]
}

func opsOf(t *testing.T, h *Handler) []opcode.Opcode {
	t.Helper()
	ops := make([]opcode.Opcode, len(h.Code))
	for i, instr := range h.Code {
		ops[i] = instr.Op()
	}
	return ops
}

func TestGenerateRetFalseForEmptyHandler(t *testing.T) {
	h := buildHandler("main", func(b *ir.Builder) {
		b.CreateRet(b.CreateConstBool(false))
	})

	out := generate(t, h, nil, nil)
	if len(out.Code) != 1 {
		t.Fatalf("expected exactly 1 instruction, got %d", len(out.Code))
	}
	if out.Code[0].Op() != opcode.EXIT {
		t.Fatalf("expected EXIT, got %v", out.Code[0].Op())
	}
	if out.Code[0].A() != 0 {
		t.Errorf("expected EXIT operand 0 (false), got %d", out.Code[0].A())
	}
}

func TestGenerateArithmeticEmitsILoadAndIAdd(t *testing.T) {
	pool := constpool.New()
	h := buildHandler("main", func(b *ir.Builder) {
		slot := b.CreateAlloca(types.Number, "x")
		lhs := b.CreateConstInt(int(pool.InternInt(2)))
		rhs := b.CreateConstInt(int(pool.InternInt(3)))
		sum := b.CreateIAdd(lhs, rhs)
		b.CreateStore(slot, sum)
		b.CreateRet(b.CreateConstBool(false))
	})

	out := generate(t, h, pool, nil)
	ops := opsOf(t, out)
	want := []opcode.Opcode{opcode.ALLOCA, opcode.ILOAD, opcode.ILOAD, opcode.IADD, opcode.STORE, opcode.EXIT}
	if len(ops) != len(want) {
		t.Fatalf("got ops %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("op[%d] = %v, want %v", i, ops[i], want[i])
		}
	}
}

func TestGenerateSkipsJumpToImmediateSuccessor(t *testing.T) {
	h := buildHandler("main", func(b *ir.Builder) {
		next := b.CreateBlock()
		b.CreateBr(next)

		b.SetInsertPoint(next)
		b.CreateRet(b.CreateConstBool(true))
	})

	out := generate(t, h, nil, nil)
	ops := opsOf(t, out)
	// the Br to the immediately-following block must not emit a JMP
	for _, op := range ops {
		if op == opcode.JMP {
			t.Fatalf("expected no JMP when the target is the next block, got %v", ops)
		}
	}
	if ops[len(ops)-1] != opcode.EXIT {
		t.Fatalf("expected the handler to end in EXIT, got %v", ops)
	}
}

func TestGenerateFoldedBrDiscardsLeftoverCondition(t *testing.T) {
	var folded ir.ValueID
	h := buildHandler("main", func(b *ir.Builder) {
		thenBB := b.CreateBlock()
		elseBB := b.CreateBlock()
		cond := b.CreateConstBool(true)
		folded = b.CreateCondBr(cond, thenBB, elseBB)

		b.SetInsertPoint(thenBB)
		b.CreateRet(b.CreateConstBool(true))

		b.SetInsertPoint(elseBB)
		b.CreateRet(b.CreateConstBool(false))
	})

	// Mimic passes.instructionElimination folding a constant CondBr into
	// a Br that still carries the leftover pushed condition in Args,
	// rather than running the whole pass pipeline here.
	instr := h.Instr(folded)
	instr.Op = ir.OpBr
	instr.FalseTarget = 0

	out := generate(t, h, nil, nil)
	ops := opsOf(t, out)
	var sawDiscard bool
	for _, op := range ops {
		if op == opcode.DISCARD {
			sawDiscard = true
		}
	}
	if !sawDiscard {
		t.Fatalf("expected a DISCARD to drop the folded-away condition pushed by BLOAD, got %v", ops)
	}
}

func TestGenerateCondBrEmitsJZAndJMP(t *testing.T) {
	h := buildHandler("main", func(b *ir.Builder) {
		thenBB := b.CreateBlock()
		elseBB := b.CreateBlock()
		joinBB := b.CreateBlock()

		cond := b.CreateConstBool(true)
		b.CreateCondBr(cond, thenBB, elseBB)

		b.SetInsertPoint(thenBB)
		b.CreateBr(joinBB)

		b.SetInsertPoint(elseBB)
		b.CreateBr(joinBB)

		b.SetInsertPoint(joinBB)
		b.CreateRet(b.CreateConstBool(false))
	})

	out := generate(t, h, nil, nil)
	ops := opsOf(t, out)
	var sawJZ, sawJMP bool
	for _, op := range ops {
		if op == opcode.JZ {
			sawJZ = true
		}
		if op == opcode.JMP {
			sawJMP = true
		}
	}
	if !sawJZ || !sawJMP {
		t.Fatalf("expected both JZ and JMP in an if/else diamond lowering, got %v", ops)
	}
}

func TestGenerateCallEmitsCallWithResolvedNativeID(t *testing.T) {
	rt := native.NewRuntime()
	rt.RegisterFunction("first.fn", types.Void, nil, nil)
	rt.RegisterFunction("sys.env", types.String, []types.Type{types.String}, nil)

	pool := constpool.New()
	h := buildHandler("main", func(b *ir.Builder) {
		arg := b.CreateConstString(int(pool.InternString("PATH")))
		call := b.CreateCall("sys.env", []ir.ValueID{arg}, types.String)
		b.CreateRet(b.CreateConstBool(false))
		_ = call
	})

	out := generate(t, h, pool, rt)
	var found bool
	for _, instr := range out.Code {
		if instr.Op() == opcode.CALL {
			found = true
			if instr.A() != 1 {
				t.Errorf("expected native id 1 (second registered builtin), got %d", instr.A())
			}
			if instr.B() != 1 {
				t.Errorf("expected argc 1, got %d", instr.B())
			}
			if instr.C() != 1 {
				t.Errorf("expected hasRet=1 for a non-Void call, got %d", instr.C())
			}
		}
	}
	if !found {
		t.Fatalf("expected a CALL instruction")
	}
}

func TestGenerateHandlerCallNeverPushesAValue(t *testing.T) {
	rt := native.NewRuntime()
	rt.RegisterHandler("ws.upgrade", nil, nil)

	h := buildHandler("main", func(b *ir.Builder) {
		call := b.CreateHandlerCall("ws.upgrade", nil)
		_ = call
		b.CreateRet(b.CreateConstBool(false))
	})

	out := generate(t, h, nil, rt)
	ops := opsOf(t, out)
	// no DISCARD should appear: HandlerCall's result is never pushed, so
	// there is nothing to drop even though its value is otherwise unused.
	for _, op := range ops {
		if op == opcode.DISCARD {
			t.Fatalf("unexpected DISCARD after a HandlerCall, got %v", ops)
		}
	}
	if ops[0] != opcode.HANDLER {
		t.Fatalf("expected HANDLER as the first instruction, got %v", ops[0])
	}
}

func TestGenerateMatchBuildsPoolDefAndBackpatchesTargets(t *testing.T) {
	pool := constpool.New()
	caseVal := pool.InternString("/a")

	h := buildHandler("main", func(b *ir.Builder) {
		subject := b.CreateConstString(int(caseVal))
		caseBB := b.CreateBlock()
		elseBB := b.CreateBlock()

		caseValID := b.CreateConstString(int(caseVal))
		cases := []ir.MatchCase{{Value: caseValID, Target: caseBB.ID}}
		b.CreateMatch(subject, 0, cases, elseBB)

		b.SetInsertPoint(caseBB)
		b.CreateRet(b.CreateConstBool(true))

		b.SetInsertPoint(elseBB)
		b.CreateRet(b.CreateConstBool(false))
	})

	out := generate(t, h, pool, nil)
	if len(pool.Matches) != 1 {
		t.Fatalf("expected 1 MatchDef interned into the pool, got %d", len(pool.Matches))
	}
	def := pool.Matches[0]
	if def.ElsePC == 0 {
		t.Errorf("expected a non-zero backpatched ElsePC (else block follows the match instruction)")
	}
	if def.Cases[0].Target == 0 {
		t.Errorf("expected a non-zero backpatched case target")
	}
	_ = out
}

func TestGenerateSubstrTakesThreeOperands(t *testing.T) {
	pool := constpool.New()
	h := buildHandler("main", func(b *ir.Builder) {
		s := b.CreateConstString(int(pool.InternString("hello")))
		start := b.CreateConstInt(int(pool.InternInt(1)))
		length := b.CreateConstInt(int(pool.InternInt(3)))
		sub := b.CreateSSubStr(s, start, length)
		b.CreateRet(b.CreateConstBool(false))
		_ = sub
	})

	out := generate(t, h, pool, nil)
	var found bool
	for _, instr := range out.Code {
		if instr.Op() == opcode.SSUBSTR {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an SSUBSTR instruction")
	}
}
