package pipeline

import (
	"testing"

	"x0d/pkg/native"
	"x0d/pkg/opcode"
	"x0d/pkg/types"
)

func TestCompileSimpleHandlerSucceeds(t *testing.T) {
	result := Compile(`handler setup {} handler main { x = 1 + 2; }`, native.NewRuntime(), 0)
	if result.Report.HasErrors() {
		t.Fatalf("unexpected errors: %s", result.Report)
	}
	if result.Program == nil {
		t.Fatalf("expected a compiled program")
	}
	if result.Program.HandlerByName("main") == nil {
		t.Fatalf("expected a main handler in the compiled program")
	}
}

func TestCompileStopsAtParseErrors(t *testing.T) {
	result := Compile(`handler main { x = ; }`, native.NewRuntime(), 0)
	if !result.Report.HasErrors() {
		t.Fatalf("expected parse errors to be reported")
	}
	if result.Program != nil {
		t.Fatalf("expected no compiled program after a parse error")
	}
}

func TestCompileStopsAtUnresolvedNativeCall(t *testing.T) {
	result := Compile(`handler setup {} handler main { no.such.native(); }`, native.NewRuntime(), 0)
	if !result.Report.HasErrors() {
		t.Fatalf("expected a link error for an unresolved native call")
	}
	if result.Program != nil {
		t.Fatalf("expected no compiled program after a link error")
	}
}

func TestCompileRunsOptimisationPasses(t *testing.T) {
	// optLevel 1 should merge the then/join blocks of this always-true
	// conditional down to a tight handful of instructions via passes'
	// constant CondBr folding and block merging.
	result := Compile(`handler setup {} handler main { if (1 == 1) { x = 1; } else { x = 2; } }`, native.NewRuntime(), 1)
	if result.Report.HasErrors() {
		t.Fatalf("unexpected errors: %s", result.Report)
	}
	h := result.Program.HandlerByName("main")
	for _, instr := range h.Code {
		if instr.Op() == opcode.JZ {
			t.Errorf("expected the constant condition to be folded away, got a JZ in %v", h.Code)
		}
	}
}

func TestCompileWiresUpNativeCallSite(t *testing.T) {
	rt := native.NewRuntime()
	rt.RegisterFunction("sys.env", types.String, []types.Type{types.String}, func(p *native.Params, _ native.Runner) error {
		p.SetResult(types.StringValue("ok"))
		return nil
	})

	result := Compile(`handler setup {} handler main { x = sys.env("PATH"); }`, rt, 0)
	if result.Report.HasErrors() {
		t.Fatalf("unexpected errors: %s", result.Report)
	}
	h := result.Program.HandlerByName("main")
	var found bool
	for _, instr := range h.Code {
		if instr.Op() == opcode.CALL {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a CALL instruction for the linked native, got %v", h.Code)
	}
}
