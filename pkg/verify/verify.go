// Package verify implements the Verifier of spec.md §4.4: for every
// Call/HandlerCall instruction, look up the native callback by
// signature, report LinkError when absent, and otherwise give the
// callback's own Verifier a chance to accept, reject, or rewrite the
// call to a constant. Grounded on
// _examples/original_source/src/xzero-flow/vm/Runtime.h's
// verifyNativeCalls(IRProgram*, IRBuilder*) entry point, which this
// package's Link function reproduces as an explicit standalone pass
// rather than a Runtime method, matching the pipeline's
// parse->irgen->verify->pass->codegen staging (spec.md §2): verify runs
// before the optimisation passes, the same order
// _examples/original_source/src/x0d/Daemon.cc uses for
// verifyNativeCalls(...) ahead of PassManager.run(), so a verifier fold
// lands as a real constant leaf in time for the passes' dead-code and
// constant-branch elimination to see it.
package verify

import (
	"x0d/pkg/diag"
	"x0d/pkg/ir"
	"x0d/pkg/native"
	"x0d/pkg/types"
)

// Link checks every Call/HandlerCall in prog against runtime, running
// each callback's verifier where present. It mutates handlers in place:
// a call whose verifier rewrites to a constant is turned into a
// constant leaf of the matching kind by foldToConstant, with the value
// kept in FoldedValue until pkg/codegen interns it. The report
// accumulates one LinkError per unresolved or rejected call.
func Link(prog *ir.Program, runtime *native.Runtime) *diag.Report {
	report := &diag.Report{}

	for _, h := range prog.Handlers {
		for _, instr := range h.Instructions {
			if instr.Op != ir.OpCall && instr.Op != ir.OpHandlerCall {
				continue
			}
			verifyCall(h, instr, runtime, report)
		}
	}

	return report
}

func verifyCall(h *ir.Handler, instr *ir.Instruction, runtime *native.Runtime, report *diag.Report) {
	argTypes := make([]types.Type, len(instr.Args))
	constArgs := make([]types.Value, len(instr.Args))
	allConstant := true

	for i, argID := range instr.Args {
		arg := h.Instr(argID)
		argTypes[i] = arg.Type
		if v, ok := constantValue(arg); ok {
			constArgs[i] = v
		} else {
			allConstant = false
		}
	}

	cb := runtime.Find(instr.CalleeName, argTypes)
	if cb == nil {
		report.Add(diag.LinkError, diag.Range{}, "no native callback registered for %s%v", instr.CalleeName, argTypes)
		return
	}

	// irgen always emits Call; a callback registered as a handler is
	// promoted to HandlerCall here once the native's actual kind is
	// known, since the parser cannot see the host's Runtime.
	if cb.IsHandler {
		instr.Op = ir.OpHandlerCall
		instr.Type = types.Boolean
	}

	if cb.Verifier == nil {
		return
	}

	rewrite, ok, err := cb.Verifier(constArgs, allConstant)
	if !ok {
		report.Add(diag.LinkError, diag.Range{}, "call to %s rejected by verifier: %v", instr.CalleeName, err)
		return
	}
	if rewrite != nil {
		foldToConstant(h, instr, *rewrite)
	}
}

// constantValue extracts the literal value of a constant leaf
// instruction, or reports ok=false for anything else. Only OpConstBool
// leaves are recognized: other constant kinds keep their value in the
// constant pool, which Link has no access to, so they report ok=false.
func constantValue(instr *ir.Instruction) (types.Value, bool) {
	switch instr.Op {
	case ir.OpConstBool:
		return types.BoolValue(instr.Aux != 0), true
	default:
		return types.Value{}, false
	}
}

// foldToConstant rewrites instr in place into a constant leaf carrying
// v's value, per spec.md §4.4 ("typically by replacing it with a Load of
// a constant when all operands are compile-time constants"). Literal
// pool interning happens later, during codegen's constant lowering; here
// we only change the instruction's Op/Type/Args shape to mark it folded.
func foldToConstant(h *ir.Handler, instr *ir.Instruction, v types.Value) {
	instr.Args = nil
	instr.CalleeName = ""
	switch v.Type {
	case types.Boolean:
		instr.Op = ir.OpConstBool
		instr.Aux = 0
		if v.Bool {
			instr.Aux = 1
		}
	case types.Number:
		instr.Op = ir.OpConstInt
	case types.String:
		instr.Op = ir.OpConstString
	case types.IPAddress:
		instr.Op = ir.OpConstIPAddr
	case types.Cidr:
		instr.Op = ir.OpConstCidr
	case types.RegExp:
		instr.Op = ir.OpConstRegExp
	}
	instr.Type = v.Type
	instr.FoldedValue = &v
}
