// Package pipeline wires the compiler phases into the single
// lex->parse->irgen->link->optimise->codegen chain spec.md §2 describes,
// so cmd/flowc and cmd/x0d share one entry point instead of each
// re-deriving the phase order. Grounded on cmd/debug_bytecode's
// lexer.New->parser.New->compiler.Compile chain
// (senapati484-flowa/cmd/debug_bytecode/main.go), generalised from the
// teacher's single-pass compiler to this module's multi-phase pipeline.
// Verify (link) runs before the optimisation passes, not after: a
// verifier-rewritten constant must already be a real constant leaf by
// the time the passes look for dead code and foldable branches, the
// same ordering _examples/original_source/src/x0d/Daemon.cc uses
// between verifyNativeCalls(...) and PassManager.run().
package pipeline

import (
	"x0d/pkg/codegen"
	"x0d/pkg/constpool"
	"x0d/pkg/diag"
	"x0d/pkg/irgen"
	"x0d/pkg/lexer"
	"x0d/pkg/native"
	"x0d/pkg/parser"
	"x0d/pkg/passes"
	"x0d/pkg/verify"
)

// Result is everything a caller needs to run the compiled program: the
// bytecode/constant pool pair and the aggregated diagnostics from every
// phase.
type Result struct {
	Program *codegen.Program
	Report  *diag.Report
}

// Compile runs source through every phase in spec.md §2's order, against
// the given native runtime and optimisation level. It stops and returns
// early (with Program == nil) as soon as a phase's report carries a hard
// error, matching spec.md §7's fail-fast compile model.
func Compile(source string, runtime *native.Runtime, optLevel int) *Result {
	l := lexer.New(source)
	p := parser.New(l)
	unit := p.ParseUnit()
	if report := p.Report(); report.HasErrors() {
		return &Result{Report: report}
	}

	pool := constpool.New()
	prog, report := irgen.Generate(unit, pool)
	if report.HasErrors() {
		return &Result{Report: report}
	}

	linkReport := verify.Link(prog, runtime)
	report.Merge(linkReport)
	if report.HasErrors() {
		return &Result{Report: report}
	}

	passes.NewManager(optLevel, pool).Run(prog)

	compiled, cgReport := codegen.Generate(prog, pool, runtime)
	report.Merge(cgReport)
	if report.HasErrors() {
		return &Result{Report: report}
	}

	return &Result{Program: compiled, Report: report}
}
