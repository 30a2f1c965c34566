// Benchmarks for the compile->run path, grounded on flowa's
// BenchmarkVMAddition/BenchmarkVMComparison shape
// (senapati484-flowa/benchmarks/vm_benchmark_test.go), adapted from the
// teacher's bytecode-compiler VM to this module's irgen/passes/verify/
// codegen/vm pipeline. The tree-walk comparison benchmarks have no
// equivalent here since this module has no tree-walking evaluator.
package benchmarks

import (
	"testing"

	"x0d/pkg/native"
	"x0d/pkg/pipeline"
	"x0d/pkg/vm"
)

var accepted bool

func runToCompletion(machine *vm.VM) (bool, error) {
	exec := machine.Run()
	for {
		select {
		case <-exec.Suspended:
			exec.Resume()
		case res := <-exec.Done:
			return res.Accepted, res.Err
		}
	}
}

func BenchmarkVMAddition(b *testing.B) {
	source := `
handler setup {}
handler main {
	x = 5 + 5 + 5 + 5 + 5 + 5 + 5 + 5 + 5 + 5
	true
}
`
	rt := native.NewRuntime()
	result := pipeline.Compile(source, rt, 1)
	if result.Report != nil && result.Report.HasErrors() {
		b.Fatal(result.Report.String())
	}
	h := result.Program.HandlerByName("main")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		machine := vm.New(h, result.Program.Pool, rt)
		var err error
		accepted, err = runToCompletion(machine)
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkVMComparison(b *testing.B) {
	source := `
handler setup {}
handler main {
	1 < 2
}
`
	rt := native.NewRuntime()
	result := pipeline.Compile(source, rt, 1)
	if result.Report != nil && result.Report.HasErrors() {
		b.Fatal(result.Report.String())
	}
	h := result.Program.HandlerByName("main")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		machine := vm.New(h, result.Program.Pool, rt)
		var err error
		accepted, err = runToCompletion(machine)
		if err != nil {
			b.Fatal(err)
		}
	}
}
