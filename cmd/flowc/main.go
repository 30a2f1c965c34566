// Command flowc is the Flow toolchain's own CLI: tokenize, parse, compile
// and run a .flow source file, and disassemble its compiled bytecode.
// Grounded on cmd/flowa/main.go's plain os.Args subcommand dispatch
// (senapati484-flowa/cmd/flowa/main.go) and consolidates what the teacher
// split across cmd/debug_tokens, cmd/debug_parser, cmd/debug_bytecode,
// cmd/inspect_bytecode and cmd/debug_vm into one binary with one
// subcommand per concern.
package main

import (
	"fmt"
	"os"

	"x0d/pkg/lexer"
	"x0d/pkg/native"
	"x0d/pkg/parser"
	"x0d/pkg/pipeline"
	"x0d/pkg/token"
	"x0d/pkg/vm"
)

func main() {
	if len(os.Args) < 3 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	file := os.Args[2]

	data, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flowc: %v\n", err)
		os.Exit(1)
	}
	source := string(data)

	switch command {
	case "tokens":
		dumpTokens(source)
	case "ast":
		dumpAST(source)
	case "compile":
		compileFile(source)
	case "disasm":
		disasmFile(source)
	case "run":
		runFile(source)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("flowc — Flow compiler/VM toolchain")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  flowc tokens <file.flow>   Print the token stream")
	fmt.Println("  flowc ast <file.flow>      Print the parsed AST")
	fmt.Println("  flowc compile <file.flow>  Compile and report diagnostics")
	fmt.Println("  flowc disasm <file.flow>   Compile and print bytecode per handler")
	fmt.Println("  flowc run <file.flow>      Compile and run the \"main\" handler")
}

func dumpTokens(source string) {
	l := lexer.New(source)
	for {
		tok := l.NextToken()
		fmt.Println(tok.String())
		if tok.Type == token.EOF {
			return
		}
	}
}

func dumpAST(source string) {
	l := lexer.New(source)
	p := parser.New(l)
	unit := p.ParseUnit()
	if report := p.Report(); report.HasErrors() {
		fmt.Fprint(os.Stderr, report.String())
		os.Exit(1)
	}
	for _, h := range unit.Handlers {
		fmt.Println(h.String())
	}
}

func compileFile(source string) {
	rt := stubRuntime()
	result := pipeline.Compile(source, rt, 1)
	if result.Report != nil {
		fmt.Fprint(os.Stderr, result.Report.String())
	}
	if result.Program == nil {
		os.Exit(1)
	}
	fmt.Printf("compiled %d handler(s)\n", len(result.Program.Handlers))
}

func disasmFile(source string) {
	rt := stubRuntime()
	result := pipeline.Compile(source, rt, 1)
	if result.Report != nil {
		fmt.Fprint(os.Stderr, result.Report.String())
	}
	if result.Program == nil {
		os.Exit(1)
	}
	for _, h := range result.Program.Handlers {
		fmt.Printf("handler %s (%d slots):\n", h.Name, h.NumSlots)
		for pc, instr := range h.Code {
			fmt.Printf("  %4d  %s %d %d %d\n", pc, instr.Op(), instr.A(), instr.B(), instr.C())
		}
	}
}

func runFile(source string) {
	rt := stubRuntime()
	result := pipeline.Compile(source, rt, 1)
	if result.Report != nil {
		fmt.Fprint(os.Stderr, result.Report.String())
	}
	if result.Program == nil {
		os.Exit(1)
	}

	h := result.Program.HandlerByName("main")
	if h == nil {
		fmt.Fprintln(os.Stderr, "flowc: no \"main\" handler")
		os.Exit(1)
	}

	machine := vm.New(h, result.Program.Pool, rt)
	exec := machine.Run()
	for {
		select {
		case <-exec.Suspended:
			exec.Resume()
		case res := <-exec.Done:
			if res.Err != nil {
				fmt.Fprintf(os.Stderr, "flowc: %v\n", res.Err)
				os.Exit(1)
			}
			fmt.Printf("main -> %v\n", res.Accepted)
			return
		}
	}
}

// stubRuntime registers no host callbacks; it lets flowc compile and run
// units that only use core language features. cmd/x0d registers the full
// domain callback set against the same pipeline.
func stubRuntime() *native.Runtime {
	return native.NewRuntime()
}
