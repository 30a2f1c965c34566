package vm_test

import (
	"testing"
	"time"

	"x0d/pkg/native"
	"x0d/pkg/pipeline"
	"x0d/pkg/types"
	"x0d/pkg/vm"
)

func compile(t *testing.T, source string, rt *native.Runtime) *pipeline.Result {
	t.Helper()
	result := pipeline.Compile(source, rt, 0)
	if result.Report.HasErrors() {
		t.Fatalf("unexpected compile errors: %s", result.Report)
	}
	return result
}

func await(t *testing.T, exec *vm.Execution) vm.Result {
	t.Helper()
	select {
	case res := <-exec.Done:
		return res
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the handler to finish")
		return vm.Result{}
	}
}

func TestRunFallsOffTheEndWithImplicitFalse(t *testing.T) {
	result := compile(t, `handler setup {} handler main { x = 1 + 2; }`, native.NewRuntime())
	h := result.Program.HandlerByName("main")

	exec := vm.New(h, result.Program.Pool, native.NewRuntime()).Run()
	res := await(t, exec)
	if res.Err != nil {
		t.Fatalf("unexpected run error: %v", res.Err)
	}
	if res.Accepted {
		t.Errorf("expected an implicit false-returning handler to not be Accepted")
	}
}

func TestRunEmptyIfElseFallsThroughToImplicitFalse(t *testing.T) {
	result := compile(t, `handler setup {} handler main { if (1 < 2) { } else { } }`, native.NewRuntime())
	h := result.Program.HandlerByName("main")

	exec := vm.New(h, result.Program.Pool, native.NewRuntime()).Run()
	res := await(t, exec)
	if res.Err != nil {
		t.Fatalf("unexpected run error: %v", res.Err)
	}
	if res.Accepted {
		t.Errorf("an empty if/else body still falls through to the implicit false Ret, expected Accepted=false")
	}
}

func TestRunHandlerCallTerminatesWithTrue(t *testing.T) {
	rt := native.NewRuntime()
	rt.RegisterHandler("return", []types.Type{types.Boolean}, func(p *native.Params, _ native.Runner) error {
		p.SetBoolResult(p.GetBool(0))
		return nil
	})

	result := compile(t, `handler setup {} handler main { return(true); }`, rt)
	h := result.Program.HandlerByName("main")

	exec := vm.New(h, result.Program.Pool, rt).Run()
	res := await(t, exec)
	if res.Err != nil {
		t.Fatalf("unexpected run error: %v", res.Err)
	}
	if !res.Accepted {
		t.Errorf("expected a true-returning HANDLER callback to complete the handler with Accepted=true")
	}
}

func TestRunHandlerCallFalseContinuesExecution(t *testing.T) {
	rt := native.NewRuntime()
	rt.RegisterHandler("maybe", []types.Type{types.Boolean}, func(p *native.Params, _ native.Runner) error {
		p.SetBoolResult(p.GetBool(0))
		return nil
	})

	result := compile(t, `handler setup {} handler main { maybe(false); }`, rt)
	h := result.Program.HandlerByName("main")

	exec := vm.New(h, result.Program.Pool, rt).Run()
	res := await(t, exec)
	if res.Err != nil {
		t.Fatalf("unexpected run error: %v", res.Err)
	}
	if res.Accepted {
		t.Errorf("a false-returning HANDLER callback must not terminate the handler, expected the implicit Ret(false) to run")
	}
}

func TestRunSuspendAndResume(t *testing.T) {
	rt := native.NewRuntime()
	rt.RegisterHandler("wait.for.it", nil, func(p *native.Params, runner native.Runner) error {
		runner.Suspend()
		p.SetBoolResult(true)
		return nil
	})

	result := compile(t, `handler setup {} handler main { wait.for.it(); }`, rt)
	h := result.Program.HandlerByName("main")

	theVM := vm.New(h, result.Program.Pool, rt)
	exec := theVM.Run()

	select {
	case <-exec.Suspended:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the handler to suspend")
	}

	select {
	case <-exec.Done:
		t.Fatalf("handler completed before being resumed")
	default:
	}

	exec.Resume()
	res := await(t, exec)
	if res.Err != nil {
		t.Fatalf("unexpected run error: %v", res.Err)
	}
	if !res.Accepted {
		t.Errorf("expected the resumed HANDLER callback's true result to complete the handler")
	}
}

func TestResumeIsANoOpWhenNotSuspended(t *testing.T) {
	result := compile(t, `handler setup {} handler main { x = 1 + 2; }`, native.NewRuntime())
	h := result.Program.HandlerByName("main")

	exec := vm.New(h, result.Program.Pool, native.NewRuntime()).Run()
	res := await(t, exec)
	if res.Err != nil {
		t.Fatalf("unexpected run error: %v", res.Err)
	}

	// The handler has already finished; a defensive Resume call (spec.md
	// §4.7's idempotence contract) must return immediately rather than
	// deadlock.
	done := make(chan struct{})
	go func() {
		exec.Resume()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Resume on a finished Runner blocked instead of being a no-op")
	}
}

func TestAbortUnblocksASuspendedHandler(t *testing.T) {
	rt := native.NewRuntime()
	rt.RegisterHandler("wait.forever", nil, func(p *native.Params, runner native.Runner) error {
		runner.Suspend()
		p.SetBoolResult(true)
		return nil
	})

	result := compile(t, `handler setup {} handler main { wait.forever(); }`, rt)
	h := result.Program.HandlerByName("main")

	exec := vm.New(h, result.Program.Pool, rt).Run()
	select {
	case <-exec.Suspended:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the handler to suspend")
	}

	exec.Abort()
	res := await(t, exec)
	if res.Err == nil {
		t.Errorf("expected an aborted suspended Runner to report an error, got nil")
	}
}

func TestAbortIsSafeToCallTwice(t *testing.T) {
	rt := native.NewRuntime()
	rt.RegisterHandler("wait.forever", nil, func(p *native.Params, runner native.Runner) error {
		runner.Suspend()
		return nil
	})

	result := compile(t, `handler setup {} handler main { wait.forever(); }`, rt)
	h := result.Program.HandlerByName("main")

	exec := vm.New(h, result.Program.Pool, rt).Run()
	select {
	case <-exec.Suspended:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the handler to suspend")
	}

	exec.Abort()
	exec.Abort()
	await(t, exec)
}

func TestRunUsesHostContextThroughRunner(t *testing.T) {
	rt := native.NewRuntime()
	rt.RegisterFunction("ctx.echo", types.String, nil, func(p *native.Params, runner native.Runner) error {
		cr, ok := runner.(native.ContextRunner)
		if !ok {
			t.Fatalf("expected the VM's Runner to also satisfy ContextRunner")
		}
		p.SetResult(types.StringValue(cr.Context().(string)))
		return nil
	})

	result := compile(t, `handler setup {} handler main { x = ctx.echo(); }`, rt)
	h := result.Program.HandlerByName("main")

	theVM := vm.New(h, result.Program.Pool, rt)
	theVM.SetContext("request-id-123")
	exec := theVM.Run()
	res := await(t, exec)
	if res.Err != nil {
		t.Fatalf("unexpected run error: %v", res.Err)
	}
	if res.Accepted {
		t.Errorf("expected the implicit false Ret, got Accepted=true")
	}
}
