// Command x0d is the demo host of spec.md §1: it links the Flow
// compiler/VM core against a concrete set of native callbacks and runs
// one compiled unit's "setup" handler once at startup, then its "main"
// handler once per HTTP request. Grounded on pkg/vm/http_server.go's
// HandleHTTPRoute/StartHTTPServer shape (senapati484-flowa), rebuilt
// against this module's codegen/vm pipeline instead of the teacher's
// compiler/vm.Frame machine and made request-complete rather than the
// teacher's stub ("we'll just acknowledge the route was hit").
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"x0d/pkg/codegen"
	"x0d/pkg/native"
	"x0d/pkg/pipeline"
	"x0d/pkg/vm"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// requestContext is the per-request host state a running VM can reach
// through native.ContextRunner, set before VM.Run and consulted by the
// ws.* native callbacks in natives.go.
type requestContext struct {
	w   http.ResponseWriter
	r   *http.Request
	ws  *websocket.Conn

	wsUpgradeRequested bool
}

type host struct {
	rt      *native.Runtime
	program *pipeline.Result
}

func main() {
	configPath := flag.String("config", "x0d.toml", "path to x0d.toml")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "x0d: %v\n", err)
		os.Exit(1)
	}

	if err := godotenv.Load(cfg.EnvFile); err != nil {
		fmt.Fprintf(os.Stderr, "x0d: no env file at %s, continuing without it\n", cfg.EnvFile)
	}

	source, err := os.ReadFile(cfg.FlowFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "x0d: %v\n", err)
		os.Exit(1)
	}

	rt := native.NewRuntime()
	registerNatives(rt, cfg)

	result := pipeline.Compile(string(source), rt, 1)
	if result.Report != nil && result.Report.HasErrors() {
		fmt.Fprint(os.Stderr, result.Report.String())
		os.Exit(1)
	}

	h := &host{rt: rt, program: result}

	if setup := result.Program.HandlerByName("setup"); setup != nil {
		if accepted, err := h.runHandler(setup, nil, context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "x0d: setup failed: %v\n", err)
			os.Exit(1)
		} else if !accepted {
			fmt.Fprintln(os.Stderr, "x0d: setup rejected startup")
			os.Exit(1)
		}
	}

	mainHandler := result.Program.HandlerByName("main")
	if mainHandler == nil {
		fmt.Fprintln(os.Stderr, "x0d: unit has no \"main\" handler")
		os.Exit(1)
	}

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		h.serve(mainHandler, w, r)
	})

	fmt.Printf("x0d listening on %s\n", cfg.Listen)
	if err := http.ListenAndServe(cfg.Listen, nil); err != nil {
		fmt.Fprintf(os.Stderr, "x0d: %v\n", err)
		os.Exit(1)
	}
}

// serve runs the "main" handler for one HTTP request, handling the
// ws.upgrade suspend/resume round trip in line with spec.md §4.7/§5: a
// ws.upgrade native handler suspends the Runner, the host performs the
// actual gorilla/websocket handshake against this request's w/r pair,
// then resumes the Runner with the resulting connection installed on
// the request context.
func (h *host) serve(mainHandler *codegen.Handler, w http.ResponseWriter, r *http.Request) {
	reqCtx := &requestContext{w: w, r: r}
	accepted, err := h.runHandler(mainHandler, reqCtx, r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if reqCtx.ws != nil {
		// The handler upgraded to a websocket connection and is done
		// driving it via ws.send/ws.read/ws.close; nothing left to write
		// on the original ResponseWriter.
		return
	}
	if !accepted {
		http.NotFound(w, r)
	}
}

// runHandler drives one VM execution to completion, servicing any
// ws.upgrade suspend requests against reqCtx along the way. If ctx is
// cancelled (the client disconnected) before the handler finishes, it
// aborts the VM rather than leaving its goroutine parked forever,
// releasing the handler's stack and slots per spec.md §5.
func (h *host) runHandler(hd *codegen.Handler, reqCtx *requestContext, ctx context.Context) (bool, error) {
	machine := vm.New(hd, h.program.Program.Pool, h.rt)
	if reqCtx != nil {
		machine.SetContext(reqCtx)
	}

	exec := machine.Run()
	for {
		select {
		case <-ctx.Done():
			exec.Abort()
			res := <-exec.Done
			if res.Err == nil {
				res.Err = ctx.Err()
			}
			return res.Accepted, res.Err
		case <-exec.Suspended:
			if reqCtx != nil && reqCtx.wsUpgradeRequested {
				reqCtx.wsUpgradeRequested = false
				conn, err := upgrader.Upgrade(reqCtx.w, reqCtx.r, nil)
				if err == nil {
					reqCtx.ws = conn
				}
			}
			exec.Resume()
		case res := <-exec.Done:
			return res.Accepted, res.Err
		}
	}
}
