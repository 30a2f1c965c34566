// Native callback registrations for the x0d demo host. Each callback is
// a direct domain-translation of one of flowa's eval.go builtin modules
// (senapati484-flowa/pkg/eval/{auth_helpers,ws_helpers,eval}.go) into the
// native.NativeCallback ABI (spec.md §4.8), grounded per-callback below.
package main

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/gomail.v2"

	"x0d/pkg/native"
	"x0d/pkg/types"
)

// registerNatives wires every domain callback the demo host exposes to
// Flow programs into rt.
func registerNatives(rt *native.Runtime, cfg *Config) {
	registerAuth(rt)
	registerJWT(rt)
	registerMail(rt, cfg)
	registerWebSocket(rt)
	registerSys(rt)
}

// registerAuth grounds auth.hash/auth.verify on flowa's auth_helpers.go
// HashPassword/VerifyPassword, which already wrap golang.org/x/crypto/bcrypt.
func registerAuth(rt *native.Runtime) {
	rt.RegisterFunction("auth.hash", types.String, []types.Type{types.String}, func(p *native.Params, _ native.Runner) error {
		hash, err := bcrypt.GenerateFromPassword([]byte(p.GetString(0)), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		p.SetResult(types.StringValue(string(hash)))
		return nil
	})

	rt.RegisterFunction("auth.verify", types.Boolean, []types.Type{types.String, types.String}, func(p *native.Params, _ native.Runner) error {
		err := bcrypt.CompareHashAndPassword([]byte(p.GetString(0)), []byte(p.GetString(1)))
		p.SetBoolResult(err == nil)
		return nil
	})
}

// registerJWT grounds jwt.sign/jwt.verify on flowa's auth_helpers.go
// SignToken/VerifyToken, narrowed from a map[string]interface{} payload
// to a single string claim ("sub") since Flow has no map literal type.
func registerJWT(rt *native.Runtime) {
	rt.RegisterFunction("jwt.sign", types.String, []types.Type{types.String, types.String, types.String}, func(p *native.Params, _ native.Runner) error {
		subject := p.GetString(0)
		secret := p.GetString(1)
		expiresIn := p.GetString(2)

		duration, err := time.ParseDuration(expiresIn)
		if err != nil {
			return fmt.Errorf("jwt.sign: invalid duration %q: %w", expiresIn, err)
		}

		claims := jwt.MapClaims{
			"sub": subject,
			"exp": time.Now().Add(duration).Unix(),
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString([]byte(secret))
		if err != nil {
			return err
		}
		p.SetResult(types.StringValue(signed))
		return nil
	})

	rt.RegisterFunction("jwt.verify", types.String, []types.Type{types.String, types.String}, func(p *native.Params, _ native.Runner) error {
		tokenString := p.GetString(0)
		secret := p.GetString(1)

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			p.SetResult(types.StringValue(""))
			return nil
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			p.SetResult(types.StringValue(""))
			return nil
		}
		sub, _ := claims["sub"].(string)
		p.SetResult(types.StringValue(sub))
		return nil
	})
}

// registerMail grounds mail.send on flowa's eval.go mail module, swapped
// from net/smtp (pkg/vm/smtp.go's sendWithTLS) to gopkg.in/gomail.v2,
// since the demo host's ambient stack pulls in gomail.v2 rather than the
// teacher's own bare net/smtp (see DESIGN.md).
func registerMail(rt *native.Runtime, cfg *Config) {
	rt.RegisterFunction("mail.send", types.Boolean, []types.Type{types.String, types.String, types.String}, func(p *native.Params, _ native.Runner) error {
		to, subject, body := p.GetString(0), p.GetString(1), p.GetString(2)

		host := os.Getenv("SMTP_HOST")
		user := os.Getenv("SMTP_USER")
		pass := os.Getenv("SMTP_PASS")
		from := os.Getenv("SMTP_FROM")
		if from == "" {
			from = user
		}
		if host == "" {
			p.SetBoolResult(false)
			return nil
		}

		m := gomail.NewMessage()
		m.SetHeader("From", from)
		m.SetHeader("To", to)
		m.SetHeader("Subject", subject)
		m.SetBody("text/plain", body)

		d := gomail.NewDialer(host, cfg.SMTPPort, user, pass)
		if err := d.DialAndSend(m); err != nil {
			p.SetBoolResult(false)
			return nil
		}
		p.SetBoolResult(true)
		return nil
	})
}

// registerSys grounds sys.env on the teacher's os.Getenv-backed env
// lookups (implied across auth/mail module setup in eval.go), with a
// Verifier that folds the call to a constant only when verify.Link
// reports every argument constant. verify.Link recognizes only boolean
// constant leaves, so a call with a string-literal name is not folded
// and reads the environment at run time.
func registerSys(rt *native.Runtime) {
	cb := rt.RegisterFunction("sys.env", types.String, []types.Type{types.String}, func(p *native.Params, _ native.Runner) error {
		p.SetResult(types.StringValue(os.Getenv(p.GetString(0))))
		return nil
	})
	cb.ReadOnly = true
	cb.Verifier = func(args []types.Value, allConstant bool) (*types.Value, bool, error) {
		if !allConstant {
			return nil, true, nil
		}
		v := types.StringValue(os.Getenv(args[0].Str))
		return &v, true, nil
	}
}

// registerWebSocket grounds ws.upgrade/ws.send/ws.read/ws.close on
// pkg/vm/websocket.go's upgrader/WebSocketSend/WebSocketReceive/
// WebSocketClose, with ws.upgrade registered as a native handler so it
// can suspend the Runner (spec.md §4.7) while the host performs the
// blocking HTTP upgrade handshake.
func registerWebSocket(rt *native.Runtime) {
	rt.RegisterHandler("ws.upgrade", nil, func(p *native.Params, runner native.Runner) error {
		cr, ok := runner.(native.ContextRunner)
		if !ok {
			p.SetBoolResult(false)
			return nil
		}
		reqCtx, ok := cr.Context().(*requestContext)
		if !ok || reqCtx == nil {
			p.SetBoolResult(false)
			return nil
		}

		reqCtx.wsUpgradeRequested = true
		runner.Suspend()

		p.SetBoolResult(reqCtx.ws != nil)
		return nil
	})

	rt.RegisterFunction("ws.send", types.Boolean, []types.Type{types.String}, func(p *native.Params, runner native.Runner) error {
		reqCtx := contextOf(runner)
		if reqCtx == nil || reqCtx.ws == nil {
			p.SetBoolResult(false)
			return nil
		}
		err := reqCtx.ws.WriteMessage(1, []byte(p.GetString(0))) // 1 = websocket.TextMessage
		p.SetBoolResult(err == nil)
		return nil
	})

	rt.RegisterFunction("ws.read", types.String, nil, func(p *native.Params, runner native.Runner) error {
		reqCtx := contextOf(runner)
		if reqCtx == nil || reqCtx.ws == nil {
			p.SetResult(types.StringValue(""))
			return nil
		}
		_, msg, err := reqCtx.ws.ReadMessage()
		if err != nil {
			p.SetResult(types.StringValue(""))
			return nil
		}
		var buf bytes.Buffer
		buf.Write(msg)
		p.SetResult(types.StringValue(buf.String()))
		return nil
	})

	rt.RegisterFunction("ws.close", types.Boolean, nil, func(p *native.Params, runner native.Runner) error {
		reqCtx := contextOf(runner)
		if reqCtx == nil || reqCtx.ws == nil {
			p.SetBoolResult(false)
			return nil
		}
		p.SetBoolResult(reqCtx.ws.Close() == nil)
		return nil
	})
}

func contextOf(runner native.Runner) *requestContext {
	cr, ok := runner.(native.ContextRunner)
	if !ok {
		return nil
	}
	reqCtx, _ := cr.Context().(*requestContext)
	return reqCtx
}
