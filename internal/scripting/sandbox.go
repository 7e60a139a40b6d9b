// Package scripting embeds a sandboxed GopherLua interpreter that lets
// user scripts write styled lines to the scrollback and send commands to
// the connected MUD through a fixed set of host functions.
package scripting

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// DefaultInstructionLimit is the maximum number of Lua opcodes allowed per
// script execution when none is configured.
const DefaultInstructionLimit = 1_000_000

var (
	// ErrInstructionLimit is reported when a script runs out of opcodes.
	ErrInstructionLimit = errors.New("instruction limit exceeded")
	// ErrTimeout is reported when a script runs past its wall-clock limit.
	ErrTimeout = errors.New("script timed out")
)

// countingContext is a context.Context that cancels itself after Done() has
// been called limit times. GopherLua's mainLoopWithContext calls Done() once
// per opcode, making this an exact instruction-count limit.
type countingContext struct {
	context.Context
	cancel    context.CancelFunc
	remaining *atomic.Int64
}

// Done returns the underlying cancellation channel. Each call decrements the
// remaining counter; when it reaches zero the cancel function fires,
// terminating the Lua VM on the next opcode boundary.
func (c *countingContext) Done() <-chan struct{} {
	if c.remaining.Add(-1) <= 0 {
		c.cancel()
	}
	return c.Context.Done()
}

func (c *countingContext) exhausted() bool {
	return c.remaining.Load() <= 0
}

// newCountingContext returns a child of parent that also cancels after
// limit calls to Done().
// Precondition: limit > 0.
func newCountingContext(parent context.Context, limit int) (*countingContext, context.CancelFunc) {
	base, cancel := context.WithCancel(parent)
	rem := &atomic.Int64{}
	rem.Store(int64(limit))
	return &countingContext{
		Context:   base,
		cancel:    cancel,
		remaining: rem,
	}, cancel
}

// NewSandboxedState creates a GopherLua LState with:
//   - Only safe stdlib loaded: base, table, string, math
//   - Globals that reach the file system, compile code at runtime or
//     escape the environment removed
//   - The string metatable hidden from getmetatable
//
// Postcondition: Returns a non-nil LState. The caller owns it and must call
// L.Close() when done. Execution limits are applied per call by CallLimited.
func NewSandboxedState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range []string{
		"dofile", "loadfile", "load", "loadstring", "collectgarbage", "require",
		"getfenv", "setfenv", "module", "newproxy",
	} {
		L.SetGlobal(name, lua.LNil)
	}

	// string methods resolve through this metatable; hide it so scripts
	// cannot patch the shared string library behind it
	if mt, ok := L.GetMetatable(lua.LString("")).(*lua.LTable); ok {
		mt.RawSetString("__metatable", lua.LString("locked"))
	}
	return L
}

// CallLimited runs fn in protected mode with at most limit opcodes and, when
// timeout is positive, at most timeout of wall-clock time. Cancelling ctx
// stops the script at the next opcode.
//
// Precondition: L must not be running another call.
// Postcondition: Returns nil, ErrInstructionLimit, ErrTimeout, an error
// wrapping ctx.Err(), or the *lua.ApiError raised by the script. The stack
// of L is left empty.
func CallLimited(ctx context.Context, L *lua.LState, fn *lua.LFunction, limit int, timeout time.Duration) error {
	if limit <= 0 {
		limit = DefaultInstructionLimit
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	cctx, cancel := newCountingContext(ctx, limit)
	defer cancel()

	L.SetContext(cctx)
	defer L.RemoveContext()

	L.Push(fn)
	err := L.PCall(0, lua.MultRet, nil)
	L.SetTop(0)
	if err == nil {
		return nil
	}
	switch {
	case cctx.exhausted():
		return ErrInstructionLimit
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ErrTimeout
	case ctx.Err() != nil:
		return fmt.Errorf("script cancelled: %w", ctx.Err())
	}
	return err
}
