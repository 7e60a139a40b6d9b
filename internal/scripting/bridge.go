package scripting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/mudforge/internal/ansi"
	"github.com/cory-johannsen/mudforge/internal/config"
	"github.com/cory-johannsen/mudforge/internal/scrollback"
)

// ErrClosed is returned by Execute after Close.
var ErrClosed = errors.New("script session closed")

// ScriptError reports a script that failed to compile or run. Output the
// script produced before failing stays in the scrollback.
type ScriptError struct {
	Message string
	Cause   error
}

// Error implements error.
func (e *ScriptError) Error() string {
	return "script error: " + e.Message
}

// Unwrap returns the underlying cause.
func (e *ScriptError) Unwrap() error {
	return e.Cause
}

// Sender is the outbound capability exposed to scripts.
type Sender interface {
	SendLine(s string) error
	IsConnected() bool
}

// Bridge owns one sandboxed Lua session and executes user scripts in it.
//
// Execute calls are serialized; a Bridge never evaluates two scripts at
// once.
type Bridge struct {
	mu     sync.Mutex
	L      *lua.LState
	funcs  map[string]*lua.LFunction
	cur    *call
	buf    *scrollback.Buffer
	out    Sender
	table  *ansi.Table
	cfg    config.ScriptingConfig
	logger *zap.Logger
}

// NewBridge creates a script session writing to buf and sending through out,
// then loads every script in cfg.Dir. A missing directory is not an error.
//
// Precondition: buf and logger must be non-nil; out may be nil, in which
// case Send always reports "not connected".
// Postcondition: Returns a ready Bridge or a non-nil error.
func NewBridge(buf *scrollback.Buffer, out Sender, cfg config.ScriptingConfig, logger *zap.Logger) (*Bridge, error) {
	b := &Bridge{
		buf:    buf,
		out:    out,
		table:  ansi.DefaultTable,
		cfg:    cfg,
		logger: logger,
	}
	if err := b.open(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bridge) open() error {
	b.L = NewSandboxedState()
	b.funcs = b.register(b.L)
	if b.cfg.Dir == "" {
		return nil
	}
	err := b.loadDir(b.cfg.Dir)
	if errors.Is(err, os.ErrNotExist) {
		b.logger.Info("scripting: no script directory", zap.String("dir", b.cfg.Dir))
		return nil
	}
	return err
}

// Execute runs source in a fresh environment and returns the plain text it
// wrote. Globals the script assigns do not survive the call; functions
// loaded from the script directory are visible read-only.
//
// Postcondition: On failure the error is a *ScriptError (or ErrClosed) and
// the returned transcript holds whatever was written before the failure.
func (b *Bridge) Execute(ctx context.Context, source string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.L == nil {
		return "", ErrClosed
	}

	start := time.Now()
	fn, err := b.L.LoadString(source)
	if err != nil {
		return "", &ScriptError{Message: luaMessage(err), Cause: err}
	}
	fn.Env = b.newEnv()

	c := b.begin()
	err = CallLimited(ctx, b.L, fn, b.cfg.InstructionLimit, b.cfg.Timeout)
	b.end()

	transcript := c.transcript.String()
	if err != nil {
		b.logger.Warn("scripting: execution failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return transcript, &ScriptError{Message: luaMessage(err), Cause: err}
	}
	b.logger.Debug("scripting: executed",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("transcript_bytes", len(transcript)),
	)
	return transcript, nil
}

// newEnv builds the per-call global table. Reads of unknown names fall
// through to the session globals; writes stay in the table. Library tables
// (string, math, table and any loaded from the script dir) are shallow
// copies, so patching one affects only the running call.
func (b *Bridge) newEnv() *lua.LTable {
	L := b.L
	env := L.NewTable()
	L.G.Global.ForEach(func(k, v lua.LValue) {
		if tbl, ok := v.(*lua.LTable); ok && tbl != L.G.Global {
			env.RawSet(k, copyTable(L, tbl))
		}
	})
	for name, fn := range b.funcs {
		env.RawSetString(name, fn)
	}
	env.RawSetString("_G", env)

	meta := L.NewTable()
	meta.RawSetString("__index", L.G.Global)
	meta.RawSetString("__metatable", lua.LString("locked"))
	L.SetMetatable(env, meta)
	return env
}

func copyTable(L *lua.LState, src *lua.LTable) *lua.LTable {
	dst := L.NewTable()
	src.ForEach(func(k, v lua.LValue) {
		dst.RawSet(k, v)
	})
	if mt, ok := L.GetMetatable(src).(*lua.LTable); ok {
		dst.Metatable = mt
	}
	return dst
}

func (b *Bridge) begin() *call {
	b.cur = &call{buf: b.buf}
	return b.cur
}

func (b *Bridge) end() {
	b.cur.finish()
	b.cur = nil
}

// LoadDir executes every *.lua file in dir, in lexicographic order, in the
// session globals. A file that fails is logged and skipped.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns an error only if dir cannot be read.
func (b *Bridge) LoadDir(dir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.L == nil {
		return ErrClosed
	}
	return b.loadDir(dir)
}

func (b *Bridge) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("scripting: reading script dir %q: %w", dir, err)
	}

	var luaFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			luaFiles = append(luaFiles, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(luaFiles)

	for _, path := range luaFiles {
		if err := b.loadFile(path); err != nil {
			b.logger.Warn("scripting: skipping script",
				zap.String("path", path),
				zap.Error(err),
			)
			continue
		}
		b.logger.Debug("scripting: loaded script", zap.String("path", path))
	}
	return nil
}

func (b *Bridge) loadFile(path string) error {
	fn, err := b.L.LoadFile(path)
	if err != nil {
		return err
	}
	b.begin()
	defer b.end()
	return CallLimited(context.Background(), b.L, fn, b.cfg.InstructionLimit, b.cfg.Timeout)
}

// Reset discards the session and starts a new one, reloading the
// configured script directory.
func (b *Bridge) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.L != nil {
		b.L.Close()
	}
	b.logger.Info("scripting: session reset")
	return b.open()
}

// Close releases the interpreter. Further Execute calls return ErrClosed.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.L != nil {
		b.L.Close()
		b.L = nil
	}
}

// luaMessage extracts the script-facing message from a Lua error without
// the Go-side stack trace.
func luaMessage(err error) string {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return strings.TrimSpace(apiErr.Object.String())
	}
	return err.Error()
}
