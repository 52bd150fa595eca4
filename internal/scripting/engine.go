// Package scripting runs user-supplied Lua scripts for actions of kind
// "script". Each execution gets a fresh interpreter state so a broken
// script cannot poison the next one.
package scripting

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/Shopify/go-lua"
	"github.com/nantokaworks/gift-relay/internal/shared/logger"
	"github.com/nantokaworks/gift-relay/internal/types"
	"go.uber.org/zap"
)

// Result reports one script execution.
type Result struct {
	Success       bool
	Error         string
	ExecutionTime time.Duration
}

// Engine loads scripts by name from a directory.
type Engine struct {
	dir string
}

func NewEngine(dir string) *Engine {
	return &Engine{dir: dir}
}

// Execute runs <name>.lua with the event exposed as the global `gift`
// table. Script failures are captured in the result, never thrown.
func (e *Engine) Execute(name string, ev *types.GiftEvent) Result {
	start := time.Now()

	state := lua.NewState()
	lua.OpenLibraries(state)
	registerGiftTable(state, ev)
	registerRelayHelpers(state)

	path := filepath.Join(e.dir, name+".lua")
	if err := lua.LoadFile(state, path, ""); err != nil {
		return Result{Error: fmt.Sprintf("load %s: %v", name, err), ExecutionTime: time.Since(start)}
	}
	if err := state.ProtectedCall(0, 0, 0); err != nil {
		return Result{Error: fmt.Sprintf("run %s: %v", name, err), ExecutionTime: time.Since(start)}
	}

	return Result{Success: true, ExecutionTime: time.Since(start)}
}

// Run adapts Execute to the dispatcher's ScriptRunner interface.
func (e *Engine) Run(_ context.Context, name string, ev *types.GiftEvent) error {
	result := e.Execute(name, ev)
	logger.Debug("Script executed",
		zap.String("script", name),
		zap.Bool("success", result.Success),
		zap.Duration("execution_time", result.ExecutionTime))
	if !result.Success {
		return fmt.Errorf("script %q failed: %s", name, result.Error)
	}
	return nil
}

func registerGiftTable(state *lua.State, ev *types.GiftEvent) {
	state.NewTable()
	if ev != nil {
		state.PushString(ev.GiftName)
		state.SetField(-2, "name")
		state.PushInteger(ev.Amount)
		state.SetField(-2, "amount")
		state.PushString(ev.Username)
		state.SetField(-2, "username")
		state.PushString(ev.DisplayName)
		state.SetField(-2, "displayName")
		state.PushInteger(ev.CoinValue)
		state.SetField(-2, "coins")
	}
	state.SetGlobal("gift")
}

func registerRelayHelpers(state *lua.State) {
	state.NewTable()
	lua.SetFunctions(state, []lua.RegistryFunction{
		{Name: "log", Function: func(l *lua.State) int {
			msg := lua.CheckString(l, 1)
			logger.Info("Script log", zap.String("message", msg))
			return 0
		}},
		{Name: "sleep", Function: func(l *lua.State) int {
			ms := lua.CheckInteger(l, 1)
			if ms > 0 && ms <= 5000 {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
			return 0
		}},
	}, 0)
	state.SetGlobal("relay")
}
