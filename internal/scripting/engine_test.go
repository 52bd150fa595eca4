package scripting

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nantokaworks/gift-relay/internal/types"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".lua"), []byte(body), 0644); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
}

func testEvent() *types.GiftEvent {
	return &types.GiftEvent{
		GiftName:    "Rose",
		Amount:      3,
		Username:    "alice",
		DisplayName: "Alice",
		CoinValue:   1,
	}
}

func TestExecute(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "check", `
		if gift.name ~= "Rose" then error("bad name: " .. tostring(gift.name)) end
		if gift.amount ~= 3 then error("bad amount") end
		if gift.username ~= "alice" then error("bad username") end
		if gift.displayName ~= "Alice" then error("bad display name") end
		if gift.coins ~= 1 then error("bad coins") end
		relay.log("gift checks out")
	`)

	e := NewEngine(dir)
	result := e.Execute("check", testEvent())
	if !result.Success {
		t.Fatalf("script failed: %s", result.Error)
	}
	if result.ExecutionTime <= 0 {
		t.Fatal("execution time not recorded")
	}
}

func TestExecute_RuntimeError(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "broken", `error("intentional failure")`)

	e := NewEngine(dir)
	result := e.Execute("broken", testEvent())
	if result.Success {
		t.Fatal("runtime error must fail the result")
	}
	if result.Error == "" {
		t.Fatal("error message must be captured")
	}
}

func TestExecute_MissingScript(t *testing.T) {
	e := NewEngine(t.TempDir())
	result := e.Execute("nope", testEvent())
	if result.Success {
		t.Fatal("missing script must fail the result")
	}
}

func TestExecute_FreshStatePerRun(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "poison", `leaked = "yes"`)
	writeScript(t, dir, "probe", `if leaked ~= nil then error("state leaked across runs") end`)

	e := NewEngine(dir)
	if result := e.Execute("poison", testEvent()); !result.Success {
		t.Fatalf("poison script failed: %s", result.Error)
	}
	if result := e.Execute("probe", testEvent()); !result.Success {
		t.Fatalf("probe detected leaked state: %s", result.Error)
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "ok", `relay.log("hello")`)
	writeScript(t, dir, "bad", `error("nope")`)

	e := NewEngine(dir)
	if err := e.Run(context.Background(), "ok", testEvent()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := e.Run(context.Background(), "bad", testEvent()); err == nil {
		t.Fatal("failing script must return an error")
	}
}
