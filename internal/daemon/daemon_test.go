package daemon

import (
	"testing"

	"go.uber.org/fx"
)

func TestModuleGraph(t *testing.T) {
	// Validates the dependency graph without constructing anything, so no
	// session directory or database is touched.
	if err := fx.ValidateApp(Module(Params{SessionName: "test"})); err != nil {
		t.Fatalf("dependency graph invalid: %v", err)
	}
}
