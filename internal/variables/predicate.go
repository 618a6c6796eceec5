package variables

import (
	"fmt"

	"go.starlark.net/starlark"
)

// EvaluateExpr evaluates a boolean Starlark expression against c's flattened
// snapshot, grounded on internal/workflows/runtime/starlark_eval.go's
// StarlarkEvaluator. Used both for a step's `when` predicate and for the map
// phase's workflow-level `filter` expression. A bounded step count prevents
// a runaway expression from stalling a worker.
func EvaluateExpr(expr string, c *Context) (bool, error) {
	if expr == "" {
		return true, nil
	}

	globals := starlark.StringDict{}
	for k, v := range c.Snapshot() {
		globals[sanitizeIdent(k)] = starlark.String(v)
	}

	thread := &starlark.Thread{
		Name:  "expr",
		Print: func(*starlark.Thread, string) {},
	}
	thread.SetMaxExecutionSteps(10_000)

	val, err := starlark.Eval(thread, "<expr>", expr, globals)
	if err != nil {
		return false, fmt.Errorf("variables: evaluate expression %q: %w", expr, err)
	}
	return bool(val.Truth()), nil
}

// sanitizeIdent replaces dots with underscores so a dotted variable path
// (item.id) is addressable as a Starlark identifier (item_id).
func sanitizeIdent(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			out[i] = '_'
		} else {
			out[i] = name[i]
		}
	}
	return string(out)
}
