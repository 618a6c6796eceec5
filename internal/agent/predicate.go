package agent

import "github.com/cloudshipai/mrforge/internal/variables"

// EvaluateWhen evaluates a step's `when` predicate against the current
// variable context. Delegates to variables.EvaluateExpr, the shared
// Starlark predicate evaluator also used by the map phase's `filter`
// expression.
func EvaluateWhen(expr string, ctx *variables.Context) (bool, error) {
	return variables.EvaluateExpr(expr, ctx)
}
