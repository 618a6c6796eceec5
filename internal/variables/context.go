// Package variables implements the hierarchical variable context used to
// interpolate step commands, capture typed output, and mask secrets before
// they reach an event or log sink.
package variables

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Context is a three-tier lookup: item scope, workflow scope, iteration
// scope, consulted in that order. Each tier is its own flat map so an agent's
// iteration captures never leak into another agent's context — per the
// teacher's "do not share a single mutable variable map across agents"
// design constraint, every Context is owned by exactly one agent or by the
// executor's aggregate view.
type Context struct {
	item      map[string]string
	workflow  map[string]string
	iteration map[string]string
}

// New returns an empty Context.
func New() *Context {
	return &Context{
		item:      map[string]string{},
		workflow:  map[string]string{},
		iteration: map[string]string{},
	}
}

// Clone deep-copies a Context so a spawned worker gets an isolated scope,
// grounded on the teacher's ParallelExecutor.deepCopyMap per-branch isolation.
func (c *Context) Clone() *Context {
	clone := New()
	for k, v := range c.item {
		clone.item[k] = v
	}
	for k, v := range c.workflow {
		clone.workflow[k] = v
	}
	for k, v := range c.iteration {
		clone.iteration[k] = v
	}
	return clone
}

// SetItem binds an item-scope variable (typically via FlattenItem).
func (c *Context) SetItem(name, value string) { c.item[name] = value }

// SetWorkflow binds a workflow-scope variable (setup captures, map.* aggregates).
func (c *Context) SetWorkflow(name, value string) { c.workflow[name] = value }

// SetIteration binds a per-agent capture variable under captures.<name>.
func (c *Context) SetIteration(name, value string) { c.iteration[name] = value }

// Lookup resolves a dotted variable path against item, then workflow, then
// iteration scope, matching spec.md §4.3's stated lookup order.
func (c *Context) Lookup(path string) (string, bool) {
	if v, ok := c.item[path]; ok {
		return v, true
	}
	if v, ok := c.workflow[path]; ok {
		return v, true
	}
	if v, ok := c.iteration[path]; ok {
		return v, true
	}
	return "", false
}

// Snapshot returns a single flattened map of every visible variable, item
// scope taking precedence, for passing to the Starlark `when` evaluator.
func (c *Context) Snapshot() map[string]string {
	out := make(map[string]string, len(c.item)+len(c.workflow)+len(c.iteration))
	for k, v := range c.workflow {
		out[k] = v
	}
	for k, v := range c.iteration {
		out[k] = v
	}
	for k, v := range c.item {
		out[k] = v
	}
	return out
}

// FlattenItem applies spec.md §4.3's flattening rule to an arbitrary JSON
// value decoded from the map input source: objects yield item.<key> per
// top-level key (dot-path for nesting), scalars stringify via the obvious
// rules, arrays and objects otherwise serialize as compact JSON.
func FlattenItem(c *Context, itemID string, value interface{}) error {
	c.SetItem("item.id", itemID)
	return flatten(c, "item", value, true)
}

func flatten(c *Context, prefix string, value interface{}, topLevel bool) error {
	switch v := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := flatten(c, prefix+"."+k, v[k], false); err != nil {
				return err
			}
		}
		return nil
	default:
		s, err := stringify(value)
		if err != nil {
			return err
		}
		c.SetItem(prefix, s)
		return nil
	}
}

func stringify(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "null", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case []interface{}, map[string]interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("variables: serialize: %w", err)
		}
		return string(data), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}
