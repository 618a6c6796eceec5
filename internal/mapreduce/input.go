// Package mapreduce implements the MapReduce Executor and Resume
// Coordinator: the three-phase (setup/map/reduce) scheduler that fans work
// out to bounded-parallel Agent Workers, checkpoints progress, and routes
// exhausted failures to the DLQ. Concurrency pattern grounded on
// internal/workflows/runtime/parallel_executor.go (goroutine-per-branch fan
// out, deepCopyMap isolation) and foreach_executor.go (semaphore-bounded
// concurrent iteration).
package mapreduce

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/cloudshipai/mrforge/internal/variables"
	"github.com/cloudshipai/mrforge/internal/workflow"
)

// Item is one work item resolved from the map input source, tagged with its
// stable item_id per spec.md §3.
type Item struct {
	ID    string
	Value interface{}
}

// LoadItems resolves map.input (a file path or "shell:<cmd>" stream),
// applies the json_path query via gojq (grounded on the jordigilh-kubernaut
// example repo's JSON-query dependency — the teacher has none), then applies
// filter, sort, offset, and max_items in that order, and assigns item_ids.
func LoadItems(ctx context.Context, phase *workflow.MapPhase) ([]Item, error) {
	raw, err := readInputSource(ctx, phase.Input)
	if err != nil {
		return nil, fmt.Errorf("mapreduce: load input: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("mapreduce: input is not valid JSON: %w", err)
	}

	values, err := applyJSONPath(doc, phase.JSONPath)
	if err != nil {
		return nil, fmt.Errorf("mapreduce: json_path query: %w", err)
	}

	items := assignItemIDs(values)

	items, err = applyFilter(items, phase.Filter)
	if err != nil {
		return nil, fmt.Errorf("mapreduce: filter: %w", err)
	}
	items = applySort(items, phase.SortBy)
	items = applyOffsetAndLimit(items, phase.Offset, phase.MaxItems)

	return items, nil
}

func readInputSource(ctx context.Context, input string) ([]byte, error) {
	if strings.HasPrefix(input, "shell:") {
		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", strings.TrimPrefix(input, "shell:"))
		return cmd.Output()
	}
	return readFile(input)
}

func applyJSONPath(doc interface{}, path string) ([]interface{}, error) {
	if path == "" {
		if arr, ok := doc.([]interface{}); ok {
			return arr, nil
		}
		return []interface{}{doc}, nil
	}
	query, err := gojq.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse json_path %q: %w", path, err)
	}
	iter := query.Run(doc)
	var out []interface{}
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func assignItemIDs(values []interface{}) []Item {
	items := make([]Item, 0, len(values))
	for i, v := range values {
		id := strconv.Itoa(i)
		if obj, ok := v.(map[string]interface{}); ok {
			if idVal, ok := obj["id"]; ok {
				id = fmt.Sprintf("%v", idVal)
			}
		}
		items = append(items, Item{ID: id, Value: v})
	}
	return items
}

func applyFilter(items []Item, expr string) ([]Item, error) {
	if expr == "" {
		return items, nil
	}
	var out []Item
	for _, item := range items {
		c := variables.New()
		if err := variables.FlattenItem(c, item.ID, item.Value); err != nil {
			return nil, err
		}
		keep, err := variables.EvaluateExpr(expr, c)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, item)
		}
	}
	return out, nil
}

func applySort(items []Item, sortBy string) []Item {
	if sortBy == "" {
		return items
	}
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return fieldString(sorted[i].Value, sortBy) < fieldString(sorted[j].Value, sortBy)
	})
	return sorted
}

func fieldString(value interface{}, field string) string {
	if obj, ok := value.(map[string]interface{}); ok {
		return fmt.Sprintf("%v", obj[field])
	}
	return fmt.Sprintf("%v", value)
}

func applyOffsetAndLimit(items []Item, offset, maxItems int) []Item {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if maxItems > 0 && maxItems < len(items) {
		items = items[:maxItems]
	}
	return items
}
