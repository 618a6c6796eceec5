package workflow

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ErrValidation indicates a workflow definition failed structural validation.
var ErrValidation = errors.New("workflow validation failed")

// Parse decodes workflow YAML bytes into a Definition and runs static
// validation. It never touches the filesystem or shells out — the workflow
// parser itself is an external-interface boundary concern (spec's "does not
// parse workflow syntax" non-goal refers to not inventing a bespoke config
// language, not to omitting a YAML decoder entirely).
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("workflow: decode: %w", err)
	}
	if result := Validate(&def); !result.OK() {
		return nil, fmt.Errorf("%w: %s", ErrValidation, result.Errors[0].Message)
	}
	return &def, nil
}

// Hash computes the change-detection checksum used as Job State's
// workflow_hash field: an MD5 hex digest over the canonical YAML bytes.
// Grounded on internal/workflows/loader.go's Checksum field; not a security
// boundary, purely a "did the workflow change since this checkpoint" key.
func Hash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// ValidationIssue is a single structured validation problem.
type ValidationIssue struct {
	Code    string `json:"code"`
	Path    string `json:"path"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// ValidationResult aggregates validation errors and warnings.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

func (r ValidationResult) OK() bool { return len(r.Errors) == 0 }

// Validate checks the structural invariants spec.md §3 places on a
// Definition: mode-appropriate phase presence, map phase concurrency/timeout
// bounds, and step-kind exclusivity.
func Validate(def *Definition) ValidationResult {
	var res ValidationResult
	fail := func(code, path, msg, hint string) {
		res.Errors = append(res.Errors, ValidationIssue{Code: code, Path: path, Message: msg, Hint: hint})
	}

	if def.Name == "" {
		fail("missing_name", "name", "workflow name is required", "set a top-level name")
	}
	switch def.Mode {
	case ModeSequential, ModeMapReduce:
	case "":
		fail("missing_mode", "mode", "mode is required", "set mode to sequential or mapreduce")
	default:
		fail("invalid_mode", "mode", fmt.Sprintf("unknown mode %q", def.Mode), "use sequential or mapreduce")
	}

	if def.Mode == ModeMapReduce {
		if def.Map == nil {
			fail("missing_map", "map", "mapreduce mode requires a map phase", "")
		} else {
			if def.Map.MaxParallel < 1 {
				fail("invalid_max_parallel", "map.max_parallel", "max_parallel must be >= 1", "")
			}
			if def.Map.TimeoutPerAgent.AsTime() < 1_000_000_000 {
				fail("invalid_timeout", "map.timeout_per_agent", "timeout_per_agent must be >= 1s", "")
			}
			if def.Map.Input == "" {
				fail("missing_input", "map.input", "map.input is required", "")
			}
			if len(def.Map.AgentTemplate) == 0 {
				fail("missing_template", "map.agent_template", "map.agent_template must have at least one step", "")
			}
			for i, step := range def.Map.AgentTemplate {
				validateStep(step, fmt.Sprintf("map.agent_template[%d]", i), &res)
			}
		}
	}

	for i, step := range def.Setup {
		validateStep(step, fmt.Sprintf("setup[%d]", i), &res)
	}
	for i, step := range def.Reduce {
		validateStep(step, fmt.Sprintf("reduce[%d]", i), &res)
	}

	return res
}

func validateStep(s Step, path string, res *ValidationResult) {
	set := 0
	if s.Shell != "" {
		set++
	}
	if s.LLMCLI != "" {
		set++
	}
	if s.Test != "" {
		set++
	}
	if s.WriteFile != nil {
		set++
	}
	if s.GoalSeek != nil {
		set++
	}
	if s.Foreach != nil {
		set++
	}
	if s.Handler != "" {
		set++
	}
	if set != 1 {
		res.Errors = append(res.Errors, ValidationIssue{
			Code:    "invalid_step_kind",
			Path:    path,
			Message: fmt.Sprintf("exactly one step kind must be set, found %d", set),
			Hint:    "set exactly one of shell/claude/test/write_file/goal_seek/foreach/handler",
		})
	}
	if s.Foreach != nil {
		for i, sub := range s.Foreach.Steps {
			validateStep(sub, fmt.Sprintf("%s.foreach.steps[%d]", path, i), res)
		}
	}
}
