// Package workflow defines the parsed representation of a mrforge workflow
// file: the setup/map/reduce phases, the tagged-union step kinds, and the
// validation and hashing needed to drive a job.
package workflow

import "time"

// Mode selects whether a workflow runs a single sequential agent or fans
// work out across a map/reduce job.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeMapReduce  Mode = "mapreduce"
)

// Definition is the parsed, validated form of a workflow YAML file.
type Definition struct {
	Name          string            `json:"name" yaml:"name"`
	Mode          Mode              `json:"mode" yaml:"mode"`
	Setup         []Step            `json:"setup,omitempty" yaml:"setup,omitempty"`
	Map           *MapPhase         `json:"map,omitempty" yaml:"map,omitempty"`
	Reduce        []Step            `json:"reduce,omitempty" yaml:"reduce,omitempty"`
	Env           map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	RetryDefaults *RetryPolicy      `json:"retry_defaults,omitempty" yaml:"retry_defaults,omitempty"`
}

// MapPhase describes the input source, the agent template, and the
// concurrency/filtering knobs for the map phase of a job.
type MapPhase struct {
	Input           string   `json:"input" yaml:"input"`
	JSONPath        string   `json:"json_path,omitempty" yaml:"json_path,omitempty"`
	MaxParallel     int      `json:"max_parallel" yaml:"max_parallel"`
	TimeoutPerAgent Duration `json:"timeout_per_agent" yaml:"timeout_per_agent"`
	RetryOnFailure  int      `json:"retry_on_failure" yaml:"retry_on_failure"`
	Filter          string   `json:"filter,omitempty" yaml:"filter,omitempty"`
	SortBy          string   `json:"sort_by,omitempty" yaml:"sort_by,omitempty"`
	MaxItems        int      `json:"max_items,omitempty" yaml:"max_items,omitempty"`
	Offset          int      `json:"offset,omitempty" yaml:"offset,omitempty"`
	Distinct        string   `json:"distinct,omitempty" yaml:"distinct,omitempty"`
	AgentTemplate   []Step   `json:"agent_template" yaml:"agent_template"`
	ContinueOnFail  bool     `json:"continue_on_failure,omitempty" yaml:"continue_on_failure,omitempty"`
}

// Duration wraps time.Duration so workflow YAML can use "30s"-style values.
type Duration time.Duration

// StepKind is the closed set of tagged-union step variants.
type StepKind string

const (
	StepShell    StepKind = "shell"
	StepLLMCLI   StepKind = "llm-cli"
	StepTest     StepKind = "test"
	StepGoalSeek StepKind = "goal-seek"
	StepForeach  StepKind = "foreach"
	StepWrite    StepKind = "write-file"
	StepHandler  StepKind = "handler"
)

// RetryStrategy is how long the worker waits between retry attempts.
type RetryStrategy string

const (
	RetryImmediate   RetryStrategy = "immediate"
	RetryFixedDelay  RetryStrategy = "fixed"
	RetryExponential RetryStrategy = "exponential"
)

// RetryPolicy is the count + strategy pair shared by steps and workflow defaults.
type RetryPolicy struct {
	Count    int           `json:"count" yaml:"count"`
	Strategy RetryStrategy `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Delay    Duration      `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// CaptureFormat drives how a step's captured output is parsed.
type CaptureFormat string

const (
	CaptureString  CaptureFormat = "string"
	CaptureJSON    CaptureFormat = "json"
	CaptureLines   CaptureFormat = "lines"
	CaptureNumber  CaptureFormat = "number"
	CaptureBoolean CaptureFormat = "boolean"
)

// CaptureStream is one of the process output channels a capture can read.
type CaptureStream string

const (
	StreamStdout   CaptureStream = "stdout"
	StreamStderr   CaptureStream = "stderr"
	StreamExitCode CaptureStream = "exit_code"
)

// Step is a tagged union over the kinds named in StepKind. Exactly one of
// the kind-specific fields (Shell, LLMCLI, Test, GoalSeek, Foreach, WriteFile)
// is populated; Handler names an out-of-tree registered handler.
type Step struct {
	Kind StepKind `json:"kind" yaml:"kind"`

	Shell      string          `json:"shell,omitempty" yaml:"shell,omitempty"`
	LLMCLI     string          `json:"claude,omitempty" yaml:"claude,omitempty"`
	Test       string          `json:"test,omitempty" yaml:"test,omitempty"`
	WriteFile  *WriteFileSpec  `json:"write_file,omitempty" yaml:"write_file,omitempty"`
	GoalSeek   *GoalSeekSpec   `json:"goal_seek,omitempty" yaml:"goal_seek,omitempty"`
	Foreach    *ForeachSpec    `json:"foreach,omitempty" yaml:"foreach,omitempty"`
	Handler    string          `json:"handler,omitempty" yaml:"handler,omitempty"`
	HandlerArg string          `json:"handler_arg,omitempty" yaml:"handler_arg,omitempty"`

	Timeout        Duration                 `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	WorkingDir     string                   `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`
	Env            map[string]string        `json:"env,omitempty" yaml:"env,omitempty"`
	Capture        string                   `json:"capture,omitempty" yaml:"capture,omitempty"`
	CaptureFormat  CaptureFormat            `json:"capture_format,omitempty" yaml:"capture_format,omitempty"`
	CaptureStreams []CaptureStream          `json:"capture_streams,omitempty" yaml:"capture_streams,omitempty"`
	OnFailure      *OnFailure               `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`
	OnSuccess      *Step                    `json:"on_success,omitempty" yaml:"on_success,omitempty"`
	OnExitCode     map[int]*Step            `json:"on_exit_code,omitempty" yaml:"on_exit_code,omitempty"`
	Retry          *RetryPolicy             `json:"retry,omitempty" yaml:"retry,omitempty"`
	CommitRequired bool                     `json:"commit_required,omitempty" yaml:"commit_required,omitempty"`
	AutoCommit     bool                     `json:"auto_commit,omitempty" yaml:"auto_commit,omitempty"`
	CommitMessage  string                   `json:"commit_message,omitempty" yaml:"commit_message,omitempty"`
	When           string                   `json:"when,omitempty" yaml:"when,omitempty"`
	Lax            bool                     `json:"lax,omitempty" yaml:"lax,omitempty"`
}

// OnFailure nests a recovery step plus whether recovering it still fails the workflow.
type OnFailure struct {
	Step         *Step `json:"step" yaml:"step"`
	FailWorkflow bool  `json:"fail_workflow,omitempty" yaml:"fail_workflow,omitempty"`
}

// WriteFileSpec is the write-file step kind payload.
type WriteFileSpec struct {
	Path    string `json:"path" yaml:"path"`
	Content string `json:"content" yaml:"content"`
	Append  bool   `json:"append,omitempty" yaml:"append,omitempty"`
	Mode    string `json:"mode,omitempty" yaml:"mode,omitempty"`
}

// GoalSeekSpec is the goal-seek step kind payload: run Command, then Validate
// against the result, repeating until Threshold is reached or attempts run out.
type GoalSeekSpec struct {
	Command     string `json:"command" yaml:"command"`
	Validate    string `json:"validate" yaml:"validate"`
	Threshold   int    `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	MaxAttempts int    `json:"max_attempts" yaml:"max_attempts"`
}

// ForeachSpec is the foreach step kind payload: an items expression
// evaluated against the current context and a nested step list to run per item.
type ForeachSpec struct {
	ItemsExpr      string `json:"items" yaml:"items"`
	Steps          []Step `json:"steps" yaml:"steps"`
	MaxConcurrency int    `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty"`
}
