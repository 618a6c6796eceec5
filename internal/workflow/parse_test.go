package workflow

import (
	"strings"
	"testing"
)

func TestParse_HappyPathMapReduce(t *testing.T) {
	data := []byte(`
name: demo
mode: mapreduce
map:
  input: items.json
  max_parallel: 2
  timeout_per_agent: 30s
  retry_on_failure: 1
  agent_template:
    - kind: shell
      shell: "echo ${item.id}"
`)
	def, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if def.Map.MaxParallel != 2 {
		t.Errorf("max_parallel = %d, want 2", def.Map.MaxParallel)
	}
	if def.Map.TimeoutPerAgent.AsTime().Seconds() != 30 {
		t.Errorf("timeout_per_agent = %v, want 30s", def.Map.TimeoutPerAgent.AsTime())
	}
}

func TestParse_RejectsInvalidMaxParallel(t *testing.T) {
	data := []byte(`
name: demo
mode: mapreduce
map:
  input: items.json
  max_parallel: 0
  timeout_per_agent: 30s
  agent_template:
    - kind: shell
      shell: "echo hi"
`)
	_, err := Parse(data)
	if err == nil {
		t.Fatal("expected validation error for max_parallel=0")
	}
	if !strings.Contains(err.Error(), "validation") {
		t.Errorf("error = %v, want validation error", err)
	}
}

func TestValidateStep_RejectsMultipleKinds(t *testing.T) {
	res := ValidationResult{}
	validateStep(Step{Shell: "echo hi", Test: "echo bye"}, "step", &res)
	if res.OK() {
		t.Fatal("expected error for multiple step kinds set")
	}
}

func TestHash_Deterministic(t *testing.T) {
	a := Hash([]byte("hello"))
	b := Hash([]byte("hello"))
	if a != b {
		t.Errorf("hash not deterministic: %s != %s", a, b)
	}
	if a == Hash([]byte("world")) {
		t.Errorf("different content produced same hash")
	}
}
