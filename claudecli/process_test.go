package claudecli

import (
	"strings"
	"testing"

	"github.com/agentmux/agentmux"
)

func buildArgs(spec spawnSpec, opts ...Option) []string {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return newProcessManager(spec, config).BuildCLIArgs()
}

func TestBuildCLIArgsBase(t *testing.T) {
	args := buildArgs(spawnSpec{Prompt: "what is 2+2?"})
	joined := strings.Join(args, " ")
	if !strings.HasPrefix(joined, "-p what is 2+2? --output-format stream-json --verbose") {
		t.Errorf("unexpected base args: %v", args)
	}
}

func TestBuildCLIArgsModel(t *testing.T) {
	args := buildArgs(spawnSpec{Prompt: "hi", Model: "opus"})
	if !contains(args, "--model", "opus") {
		t.Errorf("missing model flag: %v", args)
	}

	// Adapter-level default applies when the spawn has none.
	args = buildArgs(spawnSpec{Prompt: "hi"}, WithModel("sonnet"))
	if !contains(args, "--model", "sonnet") {
		t.Errorf("missing default model flag: %v", args)
	}
}

func TestBuildCLIArgsPermissionModes(t *testing.T) {
	tests := []struct {
		mode agentmux.PermissionMode
		want []string
		not  []string
	}{
		{agentmux.PermissionBypass, []string{"--dangerously-skip-permissions"}, []string{"--permission-mode"}},
		{agentmux.PermissionAcceptEdits, []string{"--permission-mode", "acceptEdits"}, nil},
		{agentmux.PermissionPlan, []string{"--permission-mode", "plan"}, nil},
		{agentmux.PermissionDefault, nil, []string{"--permission-mode", "--dangerously-skip-permissions"}},
		{"yolo", nil, []string{"--permission-mode", "--dangerously-skip-permissions", "yolo"}},
	}
	for _, tt := range tests {
		args := buildArgs(spawnSpec{Prompt: "hi", PermissionMode: tt.mode})
		joined := strings.Join(args, " ")
		for _, want := range tt.want {
			if !strings.Contains(joined, want) {
				t.Errorf("mode %q: missing %q in %v", tt.mode, want, args)
			}
		}
		for _, not := range tt.not {
			if strings.Contains(joined, not) {
				t.Errorf("mode %q: unexpected %q in %v", tt.mode, not, args)
			}
		}
	}
}

func TestBuildCLIArgsResumeAndExtra(t *testing.T) {
	args := buildArgs(spawnSpec{Prompt: "hi", Resume: "native-1"}, WithExtraArgs("--max-turns", "3"))
	if !contains(args, "--resume", "native-1") {
		t.Errorf("missing resume flag: %v", args)
	}
	if !contains(args, "--max-turns", "3") {
		t.Errorf("missing extra args: %v", args)
	}
}

// contains reports whether args contains the exact consecutive pair.
func contains(args []string, flag, value string) bool {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}
