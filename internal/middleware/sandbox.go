package middleware

import (
	"context"
	"os/exec"
	"time"

	"github.com/rscheiwe/deepharness/internal/toolkit"
)

// Sandbox exposes an execute tool that runs a command as a plain child
// process (os/exec, no process-group or other isolation), using an
// allow-list of permitted binaries. The harness treats actual sandboxing
// (container or VM isolation) as out of scope — this is a thin,
// allow-listed subprocess runner, not a security boundary. The tool is
// wrapped in WithRetry, but a failed command is reported as an
// unsuccessful Result rather than an error, so it is not re-run.
type Sandbox struct {
	NoOp
	allowedBins map[string]bool
	timeout     time.Duration
}

// NewSandbox builds the Sandbox middleware, only permitting commands whose
// first argument is in allowedBins.
func NewSandbox(allowedBins []string, timeout time.Duration) *Sandbox {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	allowed := make(map[string]bool, len(allowedBins))
	for _, b := range allowedBins {
		allowed[b] = true
	}
	return &Sandbox{allowedBins: allowed, timeout: timeout}
}

func (s *Sandbox) Name() string { return "sandbox" }

func (s *Sandbox) Tools() []toolkit.Tool {
	tool := &executeTool{allowedBins: s.allowedBins, timeout: s.timeout}
	return []toolkit.Tool{WithRetry(tool, s.timeout)}
}

type executeTool struct {
	allowedBins map[string]bool
	timeout     time.Duration
}

func (executeTool) Name() string        { return "execute" }
func (executeTool) Kind() toolkit.Kind  { return toolkit.KindExecute }
func (executeTool) Description() string { return "Run an allow-listed command and return its output." }
func (executeTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{"type": "string"},
			"args":    map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		},
		"required": []string{"command"},
	}
}

func (t *executeTool) Execute(ctx context.Context, args map[string]interface{}) (*toolkit.Result, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return &toolkit.Result{Output: "Error: 'command' is required", Success: false}, nil
	}
	if len(t.allowedBins) > 0 && !t.allowedBins[command] {
		return &toolkit.Result{Output: "Error: command not in allow list", Success: false}, nil
	}

	var argv []string
	if raw, ok := args["args"].([]interface{}); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				argv = append(argv, s)
			}
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command, argv...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &toolkit.Result{Output: string(out), Success: false, Error: err.Error()}, nil
	}
	return &toolkit.Result{Output: string(out), Success: true}, nil
}
