package tools

import (
	"context"
	"fmt"

	"github.com/nstogner/tiered/pkg/sandbox"
)

const NameRunPython = "run_python"

type PythonArgs struct {
	Code string `json:"code" jsonschema:"description=The python program to run. Print anything you want to see."`
}

// Python returns the run_python tool. Each session gets its own sandbox, so
// files written by one call are visible to the next call of the same session.
func Python(r sandbox.Runner) Descriptor {
	return Typed(NameRunPython, "Run a python 3 program in an isolated sandbox without network access. Returns stdout, stderr and the exit code.",
		func(ctx context.Context, a PythonArgs) (any, error) {
			if a.Code == "" {
				return nil, fmt.Errorf("code is required")
			}
			id := SessionID(ctx)
			if id == "" {
				id = "default"
			}
			return r.RunPython(ctx, id, a.Code)
		})
}
