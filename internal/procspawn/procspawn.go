// Package procspawn isolates how the Kernel Driver turns a command into an
// *exec.Cmd. The broker's core treats process isolation as a deployment
// concern (spec: "process isolation mechanism itself... is a deployment
// concern") — this package supplies exactly one concrete Spawner, a plain
// subprocess rooted at the session's working directory and placed in its own
// process group so the driver can signal the whole tree on shutdown. A
// deployer wanting container or VM isolation supplies a different Spawner.
package procspawn

import (
	"context"
	"os/exec"
)

// Spawner builds a ready-to-Start *exec.Cmd for a command run inside a
// session's working directory.
type Spawner interface {
	Spawn(ctx context.Context, dir string, name string, args ...string) (*exec.Cmd, error)
}

// Plain is the only Spawner this repository ships: no isolation beyond a
// dedicated working directory and process group.
type Plain struct{}

// NewPlain returns the non-isolating Spawner.
func NewPlain() Plain {
	return Plain{}
}

func (Plain) Spawn(ctx context.Context, dir string, name string, args ...string) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	setProcessGroup(cmd)
	return cmd, nil
}
