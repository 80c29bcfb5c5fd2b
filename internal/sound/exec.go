package sound

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
)

// ExecPlayer plays sounds by running a command. Each "{sound}" in the argv
// is replaced with the sound name.
type ExecPlayer struct {
	Argv []string
}

// DefaultCommand returns a player argv for the current OS, or nil.
func DefaultCommand() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"afplay", "/System/Library/Sounds/{sound}.aiff"}
	case "linux":
		return []string{"canberra-gtk-play", "-i", "{sound}"}
	}
	return nil
}

func NewExecPlayer(argv []string) *ExecPlayer {
	if len(argv) == 0 {
		argv = DefaultCommand()
	}
	return &ExecPlayer{Argv: append([]string(nil), argv...)}
}

func (p *ExecPlayer) Play(ctx context.Context, name string) error {
	if p == nil || len(p.Argv) == 0 {
		return errors.New("no sound command configured")
	}
	args := make([]string, len(p.Argv))
	for i, a := range p.Argv {
		args[i] = strings.ReplaceAll(a, "{sound}", name)
	}
	return exec.CommandContext(ctx, args[0], args[1:]...).Run()
}
