package notifier

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Desktop raises an OS notification by running a command. Each argv element
// may use the placeholders {title}, {body}, {url} and {symbol}.
type Desktop struct {
	argv []string
	run  func(ctx context.Context, argv []string) error
}

// DefaultDesktopCommand returns a notifier argv for the current OS, or nil.
func DefaultDesktopCommand() []string {
	switch runtime.GOOS {
	case "linux":
		return []string{"notify-send", "--app-name=tickerwatch", "{title}", "{body}\n{url}"}
	case "darwin":
		return []string{"osascript", "-e", `display notification "{body}" with title "{title}" subtitle "{url}"`}
	}
	return nil
}

func NewDesktop(argv []string) *Desktop {
	if len(argv) == 0 {
		argv = DefaultDesktopCommand()
	}
	return &Desktop{argv: append([]string(nil), argv...), run: runCommand}
}

func (d *Desktop) Name() string { return "desktop" }

func (d *Desktop) Deliver(ctx context.Context, n Notification) error {
	if len(d.argv) == 0 {
		return errors.New("desktop: no notifier command for " + runtime.GOOS)
	}
	return d.run(ctx, d.expand(n))
}

func (d *Desktop) expand(n Notification) []string {
	r := strings.NewReplacer(
		"{title}", n.Title(),
		"{body}", n.Body(),
		"{url}", n.ChartURL,
		"{symbol}", n.Symbol,
	)
	out := make([]string, len(d.argv))
	for i, a := range d.argv {
		out[i] = r.Replace(a)
	}
	return out
}

func runCommand(ctx context.Context, argv []string) error {
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return fmt.Errorf("%s: %w: %s", argv[0], err, msg)
	}
	return nil
}
