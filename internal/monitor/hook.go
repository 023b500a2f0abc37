package monitor

import (
	"context"
	"os/exec"
	"strings"
)

// RunHook executes commandTemplate, a shell command string that may contain
// the $INITIATOR, $EVENT, and $NODELIST placeholders, substituting them per
// the command string before running it. Exit status
// is the caller's concern to log; it never feeds back into routing.
func RunHook(ctx context.Context, commandTemplate string, initiator string, evt Event, nodelist []string) error {
	repl := strings.NewReplacer(
		"$INITIATOR", initiator,
		"$EVENT", string(evt),
		"$NODELIST", strings.Join(nodelist, ","),
	)
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", repl.Replace(commandTemplate))
	return cmd.Run()
}
