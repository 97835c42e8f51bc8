package types

import "context"

// CommandExecutor is an interface for executing external tools.
type CommandExecutor interface {
	// ExecuteCommand runs a command with the given name, arguments, and environment
	// variables. The context bounds the invocation: when its deadline passes the
	// process is killed and the error reflects the timeout.
	// It returns the standard output, standard error, and any error that occurred.
	ExecuteCommand(ctx context.Context, name string, args []string, env []string) (stdout string, stderr string, err error)
}
