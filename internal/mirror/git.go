package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Runner executes git subcommands. dir is the working directory ("" for the process cwd).
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// CommandError carries the stderr of a failed git invocation
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExecRunner runs the git binary found on PATH
type ExecRunner struct {
	Binary string
}

// Run implements Runner. Terminal prompts are disabled so a missing
// credential fails fast instead of blocking on stdin.
func (r ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	bin := r.Binary
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return string(out), &CommandError{
			Args:   args,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	return string(out), nil
}

// Stderr fragments that mean the remote refused the request. Checked before
// networkPatterns because "unable to access" accompanies both kinds.
var rejectedPatterns = []string{
	"authentication failed",
	"could not read username",
	"could not read password",
	"invalid username or password",
	"permission denied",
	"access denied",
	"repository not found",
	"does not appear to be a git repository",
	"couldn't find remote ref",
	"remote branch",
	"not found in upstream",
	"does not exist",
	"returned error: 401",
	"returned error: 403",
	"returned error: 404",
}

var networkPatterns = []string{
	"could not resolve host",
	"temporary failure in name resolution",
	"connection refused",
	"connection reset",
	"connection timed out",
	"operation timed out",
	"failed to connect",
	"network is unreachable",
	"no route to host",
	"the remote end hung up unexpectedly",
	"early eof",
	"rpc failed",
	"unexpected disconnect",
	"gnutls",
	"ssl",
	"tls",
	"returned error: 429",
	"returned error: 500",
	"returned error: 502",
	"returned error: 503",
	"returned error: 504",
	"unable to access",
}

// classifyStderr reports whether a git failure looks like a network problem.
// Unknown failures are treated as rejected so they are not retried blindly.
func classifyStderr(stderr string) (retryable bool) {
	s := strings.ToLower(stderr)
	for _, p := range rejectedPatterns {
		if strings.Contains(s, p) {
			return false
		}
	}
	for _, p := range networkPatterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func stderrOf(err error) string {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Stderr
	}
	return ""
}
