// Package git exposes the narrow read-only slice of git the repo kind needs.
// Arguments are always passed as an argv list; revisions must pass SafeRef
// before they reach the subprocess.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrUnsafeRef = errors.New("unsafe git ref")

// fieldSep separates fields in the log format; it cannot occur in a subject.
const fieldSep = "\x1f"

type Commit struct {
	Commit  string `json:"commit"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
}

type Diff struct {
	Output    string
	Truncated bool
}

// Runner is the git capability used by the repo handler.
type Runner interface {
	Diff(ctx context.Context, base, target, path string) (Diff, error)
	Log(ctx context.Context, path string, limit int) ([]Commit, error)
}

type CLI struct {
	dir       string
	timeout   time.Duration
	maxOutput int
}

func NewCLI(dir string, timeout time.Duration, maxOutput int) *CLI {
	return &CLI{
		dir:       dir,
		timeout:   timeout,
		maxOutput: maxOutput,
	}
}

// Diff runs git diff between two validated refs. A non-zero exit status is
// not an error; whatever git wrote to stdout is returned.
func (c *CLI) Diff(ctx context.Context, base, target, path string) (Diff, error) {
	if !SafeRef(base) || !SafeRef(target) {
		return Diff{}, ErrUnsafeRef
	}

	args := []string{"diff", "--no-color", "--no-ext-diff", base, target}
	if path != "" {
		args = append(args, "--", path)
	}

	out := &cappedBuffer{limit: c.maxOutput}
	if err := c.run(ctx, out, args...); err != nil {
		return Diff{}, err
	}

	return Diff{
		Output:    strings.ToValidUTF8(out.String(), ""),
		Truncated: out.overflow,
	}, nil
}

// Log returns up to limit commits, newest first.
func (c *CLI) Log(ctx context.Context, path string, limit int) ([]Commit, error) {
	args := []string{
		"log",
		fmt.Sprintf("-n%d", limit),
		"--pretty=format:%H%x1f%s%x1f%ad",
		"--date=iso",
	}
	if path != "" {
		args = append(args, "--", path)
	}

	out := &cappedBuffer{limit: c.maxOutput}
	if err := c.run(ctx, out, args...); err != nil {
		return nil, err
	}

	return parseLog(out.String()), nil
}

func (c *CLI) run(ctx context.Context, stdout *cappedBuffer, args ...string) error {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = c.dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GIT_OPTIONAL_LOCKS=0")
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() != nil {
		return fmt.Errorf("git %s: %w", args[0], runCtx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		log.Debug().
			Int("exit_code", exitErr.ExitCode()).
			Str("subcommand", args[0]).
			Str("stderr", truncate(stderr.String(), 512)).
			Msg("git exited non-zero")
		return nil
	}
	if err != nil {
		return fmt.Errorf("git %s: %w", args[0], err)
	}
	return nil
}

func parseLog(output string) []Commit {
	commits := []Commit{}
	for _, line := range strings.Split(output, "\n") {
		parts := strings.SplitN(line, fieldSep, 3)
		if len(parts) != 3 {
			continue
		}
		commits = append(commits, Commit{
			Commit:  parts[0],
			Subject: parts[1],
			Date:    parts[2],
		})
	}
	return commits
}

// cappedBuffer keeps the first limit bytes written and discards the rest so
// the subprocess never blocks on a full pipe.
type cappedBuffer struct {
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		if len(p) > 0 {
			b.overflow = true
		}
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.overflow = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
