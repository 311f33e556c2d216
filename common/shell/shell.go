package shell

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/pkg/errors"
)

// Output receives one line of combined process output, without the
// trailing newline.
type Output func(line string)

// Quote renders a command line in shell quoted form, as echoed into logs.
func Quote(name string, args ...string) string {
	return shellescape.QuoteCommand(append([]string{name}, args...))
}

// Run executes name with args in dir, streaming combined stdout and stderr
// line by line to out. When echo is true the quoted command line is written
// first, prefixed with "$: ". The PATH of the server process is kept so
// commands can be found; everything else comes from env.
func Run(ctx context.Context, out Output, dir string, env []string, echo bool, name string, args ...string) error {
	if echo {
		out("$: " + Quote(name, args...))
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(env, "PATH="+os.Getenv("PATH"))

	// Stdout and Stderr share one writer so os/exec gives both streams the
	// same pipe and lines arrive whole.
	lw := &lineWriter{out: out}
	cmd.Stdout = lw
	cmd.Stderr = lw

	err := cmd.Run()
	lw.flush()
	if err != nil {
		return errors.Wrapf(err, "error running %s", Quote(name, args...))
	}
	return nil
}

// RunOutput executes name with args in dir and returns its trimmed stdout.
func RunOutput(ctx context.Context, dir string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	buf, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return "", errors.Wrapf(err, "error running %s: %s", Quote(name, args...), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", errors.Wrapf(err, "error running %s", Quote(name, args...))
	}
	return strings.TrimSpace(string(buf)), nil
}

// lineWriter splits a byte stream into lines and hands them to out.
// A trailing partial line is delivered by flush.
type lineWriter struct {
	out Output
	buf bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Partial line, keep it buffered for the next write.
			w.buf.WriteString(line)
			break
		}
		w.out(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if w.buf.Len() > 0 {
		w.out(strings.TrimRight(w.buf.String(), "\r\n"))
		w.buf.Reset()
	}
}
