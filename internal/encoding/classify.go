package encoding

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/sys/unix"

	"ffqueue/internal/queue"
)

type failureRule struct {
	pattern *regexp.Regexp
	kind    queue.FailureKind
	reason  string
}

var failureRules = []failureRule{
	{regexp.MustCompile(`Unknown encoder '([^']+)'`), queue.FailureMissingEncoder, "ffmpeg build lacks the requested encoder"},
	{regexp.MustCompile(`Encoder \(codec ([^)]+)\) not found`), queue.FailureMissingEncoder, "ffmpeg build lacks the requested encoder"},
	{regexp.MustCompile(`No such filter: '([^']+)'`), queue.FailureMissingFilter, "ffmpeg build lacks the requested filter"},
	{regexp.MustCompile(`Filter '?([^' ]+)'? not found`), queue.FailureMissingFilter, "ffmpeg build lacks the requested filter"},
	{regexp.MustCompile(`Decoder \(codec ([^)]+)\) not found`), queue.FailureMissingDecoder, "ffmpeg cannot decode the input"},
	{regexp.MustCompile(`Unknown decoder '([^']+)'`), queue.FailureMissingDecoder, "ffmpeg cannot decode the input"},
	{regexp.MustCompile(`error while loading shared libraries: ([^:]+):`), queue.FailureMissingLibrary, "ffmpeg could not load a shared library"},
}

// Classify maps an ffmpeg failure to a queue.Failure using the tail of its
// stderr. The generic encoder_crash kind carries the last meaningful line.
func Classify(stderrTail []string, input string, exitErr error) *queue.Failure {
	text := strings.Join(stderrTail, "\n")
	for _, rule := range failureRules {
		if m := rule.pattern.FindStringSubmatch(text); m != nil {
			return &queue.Failure{Kind: rule.kind, Component: m[1], Reason: rule.reason}
		}
	}
	switch {
	case strings.Contains(text, "Permission denied"):
		return &queue.Failure{Kind: queue.FailurePermissionDenied, Component: input, Reason: lastLine(stderrTail, "permission denied")}
	case input != "" && strings.Contains(text, input) && strings.Contains(text, "No such file or directory"):
		return &queue.Failure{Kind: queue.FailureInputNotFound, Component: input, Reason: "input file does not exist"}
	}

	reason := lastLine(stderrTail, "")
	if reason == "" && exitErr != nil {
		reason = exitErr.Error()
	}
	if reason == "" {
		reason = "ffmpeg exited with an error"
	}
	return &queue.Failure{Kind: queue.FailureEncoderCrash, Reason: reason}
}

func lastLine(lines []string, fallback string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return fallback
}

// Preflight checks that input is readable and the output directory is
// writable before a run is launched.
func Preflight(input, output string) *queue.Failure {
	if _, err := os.Stat(input); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &queue.Failure{Kind: queue.FailureInputNotFound, Component: input, Reason: "input file does not exist"}
		}
		return &queue.Failure{Kind: queue.FailurePermissionDenied, Component: input, Reason: err.Error()}
	}
	if err := unix.Access(input, unix.R_OK); err != nil {
		return &queue.Failure{Kind: queue.FailurePermissionDenied, Component: input, Reason: "input is not readable: " + err.Error()}
	}
	if output == "" {
		return nil
	}
	dir := filepath.Dir(output)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &queue.Failure{Kind: queue.FailurePermissionDenied, Component: dir, Reason: err.Error()}
	}
	if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
		return &queue.Failure{Kind: queue.FailurePermissionDenied, Component: dir, Reason: "output directory is not writable: " + err.Error()}
	}
	return nil
}
