package encoding

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"ffqueue/internal/config"
	"ffqueue/internal/logging"
	"ffqueue/internal/queue"
)

var commandContext = exec.CommandContext

// stderrTailLines bounds the stderr kept for failure classification.
const stderrTailLines = 40

// Option configures the ffmpeg encoder.
type Option func(*FFmpeg)

// WithBinaries overrides the ffmpeg and ffprobe executables.
func WithBinaries(ffmpeg, ffprobe string) Option {
	return func(f *FFmpeg) {
		if ffmpeg != "" {
			f.ffmpeg = ffmpeg
		}
		if ffprobe != "" {
			f.ffprobe = ffprobe
		}
	}
}

// WithLogger sets the logger used for launch and exit records.
func WithLogger(logger *slog.Logger) Option {
	return func(f *FFmpeg) {
		f.logger = logging.NewComponentLogger(logger, "encoder")
	}
}

// FFmpeg runs encodes with the ffmpeg command-line tool.
type FFmpeg struct {
	ffmpeg  string
	ffprobe string
	logger  *slog.Logger
}

// NewFFmpeg constructs an encoder using ffmpeg and ffprobe from PATH unless
// overridden.
func NewFFmpeg(opts ...Option) *FFmpeg {
	f := &FFmpeg{ffmpeg: "ffmpeg", ffprobe: "ffprobe", logger: logging.NewNop()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewFFmpegFromConfig uses the configured binaries.
func NewFFmpegFromConfig(cfg *config.Config, logger *slog.Logger) *FFmpeg {
	return NewFFmpeg(WithBinaries(cfg.FFmpegBinary(), cfg.FFprobeBinary()), WithLogger(logger))
}

func (f *FFmpeg) encodeArgs(req Request) []string {
	args := []string{"-hide_banner", "-nostats", "-y", "-progress", "pipe:1"}
	if req.StartSeconds > 0 {
		args = append(args, "-ss", strconv.FormatFloat(req.StartSeconds, 'f', 6, 64))
	}
	args = append(args, "-i", req.InputPath)
	args = append(args, req.Args...)
	return append(args, req.OutputPath)
}

// Start launches ffmpeg for req. The process runs in its own process group
// so Abort reaches any helpers it spawns.
func (f *FFmpeg) Start(ctx context.Context, req Request, events Events) (Handle, error) {
	if req.InputPath == "" {
		return nil, errors.New("input path required")
	}
	if req.OutputPath == "" {
		return nil, errors.New("output path required")
	}
	if failure := Preflight(req.InputPath, req.OutputPath); failure != nil {
		return nil, &FailureError{Failure: *failure}
	}

	args := f.encodeArgs(req)
	cmd := commandContext(ctx, f.ffmpeg, args...) //nolint:gosec
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	p := &process{cmd: cmd, input: req.InputPath, done: make(chan struct{})}
	cmd.Cancel = func() error {
		p.markAborted()
		return p.signal(unix.SIGKILL)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	p.stdin = stdin

	f.logger.Info("launching ffmpeg",
		logging.JobID(req.JobID),
		logging.String("command", f.ffmpeg+" "+strings.Join(args, " ")),
		logging.Float64("start_seconds", req.StartSeconds),
	)
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, &FailureError{Failure: queue.Failure{
				Kind:      queue.FailureMissingEncoder,
				Component: f.ffmpeg,
				Reason:    "ffmpeg executable not found",
			}}
		}
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		parser := newProgressParser(req.StartSeconds)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			tick, ok := parser.feed(scanner.Text())
			if !ok {
				continue
			}
			p.setProgress(tick)
			if events.OnProgress != nil {
				events.OnProgress(tick)
			}
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			p.appendStderr(line)
			if events.OnLog != nil {
				events.OnLog(line)
			}
		}
	}()
	go func() {
		wg.Wait()
		err := cmd.Wait()
		p.finish(err)
		f.logger.Debug("ffmpeg exited",
			logging.JobID(req.JobID),
			logging.Bool("stopped", p.result.Stopped),
			logging.Bool("aborted", p.result.Aborted),
			logging.Error(err),
		)
	}()
	return p, nil
}

type process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	input string
	done  chan struct{}

	mu       sync.Mutex
	stopped  bool
	aborted  bool
	last     Progress
	stderr   []string
	result   Result
	stopOnce sync.Once
}

func (p *process) setProgress(tick Progress) {
	p.mu.Lock()
	p.last = tick
	p.mu.Unlock()
}

func (p *process) appendStderr(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	p.mu.Lock()
	p.stderr = append(p.stderr, line)
	if len(p.stderr) > stderrTailLines {
		p.stderr = p.stderr[len(p.stderr)-stderrTailLines:]
	}
	p.mu.Unlock()
}

func (p *process) markAborted() {
	p.mu.Lock()
	p.aborted = true
	p.mu.Unlock()
}

func (p *process) signal(sig syscall.Signal) error {
	if p.cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-p.cmd.Process.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// RequestStop writes "q" to ffmpeg's stdin, which makes it finalize the
// output container and exit. SIGINT is the fallback when stdin is gone.
func (p *process) RequestStop() error {
	var err error
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
		if _, werr := io.WriteString(p.stdin, "q\n"); werr != nil {
			err = p.signal(unix.SIGINT)
			return
		}
		_ = p.stdin.Close()
	})
	return err
}

func (p *process) Terminate(grace time.Duration) {
	p.markAborted()
	if err := p.signal(unix.SIGTERM); err != nil || grace <= 0 {
		p.Abort()
		return
	}
	go func() {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-p.done:
		case <-timer.C:
			p.Abort()
		}
	}()
}

func (p *process) Abort() {
	p.markAborted()
	if err := p.signal(unix.SIGKILL); err != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

func (p *process) Wait() Result {
	<-p.done
	return p.result
}

func (p *process) finish(err error) {
	p.mu.Lock()
	res := Result{Stopped: p.stopped, Aborted: p.aborted, LastProgress: p.last}
	if err != nil && !res.Stopped && !res.Aborted {
		res.Failure = Classify(append([]string(nil), p.stderr...), p.input, err)
	}
	p.result = res
	p.mu.Unlock()
	close(p.done)
}

var _ Encoder = (*FFmpeg)(nil)
