package security

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// PySandbox runs untrusted Python snippets in a resource-limited subprocess.
// Static screening rejects dangerous imports and dunder access before any
// process starts; the subprocess itself runs under ulimit caps and is killed
// with SIGTERM then SIGKILL on timeout.
type PySandbox struct {
	WorkDir   string
	Timeout   time.Duration
	CPUSecs   int
	RSSMB     int
	FSizeMB   int
	MaxProcs  int
	MaxFiles  int
	logger    *zap.Logger
}

// NewPySandbox builds a sandbox with conservative limits.
func NewPySandbox(workDir string, timeout time.Duration, logger *zap.Logger) *PySandbox {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PySandbox{
		WorkDir:  workDir,
		Timeout:  timeout,
		CPUSecs:  10,
		RSSMB:    256,
		FSizeMB:  16,
		MaxProcs: 16,
		MaxFiles: 64,
		logger:   logger.With(zap.String("component", "py-sandbox")),
	}
}

// deniedImports cover process spawning, filesystem escape, network, and
// introspection escape hatches.
var deniedImports = []string{
	"os", "sys", "subprocess", "shutil", "socket", "ctypes",
	"multiprocessing", "threading", "importlib", "pickle", "marshal",
	"signal", "resource", "pty", "fcntl", "pathlib", "tempfile",
	"urllib", "http", "ftplib", "telnetlib", "smtplib",
}

var (
	importPattern = regexp.MustCompile(`(?m)^\s*(?:import|from)\s+([A-Za-z_][A-Za-z0-9_.]*)`)
	dunderPattern = regexp.MustCompile(`__[A-Za-z]+__`)
	builtinEscape = regexp.MustCompile(`\b(eval|exec|compile|open|input|globals|locals|vars|getattr|setattr|delattr)\s*\(`)
)

// screen rejects code that reaches for denied modules or dunder machinery.
func screen(code string) error {
	for _, m := range importPattern.FindAllStringSubmatch(code, -1) {
		root := strings.SplitN(m[1], ".", 2)[0]
		for _, denied := range deniedImports {
			if root == denied {
				return fmt.Errorf("Security blocked: import of %q is not allowed", root)
			}
		}
	}
	if dunderPattern.MatchString(code) {
		return fmt.Errorf("Security blocked: dunder access is not allowed")
	}
	if builtinEscape.MatchString(code) {
		return fmt.Errorf("Security blocked: dangerous builtin call")
	}
	return nil
}

// Eval executes the snippet and returns combined stdout/stderr.
func (s *PySandbox) Eval(ctx context.Context, code string) (string, error) {
	if err := screen(code); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.WorkDir, "pyeval-*.py")
	if err != nil {
		return "", fmt.Errorf("create snippet: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(code); err != nil {
		tmp.Close()
		return "", err
	}
	tmp.Close()

	// ulimit prelude caps CPU, RSS, file size, open fds, and process count
	// before exec'ing the interpreter.
	prelude := fmt.Sprintf(
		"ulimit -t %d -v %d -f %d -n %d -u %d 2>/dev/null; exec python3 -I %s",
		s.CPUSecs,
		s.RSSMB*1024,
		s.FSizeMB*1024*2, // ulimit -f is in 512-byte blocks
		s.MaxFiles,
		s.MaxProcs,
		shellQuote(tmp.Name()),
	)

	runCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", prelude)
	cmd.Dir = s.WorkDir
	cmd.Env = []string{"PATH=/usr/local/bin:/usr/bin:/bin", "HOME=" + s.WorkDir}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Escalate: SIGTERM first, SIGKILL if the group ignores it.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		time.AfterFunc(2*time.Second, func() {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		})
		return nil
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err = cmd.Run()
	s.logger.Debug("python_eval finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("timed_out", runCtx.Err() == context.DeadlineExceeded),
		zap.Error(err),
	)

	if runCtx.Err() == context.DeadlineExceeded {
		return out.String(), fmt.Errorf("execution timed out after %s", s.Timeout)
	}
	if err != nil {
		return out.String(), fmt.Errorf("python exited with error: %w", err)
	}
	return out.String(), nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
