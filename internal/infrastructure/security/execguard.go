package security

import (
	"fmt"
	"regexp"
	"strings"
)

// ExecGuard vets shell command lines before the exec tool runs them. It is a
// first-word allowlist plus a pattern blocklist; pipes and redirects need an
// explicit operator opt-in.
type ExecGuard struct {
	AllowShellOps bool // SALMALM_ALLOW_SHELL: permit | > < && ; etc.
}

// allowedCommands is the first-word allowlist.
var allowedCommands = map[string]bool{
	"ls": true, "cat": true, "head": true, "tail": true, "grep": true,
	"find": true, "wc": true, "sort": true, "uniq": true, "cut": true,
	"tr": true, "diff": true, "file": true, "stat": true, "du": true,
	"df": true, "pwd": true, "whoami": true, "date": true, "echo": true,
	"printf": true, "which": true, "uname": true, "uptime": true,
	"mkdir": true, "touch": true, "cp": true, "mv": true,
	"git": true, "go": true, "make": true, "tar": true, "gzip": true,
	"gunzip": true, "unzip": true, "curl": true, "wget": true,
	"ping": true, "host": true, "dig": true,
}

// blockedPatterns catch destructive or escalating command shapes regardless
// of the first word.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-\w*\s+)*-\w*[rf]`),    // rm -rf and friends
	regexp.MustCompile(`\brm\s+.*(/|\*)`),               // rm on roots or globs
	regexp.MustCompile(`\bmkfs\b|\bdd\s+.*of=/dev/`),    // disk clobbering
	regexp.MustCompile(`\bshutdown\b|\breboot\b|\bhalt\b`),
	regexp.MustCompile(`\bchmod\s+(-\w+\s+)*0?777\b`),
	regexp.MustCompile(`\bsudo\b|\bsu\s`),
	regexp.MustCompile(`\bkill\s+-9\s+1\b|\bpkill\b.*-9`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`), // fork bomb
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh`),
	regexp.MustCompile(`\bwget\b.*\|\s*(ba)?sh`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
	regexp.MustCompile(`\bcrontab\b|\bsystemctl\b|\bservice\b`),
}

// interpreters are blocked in favor of the python_eval sandbox.
var interpreters = map[string]bool{
	"python": true, "python2": true, "python3": true,
	"node": true, "ruby": true, "perl": true, "php": true,
	"sh": true, "bash": true, "zsh": true, "dash": true, "fish": true,
	"eval": true, "exec": true, "source": true,
}

var shellOps = []string{"|", ">", "<", ">>", "&&", "||", ";", "`", "$("}

// Check validates a command line. A nil return means the line may run.
func (g *ExecGuard) Check(command string) error {
	line := strings.TrimSpace(command)
	if line == "" {
		return fmt.Errorf("Blocked: empty command")
	}

	for _, pat := range blockedPatterns {
		if pat.MatchString(line) {
			return fmt.Errorf("Blocked: command matches a denied pattern")
		}
	}

	if !g.AllowShellOps {
		for _, op := range shellOps {
			if strings.Contains(line, op) {
				return fmt.Errorf("Blocked: pipes and redirects require SALMALM_ALLOW_SHELL=1")
			}
		}
	}

	fields := strings.Fields(line)
	first := strings.ToLower(fields[0])
	if interpreters[first] {
		return fmt.Errorf("Blocked: use python_eval for script execution")
	}
	if !allowedCommands[first] {
		return fmt.Errorf("Blocked: command %q is not on the allowlist", first)
	}
	return nil
}
