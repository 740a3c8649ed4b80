// Host binding: selects a remote host for a recipe via round-robin and
// wraps its command in a user-supplied remote-shell invocation
// (spec.md §4.8 "Host binding", §6 "Command execution").

package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// HostBinder hands out hosts round-robin, either from a recipe's own
// host_binding word list or from the global parallel_hosts variable.
type HostBinder struct {
	mu          sync.Mutex
	globalHosts []string
	globalNext  int
	perRecipe   map[*Recipe]int
}

func NewHostBinder(globalHosts []string) *HostBinder {
	return &HostBinder{globalHosts: globalHosts, perRecipe: make(map[*Recipe]int)}
}

// Next returns the host to bind r's next invocation to, or "" for local
// execution, given r's own (possibly empty) host-binding word list.
func (b *HostBinder) Next(r *Recipe, own []string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(own) > 0 {
		i := b.perRecipe[r]
		b.perRecipe[r] = (i + 1) % len(own)
		return own[i]
	}
	if len(b.globalHosts) == 0 {
		return ""
	}
	i := b.globalNext
	b.globalNext = (i + 1) % len(b.globalHosts)
	return b.globalHosts[i]
}

// RemoteRunner wraps a command in the parallel_rsh invocation: writes a
// small shell script locally, invokes the remote shell to `sh` it in the
// current working directory, and recovers the exit status through a
// temporary file, since rsh itself does not propagate it (spec.md §4.8).
type RemoteRunner struct {
	RshCommand string // default "rsh"
}

func NewRemoteRunner(rsh string) *RemoteRunner {
	if rsh == "" {
		rsh = "rsh"
	}
	return &RemoteRunner{RshCommand: rsh}
}

// Run executes argv on host, returning the remote command's exit status
// (0 on success) and any local error (script/tempfile/ssh-transport
// failures).
func (r *RemoteRunner) Run(host string, cwd string, argv []string) (exitStatus int, err error) {
	script, err := os.CreateTemp("", "cook-remote-*.sh")
	if err != nil {
		return -1, newErr(ErrSystemCall, Position{}, "create remote script: "+err.Error())
	}
	defer os.Remove(script.Name())

	statusFile, err := os.CreateTemp("", "cook-status-*")
	if err != nil {
		return -1, newErr(ErrSystemCall, Position{}, "create status file: "+err.Error())
	}
	statusPath := statusFile.Name()
	statusFile.Close()
	defer os.Remove(statusPath)

	cmdLine := shellQuoteAll(argv)
	fmt.Fprintf(script, "cd %s\n%s\necho $? > %s\n", shellQuote(cwd), cmdLine, shellQuote(statusPath))
	script.Close()

	cmd := exec.Command(r.RshCommand, host, "sh")
	f, err := os.Open(script.Name())
	if err != nil {
		return -1, newErr(ErrSystemCall, Position{}, "open remote script: "+err.Error())
	}
	defer f.Close()
	cmd.Stdin = f
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		// rsh's own exit status is not meaningful; the real status lives in
		// statusPath, read below regardless of this error.
	}

	buf, rerr := os.ReadFile(statusPath)
	if rerr != nil || len(buf) == 0 {
		return -1, newErr(ErrSystemCall, Position{}, "remote command on "+host+" did not report a status")
	}
	status := 0
	for _, c := range buf {
		if c < '0' || c > '9' {
			break
		}
		status = status*10 + int(c-'0')
	}
	return status, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func shellQuoteAll(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		parts[i] = shellQuote(a)
	}
	return strings.Join(parts, " ")
}
