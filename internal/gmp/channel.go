// Package gmp talks to the scanner manager daemon over its XML management
// protocol. A Channel carries one command string per call; Client builds the
// typed commands and decodes the replies on top of it.
package gmp

//go:generate mockgen -destination=mocks/mock_channel.go -package=mocks github.com/anstrom/gvmscan/internal/gmp Channel

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/anstrom/gvmscan/internal/errors"
	"github.com/anstrom/gvmscan/internal/logging"
)

// Channel sends a single command to the daemon and returns the raw reply.
// Implementations never retry; failures to deliver are *errors.TransportError.
type Channel interface {
	Execute(ctx context.Context, command string) ([]byte, error)
}

// CommandRunner executes a process and returns its stdout and stderr.
type CommandRunner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// CLIConfig configures a CLIChannel.
type CLIConfig struct {
	Binary     string
	Username   string
	Password   string
	SocketPath string

	// RunAs executes the client through "su - <user> -c" when set.
	RunAs string
}

// CLIChannel delivers commands by running the gvm-cli client once per command.
type CLIChannel struct {
	config CLIConfig
	run    CommandRunner
}

// NewCLIChannel creates a channel that shells out to the command-line client.
func NewCLIChannel(cfg CLIConfig) *CLIChannel {
	return &CLIChannel{config: cfg, run: execRunner}
}

// WithRunner replaces the process runner.
func (c *CLIChannel) WithRunner(run CommandRunner) *CLIChannel {
	c.run = run
	return c
}

// Execute implements Channel.
func (c *CLIChannel) Execute(ctx context.Context, command string) ([]byte, error) {
	name, args := c.invocation(command)

	stdout, stderr, err := c.run(ctx, name, args...)
	if err != nil {
		return nil, errors.NewTransportError(commandName(command), "command execution failed", err).
			WithOutput(strings.TrimSpace(string(stderr)))
	}

	out := bytes.TrimSpace(stdout)
	if len(out) == 0 {
		return nil, errors.NewTransportError(commandName(command), "empty reply from daemon", nil).
			WithOutput(strings.TrimSpace(string(stderr)))
	}
	return out, nil
}

// invocation returns the program and arguments for one command.
func (c *CLIChannel) invocation(command string) (string, []string) {
	args := []string{
		"--gmp-username", c.config.Username,
		"--gmp-password", c.config.Password,
		"socket",
	}
	if c.config.SocketPath != "" {
		args = append(args, "--socketpath", c.config.SocketPath)
	}
	args = append(args, "--xml", command)

	if c.config.RunAs == "" {
		return c.config.Binary, args
	}

	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, shellQuote(c.config.Binary))
	for _, a := range args {
		quoted = append(quoted, shellQuote(a))
	}
	return "su", []string{"-", c.config.RunAs, "-c", strings.Join(quoted, " ")}
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// debugChannel echoes every command and reply to a logger.
type debugChannel struct {
	next   Channel
	logger *logging.Logger
}

// WithDebug wraps ch so that commands and raw replies are logged at debug
// level. The wrapper never alters the reply or the error.
func WithDebug(ch Channel, logger *logging.Logger) Channel {
	if logger == nil {
		return ch
	}
	return &debugChannel{next: ch, logger: logger.WithComponent("gmp")}
}

func (d *debugChannel) Execute(ctx context.Context, command string) ([]byte, error) {
	d.logger.DebugContext(ctx, "Sending command", "command", redact(command))
	resp, err := d.next.Execute(ctx, command)
	if err != nil {
		d.logger.DebugContext(ctx, "Command failed", "command", commandName(command), "error", err)
		return resp, err
	}
	d.logger.DebugContext(ctx, "Response", "command", commandName(command), "response", string(resp))
	return resp, nil
}

// commandName returns the root element name of an XML command.
func commandName(command string) string {
	s := strings.TrimSpace(command)
	s = strings.TrimPrefix(s, "<")
	if i := strings.IndexAny(s, " \t\r\n/>"); i >= 0 {
		s = s[:i]
	}
	return s
}

// redact hides the password of an authenticate command.
func redact(command string) string {
	start := strings.Index(command, "<password>")
	end := strings.Index(command, "</password>")
	if start < 0 || end < start {
		return command
	}
	return command[:start+len("<password>")] + "***" + command[end:]
}
