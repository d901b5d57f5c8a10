package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Command is one external program invocation.
type Command struct {
	Name string
	Args []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Output is the collected result of a finished command.
type Output struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner runs a command to completion. A non-zero exit is reported in Output, not as an
// error; errors mean the command could not be started or did not finish.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// waitDelay bounds how long Run waits for output pipes after the command is killed.
// Helpers spawned by lp or PowerShell can inherit the pipes and outlive their parent.
const waitDelay = 2 * time.Second

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner. When ctx ends the whole process tree is killed.
func (ExecRunner) Run(ctx context.Context, c Command) (Output, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	killProcessTree(cmd)

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		out.ExitCode = -1
		return out, fmt.Errorf("%s did not finish: %w", c.Name, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	out.ExitCode = -1
	return out, fmt.Errorf("failed to start %s: %w", c.Name, err)
}

// CommandSet describes how a platform enumerates printers and prints a text file.
// ParseDefault extracts the default printer name from the Default command output.
// Print sends path to printer; an empty printer means the system default.
type CommandSet struct {
	Platform     string
	LineEnding   string
	List         func() Command
	Default      func() Command
	ParseDefault func(stdout string) string
	Print        func(path, printer string) Command
}

// QuoteArg quotes s for a single-quoted PowerShell string, doubling embedded quotes.
func QuoteArg(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func powershell(script string) Command {
	return Command{
		Name: "powershell",
		Args: []string{"-NoProfile", "-NonInteractive", "-Command", script},
	}
}

// WindowsCommands uses PowerShell's print management cmdlets.
func WindowsCommands() CommandSet {
	return CommandSet{
		Platform:   "windows",
		LineEnding: "\r\n",
		List: func() Command {
			return powershell("Get-Printer | Select-Object -ExpandProperty Name")
		},
		Default: func() Command {
			return powershell("Get-CimInstance -ClassName Win32_Printer | Where-Object { $_.Default } | Select-Object -ExpandProperty Name")
		},
		ParseDefault: firstLine,
		Print: func(path, printer string) Command {
			script := fmt.Sprintf("Get-Content -LiteralPath %s -Encoding UTF8 -Raw | Out-Printer", QuoteArg(path))
			if printer != "" {
				script += " -Name " + QuoteArg(printer)
			}
			return powershell(script)
		},
	}
}

// CUPSCommands uses the CUPS command line tools. Arguments are passed as argv, no shell.
func CUPSCommands() CommandSet {
	return CommandSet{
		Platform:   "cups",
		LineEnding: "\n",
		List: func() Command {
			return Command{Name: "lpstat", Args: []string{"-e"}}
		},
		Default: func() Command {
			return Command{Name: "lpstat", Args: []string{"-d"}}
		},
		ParseDefault: parseLpstatDefault,
		Print: func(path, printer string) Command {
			args := []string{}
			if printer != "" {
				args = append(args, "-d", printer)
			}
			args = append(args, "--", path)
			return Command{Name: "lp", Args: args}
		},
	}
}

// DefaultCommands returns the command set for the running OS.
func DefaultCommands() CommandSet {
	if runtime.GOOS == "windows" {
		return WindowsCommands()
	}
	return CUPSCommands()
}

// ParseNames splits command output into trimmed, non-empty lines.
func ParseNames(stdout string) []string {
	var names []string
	for _, line := range strings.Split(stdout, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func firstLine(stdout string) string {
	if names := ParseNames(stdout); len(names) > 0 {
		return names[0]
	}
	return ""
}

// parseLpstatDefault reads "system default destination: NAME".
func parseLpstatDefault(stdout string) string {
	line := firstLine(stdout)
	if i := strings.LastIndex(line, ":"); i >= 0 && strings.Contains(strings.ToLower(line), "default destination") {
		return strings.TrimSpace(line[i+1:])
	}
	return ""
}
