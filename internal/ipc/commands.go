package ipc

import (
	"os"
	"path/filepath"
	"strings"
)

// CommandFileName is the control file inside a cache directory.
const CommandFileName = "cmd.txt"

// Command is a control request sent to a running pipeline.
type Command string

const (
	// CmdStop finishes the window in flight, writes outputs for what is done
	// and exits. A later run resumes from the cache.
	CmdStop Command = "stop"
)

// WriteCommand writes cmd to <dir>/cmd.txt.
func WriteCommand(dir string, cmd Command) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, CommandFileName), []byte(string(cmd)), 0644)
}

// ReadCommand reads and clears <dir>/cmd.txt. It returns an empty command
// when no file exists or its content is not a known command.
func ReadCommand(dir string) (Command, error) {
	cmdPath := filepath.Join(dir, CommandFileName)

	data, err := os.ReadFile(cmdPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	// Remove immediately so the command is not seen twice.
	if err := os.Remove(cmdPath); err != nil && !os.IsNotExist(err) {
		return "", err
	}

	switch cmd := Command(strings.TrimSpace(string(data))); cmd {
	case CmdStop:
		return cmd, nil
	default:
		return "", nil
	}
}
