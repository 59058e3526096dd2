package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/dcrypt3d/centos10-disa-stig/pkg/scap"
)

// confirm requires the full word yes before a destructive verb proceeds.
// Anything else, including a closed stdin, aborts.
func confirm(out io.Writer, in io.Reader, assumeYes bool, action string) error {
	if assumeYes {
		return nil
	}
	fmt.Fprintf(out, "%s. Type yes to continue: ", action)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("no confirmation given: %w", scap.ErrUserAborted)
	}
	if strings.TrimSpace(line) != "yes" {
		return fmt.Errorf("aborted: %w", scap.ErrUserAborted)
	}
	return nil
}
