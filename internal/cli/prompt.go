package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// errNotInteractive is returned when a prompt is needed but stdin is not a
// terminal.
var errNotInteractive = errors.New("stdin is not a terminal")

// promptSecret reads a line from the terminal without echoing it.
func promptSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNotInteractive
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// resolveKey returns key, or prompts for it when key is "-".
func resolveKey(key string) (string, error) {
	if key != "-" {
		return key, nil
	}
	k, err := promptSecret("Object key: ")
	if err != nil {
		return "", fmt.Errorf("failed to read key: %w", err)
	}
	if k == "" {
		return "", errors.New("empty key")
	}
	return k, nil
}

// promptOverwrite asks whether path may be replaced. Anything other than
// y or yes declines.
func promptOverwrite(in io.Reader, out io.Writer, path string) (bool, error) {
	fmt.Fprintf(out, "%s already exists. Overwrite? [y/N]: ", path)
	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
