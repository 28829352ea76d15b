// Package passphrase resolves the operator keystore passphrase for the node
// binaries.
package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves a passphrase from an environment variable or, failing
// that, an interactive prompt. The first result is cached.
type Source struct {
	envVar string
	lookup func(string) (string, bool)
	prompt func() (string, error)
	out    io.Writer

	once  sync.Once
	value string
	err   error
}

// NewSource checks envVar before prompting on the terminal.
func NewSource(envVar string) *Source {
	return &Source{
		envVar: strings.TrimSpace(envVar),
		lookup: os.LookupEnv,
		prompt: readTerminal,
		out:    os.Stderr,
	}
}

func readTerminal() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoTerminal
	}
	raw, err := term.ReadPassword(fd)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(raw), nil
}

var errNoTerminal = errors.New("no terminal available")

// Get returns the cached passphrase or resolves it on first use. A set but
// blank environment variable and a blank prompt answer are both rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := s.lookup(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}

		fmt.Fprint(s.out, "Enter operator keystore passphrase: ")
		value, err := s.prompt()
		fmt.Fprintln(s.out)
		if errors.Is(err, errNoTerminal) {
			if s.envVar != "" {
				s.err = fmt.Errorf("operator keystore passphrase required; set %s or run interactively", s.envVar)
			} else {
				s.err = errors.New("operator keystore passphrase required and no terminal available")
			}
			return
		}
		if err != nil {
			s.err = err
			return
		}
		if strings.TrimSpace(value) == "" {
			s.err = errors.New("operator keystore passphrase cannot be empty")
			return
		}
		s.value = value
	})
	return s.value, s.err
}
