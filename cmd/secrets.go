package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// defaultSecrets are masked in every log line when set.
var defaultSecrets = []string{"ACTIONS_RUNTIME_TOKEN", "GITHUB_TOKEN", "GH_TOKEN"}

type secrets map[string]string

// newSecrets resolves NAME=VALUE and NAME entries, the latter from the
// environment or, on a terminal, from a prompt.
func newSecrets(secretList []string, prompt io.Writer) (secrets, error) {
	s := make(map[string]string)
	for _, name := range defaultSecrets {
		if v := os.Getenv(name); v != "" {
			s[name] = v
		}
	}
	for _, secretPair := range secretList {
		secretPairParts := strings.SplitN(secretPair, "=", 2)
		name := strings.ToUpper(secretPairParts[0])
		if _, ok := s[name]; ok && len(secretPairParts) == 2 {
			log.Warnf("Secret %s is already defined (secrets are case insensitive)", name)
		}
		if len(secretPairParts) == 2 {
			s[name] = secretPairParts[1]
		} else if env, ok := os.LookupEnv(name); ok && env != "" {
			s[name] = env
		} else if term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintf(prompt, "Provide value for '%s': ", name)
			val, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(prompt)
			if err != nil {
				return nil, fmt.Errorf("failed to read input: %w", err)
			}
			s[name] = string(val)
		} else {
			log.Warnf("Secret %s has no value", name)
		}
	}
	return s, nil
}

// Values returns the non-empty secret values.
func (s secrets) Values() []string {
	values := make([]string, 0, len(s))
	for _, v := range s {
		if v != "" {
			values = append(values, v)
		}
	}
	return values
}
