// Package state persists values across the main and post phases of a job.
package state

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nektos/actions-toolkit/pkg/common"
)

// Store is a job scoped key/value mailbox. GetState returns "" for a key
// that was never saved.
type Store interface {
	SaveState(ctx context.Context, key, value string) error
	GetState(ctx context.Context, key string) (string, error)
}

// FileStore is the store backed by the runner: values are appended to the
// $GITHUB_STATE file command and handed back to later phases as STATE_<key>
// environment variables.
type FileStore struct {
	// Path of the state file, $GITHUB_STATE when empty.
	Path string
	// Out receives the ::save-state command when no state file is available.
	Out io.Writer
}

func (s *FileStore) path() string {
	if s.Path != "" {
		return s.Path
	}
	return os.Getenv("GITHUB_STATE")
}

func (s *FileStore) SaveState(ctx context.Context, key, value string) error {
	logger := common.Logger(ctx)
	p := s.path()
	if p == "" {
		out := s.Out
		if out == nil {
			out = os.Stdout
		}
		logger.Debugf("no state file, issuing save-state command for %s", key)
		_, err := fmt.Fprintf(out, "::save-state name=%s::%s\n", common.EscapeProperty(key), common.EscapeData(value))
		return err
	}

	msg, err := prepareKeyValueMessage(key, value)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	logger.Debugf("saving state %s to %s", key, p)
	_, err = f.WriteString(msg)
	return err
}

func (s *FileStore) GetState(ctx context.Context, key string) (string, error) {
	if v, ok := os.LookupEnv("STATE_" + key); ok {
		return v, nil
	}

	p := s.path()
	if p == "" {
		return "", nil
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	} else if err != nil {
		return "", err
	}
	defer f.Close()

	values, err := ParseFile(f)
	if err != nil {
		return "", fmt.Errorf("failed to read state file %s: %w", p, err)
	}
	common.Logger(ctx).Debugf("loaded %d state values from %s", len(values), p)
	return values[key], nil
}

func prepareKeyValueMessage(key, value string) (string, error) {
	delimiter := "ghadelimiter_" + uuid.NewString()
	if strings.Contains(key, delimiter) {
		return "", fmt.Errorf("Unexpected input: name should not contain the delimiter %q", delimiter)
	}
	if strings.Contains(value, delimiter) {
		return "", fmt.Errorf("Unexpected input: value should not contain the delimiter %q", delimiter)
	}
	return fmt.Sprintf("%s<<%s\n%s\n%s\n", key, delimiter, value, delimiter), nil
}

// ParseFile reads a file command file made of "key=value" lines and
// "key<<DELIMITER" blocks. Later values override earlier ones.
func ParseFile(r io.Reader) (map[string]string, error) {
	values := map[string]string{}
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := s.Text()
		if line == "" {
			continue
		}
		singleLine := strings.Index(line, "=")
		multiLine := strings.Index(line, "<<")
		if singleLine != -1 && (multiLine == -1 || singleLine < multiLine) {
			values[line[:singleLine]] = line[singleLine+1:]
		} else if multiLine != -1 {
			content := []string{}
			delimiter := line[multiLine+2:]
			delimiterFound := false
			for s.Scan() {
				l := s.Text()
				if l == delimiter {
					delimiterFound = true
					break
				}
				content = append(content, l)
			}
			if !delimiterFound {
				return nil, fmt.Errorf("invalid format delimiter '%v' not found before end of file", delimiter)
			}
			values[line[:multiLine]] = strings.Join(content, "\n")
		} else {
			return nil, fmt.Errorf("invalid format '%v', expected a line with '=' or '<<'", line)
		}
	}
	return values, s.Err()
}

// MemoryStore keeps state in memory; it does not survive the process.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]string{}}
}

func (s *MemoryStore) SaveState(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = map[string]string{}
	}
	s.values[key] = value
	return nil
}

func (s *MemoryStore) GetState(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key], nil
}
