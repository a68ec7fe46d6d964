package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Envfile is a KEY=VALUE configuration file. Blank lines and lines whose first
// non-space byte is '#' are ignored; each remaining line is split on the first
// '=' with key and value trimmed. Duplicate keys overwrite so the last
// occurrence wins. The original lines are retained so a single key can be
// rewritten in place without disturbing comments or ordering.
type Envfile struct {
	path   string
	lines  []string
	values map[string]string
}

// LoadEnvfile reads and parses the env file at path.
func LoadEnvfile(path string) (*Envfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open configuration file %s: %w", path, err)
	}
	defer f.Close()

	e := &Envfile{path: path, values: make(map[string]string)}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		e.lines = append(e.lines, line)
		if key, value, ok := parseLine(line); ok {
			e.values[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cannot read configuration file %s: %w", path, err)
	}
	return e, nil
}

// parseLine splits one env-file line into key and value. Returns ok=false for
// blank lines, comments, and lines without '='.
func parseLine(line string) (string, string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}
	idx := strings.Index(line, "=")
	if idx < 0 {
		return "", "", false
	}
	key := strings.TrimSpace(line[:idx])
	value := strings.TrimSpace(line[idx+1:])
	if key == "" {
		return "", "", false
	}
	return key, value, true
}

// Path returns the file the Envfile was loaded from.
func (e *Envfile) Path() string {
	return e.path
}

// Get returns the value for key, or the empty string when absent.
func (e *Envfile) Get(key string) string {
	return e.values[key]
}

// Lookup returns the value for key and whether the key is present.
func (e *Envfile) Lookup(key string) (string, bool) {
	v, ok := e.values[key]
	return v, ok
}

// Values returns a copy of the parsed key/value mapping.
func (e *Envfile) Values() map[string]string {
	out := make(map[string]string, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out
}

// Set updates key to value, rewriting the last line that defines the key or
// appending a new line when the key is not present yet.
func (e *Envfile) Set(key, value string) {
	e.values[key] = value
	for i := len(e.lines) - 1; i >= 0; i-- {
		if k, _, ok := parseLine(e.lines[i]); ok && k == key {
			e.lines[i] = key + "=" + value
			return
		}
	}
	e.lines = append(e.lines, key+"="+value)
}

// Save writes the file back to disk.
func (e *Envfile) Save() error {
	content := strings.Join(e.lines, "\n")
	if content != "" {
		content += "\n"
	}
	if err := os.WriteFile(e.path, []byte(content), 0600); err != nil {
		return fmt.Errorf("cannot write configuration file %s: %w", e.path, err)
	}
	return nil
}
