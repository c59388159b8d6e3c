package inferconfig

// Package inferconfig reads and rewrites DeepStream inference configuration files.
// The format is sectioned key=value text: "[section-name]" headers, each followed by
// the lines belonging to that section. Section order matters to the consumer, so the
// model preserves it, along with comments and blank lines, byte for byte.

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Section is one "[name]" block. Lines holds the raw body lines, excluding the header.
type Section struct {
	Name  string
	Lines []string
}

// Config is an ordered sequence of sections. Prelude holds any lines that appear
// before the first section header (typically comments).
type Config struct {
	Prelude  []string
	Sections []*Section
}

// Parse reads a sectioned key=value config, preserving line order.
func Parse(r io.Reader) (*Config, error) {
	c := &Config{}
	var current *Section
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := sectionHeader(line); ok {
			current = &Section{Name: name}
			c.Sections = append(c.Sections, current)
			continue
		}
		if current == nil {
			c.Prelude = append(c.Prelude, line)
		} else {
			current.Lines = append(current.Lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseFile is Parse on the contents of filename.
func ParseFile(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// WriteTo serializes the config in its original order.
func (c *Config) WriteTo(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, line := range c.Prelude {
		fmt.Fprintln(bw, line)
	}
	for _, s := range c.Sections {
		fmt.Fprintf(bw, "[%v]\n", s.Name)
		for _, line := range s.Lines {
			fmt.Fprintln(bw, line)
		}
	}
	return bw.Flush()
}

// WriteFile serializes the config to filename, overwriting it.
func (c *Config) WriteFile(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := c.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Section returns the first section with the given name, or nil.
func (c *Config) Section(name string) *Section {
	for _, s := range c.Sections {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// DropSections removes every section whose name is in names, keeping the rest in order.
func (c *Config) DropSections(names ...string) {
	drop := map[string]bool{}
	for _, n := range names {
		drop[n] = true
	}
	kept := c.Sections[:0]
	for _, s := range c.Sections {
		if !drop[s.Name] {
			kept = append(kept, s)
		}
	}
	c.Sections = kept
}

// Value returns the value of the first "key=value" line matching key.
func (s *Section) Value(key string) (string, bool) {
	for _, line := range s.Lines {
		if k, v, ok := splitKeyValue(line); ok && k == key {
			return v, true
		}
	}
	return "", false
}

func sectionHeader(line string) (string, bool) {
	t := strings.TrimSpace(line)
	if len(t) >= 2 && t[0] == '[' && t[len(t)-1] == ']' {
		return t[1 : len(t)-1], true
	}
	return "", false
}

func splitKeyValue(line string) (key, value string, ok bool) {
	t := strings.TrimSpace(line)
	i := strings.IndexByte(t, '=')
	if i <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(t[:i]), strings.TrimSpace(t[i+1:]), true
}
