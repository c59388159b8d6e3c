package labels

// Package labels loads the class label list that accompanies a detection model.
// The file format is one label per line, and the line number (zero-based) is the
// class id that the inference engine reports for that label.

import (
	"bufio"
	"os"
	"strings"
)

// Index is an ordered list of class labels. Position = class id.
// Immutable once loaded.
type Index struct {
	classes []string
}

// NewIndex creates an Index from an in-memory label list (used by tests and
// by callers that already have the classes).
func NewIndex(classes []string) *Index {
	owned := make([]string, len(classes))
	copy(owned, classes)
	return &Index{classes: owned}
}

// Load reads a label file with one class name per line.
// Interior blank lines are kept, so that class ids always equal raw line numbers.
// Trailing blank lines are discarded.
func Load(filename string) (*Index, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	classes := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		classes = append(classes, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	for len(classes) != 0 && classes[len(classes)-1] == "" {
		classes = classes[:len(classes)-1]
	}
	return &Index{classes: classes}, nil
}

// Resolve returns the class id of the first exact match of label,
// or (-1, false) if the label is not in the index.
func (x *Index) Resolve(label string) (int, bool) {
	for i, c := range x.classes {
		if c == label {
			return i, true
		}
	}
	return -1, false
}

// Len returns the number of classes in the index.
func (x *Index) Len() int {
	return len(x.classes)
}

// Class returns the label at class id i, or "" if i is out of range.
func (x *Index) Class(i int) string {
	if i < 0 || i >= len(x.classes) {
		return ""
	}
	return x.classes[i]
}
