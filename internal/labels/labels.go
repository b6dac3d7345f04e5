package labels

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	apperrors "github.com/Brownie44l1/plant-disease-api/internal/errors"
)

// Table maps classifier output indices to disease labels.
// It is immutable after Load and safe for concurrent reads.
type Table struct {
	labels []string
}

// Load reads a class_indices.json style file: {"0": "Apple___Apple_scab", ...}.
// Keys must cover [0, N) without gaps.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &apperrors.NotFoundError{ErrorMsg: "failed to read label table " + path, Err: err}
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &apperrors.NotFoundError{ErrorMsg: "failed to parse label table " + path, Err: err}
	}

	return FromMap(raw)
}

// FromMap builds a Table from string-encoded indices.
func FromMap(raw map[string]string) (*Table, error) {
	if len(raw) == 0 {
		return nil, &apperrors.NotFoundError{ErrorMsg: "label table is empty"}
	}

	labels := make([]string, len(raw))
	for key, label := range raw {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 {
			return nil, &apperrors.NotFoundError{ErrorMsg: fmt.Sprintf("label table key %q is not a non-negative integer", key)}
		}
		if idx >= len(raw) {
			return nil, &apperrors.NotFoundError{ErrorMsg: fmt.Sprintf("label table keys are not dense: %d with %d entries", idx, len(raw))}
		}
		if strings.TrimSpace(label) == "" {
			return nil, &apperrors.NotFoundError{ErrorMsg: fmt.Sprintf("label for index %d is empty", idx)}
		}
		labels[idx] = label
	}

	// Duplicate spellings such as "1" and "01" leave a hole behind.
	for i, label := range labels {
		if label == "" {
			return nil, &apperrors.NotFoundError{ErrorMsg: fmt.Sprintf("label table has no entry for index %d", i)}
		}
	}

	return &Table{labels: labels}, nil
}

func (t *Table) Lookup(index int) (string, error) {
	if index < 0 || index >= len(t.labels) {
		return "", &apperrors.KeyNotFoundError{Index: index}
	}
	return t.labels[index], nil
}

func (t *Table) Len() int {
	return len(t.labels)
}

// Labels returns a copy of all labels in index order.
func (t *Table) Labels() []string {
	out := make([]string, len(t.labels))
	copy(out, t.labels)
	return out
}

// DisplayName turns a raw class label into something readable:
// "Tomato___Early_blight" becomes "Tomato - Early Blight".
func DisplayName(label string) string {
	formatted := strings.ReplaceAll(label, "___", " - ")
	formatted = strings.ReplaceAll(formatted, "_", " ")

	words := strings.Fields(formatted)
	for i, word := range words {
		if word == "-" {
			continue
		}
		words[i] = capitalize(word)
	}
	return strings.Join(words, " ")
}

func capitalize(word string) string {
	r, size := utf8.DecodeRuneInString(word)
	if r == utf8.RuneError {
		return word
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(word[size:])
}
