package features

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
)

// LabelEncoder maps the known categories of one field to integer codes.
// A category's code is its index in Classes.
type LabelEncoder struct {
	classes []string
	counts  []int
	index   map[string]int
	mode    int
}

// labelEncoderFile is the persisted form of a LabelEncoder.
type labelEncoderFile struct {
	Classes []string `json:"classes"`
	Counts  []int    `json:"counts,omitempty"`
}

// NewLabelEncoder builds an encoder from its known classes and, optionally,
// their training frequencies. counts may be nil.
func NewLabelEncoder(classes []string, counts []int) (*LabelEncoder, error) {
	if len(classes) == 0 {
		return nil, fmt.Errorf("label encoder has no classes")
	}
	if counts != nil && len(counts) != len(classes) {
		return nil, fmt.Errorf("label encoder has %d classes but %d counts", len(classes), len(counts))
	}

	index := make(map[string]int, len(classes))
	for i, c := range classes {
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("label encoder has duplicate class %q", c)
		}
		index[c] = i
	}

	// Mode is the most frequent class; ties and missing counts resolve to the lowest code.
	mode := 0
	for i := range counts {
		if counts[i] < 0 {
			return nil, fmt.Errorf("label encoder count for %q is negative", classes[i])
		}
		if counts[i] > counts[mode] {
			mode = i
		}
	}

	return &LabelEncoder{
		classes: append([]string(nil), classes...),
		counts:  append([]int(nil), counts...),
		index:   index,
		mode:    mode,
	}, nil
}

// Transform returns the code for v, or the mode's code and false when v is unseen.
func (e *LabelEncoder) Transform(v string) (int, bool) {
	if code, ok := e.index[v]; ok {
		return code, true
	}
	return e.mode, false
}

// Mode returns the code of the most frequent known class.
func (e *LabelEncoder) Mode() int {
	return e.mode
}

// InverseTransform maps a code back to its class label.
func (e *LabelEncoder) InverseTransform(code int) (string, error) {
	if code < 0 || code >= len(e.classes) {
		return "", fmt.Errorf("code %d out of range [0,%d)", code, len(e.classes))
	}
	return e.classes[code], nil
}

// Decode is InverseTransform with the stringified code as fallback.
func (e *LabelEncoder) Decode(code int) string {
	label, err := e.InverseTransform(code)
	if err != nil {
		return strconv.Itoa(code)
	}
	return label
}

// Classes returns a copy of the known classes in code order.
func (e *LabelEncoder) Classes() []string {
	return append([]string(nil), e.classes...)
}

// EncoderTable holds one LabelEncoder per field name.
type EncoderTable map[string]*LabelEncoder

// Fields returns the encoded field names, sorted.
func (t EncoderTable) Fields() []string {
	fields := make([]string, 0, len(t))
	for f := range t {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// ParseEncoderTable decodes a JSON object of field -> {"classes": [...], "counts": [...]}.
func ParseEncoderTable(data []byte) (EncoderTable, error) {
	var raw map[string]labelEncoderFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse encoder table: %w", err)
	}

	table := make(EncoderTable, len(raw))
	for field, enc := range raw {
		le, err := NewLabelEncoder(enc.Classes, enc.Counts)
		if err != nil {
			return nil, fmt.Errorf("encoder %q: %w", field, err)
		}
		table[field] = le
	}
	return table, nil
}

// LoadEncoderTable reads an encoder table from disk.
func LoadEncoderTable(path string) (EncoderTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read encoder table %s: %w", path, err)
	}
	return ParseEncoderTable(data)
}
