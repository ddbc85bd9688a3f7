package features

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Record is the input record of the learned policy: field name to a JSON
// string or number, e.g. classification, code, implanted, name_device,
// name_manufacturer, country.
type Record map[string]any

// LearnedEncoder applies persisted label encoders field by field and orders
// the row by the model's feature names.
type LearnedEncoder struct {
	Table        EncoderTable
	FeatureNames []string
	// Target is the label column; its encoder is never applied to inputs.
	Target string
}

func (LearnedEncoder) Policy() Policy { return PolicyLearned }

func (e LearnedEncoder) Encode(body []byte) (Encoded, error) {
	var rec Record
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return Encoded{}, validationErrorf("invalid record: %v", err)
	}
	if rec == nil {
		return Encoded{}, validationErrorf("record must be a JSON object")
	}
	if err := requireEOF(dec); err != nil {
		return Encoded{}, err
	}
	for field, v := range rec {
		switch v.(type) {
		case nil, string, json.Number:
		default:
			return Encoded{}, validationErrorf("field %q must be a string or number", field)
		}
	}

	if len(e.Table) == 0 {
		return Encoded{}, encodingErrorf("no label encoders loaded")
	}
	if len(e.FeatureNames) == 0 {
		return Encoded{}, encodingErrorf("model does not declare its feature names")
	}

	vector, fallbacks, err := e.EncodeRecord(rec)
	if err != nil {
		return Encoded{}, err
	}
	return Encoded{
		Input:     rec,
		Vector:    vector,
		Fallbacks: fallbacks,
	}, nil
}

// EncodeRecord builds the row in feature-name order. Unseen or missing
// categorical values take the encoder's mode.
func (e LearnedEncoder) EncodeRecord(rec Record) ([]float64, []string, error) {
	vector := make([]float64, len(e.FeatureNames))
	var fallbacks []string

	for i, name := range e.FeatureNames {
		value, present := rec[name]
		if value == nil {
			present = false
		}

		if enc, ok := e.Table[name]; ok && name != e.Target {
			if !present {
				vector[i] = float64(enc.Mode())
				fallbacks = append(fallbacks, name)
				continue
			}
			code, known := transformCategory(enc, value)
			if !known {
				fallbacks = append(fallbacks, name)
			}
			vector[i] = float64(code)
			continue
		}

		if !present {
			return nil, nil, encodingErrorf("missing feature %s", name)
		}
		f, err := scalarFloat(value)
		if err != nil {
			return nil, nil, encodingErrorf("feature %s is not numeric: %v", name, value)
		}
		vector[i] = f
	}

	return vector, fallbacks, nil
}

// transformCategory looks a value up by its text as sent and, for numbers,
// by its shortest decimal form, so 1.0 matches the class "1".
func transformCategory(enc *LabelEncoder, v any) (int, bool) {
	raw := scalarString(v)
	code, known := enc.Transform(raw)
	if known {
		return code, true
	}
	if n, ok := v.(json.Number); ok {
		if f, err := n.Float64(); err == nil {
			if canonical := strconv.FormatFloat(f, 'f', -1, 64); canonical != raw {
				return enc.Transform(canonical)
			}
		}
	}
	return code, false
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func scalarFloat(v any) (float64, error) {
	switch t := v.(type) {
	case json.Number:
		return t.Float64()
	case string:
		return strconv.ParseFloat(t, 64)
	default:
		return 0, strconv.ErrSyntax
	}
}
