package features

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"
)

// DeviceRecord is the input record of the manual policy.
type DeviceRecord struct {
	Device         string `json:"device"`
	Classification string `json:"classification"`
	Manufacturer   string `json:"manufacturer"`
	Country        string `json:"country"`
	Implanted      string `json:"implanted"`
}

// Category maps used by the manual policy. Unlisted values encode as 0.
var (
	classificationCodes = map[string]float64{
		"Class I":   1,
		"Class II":  2,
		"Class III": 3,
	}
	countryCodes = map[string]float64{
		"USA":     1,
		"India":   2,
		"Germany": 3,
		"Japan":   4,
	}
	implantedCodes = map[string]float64{
		"yes": 1,
		"no":  0,
	}
)

// ManualFeatureNames is the training order of the manual policy's vector.
var ManualFeatureNames = []string{
	"classification",
	"country",
	"implanted",
	"manufacturer_length",
	"device_length",
}

// ManualEncoder encodes a DeviceRecord with fixed category maps and
// character-length proxies for free-text fields.
type ManualEncoder struct{}

func (ManualEncoder) Policy() Policy { return PolicyManual }

func (ManualEncoder) Encode(body []byte) (Encoded, error) {
	var rec *DeviceRecord
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return Encoded{}, validationErrorf("invalid device record: %v", err)
	}
	if rec == nil {
		return Encoded{}, validationErrorf("device record must be a JSON object")
	}
	if err := requireEOF(dec); err != nil {
		return Encoded{}, err
	}

	vector, fallbacks := EncodeDevice(*rec)
	return Encoded{
		Input:     *rec,
		Vector:    vector,
		Fallbacks: fallbacks,
	}, nil
}

// EncodeDevice builds the manual-policy vector and reports which categorical
// fields fell back to the default code.
func EncodeDevice(rec DeviceRecord) ([]float64, []string) {
	var fallbacks []string
	lookup := func(field string, codes map[string]float64, v string) float64 {
		code, ok := codes[v]
		if !ok {
			fallbacks = append(fallbacks, field)
		}
		return code
	}

	vector := []float64{
		lookup("classification", classificationCodes, rec.Classification),
		lookup("country", countryCodes, rec.Country),
		lookup("implanted", implantedCodes, rec.Implanted),
		float64(utf8.RuneCountInString(rec.Manufacturer)),
		float64(utf8.RuneCountInString(rec.Device)),
	}
	return vector, fallbacks
}
