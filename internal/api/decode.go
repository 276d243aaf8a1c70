package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/mcules/homeprice/internal/prediction"
)

const maxBodyBytes = 1 << 20

// predictionKeys are the only body keys read. Anything else a client sends is ignored.
var predictionKeys = []string{"location", "sqft", "total_sqft", "bath", "bhk"}

// requestFields reads the request body as JSON or form data and flattens it into
// string values. JSON numbers keep their literal text; null counts as absent.
func requestFields(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if isJSON(r) {
		return jsonFields(r.Body)
	}
	if err := r.ParseForm(); err != nil {
		return nil, &prediction.InputError{Field: "body", Reason: err.Error()}
	}
	out := make(map[string]string, len(predictionKeys))
	for _, k := range predictionKeys {
		if v := r.PostForm[k]; len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out, nil
}

func isJSON(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	return err == nil && (mt == "application/json" || strings.HasSuffix(mt, "+json"))
}

func jsonFields(body io.Reader) (map[string]string, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, &prediction.InputError{Field: "body", Reason: err.Error()}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, &prediction.InputError{Field: "body", Reason: "expected a JSON object"}
	}

	out := make(map[string]string, len(predictionKeys))
	for _, k := range predictionKeys {
		v, ok := obj[k]
		if !ok {
			continue
		}
		v = bytes.TrimSpace(v)
		switch {
		case len(v) == 0 || bytes.Equal(v, []byte("null")):
			continue
		case v[0] == '"':
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return nil, &prediction.InputError{Field: k, Reason: "malformed string"}
			}
			out[k] = s
		case v[0] == '-' || (v[0] >= '0' && v[0] <= '9'):
			out[k] = string(v)
		default:
			return nil, &prediction.InputError{Field: k, Reason: "must be a string or number"}
		}
	}
	return out, nil
}

// first returns the first present key among names.
func first(fields map[string]string, names ...string) (string, bool) {
	for _, n := range names {
		if v, ok := fields[n]; ok {
			return v, true
		}
	}
	return "", false
}

func parseFloatField(fields map[string]string, names ...string) (float64, error) {
	s, ok := first(fields, names...)
	if !ok {
		return 0, &prediction.InputError{Field: names[0], Reason: "is required"}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &prediction.InputError{Field: names[0], Reason: fmt.Sprintf("%q is not a number", s)}
	}
	return v, nil
}

func parseIntField(fields map[string]string, name string) (int, error) {
	v, err := parseFloatField(fields, name)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
		return 0, &prediction.InputError{Field: name, Reason: fmt.Sprintf("%v is not a whole number", v)}
	}
	return int(v), nil
}

// parsePrediction builds a Request from flattened fields. sqftNames lists the accepted
// spellings of the square footage field, in priority order.
func parsePrediction(fields map[string]string, sqftNames ...string) (prediction.Request, error) {
	loc, ok := fields["location"]
	if !ok {
		return prediction.Request{}, &prediction.InputError{Field: "location", Reason: "is required"}
	}
	sqft, err := parseFloatField(fields, sqftNames...)
	if err != nil {
		return prediction.Request{}, err
	}
	bath, err := parseIntField(fields, "bath")
	if err != nil {
		return prediction.Request{}, err
	}
	bhk, err := parseIntField(fields, "bhk")
	if err != nil {
		return prediction.Request{}, err
	}
	return prediction.Request{Location: loc, Sqft: sqft, Bath: bath, BHK: bhk}, nil
}
