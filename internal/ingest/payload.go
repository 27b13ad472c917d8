package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

var ErrMalformedPayload = errors.New("malformed payload")

// Payload is a webhook body as received. The decoded document is only read,
// never modified, so a Payload can be shared by every plate it yields.
type Payload struct {
	raw []byte
	doc map[string]any
}

// ParsePayload decodes a webhook body. Numbers are kept as json.Number so
// millisecond timestamps survive without float rounding.
func ParsePayload(raw []byte) (*Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedPayload)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrMalformedPayload)
	}

	return &Payload{
		raw: append([]byte(nil), trimmed...),
		doc: doc,
	}, nil
}

// NewPayload serializes doc and parses it back, so synthesized payloads look
// exactly like received ones.
func NewPayload(doc any) (*Payload, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return ParsePayload(raw)
}

// Raw returns the original body, untruncated.
func (p *Payload) Raw() string {
	return string(p.raw)
}

func (p *Payload) Type() string {
	return text(p.doc["type"])
}

func (p *Payload) CameraID() string {
	return text(object(p.doc["camera"])["id"])
}

func (p *Payload) EventID() string {
	return text(object(p.doc["event"])["id"])
}

func (p *Payload) EventStart() any {
	return object(p.doc["event"])["start"]
}

func (p *Payload) alarm() map[string]any {
	return object(p.doc["alarm"])
}

type snapshotInfo struct {
	URL    string
	Width  int
	Height int
}

func (p *Payload) snapshot() (snapshotInfo, bool) {
	s, ok := p.doc["snapshot"].(map[string]any)
	if !ok {
		return snapshotInfo{}, false
	}
	w, _ := number(s["width"])
	h, _ := number(s["height"])
	return snapshotInfo{URL: text(s["url"]), Width: int(w), Height: int(h)}, true
}

func (p *Payload) location() (lat, lng float64, ok bool) {
	l, isMap := p.doc["location"].(map[string]any)
	if !isMap {
		return 0, 0, false
	}
	lat, okLat := number(l["lat"])
	lng, okLng := number(l["lng"])
	return lat, lng, okLat && okLng
}

// numberLike matches json.Number from either the standard library or go-json.
type numberLike interface {
	String() string
	Float64() (float64, error)
	Int64() (int64, error)
}

func object(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func list(v any) []any {
	l, _ := v.([]any)
	return l
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case numberLike:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case numberLike:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
