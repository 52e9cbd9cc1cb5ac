package encoding

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/goccy/go-json"
)

// ErrMalformedDocument is returned when a page decodes as JSON but does not have the JSON:API shape.
var ErrMalformedDocument = errors.New("malformed JSON:API document")

// Document is a single page of a JSON:API collection response.
// Fields stay raw until accessed so a bad links block can be told apart from bad JSON.
type Document struct {
	Data  json.RawMessage `json:"data"`
	Links json.RawMessage `json:"links"`
	Meta  json.RawMessage `json:"meta"`
}

// Resource is one record of the data array.
type Resource struct {
	Type          string                     `json:"type"`
	ID            string                     `json:"id"`
	Attributes    map[string]json.RawMessage `json:"attributes,omitempty"`
	Relationships map[string]Relationship    `json:"relationships,omitempty"`
}

// Relationship holds a to-one linkage; Data is null when the relation is empty.
type Relationship struct {
	Data json.RawMessage `json:"data"`
}

// Identifier is a resource linkage object.
type Identifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// DecodeDocument parses a page body. It only fails on invalid JSON.
func DecodeDocument(body []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Resources returns the page's records in order. A missing or null data member is an empty page.
func (d *Document) Resources() ([]Resource, error) {
	if isNull(d.Data) {
		return nil, nil
	}
	var out []Resource
	if err := json.Unmarshal(d.Data, &out); err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrMalformedDocument, err)
	}
	return out, nil
}

// NextURL resolves links.next against the URL the page was fetched from.
// It returns nil when there is no next page.
func (d *Document) NextURL(current *url.URL) (*url.URL, error) {
	if isNull(d.Links) {
		return nil, nil
	}
	var links map[string]json.RawMessage
	if err := json.Unmarshal(d.Links, &links); err != nil {
		return nil, fmt.Errorf("%w: links: %v", ErrMalformedDocument, err)
	}
	raw, ok := links["next"]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var next string
	if err := json.Unmarshal(raw, &next); err != nil {
		return nil, fmt.Errorf("%w: links.next is not a string", ErrMalformedDocument)
	}
	if next == "" {
		return nil, nil
	}
	u, err := url.Parse(next)
	if err != nil {
		return nil, fmt.Errorf("%w: links.next: %v", ErrMalformedDocument, err)
	}
	if current != nil {
		u = current.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: links.next %q is not an http(s) URL", ErrMalformedDocument, next)
	}
	return u, nil
}

// TotalCount returns meta.total_count when the provider sent one.
func (d *Document) TotalCount() (int, bool) {
	if isNull(d.Meta) {
		return 0, false
	}
	var meta struct {
		TotalCount *int `json:"total_count"`
	}
	if err := json.Unmarshal(d.Meta, &meta); err != nil || meta.TotalCount == nil {
		return 0, false
	}
	return *meta.TotalCount, true
}

func (r *Resource) attribute(key string) (json.RawMessage, bool) {
	raw, ok := r.Attributes[key]
	if !ok || isNull(raw) {
		return nil, false
	}
	return raw, true
}

// String returns a string attribute. The bool is false when the attribute is absent or null.
func (r *Resource) String(key string) (string, bool, error) {
	raw, ok := r.attribute(key)
	if !ok {
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", true, fmt.Errorf("attribute %s: %w", key, err)
	}
	return s, true, nil
}

// Int returns an integer attribute.
func (r *Resource) Int(key string) (int, bool, error) {
	raw, ok := r.attribute(key)
	if !ok {
		return 0, false, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, true, fmt.Errorf("attribute %s: %w", key, err)
	}
	return n, true, nil
}

// Time returns an RFC 3339 timestamp attribute.
func (r *Resource) Time(key string) (time.Time, bool, error) {
	s, ok, err := r.String(key)
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, true, fmt.Errorf("attribute %s: %w", key, err)
	}
	return t, true, nil
}

// Related returns the id of a to-one relationship. The bool is false when the
// relationship is missing or its data is null.
func (r *Resource) Related(name string) (string, bool, error) {
	rel, ok := r.Relationships[name]
	if !ok || isNull(rel.Data) {
		return "", false, nil
	}
	var id Identifier
	if err := json.Unmarshal(rel.Data, &id); err != nil {
		return "", true, fmt.Errorf("relationship %s: %w", name, err)
	}
	if id.ID == "" {
		return "", false, nil
	}
	return id.ID, true, nil
}

// SetAttribute encodes v into the attributes map.
func (r *Resource) SetAttribute(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("attribute %s: %w", key, err)
	}
	if r.Attributes == nil {
		r.Attributes = make(map[string]json.RawMessage)
	}
	r.Attributes[key] = raw
	return nil
}

// SetRelated sets a to-one relationship linkage.
func (r *Resource) SetRelated(name, typ, id string) error {
	raw, err := json.Marshal(Identifier{Type: typ, ID: id})
	if err != nil {
		return fmt.Errorf("relationship %s: %w", name, err)
	}
	if r.Relationships == nil {
		r.Relationships = make(map[string]Relationship)
	}
	r.Relationships[name] = Relationship{Data: raw}
	return nil
}

// Marshal encodes v with the same codec used for decoding pages.
func Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes data with the same codec used for decoding pages.
func Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func isNull(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
