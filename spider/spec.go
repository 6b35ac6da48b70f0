package spider

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SpecValue is a specification leaf. It holds either a single string or an
// ordered list of variants (e.g. region specific radio bands).
type SpecValue struct {
	text  string
	items []string
}

func Text(s string) SpecValue {
	return SpecValue{text: s}
}

func List(items ...string) SpecValue {
	if items == nil {
		items = []string{}
	}
	return SpecValue{items: items}
}

func (v SpecValue) IsList() bool {
	return v.items != nil
}

// Items returns the variants of a list value, or the text as a single item.
func (v SpecValue) Items() []string {
	if v.IsList() {
		return v.items
	}
	return []string{v.text}
}

func (v SpecValue) String() string {
	if v.IsList() {
		return strings.Join(v.items, "\n")
	}
	return v.text
}

// Append turns v into a list value and adds item to it.
func (v SpecValue) Append(item string) SpecValue {
	items := append([]string{}, v.Items()...)
	return List(append(items, item)...)
}

func (v SpecValue) MarshalJSON() ([]byte, error) {
	if v.IsList() {
		return json.Marshal(v.items)
	}
	return json.Marshal(v.text)
}

func (v *SpecValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var items []string
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*v = List(items...)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*v = Text(s)
	return nil
}

type Field struct {
	Name  string
	Value SpecValue
}

// Category is one specification table, fields kept in page order.
type Category struct {
	Name   string
	Fields []Field
}

func (c *Category) Set(field string, v SpecValue) {
	for i := range c.Fields {
		if c.Fields[i].Name == field {
			c.Fields[i].Value = v
			return
		}
	}
	c.Fields = append(c.Fields, Field{Name: field, Value: v})
}

func (c Category) Get(field string) (SpecValue, bool) {
	for _, f := range c.Fields {
		if f.Name == field {
			return f.Value, true
		}
	}
	return SpecValue{}, false
}

func (c Category) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range c.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, f.Name); err != nil {
			return nil, err
		}
		b, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Specifications is an ordered map of categories to ordered field maps. The
// set of categories differs from page to page, so it is not a fixed schema.
type Specifications []Category

func (s *Specifications) Set(category, field string, v SpecValue) {
	s.category(category).Set(field, v)
}

// Add merges c into s, keeping the position of an existing category.
func (s *Specifications) Add(c Category) {
	dst := s.category(c.Name)
	for _, f := range c.Fields {
		dst.Set(f.Name, f.Value)
	}
}

func (s Specifications) Get(category, field string) (SpecValue, bool) {
	c, ok := s.Category(category)
	if !ok {
		return SpecValue{}, false
	}
	return c.Get(field)
}

func (s Specifications) Category(name string) (Category, bool) {
	for _, c := range s {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}

func (s *Specifications) category(name string) *Category {
	for i := range *s {
		if (*s)[i].Name == name {
			return &(*s)[i]
		}
	}
	*s = append(*s, Category{Name: name})
	return &(*s)[len(*s)-1]
}

func (s Specifications) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, c.Name); err != nil {
			return nil, err
		}
		b, err := c.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *Specifications) UnmarshalJSON(b []byte) error {
	if string(bytes.TrimSpace(b)) == "null" {
		*s = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}

	var out Specifications
	for dec.More() {
		name, err := readKey(dec)
		if err != nil {
			return err
		}
		c := Category{Name: name}
		if err := expectDelim(dec, '{'); err != nil {
			return err
		}
		for dec.More() {
			field, err := readKey(dec)
			if err != nil {
				return err
			}
			var v SpecValue
			if err := dec.Decode(&v); err != nil {
				return fmt.Errorf("field %q: %w", field, err)
			}
			c.Fields = append(c.Fields, Field{Name: field, Value: v})
		}
		if err := expectDelim(dec, '}'); err != nil {
			return err
		}
		out = append(out, c)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return err
	}

	*s = out
	return nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	return nil
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected object key, got %v", tok)
	}
	return key, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return errors.New("specifications: expected " + want.String())
	}
	return nil
}
