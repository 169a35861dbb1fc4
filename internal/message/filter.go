package message

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Filter selects records by a search expression. An expression is either a
// plain substring searched in every field, or one of the prefixed forms
//
//	dest:orders   destination
//	body:alice    payload and decoded fields
//	hdr:trace     headers and user properties
//	type:Order    application message type or decoded type name
//	key:rg-1      record key
//	re:^orders/   regular expression over all of the above
//
// Substring matches are case-insensitive; regular expressions are not unless
// they say so with (?i).
type Filter struct {
	field string
	query string
	re    *regexp.Regexp
}

// ParseFilter parses expr. An empty expression yields a nil Filter, which
// matches everything.
func ParseFilter(expr string) (*Filter, error) {
	if expr == "" {
		return nil, nil
	}
	field, query := splitFilter(expr)
	f := &Filter{field: field, query: strings.ToLower(query)}
	if field == "re" {
		re, err := regexp.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("invalid filter regex: %w", err)
		}
		f.re = re
	}
	return f, nil
}

var filterFields = []string{"dest", "body", "hdr", "type", "key", "re"}

func splitFilter(expr string) (field, query string) {
	for _, name := range filterFields {
		if q, ok := strings.CutPrefix(expr, name+":"); ok {
			return name, q
		}
	}
	return "", expr
}

// Match reports whether rec satisfies the filter.
func (f *Filter) Match(rec Record) bool {
	if f == nil {
		return true
	}
	if f.re != nil {
		for _, name := range filterFields[:5] {
			if f.re.MatchString(fieldText(rec, name)) {
				return true
			}
		}
		return false
	}
	if f.field != "" {
		return strings.Contains(strings.ToLower(fieldText(rec, f.field)), f.query)
	}
	for _, name := range filterFields[:5] {
		if strings.Contains(strings.ToLower(fieldText(rec, name)), f.query) {
			return true
		}
	}
	return false
}

// Apply returns the records matching f, in order.
func (f *Filter) Apply(recs []Record) []Record {
	if f == nil {
		return recs
	}
	var out []Record
	for _, rec := range recs {
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func fieldText(rec Record, field string) string {
	switch field {
	case "dest":
		if rec.Headers != nil {
			return rec.Headers.Destination
		}
	case "body":
		text := rec.Payload.String()
		if len(rec.Decoded) > 0 {
			text += "\n" + jsonText(rec.Decoded)
		}
		return text
	case "hdr":
		var parts []string
		if rec.Headers != nil {
			parts = append(parts, jsonText(rec.Headers))
		}
		if len(rec.UserProperties) > 0 {
			parts = append(parts, jsonText(rec.UserProperties))
		}
		return strings.Join(parts, "\n")
	case "type":
		var parts []string
		if rec.Headers != nil && rec.Headers.ApplicationMessageType != "" {
			parts = append(parts, rec.Headers.ApplicationMessageType)
		}
		if t, ok := rec.Decoded["__type"].(string); ok {
			parts = append(parts, t)
		}
		return strings.Join(parts, "\n")
	case "key":
		return rec.Key
	}
	return ""
}

func jsonText(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
