package stream

import (
	"encoding/json"
	"strings"
)

// normalizeNested decodes JSON carried as text inside model_message.parts.
// A text part whose content looks like JSON is replaced by the decoded
// value; when that value is an object or array, its immediate string members
// that look like JSON are decoded one more time. Deeper strings are left as
// they are. Entries that are not objects are dropped from the parts list.
func normalizeNested(ev Event) Event {
	msg, ok := ev["model_message"].(map[string]interface{})
	if !ok {
		return ev
	}
	parts, ok := msg["parts"].([]interface{})
	if !ok {
		return ev
	}

	out := make([]interface{}, 0, len(parts))
	for _, p := range parts {
		part, ok := p.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, decodePart(part))
	}

	// copy the containers on the path so the caller's event is not mutated
	nm := make(map[string]interface{}, len(msg))
	for k, v := range msg {
		nm[k] = v
	}
	nm["parts"] = out
	ne := make(Event, len(ev))
	for k, v := range ev {
		ne[k] = v
	}
	ne["model_message"] = nm
	return ne
}

// decodePart returns the decoded content of a text part, or the part itself
// when it is not text or its content is not JSON
func decodePart(part map[string]interface{}) interface{} {
	if kind, _ := part["part_kind"].(string); kind != "text" {
		return part
	}
	content, ok := part["content"].(string)
	if !ok || !looksLikeJSON(content) {
		return part
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		return part
	}
	return decodeMembers(decoded)
}

// decodeMembers is the single shallow pass over a decoded collection
func decodeMembers(v interface{}) interface{} {
	switch c := v.(type) {
	case map[string]interface{}:
		for k, member := range c {
			c[k] = decodeString(member)
		}
		return c
	case []interface{}:
		for i, member := range c {
			c[i] = decodeString(member)
		}
		return c
	default:
		return v
	}
}

func decodeString(v interface{}) interface{} {
	s, ok := v.(string)
	if !ok || !looksLikeJSON(s) {
		return v
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return v
	}
	return decoded
}

func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return false
	}
	first, last := s[0], s[len(s)-1]
	return (first == '{' && last == '}') || (first == '[' && last == ']')
}
