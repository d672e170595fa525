package project

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// field is one top-level key of a JSON object, with the exact byte span
// its value occupies in the original document (so re-serializing an
// untouched field is a straight byte copy, not a re-marshal that could
// reorder map keys or change number/string formatting).
type field struct {
	name       string
	start, end int64 // byte offsets of the value, within the original document
}

// scanTopLevelFields walks doc (which must be a single JSON object) and
// returns, in source order, each top-level key's name and the byte span
// of its value.
func scanTopLevelFields(doc []byte) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("manifest root is not a JSON object")
	}

	var fields []field
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("reading manifest key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("manifest key is not a string")
		}

		start := dec.InputOffset()
		// Skip forward past leading whitespace/colon to the value's
		// first byte.
		for start < int64(len(doc)) && (doc[start] == ':' || isJSONSpace(doc[start])) {
			start++
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("reading value for %q: %w", key, err)
		}
		end := dec.InputOffset()

		fields = append(fields, field{name: key, start: start, end: end})
	}
	return fields, nil
}

func isJSONSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// replaceTopLevelField returns doc with the named key's value replaced by
// newValue (if present) or inserted as a new trailing key (if absent).
// Every byte outside that one key's value is copied verbatim, so key
// order, indentation, and all other fields are byte-for-byte unchanged.
func replaceTopLevelField(doc []byte, key string, newValue []byte) ([]byte, error) {
	fields, err := scanTopLevelFields(doc)
	if err != nil {
		return nil, err
	}

	for _, f := range fields {
		if f.name != key {
			continue
		}
		var out bytes.Buffer
		out.Write(doc[:f.start])
		out.Write(newValue)
		out.Write(doc[f.end:])
		return out.Bytes(), nil
	}

	return insertTopLevelField(doc, key, newValue)
}

// insertTopLevelField adds key as a new top-level field just before the
// object's closing brace, matching the indentation style of the last
// existing field when one is present.
func insertTopLevelField(doc []byte, key string, newValue []byte) ([]byte, error) {
	closeIdx := bytes.LastIndexByte(doc, '}')
	if closeIdx < 0 {
		return nil, fmt.Errorf("manifest has no closing brace")
	}

	indent, hasFields := trailingLineIndent(doc, closeIdx)

	var out bytes.Buffer
	body := bytes.TrimRight(doc[:closeIdx], " \t\r\n")
	out.Write(body)
	if hasFields {
		out.WriteString(",")
	}
	out.WriteString("\n")
	out.WriteString(indent)
	out.WriteString(fmt.Sprintf("%q: ", key))
	out.Write(newValue)
	out.WriteString("\n")
	out.Write(doc[closeIdx:])
	return out.Bytes(), nil
}

// trailingLineIndent inspects the object ending at closeIdx to guess the
// indentation used for its fields (two spaces, the most common case, if
// none can be inferred) and whether the object already has at least one
// field.
func trailingLineIndent(doc []byte, closeIdx int) (indent string, hasFields bool) {
	openIdx := bytes.IndexByte(doc, '{')
	hasFields = bytes.ContainsAny(string(doc[openIdx+1:closeIdx]), "\"")

	lineStart := bytes.LastIndexByte(doc[:closeIdx], '\n')
	if lineStart < 0 {
		return "  ", hasFields
	}
	// Find a sibling field's line to copy its indent; fall back to two
	// spaces.
	prevLineStart := bytes.LastIndexByte(doc[:lineStart], '\n')
	line := doc[prevLineStart+1 : lineStart]
	i := 0
	for i < len(line) && isJSONSpace(line[i]) {
		i++
	}
	if i > 0 {
		return string(line[:i]), hasFields
	}
	return "  ", hasFields
}
