// Package toolschema parses a tool catalog payload (an array of
// OpenAI-style {"type":"function","function":{...}} descriptors) into a
// resolved list of chatmodel.ParsedTool, tolerating a common double-wrap
// mistake in caller-supplied catalogs.
package toolschema

import (
	"toolrunner/engine/internal/chatmodel"
)

// Parse normalises and scans raw into a parsed tool list. Entries that fail
// to parse are dropped; the rest of the catalog is still returned. If every
// entry fails, the returned list is empty.
func Parse(raw []byte) []chatmodel.ParsedTool {
	entries := splitTopLevelArray(raw)

	tools := make([]chatmodel.ParsedTool, 0, len(entries))
	for _, entry := range entries {
		tool, ok := parseEntry(NormalizeEntry(entry))
		if !ok {
			continue
		}
		tools = append(tools, tool)
	}
	return tools
}

// NormalizeEntry unwraps a doubly-wrapped tool entry, replacing
// {"function":{"type":"function","function":{...}}} with the inner
// {"type":"function","function":{...}} it wraps. Entries that are not
// doubly wrapped pass through unchanged, so NormalizeEntry is idempotent:
// NormalizeEntry(NormalizeEntry(x)) == NormalizeEntry(x).
func NormalizeEntry(entry []byte) []byte {
	inner, ok := singleFunctionKeyValue(entry)
	if !ok {
		return entry
	}
	if !looksLikeFunctionWrapper(inner) {
		return entry
	}
	return inner
}

// singleFunctionKeyValue reports whether entry is an object with exactly
// one key, "function", and returns that key's raw value.
func singleFunctionKeyValue(entry []byte) ([]byte, bool) {
	s := newScanner(entry)
	s.skipWS()
	if !s.consumeByte('{') {
		return nil, false
	}
	s.skipWS()
	key, ok := s.readString()
	if !ok || key != "function" {
		return nil, false
	}
	s.skipWS()
	if !s.consumeByte(':') {
		return nil, false
	}
	s.skipWS()
	value, ok := s.readBalancedOrString()
	if !ok {
		return nil, false
	}
	s.skipWS()
	if !s.consumeByte('}') {
		return nil, false
	}
	s.skipWS()
	if !s.eof() {
		return nil, false
	}
	return value, true
}

// looksLikeFunctionWrapper reports whether value is an object carrying
// both a "type" and a "function" key, i.e. the normal (single-wrapped)
// tool-entry shape.
func looksLikeFunctionWrapper(value []byte) bool {
	s := newScanner(value)
	s.skipWS()
	if !s.consumeByte('{') {
		return false
	}
	var haveType, haveFunction bool
	for {
		s.skipWS()
		if s.consumeByte('}') {
			break
		}
		key, ok := s.readString()
		if !ok {
			return false
		}
		s.skipWS()
		if !s.consumeByte(':') {
			return false
		}
		s.skipWS()
		if _, ok := s.readBalancedOrString(); !ok {
			return false
		}
		switch key {
		case "type":
			haveType = true
		case "function":
			haveFunction = true
		}
		s.skipWS()
		if s.consumeByte(',') {
			continue
		}
		s.skipWS()
		if s.consumeByte('}') {
			break
		}
		return false
	}
	return haveType && haveFunction
}

// parseEntry parses one {"type":"function","function":{...}} object into a
// ParsedTool. Missing name drops the entry.
func parseEntry(entry []byte) (chatmodel.ParsedTool, bool) {
	s := newScanner(entry)
	s.skipWS()
	if !s.consumeByte('{') {
		return chatmodel.ParsedTool{}, false
	}
	var fn []byte
	for {
		s.skipWS()
		if s.consumeByte('}') {
			break
		}
		key, ok := s.readString()
		if !ok {
			return chatmodel.ParsedTool{}, false
		}
		s.skipWS()
		if !s.consumeByte(':') {
			return chatmodel.ParsedTool{}, false
		}
		s.skipWS()
		value, ok := s.readBalancedOrString()
		if !ok {
			return chatmodel.ParsedTool{}, false
		}
		if key == "function" {
			fn = value
		}
		s.skipWS()
		if s.consumeByte(',') {
			continue
		}
		s.skipWS()
		if s.consumeByte('}') {
			break
		}
		return chatmodel.ParsedTool{}, false
	}
	if fn == nil {
		return chatmodel.ParsedTool{}, false
	}
	return parseFunctionDef(fn)
}

func parseFunctionDef(raw []byte) (chatmodel.ParsedTool, bool) {
	s := newScanner(raw)
	s.skipWS()
	if !s.consumeByte('{') {
		return chatmodel.ParsedTool{}, false
	}
	tool := chatmodel.ParsedTool{Required: map[string]bool{}}
	var haveName bool
	var parametersRaw []byte
	for {
		s.skipWS()
		if s.consumeByte('}') {
			break
		}
		key, ok := s.readString()
		if !ok {
			return chatmodel.ParsedTool{}, false
		}
		s.skipWS()
		if !s.consumeByte(':') {
			return chatmodel.ParsedTool{}, false
		}
		s.skipWS()
		switch key {
		case "name":
			name, ok := s.readString()
			if !ok {
				return chatmodel.ParsedTool{}, false
			}
			tool.Name = name
			haveName = true
		case "description":
			desc, ok := s.readString()
			if !ok {
				return chatmodel.ParsedTool{}, false
			}
			tool.Description = desc
		case "parameters":
			value, ok := s.readBalancedOrString()
			if !ok {
				return chatmodel.ParsedTool{}, false
			}
			parametersRaw = value
		default:
			if _, ok := s.readBalancedOrString(); !ok {
				return chatmodel.ParsedTool{}, false
			}
		}
		s.skipWS()
		if s.consumeByte(',') {
			continue
		}
		s.skipWS()
		if s.consumeByte('}') {
			break
		}
		return chatmodel.ParsedTool{}, false
	}
	if !haveName || tool.Name == "" {
		return chatmodel.ParsedTool{}, false
	}
	if parametersRaw != nil {
		params, required, ok := parseParameters(parametersRaw)
		if !ok {
			return chatmodel.ParsedTool{}, false
		}
		tool.Parameters = params
		for _, r := range required {
			tool.Required[r] = true
		}
	}
	return tool, true
}

// parseParameters parses a JSON Schema object: {"type":"object",
// "properties":{...},"required":[...]}. Only properties and required are
// meaningful here; declaration order of properties is preserved.
func parseParameters(raw []byte) ([]chatmodel.ParsedParameter, []string, bool) {
	s := newScanner(raw)
	s.skipWS()
	if !s.consumeByte('{') {
		return nil, nil, false
	}
	var params []chatmodel.ParsedParameter
	var required []string
	for {
		s.skipWS()
		if s.consumeByte('}') {
			break
		}
		key, ok := s.readString()
		if !ok {
			return nil, nil, false
		}
		s.skipWS()
		if !s.consumeByte(':') {
			return nil, nil, false
		}
		s.skipWS()
		switch key {
		case "properties":
			var ok2 bool
			params, ok2 = parseProperties(s)
			if !ok2 {
				return nil, nil, false
			}
		case "required":
			var ok2 bool
			required, ok2 = parseStringArray(s)
			if !ok2 {
				return nil, nil, false
			}
		default:
			if _, ok := s.readBalancedOrString(); !ok {
				return nil, nil, false
			}
		}
		s.skipWS()
		if s.consumeByte(',') {
			continue
		}
		s.skipWS()
		if s.consumeByte('}') {
			break
		}
		return nil, nil, false
	}
	return params, required, true
}

func parseProperties(s *scanner) ([]chatmodel.ParsedParameter, bool) {
	s.skipWS()
	if !s.consumeByte('{') {
		return nil, false
	}
	var params []chatmodel.ParsedParameter
	for {
		s.skipWS()
		if s.consumeByte('}') {
			break
		}
		name, ok := s.readString()
		if !ok {
			return nil, false
		}
		s.skipWS()
		if !s.consumeByte(':') {
			return nil, false
		}
		s.skipWS()
		raw, ok := s.readBalancedOrString()
		if !ok {
			return nil, false
		}
		param, ok := parseParameterSchema(name, raw)
		if !ok {
			return nil, false
		}
		params = append(params, param)
		s.skipWS()
		if s.consumeByte(',') {
			continue
		}
		s.skipWS()
		if s.consumeByte('}') {
			break
		}
		return nil, false
	}
	return params, true
}

// parseParameterSchema parses one property schema {"type":"string",
// "enum":[...]}. Unknown types are preserved as strings, per spec.
func parseParameterSchema(name string, raw []byte) (chatmodel.ParsedParameter, bool) {
	s := newScanner(raw)
	s.skipWS()
	if !s.consumeByte('{') {
		return chatmodel.ParsedParameter{}, false
	}
	param := chatmodel.ParsedParameter{Name: name, Type: "string"}
	for {
		s.skipWS()
		if s.consumeByte('}') {
			break
		}
		key, ok := s.readString()
		if !ok {
			return chatmodel.ParsedParameter{}, false
		}
		s.skipWS()
		if !s.consumeByte(':') {
			return chatmodel.ParsedParameter{}, false
		}
		s.skipWS()
		switch key {
		case "type":
			typ, ok := s.readString()
			if !ok {
				return chatmodel.ParsedParameter{}, false
			}
			if isKnownType(typ) {
				param.Type = typ
			}
		case "enum":
			enum, ok := parseStringArray(s)
			if !ok {
				return chatmodel.ParsedParameter{}, false
			}
			param.Enum = enum
		default:
			if _, ok := s.readBalancedOrString(); !ok {
				return chatmodel.ParsedParameter{}, false
			}
		}
		s.skipWS()
		if s.consumeByte(',') {
			continue
		}
		s.skipWS()
		if s.consumeByte('}') {
			break
		}
		return chatmodel.ParsedParameter{}, false
	}
	return param, true
}

func isKnownType(t string) bool {
	switch t {
	case "string", "number", "integer", "boolean", "object", "array":
		return true
	default:
		return false
	}
}

func parseStringArray(s *scanner) ([]string, bool) {
	s.skipWS()
	if !s.consumeByte('[') {
		return nil, false
	}
	var out []string
	for {
		s.skipWS()
		if s.consumeByte(']') {
			break
		}
		v, ok := s.readString()
		if !ok {
			return nil, false
		}
		out = append(out, v)
		s.skipWS()
		if s.consumeByte(',') {
			continue
		}
		s.skipWS()
		if s.consumeByte(']') {
			break
		}
		return nil, false
	}
	return out, true
}

// splitTopLevelArray splits a top-level JSON array into its element byte
// spans without fully parsing them.
func splitTopLevelArray(raw []byte) [][]byte {
	s := newScanner(raw)
	s.skipWS()
	if !s.consumeByte('[') {
		return nil
	}
	var entries [][]byte
	for {
		s.skipWS()
		if s.consumeByte(']') {
			break
		}
		entry, ok := s.readBalancedOrString()
		if !ok {
			break
		}
		entries = append(entries, entry)
		s.skipWS()
		if s.consumeByte(',') {
			continue
		}
		s.skipWS()
		if s.consumeByte(']') {
			break
		}
		break
	}
	return entries
}
