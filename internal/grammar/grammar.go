// Package grammar synthesizes a GBNF grammar string from a parsed tool
// catalog so a decoder's sampler chain can constrain generation to valid
// tool-call JSON.
package grammar

import (
	"fmt"
	"strings"

	"toolrunner/engine/internal/chatmodel"
)

const commonTerminals = `ws ::= [ \t\n]*
string ::= "\"" ([^"\\] | "\\" (["\\/bfnrt] | "u" [0-9a-fA-F] [0-9a-fA-F] [0-9a-fA-F] [0-9a-fA-F]))* "\""
number ::= "-"? ("0" | [1-9] [0-9]*) ("." [0-9]+)? ([eE] [+-]? [0-9]+)?
boolean ::= "true" | "false"
null ::= "null"
value ::= object | array | string | number | boolean | null
member ::= string ws ":" ws value
object ::= "{" ws (member (ws "," ws member)*)? ws "}"
array ::= "[" ws (value (ws "," ws value)*)? ws "]"
`

// Synthesize builds a typed GBNF grammar constraining generation to
// {"tool_calls":[<call>]} where <call> is a disjunction of per-tool call
// rules. Returns "" if tools is empty or every tool fails to contribute a
// call rule, signalling that the caller should fall back to Generic.
func Synthesize(tools []chatmodel.ParsedTool) string {
	if len(tools) == 0 {
		return ""
	}
	var callAlts []string
	var body strings.Builder
	for i, tool := range tools {
		ruleName := fmt.Sprintf("call_t%d", i)
		rule, ok := callRule(ruleName, tool, i)
		if !ok {
			continue
		}
		callAlts = append(callAlts, ruleName)
		body.WriteString(rule)
	}
	if len(callAlts) == 0 {
		return ""
	}

	var out strings.Builder
	out.WriteString("root ::= ws toolcall ws\n")
	out.WriteString(`toolcall ::= "{" ws "\"tool_calls\"" ws ":" ws "[" ws call ws "]" ws "}"` + "\n")
	out.WriteString("call ::= " + strings.Join(callAlts, " | ") + "\n")
	out.WriteString(body.String())
	out.WriteString(commonTerminals)
	return out.String()
}

// callRule builds the call_Ti rule and its supporting kv_Ti_p / args_Ti
// rules for one tool. Returns ok=false only if the tool contributes
// nothing usable (never happens for a validly parsed tool, but guards
// against a tool with an empty name slipping through upstream parsing).
func callRule(ruleName string, tool chatmodel.ParsedTool, index int) (string, bool) {
	if tool.Name == "" {
		return "", false
	}
	var required, optional []chatmodel.ParsedParameter
	for _, p := range tool.Parameters {
		if tool.Required[p.Name] {
			required = append(required, p)
		} else {
			optional = append(optional, p)
		}
	}

	var b strings.Builder
	argsRule := fmt.Sprintf("args_t%d", index)
	fmt.Fprintf(&b, "%s ::= \"{\" ws \"\\\"name\\\"\" ws \":\" ws \"\\\"%s\\\"\" ws \",\" ws \"\\\"arguments\\\"\" ws \":\" ws %s ws \"}\"\n",
		ruleName, escapeGBNFLiteral(tool.Name), argsRule)

	kvNames := make([]string, len(tool.Parameters))
	for i, p := range tool.Parameters {
		kvName := fmt.Sprintf("kv_t%d_p%d", index, i)
		kvNames[i] = kvName
		fmt.Fprintf(&b, "%s ::= \"\\\"%s\\\"\" ws \":\" ws %s\n", kvName, escapeGBNFLiteral(p.Name), valueRule(p))
	}

	b.WriteString(argsRuleBody(argsRule, tool.Parameters, tool.Required, kvNames))
	return b.String(), true
}

func argsRuleBody(argsRule string, params []chatmodel.ParsedParameter, required map[string]bool, kvNames []string) string {
	if len(params) == 0 {
		return fmt.Sprintf("%s ::= \"{\" ws \"}\"\n", argsRule)
	}

	var requiredKV []string
	var optionalKV []string
	for i, p := range params {
		if required[p.Name] {
			requiredKV = append(requiredKV, kvNames[i])
		} else {
			optionalKV = append(optionalKV, kvNames[i])
		}
	}

	optGroup := nestedOptionalGroup(optionalKV)

	switch {
	case len(requiredKV) > 0 && len(optionalKV) == 0:
		return fmt.Sprintf("%s ::= \"{\" ws %s ws \"}\"\n", argsRule, strings.Join(requiredKV, ` ws "," ws `))
	case len(requiredKV) == 0 && len(optionalKV) > 0:
		return fmt.Sprintf("%s ::= \"{\" ws (%s)? ws \"}\"\n", argsRule, optGroup)
	default:
		return fmt.Sprintf("%s ::= \"{\" ws %s (ws \",\" ws %s)? ws \"}\"\n",
			argsRule, strings.Join(requiredKV, ` ws "," ws `), optGroup)
	}
}

// nestedOptionalGroup builds the right-nested optional-prefix structure:
// kv0 (ws "," ws kv1 (ws "," ws kv2 (...)? )? )?
// which admits exactly every declaration-order prefix of kvNames, with no
// trailing comma ever admitted.
func nestedOptionalGroup(kvNames []string) string {
	if len(kvNames) == 0 {
		return ""
	}
	if len(kvNames) == 1 {
		return kvNames[0]
	}
	rest := nestedOptionalGroup(kvNames[1:])
	return fmt.Sprintf(`%s (ws "," ws %s)?`, kvNames[0], rest)
}

func valueRule(p chatmodel.ParsedParameter) string {
	if len(p.Enum) > 0 {
		alts := make([]string, len(p.Enum))
		for i, v := range p.Enum {
			alts[i] = fmt.Sprintf("\"\\\"%s\\\"\"", escapeGBNFLiteral(v))
		}
		return "(" + strings.Join(alts, " | ") + ")"
	}
	switch p.Type {
	case "string":
		return "string"
	case "number", "integer":
		return "number"
	case "boolean":
		return "boolean"
	case "object":
		return "object"
	case "array":
		return "array"
	default:
		return "value"
	}
}

func escapeGBNFLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// Generic builds the fallback grammar: it enforces the tool-call envelope
// and a name drawn from the known tool names, but leaves arguments as an
// opaque JSON object.
func Generic(names []string) string {
	if len(names) == 0 {
		return ""
	}
	alts := make([]string, len(names))
	for i, n := range names {
		alts[i] = fmt.Sprintf("\"\\\"%s\\\"\"", escapeGBNFLiteral(n))
	}
	var out strings.Builder
	out.WriteString("root ::= ws toolcall ws\n")
	out.WriteString(`toolcall ::= "{" ws "\"tool_calls\"" ws ":" ws "[" ws call ws "]" ws "}"` + "\n")
	out.WriteString(fmt.Sprintf("call ::= \"{\" ws \"\\\"name\\\"\" ws \":\" ws name ws \",\" ws \"\\\"arguments\\\"\" ws \":\" ws object ws \"}\"\n"))
	out.WriteString("name ::= " + strings.Join(alts, " | ") + "\n")
	out.WriteString(commonTerminals)
	return out.String()
}
