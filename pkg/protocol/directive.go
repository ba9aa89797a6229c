package protocol

import (
	"encoding/json"
	"strings"
)

// DirectiveMarker is the literal marker the advisor embeds in its output to
// delimit a structured directive. Each occurrence is followed by exactly one
// JSON object.
const DirectiveMarker = "[SAGE-DIRECTIVE]"

// Directive types.
const (
	DirectiveSuggestion    = "suggestion"
	DirectiveMemory        = "memory"
	DirectiveActionRequest = "action_request"
	DirectiveSpawnSession  = "spawn_session"
	DirectiveSendToSession = "send_to_session"
)

// Directive is a parsed advisor instruction. Exactly one payload field is
// populated, selected by Type.
type Directive struct {
	Type string `json:"type"`

	Suggestion    *SuggestionDirective    `json:"-"`
	Memory        *MemoryDirective        `json:"-"`
	ActionRequest *ActionRequest          `json:"-"`
	SpawnSession  *SpawnSessionDirective  `json:"-"`
	SendToSession *SendToSessionDirective `json:"-"`
}

// SuggestionDirective carries the fields of a "suggestion" directive.
type SuggestionDirective struct {
	SessionID  string   `json:"session_id"`
	Title      string   `json:"title"`
	Detail     string   `json:"detail"`
	Category   string   `json:"category"`
	Severity   string   `json:"severity"`
	Confidence float64  `json:"confidence"`
	Scope      string   `json:"scope"`
	Targets    []string `json:"targets,omitempty"`
}

// MemoryDirective carries the fields of a "memory" directive.
type MemoryDirective struct {
	ProfileID  string   `json:"profile_id"`
	MemoryType string   `json:"memory_type"`
	Content    string   `json:"content"`
	Importance float64  `json:"importance"`
	ExpiryDays int      `json:"expiry_days,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
}

// SpawnSessionDirective carries the fields of a "spawn_session" directive.
type SpawnSessionDirective struct {
	Description     string `json:"description"`
	Reason          string `json:"reason"`
	ExpectedOutcome string `json:"expected_outcome"`
	WorkingDir      string `json:"working_dir"`
	AgentKind       string `json:"agent_kind,omitempty"`
}

// SendToSessionDirective carries the fields of a "send_to_session" directive.
type SendToSessionDirective struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// Valid reports whether t is a known directive type.
func ValidDirectiveType(t string) bool {
	switch t {
	case DirectiveSuggestion, DirectiveMemory, DirectiveActionRequest,
		DirectiveSpawnSession, DirectiveSendToSession:
		return true
	default:
		return false
	}
}

// ExtractDirectives scans advisor output text for DirectiveMarker
// occurrences and parses one balanced JSON object after each. Malformed or
// absent JSON after a marker is skipped; it never aborts scanning for
// subsequent markers in the same text. Directives are returned in the order
// they appear.
func ExtractDirectives(text string) []Directive {
	var out []Directive
	pos := 0
	for {
		idx := strings.Index(text[pos:], DirectiveMarker)
		if idx < 0 {
			return out
		}
		pos += idx + len(DirectiveMarker)

		raw, next := scanJSONObject(text, pos)
		if raw == "" {
			continue
		}
		pos = next

		d, ok := decodeDirective(raw)
		if !ok {
			continue
		}
		out = append(out, d)
	}
}

// scanJSONObject extracts one balanced JSON object from text starting at or
// after offset. It skips whitespace and an optional fenced-code-block opener
// (``` or ```json) before the object, then runs a bracket-depth scan that
// respects string quoting and backslash escapes. Returns the raw object and
// the offset just past it, or "" if no well-formed object starts there.
func scanJSONObject(text string, offset int) (raw string, next int) {
	i := offset
	// Skip whitespace and an optional code fence opener before the object.
	for i < len(text) {
		c := text[i]
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			i++
			continue
		}
		if strings.HasPrefix(text[i:], "```") {
			i += 3
			// Language tag on the fence line (e.g. ```json).
			for i < len(text) && text[i] != '\n' && text[i] != '{' {
				i++
			}
			continue
		}
		break
	}
	if i >= len(text) || text[i] != '{' {
		return "", offset
	}

	start := i
	depth := 0
	inString := false
	escaped := false
	for ; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], i + 1
			}
		}
	}
	// Unterminated object.
	return "", offset
}

// decodeDirective unmarshals a raw directive object and routes it to the
// payload struct selected by its type field.
func decodeDirective(raw string) (Directive, bool) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(raw), &head); err != nil {
		return Directive{}, false
	}

	d := Directive{Type: head.Type}
	switch head.Type {
	case DirectiveSuggestion:
		d.Suggestion = &SuggestionDirective{}
		if err := json.Unmarshal([]byte(raw), d.Suggestion); err != nil {
			return Directive{}, false
		}
	case DirectiveMemory:
		d.Memory = &MemoryDirective{}
		if err := json.Unmarshal([]byte(raw), d.Memory); err != nil {
			return Directive{}, false
		}
	case DirectiveActionRequest:
		d.ActionRequest = &ActionRequest{}
		if err := json.Unmarshal([]byte(raw), d.ActionRequest); err != nil {
			return Directive{}, false
		}
	case DirectiveSpawnSession:
		d.SpawnSession = &SpawnSessionDirective{}
		if err := json.Unmarshal([]byte(raw), d.SpawnSession); err != nil {
			return Directive{}, false
		}
	case DirectiveSendToSession:
		d.SendToSession = &SendToSessionDirective{}
		if err := json.Unmarshal([]byte(raw), d.SendToSession); err != nil {
			return Directive{}, false
		}
	default:
		return Directive{}, false
	}
	return d, true
}
