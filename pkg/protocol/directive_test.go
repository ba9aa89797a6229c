package protocol

import (
	"strings"
	"testing"
)

func TestExtractDirectives_SingleSuggestion(t *testing.T) {
	text := `Looking at session s1, I recommend a cleanup.

[SAGE-DIRECTIVE] {"type":"suggestion","session_id":"s1","title":"Clean up handlers","detail":"x","severity":"medium","confidence":0.8,"scope":"session"}`

	got := ExtractDirectives(text)
	if len(got) != 1 {
		t.Fatalf("expected 1 directive, got %d", len(got))
	}
	if got[0].Type != DirectiveSuggestion {
		t.Errorf("type = %q, want suggestion", got[0].Type)
	}
	if got[0].Suggestion == nil || got[0].Suggestion.Title != "Clean up handlers" {
		t.Errorf("suggestion payload not decoded: %+v", got[0].Suggestion)
	}
}

func TestExtractDirectives_TwoBackToBack(t *testing.T) {
	text := `[SAGE-DIRECTIVE] {"type":"memory","memory_type":"preference","content":"prefers tabs"}[SAGE-DIRECTIVE] {"type":"spawn_session","description":"fix flaky test","working_dir":"/srv/app"}`

	got := ExtractDirectives(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 directives, got %d", len(got))
	}
	if got[0].Type != DirectiveMemory || got[1].Type != DirectiveSpawnSession {
		t.Errorf("directive order wrong: %q then %q", got[0].Type, got[1].Type)
	}
}

func TestExtractDirectives_MalformedDoesNotAbortScan(t *testing.T) {
	text := `[SAGE-DIRECTIVE] this is not json at all
[SAGE-DIRECTIVE] {"type":"memory","memory_type":"knowledge","content":"uses sqlite WAL"}`

	got := ExtractDirectives(text)
	if len(got) != 1 {
		t.Fatalf("expected 1 directive, got %d", len(got))
	}
	if got[0].Memory == nil || got[0].Memory.Content != "uses sqlite WAL" {
		t.Errorf("memory payload = %+v", got[0].Memory)
	}
}

func TestExtractDirectives_FencedCodeBlock(t *testing.T) {
	text := "[SAGE-DIRECTIVE]\n```json\n{\"type\":\"send_to_session\",\"session_id\":\"s7\",\"text\":\"please rerun the tests\"}\n```"

	got := ExtractDirectives(text)
	if len(got) != 1 {
		t.Fatalf("expected 1 directive, got %d", len(got))
	}
	if got[0].SendToSession == nil || got[0].SendToSession.SessionID != "s7" {
		t.Errorf("send_to_session payload = %+v", got[0].SendToSession)
	}
}

func TestExtractDirectives_NestedBracesInsideStrings(t *testing.T) {
	text := `[SAGE-DIRECTIVE] {"type":"suggestion","session_id":"s1","title":"Handle {weird} input","detail":"see func() { return \"{\" }"} trailing garbage { not json`

	got := ExtractDirectives(text)
	if len(got) != 1 {
		t.Fatalf("expected 1 directive, got %d", len(got))
	}
	if !strings.Contains(got[0].Suggestion.Detail, `{`) {
		t.Errorf("detail lost brace content: %q", got[0].Suggestion.Detail)
	}
}

func TestExtractDirectives_EscapedQuotes(t *testing.T) {
	text := `[SAGE-DIRECTIVE] {"type":"memory","memory_type":"context","content":"the \"prod\" db is replicated, escape \\\" test"}`

	got := ExtractDirectives(text)
	if len(got) != 1 {
		t.Fatalf("expected 1 directive, got %d", len(got))
	}
}

func TestExtractDirectives_UnterminatedObject(t *testing.T) {
	text := `[SAGE-DIRECTIVE] {"type":"memory","content":"never closed`
	if got := ExtractDirectives(text); len(got) != 0 {
		t.Fatalf("expected 0 directives for unterminated object, got %d", len(got))
	}
}

func TestExtractDirectives_UnknownTypeSkipped(t *testing.T) {
	text := `[SAGE-DIRECTIVE] {"type":"self_destruct"}
[SAGE-DIRECTIVE] {"type":"action_request","action_type":"refactor","steps":[{"type":"command","content":"go test ./..."}],"reversible":true}`

	got := ExtractDirectives(text)
	if len(got) != 1 {
		t.Fatalf("expected 1 directive, got %d", len(got))
	}
	if got[0].ActionRequest == nil || !got[0].ActionRequest.Reversible {
		t.Errorf("action_request payload = %+v", got[0].ActionRequest)
	}
	if len(got[0].ActionRequest.Steps) != 1 || got[0].ActionRequest.Steps[0].Type != StepCommand {
		t.Errorf("steps = %+v", got[0].ActionRequest.Steps)
	}
}

func TestExtractDirectives_NoMarker(t *testing.T) {
	if got := ExtractDirectives(`just a normal advisor reply with {"type":"memory"} json`); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestScanJSONObject_TrailingGarbage(t *testing.T) {
	text := `  {"a":{"b":[1,2,"}"]}}}}garbage`
	raw, next := scanJSONObject(text, 0)
	if raw != `{"a":{"b":[1,2,"}"]}}` {
		t.Errorf("raw = %q", raw)
	}
	if text[next] != '}' {
		t.Errorf("next should point at first trailing char, got %q", text[next])
	}
}

func TestValidDirectiveType(t *testing.T) {
	for _, typ := range []string{DirectiveSuggestion, DirectiveMemory, DirectiveActionRequest, DirectiveSpawnSession, DirectiveSendToSession} {
		if !ValidDirectiveType(typ) {
			t.Errorf("%q should be valid", typ)
		}
	}
	if ValidDirectiveType("reboot") {
		t.Error("unknown type should be invalid")
	}
}
