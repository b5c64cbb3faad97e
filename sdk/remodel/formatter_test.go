package remodel

import (
	"errors"
	"testing"
)

func TestToJSONIndented(t *testing.T) {
	f := Formatter{Indent: 2}
	out, err := f.ToJSON([]byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	if want := "{\n  \"a\": 1\n}"; string(out) != want {
		t.Fatalf("indented output is %q, want %q", out, want)
	}
}

func TestToJSONCompactWhenIndentUnset(t *testing.T) {
	f := Formatter{}
	out, err := f.ToJSON([]byte(`{ "b": 2, "a": 1 }`))
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	if string(out) != `{"b":2,"a":1}` {
		t.Fatalf("compact output is %s", out)
	}

	if _, err := f.ToJSON([]byte("nope")); err == nil {
		t.Fatal("invalid document serialized without error")
	}
}

func TestRepair(t *testing.T) {
	f := Formatter{}
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "code fence with language",
			in:   "```json\n{\"a\": 1}\n```",
			want: `{"a": 1}`,
		},
		{
			name: "prose around the document",
			in:   `The answer is {"a": 1} hope that helps`,
			want: `{"a": 1}`,
		},
		{
			name: "escaped quotes",
			in:   `{\"a\": \"x\"}`,
			want: `{"a": "x"}`,
		},
		{
			name: "literal newline escapes",
			in:   `{"a": 1,\n"b": 2}`,
			want: `{"a": 1,"b": 2}`,
		},
		{
			name: "string-encoded object",
			in:   `{"data": "{\"x\": 1}"}`,
			want: `{"data": {"x": 1}}`,
		},
		{
			name: "mojibake dash",
			in:   `{"note":"xâ€”y"}`,
			want: `{"note":"x–y"}`,
		},
		{
			name: "whitespace runs",
			in:   "  {\"a\":\n\t 1}  ",
			want: `{"a": 1}`,
		},
	}
	for _, tt := range tests {
		if got := f.Repair(tt.in); got != tt.want {
			t.Errorf("%s: Repair(%q) = %q, want %q", tt.name, tt.in, got, tt.want)
		}
	}
}

func TestParseRepairedCleanPassthrough(t *testing.T) {
	f := Formatter{}
	// A directly parseable result must not go through the lossy repair
	// passes: the escaped quote inside the string survives.
	in := `{"s":"say \"hi\"","b":2,"a":1}`
	out, err := f.ParseRepaired(in)
	if err != nil {
		t.Fatalf("ParseRepaired failed: %v", err)
	}
	if string(out) != in {
		t.Fatalf("clean input was altered: %s", out)
	}
}

func TestParseRepairedAppliesRepairs(t *testing.T) {
	f := Formatter{}
	out, err := f.ParseRepaired("```json\n{\"a\": 1}\n```")
	if err != nil {
		t.Fatalf("ParseRepaired failed: %v", err)
	}
	if string(out) != `{"a":1}` {
		t.Fatalf("repaired output is %s", out)
	}
}

func TestParseRepairedMalformed(t *testing.T) {
	f := Formatter{}
	_, err := f.ParseRepaired("definitely not json")
	if err == nil {
		t.Fatal("unparseable input did not error")
	}
	var malformed *MalformedRecoveryError
	if !errors.As(err, &malformed) {
		t.Fatalf("error is %T, want *MalformedRecoveryError", err)
	}
	if malformed.Raw != "definitely not json" {
		t.Fatalf("error carries raw %q", malformed.Raw)
	}
}

func TestStripCodeFenceWithoutLanguage(t *testing.T) {
	if got := stripCodeFence("```\n[1,2]\n```"); got != "[1,2]" {
		t.Fatalf("stripCodeFence returned %q", got)
	}
	if got := stripCodeFence("no fence here"); got != "no fence here" {
		t.Fatalf("unfenced text was altered: %q", got)
	}
}

func TestExtractJSONCandidate(t *testing.T) {
	got, ok := extractJSONCandidate(`x {"a": "}"} y`)
	if !ok || got != `{"a": "}"}` {
		t.Fatalf("extract returned (%q, %v); braces inside strings must not close the span", got, ok)
	}

	if _, ok := extractJSONCandidate("start { middle"); ok {
		t.Fatal("unbalanced span was extracted")
	}
	if _, ok := extractJSONCandidate("no json at all"); ok {
		t.Fatal("text without a span was extracted")
	}
	if _, ok := extractJSONCandidate(`{]`); ok {
		t.Fatal("mismatched delimiters were extracted")
	}
}
