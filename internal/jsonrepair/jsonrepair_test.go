package jsonrepair

import (
	"reflect"
	"testing"
)

func TestCleanStripsMarkdownFence(t *testing.T) {
	in := "```json\n{\"markers\":[]}\n```"
	got := Clean(in)
	if got != `{"markers":[]}` {
		t.Fatalf("Clean() = %q, want clean JSON object", got)
	}
}

func TestCleanStripsProseAroundObject(t *testing.T) {
	in := "Sure, here is the JSON:\n{\"a\":1}\nHope that helps!"
	got := Clean(in)
	if got != `{"a":1}` {
		t.Fatalf("Clean() = %q", got)
	}
}

func TestCleanStripsControlChars(t *testing.T) {
	in := "{\"a\":\x01\"b\x02\"}"
	got := Clean(in)
	if got != `{"a":"b"}` {
		t.Fatalf("Clean() = %q", got)
	}
}

func TestParseDirectSuccess(t *testing.T) {
	var out map[string]any
	if err := Parse(`{"markers":[]}`, &out); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
}

func TestParseRetriesAfterClean(t *testing.T) {
	var out map[string]any
	in := "```json\n{\"markers\":[]}\n```"
	if err := Parse(in, &out); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if _, ok := out["markers"]; !ok {
		t.Fatalf("Parse() result missing markers key: %v", out)
	}
}

func TestParseFailsWhenUnrecoverable(t *testing.T) {
	var out map[string]any
	if err := Parse("not json at all", &out); err == nil {
		t.Fatal("Parse() expected error for unrecoverable input")
	}
}

func TestParseIdempotent(t *testing.T) {
	in := "```json\n{\"markers\":[{\"marker\":\"Hemoglobin\",\"value\":14}]}\n```"
	var a, b map[string]any
	if err := Parse(in, &a); err != nil {
		t.Fatalf("first Parse() error = %v", err)
	}
	if err := Parse(in, &b); err != nil {
		t.Fatalf("second Parse() error = %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("Parse() not idempotent: first = %v, second = %v", a, b)
	}
}

func TestValidateRequiresKeys(t *testing.T) {
	v := map[string]any{"markers": []any{}}
	if err := Validate(v, []string{"markers", "document_type"}, nil); err == nil {
		t.Fatal("Validate() expected error for missing document_type")
	}
}

func TestValidateCoercesNumberToString(t *testing.T) {
	v := map[string]any{"value": float64(14)}
	if err := Validate(v, nil, []string{"value"}); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if v["value"] != "14" {
		t.Fatalf("Validate() value = %v, want \"14\"", v["value"])
	}
}

func TestValidateRejectsWrongKind(t *testing.T) {
	v := map[string]any{"value": []any{1, 2}}
	if err := Validate(v, nil, []string{"value"}); err == nil {
		t.Fatal("Validate() expected error for non-scalar field")
	}
}
