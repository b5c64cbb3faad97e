package remodel

import (
	"errors"
	"strings"
	"testing"
)

func TestMalformedRecoveryErrorTruncatesSnippet(t *testing.T) {
	long := strings.Repeat("x", 500)
	err := &MalformedRecoveryError{Raw: long}
	msg := err.Error()
	if !strings.Contains(msg, strings.Repeat("x", 160)+"...") {
		t.Fatalf("message does not truncate at 160 characters: %s", msg)
	}
	if strings.Contains(msg, strings.Repeat("x", 161)) {
		t.Fatalf("message carries more than 160 raw characters: %s", msg)
	}
	if err.Raw != long {
		t.Fatal("truncation leaked into the Raw field")
	}
}

func TestMalformedRecoveryErrorUnwrap(t *testing.T) {
	cause := errors.New("bad byte")
	err := &MalformedRecoveryError{Raw: "x", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause is not reachable through errors.Is")
	}
	if !strings.Contains(err.Error(), "bad byte") {
		t.Fatalf("message omits the cause: %s", err.Error())
	}
}

func TestIncompleteResultsErrorListsFirstFive(t *testing.T) {
	var missing []UnitAddress
	for i := 0; i < 8; i++ {
		missing = append(missing, UnitAddress{Chain: KeyChain{"items"}, Index: i})
	}
	err := &IncompleteResultsError{Missing: missing}
	msg := err.Error()
	if !strings.Contains(msg, "missing 8 unit(s)") {
		t.Fatalf("message omits the total: %s", msg)
	}
	if !strings.Contains(msg, "items/4") || strings.Contains(msg, "items/5") {
		t.Fatalf("message does not stop after five addresses: %s", msg)
	}
	if !strings.HasSuffix(msg, "...") {
		t.Fatalf("message does not mark the elision: %s", msg)
	}
}
