package textutil

import (
	"reflect"
	"testing"
)

func TestNormalizeStringMapTrimsEntries(t *testing.T) {
	input := map[string]string{
		" toss ":   " secret://payments/toss_webhook ",
		"kakaopay": "secret://payments/kakaopay_webhook",
		"naverpay": " ",
		" ":        "dropped",
		"":         "dropped",
	}

	expected := map[string]string{
		"toss":     "secret://payments/toss_webhook",
		"kakaopay": "secret://payments/kakaopay_webhook",
		"naverpay": "",
	}

	if actual := NormalizeStringMap(input); !reflect.DeepEqual(actual, expected) {
		t.Fatalf("expected %#v got %#v", expected, actual)
	}
}

func TestNormalizeStringMapEmptyInput(t *testing.T) {
	if NormalizeStringMap(nil) != nil {
		t.Fatalf("expected nil for nil input")
	}
	if NormalizeStringMap(map[string]string{}) != nil {
		t.Fatalf("expected nil for empty map")
	}
	if NormalizeStringMap(map[string]string{"  ": "x"}) != nil {
		t.Fatalf("expected nil when every key trims to empty")
	}
}
