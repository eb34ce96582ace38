package credential

import (
	"reflect"
	"testing"
)

func TestResolveSlotsPreservesOrder(t *testing.T) {
	lookup := func(name string) string {
		values := map[string]string{
			"GEN_MODEL_API":   "key-gemini",
			"MISTRAL_API_KEY": "key-mistral",
			"OPENAI_API_KEY":  "  ",
		}
		return values[name]
	}
	resolver := NewResolver(WithLookup(lookup))

	slots := []string{"GEN_MODEL_API", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "MISTRAL_API_KEY"}
	got := resolver.ResolveSlots(slots)

	want := []Credential{
		{Slot: "GEN_MODEL_API", Value: "key-gemini"},
		{Slot: "MISTRAL_API_KEY", Value: "key-mistral"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected resolution: got %+v want %+v", got, want)
	}
}

func TestResolveSlotsAllAbsent(t *testing.T) {
	resolver := NewResolver(WithLookup(func(string) string { return "" }))

	got := resolver.ResolveSlots([]string{"GEN_MODEL_API", "OPENAI_API_KEY"})
	if len(got) != 0 {
		t.Fatalf("expected empty resolution, got %+v", got)
	}
}

func TestResolveSlotsDeterministic(t *testing.T) {
	lookup := func(name string) string {
		if name == "ANTHROPIC_API_KEY" {
			return "key-anthropic"
		}
		return ""
	}
	resolver := NewResolver(WithLookup(lookup))
	slots := []string{"GEN_MODEL_API", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "MISTRAL_API_KEY"}

	first := resolver.ResolveSlots(slots)
	for i := 0; i < 10; i++ {
		again := resolver.ResolveSlots(slots)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("resolution changed between runs: %+v vs %+v", first, again)
		}
	}
	if len(first) != 1 || first[0].Slot != "ANTHROPIC_API_KEY" {
		t.Fatalf("unexpected resolution: %+v", first)
	}
}

func TestPresentTrimsWhitespace(t *testing.T) {
	resolver := NewResolver(WithLookup(func(string) string { return "  key-123  " }))

	value, ok := resolver.Present("OPENAI_API_KEY")
	if !ok {
		t.Fatal("expected slot to be present")
	}
	if value != "key-123" {
		t.Fatalf("unexpected value: %q", value)
	}
}
