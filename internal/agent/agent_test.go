package agent

import (
	"strings"
	"testing"

	"MarketSeer/internal/profile"
)

func TestAllReturnsFourPersonasInOrder(t *testing.T) {
	personas := All()
	if len(personas) != 4 {
		t.Fatalf("expected 4 personas, got %d", len(personas))
	}
	wantOrder := []string{KeyArchivist, KeyShadow, KeySeer, KeyNexus}
	for i, key := range wantOrder {
		if personas[i].Key != key {
			t.Fatalf("persona %d should be %q, got %q", i, key, personas[i].Key)
		}
	}
}

func TestLookupNormalizesKey(t *testing.T) {
	p, err := Lookup("  Archivist ")
	if err != nil {
		t.Fatalf("lookup archivist: %v", err)
	}
	if p.Role != "Expert in finding relevant market data" {
		t.Fatalf("unexpected role: %q", p.Role)
	}
}

func TestLookupRejectsUnknownKey(t *testing.T) {
	if _, err := Lookup("oracle"); err == nil {
		t.Fatal("expected error for unknown persona key")
	}
}

func TestPreambleIncludesClientName(t *testing.T) {
	p, err := Lookup(KeyNexus)
	if err != nil {
		t.Fatalf("lookup nexus: %v", err)
	}
	preamble := p.Preamble(&profile.Profile{CompanyName: "星图智能", Industry: "Enterprise Software"})
	if !strings.Contains(preamble, "## Role") || !strings.Contains(preamble, "## Backstory") {
		t.Fatalf("preamble missing sections: %q", preamble)
	}
	if !strings.Contains(preamble, "星图智能") {
		t.Fatalf("preamble should name the client: %q", preamble)
	}
}

func TestPreambleWithoutProfileOmitsClient(t *testing.T) {
	p, err := Lookup(KeySeer)
	if err != nil {
		t.Fatalf("lookup seer: %v", err)
	}
	preamble := p.Preamble(nil)
	if strings.Contains(preamble, "currently serving") {
		t.Fatalf("preamble without profile should omit the client clause: %q", preamble)
	}
}

func TestAllReturnsCopy(t *testing.T) {
	first := All()
	first[0].Role = "tampered"
	if All()[0].Role == "tampered" {
		t.Fatal("All should return a copy, not the backing catalog")
	}
}
