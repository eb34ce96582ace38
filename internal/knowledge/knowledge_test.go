package knowledge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStaticProviderQueryMatchesKeywords(t *testing.T) {
	provider := NewStaticProvider([]Snippet{
		{Title: "SaaS 定价", Content: "订阅制定价的常见模型", Keywords: []string{"pricing", "saas"}},
		{Title: "零售趋势", Content: "线下零售的数字化转型", Keywords: []string{"retail"}},
		{Title: "通用方法论", Content: "市场调研的基本框架"},
	}, 3)

	results := provider.Query("saas pricing strategy", "Enterprise Software")
	if len(results) != 2 {
		t.Fatalf("expected 2 snippets (keyword match + keywordless), got %d", len(results))
	}
	if results[0].Title != "SaaS 定价" {
		t.Fatalf("unexpected first snippet: %q", results[0].Title)
	}
}

func TestStaticProviderQueryMatchesIndustry(t *testing.T) {
	provider := NewStaticProvider([]Snippet{
		{Title: "零售趋势", Content: "线下零售的数字化转型", Keywords: []string{"retail"}},
	}, 3)

	results := provider.Query("market segments", "Retail")
	if len(results) != 1 {
		t.Fatalf("industry should match snippet keywords, got %d results", len(results))
	}
}

func TestStaticProviderLimitsResults(t *testing.T) {
	items := []Snippet{
		{Title: "甲", Content: "a"},
		{Title: "乙", Content: "b"},
		{Title: "丙", Content: "c"},
		{Title: "丁", Content: "d"},
	}
	provider := NewStaticProvider(items, 2)
	if got := provider.Query("anything", ""); len(got) != 2 {
		t.Fatalf("expected maxResults to cap output at 2, got %d", len(got))
	}
}

func TestLoadStaticProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.json")
	content := `[{"title":"竞争分析","content":"波特五力模型","keywords":["competitor"]}]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write knowledge file: %v", err)
	}

	provider, err := LoadStaticProvider(path, 0)
	if err != nil {
		t.Fatalf("load knowledge: %v", err)
	}
	results := provider.Query("competitor profiles", "")
	if len(results) != 1 || results[0].Title != "竞争分析" {
		t.Fatalf("unexpected query results: %+v", results)
	}
}

func TestLoadStaticProviderRejectsEmptyPath(t *testing.T) {
	if _, err := LoadStaticProvider("  ", 3); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestIndustryFocus(t *testing.T) {
	cases := []struct {
		industry string
		want     string
	}{
		{"Enterprise Software", "technology trends, innovation, digital transformation"},
		{"Consumer Tech", "technology trends, innovation, digital transformation"},
		{"Healthcare Services", "healthcare regulations, patient outcomes, medical technology"},
		{"Finance", "financial regulations, fintech disruption, market volatility"},
		{"Retail & E-commerce", "consumer behavior, e-commerce trends, supply chain"},
		{"Agriculture", defaultFocus},
		{"", defaultFocus},
	}
	for _, tc := range cases {
		if got := IndustryFocus(tc.industry); got != tc.want {
			t.Fatalf("IndustryFocus(%q) = %q, want %q", tc.industry, got, tc.want)
		}
	}
}

func TestNilProviderIsSafe(t *testing.T) {
	var p *StaticProvider
	if got := p.Query("anything", "tech"); got != nil {
		t.Fatalf("nil provider should return nil, got %+v", got)
	}
	if !strings.Contains(defaultFocus, "market dynamics") {
		t.Fatal("default focus changed unexpectedly")
	}
}
