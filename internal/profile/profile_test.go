package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeProfileFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "company_profile.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write profile file: %v", err)
	}
	return path
}

func TestLoadValidProfile(t *testing.T) {
	path := writeProfileFile(t, `{
		"company_name": "星图智能",
		"industry": "Enterprise Software",
		"company_description": "面向中型企业的流程自动化 SaaS 平台",
		"target_customers": ["中型企业", "运营团队"],
		"main_competitors": ["Zapier", "UiPath"],
		"strategic_goals": ["扩大市场份额"],
		"research_focus_areas": ["竞争定位"]
	}`)

	p, err := Load(path)
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if p == nil {
		t.Fatal("expected a profile, got nil")
	}
	if p.CompanyName != "星图智能" {
		t.Fatalf("unexpected company name: %q", p.CompanyName)
	}
	if len(p.MainCompetitors) != 2 {
		t.Fatalf("expected 2 competitors, got %d", len(p.MainCompetitors))
	}
}

func TestLoadMissingFileIsDegradedMode(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing profile should not be an error, got %v", err)
	}
	if p != nil {
		t.Fatalf("missing profile should yield nil, got %+v", p)
	}
}

func TestLoadRejectsInvalidProfile(t *testing.T) {
	path := writeProfileFile(t, `{"company_name": "", "industry": ""}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for empty required fields")
	}
}

func TestSummaryJoinsFields(t *testing.T) {
	p := &Profile{
		CompanyName:     "星图智能",
		Industry:        "Enterprise Software",
		MainCompetitors: []string{"Zapier", "UiPath"},
	}
	summary := p.Summary()
	if !strings.Contains(summary, "Company: 星图智能") {
		t.Fatalf("summary missing company name: %q", summary)
	}
	if !strings.Contains(summary, " | ") {
		t.Fatalf("summary should join fields with separator: %q", summary)
	}
	if !strings.Contains(summary, "Main Competitors: Zapier, UiPath") {
		t.Fatalf("summary missing competitors: %q", summary)
	}
}

func TestCompactSummaryTruncatesLists(t *testing.T) {
	competitors := make([]string, 10)
	for i := range competitors {
		competitors[i] = "Rival"
	}
	p := &Profile{
		CompanyName:        "星图智能",
		Industry:           "Retail",
		CompanyDescription: strings.Repeat("很长的描述", 50),
		MainCompetitors:    competitors,
	}
	compact := p.CompactSummary()
	if strings.Count(compact, "Rival") > 3 {
		t.Fatalf("compact summary should keep at most 3 competitors: %q", compact)
	}
	if !strings.Contains(compact, "...") {
		t.Fatalf("compact summary should truncate the description: %q", compact)
	}
}

func TestNilProfileIsSafe(t *testing.T) {
	var p *Profile
	if p.Summary() != "" || p.CompactSummary() != "" {
		t.Fatal("nil profile should render empty summaries")
	}
	if errs := p.Validate(); len(errs) == 0 {
		t.Fatal("nil profile should fail validation")
	}
}
