package prompt

import (
	"fmt"
	"strings"
	"testing"

	"MarketSeer/internal/profile"
)

func sampleProfile() *profile.Profile {
	return &profile.Profile{
		CompanyName:           "星图智能",
		Industry:              "Enterprise Software",
		CompanyDescription:    "面向中型企业的流程自动化 SaaS 平台",
		TargetCustomers:       []string{"中型企业", "运营团队", "IT 部门"},
		ProductsServices:      []string{"流程编排", "数据集成"},
		BusinessModel:         "订阅制 SaaS",
		MainCompetitors:       []string{"Zapier", "UiPath", "Make", "n8n"},
		CompetitiveAdvantages: []string{"本地化部署", "低代码"},
		MarketPosition:        "细分市场挑战者",
		CurrentChallenges:     []string{"获客成本高"},
		StrategicGoals:        []string{"扩大市场份额", "进入东南亚市场"},
		ResearchFocusAreas:    []string{"竞争定位", "定价策略"},
	}
}

func allFields() []Field {
	return []Field{
		FieldCompanyName, FieldIndustry, FieldDescription,
		FieldTargetCustomers, FieldProductsServices, FieldBusinessModel,
		FieldCompetitors, FieldAdvantages, FieldMarketPosition,
		FieldChallenges, FieldGoals, FieldFocusAreas,
	}
}

func TestRenderBlockStaysWithinBudget(t *testing.T) {
	in := NewInjector(sampleProfile())
	for _, budget := range []int{10, 25, 50, 100, 500} {
		block := in.RenderBlock(allFields(), budget)
		if got := EstimateTokens(block); got > budget {
			t.Fatalf("budget %d exceeded: block costs %d tokens\n%s", budget, got, block)
		}
	}
}

func TestRenderBlockDropsWholeFields(t *testing.T) {
	in := NewInjector(sampleProfile())
	block := in.RenderBlock(allFields(), 30)
	for _, line := range strings.Split(block, "\n") {
		if !strings.Contains(line, ": ") {
			t.Fatalf("field was truncated mid-value instead of dropped: %q", line)
		}
	}
}

func TestCompanyNameSurvivesOversizedCompetitorList(t *testing.T) {
	p := sampleProfile()
	p.MainCompetitors = make([]string, 50)
	for i := range p.MainCompetitors {
		p.MainCompetitors[i] = fmt.Sprintf("Competitor-%02d", i)
	}

	in := NewInjector(p)
	block := in.RenderBlock(allFields(), 50)
	if !strings.Contains(block, "Company: 星图智能") {
		t.Fatalf("company name should survive tight budgets: %q", block)
	}
	if !strings.Contains(block, "Industry: Enterprise Software") {
		t.Fatalf("industry should survive tight budgets: %q", block)
	}
	if got := EstimateTokens(block); got > 50 {
		t.Fatalf("budget 50 exceeded: block costs %d tokens", got)
	}
}

func TestListFieldsAreCapped(t *testing.T) {
	in := NewInjector(sampleProfile())
	block := in.RenderBlock(allFields(), 10_000)
	if strings.Contains(block, "n8n") {
		t.Fatalf("competitor list should keep at most 3 entries: %q", block)
	}
	if strings.Contains(block, "IT 部门") {
		t.Fatalf("customer list should keep at most 2 entries: %q", block)
	}
	if strings.Contains(block, "进入东南亚市场") {
		t.Fatalf("goal list should keep a single entry: %q", block)
	}
}

func TestInjectAppendsContextSection(t *testing.T) {
	in := NewInjector(sampleProfile())
	base := "Research key market segments."
	prompt := in.Inject(base, allFields(), 500)
	if !strings.HasPrefix(prompt, base) {
		t.Fatalf("base template must stay intact: %q", prompt)
	}
	if !strings.Contains(prompt, "## Company Context") {
		t.Fatalf("missing context section: %q", prompt)
	}
}

func TestInjectedPromptStaysWithinBudget(t *testing.T) {
	// 长公司名让渲染段落贴着预算上限，标题开销必须一并计入。
	p := sampleProfile()
	p.CompanyName = strings.Repeat("星图智能科技", 10) + "有限公司"

	base := "Research key market segments."
	in := NewInjector(p)
	for _, budget := range []int{10, 25, 50, 100, 500} {
		prompt := in.Inject(base, allFields(), budget)
		limit := EstimateTokens(base) + budget
		if got := EstimateTokens(prompt); got > limit {
			t.Fatalf("budget %d exceeded: prompt costs %d tokens, limit %d\n%s",
				budget, got, limit, prompt)
		}
		if !strings.HasPrefix(prompt, base) {
			t.Fatalf("base template must stay intact: %q", prompt)
		}
	}
}

func TestInjectReturnsBaseWhenNothingFits(t *testing.T) {
	p := sampleProfile()
	p.CompanyName = strings.Repeat("超长公司名", 40)
	fields := []Field{FieldCompanyName}

	in := NewInjector(p)
	base := "Research key market segments."
	if got := in.Inject(base, fields, 5); got != base {
		t.Fatalf("oversized block should leave the prompt unchanged, got %q", got)
	}
}

func TestNilProfileRendersBaseUnchanged(t *testing.T) {
	in := NewInjector(nil)
	base := "Research key market segments."
	if got := in.Inject(base, allFields(), 500); got != base {
		t.Fatalf("nil profile should leave the prompt unchanged, got %q", got)
	}
	if block := in.RenderBlock(allFields(), 500); block != "" {
		t.Fatalf("nil profile should render an empty block, got %q", block)
	}
}

func TestCustomTokenCounter(t *testing.T) {
	calls := 0
	in := NewInjector(sampleProfile(), WithTokenCounter(func(text string) int {
		calls++
		return len(text)
	}))
	block := in.RenderBlock([]Field{FieldCompanyName, FieldIndustry}, 10_000)
	if calls == 0 {
		t.Fatal("custom counter was never consulted")
	}
	if block == "" {
		t.Fatal("expected a non-empty block")
	}
}

func TestZeroBudgetRendersNothing(t *testing.T) {
	in := NewInjector(sampleProfile())
	if block := in.RenderBlock(allFields(), 0); block != "" {
		t.Fatalf("zero budget should render nothing, got %q", block)
	}
}
