package prompt

import (
	"strings"

	"MarketSeer/internal/profile"
)

// Field 标识企业画像中可注入提示词的一个字段。
type Field string

const (
	FieldCompanyName      Field = "company_name"
	FieldIndustry         Field = "industry"
	FieldDescription      Field = "company_description"
	FieldTargetCustomers  Field = "target_customers"
	FieldProductsServices Field = "products_services"
	FieldBusinessModel    Field = "business_model"
	FieldCompetitors      Field = "main_competitors"
	FieldAdvantages       Field = "competitive_advantages"
	FieldMarketPosition   Field = "market_position"
	FieldChallenges       Field = "current_challenges"
	FieldGoals            Field = "strategic_goals"
	FieldFocusAreas       Field = "research_focus_areas"
)

// fieldPriority 定义字段的保留优先级，数值越小越晚被丢弃。
// 公司名与行业最先保留，挑战与研究重点最先让位。
var fieldPriority = map[Field]int{
	FieldCompanyName:      0,
	FieldIndustry:         1,
	FieldDescription:      2,
	FieldMarketPosition:   3,
	FieldBusinessModel:    4,
	FieldTargetCustomers:  5,
	FieldProductsServices: 6,
	FieldCompetitors:      7,
	FieldAdvantages:       8,
	FieldGoals:            9,
	FieldChallenges:       10,
	FieldFocusAreas:       11,
}

// listFieldCap 限制列表字段渲染的最大条目数，对应紧凑渲染策略。
var listFieldCap = map[Field]int{
	FieldTargetCustomers:  2,
	FieldProductsServices: 2,
	FieldCompetitors:      3,
	FieldAdvantages:       2,
	FieldChallenges:       2,
	FieldGoals:            1,
	FieldFocusAreas:       2,
}

// Injector 把企业画像渲染为受 token 预算约束的个性化段落。
// 画像缺失时渲染空段落，流水线以未个性化的提示词继续。
type Injector struct {
	profile *profile.Profile
	counter TokenCounter
}

// Option 定义可选配置。
type Option func(*Injector)

// WithTokenCounter 注入自定义的 token 估算函数。
func WithTokenCounter(counter TokenCounter) Option {
	return func(in *Injector) {
		if counter != nil {
			in.counter = counter
		}
	}
}

// NewInjector 创建注入器。profile 允许为 nil。
func NewInjector(p *profile.Profile, opts ...Option) *Injector {
	in := &Injector{profile: p, counter: EstimateTokens}
	for _, opt := range opts {
		if opt != nil {
			opt(in)
		}
	}
	return in
}

// Counter 返回当前使用的 token 估算函数。
func (in *Injector) Counter() TokenCounter {
	if in == nil || in.counter == nil {
		return EstimateTokens
	}
	return in.counter
}

// contextHeader 是注入段落的标题，其 token 开销计入段落预算。
const contextHeader = "\n\n## Company Context\n"

// RenderBlock 渲染指定字段列表的个性化段落，估算开销不超过 budget。
// 超预算时按优先级从低到高整字段丢弃，从不截断单个字段的值。
func (in *Injector) RenderBlock(fields []Field, budget int) string {
	if in == nil || in.profile == nil || budget <= 0 {
		return ""
	}
	counter := in.Counter()
	return in.fitBlock(fields, func(block string) bool {
		return counter(block) <= budget
	})
}

// Inject 把个性化段落合并进任务的基础提示词。
// 预算对整个注入开销生效，段落标题也在内：
// estimate(结果) ≤ estimate(base) + budget。装不下任何字段时原样返回 base。
func (in *Injector) Inject(base string, fields []Field, budget int) string {
	if in == nil || in.profile == nil || budget <= 0 {
		return base
	}
	counter := in.Counter()
	limit := counter(base) + budget
	// 对拼接后的完整提示词计数，整除带来的余数不会漏记。
	block := in.fitBlock(fields, func(block string) bool {
		return counter(base+contextHeader+block) <= limit
	})
	if block == "" {
		return base
	}
	return base + contextHeader + block
}

// fitBlock 按优先级从低到高整字段丢弃，直到渲染结果满足 fits。
func (in *Injector) fitBlock(fields []Field, fits func(block string) bool) string {
	ordered := orderByPriority(fields)
	for len(ordered) > 0 {
		block := in.render(ordered)
		if block == "" {
			return ""
		}
		if fits(block) {
			return block
		}
		// 丢弃当前优先级最低的字段后重试。
		ordered = ordered[:len(ordered)-1]
	}
	return ""
}

// render 按优先级顺序渲染字段为多行文本，跳过画像中为空的字段。
func (in *Injector) render(ordered []Field) string {
	var builder strings.Builder
	for _, field := range ordered {
		value := in.fieldValue(field)
		if value == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(fieldLabel(field))
		builder.WriteString(": ")
		builder.WriteString(value)
	}
	return builder.String()
}

func (in *Injector) fieldValue(field Field) string {
	p := in.profile
	switch field {
	case FieldCompanyName:
		return strings.TrimSpace(p.CompanyName)
	case FieldIndustry:
		return strings.TrimSpace(p.Industry)
	case FieldDescription:
		return strings.TrimSpace(p.CompanyDescription)
	case FieldBusinessModel:
		return strings.TrimSpace(p.BusinessModel)
	case FieldMarketPosition:
		return strings.TrimSpace(p.MarketPosition)
	case FieldTargetCustomers:
		return joinCapped(field, p.TargetCustomers)
	case FieldProductsServices:
		return joinCapped(field, p.ProductsServices)
	case FieldCompetitors:
		return joinCapped(field, p.MainCompetitors)
	case FieldAdvantages:
		return joinCapped(field, p.CompetitiveAdvantages)
	case FieldChallenges:
		return joinCapped(field, p.CurrentChallenges)
	case FieldGoals:
		return joinCapped(field, p.StrategicGoals)
	case FieldFocusAreas:
		return joinCapped(field, p.ResearchFocusAreas)
	default:
		return ""
	}
}

func joinCapped(field Field, values []string) string {
	if len(values) == 0 {
		return ""
	}
	if cap, ok := listFieldCap[field]; ok && len(values) > cap {
		values = values[:cap]
	}
	trimmed := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value != "" {
			trimmed = append(trimmed, value)
		}
	}
	return strings.Join(trimmed, ", ")
}

func fieldLabel(field Field) string {
	switch field {
	case FieldCompanyName:
		return "Company"
	case FieldIndustry:
		return "Industry"
	case FieldDescription:
		return "Description"
	case FieldTargetCustomers:
		return "Target Customers"
	case FieldProductsServices:
		return "Products/Services"
	case FieldBusinessModel:
		return "Business Model"
	case FieldCompetitors:
		return "Main Competitors"
	case FieldAdvantages:
		return "Competitive Advantages"
	case FieldMarketPosition:
		return "Market Position"
	case FieldChallenges:
		return "Current Challenges"
	case FieldGoals:
		return "Strategic Goals"
	case FieldFocusAreas:
		return "Research Focus"
	default:
		return string(field)
	}
}

// orderByPriority 返回按保留优先级排序的字段副本，并去重。
func orderByPriority(fields []Field) []Field {
	seen := make(map[Field]struct{}, len(fields))
	ordered := make([]Field, 0, len(fields))
	for _, field := range fields {
		if _, ok := fieldPriority[field]; !ok {
			continue
		}
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		ordered = append(ordered, field)
	}
	// 插入排序足够：字段数量固定且很小。
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && fieldPriority[ordered[j]] < fieldPriority[ordered[j-1]]; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	return ordered
}
