package knowledge

import "strings"

// industryFocus 是内置的行业侧重表。
// 键按子串匹配，行业名称只要包含任一键就命中对应侧重点。
var industryFocus = []struct {
	keys  []string
	focus string
}{
	{
		keys:  []string{"tech", "software"},
		focus: "technology trends, innovation, digital transformation",
	},
	{
		keys:  []string{"health"},
		focus: "healthcare regulations, patient outcomes, medical technology",
	},
	{
		keys:  []string{"finance"},
		focus: "financial regulations, fintech disruption, market volatility",
	},
	{
		keys:  []string{"retail"},
		focus: "consumer behavior, e-commerce trends, supply chain",
	},
}

const defaultFocus = "industry trends, market dynamics, competitive landscape"

// IndustryFocus 返回给定行业的研究侧重点。
// 未命中任何条目时回退到通用的市场侧重点。
func IndustryFocus(industry string) string {
	normalized := strings.ToLower(strings.TrimSpace(industry))
	if normalized == "" {
		return defaultFocus
	}
	for _, entry := range industryFocus {
		for _, key := range entry.keys {
			if strings.Contains(normalized, key) {
				return entry.focus
			}
		}
	}
	return defaultFocus
}
