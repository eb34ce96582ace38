package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Profile 描述接受分析服务的企业画像。
// 由外部问卷流程生成并落盘，本核心只读不写。
type Profile struct {
	CompanyName           string   `json:"company_name"`
	Industry              string   `json:"industry"`
	CompanyDescription    string   `json:"company_description"`
	TargetCustomers       []string `json:"target_customers"`
	ProductsServices      []string `json:"products_services"`
	BusinessModel         string   `json:"business_model"`
	MainCompetitors       []string `json:"main_competitors"`
	CompetitiveAdvantages []string `json:"competitive_advantages"`
	MarketPosition        string   `json:"market_position"`
	CurrentChallenges     []string `json:"current_challenges"`
	StrategicGoals        []string `json:"strategic_goals"`
	ResearchFocusAreas    []string `json:"research_focus_areas"`
	CreatedDate           string   `json:"created_date,omitempty"`
	LastUpdated           string   `json:"last_updated,omitempty"`
}

// Load 从 JSON 文件加载企业画像。
// 文件不存在时返回 (nil, nil)：这是受支持的降级模式，
// 流水线将以不带个性化上下文的提示词继续运行。
func Load(path string) (*Profile, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取企业画像失败: %w", err)
	}

	var p Profile
	if err := json.Unmarshal(content, &p); err != nil {
		return nil, fmt.Errorf("解析企业画像失败: %w", err)
	}
	if errs := p.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("企业画像校验失败: %s", strings.Join(errs, "; "))
	}
	return &p, nil
}

// Validate 检查画像的必填字段，返回全部问题而不是只报第一个。
func (p *Profile) Validate() []string {
	if p == nil {
		return []string{"画像为空"}
	}
	var errs []string
	if strings.TrimSpace(p.CompanyName) == "" {
		errs = append(errs, "company_name 不能为空")
	}
	if strings.TrimSpace(p.Industry) == "" {
		errs = append(errs, "industry 不能为空")
	}
	return errs
}

// Summary 渲染一行式的画像摘要，字段以 " | " 连接。
func (p *Profile) Summary() string {
	if p == nil {
		return ""
	}
	parts := []string{
		"Company: " + p.CompanyName,
		"Industry: " + p.Industry,
		"Description: " + p.CompanyDescription,
		"Target Customers: " + strings.Join(p.TargetCustomers, ", "),
		"Products/Services: " + strings.Join(p.ProductsServices, ", "),
		"Business Model: " + p.BusinessModel,
		"Main Competitors: " + strings.Join(p.MainCompetitors, ", "),
		"Competitive Advantages: " + strings.Join(p.CompetitiveAdvantages, ", "),
		"Market Position: " + p.MarketPosition,
		"Current Challenges: " + strings.Join(p.CurrentChallenges, ", "),
		"Strategic Goals: " + strings.Join(p.StrategicGoals, ", "),
		"Research Focus: " + strings.Join(p.ResearchFocusAreas, ", "),
	}
	return strings.Join(parts, " | ")
}

// CompactSummary 渲染为 token 优化准备的紧凑摘要：
// 描述截断到 100 字符，列表字段只保留前几项。
func (p *Profile) CompactSummary() string {
	if p == nil {
		return ""
	}
	description := p.CompanyDescription
	if len(description) > 100 {
		description = description[:100] + "..."
	}
	return fmt.Sprintf("%s (%s): %s | Customers: %s | Competitors: %s | Goals: %s",
		p.CompanyName,
		p.Industry,
		description,
		strings.Join(head(p.TargetCustomers, 3), ", "),
		strings.Join(head(p.MainCompetitors, 3), ", "),
		strings.Join(head(p.StrategicGoals, 2), ", "),
	)
}

func head(values []string, n int) []string {
	if len(values) <= n {
		return values
	}
	return values[:n]
}
