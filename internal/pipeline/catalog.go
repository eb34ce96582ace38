package pipeline

import (
	"MarketSeer/internal/agent"
	"MarketSeer/internal/llm"
	"MarketSeer/internal/prompt"
)

// 任务 key，对应报表与占位符引用。
const (
	KeyMarketSegments      = "key_market_segments"
	KeyMarketResearch      = "key_market_research"
	KeyCompetitorProfiles  = "competitor_profiles"
	KeyCompetitorMarketing = "competitor_marketing_analysis"
	KeyTechTrends          = "emerging_tech_trends"
	KeyRegulatoryShifts    = "regulatory_ethical_shifts"
	KeyFinalReport         = "final_strategic_report"
)

// Catalog 返回内置的七步调研任务，按执行顺序排列。
// 数据收集类任务使用 strict 档位，分析与综述类任务使用 standard 档位。
func Catalog() []TaskSpec {
	return []TaskSpec{
		{
			Position: 1,
			Key:      KeyMarketSegments,
			Title:    "Identify key market segments",
			Persona:  agent.KeyArchivist,
			Template: "Identify and list the primary market segments within the client's industry. " +
				"For each segment, provide a brief overview of its specific needs and growth potential, " +
				"the key players active in it, and its compliance requirements.",
			Schema: Schema{
				"market_segments": KindList,
				"summary":         KindObject,
			},
			Preset:        llm.PresetStrict,
			ContextBudget: 150,
			MaxRetries:    2,
			ProfileFields: []prompt.Field{
				prompt.FieldCompanyName, prompt.FieldIndustry, prompt.FieldDescription,
				prompt.FieldTargetCustomers, prompt.FieldProductsServices, prompt.FieldFocusAreas,
			},
		},
		{
			Position: 2,
			Key:      KeyMarketResearch,
			Title:    "Collect reports and news",
			Persona:  agent.KeyArchivist,
			Template: "Conduct an exhaustive search for the most recent and highly relevant industry reports, " +
				"whitepapers, research papers and significant news articles pertaining to the market segments " +
				"identified below. Focus on adoption rates, technological advancements, implementation challenges " +
				"and investment trends. Prioritize top-tier research firms and reputable industry sources.\n\n" +
				"Identified segments:\n{key_market_segments}",
			Schema: Schema{
				"research_sources": KindList,
				"categorization":   KindObject,
				"quality_metrics":  KindObject,
			},
			Preset:        llm.PresetStrict,
			ContextBudget: 150,
			MaxRetries:    2,
			ProfileFields: []prompt.Field{
				prompt.FieldIndustry, prompt.FieldFocusAreas,
			},
			Consumes: []string{KeyMarketSegments},
		},
		{
			Position: 3,
			Key:      KeyCompetitorProfiles,
			Title:    "Profile direct competitors",
			Persona:  agent.KeyShadow,
			Template: "Based on the research below, identify and create a detailed profile for the top 3-5 direct " +
				"competitors of the client. For each competitor cover their key products, reported pricing models, " +
				"target industries, strategic partnerships and recent significant announcements.\n\n" +
				"Research findings:\n{key_market_research}",
			Schema: Schema{
				"competitors":          KindList,
				"comparative_analysis": KindObject,
				"insights":             KindObject,
			},
			Preset:        llm.PresetStandard,
			ContextBudget: 150,
			MaxRetries:    2,
			ProfileFields: []prompt.Field{
				prompt.FieldCompanyName, prompt.FieldIndustry, prompt.FieldCompetitors,
				prompt.FieldAdvantages, prompt.FieldMarketPosition,
			},
			Consumes: []string{KeyMarketResearch},
		},
		{
			Position: 4,
			Key:      KeyCompetitorMarketing,
			Title:    "Analyze competitor marketing",
			Persona:  agent.KeyShadow,
			Template: "Examine the marketing messaging, public statements and positioning strategies of the " +
				"competitors profiled below. Identify their unique selling propositions, their ethical stances, " +
				"and how they address concerns like data privacy and compliance in public communications.\n\n" +
				"Competitor profiles:\n{competitor_profiles}",
			Schema: Schema{
				"marketing_analysis":  KindList,
				"comparative_metrics": KindObject,
				"strategic_insights":  KindObject,
			},
			Preset:        llm.PresetStandard,
			ContextBudget: 150,
			MaxRetries:    2,
			ProfileFields: []prompt.Field{
				prompt.FieldCompanyName, prompt.FieldIndustry, prompt.FieldCompetitors,
				prompt.FieldMarketPosition,
			},
			Consumes: []string{KeyCompetitorProfiles},
		},
		{
			Position: 5,
			Key:      KeyTechTrends,
			Title:    "Identify emerging technology trends",
			Persona:  agent.KeySeer,
			Template: "Analyze the research below to pinpoint 3-5 cutting-edge technological advancements or " +
				"significant market shifts that hold the highest potential to disrupt or redefine the client's " +
				"market in the next 1-3 years. Focus on trends with clear implications for the client's product " +
				"roadmap or strategic direction.\n\n" +
				"Research findings:\n{key_market_research}",
			Schema: Schema{
				"emerging_technologies": KindList,
				"trend_analysis":        KindObject,
				"market_implications":   KindObject,
				"strategic_insights":    KindObject,
			},
			Preset:        llm.PresetStandard,
			ContextBudget: 150,
			MaxRetries:    2,
			ProfileFields: []prompt.Field{
				prompt.FieldIndustry, prompt.FieldGoals, prompt.FieldFocusAreas,
			},
			Consumes: []string{KeyMarketResearch},
		},
		{
			Position: 6,
			Key:      KeyRegulatoryShifts,
			Title:    "Identify regulatory and ethical shifts",
			Persona:  agent.KeySeer,
			Template: "Research and identify 2-3 significant emerging regulatory frameworks or evolving ethical " +
				"considerations impacting the client's industry. Analyze their potential implications for the " +
				"client and its customers, considering both challenges and opportunities.\n\n" +
				"Research findings:\n{key_market_research}",
			Schema: Schema{
				"regulatory_frameworks":  KindList,
				"ethical_considerations": KindList,
				"compliance_landscape":   KindObject,
				"strategic_implications": KindObject,
				"opportunity_analysis":   KindObject,
			},
			Preset:        llm.PresetStandard,
			ContextBudget: 150,
			MaxRetries:    2,
			ProfileFields: []prompt.Field{
				prompt.FieldIndustry, prompt.FieldChallenges,
			},
			Consumes: []string{KeyMarketResearch},
		},
		{
			Position: 7,
			Key:      KeyFinalReport,
			Title:    "Compile the strategic report",
			Persona:  agent.KeyNexus,
			Template: "Compile all insights and findings from the provided analyses into a single, comprehensive " +
				"C-level executive report. Open with an executive summary, then dedicate sections to the competitor " +
				"landscape, emerging technologies and trends, and regulatory and ethical implications, closing with " +
				"actionable strategic recommendations for the client.",
			Schema: Schema{
				"executive_summary":       KindString,
				"competitor_landscape":    KindObject,
				"emerging_trends":         KindObject,
				"regulatory_implications": KindObject,
				"recommendations":         KindList,
			},
			Preset:        llm.PresetStandard,
			ContextBudget: 150,
			MaxRetries:    2,
			ProfileFields: []prompt.Field{
				prompt.FieldCompanyName, prompt.FieldIndustry, prompt.FieldDescription,
				prompt.FieldMarketPosition, prompt.FieldGoals, prompt.FieldChallenges,
			},
			Consumes: []string{
				KeyMarketSegments, KeyMarketResearch, KeyCompetitorProfiles,
				KeyCompetitorMarketing, KeyTechTrends, KeyRegulatoryShifts,
			},
		},
	}
}
