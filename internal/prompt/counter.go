package prompt

// TokenCounter 估算一段文本的 token 开销。
// 计数方式是可插拔的策略：不同 provider 的分词器并不一致，
// 本核心只要求估算结果在同一次运行内保持一致。
type TokenCounter func(text string) int

// EstimateTokens 是默认的估算函数，按每 4 个字符约 1 个 token 计算。
func EstimateTokens(text string) int {
	return len(text) / 4
}
