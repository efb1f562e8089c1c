package suggest

import (
	"fmt"
	"strings"
)

const systemPrompt = "あなたはB2B営業の戦略立案を支援するアシスタントです。与えられた情報のみを根拠にし、事実を創作しないでください。"

type DealFacts struct {
	CompanyName string
	Industry    string
	Revenue     string
}

type ResponseFacts struct {
	PriorityItem         string
	Survey1SelectedItems []string
	Survey2SelectedItems []string
}

const promptTemplate = `あなたは営業戦略の専門家です。以下の情報を基に、次の商談に向けた考察と提案シナリオを作成してください。

【企業情報】
- 企業名: %s
- 業種: %s
- 売上: %s

【アンケート回答】
- 優先課題: %s
- 他の課題: %s
- 詳細課題: %s

出力形式:
1. 考察:
(ここに考察を記載)

2. 提案シナリオ:
(ここに具体的な提案シナリオを記載)
`

func orNone(v string) string {
	if strings.TrimSpace(v) == "" {
		return "なし"
	}
	return v
}

// BuildPrompt renders the meeting-preparation prompt. It asks for exactly
// two sections: 考察 (analysis) and 提案シナリオ (proposal scenario).
func BuildPrompt(d DealFacts, r ResponseFacts) string {
	return fmt.Sprintf(promptTemplate,
		d.CompanyName,
		d.Industry,
		d.Revenue,
		orNone(r.PriorityItem),
		orNone(strings.Join(r.Survey1SelectedItems, "、")),
		orNone(strings.Join(r.Survey2SelectedItems, "、")),
	)
}
