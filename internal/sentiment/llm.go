package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"finagent/internal/gateway/provider"
	"finagent/internal/logger"
	"finagent/internal/market"
	"finagent/internal/pkg/jsonutil"
)

const systemPrompt = `You are a financial news sentiment analyst.
Score the overall sentiment of the provided headlines for the given symbol.
Respond with strict JSON only, no prose outside the JSON:
{"score": <float in [-1,1]>, "reasoning": "<one or two sentences>", "articles": [<per-headline float in [-1,1], same order>]}`

// replySchema 约束模型回复的结构，防止把自由文本当结果用。
const replySchema = `{
  "type": "object",
  "required": ["score", "reasoning"],
  "properties": {
    "score": {"type": "number", "minimum": -1, "maximum": 1},
    "reasoning": {"type": "string"},
    "articles": {"type": "array", "items": {"type": "number", "minimum": -1, "maximum": 1}}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func replyValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("reply.json", strings.NewReader(replySchema)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile("reply.json")
	})
	return compiledSchema, schemaErr
}

// LLMScorer 通过聊天补全模型给新闻打分。
type LLMScorer struct {
	model       provider.ChatModel
	maxArticles int
}

func NewLLMScorer(model provider.ChatModel) *LLMScorer {
	return &LLMScorer{model: model, maxArticles: 20}
}

func (s *LLMScorer) Name() string {
	if s.model == nil {
		return "llm"
	}
	return "llm:" + s.model.ID()
}

func (s *LLMScorer) Score(ctx context.Context, symbol string, items []market.NewsItem) (Scored, error) {
	if s.model == nil || !s.model.Enabled() {
		return Scored{}, fmt.Errorf("model not configured")
	}
	prompt := s.buildPrompt(symbol, items)
	raw, err := s.model.Call(ctx, systemPrompt, prompt)
	if err != nil {
		return Scored{}, err
	}
	return parseReply(raw)
}

func (s *LLMScorer) buildPrompt(symbol string, items []market.NewsItem) string {
	n := len(items)
	if n > s.maxArticles {
		items = items[n-s.maxArticles:]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Symbol: %s\nHeadlines (oldest first):\n", symbol)
	for i, it := range items {
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, it.PublishedAt.Format("2006-01-02"), it.Headline)
		if sum := strings.TrimSpace(it.Summary); sum != "" {
			fmt.Fprintf(&b, " — %s", truncate(sum, 200))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// parseReply 从模型回复中提取并校验 JSON 结果。
func parseReply(raw string) (Scored, error) {
	payload, ok := jsonutil.ExtractJSON(raw)
	if !ok {
		return Scored{}, fmt.Errorf("no JSON object in reply")
	}
	if !gjson.Valid(payload) {
		return Scored{}, fmt.Errorf("invalid JSON in reply")
	}
	schema, err := replyValidator()
	if err != nil {
		return Scored{}, err
	}
	if err := schema.Validate(jsonDoc(payload)); err != nil {
		return Scored{}, fmt.Errorf("reply schema: %v", err)
	}

	parsed := gjson.Parse(payload)
	out := Scored{
		Score:     parsed.Get("score").Float(),
		Reasoning: strings.TrimSpace(parsed.Get("reasoning").String()),
	}
	parsed.Get("articles").ForEach(func(_, v gjson.Result) bool {
		out.PerArticle = append(out.PerArticle, v.Float())
		return true
	})
	if len(out.PerArticle) > 0 {
		logger.Debugf("sentiment reply carries %d per-article scores", len(out.PerArticle))
	}
	return out, nil
}

// jsonDoc converts a JSON string into the any-tree the schema validator expects.
func jsonDoc(payload string) any {
	var doc any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil
	}
	return doc
}

// truncate 在 rune 边界上截断，避免把多字节字符切成非法 UTF-8。
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
