package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"churnpilot/internal/logger"
	"churnpilot/pkg"
)

// EvaluatorToolName is the tool the decision agent calls to quality-check a
// draft recommendation.
const EvaluatorToolName = "evaluate_recommendation"

const evaluatorSystemPrompt = `You are a strict quality reviewer for customer retention recommendations produced by an AI assistant at NovaReach, a customer engagement platform vendor.

Judge the recommendation on:
1. Data grounding: does it cite concrete numbers from the customer's data (risk scores, usage decline, sentiment, renewal dates)?
2. Specificity: does it name specific NovaReach modules and concrete retention actions, not generic advice?
3. Fit: do the recommended actions actually address the customer's observed risk factors?
4. Actionability: can a customer success manager execute it this week?

Respond with ONLY a JSON object, no prose around it:
{
  "rating": <1-10>,
  "pass": <true if rating >= 7>,
  "reasoning": "<one paragraph>",
  "strengths": ["..."],
  "weaknesses": ["..."],
  "improvements": ["..."],
  "final_recommendation": "<pass or fail>"
}`

// Evaluator wraps a chat model as the recommendation reviewer. It is exposed
// to the decision agent as a tool; the orchestrator reads its verdict back
// out of the run's recorded tool invocations.
type Evaluator struct {
	model model.ToolCallingChatModel
}

// NewEvaluator creates an evaluator over the given model.
func NewEvaluator(m model.ToolCallingChatModel) *Evaluator {
	return &Evaluator{model: m}
}

type evaluateRequest struct {
	OriginalQuery   string `json:"original_query" jsonschema:"description=The user's question being answered"`
	CustomerContext string `json:"customer_context,omitempty" jsonschema:"description=Key customer data the recommendation is based on"`
	Recommendation  string `json:"recommendation" jsonschema:"description=The draft recommendation to review"`
}

// Tool returns the eino tool binding for the evaluator.
func (e *Evaluator) Tool() (tool.BaseTool, error) {
	return utils.InferTool(EvaluatorToolName,
		"Quality-check a draft retention recommendation before presenting it. Returns a review with a pass/fail verdict and required improvements.",
		e.evaluate)
}

func (e *Evaluator) evaluate(ctx context.Context, req *evaluateRequest) (string, error) {
	prompt := fmt.Sprintf("Original question:\n%s\n\nCustomer context:\n%s\n\nRecommendation under review:\n%s",
		req.OriginalQuery, req.CustomerContext, req.Recommendation)

	response, err := e.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(evaluatorSystemPrompt),
		schema.UserMessage(prompt),
	})
	if err != nil {
		return "", fmt.Errorf("evaluator model failed: %w", err)
	}

	verdict := ParseVerdict(response.Content)
	logger.Info().
		Int("rating", verdict.Rating).
		Bool("pass", verdict.Pass).
		Msg("recommendation evaluated")
	return response.Content, nil
}

// verdictFromEvents extracts the verdict from an agent run's tool-call
// trace: the latest completed evaluate_recommendation invocation, or nil
// when the agent never asked for review. Each run carries its own recorder,
// so verdicts cannot cross sessions.
func verdictFromEvents(events []pkg.ToolEvent) *pkg.Verdict {
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.Tool == EvaluatorToolName && e.Error == "" && e.Response != "" {
			return ParseVerdict(e.Response)
		}
	}
	return nil
}

// failurePhrases mark a review as failing when structured parsing is not
// possible.
var failurePhrases = []string{"fail", "unacceptable", "poor", "significant issues"}

// ParseVerdict extracts a structured verdict from evaluator output. Strict
// JSON is preferred; free-form text falls back to keyword scanning. An
// ambiguous review passes by default so a flaky reviewer cannot wedge the
// agent into endless retries.
func ParseVerdict(raw string) *pkg.Verdict {
	verdict := &pkg.Verdict{RawText: raw}

	if jsonBlob := extractJSON(raw); jsonBlob != "" {
		var parsed struct {
			Rating              int      `json:"rating"`
			Pass                *bool    `json:"pass"`
			Reasoning           string   `json:"reasoning"`
			Strengths           []string `json:"strengths"`
			Weaknesses          []string `json:"weaknesses"`
			Improvements        []string `json:"improvements"`
			FinalRecommendation string   `json:"final_recommendation"`
		}
		if err := sonic.UnmarshalString(jsonBlob, &parsed); err == nil && (parsed.Pass != nil || parsed.Rating > 0) {
			verdict.Rating = parsed.Rating
			verdict.Reasoning = parsed.Reasoning
			verdict.Strengths = parsed.Strengths
			verdict.Weaknesses = parsed.Weaknesses
			verdict.Improvements = parsed.Improvements
			verdict.FinalRecommendation = parsed.FinalRecommendation
			switch {
			case parsed.Pass != nil:
				verdict.Pass = *parsed.Pass
			case parsed.Rating > 0:
				verdict.Pass = parsed.Rating >= 7
			}
			if strings.EqualFold(parsed.FinalRecommendation, "fail") {
				verdict.Pass = false
			}
			return verdict
		}
	}

	lower := strings.ToLower(raw)
	for _, phrase := range failurePhrases {
		if strings.Contains(lower, phrase) {
			verdict.Pass = false
			verdict.Reasoning = raw
			return verdict
		}
	}

	if !strings.Contains(lower, "pass") && !strings.Contains(lower, "approve") && !strings.Contains(lower, "acceptable") {
		logger.Warn().Msg("evaluator verdict is ambiguous, treating as pass")
	}
	verdict.Pass = true
	verdict.Reasoning = raw
	return verdict
}

// extractJSON pulls the outermost JSON object out of text that may wrap it
// in markdown fences or prose.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
