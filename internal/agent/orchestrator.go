// Package agent runs the retention decision agent: an eino ReAct loop over
// the customer data tools, guarded by an evaluator model that reviews draft
// recommendations and sends weak ones back for rework.
package agent

import (
	"context"
	"fmt"

	einoagent "github.com/cloudwego/eino/flow/agent"
	"github.com/cloudwego/eino/flow/agent/react"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"churnpilot/internal/config"
	"churnpilot/internal/customer"
	"churnpilot/internal/logger"
	"churnpilot/internal/memory"
	"churnpilot/internal/tools"
	"churnpilot/pkg"
)

// generator is the slice of the react agent the orchestrator depends on.
// The recorder belongs to a single run and captures its tool invocations.
type generator interface {
	Generate(ctx context.Context, input []*schema.Message, recorder *toolRecorder) (*schema.Message, error)
}

// reactRunner adapts the react agent to the generator seam, wiring the
// run's recorder in as a compose callback.
type reactRunner struct {
	agent *react.Agent
}

func (r reactRunner) Generate(ctx context.Context, input []*schema.Message, recorder *toolRecorder) (*schema.Message, error) {
	return r.agent.Generate(ctx, input,
		einoagent.WithComposeOptions(compose.WithCallbacks(recorder.Handler())))
}

// Orchestrator owns one decision agent and drives the evaluate-retry loop
// around it.
type Orchestrator struct {
	cfg       config.AgentConfig
	agent     generator
	memory    *memory.Store
	customers *customer.Store
}

// New builds the orchestrator: chat models for the decision agent and the
// evaluator, the data toolkit, and the ReAct agent wiring them together.
func New(ctx context.Context, cfg config.AgentConfig, mem *memory.Store, customers *customer.Store) (*Orchestrator, error) {
	chatModel, err := NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision model: %w", err)
	}
	evalModel, err := NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluator model: %w", err)
	}

	evaluator := NewEvaluator(evalModel)
	evalTool, err := evaluator.Tool()
	if err != nil {
		return nil, fmt.Errorf("failed to build evaluator tool: %w", err)
	}

	dataTools, err := tools.New(customers).All(ctx)
	if err != nil {
		return nil, err
	}
	allTools := append(dataTools, evalTool)

	reactAgent, err := react.NewAgent(ctx, &react.AgentConfig{
		ToolCallingModel: chatModel,
		ToolsConfig:      compose.ToolsNodeConfig{Tools: allTools},
		MaxStep:          cfg.MaxSteps,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	return &Orchestrator{
		cfg:       cfg,
		agent:     reactRunner{agent: reactAgent},
		memory:    mem,
		customers: customers,
	}, nil
}

// Chat answers one user turn. The turn always persists exactly one user
// message, and one assistant message when the agent produced an answer. A
// failing final verdict is persisted with the assistant message; passing
// verdicts are not.
func (o *Orchestrator) Chat(ctx context.Context, sessionID, query string) (*pkg.ChatResult, error) {
	history, err := o.memory.RecentContext(ctx, sessionID, o.cfg.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	// The user turn is on the record even if the agent run fails.
	if err := o.memory.Append(ctx, sessionID, "user", query, nil); err != nil {
		return nil, fmt.Errorf("failed to record user message: %w", err)
	}

	systemMsg := schema.SystemMessage(SystemPrompt())
	maxAttempts := 1 + o.cfg.MaxRetries

	var reply string
	var verdict *pkg.Verdict
	var allEvents []pkg.ToolEvent
	var toolNames []string
	feedback := ""
	attempts := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		recorder := newToolRecorder()

		response, err := o.agent.Generate(ctx,
			[]*schema.Message{systemMsg, schema.UserMessage(BuildUserPrompt(query, history, feedback))},
			recorder,
		)
		if err != nil {
			return nil, fmt.Errorf("agent run failed: %w", err)
		}

		reply = response.Content
		events := recorder.Events()
		allEvents = append(allEvents, events...)
		toolNames = mergeNames(toolNames, recorder.ToolNames())
		verdict = verdictFromEvents(events)

		if verdict == nil {
			// The agent answered without asking for review; accept as is.
			logger.Debug().Str("session_id", sessionID).Msg("turn completed without evaluation")
			break
		}
		if verdict.Pass {
			break
		}

		logger.Info().
			Str("session_id", sessionID).
			Int("attempt", attempt).
			Int("rating", verdict.Rating).
			Msg("recommendation failed review")
		feedback = FeedbackFromVerdict(verdict)
	}

	linkage := o.buildLinkage(query, reply, allEvents, verdict != nil)

	opts := &memory.AppendOptions{
		Customer:  linkage,
		ToolsUsed: toolNames,
	}
	if verdict != nil && !verdict.Pass {
		opts.Evaluation = verdict
	}
	if err := o.memory.Append(ctx, sessionID, "assistant", reply, opts); err != nil {
		return nil, fmt.Errorf("failed to record assistant message: %w", err)
	}

	return &pkg.ChatResult{
		SessionID:  sessionID,
		Reply:      reply,
		Attempts:   attempts,
		Verdict:    verdict,
		ToolEvents: allEvents,
	}, nil
}

// buildLinkage derives the customer linkage for the turn from the recorded
// tool invocations, enriched from the customer's profile. The reply is only
// treated as a recommendation when the evaluator actually reviewed it.
func (o *Orchestrator) buildLinkage(query, reply string, events []pkg.ToolEvent, evaluated bool) *pkg.CustomerLinkage {
	customerID := customerIDFromEvents(events)
	if customerID == "" {
		return nil
	}

	linkage := &pkg.CustomerLinkage{
		CustomerID: customerID,
		Topic:      truncate(query, 100),
	}
	if profile, ok := o.customers.Profile(customerID); ok {
		linkage.CustomerName = profile.CustomerName
		linkage.Industry = profile.Industry
		linkage.ChurnRiskScore = profile.ChurnRiskScore
	}
	if evaluated {
		linkage.Recommendation = truncate(reply, 200)
	}
	return linkage
}

func mergeNames(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, name := range existing {
		seen[name] = true
	}
	for _, name := range incoming {
		if !seen[name] {
			seen[name] = true
			existing = append(existing, name)
		}
	}
	return existing
}

// truncate cuts at a rune boundary so multi-byte text never persists as
// invalid UTF-8.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
