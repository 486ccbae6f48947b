package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churnpilot/internal/config"
	"churnpilot/internal/customer"
	"churnpilot/internal/memory"
	"churnpilot/pkg"
)

// stubAgent scripts the decision agent: per call it returns the next reply
// and, when a review is scripted for that call, records an
// evaluate_recommendation invocation on the run's recorder. An empty review
// means the agent never asked for one.
type stubAgent struct {
	replies []string
	reviews []string
	err     error
	calls   int
}

func (s *stubAgent) Generate(ctx context.Context, input []*schema.Message, recorder *toolRecorder) (*schema.Message, error) {
	if s.err != nil {
		return nil, s.err
	}

	i := s.calls
	s.calls++
	if i < len(s.reviews) && s.reviews[i] != "" {
		recorder.events = append(recorder.events, newStartedEvent(EvaluatorToolName, "{}"))
		recorder.finish(EvaluatorToolName, s.reviews[i], "")
	}

	reply := s.replies[len(s.replies)-1]
	if i < len(s.replies) {
		reply = s.replies[i]
	}
	return schema.AssistantMessage(reply, nil), nil
}

func newTestOrchestrator(t *testing.T, agent generator) (*Orchestrator, *memory.Store) {
	t.Helper()

	mem, err := memory.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })

	return &Orchestrator{
		cfg:       config.AgentConfig{MaxRetries: 2, HistoryWindow: 5},
		agent:     agent,
		memory:    mem,
		customers: customer.NewStore(t.TempDir()),
	}, mem
}

func TestChatPassesFirstAttempt(t *testing.T) {
	stub := &stubAgent{
		replies: []string{"recommend the win-back journey"},
		reviews: []string{`{"rating": 8, "pass": true}`},
	}
	o, mem := newTestOrchestrator(t, stub)

	result, err := o.Chat(context.Background(), "s1", "how do we keep Acme?")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, "recommend the win-back journey", result.Reply)
	require.NotNil(t, result.Verdict)
	assert.True(t, result.Verdict.Pass)

	messages, err := mem.RecentContext(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "assistant", messages[1].Role)
	// Passing verdicts are not persisted.
	assert.Nil(t, messages[1].Evaluation)
}

func TestChatRetriesUntilPass(t *testing.T) {
	stub := &stubAgent{
		replies: []string{"draft one", "draft two", "final draft"},
		reviews: []string{
			`{"rating": 3, "pass": false, "improvements": ["cite numbers"]}`,
			`{"rating": 5, "pass": false, "improvements": ["name a module"]}`,
			`{"rating": 8, "pass": true}`,
		},
	}
	o, mem := newTestOrchestrator(t, stub)

	result, err := o.Chat(context.Background(), "s1", "retention plan for Acme?")
	require.NoError(t, err)

	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, "final draft", result.Reply)
	assert.True(t, result.Verdict.Pass)

	// Exactly one user and one assistant message regardless of retries.
	messages, err := mem.RecentContext(context.Background(), "s1", 10)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
	assert.Nil(t, messages[1].Evaluation)
}

func TestChatGivesUpAfterMaxRetries(t *testing.T) {
	failing := `{"rating": 2, "pass": false, "reasoning": "still too generic"}`
	stub := &stubAgent{
		replies: []string{"weak draft"},
		reviews: []string{failing, failing, failing, failing},
	}
	o, mem := newTestOrchestrator(t, stub)

	result, err := o.Chat(context.Background(), "s1", "plan?")
	require.NoError(t, err)

	// 1 initial attempt + 2 retries, never more.
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, stub.calls)
	assert.False(t, result.Verdict.Pass)

	// The failing verdict rides along with the assistant message.
	messages, err := mem.RecentContext(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.NotNil(t, messages[1].Evaluation)
	assert.False(t, messages[1].Evaluation.Pass)
	assert.Equal(t, "still too generic", messages[1].Evaluation.Reasoning)
}

func TestChatWithoutEvaluation(t *testing.T) {
	stub := &stubAgent{replies: []string{"Acme's churn risk is 85%."}}
	o, _ := newTestOrchestrator(t, stub)

	result, err := o.Chat(context.Background(), "s1", "what is Acme's risk score?")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Attempts)
	assert.Nil(t, result.Verdict)
}

func TestChatAgentFailureStillRecordsUserMessage(t *testing.T) {
	stub := &stubAgent{err: errors.New("model unavailable")}
	o, mem := newTestOrchestrator(t, stub)

	_, err := o.Chat(context.Background(), "s1", "hello?")
	require.Error(t, err)

	messages, merr := mem.RecentContext(context.Background(), "s1", 10)
	require.NoError(t, merr)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "hello?", messages[0].Content)
}

// gatedAgent serves two sessions through one orchestrator. The session
// asking about Acme records a failing review and, on its first call, blocks
// until released; the other session answers without any review.
type gatedAgent struct {
	reviewRecorded chan struct{}
	release        chan struct{}
	once           sync.Once
}

func (g *gatedAgent) Generate(ctx context.Context, input []*schema.Message, recorder *toolRecorder) (*schema.Message, error) {
	prompt := input[len(input)-1].Content
	if strings.Contains(prompt, "rework the plan for Acme") {
		recorder.events = append(recorder.events, newStartedEvent(EvaluatorToolName, "{}"))
		recorder.finish(EvaluatorToolName, `{"rating": 2, "pass": false, "reasoning": "not grounded"}`, "")
		g.once.Do(func() {
			close(g.reviewRecorded)
			<-g.release
		})
		return schema.AssistantMessage("draft for Acme", nil), nil
	}
	return schema.AssistantMessage("Globex risk is 45%.", nil), nil
}

func TestChatConcurrentSessionsKeepVerdictsApart(t *testing.T) {
	agent := &gatedAgent{
		reviewRecorded: make(chan struct{}),
		release:        make(chan struct{}),
	}
	o, mem := newTestOrchestrator(t, agent)
	ctx := context.Background()

	type outcome struct {
		result *pkg.ChatResult
		err    error
	}
	aDone := make(chan outcome, 1)
	go func() {
		result, err := o.Chat(ctx, "session-a", "rework the plan for Acme")
		aDone <- outcome{result, err}
	}()

	// Session B runs start to finish while A sits mid-attempt with a
	// failing review already recorded.
	<-agent.reviewRecorded
	resultB, err := o.Chat(ctx, "session-b", "what is Globex's risk?")
	require.NoError(t, err)
	assert.Nil(t, resultB.Verdict)
	assert.Equal(t, 1, resultB.Attempts)

	close(agent.release)
	a := <-aDone
	require.NoError(t, a.err)
	require.NotNil(t, a.result.Verdict)
	assert.False(t, a.result.Verdict.Pass)
	assert.Equal(t, 3, a.result.Attempts)

	// B's assistant message carries no evaluation; A keeps its own.
	messagesB, err := mem.RecentContext(ctx, "session-b", 10)
	require.NoError(t, err)
	require.Len(t, messagesB, 2)
	assert.Nil(t, messagesB[1].Evaluation)

	messagesA, err := mem.RecentContext(ctx, "session-a", 10)
	require.NoError(t, err)
	require.Len(t, messagesA, 2)
	require.NotNil(t, messagesA[1].Evaluation)
	assert.Equal(t, "not grounded", messagesA[1].Evaluation.Reasoning)
}

func TestCustomerIDFromEvents(t *testing.T) {
	events := []pkg.ToolEvent{
		{Tool: "get_customer_list", ArgsJSON: "{}"},
		{Tool: "get_customer_data", ArgsJSON: `{"customer_id":"ACME001"}`},
		{Tool: "get_customer_usage_trends", ArgsJSON: `{"customer_id":"GLOBEX002","days":30}`},
	}
	assert.Equal(t, "ACME001", customerIDFromEvents(events))
	assert.Empty(t, customerIDFromEvents(nil))
}

func TestTruncateCutsOnRuneBoundary(t *testing.T) {
	s := strings.Repeat("é", 120)
	out := truncate(s, 100)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, strings.Repeat("é", 100)+"...", out)

	assert.Equal(t, "short", truncate("short", 100))
}

func TestBuildUserPrompt(t *testing.T) {
	history := []pkg.ConversationMessage{
		{Role: "user", Content: "who is at risk?"},
		{Role: "assistant", Content: "Acme is at 85% churn risk."},
	}

	prompt := BuildUserPrompt("what should we do?", history, "")
	assert.Contains(t, prompt, "Previous conversation:")
	assert.Contains(t, prompt, "User: who is at risk?")
	assert.Contains(t, prompt, "Assistant: Acme is at 85% churn risk.")
	assert.Contains(t, prompt, "Current question: what should we do?")
	assert.NotContains(t, prompt, "quality review")

	prompt = BuildUserPrompt("what should we do?", nil, "cite the decline rate")
	assert.NotContains(t, prompt, "Previous conversation:")
	assert.Contains(t, prompt, "cite the decline rate")
	assert.Contains(t, prompt, "did not pass quality review")
}
