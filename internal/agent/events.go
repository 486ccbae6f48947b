package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/tool"
	callbackutils "github.com/cloudwego/eino/utils/callbacks"

	"churnpilot/internal/logger"
	"churnpilot/pkg"
)

// toolRecorder captures one typed record per tool invocation during an agent
// run. Records are the source of truth for which tools ran and which
// customer the turn was about; nothing is inferred from model text.
type toolRecorder struct {
	mu     sync.Mutex
	events []pkg.ToolEvent
}

func newToolRecorder() *toolRecorder {
	return &toolRecorder{}
}

// Handler builds the eino callbacks handler that feeds this recorder.
func (r *toolRecorder) Handler() callbacks.Handler {
	return callbackutils.NewHandlerHelper().Tool(&callbackutils.ToolCallbackHandler{
		OnStart: func(ctx context.Context, info *callbacks.RunInfo, input *tool.CallbackInput) context.Context {
			r.mu.Lock()
			r.events = append(r.events, pkg.ToolEvent{
				Tool:      info.Name,
				ArgsJSON:  input.ArgumentsInJSON,
				StartedAt: time.Now(),
			})
			r.mu.Unlock()
			logger.Debug().Str("tool", info.Name).Msg("tool invocation started")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *callbacks.RunInfo, output *tool.CallbackOutput) context.Context {
			r.finish(info.Name, output.Response, "")
			return ctx
		},
		OnError: func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			r.finish(info.Name, "", err.Error())
			logger.Warn().Err(err).Str("tool", info.Name).Msg("tool invocation failed")
			return ctx
		},
	}).Handler()
}

func (r *toolRecorder) finish(name, response, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Attach to the most recent unfinished record for this tool.
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Tool != name || r.events[i].Response != "" || r.events[i].Error != "" {
			continue
		}
		r.events[i].Response = response
		r.events[i].Error = errMsg
		r.events[i].DurationMs = time.Since(r.events[i].StartedAt).Milliseconds()
		return
	}
}

// Events returns a copy of the recorded invocations in call order.
func (r *toolRecorder) Events() []pkg.ToolEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pkg.ToolEvent, len(r.events))
	copy(out, r.events)
	return out
}

// ToolNames returns the distinct tool names invoked, in first-call order.
func (r *toolRecorder) ToolNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := map[string]bool{}
	var names []string
	for _, e := range r.events {
		if !seen[e.Tool] {
			seen[e.Tool] = true
			names = append(names, e.Tool)
		}
	}
	return names
}

// customerIDFromEvents extracts the customer the turn was about: the first
// recorded tool argument payload carrying a customer_id.
func customerIDFromEvents(events []pkg.ToolEvent) string {
	for _, e := range events {
		if e.ArgsJSON == "" || !strings.Contains(e.ArgsJSON, "customer_id") {
			continue
		}
		var args struct {
			CustomerID string `json:"customer_id"`
		}
		if err := sonic.UnmarshalString(e.ArgsJSON, &args); err != nil {
			continue
		}
		if args.CustomerID != "" {
			return args.CustomerID
		}
	}
	return ""
}
