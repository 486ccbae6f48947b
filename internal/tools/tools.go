// Package tools binds the customer data store and the solution catalogue
// into eino tools the decision agent can call. Every tool returns a string
// payload; lookups that miss return a JSON error object instead of failing
// the agent run, so the model can recover and tell the user.
package tools

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"

	"churnpilot/internal/briefing"
	"churnpilot/internal/customer"
	"churnpilot/internal/solution"
)

// Toolkit owns the data-backed tools exposed to the decision agent.
type Toolkit struct {
	store  *customer.Store
	briefs *briefing.Builder
}

// New creates a toolkit over the given customer store.
func New(store *customer.Store) *Toolkit {
	return &Toolkit{
		store:  store,
		briefs: briefing.NewBuilder(store),
	}
}

type customerDataRequest struct {
	CustomerID string `json:"customer_id" jsonschema:"description=Customer identifier, e.g. ACME001"`
	Focus      string `json:"focus,omitempty" jsonschema:"description=Optional focus area: usage, support, campaigns, risk or profile"`
}

type customerListRequest struct{}

type highRiskRequest struct {
	Threshold float64 `json:"threshold,omitempty" jsonschema:"description=Minimum churn risk score between 0 and 1, default 0.7"`
}

type findByNameRequest struct {
	Name string `json:"name" jsonschema:"description=Full or partial customer name, case-insensitive"`
}

type usageTrendsRequest struct {
	CustomerID string `json:"customer_id" jsonschema:"description=Customer identifier"`
	Days       int    `json:"days,omitempty" jsonschema:"description=Window size in days, default 30"`
}

type supportSummaryRequest struct {
	CustomerID string `json:"customer_id" jsonschema:"description=Customer identifier"`
}

type campaignsRequest struct {
	CustomerID string `json:"customer_id" jsonschema:"description=Customer identifier"`
	Limit      int    `json:"limit,omitempty" jsonschema:"description=Maximum number of recent campaigns to return, default 5"`
}

type campaignPerformanceRequest struct {
	CustomerID string `json:"customer_id" jsonschema:"description=Customer identifier"`
}

type solutionRequest struct{}

// All builds the full tool list for the agent's ToolsConfig.
func (t *Toolkit) All(ctx context.Context) ([]tool.BaseTool, error) {
	var list []tool.BaseTool
	var firstErr error

	add := func(built tool.BaseTool, err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
		list = append(list, built)
	}

	add(utils.InferTool("get_customer_data",
		"Get a formatted briefing for one customer, optionally focused on usage, support, campaigns, risk or profile.",
		t.getCustomerData))
	add(utils.InferTool("get_customer_list",
		"List all available customer IDs.",
		t.getCustomerList))
	add(utils.InferTool("get_high_risk_customers",
		"List customers whose churn risk score is at or above a threshold, highest risk first.",
		t.getHighRiskCustomers))
	add(utils.InferTool("find_customer_by_name",
		"Find customers by full or partial name, case-insensitively.",
		t.findCustomerByName))
	add(utils.InferTool("get_customer_usage_trends",
		"Get a customer's product usage records and decline rate over a recent window.",
		t.getUsageTrends))
	add(utils.InferTool("get_customer_support_summary",
		"Summarize a customer's support tickets: volumes, priorities, sentiment and recent activity.",
		t.getSupportSummary))
	add(utils.InferTool("get_customer_campaigns",
		"Get a customer's recent marketing campaigns, newest first.",
		t.getCampaigns))
	add(utils.InferTool("get_customer_campaign_performance",
		"Aggregate a customer's campaign engagement: open, click and conversion rates plus revenue.",
		t.getCampaignPerformance))
	add(utils.InferTool("get_solution_context",
		"Get the full NovaReach product catalogue and retention playbook.",
		t.getSolutionContext))
	add(utils.InferTool("get_solution_summary",
		"Get a one-screen overview of NovaReach platform modules.",
		t.getSolutionSummary))

	if firstErr != nil {
		return nil, fmt.Errorf("failed to build tools: %w", firstErr)
	}
	return list, nil
}

func (t *Toolkit) getCustomerData(ctx context.Context, req *customerDataRequest) (string, error) {
	if _, ok := t.store.Profile(req.CustomerID); !ok {
		return notFound(req.CustomerID)
	}
	if req.Focus != "" {
		return t.briefs.FocusedBriefing(req.CustomerID, req.Focus), nil
	}
	return t.briefs.CustomerBriefing(req.CustomerID), nil
}

func (t *Toolkit) getCustomerList(ctx context.Context, req *customerListRequest) (string, error) {
	ids := t.store.AvailableCustomers()
	if ids == nil {
		ids = []string{}
	}
	return sonic.MarshalString(map[string]any{
		"customers": ids,
		"count":     len(ids),
	})
}

func (t *Toolkit) getHighRiskCustomers(ctx context.Context, req *highRiskRequest) (string, error) {
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = 0.7
	}
	customers := t.store.HighRiskCustomers(threshold)
	return sonic.MarshalString(map[string]any{
		"threshold": threshold,
		"customers": customers,
		"count":     len(customers),
	})
}

func (t *Toolkit) findCustomerByName(ctx context.Context, req *findByNameRequest) (string, error) {
	matches := t.store.FindByName(req.Name)
	if len(matches) == 0 {
		return sonic.MarshalString(map[string]string{
			"error": fmt.Sprintf("No customer found matching '%s'", req.Name),
		})
	}
	return sonic.MarshalString(map[string]any{
		"matches": matches,
		"count":   len(matches),
	})
}

func (t *Toolkit) getUsageTrends(ctx context.Context, req *usageTrendsRequest) (string, error) {
	if _, ok := t.store.Profile(req.CustomerID); !ok {
		return notFound(req.CustomerID)
	}
	days := req.Days
	if days <= 0 {
		days = 30
	}
	trends := t.store.UsageTrends(req.CustomerID, days)
	if trends == nil {
		trends = []customer.UsageRecord{}
	}
	return sonic.MarshalString(map[string]any{
		"customer_id":  req.CustomerID,
		"days":         days,
		"records":      trends,
		"decline_rate": t.store.UsageDeclineRate(req.CustomerID, days),
	})
}

func (t *Toolkit) getSupportSummary(ctx context.Context, req *supportSummaryRequest) (string, error) {
	if _, ok := t.store.Profile(req.CustomerID); !ok {
		return notFound(req.CustomerID)
	}
	summary, ok := t.store.SupportSummary(req.CustomerID)
	if !ok {
		return sonic.MarshalString(map[string]any{
			"customer_id": req.CustomerID,
			"message":     "No support tickets found",
		})
	}
	return sonic.MarshalString(map[string]any{
		"customer_id":     req.CustomerID,
		"summary":         summary,
		"sentiment_trend": t.store.SupportSentimentTrend(req.CustomerID),
		"recent_tickets":  t.store.RecentTickets(req.CustomerID, 5),
	})
}

func (t *Toolkit) getCampaigns(ctx context.Context, req *campaignsRequest) (string, error) {
	if _, ok := t.store.Profile(req.CustomerID); !ok {
		return notFound(req.CustomerID)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}
	campaigns := t.store.RecentCampaigns(req.CustomerID, limit)
	if campaigns == nil {
		campaigns = []customer.Campaign{}
	}
	return sonic.MarshalString(map[string]any{
		"customer_id": req.CustomerID,
		"campaigns":   campaigns,
		"count":       len(campaigns),
	})
}

func (t *Toolkit) getCampaignPerformance(ctx context.Context, req *campaignPerformanceRequest) (string, error) {
	if _, ok := t.store.Profile(req.CustomerID); !ok {
		return notFound(req.CustomerID)
	}
	perf, ok := t.store.CampaignPerformance(req.CustomerID)
	if !ok {
		return sonic.MarshalString(map[string]any{
			"customer_id": req.CustomerID,
			"message":     "No campaign data found",
		})
	}
	return sonic.MarshalString(map[string]any{
		"customer_id": req.CustomerID,
		"performance": perf,
	})
}

func (t *Toolkit) getSolutionContext(ctx context.Context, req *solutionRequest) (string, error) {
	return solution.Context(), nil
}

func (t *Toolkit) getSolutionSummary(ctx context.Context, req *solutionRequest) (string, error) {
	return solution.Summary(), nil
}

func notFound(customerID string) (string, error) {
	return sonic.MarshalString(map[string]string{
		"error": fmt.Sprintf("Customer %s not found", customerID),
	})
}
