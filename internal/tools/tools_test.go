package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churnpilot/internal/customer"
)

func day(offset int) string {
	return time.Now().AddDate(0, 0, offset).Format("2006-01-02")
}

func newTestToolkit(t *testing.T) *Toolkit {
	t.Helper()
	dataDir := t.TempDir()

	dir := filepath.Join(dataDir, "customers", "ACME001")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	write("profile.csv", fmt.Sprintf(
		"customer_name,industry,segment,account_size,annual_revenue,contract_value,contract_start_date,contract_end_date,renewal_date,churn_risk_score,account_manager,status,notes\n"+
			"Acme Corporation,Manufacturing,Enterprise,Large,5000000,250000,%s,%s,%s,0.85,Jane Smith,Active,\n",
		day(-350), day(16), day(16)))
	write("usage.csv", fmt.Sprintf(
		"date,login_count,active_users,feature_usage_score\n%s,40,25,80\n%s,10,8,20\n",
		day(-20), day(-1)))
	write("support.csv", fmt.Sprintf(
		"ticket_id,subject,status,priority,sentiment_score,resolution_time_hours,created_date,resolved_date\n"+
			"T-1,Export broken,Open,High,-0.8,0,%s,\n", day(-5)))
	write("campaigns.csv", fmt.Sprintf(
		"campaign_name,date_sent,email_sent,email_opened,email_clicked,conversion_rate,revenue_generated\n"+
			"Renewal Outreach,%s,100,20,5,0.02,0\n", day(-3)))

	return New(customer.NewStore(dataDir))
}

func TestAllBuildsEveryTool(t *testing.T) {
	toolkit := newTestToolkit(t)

	list, err := toolkit.All(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 10)

	names := map[string]bool{}
	for _, item := range list {
		info, err := item.Info(context.Background())
		require.NoError(t, err)
		names[info.Name] = true
	}
	for _, want := range []string{
		"get_customer_data", "get_customer_list", "get_high_risk_customers",
		"find_customer_by_name", "get_customer_usage_trends",
		"get_customer_support_summary", "get_customer_campaigns",
		"get_customer_campaign_performance", "get_solution_context",
		"get_solution_summary",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

func TestGetCustomerData(t *testing.T) {
	toolkit := newTestToolkit(t)
	ctx := context.Background()

	out, err := toolkit.getCustomerData(ctx, &customerDataRequest{CustomerID: "ACME001"})
	require.NoError(t, err)
	assert.Contains(t, out, "**Customer Profile:**")
	assert.Contains(t, out, "Acme Corporation")

	out, err = toolkit.getCustomerData(ctx, &customerDataRequest{CustomerID: "ACME001", Focus: "risk"})
	require.NoError(t, err)
	assert.Contains(t, out, "**Risk Assessment:**")
	assert.NotContains(t, out, "**Customer Profile:**")
}

func TestGetCustomerDataNotFound(t *testing.T) {
	toolkit := newTestToolkit(t)

	out, err := toolkit.getCustomerData(context.Background(), &customerDataRequest{CustomerID: "NOPE999"})
	require.NoError(t, err)

	var payload map[string]string
	require.NoError(t, sonic.UnmarshalString(out, &payload))
	assert.Equal(t, "Customer NOPE999 not found", payload["error"])
}

func TestGetCustomerList(t *testing.T) {
	toolkit := newTestToolkit(t)

	out, err := toolkit.getCustomerList(context.Background(), &customerListRequest{})
	require.NoError(t, err)

	var payload struct {
		Customers []string `json:"customers"`
		Count     int      `json:"count"`
	}
	require.NoError(t, sonic.UnmarshalString(out, &payload))
	assert.Equal(t, 1, payload.Count)
	assert.Equal(t, []string{"ACME001"}, payload.Customers)
}

func TestGetHighRiskCustomersDefaultThreshold(t *testing.T) {
	toolkit := newTestToolkit(t)

	out, err := toolkit.getHighRiskCustomers(context.Background(), &highRiskRequest{})
	require.NoError(t, err)

	var payload struct {
		Threshold float64                     `json:"threshold"`
		Customers []customer.HighRiskCustomer `json:"customers"`
	}
	require.NoError(t, sonic.UnmarshalString(out, &payload))
	assert.InDelta(t, 0.7, payload.Threshold, 1e-9)
	require.Len(t, payload.Customers, 1)
	assert.Equal(t, "ACME001", payload.Customers[0].CustomerID)
}

func TestFindCustomerByName(t *testing.T) {
	toolkit := newTestToolkit(t)
	ctx := context.Background()

	out, err := toolkit.findCustomerByName(ctx, &findByNameRequest{Name: "acme"})
	require.NoError(t, err)
	assert.Contains(t, out, "ACME001")

	out, err = toolkit.findCustomerByName(ctx, &findByNameRequest{Name: "initech"})
	require.NoError(t, err)
	var payload map[string]string
	require.NoError(t, sonic.UnmarshalString(out, &payload))
	assert.Equal(t, "No customer found matching 'initech'", payload["error"])
}

func TestGetUsageTrends(t *testing.T) {
	toolkit := newTestToolkit(t)

	out, err := toolkit.getUsageTrends(context.Background(), &usageTrendsRequest{CustomerID: "ACME001"})
	require.NoError(t, err)

	var payload struct {
		Days        int                    `json:"days"`
		Records     []customer.UsageRecord `json:"records"`
		DeclineRate float64                `json:"decline_rate"`
	}
	require.NoError(t, sonic.UnmarshalString(out, &payload))
	assert.Equal(t, 30, payload.Days)
	assert.Len(t, payload.Records, 2)
	assert.InDelta(t, 0.75, payload.DeclineRate, 1e-9)
}

func TestGetSupportSummary(t *testing.T) {
	toolkit := newTestToolkit(t)

	out, err := toolkit.getSupportSummary(context.Background(), &supportSummaryRequest{CustomerID: "ACME001"})
	require.NoError(t, err)
	assert.Contains(t, out, `"total_tickets":1`)
	assert.Contains(t, out, "Export broken")
}

func TestGetCampaignPerformance(t *testing.T) {
	toolkit := newTestToolkit(t)

	out, err := toolkit.getCampaignPerformance(context.Background(), &campaignPerformanceRequest{CustomerID: "ACME001"})
	require.NoError(t, err)
	assert.Contains(t, out, `"total_campaigns":1`)
}

func TestSolutionTools(t *testing.T) {
	toolkit := newTestToolkit(t)
	ctx := context.Background()

	full, err := toolkit.getSolutionContext(ctx, &solutionRequest{})
	require.NoError(t, err)
	assert.Contains(t, full, "NovaReach Platform Context")
	assert.Contains(t, full, "Retention Playbook")

	summary, err := toolkit.getSolutionSummary(ctx, &solutionRequest{})
	require.NoError(t, err)
	assert.Contains(t, summary, "NovaReach Engage")
	assert.Less(t, len(summary), len(full))
}
