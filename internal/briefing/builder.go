// Package briefing turns customer aggregates into the prose blocks the
// decision agent consumes. Formatting is pure: no caching, no side effects,
// safe to call concurrently.
package briefing

import (
	"fmt"
	"strings"
	"time"

	"churnpilot/internal/customer"
)

// Churn risk bands. The boundaries drive how urgently the agent frames a
// customer, so they are fixed constants rather than configuration.
const (
	BandCritical = "CRITICAL" // score >= 0.8
	BandHigh     = "HIGH"     // 0.6 <= score < 0.8
	BandMedium   = "MEDIUM"   // 0.4 <= score < 0.6
	BandLow      = "LOW"      // score < 0.4
)

// RiskBand buckets a churn risk score into its band.
func RiskBand(score float64) string {
	switch {
	case score >= 0.8:
		return BandCritical
	case score >= 0.6:
		return BandHigh
	case score >= 0.4:
		return BandMedium
	default:
		return BandLow
	}
}

// sentimentLabel maps a mean sentiment score to prose.
func sentimentLabel(score float64) string {
	switch {
	case score < -0.3:
		return "Negative"
	case score < 0.3:
		return "Neutral"
	default:
		return "Positive"
	}
}

// Builder renders briefings from a customer store.
type Builder struct {
	store *customer.Store
	now   func() time.Time
}

// NewBuilder creates a briefing builder over the given store.
func NewBuilder(store *customer.Store) *Builder {
	return &Builder{store: store, now: time.Now}
}

// CustomerBriefing renders the full context block for one customer:
// profile, usage, support, campaigns and risk assessment. Unknown
// customers render as a not-found sentence the agent can react to.
func (b *Builder) CustomerBriefing(customerID string) string {
	if _, ok := b.store.Profile(customerID); !ok {
		return fmt.Sprintf("Customer %s not found.", customerID)
	}

	parts := []string{
		b.ProfileBriefing(customerID),
		b.UsageBriefing(customerID),
		b.SupportBriefing(customerID),
		b.CampaignBriefing(customerID),
		b.RiskBriefing(customerID),
	}
	return strings.Join(parts, "\n\n")
}

// ProfileBriefing renders the account profile block.
func (b *Builder) ProfileBriefing(customerID string) string {
	profile, ok := b.store.Profile(customerID)
	if !ok {
		return fmt.Sprintf("**Customer Profile:** Customer %s not found.", customerID)
	}

	var sb strings.Builder
	sb.WriteString("**Customer Profile:**\n")
	fmt.Fprintf(&sb, "- Name: %s\n", profile.CustomerName)
	fmt.Fprintf(&sb, "- Industry: %s\n", profile.Industry)
	fmt.Fprintf(&sb, "- Segment: %s\n", profile.Segment)
	fmt.Fprintf(&sb, "- Account Size: %s\n", profile.AccountSize)
	fmt.Fprintf(&sb, "- Annual Revenue: $%.0f\n", profile.AnnualRevenue)
	fmt.Fprintf(&sb, "- Contract Value: $%.0f\n", profile.ContractValue)
	fmt.Fprintf(&sb, "- Contract Period: %s to %s\n",
		profile.ContractStartDate.Format("2006-01-02"), profile.ContractEndDate.Format("2006-01-02"))
	fmt.Fprintf(&sb, "- Renewal Date: %s\n", profile.RenewalDate.Format("2006-01-02"))
	fmt.Fprintf(&sb, "- Account Manager: %s\n", profile.AccountManager)
	fmt.Fprintf(&sb, "- Status: %s\n", profile.Status)
	fmt.Fprintf(&sb, "- Churn Risk Score: %.1f%%\n", profile.ChurnRiskScore*100)
	fmt.Fprintf(&sb, "- Notes: %s", profile.Notes)
	return sb.String()
}

// UsageBriefing narrates the last 30 days of usage: recent vs previous
// 7-day averages, decline percentages and an activity label.
func (b *Builder) UsageBriefing(customerID string) string {
	trends := b.store.UsageTrends(customerID, 30)
	if len(trends) == 0 {
		return "**Usage Data:** No recent usage data available."
	}

	recent := tail(trends, 7)
	previous := head(trends, 7)

	recentLogins, recentUsers := averages(recent)
	previousLogins, previousUsers := averages(previous)

	loginDecline := percentDecline(previousLogins, recentLogins)
	userDecline := percentDecline(previousUsers, recentUsers)

	firstScore := trends[0].FeatureUsageScore
	lastScore := trends[len(trends)-1].FeatureUsageScore
	featureDecline := percentDecline(firstScore, lastScore)

	var sb strings.Builder
	sb.WriteString("**Usage Trends (Last 30 Days):**\n")
	fmt.Fprintf(&sb, "- Recent Activity: %.1f logins/day, %.1f active users/day\n", recentLogins, recentUsers)
	fmt.Fprintf(&sb, "- Previous Activity: %.1f logins/day, %.1f active users/day\n", previousLogins, previousUsers)
	fmt.Fprintf(&sb, "- Login Decline: %.1f%% decrease\n", loginDecline)
	fmt.Fprintf(&sb, "- Active User Decline: %.1f%% decrease\n", userDecline)
	fmt.Fprintf(&sb, "- Feature Usage Score: declined from %.0f to %.0f (%.1f%% decrease)\n",
		firstScore, lastScore, featureDecline)
	fmt.Fprintf(&sb, "- Current Status: %s", activityLabel(recentLogins))
	return sb.String()
}

// SupportBriefing narrates the ticket aggregate plus the last three recent
// tickets. A customer with no tickets gets an explicit no-data sentence,
// never a zeroed aggregate.
func (b *Builder) SupportBriefing(customerID string) string {
	summary, ok := b.store.SupportSummary(customerID)
	if !ok {
		return "**Support Data:** No support tickets found."
	}

	var sb strings.Builder
	sb.WriteString("**Support Summary:**\n")
	fmt.Fprintf(&sb, "- Total Tickets: %d\n", summary.TotalTickets)
	fmt.Fprintf(&sb, "- Open Tickets: %d (%d high priority)\n", summary.OpenTickets, summary.OpenHighPriority)
	fmt.Fprintf(&sb, "- Resolved Tickets: %d\n", summary.ResolvedTickets)
	fmt.Fprintf(&sb, "- High Priority Tickets: %d\n", summary.HighPriorityCount)
	fmt.Fprintf(&sb, "- Recent Tickets (Last 30 Days): %d\n", summary.RecentTickets)
	fmt.Fprintf(&sb, "- Average Sentiment: %.2f (%s)\n", summary.AvgSentiment, sentimentLabel(summary.AvgSentiment))
	fmt.Fprintf(&sb, "- Average Resolution Time: %.1f hours\n", summary.AvgResolutionHours)

	sb.WriteString("\n**Recent Ticket Details:**\n")
	recent := b.store.RecentTickets(customerID, 3)
	if len(recent) == 0 {
		sb.WriteString("No recent tickets")
	} else {
		lines := make([]string, 0, len(recent))
		for _, ticket := range recent {
			lines = append(lines, fmt.Sprintf("- %s (%s, %s priority)", ticket.Subject, ticket.Status, ticket.Priority))
		}
		sb.WriteString(strings.Join(lines, "\n"))
	}
	return sb.String()
}

// CampaignBriefing narrates campaign performance plus the last three
// recent campaigns.
func (b *Builder) CampaignBriefing(customerID string) string {
	perf, ok := b.store.CampaignPerformance(customerID)
	if !ok {
		return "**Campaign Data:** No campaign data available."
	}

	var sb strings.Builder
	sb.WriteString("**Campaign Performance:**\n")
	fmt.Fprintf(&sb, "- Total Campaigns: %d\n", perf.TotalCampaigns)
	fmt.Fprintf(&sb, "- Average Open Rate: %.1f%%\n", perf.AvgOpenRate*100)
	fmt.Fprintf(&sb, "- Average Click Rate: %.1f%%\n", perf.AvgClickRate*100)
	fmt.Fprintf(&sb, "- Average Conversion Rate: %.1f%%\n", perf.AvgConversionRate)
	fmt.Fprintf(&sb, "- Total Revenue Generated: $%.0f\n", perf.TotalRevenue)
	fmt.Fprintf(&sb, "- Recent Engagement: %d campaigns in last 30 days\n", perf.RecentEngagement)

	sb.WriteString("\n**Recent Campaigns:**\n")
	recent := b.store.RecentCampaigns(customerID, 3)
	if len(recent) == 0 {
		sb.WriteString("No recent campaigns")
	} else {
		lines := make([]string, 0, len(recent))
		for _, campaign := range recent {
			lines = append(lines, fmt.Sprintf("- %s: %.1f%% conversion rate", campaign.CampaignName, campaign.ConversionRate))
		}
		sb.WriteString(strings.Join(lines, "\n"))
	}
	return sb.String()
}

// RiskBriefing narrates the churn risk band, renewal horizon and key risk
// factors.
func (b *Builder) RiskBriefing(customerID string) string {
	profile, ok := b.store.Profile(customerID)
	if !ok {
		return "**Risk Assessment:** Customer profile not found."
	}

	band := RiskBand(profile.ChurnRiskScore)
	daysToRenewal := int(profile.RenewalDate.Sub(b.now()).Hours() / 24)

	contractStatus := "Active"
	if daysToRenewal < 0 {
		contractStatus = "Expired"
	} else if daysToRenewal < 30 {
		contractStatus = "Expiring Soon"
	}

	declineRate := b.store.UsageDeclineRate(customerID, 30)
	usageFactor := "Stable usage"
	if declineRate > 0.5 {
		usageFactor = "High usage decline"
	} else if declineRate > 0.2 {
		usageFactor = "Moderate usage decline"
	}

	supportFactor := "No support issues"
	if summary, ok := b.store.SupportSummary(customerID); ok && summary.OpenTickets > 0 {
		if summary.OpenTickets > 3 {
			supportFactor = "Multiple open support tickets"
		} else {
			supportFactor = "Few support issues"
		}
	}

	sentimentFactor := fmt.Sprintf("%s support sentiment", sentimentLabel(b.store.SupportSentimentTrend(customerID)))

	var sb strings.Builder
	sb.WriteString("**Risk Assessment:**\n")
	fmt.Fprintf(&sb, "- Risk Level: %s (%.1f%%)\n", band, profile.ChurnRiskScore*100)
	fmt.Fprintf(&sb, "- Days Until Renewal: %d days\n", daysToRenewal)
	fmt.Fprintf(&sb, "- Contract Status: %s\n", contractStatus)
	fmt.Fprintf(&sb, "- Account Value: $%.0f annually\n", profile.ContractValue)
	sb.WriteString("\n**Key Risk Factors:**\n")
	fmt.Fprintf(&sb, "- %s\n- %s\n- %s", usageFactor, supportFactor, sentimentFactor)
	return sb.String()
}

// FocusedBriefing renders a single block chosen by focus keyword; anything
// unrecognized falls back to the full briefing.
func (b *Builder) FocusedBriefing(customerID, focus string) string {
	switch strings.ToLower(focus) {
	case "usage", "usage_trends", "activity":
		return b.UsageBriefing(customerID)
	case "support", "tickets", "issues":
		return b.SupportBriefing(customerID)
	case "campaigns", "marketing", "engagement":
		return b.CampaignBriefing(customerID)
	case "risk", "churn", "retention":
		return b.RiskBriefing(customerID)
	default:
		return b.CustomerBriefing(customerID)
	}
}

// ComparisonBriefing renders a side-by-side summary of several customers.
func (b *Builder) ComparisonBriefing(customerIDs []string) string {
	if len(customerIDs) < 2 {
		return "Need at least 2 customers for comparison."
	}

	var sb strings.Builder
	sb.WriteString("**Customer Comparison:**")
	for _, id := range customerIDs {
		profile, ok := b.store.Profile(id)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "\n\n**%s (%s):**\n", profile.CustomerName, id)
		fmt.Fprintf(&sb, "- Industry: %s\n", profile.Industry)
		fmt.Fprintf(&sb, "- Churn Risk: %.1f%% (%s)\n", profile.ChurnRiskScore*100, RiskBand(profile.ChurnRiskScore))
		fmt.Fprintf(&sb, "- Contract Value: $%.0f\n", profile.ContractValue)
		fmt.Fprintf(&sb, "- Usage Decline: %.1f%%", b.store.UsageDeclineRate(id, 30)*100)
	}
	return sb.String()
}

func tail(records []customer.UsageRecord, n int) []customer.UsageRecord {
	if len(records) <= n {
		return records
	}
	return records[len(records)-n:]
}

func head(records []customer.UsageRecord, n int) []customer.UsageRecord {
	if len(records) <= n {
		return records
	}
	return records[:n]
}

func averages(records []customer.UsageRecord) (logins, users float64) {
	if len(records) == 0 {
		return 0, 0
	}
	for _, record := range records {
		logins += float64(record.LoginCount)
		users += float64(record.ActiveUsers)
	}
	n := float64(len(records))
	return logins / n, users / n
}

func percentDecline(previous, recent float64) float64 {
	if previous <= 0 {
		return 0
	}
	return (previous - recent) / previous * 100
}

func activityLabel(loginsPerDay float64) string {
	switch {
	case loginsPerDay == 0:
		return "No recent activity"
	case loginsPerDay < 5:
		return "Low activity"
	case loginsPerDay < 20:
		return "Moderate activity"
	default:
		return "High activity"
	}
}
