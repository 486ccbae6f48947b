package customer

import (
	"sort"
	"strings"
	"time"
)

const recentWindow = 30 * 24 * time.Hour

// HighRiskCustomers returns every customer whose churn risk score is at or
// above threshold, highest score first. An empty result is a normal answer,
// not an error.
func (s *Store) HighRiskCustomers(threshold float64) []HighRiskCustomer {
	result := []HighRiskCustomer{}
	for _, id := range s.AvailableCustomers() {
		profile, ok := s.Profile(id)
		if !ok || profile.ChurnRiskScore < threshold {
			continue
		}
		result = append(result, HighRiskCustomer{
			CustomerID:     id,
			CustomerName:   profile.CustomerName,
			ChurnRiskScore: profile.ChurnRiskScore,
			Industry:       profile.Industry,
			Segment:        profile.Segment,
			ContractValue:  profile.ContractValue,
		})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ChurnRiskScore > result[j].ChurnRiskScore
	})
	return result
}

// FindByName returns the customers whose name contains the given substring,
// case-insensitively.
func (s *Store) FindByName(name string) []HighRiskCustomer {
	needle := strings.ToLower(name)
	result := []HighRiskCustomer{}
	for _, id := range s.AvailableCustomers() {
		profile, ok := s.Profile(id)
		if !ok || !strings.Contains(strings.ToLower(profile.CustomerName), needle) {
			continue
		}
		result = append(result, HighRiskCustomer{
			CustomerID:     id,
			CustomerName:   profile.CustomerName,
			ChurnRiskScore: profile.ChurnRiskScore,
			Industry:       profile.Industry,
			Segment:        profile.Segment,
			ContractValue:  profile.ContractValue,
		})
	}
	return result
}

// UsageTrends returns the time-ordered usage rows within [latest-days, latest].
func (s *Store) UsageTrends(customerID string, days int) []UsageRecord {
	data := s.load(customerID)
	if len(data.usage) == 0 {
		return nil
	}

	latest := data.usage[len(data.usage)-1].Date
	start := latest.AddDate(0, 0, -days)

	var trends []UsageRecord
	for _, record := range data.usage {
		if !record.Date.Before(start) {
			trends = append(trends, record)
		}
	}
	return trends
}

// UsageDeclineRate reports how far the feature usage score fell across the
// window, clamped to [0,1]. Fewer than 2 data points, or a zero starting
// score, reads as no decline.
func (s *Store) UsageDeclineRate(customerID string, days int) float64 {
	trends := s.UsageTrends(customerID, days)
	if len(trends) < 2 {
		return 0
	}

	first := trends[0].FeatureUsageScore
	last := trends[len(trends)-1].FeatureUsageScore
	if first == 0 {
		return 0
	}

	decline := (first - last) / first
	if decline < 0 {
		return 0
	}
	if decline > 1 {
		return 1
	}
	return decline
}

// SupportSummary aggregates the ticket set; ok is false when the customer
// has no tickets, in which case no aggregate exists at all.
func (s *Store) SupportSummary(customerID string) (*SupportSummary, bool) {
	data := s.load(customerID)
	if len(data.support) == 0 {
		return nil, false
	}

	cutoff := s.now().Add(-recentWindow)
	summary := &SupportSummary{TotalTickets: len(data.support)}

	var sentimentSum, resolutionSum float64
	for _, ticket := range data.support {
		sentimentSum += ticket.SentimentScore
		resolutionSum += ticket.ResolutionTimeHours
		switch ticket.Status {
		case "Open":
			summary.OpenTickets++
		case "Resolved":
			summary.ResolvedTickets++
		}
		if ticket.Priority == "High" {
			summary.HighPriorityCount++
			if ticket.Status == "Open" {
				summary.OpenHighPriority++
			}
		}
		if !ticket.CreatedDate.Before(cutoff) {
			summary.RecentTickets++
		}
	}
	summary.AvgSentiment = sentimentSum / float64(summary.TotalTickets)
	summary.AvgResolutionHours = resolutionSum / float64(summary.TotalTickets)
	return summary, true
}

// SupportSentimentTrend is the mean sentiment of tickets created in the
// last 30 days; 0 when there are none.
func (s *Store) SupportSentimentTrend(customerID string) float64 {
	data := s.load(customerID)
	cutoff := s.now().Add(-recentWindow)

	var sum float64
	var count int
	for _, ticket := range data.support {
		if !ticket.CreatedDate.Before(cutoff) {
			sum += ticket.SentimentScore
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// RecentTickets returns tickets created in the last 30 days, newest first,
// capped at limit.
func (s *Store) RecentTickets(customerID string, limit int) []SupportTicket {
	data := s.load(customerID)
	cutoff := s.now().Add(-recentWindow)

	var recent []SupportTicket
	for _, ticket := range data.support {
		if !ticket.CreatedDate.Before(cutoff) {
			recent = append(recent, ticket)
		}
	}
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].CreatedDate.After(recent[j].CreatedDate)
	})
	if limit > 0 && len(recent) > limit {
		recent = recent[:limit]
	}
	return recent
}

// CampaignPerformance aggregates the campaign set; ok is false when the
// customer has no campaigns.
func (s *Store) CampaignPerformance(customerID string) (*CampaignPerformance, bool) {
	data := s.load(customerID)
	if len(data.campaigns) == 0 {
		return nil, false
	}

	cutoff := s.now().Add(-recentWindow)
	perf := &CampaignPerformance{TotalCampaigns: len(data.campaigns)}

	var sent, opened, clicked int
	var conversionSum float64
	for _, campaign := range data.campaigns {
		sent += campaign.EmailSent
		opened += campaign.EmailOpened
		clicked += campaign.EmailClicked
		conversionSum += campaign.ConversionRate
		perf.TotalRevenue += campaign.RevenueGenerated
		if !campaign.DateSent.Before(cutoff) {
			perf.RecentEngagement++
		}
	}
	if sent > 0 {
		perf.AvgOpenRate = float64(opened) / float64(sent)
		perf.AvgClickRate = float64(clicked) / float64(sent)
	}
	perf.AvgConversionRate = conversionSum / float64(perf.TotalCampaigns)
	return perf, true
}

// Campaigns returns the full campaign rows, most recent send first.
func (s *Store) Campaigns(customerID string) []Campaign {
	data := s.load(customerID)
	if len(data.campaigns) == 0 {
		return nil
	}

	campaigns := make([]Campaign, len(data.campaigns))
	copy(campaigns, data.campaigns)
	sort.SliceStable(campaigns, func(i, j int) bool {
		return campaigns[i].DateSent.After(campaigns[j].DateSent)
	})
	return campaigns
}

// RecentCampaigns returns campaigns sent in the last 30 days, newest first,
// capped at limit.
func (s *Store) RecentCampaigns(customerID string, limit int) []Campaign {
	cutoff := s.now().Add(-recentWindow)

	var recent []Campaign
	for _, campaign := range s.Campaigns(customerID) {
		if !campaign.DateSent.Before(cutoff) {
			recent = append(recent, campaign)
		}
	}
	if limit > 0 && len(recent) > limit {
		recent = recent[:limit]
	}
	return recent
}

// Overview bundles the profile with every aggregate the formatter consumes.
func (s *Store) Overview(customerID string) (*Overview, bool) {
	profile, ok := s.Profile(customerID)
	if !ok {
		return nil, false
	}

	overview := &Overview{
		Profile:     profile,
		UsageTrends: s.UsageTrends(customerID, 30),
	}
	if summary, ok := s.SupportSummary(customerID); ok {
		overview.SupportSummary = summary
	}
	if perf, ok := s.CampaignPerformance(customerID); ok {
		overview.CampaignPerformance = perf
	}
	return overview, true
}
