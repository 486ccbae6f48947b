package customer

import "time"

// Profile is one customer's account record, loaded from profile.csv.
type Profile struct {
	CustomerID        string    `json:"customer_id"`
	CustomerName      string    `json:"customer_name"`
	Industry          string    `json:"industry"`
	Segment           string    `json:"segment"`
	AccountSize       string    `json:"account_size"`
	AnnualRevenue     float64   `json:"annual_revenue"`
	ContractValue     float64   `json:"contract_value"`
	ContractStartDate time.Time `json:"contract_start_date"`
	ContractEndDate   time.Time `json:"contract_end_date"`
	RenewalDate       time.Time `json:"renewal_date"`
	ChurnRiskScore    float64   `json:"churn_risk_score"`
	AccountManager    string    `json:"account_manager"`
	Status            string    `json:"status"`
	Notes             string    `json:"notes"`
}

// UsageRecord is one day of product usage, loaded from usage.csv.
type UsageRecord struct {
	Date              time.Time `json:"date"`
	LoginCount        int       `json:"login_count"`
	ActiveUsers       int       `json:"active_users"`
	FeatureUsageScore float64   `json:"feature_usage_score"`
}

// SupportTicket is one support case, loaded from support.csv.
type SupportTicket struct {
	TicketID            string    `json:"ticket_id"`
	Subject             string    `json:"subject"`
	Status              string    `json:"status"` // Open, Resolved
	Priority            string    `json:"priority"`
	SentimentScore      float64   `json:"sentiment_score"`
	ResolutionTimeHours float64   `json:"resolution_time_hours"`
	CreatedDate         time.Time `json:"created_date"`
	ResolvedDate        time.Time `json:"resolved_date"`
}

// Campaign is one marketing campaign result, loaded from campaigns.csv.
type Campaign struct {
	CampaignName     string    `json:"campaign_name"`
	DateSent         time.Time `json:"date_sent"`
	EmailSent        int       `json:"email_sent"`
	EmailOpened      int       `json:"email_opened"`
	EmailClicked     int       `json:"email_clicked"`
	ConversionRate   float64   `json:"conversion_rate"`
	RevenueGenerated float64   `json:"revenue_generated"`
}

// HighRiskCustomer is the projection returned by the threshold query.
type HighRiskCustomer struct {
	CustomerID     string  `json:"customer_id"`
	CustomerName   string  `json:"customer_name"`
	ChurnRiskScore float64 `json:"churn_risk_score"`
	Industry       string  `json:"industry"`
	Segment        string  `json:"segment"`
	ContractValue  float64 `json:"contract_value"`
}

// SupportSummary aggregates a customer's ticket set. Only produced when
// the set is non-empty; an empty set yields no summary at all so that an
// undefined mean never masquerades as neutral sentiment.
type SupportSummary struct {
	TotalTickets       int     `json:"total_tickets"`
	OpenTickets        int     `json:"open_tickets"`
	ResolvedTickets    int     `json:"resolved_tickets"`
	HighPriorityCount  int     `json:"high_priority_tickets"`
	OpenHighPriority   int     `json:"open_high_priority_tickets"`
	AvgSentiment       float64 `json:"avg_sentiment"`
	AvgResolutionHours float64 `json:"avg_resolution_time_hours"`
	RecentTickets      int     `json:"recent_tickets"`
}

// CampaignPerformance aggregates a customer's campaign set; same
// empty-set contract as SupportSummary.
type CampaignPerformance struct {
	TotalCampaigns    int     `json:"total_campaigns"`
	AvgOpenRate       float64 `json:"avg_open_rate"`
	AvgClickRate      float64 `json:"avg_click_rate"`
	AvgConversionRate float64 `json:"avg_conversion_rate"`
	TotalRevenue      float64 `json:"total_revenue"`
	RecentEngagement  int     `json:"recent_engagement"`
}

// Overview bundles everything known about a customer.
type Overview struct {
	Profile             *Profile             `json:"profile"`
	SupportSummary      *SupportSummary      `json:"support_summary,omitempty"`
	CampaignPerformance *CampaignPerformance `json:"campaign_performance,omitempty"`
	UsageTrends         []UsageRecord        `json:"usage_trends,omitempty"`
}
