// Package customer reads per-customer CSV data sets and answers the
// aggregate queries the chat tools expose. All data is provisioned out of
// band and treated as read-only; a data set that fails to parse is logged
// and reported as absent rather than failing the whole customer.
package customer

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"churnpilot/internal/logger"
)

const dateLayout = "2006-01-02"

// Store loads customer data lazily and caches it for the process lifetime.
type Store struct {
	customersDir string

	mu    sync.RWMutex
	cache map[string]*dataset

	// now is injectable so recent-window queries are testable.
	now func() time.Time
}

type dataset struct {
	profile   *Profile
	usage     []UsageRecord
	support   []SupportTicket
	campaigns []Campaign
}

// NewStore creates a store rooted at dataDir (expects dataDir/customers/<ID>/*.csv).
func NewStore(dataDir string) *Store {
	return &Store{
		customersDir: filepath.Join(dataDir, "customers"),
		cache:        make(map[string]*dataset),
		now:          time.Now,
	}
}

// AvailableCustomers returns the sorted list of customer IDs on disk.
func (s *Store) AvailableCustomers() []string {
	entries, err := os.ReadDir(s.customersDir)
	if err != nil {
		return nil
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids
}

// Profile returns the customer's profile row, or false when unknown.
func (s *Store) Profile(customerID string) (*Profile, bool) {
	data := s.load(customerID)
	if data.profile == nil {
		return nil, false
	}
	return data.profile, true
}

func (s *Store) load(customerID string) *dataset {
	s.mu.RLock()
	data, ok := s.cache[customerID]
	s.mu.RUnlock()
	if ok {
		return data
	}

	data = s.loadFromDisk(customerID)

	s.mu.Lock()
	s.cache[customerID] = data
	s.mu.Unlock()
	return data
}

func (s *Store) loadFromDisk(customerID string) *dataset {
	dir := filepath.Join(s.customersDir, customerID)
	data := &dataset{}

	if profile, err := loadProfile(filepath.Join(dir, "profile.csv")); err != nil {
		logger.Warn().Err(err).Str("customer_id", customerID).Msg("profile data unavailable")
	} else {
		profile.CustomerID = customerID
		data.profile = profile
	}

	if usage, err := loadUsage(filepath.Join(dir, "usage.csv")); err != nil {
		logger.Warn().Err(err).Str("customer_id", customerID).Msg("usage data unavailable")
	} else {
		data.usage = usage
	}

	if support, err := loadSupport(filepath.Join(dir, "support.csv")); err != nil {
		logger.Warn().Err(err).Str("customer_id", customerID).Msg("support data unavailable")
	} else {
		data.support = support
	}

	if campaigns, err := loadCampaigns(filepath.Join(dir, "campaigns.csv")); err != nil {
		logger.Warn().Err(err).Str("customer_id", customerID).Msg("campaign data unavailable")
	} else {
		data.campaigns = campaigns
	}

	return data
}

// row gives name-based access to one CSV record.
type row struct {
	index  map[string]int
	record []string
}

func (r row) str(col string) string {
	i, ok := r.index[col]
	if !ok || i >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[i])
}

func (r row) float(col string) float64 {
	v, err := strconv.ParseFloat(r.str(col), 64)
	if err != nil {
		return 0
	}
	return v
}

func (r row) int(col string) int {
	v, err := strconv.Atoi(r.str(col))
	if err != nil {
		return 0
	}
	return v
}

func (r row) date(col string) time.Time {
	raw := r.str(col)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		// Some exports carry full timestamps.
		t, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}
		}
	}
	return t
}

func readCSV(path string, fn func(r row)) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("reading header of %s: %w", filepath.Base(path), err)
	}
	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.TrimSpace(strings.ToLower(col))] = i
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", filepath.Base(path), err)
		}
		fn(row{index: index, record: record})
	}
}

func loadProfile(path string) (*Profile, error) {
	var profile *Profile
	err := readCSV(path, func(r row) {
		if profile != nil {
			return // single row per customer
		}
		profile = &Profile{
			CustomerName:      r.str("customer_name"),
			Industry:          r.str("industry"),
			Segment:           r.str("segment"),
			AccountSize:       r.str("account_size"),
			AnnualRevenue:     r.float("annual_revenue"),
			ContractValue:     r.float("contract_value"),
			ContractStartDate: r.date("contract_start_date"),
			ContractEndDate:   r.date("contract_end_date"),
			RenewalDate:       r.date("renewal_date"),
			ChurnRiskScore:    r.float("churn_risk_score"),
			AccountManager:    r.str("account_manager"),
			Status:            r.str("status"),
			Notes:             r.str("notes"),
		}
	})
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("profile file %s has no rows", filepath.Base(path))
	}
	return profile, nil
}

func loadUsage(path string) ([]UsageRecord, error) {
	var records []UsageRecord
	err := readCSV(path, func(r row) {
		records = append(records, UsageRecord{
			Date:              r.date("date"),
			LoginCount:        r.int("login_count"),
			ActiveUsers:       r.int("active_users"),
			FeatureUsageScore: r.float("feature_usage_score"),
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Date.Before(records[j].Date) })
	return records, nil
}

func loadSupport(path string) ([]SupportTicket, error) {
	var tickets []SupportTicket
	err := readCSV(path, func(r row) {
		tickets = append(tickets, SupportTicket{
			TicketID:            r.str("ticket_id"),
			Subject:             r.str("subject"),
			Status:              r.str("status"),
			Priority:            r.str("priority"),
			SentimentScore:      r.float("sentiment_score"),
			ResolutionTimeHours: r.float("resolution_time_hours"),
			CreatedDate:         r.date("created_date"),
			ResolvedDate:        r.date("resolved_date"),
		})
	})
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

func loadCampaigns(path string) ([]Campaign, error) {
	var campaigns []Campaign
	err := readCSV(path, func(r row) {
		campaigns = append(campaigns, Campaign{
			CampaignName:     r.str("campaign_name"),
			DateSent:         r.date("date_sent"),
			EmailSent:        r.int("email_sent"),
			EmailOpened:      r.int("email_opened"),
			EmailClicked:     r.int("email_clicked"),
			ConversionRate:   r.float("conversion_rate"),
			RevenueGenerated: r.float("revenue_generated"),
		})
	})
	if err != nil {
		return nil, err
	}
	return campaigns, nil
}
