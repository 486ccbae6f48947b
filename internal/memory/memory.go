// Package memory is the SQLite-backed conversation store: an append-only
// message log, a per-session summary row and a per-customer accumulator of
// topics and recommendations discussed across sessions.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/bytedance/sonic"
	_ "github.com/mattn/go-sqlite3"

	"churnpilot/pkg"
)

// Store persists conversation memory in SQLite.
type Store struct {
	db *sql.DB
}

// SessionInfo is one row of the sessions table.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
}

// CustomerContext is the accumulated discussion state for one customer.
type CustomerContext struct {
	CustomerID      string    `json:"customer_id"`
	CustomerName    string    `json:"customer_name,omitempty"`
	Industry        string    `json:"industry,omitempty"`
	ChurnRiskScore  float64   `json:"churn_risk_score,omitempty"`
	LastDiscussed   time.Time `json:"last_discussed"`
	Topics          []string  `json:"topics_discussed"`
	Recommendations []string  `json:"recommendations_given"`
}

// AppendOptions carries the optional metadata an appended message may hold.
type AppendOptions struct {
	Customer   *pkg.CustomerLinkage
	ToolsUsed  []string
	Evaluation *pkg.Verdict // persisted only for failing verdicts by the caller's choice
}

// Open opens (and initializes) the memory database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		customer_id TEXT,
		customer_name TEXT,
		industry TEXT,
		churn_risk_score REAL,
		tools_used TEXT,
		evaluation_result TEXT
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		last_activity DATETIME NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS customer_contexts (
		customer_id TEXT PRIMARY KEY,
		customer_name TEXT,
		industry TEXT,
		churn_risk_score REAL,
		last_discussed DATETIME,
		topics_discussed TEXT,
		recommendations_given TEXT,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
	CREATE INDEX IF NOT EXISTS idx_messages_customer ON messages(customer_id);
	CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Append records one message. The message insert and the session summary
// upsert happen in the same transaction, so the session's message_count is
// never observably stale. Appending to a cleared or unknown session
// recreates it transparently.
func (s *Store) Append(ctx context.Context, sessionID, role, content string, opts *AppendOptions) error {
	if opts == nil {
		opts = &AppendOptions{}
	}

	var customerID, customerName, industry sql.NullString
	var churnRisk sql.NullFloat64
	if c := opts.Customer; c != nil {
		customerID = sql.NullString{String: c.CustomerID, Valid: true}
		customerName = sql.NullString{String: c.CustomerName, Valid: c.CustomerName != ""}
		industry = sql.NullString{String: c.Industry, Valid: c.Industry != ""}
		churnRisk = sql.NullFloat64{Float64: c.ChurnRiskScore, Valid: true}
	}

	var toolsJSON sql.NullString
	if len(opts.ToolsUsed) > 0 {
		data, err := sonic.MarshalString(opts.ToolsUsed)
		if err != nil {
			return fmt.Errorf("failed to marshal tools list: %w", err)
		}
		toolsJSON = sql.NullString{String: data, Valid: true}
	}

	var evalJSON sql.NullString
	if opts.Evaluation != nil {
		data, err := sonic.MarshalString(opts.Evaluation)
		if err != nil {
			return fmt.Errorf("failed to marshal evaluation: %w", err)
		}
		evalJSON = sql.NullString{String: data, Valid: true}
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content, timestamp, customer_id,
			customer_name, industry, churn_risk_score, tools_used, evaluation_result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionID, role, content, now, customerID, customerName, industry, churnRisk, toolsJSON, evalJSON)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, created_at, last_activity, message_count)
		VALUES (?, ?, ?, (SELECT COUNT(*) FROM messages WHERE session_id = ?))
		ON CONFLICT(session_id) DO UPDATE SET
			last_activity = excluded.last_activity,
			message_count = excluded.message_count
	`, sessionID, now, now, sessionID)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	if opts.Customer != nil && opts.Customer.CustomerID != "" {
		if err := s.accumulateCustomerContext(ctx, tx, opts.Customer, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// accumulateCustomerContext folds a message's customer linkage into the
// per-customer accumulator. Topic and recommendation strings have set
// semantics: each is stored at most once.
func (s *Store) accumulateCustomerContext(ctx context.Context, tx *sql.Tx, linkage *pkg.CustomerLinkage, now time.Time) error {
	var topicsJSON, recsJSON sql.NullString
	var existingName, existingIndustry sql.NullString
	var existingRisk sql.NullFloat64

	err := tx.QueryRowContext(ctx, `
		SELECT customer_name, industry, churn_risk_score, topics_discussed, recommendations_given
		FROM customer_contexts WHERE customer_id = ?
	`, linkage.CustomerID).Scan(&existingName, &existingIndustry, &existingRisk, &topicsJSON, &recsJSON)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to load customer context: %w", err)
	}

	topics := decodeList(topicsJSON)
	recommendations := decodeList(recsJSON)
	topics = appendUnique(topics, linkage.Topic)
	recommendations = appendUnique(recommendations, linkage.Recommendation)

	name := linkage.CustomerName
	if name == "" {
		name = existingName.String
	}
	industry := linkage.Industry
	if industry == "" {
		industry = existingIndustry.String
	}
	risk := linkage.ChurnRiskScore
	if risk == 0 && existingRisk.Valid {
		risk = existingRisk.Float64
	}

	topicsData, err := sonic.MarshalString(topics)
	if err != nil {
		return fmt.Errorf("failed to marshal topics: %w", err)
	}
	recsData, err := sonic.MarshalString(recommendations)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendations: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO customer_contexts (customer_id, customer_name, industry, churn_risk_score,
			last_discussed, topics_discussed, recommendations_given, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(customer_id) DO UPDATE SET
			customer_name = excluded.customer_name,
			industry = excluded.industry,
			churn_risk_score = excluded.churn_risk_score,
			last_discussed = excluded.last_discussed,
			topics_discussed = excluded.topics_discussed,
			recommendations_given = excluded.recommendations_given,
			updated_at = excluded.updated_at
	`, linkage.CustomerID, name, industry, risk, now, topicsData, recsData, now)
	if err != nil {
		return fmt.Errorf("failed to upsert customer context: %w", err)
	}
	return nil
}

// RecentContext returns the last n messages of a session in chronological
// order, the order the model should read them in. No history is an empty
// slice, not an error.
func (s *Store) RecentContext(ctx context.Context, sessionID string, n int) ([]pkg.ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, timestamp, customer_id, customer_name, industry,
			churn_risk_score, tools_used, evaluation_result
		FROM messages
		WHERE session_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []pkg.ConversationMessage
	for rows.Next() {
		msg, err := scanMessage(rows, sessionID)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	// Reverse newest-first into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func scanMessage(rows *sql.Rows, sessionID string) (pkg.ConversationMessage, error) {
	var msg pkg.ConversationMessage
	var customerID, customerName, industry, toolsJSON, evalJSON sql.NullString
	var churnRisk sql.NullFloat64

	err := rows.Scan(&msg.Role, &msg.Content, &msg.Timestamp, &customerID,
		&customerName, &industry, &churnRisk, &toolsJSON, &evalJSON)
	if err != nil {
		return msg, fmt.Errorf("failed to scan message: %w", err)
	}

	msg.SessionID = sessionID
	if customerID.Valid {
		msg.Customer = &pkg.CustomerLinkage{
			CustomerID:     customerID.String,
			CustomerName:   customerName.String,
			Industry:       industry.String,
			ChurnRiskScore: churnRisk.Float64,
		}
	}
	if toolsJSON.Valid {
		if err := sonic.UnmarshalString(toolsJSON.String, &msg.ToolsUsed); err != nil {
			return msg, fmt.Errorf("failed to decode tools list: %w", err)
		}
	}
	if evalJSON.Valid {
		var verdict pkg.Verdict
		if err := sonic.UnmarshalString(evalJSON.String, &verdict); err != nil {
			return msg, fmt.Errorf("failed to decode evaluation: %w", err)
		}
		msg.Evaluation = &verdict
	}
	return msg, nil
}

// Sessions lists all session rows, most recently active first.
func (s *Store) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, created_at, last_activity, message_count
		FROM sessions ORDER BY last_activity DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.SessionID, &info.CreatedAt, &info.LastActivity, &info.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, info)
	}
	return sessions, rows.Err()
}

// Session returns one session's summary row, or false when unknown.
func (s *Store) Session(ctx context.Context, sessionID string) (*SessionInfo, bool, error) {
	var info SessionInfo
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, created_at, last_activity, message_count
		FROM sessions WHERE session_id = ?
	`, sessionID).Scan(&info.SessionID, &info.CreatedAt, &info.LastActivity, &info.MessageCount)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query session: %w", err)
	}
	return &info, true, nil
}

// CustomerContexts returns the accumulator rows, most recently discussed first.
// When customerID is non-empty, at most that customer's row is returned.
func (s *Store) CustomerContexts(ctx context.Context, customerID string) ([]CustomerContext, error) {
	query := `
		SELECT customer_id, customer_name, industry, churn_risk_score,
			last_discussed, topics_discussed, recommendations_given
		FROM customer_contexts`
	args := []any{}
	if customerID != "" {
		query += " WHERE customer_id = ?"
		args = append(args, customerID)
	}
	query += " ORDER BY last_discussed DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query customer contexts: %w", err)
	}
	defer rows.Close()

	var contexts []CustomerContext
	for rows.Next() {
		var c CustomerContext
		var name, industry, topicsJSON, recsJSON sql.NullString
		var risk sql.NullFloat64
		var lastDiscussed sql.NullTime
		if err := rows.Scan(&c.CustomerID, &name, &industry, &risk, &lastDiscussed, &topicsJSON, &recsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan customer context: %w", err)
		}
		c.CustomerName = name.String
		c.Industry = industry.String
		c.ChurnRiskScore = risk.Float64
		c.LastDiscussed = lastDiscussed.Time
		c.Topics = decodeList(topicsJSON)
		c.Recommendations = decodeList(recsJSON)
		contexts = append(contexts, c)
	}
	return contexts, rows.Err()
}

// ConversationSummary renders a prose summary of one session: stats,
// customers discussed and the last few exchanges.
func (s *Store) ConversationSummary(ctx context.Context, sessionID string, maxMessages int) (string, error) {
	info, ok, err := s.Session(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !ok {
		return fmt.Sprintf("No conversation history found for session %s", sessionID), nil
	}

	messages, err := s.RecentContext(ctx, sessionID, maxMessages)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Conversation Summary (Session: %s)**\n", sessionID)
	fmt.Fprintf(&sb, "**Created:** %s\n", info.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "**Last Activity:** %s\n", info.LastActivity.Format(time.RFC3339))
	fmt.Fprintf(&sb, "**Total Messages:** %d\n", info.MessageCount)

	seen := map[string]bool{}
	var customers []string
	for _, msg := range messages {
		if msg.Customer != nil && !seen[msg.Customer.CustomerID] {
			seen[msg.Customer.CustomerID] = true
			label := msg.Customer.CustomerName
			if label == "" {
				label = msg.Customer.CustomerID
			}
			customers = append(customers, fmt.Sprintf("- %s (risk %.1f%%)", label, msg.Customer.ChurnRiskScore*100))
		}
	}
	if len(customers) > 0 {
		sb.WriteString("\n**Customers Discussed:**\n")
		sb.WriteString(strings.Join(customers, "\n"))
		sb.WriteString("\n")
	}

	sb.WriteString("\n**Recent Conversation Highlights:**\n")
	highlights := messages
	if len(highlights) > 5 {
		highlights = highlights[len(highlights)-5:]
	}
	for _, msg := range highlights {
		content := msg.Content
		if runes := []rune(content); len(runes) > 100 {
			content = string(runes[:100]) + "..."
		}
		fmt.Fprintf(&sb, "- **%s** (%s): %s\n", capitalize(msg.Role), msg.Timestamp.Format("15:04"), content)
	}
	return sb.String(), nil
}

// CustomerContextSummary renders the accumulator as prose, for one customer
// or for all of them.
func (s *Store) CustomerContextSummary(ctx context.Context, customerID string) (string, error) {
	contexts, err := s.CustomerContexts(ctx, customerID)
	if err != nil {
		return "", err
	}
	if len(contexts) == 0 {
		if customerID != "" {
			return fmt.Sprintf("No conversation history found for customer %s", customerID), nil
		}
		return "No customer context available.", nil
	}

	var sb strings.Builder
	sb.WriteString("**Customer Context Summary:**")
	for _, c := range contexts {
		label := c.CustomerName
		if label == "" {
			label = c.CustomerID
		}
		fmt.Fprintf(&sb, "\n\n**%s:**\n", label)
		fmt.Fprintf(&sb, "- Industry: %s\n", orUnknown(c.Industry))
		fmt.Fprintf(&sb, "- Churn Risk: %.1f%%\n", c.ChurnRiskScore*100)
		fmt.Fprintf(&sb, "- Topics: %s\n", orNone(c.Topics))
		fmt.Fprintf(&sb, "- Recommendations: %s\n", orNone(c.Recommendations))
		fmt.Fprintf(&sb, "- Last Discussed: %s", c.LastDiscussed.Format(time.RFC3339))
	}
	return sb.String(), nil
}

// ClearSession deletes a session's messages and its summary row. Clearing
// an unknown or already-cleared session is a no-op.
func (s *Store) ClearSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return tx.Commit()
}

// ClearAll wipes every table. Irreversible; operator resets only.
func (s *Store) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"messages", "customer_contexts", "sessions"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func decodeList(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var list []string
	if err := sonic.UnmarshalString(raw.String, &list); err != nil {
		return nil
	}
	return list
}

func appendUnique(list []string, value string) []string {
	if value == "" {
		return list
	}
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func orNone(list []string) string {
	if len(list) == 0 {
		return "None"
	}
	return strings.Join(list, ", ")
}
