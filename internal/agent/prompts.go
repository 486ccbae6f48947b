package agent

import (
	"fmt"
	"strings"
	"unicode"

	"churnpilot/internal/solution"
	"churnpilot/pkg"
)

const systemPromptTemplate = `You are a customer success specialist for NovaReach, an AI-powered customer engagement platform. Your job is to help account teams retain at-risk customers.

%s

You have tools that read real customer data: profiles, product usage, support tickets and campaign history. Ground every claim in tool output.

Guidelines:
- Identify the customer the user is asking about and pull their data before answering.
- Quantify risk: cite churn risk scores, usage decline rates, sentiment and renewal dates from the data.
- Recommend specific NovaReach modules and concrete retention plays that match the customer's risk factors.
- When data is missing say so plainly; never invent numbers.
- After you have gathered data and formed a recommendation for a specific customer, call evaluate_recommendation once to quality-check your answer before giving it.
- Keep answers focused and actionable for a customer success manager.`

// SystemPrompt is the decision agent's standing instruction set, with the
// solution catalogue summary baked in.
func SystemPrompt() string {
	return fmt.Sprintf(systemPromptTemplate, solution.Summary())
}

// BuildUserPrompt assembles the user turn: prior conversation inside the
// history window, then the query, then evaluator feedback when this is a
// retry attempt.
func BuildUserPrompt(query string, history []pkg.ConversationMessage, feedback string) string {
	var sb strings.Builder

	if len(history) > 0 {
		sb.WriteString("Previous conversation:\n")
		for _, msg := range history {
			fmt.Fprintf(&sb, "%s: %s\n", capitalize(msg.Role), truncate(msg.Content, 500))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Current question: ")
	sb.WriteString(query)

	if feedback != "" {
		sb.WriteString("\n\nYour previous answer did not pass quality review. Reviewer feedback:\n")
		sb.WriteString(feedback)
		sb.WriteString("\nRework the answer to address every point above, then re-evaluate it.")
	}
	return sb.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// FeedbackFromVerdict flattens a failing verdict into the reviewer feedback
// injected on retry.
func FeedbackFromVerdict(v *pkg.Verdict) string {
	if v == nil {
		return ""
	}

	var parts []string
	if v.Reasoning != "" {
		parts = append(parts, "Reasoning: "+v.Reasoning)
	}
	if len(v.Weaknesses) > 0 {
		parts = append(parts, "Weaknesses: "+strings.Join(v.Weaknesses, "; "))
	}
	if len(v.Improvements) > 0 {
		parts = append(parts, "Required improvements: "+strings.Join(v.Improvements, "; "))
	}
	if len(parts) == 0 && v.RawText != "" {
		parts = append(parts, v.RawText)
	}
	return strings.Join(parts, "\n")
}
