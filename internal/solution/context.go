// Package solution holds the static product knowledge the decision agent
// grounds its recommendations in. The catalogue is compiled in; it changes
// with releases, not at runtime.
package solution

import "strings"

// Product is one offering in the NovaReach platform catalogue.
type Product struct {
	Name        string
	Category    string
	Description string
	KeyFeatures []string
	BestFor     []string
}

var products = []Product{
	{
		Name:        "NovaReach Engage",
		Category:    "Customer Engagement",
		Description: "Omnichannel campaign orchestration that personalizes outreach across email, in-app, SMS and push from a single journey builder.",
		KeyFeatures: []string{
			"AI-driven send-time and channel optimization",
			"Behavioral segmentation with real-time audience sync",
			"Journey templates for onboarding, renewal and win-back plays",
			"A/B and multivariate testing with automatic winner promotion",
		},
		BestFor: []string{
			"Re-engaging customers with declining product usage",
			"Renewal and win-back campaigns for at-risk accounts",
			"Lifecycle onboarding for new enterprise seats",
		},
	},
	{
		Name:        "NovaReach Insight",
		Category:    "Predictive Analytics",
		Description: "Account health scoring that fuses product telemetry, support sentiment and campaign engagement into a single churn risk model.",
		KeyFeatures: []string{
			"Daily churn risk scoring with factor attribution",
			"Usage decline and adoption trend detection",
			"Support sentiment analysis across tickets and surveys",
			"Configurable alerting into Slack and CRM workflows",
		},
		BestFor: []string{
			"Early warning on accounts trending toward churn",
			"Prioritizing customer success manager outreach",
			"Quantifying the impact of retention interventions",
		},
	},
	{
		Name:        "NovaReach Assist",
		Category:    "Conversational AI",
		Description: "AI assistant layer for support deflection and guided in-product help, trained on the customer's own knowledge base.",
		KeyFeatures: []string{
			"Knowledge-grounded answer generation with citations",
			"Automatic ticket triage and priority routing",
			"Sentiment-aware escalation to human agents",
			"In-product walkthroughs triggered by usage signals",
		},
		BestFor: []string{
			"Reducing open ticket backlog and resolution time",
			"Improving support sentiment on high-volume accounts",
			"Driving feature adoption through contextual guidance",
		},
	},
	{
		Name:        "NovaReach Audience",
		Category:    "Customer Data Platform",
		Description: "Unified customer profiles assembled from product, CRM, support and marketing sources, queryable by every other NovaReach module.",
		KeyFeatures: []string{
			"Identity resolution across devices and data sources",
			"Real-time trait computation and audience export",
			"Privacy controls with region-aware data residency",
			"Native connectors for major CRMs and warehouses",
		},
		BestFor: []string{
			"Building a single view of enterprise accounts",
			"Feeding accurate segments to engagement campaigns",
			"Auditing which interventions each account received",
		},
	},
}

var retentionPlaybook = []string{
	"Usage decline: pair NovaReach Insight alerts with an Engage win-back journey; target the specific features the account stopped using.",
	"Negative support sentiment: deploy Assist for faster resolution on the account's top ticket categories, then follow up with an executive check-in sequence.",
	"Low campaign engagement: rebuild segments in Audience from live product behavior instead of static lists before the next Engage send.",
	"Approaching renewal at elevated risk: combine an Insight factor report with a tailored Engage renewal journey and a CSM-led business review.",
}

// Context returns the full product catalogue and retention playbook as
// prompt-ready markdown.
func Context() string {
	var sb strings.Builder
	sb.WriteString("# NovaReach Platform Context\n\n")
	sb.WriteString("NovaReach is an AI-powered customer engagement platform. ")
	sb.WriteString("Its modules are designed to be combined into retention plays for at-risk accounts.\n")

	for _, p := range products {
		sb.WriteString("\n## " + p.Name + " (" + p.Category + ")\n")
		sb.WriteString(p.Description + "\n\n")
		sb.WriteString("**Key features:**\n")
		for _, f := range p.KeyFeatures {
			sb.WriteString("- " + f + "\n")
		}
		sb.WriteString("\n**Best for:**\n")
		for _, b := range p.BestFor {
			sb.WriteString("- " + b + "\n")
		}
	}

	sb.WriteString("\n## Retention Playbook\n")
	for _, play := range retentionPlaybook {
		sb.WriteString("- " + play + "\n")
	}
	return sb.String()
}

// Summary returns the one-screen catalogue overview used in system prompts
// where the full context would crowd out the conversation.
func Summary() string {
	var sb strings.Builder
	sb.WriteString("NovaReach platform modules:\n")
	for _, p := range products {
		sb.WriteString("- **" + p.Name + "** (" + p.Category + "): " + p.Description + "\n")
	}
	return sb.String()
}
