package pipeline

import (
	"fmt"
	"strings"

	"github.com/sells-group/org-enricher/internal/llm"
	"github.com/sells-group/org-enricher/internal/model"
)

const systemPrompt = "You are a research assistant that returns structured company research as a single JSON object."

// BuildPrompt composes the research request for one organization.
func BuildPrompt(companyName, location string, temperature float64, maxTokens int) llm.Prompt {
	where := ""
	if location != "" {
		where = fmt.Sprintf(" located in %s", location)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Summarize the business of %q%s using publicly available information.\n", companyName, where)
	b.WriteString("Return one JSON object with exactly these keys:\n")
	fmt.Fprintf(&b, "- %s: the company's industry\n", model.KeyIndustry)
	fmt.Fprintf(&b, "- %s: headquarters location\n", model.KeyLocation)
	fmt.Fprintf(&b, "- %s: estimated number of employees\n", model.KeyEmployees)
	fmt.Fprintf(&b, "- %s: company website\n", model.KeyWebsite)
	fmt.Fprintf(&b, "- %s: LinkedIn profile URL\n", model.KeyLinkedIn)
	fmt.Fprintf(&b, "- %s: a short summary of what they do\n", model.KeySummary)
	fmt.Fprintf(&b, "- %s: a detailed multiline narrative of their geothermal energy activities covering:\n", model.KeyGeothermalActivity)
	fmt.Fprintf(&b, "    - geographic areas where %q is or was active in geothermal\n", companyName)
	b.WriteString("    - types of involvement (electricity, heating, R&D, etc.)\n")
	b.WriteString("    - key partners and projects\n")
	b.WriteString("    - the company's role and project status (e.g. active, exited)\n")
	b.WriteString("    - the strategic rationale behind its decisions\n")
	b.WriteString("All values must be strings. Escape control characters inside strings so the result is valid JSON.\n")

	return llm.Prompt{
		System:      systemPrompt,
		User:        b.String(),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}
