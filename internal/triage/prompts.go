package triage

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/linnemanlabs/traceback/internal/retrieval"
)

const systemPrompt = `You are Traceback, an incident triage assistant for data pipelines.
You combine documentation, SQL and table lineage to explain what broke, who is affected and what to do next.
Be concise and operational. Prefer concrete table and dashboard names over generalities.`

func buildAssessmentPrompt(question string, evidence []retrieval.Fragment, blastRadius, dashboards []string) string {
	var b strings.Builder
	b.WriteString("You are the Impact Assessor for Traceback.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", question)

	b.WriteString("Context:\n")
	if len(evidence) == 0 {
		b.WriteString("(no documents found)\n")
	}
	for _, f := range evidence {
		fmt.Fprintf(&b, "[%s] %s\n", f.Source, f.Text)
	}

	fmt.Fprintf(&b, "\nDownstream tables from lineage: %s\n", listOrNone(blastRadius))
	fmt.Fprintf(&b, "Dashboards reading affected tables: %s\n\n", listOrNone(dashboards))

	b.WriteString(`Provide a structured impact assessment:
1. Business Impact Level (Critical/High/Medium/Low)
2. Affected Systems/Tables
3. Blast Radius (downstream impact)
4. SLA Impact
5. Estimated Recovery Time`)
	return b.String()
}

func buildWriterPrompt(st *State) string {
	var b strings.Builder
	b.WriteString("You are the Writer for Traceback incident triage.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", st.Question)

	b.WriteString("Impact Assessment:\n")
	if st.ImpactAssessment == nil || st.ImpactAssessment.Text == "" {
		b.WriteString("(none)\n")
	} else {
		b.WriteString(st.ImpactAssessment.Text)
		b.WriteString("\n")
		if len(st.ImpactAssessment.Sources) > 0 {
			fmt.Fprintf(&b, "Sources: %s\n", strings.Join(st.ImpactAssessment.Sources, ", "))
		}
	}

	fmt.Fprintf(&b, "\nBlast Radius: %s\n", listOrNone(st.BlastRadius))
	fmt.Fprintf(&b, "Affected Dashboards: %s\n\n", listOrNone(st.Dashboards))

	b.WriteString(`Generate a comprehensive incident brief with these sections:
1. **Incident Summary**: Brief description
2. **Business Impact**: Level and details
3. **Blast Radius**: Affected systems/tables
4. **Root Cause Analysis**: Likely causes
5. **Recommended Actions**: Immediate steps
6. **Recovery Plan**: Step-by-step recovery
7. **Prevention**: Future mitigation

Format as a professional incident brief in Markdown.`)
	return b.String()
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

var (
	// markdown heading, bold label or numbered bold label
	headingRe = regexp.MustCompile(`^\s*(?:#{1,6}\s*|\d+\.\s*\*\*|\*\*)`)
	// "- x", "* x", "1. x", "1) x"
	itemRe = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.+)$`)
)

var briefSections = []string{
	"incident summary",
	"business impact",
	"blast radius",
	"root cause",
	"recommended actions",
	"recovery plan",
	"prevention",
}

// parseRecommendedActions returns the list items of the "Recommended Actions"
// section of a brief, or nil when the section is missing.
func parseRecommendedActions(brief string) []string {
	var (
		in  bool
		out []string
	)
	for _, line := range strings.Split(brief, "\n") {
		if isHeading(line) {
			if in {
				break
			}
			in = strings.Contains(strings.ToLower(line), "recommended actions")
			if in {
				if rest := inlineAfterHeading(line); rest != "" {
					out = append(out, rest)
				}
			}
			continue
		}
		if !in {
			continue
		}
		if m := itemRe.FindStringSubmatch(line); m != nil {
			item := strings.TrimSpace(strings.ReplaceAll(m[1], "**", ""))
			if item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

// isHeading reports whether line opens one of the brief's sections. Bold list
// items such as "1. **Pause ingestion**" are not headings.
func isHeading(line string) bool {
	t := strings.TrimSpace(line)
	if strings.HasPrefix(t, "#") {
		return true
	}
	if !headingRe.MatchString(t) {
		return false
	}
	lower := strings.ToLower(t)
	for _, name := range briefSections {
		if strings.Contains(lower, name) {
			return true
		}
	}
	return false
}

// inlineAfterHeading returns text following "Recommended Actions**:" on the
// same line, if any.
func inlineAfterHeading(line string) string {
	i := strings.Index(strings.ToLower(line), "recommended actions")
	if i < 0 {
		return ""
	}
	rest := line[i+len("recommended actions"):]
	rest = strings.TrimLeft(rest, "*:# ")
	return strings.TrimSpace(rest)
}
