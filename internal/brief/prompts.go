package brief

import (
	"fmt"
	"strings"

	"github.com/abelbrown/briefs/internal/attribution"
	"github.com/abelbrown/briefs/internal/model"
)

const followUpSystemPrompt = `You are a financial research analyst preparing a market intelligence brief. Given recent news excerpts about a company, you identify the most promising angles for deeper investigation. You respond only with JSON.`

const summarizeSystemPrompt = `You are a financial analyst writing concise market intelligence updates. Each update is one self-contained bullet point about a single development, scored 1-5 for materiality to investors. Cite your sources using only the bracketed reference numbers provided with the excerpts. You respond only with JSON.`

const introBulletSystemPrompt = `You are an editor writing the executive summary of a market intelligence brief. You condense a company's updates into one sharp sentence. You respond only with JSON.`

const titleSystemPrompt = `You are an editor naming a market intelligence brief after its most important story. Titles are short, specific, and free of hype. You respond only with JSON.`

func promptDateContext(dates model.DateRange) string {
	return fmt.Sprintf("Coverage period: %s through %s.",
		dates.Start.Format("January 02, 2006"), dates.End.Format("January 02, 2006"))
}

// followUpQuestionsPrompt asks for a fixed number of follow-up questions
// grounded in the exploratory results.
func followUpQuestionsPrompt(entity model.Entity, topics []string, results []model.Result, dates model.DateRange, n int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Company: %s\n%s\n\n", entity.String(), promptDateContext(dates))

	sb.WriteString("Topics under coverage:\n")
	for _, t := range topics {
		fmt.Fprintf(&sb, "* %s\n", strings.ReplaceAll(t, "{company}", entity.Name))
	}

	sb.WriteString("\nRecent coverage excerpts:\n")
	for _, r := range results {
		fmt.Fprintf(&sb, "\n## %s (%s, %s)\n", r.Headline, r.SourceName, r.Timestamp.Format("2006-01-02"))
		for _, c := range r.Chunks {
			fmt.Fprintf(&sb, "%s\n", c.Text)
		}
	}

	fmt.Fprintf(&sb, "\nBased on the excerpts, write exactly %d follow-up research questions that would surface the most material developments for %s in this period.\n", n, entity.Name)
	sb.WriteString(`Respond with JSON: {"questions": ["...", "..."]}`)
	return sb.String()
}

// summarizePrompt renders the Q&A pairs with compact reference IDs and asks
// for scored topic summaries citing those IDs.
func summarizePrompt(entity model.Entity, qaPairs model.QAPairs, sources attribution.SourceMap, dates model.DateRange) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Company: %s\n%s\n\n", entity.String(), promptDateContext(dates))
	sb.WriteString("Research questions and retrieved evidence. Each excerpt carries a bracketed reference number:\n")

	for _, pair := range qaPairs.Pairs {
		fmt.Fprintf(&sb, "\n## %s\n", pair.Question)
		for _, result := range pair.Answer {
			if result.DocumentID == "" {
				continue
			}
			fmt.Fprintf(&sb, "\n### %s (%s, %s)\n", result.Headline, result.SourceName, result.Timestamp.Format("2006-01-02"))
			for _, chunk := range result.Chunks {
				ref, ok := sources[attribution.Key(result.DocumentID, chunk.Index)]
				if !ok {
					continue
				}
				fmt.Fprintf(&sb, "[%d] %s\n", ref.RefID, chunk.Text)
			}
		}
	}

	fmt.Fprintf(&sb, "\nWrite the most material updates about %s as standalone bullet points. Score each 1-5 for investor materiality and cite the reference numbers of the supporting excerpts.\n", entity.Name)
	sb.WriteString(`Respond with JSON: {"collection": [{"topic": "...", "relevance_score": 4, "source_citation": [1, 2]}]}`)
	return sb.String()
}

// introBulletPrompt condenses one company's report into a single summary
// bullet for the introduction section.
func introBulletPrompt(report model.SingleEntityReport, dates model.DateRange) string {
	var sb strings.Builder
	name := report.EntityInfo["name"]
	fmt.Fprintf(&sb, "Company: %s\n%s\n\nCompany updates:\n", name, promptDateContext(dates))
	for _, b := range report.Bullets {
		fmt.Fprintf(&sb, "* %s\n", b.Text)
	}
	fmt.Fprintf(&sb, "\nWrite one sentence capturing the single most important development for %s.\n", name)
	sb.WriteString(`Respond with JSON: {"bullet_point": "..."}`)
	return sb.String()
}

// titlePrompt names the brief after its leading story.
func titlePrompt(firstBullet string, dates model.DateRange) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n\nLead story:\n%s\n\n", promptDateContext(dates), firstBullet)
	sb.WriteString("Write a short title for a market intelligence brief led by this story.\n")
	sb.WriteString(`Respond with JSON: {"report_title": "..."}`)
	return sb.String()
}
