package pipeline

import (
	"fmt"
	"strings"

	"github.com/tas-context-tailor/models"
)

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

// PlatformFormatter renders a synthesized context for a target
// platform: Markdown for ChatGPT, XML for Claude.
type PlatformFormatter struct {
	tokens *TokenCounter
}

// NewPlatformFormatter creates a PlatformFormatter.
func NewPlatformFormatter(tokens *TokenCounter) *PlatformFormatter {
	return &PlatformFormatter{tokens: tokens}
}

// Format renders synth for the given platform.
func (f *PlatformFormatter) Format(synth *models.SynthesizedContext, platform models.TargetPlatform) string {
	switch platform {
	case models.PlatformClaude:
		return f.formatClaude(synth)
	default:
		return f.formatChatGPT(synth)
	}
}

func (f *PlatformFormatter) formatChatGPT(synth *models.SynthesizedContext) string {
	var sb strings.Builder
	sb.WriteString("## Project Context\n")
	fmt.Fprintf(&sb, "_%d source(s) · %d tokens_\n", synth.SourceCount, synth.TotalTokenCount)

	for _, section := range models.SectionOrder {
		blocks := blocksInSection(synth, section)
		if len(blocks) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n### %s\n", section)
		for _, block := range blocks {
			sb.WriteString("\n")
			sb.WriteString(strings.TrimRight(block.Content, "\n"))
			sb.WriteString("\n")
			if names := sourceNames(block); names != "" {
				fmt.Fprintf(&sb, "_Sources: %s_\n", names)
			}
			for _, c := range block.Contradictions {
				fmt.Fprintf(&sb, "> **Note:** conflicting values found — %q vs %q\n", c.Claim, c.Alternative)
			}
		}
	}

	if synth.ContradictionCount > 0 {
		fmt.Fprintf(&sb, "\n_%d contradiction(s) detected across sources._\n", synth.ContradictionCount)
	}
	return sb.String()
}

func (f *PlatformFormatter) formatClaude(synth *models.SynthesizedContext) string {
	var sb strings.Builder
	sb.WriteString("<project_docs>\n")

	for _, section := range models.SectionOrder {
		if section == models.SectionRelatedResources {
			continue
		}
		blocks := blocksInSection(synth, section)
		if len(blocks) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "  <section name=%q>\n", section)
		for _, block := range blocks {
			sb.WriteString("    <document>\n")
			fmt.Fprintf(&sb, "      <source>%s</source>\n", xmlEscaper.Replace(sourceNames(block)))
			if url := firstSourceURL(block); url != "" {
				fmt.Fprintf(&sb, "      <url>%s</url>\n", xmlEscaper.Replace(url))
			}
			fmt.Fprintf(&sb, "      <relevance>%s</relevance>\n", relevanceBucket(block.Priority))
			fmt.Fprintf(&sb, "      <content>%s</content>\n", xmlEscaper.Replace(block.Content))
			for _, c := range block.Contradictions {
				fmt.Fprintf(&sb, "      <warning>conflicting values: %s vs %s</warning>\n",
					xmlEscaper.Replace(c.Claim), xmlEscaper.Replace(c.Alternative))
			}
			sb.WriteString("    </document>\n")
		}
		sb.WriteString("  </section>\n")
	}
	sb.WriteString("</project_docs>\n")

	webBlocks := blocksInSection(synth, models.SectionRelatedResources)
	if len(webBlocks) > 0 {
		sb.WriteString("<web_research>\n")
		for _, block := range webBlocks {
			sb.WriteString("  <result>\n")
			title := ""
			if len(block.Sources) > 0 {
				title = block.Sources[0].Title
			}
			fmt.Fprintf(&sb, "    <title>%s</title>\n", xmlEscaper.Replace(title))
			if url := firstSourceURL(block); url != "" {
				fmt.Fprintf(&sb, "    <url>%s</url>\n", xmlEscaper.Replace(url))
			}
			fmt.Fprintf(&sb, "    <content>%s</content>\n", xmlEscaper.Replace(block.Content))
			sb.WriteString("  </result>\n")
		}
		sb.WriteString("</web_research>\n")
	}

	sb.WriteString("<task_analysis>\n")
	fmt.Fprintf(&sb, "  <total_sources>%d</total_sources>\n", synth.SourceCount)
	fmt.Fprintf(&sb, "  <total_tokens>%d</total_tokens>\n", synth.TotalTokenCount)
	fmt.Fprintf(&sb, "  <sections>%s</sections>\n", xmlEscaper.Replace(strings.Join(synth.Sections, ", ")))
	if synth.ContradictionCount > 0 {
		fmt.Fprintf(&sb, "  <contradictions_detected>%d</contradictions_detected>\n", synth.ContradictionCount)
	}
	sb.WriteString("</task_analysis>\n")

	return sb.String()
}

// ExtractSections returns per-section stats independent of the rendered
// text, for the response payload.
func (f *PlatformFormatter) ExtractSections(synth *models.SynthesizedContext) []models.SectionStat {
	var stats []models.SectionStat
	for _, section := range models.SectionOrder {
		blocks := blocksInSection(synth, section)
		if len(blocks) == 0 {
			continue
		}

		var parts []string
		sources := make(map[string]bool)
		for _, block := range blocks {
			parts = append(parts, block.Content)
			for _, src := range block.Sources {
				sources[src.SourceID] = true
			}
		}
		content := strings.Join(parts, "\n\n")
		stats = append(stats, models.SectionStat{
			Name:        section,
			Content:     content,
			TokenCount:  f.tokens.Estimate(content),
			SourceCount: len(sources),
		})
	}
	return stats
}

func blocksInSection(synth *models.SynthesizedContext, section string) []models.SynthesizedBlock {
	var out []models.SynthesizedBlock
	for _, block := range synth.Blocks {
		if block.Section == section {
			out = append(out, block)
		}
	}
	return out
}

func sourceNames(block models.SynthesizedBlock) string {
	seen := make(map[string]bool)
	var names []string
	for _, src := range block.Sources {
		if src.Title != "" && !seen[src.Title] {
			seen[src.Title] = true
			names = append(names, src.Title)
		}
	}
	return strings.Join(names, ", ")
}

func firstSourceURL(block models.SynthesizedBlock) string {
	for _, src := range block.Sources {
		if src.URL != "" {
			return src.URL
		}
	}
	return ""
}

func relevanceBucket(priority float64) string {
	switch {
	case priority >= 0.7:
		return "high"
	case priority >= 0.4:
		return "medium"
	default:
		return "low"
	}
}
