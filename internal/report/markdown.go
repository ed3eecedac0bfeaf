package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"beaconrig/domain/metrics"
	"beaconrig/internal/reconstruct"
)

type column struct{ name, title string }

// headline metrics shown in the Markdown summary
func headline(r *metrics.Report) []column {
	cols := []column{
		{reconstruct.MetricPDRUnique, "PDR unique"},
		{reconstruct.MetricPDRRaw, "PDR raw"},
	}
	for _, tau := range r.Taus {
		cols = append(cols, column{reconstruct.PoutName(tau), fmt.Sprintf("Pout(%gs)", tau)})
	}
	cols = append(cols,
		column{reconstruct.MetricTLMean, "TL mean (s)"},
		column{reconstruct.MetricTLP95, "TL p95 (s)"},
		column{reconstruct.MetricAvgPower, "avg power (mW)"},
		column{reconstruct.MetricEnergyPerTx, "energy/tx (µJ)"},
	)
	for _, iv := range r.Intervals {
		cols = append(cols, column{reconstruct.ShareTimeName(iv), fmt.Sprintf("share %d ms (time)", iv)})
	}
	return cols
}

// Markdown renders the per-condition summary, exclusions and warnings
func Markdown(r *metrics.Report) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# Reconstruction summary\n\nRun `%s`: %d trials, %d exclusions.\n\n", r.RunID, len(r.Trials), len(r.Exclusions))

	cols := headline(r)
	b.WriteString("| condition | n |")
	for _, c := range cols {
		b.WriteString(" " + c.title + " |")
	}
	b.WriteString("\n|---|---|" + strings.Repeat("---|", len(cols)) + "\n")
	for _, s := range r.Summaries {
		name := s.Condition
		if s.LowConfidence {
			name += " *"
		}
		fmt.Fprintf(&b, "| %s | %d |", name, s.Trials)
		for _, c := range cols {
			b.WriteString(" " + meanStd(s.Metric(c.name)) + " |")
		}
		b.WriteString("\n")
	}
	b.WriteString("\n\\* low confidence: fewer than two trials.\n\n")
	b.WriteString("Values are mean ± sample std over repeats; undefined values reduce n and are never imputed.\n")

	if len(r.Exclusions) > 0 {
		b.WriteString("\n## Exclusions\n\n| source | node | kind | reason |\n|---|---|---|---|\n")
		for _, e := range r.Exclusions {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", e.Source, e.Node, e.Kind, escapePipes(e.Reason))
		}
	}
	if len(r.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range r.Warnings {
			b.WriteString("- " + w + "\n")
		}
	}
	return b.Bytes()
}

func meanStd(st metrics.MetricStat) string {
	if st.Mean == nil {
		return "n/a"
	}
	if st.Std == nil {
		return fmt.Sprintf("%.4g (n=%d)", *st.Mean, st.N)
	}
	return fmt.Sprintf("%.4g ± %.3g (n=%d)", *st.Mean, *st.Std, st.N)
}

func escapePipes(s string) string { return strings.ReplaceAll(s, "|", "\\|") }

// HTML renders Markdown as a standalone page
func HTML(md []byte, title string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.Tables)
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
		Title: title,
	})
	return markdown.ToHTML(md, p, renderer)
}
