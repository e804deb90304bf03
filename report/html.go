// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package report

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/arvados/bioassoc/enrich"
	"github.com/google/uuid"
)

// EnrichmentRow is one tested term with its adjusted p-value.
type EnrichmentRow struct {
	enrich.Result
	AdjP float64
}

// EnrichmentReport is the data rendered by WriteEnrichmentHTML.
type EnrichmentReport struct {
	RunID    string
	Created  time.Time
	Title    string
	Ontology string
	// Annotation snapshot provenance.
	Snapshot       string
	SnapshotDigest string
	Conditional    bool
	Cutoff         float64
	Adjust         string
	Selected       int
	Universe       int
	Unmapped       int
	Rows           []EnrichmentRow
}

// NewEnrichmentReport returns a report with a fresh run id.
func NewEnrichmentReport(title string) *EnrichmentReport {
	return &EnrichmentReport{
		RunID:   uuid.NewString(),
		Created: time.Now().UTC(),
		Title:   title,
	}
}

var enrichmentTemplate = template.Must(template.New("enrichment").Funcs(template.FuncMap{
	"pval": func(p float64) string { return fmt.Sprintf("%.3g", p) },
	"f2":   func(x float64) string { return fmt.Sprintf("%.2f", x) },
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 0.2em 0.6em; text-align: right; }
td.id, td.name { text-align: left; }
tr.sig { background: #fff3cd; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<table class="meta">
<tr><th>run</th><td>{{.RunID}}</td></tr>
<tr><th>created</th><td>{{.Created.Format "2006-01-02 15:04:05 MST"}}</td></tr>
<tr><th>ontology</th><td>{{.Ontology}}</td></tr>
<tr><th>annotation snapshot</th><td>{{.Snapshot}}</td></tr>
<tr><th>snapshot digest</th><td>{{.SnapshotDigest}}</td></tr>
<tr><th>test</th><td>{{if .Conditional}}conditional hypergeometric (cutoff {{.Cutoff}}){{else}}hypergeometric{{end}}</td></tr>
<tr><th>p-value adjustment</th><td>{{.Adjust}}</td></tr>
<tr><th>selected genes</th><td>{{.Selected}}</td></tr>
<tr><th>universe genes</th><td>{{.Universe}}</td></tr>
<tr><th>unmapped probes</th><td>{{.Unmapped}}</td></tr>
</table>
<h2>Terms</h2>
{{if .Rows}}
<table class="terms">
<tr><th>ID</th><th>Term</th><th>Size</th><th>Count</th><th>Expected</th><th>Odds ratio</th><th>P</th><th>Adj. P</th></tr>
{{range .Rows}}<tr{{if lt .PValue $.Cutoff}} class="sig"{{end}}><td class="id">{{.ID}}</td><td class="name">{{.Name}}</td><td>{{.Size}}</td><td>{{.Count}}</td><td>{{f2 .Expected}}</td><td>{{f2 .OddsRatio}}</td><td>{{pval .PValue}}</td><td>{{pval .AdjP}}</td></tr>
{{end}}</table>
{{else}}
<p>No terms tested.</p>
{{end}}
</body>
</html>
`))

// WriteEnrichmentHTML renders the report as a standalone HTML page.
func WriteEnrichmentHTML(w io.Writer, r *EnrichmentReport) error {
	return enrichmentTemplate.Execute(w, r)
}
