package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/marketdata"
)

const placeholder = "-"

var dailyTemplate = template.Must(template.New("daily_report.html").Funcs(template.FuncMap{
	"currency": formatCurrency,
	"percent":  formatPercent,
	"number":   formatNumber,
	"passed":   formatPassed,
}).Parse(dailyHTML))

// SaveDailyReport writes daily_report.json and daily_report.html and records their paths
func (w *Writer) SaveDailyReport(_ context.Context, rep *contracts.DailyReport) error {
	var html bytes.Buffer
	if err := dailyTemplate.Execute(&html, rep); err != nil {
		return fmt.Errorf("render daily report: %w", err)
	}

	asOf, err := marketdata.ParseDate(rep.AsOf)
	if err != nil {
		return fmt.Errorf("daily report date: %w", err)
	}
	jsonPath := w.DatePath(asOf, contracts.FileDailyReportJSON)
	htmlPath := w.DatePath(asOf, contracts.FileDailyReportHTML)

	if err := writeFile(htmlPath, html.Bytes()); err != nil {
		return err
	}
	if err := writeJSON(jsonPath, rep); err != nil {
		return err
	}
	rep.JSONPath = jsonPath
	rep.HTMLPath = htmlPath
	w.written("daily_report", jsonPath)
	return nil
}

// formatCurrency accepts float64 or *float64
func formatCurrency(v interface{}, ccy string) string {
	f, ok := floatValue(v)
	if !ok {
		return placeholder
	}
	return fmt.Sprintf("%s %s", ccy, groupThousands(f))
}

func formatPercent(v interface{}) string {
	f, ok := floatValue(v)
	if !ok {
		return placeholder
	}
	return fmt.Sprintf("%.2f%%", f*100)
}

func formatNumber(v interface{}) string {
	f, ok := floatValue(v)
	if !ok {
		return placeholder
	}
	return fmt.Sprintf("%.4f", f)
}

func formatPassed(v *bool) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%t", *v)
}

func floatValue(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case *float64:
		if x == nil {
			return 0, false
		}
		return *x, true
	default:
		return 0, false
	}
}

// groupThousands formats with two decimals and comma separators
func groupThousands(f float64) string {
	s := fmt.Sprintf("%.2f", f)
	sign := ""
	if s[0] == '-' {
		sign, s = "-", s[1:]
	}
	intPart, frac := s[:len(s)-3], s[len(s)-3:]
	var out []byte
	for i := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, intPart[i])
	}
	return sign + string(out) + frac
}

const dailyHTML = `<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <title>Daily Report - {{.AsOf}}</title>
    <style>
      body { font-family: Arial, sans-serif; margin: 1.5rem; color: #222; }
      h1, h2, h3 { color: #0b3d91; }
      table { border-collapse: collapse; width: 100%; margin-bottom: 1.5rem; }
      th, td { border: 1px solid #ddd; padding: 0.5rem; text-align: left; }
      th { background-color: #f5f5f5; }
      .muted { color: #666; }
      .tag { display: inline-block; padding: 0.2rem 0.4rem; border-radius: 0.3rem; font-size: 0.85rem; }
      .tag.on { background-color: #e0f7ec; color: #137333; }
      .tag.off { background-color: #fdecea; color: #b00020; }
      .notes { margin-top: 1rem; font-size: 0.9rem; }
    </style>
  </head>
  <body>
    <header>
      <h1>Daily Operations Report</h1>
      <p class="muted">As of {{.AsOf}} | generated at {{.GeneratedAt.Format "2006-01-02T15:04:05Z07:00"}} ({{.BaseCurrency}} base)</p>
    </header>
{{$ccy := .BaseCurrency}}
    <section>
      <h2>Portfolio Snapshot</h2>
      <p>Total value: <strong>{{currency .Portfolio.Value $ccy}}</strong> | Cash: {{currency .Portfolio.Cash $ccy}} | Invested: {{currency .Portfolio.Invested $ccy}}</p>
      <table>
        <thead>
          <tr><th>Symbol</th><th>Quantity</th><th>Price</th><th>Value</th><th>Weight</th><th>Cost Basis</th><th>Unrealized</th><th>Return</th><th>20d Return</th></tr>
        </thead>
        <tbody>
{{- range .Portfolio.Positions}}
          <tr>
            <td>{{.Symbol}}</td>
            <td>{{number .Quantity}}</td>
            <td>{{currency .Price $ccy}}</td>
            <td>{{currency .Value $ccy}}</td>
            <td>{{percent .Weight}}</td>
            <td>{{currency .CostBasis $ccy}}</td>
            <td>{{currency .Unrealized $ccy}}</td>
            <td>{{percent .UnrealizedPct}}</td>
            <td>{{percent .Ret20D}}</td>
          </tr>
{{- else}}
          <tr><td colspan="9" class="muted">No open positions.</td></tr>
{{- end}}
        </tbody>
      </table>
    </section>

    <section>
      <h2>Risk Summary</h2>
{{- with .Risk}}
      <p>Market state: <span class="tag {{if eq .MarketState "RISK_ON"}}on{{else}}off{{end}}">{{.MarketState}}</span></p>
{{- if .Benchmark}}
      <p class="muted">Benchmark {{.Benchmark}} rule: {{if .Rule}}{{.Rule}}{{else}}n/a{{end}} | Passed: {{passed .Passed}}</p>
{{- end}}
      <table>
        <thead>
          <tr><th>Symbol</th><th>Type</th><th>Value</th><th>Threshold</th><th>Reason</th></tr>
        </thead>
        <tbody>
{{- range .Alerts}}
          <tr><td>{{.Symbol}}</td><td>{{.Type}}</td><td>{{number .Value}}</td><td>{{number .Threshold}}</td><td>{{.Reason}}</td></tr>
{{- else}}
          <tr><td colspan="5" class="muted">No alerts triggered.</td></tr>
{{- end}}
        </tbody>
      </table>
{{- else}}
      <p class="muted">Risk evaluation artifact not available.</p>
{{- end}}
    </section>

    <section>
      <h2>Actions &amp; Orders</h2>
{{- if .Actions.Orders}}
      <table>
        <thead>
          <tr><th>Symbol</th><th>Side</th><th>Quantity</th><th>Notional</th></tr>
        </thead>
        <tbody>
{{- range .Actions.Orders}}
          <tr><td>{{.Symbol}}</td><td>{{.Side}}</td><td>{{number .Quantity}}</td><td>{{currency .Notional $ccy}}</td></tr>
{{- end}}
        </tbody>
      </table>
{{- else}}
      <p class="muted">No orders generated.</p>
{{- end}}
{{- if .Actions.Exits}}
      <p>Exit recommendations: {{range $i, $s := .Actions.Exits}}{{if $i}}, {{end}}{{$s}}{{end}}</p>
{{- end}}
      <p class="muted">Proposal status: {{.Actions.Status}} | Turnover: {{percent .Actions.Turnover}}</p>
    </section>

    <section>
      <h2>Signals Overview</h2>
{{- if .Signals}}
      <table>
        <thead>
          <tr><th>Symbol</th><th>Signal</th><th>Rank Score</th></tr>
        </thead>
        <tbody>
{{- range .Signals}}
          <tr><td>{{.Symbol}}</td><td>{{.Signal}}</td><td>{{number .RankScore}}</td></tr>
{{- end}}
        </tbody>
      </table>
{{- else}}
      <p class="muted">No signal artifacts were provided.</p>
{{- end}}
    </section>

    <section>
      <h2>Performance Metrics</h2>
      <table>
        <tbody>
          <tr><th>63d Sharpe</th><td>{{number .Performance.Sharpe63D}}</td></tr>
          <tr><th>20d Portfolio Return</th><td>{{percent .Performance.Return20D}}</td></tr>
          <tr><th>Holdings Count</th><td>{{len .Portfolio.Positions}}</td></tr>
        </tbody>
      </table>
    </section>

    <section>
      <h2>Artifact Manifest</h2>
      <table>
        <thead>
          <tr><th>Artifact</th><th>Path</th><th>SHA256</th></tr>
        </thead>
        <tbody>
{{- range $name, $entry := .Manifest}}
          <tr><td>{{$name}}</td><td>{{$entry.Path}}</td><td>{{if $entry.SHA256}}{{$entry.SHA256}}{{else}}-{{end}}</td></tr>
{{- end}}
        </tbody>
      </table>
    </section>
{{- if .Notes}}

    <section class="notes">
      <h2>Notes</h2>
      <ul>
{{- range .Notes}}
        <li>{{.}}</li>
{{- end}}
      </ul>
    </section>
{{- end}}
  </body>
</html>
`
