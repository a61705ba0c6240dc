package notifier

import (
	"bytes"
	"fmt"
	"html/template"
)

type emailData struct {
	ProductName string
	URL         string
	ImageURL    string
	OldPrice    string
	NewPrice    string
	Delta       string
	DeltaPct    float64
	Emoji       string
	TargetHit   bool
	TargetPrice string
	Advice      string
}

var dropTemplate = template.Must(template.New("drop").Parse(`<!DOCTYPE html>
<html>
<body style="font-family:'Segoe UI',Arial,sans-serif;background:#f4f6f8;margin:0;padding:20px;">
  <div style="max-width:600px;margin:0 auto;background:#fff;border-radius:12px;overflow:hidden;">
    <div style="background:#4f46e5;padding:24px;text-align:center;">
      <h1 style="color:#fff;margin:0;font-size:22px;">{{.Emoji}} Price Drop Alert!</h1>
    </div>
    <div style="padding:24px;">
      {{if .TargetHit}}<p style="font-size:16px;">Your target price of <strong>{{.TargetPrice}}</strong> has been reached.</p>
      {{else}}<p style="font-size:16px;">An item you're tracking just dropped in price.</p>{{end}}
      <h2 style="font-size:18px;">{{.ProductName}}</h2>
      {{if .ImageURL}}<img src="{{.ImageURL}}" alt="" style="max-width:200px;">{{end}}
      <table style="width:100%;border-collapse:collapse;">
        {{if .OldPrice}}<tr><td>Old Price</td><td style="text-align:right;"><del>{{.OldPrice}}</del></td></tr>{{end}}
        <tr><td>New Price</td><td style="text-align:right;font-size:20px;font-weight:bold;color:#16a34a;">{{.NewPrice}}</td></tr>
        {{if .Delta}}<tr><td><strong>You Save</strong></td><td style="text-align:right;">{{.Delta}} ({{printf "%.1f" .DeltaPct}}% off)</td></tr>{{end}}
      </table>
      {{if .Advice}}<p style="color:#6b7280;">{{.Advice}}</p>{{end}}
      <p style="text-align:center;margin:24px 0;"><a href="{{.URL}}" style="background:#4f46e5;color:#fff;padding:12px 30px;text-decoration:none;border-radius:8px;">Buy Now</a></p>
    </div>
    <div style="background:#f8f9fa;padding:12px;text-align:center;font-size:12px;color:#6b7280;">
      You received this because you're tracking this product.
    </div>
  </div>
</body>
</html>`))

var riseTemplate = template.Must(template.New("rise").Parse(`<!DOCTYPE html>
<html>
<body style="font-family:'Segoe UI',Arial,sans-serif;background:#f4f6f8;margin:0;padding:20px;">
  <div style="max-width:600px;margin:0 auto;background:#fff;border-radius:12px;overflow:hidden;">
    <div style="background:#dc2626;padding:24px;text-align:center;">
      <h1 style="color:#fff;margin:0;font-size:22px;">📈 Price Increase Alert</h1>
    </div>
    <div style="padding:24px;">
      <h2 style="font-size:18px;">{{.ProductName}}</h2>
      <table style="width:100%;border-collapse:collapse;">
        <tr><td>Old Price</td><td style="text-align:right;">{{.OldPrice}}</td></tr>
        <tr><td>New Price</td><td style="text-align:right;font-weight:bold;color:#dc2626;">{{.NewPrice}}</td></tr>
        <tr><td>Change</td><td style="text-align:right;">+{{.Delta}} ({{printf "%.1f" .DeltaPct}}%)</td></tr>
      </table>
      {{if .Advice}}<p style="color:#6b7280;">{{.Advice}}</p>{{end}}
      <p style="text-align:center;margin:24px 0;"><a href="{{.URL}}">View product</a></p>
    </div>
  </div>
</body>
</html>`))

func renderTemplate(tmpl *template.Template, data emailData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s email: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
