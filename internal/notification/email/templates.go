package email

import (
	"bytes"
	"fmt"
	"html/template"
)

const baseTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2933; margin: 0; padding: 24px;">
  <div style="max-width: 560px; margin: 0 auto;">
    <h2 style="color: #102a43;">{{.Heading}}</h2>
    <p>{{.Body}}</p>
    {{if .CTAURL}}<p style="margin-top: 24px;">
      <a href="{{.CTAURL}}" style="background: #2563eb; color: #ffffff; padding: 12px 20px; border-radius: 6px; text-decoration: none;">{{.CTALabel}}</a>
    </p>{{end}}
    <p style="color: #829ab1; font-size: 12px; margin-top: 32px;">You are receiving this email because of activity on your marketplace account.</p>
  </div>
</body>
</html>`

var emailTemplate = template.Must(template.New("email").Parse(baseTemplate))

type emailData struct {
	Heading  string
	Body     string
	CTALabel string
	CTAURL   string
}

func renderEmail(data emailData) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render email template: %w", err)
	}
	return buf.String(), nil
}
