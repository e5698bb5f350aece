package notifier

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/cockroachdb/errors"

	"github.com/good-yellow-bee/blazereport/internal/content"
)

//go:embed templates/*
var templateFS embed.FS

// maxChatMessageSize bounds chat message bodies, tables included.
const maxChatMessageSize = 4000

// Templates holds parsed email templates.
type Templates struct {
	html  *htmltemplate.Template
	plain *template.Template
}

// TemplateData contains data for template rendering.
type TemplateData struct {
	Name        string
	Description string
	URL         string
	ErrorText   string
	Table       htmltemplate.HTML
	TableText   string
	ImageIDs    []string
	ExecutionID string
}

// LoadTemplates loads embedded email templates.
func LoadTemplates() (*Templates, error) {
	htmlTmpl, err := htmltemplate.ParseFS(templateFS, "templates/report.html")
	if err != nil {
		return nil, errors.Wrap(err, "parse html template")
	}
	plainTmpl, err := template.ParseFS(templateFS, "templates/report.txt")
	if err != nil {
		return nil, errors.Wrap(err, "parse plain template")
	}
	return &Templates{html: htmlTmpl, plain: plainTmpl}, nil
}

// RenderHTML renders the HTML email body.
func (t *Templates) RenderHTML(data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.html.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderPlain renders the plain text email body.
func (t *Templates) RenderPlain(data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.plain.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ContentToTemplateData converts content to template data.
func ContentToTemplateData(c *content.Content, imageIDs []string) *TemplateData {
	data := &TemplateData{
		Name:        c.Name,
		Description: c.Description,
		URL:         c.URL,
		ErrorText:   c.Text,
		ImageIDs:    imageIDs,
		ExecutionID: c.Header.ExecutionID,
	}
	if c.Table != nil {
		// Table.HTML escapes every cell.
		data.Table = htmltemplate.HTML(c.Table.HTML())
		data.TableText = c.Table.Text()
	}
	return data
}

// chatBody renders the markdown body used by Slack and Teams.
func chatBody(c *content.Content) string {
	var b strings.Builder
	b.WriteString("*" + c.Name + "*\n\n")
	if c.Description != "" {
		b.WriteString(c.Description + "\n\n")
	}
	if c.Text != "" {
		b.WriteString("Error: " + c.Text + "\n")
		return b.String()
	}
	b.WriteString("<" + c.URL + "|Explore in BlazeReport>\n")

	if c.Table != nil {
		head := b.String()
		table := "\n```\n" + c.Table.Text() + "\n```\n"
		if len(head)+len(table) > maxChatMessageSize {
			table = "\n```\n" + truncate(c.Table.Text(), maxChatMessageSize-len(head)-64) + "\n```\n(table was truncated)\n"
		}
		b.WriteString(table)
	}
	return b.String()
}

// truncate truncates a string to max bytes with ellipsis, keeping runes whole.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max < 3 {
		return "..."
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
