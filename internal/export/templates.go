package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"
)

// SafeHTML is a template function that marks a string as safe HTML
func SafeHTML(s interface{}) template.HTML {
	switch v := s.(type) {
	case string:
		return template.HTML(v)
	case template.HTML:
		return v
	default:
		return template.HTML("")
	}
}

var documentTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"safeHTML": SafeHTML,
	}

	documentTemplate = template.Must(template.New("document").Funcs(funcMap).Parse(documentTemplateHTML))
}

// TemplateData holds data for document template rendering
type TemplateData struct {
	Title        string
	DocumentType string
	CTDSection   string
	Summary      string
	Status       string
	Version      int
	BodyHTML     template.HTML
	Author       string
	UpdatedAt    time.Time
	Comments     []TemplateComment
	Verification *TemplateVerification
}

// TemplateComment holds comment data for the export appendix
type TemplateComment struct {
	Author    string
	Body      string
	CreatedAt time.Time
}

// TemplateVerification holds the ledger record printed on the cover page
type TemplateVerification struct {
	Hash          string
	TransactionID string
	BlockNumber   int64
	CreatedAt     time.Time
}

// RenderDocumentHTML renders the document template with provided data
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// bodySection is the structured rich-content shape stored in the vault.
type bodySection struct {
	Heading string `json:"heading"`
	Text    string `json:"text"`
}

// BodyToHTML converts the stored body JSON into escaped HTML. The body is
// either {"sections": [...]} or a bare section array; anything else renders
// as preformatted text so no draft is ever silently dropped from an export.
func BodyToHTML(raw json.RawMessage) template.HTML {
	if len(raw) == 0 {
		return ""
	}

	sections := decodeSections(raw)
	if sections == nil {
		var plain string
		if err := json.Unmarshal(raw, &plain); err == nil {
			return template.HTML("<pre>" + template.HTMLEscapeString(plain) + "</pre>")
		}
		return template.HTML("<pre>" + template.HTMLEscapeString(string(raw)) + "</pre>")
	}

	var buf bytes.Buffer
	for _, section := range sections {
		if section.Heading != "" {
			fmt.Fprintf(&buf, "<h2>%s</h2>\n", template.HTMLEscapeString(section.Heading))
		}
		for _, para := range strings.Split(section.Text, "\n\n") {
			para = strings.TrimSpace(para)
			if para == "" {
				continue
			}
			fmt.Fprintf(&buf, "<p>%s</p>\n", template.HTMLEscapeString(para))
		}
	}
	return template.HTML(buf.String())
}

func decodeSections(raw json.RawMessage) []bodySection {
	var wrapped struct {
		Sections []bodySection `json:"sections"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Sections) > 0 {
		return wrapped.Sections
	}

	var bare []bodySection
	if err := json.Unmarshal(raw, &bare); err == nil && len(bare) > 0 {
		return bare
	}
	return nil
}

const documentTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, 'Times New Roman', serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #0b6e4f; padding-bottom: 0.5rem; }
    h2 { margin-top: 1.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .meta td { padding: 2px 12px 2px 0; }
    .summary { background: #f4f8f6; padding: 1rem; border-left: 3px solid #0b6e4f; margin: 1rem 0; }
    .verification { font-family: monospace; font-size: 0.8em; background: #f5f5f5; padding: 0.75rem; margin: 1.5rem 0; }
    .comment { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #999; }
    .comment .who { color: #666; font-size: 0.85em; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <table class="meta">
    <tr><td>Document type</td><td>{{.DocumentType}}</td></tr>
    {{if .CTDSection}}<tr><td>CTD section</td><td>{{.CTDSection}}</td></tr>{{end}}
    <tr><td>Status</td><td>{{.Status}}</td></tr>
    <tr><td>Version</td><td>{{.Version}}</td></tr>
    <tr><td>Last updated</td><td>{{.Author}} on {{formatDate .UpdatedAt "Jan 2, 2006"}}</td></tr>
  </table>
  {{if .Verification}}
  <div class="verification">
    <div>Content hash: {{.Verification.Hash}}</div>
    <div>Transaction: {{.Verification.TransactionID}} (block {{.Verification.BlockNumber}})</div>
    <div>Recorded: {{formatDate .Verification.CreatedAt "Jan 2, 2006 15:04 MST"}}</div>
  </div>
  {{end}}
  {{if .Summary}}<div class="summary">{{.Summary}}</div>{{end}}
  <div>{{.BodyHTML | safeHTML}}</div>
  {{if .Comments}}
  <h2>Review comments</h2>
  {{range .Comments}}
  <div class="comment">
    <div class="who">{{.Author}} on {{formatDate .CreatedAt "Jan 2, 2006"}}</div>
    <div>{{.Body}}</div>
  </div>
  {{end}}
  {{end}}
</body>
</html>`
