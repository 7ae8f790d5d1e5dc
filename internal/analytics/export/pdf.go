package export

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/odyssey-pos/internal/analytics"
	"github.com/odyssey-erp/odyssey-pos/internal/ledger"
)

//go:embed templates/report.html
var templates embed.FS

// PDFExporter wraps Gotenberg interactions for analytics exports.
type PDFExporter struct {
	Endpoint string
	Client   *http.Client

	tpl *template.Template
}

type reportView struct {
	Title       string
	Period      string
	Timezone    string
	GeneratedAt string
	Score       int
	Chart       template.HTML
	Sections    []Section
}

// NewPDFExporter parses the report template and targets the Gotenberg endpoint.
func NewPDFExporter(endpoint string, client *http.Client) (*PDFExporter, error) {
	printer := message.NewPrinter(language.English)
	funcs := template.FuncMap{
		"cell": func(v any) string {
			switch val := v.(type) {
			case ledger.Money:
				return printer.Sprintf("%.2f", val.InexactFloat64())
			case percent:
				return printer.Sprintf("%.2f%%", float64(val))
			case int:
				return printer.Sprintf("%d", val)
			default:
				return plainText(v)
			}
		},
	}
	tpl, err := template.New("report.html").Funcs(funcs).ParseFS(templates, "templates/report.html")
	if err != nil {
		return nil, fmt.Errorf("export: parse pdf template: %w", err)
	}
	return &PDFExporter{Endpoint: endpoint, Client: client, tpl: tpl}, nil
}

// RenderHTML executes the report template for ds.
func (p *PDFExporter) RenderHTML(ds analytics.Dataset) (string, error) {
	if p == nil || p.tpl == nil {
		return "", fmt.Errorf("pdf exporter not initialised")
	}
	view := reportView{
		Title:       "Financial Analytics",
		Period:      ds.Query.DateFrom + " to " + ds.Query.DateTo,
		Timezone:    ds.Query.Timezone,
		GeneratedAt: ds.GeneratedAt.UTC().Format(time.RFC3339),
		Score:       ds.Health.Score,
		Chart:       flowChart(ds.Flow),
		Sections:    Sections(ds)[1:],
	}
	buf := &bytes.Buffer{}
	if err := p.tpl.Execute(buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Render builds the HTML report and converts it to PDF through Gotenberg.
func (p *PDFExporter) Render(ctx context.Context, ds analytics.Dataset) ([]byte, error) {
	html, err := p.RenderHTML(ds)
	if err != nil {
		return nil, err
	}
	return p.convert(ctx, html)
}

func (p *PDFExporter) convert(ctx context.Context, html string) ([]byte, error) {
	endpoint := strings.TrimRight(p.Endpoint, "/")
	if endpoint == "" {
		return nil, fmt.Errorf("gotenberg endpoint required")
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(part, html); err != nil {
		return nil, err
	}
	if err := writer.WriteField("printBackground", "true"); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/forms/chromium/convert/html", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("gotenberg response %d: %s", resp.StatusCode, string(data))
	}
	return io.ReadAll(resp.Body)
}
