package rendering

import (
	"bytes"
	"embed"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/jonathan/docpipeline/internal/ingestion"
)

//go:embed templates/report.tex.tmpl
var templateFS embed.FS

// MaxTableRows is how many data rows of a CSV table are rendered
const MaxTableRows = 5

// FigureWidth is the default \includegraphics width
const FigureWidth = `0.8\textwidth`

// Document is everything the report template needs
type Document struct {
	Title    string
	Author   string
	Date     string
	Sections []Section
	Tables   []Table
	Figures  []Figure
}

// Section is a titled block of LaTeX body text
type Section struct {
	Title string
	// Body is already LaTeX
	Body string
}

// Table is a CSV table reduced to its header and leading rows
type Table struct {
	Path    string
	Caption string
	Header  []string
	Rows    [][]string
	// Total is the number of data rows in the source
	Total int
}

// ColumnSpec right-aligns numeric columns
func (t Table) ColumnSpec() string {
	var b strings.Builder
	for col := range t.Header {
		if t.numeric(col) {
			b.WriteByte('r')
		} else {
			b.WriteByte('l')
		}
	}
	return b.String()
}

func (t Table) numeric(col int) bool {
	if len(t.Rows) == 0 {
		return false
	}
	for _, row := range t.Rows {
		if col >= len(row) {
			return false
		}
		if _, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(row[col]), "%"), 64); err != nil {
			return false
		}
	}
	return true
}

// Figure is an image included from the document's directory
type Figure struct {
	Path    string
	Caption string
	Width   string
}

// BuildDocument assembles a Document from a content file set: sections/*.md in
// section order, tables/*.csv and figures/*.
func BuildDocument(files map[string][]byte, title, author string) (*Document, error) {
	doc := &Document{Title: title, Author: author}

	var sectionPaths, tablePaths, figurePaths []string
	for p := range files {
		switch {
		case strings.HasPrefix(p, ingestion.SectionsDir):
			sectionPaths = append(sectionPaths, p)
		case strings.HasPrefix(p, ingestion.TablesDir) && strings.HasSuffix(p, ".csv"):
			tablePaths = append(tablePaths, p)
		case strings.HasPrefix(p, ingestion.FiguresDir):
			figurePaths = append(figurePaths, p)
		}
	}
	sort.Strings(tablePaths)
	sort.Strings(figurePaths)

	for _, p := range ingestion.OrderSections(sectionPaths) {
		doc.Sections = append(doc.Sections, Section{
			Title: ingestion.SectionTitle(p, files[p]),
			Body:  MarkdownToLaTeX(ingestion.SectionBody(files[p])),
		})
	}
	for _, p := range tablePaths {
		table, err := ParseTable(p, files[p])
		if err != nil {
			return nil, err
		}
		if len(table.Header) > 0 {
			doc.Tables = append(doc.Tables, *table)
		}
	}
	for _, p := range figurePaths {
		doc.Figures = append(doc.Figures, Figure{Path: p, Caption: ingestion.FigureCaption(p), Width: FigureWidth})
	}
	return doc, nil
}

// ParseTable reads a CSV file keeping the header and the first MaxTableRows rows.
// The caption notes when rows were dropped.
func ParseTable(path string, data []byte) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, &RenderError{Path: path, Message: "invalid CSV", Cause: err}
	}

	table := &Table{Path: path, Caption: ingestion.TitleCase(ingestion.Stem(path))}
	if len(records) == 0 {
		return table, nil
	}
	table.Header = records[0]
	data := records[1:]
	table.Total = len(data)
	if len(data) > MaxTableRows {
		data = data[:MaxTableRows]
		table.Caption = fmt.Sprintf("%s (first %d of %d rows)", table.Caption, MaxTableRows, table.Total)
	}
	// pad or cut rows to the header width so the tabular stays aligned
	for _, row := range data {
		fixed := make([]string, len(table.Header))
		copy(fixed, row)
		table.Rows = append(table.Rows, fixed)
	}
	return table, nil
}

// Render executes the report template. An empty templatePath uses the embedded template.
func Render(doc *Document, templatePath string) (string, error) {
	tmpl, err := parseTemplate(templatePath)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, doc); err != nil {
		return "", &TemplateError{Message: "failed to execute template", Cause: err}
	}
	return out.String(), nil
}

// RenderFiles builds and renders a document from a content file set
func RenderFiles(files map[string][]byte, title, author string) (string, error) {
	doc, err := BuildDocument(files, title, author)
	if err != nil {
		return "", err
	}
	return Render(doc, "")
}

// parseTemplate reads a LaTeX template. Templates use << >> delimiters so LaTeX braces need no quoting.
func parseTemplate(templatePath string) (*template.Template, error) {
	var content []byte
	var err error
	if templatePath == "" {
		content, err = templateFS.ReadFile("templates/report.tex.tmpl")
	} else {
		content, err = os.ReadFile(templatePath)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &TemplateError{Message: fmt.Sprintf("template file not found: %s", templatePath), Cause: err}
		}
		return nil, &TemplateError{Message: fmt.Sprintf("failed to read template file: %s", templatePath), Cause: err}
	}

	tmpl, err := template.New("report").Delims("<<", ">>").Funcs(template.FuncMap{
		"escape": EscapeLaTeX,
		"row":    tableRow,
	}).Parse(string(content))
	if err != nil {
		return nil, &TemplateError{Message: "failed to parse template", Cause: err}
	}
	return tmpl, nil
}

func tableRow(cells []string) string {
	escaped := make([]string, len(cells))
	for i, c := range cells {
		escaped[i] = EscapeLaTeX(strings.TrimSpace(c))
	}
	return strings.Join(escaped, " & ")
}
