package dispatch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rendis/tabflow/pkg/schema"
	"gopkg.in/yaml.v3"
)

// Report formats.
const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatYAML     = "yaml"
)

// reportDoc is the serialized shape of json and yaml reports.
type reportDoc struct {
	Title       string         `json:"title" yaml:"title"`
	GeneratedAt time.Time      `json:"generated_at" yaml:"generated_at"`
	Steps       []reportStep   `json:"steps" yaml:"steps"`
	Summary     map[string]int `json:"summary" yaml:"summary"`
}

type reportStep struct {
	ID      string         `json:"id" yaml:"id"`
	Status  string         `json:"status" yaml:"status"`
	Payload map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
	Error   string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// Reporter renders prior step results into a document.
type Reporter struct {
	now func() time.Time
}

func NewReporter() *Reporter {
	return &Reporter{now: func() time.Time { return time.Now().UTC() }}
}

// Render builds a report over prior. Params: format (markdown|json|yaml,
// default markdown), title, include (step ids; default every prior step).
func (r *Reporter) Render(params map[string]any, prior map[string]*schema.StepResult) (map[string]any, error) {
	format := strings.ToLower(stringParam(params, "format", FormatMarkdown))
	doc := reportDoc{
		Title:       stringParam(params, "title", "Workflow report"),
		GeneratedAt: r.now(),
		Summary:     map[string]int{"completed": 0, "failed": 0},
	}

	ids := stringsParam(params, "include")
	if len(ids) == 0 {
		for id := range prior {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}
	for _, id := range ids {
		res, ok := prior[id]
		if !ok || res == nil {
			continue
		}
		step := reportStep{ID: id, Status: string(res.Status), Payload: res.Payload}
		if res.Error != nil {
			step.Error = res.Error.Error()
		}
		doc.Steps = append(doc.Steps, step)
		doc.Summary[string(res.Status)]++
	}

	var content string
	switch format {
	case FormatMarkdown, "md":
		format = FormatMarkdown
		content = renderMarkdown(doc)
	case FormatJSON:
		raw, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeHandler, "report: encode json").WithCause(err)
		}
		content = string(raw)
	case FormatYAML, "yml":
		format = FormatYAML
		raw, err := yaml.Marshal(doc)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeHandler, "report: encode yaml").WithCause(err)
		}
		content = string(raw)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "report: unsupported format %q", format)
	}
	return map[string]any{"format": format, "content": content, "steps": len(doc.Steps)}, nil
}

func renderMarkdown(doc reportDoc) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", doc.Title)
	fmt.Fprintf(&b, "_Generated %s: %d completed, %d failed._\n",
		doc.GeneratedAt.Format(time.RFC3339), doc.Summary["completed"], doc.Summary["failed"])
	for _, s := range doc.Steps {
		fmt.Fprintf(&b, "\n## %s (%s)\n\n", s.ID, s.Status)
		if s.Error != "" {
			fmt.Fprintf(&b, "**Error:** %s\n\n", s.Error)
		}
		keys := make([]string, 0, len(s.Payload))
		for k := range s.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- **%s**: %s\n", k, markdownValue(s.Payload[k]))
		}
	}
	return b.String()
}

func markdownValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return "_none_"
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return "`" + string(raw) + "`"
	}
}
