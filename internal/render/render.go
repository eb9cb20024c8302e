package render

import (
	"fmt"
	"strings"

	"github.com/flosch/pongo2/v6"
	"github.com/rotisserie/eris"

	"github.com/brightpath-advice/advicegen/internal/model"
)

// Render executes a document template against the flattened context and
// returns the final self-contained HTML. Template errors are fatal to the
// run: a template that cannot execute is a configuration defect, not
// something to degrade around.
func Render(tmpl *model.Template, ctx map[string]any) (string, error) {
	compiled, err := pongo2.FromString(tmpl.HTML)
	if err != nil {
		return "", eris.Wrapf(err, "render: compile template %s v%d", tmpl.DocType, tmpl.Version)
	}

	body, err := compiled.Execute(templateContext(ctx))
	if err != nil {
		return "", eris.Wrapf(err, "render: execute template %s v%d", tmpl.DocType, tmpl.Version)
	}

	if tmpl.CSS == "" {
		return body, nil
	}
	return injectCSS(body, tmpl.CSS), nil
}

// templateContext converts the flat map, marking narrative fragment values
// as safe so the engine's autoescaping does not mangle their markup. All
// other string values stay escaped.
func templateContext(ctx map[string]any) pongo2.Context {
	out := make(pongo2.Context, len(ctx))
	for k, v := range ctx {
		if s, ok := v.(string); ok && strings.HasSuffix(k, "_HTML") {
			out[k] = pongo2.AsSafeValue(s)
			continue
		}
		out[k] = v
	}
	return out
}

// injectCSS inlines the template stylesheet so the document is
// self-contained for PDF export.
func injectCSS(html, css string) string {
	style := fmt.Sprintf("<style>\n%s\n</style>", css)
	if idx := strings.Index(html, "</head>"); idx >= 0 {
		return html[:idx] + style + html[idx:]
	}
	return style + "\n" + html
}
