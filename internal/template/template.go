package template

import "strings"

// Render substitutes {{name}} placeholders in an SMS body with the
// recipient's values. Unknown placeholders are left untouched so a
// half-filled template is visible instead of silently blank.
func Render(body string, values map[string]string) string {
	if len(values) == 0 || !strings.Contains(body, "{{") {
		return body
	}

	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(body)
}
