package dispatch

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/linnemanlabs/klaxon/internal/alert"
)

// placeholderRe matches {name} template placeholders.
var placeholderRe = regexp.MustCompile(`\{([a-zA-Z]+)\}`)

// Render substitutes named placeholders in a template from alert
// fields. An unresolved placeholder is an error: the attempt fails
// rather than sending a broken message.
func Render(template string, a *alert.Alert) (string, error) {
	vars := map[string]string{
		"subject":    a.SubjectID,
		"message":    a.Message,
		"severity":   strings.ToUpper(string(a.Severity)),
		"type":       string(a.Type),
		"amount":     a.RiskAmount.StringFixed(0),
		"autoAction": a.AutoAction,
	}

	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("render template: unresolved placeholder {%s}", strings.Join(missing, "}, {"))
	}
	return out, nil
}
