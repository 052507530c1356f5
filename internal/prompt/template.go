// Package prompt holds the instruction templates sent to the reasoning
// service, one per pipeline stage, with simple variable expansion.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	varRe    = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
)

const ifClose = "{{/if}}"

// Vars is a map of variable names to values for template rendering.
type Vars map[string]string

// Render expands a template. {{#if variable}}...{{/if}} blocks survive
// only when the variable is non-empty; then {{variable}} placeholders are
// substituted. Unresolved placeholders are an error naming every missing
// variable.
func Render(tmpl string, vars Vars) (string, error) {
	flat, err := resolveBlocks(tmpl, vars)
	if err != nil {
		return "", err
	}

	missing := make(map[string]bool)
	expanded := varRe.ReplaceAllStringFunc(flat, func(tag string) string {
		name := varRe.FindStringSubmatch(tag)[1]
		val, ok := vars[name]
		if !ok {
			missing[name] = true
			return tag
		}
		return val
	})
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return "", fmt.Errorf("missing template variables: %s", strings.Join(names, ", "))
	}
	return expanded, nil
}

// resolveBlocks evaluates conditionals in a single left-to-right pass.
// Each open tag pushes a buffer; the matching close tag decides whether
// the buffered body is appended to the enclosing level or dropped, so
// nesting falls out of the stack depth.
func resolveBlocks(tmpl string, vars Vars) (string, error) {
	bufs := []*strings.Builder{new(strings.Builder)}
	var conds []string

	rest := tmpl
	for {
		open := ifOpenRe.FindStringSubmatchIndex(rest)
		closeAt := strings.Index(rest, ifClose)

		if open == nil && closeAt < 0 {
			if len(conds) > 0 {
				return "", fmt.Errorf("unclosed conditional block: {{#if %s}}", conds[len(conds)-1])
			}
			bufs[0].WriteString(rest)
			return bufs[0].String(), nil
		}

		if open != nil && (closeAt < 0 || open[0] < closeAt) {
			bufs[len(bufs)-1].WriteString(rest[:open[0]])
			conds = append(conds, rest[open[2]:open[3]])
			bufs = append(bufs, new(strings.Builder))
			rest = rest[open[1]:]
			continue
		}

		if len(conds) == 0 {
			return "", fmt.Errorf("dangling {{/if}} without matching {{#if}}")
		}
		bufs[len(bufs)-1].WriteString(rest[:closeAt])
		body := bufs[len(bufs)-1].String()
		bufs = bufs[:len(bufs)-1]
		name := conds[len(conds)-1]
		conds = conds[:len(conds)-1]
		if vars[name] != "" {
			bufs[len(bufs)-1].WriteString(body)
		}
		rest = rest[closeAt+len(ifClose):]
	}
}

// Build renders the named builtin template, preferring a user override
// from ~/.circuitsmith/templates/<name>.txt when one exists.
func Build(name string, vars Vars) (string, error) {
	tmpl, ok := builtinTemplates[name]
	if !ok {
		return "", fmt.Errorf("unknown template %q", name)
	}
	if dir := overrideDir(); dir != "" {
		if data, err := os.ReadFile(filepath.Join(dir, name+".txt")); err == nil {
			tmpl = string(data)
		}
	}
	return Render(tmpl, vars)
}

func overrideDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".circuitsmith", "templates")
}
