package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rendis/tabflow/pkg/schema"
)

// tokenRe matches ${{ expr }} references.
var tokenRe = regexp.MustCompile(`\$\{\{\s*(.+?)\s*\}\}`)

// Interpolator resolves ${{ }} references in step params with jq paths over a Scope.
//
// A string that is exactly one reference takes the referenced value with its
// type preserved. References embedded in longer strings are rendered as text.
// Paths may omit the leading dot: ${{ steps.search.payload.results[0].url }}.
type Interpolator struct {
	jq *GoJQEngine
}

func NewInterpolator(jq *GoJQEngine) *Interpolator {
	if jq == nil {
		jq = NewGoJQEngine()
	}
	return &Interpolator{jq: jq}
}

// HasReferences reports whether any string inside v contains a ${{ }} reference.
func HasReferences(v any) bool {
	switch val := v.(type) {
	case string:
		return tokenRe.MatchString(val)
	case map[string]any:
		for _, item := range val {
			if HasReferences(item) {
				return true
			}
		}
	case []any:
		for _, item := range val {
			if HasReferences(item) {
				return true
			}
		}
	}
	return false
}

// ResolveParams returns a copy of params with every reference resolved.
// The input map is never modified.
func (i *Interpolator) ResolveParams(ctx context.Context, params map[string]any, scope *Scope) (map[string]any, error) {
	if params == nil {
		return nil, nil
	}
	data := scope.Map()
	out, err := i.resolveValue(ctx, params, data)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

// ResolveString resolves references in a single string and always returns text.
func (i *Interpolator) ResolveString(ctx context.Context, s string, scope *Scope) (string, error) {
	if !tokenRe.MatchString(s) {
		return s, nil
	}
	v, err := i.resolveString(ctx, s, scope.Map())
	if err != nil {
		return "", err
	}
	return stringify(v), nil
}

func (i *Interpolator) resolveValue(ctx context.Context, v any, data map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return i.resolveString(ctx, val, data)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := i.resolveValue(ctx, item, data)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for idx, item := range val {
			r, err := i.resolveValue(ctx, item, data)
			if err != nil {
				return nil, err
			}
			out[idx] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func (i *Interpolator) resolveString(ctx context.Context, s string, data map[string]any) (any, error) {
	matches := tokenRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// Whole-string reference keeps the value's type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		return i.eval(ctx, s[matches[0][2]:matches[0][3]], data)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		v, err := i.eval(ctx, s[m[2]:m[3]], data)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(v))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func (i *Interpolator) eval(ctx context.Context, expr string, data map[string]any) (any, error) {
	path := expr
	if !strings.HasPrefix(path, ".") && !strings.HasPrefix(path, "$") {
		path = "." + path
	}
	v, err := i.jq.Evaluate(ctx, path, data)
	if err != nil {
		fe := schema.AsFlowError(err, schema.ErrCodeValidation)
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "resolve ${{ %s }}: %s", expr, fe.Message).
			WithCause(err).
			WithDetails(map[string]any{"reference": expr})
	}
	return v, nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case bool, int, int64:
		return fmt.Sprintf("%v", val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(raw)
	}
}
