package browser

import (
	"net/url"

	"github.com/gobwas/glob"
	"github.com/rendis/tabflow/pkg/schema"
)

// URLPolicy gates navigation with glob patterns matched against the URL host
// and the full URL. Deny wins over allow; an empty allow list allows all.
type URLPolicy struct {
	allow []glob.Glob
	deny  []glob.Glob
}

// NewURLPolicy compiles allow and deny patterns, e.g. "*.example.com" or
// "https://internal.*/**".
func NewURLPolicy(allow, deny []string) (*URLPolicy, error) {
	p := &URLPolicy{}
	var err error
	if p.allow, err = compileGlobs(allow); err != nil {
		return nil, err
	}
	if p.deny, err = compileGlobs(deny); err != nil {
		return nil, err
	}
	return p, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, pat := range patterns {
		g, err := glob.Compile(pat, '.', '/')
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid url pattern %q: %s", pat, err).WithCause(err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Check validates rawURL and returns a ValidationError for malformed URLs or
// a PolicyDenied error when the policy rejects it. A nil policy only
// validates the URL.
func (p *URLPolicy) Check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid url %q: http(s) URL with host required", rawURL)
	}
	if p == nil {
		return nil
	}
	host := u.Hostname()
	for _, g := range p.deny {
		if g.Match(host) || g.Match(rawURL) {
			return schema.NewErrorf(schema.ErrCodePolicyDenied, "navigation to %s denied by policy", rawURL).
				WithDetails(map[string]any{"url": rawURL})
		}
	}
	if len(p.allow) == 0 {
		return nil
	}
	for _, g := range p.allow {
		if g.Match(host) || g.Match(rawURL) {
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodePolicyDenied, "navigation to %s not in allow list", rawURL).
		WithDetails(map[string]any{"url": rawURL})
}
