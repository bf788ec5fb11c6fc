package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/rendis/tabflow/pkg/schema"
	"golang.org/x/net/publicsuffix"
)

// maxBodyBytes bounds how much of a response the http driver reads.
const maxBodyBytes = 8 << 20

// HTTPDriver fetches pages over plain HTTP without running JavaScript.
// Each context gets its own cookie jar, so sessions never share cookies.
type HTTPDriver struct {
	transport http.RoundTripper
}

// NewHTTPDriver returns an HTTPDriver. A nil transport uses http.DefaultTransport.
func NewHTTPDriver(transport http.RoundTripper) *HTTPDriver {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &HTTPDriver{transport: transport}
}

func (d *HTTPDriver) Name() string { return "http" }

func (d *HTTPDriver) NewContext(_ context.Context, opts ContextOptions) (DriverContext, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &httpContext{
		client:    &http.Client{Transport: d.transport, Jar: jar},
		userAgent: opts.UserAgent,
	}, nil
}

func (d *HTTPDriver) Close() error { return nil }

type httpContext struct {
	client    *http.Client
	userAgent string
}

func (c *httpContext) NewPage(context.Context) (Page, error) {
	return &httpPage{ctx: c, form: make(map[string]string)}, nil
}

func (c *httpContext) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// httpPage keeps the last fetched document; in-page actions operate on it.
type httpPage struct {
	ctx *httpContext

	mu      sync.Mutex
	current *PageLoad
	doc     *goquery.Document
	form    map[string]string
	scrollX float64
	scrollY float64
}

func (p *httpPage) Load(ctx context.Context, rawURL string) (*PageLoad, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.ctx.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := p.ctx.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}

	html := string(body)
	load := &PageLoad{
		URL:        resp.Request.URL.String(),
		Title:      documentTitle(html),
		StatusCode: resp.StatusCode,
		HTML:       html,
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	p.mu.Lock()
	p.current, p.doc = load, doc
	p.form = make(map[string]string)
	p.scrollX, p.scrollY = 0, 0
	p.mu.Unlock()
	return load, nil
}

// compileSelector parses selector. goquery's Find matches nothing for a
// selector it cannot parse, so the parse error is surfaced here instead.
func compileSelector(selector string) (goquery.Matcher, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAction, "invalid selector %q: %s", selector, err).WithCause(err)
	}
	return sel, nil
}

func (p *httpPage) document() (*goquery.Document, *PageLoad, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return nil, nil, schema.NewError(schema.ErrCodeAction, "no document loaded")
	}
	return p.doc, p.current, nil
}

// Click follows the href of the first matching link. Clicking other elements
// or coordinates has no effect without a rendering engine.
func (p *httpPage) Click(ctx context.Context, selector string, _, _ float64) (*PageLoad, error) {
	doc, current, err := p.document()
	if err != nil {
		return nil, err
	}
	if selector == "" {
		return nil, nil
	}
	m, err := compileSelector(selector)
	if err != nil {
		return nil, err
	}
	sel := doc.FindMatcher(m).First()
	if sel.Length() == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeAction, "no element matches %q", selector)
	}
	href, ok := sel.Attr("href")
	if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return nil, nil
	}
	base, err := url.Parse(current.URL)
	if err != nil {
		return nil, err
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAction, "bad href %q", href).WithCause(err)
	}
	return p.Load(ctx, base.ResolveReference(ref).String())
}

// Type records the value for a matching form field.
func (p *httpPage) Type(_ context.Context, selector, text string) error {
	doc, _, err := p.document()
	if err != nil {
		return err
	}
	m, err := compileSelector(selector)
	if err != nil {
		return err
	}
	if doc.FindMatcher(m).Length() == 0 {
		return schema.NewErrorf(schema.ErrCodeAction, "no element matches %q", selector)
	}
	p.mu.Lock()
	p.form[selector] += text
	p.mu.Unlock()
	return nil
}

func (p *httpPage) Scroll(_ context.Context, dx, dy float64) error {
	if _, _, err := p.document(); err != nil {
		return err
	}
	p.mu.Lock()
	p.scrollX += dx
	p.scrollY += dy
	p.mu.Unlock()
	return nil
}

func (p *httpPage) Extract(_ context.Context, selector string) ([]string, error) {
	doc, _, err := p.document()
	if err != nil {
		return nil, err
	}
	m, err := compileSelector(selector)
	if err != nil {
		return nil, err
	}
	var out []string
	doc.FindMatcher(m).Each(func(_ int, s *goquery.Selection) {
		out = append(out, collapseSpace(s.Text()))
	})
	return out, nil
}

func (p *httpPage) Screenshot(context.Context) ([]byte, error) {
	return nil, schema.NewError(schema.ErrCodeAction, "screenshots are not supported by the http driver")
}

func (p *httpPage) Close() error {
	p.mu.Lock()
	p.doc, p.current = nil, nil
	p.mu.Unlock()
	return nil
}
