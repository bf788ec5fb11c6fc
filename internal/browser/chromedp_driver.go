package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// ChromedpDriver drives a local Chrome over the DevTools protocol. Every
// session gets its own Chrome browser context (separate cookies and storage);
// tabs are targets inside it.
type ChromedpDriver struct {
	headless bool
	execPath string

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromedpDriver returns a driver that launches Chrome lazily on first use.
// An empty execPath lets chromedp locate the browser.
func NewChromedpDriver(headless bool, execPath string) *ChromedpDriver {
	return &ChromedpDriver{headless: headless, execPath: execPath}
}

func (d *ChromedpDriver) Name() string { return "chromedp" }

func (d *ChromedpDriver) start() (context.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browserCtx != nil {
		return d.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)
	if d.execPath != "" {
		opts = append(opts, chromedp.ExecPath(d.execPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	d.allocCancel, d.browserCtx, d.browserCancel = allocCancel, browserCtx, browserCancel
	return browserCtx, nil
}

func (d *ChromedpDriver) NewContext(_ context.Context, opts ContextOptions) (DriverContext, error) {
	browserCtx, err := d.start()
	if err != nil {
		return nil, err
	}
	sessCtx, cancel := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())
	if err := chromedp.Run(sessCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("create browser context for session %s: %w", opts.SessionID, err)
	}
	return &chromedpContext{ctx: sessCtx, cancel: cancel, opts: opts}, nil
}

func (d *ChromedpDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browserCancel != nil {
		d.browserCancel()
		d.allocCancel()
		d.browserCtx, d.browserCancel, d.allocCancel = nil, nil, nil
	}
	return nil
}

type chromedpContext struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   ContextOptions
}

func (c *chromedpContext) NewPage(ctx context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(c.ctx)
	p := &chromedpPage{ctx: tabCtx, cancel: cancel}
	err := p.run(ctx,
		chromedp.EmulateViewport(int64(c.opts.Viewport.Width), int64(c.opts.Viewport.Height)),
		emulation.SetUserAgentOverride(c.opts.UserAgent),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return p, nil
}

func (c *chromedpContext) Close() error {
	c.cancel()
	return nil
}

type chromedpPage struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on the tab, aborting when the caller's ctx ends.
// Cancelling the derived context never closes the tab itself.
func (p *chromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromedpPage) snapshot(ctx context.Context) (*PageLoad, error) {
	load := &PageLoad{}
	err := p.run(ctx,
		chromedp.Location(&load.URL),
		chromedp.Title(&load.Title),
		chromedp.OuterHTML("html", &load.HTML, chromedp.ByQuery),
	)
	if err != nil {
		return nil, err
	}
	return load, nil
}

func (p *chromedpPage) Load(ctx context.Context, url string) (*PageLoad, error) {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		return nil, err
	}
	load, err := p.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		load.StatusCode = int(resp.Status)
		if load.StatusCode >= 400 {
			return nil, fmt.Errorf("http status %d", load.StatusCode)
		}
	}
	return load, nil
}

func (p *chromedpPage) Click(ctx context.Context, selector string, x, y float64) (*PageLoad, error) {
	var before string
	if err := p.run(ctx, chromedp.Location(&before)); err != nil {
		return nil, err
	}
	var action chromedp.Action
	if selector != "" {
		action = chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)
	} else {
		action = chromedp.MouseClickXY(x, y)
	}
	if err := p.run(ctx, action); err != nil {
		return nil, err
	}
	load, err := p.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if load.URL == before {
		return nil, nil
	}
	return load, nil
}

func (p *chromedpPage) Type(ctx context.Context, selector, text string) error {
	return p.run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (p *chromedpPage) Scroll(ctx context.Context, dx, dy float64) error {
	return p.run(ctx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(%f, %f)", dx, dy), nil))
}

func (p *chromedpPage) Extract(ctx context.Context, selector string) ([]string, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return nil, err
	}
	js := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%s)).map(e => (e.innerText || e.textContent || "").trim())`,
		quoted)
	var texts []string
	if err := p.run(ctx, chromedp.Evaluate(js, &texts)); err != nil {
		return nil, err
	}
	return texts, nil
}

func (p *chromedpPage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *chromedpPage) Close() error {
	p.cancel()
	return nil
}
