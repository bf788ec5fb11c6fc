package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightDriver drives Chromium through playwright. Each session maps to
// a playwright BrowserContext.
type PlaywrightDriver struct {
	headless bool
	install  bool

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

// NewPlaywrightDriver returns a driver that starts playwright lazily. When
// install is set the Chromium build is downloaded on first start.
func NewPlaywrightDriver(headless, install bool) *PlaywrightDriver {
	return &PlaywrightDriver{headless: headless, install: install}
}

func (d *PlaywrightDriver) Name() string { return "playwright" }

func (d *PlaywrightDriver) start() (playwright.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser != nil {
		return d.browser, nil
	}

	opts := &playwright.RunOptions{Browsers: []string{"chromium"}}
	if d.install {
		if err := playwright.Install(opts); err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.headless),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	d.pw, d.browser = pw, browser
	return browser, nil
}

func (d *PlaywrightDriver) NewContext(_ context.Context, opts ContextOptions) (DriverContext, error) {
	browser, err := d.start()
	if err != nil {
		return nil, err
	}
	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport:  &playwright.Size{Width: opts.Viewport.Width, Height: opts.Viewport.Height},
		UserAgent: playwright.String(opts.UserAgent),
	})
	if err != nil {
		return nil, fmt.Errorf("create context for session %s: %w", opts.SessionID, err)
	}
	return &playwrightContext{bctx: bctx}, nil
}

func (d *PlaywrightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser == nil {
		return nil
	}
	_ = d.browser.Close()
	err := d.pw.Stop()
	d.browser, d.pw = nil, nil
	return err
}

type playwrightContext struct {
	bctx playwright.BrowserContext
}

func (c *playwrightContext) NewPage(context.Context) (Page, error) {
	page, err := c.bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	return &playwrightPage{page: page}, nil
}

func (c *playwrightContext) Close() error {
	return c.bctx.Close()
}

// playwrightPage adapts playwright's synchronous API. Timeouts come from the
// caller's deadline since playwright calls do not take a context.
type playwrightPage struct {
	page playwright.Page
}

func timeoutMs(ctx context.Context) *float64 {
	if dl, ok := ctx.Deadline(); ok {
		ms := float64(time.Until(dl).Milliseconds())
		if ms < 1 {
			ms = 1
		}
		return &ms
	}
	return nil
}

func (p *playwrightPage) snapshot() (*PageLoad, error) {
	title, err := p.page.Title()
	if err != nil {
		return nil, err
	}
	html, err := p.page.Content()
	if err != nil {
		return nil, err
	}
	return &PageLoad{URL: p.page.URL(), Title: title, HTML: html}, nil
}

func (p *playwrightPage) Load(ctx context.Context, url string) (*PageLoad, error) {
	resp, err := p.page.Goto(url, playwright.PageGotoOptions{Timeout: timeoutMs(ctx)})
	if err != nil {
		return nil, err
	}
	load, err := p.snapshot()
	if err != nil {
		return nil, err
	}
	if resp != nil {
		load.StatusCode = resp.Status()
		if load.StatusCode >= 400 {
			return nil, fmt.Errorf("http status %d", load.StatusCode)
		}
	}
	return load, nil
}

func (p *playwrightPage) Click(ctx context.Context, selector string, x, y float64) (*PageLoad, error) {
	before := p.page.URL()
	var err error
	if selector != "" {
		err = p.page.Locator(selector).First().Click(playwright.LocatorClickOptions{Timeout: timeoutMs(ctx)})
	} else {
		err = p.page.Mouse().Click(x, y)
	}
	if err != nil {
		return nil, err
	}
	if p.page.URL() == before {
		return nil, nil
	}
	return p.snapshot()
}

func (p *playwrightPage) Type(ctx context.Context, selector, text string) error {
	return p.page.Locator(selector).First().Fill(text, playwright.LocatorFillOptions{Timeout: timeoutMs(ctx)})
}

func (p *playwrightPage) Scroll(_ context.Context, dx, dy float64) error {
	return p.page.Mouse().Wheel(dx, dy)
}

func (p *playwrightPage) Extract(_ context.Context, selector string) ([]string, error) {
	texts, err := p.page.Locator(selector).AllInnerTexts()
	if err != nil {
		return nil, err
	}
	for i := range texts {
		texts[i] = collapseSpace(texts[i])
	}
	return texts, nil
}

func (p *playwrightPage) Screenshot(context.Context) ([]byte, error) {
	return p.page.Screenshot()
}

func (p *playwrightPage) Close() error {
	return p.page.Close()
}
