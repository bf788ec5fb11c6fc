package dispatch

import (
	"context"
	"encoding/base64"
	"maps"

	"github.com/rendis/tabflow/internal/browser"
	"github.com/rendis/tabflow/internal/logging"
	"github.com/rendis/tabflow/pkg/schema"
)

const defaultSearchLimit = 10

func unavailable(what string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeHandler, "%s is not configured", what)
}

// resolveTab picks params.tab_id, else the session's active tab, else "" for
// a generated id. With new_tab=true the first attempt opens a fresh tab under
// params.tab_id (or a generated id); fresh reports that case.
func (d *Dispatcher) resolveTab(c *call) (tabID string, fresh bool) {
	tabID = stringParam(c.params, "tab_id", "")
	if boolParam(c.params, "new_tab", false) {
		if tabID == "" || c.attempt <= 1 {
			return tabID, true
		}
		// A retry reuses the tab the first attempt opened.
		return tabID, false
	}
	if tabID != "" {
		return tabID, false
	}
	if info, err := d.browser.ActiveTab(c.req.SessionID); err == nil {
		return info.ID, false
	}
	return "", false
}

func (d *Dispatcher) navigate(ctx context.Context, c *call) (map[string]any, error) {
	if d.browser == nil {
		return nil, unavailable("browser")
	}
	url := c.target
	if url == "" {
		url = stringParam(c.params, "url", "")
	}
	if url == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "navigate: target url is required")
	}

	var res *browser.NavigationResult
	tabID, fresh := d.resolveTab(c)
	if fresh {
		id, err := d.browser.CreateTab(ctx, c.req.SessionID, tabID)
		if err != nil {
			return nil, err
		}
		res, err = d.browser.Navigate(ctx, id, url)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		if res, err = d.browser.Open(ctx, c.req.SessionID, tabID, url); err != nil {
			return nil, err
		}
	}
	payload := map[string]any{
		"tab_id":          res.TabID,
		"url":             res.URL,
		"title":           res.Title,
		"status_code":     res.StatusCode,
		"content_preview": res.ContentPreview,
		"metadata":        res.Metadata,
		"elapsed_ms":      res.ElapsedMs,
	}
	if len(res.Screenshot) > 0 {
		payload["screenshot"] = base64.StdEncoding.EncodeToString(res.Screenshot)
	}
	if !res.OK {
		return payload, res.Error
	}
	return payload, nil
}

func (d *Dispatcher) searchStep(ctx context.Context, c *call) (map[string]any, error) {
	if d.search == nil {
		return nil, unavailable("search provider")
	}
	query := stringParam(c.params, "query", c.target)
	if query == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "search: query is required")
	}
	limit := intParam(c.params, "limit", defaultSearchLimit)
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	results, err := d.search.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []SearchResult{}
	}
	return map[string]any{"query": query, "results": results, "count": len(results)}, nil
}

func (d *Dispatcher) extract(ctx context.Context, c *call) (map[string]any, error) {
	if d.browser == nil {
		return nil, unavailable("browser")
	}
	selector := c.target
	if selector == "" {
		selector = stringParam(c.params, "selector", "")
	}
	if selector == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "extract: selector is required")
	}
	tabID := stringParam(c.params, "tab_id", "")
	if tabID == "" {
		info, err := d.browser.ActiveTab(c.req.SessionID)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeAction, "extract: session has no open tab").WithCause(err)
		}
		tabID = info.ID
	}

	res, err := d.browser.Act(ctx, tabID, browser.Action{Kind: browser.ActExtract, Selector: selector})
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, res.Error
	}
	payload := map[string]any{"tab_id": tabID}
	maps.Copy(payload, res.Data)
	return payload, nil
}

func (d *Dispatcher) analyze(ctx context.Context, c *call) (map[string]any, error) {
	if d.analyzer == nil {
		return nil, unavailable("analyzer")
	}
	return d.analyzer.Analyze(ctx, c.params, c.scope)
}

func (d *Dispatcher) report(_ context.Context, c *call) (map[string]any, error) {
	return d.reporter.Render(c.params, c.req.Prior)
}

func (d *Dispatcher) integrate(ctx context.Context, c *call) (map[string]any, error) {
	name := c.target
	if name == "" {
		name = stringParam(c.params, "connector", "")
	}
	if d.connectors == nil || name == "" || !d.connectors.Has(name) {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "integrate: connector %q not registered", name).
			WithDetails(map[string]any{"connector": name})
	}
	action := stringParam(c.params, "action", "")
	out, err := d.connectors.Invoke(ctx, name, action, c.params)
	if err != nil {
		return nil, err
	}
	return map[string]any{"connector": name, "action": action, "result": out}, nil
}

// generic covers ActionGeneric and any action outside the closed set.
func (d *Dispatcher) generic(ctx context.Context, c *call) (map[string]any, error) {
	logging.LogWith(ctx, d.logger).Warn("no handler for action, completing as no-op", "action", c.step.Action)
	return map[string]any{"unhandled": true, "action": string(c.step.Action)}, nil
}
