package rodbackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/go-rod/rod/lib/input"

	"github.com/hazyhaar/partyhost/device"
)

// visibleJS returns the rows matched by the messages XPath that intersect
// the list viewport, as JSON.
const visibleJS = `(rowsXP, listXP) => {
	const first = (xp) => xp ? document.evaluate(xp, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue : null;
	const list = first(listXP);
	const top = list ? list.getBoundingClientRect().top : 0;
	const bottom = list ? list.getBoundingClientRect().bottom : window.innerHeight;
	const rows = document.evaluate(rowsXP, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
	const items = [];
	for (let i = 0; i < rows.snapshotLength; i++) {
		const el = rows.snapshotItem(i);
		const r = el.getBoundingClientRect();
		if (r.height === 0 || r.bottom <= top || r.top >= bottom) continue;
		items.push({index: i, label: el.getAttribute('aria-label') || el.getAttribute('content-desc') || '', html: el.innerHTML});
	}
	return JSON.stringify({total: rows.snapshotLength, items: items});
}`

// scrollJS scrolls the list by dy pixels and reports whether it moved.
const scrollJS = `(listXP, dy) => {
	const found = listXP ? document.evaluate(listXP, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue : null;
	const el = found || document.scrollingElement;
	const before = el.scrollTop;
	el.scrollTop = before + dy;
	return el.scrollTop !== before;
}`

type visibleRow struct {
	Index int    `json:"index"`
	Label string `json:"label"`
	HTML  string `json:"html"`
}

type visibleResult struct {
	Total int          `json:"total"`
	Items []visibleRow `json:"items"`
}

// VisibleMessages returns the rows currently in view, oldest first.
func (b *Backend) VisibleMessages(ctx context.Context) ([]device.Entry, error) {
	page, err := b.current(ctx)
	if err != nil {
		return nil, err
	}
	res, err := page.Eval(visibleJS, b.cfg.Selectors.Messages, b.cfg.Selectors.List)
	if err != nil {
		return nil, wrapErr("read messages", err)
	}
	var vr visibleResult
	if err := json.Unmarshal([]byte(res.Value.Str()), &vr); err != nil {
		return nil, fmt.Errorf("rodbackend: decode messages: %w", err)
	}
	entries := make([]device.Entry, 0, len(vr.Items))
	for _, it := range vr.Items {
		text := it.Label
		if strings.TrimSpace(text) == "" {
			text = b.plainText(it.HTML)
		}
		if text == "" {
			continue
		}
		entries = append(entries, device.Entry{Identity: fmt.Sprintf("row-%d", it.Index), Text: strings.TrimSpace(text)})
	}
	if len(entries) == 0 {
		return nil, device.ErrProviderUnavailable
	}
	return entries, nil
}

// plainText strips markup from a message row and collapses whitespace.
func (b *Backend) plainText(markup string) string {
	return strings.Join(strings.Fields(html.UnescapeString(b.policy.Sanitize(markup))), " ")
}

// Scroll moves the list one step.
func (b *Backend) Scroll(ctx context.Context, dir device.Direction) (bool, error) {
	page, err := b.current(ctx)
	if err != nil {
		return false, err
	}
	dy := b.cfg.ScrollStep
	if dir == device.Older {
		dy = -dy
	}
	res, err := page.Eval(scrollJS, b.cfg.Selectors.List, dy)
	if err != nil {
		return false, wrapErr("scroll "+dir.String(), err)
	}
	return res.Value.Bool(), nil
}

// Post types text into the chat input and sends it.
func (b *Backend) Post(ctx context.Context, text string) error {
	if b.cfg.Selectors.Input == "" {
		return errors.New("rodbackend: no chat input selector configured")
	}
	page, err := b.current(ctx)
	if err != nil {
		return err
	}
	fields, err := page.ElementsX(b.cfg.Selectors.Input)
	if err != nil {
		return wrapErr("find input", err)
	}
	if len(fields) == 0 {
		return fmt.Errorf("rodbackend: chat input not found: %w", device.ErrProviderUnavailable)
	}
	if err := fields[0].Input(text); err != nil {
		return wrapErr("type message", err)
	}
	if b.cfg.Selectors.Send == "" {
		return wrapErr("send message", page.Keyboard.Press(input.Enter))
	}
	buttons, err := page.ElementsX(b.cfg.Selectors.Send)
	if err != nil {
		return wrapErr("find send button", err)
	}
	if len(buttons) == 0 {
		return fmt.Errorf("rodbackend: send button not found: %w", device.ErrProviderUnavailable)
	}
	return wrapErr("send message", buttons[0].Click(leftButton, 1))
}
