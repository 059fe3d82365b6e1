package rodbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/partyhost/device"
	"github.com/hazyhaar/partyhost/uitree"
)

const leftButton = proto.InputMouseButtonLeft

// Snapshot captures the page DOM as one UI tree.
func (b *Backend) Snapshot(ctx context.Context) (*uitree.Tree, error) {
	page, err := b.current(ctx)
	if err != nil {
		return nil, err
	}
	res, err := page.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, wrapErr("snapshot", err)
	}
	return uitree.Parse([]byte(res.Value.Str()))
}

// keyXPath turns a key into an XPath the browser understands.
func keyXPath(k uitree.Key) string {
	if k.ID != "" {
		return fmt.Sprintf("//*[@id=%[1]s or @resource-id=%[1]s]", xpathLiteral(k.ID))
	}
	return k.XPath
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	switch {
	case !strings.Contains(s, "'"):
		return "'" + s + "'"
	case !strings.Contains(s, `"`):
		return `"` + s + `"`
	default:
		out := "concat("
		start := 0
		for i := 0; i < len(s); i++ {
			if s[i] == '\'' {
				if i > start {
					out += "'" + s[start:i] + "',"
				}
				out += `"'",`
				start = i + 1
			}
		}
		if start < len(s) {
			out += "'" + s[start:] + "',"
		}
		return out + "'')"
	}
}

// Locate finds the first element matching key on the live page.
func (b *Backend) Locate(ctx context.Context, key uitree.Key) (device.Handle, bool, error) {
	page, err := b.current(ctx)
	if err != nil {
		return device.Handle{}, false, err
	}
	els, err := page.ElementsX(keyXPath(key))
	if err != nil {
		return device.Handle{}, false, wrapErr("locate "+key.String(), err)
	}
	if len(els) == 0 {
		return device.Handle{}, false, nil
	}
	text, _ := els[0].Text()
	return device.Handle{Key: key, Text: text}, true, nil
}

// Click re-resolves h and clicks it. False means the element is gone.
func (b *Backend) Click(ctx context.Context, h device.Handle) (bool, error) {
	page, err := b.current(ctx)
	if err != nil {
		return false, err
	}
	els, err := page.ElementsX(keyXPath(h.Key))
	if err != nil {
		return false, wrapErr("locate "+h.Key.String(), err)
	}
	if len(els) <= h.Index {
		return false, nil
	}
	if err := els[h.Index].Click(leftButton, 1); err != nil {
		return false, wrapErr("click "+h.Key.String(), err)
	}
	return true, nil
}

// WaitClickable polls until key matches a visible element or timeout
// elapses.
func (b *Backend) WaitClickable(ctx context.Context, key uitree.Key, timeout time.Duration) (device.Handle, bool, error) {
	page, err := b.current(ctx)
	if err != nil {
		return device.Handle{}, false, err
	}
	xp := keyXPath(key)
	deadline := time.Now().Add(timeout)
	for {
		els, err := page.ElementsX(xp)
		if err != nil {
			return device.Handle{}, false, wrapErr("wait "+key.String(), err)
		}
		for i, el := range els {
			if visible, err := el.Visible(); err == nil && visible {
				text, _ := el.Text()
				return device.Handle{Key: key, Index: i, Text: text}, true, nil
			}
		}
		if time.Now().After(deadline) {
			return device.Handle{}, false, nil
		}
		select {
		case <-ctx.Done():
			return device.Handle{}, false, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// TapEdge clicks just inside one edge of the viewport, halfway along it.
func (b *Backend) TapEdge(ctx context.Context, side device.Side) error {
	page, err := b.current(ctx)
	if err != nil {
		return err
	}
	res, err := page.Eval(`() => JSON.stringify([window.innerWidth, window.innerHeight])`)
	if err != nil {
		return wrapErr("viewport size", err)
	}
	var size [2]float64
	if err := json.Unmarshal([]byte(res.Value.Str()), &size); err != nil {
		return fmt.Errorf("rodbackend: decode viewport: %w", err)
	}
	p := edgePoint(side, size[0], size[1])
	if err := page.Mouse.MoveTo(p); err != nil {
		return wrapErr("tap "+string(side), err)
	}
	return wrapErr("tap "+string(side), page.Mouse.Click(leftButton, 1))
}

const edgeInset = 8

func edgePoint(side device.Side, w, h float64) proto.Point {
	switch side {
	case device.SideLeft:
		return proto.Point{X: edgeInset, Y: h / 2}
	case device.SideTop:
		return proto.Point{X: w / 2, Y: edgeInset}
	case device.SideBottom:
		return proto.Point{X: w / 2, Y: h - edgeInset}
	default:
		return proto.Point{X: w - edgeInset, Y: h / 2}
	}
}
