package trigger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hazyhaar/partyhost/device/fakedevice"
	"github.com/hazyhaar/partyhost/session"
	"github.com/hazyhaar/partyhost/uitree"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var (
	inviteKey = uitree.Key{Name: "invite", ID: "mic-invite"}
	seatsKey  = uitree.Key{Name: "seats", XPath: "//div[@class='seat']", Multi: true}
	seatKey   = uitree.Key{Name: "seat", XPath: "//div[@class='seat']"}
)

func partyDevice() *fakedevice.Device {
	dev := fakedevice.New(fakedevice.WithHistory("hi"))
	dev.SetFragment("seats", `<div class="seat">ann</div><div class="seat">ben</div><div class="seat">cat</div>`)
	dev.SetFragment("invite", `<button id="mic-invite" aria-label="Join the mic">join</button>`)
	return dev
}

func snapshot(t *testing.T, dev *fakedevice.Device) *uitree.Tree {
	t.Helper()
	tree, err := dev.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return tree
}

func TestDispatch_MultiAndSingle(t *testing.T) {
	dev := partyDevice()
	reg := NewRegistry(dev, session.NewGate(), quiet)

	var multi, single []string
	if err := reg.Register(HandlerFunc(func(_ context.Context, ev Event) error {
		for _, el := range ev.Elements {
			multi = append(multi, el.Text())
		}
		return nil
	}), seatsKey); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(HandlerFunc(func(_ context.Context, ev Event) error {
		for _, el := range ev.Elements {
			single = append(single, el.Text())
		}
		return nil
	}), seatKey); err != nil {
		t.Fatal(err)
	}

	calls, err := reg.Dispatch(context.Background(), snapshot(t, dev))
	if err != nil || calls != 2 {
		t.Fatalf("dispatch: calls=%d err=%v", calls, err)
	}
	if len(multi) != 3 || multi[2] != "cat" {
		t.Fatalf("multi: %v", multi)
	}
	if len(single) != 1 || single[0] != "ann" {
		t.Fatalf("single: %v", single)
	}
}

func TestDispatch_CoRegistration(t *testing.T) {
	dev := partyDevice()
	reg := NewRegistry(dev, session.NewGate(), quiet)

	var seen []string
	h := HandlerFunc(func(_ context.Context, ev Event) error {
		seen = append(seen, ev.Key.String())
		return nil
	})
	gone := uitree.Key{Name: "gone", ID: "nothing-here"}
	reg.Register(h, inviteKey, gone, seatKey)
	reg.Register(h, inviteKey)

	calls, err := reg.Dispatch(context.Background(), snapshot(t, dev))
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 || len(seen) != 3 || seen[0] != "invite" || seen[1] != "seat" || seen[2] != "invite" {
		t.Fatalf("calls=%d seen=%v", calls, seen)
	}
}

func TestDispatch_FailuresIsolated(t *testing.T) {
	dev := partyDevice()
	reg := NewRegistry(dev, session.NewGate(), quiet)
	ran := false
	reg.Register(HandlerFunc(func(context.Context, Event) error { panic("boom") }), inviteKey)
	reg.Register(HandlerFunc(func(context.Context, Event) error { return errors.New("nope") }), seatKey)
	reg.Register(HandlerFunc(func(context.Context, Event) error { ran = true; return nil }), seatsKey)

	calls, err := reg.Dispatch(context.Background(), snapshot(t, dev))
	if calls != 3 || err == nil || !ran {
		t.Fatalf("calls=%d err=%v ran=%v", calls, err, ran)
	}
}

func TestRegister_Frozen(t *testing.T) {
	reg := NewRegistry(nil, nil, quiet)
	h := HandlerFunc(func(context.Context, Event) error { return nil })
	if err := reg.Register(h); err == nil {
		t.Fatal("binding without keys accepted")
	}
	if err := reg.Register(h, uitree.Key{Name: "empty"}); err == nil {
		t.Fatal("zero key accepted")
	}
	reg.Freeze()
	if err := reg.Register(h, inviteKey); !errors.Is(err, ErrFrozen) {
		t.Fatalf("after freeze: %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("len: %d", reg.Len())
	}
}

func TestElement_ReadOnlyAccessors(t *testing.T) {
	dev := partyDevice()
	reg := NewRegistry(dev, session.NewGate(), quiet)
	var el *Element
	reg.Register(HandlerFunc(func(_ context.Context, ev Event) error {
		el = ev.Elements[0]
		return nil
	}), inviteKey)
	reg.Dispatch(context.Background(), snapshot(t, dev))

	if el == nil || el.Label() != "Join the mic" || el.Text() != "join" || el.Key() != inviteKey {
		t.Fatalf("element: %+v", el)
	}
	if v, ok := el.Attr("id"); !ok || v != "mic-invite" {
		t.Fatalf("attr: %q %v", v, ok)
	}
}

func TestAutoClick(t *testing.T) {
	dev := partyDevice()
	reg := NewRegistry(dev, session.NewGate(), quiet)
	reg.Register(AutoClick(quiet), inviteKey)

	if _, err := reg.Dispatch(context.Background(), snapshot(t, dev)); err != nil {
		t.Fatal(err)
	}
	if got := dev.Actions(); len(got) != 1 || got[0] != "click:invite" {
		t.Fatalf("actions: %v", got)
	}
}

func TestElementClick_RefusedDuringSession(t *testing.T) {
	dev := partyDevice()
	gate := session.NewGate()
	reg := NewRegistry(dev, gate, quiet)
	reg.Register(AutoClick(quiet), inviteKey)
	tree := snapshot(t, dev)

	sess, err := gate.TryAcquire("vol")
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	_, err = reg.Dispatch(context.Background(), tree)
	if !errors.Is(err, ErrSessionOpen) {
		t.Fatalf("err: %v", err)
	}
	if len(dev.Actions()) != 0 {
		t.Fatalf("clicked during a session: %v", dev.Actions())
	}
}

func TestElementClick_Relocates(t *testing.T) {
	dev := partyDevice()
	reg := NewRegistry(dev, session.NewGate(), quiet)
	var clicked []bool
	reg.Register(HandlerFunc(func(ctx context.Context, ev Event) error {
		for _, el := range ev.Elements {
			ok, err := el.Click(ctx)
			if err != nil {
				return err
			}
			clicked = append(clicked, ok)
		}
		return nil
	}), seatsKey)

	tree := snapshot(t, dev)
	dev.SetFragment("seats", `<div class="seat">ann</div>`)
	if _, err := reg.Dispatch(context.Background(), tree); err != nil {
		t.Fatal(err)
	}
	if len(clicked) != 3 || !clicked[0] || clicked[1] || clicked[2] {
		t.Fatalf("clicked: %v", clicked)
	}
}
