package builtin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/partyhost/command"
	"github.com/hazyhaar/partyhost/device"
	"github.com/hazyhaar/partyhost/device/fakedevice"
	"github.com/hazyhaar/partyhost/session"
	"github.com/hazyhaar/partyhost/uitree"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func volumeDevice() *fakedevice.Device {
	dev := fakedevice.New(fakedevice.WithHistory("hello"))
	dev.SetFragment("vol", `<button id="vol-open">volume</button>`)
	dev.OnClick(func(h device.Handle) {
		if h.Key.ID != "vol-open" {
			return
		}
		var sb strings.Builder
		sb.WriteString(`<div class="levels">`)
		for i := 0; i <= 10; i++ {
			fmt.Fprintf(&sb, `<button id="vol-%d">%d</button>`, i, i)
		}
		sb.WriteString(`</div>`)
		dev.SetFragment("levels", sb.String())
	})
	return dev
}

func volumeConfig() VolumeConfig {
	return VolumeConfig{
		Max:   10,
		Open:  uitree.Key{Name: "volume", ID: "vol-open"},
		Level: uitree.Key{ID: "vol-{level}"},
		Wait:  200 * time.Millisecond,
	}
}

func newDispatcher(t *testing.T, dev *fakedevice.Device, q *command.Queue) (*command.Dispatcher, *command.Registry) {
	t.Helper()
	var reg *command.Registry
	specs := Specs(Config{
		Usages:  func() []command.Usage { return reg.Usages() },
		Locator: dev,
		Volume:  volumeConfig(),
		Queue:   q,
	})
	reg, err := command.NewRegistry(quiet, specs...)
	if err != nil {
		t.Fatal(err)
	}
	d, err := command.NewDispatcher(command.Config{
		Registry: reg,
		Gate:     session.NewGate(),
		Poster:   dev,
		Logger:   quiet,
	})
	if err != nil {
		t.Fatal(err)
	}
	return d, reg
}

func dispatch(t *testing.T, d *command.Dispatcher, line string) command.Outcome {
	t.Helper()
	inv, err := d.Parse(line)
	if err != nil {
		t.Fatalf("parse %q: %v", line, err)
	}
	return d.Dispatch(context.Background(), inv)
}

func TestVolume_SetsLevel(t *testing.T) {
	dev := volumeDevice()
	d, _ := newDispatcher(t, dev, nil)

	out := dispatch(t, d, "alice: :vol 5")
	if out.Err != nil {
		t.Fatal(out.Err)
	}
	want := []string{"click:volume", "click:#vol-5", "post:alice: volume set to 5"}
	if got := dev.Actions(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("actions: got %v, want %v", got, want)
	}
}

func TestVolume_Validation(t *testing.T) {
	dev := volumeDevice()
	d, _ := newDispatcher(t, dev, nil)

	for _, line := range []string{"bob: :vol bad", "bob: :vol 11", "bob: :vol -1", "bob: :vol", "bob: :vol 1 2"} {
		dev.ClearActions()
		out := dispatch(t, d, line)
		if _, isErr := out.Result.ErrorText(); !isErr {
			t.Fatalf("%q: expected an error result, got %v", line, out.Result)
		}
		got := dev.Actions()
		if len(got) != 1 || got[0] != "post:bob: volume must be a number between 0 and 10" {
			t.Fatalf("%q: actions %v", line, got)
		}
	}
}

func TestVolume_ControlMissing(t *testing.T) {
	dev := fakedevice.New(fakedevice.WithHistory("hello"))
	d, _ := newDispatcher(t, dev, nil)

	out := dispatch(t, d, "alice: :vol 3")
	if out.Err != nil {
		t.Fatal(out.Err)
	}
	if out.Reply != "alice: the volume control is not on screen" {
		t.Fatalf("reply: %q", out.Reply)
	}
}

func TestVolume_LevelNeverAppears(t *testing.T) {
	dev := fakedevice.New(fakedevice.WithHistory("hello"))
	dev.SetFragment("vol", `<button id="vol-open">volume</button>`)
	cfg := volumeConfig()
	cfg.Wait = 20 * time.Millisecond
	v := NewVolume(dev, cfg)

	res, err := v.Process(context.Background(), command.NewInvocation("vol", "alice", "4"))
	if err != nil {
		t.Fatal(err)
	}
	if msg, _ := res.ErrorText(); msg != "volume level 4 is not available" {
		t.Fatalf("result: %v", res)
	}
}

func TestVolume_CrashIsHandlerError(t *testing.T) {
	dev := volumeDevice()
	d, _ := newDispatcher(t, dev, nil)
	dev.Crash()
	out := dispatch(t, d, "alice: :vol 2")
	if out.Err == nil || !device.IsCrash(out.Err) {
		t.Fatalf("err: %v", out.Err)
	}
}

func TestSayAndHelp(t *testing.T) {
	dev := volumeDevice()
	d, _ := newDispatcher(t, dev, command.NewQueue(0))

	if out := dispatch(t, d, `alice: :say "hello   there" friends`); out.Reply != "hello   there friends" {
		t.Fatalf("say: %q", out.Reply)
	}
	if out := dispatch(t, d, "alice: :say"); out.Reply != "alice: nothing to say" {
		t.Fatalf("empty say: %q", out.Reply)
	}
	if out := dispatch(t, d, "alice: :help"); out.Reply != "alice: commands: :help :say :vol :welcome" {
		t.Fatalf("help: %q", out.Reply)
	}
	if out := dispatch(t, d, "alice: :help vol"); out.Reply != "alice: :vol <0-10>" {
		t.Fatalf("help vol: %q", out.Reply)
	}
	if out := dispatch(t, d, "alice: :help dance"); out.Reply != `alice: no command named "dance"` {
		t.Fatalf("help dance: %q", out.Reply)
	}
}

func TestSpecs_VolumeOptional(t *testing.T) {
	for _, s := range Specs(Config{}) {
		if s.Name == "vol" || s.Name == "welcome" {
			t.Fatalf("%s registered without its dependencies", s.Name)
		}
	}
}

func TestWelcome_HooksQueueGreetings(t *testing.T) {
	dev := volumeDevice()
	q := command.NewQueue(0)
	d, reg := newDispatcher(t, dev, q)
	ctx := context.Background()

	if err := reg.UserEnter(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := reg.UserReturn(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	if len(dev.Posts()) != 0 {
		t.Fatal("hooks must not post directly")
	}

	pending := q.Drain()
	if len(pending) != 2 || !pending[0].Synthetic {
		t.Fatalf("queued: %+v", pending)
	}
	for _, inv := range pending {
		d.Dispatch(ctx, inv)
	}
	want := []string{"Welcome to the party, alice!", "Welcome back, bob!"}
	if got := dev.Posts(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("posts: got %v, want %v", got, want)
	}
}

func TestWelcome_Cooldown(t *testing.T) {
	q := command.NewQueue(0)
	w := NewWelcome(q, time.Minute)
	now := time.Date(2026, 5, 1, 21, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }
	ctx := context.Background()

	w.OnUserEnter(ctx, "alice")
	w.OnUserReturn(ctx, "alice")
	if q.Len() != 1 {
		t.Fatalf("greeted twice inside the cooldown: %d", q.Len())
	}

	now = now.Add(2 * time.Minute)
	w.Update(ctx)
	w.OnUserReturn(ctx, "alice")
	if q.Len() != 2 {
		t.Fatalf("not greeted after the cooldown: %d", q.Len())
	}
}
