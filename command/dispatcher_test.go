package command

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/partyhost/idgen"
	"github.com/hazyhaar/partyhost/observability"
	"github.com/hazyhaar/partyhost/session"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// recorder is a Poster that also logs UI steps performed by test handlers.
type recorder struct {
	mu    sync.Mutex
	steps []string
	fail  error
}

func (r *recorder) Post(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.steps = append(r.steps, "post:"+text)
	return nil
}

func (r *recorder) step(s string) {
	r.mu.Lock()
	r.steps = append(r.steps, s)
	r.mu.Unlock()
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.steps...)
}

type events struct {
	mu  sync.Mutex
	got []observability.Event
}

func (e *events) Log(_ context.Context, ev observability.Event) {
	e.mu.Lock()
	e.got = append(e.got, ev)
	e.mu.Unlock()
}

// volHandler validates 0..10 and performs two UI steps.
func volHandler(rec *recorder, gate *session.Gate, sessions *[]string) Handler {
	return HandlerFunc(func(ctx context.Context, inv Invocation) (Result, error) {
		info, _ := gate.Active()
		*sessions = append(*sessions, info.ID)
		n, err := strconv.Atoi(inv.Param(0))
		if err != nil || n < 0 || n > 10 {
			return Errorf("volume must be a number between 0 and 10"), nil
		}
		rec.step("open:" + inv.Param(0))
		time.Sleep(time.Millisecond)
		rec.step("set:" + inv.Param(0))
		return Result{"level": n}, nil
	})
}

func newTestDispatcher(t *testing.T, rec *recorder, ev EventSink, specs ...Spec) (*Dispatcher, *session.Gate) {
	t.Helper()
	reg, err := NewRegistry(quiet, specs...)
	if err != nil {
		t.Fatal(err)
	}
	gate := session.NewGate(session.WithIDGenerator(idgen.Sequential("ses_")))
	d, err := NewDispatcher(Config{
		Registry: reg,
		Gate:     gate,
		Poster:   rec,
		Events:   ev,
		IDs:      idgen.Sequential("inv_"),
		Logger:   quiet,
	})
	if err != nil {
		t.Fatal(err)
	}
	return d, gate
}

func TestDispatch_SequentialSessionsAndStructuredError(t *testing.T) {
	rec := &recorder{}
	ev := &events{}
	var sessions []string
	gate := session.NewGate()
	reg, _ := NewRegistry(quiet, Spec{Name: "vol", Handler: volHandler(rec, gate, &sessions), Template: "{{.user}}: volume set to {{.level}}"})
	d, _ := NewDispatcher(Config{Registry: reg, Gate: gate, Poster: rec, Events: ev, Logger: quiet})

	var outs []Outcome
	for _, line := range []string{"alice: :vol 5", "bob: :vol bad"} {
		inv, err := d.Parse(line)
		if err != nil {
			t.Fatal(err)
		}
		outs = append(outs, d.Dispatch(context.Background(), inv))
	}

	if outs[0].Err != nil || outs[0].Reply != "alice: volume set to 5" {
		t.Fatalf(":vol 5: got %+v", outs[0])
	}
	if msg, isErr := outs[1].Result.ErrorText(); !isErr || !strings.Contains(msg, "between 0 and 10") {
		t.Fatalf(":vol bad: result %v", outs[1].Result)
	}
	if outs[1].Reply != "bob: volume must be a number between 0 and 10" {
		t.Fatalf(":vol bad: reply %q", outs[1].Reply)
	}
	if outs[0].SessionID == "" || outs[0].SessionID == outs[1].SessionID {
		t.Fatalf("sessions: %q %q", outs[0].SessionID, outs[1].SessionID)
	}
	if len(sessions) != 2 || sessions[0] != outs[0].SessionID || sessions[1] != outs[1].SessionID {
		t.Fatalf("handler saw sessions %v", sessions)
	}
	if gate.Busy() {
		t.Fatal("session leaked")
	}

	want := []string{"open:5", "set:5", "post:alice: volume set to 5", "post:bob: volume must be a number between 0 and 10"}
	if got := rec.all(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("steps: got %v, want %v", got, want)
	}

	if len(ev.got) != 2 || !ev.got[0].Success || ev.got[1].Success || ev.got[0].Subject != "vol" {
		t.Fatalf("events: %+v", ev.got)
	}
}

func TestDispatch_ConcurrentCallersDoNotInterleave(t *testing.T) {
	rec := &recorder{}
	gate := session.NewGate()
	h := HandlerFunc(func(ctx context.Context, inv Invocation) (Result, error) {
		rec.step("open:" + inv.Param(0))
		time.Sleep(2 * time.Millisecond)
		rec.step("set:" + inv.Param(0))
		return Result{}, nil
	})
	reg, _ := NewRegistry(quiet, Spec{Name: "vol", Handler: h})
	d, _ := NewDispatcher(Config{Registry: reg, Gate: gate, Poster: rec, Logger: quiet})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d.Dispatch(context.Background(), NewInvocation("vol", "u", strconv.Itoa(i)))
		}(i)
	}
	wg.Wait()

	steps := rec.all()
	for i := 0; i < len(steps); i++ {
		if strings.HasPrefix(steps[i], "open:") {
			n := strings.TrimPrefix(steps[i], "open:")
			if i+1 >= len(steps) || steps[i+1] != "set:"+n {
				t.Fatalf("interleaved UI steps: %v", steps)
			}
		}
	}
}

func TestDispatch_UnknownCommand(t *testing.T) {
	rec := &recorder{}
	d, gate := newTestDispatcher(t, rec, nil, Spec{Name: "vol", Handler: HandlerFunc(func(context.Context, Invocation) (Result, error) {
		return Result{}, nil
	})})

	inv, _ := d.Parse("alice: :dance now")
	out := d.Dispatch(context.Background(), inv)
	if !errors.Is(out.Err, ErrUnknownCommand) {
		t.Fatalf("err: got %v", out.Err)
	}
	if out.Reply != `alice: unknown command "dance"` {
		t.Fatalf("reply: %q", out.Reply)
	}
	if posts := rec.all(); len(posts) != 1 {
		t.Fatalf("unknown command must be answered: %v", posts)
	}
	if gate.Busy() {
		t.Fatal("session leaked")
	}
}

func TestDispatch_HandlerErrorAndPanic(t *testing.T) {
	rec := &recorder{}
	d, gate := newTestDispatcher(t, rec, nil,
		Spec{Name: "fail", Handler: HandlerFunc(func(context.Context, Invocation) (Result, error) {
			return nil, errors.New("disk on fire")
		})},
		Spec{Name: "boom", Handler: HandlerFunc(func(context.Context, Invocation) (Result, error) {
			panic("kaboom")
		})},
	)

	for _, name := range []string{"fail", "boom"} {
		out := d.Dispatch(context.Background(), NewInvocation(name, "alice"))
		var herr *HandlerError
		if !errors.As(out.Err, &herr) || herr.Command != name {
			t.Fatalf("%s: err %v", name, out.Err)
		}
		if strings.Contains(out.Reply, "disk") || strings.Contains(out.Reply, "kaboom") {
			t.Fatalf("%s: internal detail leaked: %q", name, out.Reply)
		}
		if !strings.HasPrefix(out.Reply, "alice: ") {
			t.Fatalf("%s: reply %q", name, out.Reply)
		}
		if gate.Busy() {
			t.Fatalf("%s: session leaked", name)
		}
	}
}

func TestDispatch_AtMostOnce(t *testing.T) {
	rec := &recorder{}
	calls := 0
	d, _ := newTestDispatcher(t, rec, nil, Spec{Name: "say", Handler: HandlerFunc(func(context.Context, Invocation) (Result, error) {
		calls++
		return Result{}, nil
	})})

	inv, _ := d.Parse(":say hi")
	d.Dispatch(context.Background(), inv)
	out := d.Dispatch(context.Background(), inv)
	if !errors.Is(out.Err, ErrDuplicate) || calls != 1 {
		t.Fatalf("second dispatch: err=%v calls=%d", out.Err, calls)
	}
}

func TestDispatch_PostFailureReported(t *testing.T) {
	rec := &recorder{fail: errors.New("input gone")}
	d, gate := newTestDispatcher(t, rec, nil, Spec{Name: "say", Handler: HandlerFunc(func(context.Context, Invocation) (Result, error) {
		return Result{}, nil
	})})
	out := d.Dispatch(context.Background(), NewInvocation("say", "alice"))
	if out.Err == nil || !strings.Contains(out.Err.Error(), "input gone") {
		t.Fatalf("err: %v", out.Err)
	}
	if gate.Busy() {
		t.Fatal("session leaked")
	}
}

func TestReject(t *testing.T) {
	rec := &recorder{}
	d, _ := newTestDispatcher(t, rec, nil)
	_, err := d.Parse(`alice: :say "open`)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("parse: %v", err)
	}
	if err := d.Reject(context.Background(), perr); err != nil {
		t.Fatal(err)
	}
	if got := rec.all(); len(got) != 1 || !strings.HasPrefix(got[0], "post:alice: unterminated") {
		t.Fatalf("reply: %v", got)
	}
}

type updater struct {
	updates int
	entered []string
	back    []string
}

func (u *updater) Process(context.Context, Invocation) (Result, error) { return Result{}, nil }
func (u *updater) Update(context.Context) error                         { u.updates++; return nil }
func (u *updater) OnUserEnter(_ context.Context, n string) error {
	u.entered = append(u.entered, n)
	return nil
}
func (u *updater) OnUserReturn(_ context.Context, n string) error {
	u.back = append(u.back, n)
	return nil
}

type panicky struct{}

func (panicky) Process(context.Context, Invocation) (Result, error) { return Result{}, nil }
func (panicky) Update(context.Context) error                         { panic("tick") }

func TestRegistry_HooksAndUpdate(t *testing.T) {
	u := &updater{}
	reg, err := NewRegistry(quiet, Spec{Name: "timer", Handler: u}, Spec{Name: "bad", Handler: panicky{}})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	err = reg.Update(ctx)
	var herr *HandlerError
	if !errors.As(err, &herr) || herr.Command != "bad" {
		t.Fatalf("update: %v", err)
	}
	if u.updates != 1 {
		t.Fatalf("updates: %d", u.updates)
	}

	reg.UserEnter(ctx, "alice")
	reg.UserReturn(ctx, "alice")
	if len(u.entered) != 1 || len(u.back) != 1 {
		t.Fatalf("hooks: %v %v", u.entered, u.back)
	}
}

func TestRegistry_RejectsBadSpecs(t *testing.T) {
	h := HandlerFunc(func(context.Context, Invocation) (Result, error) { return nil, nil })
	cases := [][]Spec{
		{{Name: "a", Handler: h}, {Name: "a", Handler: h}},
		{{Name: "", Handler: h}},
		{{Name: "x", Handler: nil}},
		{{Name: "Vol", Handler: h}},
		{{Name: "x", Handler: h, Template: "{{.broken"}},
	}
	for i, specs := range cases {
		if _, err := NewRegistry(quiet, specs...); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}
