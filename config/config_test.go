package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/partyhost/device"
)

func TestLoadFile_Example(t *testing.T) {
	cfg, err := LoadFile(filepath.Join("..", "partyhost.example.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Device.Driver != "rod" || cfg.Device.Rod.Send != "//button[@id='send']" {
		t.Fatalf("device: %+v", cfg.Device)
	}
	if cfg.Stream.DeliverBacklog() {
		t.Fatal("skip_backlog: true must not deliver the backlog")
	}
	if got := cfg.Commands.Syntax.Sigils; len(got) != 1 || got[0] != ":" {
		t.Fatalf("sigils: %v", got)
	}
	if cfg.Commands.Volume.Level.XPath == "" || cfg.Commands.Volume.Wait != 3*time.Second {
		t.Fatalf("volume: %+v", cfg.Commands.Volume)
	}
	if cfg.Commands.WelcomeCooldown != 10*time.Minute {
		t.Fatalf("welcome cooldown: %v", cfg.Commands.WelcomeCooldown)
	}
	if cfg.Recovery.Marker.ID != "chat-input" || len(cfg.Recovery.Close) != 2 {
		t.Fatalf("recovery: %+v", cfg.Recovery.Rules)
	}
	if cfg.Recovery.Drawers[0].Side != device.SideRight || cfg.Recovery.Situations[0].Click.ID != "rejoin-button" {
		t.Fatalf("recovery drawers/situations: %+v", cfg.Recovery.Rules)
	}
	if len(cfg.Schedules) != 1 || cfg.Schedules[0].Every != 30*time.Minute {
		t.Fatalf("schedules: %+v", cfg.Schedules)
	}
	if len(cfg.Keywords) != 1 || cfg.Keywords[0].Line != ":help" {
		t.Fatalf("keywords: %+v", cfg.Keywords)
	}
	if cfg.Admin.Addr != "127.0.0.1:8791" || !cfg.Admin.MCP {
		t.Fatalf("admin: %+v", cfg.Admin)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
device:
  driver: fake
recovery:
  marker: {id: chat-input}
triggers:
  - key: {id: accept}
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Stream.Capacity != 3 || cfg.Stream.MaxScroll != 10 || cfg.Stream.StableLimit != 3 {
		t.Fatalf("stream defaults: %+v", cfg.Stream)
	}
	if cfg.Stream.DeliverBacklog() {
		t.Fatal("backlog must be skipped by default")
	}
	if cfg.Commands.Syntax.SenderSep != ": " || cfg.Commands.QueueLimit != 256 {
		t.Fatalf("command defaults: %+v", cfg.Commands)
	}
	if cfg.Host.ErrorThreshold != 5 || cfg.Host.CycleTimeout != 2*time.Minute {
		t.Fatalf("host defaults: %+v", cfg.Host)
	}
	if cfg.Triggers[0].Action != "click" {
		t.Fatalf("trigger action: %q", cfg.Triggers[0].Action)
	}
	if cfg.DB.Path != "partyhost.db" || cfg.Recovery.Cooldown != 5*time.Second {
		t.Fatalf("db/recovery defaults: %+v %v", cfg.DB, cfg.Recovery.Cooldown)
	}
}

func TestParse_Backlog(t *testing.T) {
	cfg, err := Parse([]byte("device: {driver: fake}\nstream: {skip_backlog: false}\nrecovery: {marker: {id: m}}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Stream.DeliverBacklog() {
		t.Fatal("skip_backlog: false must deliver the backlog")
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	_, err := Parse([]byte(`
device:
  driver: rod
  rod: {mode: sideways}
triggers:
  - key: {name: nothing}
    action: hover
schedules:
  - command: ":say hi"
`))
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	for _, want := range []string{"device.rod.url", "device.rod.mode", "recovery.marker", "triggers[0] has an empty key", "unknown action", "schedules[0]"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
}

func TestParse_UnknownDriver(t *testing.T) {
	if _, err := Parse([]byte("device: {driver: adb}\nrecovery: {marker: {id: m}}\n")); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); !os.IsNotExist(err) {
		t.Fatalf("err: %v", err)
	}
}
