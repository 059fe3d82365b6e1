// Package builtin holds the commands partyhost ships with: help, say, vol
// and welcome. Real deployments register their own handlers next to them.
package builtin

import (
	"time"

	"github.com/hazyhaar/partyhost/command"
	"github.com/hazyhaar/partyhost/device"
)

// Config wires the built-in commands.
type Config struct {
	// Usages lists the registered commands for help. It is called at
	// dispatch time, after the registry exists.
	Usages func() []command.Usage

	Locator device.Locator
	Volume  VolumeConfig

	Queue *command.Queue
	// WelcomeCooldown suppresses repeated greetings for the same user.
	WelcomeCooldown time.Duration
}

// Specs returns the registry entries for every built-in command. vol is
// only included when a volume control is configured.
func Specs(cfg Config) []command.Spec {
	specs := []command.Spec{
		{
			Name:     "help",
			Usage:    ":help [command]",
			Handler:  &Help{Usages: cfg.Usages},
			Template: "{{.user}}: {{.text}}",
		},
		{
			Name:     "say",
			Usage:    ":say <text>",
			Handler:  Say{},
			Template: "{{.text}}",
		},
	}
	if cfg.Locator != nil && !cfg.Volume.Open.IsZero() {
		specs = append(specs, command.Spec{
			Name:     "vol",
			Usage:    volumeUsage(cfg.Volume.withDefaults()),
			Handler:  NewVolume(cfg.Locator, cfg.Volume),
			Template: "{{.user}}: volume set to {{.level}}",
		})
	}
	if cfg.Queue != nil {
		specs = append(specs, command.Spec{
			Name:     "welcome",
			Usage:    ":welcome [back]",
			Handler:  NewWelcome(cfg.Queue, cfg.WelcomeCooldown),
			Template: "{{.greeting}}, {{.user}}!",
		})
	}
	return specs
}
