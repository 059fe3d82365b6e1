package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/partyhost/command"
	"github.com/hazyhaar/partyhost/device"
	"github.com/hazyhaar/partyhost/uitree"
)

// VolumeConfig locates the volume control. Level is the key of one level
// button; "{level}" in its id or xpath is replaced with the requested
// level.
type VolumeConfig struct {
	Max   int           `yaml:"max"`
	Open  uitree.Key    `yaml:"open"`
	Level uitree.Key    `yaml:"level"`
	Wait  time.Duration `yaml:"wait"`
}

func (c VolumeConfig) withDefaults() VolumeConfig {
	if c.Max <= 0 {
		c.Max = 10
	}
	if c.Wait <= 0 {
		c.Wait = 3 * time.Second
	}
	return c
}

func volumeUsage(c VolumeConfig) string {
	return fmt.Sprintf(":vol <0-%d>", c.Max)
}

// Volume opens the volume control and clicks the requested level. It runs
// inside the command's UI session, so the two clicks cannot be interleaved
// with recovery or triggers.
type Volume struct {
	loc device.Locator
	cfg VolumeConfig
}

// NewVolume creates the vol handler.
func NewVolume(loc device.Locator, cfg VolumeConfig) *Volume {
	return &Volume{loc: loc, cfg: cfg.withDefaults()}
}

func (v *Volume) Process(ctx context.Context, inv command.Invocation) (command.Result, error) {
	level, err := strconv.Atoi(inv.Param(0))
	if inv.NumParams() != 1 || err != nil || level < 0 || level > v.cfg.Max {
		return command.Errorf("volume must be a number between 0 and %d", v.cfg.Max), nil
	}

	open, ok, err := v.loc.Locate(ctx, v.cfg.Open)
	if err != nil {
		return nil, fmt.Errorf("vol: locate %s: %w", v.cfg.Open, err)
	}
	if !ok {
		return command.Errorf("the volume control is not on screen"), nil
	}
	if _, err := v.loc.Click(ctx, open); err != nil {
		return nil, fmt.Errorf("vol: open control: %w", err)
	}

	key := levelKey(v.cfg.Level, level)
	h, ok, err := v.loc.WaitClickable(ctx, key, v.cfg.Wait)
	if err != nil {
		return nil, fmt.Errorf("vol: wait for level %d: %w", level, err)
	}
	if !ok {
		return command.Errorf("volume level %d is not available", level), nil
	}
	clicked, err := v.loc.Click(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("vol: click level %d: %w", level, err)
	}
	if !clicked {
		return command.Errorf("volume level %d went away before it could be set", level), nil
	}
	return command.Result{"level": level}, nil
}

func levelKey(k uitree.Key, level int) uitree.Key {
	n := strconv.Itoa(level)
	k.ID = strings.ReplaceAll(k.ID, "{level}", n)
	k.XPath = strings.ReplaceAll(k.XPath, "{level}", n)
	if k.Name != "" {
		k.Name = k.Name + "-" + n
	}
	return k
}
