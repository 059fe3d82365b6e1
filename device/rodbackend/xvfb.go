package rodbackend

import (
	"fmt"
	"os/exec"
	"time"
)

// startXvfb launches the virtual display used in headful mode.
func (b *Backend) startXvfb() error {
	if b.xvfb != nil {
		return nil
	}
	display := b.cfg.XvfbDisplay
	cmd := exec.Command("Xvfb", display, "-screen", "0", "1280x900x24", "-ac")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}
	b.xvfb = cmd
	time.Sleep(500 * time.Millisecond)
	b.cfg.Logger.Info("rodbackend: xvfb started", "display", display, "pid", cmd.Process.Pid)
	return nil
}

func (b *Backend) stopXvfb() {
	if b.xvfb == nil {
		return
	}
	if b.xvfb.Process != nil {
		b.xvfb.Process.Kill()
		b.xvfb.Wait()
	}
	b.cfg.Logger.Info("rodbackend: xvfb stopped")
	b.xvfb = nil
}
