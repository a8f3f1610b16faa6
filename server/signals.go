package server

import (
	"os"
	"syscall"
)

// installSignals routes SIGINT and SIGTERM to Shutdown(0). Every existing
// handler for those signals is reset first, including one left by another
// controller in the same process, so a signal never triggers two shutdowns.
func (c *Controller) installSignals() {
	c.uninstallSignals()

	ch := make(chan os.Signal, 1)
	quit := make(chan struct{})

	c.mu.Lock()
	if c.state >= StateStopping {
		c.mu.Unlock()
		return
	}
	c.sigCh = ch
	c.sigQuit = quit
	c.mu.Unlock()

	c.signals.Reset(syscall.SIGINT, syscall.SIGTERM)
	c.signals.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-ch:
			c.logger.Info("signal received", map[string]interface{}{"signal": sig.String()})
			c.Shutdown(0)
		case <-quit:
		}
	}()
}

// uninstallSignals stops signal delivery to the controller. It does not wait
// for the handler goroutine, which may itself be running Shutdown.
func (c *Controller) uninstallSignals() {
	c.mu.Lock()
	ch, quit := c.sigCh, c.sigQuit
	c.sigCh, c.sigQuit = nil, nil
	c.mu.Unlock()

	if ch != nil {
		c.signals.Stop(ch)
	}
	if quit != nil {
		close(quit)
	}
}
