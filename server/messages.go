package server

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
)

const envProduction = "production"

func (c *Controller) logStartMessages() {
	c.logger.Info(fmt.Sprintf("TaskTracker is running in %s...", c.config.Env))

	if c.config.Env == envProduction {
		c.logger.Info("Your task tracker api is now available")
	} else {
		c.logger.Info("Listening on: " + c.Address())
		c.logger.Info("Url configured as: " + c.URL())
	}

	c.logger.Info("Ctrl+C to shut down")
}

func (c *Controller) logStopMessages() {
	c.logger.Warn("TaskTracker has shut down")

	if c.config.Env == envProduction {
		c.logger.Warn("Your API is now offline")
	}

	c.logger.Warn("TaskTracker was running for " + Uptime())
}

// Uptime returns the humanized time since the process started, e.g.
// "About a minute".
func Uptime() string {
	return units.HumanDuration(time.Since(processStart))
}
