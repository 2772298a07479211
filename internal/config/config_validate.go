// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package config

import (
	"fmt"
	"net/url"

	"github.com/tomtom215/recserve/internal/validation"
)

// Validate checks field-level rules declared in struct tags, then the rules
// that span sections.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	return c.validateEvents()
}

func (c *Config) validateServer() error {
	if !c.Server.RateLimitDisabled && (c.Server.RateLimitReqs <= 0 || c.Server.RateLimitWindow <= 0) {
		return fmt.Errorf("server.rate_limit_requests and server.rate_limit_window must be positive when rate limiting is enabled")
	}
	return nil
}

func (c *Config) validateCache() error {
	switch c.Cache.Backend {
	case "badger":
		if c.Cache.Dir == "" {
			return fmt.Errorf("cache.dir is required when cache.backend=badger")
		}
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required when cache.backend=redis")
		}
	}
	return nil
}

func (c *Config) validateEvents() error {
	if !c.Events.Enabled || c.Events.Backend != "nats" {
		return nil
	}
	u, err := url.Parse(c.Events.NATSURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("events.nats_url is invalid: %q", c.Events.NATSURL)
	}
	if u.Scheme != "nats" && u.Scheme != "tls" {
		return fmt.Errorf("events.nats_url must use nats:// or tls://, got %q", u.Scheme)
	}
	return nil
}

// EventsDir returns the directory receiving recorded feedback batches.
func (c *Config) EventsDir() string {
	if c.Events.Dir != "" {
		return c.Events.Dir
	}
	return c.Data.Path("events")
}
