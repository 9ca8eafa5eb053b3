// SPDX-FileCopyrightText: 2022 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package campoison

import (
	"net/netip"
	"time"

	"github.com/ironcore-dev/campoison/netif"
	"github.com/pkg/errors"
)

const DefaultFrequency = 20 * time.Millisecond

type Config struct {
	// Host1 and Host2 are the hosts whose traffic is intercepted.
	Host1 netip.Addr
	Host2 netip.Addr
	// Frequency is how long frames are collected between two poisonings.
	Frequency time.Duration
	// QueueLimit caps the number of destinations buffered per cycle. Zero
	// means unbounded.
	QueueLimit int
}

// Validate checks the configuration against the interface the attack runs on.
func (c *Config) Validate(iface *netif.Interface) error {
	if c.Frequency < time.Millisecond {
		return errors.Errorf("frequency must be at least 1ms, got %v", c.Frequency)
	}
	if c.QueueLimit < 0 {
		return errors.Errorf("queue limit must not be negative, got %d", c.QueueLimit)
	}

	for _, host := range []netip.Addr{c.Host1, c.Host2} {
		if !host.Is4() {
			return errors.Errorf("%s is not a valid IPv4 address", host)
		}
		if !iface.Contains(host) {
			return errors.Errorf("%s is not in the subnet of %s", host, iface.Name)
		}
	}

	if c.Host1 == c.Host2 {
		return errors.Errorf("both hosts are %s", c.Host1)
	}

	return nil
}
