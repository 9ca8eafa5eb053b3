// SPDX-FileCopyrightText: 2022 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package arp

import (
	"bytes"
	"net"
	"net/netip"
	"sync"

	log "github.com/sirupsen/logrus"
)

// DefaultCacheSize is the initial capacity of a cache.
const DefaultCacheSize = 1024

type CacheEntry struct {
	HardwareAddr net.HardwareAddr
	IP           netip.Addr
}

// Cache is an append-only table of hardware/protocol address pairs. Entries
// are never updated or removed: a host resolved twice appears twice and
// lookups return the first match.
type Cache struct {
	rwmtx   sync.RWMutex
	entries []CacheEntry
	limit   int
}

// NewCache returns an empty cache. limit caps the number of entries the cache
// may grow to; zero or less means unbounded.
func NewCache(limit int) *Cache {
	return &Cache{
		entries: make([]CacheEntry, 0, DefaultCacheSize),
		limit:   limit,
	}
}

// Add appends a record. When the table is full its capacity is doubled; if
// that would exceed the limit the record is dropped and false is returned.
func (c *Cache) Add(mac net.HardwareAddr, ip netip.Addr) bool {
	c.rwmtx.Lock()
	defer c.rwmtx.Unlock()

	if len(c.entries) == cap(c.entries) {
		size := 2 * cap(c.entries)
		if size == 0 {
			size = DefaultCacheSize
		}
		if c.limit > 0 && size > c.limit {
			log.Warnf("Cannot extend ARP cache beyond %d entries: %s dropped", cap(c.entries), ip)
			return false
		}

		entries := make([]CacheEntry, len(c.entries), size)
		copy(entries, c.entries)
		c.entries = entries
	}

	entry := CacheEntry{
		HardwareAddr: append(net.HardwareAddr(nil), mac...),
		IP:           ip,
	}
	c.entries = append(c.entries, entry)

	log.Infof("ARP Cache updated: %-16s is at %s", entry.IP, entry.HardwareAddr)
	return true
}

// LookupIP returns the protocol address of the first entry matching mac.
func (c *Cache) LookupIP(mac net.HardwareAddr) (netip.Addr, bool) {
	c.rwmtx.RLock()
	defer c.rwmtx.RUnlock()

	for _, e := range c.entries {
		if bytes.Equal(e.HardwareAddr, mac) {
			log.Debugf("ARP cache search: %s found at %s", mac, e.IP)
			return e.IP, true
		}
	}

	log.Debugf("ARP cache search: %s not found", mac)
	return netip.Addr{}, false
}

// LookupMAC returns the hardware address of the first entry matching ip.
func (c *Cache) LookupMAC(ip netip.Addr) (net.HardwareAddr, bool) {
	c.rwmtx.RLock()
	defer c.rwmtx.RUnlock()

	for _, e := range c.entries {
		if e.IP == ip {
			log.Debugf("ARP cache search: %s found at %s", ip, e.HardwareAddr)
			return e.HardwareAddr, true
		}
	}

	log.Debugf("ARP cache search: %s not found", ip)
	return nil, false
}

func (c *Cache) Len() int {
	c.rwmtx.RLock()
	defer c.rwmtx.RUnlock()

	return len(c.entries)
}

func (c *Cache) Cap() int {
	c.rwmtx.RLock()
	defer c.rwmtx.RUnlock()

	return cap(c.entries)
}

// Entries returns a copy of the table in insertion order.
func (c *Cache) Entries() []CacheEntry {
	c.rwmtx.RLock()
	defer c.rwmtx.RUnlock()

	ret := make([]CacheEntry, len(c.entries))
	copy(ret, c.entries)
	return ret
}

// Clear drops every entry and releases the backing storage.
func (c *Cache) Clear() {
	c.rwmtx.Lock()
	defer c.rwmtx.Unlock()

	c.entries = nil
	log.Debugf("ARP cache freed")
}
