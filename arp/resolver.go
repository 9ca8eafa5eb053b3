// SPDX-FileCopyrightText: 2022 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package arp

import (
	"net/netip"
	"time"

	"github.com/ironcore-dev/campoison/netif"
	"github.com/ironcore-dev/campoison/receiver"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	ScanBurst        = 128
	ScanTimeout      = 250 * time.Millisecond
	ScanFinalTimeout = 1000 * time.Millisecond

	EnsureTimeout    = 150 * time.Millisecond
	EnsureMaxRetries = 5

	RestoreTimeout    = 150 * time.Millisecond
	RestoreMaxRetries = 3
)

// Link sends frames on the wire and exposes its socket to the receiver.
type Link interface {
	Send(frame []byte) error
	Source() receiver.Source
}

// Resolver maps IPv4 addresses to hardware addresses by talking ARP on a link
// and records every reply it sees in the cache.
type Resolver struct {
	ScanBurst        int
	ScanTimeout      time.Duration
	ScanFinalTimeout time.Duration

	EnsureTimeout    time.Duration
	EnsureMaxRetries int

	RestoreTimeout    time.Duration
	RestoreMaxRetries int

	iface   *netif.Interface
	cache   *Cache
	codec   *Codec
	link    Link
	decoder *Decoder
	buf     [FrameSize]byte
}

func NewResolver(iface *netif.Interface, cache *Cache, link Link) *Resolver {
	return &Resolver{
		ScanBurst:         ScanBurst,
		ScanTimeout:       ScanTimeout,
		ScanFinalTimeout:  ScanFinalTimeout,
		EnsureTimeout:     EnsureTimeout,
		EnsureMaxRetries:  EnsureMaxRetries,
		RestoreTimeout:    RestoreTimeout,
		RestoreMaxRetries: RestoreMaxRetries,
		iface:             iface,
		cache:             cache,
		codec:             NewCodec(iface, cache),
		link:              link,
		decoder:           NewDecoder(),
	}
}

func (r *Resolver) Cache() *Cache {
	return r.cache
}

func (r *Resolver) Codec() *Codec {
	return r.codec
}

// Scan sweeps every usable address of the interface subnet in bursts and
// merges all replies into the cache, solicited or not. It returns the cache
// size afterwards.
func (r *Resolver) Scan() (int, error) {
	first, last := r.iface.FirstIP(), r.iface.LastIP()

	log.Debugf("Launching the ARP scan from %s to %s", netif.FromUint32(first), netif.FromUint32(last))

	burst := max(r.ScanBurst, 1)
	timeout := r.ScanTimeout
	for cur := first; cur <= last; {
		for i := 0; i < burst && cur <= last; i++ {
			if err := r.request(netif.FromUint32(cur)); err != nil {
				return r.cache.Len(), err
			}
			cur++
		}

		if cur > last {
			timeout = r.ScanFinalTimeout
		}

		if _, err := receiver.ReceiveFrom(r.link.Source(), timeout, r.updateCache(netip.Addr{})); err != nil {
			return r.cache.Len(), err
		}
	}

	return r.cache.Len(), nil
}

// Ensure makes sure ip is in the cache, sending up to EnsureMaxRetries
// requests. It reports false if the host never answered.
func (r *Resolver) Ensure(ip netip.Addr) (bool, error) {
	logger := log.WithField("ip", ip)
	logger.Infof("Ensure host is in the local ARP cache")

	if _, ok := r.cache.LookupMAC(ip); ok {
		logger.Debugf("Host is already in the local cache")
		return true, nil
	}

	for i := 0; i < r.EnsureMaxRetries; i++ {
		logger.Debugf("ARP Ensure: sending packet #%d", i+1)
		if err := r.request(ip); err != nil {
			return false, err
		}

		res, err := receiver.ReceiveFrom(r.link.Source(), r.EnsureTimeout, r.updateCache(ip))
		if err != nil {
			return false, err
		}
		if res == receiver.Stopped {
			return true, nil
		}
	}

	return false, nil
}

// Restore asks ip to answer so that the switch relearns the port of its
// hardware address. Every inbound frame other than the awaited reply is
// passed to other.
func (r *Resolver) Restore(ip netip.Addr, other func(frame []byte)) (bool, error) {
	logger := log.WithField("ip", ip)

	handler := func(_ receiver.Source, data []byte, from unix.Sockaddr) receiver.Action {
		if !netif.Inbound(from) || len(data) < EthernetHeaderSize {
			return receiver.Continue
		}
		if reply, ok := r.decoder.Reply(data); ok && reply.SenderIP == ip {
			logger.Debugf("Received ARP reply which restored CAM tables")
			return receiver.Stop
		}
		other(data)
		return receiver.Continue
	}

	for i := 0; i < r.RestoreMaxRetries; i++ {
		logger.Debugf("ARP Restoration: sending packet #%d", i+1)
		if err := r.request(ip); err != nil {
			return false, err
		}

		res, err := receiver.ReceiveFrom(r.link.Source(), r.RestoreTimeout, handler)
		if err != nil {
			return false, err
		}
		if res == receiver.Stopped {
			return true, nil
		}
	}

	logger.Errorf("Failed to restore CAM tables")
	return false, nil
}

// RestoreAsync sends a single request to ip without waiting for the reply.
func (r *Resolver) RestoreAsync(ip netip.Addr) error {
	log.WithField("ip", ip).Debugf("Sending ARP request asynchronously to restore CAM tables")
	return r.request(ip)
}

func (r *Resolver) request(ip netip.Addr) error {
	n, err := r.codec.Request(r.buf[:], ip)
	if err != nil {
		return errors.Wrap(err, "failed to craft an ARP request")
	}
	if err := r.link.Send(r.buf[:n]); err != nil {
		return errors.Wrapf(err, "error while sending ARP request for %s", ip)
	}
	return nil
}

// updateCache merges every valid inbound reply into the cache and stops once
// a reply from want arrives. An invalid want never stops the loop.
func (r *Resolver) updateCache(want netip.Addr) receiver.Handler {
	return func(_ receiver.Source, data []byte, from unix.Sockaddr) receiver.Action {
		if !netif.Inbound(from) {
			return receiver.Continue
		}

		reply, ok := r.decoder.Reply(data)
		if !ok {
			return receiver.Continue
		}

		r.cache.Add(reply.SenderHardwareAddr, reply.SenderIP)

		if want.IsValid() && reply.SenderIP == want {
			return receiver.Stop
		}
		return receiver.Continue
	}
}
