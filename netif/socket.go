// SPDX-FileCopyrightText: 2022 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package netif

import (
	"github.com/ironcore-dev/campoison/receiver"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

const (
	ProtoARP uint16 = unix.ETH_P_ARP
	ProtoAll uint16 = unix.ETH_P_ALL
)

// Socket is a raw AF_PACKET socket bound to one interface, which is put into
// promiscuous mode for the socket's lifetime.
type Socket struct {
	fd       int
	proto    uint16
	iface    *Interface
	promisc  bool
	promLink netlink.Link
}

// Listen opens a raw socket on iface receiving frames of the given EtherType.
func Listen(iface *Interface, proto uint16) (*Socket, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(htons(proto)))
	if err != nil {
		return nil, errors.Wrap(err, "cannot open raw socket")
	}

	addr := unix.SockaddrLinklayer{
		Protocol: htons(proto),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "cannot bind raw socket to %s", iface.Name)
	}

	s := &Socket{
		fd:    fd,
		proto: proto,
		iface: iface,
	}

	if err := s.enablePromisc(); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return s, nil
}

func (s *Socket) enablePromisc() error {
	link, err := netlink.LinkByIndex(s.iface.Index)
	if err != nil {
		return errors.Wrapf(err, "cannot get link %d", s.iface.Index)
	}
	if link.Attrs().Promisc != 0 {
		return nil
	}

	if err := netlink.SetPromiscOn(link); err != nil {
		return errors.Wrapf(err, "cannot switch %s to promiscuous mode", s.iface.Name)
	}
	log.Debugf("Interface %s switched to promiscuous mode", s.iface.Name)

	s.promisc = true
	s.promLink = link
	return nil
}

// Send writes one raw Ethernet frame to the wire.
func (s *Socket) Send(frame []byte) error {
	if len(frame) < 6 {
		return errors.Errorf("frame too short (%d bytes)", len(frame))
	}

	addr := unix.SockaddrLinklayer{
		Protocol: htons(s.proto),
		Ifindex:  s.iface.Index,
		Halen:    6,
	}
	copy(addr.Addr[:], frame[0:6])

	if err := unix.Sendto(s.fd, frame, 0, &addr); err != nil {
		return errors.Wrapf(err, "cannot send frame on %s", s.iface.Name)
	}
	return nil
}

func (s *Socket) Source() receiver.Source {
	return receiver.Source{Name: "wire", Fd: s.fd}
}

// Close closes the socket and restores the interface's promiscuous flag if
// Listen changed it.
func (s *Socket) Close() error {
	if s.promisc {
		if err := netlink.SetPromiscOff(s.promLink); err != nil {
			log.Warnf("Cannot switch %s back from promiscuous mode: %v", s.iface.Name, err)
		}
		s.promisc = false
	}
	return unix.Close(s.fd)
}

// Inbound reports whether a frame was received rather than sent by this host.
// Addresses other than link-layer ones carry no direction and count as inbound.
func Inbound(from unix.Sockaddr) bool {
	ll, ok := from.(*unix.SockaddrLinklayer)
	if !ok {
		return true
	}
	return ll.Pkttype != unix.PACKET_OUTGOING
}

// htons converts a uint16 from host to network byte order
func htons(i uint16) uint16 {
	return (i<<8)&0xff00 | i>>8
}
