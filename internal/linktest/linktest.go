// SPDX-FileCopyrightText: 2022 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package linktest replaces the raw link with a unix datagram socketpair so
// that the resolver and the attack loop can be tested without privileges.
package linktest

import (
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/ironcore-dev/campoison/receiver"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Link is the attacker's end of a socketpair.
type Link struct {
	Name string
	fd   int
}

func (l *Link) Send(frame []byte) error {
	_, err := unix.Write(l.fd, frame)
	return err
}

func (l *Link) Source() receiver.Source {
	return receiver.Source{Name: l.Name, Fd: l.fd}
}

func (l *Link) Close() error {
	return unix.Close(l.fd)
}

// Pair returns a link and the connection of its peer.
func Pair(name string) (*Link, *net.UnixConn, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, errors.Wrap(err, "socketpair")
	}

	f := os.NewFile(uintptr(fds[1]), name+"-peer")
	conn, err := net.FilePacketConn(f)
	f.Close()
	if err != nil {
		unix.Close(fds[0])
		return nil, nil, errors.Wrap(err, "peer conn")
	}

	return &Link{Name: name, fd: fds[0]}, conn.(*net.UnixConn), nil
}

// Host is a station behind the fake switch.
type Host struct {
	MAC net.HardwareAddr
	IP  netip.Addr
	// ReplyFrom is the 1-based request number from which the host starts
	// answering. Zero answers the first request.
	ReplyFrom int
	// Silent hosts never answer.
	Silent bool

	requests int
}

// Switch plays the network on the peer side of a link: it records every frame
// the attacker sends and answers ARP requests for its hosts.
type Switch struct {
	conn *net.UnixConn

	mtx    sync.Mutex
	hosts  map[netip.Addr]*Host
	frames [][]byte

	done chan struct{}
	wg   sync.WaitGroup
}

func NewSwitch(conn *net.UnixConn, hosts ...*Host) *Switch {
	s := &Switch{
		conn:  conn,
		hosts: map[netip.Addr]*Host{},
		done:  make(chan struct{}),
	}
	for _, h := range hosts {
		s.hosts[h.IP] = h
	}
	return s
}

func (s *Switch) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Switch) Stop() {
	close(s.done)
	s.wg.Wait()
	s.conn.Close()
}

func (s *Switch) run() {
	defer s.wg.Done()
	buf := make([]byte, 2048)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
		n, err := s.conn.Read(buf)
		if err != nil {
			continue
		}

		frame := append([]byte(nil), buf[:n]...)
		s.mtx.Lock()
		s.frames = append(s.frames, frame)
		reply := s.answer(frame)
		s.mtx.Unlock()

		if reply != nil {
			_, _ = s.conn.Write(reply)
		}
	}
}

func (s *Switch) answer(frame []byte) []byte {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	layer := pkt.Layer(layers.LayerTypeARP)
	if layer == nil {
		return nil
	}
	req := layer.(*layers.ARP)
	if req.Operation != layers.ARPRequest {
		return nil
	}

	target, ok := netip.AddrFromSlice(req.DstProtAddress)
	if !ok {
		return nil
	}
	h, ok := s.hosts[target]
	if !ok {
		return nil
	}

	h.requests++
	if h.Silent || h.requests < h.ReplyFrom {
		return nil
	}

	reply, err := ReplyFrame(h.MAC, h.IP, req.SourceHwAddress, req.SourceProtAddress)
	if err != nil {
		return nil
	}
	return reply
}

// Inject delivers a frame to the attacker as if it came from the wire.
func (s *Switch) Inject(frame []byte) error {
	_, err := s.conn.Write(frame)
	return err
}

// Frames returns a copy of everything the attacker sent so far.
func (s *Switch) Frames() [][]byte {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return append([][]byte(nil), s.frames...)
}

// Requests returns how many ARP requests targeted ip.
func (s *Switch) Requests(ip netip.Addr) int {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if h, ok := s.hosts[ip]; ok {
		return h.requests
	}
	return 0
}

// ReplyFrame serializes an ARP reply from mac/ip to dstMAC/dstIP.
func ReplyFrame(mac net.HardwareAddr, ip netip.Addr, dstMAC, dstIP []byte) ([]byte, error) {
	eth := layers.Ethernet{
		SrcMAC:       mac,
		DstMAC:       net.HardwareAddr(dstMAC),
		EthernetType: layers.EthernetTypeARP,
	}
	arp := layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   mac,
		SourceProtAddress: ip.AsSlice(),
		DstHwAddress:      dstMAC,
		DstProtAddress:    dstIP,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &arp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EthernetFrame builds a frame with an IPv4 EtherType and the given payload.
func EthernetFrame(dst, src net.HardwareAddr, payload []byte) []byte {
	frame := make([]byte, 14, 14+len(payload))
	copy(frame[0:6], dst)
	copy(frame[6:12], src)
	frame[12] = 0x08
	frame[13] = 0x00
	return append(frame, payload...)
}

// Flush sends a zero-length datagram on conn.
func Flush(conn *net.UnixConn) error {
	rc, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var werr error
	err = rc.Write(func(fd uintptr) bool {
		_, werr = unix.Write(int(fd), nil)
		return werr != unix.EAGAIN
	})
	if err != nil {
		return err
	}
	return werr
}
