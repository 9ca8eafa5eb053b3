// SPDX-FileCopyrightText: 2022 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package arp crafts and parses ARP frames and keeps the local ARP cache.
package arp

import (
	"encoding/binary"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/ironcore-dev/campoison/netif"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// EthernetHeaderSize is the size of an untagged Ethernet II header.
	EthernetHeaderSize = 14
	// FrameSize is the size of an Ethernet header followed by an IPv4 ARP
	// message, without padding.
	FrameSize = EthernetHeaderSize + 28

	opRequest = 1
	opReply   = 2
)

var (
	ErrShortBuffer = errors.New("buffer too small for an ARP frame")
	ErrUnknownHost = errors.New("hardware address not in ARP cache")

	Broadcast = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
)

// Codec builds ARP frames on behalf of a local interface.
type Codec struct {
	iface *netif.Interface
	cache *Cache
}

func NewCodec(iface *netif.Interface, cache *Cache) *Codec {
	return &Codec{
		iface: iface,
		cache: cache,
	}
}

// Request writes a broadcast who-has for target into buf. target may be the
// unspecified address.
func (c *Codec) Request(buf []byte, target netip.Addr) (int, error) {
	return encodeRequest(buf, c.iface.HardwareAddr, c.iface.IP, target)
}

// Poison writes a who-has for the local interface address whose Ethernet
// source and sender addresses impersonate victim. Switches receiving it learn
// that victim is reachable through the attacker's port. The victim's IP is
// taken from the cache.
func (c *Codec) Poison(buf []byte, victim net.HardwareAddr) (int, error) {
	ip, ok := c.cache.LookupIP(victim)
	if !ok {
		return 0, errors.Wrapf(ErrUnknownHost, "cannot poison %s", victim)
	}
	return encodeRequest(buf, victim, ip, c.iface.IP)
}

func encodeRequest(buf []byte, sender net.HardwareAddr, senderIP, target netip.Addr) (int, error) {
	if len(buf) < FrameSize {
		log.Warnf("Try to create an ARP request with a too-small buffer (%d bytes)", len(buf))
		return 0, ErrShortBuffer
	}

	// Ethernet header
	copy(buf[0:6], Broadcast)
	copy(buf[6:12], sender)
	binary.BigEndian.PutUint16(buf[12:14], uint16(layers.EthernetTypeARP))

	// ARP message
	binary.BigEndian.PutUint16(buf[14:16], uint16(layers.LinkTypeEthernet))
	binary.BigEndian.PutUint16(buf[16:18], uint16(layers.EthernetTypeIPv4))
	buf[18] = 6
	buf[19] = 4
	binary.BigEndian.PutUint16(buf[20:22], opRequest)

	spa := senderIP.As4()
	tpa := target.As4()
	copy(buf[22:28], sender)
	copy(buf[28:32], spa[:])
	clear(buf[32:38])
	copy(buf[38:42], tpa[:])

	return FrameSize, nil
}

// Reply is the part of an ARP reply the resolver cares about.
type Reply struct {
	SenderHardwareAddr net.HardwareAddr
	SenderIP           netip.Addr
}

// Decoder parses Ethernet/ARP frames without allocating per frame. It is not
// safe for concurrent use.
type Decoder struct {
	eth     layers.Ethernet
	arp     layers.ARP
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

func NewDecoder() *Decoder {
	d := &Decoder{
		decoded: make([]gopacket.LayerType, 0, 2),
	}
	d.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &d.eth, &d.arp)
	d.parser.IgnoreUnsupported = true
	return d
}

// IsARP reports whether frame carries the ARP EtherType.
func (d *Decoder) IsARP(frame []byte) bool {
	if len(frame) < EthernetHeaderSize {
		return false
	}
	return layers.EthernetType(binary.BigEndian.Uint16(frame[12:14])) == layers.EthernetTypeARP
}

// Decode returns the ARP layer of frame if it is an Ethernet/IPv4 ARP message.
// The returned layer is only valid until the next call.
func (d *Decoder) Decode(frame []byte) (*layers.ARP, bool) {
	if !d.IsARP(frame) || len(frame) < FrameSize {
		return nil, false
	}

	if err := d.parser.DecodeLayers(frame, &d.decoded); err != nil {
		log.Debugf("Cannot decode ARP frame: %v", err)
		return nil, false
	}
	if len(d.decoded) < 2 || d.decoded[1] != layers.LayerTypeARP {
		return nil, false
	}

	if d.arp.AddrType != layers.LinkTypeEthernet ||
		d.arp.Protocol != layers.EthernetTypeIPv4 ||
		d.arp.HwAddressSize != 6 ||
		d.arp.ProtAddressSize != 4 {
		return nil, false
	}

	return &d.arp, true
}

// Reply checks that frame is an Ethernet/IPv4 ARP reply and extracts the
// sender. Frame direction is left to the caller.
func (d *Decoder) Reply(frame []byte) (Reply, bool) {
	arp, ok := d.Decode(frame)
	if !ok || arp.Operation != opReply {
		return Reply{}, false
	}

	return Reply{
		SenderHardwareAddr: net.HardwareAddr(arp.SourceHwAddress),
		SenderIP:           netip.AddrFrom4([4]byte(arp.SourceProtAddress)),
	}, true
}

// Dump renders a frame for trace logging.
func Dump(frame []byte) string {
	return gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy).Dump()
}
