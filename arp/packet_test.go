// SPDX-FileCopyrightText: 2022 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package arp

import (
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/ironcore-dev/campoison/netif"
)

func testInterface() *netif.Interface {
	return &netif.Interface{
		Name:         "test0",
		Index:        1,
		IP:           netip.MustParseAddr("10.0.0.6"),
		Mask:         net.CIDRMask(29, 32),
		HardwareAddr: net.HardwareAddr{0x02, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa},
	}
}

func parseARP(frame []byte) (*layers.Ethernet, *layers.ARP) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	Expect(ok).To(BeTrue())
	a, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	Expect(ok).To(BeTrue())
	return eth, a
}

var _ = Describe("Codec", func() {
	var (
		iface *netif.Interface
		cache *Cache
		codec *Codec
		buf   []byte
	)

	BeforeEach(func() {
		iface = testInterface()
		cache = NewCache(0)
		codec = NewCodec(iface, cache)
		buf = make([]byte, FrameSize)
	})

	It("builds a broadcast request", func() {
		target := netip.MustParseAddr("10.0.0.2")
		n, err := codec.Request(buf, target)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(FrameSize))

		eth, a := parseARP(buf[:n])
		Expect(eth.DstMAC).To(Equal(Broadcast))
		Expect(eth.SrcMAC).To(Equal(iface.HardwareAddr))
		Expect(eth.EthernetType).To(Equal(layers.EthernetTypeARP))

		Expect(a.AddrType).To(Equal(layers.LinkTypeEthernet))
		Expect(a.Protocol).To(Equal(layers.EthernetTypeIPv4))
		Expect(a.Operation).To(Equal(uint16(layers.ARPRequest)))
		Expect(a.SourceHwAddress).To(BeEquivalentTo(iface.HardwareAddr))
		Expect(a.SourceProtAddress).To(BeEquivalentTo(iface.IP.AsSlice()))
		Expect(a.DstHwAddress).To(BeEquivalentTo(make([]byte, 6)))
		Expect(a.DstProtAddress).To(BeEquivalentTo(target.AsSlice()))
	})

	It("accepts the unspecified target", func() {
		n, err := codec.Request(buf, netip.IPv4Unspecified())
		Expect(err).NotTo(HaveOccurred())

		_, a := parseARP(buf[:n])
		Expect(a.DstProtAddress).To(BeEquivalentTo([]byte{0, 0, 0, 0}))
	})

	It("refuses short buffers", func() {
		_, err := codec.Request(make([]byte, FrameSize-1), netip.MustParseAddr("10.0.0.2"))
		Expect(err).To(MatchError(ErrShortBuffer))
	})

	It("fails to poison a host missing from the cache", func() {
		_, err := codec.Poison(buf, mac(2))
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, ErrUnknownHost)).To(BeTrue())
	})

	It("impersonates the victim towards the local address", func() {
		victimIP := netip.MustParseAddr("10.0.0.2")
		cache.Add(mac(2), victimIP)

		n, err := codec.Poison(buf, mac(2))
		Expect(err).NotTo(HaveOccurred())

		eth, a := parseARP(buf[:n])
		Expect(eth.DstMAC).To(Equal(Broadcast))
		Expect(eth.SrcMAC).To(Equal(mac(2)))
		Expect(a.Operation).To(Equal(uint16(layers.ARPRequest)))
		Expect(a.SourceHwAddress).To(BeEquivalentTo(mac(2)))
		Expect(a.SourceProtAddress).To(BeEquivalentTo(victimIP.AsSlice()))
		Expect(a.DstProtAddress).To(BeEquivalentTo(iface.IP.AsSlice()))
	})
})

var _ = Describe("Decoder", func() {
	var (
		decoder *Decoder
		codec   *Codec
		buf     []byte
	)

	BeforeEach(func() {
		decoder = NewDecoder()
		codec = NewCodec(testInterface(), NewCache(0))
		buf = make([]byte, FrameSize)
	})

	It("parses back a request", func() {
		target := netip.MustParseAddr("10.0.0.2")
		n, err := codec.Request(buf, target)
		Expect(err).NotTo(HaveOccurred())

		Expect(decoder.IsARP(buf[:n])).To(BeTrue())
		a, ok := decoder.Decode(buf[:n])
		Expect(ok).To(BeTrue())
		Expect(a.AddrType).To(Equal(layers.LinkTypeEthernet))
		Expect(a.Protocol).To(Equal(layers.EthernetTypeIPv4))
		Expect(a.DstProtAddress).To(BeEquivalentTo(target.AsSlice()))

		_, ok = decoder.Reply(buf[:n])
		Expect(ok).To(BeFalse(), "a request is not a reply")
	})

	It("extracts the sender of a reply", func() {
		frame := replyFrame(mac(2), netip.MustParseAddr("10.0.0.2"))

		reply, ok := decoder.Reply(frame)
		Expect(ok).To(BeTrue())
		Expect(reply.SenderHardwareAddr).To(Equal(mac(2)))
		Expect(reply.SenderIP).To(Equal(netip.MustParseAddr("10.0.0.2")))
	})

	It("rejects other protocols and short frames", func() {
		ipv4 := make([]byte, 60)
		ipv4[12], ipv4[13] = 0x08, 0x00
		Expect(decoder.IsARP(ipv4)).To(BeFalse())
		_, ok := decoder.Reply(ipv4)
		Expect(ok).To(BeFalse())

		frame := replyFrame(mac(2), netip.MustParseAddr("10.0.0.2"))
		_, ok = decoder.Reply(frame[:FrameSize-1])
		Expect(ok).To(BeFalse())
		Expect(decoder.IsARP(frame[:10])).To(BeFalse())
	})

	It("rejects non IPv4 protocol types", func() {
		frame := replyFrame(mac(2), netip.MustParseAddr("10.0.0.2"))
		frame[16], frame[17] = 0x86, 0xdd

		_, ok := decoder.Reply(frame)
		Expect(ok).To(BeFalse())
	})
})

func replyFrame(from net.HardwareAddr, ip netip.Addr) []byte {
	eth := layers.Ethernet{
		SrcMAC:       from,
		DstMAC:       testInterface().HardwareAddr,
		EthernetType: layers.EthernetTypeARP,
	}
	a := layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   from,
		SourceProtAddress: ip.AsSlice(),
		DstHwAddress:      testInterface().HardwareAddr,
		DstProtAddress:    testInterface().IP.AsSlice(),
	}

	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, &eth, &a)
	Expect(err).NotTo(HaveOccurred())
	return buf.Bytes()
}
