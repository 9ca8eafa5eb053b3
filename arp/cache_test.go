// SPDX-FileCopyrightText: 2022 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package arp

import (
	"net"
	"net/netip"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	log "github.com/sirupsen/logrus"

	"github.com/ironcore-dev/campoison/netif"
)

func mac(last byte) net.HardwareAddr {
	return net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, last}
}

var _ = Describe("Cache", func() {
	var cache *Cache

	BeforeEach(func() {
		cache = NewCache(0)
	})

	It("counts every add across growth thresholds", func() {
		// keep the output readable, each add logs at info
		lvl := log.GetLevel()
		log.SetLevel(log.WarnLevel)
		defer log.SetLevel(lvl)

		n := 2*DefaultCacheSize + 1
		base := netif.ToUint32(netip.MustParseAddr("10.0.0.0"))
		for i := 0; i < n; i++ {
			Expect(cache.Add(mac(byte(i)), netif.FromUint32(base+uint32(i)))).To(BeTrue())
		}

		Expect(cache.Len()).To(Equal(n))
		Expect(cache.Cap()).To(Equal(4 * DefaultCacheSize))
	})

	It("returns the first match when entries repeat", func() {
		ip := netip.MustParseAddr("10.0.0.1")
		cache.Add(mac(1), ip)
		cache.Add(mac(2), ip)
		cache.Add(mac(1), netip.MustParseAddr("10.0.0.9"))

		Expect(cache.Len()).To(Equal(3))

		got, ok := cache.LookupMAC(ip)
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal(mac(1)))

		gotIP, ok := cache.LookupIP(mac(1))
		Expect(ok).To(BeTrue())
		Expect(gotIP).To(Equal(ip))
	})

	It("reports absent entries", func() {
		_, ok := cache.LookupMAC(netip.MustParseAddr("10.0.0.1"))
		Expect(ok).To(BeFalse())

		_, ok = cache.LookupIP(mac(1))
		Expect(ok).To(BeFalse())
	})

	It("copies the hardware address", func() {
		m := mac(1)
		cache.Add(m, netip.MustParseAddr("10.0.0.1"))
		m[5] = 0xff

		got, _ := cache.LookupMAC(netip.MustParseAddr("10.0.0.1"))
		Expect(got).To(Equal(mac(1)))
	})

	It("drops records instead of growing past the limit", func() {
		lvl := log.GetLevel()
		log.SetLevel(log.WarnLevel)
		defer log.SetLevel(lvl)

		cache = NewCache(DefaultCacheSize)
		base := netif.ToUint32(netip.MustParseAddr("10.0.0.0"))
		for i := 0; i < DefaultCacheSize; i++ {
			Expect(cache.Add(mac(byte(i)), netif.FromUint32(base+uint32(i)))).To(BeTrue())
		}

		Expect(cache.Add(mac(0xfe), netip.MustParseAddr("10.1.0.1"))).To(BeFalse())
		Expect(cache.Len()).To(Equal(DefaultCacheSize))

		_, ok := cache.LookupMAC(netip.MustParseAddr("10.1.0.1"))
		Expect(ok).To(BeFalse())
	})

	It("returns snapshots and clears", func() {
		cache.Add(mac(1), netip.MustParseAddr("10.0.0.1"))
		entries := cache.Entries()
		Expect(entries).To(Equal([]CacheEntry{
			{HardwareAddr: mac(1), IP: netip.MustParseAddr("10.0.0.1")},
		}))

		cache.Clear()
		Expect(cache.Len()).To(Equal(0))
		Expect(entries).To(HaveLen(1))
	})
})
