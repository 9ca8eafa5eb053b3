// SPDX-FileCopyrightText: 2022 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package netif binds the attack to a network interface: address discovery
// over netlink and promiscuous raw sockets.
package netif

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

// Interface describes an IPv4 Ethernet interface. It is filled once at
// startup and never modified afterwards.
type Interface struct {
	Name         string
	Index        int
	IP           netip.Addr
	Mask         net.IPMask
	HardwareAddr net.HardwareAddr
}

func (i *Interface) String() string {
	ones, _ := i.Mask.Size()
	return fmt.Sprintf("%s (index %d, %s/%d, %s)", i.Name, i.Index, i.IP, ones, i.HardwareAddr)
}

// FirstIP is the first usable address of the interface subnet.
func (i *Interface) FirstIP() uint32 {
	return (ToUint32(i.IP) & maskUint32(i.Mask)) + 1
}

// LastIP is the last usable address of the interface subnet.
func (i *Interface) LastIP() uint32 {
	return (ToUint32(i.IP) | ^maskUint32(i.Mask)) - 1
}

// Contains reports whether ip is a usable host address of the interface subnet.
func (i *Interface) Contains(ip netip.Addr) bool {
	if !ip.Is4() {
		return false
	}
	v := ToUint32(ip)
	return v >= i.FirstIP() && v <= i.LastIP()
}

// ToUint32 converts an IPv4 address to its host-order integer form.
func ToUint32(ip netip.Addr) uint32 {
	b := ip.As4()
	return binary.BigEndian.Uint32(b[:])
}

// FromUint32 is the inverse of ToUint32.
func FromUint32(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}

func maskUint32(mask net.IPMask) uint32 {
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if len(mask) != net.IPv4len {
		return 0
	}
	return binary.BigEndian.Uint32(mask)
}

// ByName reads the properties of the named interface.
func ByName(name string) (*Interface, error) {
	log.Debugf("Retrieve information of interface %s", name)

	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot get link '%s'", name)
	}

	return fromLink(link)
}

// ByIP finds the interface that is up and whose IPv4 subnet contains ip.
func ByIP(ip netip.Addr) (*Interface, error) {
	log.Debugf("Try to find interface for IP %s", ip)

	links, err := netlink.LinkList()
	if err != nil {
		return nil, errors.Wrap(err, "cannot list links")
	}

	for _, link := range links {
		if link.Attrs().Flags&net.FlagUp == 0 {
			continue
		}

		iface, err := fromLink(link)
		if err != nil {
			log.Debugf("Skipping link %s: %v", link.Attrs().Name, err)
			continue
		}

		if iface.Contains(ip) {
			log.Infof("Using interface %s", iface.Name)
			return iface, nil
		}
	}

	return nil, errors.Errorf("no interface found for IP %s", ip)
}

func fromLink(link netlink.Link) (*Interface, error) {
	attrs := link.Attrs()

	if len(attrs.HardwareAddr) != 6 {
		return nil, errors.Errorf("link %s has no Ethernet address", attrs.Name)
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot list addresses of %s", attrs.Name)
	}
	if len(addrs) == 0 || addrs[0].IPNet == nil {
		return nil, errors.Errorf("link %s has no IPv4 address", attrs.Name)
	}

	ip, ok := netip.AddrFromSlice(addrs[0].IP.To4())
	if !ok {
		return nil, errors.Errorf("link %s has an invalid IPv4 address", attrs.Name)
	}

	iface := &Interface{
		Name:         attrs.Name,
		Index:        attrs.Index,
		IP:           ip,
		Mask:         addrs[0].Mask,
		HardwareAddr: attrs.HardwareAddr,
	}

	log.WithField("interface", iface.Name).Debugf("Interface properties: %s", iface)

	return iface, nil
}
