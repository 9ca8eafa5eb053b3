// SPDX-FileCopyrightText: 2022 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package ipc is the local datagram channel to the process consuming the
// intercepted traffic. A zero-length datagram is a flush command, anything
// else is a raw Ethernet frame.
package ipc

import (
	"os"
	"path/filepath"

	"github.com/ironcore-dev/campoison/receiver"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	DefaultDir  = "/var/run/campoison"
	DefaultPath = DefaultDir + "/cam_poisoning.sock"
)

// Channel is a unix datagram socket bound to a local path and sending to a
// peer path.
type Channel struct {
	fd     int
	local  string
	remote unix.SockaddrUnix
}

// Open binds a datagram socket at local, creating its directory and removing
// a stale socket file first. Datagrams are sent to remote.
func Open(local, remote string) (*Channel, error) {
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return nil, errors.Wrapf(err, "cannot create directory for %s", local)
	}
	if err := os.Remove(local); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "cannot remove stale socket %s", local)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open IPC socket")
	}

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: local}); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "cannot bind IPC socket to %s", local)
	}

	log.Debugf("IPC socket listening on %s, peer is %s", local, remote)

	return &Channel{
		fd:     fd,
		local:  local,
		remote: unix.SockaddrUnix{Name: remote},
	}, nil
}

// Send writes one datagram to the peer.
func (c *Channel) Send(data []byte) error {
	if err := unix.Sendto(c.fd, data, 0, &c.remote); err != nil {
		return errors.Wrapf(err, "cannot send %d bytes to %s", len(data), c.remote.Name)
	}
	return nil
}

// Flush sends the zero-length flush command to the peer.
func (c *Channel) Flush() error {
	return c.Send(nil)
}

func (c *Channel) Source() receiver.Source {
	return receiver.Source{Name: "ipc", Fd: c.fd}
}

func (c *Channel) Path() string {
	return c.local
}

// Close closes the socket and removes its file.
func (c *Channel) Close() error {
	err := unix.Close(c.fd)
	if rmErr := os.Remove(c.local); rmErr != nil && !os.IsNotExist(rmErr) {
		log.Warnf("Cannot remove IPC socket %s: %v", c.local, rmErr)
	}
	return err
}
