// SPDX-FileCopyrightText: 2022 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package receiver multiplexes datagram sockets under a shared deadline.
package receiver

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// MaxFrameSize is the largest datagram read in one go. Longer datagrams are
// truncated.
const MaxFrameSize = 1514

const maxEvents = 5

// Source is a readable socket handed to the receiver.
type Source struct {
	Name string
	Fd   int
}

func (s Source) String() string {
	return fmt.Sprintf("%s(fd %d)", s.Name, s.Fd)
}

// Action tells the receive loop whether to keep going.
type Action uint8

const (
	Continue Action = iota
	Stop
)

// Result reports why Receive returned.
type Result uint8

const (
	Timeout Result = iota
	Stopped
)

func (r Result) String() string {
	switch r {
	case Timeout:
		return "timeout"
	case Stopped:
		return "stopped"
	default:
		return "invalid"
	}
}

// Handler is called once per received datagram. data aliases the receiver's
// buffer and is only valid until the handler returns.
type Handler func(src Source, data []byte, from unix.Sockaddr) Action

// Error wraps a failure of the underlying poll or read.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("receiver: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Receiver struct {
	epfd    int
	sources map[int32]Source
	buf     []byte
}

// New creates an epoll instance watching all given sources for readability.
func New(sources ...Source) (*Receiver, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, &Error{Op: "epoll_create1", Err: err}
	}

	r := &Receiver{
		epfd:    epfd,
		sources: make(map[int32]Source, len(sources)),
		buf:     make([]byte, MaxFrameSize),
	}

	for _, src := range sources {
		ev := unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(src.Fd),
		}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, src.Fd, &ev); err != nil {
			unix.Close(epfd)
			return nil, &Error{Op: "epoll_ctl " + src.Name, Err: err}
		}
		r.sources[int32(src.Fd)] = src
	}

	return r, nil
}

// Close releases the epoll instance. The sources stay open.
func (r *Receiver) Close() error {
	for fd := range r.sources {
		_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
	}
	return unix.Close(r.epfd)
}

// Receive reads datagrams from every ready source and passes them to h until
// h returns Stop or timeout has elapsed. The timeout is a total budget for the
// whole call, measured from a single monotonic sample taken at entry.
func (r *Receiver) Receive(timeout time.Duration, h Handler) (Result, error) {
	var events [maxEvents]unix.EpollEvent

	start := time.Now()
	remaining := timeout

	log.Tracef("Receiving messages for %v", timeout)

	for {
		if remaining <= 0 {
			return Timeout, nil
		}

		n, err := unix.EpollWait(r.epfd, events[:], toMillis(remaining))
		if err == unix.EINTR {
			remaining = timeout - time.Since(start)
			continue
		}
		if err != nil {
			return Timeout, &Error{Op: "epoll_wait", Err: err}
		}
		if n == 0 {
			return Timeout, nil
		}

		for i := 0; i < n; i++ {
			src, ok := r.sources[events[i].Fd]
			if !ok {
				continue
			}

			size, from, err := recvfrom(src.Fd, r.buf)
			if err == unix.EAGAIN {
				continue
			}
			if err != nil {
				return Timeout, &Error{Op: "recvfrom " + src.Name, Err: err}
			}

			if h(src, r.buf[:size], from) == Stop {
				log.Tracef("Receive loop interrupted")
				return Stopped, nil
			}
		}

		remaining = timeout - time.Since(start)
	}
}

// ReceiveFrom runs Receive over a single source with a throwaway receiver.
func ReceiveFrom(src Source, timeout time.Duration, h Handler) (Result, error) {
	r, err := New(src)
	if err != nil {
		return Timeout, err
	}
	defer r.Close()

	return r.Receive(timeout, h)
}

func recvfrom(fd int, buf []byte) (int, unix.Sockaddr, error) {
	for {
		n, from, err := unix.Recvfrom(fd, buf, unix.MSG_DONTWAIT)
		if err == unix.EINTR {
			continue
		}
		return n, from, err
	}
}

// toMillis rounds up so that a sub-millisecond remainder still waits.
func toMillis(d time.Duration) int {
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > 1<<31-1 {
		return 1<<31 - 1
	}
	return int(ms)
}
