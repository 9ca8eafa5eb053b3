// SPDX-FileCopyrightText: 2022 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package queue buffers captured frames per destination hardware address
// until the switch has been restored and they can be retransmitted.
package queue

import (
	"bytes"
	"net"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// MaxMessages is the number of frames kept per destination.
	MaxMessages = 128
	// DefaultLists is the initial number of destinations a queue holds.
	DefaultLists = 16

	ethernetHeaderSize = 14
)

var (
	ErrListFull   = errors.New("message list is full")
	ErrQueueFull  = errors.New("queue cannot hold more destinations")
	ErrShortFrame = errors.New("frame shorter than an Ethernet header")
)

// List holds the frames for one destination in arrival order.
type List struct {
	Dest     net.HardwareAddr
	Messages [][]byte
}

// Queue is a set of Lists unique by destination. It is owned by a single
// goroutine and not safe for concurrent use.
type Queue struct {
	lists []*List
	limit int
}

// New returns an empty queue. limit caps the number of destinations; zero or
// less means unbounded.
func New(limit int) *Queue {
	return &Queue{
		lists: make([]*List, 0, DefaultLists),
		limit: limit,
	}
}

func (q *Queue) find(dest net.HardwareAddr) *List {
	for _, l := range q.lists {
		if bytes.Equal(l.Dest, dest) {
			return l
		}
	}
	return nil
}

// Push appends a copy of frame to the list of dest. Frames beyond
// MaxMessages per destination are dropped.
func (q *Queue) Push(dest net.HardwareAddr, frame []byte) error {
	l := q.find(dest)
	if l == nil {
		if q.limit > 0 && len(q.lists) >= q.limit {
			log.Warnf("Cannot queue a frame for %s: %d destinations already queued", dest, len(q.lists))
			return ErrQueueFull
		}

		l = &List{
			Dest:     append(net.HardwareAddr(nil), dest...),
			Messages: make([][]byte, 0, MaxMessages),
		}
		q.lists = append(q.lists, l)
	}

	if len(l.Messages) >= MaxMessages {
		log.Warnf("Message list for %s is full, frame dropped", dest)
		return ErrListFull
	}

	l.Messages = append(l.Messages, append([]byte(nil), frame...))
	return nil
}

// PushFrame queues frame for the destination in its Ethernet header.
func (q *Queue) PushFrame(frame []byte) error {
	if len(frame) < ethernetHeaderSize {
		return errors.Wrapf(ErrShortFrame, "%d bytes", len(frame))
	}
	return q.Push(net.HardwareAddr(frame[0:6]), frame)
}

// Drain moves the content of q into a new queue and leaves q empty.
func (q *Queue) Drain() *Queue {
	old := &Queue{
		lists: q.lists,
		limit: q.limit,
	}
	q.lists = make([]*List, 0, DefaultLists)
	return old
}

// Lists returns the destinations in insertion order.
func (q *Queue) Lists() []*List {
	return q.lists
}

// Len is the number of destinations.
func (q *Queue) Len() int {
	return len(q.lists)
}

// Frames is the number of frames over all destinations.
func (q *Queue) Frames() int {
	n := 0
	for _, l := range q.lists {
		n += len(l.Messages)
	}
	return n
}

// Empty reports whether no frame is queued.
func (q *Queue) Empty() bool {
	return q.Frames() == 0
}

// Release drops every buffered frame.
func (q *Queue) Release() {
	for _, l := range q.lists {
		l.Messages = nil
	}
	q.lists = q.lists[:0]
}
