// SPDX-FileCopyrightText: 2022 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/sys/unix"

	"github.com/ironcore-dev/campoison/receiver"
)

var _ = Describe("Channel", func() {
	var (
		dir  string
		a, b *Channel
	)

	BeforeEach(func() {
		// unix socket paths are limited to 108 bytes, keep them short
		var err error
		dir, err = os.MkdirTemp("", "ipc")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)

		pathA := filepath.Join(dir, "sub", "a.sock")
		pathB := filepath.Join(dir, "b.sock")

		a, err = Open(pathA, pathB)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(a.Close)

		b, err = Open(pathB, pathA)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(b.Close)
	})

	receive := func(c *Channel) []byte {
		var got []byte
		res, err := receiver.ReceiveFrom(c.Source(), time.Second, func(_ receiver.Source, data []byte, _ unix.Sockaddr) receiver.Action {
			got = append([]byte{}, data...)
			return receiver.Stop
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res).To(Equal(receiver.Stopped))
		return got
	}

	It("creates the socket directory", func() {
		Expect(filepath.Join(dir, "sub", "a.sock")).To(BeAnExistingFile())
	})

	It("exchanges frames in both directions", func() {
		Expect(a.Send([]byte("to b"))).To(Succeed())
		Expect(receive(b)).To(Equal([]byte("to b")))

		Expect(b.Send([]byte("to a"))).To(Succeed())
		Expect(receive(a)).To(Equal([]byte("to a")))
	})

	It("delivers the empty flush datagram", func() {
		Expect(a.Flush()).To(Succeed())
		Expect(receive(b)).To(BeEmpty())
	})

	It("replaces a stale socket file", func() {
		stale := filepath.Join(dir, "stale.sock")
		Expect(os.WriteFile(stale, nil, 0o600)).To(Succeed())

		c, err := Open(stale, a.Path())
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Close()).To(Succeed())
		Expect(stale).NotTo(BeAnExistingFile())
	})

	It("fails to send without a peer", func() {
		c, err := Open(filepath.Join(dir, "lonely.sock"), filepath.Join(dir, "missing.sock"))
		Expect(err).NotTo(HaveOccurred())
		defer c.Close()

		Expect(c.Send([]byte("x"))).NotTo(Succeed())
	})
})
