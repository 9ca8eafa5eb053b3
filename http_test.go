// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package campoison

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	yaml "gopkg.in/yaml.v2"
)

var _ = Describe("Status server", func() {
	var (
		tb      *testbed
		handler http.Handler
	)

	BeforeEach(func() {
		tb = newTestbed()
		tb.start()
		handler = StatusHandler(tb.attack)
	})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	It("serves the status as JSON", func() {
		rec := get("/status.json")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))

		var status jsonStatus
		Expect(json.Unmarshal(rec.Body.Bytes(), &status)).To(Succeed())
		Expect(status.Session).To(Equal(tb.attack.Session().String()))
		Expect(status.State).To(Equal("POISON"))
		Expect(status.CacheSize).To(Equal(3))
		Expect(status.Hosts).To(Equal([]jsonHost{
			{IP: "10.0.0.1", MAC: "02:00:00:00:00:01"},
			{IP: "10.0.0.2", MAC: "02:00:00:00:00:02"},
		}))
		Expect(status.CAMPoisonVersion).To(Equal(CAMPOISON_VERSION))
	})

	It("serves the status as YAML", func() {
		tb.attack.enqueue(make([]byte, 20))

		rec := get("/status.yaml")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var status jsonStatus
		Expect(yaml.Unmarshal(rec.Body.Bytes(), &status)).To(Succeed())
		Expect(status.Stats.Queued).To(BeEquivalentTo(1))
	})

	It("serves the ARP cache", func() {
		rec := get("/cache.json")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var entries []jsonHost
		Expect(json.Unmarshal(rec.Body.Bytes(), &entries)).To(Succeed())
		Expect(entries).To(HaveLen(3))
		Expect(entries[2]).To(Equal(jsonHost{IP: "10.0.0.3", MAC: "02:00:00:00:00:03"}))
	})
})
