// SPDX-FileCopyrightText: 2022 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package campoison

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	yaml "gopkg.in/yaml.v2"
)

type jsonHost struct {
	IP  string `json:"ip" yaml:"ip"`
	MAC string `json:"mac" yaml:"mac"`
}

type jsonStatus struct {
	Date             string        `json:"date" yaml:"date"`
	Session          string        `json:"session" yaml:"session"`
	State            string        `json:"state" yaml:"state"`
	Interface        string        `json:"interface" yaml:"interface"`
	Hosts            []jsonHost    `json:"hosts" yaml:"hosts"`
	CacheSize        int           `json:"cacheSize" yaml:"cacheSize"`
	Stats            StatsSnapshot `json:"stats" yaml:"stats"`
	CAMPoisonVersion string        `json:"campoisonVersion" yaml:"campoisonVersion"`
}

type jsonServer struct {
	a *Attack
}

// StatusHandler serves the state of the attack and the ARP cache.
func StatusHandler(a *Attack) http.Handler {
	js := jsonServer{
		a: a,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status.json", js.jsonHandler)
	mux.HandleFunc("/status.yaml", js.yamlHandler)
	mux.HandleFunc("/cache.json", js.cacheHandler)
	return mux
}

// ServeStatus blocks serving StatusHandler on listen.
func ServeStatus(a *Attack, listen string) {
	a.log().Infof("Serving status on %s", listen)
	if err := http.ListenAndServe(listen, StatusHandler(a)); err != nil {
		a.log().Errorf("Failed to listen and serve: %v", err)
	}
}

var CAMPOISON_VERSION string = "development"

func (j *jsonServer) getJsonStatus() jsonStatus {
	js := jsonStatus{
		Date:             time.Now().Format("2006-01-02 15:04:05"),
		Session:          j.a.Session().String(),
		State:            j.a.State().String(),
		Interface:        j.a.iface.String(),
		CacheSize:        j.a.cache.Len(),
		Stats:            j.a.Stats(),
		CAMPoisonVersion: CAMPOISON_VERSION,
	}

	hosts := []struct {
		ip  fmt.Stringer
		mac fmt.Stringer
	}{
		{j.a.config.Host1, j.a.targets[0]},
		{j.a.config.Host2, j.a.targets[1]},
	}
	for _, h := range hosts {
		js.Hosts = append(js.Hosts, jsonHost{IP: h.ip.String(), MAC: h.mac.String()})
	}

	return js
}

func (j *jsonServer) getJsonCache() []jsonHost {
	entries := j.a.cache.Entries()
	ret := make([]jsonHost, 0, len(entries))
	for _, e := range entries {
		ret = append(ret, jsonHost{IP: e.IP.String(), MAC: e.HardwareAddr.String()})
	}
	return ret
}

func (j *jsonServer) jsonHandler(w http.ResponseWriter, r *http.Request) {
	writeJson(w, j.getJsonStatus())
}

func (j *jsonServer) cacheHandler(w http.ResponseWriter, r *http.Request) {
	writeJson(w, j.getJsonCache())
}

func (j *jsonServer) yamlHandler(w http.ResponseWriter, r *http.Request) {
	out, err := yaml.Marshal(j.getJsonStatus())
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintf(w, "Error: %v", err)
		return
	}

	w.Header().Add("Content-Type", "text/yaml")
	_, err = w.Write(out)
	if err != nil {
		fmt.Fprintf(w, "Error: %v", err)
	}
}

func writeJson(w http.ResponseWriter, v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintf(w, "Error: %v", err)
		return
	}

	w.Header().Add("Content-Type", "application/json")
	_, err = w.Write(out)
	if err != nil {
		fmt.Fprintf(w, "Error: %v", err)
	}
}
