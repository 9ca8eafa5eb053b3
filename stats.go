// SPDX-FileCopyrightText: 2022 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package campoison

import "sync/atomic"

// Stats counts what the attack loop did. Counters are written by the loop and
// may be read from any goroutine.
type Stats struct {
	Cycles          atomic.Uint64
	Poisoned        atomic.Uint64
	Intercepted     atomic.Uint64
	Injected        atomic.Uint64
	Queued          atomic.Uint64
	Dropped         atomic.Uint64
	Retransmitted   atomic.Uint64
	Skipped         atomic.Uint64
	Lost            atomic.Uint64
	Restored        atomic.Uint64
	RestoreFailures atomic.Uint64
	Flushes         atomic.Uint64
}

type StatsSnapshot struct {
	Cycles          uint64 `json:"cycles" yaml:"cycles"`
	Poisoned        uint64 `json:"poisoned" yaml:"poisoned"`
	Intercepted     uint64 `json:"intercepted" yaml:"intercepted"`
	Injected        uint64 `json:"injected" yaml:"injected"`
	Queued          uint64 `json:"queued" yaml:"queued"`
	Dropped         uint64 `json:"dropped" yaml:"dropped"`
	Retransmitted   uint64 `json:"retransmitted" yaml:"retransmitted"`
	Skipped         uint64 `json:"skipped" yaml:"skipped"`
	Lost            uint64 `json:"lost" yaml:"lost"`
	Restored        uint64 `json:"restored" yaml:"restored"`
	RestoreFailures uint64 `json:"restoreFailures" yaml:"restoreFailures"`
	Flushes         uint64 `json:"flushes" yaml:"flushes"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Cycles:          s.Cycles.Load(),
		Poisoned:        s.Poisoned.Load(),
		Intercepted:     s.Intercepted.Load(),
		Injected:        s.Injected.Load(),
		Queued:          s.Queued.Load(),
		Dropped:         s.Dropped.Load(),
		Retransmitted:   s.Retransmitted.Load(),
		Skipped:         s.Skipped.Load(),
		Lost:            s.Lost.Load(),
		Restored:        s.Restored.Load(),
		RestoreFailures: s.RestoreFailures.Load(),
		Flushes:         s.Flushes.Load(),
	}
}
