// SPDX-FileCopyrightText: 2022 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package campoison

type AttackState uint8

const (
	POISON AttackState = iota
	COLLECT
	RESTORE
	STOPPED
)

func (s AttackState) String() string {
	switch s {
	case POISON:
		return "POISON"
	case COLLECT:
		return "COLLECT"
	case RESTORE:
		return "RESTORE"
	case STOPPED:
		return "STOPPED"
	default:
		return "INVALID"
	}
}
