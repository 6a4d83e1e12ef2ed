package state

import (
	"fmt"

	"rico/native/rico"
)

var (
	ricoSaleKey          = []byte("rico/sale")
	ricoTotalsKey        = []byte("rico/totals")
	ricoParticipantIndex = []byte("rico/participants")
	ricoParticipantPref  = []byte("rico/participant/")
)

func ricoParticipantKey(addr [20]byte) []byte {
	buf := make([]byte, len(ricoParticipantPref)+len(addr))
	copy(buf, ricoParticipantPref)
	copy(buf[len(ricoParticipantPref):], addr[:])
	return buf
}

// RicoSaleGet loads the sale record.
func (m *Manager) RicoSaleGet() (*rico.Sale, bool, error) {
	sale := new(rico.Sale)
	ok, err := m.KVGet(ricoSaleKey, sale)
	if err != nil || !ok {
		return nil, ok, err
	}
	return sale, true, nil
}

// RicoSalePut stores the sale record.
func (m *Manager) RicoSalePut(sale *rico.Sale) error {
	if sale == nil || sale.Schedule == nil {
		return fmt.Errorf("rico: sale record incomplete")
	}
	return m.KVPut(ricoSaleKey, sale)
}

// RicoTotalsGet loads the sale-wide counters.
func (m *Manager) RicoTotalsGet() (*rico.Totals, bool, error) {
	totals := new(rico.Totals)
	ok, err := m.KVGet(ricoTotalsKey, totals)
	if err != nil || !ok {
		return nil, ok, err
	}
	return totals, true, nil
}

// RicoTotalsPut stores the sale-wide counters.
func (m *Manager) RicoTotalsPut(totals *rico.Totals) error {
	if totals == nil {
		return fmt.Errorf("rico: totals must not be nil")
	}
	return m.KVPut(ricoTotalsKey, totals)
}

// RicoParticipantGet loads the participant record of addr.
func (m *Manager) RicoParticipantGet(addr [20]byte) (*rico.Participant, bool, error) {
	p := new(rico.Participant)
	ok, err := m.KVGet(ricoParticipantKey(addr), p)
	if err != nil || !ok {
		return nil, ok, err
	}
	return p, true, nil
}

// RicoParticipantPut stores the participant record and indexes its address.
func (m *Manager) RicoParticipantPut(p *rico.Participant) error {
	if p == nil {
		return fmt.Errorf("rico: participant must not be nil")
	}
	if err := m.KVPut(ricoParticipantKey(p.Address), p); err != nil {
		return err
	}
	return m.KVAppend(ricoParticipantIndex, p.Address[:])
}

// RicoParticipantList returns participant addresses in insertion order.
func (m *Manager) RicoParticipantList() ([][20]byte, error) {
	list, err := m.KVGetList(ricoParticipantIndex)
	if err != nil {
		return nil, err
	}
	out := make([][20]byte, 0, len(list))
	for _, raw := range list {
		if len(raw) != 20 {
			return nil, fmt.Errorf("rico: malformed participant index entry")
		}
		var addr [20]byte
		copy(addr[:], raw)
		out = append(out, addr)
	}
	return out, nil
}
