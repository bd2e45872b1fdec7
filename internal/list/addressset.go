package list

import (
	"strings"
	"time"
)

// AddressSet is an ordered set of addresses. It keeps the spelling an
// address was first inserted with and compares case-insensitively.
type AddressSet struct {
	items []string
}

func NewAddressSet(addresses ...string) AddressSet {
	var s AddressSet
	for _, address := range addresses {
		s.Insert(address)
	}
	return s
}

func (s AddressSet) Len() int {
	return len(s.items)
}

func (s AddressSet) Contains(address string) bool {
	return s.index(address) >= 0
}

// Insert appends address unless it is already present.
func (s *AddressSet) Insert(address string) bool {
	if s.Contains(address) {
		return false
	}
	s.items = append(s.items, address)
	return true
}

// Remove drops every spelling of address.
func (s *AddressSet) Remove(address string) bool {
	kept := s.items[:0]
	removed := false
	for _, item := range s.items {
		if strings.EqualFold(item, address) {
			removed = true
			continue
		}
		kept = append(kept, item)
	}
	s.items = kept
	return removed
}

// Slice returns a copy of the addresses in insertion order.
func (s AddressSet) Slice() []string {
	return append([]string(nil), s.items...)
}

func (s AddressSet) index(address string) int {
	for i, item := range s.items {
		if strings.EqualFold(item, address) {
			return i
		}
	}
	return -1
}

// ErrorInfo counts the bounces of one member.
type ErrorInfo struct {
	Count         int
	LastErrorTime time.Time
}

// errorTable maps addresses to bounce counters case-insensitively while
// remembering insertion order for persistence.
type errorTable struct {
	order []string
	info  map[string]ErrorInfo
}

func newErrorTable() errorTable {
	return errorTable{info: map[string]ErrorInfo{}}
}

func (t *errorTable) get(address string) (ErrorInfo, bool) {
	info, ok := t.info[strings.ToLower(address)]
	return info, ok
}

func (t *errorTable) set(address string, info ErrorInfo) {
	key := strings.ToLower(address)
	if _, ok := t.info[key]; !ok {
		t.order = append(t.order, address)
	}
	t.info[key] = info
}

func (t *errorTable) delete(address string) bool {
	key := strings.ToLower(address)
	if _, ok := t.info[key]; !ok {
		return false
	}
	delete(t.info, key)
	kept := t.order[:0]
	for _, item := range t.order {
		if strings.ToLower(item) != key {
			kept = append(kept, item)
		}
	}
	t.order = kept
	return true
}

func (t *errorTable) len() int {
	return len(t.order)
}

func (t *errorTable) each(fn func(address string, info ErrorInfo)) {
	for _, address := range t.order {
		fn(address, t.info[strings.ToLower(address)])
	}
}
