package importer

import "sort"

// IDMap resolves external ids to internal entity ids for one run.
type IDMap map[string]int64

// Lookup returns the internal id mapped to external, if any.
func (m IDMap) Lookup(external string) (int64, bool) {
	id, ok := m[external]
	return id, ok
}

// Resolve returns the mapped internal id or 0.
func (m IDMap) Resolve(external string) int64 {
	return m[external]
}

// Records groups parsed rows by external id. Groups keep insertion order and
// rows inside a group are ordered by timestamp once sorted.
type Records struct {
	order  []string
	groups map[string][]*Record
	// IDs is the run's id resolution map.
	IDs IDMap
}

// NewRecords returns an empty collection.
func NewRecords() *Records {
	return &Records{
		groups: map[string][]*Record{},
		IDs:    IDMap{},
	}
}

// Add appends record to its group.
func (rs *Records) Add(record *Record) {
	if _, ok := rs.groups[record.ID]; !ok {
		rs.order = append(rs.order, record.ID)
	}
	rs.groups[record.ID] = append(rs.groups[record.ID], record)
}

// Sort orders each group by timestamp. Ties keep source order.
func (rs *Records) Sort() {
	for _, id := range rs.order {
		group := rs.groups[id]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})
	}
}

// Len returns the number of records.
func (rs *Records) Len() int {
	n := 0
	for _, group := range rs.groups {
		n += len(group)
	}
	return n
}

// GroupCount returns the number of distinct external ids.
func (rs *Records) GroupCount() int {
	return len(rs.order)
}

// Each visits every record in group order, then timestamp order.
func (rs *Records) Each(fn func(*Record)) {
	for _, id := range rs.order {
		for _, record := range rs.groups[id] {
			fn(record)
		}
	}
}

// EachLast visits the chronologically last record of every group. It stops at
// the first error.
func (rs *Records) EachLast(fn func(*Record) error) error {
	for _, id := range rs.order {
		group := rs.groups[id]
		if len(group) == 0 {
			continue
		}
		if err := fn(group[len(group)-1]); err != nil {
			return err
		}
	}
	return nil
}

// ScanWithEarlyStop visits records like Each but stops advancing inside a group
// once fn reports stop. Other groups are still visited. An error ends the scan.
func (rs *Records) ScanWithEarlyStop(fn func(*Record) (stop bool, err error)) error {
	for _, id := range rs.order {
		for _, record := range rs.groups[id] {
			stop, err := fn(record)
			if err != nil {
				return err
			}
			if stop {
				break
			}
		}
	}
	return nil
}

// FirstInvalid returns the first invalid record in scan order, or nil.
func (rs *Records) FirstInvalid() *Record {
	for _, id := range rs.order {
		for _, record := range rs.groups[id] {
			if record.Invalid() {
				return record
			}
		}
	}
	return nil
}

// Invalid returns every invalid record in scan order.
func (rs *Records) Invalid() []*Record {
	var invalid []*Record
	rs.Each(func(record *Record) {
		if record.Invalid() {
			invalid = append(invalid, record)
		}
	})
	return invalid
}

// Valid reports whether no record is invalid.
func (rs *Records) Valid() bool {
	return rs.FirstInvalid() == nil
}
