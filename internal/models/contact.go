package models

import "sort"

// SortContacts orders by display_order, ties keep input order
func SortContacts(contacts []EmergencyContact) []EmergencyContact {
	sorted := make([]EmergencyContact, len(contacts))
	copy(sorted, contacts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DisplayOrder < sorted[j].DisplayOrder
	})
	return sorted
}

// PrimaryContact resolves the Level-2 voice alert target.
// The first contact flagged primary (by display order) wins; when none is flagged,
// the contact with the lowest display order is primary.
func PrimaryContact(contacts []EmergencyContact) (EmergencyContact, bool) {
	if len(contacts) == 0 {
		return EmergencyContact{}, false
	}
	sorted := SortContacts(contacts)
	for _, c := range sorted {
		if c.IsPrimary {
			return c, true
		}
	}
	return sorted[0], true
}
