/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package dle

import "strings"

// PropertyValue is one named property's merge-relevant state.
type PropertyValue struct {
	Values   []string
	Append   bool
	Priority bool
}

// PropertyMap is a DLE's (or Application's/Script's) property table,
// keyed by normalized name (lowercased, '_' -> '-').
type PropertyMap map[string]*PropertyValue

// NormalizePropertyName lowercases v and replaces '_' with '-', the
// normalization every property key undergoes before lookup or merge.
func NormalizePropertyName(v string) string {
	return strings.ReplaceAll(strings.ToLower(v), "_", "-")
}

// Set assigns values for name, normalizing the key.
func (pm PropertyMap) Set(name string, pv *PropertyValue) {
	pm[NormalizePropertyName(name)] = pv
}

// Get returns the PropertyValue for name (normalized), if present.
func (pm PropertyMap) Get(name string) (*PropertyValue, bool) {
	pv, ok := pm[NormalizePropertyName(name)]
	return pv, ok
}

// MergeConflict describes one property key that required a
// non-trivial merge decision, for the caller to turn into a Message.
type MergeConflict struct {
	Property string
	Reason   string // "priority-conflict" or "no-priority-no-append"
}

// MergeProperties merges server into client in place, implementing
// the priority/append policy (§3):
//
//   - both priority: client wins, conflict reported (P2).
//   - exactly one priority: that side wins silently.
//   - neither priority, neither append: client wins, conflict reported.
//   - append set (on either/both sides) on a key present in both:
//     client values followed by server values, in that order.
//
// The identity of client is preserved: it is mutated and returned.
func MergeProperties(client, server PropertyMap) (merged PropertyMap, conflicts []MergeConflict) {
	if client == nil {
		client = make(PropertyMap)
	}
	for name, sv := range server {
		cv, exists := client[name]
		if !exists {
			client[name] = sv
			continue
		}
		switch {
		case cv.Priority && sv.Priority:
			conflicts = append(conflicts, MergeConflict{Property: name, Reason: "priority-conflict"})
			// client wins, no value change.
		case cv.Priority && !sv.Priority:
			// client wins silently.
		case !cv.Priority && sv.Priority:
			client[name] = sv
		case cv.Append || sv.Append:
			client[name] = &PropertyValue{
				Values:   append(append([]string{}, cv.Values...), sv.Values...),
				Append:   true,
				Priority: false,
			}
		default:
			conflicts = append(conflicts, MergeConflict{Property: name, Reason: "no-priority-no-append"})
			// client wins.
		}
	}
	return client, conflicts
}
