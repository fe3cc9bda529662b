/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package dle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// P2: property merge conflict winner.
func TestMergePropertiesPriorityConflict(t *testing.T) {
	client := PropertyMap{"x": {Values: []string{"c"}, Priority: true}}
	server := PropertyMap{"x": {Values: []string{"s"}, Priority: true}}

	merged, conflicts := MergeProperties(client, server)
	require.Equal(t, []string{"c"}, merged["x"].Values)
	require.Len(t, conflicts, 1)
	require.Equal(t, "priority-conflict", conflicts[0].Reason)
	require.Equal(t, "x", conflicts[0].Property)
}

func TestMergePropertiesOnePriorityWinsSilently(t *testing.T) {
	client := PropertyMap{"x": {Values: []string{"c"}}}
	server := PropertyMap{"x": {Values: []string{"s"}, Priority: true}}

	merged, conflicts := MergeProperties(client, server)
	require.Equal(t, []string{"s"}, merged["x"].Values)
	require.Empty(t, conflicts)
}

func TestMergePropertiesNoPriorityNoAppendClientWins(t *testing.T) {
	client := PropertyMap{"x": {Values: []string{"c"}}}
	server := PropertyMap{"x": {Values: []string{"s"}}}

	merged, conflicts := MergeProperties(client, server)
	require.Equal(t, []string{"c"}, merged["x"].Values)
	require.Len(t, conflicts, 1)
	require.Equal(t, "no-priority-no-append", conflicts[0].Reason)
}

func TestMergePropertiesAppendConcatenates(t *testing.T) {
	client := PropertyMap{"x": {Values: []string{"c"}, Append: true}}
	server := PropertyMap{"x": {Values: []string{"s"}}}

	merged, conflicts := MergeProperties(client, server)
	require.Equal(t, []string{"c", "s"}, merged["x"].Values)
	require.Empty(t, conflicts)
}

// P3: property append commutativity on disjoint keys.
func TestMergePropertiesDisjointKeysOrderIndependent(t *testing.T) {
	client1 := PropertyMap{"a": {Values: []string{"1"}}}
	server1 := PropertyMap{"b": {Values: []string{"2"}}}
	merged1, _ := MergeProperties(client1, server1)

	client2 := PropertyMap{"b": {Values: []string{"2"}}}
	server2 := PropertyMap{"a": {Values: []string{"1"}}}
	merged2, _ := MergeProperties(client2, server2)

	require.Equal(t, merged1["a"].Values, merged2["a"].Values)
	require.Equal(t, merged1["b"].Values, merged2["b"].Values)
}

func TestNormalizePropertyName(t *testing.T) {
	require.Equal(t, "foo-bar", NormalizePropertyName("Foo_Bar"))
}
