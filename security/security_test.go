/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func loadTestFile(t *testing.T, contents string) *File {
	t.Helper()
	entries, err := parseEntries(strings.NewReader(contents))
	require.NoError(t, err)
	return &File{entries: entries}
}

func TestAllowProgramAsRootExplicitEntry(t *testing.T) {
	f := loadTestFile(t, "amgtar:gnutar_path=/opt/gnutar\n")
	require.True(t, f.AllowProgramAsRoot("amgtar", "gnutar_path", "/opt/gnutar"))
	require.False(t, f.AllowProgramAsRoot("amgtar", "gnutar_path", "/bin/tar"))
}

func TestAllowProgramAsRootFallsBackToCompatList(t *testing.T) {
	f := loadTestFile(t, "")
	require.True(t, f.AllowProgramAsRoot("amgtar", "gnutar_path", "/bin/tar"))
	require.False(t, f.AllowProgramAsRoot("amgtar", "gnutar_path", "/usr/bin/tar"))
}

func TestGetBooleanYesNoDefault(t *testing.T) {
	f := loadTestFile(t, "restore_by_amanda_user=YES\n")
	require.True(t, f.GetBoolean("restore_by_amanda_user"))
	require.False(t, f.GetBoolean("unset_key"))
}

func TestPortRangeParsesLowHigh(t *testing.T) {
	f := loadTestFile(t, "tcp_port_range=512,1023\n")
	low, high, ok := f.PortRange("tcp_port_range")
	require.True(t, ok)
	require.Equal(t, 512, low)
	require.Equal(t, 1023, high)
}

func TestPortRangeMissingKey(t *testing.T) {
	f := loadTestFile(t, "")
	_, _, ok := f.PortRange("udp_port_range")
	require.False(t, ok)
}

func TestAllowBindWithinAndOutsideRange(t *testing.T) {
	f := loadTestFile(t, "tcp_port_range=512,1023\n")
	require.True(t, f.AllowBind(1 /* unix.SOCK_STREAM */, 600))
	require.False(t, f.AllowBind(1, 2000))
}

func TestCommentsAndKeylessLinesIgnored(t *testing.T) {
	f := loadTestFile(t, "# a comment\nnoequalshere\nrestore_by_amanda_user=yes\n")
	require.True(t, f.GetBoolean("restore_by_amanda_user"))
}
