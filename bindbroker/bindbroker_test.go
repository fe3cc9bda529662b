/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package bindbroker

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestEncodeAddrIPv4(t *testing.T) {
	wire, socklen, err := encodeAddr(&net.TCPAddr{IP: net.ParseIP("10.1.2.3"), Port: 8080})
	require.NoError(t, err)
	require.Equal(t, uint32(unix.SizeofSockaddrInet4), socklen)
	require.Equal(t, uint16(unix.AF_INET), binary.LittleEndian.Uint16(wire[0:2]))
	require.Equal(t, uint16(8080), binary.BigEndian.Uint16(wire[2:4]))
	require.Equal(t, []byte{10, 1, 2, 3}, wire[4:8])
}

func TestEncodeAddrIPv6(t *testing.T) {
	wire, socklen, err := encodeAddr(&net.UDPAddr{IP: net.ParseIP("::1"), Port: 53})
	require.NoError(t, err)
	require.Equal(t, uint32(unix.SizeofSockaddrInet6), socklen)
	require.Equal(t, uint16(unix.AF_INET6), binary.LittleEndian.Uint16(wire[0:2]))
	require.Equal(t, uint16(53), binary.BigEndian.Uint16(wire[2:4]))
}

func TestEncodeAddrRejectsUnsupportedType(t *testing.T) {
	_, _, err := encodeAddr(&net.UnixAddr{Name: "/tmp/x"})
	require.Error(t, err)
}

// P9: the port walk starts at (pid+seed) mod range-size and visits
// every port in [first, last] exactly once.
func TestPortWalkCoversRangeStartingAtOffset(t *testing.T) {
	ports := PortWalk(512, 521, 7, 3)
	require.Len(t, ports, 10)
	require.Equal(t, 512+(7+3)%10, ports[0])

	seen := make(map[int]bool, len(ports))
	for _, p := range ports {
		require.False(t, seen[p], "port %d repeated", p)
		require.GreaterOrEqual(t, p, 512)
		require.LessOrEqual(t, p, 521)
		seen[p] = true
	}
	require.Len(t, seen, 10)
}

func TestPortWalkEmptyRange(t *testing.T) {
	require.Nil(t, PortWalk(600, 599, 1, 1))
}

func TestOutcomeString(t *testing.T) {
	require.Equal(t, "bound", Bound.String())
	require.Equal(t, "retry", RetryPort.String())
	require.Equal(t, "fatal", Fatal.String())
}
