/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestDecodeAddrIPv4(t *testing.T) {
	wire := make([]byte, unix.SizeofSockaddrInet6)
	binary.LittleEndian.PutUint16(wire[0:2], unix.AF_INET)
	binary.BigEndian.PutUint16(wire[2:4], 9999)
	copy(wire[4:8], []byte{192, 168, 0, 1})

	addr, err := decodeAddr(wire)
	require.NoError(t, err)
	sa, ok := addr.(*unix.SockaddrInet4)
	require.True(t, ok)
	require.Equal(t, 9999, sa.Port)
	require.Equal(t, [4]byte{192, 168, 0, 1}, sa.Addr)
	require.Equal(t, 9999, addrPort(addr))
}

func TestDecodeAddrUnsupportedFamily(t *testing.T) {
	wire := make([]byte, unix.SizeofSockaddrInet6)
	binary.LittleEndian.PutUint16(wire[0:2], 9999)
	_, err := decodeAddr(wire)
	require.Error(t, err)
}

func TestAddrPortUnknownTypeIsZero(t *testing.T) {
	require.Equal(t, 0, addrPort(nil))
}
