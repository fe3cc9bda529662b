/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package shmring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestControl() *Control {
	return NewControl(make([]byte, ControlSize))
}

func TestControlCountersRoundTrip(t *testing.T) {
	c := newTestControl()
	c.SetWriteOffset(10)
	c.SetWritten(100)
	c.SetReadOffset(5)
	c.SetReadCount(50)
	c.SetRingSize(1024)

	require.Equal(t, uint64(10), c.WriteOffset())
	require.Equal(t, uint64(100), c.Written())
	require.Equal(t, uint64(5), c.ReadOffset())
	require.Equal(t, uint64(50), c.ReadCount())
	require.Equal(t, uint64(1024), c.RingSize())
}

func TestControlFlagsRoundTrip(t *testing.T) {
	c := newTestControl()
	require.False(t, c.EOF())
	require.False(t, c.Cancelled())
	require.False(t, c.NeedSemReady())

	c.SetEOF(true)
	c.SetCancelled(true)
	c.SetNeedSemReady(true)

	require.True(t, c.EOF())
	require.True(t, c.Cancelled())
	require.True(t, c.NeedSemReady())
}

func TestControlNamesRoundTrip(t *testing.T) {
	c := newTestControl()
	c.SetSemWriteName("amanda_sem_write-1-1")
	c.SetDataName("amanda_shm_data-1-1")

	require.Equal(t, "amanda_sem_write-1-1", c.SemWriteName())
	require.Equal(t, "amanda_shm_data-1-1", c.DataName())
	require.Empty(t, c.SemReadName())
}

func TestControlAddPidFillsFreeSlots(t *testing.T) {
	c := newTestControl()
	for i := 0; i < MaxParticipants; i++ {
		require.True(t, c.AddPid(int32(1000+i)))
	}
	require.False(t, c.AddPid(9999)) // table is full

	pids := c.Pids()
	require.Equal(t, int32(1000), pids[0])
	require.Equal(t, int32(1000+MaxParticipants-1), pids[MaxParticipants-1])
}

// P5/P6/P7 size negotiation: effective size is the larger requested
// ring, at least twice its block size, rounded up to a multiple of
// both block sizes.
func TestNegotiateSizePicksLargerSideAndAligns(t *testing.T) {
	size := NegotiateSize(8192, 1024, 4096, 2048)
	require.Equal(t, uint64(0), size%1024)
	require.Equal(t, uint64(0), size%2048)
	require.GreaterOrEqual(t, size, uint64(8192))
}

func TestNegotiateSizeFloorsAtTwiceBlockSize(t *testing.T) {
	size := NegotiateSize(100, 1024, 50, 512)
	require.GreaterOrEqual(t, size, uint64(2048))
}
