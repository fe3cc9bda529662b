/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package shmring is the shared-memory ring transport (component C): a
// named control region plus a data region let a producer and a
// consumer process exchange a byte stream without copying it through a
// pipe, coordinated by four named semaphores (§4.3), grounded on
// original_source/common-src/shm-ring.c/.h.
package shmring

import "encoding/binary"

// MaxParticipants bounds the pid table the control region carries
// (shm_ring.h's SHM_RING_MAX_PID).
const MaxParticipants = 10

// nameLength is the fixed width reserved for each semaphore/data-region
// name field (shm_ring.h's SHM_RING_NAME_LENGTH).
const nameLength = 64

// DefaultBlockSize and DefaultRingSize mirror shm-ring.c's
// DEFAULT_SHM_RING_BLOCK_SIZE / DEFAULT_SHM_RING_SIZE (block size
// times eight).
const (
	DefaultBlockSize = 32 * 1024
	DefaultRingSize  = DefaultBlockSize * 8
)

// Control region layout. Every field is accessed directly through the
// mmap'd byte slice (no atomics): ordering between producer and
// consumer comes entirely from the semaphore posts/waits around each
// access, exactly as the C struct's plain field reads and writes do.
const (
	offWriteOffset = 0
	offWritten     = 8
	offEOF         = 16
	offReadOffset  = 24
	offReadCount   = 32
	offCancelled   = 40
	offNeedReady   = 41
	offRingSize    = 48
	offConsBlock   = 56
	offProdBlock   = 64
	offConsRing    = 72
	offProdRing    = 80
	offPids        = 88                          // MaxParticipants * 4 bytes
	offNames       = offPids + MaxParticipants*4 // 5 names
	ControlSize    = offNames + 5*nameLength
)

const (
	nameSemWrite = 0
	nameSemRead  = 1
	nameSemReady = 2
	nameSemStart = 3
	nameData     = 4
)

// Control is a view over the mmap'd control region.
type Control struct {
	mem []byte
}

// NewControl wraps an already-sized (ControlSize-byte) mmap region.
func NewControl(mem []byte) *Control { return &Control{mem: mem} }

func (c *Control) u64(off int) uint64            { return binary.LittleEndian.Uint64(c.mem[off:]) }
func (c *Control) setU64(off int, v uint64)       { binary.LittleEndian.PutUint64(c.mem[off:], v) }
func (c *Control) u32(off int) uint32             { return binary.LittleEndian.Uint32(c.mem[off:]) }
func (c *Control) setU32(off int, v uint32)       { binary.LittleEndian.PutUint32(c.mem[off:], v) }

func (c *Control) WriteOffset() uint64      { return c.u64(offWriteOffset) }
func (c *Control) SetWriteOffset(v uint64)  { c.setU64(offWriteOffset, v) }
func (c *Control) Written() uint64          { return c.u64(offWritten) }
func (c *Control) SetWritten(v uint64)      { c.setU64(offWritten, v) }
func (c *Control) ReadOffset() uint64       { return c.u64(offReadOffset) }
func (c *Control) SetReadOffset(v uint64)   { c.setU64(offReadOffset, v) }
func (c *Control) ReadCount() uint64        { return c.u64(offReadCount) }
func (c *Control) SetReadCount(v uint64)    { c.setU64(offReadCount, v) }
func (c *Control) RingSize() uint64         { return c.u64(offRingSize) }
func (c *Control) SetRingSize(v uint64)     { c.setU64(offRingSize, v) }
func (c *Control) ConsumerBlockSize() int   { return int(c.u64(offConsBlock)) }
func (c *Control) SetConsumerBlockSize(v int) { c.setU64(offConsBlock, uint64(v)) }
func (c *Control) ProducerBlockSize() int   { return int(c.u64(offProdBlock)) }
func (c *Control) SetProducerBlockSize(v int) { c.setU64(offProdBlock, uint64(v)) }
func (c *Control) ConsumerRingSize() uint64 { return c.u64(offConsRing) }
func (c *Control) SetConsumerRingSize(v uint64) { c.setU64(offConsRing, v) }
func (c *Control) ProducerRingSize() uint64 { return c.u64(offProdRing) }
func (c *Control) SetProducerRingSize(v uint64) { c.setU64(offProdRing, v) }

func (c *Control) EOF() bool     { return c.mem[offEOF] != 0 }
func (c *Control) SetEOF(v bool) { c.mem[offEOF] = boolByte(v) }

func (c *Control) Cancelled() bool     { return c.mem[offCancelled] != 0 }
func (c *Control) SetCancelled(v bool) { c.mem[offCancelled] = boolByte(v) }

func (c *Control) NeedSemReady() bool     { return c.mem[offNeedReady] != 0 }
func (c *Control) SetNeedSemReady(v bool) { c.mem[offNeedReady] = boolByte(v) }

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// Pids returns the live participant-pid table slots (zero entries are
// unused).
func (c *Control) Pids() [MaxParticipants]int32 {
	var out [MaxParticipants]int32
	for i := range out {
		out[i] = int32(c.u32(offPids + i*4))
	}
	return out
}

// AddPid records pid in the first free slot, matching the C code's
// "append to shm_ring->mc->pids" bookkeeping on create/link.
func (c *Control) AddPid(pid int32) bool {
	for i := 0; i < MaxParticipants; i++ {
		if c.u32(offPids+i*4) == 0 {
			c.setU32(offPids+i*4, uint32(pid))
			return true
		}
	}
	return false
}

func (c *Control) name(idx int) string {
	start := offNames + idx*nameLength
	raw := c.mem[start : start+nameLength]
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	return string(raw[:n])
}

func (c *Control) setName(idx int, name string) {
	start := offNames + idx*nameLength
	region := c.mem[start : start+nameLength]
	for i := range region {
		region[i] = 0
	}
	copy(region, name)
}

func (c *Control) SemWriteName() string       { return c.name(nameSemWrite) }
func (c *Control) SetSemWriteName(s string)   { c.setName(nameSemWrite, s) }
func (c *Control) SemReadName() string        { return c.name(nameSemRead) }
func (c *Control) SetSemReadName(s string)    { c.setName(nameSemRead, s) }
func (c *Control) SemReadyName() string       { return c.name(nameSemReady) }
func (c *Control) SetSemReadyName(s string)   { c.setName(nameSemReady, s) }
func (c *Control) SemStartName() string       { return c.name(nameSemStart) }
func (c *Control) SetSemStartName(s string)   { c.setName(nameSemStart, s) }
func (c *Control) DataName() string           { return c.name(nameData) }
func (c *Control) SetDataName(s string)       { c.setName(nameData, s) }

// NegotiateSize implements alloc_shm_ring: the effective ring size is
// the larger of the two sides' requested sizes (at least twice that
// side's block size), rounded up to a common multiple of both block
// sizes.
func NegotiateSize(producerRing, producerBlock, consumerRing, consumerBlock uint64) uint64 {
	var best uint64
	if producerRing > consumerRing {
		best = producerRing
		if best < producerBlock*2 {
			best = producerBlock * 2
		}
	} else {
		best = consumerRing
		if best < consumerBlock*2 {
			best = consumerBlock * 2
		}
	}
	if producerBlock != 0 && best%producerBlock != 0 {
		best = (best/producerBlock + 1) * producerBlock
	}
	for consumerBlock != 0 && best%consumerBlock != 0 {
		best += producerBlock
	}
	return best
}
