/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package shmring

import "hash/crc32"

// castagnoliTable is the reflected Castagnoli polynomial
// (original_source/common-src/amutil.c:2126 #define POLY 0x82F63B78),
// i.e. CRC32C — not crc32.IEEETable's 0xEDB88320 polynomial. Wire
// compatibility with a real peer depends on the exact polynomial, not
// just both ends agreeing with each other.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// CRC accumulates a running checksum across a stream of blocks exactly
// as crc32_init/crc32_add do, so producer and consumer can compare
// Sum32 once a transfer completes to detect corruption. hash/crc32 is
// stdlib; the pack carries no dedicated checksum library and this is a
// single four-function need with no framing or parsing involved.
type CRC struct {
	sum uint32
}

// NewCRC returns a zeroed accumulator (crc32_init).
func NewCRC() *CRC { return &CRC{} }

// Add folds p into the running checksum (crc32_add).
func (c *CRC) Add(p []byte) { c.sum = crc32.Update(c.sum, castagnoliTable, p) }

// Sum32 returns the checksum accumulated so far.
func (c *CRC) Sum32() uint32 { return c.sum }
