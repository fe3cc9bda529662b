/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package shmring

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultDir is where control/data regions and semaphore FIFOs are
// created, mirroring shm-ring.c's use of /dev/shm. Callers on systems
// without a tmpfs-backed /dev/shm should point this at one explicitly.
var DefaultDir = "/dev/shm"

var ringSeq int64

func nextID() int64 { return atomic.AddInt64(&ringSeq, 1) }

// Ring is one end (producer or consumer) of a shared-memory byte
// stream: a control region (offsets, flags, negotiated sizes,
// participant pids) and a data region, coordinated by four named
// semaphores.
type Ring struct {
	dir      string
	name     string // control-region file name; consumers Link by this
	producer bool

	controlFile *os.File
	control     *Control
	dataFile    *os.File
	data        []byte

	semWrite, semRead, semReady, semStart *semaphore

	blockSize int
	dataAvail int
}

// Create allocates a new ring as its producer (shm_ring_create +
// shm_ring_producer_set_size). blockSize/ringSize are this side's
// requested sizes; the effective sizes are negotiated once a consumer
// Links and calls SetConsumerSize and the producer calls AllocateData.
func Create(dir string, blockSize, ringSize int) (*Ring, error) {
	if dir == "" {
		dir = DefaultDir
	}
	name := fmt.Sprintf("amanda_shm_control-%d-%d", os.Getpid(), nextID())
	cf, err := os.OpenFile(filepath.Join(dir, name), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("shmring: creating control region: %w", err)
	}
	if err := cf.Truncate(int64(ControlSize)); err != nil {
		cf.Close()
		return nil, fmt.Errorf("shmring: sizing control region: %w", err)
	}
	mem, err := unix.Mmap(int(cf.Fd()), 0, ControlSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		cf.Close()
		return nil, fmt.Errorf("shmring: mmap control region: %w", err)
	}

	r := &Ring{dir: dir, name: name, producer: true, controlFile: cf, control: NewControl(mem), blockSize: blockSize}
	r.control.SetProducerRingSize(uint64(ringSize))
	r.control.SetProducerBlockSize(blockSize)
	r.control.AddPid(int32(os.Getpid()))

	r.control.SetDataName(fmt.Sprintf("amanda_shm_data-%d-%d", os.Getpid(), nextID()))
	r.control.SetSemWriteName(fmt.Sprintf("amanda_sem_write-%d-%d", os.Getpid(), nextID()))
	r.control.SetSemReadName(fmt.Sprintf("amanda_sem_read-%d-%d", os.Getpid(), nextID()))
	r.control.SetSemReadyName(fmt.Sprintf("amanda_sem_ready-%d-%d", os.Getpid(), nextID()))
	r.control.SetSemStartName(fmt.Sprintf("amanda_sem_start-%d-%d", os.Getpid(), nextID()))

	var err2 error
	if r.semWrite, err2 = createSemaphore(dir, r.control.SemWriteName()); err2 != nil {
		return nil, err2
	}
	if r.semRead, err2 = createSemaphore(dir, r.control.SemReadName()); err2 != nil {
		return nil, err2
	}
	if r.semReady, err2 = createSemaphore(dir, r.control.SemReadyName()); err2 != nil {
		return nil, err2
	}
	if r.semStart, err2 = createSemaphore(dir, r.control.SemStartName()); err2 != nil {
		return nil, err2
	}
	return r, nil
}

// ControlName is the name a consumer passes to Link.
func (r *Ring) ControlName() string { return r.name }

// Link attaches as the consumer of an existing ring (shm_ring_link).
func Link(dir, controlName string) (*Ring, error) {
	if dir == "" {
		dir = DefaultDir
	}
	cf, err := os.OpenFile(filepath.Join(dir, controlName), os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("shmring: opening control region %s: %w", controlName, err)
	}
	mem, err := unix.Mmap(int(cf.Fd()), 0, ControlSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		cf.Close()
		return nil, fmt.Errorf("shmring: mmap control region: %w", err)
	}
	r := &Ring{dir: dir, name: controlName, control: NewControl(mem), controlFile: cf}
	r.control.AddPid(int32(os.Getpid()))

	if r.semWrite, err = openSemaphore(dir, r.control.SemWriteName()); err != nil {
		return nil, err
	}
	if r.semRead, err = openSemaphore(dir, r.control.SemReadName()); err != nil {
		return nil, err
	}
	if r.semReady, err = openSemaphore(dir, r.control.SemReadyName()); err != nil {
		return nil, err
	}
	if r.semStart, err = openSemaphore(dir, r.control.SemStartName()); err != nil {
		return nil, err
	}
	return r, nil
}

// SetConsumerSize records the consumer's requested sizes in the control
// region and wakes the producer (shm_ring_consumer_set_size). The
// consumer must call it before the producer's AllocateData
// (alloc_shm_ring) can proceed, so the negotiation sees both sides'
// requests.
func (r *Ring) SetConsumerSize(ringSize, blockSize int) error {
	r.blockSize = blockSize
	r.control.SetConsumerRingSize(uint64(ringSize))
	r.control.SetConsumerBlockSize(blockSize)
	return r.semWrite.Post()
}

// AllocateData is the producer-only step that waits for the consumer's
// negotiated size, computes the effective ring size, and mmaps the
// data region at that size.
func (r *Ring) AllocateData() error {
	if !r.producer {
		return fmt.Errorf("shmring: AllocateData called on a consumer ring")
	}
	if err := r.semWrite.Wait(time.Now().Add(waitTimeout)); err != nil {
		return fmt.Errorf("shmring: waiting for consumer negotiation: %w", err)
	}
	size := NegotiateSize(r.control.ProducerRingSize(), uint64(r.control.ProducerBlockSize()),
		r.control.ConsumerRingSize(), uint64(r.control.ConsumerBlockSize()))
	r.control.SetRingSize(size)

	df, err := os.OpenFile(filepath.Join(r.dir, r.control.DataName()), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("shmring: creating data region: %w", err)
	}
	if err := df.Truncate(int64(size)); err != nil {
		df.Close()
		return fmt.Errorf("shmring: sizing data region: %w", err)
	}
	mem, err := unix.Mmap(int(df.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		df.Close()
		return fmt.Errorf("shmring: mmap data region: %w", err)
	}
	r.dataFile, r.data = df, mem
	return r.semRead.Post()
}

// AttachData is the consumer-only counterpart: it opens the data
// region the producer allocated, at the size the producer settled on.
func (r *Ring) AttachData() error {
	if r.producer {
		return fmt.Errorf("shmring: AttachData called on a producer ring")
	}
	if err := r.semRead.Wait(time.Now().Add(waitTimeout)); err != nil {
		return fmt.Errorf("shmring: waiting for producer allocation: %w", err)
	}
	size := int(r.control.RingSize())
	df, err := os.OpenFile(filepath.Join(r.dir, r.control.DataName()), os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("shmring: opening data region: %w", err)
	}
	mem, err := unix.Mmap(int(df.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		df.Close()
		return fmt.Errorf("shmring: mmap data region: %w", err)
	}
	r.dataFile, r.data = df, mem
	if r.blockSize == 0 {
		r.blockSize = r.control.ConsumerBlockSize()
	}
	return nil
}

// semWait is shm_ring_sem_wait: a 5-second bounded wait that, on
// timeout, checks every recorded participant pid for liveness
// (kill(pid,0)==ESRCH) and marks the ring cancelled — waking every
// other waiter on all four semaphores — if any participant has died.
func (r *Ring) semWait(sem *semaphore) error {
	for {
		err := sem.Wait(time.Now().Add(waitTimeout))
		if err == nil {
			return nil
		}
		if r.control.Cancelled() {
			return fmt.Errorf("shmring: cancelled")
		}
		if !isTimeout(err) {
			return r.failWait(err)
		}
		for _, pid := range r.control.Pids() {
			if pid == 0 {
				continue
			}
			if killErr := unix.Kill(int(pid), 0); killErr == unix.ESRCH {
				return r.failWait(fmt.Errorf("participant pid %d is gone", pid))
			}
		}
	}
}

func (r *Ring) failWait(cause error) error {
	r.control.SetCancelled(true)
	_ = r.semRead.Post()
	_ = r.semWrite.Post()
	_ = r.semReady.Post()
	_ = r.semStart.Post()
	return cause
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}

// FdToRing is the producer loop (fd_to_shm_ring): it copies src into
// the ring in blockSize chunks, folding each chunk into crc, until src
// returns io.EOF, then marks eof_flag and waits for the consumer to
// drain everything written.
func (r *Ring) FdToRing(src io.Reader, crc *CRC) error {
	ringSize := r.control.RingSize()
	consumerBlock := uint64(r.control.ConsumerBlockSize())
	buf := make([]byte, r.blockSize)

	for !r.control.Cancelled() {
		written := r.control.Written()
		for !r.control.Cancelled() {
			if ringSize-(written-r.control.ReadCount()) >= uint64(r.blockSize) {
				break
			}
			if err := r.semWait(r.semWrite); err != nil {
				return err
			}
		}
		if r.control.Cancelled() {
			break
		}

		n, err := src.Read(buf)
		if n > 0 {
			if written == 0 && r.control.NeedSemReady() {
				if postErr := r.semReady.Post(); postErr != nil {
					return postErr
				}
				if waitErr := r.semWait(r.semStart); waitErr != nil {
					return waitErr
				}
			}
			writeOffset := r.control.WriteOffset()
			r.writeAt(writeOffset, buf[:n])
			writeOffset = (writeOffset + uint64(n)) % ringSize
			r.control.SetWriteOffset(writeOffset)
			r.control.SetWritten(r.control.Written() + uint64(n))
			r.dataAvail += n
			crc.Add(buf[:n])
			if uint64(r.dataAvail) >= consumerBlock {
				if err := r.semRead.Post(); err != nil {
					return err
				}
				r.dataAvail -= int(consumerBlock)
			}
		}
		if err != nil {
			r.control.SetEOF(true)
			break
		}
	}

	_ = r.semRead.Post()
	_ = r.semRead.Post()

	for !r.control.Cancelled() && (r.control.Written() != r.control.ReadCount() || !r.control.EOF()) {
		if err := r.semWait(r.semWrite); err != nil {
			return err
		}
	}
	return nil
}

// RingToFd is the consumer loop (shm_ring_to_fd): it waits for either
// a full block or eof_flag, writes what's available to dst, folds it
// into crc, and signals the producer after every drained chunk.
func (r *Ring) RingToFd(dst io.Writer, crc *CRC) error {
	ringSize := r.control.RingSize()
	if err := r.semWrite.Post(); err != nil {
		return err
	}

	for !r.control.Cancelled() {
		var usable uint64
		var eof bool
		for {
			if err := r.semWait(r.semRead); err != nil {
				return err
			}
			usable = r.control.Written() - r.control.ReadCount()
			eof = r.control.EOF()
			if r.control.Cancelled() || usable >= uint64(r.blockSize) || eof {
				break
			}
		}
		readOffset := r.control.ReadOffset()

		for usable >= uint64(r.blockSize) || eof {
			toWrite := usable
			if toWrite > uint64(r.blockSize) {
				toWrite = uint64(r.blockSize)
			}
			chunk := r.readAt(readOffset, toWrite, ringSize)
			if len(chunk) > 0 {
				if _, err := dst.Write(chunk); err != nil {
					r.control.SetCancelled(true)
					_ = r.semWrite.Post()
					return err
				}
				crc.Add(chunk)
			}
			if toWrite > 0 {
				readOffset = (readOffset + toWrite) % ringSize
				r.control.SetReadOffset(readOffset)
				r.control.SetReadCount(r.control.ReadCount() + toWrite)
				if err := r.semWrite.Post(); err != nil {
					return err
				}
				usable -= toWrite
			}
			if r.control.WriteOffset() == r.control.ReadOffset() && r.control.EOF() {
				_ = r.semWrite.Post()
				return nil
			}
		}
	}
	return nil
}

// writeAt copies p into the data region starting at offset, wrapping
// around ringSize as needed.
func (r *Ring) writeAt(offset uint64, p []byte) {
	ringSize := uint64(len(r.data))
	first := ringSize - offset
	if uint64(len(p)) <= first {
		copy(r.data[offset:], p)
		return
	}
	copy(r.data[offset:], p[:first])
	copy(r.data, p[first:])
}

// readAt returns n bytes starting at offset, wrapping around ringSize.
func (r *Ring) readAt(offset, n, ringSize uint64) []byte {
	first := ringSize - offset
	if n <= first {
		out := make([]byte, n)
		copy(out, r.data[offset:offset+n])
		return out
	}
	out := make([]byte, n)
	copy(out, r.data[offset:])
	copy(out[first:], r.data[:n-first])
	return out
}

// CloseProducer tears the ring down from the producer side
// (close_producer_shm_ring): it marks EOF, wakes every waiter, closes
// its own semaphore handles, and unmaps both regions, unlinking the
// semaphore and data-region names since the producer owns them.
func (r *Ring) CloseProducer() error {
	if !r.control.EOF() {
		r.control.SetEOF(true)
	}
	_ = r.semReady.Post()
	_ = r.semStart.Post()
	_ = r.semWrite.Post()
	_ = r.semRead.Post()

	_ = r.semWrite.Unlink()
	_ = r.semReady.Unlink()
	_ = r.semRead.Unlink()
	_ = r.semStart.Unlink()

	if r.data != nil {
		_ = unix.Munmap(r.data)
	}
	if r.dataFile != nil {
		_ = r.dataFile.Close()
		_ = os.Remove(filepath.Join(r.dir, r.control.DataName()))
	}
	_ = unix.Munmap(r.control.mem)
	_ = r.controlFile.Close()
	return os.Remove(filepath.Join(r.dir, r.name))
}

// CloseConsumer tears the ring down from the consumer side: it only
// closes its own handles, leaving the names for the producer (or the
// cleanup sweep) to unlink.
func (r *Ring) CloseConsumer() error {
	r.semWrite.Close()
	r.semRead.Close()
	r.semReady.Close()
	r.semStart.Close()
	if r.data != nil {
		_ = unix.Munmap(r.data)
	}
	if r.dataFile != nil {
		_ = r.dataFile.Close()
	}
	_ = unix.Munmap(r.control.mem)
	return r.controlFile.Close()
}
