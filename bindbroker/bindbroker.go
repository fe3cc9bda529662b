/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package bindbroker is the caller side of the privileged-bind broker
// (component B): it hands an unbound socket to the SUID "ambind"
// helper (cmd/ambind) over a socketpair and SCM_RIGHTS, and gets back
// either the now-bound socket or a retry/fatal verdict (§4.2),
// grounded on original_source/common-src/amutil.c's ambind()/
// connect_port()/connect_portrange() and common-src/ambind.c.
package bindbroker

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"
)

// Outcome is the caller-facing verdict of one Bind attempt, matching
// connect_port's three-way return (-2 don't retry, -1 retry, >0 bound).
type Outcome int

const (
	// Bound means the helper bound the socket; Result.File is the
	// usable, already-bound descriptor.
	Bound Outcome = iota
	// RetryPort means the port was in use; the caller should pick
	// another port and try again.
	RetryPort
	// Fatal means no further attempt should be made on this broker
	// call (wrong privileges, a port outside the security-file's
	// allowed range, a protocol error, or a timeout).
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Bound:
		return "bound"
	case RetryPort:
		return "retry"
	default:
		return "fatal"
	}
}

// Result is the outcome of one Broker.Bind call.
type Result struct {
	Outcome Outcome
	File    *os.File // valid only when Outcome == Bound
	Message string   // diagnostic text read from the helper's stderr, if any
}

// timeout is the 5-second deadline §4.2 places on both the read socket
// and the helper's stderr pipe.
const timeout = 5 * time.Second

// Broker spawns the ambind helper binary on behalf of an unprivileged
// caller that needs to bind a privileged port.
type Broker struct {
	// HelperPath is the absolute path to the ambind binary
	// (amlibexecdir/ambind in the original).
	HelperPath string
}

// New returns a Broker that execs helperPath for every Bind call.
func New(helperPath string) *Broker {
	return &Broker{HelperPath: helperPath}
}

// Bind asks the helper to bind s, an already-created but unbound
// socket of the given address family, to addr. The Broker does not
// take ownership of s; on Outcome == Bound the caller should close its
// own s and use Result.File instead, mirroring connect_port's
// "old_s := s; s = ambind(...); close(old_s)" swap.
func (b *Broker) Bind(ctx context.Context, s *os.File, addr net.Addr) (Result, error) {
	wire, socklen, err := encodeAddr(addr)
	if err != nil {
		return Result{Outcome: Fatal}, err
	}

	pair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return Result{Outcome: Fatal}, fmt.Errorf("bindbroker: socketpair: %w", err)
	}
	parentFile := os.NewFile(uintptr(pair[0]), "ambind-parent")
	childFile := os.NewFile(uintptr(pair[1]), "ambind-child")
	defer parentFile.Close()

	parentConn, err := net.FileConn(parentFile)
	if err != nil {
		childFile.Close()
		return Result{Outcome: Fatal}, fmt.Errorf("bindbroker: wrapping socketpair: %w", err)
	}
	unixConn, ok := parentConn.(*net.UnixConn)
	if !ok {
		childFile.Close()
		return Result{Outcome: Fatal}, fmt.Errorf("bindbroker: unexpected conn type %T", parentConn)
	}
	defer unixConn.Close()

	cmd := exec.CommandContext(ctx, b.HelperPath, "3")
	cmd.ExtraFiles = []*os.File{childFile}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		childFile.Close()
		return Result{Outcome: Fatal}, fmt.Errorf("bindbroker: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		childFile.Close()
		return Result{Outcome: Fatal}, fmt.Errorf("bindbroker: starting %s: %w", b.HelperPath, err)
	}
	childFile.Close() // the child's dup lives on in its own fd table now

	// 1. hand over the unbound socket via SCM_RIGHTS.
	rights := unix.UnixRights(int(s.Fd()))
	if _, _, err := unixConn.WriteMsgUnix(nil, rights, nil); err != nil {
		_ = cmd.Process.Kill()
		return Result{Outcome: Fatal}, fmt.Errorf("bindbroker: sending socket rights: %w", err)
	}

	// 2. send the fixed-size bind request.
	req := make([]byte, len(wire)+4)
	copy(req, wire[:])
	binary.LittleEndian.PutUint32(req[len(wire):], socklen)
	if _, err := unixConn.Write(req); err != nil {
		_ = cmd.Process.Kill()
		return Result{Outcome: Fatal}, fmt.Errorf("bindbroker: sending bind request: %w", err)
	}

	res := b.await(unixConn, stderr)
	_ = cmd.Wait()
	return res, nil
}

// await races the read socket against the helper's stderr pipe with a
// single 5-second deadline, matching the original's select() over
// both descriptors.
func (b *Broker) await(conn *net.UnixConn, stderr io.Reader) Result {
	type outcome struct {
		res Result
	}
	sockCh := make(chan outcome, 1)
	errCh := make(chan outcome, 1)

	go func() {
		buf := make([]byte, 64)
		oob := make([]byte, unix.CmsgSpace(4))
		n, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
		if err != nil || n == 0 && oobn == 0 {
			return
		}
		msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil || len(msgs) == 0 {
			return
		}
		fds, err := unix.ParseUnixRights(&msgs[0])
		if err != nil || len(fds) == 0 {
			return
		}
		sockCh <- outcome{Result{Outcome: Bound, File: os.NewFile(uintptr(fds[0]), "ambind-bound")}}
	}()
	go func() {
		data, _ := io.ReadAll(stderr)
		if len(data) == 0 {
			return
		}
		errCh <- outcome{classifyStderr(string(data))}
	}()

	select {
	case o := <-sockCh:
		return o.res
	case o := <-errCh:
		return o.res
	case <-time.After(timeout):
		return Result{Outcome: Fatal, Message: "ambind: timed out waiting for helper"}
	}
}

func classifyStderr(msg string) Result {
	if len(msg) >= 8 && msg[:8] == "WARNING:" {
		return Result{Outcome: RetryPort, Message: msg}
	}
	return Result{Outcome: Fatal, Message: msg}
}

// encodeAddr packs addr into the fixed sockaddr_union layout ambind_t
// carries on the wire: family/port/address bytes at the offsets
// RawSockaddrInet4/RawSockaddrInet6 use, zero-padded to the union's
// size, plus the matching socklen.
func encodeAddr(addr net.Addr) (out [unix.SizeofSockaddrInet6]byte, socklen uint32, err error) {
	var port int
	var ip net.IP
	switch a := addr.(type) {
	case *net.TCPAddr:
		port, ip = a.Port, a.IP
	case *net.UDPAddr:
		port, ip = a.Port, a.IP
	default:
		return out, 0, fmt.Errorf("bindbroker: unsupported address type %T", addr)
	}

	if ip4 := ip.To4(); ip4 != nil {
		binary.LittleEndian.PutUint16(out[0:2], unix.AF_INET)
		binary.BigEndian.PutUint16(out[2:4], uint16(port))
		copy(out[4:8], ip4)
		return out, unix.SizeofSockaddrInet4, nil
	}
	ip6 := ip.To16()
	if ip6 == nil {
		return out, 0, fmt.Errorf("bindbroker: invalid IP %v", ip)
	}
	binary.LittleEndian.PutUint16(out[0:2], unix.AF_INET6)
	binary.BigEndian.PutUint16(out[2:4], uint16(port))
	copy(out[8:24], ip6)
	return out, unix.SizeofSockaddrInet6, nil
}

// PortWalk returns the port search order connect_portrange uses for
// [first, last]: starting at (pid+seed) mod range-size and wrapping
// around once (P9), so cooperating processes spread their first
// attempts across the range instead of colliding on "first".
func PortWalk(first, last, pid int, seed int64) []int {
	if last < first {
		return nil
	}
	size := last - first + 1
	start := int((int64(pid)+seed)%int64(size)+int64(size)) % size
	out := make([]int, 0, size)
	for i := 0; i < size; i++ {
		out = append(out, first+(start+i)%size)
	}
	return out
}
