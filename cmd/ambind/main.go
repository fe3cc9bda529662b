/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command ambind is the callee side of the privileged-bind broker
// (component B): a tiny SUID-root helper that receives an unbound
// socket over SCM_RIGHTS, binds it to the requested address after a
// port-whitelist check, and returns the now-bound descriptor to its
// caller (§4.2), grounded on original_source/common-src/ambind.c.
//
// It performs exactly one bind per invocation and exits; the caller
// (bindbroker.Broker) re-spawns it for every port attempt.
package main

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/zmanda/amclient/security"
)

// timeout matches bindbroker's 5-second deadline on each recvmsg.
const timeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "ambind: missing socket fd argument")
		return 2
	}
	fd, err := strconv.Atoi(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "ambind: bad fd argument %q: %v\n", os.Args[1], err)
		return 2
	}

	sockFile := os.NewFile(uintptr(fd), "ambind-sock")
	conn, err := net.FileConn(sockFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ambind: wrapping fd %d: %v\n", fd, err)
		return 2
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		fmt.Fprintf(os.Stderr, "ambind: fd %d is not a unix socket\n", fd)
		return 2
	}
	defer unixConn.Close()

	s, err := recvSocket(unixConn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ambind: first recvmsg failed: %v\n", err)
		return 1
	}
	defer s.Close()

	addr, socklen, err := recvBindRequest(unixConn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ambind: second recvmsg failed: %v\n", err)
		return 2
	}
	_ = socklen

	sockType, err := unix.GetsockoptInt(int(s.Fd()), unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ambind: SO_TYPE: %v\n", err)
		return 2
	}

	sec, err := security.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "ambind: loading security file: %v\n", err)
		return 2
	}
	if !sec.AllowBind(sockType, addrPort(addr)) {
		fmt.Fprintf(os.Stderr, "ambind: port %d outside configured range\n", addrPort(addr))
		return 2
	}

	if err := unix.Bind(int(s.Fd()), addr); err != nil {
		if err == unix.EADDRINUSE {
			fmt.Fprintf(os.Stderr, "WARNING: ambind: bind failed: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "ambind: bind failed A: %v\n", err)
		return 2
	}

	if err := sendSocket(unixConn, s); err != nil {
		fmt.Fprintf(os.Stderr, "ambind: sendmsg failed: %v\n", err)
		return 1
	}
	return 0
}

func recvSocket(conn *net.UnixConn) (*os.File, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 16)
	oob := make([]byte, unix.CmsgSpace(4))
	_, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return nil, err
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil || len(msgs) == 0 {
		return nil, fmt.Errorf("the first control structure contains no file descriptor")
	}
	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil || len(fds) == 0 {
		return nil, fmt.Errorf("the first control structure contains no file descriptor")
	}
	return os.NewFile(uintptr(fds[0]), "ambind-target"), nil
}

func sendSocket(conn *net.UnixConn, f *os.File) error {
	rights := unix.UnixRights(int(f.Fd()))
	_, _, err := conn.WriteMsgUnix(nil, rights, nil)
	return err
}

// recvBindRequest reads the fixed-size BindRequest datagram (sockaddr
// bytes followed by a little-endian socklen) and decodes it into a
// unix.Sockaddr suitable for unix.Bind.
func recvBindRequest(conn *net.UnixConn) (unix.Sockaddr, uint32, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, unix.SizeofSockaddrInet6+4)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, 0, err
	}
	if n != len(buf) {
		return nil, 0, fmt.Errorf("recvmsg size == %d", n)
	}
	socklen := binary.LittleEndian.Uint32(buf[unix.SizeofSockaddrInet6:])
	addr, err := decodeAddr(buf[:unix.SizeofSockaddrInet6])
	return addr, socklen, err
}

func decodeAddr(wire []byte) (unix.Sockaddr, error) {
	family := binary.LittleEndian.Uint16(wire[0:2])
	port := int(binary.BigEndian.Uint16(wire[2:4]))
	switch family {
	case unix.AF_INET:
		var sa unix.SockaddrInet4
		sa.Port = port
		copy(sa.Addr[:], wire[4:8])
		return &sa, nil
	case unix.AF_INET6:
		var sa unix.SockaddrInet6
		sa.Port = port
		copy(sa.Addr[:], wire[8:24])
		return &sa, nil
	default:
		return nil, fmt.Errorf("unsupported address family %d", family)
	}
}

func addrPort(addr unix.Sockaddr) int {
	switch a := addr.(type) {
	case *unix.SockaddrInet4:
		return a.Port
	case *unix.SockaddrInet6:
		return a.Port
	default:
		return 0
	}
}
