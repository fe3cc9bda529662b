/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package selfcheck

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zmanda/amclient/dle"
	"github.com/zmanda/amclient/message"
)

// Options is the parsed OPTIONS line (§6): server-supplied hints that
// govern the rest of the request and the response format.
type Options struct {
	Hostname string
	Config   string
	Features uint64
}

// Entry is one self-check job: a parsed DLE plus the two bits the
// classic grammar carries alongside it that don't belong on the DLE
// itself (§6's "[APPLICATION ][CALCSIZE ]" prefix).
type Entry struct {
	DLE           *dle.DiskListEntry
	IsApplication bool
	Calcsize      bool
}

// Request is one complete self-check request: the OPTIONS line plus
// every DLE to check, however they were encoded on the wire.
type Request struct {
	Options Options
	Entries []Entry
}

// ParseRequest reads a self-check request (§6) from r. It returns a
// non-nil violation message, never alongside a populated Request, for
// every protocol violation named in §7 item 5 (malformed request
// line, duplicate or malformed OPTIONS line); err is reserved for
// genuine I/O failure reading r.
func ParseRequest(r io.Reader) (Request, *message.Message, error) {
	br := bufio.NewReader(r)
	var req Request
	sawOptions := false

	for {
		line, eof, err := readLine(br)
		if err != nil {
			return Request{}, nil, err
		}
		if line != "" {
			switch {
			case strings.HasPrefix(line, "OPTIONS "):
				if sawOptions {
					return Request{}, violation(3600002, line), nil
				}
				sawOptions = true
				opts, verr := parseOptionsLine(line)
				if verr != nil {
					return Request{}, verr, nil
				}
				req.Options = opts
				if hasFeature(opts.Features, featureReqXML) {
					entries, verr, err := parseXMLRequest(br)
					if err != nil {
						return Request{}, nil, err
					}
					if verr != nil {
						return Request{}, verr, nil
					}
					req.Entries = entries
					return req, nil, nil
				}
			case !sawOptions:
				return Request{}, violation(3600001, line), nil
			default:
				entry, perr := parseClassicLine(line)
				if perr != nil {
					return Request{}, violation(3600090, line), nil
				}
				req.Entries = append(req.Entries, entry)
			}
		}
		if eof {
			break
		}
	}
	if !sawOptions {
		return Request{}, violation(3600001, ""), nil
	}
	return req, nil, nil
}

// readLine returns the next newline-delimited line, with the trailing
// newline stripped, and whether br is now exhausted.
func readLine(br *bufio.Reader) (line string, eof bool, err error) {
	s, rerr := br.ReadString('\n')
	if rerr != nil {
		if rerr == io.EOF {
			return strings.TrimRight(s, "\r\n"), true, nil
		}
		return "", false, rerr
	}
	return strings.TrimRight(s, "\r\n"), false, nil
}

func violation(code int, line string) *message.Message {
	m := message.Build("selfcheck/request.go", 0, code, message.Error, 0, "", map[string]string{"line": line})
	return &m
}

// parseOptionsLine maps "OPTIONS key=value key=value..." into Options
// (§6), defaulting hostname to the local hostname when omitted.
func parseOptionsLine(line string) (Options, *message.Message) {
	rest := strings.TrimPrefix(line, "OPTIONS ")
	var opts Options
	for _, kv := range strings.Fields(rest) {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return Options{}, violation(3600001, line)
		}
		switch k {
		case "hostname":
			opts.Hostname = v
		case "config":
			opts.Config = v
		case "features":
			opts.Features = parseFeatures(v)
		}
	}
	if opts.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			opts.Hostname = h
		}
	}
	return opts, nil
}

// parseClassicLine wraps dle.ParseClassicRequest, additionally
// resolving the APPLICATION prefix into the DLE's Application/Program
// split (ParseClassicRequest itself leaves Program holding whichever
// program token it read, application plugin name included).
func parseClassicLine(line string) (Entry, error) {
	d, isApp, calcsize, err := dle.ParseClassicRequest(line)
	if err != nil {
		return Entry{}, err
	}
	if isApp {
		d.Application = d.Program
		d.Program = dle.ProgramApplication
	}
	return Entry{DLE: d, IsApplication: isApp, Calcsize: calcsize}, nil
}

// xmlRequest is this implementation's own minimal XML request shape.
// §6 defers the XML request schema to "not specified here"; the
// original grammar (original_source/common-src/amxml.c) is a large,
// attribute-heavy format this core does not attempt to reproduce
// byte-for-byte. This shape carries the same fields the classic
// grammar does, structured, so a server advertising fe_req_xml gets a
// request format this driver can parse into the identical DLE model.
type xmlRequest struct {
	XMLName xml.Name `xml:"request"`
	DLEs    []xmlDLE `xml:"dle"`
}

type xmlDLE struct {
	Program     string `xml:"program"`
	Application string `xml:"application"`
	Disk        string `xml:"disk"`
	Device      string `xml:"device"`
	Level       int    `xml:"level"`
	Calcsize    bool   `xml:"calcsize"`
	Options     string `xml:"options"`
}

func parseXMLRequest(r io.Reader) ([]Entry, *message.Message, error) {
	var doc xmlRequest
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, violation(3600090, fmt.Sprintf("xml request: %v", err)), nil
	}

	entries := make([]Entry, 0, len(doc.DLEs))
	for _, xd := range doc.DLEs {
		d := dle.NewDiskListEntry(xd.Disk)
		if xd.Device != "" {
			d.Device = xd.Device
		}
		d.Levels = []int{xd.Level}
		isApp := xd.Application != ""
		if isApp {
			d.Application = xd.Application
			d.Program = dle.ProgramApplication
		} else {
			d.Program = xd.Program
		}
		if xd.Options != "" {
			if _, err := dle.ParseOptions(d, xd.Options); err != nil {
				return nil, violation(3600090, xd.Options), nil
			}
		}
		entries = append(entries, Entry{DLE: d, IsApplication: isApp, Calcsize: xd.Calcsize})
	}
	return entries, nil, nil
}
