/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package dle

import (
	"fmt"
	"strings"
)

// ParseOptions tokenizes the raw OPTIONS string (§4.7) and applies
// each recognized token to dle. Tokens are separated by ';' (the
// documented separator) or '|' (an accepted artifact per the source's
// tolerance, §9 Design Notes). Unknown tokens are returned verbatim,
// as a slice of the raw tokens, rather than aborting the parse, matching the
// original client_util.c behavior of reporting-and-continuing.
//
// Applying the same options string twice to two freshly constructed
// DLEs of the same disk produces equal DLEs (P1): ParseOptions never
// reads dle's prior state to decide how to apply a token.
func ParseOptions(dle *DiskListEntry, opts string) (unknown []string, err error) {
	for _, tok := range splitOptions(opts) {
		tok = strings.TrimSpace(tok)
		if tok == "" || tok == "|" {
			continue
		}
		switch {
		case tok == "compress-fast":
			dle.Compression = CompressClientFast
		case tok == "compress-best":
			dle.Compression = CompressClientBest
		case tok == "srvcomp-fast":
			dle.Compression = CompressServerFast
		case tok == "srvcomp-best":
			dle.Compression = CompressServerBest
		case strings.HasPrefix(tok, "srvcomp-cust="):
			dle.Compression = CompressServerCustom
			dle.CompressProgram = strings.TrimPrefix(tok, "srvcomp-cust=")
		case strings.HasPrefix(tok, "comp-cust="):
			dle.Compression = CompressClientCustom
			dle.CompressProgram = strings.TrimPrefix(tok, "comp-cust=")
		case strings.HasPrefix(tok, "encrypt-serv-cust="):
			dle.Encryption = EncryptServerCustom
			dle.EncryptProgram = strings.TrimPrefix(tok, "encrypt-serv-cust=")
		case strings.HasPrefix(tok, "encrypt-cust="):
			dle.Encryption = EncryptClientCustom
			dle.EncryptProgram = strings.TrimPrefix(tok, "encrypt-cust=")
		case strings.HasPrefix(tok, "server-decrypt-option="):
			dle.DecryptOpt = strings.TrimPrefix(tok, "server-decrypt-option=")
		case strings.HasPrefix(tok, "client-decrypt-option="):
			dle.DecryptOpt = strings.TrimPrefix(tok, "client-decrypt-option=")
		case tok == "no-record":
			dle.Record = false
		case tok == "index":
			dle.CreateIndex = true
		case tok == "exclude-optional":
			dle.ExcludeOptional = true
		case tok == "include-optional":
			dle.IncludeOptional = true
		case strings.HasPrefix(tok, "exclude-file="):
			dle.ExcludeFile = append(dle.ExcludeFile, unquote(strings.TrimPrefix(tok, "exclude-file=")))
		case strings.HasPrefix(tok, "exclude-list="):
			dle.ExcludeList = append(dle.ExcludeList, unquote(strings.TrimPrefix(tok, "exclude-list=")))
		case strings.HasPrefix(tok, "include-file="):
			dle.IncludeFile = append(dle.IncludeFile, unquote(strings.TrimPrefix(tok, "include-file=")))
		case strings.HasPrefix(tok, "include-list="):
			dle.IncludeList = append(dle.IncludeList, unquote(strings.TrimPrefix(tok, "include-list=")))
		case tok == "kencrypt":
			dle.Kencrypt = true
		default:
			unknown = append(unknown, tok)
		}
	}
	return
}

// splitOptions splits on both ';' and '|', trimming the leading/
// trailing separator the classic grammar wraps the whole string in
// (";compress-fast;index;exclude-file=/etc/a.excl;" is the canonical
// shape seen on the wire).
func splitOptions(opts string) []string {
	opts = strings.Trim(opts, ";|")
	if opts == "" {
		return nil
	}
	return strings.FieldsFunc(opts, func(r rune) bool { return r == ';' || r == '|' })
}

// unquote reverses the C-style quoting (\n \t \r \f \\ and \ooo octal)
// the classic request grammar uses for string literals (§6).
func unquote(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
			i++
		case 't':
			b.WriteByte('\t')
			i++
		case 'r':
			b.WriteByte('\r')
			i++
		case 'f':
			b.WriteByte('\f')
			i++
		case '\\':
			b.WriteByte('\\')
			i++
		default:
			if isOctal(s, i+1) {
				var v byte
				for j := 0; j < 3 && i+1+j < len(s) && s[i+1+j] >= '0' && s[i+1+j] <= '7'; j++ {
					v = v*8 + (s[i+1+j] - '0')
				}
				b.WriteByte(v)
				i += 3
			} else {
				b.WriteByte(s[i])
			}
		}
	}
	return b.String()
}

func isOctal(s string, at int) bool {
	return at < len(s) && s[at] >= '0' && s[at] <= '7'
}

// ParseClassicRequest parses one line of the classic self-check
// request grammar (§6):
//
//	[APPLICATION ][CALCSIZE ]<program> "<disk>" [<device>] <level> [OPTIONS "<opts>"]
func ParseClassicRequest(line string) (dle *DiskListEntry, isApplication, calcsize bool, err error) {
	fields, err := tokenizeQuoted(line)
	if err != nil {
		return nil, false, false, err
	}
	if len(fields) == 0 {
		return nil, false, false, fmt.Errorf("empty request line")
	}
	idx := 0
	if fields[idx] == "APPLICATION" {
		isApplication = true
		idx++
	}
	if idx < len(fields) && fields[idx] == "CALCSIZE" {
		calcsize = true
		idx++
	}
	if idx+2 > len(fields) {
		return nil, isApplication, calcsize, fmt.Errorf("malformed request line: %q", line)
	}
	program := fields[idx]
	idx++
	if idx >= len(fields) {
		return nil, isApplication, calcsize, fmt.Errorf("malformed request line: %q", line)
	}
	disk := fields[idx]
	idx++

	dle = NewDiskListEntry(disk)
	dle.Program = program

	// optional device: present whenever the next field isn't a bare
	// integer level.
	if idx < len(fields) && !isInt(fields[idx]) {
		dle.Device = fields[idx]
		idx++
	}
	if idx >= len(fields) || !isInt(fields[idx]) {
		return nil, isApplication, calcsize, fmt.Errorf("malformed request line: missing level: %q", line)
	}
	lvl := 0
	if _, err = fmt.Sscanf(fields[idx], "%d", &lvl); err != nil {
		return nil, isApplication, calcsize, fmt.Errorf("malformed level in request line: %q", line)
	}
	dle.Levels = []int{lvl}
	idx++

	if idx < len(fields) && fields[idx] == "OPTIONS" {
		idx++
		if idx >= len(fields) {
			return nil, isApplication, calcsize, fmt.Errorf("OPTIONS without value: %q", line)
		}
		if _, err = ParseOptions(dle, fields[idx]); err != nil {
			return nil, isApplication, calcsize, err
		}
	}
	return dle, isApplication, calcsize, nil
}

func isInt(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// tokenizeQuoted splits a request line on whitespace, honoring
// double-quoted fields as single tokens (the disk/device specifiers
// may contain spaces).
func tokenizeQuoted(line string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	inQuote := false
	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			inQuote = !inQuote
		case c == ' ' || c == '\t':
			if inQuote {
				cur.WriteByte(c)
			} else {
				flush()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote in request line: %q", line)
	}
	flush()
	return fields, nil
}
