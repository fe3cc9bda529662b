/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package config

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	kb = 1024
	mb = 1024 * kb
	gb = 1024 * mb
	tb = 1024 * gb
)

// ParseBool attempts to parse the string v into a boolean. The following will
// return true:
//
//   - "true"
//   - "t"
//   - "yes"
//   - "y"
//   - "1"
//
// The following will return false:
//
//   - "false"
//   - "f"
//   - "no"
//   - "n"
//   - "0"
//
// All other values return an error.
func ParseBool(v string) (r bool, err error) {
	v = strings.ToLower(v)
	switch v {
	case `true`:
		fallthrough
	case `t`:
		fallthrough
	case `yes`:
		fallthrough
	case `y`:
		fallthrough
	case `1`:
		r = true
	case `false`:
	case `f`:
	case `0`:
	case `no`:
	case `n`:
	default:
		err = fmt.Errorf("Unknown boolean value")
	}
	return
}

// ParseUint64 will attempt to turn the given string into an unsigned 64-bit integer.
func ParseUint64(v string) (i uint64, err error) {
	if strings.HasPrefix(v, "0x") {
		i, err = strconv.ParseUint(strings.TrimPrefix(v, "0x"), 16, 64)
	} else {
		i, err = strconv.ParseUint(v, 10, 64)
	}
	return
}

// ParseInt64 will attempt to turn the given string into a signed 64-bit integer.
func ParseInt64(v string) (i int64, err error) {
	if strings.HasPrefix(v, "0x") {
		i, err = strconv.ParseInt(strings.TrimPrefix(v, "0x"), 16, 64)
	} else {
		i, err = strconv.ParseInt(v, 10, 64)
	}
	return
}

// ParseDisplayUnit parses a display-unit letter (k, m, g, t, case
// insensitive) into its divisor and canonical uppercase suffix, per
// the size: interpolation format used by the message registry.
func ParseDisplayUnit(v string) (divisor int64, suffix string, err error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case ``, `k`:
		divisor, suffix = kb, `K`
	case `m`:
		divisor, suffix = mb, `M`
	case `g`:
		divisor, suffix = gb, `G`
	case `t`:
		divisor, suffix = tb, `T`
	default:
		err = fmt.Errorf("unknown display unit %q", v)
	}
	return
}
