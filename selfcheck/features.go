/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package selfcheck

import "strconv"

// Feature bit assignments within the OPTIONS line's hex-encoded
// feature bitstring (§6). The distillation leaves the concrete bit
// positions unspecified beyond naming the two features this driver
// acts on; these values are local to this implementation, not a
// wire-compatible feature-number registry.
const (
	featureSelfcheckMessage uint64 = 1 << 0
	featureReqXML           uint64 = 1 << 1
)

// parseFeatures decodes a hex bitstring into a bitset. An empty or
// unparseable string is treated as "no features advertised" rather
// than an error, matching a client that predates the feature string
// entirely.
func parseFeatures(s string) uint64 {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0
	}
	return v
}

func hasFeature(bits uint64, feature uint64) bool {
	return bits&feature != 0
}
