/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package selfcheck

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zmanda/amclient/dle"
)

func TestParseRequestClassic(t *testing.T) {
	raw := "OPTIONS hostname=client1 config=daily\n" +
		`DUMP "/var" "/dev/sda1" 0 OPTIONS ";compress-fast;index;"` + "\n" +
		`APPLICATION "app-postgres" "/home" "/dev/sda2" 0 OPTIONS ";"` + "\n"

	req, violation, err := ParseRequest(strings.NewReader(raw))
	require.NoError(t, err)
	require.Nil(t, violation)
	require.Equal(t, "client1", req.Options.Hostname)
	require.Equal(t, "daily", req.Options.Config)
	require.Len(t, req.Entries, 2)

	require.Equal(t, "/var", req.Entries[0].DLE.Disk)
	require.Equal(t, dle.ProgramDump, req.Entries[0].DLE.Program)
	require.False(t, req.Entries[0].IsApplication)

	require.True(t, req.Entries[1].IsApplication)
	require.Equal(t, dle.ProgramApplication, req.Entries[1].DLE.Program)
	require.Equal(t, "app-postgres", req.Entries[1].DLE.Application)
}

func TestParseRequestMissingOptionsIsViolation(t *testing.T) {
	raw := `DUMP "/var" "/dev/sda1" 0 OPTIONS ";"` + "\n"
	_, violation, err := ParseRequest(strings.NewReader(raw))
	require.NoError(t, err)
	require.NotNil(t, violation)
	require.Equal(t, 3600001, violation.Code)
}

func TestParseRequestDuplicateOptionsIsViolation(t *testing.T) {
	raw := "OPTIONS hostname=client1\nOPTIONS hostname=client1\n"
	_, violation, err := ParseRequest(strings.NewReader(raw))
	require.NoError(t, err)
	require.NotNil(t, violation)
	require.Equal(t, 3600002, violation.Code)
}

func TestParseRequestMalformedClassicLineIsViolation(t *testing.T) {
	raw := "OPTIONS hostname=client1\nnot a valid request line\n"
	_, violation, err := ParseRequest(strings.NewReader(raw))
	require.NoError(t, err)
	require.NotNil(t, violation)
	require.Equal(t, 3600090, violation.Code)
}

func TestParseFeaturesEmptyIsNoFeatures(t *testing.T) {
	require.Equal(t, uint64(0), parseFeatures(""))
	require.Equal(t, uint64(0), parseFeatures("not-hex"))
	require.True(t, hasFeature(parseFeatures("3"), featureSelfcheckMessage))
	require.True(t, hasFeature(parseFeatures("3"), featureReqXML))
}
