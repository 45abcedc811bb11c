// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netparams

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateProducesWellFormedPairs(t *testing.T) {
	out := Generate()
	fields := strings.Fields(out)
	require.NotEmpty(t, fields)

	seen := make(map[string]string)
	for _, f := range fields {
		parts := strings.SplitN(f, ":", 2)
		require.Len(t, parts, 2, "malformed pair %q", f)
		seen[parts[0]] = parts[1]
	}

	for _, key := range []string{
		"sendbuf_auto", "sendspace", "sendbuf_inc", "sendbuf_max",
		"recvbuf_auto", "recvspace", "recvbuf_inc", "recvbuf_max",
		"init_win", "init_win_local", "delack_ticks", "congctl",
	} {
		assert.Contains(t, seen, key)
	}
}

func TestGenerateBufmaxNeverBelowBufspace(t *testing.T) {
	for n := 0; n < 200; n++ {
		out := Generate()
		fields := strings.Fields(out)
		values := make(map[string]string)
		for _, f := range fields {
			parts := strings.SplitN(f, ":", 2)
			values[parts[0]] = parts[1]
		}
		space, err := strconv.ParseInt(values["sendspace"], 16, 64)
		require.NoError(t, err)
		max, err := strconv.ParseInt(values["sendbuf_max"], 16, 64)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, max, space)
	}
}

func TestGenerateCongestionAlgorithmIsFromAllowedSet(t *testing.T) {
	allowed := map[string]bool{"reno": true, "newreno": true, "cubic": true}
	for n := 0; n < 50; n++ {
		out := Generate()
		for _, f := range strings.Fields(out) {
			if strings.HasPrefix(f, "congctl:") {
				algo := strings.TrimPrefix(f, "congctl:")
				assert.True(t, allowed[algo], "unexpected algorithm %q", algo)
			}
		}
	}
}
