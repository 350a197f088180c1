// Copyright (c) 2021-2026 Apple Inc. and the Swift Profile Recorder project authors
// Licensed under the Apache License, Version 2.0.
// SPDX-License-Identifier: Apache-2.0

package emit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dayanruben/swift-profile-recorder/internal/platform"
)

// parseLine splits one "[SWIPR] TAG {json}" line into its tag and decoded
// body. DONE carries no body at all, so payload is nil for it rather than
// an empty map.
func parseLine(t *testing.T, line string) (tag string, payload map[string]any) {
	t.Helper()
	require.True(t, strings.HasPrefix(line, "[SWIPR] "), "line: %q", line)
	rest := strings.TrimPrefix(line, "[SWIPR] ")
	sp := strings.IndexByte(rest, ' ')
	if sp < 0 {
		return rest, nil
	}
	tag = rest[:sp]
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(rest[sp+1:]), &v))
	return tag, v
}

func TestGrammarOrderAndFieldNames(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)

	require.NoError(t, e.Version())
	require.NoError(t, e.Config(Config{
		SampleCount:            2,
		MicrosBetweenSamples:   1000,
		CurrentTimeSeconds:     100,
		CurrentTimeNanoseconds: 200,
	}))
	require.NoError(t, e.VMap(platform.ImageSegment{
		Path:                "/bin/app",
		FileMappedAddress:   0x1000,
		SegmentStartAddress: 0x1000,
		SegmentEndAddress:   0x3000,
	}))

	require.NoError(t, e.Sample(42, 7, "main", 1, 2))
	require.NoError(t, e.Stack(0xdead, 0xbeef))
	require.NoError(t, e.Done())

	exitCode := 1
	require.NoError(t, e.Message("thread 7 did not acknowledge", nil))
	require.NoError(t, e.Message("fatal error", &exitCode))
	require.NoError(t, e.Flush())

	sc := bufio.NewScanner(&buf)
	var tags []string
	var lines []map[string]any
	for sc.Scan() {
		tag, body := parseLine(t, sc.Text())
		tags = append(tags, tag)
		lines = append(lines, body)
	}
	require.NoError(t, sc.Err())

	require.Equal(t, []string{"VERS", "CONF", "VMAP", "SMPL", "STCK", "DONE", "MESG", "MESG"}, tags)

	require.Equal(t, float64(1), lines[0]["version"])

	conf := lines[1]
	require.Equal(t, float64(2), conf["sampleCount"])
	require.Equal(t, float64(1000), conf["microSecondsBetweenSamples"])
	require.Equal(t, float64(100), conf["currentTimeSeconds"])
	require.Equal(t, float64(200), conf["currentTimeNanoseconds"])

	vmap := lines[2]
	require.Equal(t, "/bin/app", vmap["path"])
	require.Equal(t, "0x1000", vmap["fileMappedAddress"])
	require.Equal(t, "0x1000", vmap["segmentStartAddress"])
	require.Equal(t, "0x3000", vmap["segmentEndAddress"])

	smpl := lines[3]
	require.Equal(t, float64(42), smpl["pid"])
	require.Equal(t, float64(7), smpl["tid"])
	require.Equal(t, "main", smpl["name"])
	require.Equal(t, float64(1), smpl["timeSec"])
	require.Equal(t, float64(2), smpl["timeNSec"])

	stck := lines[4]
	require.Equal(t, "0xdead", stck["ip"])
	require.Equal(t, "0xbeef", stck["sp"])

	require.Nil(t, lines[5], "DONE must carry no JSON body")

	require.Equal(t, "thread 7 did not acknowledge", lines[6]["message"])
	require.NotContains(t, lines[6], "exit")
	require.Equal(t, "fatal error", lines[7]["message"])
	require.Equal(t, float64(1), lines[7]["exit"])
}

func TestDoneLineHasNoTrailingSpace(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)
	require.NoError(t, e.Done())
	require.NoError(t, e.Flush())
	require.Equal(t, "[SWIPR] DONE\n", buf.String())
}

func TestEveryLineEndsWithNewline(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)
	require.NoError(t, e.Version())
	require.NoError(t, e.Flush())
	require.True(t, strings.HasSuffix(buf.String(), "\n"))
}
