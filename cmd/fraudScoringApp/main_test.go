package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	root := newRootCmd()

	for _, path := range [][]string{
		{"serve"},
		{"worker"},
		{"all"},
		{"migrate"},
		{"threshold", "get"},
		{"threshold", "set"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestParseThreshold(t *testing.T) {
	v, err := parseThreshold("0.75")
	require.NoError(t, err)
	assert.Equal(t, 0.75, v)

	v, err = parseThreshold("0.125")
	require.NoError(t, err)
	assert.Equal(t, 0.125, v)

	for _, bad := range []string{"abc", "-0.1", "1.01", "", "NaN", "0.1234"} {
		_, err := parseThreshold(bad)
		assert.Error(t, err, bad)
	}
}

func TestThresholdSetRejectsBadValueBeforeConnecting(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"threshold", "set", "1.5"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside [0,1]")
}

func TestRunCommandsRejectArgs(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"worker", "extra"})

	assert.Error(t, root.Execute())
}
