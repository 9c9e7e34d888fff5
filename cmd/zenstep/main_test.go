package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var definitionsDir = filepath.Join("..", "..", "pkg", "process", "loader", "testdata")

func TestValidateValidDefinition(t *testing.T) {
	// given
	buf := &bytes.Buffer{}
	cmd := newRootCommand()
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"validate", filepath.Join(definitionsDir, "definitions", "support.yaml")})

	// when
	err := cmd.Execute()

	// then
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "ok    support")
}

func TestValidateDirectory(t *testing.T) {
	// given
	buf := &bytes.Buffer{}
	cmd := newRootCommand()
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"validate", filepath.Join(definitionsDir, "definitions")})

	// when
	err := cmd.Execute()

	// then
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "ok    child")
	assert.Contains(t, buf.String(), "ok    support")
}

func TestValidateReportsBrokenDefinition(t *testing.T) {
	// given
	buf := &bytes.Buffer{}
	cmd := newRootCommand()
	cmd.SetOut(buf)
	cmd.SetArgs([]string{
		"validate",
		filepath.Join(definitionsDir, "definitions", "support.yaml"),
		filepath.Join(definitionsDir, "broken.yaml"),
	})

	// when
	err := cmd.Execute()

	// then
	assert.ErrorIs(t, err, errInvalidDefinitions)
	assert.Contains(t, buf.String(), "ok    support")
	assert.Contains(t, buf.String(), "FAIL")
	assert.Contains(t, buf.String(), "broken.yaml")
}

func TestValidateRequiresArguments(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"validate"})

	assert.Error(t, cmd.Execute())
}

func TestVersion(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := newRootCommand()
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "zenstep dev\n", buf.String())
}
