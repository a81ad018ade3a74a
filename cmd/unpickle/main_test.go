package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	ogorek "github.com/kisielk/og-rek"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/unpickle/internal/pickle"
	"github.com/born-ml/unpickle/internal/pickletest"
)

func writeTemp(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run([]string{"-version"}, &stdout, &stderr))
	assert.Equal(t, "unpickle "+version+"\n", stdout.String())
}

func TestUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Usage: unpickle")
}

func TestDumpFile(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, ogorek.NewEncoder(buf).Encode([]any{"a", int64(1)}))
	path := writeTemp(t, t.TempDir(), "list.pkl", buf.Bytes())

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{path}, &stdout, &stderr), stderr.String())
	assert.Equal(t, "list (2 items) #1\n  [0]: \"a\"\n  [1]: 1\n", stdout.String())
}

func TestRegistryFlag(t *testing.T) {
	dir := t.TempDir()
	b := pickletest.New(2)
	b.Global("mypkg", "Model").Tuple(0).Op(pickle.OpNewObj)
	model := writeTemp(t, dir, "model.pkl", b.Stop())
	reg := writeTemp(t, dir, "extra.ini", []byte("[mine]\nmypkg.Model = object\n"))

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{model}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "unresolved type")

	stdout.Reset()
	stderr.Reset()
	require.Equal(t, 0, run([]string{"-registry", reg, model}, &stdout, &stderr), stderr.String())
	assert.Equal(t, "mypkg.Model (0 attributes) #1\n", stdout.String())
}

func TestMultipleFiles(t *testing.T) {
	dir := t.TempDir()
	buf := new(bytes.Buffer)
	require.NoError(t, ogorek.NewEncoder(buf).Encode(int64(3)))
	a := writeTemp(t, dir, "a.pkl", buf.Bytes())
	bad := writeTemp(t, dir, "b.pkl", []byte("not a pickle"))

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{"-workers", "2", a, bad}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "== "+a+" ==\n3\n")
	assert.Contains(t, stdout.String(), "== "+bad+" ==")
	assert.Contains(t, stderr.String(), "load failed")
}
