package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/ct2spec/internal/format"
	"github.com/born-ml/ct2spec/internal/spec"
)

type namedNode struct {
	*spec.Node
}

func (namedNode) Name() string  { return "TestSpec" }
func (namedNode) Revision() int { return 3 }

func writeTestModel(t *testing.T) string {
	t.Helper()
	root := spec.NewNode()
	heads, err := spec.Int16(8)
	require.NoError(t, err)
	w, err := spec.FromFloat32([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)

	layer, err := root.Child("layer")
	require.NoError(t, err)
	_, err = layer.AddSlot("weight", spec.NewFilled(w))
	require.NoError(t, err)
	_, err = root.AddSlot("num_heads", spec.NewFilled(heads))
	require.NoError(t, err)
	_, err = root.AddSlot("projection", spec.NewFilled(w))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), format.FileName)
	require.NoError(t, format.Save(path, namedNode{root}))
	return path
}

func TestSummaryRows(t *testing.T) {
	path := writeTestModel(t)
	model, err := format.Open(path)
	require.NoError(t, err)

	rows := summaryRows(path, model)
	got := make(map[string]string, len(rows))
	for _, r := range rows {
		require.Len(t, r, 2)
		got[r[0]] = r[1]
	}
	assert.Equal(t, "TestSpec", got["spec"])
	assert.Equal(t, "3", got["revision"])
	assert.Equal(t, "6", got["binary version"])
	assert.Equal(t, "2", got["# variables"])
	assert.Equal(t, "1", got["# aliases"])
	assert.Equal(t, "6", got["# parameters"])
	assert.Equal(t, "26 B", got["# bytes"])
}

func TestVariableRows(t *testing.T) {
	model, err := format.Open(writeTestModel(t))
	require.NoError(t, err)

	rows := variableRows(model, "")
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"layer/weight", "float32", "[2 3]", "6", "24 B", ""}, rows[0])
	assert.Equal(t, "num_heads", rows[1][0])
	assert.Equal(t, "int16", rows[1][1])
	assert.Equal(t, "8:int16", rows[1][5])
	assert.Equal(t, []string{"projection", "alias", "-> layer/weight", "", "", ""}, rows[2])

	rows = variableRows(model, "layer/")
	require.Len(t, rows, 1)
	assert.Equal(t, "layer/weight", rows[0][0])
}

func TestRunInspect_Verify(t *testing.T) {
	path := writeTestModel(t)
	digest, err := format.DigestFile(path)
	require.NoError(t, err)

	assert.NoError(t, runInspect([]string{"-summary=false", "-verify", digest, path}))

	err = runInspect([]string{"-summary=false", "-verify", strings.Repeat("ab", 32), path})
	assert.ErrorIs(t, err, format.ErrChecksumMismatch)
}
