package main

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeNpy emits a minimal version 1.0 .npy file with the given header dict
// and float32 payload.
func writeNpy(t *testing.T, path, header string, data []float32) {
	t.Helper()

	for (10+len(header)+1)%16 != 0 {
		header += " "
	}
	header += "\n"

	buf := []byte("\x93NUMPY\x01\x00")
	buf = append(buf, byte(len(header)), byte(len(header)>>8))
	buf = append(buf, header...)
	for _, v := range data {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
		buf = append(buf, b[:]...)
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func TestLoadNpyReadsTensor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pred.npy")
	data := make([]float32, 2*2*3)
	for i := range data {
		data[i] = float32(i)
	}
	writeNpy(t, path, "{'descr': '<f4', 'fortran_order': False, 'shape': (2, 2, 3), }", data)

	pred, err := loadPrediction(path, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, pred.Height)
	assert.Equal(t, 2, pred.Width)
	assert.Equal(t, 3, pred.Channels)
	assert.Equal(t, float32(5), pred.At(0, 1, 2))
}

func TestLoadNpyRejectsFortranOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fortran.npy")
	writeNpy(t, path, "{'descr': '<f4', 'fortran_order': True, 'shape': (2, 2, 3), }", make([]float32, 12))

	_, err := loadPrediction(path, 0, 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "column-major")
}

func TestLoadNpyRejectsNonTensorShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flat.npy")
	writeNpy(t, path, "{'descr': '<f4', 'fortran_order': False, 'shape': (12,), }", make([]float32, 12))

	_, err := loadPrediction(path, 0, 0, 0)
	require.Error(t, err)
}

func TestLoadRawRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pred.raw")
	data := make([]float32, 2*2*3)
	for i := range data {
		data[i] = float32(i) * 0.25
	}
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	pred, err := loadPrediction(path, 2, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, data, pred.Data)
}

func TestLoadRawRequiresDims(t *testing.T) {
	_, err := loadPrediction("pred.raw", 0, 0, 0)
	require.Error(t, err)
}

func TestLoadRawSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.raw")
	require.NoError(t, os.WriteFile(path, make([]byte, 8), 0o644))

	_, err := loadPrediction(path, 2, 2, 3)
	require.Error(t, err)
}
