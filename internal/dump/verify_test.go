package dump

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGzip(t *testing.T, content string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "dump.sql.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0600))
	return path
}

const completeDump = "-- MySQL dump 10.13  Distrib 8.0.36\n" +
	"CREATE TABLE `t` (`id` int);\n" +
	"INSERT INTO `t` VALUES (1);\n" +
	"-- Dump completed on 2024-01-02  3:10:00\n"

func TestVerify_CompleteDump(t *testing.T) {
	v, err := Verify(writeGzip(t, completeDump))
	require.NoError(t, err)

	assert.True(t, v.Completed)
	assert.Equal(t, int64(len(completeDump)), v.UncompressedSize)
}

func TestVerify_MariaDBClientDump(t *testing.T) {
	body := "-- MariaDB dump 10.19  Distrib 10.11.6-MariaDB, for debian-linux-gnu (x86_64)\n" +
		"CREATE TABLE t (id int);\n" +
		"-- Dump completed on 2024-01-02  3:10:00\n"

	v, err := Verify(writeGzip(t, body))
	require.NoError(t, err)
	assert.True(t, v.Completed)
}

func TestVerify_LargeDumpKeepsOnlyTail(t *testing.T) {
	body := "-- MySQL dump 10.13\n" + strings.Repeat("INSERT INTO `t` VALUES (1);\n", 20000) +
		"-- Dump completed on 2024-01-02  3:10:00\n"

	v, err := Verify(writeGzip(t, body))
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), v.UncompressedSize)
}

func TestVerify_Truncated(t *testing.T) {
	_, err := Verify(writeGzip(t, "-- MySQL dump 10.13\nINSERT INTO `t` VALUES (1);\n"))
	assert.True(t, errors.Is(err, ErrIncompleteDump))
}

func TestVerify_NotADump(t *testing.T) {
	_, err := Verify(writeGzip(t, ""))
	assert.True(t, errors.Is(err, ErrNotMySQLDump))

	_, err = Verify(writeGzip(t, "mysqldump: Got error: 1045"))
	assert.True(t, errors.Is(err, ErrNotMySQLDump))
}

func TestVerify_NotGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.sql.gz")
	require.NoError(t, os.WriteFile(path, []byte(completeDump), 0600))

	_, err := Verify(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid gzip format")
}

func TestTailWriter(t *testing.T) {
	tw := &tailWriter{max: 4}
	_, _ = tw.Write([]byte("abc"))
	_, _ = tw.Write([]byte("defg"))
	assert.Equal(t, "defg", string(tw.buf))
}
