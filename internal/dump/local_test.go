package dump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "RDSDUMP_DUMP_HELPER"

// TestMain lets the test binary stand in for mysqldump.
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "":
		os.Exit(m.Run())
	case "ok":
		fmt.Printf("-- dump %s\n", strings.Join(os.Args[1:], " "))
		fmt.Printf("-- password-from-env=%t\n", os.Getenv(PasswordEnv) != "")
		os.Exit(0)
	case "warn":
		fmt.Println("-- partial")
		fmt.Fprintln(os.Stderr, "mysqldump: Got error: 2013: Lost connection")
		os.Exit(0)
	case "fail":
		fmt.Fprintln(os.Stderr, "mysqldump: Access denied for user")
		os.Exit(2)
	}
}

func helperExecutor(t *testing.T, mode string) *LocalExecutor {
	t.Helper()
	if _, err := exec.LookPath("gzip"); err != nil {
		t.Skip("gzip not available")
	}
	t.Setenv(helperEnv, mode)

	e := NewLocalExecutor(nil)
	e.DumpBinary = os.Args[0]
	e.CompressBinary = "gzip"
	return e
}

func readGzip(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	return string(data)
}

var testTarget = Target{
	Host:     "db1-s3-dump-server.example.com",
	Port:     3306,
	Username: "dumper",
	Password: "s3cr3t; rm -rf /",
	Database: "app",
}

func TestMySQLDumpArgs(t *testing.T) {
	args := MySQLDumpArgs(testTarget)

	assert.Equal(t, []string{
		"--opt", "--add-drop-table", "--single-transaction", "--order-by-primary",
		"-h", "db1-s3-dump-server.example.com",
		"-P", "3306",
		"-u", "dumper",
		"app",
	}, args)
	for _, a := range args {
		assert.NotContains(t, a, "s3cr3t")
	}

	noPort := testTarget
	noPort.Port = 0
	assert.NotContains(t, MySQLDumpArgs(noPort), "-P")
}

func TestLocalExecutor_Run(t *testing.T) {
	e := helperExecutor(t, "ok")
	out := filepath.Join(t.TempDir(), "db1-mysqldump-x.sql.gz")

	artifact, err := e.Run(context.Background(), testTarget, out)
	require.NoError(t, err)

	assert.True(t, artifact.Exists)
	assert.Equal(t, out, artifact.Path)
	assert.Greater(t, artifact.Size, int64(0))

	content := readGzip(t, out)
	assert.Contains(t, content, "--single-transaction")
	assert.Contains(t, content, "-h db1-s3-dump-server.example.com")
	assert.Contains(t, content, "password-from-env=true")
	assert.NotContains(t, content, "s3cr3t")
}

func TestLocalExecutor_NonzeroExit(t *testing.T) {
	e := helperExecutor(t, "fail")
	out := filepath.Join(t.TempDir(), "dump.sql.gz")

	_, err := e.Run(context.Background(), testTarget, out)

	var dErr *Error
	require.True(t, errors.As(err, &dErr))
	assert.Equal(t, 2, dErr.ExitCode)
	assert.Contains(t, dErr.Stderr, "Access denied")
	assert.Contains(t, err.Error(), "exit code 2")
}

func TestLocalExecutor_StderrIsFatal(t *testing.T) {
	e := helperExecutor(t, "warn")
	out := filepath.Join(t.TempDir(), "dump.sql.gz")

	_, err := e.Run(context.Background(), testTarget, out)

	var dErr *Error
	require.True(t, errors.As(err, &dErr))
	assert.Equal(t, 0, dErr.ExitCode)
	assert.Contains(t, dErr.Stderr, "Lost connection")
}

func TestLocalExecutor_MissingBinary(t *testing.T) {
	e := NewLocalExecutor(nil)
	e.DumpBinary = "rdsdump-no-such-mysqldump"

	assert.Error(t, e.Check(context.Background()))

	_, err := e.Run(context.Background(), testTarget, filepath.Join(t.TempDir(), "dump.sql.gz"))
	var dErr *Error
	assert.True(t, errors.As(err, &dErr))
}

func TestLocalExecutor_UnwritableOutput(t *testing.T) {
	e := NewLocalExecutor(nil)

	_, err := e.Run(context.Background(), testTarget, filepath.Join(t.TempDir(), "missing", "dump.sql.gz"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create dump file")
}
