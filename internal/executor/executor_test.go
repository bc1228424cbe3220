package executor

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner() *Runner {
	return New(slog.Default(), false)
}

// recordingRecorder captures RecordCommand calls for assertions.
type recordingRecorder struct {
	mu      sync.Mutex
	entries []recordedCommand
}

type recordedCommand struct {
	name string
	args []string
	res  *Result
	err  error
}

func (r *recordingRecorder) RecordCommand(name string, args []string, res *Result, err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recordedCommand{name: name, args: args, res: res, err: err})
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRun_CapturesBothStreams(t *testing.T) {
	r := newTestRunner()

	res, err := r.Run(context.Background(), "sh", "-c", "echo out; echo err >&2")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
}

func TestRun_NonZeroExit(t *testing.T) {
	r := newTestRunner()

	res, err := r.Run(context.Background(), "sh", "-c", "echo bad >&2; exit 3")
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 3, res.ExitCode)

	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 3, execErr.ExitCode)
	assert.Equal(t, "bad\n", execErr.Stderr)
	assert.Contains(t, execErr.Error(), "exit 3")
	assert.Contains(t, execErr.Error(), "bad")
}

func TestRun_MissingBinary(t *testing.T) {
	r := newTestRunner()

	_, err := r.Run(context.Background(), "definitely-not-a-real-binary-xyz")
	require.Error(t, err)

	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, -1, execErr.ExitCode)
}

func TestRun_ContextCancellation(t *testing.T) {
	r := newTestRunner()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := r.Run(ctx, "sleep", "10")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunInDir(t *testing.T) {
	r := newTestRunner()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), nil, 0644))

	res, err := r.RunInDir(context.Background(), dir, "ls")
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "marker.txt")
}

// ---------------------------------------------------------------------------
// Query and Check
// ---------------------------------------------------------------------------

func TestQuery_TrimsOutput(t *testing.T) {
	r := newTestRunner()

	out, err := r.Query(context.Background(), "sh", "-c", "echo '  padded  '")
	require.NoError(t, err)
	assert.Equal(t, "padded", out)
}

func TestCheck(t *testing.T) {
	r := newTestRunner()
	assert.True(t, r.Check(context.Background(), "true"))
	assert.False(t, r.Check(context.Background(), "false"))
}

// ---------------------------------------------------------------------------
// Sudo argv resolution
// ---------------------------------------------------------------------------

func TestSudo_UnknownCommand(t *testing.T) {
	r := newTestRunner()

	_, err := r.Sudo(context.Background(), "definitely-not-a-real-binary-xyz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command not found")
}

func TestSudoArgv_ResolvesAbsolutePath(t *testing.T) {
	argv, err := sudoArgv("sh", []string{"-c", "true"})
	require.NoError(t, err)
	require.Len(t, argv, 3)
	assert.True(t, filepath.IsAbs(argv[0]), "binary must be resolved to an absolute path, got %q", argv[0])
	assert.Equal(t, []string{"-c", "true"}, argv[1:])
}

// ---------------------------------------------------------------------------
// Recorder
// ---------------------------------------------------------------------------

func TestRecorder_SeesSuccessAndFailure(t *testing.T) {
	r := newTestRunner()
	rec := &recordingRecorder{}
	r.SetRecorder(rec)

	_, err := r.Run(context.Background(), "sh", "-c", "true")
	require.NoError(t, err)
	_, err = r.Run(context.Background(), "sh", "-c", "exit 7")
	require.Error(t, err)

	require.Len(t, rec.entries, 2)
	assert.Equal(t, "sh", rec.entries[0].name)
	assert.Equal(t, 0, rec.entries[0].res.ExitCode)
	assert.NoError(t, rec.entries[0].err)
	assert.Equal(t, 7, rec.entries[1].res.ExitCode)
	assert.Error(t, rec.entries[1].err)
}

// ---------------------------------------------------------------------------
// ExecError formatting
// ---------------------------------------------------------------------------

func TestExecErrorError(t *testing.T) {
	withStderr := &ExecError{Name: "apt-get", Args: []string{"update"}, ExitCode: 100, Stderr: "E: lock held\n"}
	assert.Equal(t, `command "apt-get update" failed (exit 100): E: lock held`, withStderr.Error())

	bare := &ExecError{Name: "make", ExitCode: 2}
	assert.Equal(t, `command "make" failed (exit 2)`, bare.Error())

	startFailure := &ExecError{Name: "wget", ExitCode: -1, Err: os.ErrNotExist}
	assert.Contains(t, startFailure.Error(), "file does not exist")
}

// ---------------------------------------------------------------------------
// limitWriter
// ---------------------------------------------------------------------------

func TestLimitWriter(t *testing.T) {
	lw := &limitWriter{buf: &bytes.Buffer{}, limit: 10}

	n, err := lw.Write([]byte("12345"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "12345", lw.String())

	// Write crossing the limit still reports full length so the command
	// never sees a short write.
	n, err = lw.Write([]byte("6789012345"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "1234567890\n[output truncated]", lw.String())

	// Writes past the limit are swallowed.
	n, err = lw.Write([]byte("more"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "1234567890\n[output truncated]", lw.String())
}

func TestRun_OutputCapped(t *testing.T) {
	r := newTestRunner()

	// Emit ~2 MiB on stdout; capture must stop at the cap.
	res, err := r.Run(context.Background(), "sh", "-c", "head -c 2097152 /dev/zero | tr '\\0' 'x'")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(res.Stdout), maxOutputBytes+len("\n[output truncated]"))
	assert.True(t, strings.HasSuffix(res.Stdout, "[output truncated]"))
}
