package cli_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coldtrace/memshield/cmd/memshieldctl/internal/cli"
)

func testEnv(dir string) map[string]string {
	return map[string]string{"HOME": dir}
}

func runCLI(t *testing.T, dir string, args []string) (stdout, stderr string, code int) {
	t.Helper()

	var out, errOut bytes.Buffer

	code = cli.Run(&out, &errOut, args, testEnv(dir))

	return out.String(), errOut.String(), code
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func copyFile(t *testing.T, src, dst string) {
	t.Helper()

	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, dst, string(data))
}

func TestRunCommandRoundTripsAWriteThenRead(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	writeFile(t, cfgPath, `{"size": 4096, "ctr_base": 131072, "mac_base": 196608, "dram_size": 1048576}`)

	snapshot := filepath.Join(dir, "dram.snapshot")
	data := strings.Repeat("ab", 64)

	trace := fmt.Sprintf(
		"{\"addr\":0,\"id\":1,\"write\":true,\"data\":%q}\n{\"addr\":0,\"id\":2,\"write\":false}\n",
		data,
	)

	tracePath := filepath.Join(dir, "trace.ndjson")
	writeFile(t, tracePath, trace)

	out, errOut, code := runCLI(t, dir, []string{
		"-c", cfgPath, "run", "--snapshot", snapshot, "--trace", tracePath,
	})

	if code != 0 {
		t.Fatalf("run exited %d, stderr=%s", code, errOut)
	}

	if !strings.Contains(out, `"write_ack"`) {
		t.Fatalf("expected a write_ack line, got %q", out)
	}

	if !strings.Contains(out, data) {
		t.Fatalf("expected the read to echo back %q, got %q", data, out)
	}
}

func TestPrintConfigShowsDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	out, errOut, code := runCLI(t, dir, []string{"print-config"})
	if code != 0 {
		t.Fatalf("print-config exited %d, stderr=%s", code, errOut)
	}

	if !strings.Contains(out, "dram_size=") {
		t.Fatalf("expected dram_size in output, got %q", out)
	}
}

func TestUnknownCommandFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, errOut, code := runCLI(t, dir, []string{"bogus"})
	if code == 0 {
		t.Fatal("expected non-zero exit for unknown command")
	}

	if !strings.Contains(errOut, "unknown command") {
		t.Fatalf("expected unknown command error, got %q", errOut)
	}
}

func TestSnapshotDiffReportsNoDifferencesForIdenticalFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	writeFile(t, cfgPath, `{"size": 4096, "ctr_base": 131072, "mac_base": 196608, "dram_size": 1048576}`)

	snapshot := filepath.Join(dir, "dram.snapshot")
	emptyTrace := filepath.Join(dir, "empty.ndjson")
	writeFile(t, emptyTrace, "")

	_, errOut, code := runCLI(t, dir, []string{"-c", cfgPath, "run", "--snapshot", snapshot, "--trace", emptyTrace})
	if code != 0 {
		t.Fatalf("run exited %d, stderr=%s", code, errOut)
	}

	other := filepath.Join(dir, "dram.copy")
	copyFile(t, snapshot, other)

	out, errOut, code := runCLI(t, dir, []string{"-c", cfgPath, "snapshot", "--snapshot", snapshot, "diff", other})
	if code != 0 {
		t.Fatalf("snapshot diff exited %d, stderr=%s", code, errOut)
	}

	if !strings.Contains(out, "no differences") {
		t.Fatalf("expected identical snapshots to report no differences, got %q", out)
	}
}

func TestFlushRoundTripsASnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	writeFile(t, cfgPath, `{"size": 4096, "ctr_base": 131072, "mac_base": 196608, "dram_size": 1048576}`)

	snapshot := filepath.Join(dir, "dram.snapshot")
	emptyTrace := filepath.Join(dir, "empty.ndjson")
	writeFile(t, emptyTrace, "")

	_, errOut, code := runCLI(t, dir, []string{"-c", cfgPath, "run", "--snapshot", snapshot, "--trace", emptyTrace})
	if code != 0 {
		t.Fatalf("run exited %d, stderr=%s", code, errOut)
	}

	out, errOut, code := runCLI(t, dir, []string{"-c", cfgPath, "flush", "--snapshot", snapshot})
	if code != 0 {
		t.Fatalf("flush exited %d, stderr=%s", code, errOut)
	}

	if !strings.Contains(out, "flushed") {
		t.Fatalf("expected flush confirmation, got %q", out)
	}
}
