package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rescale/chunkvault/internal/cloud/storage"
	cloudtransfer "github.com/rescale/chunkvault/internal/cloud/transfer"
)

// runCLI executes the root command against a private config path and
// returns what was written to stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "config")}, args...))
	err := root.Execute()
	return out.String(), err
}

func localBackend(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CHUNKVAULT_BACKEND", "local")
	t.Setenv("CHUNKVAULT_LOCAL_ROOT", t.TempDir())
}

func testPayload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/1024)
	}
	return data
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		in      string
		size    int64
		want    cloudtransfer.ByteRange
		wantErr bool
	}{
		{"0-99", 1000, cloudtransfer.ByteRange{Start: 0, End: 99}, false},
		{" 10-20 ", 1000, cloudtransfer.ByteRange{Start: 10, End: 20}, false},
		{"500-", 1000, cloudtransfer.ByteRange{Start: 500, End: 999}, false},
		{"-5", 1000, cloudtransfer.ByteRange{}, true},
		{"abc-5", 1000, cloudtransfer.ByteRange{}, true},
		{"1-x", 1000, cloudtransfer.ByteRange{}, true},
		{"12", 1000, cloudtransfer.ByteRange{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseRange(tt.in, tt.size)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseRange(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseRange(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPromptOverwrite(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"sure\n", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got, err := promptOverwrite(strings.NewReader(tt.input), &out, "/tmp/x")
		if err != nil {
			t.Fatalf("promptOverwrite(%q): %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("promptOverwrite(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "/tmp/x") {
			t.Errorf("prompt %q does not name the path", out.String())
		}
	}
}

func TestResolveKeyPassthrough(t *testing.T) {
	got, err := resolveKey("abc")
	if err != nil || got != "abc" {
		t.Errorf("resolveKey(abc) = %q, %v", got, err)
	}
}

func TestKeygen(t *testing.T) {
	tests := []struct {
		version string
		length  int
	}{
		{"2", 32},
		{"3", 64},
	}
	for _, tt := range tests {
		out, err := runCLI(t, "", "keygen", "--key-version", tt.version)
		if err != nil {
			t.Fatalf("keygen --key-version %s: %v", tt.version, err)
		}
		if key := strings.TrimSpace(out); len(key) != tt.length {
			t.Errorf("keygen --key-version %s produced %d chars, want %d", tt.version, len(key), tt.length)
		}
	}

	if _, err := runCLI(t, "", "keygen", "--key-version", "1"); err == nil {
		t.Error("keygen should reject version 1")
	}
}

func TestMetaEncryptDecrypt(t *testing.T) {
	const plaintext = `{"name":"report.pdf"}`
	envelope, err := runCLI(t, "", "meta", "encrypt", "--key", "correct horse", plaintext)
	if err != nil {
		t.Fatalf("meta encrypt: %v", err)
	}
	envelope = strings.TrimSpace(envelope)
	if !strings.HasPrefix(envelope, "002") {
		t.Errorf("envelope %q lacks the version tag", envelope)
	}

	out, err := runCLI(t, "", "meta", "decrypt", "--key", "wrong", "--key", "correct horse", "--json", envelope)
	if err != nil {
		t.Fatalf("meta decrypt: %v", err)
	}
	if strings.TrimSpace(out) != plaintext {
		t.Errorf("decrypt = %q, want %q", out, plaintext)
	}

	_, err = runCLI(t, "", "meta", "decrypt", "--key", "wrong", "--key", "also wrong", envelope)
	if storage.KindOf(err) != storage.DecryptionExhausted {
		t.Errorf("all-wrong keys: error kind %v, want DecryptionExhausted (err %v)", storage.KindOf(err), err)
	}
}

func TestMetaDecryptRawKey(t *testing.T) {
	const key = "0123456789abcdef0123456789abcdef"
	envelope, err := runCLI(t, "", "meta", "encrypt", "--raw", "--key", key, "hello")
	if err != nil {
		t.Fatalf("meta encrypt --raw: %v", err)
	}
	out, err := runCLI(t, "", "meta", "decrypt", "--raw", "--key", key, strings.TrimSpace(envelope))
	if err != nil {
		t.Fatalf("meta decrypt --raw: %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Errorf("decrypt --raw = %q", out)
	}
}

func TestPutGetCat(t *testing.T) {
	localBackend(t)
	dir := t.TempDir()
	payload := testPayload(2*1024*1024 + 4321)
	src := filepath.Join(dir, "payload.bin")
	if err := os.WriteFile(src, payload, 0644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "", "put", "--json", src)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	var desc cloudtransfer.ObjectDescriptor
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &desc); err != nil {
		t.Fatalf("put output %q is not a descriptor: %v", out, err)
	}
	if desc.Name != "payload.bin" || desc.Size != int64(len(payload)) || desc.ChunkCount != 3 {
		t.Errorf("descriptor = %+v", desc)
	}
	descPath := filepath.Join(dir, "payload.json")
	if err := os.WriteFile(descPath, []byte(out), 0600); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(dir, "restored.bin")
	if _, err := runCLI(t, "", "get", "--descriptor", descPath, "-o", dst); err != nil {
		t.Fatalf("get: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("restored %d bytes, want %d identical bytes", len(got), len(payload))
	}

	// Existing file, declined overwrite.
	if _, err := runCLI(t, "n\n", "get", "--descriptor", descPath, "-o", dst); err == nil {
		t.Error("get should refuse to overwrite without confirmation")
	}

	// Range across the first chunk boundary.
	out, err = runCLI(t, "", "cat", desc.ObjectID,
		"--key", desc.Key,
		"--chunks", "3",
		"--size", "2101473",
		"--bucket", desc.Bucket,
		"--range", "1048570-1048580")
	if err != nil {
		t.Fatalf("cat: %v", err)
	}
	if want := payload[1048570:1048581]; out != string(want) {
		t.Errorf("cat range = %x, want %x", out, want)
	}

	_, err = runCLI(t, "", "cat", "--descriptor", descPath, "--range", "0-99999999")
	if storage.KindOf(err) != storage.OutOfRange {
		t.Errorf("oversized range: error kind %v, want OutOfRange (err %v)", storage.KindOf(err), err)
	}
}

func TestPutDirectory(t *testing.T) {
	localBackend(t)
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "sub/b.txt", ".hidden"} {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(name), 0644); err != nil {
			t.Fatal(err)
		}
	}

	out, err := runCLI(t, "", "put", "--json", dir)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("put printed %d descriptors, want 2:\n%s", len(lines), out)
	}
	names := map[string]bool{}
	for _, line := range lines {
		var d cloudtransfer.ObjectDescriptor
		if err := json.Unmarshal([]byte(line), &d); err != nil {
			t.Fatal(err)
		}
		names[d.Name] = true
	}
	if !names["a.txt"] || !names["b.txt"] {
		t.Errorf("uploaded %v, want a.txt and b.txt", names)
	}
}

func TestPutMissingFile(t *testing.T) {
	localBackend(t)
	_, err := runCLI(t, "", "put", filepath.Join(t.TempDir(), "absent"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("put of a missing file = %v, want ErrNotExist", err)
	}
}

func TestGetRequiresKey(t *testing.T) {
	localBackend(t)
	if _, err := runCLI(t, "", "get", "some-id", "--chunks", "1", "--size", "10"); err == nil {
		t.Error("get without a key should fail")
	}
}

func TestConfigCommands(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CHUNKVAULT_API_TOKEN", "tok-visible-nowhere")
	path := filepath.Join(t.TempDir(), "config")

	run := func(args ...string) (string, error) {
		root := NewRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(io.Discard)
		root.SetArgs(append([]string{"--config", path}, args...))
		err := root.Execute()
		return out.String(), err
	}

	out, err := run("config", "path")
	if err != nil || strings.TrimSpace(out) != path {
		t.Errorf("config path = %q, %v", out, err)
	}

	out, err = run("config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "tok-visible-nowhere") {
		t.Error("config show leaked the API token")
	}
	if !strings.Contains(out, "[storage]") {
		t.Errorf("config show output lacks sections:\n%s", out)
	}

	if _, err := run("config", "init"); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config init did not write %s: %v", path, err)
	}
	if _, err := run("config", "init"); err == nil {
		t.Error("config init should not replace an existing file")
	}
	if _, err := run("config", "init", "--force"); err != nil {
		t.Errorf("config init --force: %v", err)
	}
}

func TestCommandTree(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"put", "get", "cat", "meta", "keygen", "config"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
			continue
		}
		if cmd.Short == "" {
			t.Errorf("command %q has no short description", name)
		}
	}
}
