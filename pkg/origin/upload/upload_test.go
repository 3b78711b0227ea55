package upload

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/originserver/pkg/origin/headers"
)

func TestHandleMultipartWritesFile(t *testing.T) {
	dir := t.TempDir()
	h := headers.New()
	h.Set("Content-Type", `multipart/form-data; boundary=XYZ`)

	body := "--XYZ\r\n" +
		"Content-Disposition: form-data; name=\"file\"; filename=\"note.txt\"\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"hello world\r\n" +
		"--XYZ--\r\n"

	resp, err := Handle(dir, h, []byte(body))
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)

	written, err := os.ReadFile(filepath.Join(dir, "note.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(written))
}

func TestHandleMultipartSanitizesFilename(t *testing.T) {
	dir := t.TempDir()
	h := headers.New()
	h.Set("Content-Type", `multipart/form-data; boundary=XYZ`)

	body := "--XYZ\r\n" +
		"Content-Disposition: form-data; name=\"file\"; filename=\"../../etc/passwd\"\r\n\r\n" +
		"pwned\r\n" +
		"--XYZ--\r\n"

	resp, err := Handle(dir, h, []byte(body))
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)

	_, err = os.Stat(filepath.Join(dir, "passwd"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestHandleMultipartNoPartsIs400(t *testing.T) {
	dir := t.TempDir()
	h := headers.New()
	h.Set("Content-Type", `multipart/form-data; boundary=XYZ`)

	resp, err := Handle(dir, h, []byte("--XYZ--\r\n"))
	require.NoError(t, err)
	require.Equal(t, 400, resp.Status)
}

func TestHandleRawBodyWritesTimestampedFile(t *testing.T) {
	dir := t.TempDir()
	h := headers.New()
	h.Set("Content-Type", "application/octet-stream")

	resp, err := Handle(dir, h, []byte("raw bytes"))
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].Name(), "upload_")
}

func TestHandleMissingUploadDirIsForbidden(t *testing.T) {
	h := headers.New()
	_, err := Handle("", h, []byte("x"))
	require.Error(t, err)
}
