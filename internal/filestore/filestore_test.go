package filestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/googleapi"

	"github.com/RaghavMadan07/Agri/internal/config"
)

func TestDiskSaveNamesLikeUploadField(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	d, err := NewDisk(dir)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	d.now = func() time.Time { return time.UnixMilli(1700000000123) }

	path, err := d.Save(context.Background(), "Leaf.JPG", "image/jpeg", strings.NewReader("img"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !regexp.MustCompile(`^cropImage-1700000000123-\d+\.jpg$`).MatchString(filepath.Base(path)) {
		t.Fatalf("unexpected name %s", path)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("saved outside %s: %s", dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "img" {
		t.Fatalf("read back: %q %v", data, err)
	}
}

func TestDiskSaveCancelled(t *testing.T) {
	d, err := NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Save(ctx, "a.png", "", strings.NewReader("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExtension(t *testing.T) {
	cases := map[string]string{
		"leaf.PNG":            ".png",
		"noext":               "",
		"../../etc/x.jpeg":    ".jpeg",
		"a.verylongextension": "",
	}
	for in, want := range cases {
		if got := extension(in); got != want {
			t.Fatalf("extension(%q) = %q, want %q", in, got, want)
		}
	}
}

type fakePutter struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3SaveKeyLayout(t *testing.T) {
	fp := &fakePutter{}
	s := newS3(fp, "crops")
	s.now = func() time.Time { return time.Date(2025, 3, 7, 10, 0, 0, 0, time.UTC) }

	path, err := s.Save(context.Background(), "leaf.jpg", "image/jpeg", bytes.NewReader([]byte("img")))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(path, "s3://crops/uploads/2025/3/7/") || !strings.HasSuffix(path, ".jpg") {
		t.Fatalf("unexpected path %s", path)
	}
	if aws.ToString(fp.in.Bucket) != "crops" || aws.ToString(fp.in.ContentType) != "image/jpeg" {
		t.Fatalf("unexpected input %+v", fp.in)
	}
	if aws.ToString(fp.in.IfNoneMatch) != "*" || string(fp.body) != "img" {
		t.Fatalf("expected conditional put of body, got %+v %q", fp.in, fp.body)
	}

	fp.err = errors.New("boom")
	if _, err := s.Save(context.Background(), "leaf.jpg", "", bytes.NewReader(nil)); err == nil {
		t.Fatal("expected error")
	}
}

type fakeWriter struct {
	bytes.Buffer
	closeErr error
}

func (w *fakeWriter) Close() error { return w.closeErr }

func TestGCSSave(t *testing.T) {
	w := &fakeWriter{}
	var object string
	g := &GCS{
		bucket: "crops",
		newWriter: func(_ context.Context, o string) io.WriteCloser {
			object = o
			return w
		},
		now: func() time.Time { return time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC) },
	}
	path, err := g.Save(context.Background(), "leaf.png", "image/png", strings.NewReader("img"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if path != "gs://crops/"+object || !strings.HasPrefix(object, "uploads/2025/12/1/") {
		t.Fatalf("unexpected path %s (object %s)", path, object)
	}
	if w.String() != "img" {
		t.Fatalf("unexpected body %q", w.String())
	}

	w.closeErr = &googleapi.Error{Code: 412}
	if _, err := g.Save(context.Background(), "leaf.png", "", strings.NewReader("x")); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestNewUnknownBackend(t *testing.T) {
	if _, err := New(context.Background(), config.StorageConfig{Backend: "ftp"}); err == nil {
		t.Fatal("expected error")
	}
	s, err := New(context.Background(), config.StorageConfig{Backend: "disk", Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New disk: %v", err)
	}
	if _, ok := s.(*Disk); !ok {
		t.Fatalf("expected *Disk, got %T", s)
	}
}
