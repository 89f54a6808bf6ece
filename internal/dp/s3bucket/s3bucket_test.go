package s3bucket

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/dp"
	"github.com/Ning0612/dpsync/internal/multipart"
	"github.com/Ning0612/dpsync/internal/testutil"
)

var _ dp.DistributionPoint = (*Bucket)(nil)

// fakeObjects serves two pages of listings and keeps objects in memory
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string]string
	etags   map[string]string
	pages   int
	deleted []string
	getErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{
		objects: map[string]string{
			"pkgs/A.pkg":     "bytes of A",
			"pkgs/B.dmg":     "bytes of B",
			"pkgs/notes.txt": "n",
		},
		etags: map[string]string{
			"pkgs/A.pkg":     `"0CC175B9C0F1B6A831C399E269772661"`,
			"pkgs/B.dmg":     `"d41d8cd98f00b204e9800998ecf8427e-3"`,
			"pkgs/notes.txt": `"x"`,
		},
	}
}

func (f *fakeObjects) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages++

	keys := []string{"pkgs/", "pkgs/A.pkg"}
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(true), NextContinuationToken: aws.String("page-2")}
	if aws.ToString(in.ContinuationToken) == "page-2" {
		keys = []string{"pkgs/B.dmg", "pkgs/notes.txt"}
		out = &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(f.objects[k]))),
			ETag: aws.String(f.etags[k]),
		})
	}
	return out, nil
}

func (f *fakeObjects) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "The specified key does not exist."}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewBufferString(data))}, nil
}

func (f *fakeObjects) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func staticCreds(key string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{AccessKeyID: key, SecretAccessKey: "secret"}, nil
	})
}

func newBucket(objects ObjectAPI, opts ...Option) *Bucket {
	cfg := Config{Bucket: "bucket", Region: "us-east-1", Prefix: "pkgs/"}
	return NewWithClient("s3", domain.CapabilityReadWrite, cfg, objects, staticCreds("AKID"), nil, opts...)
}

func TestBucket_ListFilesPaginates(t *testing.T) {
	objects := newFakeObjects()
	b := newBucket(objects)

	require.NoError(t, b.ListFiles(context.Background(), true))
	assert.Equal(t, 2, objects.pages)

	files := b.Files()
	require.Len(t, files, 2)
	assert.Equal(t, "A.pkg", files[0].Name)
	assert.Equal(t, int64(10), files[0].Size)

	md5, ok := files[0].Checksums.Find(domain.ChecksumMD5)
	require.True(t, ok)
	assert.Equal(t, "0cc175b9c0f1b6a831c399e269772661", md5.Value)

	assert.Equal(t, "B.dmg", files[1].Name)
	_, ok = files[1].Checksums.Find(domain.ChecksumMD5)
	assert.False(t, ok, "multipart etags are not digests")
}

func TestEtagMD5(t *testing.T) {
	tests := []struct {
		etag string
		want string
		ok   bool
	}{
		{`"900150983cd24fb0d6963f7d28e17f72"`, "900150983cd24fb0d6963f7d28e17f72", true},
		{"900150983cd24fb0d6963f7d28e17f72", "900150983cd24fb0d6963f7d28e17f72", true},
		{`"9b2cf535f27731c974343645a3985328-2"`, "", false},
		{`""`, "", false},
	}
	for _, tt := range tests {
		got, ok := etagMD5(tt.etag)
		if got != tt.want || ok != tt.ok {
			t.Errorf("etagMD5(%q) = %q, %v; want %q, %v", tt.etag, got, ok, tt.want, tt.ok)
		}
	}
}

func TestBucket_DownloadFile(t *testing.T) {
	staging := testutil.TempDir(t)
	b := newBucket(newFakeObjects(), WithStagingDir(staging))
	assert.True(t, b.WillDownloadFiles())

	path, err := b.DownloadFile(context.Background(), domain.NewDpFile("A.pkg", "", 10), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, staging))
	testutil.AssertFileContent(t, path, "bytes of A")

	_, err = b.DownloadFile(context.Background(), domain.NewDpFile("Gone.pkg", "", 1), nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMapError(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"missing", &smithy.GenericAPIError{Code: "NoSuchKey"}, domain.ErrNotFound},
		{"denied", &smithy.GenericAPIError{Code: "AccessDenied"}, domain.ErrForbidden},
		{"bad key", &smithy.GenericAPIError{Code: "InvalidAccessKeyId"}, domain.ErrAuthentication},
		{"server", &smithy.GenericAPIError{Code: "InternalError", Fault: smithy.FaultServer}, domain.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(ctx, tt.err), tt.want)
		})
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, mapError(canceled, fmt.Errorf("boom")), domain.ErrCanceled)
}

func TestBucket_TransferFileUploadsMultipart(t *testing.T) {
	var (
		mu        sync.Mutex
		received  int
		completed []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodPost && q.Has("uploads"):
			io.WriteString(w, `<InitiateMultipartUploadResult><UploadId>up-1</UploadId></InitiateMultipartUploadResult>`)
		case r.Method == http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			received += len(data)
			w.Header().Set("ETag", `"e"`)
		case r.Method == http.MethodPost && q.Has("uploadId"):
			completed = append(completed, r.URL.Path)
			io.WriteString(w, `<CompleteMultipartUploadResult/>`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	staging := testutil.TempDir(t)
	staged := testutil.CreateTestFile(t, staging, "staged-A.pkg", "0123456789")
	b := newBucket(newFakeObjects(),
		WithUploader(multipart.NewUploader(multipart.WithEndpoint(srv.URL), multipart.WithChunkSize(4))))

	require.NoError(t, b.TransferFile(context.Background(), domain.NewDpFile("A.pkg", "", 10), staged, nil))

	assert.Equal(t, 10, received)
	assert.Equal(t, []string{"/bucket/pkgs/A.pkg"}, completed)
	testutil.AssertFileNotExists(t, staged)
}

func TestBucket_DeleteFile(t *testing.T) {
	objects := newFakeObjects()
	b := newBucket(objects)

	require.NoError(t, b.DeleteFile(context.Background(), domain.NewDpFile("A.pkg", "", 1), nil))
	assert.Equal(t, []string{"pkgs/A.pkg"}, objects.deleted)
}

func TestBucket_ReadOnlyRefusesWrites(t *testing.T) {
	objects := newFakeObjects()
	cfg := Config{Bucket: "bucket", Region: "us-east-1"}
	b := NewWithClient("s3", domain.CapabilityRead, cfg, objects, staticCreds("AKID"), nil)

	err := b.DeleteFile(context.Background(), domain.NewDpFile("A.pkg", "", 1), nil)
	assert.ErrorIs(t, err, domain.ErrReadOnly)
	assert.Empty(t, objects.deleted)
}
