package multipart

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURIEncode(t *testing.T) {
	tests := []struct {
		in        string
		keepSlash bool
		want      string
	}{
		{"/prefix/My App.pkg", true, "/prefix/My%20App.pkg"},
		{"a/b", false, "a%2Fb"},
		{"abc.DEF-123_~x", false, "abc.DEF-123_~x"},
		{"a+b=c&d", false, "a%2Bb%3Dc%26d"},
		{"ü", true, "%C3%BC"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, uriEncode(tt.in, tt.keepSlash), tt.in)
	}
}

func TestCanonicalQuery_SortedWithEmptyValues(t *testing.T) {
	u, err := url.Parse("https://h/k?uploadId=x%20y&partNumber=2&uploads=")
	require.NoError(t, err)
	assert.Equal(t, "partNumber=2&uploadId=x%20y&uploads=", canonicalQuery(u))
}

func TestSigner_MatchesAWSSigner(t *testing.T) {
	signingTime := time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC)
	creds := Credentials{
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY",
		SessionToken:    "FwoGZXIvYXdzEXAMPLE",
		Region:          "us-east-1",
	}

	tests := []struct {
		name   string
		method string
		url    string
	}{
		{"initiate", http.MethodPost, "https://bucket.s3.us-east-1.amazonaws.com/pkgs/My%20App.pkg?uploads="},
		{"part", http.MethodPut, "https://bucket.s3.us-east-1.amazonaws.com/pkgs/My%20App.pkg?partNumber=7&uploadId=abc.DEF-123_~x"},
		{"complete", http.MethodPost, "https://bucket.s3.us-east-1.amazonaws.com/pkgs/App.pkg?uploadId=abc.DEF-123_~x"},
		{"abort", http.MethodDelete, "https://bucket.s3.eu-west-1.amazonaws.com/App.pkg?uploadId=u"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ours, err := http.NewRequest(tt.method, tt.url, nil)
			require.NoError(t, err)
			NewSigner(creds).Sign(ours, signingTime)

			theirs, err := http.NewRequest(tt.method, tt.url, nil)
			require.NoError(t, err)
			theirs.Header.Set(headerAmzContentSHA256, unsignedPayload)
			err = v4.NewSigner().SignHTTP(context.Background(),
				aws.Credentials{
					AccessKeyID:     creds.AccessKeyID,
					SecretAccessKey: creds.SecretAccessKey,
					SessionToken:    creds.SessionToken,
				},
				theirs, unsignedPayload, "s3", creds.Region, signingTime,
				func(o *v4.SignerOptions) { o.DisableURIPathEscaping = true },
			)
			require.NoError(t, err)

			assert.Equal(t, theirs.Header.Get("Authorization"), ours.Header.Get("Authorization"))
			assert.Equal(t, theirs.Header.Get(headerAmzDate), ours.Header.Get(headerAmzDate))
		})
	}
}

func TestSigner_HostWithoutDefaultPort(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://bucket.example.com:443/k", nil)
	require.NoError(t, err)
	assert.Equal(t, "bucket.example.com", requestHost(req))

	req, err = http.NewRequest(http.MethodGet, "http://127.0.0.1:9000/k", nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", requestHost(req))
}
