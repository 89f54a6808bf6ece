package multipart

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	signingAlgorithm = "AWS4-HMAC-SHA256"
	signingService   = "s3"
	unsignedPayload  = "UNSIGNED-PAYLOAD"
	amzDateFormat    = "20060102T150405Z"
	shortDateFormat  = "20060102"

	headerAmzDate          = "X-Amz-Date"
	headerAmzContentSHA256 = "X-Amz-Content-Sha256"
	headerAmzSecurityToken = "X-Amz-Security-Token"
)

// Signer signs S3 requests with AWS Signature Version 4.
// Payloads are never hashed; every request carries UNSIGNED-PAYLOAD.
type Signer struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
}

// NewSigner returns a signer for the given credentials
func NewSigner(creds Credentials) Signer {
	return Signer{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		Region:          creds.Region,
	}
}

// Sign adds the x-amz headers and the Authorization header to req
func (s Signer) Sign(req *http.Request, t time.Time) {
	t = t.UTC()
	amzDate := t.Format(amzDateFormat)

	req.Header.Set(headerAmzDate, amzDate)
	req.Header.Set(headerAmzContentSHA256, unsignedPayload)
	if s.SessionToken != "" {
		req.Header.Set(headerAmzSecurityToken, s.SessionToken)
	}

	canonicalHeaders, signedHeaders := buildCanonicalHeaders(requestHost(req), req.Header)
	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL),
		canonicalQuery(req.URL),
		canonicalHeaders,
		signedHeaders,
		unsignedPayload,
	}, "\n")

	scope := strings.Join([]string{t.Format(shortDateFormat), s.Region, signingService, "aws4_request"}, "/")
	stringToSign := strings.Join([]string{
		signingAlgorithm,
		amzDate,
		scope,
		hexSHA256([]byte(canonicalRequest)),
	}, "\n")

	key := s.signingKey(t.Format(shortDateFormat))
	signature := hex.EncodeToString(hmacSHA256(key, []byte(stringToSign)))

	req.Header.Set("Authorization", fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		signingAlgorithm, s.AccessKeyID, scope, signedHeaders, signature))
}

func (s Signer) signingKey(date string) []byte {
	k := hmacSHA256([]byte("AWS4"+s.SecretAccessKey), []byte(date))
	k = hmacSHA256(k, []byte(s.Region))
	k = hmacSHA256(k, []byte(signingService))
	return hmacSHA256(k, []byte("aws4_request"))
}

// requestHost returns the host that is sent on the wire, without a default port
func requestHost(req *http.Request) string {
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}
	h, port, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	if (port == "80" && req.URL.Scheme == "http") || (port == "443" && req.URL.Scheme == "https") {
		return h
	}
	return host
}

// buildCanonicalHeaders signs host and every x-amz-* header
func buildCanonicalHeaders(host string, header http.Header) (canonical, signed string) {
	values := map[string]string{"host": host}
	for k, v := range header {
		name := strings.ToLower(k)
		if !strings.HasPrefix(name, "x-amz-") {
			continue
		}
		trimmed := make([]string, len(v))
		for i := range v {
			trimmed[i] = strings.Join(strings.Fields(v[i]), " ")
		}
		values[name] = strings.Join(trimmed, ",")
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(values[name])
		b.WriteByte('\n')
	}
	return b.String(), strings.Join(names, ";")
}

func canonicalURI(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return encodePath(u.Path)
}

func canonicalQuery(u *url.URL) string {
	query := u.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		vs := append([]string(nil), query[k]...)
		sort.Strings(vs)
		for _, v := range vs {
			pairs = append(pairs, uriEncode(k, false)+"="+uriEncode(v, false))
		}
	}
	return strings.Join(pairs, "&")
}

// encodePath percent-encodes an object path, keeping the slashes
func encodePath(p string) string {
	return uriEncode(p, true)
}

// uriEncode escapes every byte outside the RFC 3986 unreserved set
func uriEncode(s string, keepSlash bool) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		case c == '/' && keepSlash:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		}
	}
	return b.String()
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func hexSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
