package multipart

import (
	"encoding/xml"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Credentials are temporary upload credentials for one bucket prefix
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
	Bucket          string
	Prefix          string
	Expiration      time.Time
}

// ExpiresWithin reports whether the credentials expire inside d from now.
// A zero expiration never expires.
func (c Credentials) ExpiresWithin(d time.Duration, now time.Time) bool {
	if c.Expiration.IsZero() {
		return false
	}
	return !now.Add(d).Before(c.Expiration)
}

// Part is one uploaded part
type Part struct {
	Number int
	ETag   string
	Size   int64
}

// Session is the state of one multipart upload.
// Completed parts belong to the session; concurrent uploads never share them.
type Session struct {
	// ID identifies the session in logs
	ID string

	// UploadID is assigned by the bucket on initiate
	UploadID string

	// Key is the object key
	Key string

	// TotalParts is the number of chunks in the file
	TotalParts int

	mu        sync.Mutex
	creds     Credentials
	parts     map[int]Part
	startedAt time.Time
}

func newSession(key string, creds Credentials, totalParts int, now time.Time) *Session {
	return &Session{
		ID:         uuid.NewString(),
		Key:        key,
		TotalParts: totalParts,
		creds:      creds,
		parts:      make(map[int]Part, totalParts),
		startedAt:  now,
	}
}

// Credentials returns the credentials currently used by the session
func (s *Session) Credentials() Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

func (s *Session) setCredentials(c Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// bucket and prefix stay with the upload
	c.Bucket = s.creds.Bucket
	c.Prefix = s.creds.Prefix
	if c.Region == "" {
		c.Region = s.creds.Region
	}
	s.creds = c
}

func (s *Session) addPart(p Part) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts[p.Number] = p
}

// Parts returns the completed parts sorted by part number
func (s *Session) Parts() []Part {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := make([]Part, 0, len(s.parts))
	for _, p := range s.parts {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	return parts
}

// Elapsed returns the time since the upload was initiated
func (s *Session) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.startedAt)
}

// completeRequest is the body of the completion call
type completeRequest struct {
	XMLName xml.Name       `xml:"CompleteMultipartUpload"`
	XMLNS   string         `xml:"xmlns,attr"`
	Parts   []completePart `xml:"Part"`
}

type completePart struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
}

// completionXML lists every part in ascending order
func (s *Session) completionXML() ([]byte, error) {
	parts := s.Parts()
	if len(parts) != s.TotalParts {
		return nil, fmt.Errorf("%d of %d parts uploaded", len(parts), s.TotalParts)
	}

	req := completeRequest{XMLNS: "http://s3.amazonaws.com/doc/2006-03-01/"}
	for _, p := range parts {
		req.Parts = append(req.Parts, completePart{PartNumber: p.Number, ETag: p.ETag})
	}
	body, err := xml.Marshal(req)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

// initiateResult is returned by the initiate call
type initiateResult struct {
	XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	UploadID string   `xml:"UploadId"`
}

// errorResult is the body of a failed S3 call
type errorResult struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}
