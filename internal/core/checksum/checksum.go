package checksum

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha3"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"sync"

	"github.com/Ning0612/dpsync/internal/domain"
)

// Options configures the hasher
type Options struct {
	// MaxSize: content larger than this is rejected (0 = unlimited)
	MaxSize int64

	// BufferSize: size of the shared buffer for streaming reads
	// Default: 1MB
	BufferSize int
}

// DefaultOptions returns the recommended default options.
// Package files can be many GB so there is no size limit.
func DefaultOptions() Options {
	return Options{
		MaxSize:    0,
		BufferSize: 1024 * 1024, // 1MB
	}
}

// Calculator computes content checksums
type Calculator interface {
	// Calculate hashes reader once for every requested algorithm
	Calculate(ctx context.Context, reader io.Reader, algos ...domain.ChecksumType) (domain.Checksums, error)

	// CalculateFile hashes the file at path
	CalculateFile(ctx context.Context, path string, algos ...domain.ChecksumType) (domain.Checksums, error)
}

// Hasher implements Calculator. Requests are serialized: concurrent
// callers queue on the mutex and share a single read buffer.
type Hasher struct {
	opts Options

	mu     sync.Mutex
	buffer []byte
}

// NewHasher creates a new hasher with the given options
func NewHasher(opts Options) *Hasher {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	return &Hasher{opts: opts}
}

// NewDefaultHasher creates a hasher with default options
func NewDefaultHasher() *Hasher {
	return NewHasher(DefaultOptions())
}

// Calculate implements the Calculator interface
func (h *Hasher) Calculate(ctx context.Context, reader io.Reader, algos ...domain.ChecksumType) (domain.Checksums, error) {
	if len(algos) == 0 {
		return domain.Checksums{}, fmt.Errorf("no algorithm requested")
	}

	hashers := make([]hash.Hash, len(algos))
	writers := make([]io.Writer, len(algos))
	for i, algo := range algos {
		hs, err := newHash(algo)
		if err != nil {
			return domain.Checksums{}, err
		}
		hashers[i] = hs
		writers[i] = hs
	}
	sink := io.MultiWriter(writers...)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.buffer == nil {
		h.buffer = make([]byte, h.opts.BufferSize)
	}

	var limitedReader io.Reader = reader
	if h.opts.MaxSize > 0 {
		limitedReader = io.LimitReader(reader, h.opts.MaxSize+1)
	}

	totalBytes := int64(0)
	for {
		select {
		case <-ctx.Done():
			return domain.Checksums{}, ctx.Err()
		default:
		}

		n, err := limitedReader.Read(h.buffer)
		if n > 0 {
			totalBytes += int64(n)
			if h.opts.MaxSize > 0 && totalBytes > h.opts.MaxSize {
				return domain.Checksums{}, fmt.Errorf("content size exceeds maximum (%d bytes)", h.opts.MaxSize)
			}
			if _, hashErr := sink.Write(h.buffer[:n]); hashErr != nil {
				return domain.Checksums{}, fmt.Errorf("hash write error: %w", hashErr)
			}
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return domain.Checksums{}, fmt.Errorf("read error: %w", err)
		}
	}

	var result domain.Checksums
	for i, algo := range algos {
		result.Update(domain.Checksum{Type: algo, Value: hex.EncodeToString(hashers[i].Sum(nil))})
	}
	return result, nil
}

// CalculateFile implements the Calculator interface
func (h *Hasher) CalculateFile(ctx context.Context, path string, algos ...domain.ChecksumType) (domain.Checksums, error) {
	file, err := os.Open(path)
	if err != nil {
		return domain.Checksums{}, fmt.Errorf("open %s for hashing: %w", path, err)
	}
	defer file.Close()

	return h.Calculate(ctx, file, algos...)
}

// IsSupported checks if the given algorithm is supported
func IsSupported(algo domain.ChecksumType) bool {
	_, err := newHash(algo)
	return err == nil
}

func newHash(algo domain.ChecksumType) (hash.Hash, error) {
	switch algo {
	case domain.ChecksumMD5:
		return md5.New(), nil
	case domain.ChecksumSHA256:
		return sha256.New(), nil
	case domain.ChecksumSHA512:
		return sha512.New(), nil
	case domain.ChecksumSHA3512:
		return sha3.New512(), nil
	}
	return nil, fmt.Errorf("unsupported algorithm: %s", algo)
}
