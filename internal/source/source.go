package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/cyra/logan/internal/config"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Opener resolves input names to line streams.
type Opener struct {
	s3cfg config.S3Config
	s3    objectGetter // lazily created on first s3:// input
	stdin io.Reader
}

// NewOpener creates an Opener using the given remote source configuration.
func NewOpener(cfg config.SourceConfig) *Opener {
	return &Opener{s3cfg: cfg.S3, stdin: os.Stdin}
}

// Open returns a reader for name, which may be a local path, "-" for
// stdin, or s3://bucket/key. Gzip and zstd streams are detected by their
// magic bytes and decompressed. The caller must Close the result.
func (o *Opener) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	switch {
	case name == "-":
		rc = io.NopCloser(o.stdin)
	case strings.HasPrefix(name, "s3://"):
		bucket, key, err := ParseS3URL(name)
		if err != nil {
			return nil, err
		}
		if o.s3 == nil {
			client, err := newS3Client(ctx, o.s3cfg)
			if err != nil {
				return nil, err
			}
			o.s3 = client
		}
		body, err := getObject(ctx, o.s3, bucket, key)
		if err != nil {
			return nil, err
		}
		rc = body
	default:
		f, err := os.Open(name)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		rc = f
	}

	out, err := decompress(rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return out, nil
}

// decompress peeks at the first bytes of rc and wraps it in a decoder when
// it is gzip or zstd. Closing the result closes rc.
func decompress(rc io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(rc)
	head, _ := br.Peek(4)

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return &stackedCloser{Reader: zr, closers: []io.Closer{zr, rc}}, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return &stackedCloser{Reader: zr, closers: []io.Closer{closerFunc(zr.Close), rc}}, nil
	default:
		return &stackedCloser{Reader: br, closers: []io.Closer{rc}}, nil
	}
}

type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
