// Package encoder turns an uploaded screenshot into the base64 payload that
// generation backends embed in their JSON requests.
package encoder

import (
	"encoding/base64"
	"io"
	"log/slog"
	"sync"
)

// ReadError reports that the image source could not be read.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return "failed to read image: " + e.Err.Error()
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Payload is a lazily-resolved encoded image. The source is read and encoded
// on the first call to Data; later calls return the same result.
type Payload struct {
	src      io.Reader
	mimeType string
	maxDim   int

	once    sync.Once
	encoded string
	err     error
}

type Option func(*Payload)

// WithMaxDimension downscales images whose longest side exceeds px before
// encoding. A value <= 0 disables scaling.
func WithMaxDimension(px int) Option {
	return func(p *Payload) {
		p.maxDim = px
	}
}

// New wraps r without reading it.
func New(r io.Reader, mimeType string, opts ...Option) *Payload {
	p := &Payload{src: r, mimeType: NormaliseMIME(mimeType)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Data returns the base64 (standard alphabet, padded) image bytes.
func (p *Payload) Data() (string, error) {
	p.once.Do(p.resolve)
	return p.encoded, p.err
}

// MimeType returns the MIME type of the encoded bytes. It may differ from the
// source type when the image was downscaled.
func (p *Payload) MimeType() string {
	p.once.Do(p.resolve)
	return p.mimeType
}

func (p *Payload) resolve() {
	data, err := io.ReadAll(p.src)
	if err != nil {
		p.err = &ReadError{Err: err}
		return
	}
	if len(data) == 0 {
		p.err = &ReadError{Err: io.ErrUnexpectedEOF}
		return
	}

	if p.maxDim > 0 {
		scaled, mime, ok, err := downscale(data, p.mimeType, p.maxDim)
		switch {
		case err != nil:
			slog.Warn("screenshot downscale failed, sending original", "error", err)
		case ok:
			slog.Debug("screenshot downscaled", "bytes_before", len(data), "bytes_after", len(scaled))
			data, p.mimeType = scaled, mime
		}
	}

	p.encoded = base64.StdEncoding.EncodeToString(data)
}

// NormaliseMIME maps MIME types to the set every backend accepts: jpeg, png,
// gif and webp. Unknown types fall back to jpeg.
func NormaliseMIME(mimeType string) string {
	switch mimeType {
	case "image/png", "image/gif", "image/webp":
		return mimeType
	default:
		return "image/jpeg"
	}
}
