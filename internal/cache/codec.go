// internal/cache/codec.go
package cache

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Codec compresses payloads on their way to disk.
type Codec interface {
	Name() string
	Ext() string
	Encode(p []byte) ([]byte, error)
	Decode(p []byte) ([]byte, error)
}

// codecs holds one instance of each supported codec, keyed by name.
type codecs struct {
	byName map[string]Codec
	zstd   *zstdCodec
}

func newCodecs() (*codecs, error) {
	z, err := newZstdCodec()
	if err != nil {
		return nil, err
	}
	c := &codecs{byName: map[string]Codec{}, zstd: z}
	for _, codec := range []Codec{noneCodec{}, gzipCodec{}, z, brotliCodec{}} {
		c.byName[codec.Name()] = codec
	}
	return c, nil
}

func (c *codecs) get(name string) (Codec, error) {
	if name == "" {
		name = "none"
	}
	codec, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown codec %q", name)
	}
	return codec, nil
}

func (c *codecs) close() {
	c.zstd.close()
}

type noneCodec struct{}

func (noneCodec) Name() string                    { return "none" }
func (noneCodec) Ext() string                     { return ".bin" }
func (noneCodec) Encode(p []byte) ([]byte, error) { return p, nil }
func (noneCodec) Decode(p []byte) ([]byte, error) { return p, nil }

type gzipCodec struct{}

func (gzipCodec) Name() string { return "gzip" }
func (gzipCodec) Ext() string  { return ".gz" }

func (gzipCodec) Encode(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(p); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Decode(p []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(p))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// zstdCodec reuses one encoder and decoder; EncodeAll and DecodeAll are safe
// for concurrent use.
type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCodec() (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (*zstdCodec) Name() string { return "zstd" }
func (*zstdCodec) Ext() string  { return ".zst" }

func (z *zstdCodec) Encode(p []byte) ([]byte, error) {
	return z.enc.EncodeAll(p, nil), nil
}

func (z *zstdCodec) Decode(p []byte) ([]byte, error) {
	return z.dec.DecodeAll(p, nil)
}

func (z *zstdCodec) close() {
	z.enc.Close()
	z.dec.Close()
}

type brotliCodec struct{}

func (brotliCodec) Name() string { return "brotli" }
func (brotliCodec) Ext() string  { return ".br" }

func (brotliCodec) Encode(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := w.Write(p); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (brotliCodec) Decode(p []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(p)))
}
