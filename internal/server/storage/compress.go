package storage

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic prefixes every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func codec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return encoder, decoder, codecErr
}

type compressed struct {
	Store
}

// Compressed wraps s so values are zstd frames at rest. Values written before
// compression was enabled are returned as stored.
func Compressed(s Store) Store {
	return &compressed{Store: s}
}

func (c *compressed) Put(ctx context.Context, ns, key string, value []byte) error {
	enc, _, err := codec()
	if err != nil {
		return fmt.Errorf("zstd: %w", err)
	}
	return c.Store.Put(ctx, ns, key, enc.EncodeAll(value, nil))
}

func (c *compressed) Get(ctx context.Context, ns, key string) ([]byte, error) {
	raw, err := c.Store.Get(ctx, ns, key)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(raw, zstdMagic) {
		return raw, nil
	}

	_, dec, err := codec()
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	out, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode %s/%s: %w", ns, key, err)
	}
	return out, nil
}
