package capture

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// FileInput is one selected or dropped file.
type FileInput struct {
	Name     string
	MimeType string
	Open     func() (io.ReadCloser, error)
}

// FileSource decodes a batch of files concurrently and returns them in input
// order once all have been read.
type FileSource struct {
	Files    []FileInput
	MaxBytes int64
}

func (s FileSource) Capture(ctx context.Context) (Result, error) {
	if len(s.Files) == 0 {
		return Result{}, ErrNoPayload
	}

	images := make([]Image, len(s.Files))
	g, ctx := errgroup.WithContext(ctx)
	for i, f := range s.Files {
		i, f := i, f
		g.Go(func() error {
			img, err := s.decode(ctx, f)
			if err != nil {
				return fmt.Errorf("file %q: %w", f.Name, err)
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	return ImagesResult(images), nil
}

func (s FileSource) decode(ctx context.Context, f FileInput) (Image, error) {
	if err := ctx.Err(); err != nil {
		return Image{}, err
	}
	if f.Open == nil {
		return Image{}, ErrNoPayload
	}
	rc, err := f.Open()
	if err != nil {
		return Image{}, err
	}
	defer rc.Close()

	var r io.Reader = rc
	if s.MaxBytes > 0 {
		r = io.LimitReader(rc, s.MaxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Image{}, err
	}
	if len(data) == 0 {
		return Image{}, ErrNoPayload
	}
	if s.MaxBytes > 0 && int64(len(data)) > s.MaxBytes {
		return Image{}, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, s.MaxBytes)
	}

	img := Image{Name: f.Name, Bytes: data, MimeType: sniffMimeType(data, f.MimeType)}
	if !IsImage(img) {
		return Image{}, fmt.Errorf("%w %s", ErrUnsupportedType, img.MimeType)
	}
	return img, nil
}
