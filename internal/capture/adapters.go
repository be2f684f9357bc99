package capture

import (
	"context"
	"errors"
	"strings"
)

// FrameDevice serves a frame that the client already grabbed from its camera.
// It yields the frame once; later snapshots fail.
type FrameDevice struct {
	Frame Image
}

func (d FrameDevice) Open(context.Context) (Stream, error) {
	if len(d.Frame.Bytes) == 0 {
		return nil, errors.New("camera frame is empty")
	}
	return &frameStream{frame: d.Frame}, nil
}

type frameStream struct {
	frame  Image
	served bool
	closed bool
}

func (s *frameStream) Snapshot(context.Context) (Image, error) {
	if s.closed {
		return Image{}, errors.New("stream closed")
	}
	if s.served {
		return Image{}, errors.New("no further frames")
	}
	s.served = true
	return s.frame, nil
}

func (s *frameStream) Close() error {
	s.closed = true
	return nil
}

// DecodedCode is a barcode already decoded by the client-side scanner widget.
type DecodedCode string

func (c DecodedCode) Capture(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	code := strings.TrimSpace(string(c))
	if code == "" {
		return Result{}, ErrEmptyCode
	}
	return BarcodeResult(code), nil
}
