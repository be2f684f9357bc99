package capture

import (
	"context"
	"errors"
	"fmt"
)

// Camera grabs exactly one still per capture. The stream is closed on every
// exit path.
type Camera struct {
	Device Device
}

func (c Camera) Capture(ctx context.Context) (res Result, err error) {
	stream, err := openStream(ctx, c.Device)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil && err == nil {
			err = &DeviceError{Op: "close", Err: cerr}
		}
	}()

	frame, err := stream.Snapshot(ctx)
	if err != nil {
		return Result{}, &DeviceError{Op: "snapshot", Err: err}
	}
	if len(frame.Bytes) == 0 {
		return Result{}, ErrNoPayload
	}
	frame.MimeType = sniffMimeType(frame.Bytes, frame.MimeType)
	if !IsImage(frame) {
		return Result{}, fmt.Errorf("%w %s", ErrUnsupportedType, frame.MimeType)
	}
	return ImagesResult([]Image{frame}), nil
}

// Scanner reads frames until the decoder recognises a code or ctx is done.
type Scanner struct {
	Device  Device
	Decoder Decoder
}

func (s Scanner) Capture(ctx context.Context) (res Result, err error) {
	if s.Decoder == nil {
		return Result{}, &DeviceError{Op: "open", Err: errors.New("no decoder configured")}
	}
	stream, err := openStream(ctx, s.Device)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil && err == nil {
			err = &DeviceError{Op: "close", Err: cerr}
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		frame, err := stream.Snapshot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			return Result{}, &DeviceError{Op: "snapshot", Err: err}
		}
		code, ok, err := s.Decoder.Decode(ctx, frame)
		if err != nil {
			return Result{}, err
		}
		if ok {
			if code == "" {
				return Result{}, ErrEmptyCode
			}
			return BarcodeResult(code), nil
		}
	}
}

func openStream(ctx context.Context, device Device) (Stream, error) {
	if device == nil {
		return nil, &DeviceError{Op: "open", Err: errors.New("no device available")}
	}
	stream, err := device.Open(ctx)
	if err != nil {
		return nil, &DeviceError{Op: "open", Err: err}
	}
	return stream, nil
}
