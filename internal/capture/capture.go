package capture

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNoPayload       = errors.New("capture produced no payload")
	ErrEmptyCode       = errors.New("scanned code is empty")
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrTooLarge        = errors.New("file too large")
)

type Kind string

const (
	KindImages  Kind = "images"
	KindBarcode Kind = "barcode"
)

// Image is a decoded still ready to be sent for analysis.
type Image struct {
	Name     string
	Bytes    []byte
	MimeType string
}

// Result holds either one or more images or exactly one barcode.
type Result struct {
	Kind    Kind
	Images  []Image
	Barcode string
}

func ImagesResult(images []Image) Result {
	return Result{Kind: KindImages, Images: images}
}

func BarcodeResult(code string) Result {
	return Result{Kind: KindBarcode, Barcode: code}
}

// Source produces a capture result. Implementations release any device they
// acquire before returning.
type Source interface {
	Capture(ctx context.Context) (Result, error)
}

// DeviceError reports that a camera or scanner could not be used. The caller
// keeps its previous state.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Stream is an open capture device.
type Stream interface {
	Snapshot(ctx context.Context) (Image, error)
	Close() error
}

type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Decoder looks for a barcode in a frame. ok is false when none is visible.
type Decoder interface {
	Decode(ctx context.Context, frame Image) (code string, ok bool, err error)
}

func sniffMimeType(data []byte, declared string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		if mt, _, ok := strings.Cut(declared, ";"); ok {
			return strings.TrimSpace(mt)
		}
		return declared
	}
	return http.DetectContentType(data)
}

func IsImage(img Image) bool {
	return strings.HasPrefix(img.MimeType, "image/")
}
