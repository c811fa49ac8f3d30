package meta

import (
	"context"
	"math"
	"strconv"
	"strings"
)

// CaptureMetadata is the capture information read from one media file.
// Every field is optional; nil means the source did not provide a usable
// value.
type CaptureMetadata struct {
	PrimaryDate   *string // DateTimeOriginal
	SecondaryDate *string // CreateDate
	ImageHeight   *int64
	ImageWidth    *int64
	MIMEType      *string
	ISO           *int64
	Aperture      *float64
	ShutterSpeed  *string
	FocalLength   *string
	Make          *string
	Model         *string
	LensInfo      *string
	LensMake      *string
	LensModel     *string
}

// Provider reads capture metadata for a single file. A Provider returns an
// error when the underlying tool cannot run or its output is not exactly one
// record; absent fields are not errors.
type Provider interface {
	Read(ctx context.Context, path string) (*CaptureMetadata, error)
}

// Closer is implemented by providers that hold external resources
type Closer interface {
	Close() error
}

// Field names as reported by exiftool
const (
	FieldDateTimeOriginal = "DateTimeOriginal"
	FieldCreateDate       = "CreateDate"
	FieldImageHeight      = "ImageHeight"
	FieldImageWidth       = "ImageWidth"
	FieldMIMEType         = "MIMEType"
	FieldISO              = "ISO"
	FieldAperture         = "Aperture"
	FieldShutterSpeed     = "ShutterSpeed"
	FieldFocalLength      = "FocalLength"
	FieldMake             = "Make"
	FieldModel            = "Model"
	FieldLensInfo         = "LensInfo"
	FieldLensMake         = "LensMake"
	FieldLensModel        = "LensModel"
)

// FromFields maps a decoded JSON object onto CaptureMetadata. Each field is
// taken only if it has the expected JSON type; anything else is treated as
// absent rather than coerced.
func FromFields(fields map[string]any) *CaptureMetadata {
	return &CaptureMetadata{
		PrimaryDate:   stringField(fields, FieldDateTimeOriginal),
		SecondaryDate: stringField(fields, FieldCreateDate),
		ImageHeight:   intField(fields, FieldImageHeight),
		ImageWidth:    intField(fields, FieldImageWidth),
		MIMEType:      stringField(fields, FieldMIMEType),
		ISO:           intField(fields, FieldISO),
		Aperture:      floatField(fields, FieldAperture),
		ShutterSpeed:  textField(fields, FieldShutterSpeed),
		FocalLength:   textField(fields, FieldFocalLength),
		Make:          textField(fields, FieldMake),
		Model:         textField(fields, FieldModel),
		LensInfo:      textField(fields, FieldLensInfo),
		LensMake:      textField(fields, FieldLensMake),
		LensModel:     textField(fields, FieldLensModel),
	}
}

func stringField(fields map[string]any, key string) *string {
	s, ok := fields[key].(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// textField is stringField for values exiftool may print as a bare number,
// such as a 2 second ShutterSpeed or a numeric Model
func textField(fields map[string]any, key string) *string {
	f, ok := fields[key].(float64)
	if !ok {
		return stringField(fields, key)
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	return &s
}

func intField(fields map[string]any, key string) *int64 {
	f, ok := fields[key].(float64)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	v := int64(f)
	return &v
}

func floatField(fields map[string]any, key string) *float64 {
	f, ok := fields[key].(float64)
	if !ok || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	return &f
}

// ptr returns a pointer to v, or nil for the zero value
func ptr[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}
