package meta

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/abema/go-mp4"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
	"github.com/spf13/afero"

	"github.com/franz/photor/internal/util"
)

// Seconds between the ISO-BMFF epoch (1904-01-01) and the Unix epoch
const mp4EpochOffset = 2082844800

const exifDateLayout = "2006:01:02 15:04:05"

// Native reads metadata with in-process decoders: EXIF for images and the
// movie header for ISO-BMFF video. It needs no external binary.
type Native struct {
	fs afero.Fs
}

// NewNative creates a Native provider over fsys (the OS filesystem if nil)
func NewNative(fsys afero.Fs) *Native {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Native{fs: fsys}
}

// Read extracts metadata for one file. Images without EXIF yield an empty
// record; only I/O and container errors fail.
func (n *Native) Read(ctx context.Context, path string) (*CaptureMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := n.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	mimeType, err := sniff(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if isVideo(path, mimeType) {
		md, err := readMP4(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read movie header of %s: %w", path, err)
		}
		md.MIMEType = ptr("video/mp4")
		return md, nil
	}

	md := readEXIF(f, path)
	if mimeType != "application/octet-stream" {
		md.MIMEType = ptr(mimeType)
	}
	return md, nil
}

// sniff detects the content type from the first 512 bytes and rewinds
func sniff(f afero.File) (string, error) {
	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	mimeType := http.DetectContentType(buf[:n])
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return mimeType, nil
}

func isVideo(path, mimeType string) bool {
	if strings.HasPrefix(mimeType, "video/") {
		return true
	}
	return strings.EqualFold(filepath.Ext(path), ".mp4")
}

func readEXIF(r io.Reader, path string) *CaptureMetadata {
	x, err := exif.Decode(r)
	if x == nil {
		util.DebugLog("No EXIF data in %s: %v", path, err)
		return &CaptureMetadata{}
	}
	if err != nil {
		util.DebugLog("Partial EXIF data in %s: %v", path, err)
	}

	md := &CaptureMetadata{
		PrimaryDate:   exifString(x, exif.DateTimeOriginal),
		SecondaryDate: exifString(x, exif.DateTimeDigitized),
		ImageWidth:    exifInt(x, exif.PixelXDimension, exif.ImageWidth),
		ImageHeight:   exifInt(x, exif.PixelYDimension, exif.ImageLength),
		ISO:           exifInt(x, exif.ISOSpeedRatings),
		Make:          exifString(x, exif.Make),
		Model:         exifString(x, exif.Model),
		LensMake:      exifString(x, exif.FieldName("LensMake")),
		LensModel:     exifString(x, exif.FieldName("LensModel")),
	}

	if num, den, ok := exifRat(x, exif.FNumber); ok && den != 0 {
		aperture := float64(num) / float64(den)
		md.Aperture = &aperture
	}
	if num, den, ok := exifRat(x, exif.ExposureTime); ok && den != 0 {
		md.ShutterSpeed = ptr(formatExposure(num, den))
	}
	if num, den, ok := exifRat(x, exif.FocalLength); ok && den != 0 {
		md.FocalLength = ptr(fmt.Sprintf("%.1f mm", float64(num)/float64(den)))
	}

	return md
}

func exifString(x *exif.Exif, name exif.FieldName) *string {
	tag, err := x.Get(name)
	if err != nil || tag.Format() != tiff.StringVal {
		return nil
	}
	s, err := tag.StringVal()
	if err != nil {
		return nil
	}
	return ptr(strings.TrimSpace(strings.TrimRight(s, "\x00")))
}

// exifInt returns the first present integer field among names
func exifInt(x *exif.Exif, names ...exif.FieldName) *int64 {
	for _, name := range names {
		tag, err := x.Get(name)
		if err != nil || tag.Format() != tiff.IntVal {
			continue
		}
		v, err := tag.Int64(0)
		if err != nil {
			continue
		}
		return &v
	}
	return nil
}

func exifRat(x *exif.Exif, name exif.FieldName) (int64, int64, bool) {
	tag, err := x.Get(name)
	if err != nil || tag.Format() != tiff.RatVal {
		return 0, 0, false
	}
	num, den, err := tag.Rat2(0)
	if err != nil {
		return 0, 0, false
	}
	return num, den, true
}

// formatExposure renders an exposure time the way exiftool prints it
func formatExposure(num, den int64) string {
	if num >= den {
		v := float64(num) / float64(den)
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%.1f", v)
	}
	if num == 0 {
		return "0"
	}
	return fmt.Sprintf("1/%d", (den+num/2)/num)
}

func readMP4(r io.ReadSeeker) (*CaptureMetadata, error) {
	boxes, err := mp4.ExtractBoxesWithPayload(r, nil, []mp4.BoxPath{
		{mp4.BoxTypeMoov(), mp4.BoxTypeMvhd()},
		{mp4.BoxTypeMoov(), mp4.BoxTypeTrak(), mp4.BoxTypeTkhd()},
	})
	if err != nil {
		return nil, err
	}

	md := &CaptureMetadata{}
	for _, box := range boxes {
		switch payload := box.Payload.(type) {
		case *mp4.Mvhd:
			md.SecondaryDate = mp4Time(payload.GetCreationTime())
		case *mp4.Tkhd:
			// The first track with a picture is the video track
			if md.ImageWidth == nil && payload.Width != 0 && payload.Height != 0 {
				w, h := int64(payload.Width>>16), int64(payload.Height>>16)
				md.ImageWidth, md.ImageHeight = &w, &h
			}
		}
	}
	return md, nil
}

// mp4Time converts a movie header timestamp to exiftool's date form
func mp4Time(secs uint64) *string {
	if secs <= mp4EpochOffset {
		return nil
	}
	t := time.Unix(int64(secs-mp4EpochOffset), 0).UTC()
	return ptr(t.Format(exifDateLayout))
}
