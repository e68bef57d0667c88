package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"parking-service/internal/domain/parking"
)

const jpegQuality = 90

// Decode parses a JPEG or PNG frame.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", parking.ErrVisionFailure)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode frame: %v", parking.ErrVisionFailure, err)
	}
	return img, nil
}

// EncodeJPEG encodes img for storage and upstream calls.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("%w: encode jpeg: %v", parking.ErrVisionFailure, err)
	}
	return buf.Bytes(), nil
}

// Region picks the part of the frame the vehicle check looks at: the
// event's region of interest when one was sent, otherwise the calibrated
// bounding box. A zero rectangle means the whole frame.
func Region(spot *parking.Spot, roi parking.Quad) image.Rectangle {
	if !roi.IsZero() {
		return roi.Bounds()
	}
	if spot != nil {
		return spot.BoundingBox
	}
	return image.Rectangle{}
}

// PlateRegion picks the part of the frame sent to OCR. The calibrated
// bounding box wins over the event's region of interest.
func PlateRegion(spot *parking.Spot, roi parking.Quad) image.Rectangle {
	if spot != nil && !spot.BoundingBox.Empty() {
		return spot.BoundingBox
	}
	return Region(nil, roi)
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Crop returns the part of img inside r. An empty r returns img unchanged;
// a region that misses the frame entirely is an error.
func Crop(img image.Image, r image.Rectangle) (image.Image, error) {
	if r.Empty() {
		return img, nil
	}
	clip := r.Intersect(img.Bounds())
	if clip.Empty() {
		return nil, fmt.Errorf("%w: region %v outside frame %v", parking.ErrVisionFailure, r, img.Bounds())
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(clip), nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, clip.Dx(), clip.Dy()))
	draw.Draw(dst, dst.Bounds(), img, clip.Min, draw.Src)
	return dst, nil
}

// CropJPEG decodes frame, crops it to r and re-encodes the crop.
func CropJPEG(frame []byte, r image.Rectangle) ([]byte, image.Image, error) {
	img, err := Decode(frame)
	if err != nil {
		return nil, nil, err
	}
	crop, err := Crop(img, r)
	if err != nil {
		return nil, nil, err
	}
	data, err := EncodeJPEG(crop)
	if err != nil {
		return nil, nil, err
	}
	return data, crop, nil
}
