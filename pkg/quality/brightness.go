package quality

import (
	"image"

	"gocv.io/x/gocv"
)

// CenterSampler measures perceptual luminance over a center crop of a
// JPEG frame using OpenCV.
type CenterSampler struct {
	cropFraction float64
}

// NewCenterSampler creates a sampler cropping the given fraction of the
// frame around its center.
func NewCenterSampler(cropFraction float64) *CenterSampler {
	if cropFraction <= 0 || cropFraction > 1 {
		cropFraction = DefaultConfig().CropFraction
	}
	return &CenterSampler{cropFraction: cropFraction}
}

// Sample decodes the JPEG and returns the mean luminance (0-255) of the
// center crop, weighted 0.299R + 0.587G + 0.114B. Returns false when
// the image cannot be decoded.
func (s *CenterSampler) Sample(jpeg []byte) (float64, bool) {
	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil || img.Empty() {
		return 0, false
	}
	defer img.Close()

	w, h := img.Cols(), img.Rows()
	cw := int(float64(w) * s.cropFraction)
	ch := int(float64(h) * s.cropFraction)
	if cw < 1 || ch < 1 {
		return 0, false
	}
	rect := image.Rect((w-cw)/2, (h-ch)/2, (w+cw)/2, (h+ch)/2)

	crop := img.Region(rect)
	defer crop.Close()

	// Mat channels are BGR order.
	mean := crop.Mean()
	return 0.299*mean.Val3 + 0.587*mean.Val2 + 0.114*mean.Val1, true
}
