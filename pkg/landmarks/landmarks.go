// Package landmarks defines the facial landmark types consumed by the
// perception pipeline and the sources that produce them.
//
// Landmark indices follow the MediaPipe FaceMesh convention.
// See: https://developers.google.com/mediapipe/solutions/vision/face_landmarker
package landmarks

import (
	"math"
	"time"
)

// NumPoints is the size of a full FaceMesh landmark set.
const NumPoints = 468

// Eye contour indices in EAR order (p1 horizontal corner, p2/p3 top,
// p4 opposite corner, p5/p6 bottom).
var (
	RightEyeContour = [6]int{33, 160, 158, 133, 153, 144}
	LeftEyeContour  = [6]int{362, 385, 387, 263, 373, 380}
)

// Inner eye corner indices used for inter-ocular distance.
const (
	RightEyeInnerCorner = 133
	LeftEyeInnerCorner  = 362
)

// Point is a normalized landmark position. X and Y are fractions of the
// frame width and height; Z is depth relative to the face center.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Dist returns the 2D Euclidean distance between two points.
func Dist(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Face is one detected face: a full ordered landmark set plus the
// detector's confidence score.
type Face struct {
	Points []Point `json:"points"`
	Score  float64 `json:"score"`
}

// Complete reports whether the face carries a full landmark set.
func (f *Face) Complete() bool {
	return f != nil && len(f.Points) >= NumPoints
}

// Eye returns the six-point contour for the given side in EAR order.
// Returns false if the landmark set is incomplete.
func (f *Face) Eye(indices [6]int) ([6]Point, bool) {
	var eye [6]Point
	if !f.Complete() {
		return eye, false
	}
	for i, idx := range indices {
		eye[i] = f.Points[idx]
	}
	return eye, true
}

// EAR computes the eye aspect ratio from a six-point contour:
// vertical-pair distances over twice the horizontal distance.
// Low when the eye is closed.
func EAR(eye [6]Point) float64 {
	horizontal := Dist(eye[0], eye[3])
	if horizontal <= 0 {
		return 0
	}
	vertical := Dist(eye[1], eye[5]) + Dist(eye[2], eye[4])
	return vertical / (2 * horizontal)
}

// IODPixels returns the inter-ocular distance in pixel space: the
// normalized distance between the inner eye corners scaled by the frame
// pixel width. Returns 0 if the landmark set is incomplete.
func IODPixels(f *Face, frameWidth int) float64 {
	if !f.Complete() || frameWidth <= 0 {
		return 0
	}
	return Dist(f.Points[LeftEyeInnerCorner], f.Points[RightEyeInnerCorner]) * float64(frameWidth)
}

// EyeSpread returns the bounding extent (max of width and height) of a
// six-point eye contour in normalized coordinates. A collapsed spread
// indicates occluded or degenerate eye landmarks.
func EyeSpread(eye [6]Point) float64 {
	minX, maxX := eye[0].X, eye[0].X
	minY, maxY := eye[0].Y, eye[0].Y
	for _, p := range eye[1:] {
		minX = math.Min(minX, p.X)
		maxX = math.Max(maxX, p.X)
		minY = math.Min(minY, p.Y)
		maxY = math.Max(maxY, p.Y)
	}
	return math.Max(maxX-minX, maxY-minY)
}

// HeadPose is the derived head orientation in degrees.
type HeadPose struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// Frame is one landmark detection result. Faces is empty when no face
// was found; Image optionally carries the source JPEG for brightness
// analysis.
type Frame struct {
	Timestamp time.Time `json:"ts"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Faces     []Face    `json:"faces"`
	Pose      *HeadPose `json:"pose,omitempty"`
	Image     []byte    `json:"-"`
}

// Primary returns the first detected face, or nil if none.
func (fr *Frame) Primary() *Face {
	if fr == nil || len(fr.Faces) == 0 {
		return nil
	}
	return &fr.Faces[0]
}
