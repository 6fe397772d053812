// Package geofence classifies where a complaint's evidence was captured and
// decides which evidence sources an intake may accept next.
package geofence

import (
	"errors"
	"time"

	"github.com/golang/geo/s2"
)

const (
	// DefaultThresholdMeters is the radius inside which a reporter counts as on site.
	DefaultThresholdMeters = 200.0
	// DefaultProximityTimeout bounds an external proximity check.
	DefaultProximityTimeout = 3 * time.Second

	earthRadiusMeters = 6371008.8
)

var ErrCameraRequired = errors.New("live camera capture required before uploads")

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Classification is fixed when an intake session starts and is persisted on the case.
type Classification int

const (
	VerificationUnavailable Classification = iota
	LocationVerified
	FailedLocationVerification
)

const (
	TagLocationVerified           = "Location Verified"
	TagFailedLocationVerification = "Failed Location Verification"
	TagVerificationUnavailable    = "Verification Unavailable"
)

// Tag returns the provenance tag stored on the case.
func (c Classification) Tag() string {
	switch c {
	case LocationVerified:
		return TagLocationVerified
	case FailedLocationVerification:
		return TagFailedLocationVerification
	default:
		return TagVerificationUnavailable
	}
}

func (c Classification) String() string {
	switch c {
	case LocationVerified:
		return "verified"
	case FailedLocationVerification:
		return "failed"
	default:
		return "unavailable"
	}
}

// ParseClassification accepts either the short form from String or a provenance tag.
func ParseClassification(s string) Classification {
	switch s {
	case "verified", TagLocationVerified:
		return LocationVerified
	case "failed", TagFailedLocationVerification:
		return FailedLocationVerification
	default:
		return VerificationUnavailable
	}
}

type Source string

const (
	SourceCamera Source = "camera"
	SourceUpload Source = "upload"
)

func (s Source) Valid() bool {
	return s == SourceCamera || s == SourceUpload
}

type Item struct {
	URI    string `json:"uri"`
	Source Source `json:"source"`
}

// ProximityResult is what an external proximity service reports.
type ProximityResult struct {
	OK             bool    `json:"ok"`
	DistanceMeters float64 `json:"distance_meters"`
	WithinRadius   bool    `json:"within_radius"`
}

// DistanceMeters returns the great-circle distance between two points.
func DistanceMeters(a, b Coordinates) float64 {
	pa := s2.LatLngFromDegrees(a.Lat, a.Lng)
	pb := s2.LatLngFromDegrees(b.Lat, b.Lng)
	return pa.Distance(pb).Radians() * earthRadiusMeters
}

// Classify compares reporter and business positions locally. A missing
// coordinate on either side yields VerificationUnavailable and a zero distance.
func Classify(reporter, business *Coordinates, thresholdMeters float64) (Classification, float64) {
	if reporter == nil || business == nil {
		return VerificationUnavailable, 0
	}
	if thresholdMeters <= 0 {
		thresholdMeters = DefaultThresholdMeters
	}
	d := DistanceMeters(*reporter, *business)
	if d <= thresholdMeters {
		return LocationVerified, d
	}
	return FailedLocationVerification, d
}

// FromCheck interprets the outcome of a proximity check. Errors, timeouts and
// inconclusive results never block intake; they classify as unavailable.
func FromCheck(result *ProximityResult, err error) Classification {
	if err != nil || result == nil || !result.OK {
		return VerificationUnavailable
	}
	if result.WithinRadius {
		return LocationVerified
	}
	return FailedLocationVerification
}

// Policy admits evidence items for one intake session.
type Policy struct {
	Classification Classification
}

func hasCamera(existing []Item) bool {
	for _, it := range existing {
		if it.Source == SourceCamera {
			return true
		}
	}
	return false
}

// Admit reports whether next may be appended after existing. A verified
// session must start with a camera capture; uploads are refused until one exists.
func (p Policy) Admit(existing []Item, next Source) error {
	if p.Classification == LocationVerified && next == SourceUpload && !hasCamera(existing) {
		return ErrCameraRequired
	}
	return nil
}

// AllowedSources lists the sources Admit would currently accept.
func (p Policy) AllowedSources(existing []Item) []Source {
	if p.Classification == LocationVerified && !hasCamera(existing) {
		return []Source{SourceCamera}
	}
	return []Source{SourceCamera, SourceUpload}
}
