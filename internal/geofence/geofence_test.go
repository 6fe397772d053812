package geofence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// metersPerDegreeLat on the mean-radius sphere.
const metersPerDegreeLat = 111194.93

func offsetNorth(c Coordinates, meters float64) *Coordinates {
	return &Coordinates{Lat: c.Lat + meters/metersPerDegreeLat, Lng: c.Lng}
}

func TestClassifyThreshold(t *testing.T) {
	shop := Coordinates{Lat: 14.5995, Lng: 120.9842}

	cls, d := Classify(offsetNorth(shop, 50), &shop, 200)
	assert.Equal(t, LocationVerified, cls)
	assert.InDelta(t, 50, d, 0.5)

	cls, d = Classify(offsetNorth(shop, 500), &shop, 200)
	assert.Equal(t, FailedLocationVerification, cls)
	assert.InDelta(t, 500, d, 1)

	cls, _ = Classify(nil, &shop, 200)
	assert.Equal(t, VerificationUnavailable, cls)
	cls, _ = Classify(&shop, nil, 200)
	assert.Equal(t, VerificationUnavailable, cls)
}

func TestClassifyDefaultsThreshold(t *testing.T) {
	shop := Coordinates{Lat: 51.5, Lng: -0.12}
	cls, _ := Classify(offsetNorth(shop, 150), &shop, 0)
	assert.Equal(t, LocationVerified, cls)
}

func TestFromCheckFailsOpen(t *testing.T) {
	assert.Equal(t, VerificationUnavailable, FromCheck(nil, context.DeadlineExceeded))
	assert.Equal(t, VerificationUnavailable, FromCheck(&ProximityResult{OK: true, WithinRadius: true}, errors.New("boom")))
	assert.Equal(t, VerificationUnavailable, FromCheck(nil, nil))
	assert.Equal(t, VerificationUnavailable, FromCheck(&ProximityResult{OK: false}, nil))
	assert.Equal(t, LocationVerified, FromCheck(&ProximityResult{OK: true, WithinRadius: true}, nil))
	assert.Equal(t, FailedLocationVerification, FromCheck(&ProximityResult{OK: true, DistanceMeters: 900}, nil))
}

func TestPolicyCameraFirst(t *testing.T) {
	p := Policy{Classification: LocationVerified}

	err := p.Admit(nil, SourceUpload)
	require.ErrorIs(t, err, ErrCameraRequired)
	assert.Equal(t, []Source{SourceCamera}, p.AllowedSources(nil))

	require.NoError(t, p.Admit(nil, SourceCamera))
	existing := []Item{{URI: "file:///a.jpg", Source: SourceCamera}}
	require.NoError(t, p.Admit(existing, SourceUpload))
	assert.Equal(t, []Source{SourceCamera, SourceUpload}, p.AllowedSources(existing))
}

func TestPolicyUnverifiedAllowsUploads(t *testing.T) {
	for _, cls := range []Classification{FailedLocationVerification, VerificationUnavailable} {
		p := Policy{Classification: cls}
		assert.NoError(t, p.Admit(nil, SourceUpload), cls.String())
	}
}

func TestClassificationTags(t *testing.T) {
	assert.Equal(t, "Location Verified", LocationVerified.Tag())
	assert.Equal(t, "Failed Location Verification", FailedLocationVerification.Tag())
	assert.Equal(t, "Verification Unavailable", VerificationUnavailable.Tag())
	assert.Equal(t, LocationVerified, ParseClassification(LocationVerified.String()))
	assert.Equal(t, FailedLocationVerification, ParseClassification("Failed Location Verification"))
}
