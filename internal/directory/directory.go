// Package directory resolves businesses named in complaints and checks how
// far a reporter stands from them.
package directory

import (
	"context"
	"errors"

	"inspectline/internal/domain"
	"inspectline/internal/geofence"
	"inspectline/internal/repo"
)

var ErrNotFound = errors.New("business not found")

type Directory interface {
	Search(ctx context.Context, query string, limit int) ([]domain.Business, error)
	Get(ctx context.Context, id string) (domain.Business, error)
}

// BusinessRef points at a listed business by id or carries coordinates
// supplied by the caller.
type BusinessRef struct {
	ID  string
	Lat *float64
	Lng *float64
}

func (r BusinessRef) coordinates() *geofence.Coordinates {
	if r.Lat == nil || r.Lng == nil {
		return nil
	}
	return &geofence.Coordinates{Lat: *r.Lat, Lng: *r.Lng}
}

type ProximityChecker interface {
	CheckProximity(ctx context.Context, reporter geofence.Coordinates, ref BusinessRef, thresholdMeters float64) (geofence.ProximityResult, error)
}

// SQL serves the directory from the businesses table.
type SQL struct {
	Repo repo.Repo
}

func (d SQL) Search(ctx context.Context, query string, limit int) ([]domain.Business, error) {
	return d.Repo.SearchBusinesses(ctx, query, limit)
}

func (d SQL) Get(ctx context.Context, id string) (domain.Business, error) {
	b, err := d.Repo.GetBusiness(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Business{}, ErrNotFound
	}
	return b, err
}

// LocalProximity measures distance itself, looking up coordinates in Dir
// when the reference carries none. A business without coordinates yields an
// inconclusive result.
type LocalProximity struct {
	Dir Directory
}

func (p LocalProximity) CheckProximity(ctx context.Context, reporter geofence.Coordinates, ref BusinessRef, thresholdMeters float64) (geofence.ProximityResult, error) {
	target := ref.coordinates()
	if target == nil && ref.ID != "" && p.Dir != nil {
		b, err := p.Dir.Get(ctx, ref.ID)
		if err != nil {
			return geofence.ProximityResult{}, err
		}
		target = BusinessRef{Lat: b.Lat, Lng: b.Lng}.coordinates()
	}
	if target == nil {
		return geofence.ProximityResult{OK: false}, nil
	}
	if err := ctx.Err(); err != nil {
		return geofence.ProximityResult{}, err
	}
	cls, d := geofence.Classify(&reporter, target, thresholdMeters)
	return geofence.ProximityResult{OK: true, DistanceMeters: d, WithinRadius: cls == geofence.LocationVerified}, nil
}
