// Package testutil provides shared test helpers for geometry results.
package testutil

import (
	"testing"

	"github.com/banshee-data/scandiff/internal/geom"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertVecNear checks that got lies within tol metres of want.
func AssertVecNear(t testing.TB, got, want geom.Vec3, tol float64) {
	t.Helper()
	if d := got.Distance(want); d > tol {
		t.Errorf("point %+v is %.3g from %+v, want <= %.3g", got, d, want, tol)
	}
}

// AssertTransformNear checks every matrix entry of got against want.
func AssertTransformNear(t testing.TB, got, want geom.Transform, tol float64) {
	t.Helper()
	if d := got.MaxAbsDiff(want); d > tol {
		t.Errorf("transform differs by %.3g (tol %.3g)\ngot:\n%s\nwant:\n%s", d, tol, got, want)
	}
}

// AssertIdentity checks that t is the identity transform within tol.
func AssertIdentity(t testing.TB, got geom.Transform, tol float64) {
	t.Helper()
	AssertTransformNear(t, got, geom.Identity(), tol)
}
