package pipeline

import (
	"context"
	"encoding/json"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scandiff/internal/cloud"
	"github.com/banshee-data/scandiff/internal/geom"
	"github.com/banshee-data/scandiff/internal/monitoring"
	"github.com/banshee-data/scandiff/internal/registration"
	"github.com/banshee-data/scandiff/internal/synth"
	"github.com/banshee-data/scandiff/internal/timeutil"
)

// surveyPair builds the end-to-end fixture: rolling terrain, a repeat
// survey with an erosion and a deposition zone, misaligned by 5° about the
// grid centre plus (0.3, -0.2, 0.1) m.
func surveyPair() (ref, target *cloud.PointSet, misalignment geom.Transform) {
	refOpts := synth.ReferenceOptions()
	refOpts.Noise = 0.01
	defOpts := synth.DeformedOptions()
	defOpts.Noise = 0.02
	misalignment = synth.DefaultMisalignment(defOpts)
	return synth.Terrain(refOpts), synth.Terrain(defOpts).Transform(misalignment), misalignment
}

func e2eParams() Params {
	p := DefaultParams()
	p.Normals.Radius = 0.6
	p.Registration.Normals = p.Normals
	p.Registration.MaxCorrespondenceDistance = 2.0
	p.Registration.MaxIterations = 100
	return p
}

func inBox(p geom.Vec3, d synth.Deformation, margin float64) bool {
	return p.X > d.MinX+margin && p.X < d.MaxX-margin && p.Y > d.MinY+margin && p.Y < d.MaxY-margin
}

func median(values []float64) float64 {
	s := slices.Clone(values)
	slices.Sort(s)
	return s[len(s)/2]
}

func TestRun_EndToEnd(t *testing.T) {
	defer monitoring.Mute()()

	ref, target, misalignment := surveyPair()
	refHash, targetHash := ref.ContentHash(), target.ContentHash()

	var observed int
	obs := registration.ObserverFunc(func(int, float64) bool {
		observed++
		return true
	})

	a, err := Run(context.Background(), ref, target, e2eParams(), obs)
	require.NoError(t, err)

	// Inputs are untouched.
	assert.Equal(t, refHash, ref.ContentHash())
	assert.Equal(t, targetHash, target.ContentHash())
	assert.False(t, ref.HasNormals())
	assert.False(t, target.HasNormals())

	// Registration undoes the misalignment.
	reg := a.Registration
	assert.Equal(t, len(reg.Iterations), observed)
	assert.Greater(t, reg.Fitness, 0.95)
	residual := reg.Transformation.Mul(misalignment)
	var worst float64
	for _, p := range ref.Points {
		worst = math.Max(worst, residual.Apply(p).Distance(p))
	}
	assert.Less(t, worst, 0.05, "residual transform:\n%s", residual)
	assert.Less(t, residual.RotationAngle(), 0.1*math.Pi/180)

	// Ground removal partitions the aligned target.
	seg := a.Segmentation
	assert.Equal(t, a.Aligned.Len(), seg.NumInliers+len(seg.Outliers))
	assert.Equal(t, seg.NumInliers, a.Ground.Len())
	assert.Equal(t, len(seg.Outliers), a.NonGround.Len())

	// Signed change separates the two deformation zones.
	chg := a.Change
	require.True(t, chg.Signed)
	require.Len(t, chg.Distances, a.Aligned.Len())
	var erosion, deposition, stable []float64
	for i, p := range a.Aligned.Points {
		switch {
		case inBox(p, synth.ErosionZone, 0.5):
			erosion = append(erosion, chg.Distances[i])
		case inBox(p, synth.DepositionZone, 0.5):
			deposition = append(deposition, chg.Distances[i])
		case !inBox(p, synth.ErosionZone, -0.5) && !inBox(p, synth.DepositionZone, -0.5):
			stable = append(stable, math.Abs(chg.Distances[i]))
		}
	}
	require.NotEmpty(t, erosion)
	require.NotEmpty(t, deposition)
	assert.Less(t, median(erosion), -0.2)
	assert.Greater(t, median(deposition), 0.15)
	assert.Less(t, median(stable), 0.05)
	assert.Greater(t, a.ChangeSummary.Erosion, 0)
	assert.Greater(t, a.ChangeSummary.Deposition, 0)

	// Exactly one cluster per deformation zone.
	clu := a.Clustering
	require.Equal(t, 2, clu.NumClusters, clu.Summary())
	var gotErosion, gotDeposition bool
	for _, c := range clu.Clusters {
		switch {
		case inBox(c.Centroid, synth.ErosionZone, 0):
			gotErosion = true
		case inBox(c.Centroid, synth.DepositionZone, 0):
			gotDeposition = true
		default:
			t.Errorf("cluster %d centroid %+v lies outside both zones", c.ID, c.Centroid)
		}
	}
	assert.True(t, gotErosion)
	assert.True(t, gotDeposition)

	// Summary mirrors the stage results.
	s := a.Summary
	_, err = uuid.Parse(s.RunID)
	assert.NoError(t, err)
	assert.Equal(t, 10000, s.ReferencePoints)
	assert.Equal(t, reg.Fitness, s.ICPFitness)
	assert.Equal(t, string(registration.QualityExcellent), s.Quality)
	assert.Equal(t, 2, s.NumClusters)
	assert.Len(t, s.Clusters, 2)
	assert.Equal(t, chg.Median, s.ChangeMedian)
	assert.Positive(t, time.Duration(s.Duration))
}

func smallPair() (*cloud.PointSet, *cloud.PointSet) {
	opts := synth.TerrainOptions{NumPoints: 900, Extent: 10, BaseZ: 2, HillScale: 1, Seed: 5}
	ref := synth.Terrain(opts)
	return ref, ref.Transform(geom.Translation(0.05, 0, 0))
}

func TestRunner_ReusesReferenceIndex(t *testing.T) {
	defer monitoring.Mute()()

	ref, target := smallPair()
	p := DefaultParams()
	p.Normals.Radius = 1.0
	p.Registration.Normals = p.Normals

	r := NewRunner()
	_, err := r.Run(context.Background(), ref, target, p, nil)
	require.NoError(t, err)
	_, err = r.Run(context.Background(), ref, target.Clone(), p, nil)
	require.NoError(t, err)

	hits, builds := r.CacheStats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, builds)
}

func TestRunner_StampsSummaryWithClock(t *testing.T) {
	defer monitoring.Mute()()

	base := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(base)
	clock.SetStep(2 * time.Second)

	ref, target := smallPair()
	p := DefaultParams()
	p.Normals.Radius = 1.0
	p.Registration.Normals = p.Normals

	a, err := NewRunnerWithClock(clock).Run(context.Background(), ref, target, p, nil)
	require.NoError(t, err)
	assert.Equal(t, base, a.Summary.CreatedAt)
	assert.Equal(t, Duration(2*time.Second), a.Summary.Duration)
}

func TestRun_Preprocessing(t *testing.T) {
	defer monitoring.Mute()()

	ref, target := smallPair()
	p := DefaultParams()
	p.Normals.Radius = 1.0
	p.Registration.Normals = p.Normals
	p.VoxelSize = 0.5
	p.OutlierNeighbors = 8

	a, err := Run(context.Background(), ref, target, p, nil)
	require.NoError(t, err)
	assert.Less(t, a.Reference.Len(), ref.Len())
	assert.Equal(t, a.Reference.Len(), a.Summary.ReferencePoints)
	assert.True(t, a.Reference.HasNormals())
}

func TestRun_InvalidInput(t *testing.T) {
	ref, target := smallPair()

	_, err := Run(context.Background(), &cloud.PointSet{}, target, DefaultParams(), nil)
	assert.ErrorIs(t, err, cloud.ErrInvalidInput)

	bad := DefaultParams()
	bad.Clustering.MinSamples = 0
	_, err = Run(context.Background(), ref, target, bad, nil)
	assert.ErrorIs(t, err, cloud.ErrInvalidInput)

	bad = DefaultParams()
	bad.VoxelSize = -1
	_, err = Run(context.Background(), ref, target, bad, nil)
	assert.ErrorIs(t, err, cloud.ErrInvalidInput)
}

func TestRun_ContextCancelled(t *testing.T) {
	defer monitoring.Mute()()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ref, target := smallPair()
	_, err := Run(ctx, ref, target, DefaultParams(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDuration_JSON(t *testing.T) {
	b, err := json.Marshal(struct {
		D Duration `json:"d"`
	}{Duration(1500 * time.Millisecond)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"1.5s"}`, string(b))

	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("250ms")))
	assert.Equal(t, Duration(250*time.Millisecond), d)
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
