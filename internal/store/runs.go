package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/scandiff/internal/geom"
	"github.com/banshee-data/scandiff/internal/pipeline"
)

// ErrNotFound is returned when no run has the requested ID.
var ErrNotFound = errors.New("run not found")

// RunStore persists pipeline summaries and their clusters.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a RunStore over a migrated database.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

const runColumns = `
	run_id, created_at, duration_ns, reference_name, target_name,
	reference_points, target_points,
	icp_fitness, icp_rmse, icp_iterations, icp_converged, icp_cancelled, quality, transformation_json,
	ground_threshold, ground_points, non_ground_points, plane,
	change_signed, change_mean, change_std, change_min, change_max, change_median, change_threshold,
	no_change_points, erosion_points, deposition_points, changed_points,
	clustering_eps, clustering_min_samples, clustering_threshold, num_clusters, num_noise`

// Insert stores s and its clusters in one transaction. An empty RunID is
// filled with a new UUID and a zero CreatedAt with the current time.
func (s *RunStore) Insert(ctx context.Context, sum *pipeline.Summary) error {
	if sum.RunID == "" {
		sum.RunID = uuid.NewString()
	}
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now().UTC()
	}
	transform, err := json.Marshal(sum.Transformation)
	if err != nil {
		return fmt.Errorf("encode transformation: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO analysis_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.RunID, sum.CreatedAt.UnixNano(), int64(sum.Duration), sum.ReferenceName, sum.TargetName,
		sum.ReferencePoints, sum.TargetPoints,
		sum.ICPFitness, sum.ICPRMSE, sum.ICPIterations, sum.ICPConverged, sum.ICPCancelled, sum.Quality, string(transform),
		sum.GroundThreshold, sum.GroundPoints, sum.NonGroundPoints, sum.Plane,
		sum.ChangeSigned, sum.ChangeMean, sum.ChangeStd, sum.ChangeMin, sum.ChangeMax, sum.ChangeMedian, sum.ChangeThreshold,
		sum.NoChangePoints, sum.ErosionPoints, sum.DepositionPoints, sum.ChangedPoints,
		sum.ClusteringEps, sum.ClusteringMinSamples, sum.ClusteringThreshold, sum.NumClusters, sum.NumNoise,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", sum.RunID, err)
	}

	for rank, c := range sum.Clusters {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO analysis_clusters (
				run_id, cluster_id, rank, num_points, volume,
				centroid_x, centroid_y, centroid_z,
				min_x, min_y, min_z, max_x, max_y, max_z
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sum.RunID, c.ID, rank, c.NumPoints, c.Volume,
			c.Centroid.X, c.Centroid.Y, c.Centroid.Z,
			c.BBoxMin.X, c.BBoxMin.Y, c.BBoxMin.Z, c.BBoxMax.X, c.BBoxMax.Y, c.BBoxMax.Z,
		)
		if err != nil {
			return fmt.Errorf("insert cluster %d of run %s: %w", c.ID, sum.RunID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logf("stored run %s (%d clusters)", sum.RunID, len(sum.Clusters))
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*pipeline.Summary, error) {
	var (
		sum       pipeline.Summary
		createdAt int64
		duration  int64
		transform string
	)
	err := row.Scan(
		&sum.RunID, &createdAt, &duration, &sum.ReferenceName, &sum.TargetName,
		&sum.ReferencePoints, &sum.TargetPoints,
		&sum.ICPFitness, &sum.ICPRMSE, &sum.ICPIterations, &sum.ICPConverged, &sum.ICPCancelled, &sum.Quality, &transform,
		&sum.GroundThreshold, &sum.GroundPoints, &sum.NonGroundPoints, &sum.Plane,
		&sum.ChangeSigned, &sum.ChangeMean, &sum.ChangeStd, &sum.ChangeMin, &sum.ChangeMax, &sum.ChangeMedian, &sum.ChangeThreshold,
		&sum.NoChangePoints, &sum.ErosionPoints, &sum.DepositionPoints, &sum.ChangedPoints,
		&sum.ClusteringEps, &sum.ClusteringMinSamples, &sum.ClusteringThreshold, &sum.NumClusters, &sum.NumNoise,
	)
	if err != nil {
		return nil, err
	}
	sum.CreatedAt = time.Unix(0, createdAt).UTC()
	sum.Duration = pipeline.Duration(duration)
	if err := json.Unmarshal([]byte(transform), &sum.Transformation); err != nil {
		return nil, fmt.Errorf("decode transformation of run %s: %w", sum.RunID, err)
	}
	return &sum, nil
}

// Get returns the run with its clusters.
func (s *RunStore) Get(ctx context.Context, runID string) (*pipeline.Summary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM analysis_runs WHERE run_id = ?`, runID)
	sum, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if sum.Clusters, err = s.Clusters(ctx, runID); err != nil {
		return nil, err
	}
	return sum, nil
}

// List returns up to limit runs, newest first, without their clusters.
// A non-positive limit returns every run.
func (s *RunStore) List(ctx context.Context, limit int) ([]*pipeline.Summary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM analysis_runs ORDER BY created_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*pipeline.Summary
	for rows.Next() {
		sum, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, sum)
	}
	return runs, rows.Err()
}

// Clusters returns the clusters of a run in the order they were stored.
func (s *RunStore) Clusters(ctx context.Context, runID string) ([]pipeline.ClusterSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cluster_id, num_points, volume,
		       centroid_x, centroid_y, centroid_z,
		       min_x, min_y, min_z, max_x, max_y, max_z
		FROM analysis_clusters
		WHERE run_id = ?
		ORDER BY rank`, runID)
	if err != nil {
		return nil, fmt.Errorf("query clusters: %w", err)
	}
	defer rows.Close()

	clusters := []pipeline.ClusterSummary{}
	for rows.Next() {
		var (
			c      pipeline.ClusterSummary
			lo, hi geom.Vec3
		)
		if err := rows.Scan(&c.ID, &c.NumPoints, &c.Volume,
			&c.Centroid.X, &c.Centroid.Y, &c.Centroid.Z,
			&lo.X, &lo.Y, &lo.Z, &hi.X, &hi.Y, &hi.Z); err != nil {
			return nil, fmt.Errorf("scan cluster: %w", err)
		}
		c.BBoxMin, c.BBoxMax = lo, hi
		clusters = append(clusters, c)
	}
	return clusters, rows.Err()
}

// Delete removes a run and its clusters.
func (s *RunStore) Delete(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analysis_runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return nil
}
