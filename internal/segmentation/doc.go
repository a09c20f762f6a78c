// Package segmentation splits a scan into the dominant plane (usually the
// ground) and everything else, and provides the density filters applied
// before analysis.
//
// Responsibilities: RANSAC plane fitting, ground/non-ground splitting,
// voxel downsampling and statistical outlier removal.
// Key types: Plane, Params, Result.
//
// Every operation returns new index sets or PointSets; inputs are never
// modified.
package segmentation
