package segmentation

import (
	"context"
	"fmt"
	"strings"

	"github.com/banshee-data/scandiff/internal/cloud"
)

// SplitByPlane materialises a segmentation as two clouds: the plane
// points painted grey, and the remaining points with their original
// channels.
func SplitByPlane(ps *cloud.PointSet, res *Result) (ground, rest *cloud.PointSet) {
	ground = ps.Select(res.Inliers).PaintUniform(cloud.Grey)
	rest = ps.Select(res.Outliers)
	return ground, rest
}

// RemoveGround segments the dominant plane and splits ps by it.
func RemoveGround(ctx context.Context, ps *cloud.PointSet, params Params) (ground, rest *cloud.PointSet, res *Result, err error) {
	res, err = SegmentPlane(ctx, ps, params)
	if err != nil {
		return nil, nil, nil, err
	}
	ground, rest = SplitByPlane(ps, res)
	return ground, rest, res, nil
}

// GroundRemovalStats returns a one-line summary of a segmentation of a
// cloud with total points, e.g.
// "Ground points: 9,200 (92.0%) | Remaining: 800 (8.0%) | Plane: ...".
func GroundRemovalStats(res *Result, total int) string {
	var groundPct float64
	if total > 0 {
		groundPct = float64(res.NumInliers) / float64(total) * 100
	}
	parts := []string{
		fmt.Sprintf("Ground points: %s (%.1f%%)", cloud.FormatWithCommas(int64(res.NumInliers)), groundPct),
		fmt.Sprintf("Remaining: %s (%.1f%%)", cloud.FormatWithCommas(int64(len(res.Outliers))), 100-groundPct),
		fmt.Sprintf("Plane: %s", res.Plane),
	}
	return strings.Join(parts, " | ")
}
