package tool

import "context"

// stagingDirKey carries the per-run shadow staging directory through a
// tool call's context, so a Tool can write artefacts without committing
// them to the real working directory until apply (spec section 4.7).
type stagingDirKey struct{}

// WithStagingDir attaches dir as the shadow-phase write target for any
// Tool.Call invoked against the returned context.
func WithStagingDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, stagingDirKey{}, dir)
}

// StagingDirFromContext returns the staging directory set by
// WithStagingDir, if any.
func StagingDirFromContext(ctx context.Context) (string, bool) {
	dir, ok := ctx.Value(stagingDirKey{}).(string)
	return dir, ok && dir != ""
}
