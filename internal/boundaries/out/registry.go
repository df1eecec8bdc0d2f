package out

import "context"

// ImageRegistry is the outbound port to the content-addressed image store.
// The registry is a black box keyed by digest; the only operations the
// controller needs are tag resolution and tag listing.
type ImageRegistry interface {
	// ResolveDigest resolves an image reference (name:tag) to its content
	// digest. Returns domain.ErrImageNotFound when the reference does not
	// exist and domain.ErrPullFailed on transport failures.
	ResolveDigest(ctx context.Context, ref string) (string, error)

	// ListTags returns the tags published for a repository, used for
	// rollback target selection.
	ListTags(ctx context.Context, repository string) ([]string, error)
}
