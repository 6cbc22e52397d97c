package questionnaire

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/BIH-CEI/fhir-sdc-questionnaire-service/internal/platform/fhir"
)

// ErrRootNotFound marks a failure to obtain the root questionnaire. It is
// the only error that aborts a packaging run; every dependency failure is
// recorded and the run continues.
var ErrRootNotFound = errors.New("root questionnaire could not be resolved")

// Resolver walks the dependency graph below a questionnaire: breadth-first,
// cycle-safe, each distinct reference fetched at most once. All traversal
// state (visited set, queue, accumulators) is local to one Resolve call, so
// a single Resolver is safe for concurrent requests.
type Resolver struct {
	source DocumentSource
	logger zerolog.Logger
}

func NewResolver(source DocumentSource, logger zerolog.Logger) *Resolver {
	return &Resolver{source: source, logger: logger}
}

// ResolveByID resolves the package for the questionnaire with the given
// logical id.
func (r *Resolver) ResolveByID(ctx context.Context, id string, includeDeps bool) (*PackageResult, error) {
	root, err := r.source.FetchByID(ctx, KindQuestionnaire, id)
	if err != nil {
		return nil, fmt.Errorf("%w: Questionnaire/%s: %w", ErrRootNotFound, id, err)
	}
	return r.resolve(ctx, root, includeDeps), nil
}

// ResolveByCanonical resolves the package for the questionnaire identified
// by a canonical reference.
func (r *Resolver) ResolveByCanonical(ctx context.Context, ref fhir.CanonicalReference, includeDeps bool) (*PackageResult, error) {
	root, err := r.source.FetchByCanonical(ctx, KindQuestionnaire, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRootNotFound, ref, err)
	}
	return r.resolve(ctx, root, includeDeps), nil
}

// ResolveDocument resolves the package for a caller-supplied questionnaire.
// The root is not fetched; its declared canonical still seeds the visited
// set, and a root without one gets a synthetic identity so it can never be
// re-fetched through a self-reference.
func (r *Resolver) ResolveDocument(ctx context.Context, root *Document, includeDeps bool) (*PackageResult, error) {
	if root == nil || root.Resource == nil {
		return nil, fmt.Errorf("%w: no resource supplied", ErrRootNotFound)
	}
	if root.Ref.IsZero() {
		root.Ref = fhir.CanonicalReference{URL: "urn:uuid:" + uuid.NewString()}
	}
	return r.resolve(ctx, root, includeDeps), nil
}

// resolve runs the traversal. Every reference is marked visited before its
// fetch is attempted, so a reference discovered from several parents, or
// one whose fetch fails, is still attempted exactly once. Failed references
// are never enqueued and never retried. Resolved keeps discovery order;
// nothing in this path iterates a map.
func (r *Resolver) resolve(ctx context.Context, root *Document, includeDeps bool) *PackageResult {
	result := &PackageResult{
		Resolved:            []*Document{root},
		IncludeDependencies: includeDeps,
	}
	if !includeDeps {
		return result
	}

	visited := map[string]bool{root.Ref.Key(): true}
	queue := []*Document{root}

	for len(queue) > 0 {
		doc := queue[0]
		queue = queue[1:]

		for _, edge := range References(doc) {
			if visited[edge.Ref.Key()] {
				continue
			}
			visited[edge.Ref.Key()] = true

			dep, err := r.source.FetchByCanonical(ctx, edge.Kind, edge.Ref)
			if err != nil {
				r.logger.Warn().
					Str("kind", edge.Kind.String()).
					Str("reference", edge.Ref.String()).
					Err(err).
					Msg("dependency unresolved")
				result.Failures = append(result.Failures, ResolutionFailure{
					Kind:   edge.Kind,
					Ref:    edge.Ref,
					Reason: err.Error(),
				})
				continue
			}
			result.Resolved = append(result.Resolved, dep)
			queue = append(queue, dep)
		}
	}

	r.logger.Info().
		Str("root", root.Ref.String()).
		Int("resolved", len(result.Resolved)).
		Int("failed", len(result.Failures)).
		Msg("package resolution complete")
	return result
}
