package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/i474232898/birdnet-display/internal/common"
)

// ErrDownload marks a species whose images could not all be fetched. It is
// recorded in the summary and retried on a later run.
var ErrDownload = errors.New("image download failed")

// Options configures a Reconciler.
type Options struct {
	Root             string
	ImagesPerSpecies int
	Workers          int
	RatePerSecond    float64
}

// Summary is the aggregate result of one reconciliation pass.
type Summary struct {
	Planned   int               `json:"planned"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Skipped   int               `json:"skipped"`
	Images    int               `json:"images"`
	Failures  map[string]string `json:"failures,omitempty"`
}

// Changed reports whether any image was written.
func (s Summary) Changed() bool { return s.Images > 0 }

// SpeciesResult is the outcome for one planned species.
type SpeciesResult struct {
	Species  string
	Added    int
	Complete bool
	Err      error
}

// Reconciler diffs a species list against the cache and downloads what is missing.
type Reconciler struct {
	root    string
	target  int
	workers int
	source  ImageSource
	limiter *rate.Limiter
}

func NewReconciler(opts Options, source ImageSource) *Reconciler {
	if opts.ImagesPerSpecies <= 0 {
		opts.ImagesPerSpecies = 3
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &Reconciler{
		root:    opts.Root,
		target:  opts.ImagesPerSpecies,
		workers: opts.Workers,
		source:  source,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Root returns the cache directory.
func (r *Reconciler) Root() string { return r.root }

// Target returns the per-species image count.
func (r *Reconciler) Target() int { return r.target }

// Check scans the cache and returns the species that still need images.
func (r *Reconciler) Check(species []string) ([]string, Manifest, error) {
	m, err := Scan(r.root)
	if err != nil {
		return nil, nil, fmt.Errorf("scan %s: %w", r.root, err)
	}
	return Plan(species, m, r.target), m, nil
}

// Reconcile scans, plans and downloads. Only a failed scan returns an error;
// per-species download failures end up in the summary.
func (r *Reconciler) Reconcile(ctx context.Context, species []string) (Summary, error) {
	plan, m, err := r.Check(species)
	if err != nil {
		return Summary{}, err
	}

	unique := len(Plan(species, Manifest{}, r.target))
	sum := Summary{
		Planned: len(plan),
		Skipped: unique - len(plan),
	}
	log.Info().Int("species", unique).Int("planned", sum.Planned).Int("skipped", sum.Skipped).Msg("cache: reconciliation plan")

	for _, res := range r.Download(ctx, plan, m) {
		sum.Images += res.Added
		if res.Complete {
			sum.Succeeded++
			continue
		}
		sum.Failed++
		if sum.Failures == nil {
			sum.Failures = make(map[string]string)
		}
		if res.Err != nil {
			sum.Failures[res.Species] = res.Err.Error()
		}
	}

	log.Info().
		Int("succeeded", sum.Succeeded).
		Int("failed", sum.Failed).
		Int("skipped", sum.Skipped).
		Int("images", sum.Images).
		Msg("cache: reconciliation complete")
	return sum, nil
}

// Download fetches images for each planned species. Species run in parallel
// up to the worker limit; results keep plan order.
func (r *Reconciler) Download(ctx context.Context, plan []string, m Manifest) []SpeciesResult {
	results := make([]SpeciesResult, len(plan))

	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, species := range plan {
		g.Go(func() error {
			results[i] = r.downloadSpecies(ctx, species, m[common.Slug(species)])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Reconciler) downloadSpecies(ctx context.Context, species string, existing Entry) SpeciesResult {
	slug := common.Slug(species)
	dir := filepath.Join(r.root, slug)
	res := SpeciesResult{Species: species}

	var errs []error
	for _, idx := range missingIndices(existing, r.target) {
		if err := r.limiter.Wait(ctx); err != nil {
			errs = append(errs, err)
			break
		}
		img, err := r.source.Fetch(ctx, species, idx)
		if err != nil {
			errs = append(errs, fmt.Errorf("image %d: %w", idx, err))
			continue
		}
		ext, err := extension(img.ContentType)
		if err != nil {
			errs = append(errs, fmt.Errorf("image %d: %w", idx, err))
			continue
		}
		path := filepath.Join(dir, strconv.Itoa(idx)+ext)
		if err := common.WriteFileAtomic(path, img.Data, 0o644); err != nil {
			errs = append(errs, fmt.Errorf("image %d: write: %w", idx, err))
			continue
		}
		res.Added++
	}

	res.Complete = existing.Count()+res.Added >= r.target
	if len(errs) > 0 {
		res.Err = fmt.Errorf("%w: %s: %w", ErrDownload, species, errors.Join(errs...))
		log.Warn().Err(res.Err).Str("species", species).Int("added", res.Added).Msg("cache: species download incomplete")
	} else {
		log.Debug().Str("species", species).Int("added", res.Added).Msg("cache: species complete")
	}
	return res
}
