package runner

import (
	"context"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-replay/metrics"
	"github.com/ethereum-optimism/infra/op-replay/types"
)

// ImportJobCatalog looks up the import jobs of a service, most relevant first.
type ImportJobCatalog interface {
	FindImportJobsByService(ctx context.Context, serviceID string) ([]*types.ImportJob, error)
}

// ArtifactFetcher downloads a remote artifact to a local file.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, remoteURL string, ext string) (string, error)
}

// variantFactory builds the runner of one runner type for a service.
type variantFactory func(ctx context.Context, serviceID string) (Runner, error)

// SelectorConfig holds configuration for creating a new Selector
type SelectorConfig struct {
	Log        log.Logger
	HTTP       HTTPConfig
	ImportJobs ImportJobCatalog
	Fetcher    ArtifactFetcher
}

// Selector maps a runner type to a runner instance.
type Selector struct {
	log        log.Logger
	http       HTTPConfig
	importJobs ImportJobCatalog
	fetcher    ArtifactFetcher
	variants   map[types.RunnerType]variantFactory
}

func NewSelector(cfg SelectorConfig) (*Selector, error) {
	if cfg.ImportJobs == nil {
		return nil, fmt.Errorf("import job catalog is required")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("artifact fetcher is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.HTTP.Log == nil {
		cfg.HTTP.Log = cfg.Log
	}

	s := &Selector{
		log:        cfg.Log,
		http:       cfg.HTTP,
		importJobs: cfg.ImportJobs,
		fetcher:    cfg.Fetcher,
	}
	s.variants = map[types.RunnerType]variantFactory{
		types.RunnerHTTP: func(context.Context, string) (Runner, error) {
			return NewHTTPRunner(s.http), nil
		},
		types.RunnerSoapHTTP: func(context.Context, string) (Runner, error) {
			return NewSoapHTTPRunner(s.http), nil
		},
		types.RunnerSoapUI: s.artifactVariant("xml", func(path string) (Runner, error) {
			return NewSoapUIRunner(path, s.http)
		}),
		types.RunnerPostman: s.artifactVariant("json", func(path string) (Runner, error) {
			return NewCollectionRunner(path, s.http)
		}),
	}
	return s, nil
}

// Select returns the runner for the given type. It never fails: when the
// variant cannot be built, eg. because its artifact is unavailable, or the
// type is unknown, the default HTTP runner is returned instead.
func (s *Selector) Select(ctx context.Context, runnerType types.RunnerType, serviceID string) Runner {
	r, err := s.selectVariant(ctx, runnerType, serviceID)
	if err == nil {
		return r
	}

	// Explicit fallback to the default runner
	s.log.Error("Falling back to default runner", "runnerType", runnerType, "service", serviceID, "err", err)
	metrics.RecordRunnerFallback(string(runnerType))
	return NewHTTPRunner(s.http)
}

func (s *Selector) selectVariant(ctx context.Context, runnerType types.RunnerType, serviceID string) (Runner, error) {
	build, ok := s.variants[runnerType]
	if !ok {
		return nil, fmt.Errorf("unknown runner type %q", runnerType)
	}
	return build(ctx, serviceID)
}

// artifactVariant builds a runner from the artifact of the most relevant
// import job of the service. The local copy is removed once the runner has
// loaded it.
func (s *Selector) artifactVariant(ext string, build func(path string) (Runner, error)) variantFactory {
	return func(ctx context.Context, serviceID string) (Runner, error) {
		jobs, err := s.importJobs.FindImportJobsByService(ctx, serviceID)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to find import jobs: %w", ErrArtifactUnavailable, err)
		}
		if len(jobs) == 0 {
			return nil, fmt.Errorf("%w: no import job for service %s", ErrArtifactUnavailable, serviceID)
		}
		job := jobs[0]

		path, err := s.fetcher.Fetch(ctx, job.RepositoryURL, ext)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrArtifactUnavailable, err)
		}
		defer func() {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				s.log.Warn("Failed to remove artifact", "path", path, "err", err)
			}
		}()

		r, err := build(path)
		if err != nil {
			return nil, fmt.Errorf("%w: job %s: %w", ErrArtifactUnavailable, job.ID, err)
		}
		s.log.Debug("Built runner from artifact", "job", job.ID, "url", job.RepositoryURL)
		return r, nil
	}
}
