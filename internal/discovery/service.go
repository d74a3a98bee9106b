// Package discovery wires source resolution, repository fetching, descriptor
// parsing, and persistence into the facade external collaborators call.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/curio-sh/curio/internal/cache"
	"github.com/curio-sh/curio/internal/config"
	"github.com/curio-sh/curio/internal/entities"
	"github.com/curio-sh/curio/internal/fetcher"
	"github.com/curio-sh/curio/internal/git"
	"github.com/curio-sh/curio/internal/names"
	"github.com/curio-sh/curio/internal/orchestrator"
	"github.com/curio-sh/curio/internal/registry"
	"github.com/curio-sh/curio/internal/sources"
	"github.com/curio-sh/curio/internal/status"
)

// Service is the discovery entry point. The CLI and the installer
// collaborator go through it and never reach the layers underneath.
type Service interface {
	// FetchAllEntities discovers entities of one category across every
	// configured repository, merges them with persisted state, saves the
	// result, and returns the merged set. maxWorkers <= 0 uses the
	// configured default.
	FetchAllEntities(ctx context.Context, category entities.Category, maxWorkers int) ([]entities.Entity, error)

	// ListEntities returns the persisted entities of one category without
	// fetching anything
	ListEntities(ctx context.Context, category entities.Category) ([]entities.Entity, error)

	// Marketplaces returns the deduplicated plugin marketplaces, memoized
	// for the repository TTL within one process lifetime
	Marketplaces(ctx context.Context) ([]entities.MarketplaceInfo, error)

	// ResolveMarketplace maps a user-chosen name to the repository it
	// identifies
	ResolveMarketplace(ctx context.Context, input string) (entities.RepoConfig, error)

	// SetInstalled flips the installed flag for one entity key
	SetInstalled(ctx context.Context, category entities.Category, key string, installed bool) error

	// SyncInstalled reconciles installed flags against externally observed
	// names and returns the number of entities changed
	SyncInstalled(ctx context.Context, category entities.Category, observed []string) (int, error)

	// ResetInterrupted marks runs abandoned by a previous process as
	// failed; called once at startup
	ResetInterrupted(ctx context.Context) ([]entities.Category, error)

	// RunStatuses returns the persisted run status of every category
	RunStatuses(ctx context.Context) (map[entities.Category]*status.RunStatus, error)

	// PurgeCache drops every cached payload and returns the number removed
	PurgeCache() (int, error)

	// CacheInfo lists the cached payloads with size and freshness
	CacheInfo() ([]cache.EntryInfo, error)
}

// service is the default Service implementation
type service struct {
	cfg      *config.Config
	resolver sources.Resolver
	fetch    fetcher.Fetcher
	reg      *registry.Registry
	statuses status.Persistence
	now      func() time.Time

	// sourceCache holds source documents; repoCache holds per-repository
	// scan results under the shorter repository TTL
	sourceCache *cache.Store
	repoCache   *cache.Store

	// marketGroup collapses concurrent marketplace refreshes; markets is
	// the in-process memo in front of the file cache
	marketGroup singleflight.Group
	marketMu    sync.Mutex
	markets     []entities.MarketplaceInfo
	marketsAt   time.Time
}

var _ Service = (*service)(nil)

// ServiceOption overrides a service dependency, mainly for tests
type ServiceOption func(*service)

// WithFetcher replaces the git-backed repository fetcher
func WithFetcher(f fetcher.Fetcher) ServiceOption {
	return func(s *service) {
		s.fetch = f
	}
}

// WithResolver replaces the source resolver
func WithResolver(r sources.Resolver) ServiceOption {
	return func(s *service) {
		s.resolver = r
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		s.now = now
	}
}

// NewService creates the discovery service from configuration
func NewService(cfg *config.Config, opts ...ServiceOption) Service {
	sourceCache := cache.NewStore(filepath.Join(cfg.GetCacheDir(), "sources"), cfg.GetConfigTTL())
	repoCache := cache.NewStore(filepath.Join(cfg.GetCacheDir(), "repos"), cfg.GetRepoTTL())

	var fetchOpts []fetcher.Option
	if branches := cfg.GetFallbackBranches(); len(branches) > 0 {
		fetchOpts = append(fetchOpts, fetcher.WithFallbackBranches(branches))
	}

	s := &service{
		cfg:         cfg,
		resolver:    sources.NewResolver(sources.NewHandlerFactory(sourceCache, nil)),
		fetch:       fetcher.New(git.NewDefaultClient(), fetchOpts...),
		reg:         registry.New(filepath.Join(cfg.GetDataDir(), "registry")),
		statuses:    status.NewFilePersistence(filepath.Join(cfg.GetDataDir(), "status")),
		now:         time.Now,
		sourceCache: sourceCache,
		repoCache:   repoCache,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchAllEntities implements Service
func (s *service) FetchAllEntities(ctx context.Context, category entities.Category, maxWorkers int) ([]entities.Entity, error) {
	if _, err := entities.ParseCategory(string(category)); err != nil {
		return nil, err
	}

	workers := maxWorkers
	if workers <= 0 {
		workers = s.cfg.GetWorkers()
	}

	runID := uuid.NewString()
	repos := orderedRepos(s.resolver.Resolve(ctx, s.cfg.GetSources(category)))

	slog.Info("Starting discovery run",
		"run_id", runID,
		"category", category,
		"repos", len(repos),
		"workers", workers)

	started := s.now()
	runStatus := &status.RunStatus{
		Phase:     status.PhaseRunning,
		RunID:     runID,
		StartedAt: &started,
	}
	if prev, err := s.statuses.Load(ctx, category); err == nil {
		runStatus.LastSuccess = prev.LastSuccess
	}
	s.writeStatus(ctx, category, runStatus)

	fresh, summary, err := s.discover(ctx, category, repos, workers)
	if err != nil {
		s.failStatus(ctx, category, runStatus, err)
		return nil, err
	}

	finished := s.now()
	runStatus.FinishedAt = &finished
	runStatus.RepoCount = summary.Repos
	runStatus.EntityCount = len(fresh)
	runStatus.Failures = toRepoFailures(summary.Failures)

	previous, err := s.reg.Load(category)
	if err != nil {
		s.failStatus(ctx, category, runStatus, err)
		return nil, err
	}
	merged := s.reg.Merge(fresh, previous)
	if err := s.reg.Save(category, merged); err != nil {
		s.failStatus(ctx, category, runStatus, err)
		return nil, err
	}

	runStatus.Phase = status.PhaseComplete
	runStatus.Message = fmt.Sprintf("discovered %d entities across %d repositories", len(fresh), summary.Repos)
	runStatus.LastSuccess = &finished
	s.writeStatus(ctx, category, runStatus)

	slog.Info("Discovery run complete",
		"run_id", runID,
		"category", category,
		"entities", len(fresh),
		"failed_repos", len(summary.Failures),
		"elapsed", summary.Elapsed)

	return sortedEntities(merged), nil
}

// discover fans the per-repository task out and returns this run's fresh
// entities. The orchestrator isolates failures; they land in the summary.
func (s *service) discover(
	ctx context.Context,
	category entities.Category,
	repos []entities.RepoConfig,
	workers int,
) ([]entities.Entity, *orchestrator.RunSummary, error) {
	opts := orchestrator.Options{MaxWorkers: workers, Timeout: s.cfg.GetTimeout()}

	if category == entities.CategoryPlugins {
		found, summary := orchestrator.FetchAll(ctx, repos, opts, s.marketplaceTask())
		deduped := names.Dedupe(orderedMarketplaces(found))
		s.memoizeMarketplaces(deduped)

		fresh := make([]entities.Entity, 0, len(deduped))
		for _, info := range deduped {
			fresh = append(fresh, info.Entity())
		}
		return fresh, summary, nil
	}

	parser, err := entities.ParserFor(category)
	if err != nil {
		return nil, nil, err
	}
	found, summary := orchestrator.FetchAll(ctx, repos, opts, s.entityTask(category, parser))
	return sortedEntities(found), summary, nil
}

// ListEntities implements Service
func (s *service) ListEntities(_ context.Context, category entities.Category) ([]entities.Entity, error) {
	entries, err := s.reg.Load(category)
	if err != nil {
		return nil, err
	}
	return sortedEntities(entries), nil
}

// Marketplaces implements Service
func (s *service) Marketplaces(ctx context.Context) ([]entities.MarketplaceInfo, error) {
	s.marketMu.Lock()
	if s.markets != nil && s.now().Sub(s.marketsAt) <= s.cfg.GetRepoTTL() {
		memo := slices.Clone(s.markets)
		s.marketMu.Unlock()
		return memo, nil
	}
	s.marketMu.Unlock()

	infos, err, _ := s.marketGroup.Do("marketplaces", func() (any, error) {
		repos := orderedRepos(s.resolver.Resolve(ctx, s.cfg.GetSources(entities.CategoryPlugins)))
		opts := orchestrator.Options{MaxWorkers: s.cfg.GetWorkers(), Timeout: s.cfg.GetTimeout()}

		found, summary := orchestrator.FetchAll(ctx, repos, opts, s.marketplaceTask())
		if len(summary.Failures) > 0 {
			slog.Warn("Some marketplaces were unreachable", "failed_repos", len(summary.Failures))
		}

		deduped := names.Dedupe(orderedMarketplaces(found))
		s.memoizeMarketplaces(deduped)
		return deduped, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(infos.([]entities.MarketplaceInfo)), nil
}

// ResolveMarketplace implements Service
func (s *service) ResolveMarketplace(ctx context.Context, input string) (entities.RepoConfig, error) {
	infos, err := s.Marketplaces(ctx)
	if err != nil {
		return entities.RepoConfig{}, err
	}
	return names.Resolve(input, infos)
}

// SetInstalled implements Service
func (s *service) SetInstalled(_ context.Context, category entities.Category, key string, installed bool) error {
	return s.reg.SetInstalled(category, key, installed)
}

// SyncInstalled implements Service
func (s *service) SyncInstalled(_ context.Context, category entities.Category, observed []string) (int, error) {
	return s.reg.SyncInstalled(category, observed)
}

// ResetInterrupted implements Service
func (s *service) ResetInterrupted(ctx context.Context) ([]entities.Category, error) {
	return s.statuses.ResetInterrupted(ctx)
}

// RunStatuses implements Service
func (s *service) RunStatuses(ctx context.Context) (map[entities.Category]*status.RunStatus, error) {
	return s.statuses.LoadAll(ctx)
}

// PurgeCache implements Service
func (s *service) PurgeCache() (int, error) {
	removed, err := s.sourceCache.Purge()
	if err != nil {
		return removed, err
	}
	repoRemoved, err := s.repoCache.Purge()
	return removed + repoRemoved, err
}

// CacheInfo implements Service
func (s *service) CacheInfo() ([]cache.EntryInfo, error) {
	infos, err := s.sourceCache.Info()
	if err != nil {
		return nil, err
	}
	repoInfos, err := s.repoCache.Info()
	if err != nil {
		return nil, err
	}
	return append(infos, repoInfos...), nil
}

// repoScan is the cached result of scanning one repository for entities
type repoScan struct {
	Branch   string            `json:"branch"`
	Entities []entities.Entity `json:"entities,omitempty"`
}

// marketplaceScan is the cached result of one marketplace lookup. Info stays
// nil for repositories without a descriptor, so the miss is cached too.
type marketplaceScan struct {
	Branch string                    `json:"branch"`
	Info   *entities.MarketplaceInfo `json:"info,omitempty"`
}

// entityTask builds the per-repository task for skill and agent discovery:
// consult the scan cache, otherwise materialize and walk the repository,
// falling back to a stale scan when the repository is unreachable.
func (s *service) entityTask(category entities.Category, parser entities.Parser) orchestrator.Task[entities.Entity] {
	return func(ctx context.Context, repo entities.RepoConfig) (map[string]entities.Entity, error) {
		key := repoScanKey(category, repo)

		if payload, fresh, ok := s.repoCache.Get(key); ok && fresh {
			if scan, err := decodeScan[repoScan](payload); err == nil {
				slog.Debug("Using cached repository scan",
					"repo", repo.ID(),
					"branch", scan.Branch)
				return keyedEntities(scan.Entities), nil
			}
		}

		scan, err := s.scanRepo(ctx, repo, parser)
		if err != nil {
			if payload, _, ok := s.repoCache.Get(key); ok {
				if stale, decodeErr := decodeScan[repoScan](payload); decodeErr == nil {
					slog.Warn("Repository unreachable, serving stale scan",
						"repo", repo.ID(),
						"error", err)
					return keyedEntities(stale.Entities), nil
				}
			}
			return nil, err
		}

		s.cacheScan(key, repo, scan)
		return keyedEntities(scan.Entities), nil
	}
}

// marketplaceTask is the plugin-category analog of entityTask
func (s *service) marketplaceTask() orchestrator.Task[entities.MarketplaceInfo] {
	return func(ctx context.Context, repo entities.RepoConfig) (map[string]entities.MarketplaceInfo, error) {
		key := repoScanKey(entities.CategoryPlugins, repo)

		if payload, fresh, ok := s.repoCache.Get(key); ok && fresh {
			if scan, err := decodeScan[marketplaceScan](payload); err == nil {
				slog.Debug("Using cached marketplace lookup",
					"repo", repo.ID(),
					"branch", scan.Branch)
				return keyedMarketplace(scan.Info), nil
			}
		}

		scan, err := s.scanMarketplaceRepo(ctx, repo)
		if err != nil {
			if payload, _, ok := s.repoCache.Get(key); ok {
				if stale, decodeErr := decodeScan[marketplaceScan](payload); decodeErr == nil {
					slog.Warn("Repository unreachable, serving stale marketplace lookup",
						"repo", repo.ID(),
						"error", err)
					return keyedMarketplace(stale.Info), nil
				}
			}
			return nil, err
		}

		s.cacheScan(key, repo, scan)
		return keyedMarketplace(scan.Info), nil
	}
}

// scanRepo materializes one repository and walks it with the parser. The
// checkout is released on every exit path, parse failures included.
func (s *service) scanRepo(ctx context.Context, repo entities.RepoConfig, parser entities.Parser) (*repoScan, error) {
	mat, err := s.fetch.Materialize(ctx, repo)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = mat.Close(ctx)
	}()

	found, err := entities.Scan(mat.FS(), repo, mat.Branch(), parser)
	if err != nil {
		return nil, err
	}
	return &repoScan{Branch: mat.Branch(), Entities: found}, nil
}

// scanMarketplaceRepo materializes one repository and reads its marketplace
// descriptor, if any
func (s *service) scanMarketplaceRepo(ctx context.Context, repo entities.RepoConfig) (*marketplaceScan, error) {
	mat, err := s.fetch.Materialize(ctx, repo)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = mat.Close(ctx)
	}()

	info, err := entities.ScanMarketplace(mat.FS(), repo, mat.Branch())
	if err != nil {
		return nil, err
	}
	return &marketplaceScan{Branch: mat.Branch(), Info: info}, nil
}

// cacheScan serializes a scan result into the repository cache. A cache
// write failure degrades to a warning; the scan itself already succeeded.
func (s *service) cacheScan(key string, repo entities.RepoConfig, scan any) {
	payload, err := json.Marshal(scan)
	if err == nil {
		err = s.repoCache.Put(key, payload)
	}
	if err != nil {
		slog.Warn("Failed to cache repository scan",
			"repo", repo.ID(),
			"error", err)
	}
}

// memoizeMarketplaces refreshes the in-process marketplace memo
func (s *service) memoizeMarketplaces(infos []entities.MarketplaceInfo) {
	s.marketMu.Lock()
	defer s.marketMu.Unlock()
	s.markets = slices.Clone(infos)
	s.marketsAt = s.now()
}

// writeStatus persists the run status, degrading to a warning on failure:
// status is advisory, unlike the registry itself
func (s *service) writeStatus(ctx context.Context, category entities.Category, runStatus *status.RunStatus) {
	if err := s.statuses.Save(ctx, category, runStatus); err != nil {
		slog.Warn("Failed to persist run status",
			"category", category,
			"error", err)
	}
}

func (s *service) failStatus(ctx context.Context, category entities.Category, runStatus *status.RunStatus, err error) {
	finished := s.now()
	runStatus.Phase = status.PhaseFailed
	runStatus.Message = err.Error()
	runStatus.FinishedAt = &finished
	s.writeStatus(ctx, category, runStatus)
}

// repoScanKey derives the cache key for one repository scan. Subpath is part
// of the key: the same checkout scanned under two subpaths yields different
// entities.
func repoScanKey(category entities.Category, repo entities.RepoConfig) string {
	return cache.Key("repo", string(category), repo.Owner, repo.Name, repo.Branch, repo.Subpath)
}

func decodeScan[T any](payload []byte) (*T, error) {
	var scan T
	if err := json.Unmarshal(payload, &scan); err != nil {
		return nil, err
	}
	return &scan, nil
}

// keyedEntities indexes a scan by entity key, keeping the first occurrence
// of a duplicate
func keyedEntities(list []entities.Entity) map[string]entities.Entity {
	keyed := make(map[string]entities.Entity, len(list))
	for _, e := range list {
		if _, exists := keyed[e.Key]; exists {
			continue
		}
		keyed[e.Key] = e
	}
	return keyed
}

func keyedMarketplace(info *entities.MarketplaceInfo) map[string]entities.MarketplaceInfo {
	if info == nil {
		return map[string]entities.MarketplaceInfo{}
	}
	return map[string]entities.MarketplaceInfo{info.Entity().Key: *info}
}

// orderedRepos flattens the resolved repository map into a deterministic
// slice sorted by owner/name, so run results and dedupe outcomes are stable
// across runs
func orderedRepos(repos map[string]entities.RepoConfig) []entities.RepoConfig {
	ordered := make([]entities.RepoConfig, 0, len(repos))
	for _, id := range slices.Sorted(maps.Keys(repos)) {
		ordered = append(ordered, repos[id])
	}
	return ordered
}

func orderedMarketplaces(found map[string]entities.MarketplaceInfo) []entities.MarketplaceInfo {
	ordered := make([]entities.MarketplaceInfo, 0, len(found))
	for _, key := range slices.Sorted(maps.Keys(found)) {
		ordered = append(ordered, found[key])
	}
	return ordered
}

func sortedEntities(entries map[string]entities.Entity) []entities.Entity {
	sorted := make([]entities.Entity, 0, len(entries))
	for _, e := range entries {
		sorted = append(sorted, e)
	}
	slices.SortFunc(sorted, func(a, b entities.Entity) int {
		return strings.Compare(a.Key, b.Key)
	})
	return sorted
}

func toRepoFailures(failures []orchestrator.Failure) []status.RepoFailure {
	if len(failures) == 0 {
		return nil
	}
	converted := make([]status.RepoFailure, 0, len(failures))
	for _, f := range failures {
		converted = append(converted, status.RepoFailure{
			Repo:    f.Repo,
			Reason:  string(f.Reason),
			Message: f.Message,
		})
	}
	return converted
}
