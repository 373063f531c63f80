package Sites

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"AcesFuel/Metrics"
	"AcesFuel/Models"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Directory is the site lookup surface. Names are passed normalized
// (see NormalizeKey) and must be matched case-insensitively.
type Directory interface {
	SitesByID(ctx context.Context, ids []uint) ([]Models.Site, error)
	SitesByName(ctx context.Context, names []string) ([]Models.Site, error)
}

// Enricher attaches coordinates to tasks, batching every directory lookup
// for a task list into at most one query by id and one by name.
type Enricher struct {
	directory Directory
	cache     *Cache
	logger    zerolog.Logger
}

func NewEnricher(directory Directory, cache *Cache, logger zerolog.Logger) *Enricher {
	if cache == nil {
		cache = NewCache()
	}
	return &Enricher{
		directory: directory,
		cache:     cache,
		logger:    logger.With().Str("component", "site_enricher").Logger(),
	}
}

func (e *Enricher) Cache() *Cache {
	return e.cache
}

// Enrich returns a copy of tasks with coordinates attached wherever the task
// itself, the cache, or the directory can supply them. Unresolved tasks are
// returned unchanged. Lookup failures are logged and otherwise ignored.
func (e *Enricher) Enrich(ctx context.Context, tasks []Models.Task) []Models.Task {
	if len(tasks) == 0 {
		return tasks
	}

	out := make([]Models.Task, len(tasks))
	copy(out, tasks)

	ids := make(map[uint]struct{})
	names := make(map[string]struct{})
	for i := range out {
		if e.attach(&out[i]) {
			continue
		}
		idKey, nameKey := taskKeys(&out[i])
		if idKey != "" {
			if id, err := strconv.ParseUint(idKey, 10, 64); err == nil {
				ids[uint(id)] = struct{}{}
			}
		}
		if nameKey != "" {
			names[nameKey] = struct{}{}
		}
	}

	if len(ids) == 0 && len(names) == 0 {
		return out
	}

	var (
		byID   []Models.Site
		byName []Models.Site
		g      errgroup.Group
	)
	if len(ids) > 0 {
		idList := sortedIDs(ids)
		g.Go(func() error {
			Metrics.IncSiteLookup("id")
			sites, err := e.directory.SitesByID(ctx, idList)
			if err != nil {
				e.logger.Warn().Err(err).Int("ids", len(idList)).Msg("failed to load site coordinates by id")
				return nil
			}
			byID = sites
			return nil
		})
	}
	if len(names) > 0 {
		nameList := sortedNames(names)
		g.Go(func() error {
			Metrics.IncSiteLookup("name")
			sites, err := e.directory.SitesByName(ctx, nameList)
			if err != nil {
				e.logger.Warn().Err(err).Int("names", len(nameList)).Msg("failed to load site coordinates by name")
				return nil
			}
			byName = sites
			return nil
		})
	}
	_ = g.Wait()

	for _, site := range byID {
		e.cache.Put(site)
	}
	for _, site := range byName {
		e.cache.Put(site)
	}

	for i := range out {
		e.attach(&out[i])
	}
	return out
}

// attach writes coordinates onto the typed site columns. It reports whether
// the task ends up with a consistent pair.
func (e *Enricher) attach(task *Models.Task) bool {
	if lat, lon, ok := CoordinatePair(task); ok {
		setCoordinates(task, lat, lon)
		return true
	}
	idKey, nameKey := taskKeys(task)
	coord, ok := e.cache.Lookup(idKey, nameKey)
	if !ok {
		return false
	}
	setCoordinates(task, coord.Latitude, coord.Longitude)
	return true
}

func setCoordinates(task *Models.Task, lat, lon float64) {
	if task.SiteLatitude == nil || *task.SiteLatitude != lat {
		task.SiteLatitude = &lat
	}
	if task.SiteLongitude == nil || *task.SiteLongitude != lon {
		task.SiteLongitude = &lon
	}
}

// taskKeys returns the id key only for numeric site ids.
func taskKeys(task *Models.Task) (string, string) {
	var idKey string
	if task.SiteID != nil {
		if id, err := strconv.ParseUint(NormalizeKey(*task.SiteID), 10, 64); err == nil && id != 0 {
			idKey = strconv.FormatUint(id, 10)
		}
	}
	return idKey, NormalizeKey(task.SiteName)
}

func sortedIDs(set map[uint]struct{}) []uint {
	out := make([]uint, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedNames(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		if strings.TrimSpace(name) != "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
