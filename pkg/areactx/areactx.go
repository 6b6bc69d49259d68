// Package areactx resolves each stop's area and fetches or generates the
// city and neighborhood summaries shared by every script of a tour.
package areactx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"walktour/pkg/geo"
	"walktour/pkg/geocache"
	"walktour/pkg/geocode"
	"walktour/pkg/llm"
	"walktour/pkg/model"
	"walktour/pkg/prompts"
)

// Generator produces structured output for a prompt.
type Generator interface {
	GenerateJSON(ctx context.Context, profile, prompt string, target any) error
}

// Result is the output of one preload pass.
type Result struct {
	Stops         []model.Stop // Stops with resolved area fields
	StopLocations model.StopLocationMap
	Summaries     map[model.LocationKey]model.AreaContext
}

// Reference supplies background text about an area, tried title by title.
type Reference interface {
	Extract(ctx context.Context, language string, titles ...string) (string, error)
}

// Options tunes a Preloader.
type Options struct {
	SummaryTTL  time.Duration
	Concurrency int
	Reference   Reference // Optional
}

// Preloader implements the cache-or-generate context step.
type Preloader struct {
	cache    *geocache.Cache
	geocoder geocode.Reverser
	gen      Generator
	prompts  *prompts.Manager
	schema   *jsonschema.Schema
	opts     Options
}

// New creates a Preloader.
func New(c *geocache.Cache, g geocode.Reverser, gen Generator, pm *prompts.Manager, opts Options) (*Preloader, error) {
	schema, err := compileSummarySchema()
	if err != nil {
		return nil, err
	}
	if opts.SummaryTTL <= 0 {
		opts.SummaryTTL = 30 * 24 * time.Hour
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Preloader{cache: c, geocoder: g, gen: gen, prompts: pm, schema: schema, opts: opts}, nil
}

// SummaryKey is the cache key of a city ("country:city") or neighborhood
// ("country:city:neighborhood") summary in a language.
func SummaryKey(level, area, language string) string {
	return fmt.Sprintf("summary:%s:%s:%s", level, geocache.NormalizeLanguage(language), area)
}

// PlaceKey is the cache key of a place entry.
func PlaceKey(placeID string) string {
	return "poi:" + placeID
}

// Preload resolves stop areas and loads every distinct area summary once.
// Only cancellation fails the pass; other failures degrade to null summaries.
func (p *Preloader) Preload(ctx context.Context, tour *model.Tour, language string) (Result, error) {
	res := Result{
		Stops:         make([]model.Stop, len(tour.Stops)),
		StopLocations: make(model.StopLocationMap, len(tour.Stops)),
		Summaries:     make(map[model.LocationKey]model.AreaContext),
	}
	copy(res.Stops, tour.Stops)

	// Representative point per key, for the spatial index
	anchors := make(map[model.LocationKey]geo.Point)
	var keys []model.LocationKey
	for i := range res.Stops {
		if err := ctx.Err(); err != nil {
			return res, context.Cause(ctx)
		}
		s := &res.Stops[i]
		if s.City == "" || s.Neighborhood == "" {
			p.resolveStop(ctx, s)
		}
		key := model.NewLocationKey(s.Country, s.City, s.Neighborhood)
		res.StopLocations[i] = key
		if _, seen := anchors[key]; !seen {
			anchors[key] = geo.Point{Lat: s.Lat, Lon: s.Lon}
			keys = append(keys, key)
		}
	}

	var (
		mu      sync.Mutex
		seen    = newPass()
		g, gctx = errgroup.WithContext(ctx)
	)
	g.SetLimit(p.opts.Concurrency)
	for _, key := range keys {
		anchor := anchors[key]
		g.Go(func() error {
			area := p.loadArea(gctx, seen, key, anchor, language)
			mu.Lock()
			res.Summaries[key] = area
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return res, context.Cause(ctx)
	}
	slog.Info("AreaContext: preload complete", "stops", len(res.Stops), "locations", len(keys))
	return res, nil
}

// resolveStop fills missing area fields and updates the place cache entry.
func (p *Preloader) resolveStop(ctx context.Context, s *model.Stop) {
	if p.geocoder == nil {
		return
	}
	place := p.geocoder.ReverseGeocode(ctx, s.Lat, s.Lon)
	if s.Country == "" {
		s.Country = place.Country
	}
	if s.City == "" {
		s.City = place.City
	}
	if s.Neighborhood == "" {
		s.Neighborhood = place.Neighborhood
	}
	if s.PlaceID != "" && !place.IsEmpty() {
		p.updatePlace(ctx, s)
	}
}

// updatePlace writes resolved fields into an existing place entry. Best-effort.
func (p *Preloader) updatePlace(ctx context.Context, s *model.Stop) {
	if p.cache == nil {
		return
	}
	key := PlaceKey(s.PlaceID)
	cp, rec, ok := geocache.GetJSON[model.CachedPlace](ctx, p.cache, key)
	if !ok {
		return
	}
	cp.Country = s.Country
	cp.City = s.City
	cp.Neighborhood = s.Neighborhood

	ttl := rec.Remaining(time.Now())
	if !rec.Pinned && ttl <= 0 {
		return
	}
	if err := p.cache.PutJSON(ctx, rec, cp, ttl); err != nil {
		slog.Warn("AreaContext: place update failed", "place", s.PlaceID, "error", err)
	}
}

// pass remembers every summary settled during one Preload call, failures
// included, so a key shared by several locations costs one lookup.
type pass struct {
	flight singleflight.Group
	mu     sync.Mutex
	done   map[string]model.LocationSummary
}

func newPass() *pass {
	return &pass{done: make(map[string]model.LocationSummary)}
}

func (ps *pass) get(key string) (model.LocationSummary, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	s, ok := ps.done[key]
	return s, ok
}

func (ps *pass) put(key string, s model.LocationSummary) {
	ps.mu.Lock()
	ps.done[key] = s
	ps.mu.Unlock()
}

func (p *Preloader) loadArea(ctx context.Context, seen *pass, key model.LocationKey, anchor geo.Point, language string) model.AreaContext {
	country, city, hood := key.Parts()
	data := prompts.AreaData{Country: known(country), City: known(city), Neighborhood: known(hood), Language: language}

	var area model.AreaContext
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if data.City == "" {
			return
		}
		area.City = p.summary(ctx, seen, SummaryKey("city", key.CityKey(), language), "city", prompts.AreaCity, data, anchor, language,
			data.City)
	}()
	go func() {
		defer wg.Done()
		if data.Neighborhood == "" {
			return
		}
		titles := []string{data.Neighborhood}
		if data.City != "" {
			titles = []string{data.Neighborhood + ", " + data.City, data.Neighborhood}
		}
		area.Neighborhood = p.summary(ctx, seen, SummaryKey("neighborhood", string(key), language), "neighborhood", prompts.AreaNeighborhood, data, anchor, language, titles...)
	}()
	wg.Wait()
	return area
}

// summary returns the summary for cacheKey, settling it at most once per
// pass. Concurrent callers for the same key share one lookup.
func (p *Preloader) summary(ctx context.Context, seen *pass, cacheKey, level, tmpl string, data prompts.AreaData, anchor geo.Point, language string, titles ...string) model.LocationSummary {
	if s, ok := seen.get(cacheKey); ok {
		return s
	}
	v, _, _ := seen.flight.Do(cacheKey, func() (any, error) {
		// A flight that ended between the check above and Do
		if s, ok := seen.get(cacheKey); ok {
			return s, nil
		}
		s, settled := p.fetchOrGenerate(ctx, cacheKey, level, tmpl, data, anchor, language, titles)
		if settled {
			seen.put(cacheKey, s)
		}
		return s, nil
	})
	return v.(model.LocationSummary)
}

// fetchOrGenerate reads cacheKey or generates and writes it back. It
// reports false only when ctx ended before a result was settled.
func (p *Preloader) fetchOrGenerate(ctx context.Context, cacheKey, level, tmpl string, data prompts.AreaData, anchor geo.Point, language string, titles []string) (model.LocationSummary, bool) {
	if p.cache != nil {
		if s, _, ok := geocache.GetJSON[model.LocationSummary](ctx, p.cache, cacheKey); ok {
			slog.Debug("AreaContext: cache hit", "key", cacheKey)
			return s, true
		}
	}
	if ctx.Err() != nil {
		return model.LocationSummary{}, false
	}

	data.Reference = p.reference(ctx, language, titles)
	s, err := p.generate(ctx, tmpl, data)
	if err != nil {
		slog.Warn("AreaContext: summary generation failed", "key", cacheKey, "error", err)
		return model.LocationSummary{}, ctx.Err() == nil
	}
	if !s.HasContent() || p.cache == nil {
		return s, true
	}
	rec := geocache.Record{
		Key:      cacheKey,
		Kind:     geocache.KindSummary,
		Variant:  level,
		Language: language,
		Location: anchor,
	}
	if err := p.cache.PutJSON(ctx, rec, s, p.opts.SummaryTTL); err != nil {
		slog.Warn("AreaContext: cache write failed", "key", cacheKey, "error", err)
	}
	return s, true
}

func (p *Preloader) generate(ctx context.Context, tmpl string, data prompts.AreaData) (model.LocationSummary, error) {
	if p.gen == nil {
		return model.LocationSummary{}, fmt.Errorf("no generator configured")
	}
	prompt, err := p.prompts.Render(tmpl, data)
	if err != nil {
		return model.LocationSummary{}, err
	}

	var raw json.RawMessage
	if err := p.gen.GenerateJSON(ctx, llm.ProfileSummary, prompt, &raw); err != nil {
		return model.LocationSummary{}, err
	}
	if err := validateAgainstSchema(p.schema, raw); err != nil {
		return model.LocationSummary{}, fmt.Errorf("summary rejected: %w", err)
	}

	var s model.LocationSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		return model.LocationSummary{}, err
	}
	if s.Summary != nil && strings.TrimSpace(*s.Summary) == "" {
		s.Summary = nil
	}
	return s, nil
}

// reference fetches background text for the prompt. Misses are silent.
func (p *Preloader) reference(ctx context.Context, language string, titles []string) string {
	if p.opts.Reference == nil || len(titles) == 0 {
		return ""
	}
	text, err := p.opts.Reference.Extract(ctx, language, titles...)
	if err != nil {
		slog.Debug("AreaContext: no reference text", "titles", titles, "error", err)
		return ""
	}
	return text
}

func known(seg string) string {
	if seg == model.UnknownSegment {
		return ""
	}
	return seg
}
