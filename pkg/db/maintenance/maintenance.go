package maintenance

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"walktour/pkg/areactx"
	"walktour/pkg/cancel"
	"walktour/pkg/db"
	"walktour/pkg/geo"
	"walktour/pkg/geocache"
	"walktour/pkg/model"
	"walktour/pkg/pipeline"
	"walktour/pkg/store"
)

const placesStateKey = "places_csv_mtime"

// Options configure a maintenance pass.
type Options struct {
	PlacesFile    string
	PlaceTTL      time.Duration
	CheckpointTTL time.Duration
	HTTPCacheTTL  time.Duration
}

// Report counts what one pass changed.
type Report struct {
	PlacesImported int
	CacheExpired   int64
	HTTPCache      int64
	Checkpoints    int64
	CancelFlags    int64
}

// Run imports curated places and prunes expired state. Individual task
// failures are logged and do not stop the remaining tasks.
func Run(ctx context.Context, st store.StateStore, d *db.DB, c *geocache.Cache, opts Options) Report {
	slog.Info("Starting database maintenance...")
	var rep Report

	if opts.PlacesFile != "" {
		n, err := ImportPlaces(ctx, st, c, opts.PlacesFile, opts.PlaceTTL)
		if err != nil {
			slog.Error("Places import failed", "error", err)
		}
		rep.PlacesImported = n
	}

	if n, err := c.Prune(ctx); err != nil {
		slog.Error("Geo cache pruning failed", "error", err)
	} else {
		rep.CacheExpired = n
	}

	if opts.HTTPCacheTTL <= 0 {
		opts.HTTPCacheTTL = 30 * 24 * time.Hour
	}
	if n, err := d.PruneCache(opts.HTTPCacheTTL); err != nil {
		slog.Error("HTTP cache pruning failed", "error", err)
	} else {
		rep.HTTPCache = n
	}

	if opts.CheckpointTTL > 0 {
		if n, err := pipeline.NewCheckpoints(st).Prune(ctx, opts.CheckpointTTL); err != nil {
			slog.Error("Checkpoint pruning failed", "error", err)
		} else {
			rep.Checkpoints = n
		}
		if sw, ok := st.(store.StateSweeper); ok {
			if n, err := sw.PruneState(ctx, cancel.Key(""), opts.CheckpointTTL); err != nil {
				slog.Error("Cancel flag pruning failed", "error", err)
			} else {
				rep.CancelFlags = n
			}
		}
	}

	slog.Info("Database maintenance completed",
		"places", rep.PlacesImported,
		"expired", rep.CacheExpired,
		"http_cache", rep.HTTPCache,
		"checkpoints", rep.Checkpoints)
	return rep
}

// ImportPlaces loads a curated places CSV into the geo cache as POI
// entries, skipping the import when the file is unchanged since the last
// run. Columns: PlaceID,Name,Latitude,Longitude[,Country,City,Neighborhood,Pinned].
func ImportPlaces(ctx context.Context, st store.StateStore, c *geocache.Cache, csvPath string, ttl time.Duration) (int, error) {
	info, err := os.Stat(csvPath)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to stat csv: %w", err)
	}

	fileMTime := info.ModTime().UTC().Format(time.RFC3339)
	if stored, found := st.GetState(ctx, placesStateKey); found && stored == fileMTime {
		return 0, nil
	}

	slog.Info("Importing curated places from CSV...", "path", csvPath)
	f, err := os.Open(csvPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	headers, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read header: %w", err)
	}
	// UTF-8 BOM
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\xef\xbb\xbf")
	}
	idxMap := make(map[string]int)
	for i, h := range headers {
		idxMap[strings.TrimSpace(h)] = i
	}
	for _, col := range []string{"PlaceID", "Name", "Latitude", "Longitude"} {
		if _, ok := idxMap[col]; !ok {
			return 0, fmt.Errorf("csv missing column %q", col)
		}
	}

	count, err := processPlaceRows(ctx, c, reader, idxMap, ttl)
	if err != nil {
		return count, err
	}
	slog.Info("Imported curated places", "count", count)

	if err := st.SetState(ctx, placesStateKey, fileMTime); err != nil {
		return count, fmt.Errorf("failed to update state: %w", err)
	}
	return count, nil
}

func processPlaceRows(ctx context.Context, c *geocache.Cache, reader *csv.Reader, idxMap map[string]int, ttl time.Duration) (int, error) {
	get := func(row []string, col string) string {
		if i, ok := idxMap[col]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	if ttl <= 0 {
		ttl = 90 * 24 * time.Hour
	}

	count, line := 0, 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return count, fmt.Errorf("csv read error: %w", err)
		}

		place := model.CachedPlace{
			PlaceID:      get(record, "PlaceID"),
			Name:         get(record, "Name"),
			Country:      get(record, "Country"),
			City:         get(record, "City"),
			Neighborhood: get(record, "Neighborhood"),
		}
		lat, errLat := strconv.ParseFloat(get(record, "Latitude"), 64)
		lon, errLon := strconv.ParseFloat(get(record, "Longitude"), 64)
		pt := geo.Point{Lat: lat, Lon: lon}
		if place.PlaceID == "" || errLat != nil || errLon != nil || !pt.Valid() {
			slog.Warn("Skipping invalid place row", "line", line)
			continue
		}
		place.Lat, place.Lon = lat, lon
		pinned, _ := strconv.ParseBool(get(record, "Pinned"))

		rec := geocache.Record{
			Key:      areactx.PlaceKey(place.PlaceID),
			Kind:     geocache.KindPOI,
			Location: pt,
			Pinned:   pinned,
		}
		if err := c.PutJSON(ctx, rec, place, ttl); err != nil {
			return count, fmt.Errorf("failed to save row %d: %w", line, err)
		}
		count++
	}
	return count, nil
}
