// Package gtfs reads a GTFS static feed and derives the schedule lookups
// joined onto delay observations: route short names, stop coordinates and
// the position of each stop within a trip.
package gtfs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/OneBusAway/go-gtfs"

	"github.com/qurore/vanbus/internal/logging"
	"github.com/qurore/vanbus/internal/models"
)

const maxStaticSize = 200 * 1024 * 1024

func hasURLScheme(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func rawGtfsData(ctx context.Context, config Config) ([]byte, error) {
	if config.isLocalFile() {
		b, err := os.ReadFile(config.Source)
		if err != nil {
			return nil, fmt.Errorf("error reading local GTFS file: %w", err)
		}
		return b, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, config.Source, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating GTFS request: %w", err)
	}

	// Add auth header if provided
	if config.StaticAuthHeaderKey != "" && config.StaticAuthHeaderValue != "" {
		req.Header.Set(config.StaticAuthHeaderKey, config.StaticAuthHeaderValue)
	}

	client := &http.Client{
		Timeout: 5 * time.Minute,
		Transport: &http.Transport{
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		}}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error downloading GTFS data: %w", err)
	}
	defer logging.SafeCloseWithLogging(resp.Body,
		slog.Default().With(slog.String("component", "gtfs_downloader")),
		"http_response_body")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download GTFS data: received HTTP status %s", resp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxStaticSize+1))
	if err != nil {
		return nil, fmt.Errorf("error reading GTFS data: %w", err)
	}
	if int64(len(b)) > maxStaticSize {
		return nil, fmt.Errorf("static GTFS response exceeds size limit of %d bytes", maxStaticSize)
	}
	return b, nil
}

// LoadStatic reads and parses the feed named by config.
func LoadStatic(ctx context.Context, config Config) (*gtfs.Static, error) {
	b, err := rawGtfsData(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("error reading GTFS data: %w", err)
	}

	staticData, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, fmt.Errorf("error parsing GTFS data: %w", err)
	}
	return staticData, nil
}

// Attributes derives the schedule lookups from parsed static data. Stops
// without coordinates are skipped. When a stop is visited more than once
// in a trip, the first visit wins.
func Attributes(staticData *gtfs.Static) *models.StaticAttributes {
	attrs := models.NewStaticAttributes()
	if staticData == nil {
		return attrs
	}

	for _, r := range staticData.Routes {
		if r.ShortName != "" {
			attrs.RouteShortNames[r.Id] = r.ShortName
		}
	}
	for _, s := range staticData.Stops {
		if s.Latitude == nil || s.Longitude == nil {
			continue
		}
		attrs.StopCoordinates[s.Id] = models.Coordinate{Lat: *s.Latitude, Lon: *s.Longitude}
	}
	for _, t := range staticData.Trips {
		for _, st := range t.StopTimes {
			if st.Stop == nil {
				continue
			}
			key := models.TripStop{TripID: t.ID, StopID: st.Stop.Id}
			if _, seen := attrs.StopSequences[key]; seen {
				continue
			}
			attrs.StopSequences[key] = int(st.StopSequence)
		}
	}
	return attrs
}

// LoadAttributes loads the feed and derives its lookups.
func LoadAttributes(ctx context.Context, config Config) (*models.StaticAttributes, error) {
	logger := slog.Default().With(slog.String("component", "gtfs_loader"))
	start := time.Now()

	staticData, err := LoadStatic(ctx, config)
	if err != nil {
		return nil, err
	}
	attrs := Attributes(staticData)

	logging.LogOperation(logger, "gtfs_static_attributes_loaded",
		slog.String("source", config.Source),
		slog.Int("warnings", len(staticData.Warnings)),
		slog.Int("routes", len(attrs.RouteShortNames)),
		slog.Int("stops", len(attrs.StopCoordinates)),
		slog.Int("stop_sequences", len(attrs.StopSequences)),
		slog.Duration("duration", time.Since(start)))
	return attrs, nil
}
