package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/qurore/vanbus/internal/appconf"
	"github.com/qurore/vanbus/internal/gtfs"
	"github.com/qurore/vanbus/internal/roadevents"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fuse: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if err := appconf.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, gtfsCfg, err := parseFlags(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coreApp, err := BuildApplication(ctx, cfg, gtfsCfg)
	if err != nil {
		return err
	}
	defer coreApp.Close()

	return Run(ctx, coreApp)
}

// parseFlags layers configuration: defaults, then the YAML file, then the
// environment, then explicit flags.
func parseFlags(args []string) (appconf.Config, gtfs.Config, error) {
	fs := flag.NewFlagSet("fuse", flag.ContinueOnError)

	var (
		configFile   = fs.String("f", "", "YAML configuration file")
		env          = fs.String("env", "", "environment: development, test or production")
		verbose      = fs.Bool("verbose", false, "debug logging and report dump")
		jsonLogs     = fs.Bool("json-logs", false, "log as JSON")
		source       = fs.String("source", "", "input source: sqlite or postgres")
		sqlitePath   = fs.String("db", "", "SQLite run store path")
		snapshot     = fs.Bool("snapshot", false, "copy warehouse inputs into the run store")
		gtfsPath     = fs.String("gtfs", "", "GTFS static zip, path or URL")
		gtfsAuthKey  = fs.String("gtfs-auth-header", "", "header name sent with the GTFS download")
		gtfsAuthVal  = fs.String("gtfs-auth-value", "", "header value sent with the GTFS download")
		routes       = fs.String("routes", "", "comma separated route short names; \"all\" disables the filter")
		weatherSince = fs.String("weather-since", "", "first weather day, YYYY-MM-DD")
		exportPath   = fs.String("export", "", "CSV export path (.csv, .csv.gz, .csv.zst)")
		exportRun    = fs.String("export-run", "", "re-export the matrix of a stored run id")
		metricsPath  = fs.String("metrics-textfile", "", "node-exporter textfile to write")
		nowFile      = fs.String("now-file", "", "file holding the pinned reference time")
		policy       = fs.String("policy", "", "road-event policy: aggregated, fine_grained or hourly")
		radius       = fs.Float64("radius-km", 0, "road-event search radius in km")
		workers      = fs.Int("workers", 0, "road-condition workers, 0 for one per CPU")
		timeZone     = fs.String("tz", "", "IANA time zone for calendar features")
	)
	if err := fs.Parse(args); err != nil {
		return appconf.Config{}, gtfs.Config{}, err
	}

	cfg := appconf.Default()
	if *configFile != "" {
		fileCfg, err := appconf.LoadFromFile(*configFile)
		if err != nil {
			return appconf.Config{}, gtfs.Config{}, err
		}
		cfg = fileCfg.ToAppConfig()
	}
	cfg.ApplyEnv()

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["env"] {
		cfg.Env = appconf.EnvFlagToEnvironment(*env)
	}
	if set["verbose"] {
		cfg.Verbose = *verbose
	}
	if set["json-logs"] {
		cfg.JSONLogs = *jsonLogs
	}
	if set["source"] {
		cfg.Source = appconf.Source(strings.ToLower(*source))
	}
	if set["db"] {
		cfg.SQLitePath = *sqlitePath
	}
	if set["snapshot"] {
		cfg.Snapshot = *snapshot
	}
	if set["gtfs"] {
		cfg.GTFSPath = *gtfsPath
	}
	if set["routes"] {
		cfg.Routes = parseRoutes(*routes)
	}
	if set["weather-since"] {
		t, err := time.Parse(time.DateOnly, *weatherSince)
		if err != nil {
			return appconf.Config{}, gtfs.Config{}, fmt.Errorf("invalid -weather-since: %w", err)
		}
		cfg.WeatherSince = t
	}
	if set["export"] {
		cfg.ExportPath = *exportPath
	}
	if set["export-run"] {
		cfg.ExportRunID = strings.TrimSpace(*exportRun)
	}
	if set["metrics-textfile"] {
		cfg.MetricsPath = *metricsPath
	}
	if set["now-file"] {
		cfg.NowFile = *nowFile
	}
	if set["policy"] {
		p, err := roadevents.ParsePolicy(*policy)
		if err != nil {
			return appconf.Config{}, gtfs.Config{}, err
		}
		cfg.Fusion.Policy = p
	}
	if set["radius-km"] {
		cfg.Fusion.RadiusKm = *radius
	}
	if set["workers"] {
		cfg.Fusion.Workers = *workers
	}
	if set["tz"] {
		cfg.Fusion.TimeZone = *timeZone
	}

	gtfsCfg := gtfs.Config{
		Source:                cfg.GTFSPath,
		StaticAuthHeaderKey:   *gtfsAuthKey,
		StaticAuthHeaderValue: *gtfsAuthVal,
	}
	return cfg, gtfsCfg, nil
}

// parseRoutes splits a comma separated list. "all" or an empty list
// disables the route filter.
func parseRoutes(s string) []string {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return nil
	}
	var out []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
