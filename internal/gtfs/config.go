package gtfs

// Config locates a GTFS static feed.
type Config struct {
	// Source is a local zip path or an http(s) URL.
	Source                string
	StaticAuthHeaderKey   string
	StaticAuthHeaderValue string
}

// isLocalFile reports whether Source names a file rather than a URL.
func (c Config) isLocalFile() bool {
	return !hasURLScheme(c.Source)
}
