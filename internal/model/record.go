package model

// GeocodeSource identifies where a record's coordinates came from.
type GeocodeSource string

const (
	SourceOnline  GeocodeSource = "online"
	SourceOffline GeocodeSource = "offline"
	SourceCached  GeocodeSource = "cached"
)

// RawRecord is one row produced by the upstream crawler. Attrs holds the full
// column set as scraped; Province and SiteName are lifted out because they
// form the geocoding address.
type RawRecord struct {
	Province   string            `json:"province"`
	SiteName   string            `json:"site_name"`
	Attrs      map[string]string `json:"attrs"`
	SourceFile string            `json:"source_file,omitempty"`
}

// Address joins province and site name into the string used for geocoding.
// Both the ingestion and query paths normalize this through geocode.Normalize.
func (r RawRecord) Address() string {
	return r.Province + r.SiteName
}

// GeocodedRecord is a RawRecord with resolved coordinates. A record whose
// address could not be resolved keeps nil Lat/Lon and carries FailureReason;
// it stays in the generation but is excluded from the spatial index.
type GeocodedRecord struct {
	Seq           int               `json:"-"`
	Province      string            `json:"province"`
	SiteName      string            `json:"site_name"`
	Address       string            `json:"address"`
	Lat           *float64          `json:"lat"`
	Lon           *float64          `json:"lon"`
	Source        GeocodeSource     `json:"geocode_source,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Attrs         map[string]string `json:"attrs"`
}

// HasCoordinates reports whether the record was successfully geocoded.
func (r GeocodedRecord) HasCoordinates() bool {
	return r.Lat != nil && r.Lon != nil
}
