// Package location verifies a company's physical presence against
// OpenStreetMap Nominatim and, when a key is configured, Google Places.
package location

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"

	"github.com/JakeFAU/company-research/internal/providers"
	"github.com/JakeFAU/company-research/internal/research"
)

const (
	// DefaultNominatimURL is the public OSM geocoder.
	DefaultNominatimURL = "https://nominatim.openstreetmap.org"
	// DefaultPlacesURL is the Google Maps API host.
	DefaultPlacesURL = "https://maps.googleapis.com"
	placesCost       = 0.017
	osmConfidence    = 0.8
	placesConfidence = 0.9
)

// Verification statuses.
const (
	StatusVerified   = "verified"
	StatusSuspicious = "suspicious"
	StatusUnknown    = "unknown"
)

// Config configures the provider. Nominatim requires an identifying
// User-Agent.
type Config struct {
	NominatimURL string
	PlacesURL    string
	PlacesAPIKey string
	UserAgent    string
}

// Place is a normalized geocoding hit.
type Place struct {
	Source     string  `json:"source"`
	Name       string  `json:"name,omitempty"`
	Address    string  `json:"formatted_address"`
	City       string  `json:"city,omitempty"`
	Country    string  `json:"country,omitempty"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Confidence float64 `json:"confidence_score"`
}

// Comparison summarizes agreement between sources.
type Comparison struct {
	CityMatch    bool     `json:"city_match"`
	CountryMatch bool     `json:"country_match"`
	DistanceKM   *float64 `json:"coordinate_distance_km,omitempty"`
	Confidence   float64  `json:"overall_location_confidence"`
	SingleSource bool     `json:"single_source"`
}

// Provider implements source.Prober.
type Provider struct {
	cfg       Config
	nominatim *resty.Client
	places    *resty.Client
}

type nominatimPlace struct {
	DisplayName string `json:"display_name"`
	Name        string `json:"name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Address     struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		Country string `json:"country"`
	} `json:"address"`
}

type placesResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Name             string `json:"name"`
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// New builds a location provider.
func New(cfg Config) *Provider {
	if cfg.NominatimURL == "" {
		cfg.NominatimURL = DefaultNominatimURL
	}
	if cfg.PlacesURL == "" {
		cfg.PlacesURL = DefaultPlacesURL
	}
	p := &Provider{
		cfg:       cfg,
		nominatim: providers.NewClient(providers.ClientConfig{BaseURL: cfg.NominatimURL, UserAgent: cfg.UserAgent}),
	}
	if cfg.PlacesAPIKey != "" {
		p.places = providers.NewClient(providers.ClientConfig{BaseURL: cfg.PlacesURL, UserAgent: cfg.UserAgent})
	}
	return p
}

// Kind implements source.Prober.
func (p *Provider) Kind() research.SourceKind { return research.SourceLocationVerification }

// CostEstimate implements source.Prober. Only Places lookups are billed.
func (p *Provider) CostEstimate() float64 {
	if p.places != nil {
		return placesCost
	}
	return 0
}

// Healthy implements source.Prober. Nominatim needs no credentials.
func (p *Provider) Healthy() bool { return true }

// HasCredentials reports whether the optional Places key is set.
func (p *Provider) HasCredentials() bool { return p.cfg.PlacesAPIKey != "" }

// Description implements source.Describer.
func (p *Provider) Description() string {
	return "Physical location verification across OpenStreetMap and Google Places"
}

var nonWord = regexp.MustCompile(`[^\w\s]+`)

// Query builds the geocoder search string: the cleaned company name plus the
// domain's second-level label as a hint.
func Query(companyName, companyDomain string) string {
	name := strings.Join(strings.Fields(nonWord.ReplaceAllString(companyName, " ")), " ")
	domain := providers.CleanDomain(companyDomain)
	parts := strings.Split(domain, ".")
	switch {
	case name != "" && len(parts) >= 2:
		return name + " " + parts[len(parts)-2]
	case name != "":
		return name
	default:
		return domain
	}
}

// Probe looks the company up in every configured geocoder concurrently. It
// fails only when every lookup errors; "no match" is a valid result.
func (p *Provider) Probe(ctx context.Context, companyName, companyDomain string) (map[string]any, error) {
	query := Query(companyName, companyDomain)
	if query == "" {
		return nil, providers.ErrMissingName
	}

	var (
		wg                sync.WaitGroup
		osm, places       *Place
		osmErr, placesErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		osm, osmErr = p.lookupNominatim(ctx, query)
	}()
	if p.places != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			places, placesErr = p.lookupPlaces(ctx, query)
		}()
	}
	wg.Wait()

	if osmErr != nil && (p.places == nil || placesErr != nil) {
		return nil, errors.Join(osmErr, placesErr)
	}

	cmp := compare(places, osm)
	score := authenticity(places, osm, cmp)
	risks, trust := factors(places, osm, cmp)
	return map[string]any{
		"company_name":        providers.Label(companyName, companyDomain),
		"search_query":        query,
		"google_places_data":  places,
		"nominatim_osm_data":  osm,
		"comparison":          cmp,
		"authenticity_score":  score,
		"verification_status": verificationStatus(score),
		"risk_factors":        risks,
		"trust_indicators":    trust,
	}, nil
}

func (p *Provider) lookupNominatim(ctx context.Context, query string) (*Place, error) {
	var hits []nominatimPlace
	resp, err := p.nominatim.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":               query,
			"format":          "json",
			"addressdetails":  "1",
			"limit":           "1",
			"accept-language": "en",
		}).
		SetResult(&hits).
		Get("/search")
	if err := providers.CheckResponse("nominatim", resp, err); err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	hit := hits[0]
	lat, err := strconv.ParseFloat(hit.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("nominatim latitude %q: %w", hit.Lat, err)
	}
	lon, err := strconv.ParseFloat(hit.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("nominatim longitude %q: %w", hit.Lon, err)
	}
	city := hit.Address.City
	if city == "" {
		city = hit.Address.Town
	}
	if city == "" {
		city = hit.Address.Village
	}
	return &Place{
		Source:     "nominatim_osm",
		Name:       hit.Name,
		Address:    hit.DisplayName,
		City:       city,
		Country:    hit.Address.Country,
		Latitude:   lat,
		Longitude:  lon,
		Confidence: osmConfidence,
	}, nil
}

func (p *Provider) lookupPlaces(ctx context.Context, query string) (*Place, error) {
	var body placesResponse
	resp, err := p.places.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"query": query, "key": p.cfg.PlacesAPIKey}).
		SetResult(&body).
		Get("/maps/api/place/textsearch/json")
	if err := providers.CheckResponse("google places", resp, err); err != nil {
		return nil, err
	}
	switch body.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, nil
	default:
		return nil, fmt.Errorf("google places status %s", body.Status)
	}
	if len(body.Results) == 0 {
		return nil, nil
	}
	hit := body.Results[0]
	city, country := splitAddress(hit.FormattedAddress)
	return &Place{
		Source:     "google_places",
		Name:       hit.Name,
		Address:    hit.FormattedAddress,
		City:       city,
		Country:    country,
		Latitude:   hit.Geometry.Location.Lat,
		Longitude:  hit.Geometry.Location.Lng,
		Confidence: placesConfidence,
	}, nil
}

// splitAddress guesses city and country from "street, city, region, country".
func splitAddress(addr string) (string, string) {
	parts := strings.Split(addr, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	switch {
	case len(parts) >= 3:
		return parts[len(parts)-3], parts[len(parts)-1]
	case len(parts) == 2:
		return parts[0], parts[1]
	default:
		return "", ""
	}
}

func compare(a, b *Place) *Comparison {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil || b == nil:
		only := a
		if only == nil {
			only = b
		}
		return &Comparison{SingleSource: true, Confidence: only.Confidence}
	}
	dist := haversineKM(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
	cmp := &Comparison{
		CityMatch:    fieldsMatch(a.City, b.City),
		CountryMatch: fieldsMatch(a.Country, b.Country),
		DistanceKM:   &dist,
	}
	var distScore float64
	switch {
	case dist < 1:
		distScore = 1
	case dist < 10:
		distScore = 0.5
	}
	cmp.Confidence = 0.3 * distScore
	if cmp.CityMatch {
		cmp.Confidence += 0.4
	}
	if cmp.CountryMatch {
		cmp.Confidence += 0.3
	}
	return cmp
}

func authenticity(places, osm *Place, cmp *Comparison) float64 {
	if cmp == nil {
		return 0.5
	}
	score := cmp.Confidence
	if places != nil && osm != nil {
		score += 0.1
	}
	if places != nil {
		score += places.Confidence * 0.1
	}
	if osm != nil {
		score += osm.Confidence * 0.1
	}
	return math.Min(1, score)
}

func verificationStatus(score float64) string {
	switch {
	case score >= 0.8:
		return StatusVerified
	case score >= 0.6:
		return StatusSuspicious
	default:
		return StatusUnknown
	}
}

func factors(places, osm *Place, cmp *Comparison) (risks, trust []string) {
	risks, trust = []string{}, []string{}
	if places == nil && osm == nil {
		risks = append(risks, "No location data found")
	}
	if places != nil && osm != nil {
		trust = append(trust, "Data available from multiple sources")
	}
	if cmp == nil || cmp.DistanceKM == nil {
		return risks, trust
	}
	if *cmp.DistanceKM > 10 {
		risks = append(risks, fmt.Sprintf("Large coordinate discrepancy (%.1fkm)", *cmp.DistanceKM))
	}
	if cmp.CityMatch && cmp.CountryMatch {
		trust = append(trust, "City and country match between sources")
	}
	if *cmp.DistanceKM < 1 {
		trust = append(trust, "Coordinates closely match between sources")
	}
	return risks, trust
}

func fieldsMatch(a, b string) bool {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}

func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKM = 6371.0
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(h))
}
