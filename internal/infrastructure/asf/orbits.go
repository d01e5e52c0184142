package asf

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/ports"
)

const (
	DefaultPreciseOrbitURL    = "https://s1qc.asf.alaska.edu/aux_poeorb/"
	DefaultRestitutedOrbitURL = "https://s1qc.asf.alaska.edu/aux_resorb/"
	orbitTimeLayout           = "20060102T150405"
)

var orbitNameExpr = regexp.MustCompile(`^(S1[A-D])_OPER_AUX_(POE|RES)ORB_OPOD_(\d{8}T\d{6})_V(\d{8}T\d{6})_(\d{8}T\d{6})\.EOF$`)

// orbitEntry is one EOF file advertised by a listing page.
type orbitEntry struct {
	Name       string
	URL        string
	Mission    string
	Created    time.Time
	ValidStart time.Time
	ValidStop  time.Time
}

func (e orbitEntry) covers(start, stop time.Time) bool {
	return !e.ValidStart.After(start) && !e.ValidStop.Before(stop)
}

// OrbitListing scrapes the ASF directory listings of precise and restituted orbits.
type OrbitListing struct {
	preciseURL     string
	restitutedURL  string
	http           *http.Client
	restitutedHTTP *http.Client
	logger         *slog.Logger
}

var _ ports.OrbitDownloader = (*OrbitListing)(nil)

// NewOrbitListing wires the listing URLs; empty values use the ASF defaults.
func NewOrbitListing(preciseURL, restitutedURL string, client *http.Client, log *slog.Logger) *OrbitListing {
	if preciseURL == "" {
		preciseURL = DefaultPreciseOrbitURL
	}
	if restitutedURL == "" {
		restitutedURL = DefaultRestitutedOrbitURL
	}
	client = defaultClient(client, 45*time.Second)
	return &OrbitListing{
		preciseURL:     preciseURL,
		restitutedURL:  restitutedURL,
		http:           client,
		restitutedHTTP: client,
		logger:         log,
	}
}

// WithRestitutedClient makes restituted listings and downloads go through client,
// e.g. one carrying Earthdata authentication.
func (o *OrbitListing) WithRestitutedClient(client *http.Client) *OrbitListing {
	if client != nil {
		o.restitutedHTTP = client
	}
	return o
}

// Download fetches the newest product of the queried rank covering the sensing
// window into dir. Files already in dir are not downloaded again.
func (o *OrbitListing) Download(ctx context.Context, q domain.OrbitQuery, dir string) ([]domain.OrbitFile, error) {
	base, client := o.preciseURL, o.http
	if q.Rank == domain.OrbitRestituted {
		base, client = o.restitutedURL, o.restitutedHTTP
	}
	mission := normalizeMission(q.Mission)

	doc, err := fetchDocument(ctx, client, base)
	if err != nil {
		return nil, fmt.Errorf("%s orbit listing: %w", q.Rank, err)
	}
	entries := extractOrbits(doc, base)

	var matches []orbitEntry
	for _, e := range entries {
		if e.Mission == mission && e.covers(q.Start, q.Stop) {
			matches = append(matches, e)
		}
	}
	o.debug("orbit listing scanned", "rank", q.Rank, "entries", len(entries), "matches", len(matches))
	if len(matches) == 0 {
		return nil, nil
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Created.After(matches[j].Created) })

	best := matches[0]
	dst := filepath.Join(dir, best.Name)
	if _, err := os.Stat(dst); err != nil {
		if _, err := fetchFile(ctx, client, best.URL, dst); err != nil {
			return nil, fmt.Errorf("download orbit %s: %w", best.Name, err)
		}
	}
	return []domain.OrbitFile{{Path: dst, Name: best.Name, Rank: q.Rank}}, nil
}

func fetchDocument(ctx context.Context, client *http.Client, pageURL string) (*goquery.Document, error) {
	body, err := get(ctx, client, pageURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func extractOrbits(doc *goquery.Document, base string) []orbitEntry {
	var out []orbitEntry
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		entry, ok := parseOrbitName(path.Base(strings.TrimSpace(href)))
		if !ok {
			return
		}
		entry.URL = resolveHref(base, href)
		out = append(out, entry)
	})
	return out
}

func parseOrbitName(name string) (orbitEntry, bool) {
	m := orbitNameExpr.FindStringSubmatch(name)
	if m == nil {
		return orbitEntry{}, false
	}
	created, err1 := time.Parse(orbitTimeLayout, m[3])
	start, err2 := time.Parse(orbitTimeLayout, m[4])
	stop, err3 := time.Parse(orbitTimeLayout, m[5])
	if err1 != nil || err2 != nil || err3 != nil {
		return orbitEntry{}, false
	}
	return orbitEntry{Name: name, Mission: m[1], Created: created, ValidStart: start, ValidStop: stop}, true
}

func resolveHref(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

// normalizeMission maps catalog platform names ("Sentinel-1A") to file prefixes ("S1A").
func normalizeMission(m string) string {
	m = strings.ToUpper(strings.TrimSpace(m))
	if rest, ok := strings.CutPrefix(m, "SENTINEL-1"); ok {
		return "S1" + rest
	}
	return m
}

func (o *OrbitListing) debug(msg string, args ...interface{}) {
	if o.logger != nil {
		o.logger.Debug(msg, args...)
	}
}
