package job

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrRejected marks a reference that does not describe an acceptable job.
var ErrRejected = errors.New("reference rejected")

const idLength = 16

var unsafeName = regexp.MustCompile(`[^a-z0-9-]+`)

// FactoryConfig controls which references are accepted and how missing
// positional segments are filled.
type FactoryConfig struct {
	// Origin is the only accepted scheme://host, e.g. https://stats.example.org.
	Origin string
	// PathMarker must appear in the reference path; segments follow it.
	PathMarker string
	// Defaults fill segments that are absent from the reference.
	Defaults Segments
}

// Factory validates raw references and derives Job records from them.
type Factory struct {
	host     string
	marker   string
	defaults Segments
	hasher   Hasher
	clock    Clock
}

// NewFactory builds a Factory. The origin must be an absolute http(s) URL.
func NewFactory(cfg FactoryConfig, hasher Hasher, clock Clock) (*Factory, error) {
	origin, err := url.Parse(strings.TrimSpace(cfg.Origin))
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if !isHTTP(origin.Scheme) || origin.Host == "" {
		return nil, fmt.Errorf("origin %q must be an absolute http(s) URL", cfg.Origin)
	}
	marker := "/" + strings.Trim(strings.ToLower(strings.TrimSpace(cfg.PathMarker)), "/") + "/"
	if marker == "//" {
		return nil, errors.New("path marker is required")
	}
	if hasher == nil || clock == nil {
		return nil, errors.New("hasher and clock are required")
	}
	return &Factory{
		host:     canonicalHost(origin.Scheme, origin.Host),
		marker:   marker,
		defaults: lowerSegments(cfg.Defaults),
		hasher:   hasher,
		clock:    clock,
	}, nil
}

// Describe validates rawRef and derives a pending Job. Every rejection wraps
// ErrRejected. Duplicate detection is left to the scheduler, which owns the
// pending/running/completed sets.
func (f *Factory) Describe(rawRef string) (Job, error) {
	ref := strings.TrimSpace(rawRef)
	if ref == "" {
		return Job{}, fmt.Errorf("%w: empty reference", ErrRejected)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if !isHTTP(strings.ToLower(u.Scheme)) {
		return Job{}, fmt.Errorf("%w: unsupported scheme %q", ErrRejected, u.Scheme)
	}
	if canonicalHost(u.Scheme, u.Host) != f.host {
		return Job{}, fmt.Errorf("%w: foreign origin %q", ErrRejected, u.Host)
	}

	path := cleanPath(u.EscapedPath())
	lower := strings.ToLower(path)
	idx := strings.Index(lower+"/", f.marker)
	if idx < 0 {
		return Job{}, fmt.Errorf("%w: path %q lacks marker %q", ErrRejected, path, f.marker)
	}
	segments := f.decodeSegments(lower, idx)

	// The key keeps whatever precedes the marker; only the source keeps case.
	key := f.host + lower[:idx] + f.marker + strings.Join(segments.Values(), "/")
	digest, err := f.hasher.Hash([]byte(key))
	if err != nil {
		return Job{}, fmt.Errorf("hash key: %w", err)
	}
	if len(digest) > idLength {
		digest = digest[:idLength]
	}

	return Job{
		ID:          digest,
		Key:         key,
		Source:      strings.ToLower(u.Scheme) + "://" + f.host + path,
		Label:       strings.Join(segments.Values(), " / "),
		OutputName:  outputName(segments),
		Segments:    segments,
		Status:      StatusPending,
		SubmittedAt: f.clock.Now(),
	}, nil
}

func (f *Factory) decodeSegments(path string, markerIdx int) Segments {
	rest := ""
	if start := markerIdx + len(f.marker); start < len(path) {
		rest = path[start:]
	}
	parts := make([]string, 0, 5)
	for _, p := range strings.Split(rest, "/") {
		if p == "" {
			continue
		}
		if unescaped, err := url.PathUnescape(p); err == nil {
			p = unescaped
		}
		parts = append(parts, strings.ToLower(strings.TrimSpace(p)))
	}
	pick := func(i int, def string) string {
		if i < len(parts) && parts[i] != "" {
			return parts[i]
		}
		return def
	}
	return Segments{
		Epoch:       pick(0, f.defaults.Epoch),
		Competition: pick(1, f.defaults.Competition),
		Region:      pick(2, f.defaults.Region),
		Phase:       pick(3, f.defaults.Phase),
		Round:       pick(4, f.defaults.Round),
	}
}

func outputName(s Segments) string {
	values := s.Values()
	names := make([]string, 0, len(values))
	for _, v := range values {
		name := strings.Trim(unsafeName.ReplaceAllString(v, "-"), "-")
		if name == "" {
			name = "x"
		}
		names = append(names, name)
	}
	return strings.Join(names, "_")
}

func cleanPath(p string) string {
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	p = strings.TrimRight(p, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// canonicalHost lower-cases host, drops a leading www. and the scheme's
// default port.
func canonicalHost(scheme, host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	switch strings.ToLower(scheme) {
	case "http":
		host = strings.TrimSuffix(host, ":80")
	case "https":
		host = strings.TrimSuffix(host, ":443")
	}
	return host
}

func isHTTP(scheme string) bool {
	return scheme == "http" || scheme == "https"
}

func lowerSegments(s Segments) Segments {
	return Segments{
		Epoch:       strings.ToLower(s.Epoch),
		Competition: strings.ToLower(s.Competition),
		Region:      strings.ToLower(s.Region),
		Phase:       strings.ToLower(s.Phase),
		Round:       strings.ToLower(s.Round),
	}
}
