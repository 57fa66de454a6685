package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vodstream/searchservice/internal/domain"
	"vodstream/searchservice/internal/metrics"
	"vodstream/searchservice/internal/telemetry"
)

const (
	defaultQuickTimeout   = 3 * time.Second
	defaultOverallTimeout = 10 * time.Second
	defaultBackupTimeout  = 8 * time.Second
	defaultMaxSegments    = 3
	defaultUserAgent      = "Mozilla/5.0 (compatible; vodstream-probe/1.0)"

	maxMasterHops        = 1
	maxRedirects         = 5
	maxManifestBytes     = 2 << 20
	maxSegmentBytes      = 32 << 20
	minValidSegmentBytes = 1024
	minValidSegments     = 2

	loadTimeFloorBelow = 10 * time.Millisecond
	loadTimeFloor      = 50 * time.Millisecond
	loadTimeCeiling    = 10 * time.Second
	loadTimeEstimate   = 100 * time.Millisecond

	strategySegments = "segments"
	strategyManifest = "manifest"
	strategyFailed   = "failed"
)

type Config struct {
	QuickTimeout   time.Duration
	OverallTimeout time.Duration
	BackupTimeout  time.Duration
	MaxSegments    int
	UserAgent      string
	Client         *http.Client
	// CheckURL vets every URL before it is requested, including variant,
	// segment and redirect targets.
	CheckURL func(*url.URL) error
}

// Prober estimates quality, throughput and latency of one HLS stream. Probe
// never fails; when nothing can be measured it returns domain.FailedProbe.
type Prober struct {
	cfg    Config
	client *http.Client
}

type manifest struct {
	url     *url.URL
	text    string
	bytes   int64
	elapsed time.Duration
}

// plan is what the manifest phase learned before measurement starts.
type plan struct {
	master        bool
	media         manifest
	fetched       bool
	width, height int
	hasResolution bool
}

func (p plan) quality() (domain.QualityTier, bool) {
	if !p.hasResolution {
		return domain.QualityUnknown, false
	}
	return QualityFromResolution(p.width, p.height), true
}

type segmentSample struct {
	count    int
	bytes    int64
	loadTime time.Duration
}

func (s *segmentSample) add(size int64, loadTime time.Duration) {
	s.count++
	s.bytes += size
	s.loadTime += loadTime
}

func (s segmentSample) kbps() float64 {
	return throughputKBps(s.bytes, float64(s.loadTime)/float64(time.Millisecond))
}

func New(cfg Config) *Prober {
	if cfg.QuickTimeout <= 0 {
		cfg.QuickTimeout = defaultQuickTimeout
	}
	if cfg.OverallTimeout <= 0 {
		cfg.OverallTimeout = defaultOverallTimeout
	}
	if cfg.BackupTimeout <= 0 {
		cfg.BackupTimeout = defaultBackupTimeout
	}
	if cfg.MaxSegments <= 0 {
		cfg.MaxSegments = defaultMaxSegments
	}
	cfg.MaxSegments = max(cfg.MaxSegments, minValidSegments)
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = defaultUserAgent
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	if cfg.CheckURL != nil && client.CheckRedirect == nil {
		guarded := *client
		check := cfg.CheckURL
		guarded.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("too many redirects")
			}
			return check(req.URL)
		}
		client = &guarded
	}
	return &Prober{cfg: cfg, client: client}
}

func (p *Prober) Probe(ctx context.Context, rawURL string) domain.ProbeResult {
	startedAt := time.Now()
	result, strategy := p.probe(ctx, rawURL)
	elapsed := time.Since(startedAt)

	metrics.ProbeResultsTotal.WithLabelValues(string(result.Quality), strategy).Inc()
	metrics.ProbeDuration.Observe(elapsed.Seconds())
	slog.Debug("stream probe completed",
		slog.String("url", rawURL),
		slog.String("strategy", strategy),
		slog.String("quality", string(result.Quality)),
		slog.String("loadSpeed", result.LoadSpeed),
		slog.Int("pingMs", result.PingTime),
		slog.Bool("master", result.IsMasterPlaylist),
		slog.Int64("elapsedMs", elapsed.Milliseconds()),
	)
	return result
}

func (p *Prober) probe(ctx context.Context, rawURL string) (domain.ProbeResult, string) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.OverallTimeout)
	defer cancel()
	ctx, span := telemetry.Tracer().Start(ctx, "probe")
	defer span.End()

	target, err := parseTarget(rawURL)
	if err != nil {
		failSpan(span, err)
		return domain.FailedProbe(), strategyFailed
	}

	first, err := p.quickFetch(ctx, target)
	if err != nil {
		slog.Debug("probe: manifest fetch failed", slog.String("url", target.String()), slog.String("error", err.Error()))
		var fetchErr *domain.ManifestFetchError
		if errors.As(err, &fetchErr) && fetchErr.StatusCode > 0 {
			failSpan(span, err)
			return domain.FailedProbe(), strategyFailed
		}
		// Classification unknown; a slower plain download may still work.
		return p.manifestFallback(ctx, plan{media: manifest{url: target}})
	}

	pl := p.resolvePlan(ctx, first)
	span.SetAttributes(attribute.Bool("master", pl.master))
	if !pl.fetched {
		return p.manifestFallback(ctx, pl)
	}

	ping := p.ping(ctx, pl.media.url)
	sample, err := p.measureSegments(ctx, pl.media)
	if err != nil {
		slog.Debug("probe: segment measurement unavailable, falling back to manifest timing",
			slog.String("url", pl.media.url.String()),
			slog.Int("validSegments", sample.count),
			slog.String("error", err.Error()),
		)
		return p.manifestFallback(ctx, pl)
	}

	quality, _ := pl.quality()
	return domain.ProbeResult{
		Quality:          quality,
		LoadSpeed:        FormatSpeed(sample.kbps()),
		PingTime:         ping,
		IsMasterPlaylist: pl.master,
	}, strategySegments
}

// resolvePlan follows master playlists to the variant that will be
// measured. The best variant's resolution wins over anything found later.
func (p *Prober) resolvePlan(ctx context.Context, top manifest) plan {
	pl := plan{media: top, fetched: true}
	current := top
	for hop := 0; ; hop++ {
		if Classify(current.text) != KindMaster {
			if !pl.hasResolution {
				pl.width, pl.height, pl.hasResolution = ExtractResolution(current.text)
			}
			pl.media = current
			return pl
		}

		pl.master = true
		best, ok := BestVariant(ParseMaster(current.text, current.url))
		if !ok {
			slog.Debug("probe: master playlist without variants", slog.String("url", current.url.String()))
			pl.media = current
			return pl
		}
		if !pl.hasResolution && best.HasResolution() {
			pl.width, pl.height, pl.hasResolution = best.Width, best.Height, true
		}
		if hop > maxMasterHops {
			pl.media = current
			return pl
		}

		variantURL, err := url.Parse(best.URL)
		if err != nil {
			pl.media = current
			return pl
		}
		next, err := p.quickFetch(ctx, variantURL)
		if err != nil {
			slog.Debug("probe: variant fetch failed", slog.String("url", best.URL), slog.String("error", err.Error()))
			pl.media = manifest{url: variantURL}
			pl.fetched = false
			return pl
		}
		current = next
	}
}

func (p *Prober) quickFetch(ctx context.Context, target *url.URL) (manifest, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.QuickTimeout)
	defer cancel()
	ctx, span := telemetry.Tracer().Start(ctx, "probe.manifest")
	defer span.End()
	span.SetAttributes(attribute.String("url", target.String()))

	m, err := p.fetchManifest(ctx, target)
	if err != nil {
		failSpan(span, err)
		return manifest{}, err
	}
	span.SetAttributes(attribute.String("kind", Classify(m.text).String()), attribute.Int64("bytes", m.bytes))
	return m, nil
}

func (p *Prober) fetchManifest(ctx context.Context, target *url.URL) (manifest, error) {
	startedAt := time.Now()
	resp, err := p.send(ctx, http.MethodGet, target, nil)
	if err != nil {
		return manifest{}, &domain.ManifestFetchError{URL: target.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return manifest{}, &domain.ManifestFetchError{URL: target.String(), StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return manifest{}, &domain.ManifestFetchError{URL: target.String(), Err: err}
	}

	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}
	return manifest{
		url:     final,
		text:    string(body),
		bytes:   int64(len(body)),
		elapsed: time.Since(startedAt),
	}, nil
}

// ping times a HEAD request. Servers answering 405 or 501 to HEAD get a
// ranged GET for the first byte instead. The elapsed time is reported even
// when the request fails.
func (p *Prober) ping(ctx context.Context, target *url.URL) int {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.QuickTimeout)
	defer cancel()
	ctx, span := telemetry.Tracer().Start(ctx, "probe.ping")
	defer span.End()

	startedAt := time.Now()
	status, err := p.roundTrip(ctx, http.MethodHead, target, nil)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		startedAt = time.Now()
		status, err = p.roundTrip(ctx, http.MethodGet, target, http.Header{"Range": {"bytes=0-0"}})
	}
	elapsed := time.Since(startedAt)
	if err != nil {
		failSpan(span, err)
		slog.Debug("probe: ping failed", slog.String("url", target.String()), slog.String("error", err.Error()))
	}
	span.SetAttributes(attribute.Int("status", status), attribute.Int64("elapsedMs", elapsed.Milliseconds()))
	return roundMS(elapsed)
}

func (p *Prober) roundTrip(ctx context.Context, method string, target *url.URL, header http.Header) (int, error) {
	resp, err := p.send(ctx, method, target, header)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return resp.StatusCode, nil
}

// measureSegments downloads up to MaxSegments media segments one after
// another within BackupTimeout. It succeeds once two segments larger than
// 1 KiB have loaded.
func (p *Prober) measureSegments(ctx context.Context, media manifest) (segmentSample, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.BackupTimeout)
	defer cancel()
	ctx, span := telemetry.Tracer().Start(ctx, "probe.segments")
	defer span.End()

	segments := parseSegments(media.text, media.url)
	if len(segments) == 0 {
		err := &domain.ManifestParseError{URL: media.url.String(), Reason: "no media segments"}
		failSpan(span, err)
		return segmentSample{}, err
	}

	timer := newSegmentTimer()
	var sample segmentSample
	for _, seg := range segments[:min(len(segments), p.cfg.MaxSegments)] {
		if ctx.Err() != nil {
			break
		}
		id := seg.id()
		timer.start(id)
		size, err := p.download(ctx, seg.URL)
		loadTime := timer.stop(id)
		if err != nil {
			slog.Debug("probe: segment failed", slog.String("url", seg.URL), slog.String("error", err.Error()))
			continue
		}
		if size <= minValidSegmentBytes {
			continue
		}
		sample.add(size, loadTime)
		if sample.count >= minValidSegments {
			span.SetAttributes(attribute.Int("segments", sample.count), attribute.Int64("bytes", sample.bytes))
			return sample, nil
		}
	}

	var err error
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		err = &domain.MeasurementTimeoutError{Phase: "segment measurement", Budget: p.cfg.BackupTimeout, Err: ctxErr}
	} else {
		err = fmt.Errorf("%d of %d required segments loaded", sample.count, minValidSegments)
	}
	failSpan(span, err)
	return sample, err
}

func (p *Prober) download(ctx context.Context, rawURL string) (int64, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return 0, err
	}
	resp, err := p.send(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("segment HTTP %d", resp.StatusCode)
	}
	return io.Copy(io.Discard, io.LimitReader(resp.Body, maxSegmentBytes))
}

// manifestFallback times a full playlist download: ping is the load time and
// throughput is manifest bytes over that time. When the download fails but the
// playlist was already fetched earlier in the probe, that earlier timing is
// used instead.
func (p *Prober) manifestFallback(ctx context.Context, pl plan) (domain.ProbeResult, string) {
	ctx, span := telemetry.Tracer().Start(ctx, "probe.manifest_fallback")
	defer span.End()

	m, err := p.fetchManifest(ctx, pl.media.url)
	if err != nil {
		slog.Debug("probe: manifest fallback failed", slog.String("url", pl.media.url.String()), slog.String("error", err.Error()))
		if !pl.fetched || pl.media.elapsed <= 0 {
			failSpan(span, err)
			return domain.FailedProbe(), strategyFailed
		}
		span.SetAttributes(attribute.Bool("reusedQuickFetch", true))
		m = pl.media
	}

	quality := domain.QualityUnknown
	if width, height, ok := ExtractResolution(m.text); ok {
		quality = QualityFromResolution(width, height)
	}
	if known, ok := pl.quality(); ok {
		quality = known
	}
	return domain.ProbeResult{
		Quality:          quality,
		LoadSpeed:        FormatSpeed(throughputKBps(m.bytes, float64(m.elapsed)/float64(time.Millisecond))),
		PingTime:         roundMS(m.elapsed),
		IsMasterPlaylist: pl.master,
	}, strategyManifest
}

func (p *Prober) send(ctx context.Context, method string, target *url.URL, header http.Header) (*http.Response, error) {
	if p.cfg.CheckURL != nil {
		if err := p.cfg.CheckURL(target); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	return p.client.Do(req)
}

// segmentTimer tracks start times of in-flight segment downloads. Each
// measurement owns its own timer.
type segmentTimer struct {
	mu      sync.Mutex
	started map[string]time.Time
}

func newSegmentTimer() *segmentTimer {
	return &segmentTimer{started: make(map[string]time.Time)}
}

func (t *segmentTimer) start(id string) {
	t.mu.Lock()
	t.started[id] = time.Now()
	t.mu.Unlock()
}

func (t *segmentTimer) stop(id string) time.Duration {
	t.mu.Lock()
	startedAt, ok := t.started[id]
	delete(t.started, id)
	t.mu.Unlock()
	if !ok {
		return loadTimeEstimate
	}
	return clampLoadTime(time.Since(startedAt))
}

func clampLoadTime(d time.Duration) time.Duration {
	if d < loadTimeFloorBelow {
		return loadTimeFloor
	}
	if d > loadTimeCeiling {
		return loadTimeCeiling
	}
	return d
}

func (s segment) id() string {
	return strconv.Itoa(s.Sequence)
}

func parseTarget(rawURL string) (*url.URL, error) {
	target, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, &domain.ManifestFetchError{URL: rawURL, Err: err}
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, &domain.ManifestFetchError{URL: rawURL, Err: errors.New("unsupported url")}
	}
	return target, nil
}

func roundMS(d time.Duration) int {
	return int(math.Round(float64(d) / float64(time.Millisecond)))
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
