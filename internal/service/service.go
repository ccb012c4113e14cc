// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vorlif/spreak"

	"github.com/wneessen/whereami/internal/config"
	"github.com/wneessen/whereami/internal/coordfmt"
	"github.com/wneessen/whereami/internal/geobus"
	"github.com/wneessen/whereami/internal/geocode"
	"github.com/wneessen/whereami/internal/locate"
	"github.com/wneessen/whereami/internal/logger"
	"github.com/wneessen/whereami/internal/metrics"
	"github.com/wneessen/whereami/internal/permission"
	"github.com/wneessen/whereami/internal/prefs"
	"github.com/wneessen/whereami/internal/presenter"
	"github.com/wneessen/whereami/internal/resolve"
)

// Notices shown to the user. They are translated through the localizer.
const (
	noticeKeys                = "Keys: r refresh, a address, d/m/s format, q quit"
	noticePermissionDenied    = "Location permission denied"
	noticePermissionRevoked   = "Location permission revoked"
	noticeLocationUnavailable = "Location not available"
	noticeNoLocation          = "Location not yet available"
	noticeResolving           = "Resolving address..."
	questionPermission        = "Allow whereami to access your location?"
	questionSettings          = "Location services are turned off. Turn them on and press enter to retry."
)

const (
	actionBufferSize = 4
	receiverSize     = 4
)

type action int

const (
	actionReload action = iota
	actionAddress
)

func (a action) String() string {
	switch a {
	case actionReload:
		return "reload"
	case actionAddress:
		return "address"
	default:
		return "unknown"
	}
}

type fetchResult struct {
	seq uint64
	fix locate.Fix
	err error
}

type Service struct {
	config    *config.Config
	geobus    *geobus.GeoBus
	logger    *logger.Logger
	t         *spreak.Localizer
	presenter *presenter.Presenter
	prefs     *prefs.Store
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	scheduler gocron.Scheduler
	geocoder  geocode.Geocoder
	fetcher   *locate.Fetcher
	resolver  *resolve.Resolver

	input       io.Reader
	output      *syncWriter
	SignalSrc   signalSource
	watchSleep  bool
	watchPrefs  bool
	actions     chan action
	formats     chan coordfmt.Format
	fetches     chan fetchResult
	promptLines chan string

	// Owned by the event loop
	address  string
	receiver *resolve.Receiver
	fetchSeq uint64
	fetchWG  sync.WaitGroup
}

// syncWriter serializes the writes of the event loop and the permission prompts.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

func New(conf *config.Config, log *logger.Logger, t *spreak.Localizer) (*Service, error) {
	bus, err := geobus.New(log)
	if err != nil {
		return nil, fmt.Errorf("failed to create geobus: %w", err)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	pres, err := presenter.New(conf, t)
	if err != nil {
		return nil, fmt.Errorf("failed to create presenter: %w", err)
	}

	store, err := prefs.New(log, conf.Preferences.File)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}

	registry := prometheus.NewRegistry()
	service := &Service{
		config:     conf,
		geobus:     bus,
		logger:     log,
		t:          t,
		presenter:  pres,
		prefs:      store,
		registry:   registry,
		metrics:    metrics.NewMetrics(registry),
		scheduler:  scheduler,
		input:      os.Stdin,
		output:     &syncWriter{w: os.Stdout},
		SignalSrc:  stdLibSignalSource{},
		watchSleep: true,
		watchPrefs: true,
		actions:    make(chan action, actionBufferSize),
		formats:    make(chan coordfmt.Format, 1),
		fetches:    make(chan fetchResult, 1),
	}
	return service, nil
}

// setup creates the fetch and resolution flows. Permission and settings prompts read their
// answers from lines.
func (s *Service) setup(lines <-chan string) error {
	providers, err := s.selectGeobusProviders()
	if err != nil {
		return fmt.Errorf("failed to create geobus orchestrator: %w", err)
	}
	if s.geocoder == nil {
		if s.geocoder, err = s.selectGeocodeProvider(s.config, s.logger, s.t.Language()); err != nil {
			return fmt.Errorf("failed to create geocode provider: %w", err)
		}
	}
	authorizer, settings, resolver, err := s.selectAuthorizer(lines, providers)
	if err != nil {
		return fmt.Errorf("failed to create location authorizer: %w", err)
	}

	s.fetcher, err = locate.New(s.logger, locate.Config{
		Bus:              s.geobus,
		Providers:        providers,
		Authorizer:       authorizer,
		Settings:         settings,
		SettingsResolver: resolver,
		Accuracy:         permission.ParseAccuracy(s.config.Location.Accuracy),
		Key:              locate.DefaultKey,
		Timeout:          s.config.Location.Timeout,
		MaxAge:           s.config.Location.MaxAge,
		Metrics:          s.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create location fetcher: %w", err)
	}
	s.resolver, err = resolve.New(s.logger, s.geocoder, s.metrics)
	if err != nil {
		return fmt.Errorf("failed to create address resolver: %w", err)
	}
	return nil
}

// Run starts the interactive display and blocks until the user quits, ctx is cancelled or the
// location permission was denied. A denial is returned as locate.ErrPermissionDenied.
func (s *Service) Run(ctx context.Context) error {
	s.promptLines = make(chan string)
	if err := s.setup(s.promptLines); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.config.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, s.logger, s.registry, s.config.Metrics.Addr); err != nil {
				s.logger.Error("metrics server failed", logger.Err(err))
			}
		}()
	}

	if s.config.Intervals.Refresh > 0 {
		if err := s.createScheduledJob(ctx, s.config.Intervals.Refresh, s.scheduleReload,
			"location_refresh_job"); err != nil {
			return err
		}
	}
	if _, ok := s.geocoder.(*geocode.CachedGeocoder); ok {
		if err := s.createScheduledJob(ctx, s.config.Intervals.CachePurge, s.purgeGeocodeCache,
			"geocode_cache_purge_job"); err != nil {
			return err
		}
	}
	s.scheduler.Start()

	s.prefs.OnChange(s.formatChanged)
	if s.watchPrefs {
		if err := s.prefs.Watch(ctx); err != nil {
			s.logger.Warn("preferences file is not watched for changes", logger.Err(err))
		}
	}

	sigChan := make(chan os.Signal, 1)
	s.SignalSrc.Notify(sigChan, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		defer s.SignalSrc.Stop(sigChan)
		s.HandleSignals(ctx, sigChan)
	}()
	if s.watchSleep {
		go s.monitorSleepResume(ctx)
	}

	s.receiver = resolve.NewReceiver(receiverSize)
	err := s.loop(ctx, permission.ReadLines(s.input))

	cancel()
	s.fetcher.Stop()
	s.fetchWG.Wait()
	s.receiver.Close()
	s.resolver.Wait()
	if shutdownErr := s.scheduler.Shutdown(); shutdownErr != nil {
		err = errors.Join(err, fmt.Errorf("failed to shut down scheduler: %w", shutdownErr))
	}
	return err
}

// RunOnce fetches a single fix, prints it and, if withAddress is set, resolves and prints its
// address. Failures are printed as notices and returned.
func (s *Service) RunOnce(ctx context.Context, withAddress bool) error {
	lines := permission.ReadLines(s.input)
	if err := s.setup(lines); err != nil {
		return err
	}

	fix, err := s.fetcher.Fetch(ctx)
	if err != nil {
		s.notice(fetchNotice(err))
		return err
	}
	s.render()
	if !withAddress {
		return nil
	}

	outcome := s.resolver.Resolve(ctx, fix)
	if !outcome.Resolved() {
		s.notice(outcome.Text())
		return fmt.Errorf("failed to resolve address: %s", outcome.Reason)
	}
	s.address = outcome.Text()
	s.renderAddress()
	return nil
}

func (s *Service) createScheduledJob(ctx context.Context, interval time.Duration, task func(context.Context),
	jobName string,
) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(jobName),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}
	return nil
}

// loop is the event loop. It owns the display state: the shown address, the current receiver
// and the sequence number of the latest fetch.
func (s *Service) loop(ctx context.Context, lines <-chan string) error {
	s.notice(noticeKeys)
	s.reload(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if s.answerPrompt(line) {
				continue
			}
			if quit := s.handleCommand(ctx, line); quit {
				return nil
			}
		case act := <-s.actions:
			s.logger.Debug("action requested", slog.String("action", act.String()))
			s.perform(ctx, act)
		case res := <-s.fetches:
			if err := s.handleFetch(res); err != nil {
				return err
			}
		case format := <-s.formats:
			s.logger.Debug("re-rendering with new display format", slog.String("format", format.String()))
			s.render()
		case outcome := <-s.receiver.C():
			s.handleOutcome(outcome)
		}
	}
}

// answerPrompt hands line to a waiting permission or settings prompt. It reports false if no
// prompt is waiting.
func (s *Service) answerPrompt(line string) bool {
	select {
	case s.promptLines <- line:
		return true
	default:
		return false
	}
}

func (s *Service) handleCommand(ctx context.Context, line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
	case "r", "reload":
		s.perform(ctx, actionReload)
	case "a", "address":
		s.perform(ctx, actionAddress)
	case "d", "degrees":
		s.setFormat(coordfmt.Degrees)
	case "m", "minutes":
		s.setFormat(coordfmt.DegreesMinutes)
	case "s", "seconds":
		s.setFormat(coordfmt.DegreesMinutesSeconds)
	case "q", "quit":
		return true
	default:
		s.notice(noticeKeys)
	}
	return false
}

func (s *Service) perform(ctx context.Context, act action) {
	switch act {
	case actionReload:
		s.reload(ctx)
	case actionAddress:
		s.requestAddress(ctx)
	}
}

// reload starts a fetch in the background. Only the event loop holds the located fix, and the
// result of an earlier fetch that is still running is ignored.
func (s *Service) reload(ctx context.Context) {
	s.fetchSeq++
	seq := s.fetchSeq
	s.fetchWG.Add(1)
	go func() {
		defer s.fetchWG.Done()
		fix, err := s.fetcher.Locate(ctx)
		select {
		case <-ctx.Done():
		case s.fetches <- fetchResult{seq: seq, fix: fix, err: err}:
		}
	}()
}

func (s *Service) handleFetch(res fetchResult) error {
	if res.seq != s.fetchSeq {
		s.logger.Debug("ignoring superseded location fetch", slog.Uint64("fetch", res.seq))
		return nil
	}
	if res.err != nil {
		if errors.Is(res.err, context.Canceled) {
			return nil
		}
		s.logger.Debug("location fetch failed", logger.Err(res.err))
		s.notice(fetchNotice(res.err))
		if errors.Is(res.err, locate.ErrPermissionDenied) {
			return res.err
		}
		return nil
	}

	// A new fix makes pending addresses of the previous one obsolete.
	s.fetcher.Hold(res.fix)
	s.receiver.Close()
	s.receiver = resolve.NewReceiver(receiverSize)
	s.address = ""
	s.render()
	return nil
}

func (s *Service) requestAddress(ctx context.Context) {
	var fix *locate.Fix
	if last, ok := s.fetcher.Last(); ok {
		fix = &last
	}
	req, err := s.resolver.Dispatch(ctx, fix, s.receiver)
	if err != nil {
		if errors.Is(err, resolve.ErrNoLocation) {
			s.notice(noticeNoLocation)
			return
		}
		s.logger.Error("failed to dispatch address resolution", logger.Err(err))
		return
	}
	s.logger.Debug("address requested", slog.String("request_id", req.ID.String()))
	s.notice(noticeResolving)
}

func (s *Service) handleOutcome(outcome resolve.Outcome) {
	if !outcome.Resolved() {
		s.logger.Debug("address resolution failed", slog.String("reason", outcome.Reason.String()))
		s.notice(outcome.Text())
		return
	}
	s.address = outcome.Text()
	s.renderAddress()
}

func (s *Service) setFormat(format coordfmt.Format) {
	if err := s.prefs.SetFormat(format); err != nil {
		s.logger.Error("failed to store display format", logger.Err(err))
	}
}

// formatChanged is called by the preference store, possibly from the event loop itself.
func (s *Service) formatChanged(format coordfmt.Format) {
	select {
	case s.formats <- format:
	default:
	}
}

// purgeGeocodeCache drops the expired addresses of the geocode cache.
func (s *Service) purgeGeocodeCache(context.Context) {
	cached, ok := s.geocoder.(*geocode.CachedGeocoder)
	if !ok {
		return
	}
	if purged := cached.Purge(); purged > 0 {
		s.logger.Debug("purged expired geocode cache entries", slog.Int("entries", purged))
	}
}

func (s *Service) scheduleReload(context.Context) {
	s.post(actionReload)
}

// post queues act for the event loop. It drops act if the queue is full.
func (s *Service) post(act action) {
	select {
	case s.actions <- act:
	default:
		s.logger.Debug("action queue full, dropping action", slog.String("action", act.String()))
	}
}

// render prints the held fix in the current display format.
func (s *Service) render() {
	fix, ok := s.fetcher.Last()
	tplCtx, err := s.presenter.BuildContext(fix, ok, s.prefs.Format(), s.address)
	if err != nil {
		s.logger.Error("failed to prepare display", logger.Err(err))
		return
	}
	out, err := s.presenter.Render(tplCtx)
	if err != nil {
		s.logger.Error("failed to render location", logger.Err(err))
		return
	}
	s.print(out)
}

func (s *Service) renderAddress() {
	fix, ok := s.fetcher.Last()
	tplCtx, err := s.presenter.BuildContext(fix, ok, s.prefs.Format(), s.address)
	if err != nil {
		s.logger.Error("failed to prepare display", logger.Err(err))
		return
	}
	out, err := s.presenter.RenderAddress(tplCtx)
	if err != nil {
		s.logger.Error("failed to render address", logger.Err(err))
		return
	}
	s.print(out)
}

func (s *Service) notice(msg string) {
	s.print(s.presenter.Notice(msg))
}

func (s *Service) print(out string) {
	if out == "" {
		return
	}
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	if _, err := io.WriteString(s.output, out); err != nil {
		s.logger.Error("failed to write output", logger.Err(err))
	}
}

// fetchNotice returns the notice for a failed fetch.
func fetchNotice(err error) string {
	switch {
	case errors.Is(err, locate.ErrPermissionDenied):
		return noticePermissionDenied
	case errors.Is(err, locate.ErrPermissionRevoked):
		return noticePermissionRevoked
	default:
		return noticeLocationUnavailable
	}
}
