package seller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"listing-wizard/internal/listing"
	"listing-wizard/internal/metrics"
	"listing-wizard/internal/wizard"
	"listing-wizard/pkg/geocode"
)

var (
	ErrSessionNotFound    = errors.New("wizard session not found")
	ErrInvalidVehicleType = errors.New("vehicle type must be car or bike")
	ErrInvalidStep        = errors.New("unknown wizard step")
	ErrSubmissionInFlight = errors.New("a submission for this listing is already in progress")
	ErrAlreadyPublished   = errors.New("this listing has already been published")
	ErrRateLimited        = errors.New("too many publish attempts, please try again in a minute")
	ErrInvalidCoordinates = errors.New("latitude or longitude out of range")
)

type Inserter interface {
	InsertListing(ctx context.Context, l *listing.Listing) (int64, error)
}

type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error)
}

type Notifier interface {
	ListingPublished(ctx context.Context, id int64, l *listing.Listing)
}

type Geocoder interface {
	Reverse(ctx context.Context, lat, lng float64) (*geocode.Place, error)
}

type Options struct {
	PublishLimit  int64
	PublishWindow time.Duration
	IdleTimeout   time.Duration
}

// Deps are the collaborators of a Service. Limiter, Notifier and
// Geocoder are optional.
type Deps struct {
	Bridge    *wizard.Bridge
	Assembler *listing.Assembler
	Inserter  Inserter
	Limiter   RateLimiter
	Notifier  Notifier
	Geocoder  Geocoder
}

type session struct {
	id       string
	store    *wizard.Store
	machine  *wizard.Machine
	lastSeen time.Time
}

// Service drives seller wizard sessions from creation to publish.
type Service struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func NewService(deps Deps, opts Options, logger *zap.Logger) *Service {
	return &Service{
		deps:     deps,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// View is a read-only copy of a session.
type View struct {
	ID    string       `json:"id"`
	Phase wizard.Phase `json:"phase"`
	State wizard.State `json:"state"`
}

// Result describes a published listing.
type Result struct {
	ListingID    int64              `json:"listing_id"`
	SubmissionID string             `json:"submission_id"`
	VehicleType  wizard.VehicleType `json:"vehicle_type"`
}

// MetaUpdate sets the top-level wizard fields that are not nil.
type MetaUpdate struct {
	City        *string                `json:"city"`
	SellerPrice *string                `json:"seller_price"`
	KeyFeatures []string               `json:"key_features"`
	Photos      wizard.PhotoCollection `json:"photos"`
}

func (s *Service) Start(ctx context.Context, vehicle wizard.VehicleType) (string, error) {
	if !vehicle.Valid() {
		return "", ErrInvalidVehicleType
	}

	sess := &session{
		id:       uuid.NewString(),
		store:    wizard.NewStore(vehicle),
		machine:  wizard.NewMachine(),
		lastSeen: s.now(),
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	s.snapshotMeta(ctx, sess)

	s.logger.Info("Wizard session started",
		zap.String("session", sess.id),
		zap.String("vehicle", string(vehicle)))
	return sess.id, nil
}

// Load returns the session, rehydrating it from Redis on first touch.
func (s *Service) Load(ctx context.Context, id string) (*View, error) {
	sess, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &View{
		ID:    sess.id,
		Phase: sess.machine.Phase(),
		State: sess.store.Snapshot(),
	}, nil
}

func (s *Service) get(ctx context.Context, id string) (*session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrSessionNotFound
	}

	s.mu.Lock()
	if sess, ok := s.sessions[id]; ok {
		sess.lastSeen = s.now()
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()

	state, found, err := s.deps.Bridge.Rehydrate(ctx, id)
	if err != nil {
		s.logger.Error("Failed to rehydrate wizard session",
			zap.String("session", id),
			zap.Error(err))
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return nil, ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.lastSeen = s.now()
		return sess, nil
	}
	sess := &session{
		id:       id,
		store:    wizard.FromState(state),
		machine:  wizard.NewMachine(),
		lastSeen: s.now(),
	}
	s.sessions[id] = sess
	metrics.ActiveSessions.Set(float64(len(s.sessions)))

	s.logger.Debug("Wizard session rehydrated",
		zap.String("session", id),
		zap.Int("steps", len(state.Steps)))
	return sess, nil
}

// Update merges fields into a step without persisting.
func (s *Service) Update(ctx context.Context, id string, step wizard.Step, fields map[string]any) error {
	if !step.Valid() {
		return ErrInvalidStep
	}
	sess, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	sess.store.Merge(step, fields)
	return nil
}

// Next merges fields and snapshots the step.
func (s *Service) Next(ctx context.Context, id string, step wizard.Step, fields map[string]any) error {
	return s.advance(ctx, id, step, fields, "next")
}

// Skip behaves like Next but records the step as skipped.
func (s *Service) Skip(ctx context.Context, id string, step wizard.Step, fields map[string]any) error {
	return s.advance(ctx, id, step, fields, "skip")
}

func (s *Service) advance(ctx context.Context, id string, step wizard.Step, fields map[string]any, action string) error {
	if !step.Valid() {
		return ErrInvalidStep
	}
	sess, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if len(fields) > 0 {
		sess.store.Merge(step, fields)
	}
	s.snapshotStep(ctx, sess, step)
	metrics.WizardTransitions.WithLabelValues(action, step.String()).Inc()
	return nil
}

// Blur stores a single field as the seller leaves it. Identity fields are
// persisted immediately; a malformed phone number is stored but reported.
func (s *Service) Blur(ctx context.Context, id string, step wizard.Step, field string, value any) error {
	if !step.Valid() {
		return ErrInvalidStep
	}
	sess, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	sess.store.Update(step, field, value)

	if wizard.IsIdentityField(field) {
		s.snapshotStep(ctx, sess, step)
	}

	if step == wizard.StepSellerDetails && isPhoneField(field) {
		if raw, ok := listing.ToText(sess.store.Step(step)[field]); ok {
			return listing.ValidatePhone(raw)
		}
	}
	return nil
}

func isPhoneField(field string) bool {
	return field == "phone" || field == "seller_phone"
}

// SwitchVehicleType changes the vehicle type. A real change discards every
// stored step. It reports whether anything was discarded.
func (s *Service) SwitchVehicleType(ctx context.Context, id string, vehicle wizard.VehicleType) (bool, error) {
	if !vehicle.Valid() {
		return false, ErrInvalidVehicleType
	}
	sess, err := s.get(ctx, id)
	if err != nil {
		return false, err
	}
	if sess.machine.Phase().Busy() {
		return false, ErrSubmissionInFlight
	}

	if !sess.store.SetVehicleType(vehicle) {
		return false, nil
	}

	if err := s.deps.Bridge.ClearAll(ctx, id); err != nil {
		s.logger.Warn("Failed to clear wizard state on vehicle switch",
			zap.String("session", id),
			zap.Error(err))
	}
	s.snapshotMeta(ctx, sess)

	s.logger.Info("Vehicle type switched",
		zap.String("session", id),
		zap.String("vehicle", string(vehicle)))
	return true, nil
}

func (s *Service) UpdateMeta(ctx context.Context, id string, u MetaUpdate) error {
	sess, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if u.City != nil {
		sess.store.SetCity(*u.City)
	}
	if u.SellerPrice != nil {
		sess.store.SetSellerPrice(*u.SellerPrice)
	}
	if u.KeyFeatures != nil {
		sess.store.SetKeyFeatures(u.KeyFeatures)
	}
	if u.Photos != nil {
		sess.store.SetPhotos(u.Photos)
	}
	s.snapshotMeta(ctx, sess)
	return nil
}

// CaptureLocation stores the device position and, when no city was chosen
// yet, fills it from a reverse lookup. Lookup failures are not returned.
func (s *Service) CaptureLocation(ctx context.Context, id string, lat, lng float64) (string, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return "", ErrInvalidCoordinates
	}
	sess, err := s.get(ctx, id)
	if err != nil {
		return "", err
	}
	sess.store.SetLocation(wizard.Location{Latitude: lat, Longitude: lng})

	city := sess.store.Snapshot().City
	if city == "" && s.deps.Geocoder != nil {
		place, err := s.deps.Geocoder.Reverse(ctx, lat, lng)
		if err != nil {
			s.logger.Warn("Reverse geocoding failed",
				zap.String("session", id),
				zap.Error(err))
		} else if locality := place.Locality(); locality != "" {
			city = locality
			sess.store.SetCity(city)
		}
	}

	s.snapshotMeta(ctx, sess)
	return city, nil
}

// Clear drops the session from memory and Redis. Clearing an unknown
// session succeeds.
func (s *Service) Clear(ctx context.Context, id string) error {
	s.drop(id)
	if err := s.deps.Bridge.ClearAll(ctx, id); err != nil {
		s.logger.Warn("Failed to clear wizard state",
			zap.String("session", id),
			zap.Error(err))
	}
	return nil
}

// Publish assembles the listing and inserts it. Validation happens before
// any network call. On failure the session returns to editing with its
// data intact; on success its storage is cleared.
func (s *Service) Publish(ctx context.Context, id string) (*Result, error) {
	sess, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := sess.machine.Transition(wizard.PhaseValidating); err != nil {
		if sess.machine.Phase().Busy() {
			metrics.PublishFailures.WithLabelValues("in_flight").Inc()
			return nil, ErrSubmissionInFlight
		}
		return nil, ErrAlreadyPublished
	}
	defer s.settle(sess)

	start := s.now()
	defer func() {
		metrics.PublishDuration.Observe(s.now().Sub(start).Seconds())
	}()

	if s.deps.Limiter != nil {
		exceeded, err := s.deps.Limiter.CheckRateLimit(ctx, "publish:"+id, s.opts.PublishLimit, s.opts.PublishWindow)
		if err != nil {
			s.logger.Warn("Rate limit check failed",
				zap.String("session", id),
				zap.Error(err))
		} else if exceeded {
			_ = sess.machine.Transition(wizard.PhaseEditing)
			metrics.PublishFailures.WithLabelValues("rate_limited").Inc()
			return nil, ErrRateLimited
		}
	}

	l, err := s.deps.Assembler.Assemble(sess.store.Snapshot())
	if err != nil {
		_ = sess.machine.Transition(wizard.PhaseEditing)
		metrics.PublishFailures.WithLabelValues("validation").Inc()
		s.logger.Info("Listing rejected by validation",
			zap.String("session", id),
			zap.Error(err))
		return nil, err
	}

	if err := sess.machine.Transition(wizard.PhaseSubmitting); err != nil {
		return nil, err
	}

	listingID, err := s.deps.Inserter.InsertListing(ctx, l)
	if err != nil {
		_ = sess.machine.Transition(wizard.PhaseFailed)
		_ = sess.machine.Transition(wizard.PhaseEditing)
		metrics.PublishFailures.WithLabelValues("upstream").Inc()
		s.logger.Error("Failed to insert listing",
			zap.String("session", id),
			zap.String("submission_id", l.SubmissionID),
			zap.String("table", l.Table()),
			zap.Error(err))
		return nil, err
	}

	_ = sess.machine.Transition(wizard.PhasePublished)
	metrics.ListingsPublished.WithLabelValues(string(l.Vehicle())).Inc()

	s.drop(id)
	if err := s.deps.Bridge.ClearAll(ctx, id); err != nil {
		s.logger.Warn("Failed to clear wizard state after publish",
			zap.String("session", id),
			zap.Error(err))
	}

	s.logger.Info("Listing published",
		zap.String("session", id),
		zap.Int64("listing_id", listingID),
		zap.String("submission_id", l.SubmissionID),
		zap.String("table", l.Table()))

	if s.deps.Notifier != nil {
		go s.deps.Notifier.ListingPublished(context.WithoutCancel(ctx), listingID, l)
	}

	return &Result{
		ListingID:    listingID,
		SubmissionID: l.SubmissionID,
		VehicleType:  l.Vehicle(),
	}, nil
}

// settle makes sure a session never stays in a busy phase after Publish
// returns.
func (s *Service) settle(sess *session) {
	switch sess.machine.Phase() {
	case wizard.PhaseValidating:
		_ = sess.machine.Transition(wizard.PhaseEditing)
	case wizard.PhaseSubmitting:
		_ = sess.machine.Transition(wizard.PhaseFailed)
		_ = sess.machine.Transition(wizard.PhaseEditing)
	}
}

// EvictIdle snapshots and unloads sessions not touched within the idle
// timeout. Evicted sessions are rehydrated on their next request.
func (s *Service) EvictIdle(ctx context.Context) int {
	if s.opts.IdleTimeout <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.opts.IdleTimeout)
	return s.evict(ctx, func(sess *session) bool {
		return sess.lastSeen.Before(cutoff)
	})
}

// Flush snapshots and unloads every session that is not publishing.
// A session whose snapshot fails stays loaded.
func (s *Service) Flush(ctx context.Context) int {
	return s.evict(ctx, func(*session) bool { return true })
}

func (s *Service) evict(ctx context.Context, match func(*session) bool) int {
	type candidate struct {
		sess     *session
		lastSeen time.Time
	}

	var candidates []candidate
	s.mu.Lock()
	for _, sess := range s.sessions {
		if match(sess) && !sess.machine.Phase().Busy() {
			candidates = append(candidates, candidate{sess: sess, lastSeen: sess.lastSeen})
		}
	}
	s.mu.Unlock()

	// Sessions stay loaded while they are written so a concurrent request
	// never rehydrates a stale copy.
	evicted := 0
	for _, c := range candidates {
		if err := s.deps.Bridge.SnapshotAll(ctx, c.sess.id, c.sess.store.Snapshot()); err != nil {
			metrics.WizardSnapshotErrors.Inc()
			s.logger.Warn("Failed to snapshot evicted session",
				zap.String("session", c.sess.id),
				zap.Error(err))
			continue
		}

		s.mu.Lock()
		if cur, ok := s.sessions[c.sess.id]; ok && cur == c.sess &&
			c.sess.lastSeen.Equal(c.lastSeen) && !c.sess.machine.Phase().Busy() {
			delete(s.sessions, c.sess.id)
			evicted++
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	s.mu.Unlock()
	return evicted
}

// Run evicts idle sessions until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(ctx); n > 0 {
				s.logger.Debug("Evicted idle wizard sessions", zap.Int("count", n))
			}
		}
	}
}

func (s *Service) drop(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	s.mu.Unlock()
}

func (s *Service) snapshotStep(ctx context.Context, sess *session, step wizard.Step) {
	if err := s.deps.Bridge.SnapshotStep(ctx, sess.id, sess.store.Snapshot(), step); err != nil {
		metrics.WizardSnapshotErrors.Inc()
		s.logger.Warn("Failed to snapshot wizard step",
			zap.String("session", sess.id),
			zap.Int("step", int(step)),
			zap.Error(err))
	}
}

func (s *Service) snapshotMeta(ctx context.Context, sess *session) {
	if err := s.deps.Bridge.SnapshotMeta(ctx, sess.id, sess.store.Snapshot()); err != nil {
		metrics.WizardSnapshotErrors.Inc()
		s.logger.Warn("Failed to snapshot wizard meta",
			zap.String("session", sess.id),
			zap.Error(err))
	}
}
