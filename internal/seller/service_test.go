package seller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"listing-wizard/internal/listing"
	"listing-wizard/internal/wizard"
	"listing-wizard/pkg/geocode"
	"listing-wizard/pkg/redis"
)

type fakeInserter struct {
	mu      sync.Mutex
	calls   []*listing.Listing
	err     error
	nextID  int64
	started chan struct{}
	release chan struct{}
}

func (f *fakeInserter) InsertListing(ctx context.Context, l *listing.Listing) (int64, error) {
	f.mu.Lock()
	f.calls = append(f.calls, l)
	f.nextID++
	id := f.nextID
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return 0, f.err
	}
	return id, nil
}

func (f *fakeInserter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeLimiter struct {
	count int64
}

func (f *fakeLimiter) CheckRateLimit(_ context.Context, _ string, limit int64, _ time.Duration) (bool, error) {
	f.count++
	return f.count > limit, nil
}

type fakeNotifier struct {
	published chan int64
}

func (f *fakeNotifier) ListingPublished(_ context.Context, id int64, _ *listing.Listing) {
	f.published <- id
}

type fakeGeocoder struct {
	place *geocode.Place
	err   error
}

func (f *fakeGeocoder) Reverse(context.Context, float64, float64) (*geocode.Place, error) {
	return f.place, f.err
}

type fixture struct {
	svc      *Service
	mr       *miniredis.Miniredis
	bridge   *wizard.Bridge
	inserter *fakeInserter
	notifier *fakeNotifier
	deps     Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	kv := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1}))
	t.Cleanup(kv.Close)

	logger := zaptest.NewLogger(t)
	bridge := wizard.NewBridge(kv, time.Hour, logger)
	inserter := &fakeInserter{}
	notifier := &fakeNotifier{published: make(chan int64, 4)}

	deps := Deps{
		Bridge:    bridge,
		Assembler: listing.NewAssembler(),
		Inserter:  inserter,
		Notifier:  notifier,
	}
	svc := NewService(deps, Options{PublishLimit: 5, PublishWindow: time.Minute, IdleTimeout: time.Minute}, logger)

	return &fixture{svc: svc, mr: mr, bridge: bridge, inserter: inserter, notifier: notifier, deps: deps}
}

// fillCar walks a car listing through all six steps the way the web
// client does.
func fillCar(t *testing.T, svc *Service, id string, identity map[string]any) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, svc.Next(ctx, id, wizard.StepVehicleBasics, map[string]any{
		"brand": "Hyundai", "model": "Creta", "variant": "SX", "year": "2021",
		"fuel_type": "Diesel", "transmission": "Automatic",
	}))
	require.NoError(t, svc.Next(ctx, id, wizard.StepOwnership, map[string]any{"kms_driven": "42,000", "owners": 1}))
	require.NoError(t, svc.Skip(ctx, id, wizard.StepCondition, nil))
	require.NoError(t, svc.Next(ctx, id, wizard.StepPricing, map[string]any{"expected_price": "11,50,000"}))
	require.NoError(t, svc.Next(ctx, id, wizard.StepSellerDetails, map[string]any{
		"seller_name": "Neha", "phone": "9820123456", "city": "Mumbai",
	}))

	fields := map[string]any{"terms_accepted": true, "privacy_accepted": true, "documents_agreed": true}
	for k, v := range identity {
		fields[k] = v
	}
	require.NoError(t, svc.Next(ctx, id, wizard.StepIdentity, fields))
}

func TestPublish_CarHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Start(ctx, wizard.VehicleCar)
	require.NoError(t, err)
	fillCar(t, f.svc, id, map[string]any{"pan_number": "ABCDE1234F"})
	require.True(t, f.mr.Exists(wizard.Key(id)))

	res, err := f.svc.Publish(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ListingID)
	assert.Equal(t, wizard.VehicleCar, res.VehicleType)
	assert.NotEmpty(t, res.SubmissionID)

	require.Equal(t, 1, f.inserter.Calls())
	l := f.inserter.calls[0]
	assert.Equal(t, "car_seller_listings", l.Table())
	assert.Equal(t, int64(2021), l.Values["year"])
	assert.Equal(t, int64(42000), l.Values["kms_driven"])
	assert.Equal(t, 1150000.0, l.Values["expected_price"])
	assert.Equal(t, "ABCDE1234F", l.Values["pan_number"])
	assert.Equal(t, "+919820123456", l.Values["seller_phone"])

	assert.False(t, f.mr.Exists(wizard.Key(id)), "wizard storage should be cleared")

	select {
	case got := <-f.notifier.published:
		assert.Equal(t, int64(1), got)
	case <-time.After(time.Second):
		t.Fatal("notification not sent")
	}

	_, err = f.svc.Load(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPublish_ShortNationalIDBlocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Start(ctx, wizard.VehicleCar)
	require.NoError(t, err)
	fillCar(t, f.svc, id, map[string]any{"national_id": "123456789012345"})
	before, err := f.svc.Load(ctx, id)
	require.NoError(t, err)

	_, err = f.svc.Publish(ctx, id)
	require.Error(t, err)

	var ve *listing.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "national_id", ve.Field)
	assert.Contains(t, ve.Message, "exactly 16 digits")
	assert.Zero(t, f.inserter.Calls(), "no insert may happen")

	after, err := f.svc.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, wizard.PhaseEditing, after.Phase)
	assert.Equal(t, before.State, after.State)
	assert.True(t, f.mr.Exists(wizard.Key(id)))
}

func TestPublish_MissingIdentityNeverInserts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Start(ctx, wizard.VehicleBike)
	require.NoError(t, err)
	require.NoError(t, f.svc.Next(ctx, id, wizard.StepIdentity, map[string]any{
		"terms_accepted": true, "privacy_accepted": true, "documents_agreed": true,
	}))

	_, err = f.svc.Publish(ctx, id)
	var ve *listing.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "identity", ve.Field)
	assert.Zero(t, f.inserter.Calls())
}

func TestPublish_UpstreamErrorKeepsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const msg = `duplicate key value violates unique constraint "car_seller_listings_submission_id_key"`
	f.inserter.err = &listing.SubmitError{Message: msg, Err: errors.New("pq")}

	id, err := f.svc.Start(ctx, wizard.VehicleCar)
	require.NoError(t, err)
	fillCar(t, f.svc, id, map[string]any{"pan_number": "ABCDE1234F"})
	before, err := f.svc.Load(ctx, id)
	require.NoError(t, err)

	_, err = f.svc.Publish(ctx, id)
	require.Error(t, err)
	assert.Equal(t, msg, listing.UserMessage(err))

	after, err := f.svc.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, wizard.PhaseEditing, after.Phase)
	assert.Equal(t, before.State, after.State)
	assert.True(t, f.mr.Exists(wizard.Key(id)))

	// retry succeeds once the database accepts the row
	f.inserter.err = nil
	res, err := f.svc.Publish(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.ListingID)
}

func TestPublish_RejectsConcurrentSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.inserter.started = make(chan struct{}, 1)
	f.inserter.release = make(chan struct{})

	id, err := f.svc.Start(ctx, wizard.VehicleCar)
	require.NoError(t, err)
	fillCar(t, f.svc, id, map[string]any{"pan_number": "ABCDE1234F"})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Publish(ctx, id)
		done <- err
	}()
	<-f.inserter.started

	_, err = f.svc.Publish(ctx, id)
	assert.ErrorIs(t, err, ErrSubmissionInFlight)

	close(f.inserter.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.inserter.Calls())
}

func TestPublish_RateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deps.Limiter = &fakeLimiter{}
	svc := NewService(f.deps, Options{PublishLimit: 2, PublishWindow: time.Minute}, zaptest.NewLogger(t))

	id, err := svc.Start(ctx, wizard.VehicleBike)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := svc.Publish(ctx, id)
		var ve *listing.ValidationError
		require.ErrorAs(t, err, &ve)
	}

	_, err = svc.Publish(ctx, id)
	assert.ErrorIs(t, err, ErrRateLimited)

	view, err := svc.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, wizard.PhaseEditing, view.Phase)
}

func TestRehydrateAcrossInstances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Start(ctx, wizard.VehicleCar)
	require.NoError(t, err)
	require.NoError(t, f.svc.Next(ctx, id, wizard.StepVehicleBasics, map[string]any{"brand": "Tata", "year": "2019"}))
	city := "Pune"
	require.NoError(t, f.svc.UpdateMeta(ctx, id, MetaUpdate{City: &city, KeyFeatures: []string{"sunroof"}}))

	fresh := NewService(f.deps, Options{}, zaptest.NewLogger(t))
	view, err := fresh.Load(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, wizard.VehicleCar, view.State.VehicleType)
	assert.Equal(t, "Tata", view.State.Step(wizard.StepVehicleBasics)["brand"])
	assert.Equal(t, "2019", view.State.Step(wizard.StepVehicleBasics)["year"])
	assert.Equal(t, "Pune", view.State.City)
	assert.Equal(t, []string{"sunroof"}, view.State.KeyFeatures)
}

func TestUpdateIsNotPersistedUntilNext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Start(ctx, wizard.VehicleCar)
	require.NoError(t, err)
	require.NoError(t, f.svc.Update(ctx, id, wizard.StepVehicleBasics, map[string]any{"brand": "Kia"}))

	assert.Empty(t, f.mr.HGet(wizard.Key(id), "step:1"))

	require.NoError(t, f.svc.Next(ctx, id, wizard.StepVehicleBasics, nil))
	assert.JSONEq(t, `{"brand":"Kia"}`, f.mr.HGet(wizard.Key(id), "step:1"))
}

func TestBlur(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Start(ctx, wizard.VehicleCar)
	require.NoError(t, err)

	require.NoError(t, f.svc.Blur(ctx, id, wizard.StepVehicleBasics, "brand", "Honda"))
	assert.Empty(t, f.mr.HGet(wizard.Key(id), "step:1"), "plain fields are not persisted on blur")

	require.NoError(t, f.svc.Blur(ctx, id, wizard.StepIdentity, wizard.FieldNationalID, "1234 5678 9012 3456"))
	assert.JSONEq(t, `{"national_id":"1234 5678 9012 3456"}`, f.mr.HGet(wizard.Key(id), "step:6"))

	err = f.svc.Blur(ctx, id, wizard.StepSellerDetails, "phone", "12345")
	var ve *listing.ValidationError
	require.ErrorAs(t, err, &ve)
	view, err := f.svc.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "12345", view.State.Step(wizard.StepSellerDetails)["phone"], "value is kept for correction")

	err = f.svc.Blur(ctx, id, wizard.StepSellerDetails, "phone", json.Number("12345"))
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "seller_phone", ve.Field)

	require.NoError(t, f.svc.Blur(ctx, id, wizard.StepSellerDetails, "phone", json.Number("9820123456")))
}

func TestSwitchVehicleTypeClearsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Start(ctx, wizard.VehicleCar)
	require.NoError(t, err)
	require.NoError(t, f.svc.Next(ctx, id, wizard.StepVehicleBasics, map[string]any{"brand": "Tata", "transmission": "Manual"}))

	changed, err := f.svc.SwitchVehicleType(ctx, id, wizard.VehicleCar)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = f.svc.SwitchVehicleType(ctx, id, wizard.VehicleBike)
	require.NoError(t, err)
	assert.True(t, changed)

	view, err := f.svc.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, wizard.VehicleBike, view.State.VehicleType)
	assert.Empty(t, view.State.Step(wizard.StepVehicleBasics))
	assert.Empty(t, f.mr.HGet(wizard.Key(id), "step:1"))

	_, err = f.svc.SwitchVehicleType(ctx, id, "truck")
	assert.ErrorIs(t, err, ErrInvalidVehicleType)
}

func TestCaptureLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deps.Geocoder = &fakeGeocoder{place: &geocode.Place{Address: geocode.Address{City: "Bengaluru"}}}
	svc := NewService(f.deps, Options{}, zaptest.NewLogger(t))

	id, err := svc.Start(ctx, wizard.VehicleBike)
	require.NoError(t, err)

	city, err := svc.CaptureLocation(ctx, id, 12.9716, 77.5946)
	require.NoError(t, err)
	assert.Equal(t, "Bengaluru", city)

	view, err := svc.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Bengaluru", view.State.City)
	require.NotNil(t, view.State.Location)
	assert.Equal(t, 12.9716, view.State.Location.Latitude)

	_, err = svc.CaptureLocation(ctx, id, 91, 0)
	assert.ErrorIs(t, err, ErrInvalidCoordinates)
}

func TestCaptureLocation_GeocoderFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deps.Geocoder = &fakeGeocoder{err: errors.New("timeout")}
	svc := NewService(f.deps, Options{}, zaptest.NewLogger(t))

	id, err := svc.Start(ctx, wizard.VehicleCar)
	require.NoError(t, err)

	city, err := svc.CaptureLocation(ctx, id, 19.07, 72.87)
	require.NoError(t, err)
	assert.Empty(t, city)
}

func TestNavigationSurvivesRedisOutage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Start(ctx, wizard.VehicleCar)
	require.NoError(t, err)

	f.mr.Close()

	require.NoError(t, f.svc.Next(ctx, id, wizard.StepVehicleBasics, map[string]any{"brand": "Mahindra"}))
	require.NoError(t, f.svc.Blur(ctx, id, wizard.StepIdentity, wizard.FieldPAN, "ABCDE1234F"))

	view, err := f.svc.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Mahindra", view.State.Step(wizard.StepVehicleBasics)["brand"])
}

func TestClearAndUnknownSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Start(ctx, wizard.VehicleCar)
	require.NoError(t, err)

	require.NoError(t, f.svc.Clear(ctx, id))
	require.NoError(t, f.svc.Clear(ctx, id))
	assert.False(t, f.mr.Exists(wizard.Key(id)))

	_, err = f.svc.Load(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.svc.Load(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.svc.Start(ctx, "truck")
	assert.ErrorIs(t, err, ErrInvalidVehicleType)

	assert.ErrorIs(t, f.svc.Next(ctx, id, wizard.Step(9), nil), ErrInvalidStep)
}

func TestEvictIdleSnapshotsUnsavedEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	id, err := f.svc.Start(ctx, wizard.VehicleCar)
	require.NoError(t, err)
	require.NoError(t, f.svc.Update(ctx, id, wizard.StepPricing, map[string]any{"expected_price": "500000"}))

	assert.Zero(t, f.svc.EvictIdle(ctx))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, f.svc.EvictIdle(ctx))

	view, err := f.svc.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "500000", view.State.Step(wizard.StepPricing)["expected_price"])
}

func TestFlushPersistsEverySession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Start(ctx, wizard.VehicleCar)
	require.NoError(t, err)
	b, err := f.svc.Start(ctx, wizard.VehicleBike)
	require.NoError(t, err)
	require.NoError(t, f.svc.Update(ctx, a, wizard.StepVehicleBasics, map[string]any{"brand": "Skoda"}))
	require.NoError(t, f.svc.Update(ctx, b, wizard.StepVehicleBasics, map[string]any{"brand": "TVS"}))

	assert.Equal(t, 2, f.svc.Flush(ctx))
	assert.JSONEq(t, `{"brand":"Skoda"}`, f.mr.HGet(wizard.Key(a), "step:1"))
	assert.JSONEq(t, `{"brand":"TVS"}`, f.mr.HGet(wizard.Key(b), "step:1"))
}

// touchingStore runs onWrite once, right after the next hash write.
type touchingStore struct {
	wizard.HashStore
	onWrite func()
}

func (s *touchingStore) HSetWithTTL(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if err := s.HashStore.HSetWithTTL(ctx, key, fields, ttl); err != nil {
		return err
	}
	if fn := s.onWrite; fn != nil {
		s.onWrite = nil
		fn()
	}
	return nil
}

func TestEvictIdleKeepsSessionTouchedDuringSnapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	kv := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(kv.Close)
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store := &touchingStore{HashStore: kv}
	svc := NewService(Deps{
		Bridge:    wizard.NewBridge(store, time.Hour, logger),
		Assembler: listing.NewAssembler(),
		Inserter:  &fakeInserter{},
	}, Options{IdleTimeout: time.Minute}, logger)
	svc.now = func() time.Time { return now }

	id, err := svc.Start(ctx, wizard.VehicleCar)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	store.onWrite = func() {
		require.NoError(t, svc.Update(ctx, id, wizard.StepPricing, map[string]any{"expected_price": "450000"}))
	}

	assert.Zero(t, svc.EvictIdle(ctx))

	svc.mu.Lock()
	_, loaded := svc.sessions[id]
	svc.mu.Unlock()
	require.True(t, loaded)

	view, err := svc.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "450000", view.State.Step(wizard.StepPricing)["expected_price"])
}

func TestFlushKeepsSessionWhenSnapshotFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.Start(ctx, wizard.VehicleCar)
	require.NoError(t, err)
	require.NoError(t, f.svc.Update(ctx, id, wizard.StepVehicleBasics, map[string]any{"brand": "Kia"}))

	f.mr.Close()
	assert.Zero(t, f.svc.Flush(ctx))

	view, err := f.svc.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Kia", view.State.Step(wizard.StepVehicleBasics)["brand"])
}
