package wizard

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SchemaVersion is written into every session hash. Hashes carrying any
// other version are ignored on rehydrate.
const SchemaVersion = "1"

const (
	fieldVersion    = "version"
	fieldMeta       = "meta"
	stepFieldPrefix = "step:"
)

// HashStore is the subset of the Redis client the bridge needs.
type HashStore interface {
	HSetWithTTL(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, keys ...string) error
}

// Bridge snapshots wizard state into one Redis hash per session.
type Bridge struct {
	kv     HashStore
	ttl    time.Duration
	logger *zap.Logger
}

func NewBridge(kv HashStore, ttl time.Duration, logger *zap.Logger) *Bridge {
	return &Bridge{kv: kv, ttl: ttl, logger: logger}
}

func Key(session string) string {
	return "wizard:v" + SchemaVersion + ":" + session
}

func stepField(step Step) string {
	return stepFieldPrefix + strconv.Itoa(int(step))
}

// SnapshotStep writes the record of one step together with the top-level
// fields.
func (b *Bridge) SnapshotStep(ctx context.Context, session string, state State, step Step) error {
	rec, err := json.Marshal(state.Step(step))
	if err != nil {
		return fmt.Errorf("marshal step %d: %w", step, err)
	}
	meta, err := json.Marshal(state.Meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}

	fields := map[string]string{
		fieldVersion:    SchemaVersion,
		fieldMeta:       string(meta),
		stepField(step): string(rec),
	}
	if err := b.kv.HSetWithTTL(ctx, Key(session), fields, b.ttl); err != nil {
		return fmt.Errorf("save step %d: %w", step, err)
	}
	return nil
}

// SnapshotMeta writes only the top-level fields.
func (b *Bridge) SnapshotMeta(ctx context.Context, session string, state State) error {
	meta, err := json.Marshal(state.Meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	fields := map[string]string{
		fieldVersion: SchemaVersion,
		fieldMeta:    string(meta),
	}
	if err := b.kv.HSetWithTTL(ctx, Key(session), fields, b.ttl); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	return nil
}

// SnapshotAll writes the top-level fields and every step record.
func (b *Bridge) SnapshotAll(ctx context.Context, session string, state State) error {
	meta, err := json.Marshal(state.Meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	fields := map[string]string{
		fieldVersion: SchemaVersion,
		fieldMeta:    string(meta),
	}
	for step, rec := range state.Steps {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal step %d: %w", step, err)
		}
		fields[stepField(step)] = string(data)
	}
	if err := b.kv.HSetWithTTL(ctx, Key(session), fields, b.ttl); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Rehydrate rebuilds the state of a session. Unparsable entries are logged
// and skipped. found is false when nothing usable was stored.
func (b *Bridge) Rehydrate(ctx context.Context, session string) (state State, found bool, err error) {
	state = NewState("")

	fields, err := b.kv.HGetAll(ctx, Key(session))
	if err != nil {
		return state, false, fmt.Errorf("load state: %w", err)
	}
	if len(fields) == 0 {
		return state, false, nil
	}

	if v := fields[fieldVersion]; v != SchemaVersion {
		b.logger.Warn("Ignoring wizard state with unknown schema version",
			zap.String("session", session),
			zap.String("version", v))
		return state, false, nil
	}

	if raw, ok := fields[fieldMeta]; ok {
		var meta Meta
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			b.logger.Warn("Skipping malformed wizard meta",
				zap.String("session", session),
				zap.Error(err))
		} else {
			state.Meta = meta
		}
	}

	for name, raw := range fields {
		if !strings.HasPrefix(name, stepFieldPrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, stepFieldPrefix))
		if err != nil {
			b.logger.Warn("Skipping unknown wizard field",
				zap.String("session", session),
				zap.String("field", name))
			continue
		}
		var rec StepRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			b.logger.Warn("Skipping malformed wizard step",
				zap.String("session", session),
				zap.Int("step", n),
				zap.Error(err))
			continue
		}
		if rec == nil {
			rec = StepRecord{}
		}
		state.Steps[Step(n)] = rec
	}

	return state, true, nil
}

// ClearAll removes everything stored for the session. Clearing an already
// cleared session is a no-op.
func (b *Bridge) ClearAll(ctx context.Context, session string) error {
	if err := b.kv.Del(ctx, Key(session)); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}
