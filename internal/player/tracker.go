package player

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-player/internal/course"
	"github.com/mind-engage/mindengage-player/internal/scorm/parser"
	"github.com/mind-engage/mindengage-player/internal/shim"
	syncx "github.com/mind-engage/mindengage-player/internal/sync"
)

var ErrSessionNotFound = errors.New("player: tracking session not found")

// Tracker owns the live shim sessions and persists their commits. There is
// at most one live record per (package, item, learner); every load of that
// item shares its id and holds a reference until End.
type Tracker struct {
	store  course.Store
	events EventRecorder

	mu       sync.Mutex
	sessions map[string]*tracked
	byKey    map[trackingKey]string

	now func() time.Time
}

type trackingKey struct{ packageID, itemID, userID string }

type tracked struct {
	rec     course.Tracking
	session *shim.Session
	refs    int
}

func NewTracker(store course.Store, events EventRecorder) *Tracker {
	return &Tracker{
		store:    store,
		events:   events,
		sessions: map[string]*tracked{},
		byKey:    map[trackingKey]string{},
		now:      time.Now,
	}
}

// Begin starts a fresh session for learner on item, resuming from the last
// committed values when there are any. A live record for the same item and
// learner keeps its id; the caller must End it once the load is replaced.
func (t *Tracker) Begin(ctx context.Context, packageID string, item parser.Item, learner shim.Learner) (string, *shim.Session, error) {
	key := trackingKey{packageID, item.ID, learner.ID}

	t.mu.Lock()
	if id, ok := t.byKey[key]; ok {
		tr := t.sessions[id]
		tr.refs++
		tr.session = t.newSession(id, tr.rec, item, learner)
		s := tr.session
		t.mu.Unlock()
		return id, s, nil
	}
	t.mu.Unlock()

	rec, err := t.store.FindTracking(ctx, packageID, item.ID, learner.ID)
	switch {
	case errors.Is(err, course.ErrNotFound):
		rec = course.Tracking{ID: uuid.NewString(), PackageID: packageID, ItemID: item.ID, UserID: learner.ID}
	case err != nil:
		return "", nil, fmt.Errorf("load tracking: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// another load may have registered the key while the store was read
	if id, ok := t.byKey[key]; ok {
		rec = t.sessions[id].rec
	}
	tr, ok := t.sessions[rec.ID]
	if !ok {
		tr = &tracked{rec: rec}
		t.sessions[rec.ID] = tr
		t.byKey[key] = rec.ID
	}
	tr.refs++
	tr.session = t.newSession(rec.ID, tr.rec, item, learner)
	return rec.ID, tr.session, nil
}

func (t *Tracker) newSession(id string, rec course.Tracking, item parser.Item, learner shim.Learner) *shim.Session {
	seed := shim.Seed{
		Learner:      learner,
		LaunchData:   item.LaunchData,
		MasteryScore: item.MasteryScore,
		Resume:       rec.Values,
	}
	return shim.NewSession(seed, func(values map[string]string) error {
		return t.persist(id, values)
	})
}

// Session returns the live session for a tracking id.
func (t *Tracker) Session(id string) (*shim.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.sessions[id]
	if !ok {
		return nil, false
	}
	return tr.session, true
}

// Get returns the live values when a session is active, the last
// committed ones otherwise.
func (t *Tracker) Get(ctx context.Context, id string) (course.Tracking, error) {
	t.mu.Lock()
	tr, ok := t.sessions[id]
	var (
		rec course.Tracking
		s   *shim.Session
	)
	if ok {
		rec, s = tr.rec, tr.session
	}
	t.mu.Unlock()
	if ok {
		rec.Values = s.Snapshot()
		rec.Status = rec.Values["cmi.core.lesson_status"]
		return rec, nil
	}
	rec, err := t.store.GetTracking(ctx, id)
	if errors.Is(err, course.ErrNotFound) {
		return course.Tracking{}, ErrSessionNotFound
	}
	return rec, err
}

// Commit applies values posted by the in-page API and persists the result.
// Rejected keys are returned and left unchanged.
func (t *Tracker) Commit(id string, values map[string]string) (map[string]string, error) {
	s, ok := t.Session(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	rejected := s.Apply(values)
	if s.Commit("") != shim.True {
		return rejected, fmt.Errorf("commit %s: error %s", id, s.GetLastError())
	}
	return rejected, nil
}

// Reset returns the session to its seeded values.
func (t *Tracker) Reset(id string) error {
	s, ok := t.Session(id)
	if !ok {
		return ErrSessionNotFound
	}
	s.Reset()
	return nil
}

// End releases one load's hold on the live session. The session is dropped
// with the last hold; committed values stay in the store.
func (t *Tracker) End(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.sessions[id]
	if !ok {
		return
	}
	tr.refs--
	if tr.refs > 0 {
		return
	}
	delete(t.sessions, id)
	delete(t.byKey, trackingKey{tr.rec.PackageID, tr.rec.ItemID, tr.rec.UserID})
}

// Live reports how many sessions are held.
func (t *Tracker) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *Tracker) persist(id string, values map[string]string) error {
	t.mu.Lock()
	tr, ok := t.sessions[id]
	var rec course.Tracking
	if ok {
		rec = tr.rec
	}
	t.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec.Values = values
	rec.Status = values["cmi.core.lesson_status"]
	rec.UpdatedAt = t.now().Unix()
	if err := t.store.SaveTracking(ctx, rec); err != nil {
		log.Printf("player: persist tracking %s: %v", id, err)
		return err
	}
	t.mu.Lock()
	tr.rec = rec
	t.mu.Unlock()

	if t.events != nil {
		if err := t.events.Record(ctx, syncx.TypeTrackingCommitted, id, map[string]string{
			"package_id": rec.PackageID,
			"item_id":    rec.ItemID,
			"user_id":    rec.UserID,
			"status":     rec.Status,
			"score":      values["cmi.core.score.raw"],
		}); err != nil {
			log.Printf("player: event %s %s: %v", syncx.TypeTrackingCommitted, id, err)
		}
	}
	return nil
}
