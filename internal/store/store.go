// Package store implements the record lifecycle controller. It owns one
// search session at a time: the fetched result set, the composite-key
// selection and the loading/removing status, and it orchestrates removal with
// local mutation only after the backend confirms.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/nwfth/rm-unpick/internal/model"
	"github.com/nwfth/rm-unpick/internal/notify"
	apperrors "github.com/nwfth/rm-unpick/pkg/errors"
)

// Status is the session's lifecycle state.
type Status string

const (
	// StatusInitial is the pre-search state.
	StatusInitial Status = "initial"
	// StatusLoading means a search is in flight.
	StatusLoading Status = "loading"
	// StatusReady means a search completed; the result set may be empty.
	StatusReady Status = "ready"
	// StatusRemoving means a removal is awaiting backend confirmation.
	StatusRemoving Status = "removing"
	// StatusError means the last operation failed; see Snapshot().Err.
	StatusError Status = "error"
)

// Gateway is the slice of the remote adapter the store drives.
type Gateway interface {
	SearchRecords(ctx context.Context, runNo int) ([]model.Line, error)
	RemoveRecords(ctx context.Context, runNo int, items []model.Key, userLogon string) (int, error)
}

// IdentityProvider supplies the acting operator for mutation attribution.
type IdentityProvider interface {
	Require() (model.User, error)
}

// Snapshot is a read-only copy of the session handed to the presentation
// layer. Mutation happens only through store operations.
type Snapshot struct {
	RunNo    int
	Lines    []model.Line
	Selected []model.Key
	Status   Status
	Err      string
	Note     string
}

// RemoveResult reports a confirmed removal. Affected is the backend-reported
// row count, which may differ from len(Removed).
type RemoveResult struct {
	Affected int
	Removed  []model.Line
}

// Store owns the search session. All operations are safe for concurrent use;
// state is mutated only after the awaited gateway call resolves.
type Store struct {
	gw       Gateway
	identity IdentityProvider
	bus      *notify.Bus
	log      *zap.Logger

	mu       sync.Mutex
	gen      uint64
	runNo    int
	lines    []model.Line
	selected map[model.Key]struct{}
	status   Status
	errMsg   string
	note     string
}

// New constructs an empty, pre-search store.
func New(gw Gateway, identity IdentityProvider, bus *notify.Bus, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		gw:       gw,
		identity: identity,
		bus:      bus,
		log:      log,
		selected: make(map[model.Key]struct{}),
		status:   StatusInitial,
	}
}

// Search replaces the session with the result set of the given run. The
// selection and any prior error are cleared before the request goes out. A
// zero-length result is not an error; it surfaces as an informational note.
// Results of a search superseded by a newer one are discarded.
func (s *Store) Search(ctx context.Context, runNo int) error {
	s.mu.Lock()
	if s.status == StatusRemoving {
		s.mu.Unlock()
		return s.fail(apperrors.ErrSessionBusy)
	}
	s.gen++
	gen := s.gen
	s.status = StatusLoading
	s.runNo = runNo
	s.errMsg = ""
	s.note = ""
	s.selected = make(map[model.Key]struct{})
	s.mu.Unlock()

	lines, err := s.gw.SearchRecords(ctx, runNo)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.log.Debug("discarding superseded search result", zap.Int("run_no", runNo))
		return nil
	}

	if err != nil {
		s.lines = nil
		s.status = StatusError
		s.errMsg = apperrors.FromError(err).Message
		message := s.errMsg
		s.mu.Unlock()
		s.publish(notify.LevelError, message)
		return err
	}

	s.lines = lines
	s.status = StatusReady
	var level notify.Level
	var message string
	if len(lines) == 0 {
		s.note = fmt.Sprintf("No records found for RunNo: %d", runNo)
		level, message = notify.LevelInfo, s.note
	} else {
		level, message = notify.LevelInfo, fmt.Sprintf("Loaded %d records for RunNo: %d", len(lines), runNo)
	}
	s.mu.Unlock()
	s.publish(level, message)
	return nil
}

// Remove sends the current selection to the backend and, only on confirmed
// success, deletes the matching records locally and clears the selection.
// A failed removal leaves the result set and selection untouched.
func (s *Store) Remove(ctx context.Context) (RemoveResult, error) {
	s.mu.Lock()
	if s.status == StatusLoading || s.status == StatusRemoving {
		s.mu.Unlock()
		return RemoveResult{}, s.fail(apperrors.ErrSessionBusy)
	}
	if s.runNo <= 0 {
		s.mu.Unlock()
		return RemoveResult{}, s.fail(apperrors.ErrNoRun)
	}
	if len(s.selected) == 0 {
		s.mu.Unlock()
		return RemoveResult{}, s.fail(apperrors.ErrNoSelection)
	}

	user, err := s.identity.Require()
	if err != nil {
		s.mu.Unlock()
		return RemoveResult{}, s.fail(apperrors.FromError(err))
	}

	items := s.selectedKeysLocked()
	removed := make([]model.Line, 0, len(items))
	for _, line := range s.lines {
		if _, ok := s.selected[line.Key()]; ok {
			removed = append(removed, line)
		}
	}
	runNo := s.runNo
	gen := s.gen
	s.status = StatusRemoving
	s.errMsg = ""
	s.mu.Unlock()

	affected, err := s.gw.RemoveRecords(ctx, runNo, items, user.Username)

	s.mu.Lock()
	if gen != s.gen {
		// Session was reset while the removal was in flight; the backend
		// outcome no longer applies to any local state.
		s.mu.Unlock()
		return RemoveResult{Affected: affected, Removed: removed}, err
	}
	if err != nil {
		s.status = StatusError
		s.errMsg = apperrors.FromError(err).Message
		message := s.errMsg
		s.mu.Unlock()
		s.publish(notify.LevelError, message)
		return RemoveResult{}, err
	}

	keep := s.lines[:0]
	for _, line := range s.lines {
		if _, ok := s.selected[line.Key()]; !ok {
			keep = append(keep, line)
		}
	}
	s.lines = keep
	s.selected = make(map[model.Key]struct{})
	s.status = StatusReady
	s.mu.Unlock()

	s.publish(notify.LevelSuccess, fmt.Sprintf("Removed %d record(s) from RunNo: %d", affected, runNo))
	s.log.Info("removal confirmed",
		zap.Int("run_no", runNo),
		zap.Int("requested", len(items)),
		zap.Int("affected", affected),
		zap.String("user", user.Username))

	return RemoveResult{Affected: affected, Removed: removed}, nil
}

// SetSelection replaces the selection wholesale, keeping only keys that are
// present in the current result set and eligible.
func (s *Store) SetSelection(keys []model.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	eligible := s.eligibleLocked()
	next := make(map[model.Key]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := eligible[k]; ok {
			next[k] = struct{}{}
		}
	}
	s.selected = next
}

// ToggleSelection flips membership of one composite key. Absent or
// ineligible records are a no-op.
func (s *Store) ToggleSelection(rowNum, lineID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := model.Key{RowNum: rowNum, LineID: lineID}
	if _, ok := s.eligibleLocked()[key]; !ok {
		return
	}
	if _, ok := s.selected[key]; ok {
		delete(s.selected, key)
	} else {
		s.selected[key] = struct{}{}
	}
}

// SelectAll selects exactly the eligible records of the current result set.
func (s *Store) SelectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[model.Key]struct{})
	for k := range s.eligibleLocked() {
		next[k] = struct{}{}
	}
	s.selected = next
}

// ClearSelection empties the selection set.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = make(map[model.Key]struct{})
}

// ClearError drops the error message without touching the result set.
func (s *Store) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = ""
	if s.status == StatusError {
		if s.runNo > 0 {
			s.status = StatusReady
		} else {
			s.status = StatusInitial
		}
	}
}

// Reset returns the session to its initial pre-search state. In-flight
// search results are discarded when they land.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.runNo = 0
	s.lines = nil
	s.selected = make(map[model.Key]struct{})
	s.status = StatusInitial
	s.errMsg = ""
	s.note = ""
}

// Snapshot returns a defensive copy of the session for reading.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		RunNo:    s.runNo,
		Lines:    append([]model.Line(nil), s.lines...),
		Selected: s.selectedKeysLocked(),
		Status:   s.status,
		Err:      s.errMsg,
		Note:     s.note,
	}
}

// SelectableCount reports how many records of the current result set pass
// the eligibility predicate.
func (s *Store) SelectableCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.eligibleLocked())
}

// IsSelected reports membership of one composite key in the selection.
func (s *Store) IsSelected(rowNum, lineID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.selected[model.Key{RowNum: rowNum, LineID: lineID}]
	return ok
}

// fail records a local validation failure on the session and republishes it.
func (s *Store) fail(err *apperrors.Error) error {
	s.mu.Lock()
	s.errMsg = err.Message
	s.mu.Unlock()
	s.publish(notify.LevelWarning, err.Message)
	return err
}

// eligibleLocked indexes the eligible lines of the result set by key.
// Eligibility is always re-derived from the authoritative quantities.
func (s *Store) eligibleLocked() map[model.Key]model.Line {
	eligible := make(map[model.Key]model.Line, len(s.lines))
	for _, line := range s.lines {
		if line.Selectable() {
			eligible[line.Key()] = line
		}
	}
	return eligible
}

// selectedKeysLocked materialises the selection in deterministic order.
func (s *Store) selectedKeysLocked() []model.Key {
	keys := make([]model.Key, 0, len(s.selected))
	for k := range s.selected {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].RowNum != keys[j].RowNum {
			return keys[i].RowNum < keys[j].RowNum
		}
		return keys[i].LineID < keys[j].LineID
	})
	return keys
}

func (s *Store) publish(level notify.Level, message string) {
	s.bus.Publish(notify.Notification{Level: level, Message: message})
}
