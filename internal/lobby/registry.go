// internal/lobby/registry.go
package lobby

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/courier/internal/game"
	"github.com/jason-s-yu/courier/internal/models"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Settings tunes registry timing. Zero fields fall back to DefaultSettings.
type Settings struct {
	SessionDuration time.Duration // how long a started room stays active
	WaitingTTL      time.Duration // age after which a waiting room is swept
	FinishedTTL     time.Duration // age after which a finished room is swept
	StoreTimeout    time.Duration // bound on a single store write
	Generator       *game.OrderGenerator
	Now             func() time.Time
}

// DefaultSettings returns the production timings.
func DefaultSettings() Settings {
	return Settings{
		SessionDuration: game.DefaultSessionDuration,
		WaitingTTL:      24 * time.Hour,
		FinishedTTL:     time.Hour,
		StoreTimeout:    5 * time.Second,
		Generator:       game.NewOrderGenerator(),
		Now:             time.Now,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.SessionDuration <= 0 {
		s.SessionDuration = d.SessionDuration
	}
	if s.WaitingTTL <= 0 {
		s.WaitingTTL = d.WaitingTTL
	}
	if s.FinishedTTL <= 0 {
		s.FinishedTTL = d.FinishedTTL
	}
	if s.StoreTimeout <= 0 {
		s.StoreTimeout = d.StoreTimeout
	}
	if s.Generator == nil {
		s.Generator = d.Generator
	}
	if s.Now == nil {
		s.Now = d.Now
	}
	return s
}

// Registry owns every room, the user->room index and the per-user profiles.
//
// Lock order is always mu -> Room.Mu -> commitMu:
//   - mu guards the rooms map and the user index. Operations that change
//     membership hold it for writing throughout; claims only read-lock it to
//     find the room and release it before taking the room lock.
//   - Room.Mu serialises every mutation of a single room.
//   - commitMu guards the cached room snapshots, the profiles and the store
//     write, so the persisted document is rebuilt and saved before the
//     mutating lock is released.
//
// No lock is held while notifying users; callers get plain values back.
type Registry struct {
	log      logrus.FieldLogger
	store    Store
	settings Settings

	mu    sync.RWMutex
	rooms map[string]*game.Room
	index map[int64]string

	commitMu  sync.Mutex
	snapshots map[string]models.RoomSnapshot
	profiles  map[int64]*models.UserProfile
}

// NewRegistry builds an empty registry writing through to store.
func NewRegistry(store Store, settings Settings, log logrus.FieldLogger) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Registry{
		log:       log,
		store:     store,
		settings:  settings.withDefaults(),
		rooms:     make(map[string]*game.Room),
		index:     make(map[int64]string),
		snapshots: make(map[string]models.RoomSnapshot),
		profiles:  make(map[int64]*models.UserProfile),
	}
}

func (r *Registry) now() time.Time {
	return r.settings.Now().UTC()
}

// Restore replaces the in-memory state with the stored document. A missing or
// unreadable document leaves the registry empty; only the log records it.
func (r *Registry) Restore(ctx context.Context) {
	snap, err := r.store.Load(ctx)
	switch {
	case errors.Is(err, models.ErrNoSnapshot):
		r.log.Info("no stored registry found, starting empty")
		snap = models.NewRegistrySnapshot()
	case err != nil:
		r.log.WithError(err).Warn("failed to load registry, starting empty")
		snap = models.NewRegistrySnapshot()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	r.rooms = make(map[string]*game.Room, len(snap.Rooms))
	r.index = make(map[int64]string)
	r.snapshots = make(map[string]models.RoomSnapshot, len(snap.Rooms))
	r.profiles = make(map[int64]*models.UserProfile, len(snap.UserSessions))

	for id, rs := range snap.Rooms {
		if rs.RoomID == "" {
			rs.RoomID = id
		}
		// a user may occupy only one room; later duplicates are dropped
		rs.Players = slices.DeleteFunc(slices.Clone(rs.Players), func(p models.Player) bool {
			if other, taken := r.index[p.ID]; taken {
				r.log.WithFields(logrus.Fields{"room_id": id, "user_id": p.ID, "kept_in": other}).
					Warn("dropping duplicate room membership from stored registry")
				return true
			}
			r.index[p.ID] = id
			return false
		})
		if len(rs.Players) == 0 {
			continue
		}
		room := game.RoomFromSnapshot(rs, r.settings.Generator)
		if room.Capacity < room.PlayerCount() {
			room.Capacity = room.PlayerCount()
		}
		if room.Status == models.RoomActive && room.EndsAt == nil {
			ends := room.CreatedAt.Add(room.SessionDuration)
			room.EndsAt = &ends
		}
		r.rooms[id] = room
		r.snapshots[id] = room.Snapshot()
	}
	for userID, profile := range snap.UserSessions {
		p := profile
		p.Notes = slices.Clone(profile.Notes)
		r.profiles[userID] = &p
	}
	r.log.WithFields(logrus.Fields{"rooms": len(r.rooms), "users": len(r.profiles)}).Info("registry restored")
}

// commit runs fn under commitMu and writes the resulting document. A failed
// write is only logged; the in-memory state stays authoritative.
func (r *Registry) commit(ctx context.Context, fn func()) {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()
	if fn != nil {
		fn()
	}
	_ = r.persistLocked(ctx)
}

// persistLocked assumes commitMu is held.
func (r *Registry) persistLocked(ctx context.Context) error {
	doc := &models.RegistrySnapshot{
		Rooms:        make(map[string]models.RoomSnapshot, len(r.snapshots)),
		UserSessions: make(map[int64]models.UserProfile, len(r.profiles)),
	}
	for id, snap := range r.snapshots {
		doc.Rooms[id] = snap
	}
	for id, p := range r.profiles {
		doc.UserSessions[id] = models.UserProfile{Notes: slices.Clone(p.Notes), TotalOrders: p.TotalOrders}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.settings.StoreTimeout)
	defer cancel()
	if err := r.store.Save(ctx, doc); err != nil {
		err = fmt.Errorf("%w: %v", game.ErrPersistence, err)
		r.log.WithError(err).Error("failed to persist registry")
		return err
	}
	return nil
}

// profileLocked assumes commitMu is held.
func (r *Registry) profileLocked(userID int64) *models.UserProfile {
	p, ok := r.profiles[userID]
	if !ok {
		p = &models.UserProfile{}
		r.profiles[userID] = p
	}
	return p
}

func (r *Registry) newRoomID() string {
	for {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		if _, exists := r.rooms[id]; !exists {
			return id
		}
	}
}

// room looks up a live room without holding mu afterwards.
func (r *Registry) room(roomID string) (*game.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	return room, ok
}

// CreateRoom creates a waiting room seating creatorID as its first player.
func (r *Registry) CreateRoom(ctx context.Context, creatorID int64, name string, capacity int) (models.RoomSnapshot, error) {
	if capacity < 1 {
		capacity = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.index[creatorID]; busy {
		return models.RoomSnapshot{}, game.ErrAlreadyInRoom
	}

	now := r.now()
	room := game.NewRoom(r.newRoomID(), creatorID, capacity, now, r.settings.Generator)
	room.SessionDuration = r.settings.SessionDuration
	creator := models.NewPlayer(creatorID, name, now)

	room.Mu.Lock()
	defer room.Mu.Unlock()
	r.seedFromProfile(creator)
	if err := room.AddPlayer(creator); err != nil {
		return models.RoomSnapshot{}, err
	}
	r.rooms[room.ID] = room
	r.index[creatorID] = room.ID

	snap := room.Snapshot()
	r.commit(ctx, func() { r.snapshots[room.ID] = snap })
	r.log.WithFields(logrus.Fields{"room_id": room.ID, "user_id": creatorID, "capacity": capacity}).Info("room created")
	return snap, nil
}

// FindRoomForUser returns the room userID occupies.
func (r *Registry) FindRoomForUser(userID int64) (*game.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.index[userID]
	if !ok {
		return nil, false
	}
	room, ok := r.rooms[id]
	return room, ok
}

// RoomOf returns a snapshot of the room userID occupies.
func (r *Registry) RoomOf(userID int64) (models.RoomSnapshot, bool) {
	room, ok := r.FindRoomForUser(userID)
	if !ok {
		return models.RoomSnapshot{}, false
	}
	room.Mu.Lock()
	defer room.Mu.Unlock()
	if room.Removed {
		return models.RoomSnapshot{}, false
	}
	return room.Snapshot(), true
}

// Room returns a snapshot of roomID.
func (r *Registry) Room(roomID string) (models.RoomSnapshot, bool) {
	room, ok := r.room(roomID)
	if !ok {
		return models.RoomSnapshot{}, false
	}
	room.Mu.Lock()
	defer room.Mu.Unlock()
	if room.Removed {
		return models.RoomSnapshot{}, false
	}
	return room.Snapshot(), true
}

// JoinRoom seats userID in roomID and returns the updated room.
func (r *Registry) JoinRoom(ctx context.Context, roomID string, userID int64, name string) (models.RoomSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return models.RoomSnapshot{}, game.ErrRoomNotFound
	}
	if current, busy := r.index[userID]; busy {
		if current == roomID {
			return models.RoomSnapshot{}, game.ErrAlreadyJoined
		}
		return models.RoomSnapshot{}, game.ErrAlreadyInRoom
	}

	room.Mu.Lock()
	defer room.Mu.Unlock()
	if room.Status == models.RoomFinished {
		return models.RoomSnapshot{}, game.ErrRoomClosed
	}
	player := models.NewPlayer(userID, name, r.now())
	r.seedFromProfile(player)
	if err := room.AddPlayer(player); err != nil {
		return models.RoomSnapshot{}, err
	}
	r.index[userID] = roomID

	snap := room.Snapshot()
	r.commit(ctx, func() { r.snapshots[roomID] = snap })
	r.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}).Info("player joined room")
	return snap, nil
}

// BoardResult is returned by StartRoom.
type BoardResult struct {
	Orders  []models.Order
	Started bool    // the call moved the room from waiting to active
	Others  []int64 // other members at the time of the call
}

// StartRoom returns the board of roomID, starting the room if it is still
// waiting. With refresh set the board is replaced first.
func (r *Registry) StartRoom(ctx context.Context, roomID string, userID int64, refresh bool) (BoardResult, error) {
	room, ok := r.room(roomID)
	if !ok {
		return BoardResult{}, game.ErrRoomNotFound
	}
	room.Mu.Lock()
	defer room.Mu.Unlock()
	if room.Removed {
		return BoardResult{}, game.ErrRoomNotFound
	}
	if !room.HasPlayer(userID) {
		return BoardResult{}, game.ErrNotMember
	}
	if room.Status == models.RoomFinished {
		return BoardResult{}, game.ErrRoomClosed
	}

	res := BoardResult{Started: room.Start(r.now())}
	if refresh && !res.Started {
		if _, err := room.RefreshOrders(); err != nil {
			return BoardResult{}, err
		}
	}
	res.Orders = room.Orders()
	res.Others = lo.Without(room.PlayerIDs(), userID)

	snap := room.Snapshot()
	r.commit(ctx, func() { r.snapshots[roomID] = snap })
	if res.Started {
		r.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}).Info("room started")
	}
	return res, nil
}

// ClaimResult describes a successful claim.
type ClaimResult struct {
	Order  models.Order
	Player models.Player // claimant after the claim
	Others []int64
}

// ClaimOrder claims orderID in roomID for userID. Of several concurrent claims
// of the same order exactly one succeeds; the others get ErrOrderNotFound.
func (r *Registry) ClaimOrder(ctx context.Context, roomID string, userID int64, orderID string) (ClaimResult, error) {
	room, ok := r.room(roomID)
	if !ok {
		return ClaimResult{}, game.ErrRoomNotFound
	}
	room.Mu.Lock()
	defer room.Mu.Unlock()
	if room.Removed {
		return ClaimResult{}, game.ErrRoomNotFound
	}

	now := r.now()
	order, err := room.ClaimOrder(userID, orderID, now)
	if err != nil {
		return ClaimResult{}, err
	}
	player, _ := room.Player(userID)
	res := ClaimResult{
		Order:  order,
		Player: player.Clone(),
		Others: lo.Without(room.PlayerIDs(), userID),
	}

	snap := room.Snapshot()
	r.commit(ctx, func() {
		r.profileLocked(userID).TotalOrders++
		r.snapshots[roomID] = snap
	})
	return res, nil
}

// MarkStatsArmed stamps roomID with the time its hourly broadcast was armed
// and persists the stamp.
func (r *Registry) MarkStatsArmed(ctx context.Context, roomID string) error {
	return r.updateStats(ctx, roomID, func(room *game.Room) { room.StampStats(r.now()) })
}

// MarkStatsDelivered records that roomID's armed broadcast went out. rearmed
// is consulted under the room lock; when it reports a newer broadcast already
// armed the pending flag is left set.
func (r *Registry) MarkStatsDelivered(ctx context.Context, roomID string, rearmed func() bool) error {
	return r.updateStats(ctx, roomID, func(room *game.Room) {
		if rearmed == nil || !rearmed() {
			room.StatsDelivered()
		}
	})
}

func (r *Registry) updateStats(ctx context.Context, roomID string, apply func(*game.Room)) error {
	room, ok := r.room(roomID)
	if !ok {
		return game.ErrRoomNotFound
	}
	room.Mu.Lock()
	defer room.Mu.Unlock()
	if room.Removed {
		return game.ErrRoomNotFound
	}
	apply(room)
	snap := room.Snapshot()
	r.commit(ctx, func() { r.snapshots[roomID] = snap })
	return nil
}

// seedFromProfile copies the user's lifetime totals and notes onto a fresh
// seat. The caller holds the room lock.
func (r *Registry) seedFromProfile(p *models.Player) {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()
	profile := r.profileLocked(p.ID)
	p.TotalOrders = profile.TotalOrders
	p.Notes = slices.Clone(profile.Notes)
}

// LeaveResult describes a completed leave.
type LeaveResult struct {
	RoomID    string
	Player    models.Player
	Remaining []int64
	Capacity  int
	Deleted   bool
}

// LeaveRoom removes userID from their room, deleting the room once empty.
func (r *Registry) LeaveRoom(ctx context.Context, userID int64) (LeaveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomID, ok := r.index[userID]
	if !ok {
		return LeaveResult{}, game.ErrNotInRoom
	}
	room := r.rooms[roomID]

	room.Mu.Lock()
	defer room.Mu.Unlock()
	player, _ := room.Player(userID)
	res := LeaveResult{RoomID: roomID, Capacity: room.Capacity}
	if player != nil {
		res.Player = player.Clone()
	}
	room.RemovePlayer(userID)
	delete(r.index, userID)
	res.Remaining = room.PlayerIDs()

	if room.IsEmpty() {
		room.Removed = true
		delete(r.rooms, roomID)
		res.Deleted = true
		r.commit(ctx, func() { delete(r.snapshots, roomID) })
	} else {
		snap := room.Snapshot()
		r.commit(ctx, func() { r.snapshots[roomID] = snap })
	}
	r.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID, "deleted": res.Deleted}).Info("player left room")
	return res, nil
}

// SweptRoom is a room removed by SweepInactive.
type SweptRoom struct {
	ID      string
	Status  models.RoomStatus
	Members []int64
}

// SweepInactive finishes expired active rooms, then deletes waiting rooms
// older than WaitingTTL and finished rooms older than FinishedTTL, measured
// from creation. The document is written once if anything changed.
func (r *Registry) SweepInactive(ctx context.Context, now time.Time) []SweptRoom {
	now = now.UTC()
	r.mu.Lock()
	defer r.mu.Unlock()

	var swept []SweptRoom
	changed := false
	for id, room := range r.rooms {
		room.Mu.Lock()
		if room.Finish(now) {
			changed = true
			snap := room.Snapshot()
			r.commitMu.Lock()
			r.snapshots[id] = snap
			r.commitMu.Unlock()
		}
		age := now.Sub(room.CreatedAt)
		expired := (room.Status == models.RoomWaiting && age > r.settings.WaitingTTL) ||
			(room.Status == models.RoomFinished && age > r.settings.FinishedTTL)
		if expired {
			members := room.PlayerIDs()
			swept = append(swept, SweptRoom{ID: id, Status: room.Status, Members: members})
			room.Removed = true
			delete(r.rooms, id)
			for _, userID := range members {
				delete(r.index, userID)
			}
			r.commitMu.Lock()
			delete(r.snapshots, id)
			r.commitMu.Unlock()
			changed = true
		}
		room.Mu.Unlock()
	}

	if changed {
		r.commit(ctx, nil)
	}
	if len(swept) > 0 {
		r.log.WithField("rooms", lo.Map(swept, func(s SweptRoom, _ int) string { return s.ID })).Info("swept inactive rooms")
	}
	return swept
}

// AddNote appends text to the user's notes. While seated the note is also
// recorded on the player in the room. It returns the user's note count.
func (r *Registry) AddNote(ctx context.Context, userID int64, text string) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, game.ErrEmptyNote
	}

	var count int
	addToProfile := func() {
		p := r.profileLocked(userID)
		p.Notes = append(p.Notes, text)
		count = len(p.Notes)
	}

	room, seated := r.FindRoomForUser(userID)
	if !seated {
		r.commit(ctx, addToProfile)
		return count, nil
	}

	room.Mu.Lock()
	defer room.Mu.Unlock()
	if room.Removed || room.AddNote(userID, text) != nil {
		// left or swept between lookup and lock
		r.commit(ctx, addToProfile)
		return count, nil
	}
	snap := room.Snapshot()
	r.commit(ctx, func() {
		addToProfile()
		r.snapshots[room.ID] = snap
	})
	return count, nil
}

// Notes returns the user's notes, oldest first.
func (r *Registry) Notes(userID int64) []string {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return nil
	}
	return slices.Clone(p.Notes)
}

// ClearNotes drops every note of the user and returns how many were removed.
func (r *Registry) ClearNotes(ctx context.Context, userID int64) int {
	var cleared int
	drop := func() {
		if p, ok := r.profiles[userID]; ok {
			cleared = len(p.Notes)
			p.Notes = nil
		}
	}

	room, seated := r.FindRoomForUser(userID)
	if !seated {
		r.commit(ctx, drop)
		return cleared
	}
	room.Mu.Lock()
	defer room.Mu.Unlock()
	if player, ok := room.Player(userID); ok && !room.Removed {
		player.Notes = nil
		snap := room.Snapshot()
		r.commit(ctx, func() {
			drop()
			r.snapshots[room.ID] = snap
		})
		return cleared
	}
	r.commit(ctx, drop)
	return cleared
}

// Profile returns the user's side-table entry.
func (r *Registry) Profile(userID int64) models.UserProfile {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return models.UserProfile{}
	}
	return models.UserProfile{Notes: slices.Clone(p.Notes), TotalOrders: p.TotalOrders}
}

// OpenRooms lists waiting rooms with a free seat, oldest first, at most limit.
func (r *Registry) OpenRooms(limit int) []models.RoomSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type candidate struct {
		created time.Time
		summary models.RoomSummary
	}
	var open []candidate
	for _, room := range r.rooms {
		room.Mu.Lock()
		if room.Status == models.RoomWaiting && room.PlayerCount() < room.Capacity {
			creator, ok := room.Player(room.CreatorID)
			if !ok {
				creator = &models.Player{ID: room.CreatorID}
			}
			open = append(open, candidate{
				created: room.CreatedAt,
				summary: models.RoomSummary{
					ID:          room.ID,
					Occupancy:   room.PlayerCount(),
					Capacity:    room.Capacity,
					CreatorName: creator.Name(),
				},
			})
		}
		room.Mu.Unlock()
	}
	slices.SortFunc(open, func(a, b candidate) int {
		if c := a.created.Compare(b.created); c != 0 {
			return c
		}
		return strings.Compare(a.summary.ID, b.summary.ID)
	})
	if limit > 0 && len(open) > limit {
		open = open[:limit]
	}
	return lo.Map(open, func(c candidate, _ int) models.RoomSummary { return c.summary })
}

// Snapshot returns the document as it was last committed.
func (r *Registry) Snapshot() *models.RegistrySnapshot {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()
	doc := models.NewRegistrySnapshot()
	for id, snap := range r.snapshots {
		doc.Rooms[id] = snap
	}
	for id, p := range r.profiles {
		doc.UserSessions[id] = models.UserProfile{Notes: slices.Clone(p.Notes), TotalOrders: p.TotalOrders}
	}
	return doc
}
