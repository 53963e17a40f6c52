package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/Nayuta-umeda/anim5s-server/internal/v1/room"
)

// reservationEntry is one [token, {frameIndex, expiresAt}] pair as
// required by the room JSON shape (§4.C): reservations serialize as an
// array of two-element entries, not a JSON object, so token strings that
// happen to collide with JSON-unsafe characters never matter.
type reservationEntry struct {
	Token       string
	Reservation room.Reservation
}

func (e reservationEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.Token, e.Reservation})
}

func (e *reservationEntry) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &e.Token); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &e.Reservation)
}

// roomDoc is the on-disk shape of one room (§4.C). reservedByFrame is
// never stored; it is rebuilt on load from reservations minus committed
// frames.
type roomDoc struct {
	RoomID       string              `json:"roomId"`
	Theme        string              `json:"theme"`
	Frames       [room.FrameCount]string `json:"frames"`
	Committed    [room.FrameCount]bool   `json:"committed"`
	CreatedAt    int64               `json:"createdAt"`
	UpdatedAt    int64               `json:"updatedAt"`
	Phase        room.Phase          `json:"phase"`
	Reservations []reservationEntry  `json:"reservations"`
}

func toDoc(r *room.Room) roomDoc {
	r.RLock()
	defer r.RUnlock()
	return toDocLocked(r)
}

// toDocLocked is toDoc for a caller already holding Lock()/RLock().
func toDocLocked(r *room.Room) roomDoc {
	entries := make([]reservationEntry, 0, len(r.Reservations))
	for token, res := range r.Reservations {
		entries = append(entries, reservationEntry{Token: token, Reservation: res})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Token < entries[j].Token })

	return roomDoc{
		RoomID:       r.RoomID,
		Theme:        r.Theme,
		Frames:       r.Frames,
		Committed:    r.Committed,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		Phase:        r.Phase,
		Reservations: entries,
	}
}

func fromDoc(d roomDoc) *room.Room {
	r := &room.Room{
		RoomID:          d.RoomID,
		Theme:           d.Theme,
		Frames:          d.Frames,
		Committed:       d.Committed,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		Phase:           d.Phase,
		Reservations:    make(map[string]room.Reservation, len(d.Reservations)),
		ReservedByFrame: make(map[int]string),
	}
	for _, e := range d.Reservations {
		r.Reservations[e.Token] = e.Reservation
		// reservedByFrame ∩ (¬committed): a committed frame's reservation
		// is retained in the reservations log but never resurrected as a
		// live claim.
		if !r.Committed[e.Reservation.FrameIndex] {
			r.ReservedByFrame[e.Reservation.FrameIndex] = e.Token
		}
	}
	return r
}

// SaveRoom persists r atomically under rooms/<roomId>.json.
func (fs *FileStore) SaveRoom(r *room.Room) error {
	doc := toDoc(r)
	return atomicWriteJSON(fs.roomPath(doc.RoomID), "room", doc)
}

// SaveRoomLocked is SaveRoom for a caller already holding r.Lock()/RLock(),
// used inside a handler's per-room critical section so mutate-then-persist
// happens atomically (§5 "persistence coupling").
func (fs *FileStore) SaveRoomLocked(r *room.Room) error {
	doc := toDocLocked(r)
	return atomicWriteJSON(fs.roomPath(doc.RoomID), "room", doc)
}

// LoadRoom reads and deserializes rooms/<roomId>.json, rebuilding
// reservedByFrame and normalizing Phase. Returns os.ErrNotExist (wrapped)
// if the room has no file.
func (fs *FileStore) LoadRoom(roomID string) (*room.Room, error) {
	var doc roomDoc
	if err := readJSON(fs.roomPath(roomID), &doc); err != nil {
		return nil, err
	}
	r := fromDoc(doc)
	r.NormalizePhase()
	return r, nil
}

// RoomExists reports whether a room file is present on disk.
func (fs *FileStore) RoomExists(roomID string) bool {
	_, err := os.Stat(fs.roomPath(roomID))
	return err == nil
}

// ListRoomFiles scans rooms/*.json and returns the room IDs found,
// tolerating in-flight .tmp_* files left by a crashed writer.
func (fs *FileStore) ListRoomFiles() ([]string, error) {
	entries, err := os.ReadDir(fs.roomsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan rooms directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}
