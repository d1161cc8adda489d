package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mcdev12/jemima/go/internal/models"
)

func RoomKey(code string) string {
	return "rooms/" + code
}

func RoundKey(code string, round int) string {
	return "rooms/" + code + "/rounds/" + strconv.Itoa(round)
}

func PlayerKey(uid string) string {
	return "players/" + uid
}

// GetRoom returns ErrNotFound when the room does not exist.
func GetRoom(ctx context.Context, g Getter, code string) (*models.Room, error) {
	var room models.Room
	if err := getJSON(ctx, g, RoomKey(code), &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// GetRound returns ErrNotFound when the round has not been seeded.
func GetRound(ctx context.Context, g Getter, code string, round int) (*models.Round, error) {
	var rd models.Round
	if err := getJSON(ctx, g, RoundKey(code, round), &rd); err != nil {
		return nil, err
	}
	return &rd, nil
}

// GetPlayer returns an empty player when none is stored yet.
func GetPlayer(ctx context.Context, g Getter, uid string) (*models.Player, error) {
	var p models.Player
	err := getJSON(ctx, g, PlayerKey(uid), &p)
	if errors.Is(err, ErrNotFound) {
		return &models.Player{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PutRoom stamps timestamps.updatedAt and buffers the room write.
func PutRoom(tx Tx, code string, room *models.Room, at time.Time) error {
	room.Timestamps.UpdatedAt = at.UnixMilli()
	return putJSON(tx, RoomKey(code), room)
}

func PutRound(tx Tx, code string, round int, rd *models.Round) error {
	return putJSON(tx, RoundKey(code, round), rd)
}

func PutPlayer(tx Tx, uid string, p *models.Player) error {
	return putJSON(tx, PlayerKey(uid), p)
}

// UpdateRoom applies fn to the stored room inside a transaction. fn may
// return ErrSkip to leave the room untouched, in which case applied is false.
func UpdateRoom(ctx context.Context, s Store, code string, now func() time.Time, fn func(room *models.Room) error) (bool, error) {
	applied := false
	err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		applied = false
		room, err := GetRoom(ctx, tx, code)
		if err != nil {
			return err
		}
		if err := fn(room); err != nil {
			return err
		}
		if err := PutRoom(tx, code, room, now()); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if errors.Is(err, ErrSkip) {
		return false, nil
	}
	return applied, err
}

// DecodeRoom decodes a room snapshot delivered by Subscribe.
func DecodeRoom(snap Snapshot) (*models.Room, error) {
	if !snap.Exists {
		return nil, fmt.Errorf("%s: %w", snap.Key, ErrNotFound)
	}
	var room models.Room
	if err := json.Unmarshal(snap.Data, &room); err != nil {
		return nil, fmt.Errorf("decode %s: %w", snap.Key, err)
	}
	return &room, nil
}

func getJSON(ctx context.Context, g Getter, key string, v any) error {
	snap, err := g.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if !snap.Exists {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err := json.Unmarshal(snap.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func putJSON(tx Tx, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	tx.Set(key, data)
	return nil
}
