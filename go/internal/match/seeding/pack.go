// Package seeding loads a room's questions pack and writes its round documents.
package seeding

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mcdev12/jemima/go/internal/models"
)

const (
	PackVersion = "jemima-questions-1"

	DefaultHostUID  = "demo-host"
	DefaultGuestUID = "demo-guest"
)

var ErrInvalidPack = errors.New("invalid questions pack")

var roomCodePattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Pack is a normalized questions pack.
type Pack struct {
	Version string               `json:"version"`
	Meta    PackMeta             `json:"meta"`
	Rounds  map[string]RoundPack `json:"rounds"`
}

type PackMeta struct {
	RoomCode    string `json:"roomCode"`
	GeneratedAt string `json:"generatedAt,omitempty"`
	HostUID     string `json:"hostUid"`
	GuestUID    string `json:"guestUid"`
}

type RoundPack struct {
	HostItems  []models.Item `json:"hostItems"`
	GuestItems []models.Item `json:"guestItems"`
	Interlude  string        `json:"interlude,omitempty"`
}

// Round returns the items for round n.
func (p *Pack) Round(n int) RoundPack {
	return p.Rounds[strconv.Itoa(n)]
}

// ValidRoomCode reports whether code is three uppercase letters.
func ValidRoomCode(code string) bool {
	return roomCodePattern.MatchString(code)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPack, fmt.Sprintf(format, args...))
}

type rawPack struct {
	Version json.RawMessage `json:"version"`
	Meta    PackMeta        `json:"meta"`
	Rounds  json.RawMessage `json:"rounds"`
}

type rawRound struct {
	HostItems  []json.RawMessage `json:"hostItems"`
	GuestItems []json.RawMessage `json:"guestItems"`
	Interlude  json.RawMessage   `json:"interlude"`
}

// ParsePack decodes and normalizes a plaintext pack. Rounds may be an
// object keyed "1".."5" or a list of objects carrying a round number, and
// legacy question/correct_answer/distractors items are converted to two
// options with the correct answer first.
func ParsePack(data []byte) (*Pack, error) {
	var raw rawPack
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPack, err)
	}

	pack := &Pack{Version: PackVersion, Meta: raw.Meta, Rounds: make(map[string]RoundPack)}
	var version string
	if json.Unmarshal(raw.Version, &version) == nil && strings.HasPrefix(version, "jemima-questions-") {
		pack.Version = version
	}
	if pack.Version != PackVersion {
		return nil, invalid("version must be %q, got %q", PackVersion, pack.Version)
	}
	if !ValidRoomCode(pack.Meta.RoomCode) {
		return nil, invalid("meta.roomCode must be 3 uppercase letters, got %q", pack.Meta.RoomCode)
	}
	if pack.Meta.HostUID == "" {
		pack.Meta.HostUID = DefaultHostUID
	}
	if pack.Meta.GuestUID == "" {
		pack.Meta.GuestUID = DefaultGuestUID
	}

	rounds, err := decodeRounds(raw.Rounds)
	if err != nil {
		return nil, err
	}
	for n := models.FirstRound; n <= models.LastRound; n++ {
		key := strconv.Itoa(n)
		rr, ok := rounds[key]
		if !ok {
			return nil, invalid("missing round %s", key)
		}
		rp := RoundPack{}
		if rp.HostItems, err = normalizeItems(key, "hostItems", rr.HostItems); err != nil {
			return nil, err
		}
		if rp.GuestItems, err = normalizeItems(key, "guestItems", rr.GuestItems); err != nil {
			return nil, err
		}
		var interlude string
		if json.Unmarshal(rr.Interlude, &interlude) == nil && strings.TrimSpace(interlude) != "" {
			rp.Interlude = interlude
		}
		pack.Rounds[key] = rp
	}
	return pack, nil
}

func decodeRounds(data json.RawMessage) (map[string]rawRound, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, invalid("rounds must be an object or array")
	}
	switch trimmed[0] {
	case '{':
		var out map[string]rawRound
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, fmt.Errorf("%w: rounds: %v", ErrInvalidPack, err)
		}
		return out, nil
	case '[':
		var list []struct {
			Round json.Number `json:"round"`
			rawRound
		}
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("%w: rounds: %v", ErrInvalidPack, err)
		}
		out := make(map[string]rawRound, len(list))
		for _, r := range list {
			n, err := strconv.Atoi(r.Round.String())
			if err != nil || n < models.FirstRound || n > models.LastRound {
				return nil, invalid("each listed round needs a round number 1..5, got %q", r.Round)
			}
			out[strconv.Itoa(n)] = r.rawRound
		}
		return out, nil
	}
	return nil, invalid("rounds must be an object or array")
}

func normalizeItems(round, side string, raw []json.RawMessage) ([]models.Item, error) {
	if len(raw) != models.ItemsPerRole {
		return nil, invalid("round %s: need %d %s, got %d", round, models.ItemsPerRole, side, len(raw))
	}
	items := make([]models.Item, 0, len(raw))
	for i, r := range raw {
		item, err := normalizeItem(r)
		if err != nil {
			return nil, fmt.Errorf("round %s %s[%d]: %w", round, side, i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

type legacyItem struct {
	Question      string         `json:"question"`
	CorrectAnswer string         `json:"correct_answer"`
	Distractors   map[string]any `json:"distractors"`
}

func normalizeItem(raw json.RawMessage) (models.Item, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return models.Item{}, fmt.Errorf("%w: item: %v", ErrInvalidPack, err)
	}
	_, hasPrompt := fields["prompt"]
	_, hasOptions := fields["options"]
	_, hasCorrect := fields["correct"]

	var item models.Item
	if hasPrompt && hasOptions && hasCorrect {
		if err := json.Unmarshal(raw, &item); err != nil {
			return models.Item{}, fmt.Errorf("%w: item: %v", ErrInvalidPack, err)
		}
	} else {
		var legacy legacyItem
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return models.Item{}, fmt.Errorf("%w: legacy item: %v", ErrInvalidPack, err)
		}
		if strings.TrimSpace(legacy.Question) == "" {
			return models.Item{}, invalid("legacy item missing question")
		}
		if strings.TrimSpace(legacy.CorrectAnswer) == "" {
			return models.Item{}, invalid("legacy item missing correct_answer")
		}
		distractor, ok := pickDistractor(legacy.Distractors)
		if !ok {
			return models.Item{}, invalid("legacy item has no usable distractor")
		}
		item = models.Item{Prompt: legacy.Question, Options: []string{legacy.CorrectAnswer, distractor}, Correct: "A"}
	}
	return item, validateItem(item)
}

// pickDistractor prefers medium, then easy, then hard, then any other key.
func pickDistractor(ds map[string]any) (string, bool) {
	for _, key := range []string{"medium", "easy", "hard"} {
		if s, ok := ds[key].(string); ok && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	keys := make([]string, 0, len(ds))
	for k := range ds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := ds[k].(string); ok && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

func validateItem(item models.Item) error {
	if strings.TrimSpace(item.Prompt) == "" {
		return invalid("prompt missing")
	}
	if len(item.Options) != 2 {
		return invalid("item needs exactly 2 options, got %d", len(item.Options))
	}
	for _, o := range item.Options {
		if strings.TrimSpace(o) == "" {
			return invalid("options must be two non-empty strings")
		}
	}
	if item.Correct != "A" && item.Correct != "B" {
		return invalid("correct must be 'A' or 'B', got %q", item.Correct)
	}
	return nil
}
