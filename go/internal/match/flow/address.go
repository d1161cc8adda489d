// Package flow routes a match client between phase views. Each view owns
// its subscriptions and timers for one phase and asks the controller to
// navigate once the room has moved on.
package flow

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mcdev12/jemima/go/internal/match/phase"
	"github.com/mcdev12/jemima/go/internal/models"
)

var ErrBadAddress = errors.New("bad navigation address")

// Address names a phase view together with the room and round it shows.
type Address struct {
	Phase models.Phase
	Code  string
	Round int
}

// AddressFor is where a client should be for the observed room state.
func AddressFor(code string, room *models.Room) Address {
	return Address{Phase: room.State, Code: code, Round: room.Round}
}

func (a Address) String() string {
	q := url.Values{}
	q.Set("code", a.Code)
	q.Set("round", strconv.Itoa(a.Round))
	return "/" + string(a.Phase) + "?" + q.Encode()
}

// ParseAddress accepts the String form. A missing round defaults to the first round.
func ParseAddress(s string) (Address, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	p := models.Phase(strings.Trim(u.Path, "/"))
	if !phase.Known(p) {
		return Address{}, fmt.Errorf("%w: unknown phase %q", ErrBadAddress, p)
	}
	code := u.Query().Get("code")
	if code == "" {
		return Address{}, fmt.Errorf("%w: missing room code", ErrBadAddress)
	}
	round := models.FirstRound
	if r := u.Query().Get("round"); r != "" {
		round, err = strconv.Atoi(r)
		if err != nil || round < models.FirstRound || round > models.LastRound {
			return Address{}, fmt.Errorf("%w: round %q", ErrBadAddress, r)
		}
	}
	return Address{Phase: p, Code: code, Round: round}, nil
}
