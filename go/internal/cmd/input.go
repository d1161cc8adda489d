package main

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// lineInput reads answers from a terminal: "a"/"1" or "b"/"2" choose an
// option and "r" retries a failed submit.
type lineInput struct {
	choices chan int
	retries chan struct{}
}

func newLineInput(ctx context.Context, r io.Reader) *lineInput {
	in := &lineInput{choices: make(chan int), retries: make(chan struct{})}
	go in.read(ctx, r)
	return in
}

func (in *lineInput) read(ctx context.Context, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.ToLower(strings.TrimSpace(sc.Text()))
		switch line {
		case "":
			continue
		case "r", "retry":
			select {
			case in.retries <- struct{}{}:
			case <-ctx.Done():
				return
			}
			continue
		}
		choice, ok := parseChoice(line)
		if !ok {
			log.Warn().Str("input", line).Msg("answer with a or b")
			continue
		}
		select {
		case in.choices <- choice:
		case <-ctx.Done():
			return
		}
	}
}

func parseChoice(s string) (int, bool) {
	switch s {
	case "a", "1":
		return 0, true
	case "b", "2":
		return 1, true
	}
	return 0, false
}

func (in *lineInput) Choices() <-chan int {
	return in.choices
}

func (in *lineInput) Retries() <-chan struct{} {
	return in.retries
}
