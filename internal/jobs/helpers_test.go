package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"schedbot/internal/recipient"
)

var bogota = mustLoc("America/Bogota")

func mustLoc(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

type sent struct {
	to   recipient.Recipient
	text string
}

type fakeSender struct {
	mu   sync.Mutex
	fail map[recipient.Recipient]bool
	got  []sent
}

func (f *fakeSender) Send(ctx context.Context, to recipient.Recipient, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, sent{to: to, text: text})
	if f.fail[to] {
		return errors.New("delivery refused")
	}
	return nil
}

func (f *fakeSender) sent() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.got...)
}
