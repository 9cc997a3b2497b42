//go:build !linux

package gesture

import (
	"sync"

	"golang.design/x/hotkey"
)

type keyboard struct {
	hk     *hotkey.Hotkey
	events chan Event
	stop   chan struct{}
	once   sync.Once
}

func NewKeyboard() Input {
	return &keyboard{
		hk:     hotkey.New([]hotkey.Modifier{hotkey.ModCtrl, hotkey.ModShift}, hotkey.KeySpace),
		events: make(chan Event, 4),
		stop:   make(chan struct{}),
	}
}

func (k *keyboard) Register() error {
	if err := k.hk.Register(); err != nil {
		return err
	}
	go func() {
		for {
			select {
			case <-k.hk.Keydown():
				k.emit(Event{Kind: Down, Source: Key})
			case <-k.hk.Keyup():
				k.emit(Event{Kind: Up, Source: Key})
			case <-k.stop:
				return
			}
		}
	}()
	return nil
}

func (k *keyboard) emit(ev Event) {
	select {
	case k.events <- ev:
	case <-k.stop:
	}
}

func (k *keyboard) Unregister() {
	k.once.Do(func() {
		close(k.stop)
		k.hk.Unregister()
	})
}

func (k *keyboard) Events() <-chan Event {
	return k.events
}

func Diagnose() (string, error) {
	return "hotkey support available (Ctrl+Shift+Space)", nil
}
