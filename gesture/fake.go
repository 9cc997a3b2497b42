package gesture

type Fake struct {
	events chan Event
}

func NewFake() *Fake {
	return &Fake{events: make(chan Event, 16)}
}

func (f *Fake) Register() error      { return nil }
func (f *Fake) Unregister()          {}
func (f *Fake) Events() <-chan Event { return f.events }

func (f *Fake) Down(src Source)   { f.events <- Event{Kind: Down, Source: src} }
func (f *Fake) Up(src Source)     { f.events <- Event{Kind: Up, Source: src} }
func (f *Fake) Cancel(src Source) { f.events <- Event{Kind: Cancel, Source: src} }
