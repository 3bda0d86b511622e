package notifier

import "github.com/italolelis/syncbox/internal/transfer"

// Subject identifies the record an event is about.
type Subject struct {
	OcID      string
	FileName  string
	Direction transfer.Direction
}

// SubjectOf builds the Subject for rec.
func SubjectOf(rec transfer.Record) Subject {
	return Subject{OcID: rec.OcID, FileName: rec.FileName, Direction: rec.Direction()}
}

// Event is one of Started, Progressed, Succeeded or Failed.
type Event interface {
	isEvent()
	About() Subject
}

type Started struct {
	Subject
}

type Progressed struct {
	Subject
	// Fraction is in [0, 1].
	Fraction float64
}

type Succeeded struct {
	Subject
}

type Failed struct {
	Subject
	Err error
}

func (Started) isEvent()    {}
func (Progressed) isEvent() {}
func (Succeeded) isEvent()  {}
func (Failed) isEvent()     {}

func (s Subject) About() Subject { return s }
