package emitter

// Quiet acts as a filter allowing only error, warning and summary
// messages through, suppressing the chatty info/debug/speed stream. The
// message is actually emitted by the embedded Emitter. Warnings pass
// through (unlike a strict errors-and-summary-only filter), so a stripped
// unimplemented subtest bit, a busy server, a retry or a flow that stopped
// early stays visible.
type Quiet struct {
	emitter Emitter
}

// NewQuiet returns a Quiet emitter which emits messages via e.
func NewQuiet(e Emitter) Emitter {
	return &Quiet{
		emitter: e,
	}
}

// OnDebug does not emit anything.
func (q Quiet) OnDebug(string) error {
	return nil
}

// OnError emits the error event.
func (q Quiet) OnError(m string) error {
	return q.emitter.OnError(m)
}

// OnWarning emits the warning event.
func (q Quiet) OnWarning(m string) error {
	return q.emitter.OnWarning(m)
}

// OnInfo does not emit anything.
func (q Quiet) OnInfo(string) error {
	return nil
}

// OnSpeed does not emit anything.
func (q Quiet) OnSpeed(string, string) error {
	return nil
}

// OnSummary handles the summary event, emitted after the test is over.
func (q Quiet) OnSummary(s *Summary) error {
	return q.emitter.OnSummary(s)
}
