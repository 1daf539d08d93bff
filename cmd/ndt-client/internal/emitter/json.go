package emitter

import (
	"encoding/json"
	"io"
	"time"
)

// jsonEmitter emits one JSON object per line, each timestamped, so a
// consumer can reconstruct the timeline of a run (speed samples in
// particular arrive every 250ms and are otherwise indistinguishable).
type jsonEmitter struct {
	out io.Writer
}

// NewJSON creates a new JSON emitter writing to w.
func NewJSON(w io.Writer) Emitter {
	return jsonEmitter{out: w}
}

// event is the wire shape of every line this emitter writes, except
// OnSummary which writes the bare Summary object.
type event struct {
	Time    time.Time   `json:"time"`
	Key     string      `json:"key"`
	Subtest string      `json:"subtest,omitempty"`
	Value   interface{} `json:"value"`
}

func (j jsonEmitter) emit(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = j.out.Write(append(data, '\n'))
	return err
}

func (j jsonEmitter) emitEvent(key string, value interface{}) error {
	return j.emit(event{Time: time.Now(), Key: key, Value: value})
}

// OnDebug emits debug events.
func (j jsonEmitter) OnDebug(m string) error {
	return j.emitEvent("debug", m)
}

// OnError emits error events.
func (j jsonEmitter) OnError(m string) error {
	return j.emitEvent("error", m)
}

// OnWarning emits warning events.
func (j jsonEmitter) OnWarning(m string) error {
	return j.emitEvent("warning", m)
}

// OnInfo emits info events.
func (j jsonEmitter) OnInfo(m string) error {
	return j.emitEvent("info", m)
}

// OnSpeed emits a speed event; subtest carries the ndt5/ndt7 subtest name
// ("download" or "upload") separately from the formatted value so a
// consumer doesn't have to parse it back out of a sentence.
func (j jsonEmitter) OnSpeed(subtest string, speed string) error {
	return j.emit(event{Time: time.Now(), Key: "speed", Subtest: subtest, Value: speed})
}

// OnSummary handles the summary event, emitted after the test is over.
func (j jsonEmitter) OnSummary(s *Summary) error {
	return j.emit(s)
}
