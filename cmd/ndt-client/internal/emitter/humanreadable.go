package emitter

import (
	"fmt"
	"io"
	"os"
)

// HumanReadable is a human readable emitter. It emits the events generated
// by running an ndt5 or ndt7 test as pleasant stdout messages.
type HumanReadable struct {
	out io.Writer
}

// NewHumanReadable returns a new human readable emitter.
func NewHumanReadable() Emitter {
	return HumanReadable{os.Stdout}
}

// NewHumanReadableWithWriter returns a new human readable emitter using the
// specified writer.
func NewHumanReadableWithWriter(w io.Writer) Emitter {
	return HumanReadable{w}
}

// OnDebug handles debug messages.
func (h HumanReadable) OnDebug(m string) error {
	_, err := fmt.Fprintf(h.out, "\r%s\n", m)
	return err
}

// OnError handles error messages.
func (h HumanReadable) OnError(m string) error {
	_, err := fmt.Fprintf(h.out, "\rerror: %s\n", m)
	return err
}

// OnWarning handles warning messages.
func (h HumanReadable) OnWarning(m string) error {
	_, err := fmt.Fprintf(h.out, "\rwarning: %s\n", m)
	return err
}

// OnInfo handles info messages.
func (h HumanReadable) OnInfo(m string) error {
	_, err := fmt.Fprintf(h.out, "\r%s\n", m)
	return err
}

// OnSpeed handles a speed reporting event during a test.
func (h HumanReadable) OnSpeed(subtest string, speed string) error {
	_, err := fmt.Fprintf(h.out, "\r%7s: %s\n", subtest, speed)
	return err
}

// OnSummary handles the summary event. Latency and retransmissions are
// only printed when the run actually populated them -- not every server
// or protocol exposes them -- so a plain run without web100/TCPInfo data
// does not print a misleading zero.
func (h HumanReadable) OnSummary(s *Summary) error {
	if _, err := fmt.Fprintf(h.out, "%15s: %s (%s)\n", "Server", s.ServerFQDN, s.Protocol); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(h.out, "%15s: %7.2f %s\n", "Download", s.Download.Value, s.Download.Unit); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(h.out, "%15s: %7.2f %s\n", "Upload", s.Upload.Value, s.Upload.Unit); err != nil {
		return err
	}
	if s.MinRTT.Unit != "" {
		if _, err := fmt.Fprintf(h.out, "%15s: %7.2f %s\n", "Latency", s.MinRTT.Value, s.MinRTT.Unit); err != nil {
			return err
		}
	}
	if s.Retransmissions.Unit != "" {
		if _, err := fmt.Fprintf(h.out, "%15s: %7.2f %s\n", "Retransmits", s.Retransmissions.Value, s.Retransmissions.Unit); err != nil {
			return err
		}
	}
	return nil
}
