package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/bassosimone/libndt"
	"github.com/bassosimone/libndt/cmd/ndt-client/internal/emitter"
	"github.com/bassosimone/libndt/internal/trafficshaping"
)

const (
	clientName     = "ndt-client-go-cmd"
	clientVersion  = "0.1.0"
	defaultTimeout = 55 * time.Second
)

var (
	flagHostname = flag.String("hostname", "", "Measurement server hostname")
	flagProtocol = flagx.Enum{
		Options: []string{"ndt5", "ndt5+wss", "ndt7"},
		Value:   "ndt5",
	}
	flagFormat = flagx.Enum{
		Options: []string{"human", "json", "quiet"},
		Value:   "human",
	}
	flagThrottle = flag.Bool("throttle", false, "Throttle connections for testing")
	flagTimeout  = flag.Duration(
		"timeout", defaultTimeout, "time after which the test is aborted")
	flagVerbose = flag.Bool("verbose", false, "Log low-level protocol messages")
)

func init() {
	flag.Var(&flagProtocol, "protocol", `Protocol to use: "ndt5", "ndt5+wss" or "ndt7"`)
	flag.Var(&flagFormat, "format", `Output format: "human", "json" or "quiet"`)
}

func main() {
	flagx.ArgsFromEnv(flag.CommandLine)
	flag.Parse()

	em := newEmitter(flagFormat.Value)

	settings := libndt.NewSettings()
	settings.Hostname = *flagHostname
	settings.ClientName = clientName
	settings.ClientVersion = clientVersion
	settings.Timeout = 7 * time.Second

	switch flagProtocol.Value {
	case "ndt5":
	case "ndt5+wss":
		settings.Protocol |= libndt.ProtocolWebSocket
	case "ndt7":
		settings.Protocol |= libndt.ProtocolNDT7
	}
	if *flagThrottle {
		settings.Dialer = trafficshaping.NewDialer()
	}

	protocolName := "ndt5"
	if settings.Protocol&libndt.ProtocolNDT7 != 0 {
		protocolName = "ndt7"
	}
	obs := &cliObserver{emitter: em, verbose: *flagVerbose, summary: emitter.NewSummary(settings.Hostname, protocolName)}
	client := libndt.NewClient(settings, obs)

	ctx, cancel := context.WithTimeout(context.Background(), *flagTimeout)
	defer cancel()

	ok, err := client.Run(ctx)
	if err != nil {
		log.WithField("kind", string(libndt.ClassifyError(err))).Error(err.Error())
	}
	rtx.Must(err, "client.Run failed")
	if !ok {
		log.Fatal("measurement did not complete")
	}
	rtx.Must(em.OnSummary(obs.summary), "failed to emit summary")
}

func newEmitter(format string) emitter.Emitter {
	switch format {
	case "json":
		return emitter.NewJSON(os.Stdout)
	case "quiet":
		return emitter.NewQuiet(emitter.NewHumanReadable())
	default:
		return emitter.NewHumanReadable()
	}
}

// cliObserver bridges libndt.Observer events onto an emitter.Emitter,
// following the teacher's pattern of translating engine callbacks into
// the CLI's own output formats.
type cliObserver struct {
	emitter emitter.Emitter
	verbose bool
	summary *emitter.Summary
}

func (o *cliObserver) OnWarning(err error) {
	_ = o.emitter.OnWarning(err.Error())
}

func (o *cliObserver) OnInfo(message string) {
	_ = o.emitter.OnInfo(message)
}

func (o *cliObserver) OnDebug(message string) {
	if o.verbose {
		_ = o.emitter.OnDebug(message)
	}
}

func (o *cliObserver) OnResult(scope, name, value string) {
	switch scope {
	case "ndt7":
		_ = o.emitter.OnDebug(fmt.Sprintf("%s: %s", name, value))
		if name == "upload" {
			o.captureNDT7TCPInfo(value)
		}
	case "web100":
		_ = o.emitter.OnDebug(fmt.Sprintf("web100.%s: %s", name, value))
		o.captureWeb100(name, value)
	default:
		_ = o.emitter.OnDebug(fmt.Sprintf("%s.%s: %s", scope, name, value))
	}
}

// captureWeb100 opportunistically fills in Summary.MinRTT/Retransmissions
// from the handful of web100 variable names NDT5 servers are known to
// send; most web100 lines are irrelevant to the summary and are only
// ever surfaced via OnDebug above.
func (o *cliObserver) captureWeb100(name, value string) {
	switch strings.ToLower(name) {
	case "minrtt":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			o.summary.MinRTT = emitter.ValueUnitPair{Value: v, Unit: "ms"}
		}
	case "countrtt", "pktsretrans", "segsretrans":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			o.summary.Retransmissions = emitter.ValueUnitPair{Value: v, Unit: "packets"}
		}
	}
}

// captureNDT7TCPInfo parses the JSON upload measurement message and, when
// TCPInfo is present, fills in Summary.MinRTT/Retransmissions from it.
func (o *cliObserver) captureNDT7TCPInfo(value string) {
	var m struct {
		TCPInfo *struct {
			TcpiMinRtt       uint32 `json:"TcpiMinRtt"`
			TcpiTotalRetrans uint32 `json:"TcpiTotalRetrans"`
		} `json:"TCPInfo"`
	}
	if err := json.Unmarshal([]byte(value), &m); err != nil || m.TCPInfo == nil {
		return
	}
	o.summary.MinRTT = emitter.ValueUnitPair{Value: float64(m.TCPInfo.TcpiMinRtt) / 1000, Unit: "ms"}
	o.summary.Retransmissions = emitter.ValueUnitPair{Value: float64(m.TCPInfo.TcpiTotalRetrans), Unit: "packets"}
}

func (o *cliObserver) OnPerformance(subtest string, nflows int, bytes int64, elapsed, maxRuntime time.Duration) {
	kbits := libndt.KbitsPerSecond(bytes, elapsed)
	_ = o.emitter.OnSpeed(subtest, fmt.Sprintf("%.4f Mbit/s (%d flows)", kbits/1000, nflows))
	switch subtest {
	case "download":
		o.summary.Download = emitter.ValueUnitPair{Value: kbits / 1000, Unit: "Mbit/s"}
	case "upload":
		o.summary.Upload = emitter.ValueUnitPair{Value: kbits / 1000, Unit: "Mbit/s"}
	}
}

func (o *cliObserver) OnServerBusy(reason string) {
	_ = o.emitter.OnWarning(fmt.Sprintf("server busy: %s", reason))
}
