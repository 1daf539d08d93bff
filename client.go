package libndt

import (
	"context"
	"errors"
	"fmt"

	"github.com/bassosimone/libndt/mlabns"
	"github.com/bassosimone/libndt/ndt5"
	"github.com/bassosimone/libndt/ndt7"
)

// Client runs one NDT measurement session per the Settings it is
// constructed with, reporting progress through an Observer.
type Client struct {
	settings *Settings
	observer *syncObserver
}

// NewClient returns a Client ready to Run. A nil observer installs
// NopObserver.
func NewClient(settings *Settings, observer Observer) *Client {
	if settings == nil {
		settings = NewSettings()
	}
	return &Client{settings: settings, observer: newSyncObserver(observer)}
}

// Run executes the configured measurement: discovery (if Settings.Hostname
// is empty), then the ndt5 or ndt7 driver depending on Settings.Protocol.
// It returns true if the session completed (even if individual subtests
// logged warnings), false with a non-nil error otherwise.
func (c *Client) Run(ctx context.Context) (bool, error) {
	s := c.settings
	for _, bit := range stripWarnings(s.Normalize()) {
		c.observer.OnWarning(fmt.Errorf("stripping unimplemented subtest flag: %s", bit))
	}

	fqdns, err := c.discover(ctx)
	if err != nil {
		return false, err
	}

	if s.Protocol&ProtocolNDT7 != 0 {
		return c.runNDT7(ctx, fqdns[0])
	}
	return c.runNDT5(ctx, fqdns)
}

// discover returns the list of candidate FQDNs: either the single
// explicitly configured hostname, or every FQDN the location service
// offers for Settings.MlabnsPolicy.
func (c *Client) discover(ctx context.Context) ([]string, error) {
	if c.settings.Hostname != "" {
		return []string{c.settings.Hostname}, nil
	}
	c.observer.OnInfo("discovering a server via mlabns")
	toolName := "ndt7"
	if c.settings.Protocol&ProtocolNDT7 == 0 {
		toolName = "ndt5"
	}
	mc := mlabns.NewClient(toolName, c.settings.ClientName+"/"+c.settings.ClientVersion)
	if c.settings.MlabnsURL != "" {
		mc.BaseURL = c.settings.MlabnsURL
	}
	fqdns, err := mc.QueryAll(ctx, string(c.settings.MlabnsPolicy))
	if err != nil {
		return nil, err
	}
	return fqdns, nil
}

func (c *Client) runNDT5(ctx context.Context, fqdns []string) (bool, error) {
	s := c.settings
	cfg := ndt5.Config{
		Port:          s.effectivePort(),
		Socks5hPort:   s.Socks5hPort,
		UseTLS:        s.Protocol&ProtocolTLS != 0,
		TLSVerifyPeer: s.TLSVerifyPeer,
		CABundlePath:  s.CABundlePath,
		UseWebSocket:  s.Protocol&ProtocolWebSocket != 0,
		UserAgent:     s.ClientName + "/" + s.ClientVersion,
		JSON:          s.Protocol&ProtocolJSON != 0,
		Subtests:      ndt5.SubtestFlags(s.Subtests),
		Metadata:      s.Metadata,
		Timeout:       s.Timeout,
		MaxRuntime:    s.MaxRuntime,
		Dialer:        s.Dialer,
	}
	var lastErr error
	for _, fqdn := range fqdns {
		cfg.Host = fqdn
		err := c.runNDT5Once(ctx, cfg)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, ndt5.ErrServerBusy) {
			lastErr = err
			continue
		}
		return false, err
	}
	return false, fmt.Errorf("ndt5: every discovered server was busy: %w", lastErr)
}

// runNDT5Once runs the ndt5 driver once against cfg.Host, retrying exactly
// one more time if the failure classifies as retryable per §7 (e.g. an
// interrupted syscall during dial or handshake) rather than surfacing a
// spurious transient failure to the caller.
func (c *Client) runNDT5Once(ctx context.Context, cfg ndt5.Config) error {
	rep := classifyingReporter{c.observer}
	err := ndt5.Run(ctx, cfg, rep)
	if err != nil && IsRetryable(KindOf(err)) {
		c.observer.OnWarning(fmt.Errorf("ndt5: retrying %s after a transient %s error: %w", cfg.Host, KindOf(err), err))
		err = ndt5.Run(ctx, cfg, rep)
	}
	return err
}

func (c *Client) runNDT7(ctx context.Context, fqdn string) (bool, error) {
	s := c.settings
	cfg := ndt7.Config{
		Host:          fqdn,
		Port:          s.effectivePort(),
		Socks5hPort:   s.Socks5hPort,
		CABundlePath:  s.CABundlePath,
		TLSVerifyPeer: s.TLSVerifyPeer,
		UserAgent:     s.ClientName + "/" + s.ClientVersion,
		MaxRuntime:    s.MaxRuntime,
		Timeout:       s.Timeout,
		Dialer:        s.Dialer,
	}
	if s.Subtests&SubtestDownload != 0 {
		if err := c.runNDT7Once(ctx, ndt7.Download, cfg); err != nil {
			return false, err
		}
	}
	if s.Subtests&SubtestUpload != 0 {
		if err := c.runNDT7Once(ctx, ndt7.Upload, cfg); err != nil {
			return false, err
		}
	}
	return true, nil
}

// runNDT7Once mirrors runNDT5Once's retry-once-on-transient-error policy
// for a single ndt7 subtest.
func (c *Client) runNDT7Once(ctx context.Context, subtest ndt7.Subtest, cfg ndt7.Config) error {
	rep := classifyingReporter{c.observer}
	err := ndt7.Run(ctx, subtest, cfg, rep)
	if err != nil && IsRetryable(KindOf(err)) {
		c.observer.OnWarning(fmt.Errorf("ndt7: retrying %s after a transient %s error: %w", cfg.Host, KindOf(err), err))
		err = ndt7.Run(ctx, subtest, cfg, rep)
	}
	return err
}

// classifyingReporter adapts the client's serialized Observer into the
// ndt5/ndt7 Reporter shape, annotating every warning with its §7 error kind
// before forwarding it -- this is the one place a flow error that
// internal/transfer's workers swallowed (surfaced through subtests.go's
// OnFlowError hook) gets run through KindOf on its way out to the caller.
type classifyingReporter struct {
	*syncObserver
}

func (r classifyingReporter) OnWarning(err error) {
	if kind := KindOf(err); kind != ErrNone {
		err = fmt.Errorf("[%s] %w", kind, err)
	}
	r.syncObserver.OnWarning(err)
}

func stripWarnings(stripped SubtestFlags) []string {
	var names []string
	for _, pair := range []struct {
		bit  SubtestFlags
		name string
	}{
		{SubtestMiddlebox, "middlebox"},
		{SubtestSimpleFirewall, "simple_firewall"},
		{SubtestUploadExt, "upload_ext"},
	} {
		if stripped&pair.bit != 0 {
			names = append(names, pair.name)
		}
	}
	return names
}
