package desk

import (
	"context"
	"errors"
	"fmt"

	"github.com/rickgao/gpttools-desk/internal/connection"
)

// maxStartResumes bounds how often a start wait resumes after another probe
// interrupted it.
const maxStartResumes = 3

var errStartInterrupted = errors.New("start wait interrupted by other probes")

// ToggleService stops a connected service and starts a disconnected one.
// It returns ErrBusy while another start or stop is in progress. An empty
// rawAddr keeps the current address.
func (d *Desk) ToggleService(ctx context.Context, rawAddr string) error {
	op, ok := d.conn.TryBusy()
	if !ok {
		return ErrBusy
	}
	return d.toggle(ctx, rawAddr, op)
}

// toggle runs the toggle for an operation that already holds the busy flag.
func (d *Desk) toggle(ctx context.Context, rawAddr string, op uint64) error {
	st := d.conn.State()
	if st.Connected {
		d.stopService(ctx, op)
		return nil
	}
	if rawAddr == "" {
		rawAddr = st.Address
	}
	_, err := d.startService(ctx, rawAddr, op)
	return err
}

// StartService starts the service at rawAddr and waits for it to answer.
// On success it refreshes and schedules the recurring refresh. It returns
// false when the service did not come up or a newer start or stop took
// over; the only error is connection.ErrInvalidAddress.
func (d *Desk) StartService(ctx context.Context, rawAddr string) (bool, error) {
	return d.startService(ctx, rawAddr, d.conn.BeginBusy())
}

func (d *Desk) startService(ctx context.Context, rawAddr string, op uint64) (bool, error) {
	d.publishConnection()

	started, err := d.conn.Start(ctx, rawAddr, connection.StartOptions{SkipInitialize: true})
	if err != nil || !started {
		d.endBusy(op)
		return false, err
	}

	werr := d.waitForStart(ctx, op)
	if connection.IsStale(werr) {
		d.logger.Debug("start superseded", "addr", d.conn.Address())
		return false, nil
	}

	d.endBusy(op)
	if werr != nil {
		reason := ""
		if last := d.conn.State().LastError; last != "" {
			reason = ": " + last
		}
		d.notifier.OnHint(fmt.Sprintf(hintWaitFailed, reason), true)
		return false, nil
	}

	d.refreshInBackground(ctx)
	return true, nil
}

// waitForStart waits for a freshly started service. Probes from refreshes
// and actions may supersede the wait; while op still owns the lifecycle the
// wait either adopts their success or resumes. ErrStaleProbe means a newer
// start or stop took over.
func (d *Desk) waitForStart(ctx context.Context, op uint64) error {
	opts := connection.ConnectOptions{RetryPolicy: d.cfg.Wait, Silent: true}

	for resumed := 0; resumed <= maxStartResumes; resumed++ {
		err := d.conn.WaitForConnection(ctx, opts)
		if !connection.IsStale(err) {
			return err
		}
		if !d.conn.OwnsBusy(op) {
			return err
		}
		if d.conn.Connected() {
			return nil
		}
		d.logger.Debug("start wait interrupted by another probe, resuming", "resumed", resumed+1)
	}
	return errStartInterrupted
}

// StopService stops the service and the recurring refresh.
func (d *Desk) StopService(ctx context.Context) {
	d.stopService(ctx, d.conn.BeginBusy())
}

func (d *Desk) stopService(ctx context.Context, op uint64) {
	d.publishConnection()

	d.conn.Stop(ctx)
	d.stopAutoRefresh()
	d.endBusy(op)
}

// endBusy releases the busy flag unless a newer start or stop owns it.
func (d *Desk) endBusy(op uint64) {
	if !d.conn.EndBusy(op) {
		d.logger.Debug("lifecycle operation superseded", "op", op)
	}
	d.publishConnection()
}

// AutoStart is the boot sequence: a silent probe of rawAddr, and when
// nothing answers, StartService.
func (d *Desk) AutoStart(ctx context.Context, rawAddr string) (bool, error) {
	if err := d.conn.Restore(rawAddr); err != nil {
		return false, err
	}

	err := d.conn.WaitForConnection(ctx, connection.ConnectOptions{RetryPolicy: d.cfg.Probe, Silent: true})
	switch {
	case err == nil:
		d.publishConnection()
		d.refreshInBackground(ctx)
		return true, nil
	case connection.IsStale(err):
		return false, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false, err
	}
	return d.StartService(ctx, d.conn.Address())
}
