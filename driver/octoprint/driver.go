package octoprint

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/schmacka/printernizer-sub001/model"
	"github.com/schmacka/printernizer-sub001/supervisor/errs"
)

const pushCacheMaxAge = 5 * time.Second

// Client is the OctoPrint/Prusa Driver implementation: REST is the
// source of truth for everything, with the SockJS push cache used
// opportunistically when fresh, per §4.1/§9 ("both REST and SockJS" ->
// one source of truth).
type Client struct {
	printerID string
	rest      *restClient
	push      *pushClient

	cancel context.CancelFunc
}

func New(printerID string, ep model.Endpoint) *Client {
	scheme := "http"
	host := ep.Host
	if ep.Port != 0 {
		host = fmt.Sprintf("%s:%d", ep.Host, ep.Port)
	}
	baseURL := fmt.Sprintf("%s://%s", scheme, host)
	return &Client{
		printerID: printerID,
		rest:      newRESTClient(baseURL, ep.APIKey, 10*time.Second),
		push:      newPushClient(baseURL, ep.APIKey),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	if c.cancel != nil {
		return nil // already connected
	}
	if _, err := c.rest.probeVersion(ctx); err != nil {
		return errs.PrinterConnectionError(err, c.printerID)
	}

	pushCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	go c.push.run(pushCtx)
	return nil
}

func (c *Client) Disconnect() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.push.close()
}

func (c *Client) GetStatus(ctx context.Context) (model.StatusUpdate, error) {
	state, err := c.currentState(ctx)
	if err != nil {
		return model.StatusUpdate{}, err
	}

	su := model.StatusUpdate{
		PrinterID: c.printerID,
		At:        time.Now(),
		Phase:     mapPhase(state),
		Message:   state.State.Text,
	}
	if state.Temperature.Bed.Actual != 0 {
		v := state.Temperature.Bed.Actual
		su.Temperatures.Bed = &v
	}
	if state.Temperature.Tool0.Actual != 0 {
		v := state.Temperature.Tool0.Actual
		su.Temperatures.Nozzle = &v
	}

	job, err := c.rest.getJob(ctx)
	if err == nil {
		su.CurrentJobName = job.Job.File.Name
		su.ProgressPercent = int(job.Progress.Completion)
		if job.Progress.PrintTimeLeft > 0 {
			remaining := job.Progress.PrintTimeLeft / 60
			su.RemainingMin = &remaining
		}
		if job.Progress.PrintTime > 0 {
			elapsed := job.Progress.PrintTime / 60
			su.ElapsedMin = &elapsed
		}
	}
	return su, nil
}

// currentState prefers the SockJS push cache when fresh, falling back
// to a REST fetch, per §9's single-source-of-truth guidance.
func (c *Client) currentState(ctx context.Context) (printerStateResponse, error) {
	if state, ok := c.push.fresh(pushCacheMaxAge); ok {
		return state, nil
	}
	state, err := c.rest.getPrinterState(ctx)
	if err != nil {
		return printerStateResponse{}, errs.PrinterConnectionError(err, c.printerID)
	}
	return state, nil
}

// mapPhase maps OctoPrint's state.flags onto the shared Phase enum,
// per §4.1's documented flag precedence.
func mapPhase(state printerStateResponse) model.Phase {
	flags := state.State.Flags
	switch {
	case flags.Printing:
		return model.PhasePrinting
	case flags.Paused, flags.Pausing:
		return model.PhasePaused
	case flags.Error:
		return model.PhaseError
	case flags.Operational, flags.Ready:
		return model.PhaseOnline
	case flags.ClosedOrError:
		return model.PhaseOffline
	default:
		return model.PhaseUnknown
	}
}

func (c *Client) GetJob(ctx context.Context) (*model.JobInfo, error) {
	job, err := c.rest.getJob(ctx)
	if err != nil {
		return nil, errs.PrinterConnectionError(err, c.printerID)
	}
	if job.Job.File.Name == "" {
		return nil, nil
	}
	return &model.JobInfo{
		Name:     job.Job.File.Name,
		Filename: job.Job.File.Name,
		Progress: int(job.Progress.Completion),
	}, nil
}

func (c *Client) ListFiles(ctx context.Context) ([]model.PrinterFile, error) {
	files, err := c.rest.listFiles(ctx)
	if err != nil {
		return nil, errs.PrinterConnectionError(err, c.printerID)
	}
	return files, nil
}

func (c *Client) DownloadFile(ctx context.Context, remoteName, localPath string) error {
	origin, path, err := splitOriginPath(remoteName)
	if err != nil {
		return err
	}
	if err := c.rest.downloadFile(ctx, origin, path, localPath); err != nil {
		return errs.PrinterConnectionError(err, c.printerID)
	}
	return nil
}

// splitOriginPath splits an origin-prefixed path ("local/foo.gcode")
// back into its OctoPrint origin and path components.
func splitOriginPath(remoteName string) (origin, path string, err error) {
	parts := strings.SplitN(remoteName, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("octoprint: %q is not an origin-prefixed path", remoteName)
	}
	return parts[0], parts[1], nil
}

func (c *Client) Pause(ctx context.Context) error {
	return c.jobCommand(ctx, "pause", "pause")
}

func (c *Client) Resume(ctx context.Context) error {
	return c.jobCommand(ctx, "pause", "resume")
}

func (c *Client) Stop(ctx context.Context) error {
	return c.jobCommand(ctx, "cancel", "")
}

func (c *Client) jobCommand(ctx context.Context, command, action string) error {
	body := map[string]any{"command": command}
	if action != "" {
		body["action"] = action
	}
	if err := c.rest.postJobCommand(ctx, body); err != nil {
		return errs.PrinterConnectionError(err, c.printerID)
	}
	return nil
}

// HasCamera and Snapshot are not implemented for OctoPrint/Prusa:
// webcam access is a plain MJPEG stream served by the OctoPrint
// instance itself (via /webcam/?action=snapshot, discovered through
// /api/settings), outside this driver's Bambu-specific camera protocol.
// §4.1 only requires the camera capability for Bambu printers.
func (c *Client) HasCamera() bool { return false }

func (c *Client) Snapshot(ctx context.Context) ([]byte, error) {
	return nil, errs.New(errs.KindInternal, "octoprint driver: snapshot not supported")
}
