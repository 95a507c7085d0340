// Package dispatch delivers rendered notification batches to Slack.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	perrors "github.com/p-blackswan/inactivity-agent/internal/errors"
	"github.com/p-blackswan/inactivity-agent/internal/models"
	"github.com/p-blackswan/inactivity-agent/internal/notify"
)

// Sender is the delivery channel. *slack.Poster satisfies it.
type Sender interface {
	// ChannelWritable reports whether channelID exists, is not archived and
	// accepts posts from the bot.
	ChannelWritable(ctx context.Context, channelID string) (bool, error)
	// OpenDirect returns the DM channel with userID.
	OpenDirect(ctx context.Context, userID string) (string, error)
	Post(ctx context.Context, channelID string, msg notify.Message) error
}

// Recorder counts batch results. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordBatch(result string)
}

// Destination is the resolved place batches go to.
type Destination struct {
	ChannelID string
	UserID    string // set for direct messages
	FellBack  bool   // configured channel was unusable
}

// Direct reports whether the destination is a DM.
func (d Destination) Direct() bool { return d.UserID != "" }

func (d Destination) String() string {
	if d.Direct() {
		return fmt.Sprintf("dm:%s", d.UserID)
	}
	return d.ChannelID
}

// Outcome is the delivery result of one batch.
type Outcome struct {
	Index       int
	Entries     int
	Destination Destination
	Err         error
}

// OK reports whether the batch was delivered.
func (o Outcome) OK() bool { return o.Err == nil }

// Options configure a Dispatcher.
type Options struct {
	SendTimeout time.Duration
	RatePerSec  float64
}

// Dispatcher resolves the effective target and sends batches one by one.
// A failed batch is reported and never retried.
type Dispatcher struct {
	sender      Sender
	limiter     *rate.Limiter
	sendTimeout time.Duration
	recorder    Recorder
	logger      zerolog.Logger
}

// New creates a Dispatcher.
func New(sender Sender, opts Options, logger zerolog.Logger) *Dispatcher {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	return &Dispatcher{
		sender:      sender,
		limiter:     rate.NewLimiter(limit, 1),
		sendTimeout: opts.SendTimeout,
		logger:      logger.With().Str("component", "dispatch").Logger(),
	}
}

// SetRecorder wires a metrics recorder.
func (d *Dispatcher) SetRecorder(r Recorder) { d.recorder = r }

// ErrNoDestination means neither the configured channel nor a fallback user
// could be used.
var ErrNoDestination = errors.New("no usable delivery destination")

// Resolve picks the destination for target. A configured channel is used
// when it is writable; otherwise the batches go to fallbackUserID by DM.
func (d *Dispatcher) Resolve(ctx context.Context, target models.DeliveryTarget, fallbackUserID string) (Destination, error) {
	fellBack := false
	if target.IsChannel() {
		ok, err := d.channelWritable(ctx, target.ChannelID)
		if ok {
			return Destination{ChannelID: target.ChannelID}, nil
		}
		d.logger.Warn().Err(err).
			Str("channel", target.ChannelID).
			Str("fallback_user", fallbackUserID).
			Msg("configured channel unusable, falling back to direct message")
		fellBack = true
	}

	if fallbackUserID == "" {
		return Destination{}, fmt.Errorf("no fallback user: %w", ErrNoDestination)
	}

	cctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	channelID, err := d.sender.OpenDirect(cctx, fallbackUserID)
	if err != nil {
		return Destination{}, fmt.Errorf("opening DM with %s: %w: %w", fallbackUserID, ErrNoDestination, err)
	}
	return Destination{ChannelID: channelID, UserID: fallbackUserID, FellBack: fellBack}, nil
}

func (d *Dispatcher) channelWritable(ctx context.Context, channelID string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	return d.sender.ChannelWritable(cctx, channelID)
}

// Send renders and delivers batches in order. Every batch gets an outcome;
// a failure does not stop the remaining batches.
func (d *Dispatcher) Send(ctx context.Context, batches []models.NotificationBatch, target models.DeliveryTarget, fallbackUserID string, rc notify.RenderContext) []Outcome {
	outcomes := make([]Outcome, 0, len(batches))

	dest, err := d.Resolve(ctx, target, fallbackUserID)
	if err != nil {
		d.logger.Error().Err(err).Str("target", target.String()).Msg("cannot resolve delivery destination")
		for _, b := range batches {
			outcomes = append(outcomes, Outcome{Index: b.Index, Entries: len(b.Entries), Err: err})
			d.record("failed")
		}
		return outcomes
	}

	for _, b := range batches {
		out := Outcome{Index: b.Index, Entries: len(b.Entries), Destination: dest}
		out.Err = d.sendOne(ctx, dest, notify.Render(b, rc))
		if out.Err != nil {
			d.logger.Error().Err(out.Err).
				Int("batch", b.Index).
				Int("of", b.Total).
				Str("destination", dest.String()).
				Msg("batch delivery failed")
			d.record("failed")
		} else {
			d.logger.Debug().Int("batch", b.Index).Int("of", b.Total).Str("destination", dest.String()).Msg("batch delivered")
			d.record("sent")
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// Post delivers a single prepared message to channelID, paced and bounded
// like batch sends.
func (d *Dispatcher) Post(ctx context.Context, channelID string, msg notify.Message) error {
	return d.sendOne(ctx, Destination{ChannelID: channelID}, msg)
}

func (d *Dispatcher) sendOne(ctx context.Context, dest Destination, msg notify.Message) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for send slot: %w", err)
	}
	cctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	err := d.sender.Post(cctx, dest.ChannelID, msg)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("posting to %s: %w", dest, perrors.ErrTimeout)
	}
	return err
}

func (d *Dispatcher) record(result string) {
	if d.recorder != nil {
		d.recorder.RecordBatch(result)
	}
}
