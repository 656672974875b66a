package beacon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"beatwatch/internal/sysinfo"
	"beatwatch/internal/transport"
)

// ErrInvalidPeriod rejects a non-positive beat period.
var ErrInvalidPeriod = errors.New("beat period must be positive")

// Config holds the settings of one beacon.
type Config struct {
	Port   int
	Topic  string
	Period time.Duration
}

// Beacon publishes a Payload on its topic every Period.
type Beacon struct {
	cfg  Config
	pub  transport.Publisher
	log  zerolog.Logger
	id   string
	info sysinfo.SystemInfo
	now  func() time.Time
}

// New returns a beacon that owns pub and closes it when Run returns.
func New(cfg Config, pub transport.Publisher, log zerolog.Logger) (*Beacon, error) {
	if cfg.Period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if err := transport.ValidateTopic(cfg.Topic); err != nil {
		return nil, err
	}
	return &Beacon{
		cfg:  cfg,
		pub:  pub,
		log:  log,
		id:   uuid.NewString(),
		info: sysinfo.Collect(),
		now:  time.Now,
	}, nil
}

// Run beats until ctx is cancelled, then releases the publisher and returns
// nil. A publish failure stops the beacon and is returned.
func (b *Beacon) Run(ctx context.Context) error {
	defer b.pub.Close()

	startedAt := b.now().Unix()

	b.log.Info().
		Int("port", b.cfg.Port).
		Str("topic", b.cfg.Topic).
		Dur("period", b.cfg.Period).
		Str("instance_id", b.id).
		Msg("Beacon started")

	ticker := time.NewTicker(b.cfg.Period)
	defer ticker.Stop()

	for {
		if err := b.beat(ctx, startedAt); err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}

		select {
		case <-ctx.Done():
			b.log.Info().Msg("Beacon stopped")
			return nil
		case <-ticker.C:
		}
	}

	b.log.Info().Msg("Beacon stopped")
	return nil
}

func (b *Beacon) beat(ctx context.Context, startedAt int64) error {
	payload := Payload{
		SentAt:     b.now().Unix(),
		StartedAt:  startedAt,
		InstanceID: b.id,
		Hostname:   b.info.Hostname,
		BootTime:   b.info.BootTime,
	}

	data, err := payload.Marshal()
	if err != nil {
		return err
	}

	if err := b.pub.Publish(ctx, b.cfg.Topic, data); err != nil {
		return fmt.Errorf("publishing beat: %w", err)
	}

	b.log.Debug().
		Int64("time", payload.SentAt).
		Int64("beating_since", payload.StartedAt).
		Int("bytes", len(data)).
		Msg("Beat sent")

	return nil
}
