// Package channel delivers channel join/leave commands and course notices to
// the broadcast fabric. Delivery is best effort: failures are returned for
// logging, queued for a bounded number of background retries, and never
// affect the roster.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"coursehub/internal/core/domain"
	"coursehub/internal/core/ports"
	"coursehub/internal/infrastructure/distributed"
	"coursehub/pkg/circuitbreaker"
	apperrors "coursehub/pkg/errors"
	"coursehub/pkg/retry"

	"go.uber.org/zap"
)

// Bus carries commands and notices to other instances.
type Bus interface {
	PublishCommand(ctx context.Context, cmd domain.ChannelCommand) error
	PublishNotice(ctx context.Context, courseID domain.CourseID, notice *domain.AuditEvent) error
}

// Presence answers whether a user holds a live connection on any instance.
type Presence interface {
	IsOnline(ctx context.Context, userID domain.UserID) (bool, error)
}

// Observer is told the outcome of every delivery attempt.
type Observer interface {
	RecordDispatch(kind, outcome string)
}

const (
	OutcomeDelivered = "delivered"
	OutcomeSkipped   = "skipped"
	OutcomeQueued    = "queued"
	OutcomeRetried   = "retried"
	OutcomeDropped   = "dropped"
	OutcomeRejected  = "rejected"

	kindCommand = "command"
	kindNotice  = "notice"
)

// MessageCourseEvent is the frame type pushed to a course group after a
// committed change; clients refetch on receipt.
const MessageCourseEvent = "course_event"

type NoticeMessage struct {
	Type    string             `json:"type"`
	Channel string             `json:"channel"`
	Event   *domain.AuditEvent `json:"event,omitempty"`
}

type Config struct {
	DispatchTimeout time.Duration
	RetryQueueSize  int
	Retry           retry.Config
	Breaker         circuitbreaker.Config
}

func DefaultConfig() Config {
	return Config{
		DispatchTimeout: 2 * time.Second,
		RetryQueueSize:  256,
		Retry:           retry.DefaultConfig(),
		Breaker:         circuitbreaker.DefaultConfig(),
	}
}

type pending struct {
	kind     string
	cmd      domain.ChannelCommand
	courseID domain.CourseID
	notice   *domain.AuditEvent
}

// Registry implements ports.ChannelRegistry.
type Registry struct {
	cfg      Config
	fabric   ports.Fabric
	bus      Bus
	presence Presence
	breaker  *circuitbreaker.CircuitBreaker
	observer Observer
	logger   *zap.SugaredLogger

	queue     chan pending
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	startOnce sync.Once
}

// NewRegistry builds a registry over the local fabric. bus may be nil for a
// single-instance deployment.
func NewRegistry(cfg Config, fabric ports.Fabric, bus Bus, logger *zap.SugaredLogger) *Registry {
	if cfg.RetryQueueSize <= 0 {
		cfg.RetryQueueSize = DefaultConfig().RetryQueueSize
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = DefaultConfig().DispatchTimeout
	}

	r := &Registry{
		cfg:     cfg,
		fabric:  fabric,
		bus:     bus,
		breaker: circuitbreaker.New("channel-bus", cfg.Breaker),
		logger:  logger,
		queue:   make(chan pending, cfg.RetryQueueSize),
		stop:    make(chan struct{}),
	}
	r.breaker.OnStateChange(func(name string, from, to circuitbreaker.State) {
		logger.Warnw("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	})
	return r
}

func (r *Registry) SetPresence(p Presence) { r.presence = p }

func (r *Registry) SetObserver(o Observer) { r.observer = o }

// Start launches the background retry worker. It is a no-op without a bus.
func (r *Registry) Start(ctx context.Context) {
	if r.bus == nil {
		return
	}
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.retryLoop(ctx)
	})
}

// Close stops the retry worker; queued items are dropped.
func (r *Registry) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
	return nil
}

// Dispatch applies cmd to this instance's connections and forwards it to the
// other instances. A user with no live connection anywhere is a silent no-op.
func (r *Registry) Dispatch(ctx context.Context, cmd domain.ChannelCommand) error {
	if err := validate(cmd); err != nil {
		r.record(kindCommand, OutcomeRejected)
		return apperrors.NewChannelDeliveryError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.DispatchTimeout)
	defer cancel()

	r.applyLocal(cmd)

	if r.bus == nil {
		r.record(kindCommand, OutcomeDelivered)
		return nil
	}

	if r.presence != nil {
		online, err := r.presence.IsOnline(ctx, cmd.TargetUser)
		if err == nil && !online {
			r.record(kindCommand, OutcomeSkipped)
			return nil
		}
	}

	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.bus.PublishCommand(ctx, cmd)
	})
	if err != nil {
		r.enqueue(pending{kind: kindCommand, cmd: cmd})
		return apperrors.NewChannelDeliveryError(err).
			WithContext("user_id", cmd.TargetUser).
			WithContext("channel", cmd.Channel).
			WithContext("action", cmd.Action)
	}
	r.record(kindCommand, OutcomeDelivered)
	return nil
}

// Notify pushes a course_event frame to the course group on every instance.
func (r *Registry) Notify(ctx context.Context, courseID domain.CourseID, event *domain.AuditEvent) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.DispatchTimeout)
	defer cancel()

	r.fabric.Broadcast(domain.ChannelName(courseID), NoticeMessage{
		Type:    MessageCourseEvent,
		Channel: domain.ChannelName(courseID),
		Event:   event,
	})

	if r.bus == nil {
		r.record(kindNotice, OutcomeDelivered)
		return nil
	}

	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.bus.PublishNotice(ctx, courseID, event)
	})
	if err != nil {
		r.enqueue(pending{kind: kindNotice, courseID: courseID, notice: event})
		return apperrors.NewChannelDeliveryError(err).WithContext("course_id", courseID)
	}
	r.record(kindNotice, OutcomeDelivered)
	return nil
}

// HandleRemote applies an event received from another instance to the local
// fabric. It is the subscriber callback for distributed.CommandBus.
func (r *Registry) HandleRemote(event *distributed.Event) error {
	switch event.Type {
	case distributed.EventChannelCommand:
		if event.Command == nil {
			return fmt.Errorf("channel command event without command")
		}
		if err := validate(*event.Command); err != nil {
			return err
		}
		r.applyLocal(*event.Command)
	case distributed.EventCourseNotice:
		channel := domain.ChannelName(event.CourseID)
		r.fabric.Broadcast(channel, NoticeMessage{Type: MessageCourseEvent, Channel: channel, Event: event.Notice})
	default:
		return fmt.Errorf("unsupported event type %q", event.Type)
	}
	return nil
}

func (r *Registry) applyLocal(cmd domain.ChannelCommand) {
	var n int
	switch cmd.Action {
	case domain.ChannelJoin:
		n = r.fabric.Join(cmd.TargetUser, cmd.Channel)
	case domain.ChannelLeave:
		n = r.fabric.Leave(cmd.TargetUser, cmd.Channel)
	}
	r.logger.Debugw("applied channel command locally",
		"user_id", cmd.TargetUser,
		"channel", cmd.Channel,
		"action", cmd.Action,
		"connections", n,
	)
}

func (r *Registry) enqueue(p pending) {
	select {
	case r.queue <- p:
		r.record(p.kind, OutcomeQueued)
	default:
		r.record(p.kind, OutcomeDropped)
		r.logger.Warnw("channel retry queue full, dropping", "kind", p.kind, "channel", p.cmd.Channel, "course_id", p.courseID)
	}
}

func (r *Registry) retryLoop(ctx context.Context) {
	defer r.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-r.queue:
			r.redeliver(ctx, p)
		}
	}
}

func (r *Registry) redeliver(ctx context.Context, p pending) {
	err := retry.Retry(ctx, r.cfg.Retry, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.DispatchTimeout)
		defer cancel()
		return r.breaker.Execute(attemptCtx, func(ctx context.Context) error {
			if p.kind == kindNotice {
				return r.bus.PublishNotice(ctx, p.courseID, p.notice)
			}
			return r.bus.PublishCommand(ctx, p.cmd)
		})
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.record(p.kind, OutcomeDropped)
		r.logger.Warnw("giving up on channel delivery",
			"kind", p.kind,
			"user_id", p.cmd.TargetUser,
			"channel", p.cmd.Channel,
			"course_id", p.courseID,
			"error", err,
		)
		return
	}
	r.record(p.kind, OutcomeRetried)
}

func (r *Registry) record(kind, outcome string) {
	if r.observer != nil {
		r.observer.RecordDispatch(kind, outcome)
	}
}

func validate(cmd domain.ChannelCommand) error {
	if cmd.TargetUser == "" {
		return fmt.Errorf("channel command without target user")
	}
	if cmd.Channel == "" {
		return fmt.Errorf("channel command without channel")
	}
	if cmd.Action != domain.ChannelJoin && cmd.Action != domain.ChannelLeave {
		return fmt.Errorf("unknown channel action %q", cmd.Action)
	}
	return nil
}

var _ ports.ChannelRegistry = (*Registry)(nil)
