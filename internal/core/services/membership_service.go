package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coursehub/internal/core/domain"
	"coursehub/internal/core/ports"
	apperrors "coursehub/pkg/errors"
	"coursehub/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultTxTimeout   = 5 * time.Second
	DefaultEventsLimit = 50
	MaxEventsLimit     = 500
)

// OperationObserver receives the outcome of every service call.
type OperationObserver interface {
	ObserveOperation(operation, outcome string, duration time.Duration)
}

// MembershipService runs every roster mutation as
// authorize -> transaction{roster, audit} -> commit -> channel dispatch.
// Channel failures are logged and never change the result.
type MembershipService struct {
	store     ports.Transactor
	channels  ports.ChannelRegistry
	txTimeout time.Duration
	observer  OperationObserver
	logger    *zap.SugaredLogger
}

func NewMembershipService(
	store ports.Transactor,
	channels ports.ChannelRegistry,
	txTimeout time.Duration,
	logger *zap.SugaredLogger,
) *MembershipService {
	if txTimeout <= 0 {
		txTimeout = DefaultTxTimeout
	}
	return &MembershipService{
		store:     store,
		channels:  channels,
		txTimeout: txTimeout,
		logger:    logger,
	}
}

func (s *MembershipService) SetObserver(o OperationObserver) { s.observer = o }

func (s *MembershipService) CreateCourse(ctx context.Context, actor domain.UserID, draft domain.CourseDraft) (course *domain.Course, err error) {
	ctx, end := s.begin(ctx, "create_course", actor)
	defer end(&err)

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := Authorize(actor, nil, ActionCreateCourse, false); err != nil {
		return nil, err
	}
	name, description, err := draft.Normalize()
	if err != nil {
		return nil, translate(err)
	}

	var event *domain.AuditEvent
	err = s.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		created, err := tx.Roster().CreateCourse(ctx, name, description, actor)
		if err != nil {
			return err
		}
		actorName, err := displayName(ctx, tx, actor)
		if err != nil {
			return err
		}
		event, err = tx.Audit().Append(ctx, created.ID, actor, actorName, fmt.Sprintf("Course %s created", created.Name))
		if err != nil {
			return err
		}
		course = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infow("course created", "course_id", course.ID, "owner_id", actor)
	s.dispatch(ctx, domain.JoinCommand(actor, course.ID))
	s.notify(ctx, course.ID, event)
	return course, nil
}

func (s *MembershipService) GetCourse(ctx context.Context, actor domain.UserID, courseID domain.CourseID) (view *ports.CourseView, err error) {
	ctx, end := s.begin(ctx, "get_course", actor)
	defer end(&err)

	if err := requireActor(actor); err != nil {
		return nil, err
	}

	err = s.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		course, err := authorizeMember(ctx, tx, actor, courseID, ActionViewCourse)
		if err != nil {
			return err
		}
		members, err := tx.Roster().GetMembers(ctx, courseID)
		if err != nil {
			return err
		}
		view = &ports.CourseView{Course: course, Members: members}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// ListCourses returns the courses actor belongs to; an empty list when none.
// It also seeds the websocket hub's group subscriptions on connect.
func (s *MembershipService) ListCourses(ctx context.Context, actor domain.UserID) (courses []*domain.Course, err error) {
	ctx, end := s.begin(ctx, "list_courses", actor)
	defer end(&err)

	if err := requireActor(actor); err != nil {
		return nil, err
	}

	err = s.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		courses, err = tx.Roster().ListCoursesForUser(ctx, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	if courses == nil {
		courses = []*domain.Course{}
	}
	return courses, nil
}

func (s *MembershipService) UpdateCourse(ctx context.Context, actor domain.UserID, courseID domain.CourseID, draft domain.CourseDraft) (course *domain.Course, err error) {
	ctx, end := s.begin(ctx, "update_course", actor)
	defer end(&err)

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	current, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, current, ActionUpdateCourse, false); err != nil {
		return nil, err
	}
	name, description, err := draft.Normalize()
	if err != nil {
		return nil, translate(err)
	}

	var event *domain.AuditEvent
	err = s.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		updated, err := tx.Roster().UpdateCourse(ctx, courseID, name, description)
		if err != nil {
			return err
		}
		actorName, err := displayName(ctx, tx, actor)
		if err != nil {
			return err
		}
		event, err = tx.Audit().Append(ctx, courseID, actor, actorName, "Course details were changed")
		if err != nil {
			return err
		}
		course = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infow("course updated", "course_id", courseID, "actor", actor)
	s.notify(ctx, courseID, event)
	return course, nil
}

// DeleteCourse removes the course with its memberships and audit history, then
// unsubscribes every former member from the course channel.
func (s *MembershipService) DeleteCourse(ctx context.Context, actor domain.UserID, courseID domain.CourseID) (err error) {
	ctx, end := s.begin(ctx, "delete_course", actor)
	defer end(&err)

	if err := requireActor(actor); err != nil {
		return err
	}
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return err
	}
	if err := Authorize(actor, course, ActionDeleteCourse, false); err != nil {
		return err
	}

	var former []domain.MemberEntry
	err = s.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		members, err := tx.Roster().GetMembers(ctx, courseID)
		if err != nil {
			return err
		}
		if err := tx.Roster().DeleteCourse(ctx, courseID); err != nil {
			return err
		}
		former = members
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Infow("course deleted", "course_id", courseID, "actor", actor, "members", len(former))
	for _, m := range former {
		s.dispatch(ctx, domain.LeaveCommand(m.UserID, courseID))
	}
	return nil
}

func (s *MembershipService) AddMember(ctx context.Context, actor domain.UserID, courseID domain.CourseID, target domain.UserID) (membership *domain.Membership, err error) {
	ctx, end := s.begin(ctx, "add_member", actor)
	defer end(&err)

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if target == "" {
		return nil, apperrors.NewInvalidInputError("user id is required")
	}
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, course, ActionAddMember, false); err != nil {
		return nil, err
	}

	var event *domain.AuditEvent
	err = s.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		user, err := tx.Users().Lookup(ctx, target)
		if err != nil {
			return err
		}
		added, err := tx.Roster().AddMember(ctx, courseID, target)
		if err != nil {
			return err
		}
		actorName, err := displayName(ctx, tx, actor)
		if err != nil {
			return err
		}
		event, err = tx.Audit().Append(ctx, courseID, actor, actorName, fmt.Sprintf("%s has been added", nameOf(user)))
		if err != nil {
			return err
		}
		membership = added
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infow("member added", "course_id", courseID, "user_id", target, "actor", actor)
	s.dispatch(ctx, domain.JoinCommand(target, courseID))
	s.notify(ctx, courseID, event)
	return membership, nil
}

// RemoveMember deletes a membership on the owner's behalf. The audit event is
// attributed to the owner, not to the removed user.
func (s *MembershipService) RemoveMember(ctx context.Context, actor domain.UserID, membershipID domain.MembershipID) (removed *domain.Membership, err error) {
	ctx, end := s.begin(ctx, "remove_member", actor)
	defer end(&err)

	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var (
		target *domain.Membership
		course *domain.Course
	)
	err = s.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		m, err := tx.Roster().GetMembership(ctx, membershipID)
		if err != nil {
			return err
		}
		c, err := tx.Roster().GetCourse(ctx, m.CourseID)
		if err != nil {
			return err
		}
		target, course = m, c
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, course, ActionRemoveMember, false); err != nil {
		return nil, err
	}
	if target.IsOwner() || course.IsOwner(target.UserID) {
		return nil, translate(domain.ErrOwnerMembership)
	}

	var event *domain.AuditEvent
	err = s.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		m, err := tx.Roster().RemoveMember(ctx, membershipID)
		if err != nil {
			return err
		}
		targetName, err := displayName(ctx, tx, m.UserID)
		if err != nil {
			return err
		}
		actorName, err := displayName(ctx, tx, actor)
		if err != nil {
			return err
		}
		event, err = tx.Audit().Append(ctx, m.CourseID, actor, actorName, fmt.Sprintf("%s has been removed from the course", targetName))
		if err != nil {
			return err
		}
		removed = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infow("member removed", "course_id", removed.CourseID, "user_id", removed.UserID, "actor", actor)
	s.dispatch(ctx, domain.LeaveCommand(removed.UserID, removed.CourseID))
	s.notify(ctx, removed.CourseID, event)
	return removed, nil
}

// LeaveCourse removes the actor's own membership. The owner cannot leave.
func (s *MembershipService) LeaveCourse(ctx context.Context, actor domain.UserID, courseID domain.CourseID) (err error) {
	ctx, end := s.begin(ctx, "leave_course", actor)
	defer end(&err)

	if err := requireActor(actor); err != nil {
		return err
	}
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return err
	}
	if err := Authorize(actor, course, ActionLeaveCourse, true); err != nil {
		return err
	}

	var event *domain.AuditEvent
	err = s.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		if err := tx.Roster().LeaveCourse(ctx, courseID, actor); err != nil {
			return err
		}
		actorName, err := displayName(ctx, tx, actor)
		if err != nil {
			return err
		}
		event, err = tx.Audit().Append(ctx, courseID, actor, actorName, fmt.Sprintf("%s has left the course", actorName))
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Infow("member left", "course_id", courseID, "user_id", actor)
	s.dispatch(ctx, domain.LeaveCommand(actor, courseID))
	s.notify(ctx, courseID, event)
	return nil
}

func (s *MembershipService) GetMembers(ctx context.Context, actor domain.UserID, courseID domain.CourseID) (members []domain.MemberEntry, err error) {
	ctx, end := s.begin(ctx, "get_members", actor)
	defer end(&err)

	if err := requireActor(actor); err != nil {
		return nil, err
	}

	err = s.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		if _, err := authorizeMember(ctx, tx, actor, courseID, ActionListMembers); err != nil {
			return err
		}
		members, err = tx.Roster().GetMembers(ctx, courseID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []domain.MemberEntry{}
	}
	return members, nil
}

// ListEvents returns up to limit audit events, newest first. A non-positive
// limit selects the default; larger requests are clamped.
func (s *MembershipService) ListEvents(ctx context.Context, actor domain.UserID, courseID domain.CourseID, limit int) (events []*domain.AuditEvent, err error) {
	ctx, end := s.begin(ctx, "list_events", actor)
	defer end(&err)

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultEventsLimit
	case limit > MaxEventsLimit:
		limit = MaxEventsLimit
	}

	err = s.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		if _, err := authorizeMember(ctx, tx, actor, courseID, ActionListEvents); err != nil {
			return err
		}
		events, err = tx.Audit().ListByCourse(ctx, courseID, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []*domain.AuditEvent{}
	}
	return events, nil
}

func (s *MembershipService) loadCourse(ctx context.Context, courseID domain.CourseID) (course *domain.Course, err error) {
	err = s.withinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		course, err = tx.Roster().GetCourse(ctx, courseID)
		return err
	})
	return course, err
}

// withinTx bounds the transaction by the configured timeout and translates
// store errors.
func (s *MembershipService) withinTx(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()
	ctx, span := tracing.TraceDatabaseOperation(ctx, "transaction", "roster")
	defer span.End()

	if err := s.store.WithinTx(ctx, fn); err != nil {
		tracing.RecordError(ctx, err)
		appErr := translate(err)
		if apperrors.HasCode(appErr, apperrors.ErrCodeServiceUnavailable) {
			s.logger.Errorw("roster transaction failed", "error", err)
		}
		return appErr
	}
	return nil
}

// dispatch runs after commit. The request context may already be cancelled by
// then, so delivery gets its own lifetime bounded by the registry's timeout.
func (s *MembershipService) dispatch(ctx context.Context, cmd domain.ChannelCommand) {
	if s.channels == nil {
		return
	}
	if err := s.channels.Dispatch(context.WithoutCancel(ctx), cmd); err != nil {
		s.logger.Warnw("channel dispatch failed",
			"user_id", cmd.TargetUser,
			"channel", cmd.Channel,
			"action", cmd.Action,
			"error", err,
		)
	}
}

func (s *MembershipService) notify(ctx context.Context, courseID domain.CourseID, event *domain.AuditEvent) {
	if s.channels == nil || event == nil {
		return
	}
	if err := s.channels.Notify(context.WithoutCancel(ctx), courseID, event); err != nil {
		s.logger.Warnw("course notice failed", "course_id", courseID, "error", err)
	}
}

func (s *MembershipService) begin(ctx context.Context, op string, actor domain.UserID) (context.Context, func(*error)) {
	ctx, span := tracing.StartSpan(ctx, "membership."+op,
		trace.WithAttributes(attribute.String("actor", string(actor))))
	start := time.Now()

	return ctx, func(errp *error) {
		if err := *errp; err != nil {
			tracing.RecordError(ctx, err)
		}
		span.End()
		if s.observer != nil {
			outcome := "ok"
			if *errp != nil {
				outcome = string(apperrors.CodeOf(*errp))
			}
			s.observer.ObserveOperation(op, outcome, time.Since(start))
		}
	}
}

func requireActor(actor domain.UserID) error {
	if actor == "" {
		return apperrors.NewUnauthorizedError("authentication required")
	}
	return nil
}

// authorizeMember loads the course and checks a membership-gated action.
func authorizeMember(ctx context.Context, tx ports.Tx, actor domain.UserID, courseID domain.CourseID, action Action) (*domain.Course, error) {
	course, err := tx.Roster().GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	isMember := true
	if _, err := tx.Roster().FindMembership(ctx, courseID, actor); err != nil {
		if !errors.Is(err, domain.ErrMembershipNotFound) {
			return nil, err
		}
		isMember = false
	}
	if err := Authorize(actor, course, action, isMember); err != nil {
		return nil, err
	}
	return course, nil
}

// displayName snapshots a user's name for an audit event. Users missing from
// the directory are named by their ID.
func displayName(ctx context.Context, tx ports.Tx, userID domain.UserID) (string, error) {
	user, err := tx.Users().Lookup(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return string(userID), nil
		}
		return "", err
	}
	return nameOf(user), nil
}

func nameOf(user *domain.User) string {
	if user.DisplayName != "" {
		return user.DisplayName
	}
	return string(user.ID)
}

// translate maps store sentinels to application errors. Anything unrecognized,
// including a transaction timeout, is a storage failure.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsAppError(err) {
		return err
	}
	switch {
	case errors.Is(err, domain.ErrCourseNotFound):
		return apperrors.NewNotFoundError("course")
	case errors.Is(err, domain.ErrMembershipNotFound):
		return apperrors.NewNotFoundError("membership")
	case errors.Is(err, domain.ErrUserNotFound):
		return apperrors.NewNotFoundError("user")
	case errors.Is(err, domain.ErrAlreadyMember):
		return apperrors.NewConflictError(domain.ErrAlreadyMember.Error())
	case errors.Is(err, domain.ErrEmptyCourseName), errors.Is(err, domain.ErrOwnerMembership):
		return apperrors.NewInvalidInputError(err.Error())
	default:
		return apperrors.NewStorageError(err)
	}
}

var _ ports.MembershipService = (*MembershipService)(nil)
