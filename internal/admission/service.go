// Package admission runs booking mutations through the admission unit of work:
// validate, lock, conflict check, rule evaluation and write, all inside one
// store transaction. It is the only layer that classifies errors.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/guregu/null/v5"

	"github.com/rafaeljc/booker/internal/conflict"
	"github.com/rafaeljc/booker/internal/logger"
	"github.com/rafaeljc/booker/internal/observability"
	"github.com/rafaeljc/booker/internal/ruleengine"
	"github.com/rafaeljc/booker/internal/store"
	"github.com/rafaeljc/booker/internal/validation"
)

// Operation names, used as metric labels and in logs.
const (
	OpCreate     = "create"
	OpUpdate     = "update"
	OpCancel     = "cancel"
	OpReschedule = "reschedule"
	OpApprove    = "approve_request"
	OpReject     = "reject_request"
	OpRequest    = "create_request"
	OpPreview    = "preview"
)

// Assignment is one resource of a proposal with its optional role.
type Assignment struct {
	ResourceID int64
	Role       null.String
}

// BookingInput is a proposed booking. Times may be HH:MM or HH:MM:SS.
type BookingInput struct {
	Title      string
	UserID     int64
	Date       string
	StartTime  string
	EndTime    string
	Location   null.String
	Attributes map[string]any
	Resources  []Assignment
}

// CancelInput describes a cancellation.
type CancelInput struct {
	Reason string
	Actor  string
}

// RescheduleInput moves a booking to a new slot. Location replaces the
// booking's location; a null location clears it.
type RescheduleInput struct {
	Date      string
	StartTime string
	EndTime   string
	Location  null.String
	Reason    string
	Actor     string
}

// RequestInput is a user's request for one resource.
type RequestInput struct {
	ResourceID  int64
	RequesterID int64
	Title       string
	Date        string
	StartTime   string
	EndTime     string
	Note        string
	Attributes  map[string]any
}

// Outcome is a committed booking and the evaluation that admitted it.
type Outcome struct {
	Booking    store.Booking
	Evaluation ruleengine.Result
}

// ApprovalOutcome is the result of approving a request. AlreadyApproved is set
// when the request was linked to a booking before the call.
type ApprovalOutcome struct {
	Outcome
	Request         store.ResourceRequest
	AlreadyApproved bool
}

// Preview is a dry run of the admission checks.
type Preview struct {
	Conflicts  []store.ConflictingBooking
	Evaluation ruleengine.Result
}

// Service runs admission units against a store.
type Service struct {
	store  store.Store
	engine *ruleengine.Engine
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates the admission service. A nil engine gets one logging to l.
func NewService(s store.Store, engine *ruleengine.Engine, l *slog.Logger) *Service {
	validation.AssertNotNilInterface(s, "store")
	if l == nil {
		l = slog.Default()
	}
	if engine == nil {
		engine = ruleengine.New(logger.Component(l, "ruleengine"))
	}
	return &Service{
		store:  s,
		engine: engine,
		logger: logger.Component(l, "admission"),
		now:    time.Now,
	}
}

// CreateBooking admits and inserts a new booking.
func (s *Service) CreateBooking(ctx context.Context, in BookingInput) (Outcome, error) {
	start := s.now()

	slot, err := in.validate()
	if err != nil {
		return Outcome{}, s.finish(ctx, OpCreate, start, err, nil)
	}

	var out Outcome
	err = s.store.InTx(ctx, func(q store.Queries) error {
		res, err := s.admit(ctx, q, 0, in, slot)
		if err != nil {
			return err
		}

		b := in.booking(slot)
		if err := q.CreateBooking(ctx, &b); err != nil {
			return storeFailure(err)
		}
		out = Outcome{Booking: b, Evaluation: res}
		return nil
	})

	return out, s.finish(ctx, OpCreate, start, err, &out)
}

// UpdateBooking admits the new shape of an existing booking and replaces its
// fields and resource links wholesale.
func (s *Service) UpdateBooking(ctx context.Context, id int64, in BookingInput) (Outcome, error) {
	start := s.now()

	slot, err := in.validate()
	if err != nil {
		return Outcome{}, s.finish(ctx, OpUpdate, start, err, nil)
	}

	var out Outcome
	err = s.store.InTx(ctx, func(q store.Queries) error {
		existing, err := q.LockBooking(ctx, id)
		if err != nil {
			return fromStore(err, "booking", id)
		}
		if existing.Cancelled {
			return errors.Wrapf(ErrAlreadyCancelled, "booking %d", id)
		}

		res, err := s.admit(ctx, q, id, in, slot)
		if err != nil {
			return err
		}

		b := in.booking(slot)
		b.ID = id
		b.CreatedAt = existing.CreatedAt
		if err := q.UpdateBooking(ctx, &b); err != nil {
			return fromStore(err, "booking", id)
		}
		if err := q.ReplaceBookingResources(ctx, id, b.Resources); err != nil {
			return storeFailure(err)
		}
		out = Outcome{Booking: b, Evaluation: res}
		return nil
	})

	return out, s.finish(ctx, OpUpdate, start, err, &out)
}

// CancelBooking records the cancellation and queues its announcement. A
// booking can be cancelled once; later calls fail with ErrAlreadyCancelled
// and write nothing.
func (s *Service) CancelBooking(ctx context.Context, id int64, in CancelInput) (store.Cancellation, error) {
	start := s.now()

	var c store.Cancellation
	err := s.store.InTx(ctx, func(q store.Queries) error {
		b, err := q.LockBooking(ctx, id)
		if err != nil {
			return fromStore(err, "booking", id)
		}
		if b.Cancelled {
			return errors.Wrapf(ErrAlreadyCancelled, "booking %d", id)
		}

		c = store.Cancellation{BookingID: id, Reason: strings.TrimSpace(in.Reason), CancelledBy: in.Actor}
		if err := q.CancelBooking(ctx, &c); err != nil {
			return fromStore(err, "booking", id)
		}

		a := announcement(b, titleCancelled, CancellationMessage(b, in.Reason), in.Actor)
		if err := q.CreateAnnouncement(ctx, &a); err != nil {
			return storeFailure(err)
		}
		return nil
	})

	return c, s.finish(ctx, OpCancel, start, err, nil)
}

// RescheduleBooking re-admits a booking on a new slot with its current
// resources, records the move and queues its announcement.
func (s *Service) RescheduleBooking(ctx context.Context, id int64, in RescheduleInput) (Outcome, error) {
	start := s.now()

	slot, verr := conflict.NewSlot(in.Date, in.StartTime, in.EndTime)
	fields := &ValidationError{}
	if verr != nil {
		fields.add("slot", verr.Error())
	}
	validateLocation(fields, in.Location)
	if err := fields.err(); err != nil {
		return Outcome{}, s.finish(ctx, OpReschedule, start, err, nil)
	}

	var out Outcome
	err := s.store.InTx(ctx, func(q store.Queries) error {
		b, err := q.LockBooking(ctx, id)
		if err != nil {
			return fromStore(err, "booking", id)
		}
		if b.Cancelled {
			return errors.Wrapf(ErrAlreadyCancelled, "booking %d", id)
		}
		if len(b.Resources) == 0 {
			return invalid("resources", "booking has no resources")
		}

		proposal := BookingInput{
			Title:      b.Title,
			UserID:     b.UserID,
			Attributes: b.Attributes,
			Resources:  assignments(b.Resources),
		}
		res, err := s.admit(ctx, q, id, proposal, slot)
		if err != nil {
			return err
		}

		from := b.Slot()
		b.Date, b.StartTime, b.EndTime = slot.Date, slot.Start, slot.End
		b.Location = in.Location
		if err := q.UpdateBooking(ctx, &b); err != nil {
			return fromStore(err, "booking", id)
		}

		move := store.Reschedule{
			BookingID:     id,
			From:          from,
			To:            slot,
			Reason:        strings.TrimSpace(in.Reason),
			RescheduledBy: in.Actor,
		}
		if err := q.RecordReschedule(ctx, &move); err != nil {
			return storeFailure(err)
		}

		a := announcement(b, titleRescheduled, RescheduleMessage(b, from, in.Reason), in.Actor)
		if err := q.CreateAnnouncement(ctx, &a); err != nil {
			return storeFailure(err)
		}

		out = Outcome{Booking: b, Evaluation: res}
		return nil
	})

	return out, s.finish(ctx, OpReschedule, start, err, &out)
}

// CreateRequest stores a pending resource request. Nothing is admitted yet.
func (s *Service) CreateRequest(ctx context.Context, in RequestInput) (store.ResourceRequest, error) {
	start := s.now()

	fields := &ValidationError{}
	if in.ResourceID <= 0 {
		fields.add("resource_id", "must be a positive id")
	}
	if in.RequesterID <= 0 {
		fields.add("requester_id", "must be a positive id")
	}
	slot, err := conflict.NewSlot(in.Date, in.StartTime, in.EndTime)
	if err != nil {
		fields.add("slot", err.Error())
	}
	if err := fields.err(); err != nil {
		return store.ResourceRequest{}, s.finish(ctx, OpRequest, start, err, nil)
	}

	r := store.ResourceRequest{
		ResourceID:  in.ResourceID,
		RequesterID: in.RequesterID,
		Title:       strings.TrimSpace(in.Title),
		Date:        slot.Date,
		StartTime:   slot.Start,
		EndTime:     slot.End,
		Note:        in.Note,
		Attributes:  in.Attributes,
	}
	err = s.store.CreateRequest(ctx, &r)
	if errors.Is(err, store.ErrReference) {
		err = invalid("resource_id", fmt.Sprintf("resource %d does not exist", in.ResourceID))
	} else if err != nil {
		err = storeFailure(err)
	}

	return r, s.finish(ctx, OpRequest, start, err, nil)
}

// ApproveRequest promotes a pending request into a booking through the same
// checks as CreateBooking and links the booking to the request. Approving a
// request that already has a booking returns that booking unchanged.
func (s *Service) ApproveRequest(ctx context.Context, id int64) (ApprovalOutcome, error) {
	start := s.now()

	var out ApprovalOutcome
	err := s.store.InTx(ctx, func(q store.Queries) error {
		r, err := q.LockRequest(ctx, id)
		if err != nil {
			return fromStore(err, "request", id)
		}

		if r.BookingID.Valid {
			b, err := q.GetBooking(ctx, r.BookingID.Int64)
			if err != nil {
				return fromStore(err, "booking", r.BookingID.Int64)
			}
			out = ApprovalOutcome{
				Outcome:         Outcome{Booking: b, Evaluation: ruleengine.EmptyResult()},
				Request:         r,
				AlreadyApproved: true,
			}
			return nil
		}
		if r.Status == store.RequestRejected {
			return invalid("status", "request was rejected")
		}

		in := BookingInput{
			Title:      r.Title,
			UserID:     r.RequesterID,
			Date:       r.Date,
			StartTime:  r.StartTime,
			EndTime:    r.EndTime,
			Attributes: r.Attributes,
			Resources:  []Assignment{{ResourceID: r.ResourceID}},
		}
		slot, err := in.validate()
		if err != nil {
			return err
		}

		res, err := s.admit(ctx, q, 0, in, slot)
		if err != nil {
			return err
		}

		b := in.booking(slot)
		if err := q.CreateBooking(ctx, &b); err != nil {
			return storeFailure(err)
		}
		if err := q.ApproveRequest(ctx, id, b.ID); err != nil {
			return fromStore(err, "request", id)
		}

		r.Status = store.RequestApproved
		r.BookingID = null.IntFrom(b.ID)
		out = ApprovalOutcome{Outcome: Outcome{Booking: b, Evaluation: res}, Request: r}
		return nil
	})

	// Nothing was evaluated on the idempotent path.
	evaluated := &out.Outcome
	if out.AlreadyApproved {
		evaluated = nil
	}
	return out, s.finish(ctx, OpApprove, start, err, evaluated)
}

// RejectRequest marks a pending request rejected. Rejecting twice is a no-op;
// an approved request cannot be rejected.
func (s *Service) RejectRequest(ctx context.Context, id int64) (store.ResourceRequest, error) {
	start := s.now()

	var out store.ResourceRequest
	err := s.store.InTx(ctx, func(q store.Queries) error {
		r, err := q.LockRequest(ctx, id)
		if err != nil {
			return fromStore(err, "request", id)
		}
		switch r.Status {
		case store.RequestRejected:
			out = r
			return nil
		case store.RequestApproved:
			return invalid("status", "request was already approved")
		}

		if err := q.RejectRequest(ctx, id); err != nil {
			return fromStore(err, "request", id)
		}
		r.Status = store.RequestRejected
		out = r
		return nil
	})

	return out, s.finish(ctx, OpReject, start, err, nil)
}

// PreviewBooking runs the conflict check and the rule evaluation for a
// proposal in a read-only transaction. Conflicts and hard violations are
// reported in the result, not as errors.
func (s *Service) PreviewBooking(ctx context.Context, excludeID int64, in BookingInput) (Preview, error) {
	start := s.now()

	slot, err := in.validate()
	if err != nil {
		return Preview{}, s.finish(ctx, OpPreview, start, err, nil)
	}

	var out Preview
	err = s.store.InReadOnlyTx(ctx, func(q store.Queries) error {
		conflicts, res, err := s.check(ctx, q, false, excludeID, in, slot)
		if err != nil {
			return err
		}
		out = Preview{Conflicts: conflicts, Evaluation: res}
		return nil
	})

	if err == nil {
		observability.AdmissionDuration.WithLabelValues(OpPreview).Observe(time.Since(start).Seconds())
		return out, nil
	}
	return out, s.finish(ctx, OpPreview, start, err, nil)
}

// admit is the shared core of every write: it fails with ConflictError or
// RuleViolationError instead of reporting them.
func (s *Service) admit(ctx context.Context, q store.Queries, excludeID int64, in BookingInput, slot conflict.Slot) (ruleengine.Result, error) {
	conflicts, res, err := s.check(ctx, q, true, excludeID, in, slot)
	if err != nil {
		return ruleengine.Result{}, err
	}
	if len(conflicts) > 0 {
		return ruleengine.Result{}, &ConflictError{Conflicts: conflicts}
	}
	if res.Blocked() {
		return ruleengine.Result{}, &RuleViolationError{Violations: res.HardViolations, Alerts: res.Alerts}
	}
	return res, nil
}

// check locks (or reads) the proposal's resources, looks for conflicts and
// evaluates the active rules. Evaluation is skipped when there are conflicts.
func (s *Service) check(
	ctx context.Context,
	q store.Queries,
	lock bool,
	excludeID int64,
	in BookingInput,
	slot conflict.Slot,
) ([]store.ConflictingBooking, ruleengine.Result, error) {
	ids := in.resourceIDs()

	load := q.GetResources
	if lock {
		load = q.LockResources
	}
	found, err := load(ctx, ids)
	if err != nil {
		return nil, ruleengine.Result{}, storeFailure(err)
	}

	conflicts, err := q.FindConflicts(ctx, conflict.Query{ResourceIDs: ids, Slot: slot, ExcludeID: excludeID})
	if err != nil {
		return nil, ruleengine.Result{}, storeFailure(err)
	}
	if len(conflicts) > 0 {
		return conflicts, ruleengine.EmptyResult(), nil
	}

	resources, missing := inInputOrder(ids, found)
	if len(missing) > 0 {
		return nil, ruleengine.Result{}, invalid("resources", fmt.Sprintf("unknown resource ids %v", missing))
	}

	stored, err := q.ListRules(ctx, true)
	if err != nil {
		return nil, ruleengine.Result{}, storeFailure(err)
	}
	rules := make([]ruleengine.Rule, len(stored))
	for i := range stored {
		rules[i] = stored[i].Rule
	}

	evalStart := time.Now()
	res := s.engine.Evaluate(ruleengine.Input{
		Rules: s.engine.Prepare(rules),
		Booking: ruleengine.Booking{
			Date:       slot.Date,
			StartTime:  slot.Start,
			EndTime:    slot.End,
			UserID:     in.UserID,
			Attributes: in.Attributes,
		},
		Resources: resources,
		Roles:     in.roles(),
	})
	observability.RuleEvaluationDuration.Observe(time.Since(evalStart).Seconds())

	return nil, res, nil
}

// finish records metrics and the decision log line, and returns err
// classified.
func (s *Service) finish(ctx context.Context, op string, start time.Time, err error, out *Outcome) error {
	err = classify(err)
	outcome := outcomeOf(err)

	observability.AdmissionDecisionsTotal.WithLabelValues(op, outcome).Inc()
	observability.AdmissionDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	log := logger.FromContext(ctx)
	if log == slog.Default() {
		log = s.logger
	}

	switch outcome {
	case observability.OutcomeAccepted:
		attrs := []any{slog.String("operation", op)}
		if out != nil && out.Booking.ID != 0 {
			observability.RuleEvaluationScore.Observe(out.Evaluation.Score)
			attrs = append(attrs,
				slog.Int64("booking_id", out.Booking.ID),
				slog.Float64("score", out.Evaluation.Score),
				slog.Int("alerts", len(out.Evaluation.Alerts)),
			)
		}
		log.Info("admission accepted", attrs...)
	case observability.OutcomeStoreError, observability.OutcomeInternalError:
		log.Error("admission failed", "operation", op, "error", err)
	default:
		attrs := []any{slog.String("operation", op), slog.String("outcome", outcome), slog.String("error", err.Error())}
		var rv *RuleViolationError
		if errors.As(err, &rv) {
			attrs = append(attrs, slog.Int("violations", len(rv.Violations)))
		}
		log.Warn("admission rejected", attrs...)
	}

	return err
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeAccepted
	case errors.Is(err, ErrValidation):
		return observability.OutcomeInvalid
	case errors.Is(err, ErrNotFound):
		return observability.OutcomeNotFound
	case errors.Is(err, ErrConflict):
		return observability.OutcomeConflict
	case errors.Is(err, ErrRuleViolation):
		return observability.OutcomeRejected
	case errors.Is(err, ErrAlreadyCancelled):
		return observability.OutcomeCancelled
	case errors.Is(err, ErrStore):
		return observability.OutcomeStoreError
	default:
		return observability.OutcomeInternalError
	}
}

// validate checks the proposal's shape before any store access and returns
// its normalized slot.
func (in BookingInput) validate() (conflict.Slot, error) {
	fields := &ValidationError{}

	if len(in.Resources) == 0 {
		fields.add("resources", "at least one resource is required")
	}
	seen := make(map[int64]bool, len(in.Resources))
	for _, a := range in.Resources {
		if a.ResourceID <= 0 {
			fields.add("resources", "resource ids must be positive")
			continue
		}
		if seen[a.ResourceID] {
			fields.add("resources", fmt.Sprintf("resource %d listed twice", a.ResourceID))
		}
		seen[a.ResourceID] = true
	}
	if in.UserID <= 0 {
		fields.add("user_id", "must be a positive id")
	}

	slot, err := conflict.NewSlot(in.Date, in.StartTime, in.EndTime)
	if err != nil {
		fields.add("slot", err.Error())
	}
	validateLocation(fields, in.Location)

	return slot, fields.err()
}

func validateLocation(fields *ValidationError, loc null.String) {
	if loc.Valid && loc.String != store.LocationClassroom && loc.String != store.LocationZoom {
		fields.add("location", "must be classroom or zoom")
	}
}

func (in BookingInput) booking(slot conflict.Slot) store.Booking {
	links := make([]store.BookingResource, len(in.Resources))
	for i, a := range in.Resources {
		links[i] = store.BookingResource{ResourceID: a.ResourceID, Role: a.Role}
	}
	return store.Booking{
		Title:      strings.TrimSpace(in.Title),
		UserID:     in.UserID,
		Date:       slot.Date,
		StartTime:  slot.Start,
		EndTime:    slot.End,
		Location:   in.Location,
		Attributes: in.Attributes,
		Resources:  links,
	}
}

func (in BookingInput) resourceIDs() []int64 {
	ids := make([]int64, len(in.Resources))
	for i, a := range in.Resources {
		ids[i] = a.ResourceID
	}
	return ids
}

func (in BookingInput) roles() map[int64]null.String {
	roles := make(map[int64]null.String, len(in.Resources))
	for _, a := range in.Resources {
		roles[a.ResourceID] = a.Role
	}
	return roles
}

func assignments(links []store.BookingResource) []Assignment {
	out := make([]Assignment, len(links))
	for i, l := range links {
		out[i] = Assignment{ResourceID: l.ResourceID, Role: l.Role}
	}
	return out
}

// inInputOrder returns the facts of found resources following ids, and the
// ids that were not found.
func inInputOrder(ids []int64, found []store.Resource) ([]ruleengine.Resource, []int64) {
	byID := make(map[int64]store.Resource, len(found))
	for _, r := range found {
		byID[r.ID] = r
	}

	var (
		out     = make([]ruleengine.Resource, 0, len(ids))
		missing []int64
	)
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		out = append(out, r.Facts())
	}
	slices.Sort(missing)
	return out, missing
}
