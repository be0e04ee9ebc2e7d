// Package storetest provides an in-memory store.Store for unit tests of the
// layers above the database. Transactions are serialized and roll back by
// restoring a snapshot of the whole state.
package storetest

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/guregu/null/v5"

	"github.com/rafaeljc/booker/internal/conflict"
	"github.com/rafaeljc/booker/internal/store"
)

var _ store.Store = (*Memory)(nil)

type state struct {
	resourceTypes map[int64]store.ResourceType
	resources     map[int64]store.Resource
	rules         map[int64]store.Rule
	bookings      map[int64]store.Booking
	cancellations map[int64]store.Cancellation
	reschedules   []store.Reschedule
	requests      map[int64]store.ResourceRequest
	announcements []store.Announcement
	nextID        int64
}

func newState() *state {
	return &state{
		resourceTypes: map[int64]store.ResourceType{},
		resources:     map[int64]store.Resource{},
		rules:         map[int64]store.Rule{},
		bookings:      map[int64]store.Booking{},
		cancellations: map[int64]store.Cancellation{},
		requests:      map[int64]store.ResourceRequest{},
	}
}

// clone copies every table. Row values are replaced, never mutated, so a
// shallow copy per table is enough.
func (s *state) clone() *state {
	return &state{
		resourceTypes: maps.Clone(s.resourceTypes),
		resources:     maps.Clone(s.resources),
		rules:         maps.Clone(s.rules),
		bookings:      maps.Clone(s.bookings),
		cancellations: maps.Clone(s.cancellations),
		reschedules:   slices.Clone(s.reschedules),
		requests:      maps.Clone(s.requests),
		announcements: slices.Clone(s.announcements),
		nextID:        s.nextID,
	}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Memory is an in-memory store.Store.
type Memory struct {
	txMu sync.Mutex // serializes units of work
	mu   sync.Mutex // guards st and failures
	st   *state

	failures map[string]error
	txCount  int
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{st: newState(), failures: map[string]error{}}
}

// FailOn makes every later call to the named method return err.
func (m *Memory) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = err
}

// Transactions returns how many units of work were started.
func (m *Memory) Transactions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txCount
}

func (m *Memory) fail(method string) error {
	return m.failures[method]
}

func (m *Memory) InTx(ctx context.Context, fn func(q store.Queries) error) error {
	return m.runTx(ctx, false, fn)
}

func (m *Memory) InReadOnlyTx(ctx context.Context, fn func(q store.Queries) error) error {
	return m.runTx(ctx, true, fn)
}

func (m *Memory) runTx(ctx context.Context, readOnly bool, fn func(q store.Queries) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.txCount++
	if err := m.fail("Begin"); err != nil {
		m.mu.Unlock()
		return err
	}
	snapshot := m.st.clone()
	m.mu.Unlock()

	err := fn(m)
	if err != nil || readOnly {
		m.mu.Lock()
		m.st = snapshot
		m.mu.Unlock()
	}
	return err
}

// Snapshot accessors for assertions.

func (m *Memory) Bookings() []store.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Collect(maps.Values(m.st.bookings))
	slices.SortFunc(out, func(a, b store.Booking) int { return int(a.ID - b.ID) })
	return out
}

func (m *Memory) Announcements() []store.Announcement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.st.announcements)
}

func (m *Memory) Cancellations() []store.Cancellation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Collect(maps.Values(m.st.cancellations))
	slices.SortFunc(out, func(a, b store.Cancellation) int { return int(a.ID - b.ID) })
	return out
}

// -----------------------------------------------------------------------------
// Resources
// -----------------------------------------------------------------------------

func (m *Memory) CreateResourceType(_ context.Context, t *store.ResourceType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateResourceType"); err != nil {
		return err
	}
	for _, existing := range m.st.resourceTypes {
		if existing.Name == t.Name {
			return fmt.Errorf("%w: resource_types_name_key", store.ErrDuplicate)
		}
	}
	t.ID = m.st.id()
	t.CreatedAt, t.UpdatedAt = time.Now(), time.Now()
	m.st.resourceTypes[t.ID] = *t
	return nil
}

func (m *Memory) ListResourceTypes(_ context.Context) ([]store.ResourceType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListResourceTypes"); err != nil {
		return nil, err
	}
	out := slices.Collect(maps.Values(m.st.resourceTypes))
	slices.SortFunc(out, func(a, b store.ResourceType) int { return int(a.ID - b.ID) })
	return out, nil
}

func (m *Memory) CreateResource(_ context.Context, r *store.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateResource"); err != nil {
		return err
	}
	t, ok := m.st.resourceTypes[r.TypeID]
	if !ok {
		return fmt.Errorf("%w: resources_resource_type_id_fkey", store.ErrReference)
	}
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	r.ID = m.st.id()
	r.TypeName = t.Name
	r.CreatedAt, r.UpdatedAt = time.Now(), time.Now()
	m.st.resources[r.ID] = *r
	return nil
}

func (m *Memory) GetResource(_ context.Context, id int64) (store.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetResource"); err != nil {
		return store.Resource{}, err
	}
	r, ok := m.st.resources[id]
	if !ok {
		return store.Resource{}, store.ErrNotFound
	}
	return r, nil
}

func (m *Memory) ListResources(_ context.Context, f store.ResourceFilter) ([]store.Resource, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListResources"); err != nil {
		return nil, 0, err
	}
	out := []store.Resource{}
	for _, r := range m.st.resources {
		if f.TypeID.Valid && r.TypeID != f.TypeID.Int64 {
			continue
		}
		if f.ActiveOnly && !r.Active {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b store.Resource) int { return int(a.ID - b.ID) })
	total := int64(len(out))
	return page(out, f.Limit, f.Offset), total, nil
}

func (m *Memory) GetResources(_ context.Context, ids []int64) ([]store.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetResources"); err != nil {
		return nil, err
	}
	return m.resourcesByID(ids), nil
}

func (m *Memory) LockResources(_ context.Context, ids []int64) ([]store.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("LockResources"); err != nil {
		return nil, err
	}
	return m.resourcesByID(ids), nil
}

func (m *Memory) resourcesByID(ids []int64) []store.Resource {
	out := []store.Resource{}
	for _, id := range ids {
		if r, ok := m.st.resources[id]; ok {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b store.Resource) int { return int(a.ID - b.ID) })
	return slices.CompactFunc(out, func(a, b store.Resource) bool { return a.ID == b.ID })
}

// -----------------------------------------------------------------------------
// Rules
// -----------------------------------------------------------------------------

func (m *Memory) CreateRule(_ context.Context, r *store.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateRule"); err != nil {
		return err
	}
	r.ID = m.st.id()
	r.CreatedAt, r.UpdatedAt = time.Now(), time.Now()
	m.st.rules[r.ID] = *r
	return nil
}

func (m *Memory) GetRule(_ context.Context, id int64) (store.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetRule"); err != nil {
		return store.Rule{}, err
	}
	r, ok := m.st.rules[id]
	if !ok {
		return store.Rule{}, store.ErrNotFound
	}
	return r, nil
}

func (m *Memory) LockRule(ctx context.Context, id int64) (store.Rule, error) {
	m.mu.Lock()
	failure := m.fail("LockRule")
	m.mu.Unlock()
	if failure != nil {
		return store.Rule{}, failure
	}
	return m.GetRule(ctx, id)
}

func (m *Memory) ListRules(_ context.Context, activeOnly bool) ([]store.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListRules"); err != nil {
		return nil, err
	}
	out := []store.Rule{}
	for _, r := range m.st.rules {
		if activeOnly && !r.IsActive {
			continue
		}
		// Rows come back uncompiled, as from the database.
		r.Condition = nil
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b store.Rule) int {
		if a.SortOrder != b.SortOrder {
			return a.SortOrder - b.SortOrder
		}
		return int(a.ID - b.ID)
	})
	return out, nil
}

func (m *Memory) UpdateRule(_ context.Context, r *store.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateRule"); err != nil {
		return err
	}
	existing, ok := m.st.rules[r.ID]
	if !ok {
		return store.ErrNotFound
	}
	r.CreatedAt, r.UpdatedAt = existing.CreatedAt, time.Now()
	m.st.rules[r.ID] = *r
	return nil
}

func (m *Memory) DeleteRule(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteRule"); err != nil {
		return err
	}
	if _, ok := m.st.rules[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.st.rules, id)
	return nil
}

// -----------------------------------------------------------------------------
// Bookings
// -----------------------------------------------------------------------------

func (m *Memory) CreateBooking(_ context.Context, b *store.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateBooking"); err != nil {
		return err
	}
	for _, l := range b.Resources {
		if _, ok := m.st.resources[l.ResourceID]; !ok {
			return fmt.Errorf("%w: booking_resources_resource_id_fkey", store.ErrReference)
		}
	}
	if b.Attributes == nil {
		b.Attributes = map[string]any{}
	}
	b.ID = m.st.id()
	b.CreatedAt, b.UpdatedAt = time.Now(), time.Now()
	b.Resources = slices.Clone(b.Resources)
	m.st.bookings[b.ID] = *b
	return nil
}

func (m *Memory) GetBooking(_ context.Context, id int64) (store.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetBooking"); err != nil {
		return store.Booking{}, err
	}
	return m.booking(id)
}

func (m *Memory) LockBooking(_ context.Context, id int64) (store.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("LockBooking"); err != nil {
		return store.Booking{}, err
	}
	return m.booking(id)
}

func (m *Memory) booking(id int64) (store.Booking, error) {
	b, ok := m.st.bookings[id]
	if !ok {
		return store.Booking{}, store.ErrNotFound
	}
	_, b.Cancelled = m.st.cancellations[id]
	b.Resources = slices.Clone(b.Resources)
	return b, nil
}

func (m *Memory) ListBookings(_ context.Context, f store.BookingFilter) ([]store.Booking, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListBookings"); err != nil {
		return nil, 0, err
	}
	out := []store.Booking{}
	for id := range m.st.bookings {
		b, _ := m.booking(id)
		switch {
		case b.Cancelled && !f.IncludeCancelled,
			f.From.Valid && b.Date < f.From.String,
			f.To.Valid && b.Date > f.To.String,
			f.UserID.Valid && b.UserID != f.UserID.Int64,
			f.ResourceID.Valid && !slices.Contains(b.ResourceIDs(), f.ResourceID.Int64):
			continue
		}
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b store.Booking) int {
		if a.Date != b.Date {
			return cmp.Compare(a.Date, b.Date)
		}
		if a.StartTime != b.StartTime {
			return cmp.Compare(a.StartTime, b.StartTime)
		}
		return int(a.ID - b.ID)
	})
	total := int64(len(out))
	return page(out, f.Limit, f.Offset), total, nil
}

func (m *Memory) UpdateBooking(_ context.Context, b *store.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateBooking"); err != nil {
		return err
	}
	existing, ok := m.st.bookings[b.ID]
	if !ok {
		return store.ErrNotFound
	}
	updated := *b
	updated.Resources = existing.Resources
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now()
	if updated.Attributes == nil {
		updated.Attributes = map[string]any{}
	}
	m.st.bookings[b.ID] = updated
	b.UpdatedAt = updated.UpdatedAt
	return nil
}

func (m *Memory) ReplaceBookingResources(_ context.Context, bookingID int64, links []store.BookingResource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ReplaceBookingResources"); err != nil {
		return err
	}
	b, ok := m.st.bookings[bookingID]
	if !ok {
		return fmt.Errorf("%w: booking_resources_booking_id_fkey", store.ErrReference)
	}
	b.Resources = slices.Clone(links)
	m.st.bookings[bookingID] = b
	return nil
}

func (m *Memory) FindConflicts(_ context.Context, q conflict.Query) ([]store.ConflictingBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("FindConflicts"); err != nil {
		return nil, err
	}

	existing := make([]conflict.Booking, 0, len(m.st.bookings))
	for id := range m.st.bookings {
		b, _ := m.booking(id)
		existing = append(existing, conflict.Booking{
			ID:          b.ID,
			Slot:        b.Slot(),
			ResourceIDs: b.ResourceIDs(),
			Cancelled:   b.Cancelled,
		})
	}
	slices.SortFunc(existing, func(a, b conflict.Booking) int { return int(a.ID - b.ID) })

	out := []store.ConflictingBooking{}
	for _, c := range conflict.Conflicts(q, existing) {
		b := m.st.bookings[c.ID]
		for _, rid := range c.ResourceIDs {
			if !slices.Contains(q.ResourceIDs, rid) {
				continue
			}
			out = append(out, store.ConflictingBooking{
				BookingID:  b.ID,
				Title:      b.Title,
				UserID:     b.UserID,
				Date:       b.Date,
				StartTime:  b.StartTime,
				EndTime:    b.EndTime,
				ResourceID: rid,
			})
		}
	}
	return out, nil
}

func (m *Memory) CancelBooking(_ context.Context, c *store.Cancellation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CancelBooking"); err != nil {
		return err
	}
	if _, ok := m.st.bookings[c.BookingID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := m.st.cancellations[c.BookingID]; ok {
		return store.ErrAlreadyCancelled
	}
	c.ID = m.st.id()
	c.CreatedAt = time.Now()
	m.st.cancellations[c.BookingID] = *c
	return nil
}

func (m *Memory) RecordReschedule(_ context.Context, r *store.Reschedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("RecordReschedule"); err != nil {
		return err
	}
	r.ID = m.st.id()
	r.CreatedAt = time.Now()
	m.st.reschedules = append(m.st.reschedules, *r)
	return nil
}

func (m *Memory) ListReschedules(_ context.Context, bookingID int64) ([]store.Reschedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListReschedules"); err != nil {
		return nil, err
	}
	out := []store.Reschedule{}
	for _, r := range m.st.reschedules {
		if r.BookingID == bookingID {
			out = append(out, r)
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Requests
// -----------------------------------------------------------------------------

func (m *Memory) CreateRequest(_ context.Context, r *store.ResourceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateRequest"); err != nil {
		return err
	}
	if _, ok := m.st.resources[r.ResourceID]; !ok {
		return fmt.Errorf("%w: resource_requests_resource_id_fkey", store.ErrReference)
	}
	if r.Attributes == nil {
		r.Attributes = map[string]any{}
	}
	r.ID = m.st.id()
	r.Status = store.RequestPending
	r.CreatedAt, r.UpdatedAt = time.Now(), time.Now()
	m.st.requests[r.ID] = *r
	return nil
}

func (m *Memory) GetRequest(_ context.Context, id int64) (store.ResourceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetRequest"); err != nil {
		return store.ResourceRequest{}, err
	}
	r, ok := m.st.requests[id]
	if !ok {
		return store.ResourceRequest{}, store.ErrNotFound
	}
	return r, nil
}

func (m *Memory) LockRequest(ctx context.Context, id int64) (store.ResourceRequest, error) {
	m.mu.Lock()
	failure := m.fail("LockRequest")
	m.mu.Unlock()
	if failure != nil {
		return store.ResourceRequest{}, failure
	}
	return m.GetRequest(ctx, id)
}

func (m *Memory) ListRequests(_ context.Context, f store.RequestFilter) ([]store.ResourceRequest, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListRequests"); err != nil {
		return nil, 0, err
	}
	out := []store.ResourceRequest{}
	for _, r := range m.st.requests {
		if f.Status.Valid && r.Status != f.Status.String {
			continue
		}
		if f.RequesterID.Valid && r.RequesterID != f.RequesterID.Int64 {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b store.ResourceRequest) int { return int(b.ID - a.ID) })
	total := int64(len(out))
	return page(out, f.Limit, f.Offset), total, nil
}

func (m *Memory) ApproveRequest(_ context.Context, id, bookingID int64) error {
	return m.setRequestStatus("ApproveRequest", id, store.RequestApproved, null.IntFrom(bookingID))
}

func (m *Memory) RejectRequest(_ context.Context, id int64) error {
	return m.setRequestStatus("RejectRequest", id, store.RequestRejected, null.Int{})
}

func (m *Memory) setRequestStatus(method string, id int64, status string, bookingID null.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(method); err != nil {
		return err
	}
	r, ok := m.st.requests[id]
	if !ok {
		return store.ErrNotFound
	}
	r.Status = status
	r.BookingID = bookingID
	r.UpdatedAt = time.Now()
	m.st.requests[id] = r
	return nil
}

// -----------------------------------------------------------------------------
// Announcements
// -----------------------------------------------------------------------------

func (m *Memory) CreateAnnouncement(_ context.Context, a *store.Announcement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateAnnouncement"); err != nil {
		return err
	}
	a.ID = m.st.id()
	a.CreatedAt = time.Now()
	m.st.announcements = append(m.st.announcements, *a)
	return nil
}

func (m *Memory) ClaimAnnouncements(_ context.Context, limit uint64) ([]store.Announcement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ClaimAnnouncements"); err != nil {
		return nil, err
	}
	out := []store.Announcement{}
	for _, a := range m.st.announcements {
		if uint64(len(out)) >= limit {
			break
		}
		if !a.DispatchedAt.Valid {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) MarkAnnouncementsDispatched(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("MarkAnnouncementsDispatched"); err != nil {
		return err
	}
	now := null.TimeFrom(time.Now())
	for i := range m.st.announcements {
		if slices.Contains(ids, m.st.announcements[i].ID) {
			m.st.announcements[i].DispatchedAt = now
		}
	}
	return nil
}

func (m *Memory) CountPendingAnnouncements(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CountPendingAnnouncements"); err != nil {
		return 0, err
	}
	var n int64
	for _, a := range m.st.announcements {
		if !a.DispatchedAt.Valid {
			n++
		}
	}
	return n, nil
}

func page[T any](rows []T, limit, offset uint64) []T {
	if offset >= uint64(len(rows)) {
		return []T{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < uint64(len(rows)) {
		rows = rows[:limit]
	}
	return rows
}
