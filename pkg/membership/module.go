// Package membership is the members and donations domain: its collections,
// its operation tree and the mirror built from it.
//
// Member-facing operations run against the unprivileged store, typically a
// document.Scoped resolving the caller from the request context. The admin
// group runs against the privileged store and is the only part whose results
// are cached, since they do not depend on who is asking.
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nimburion/docops/pkg/observability/logger"
	"github.com/nimburion/docops/pkg/query"
	"github.com/nimburion/docops/pkg/querycache"
	"github.com/nimburion/docops/pkg/registry"
	"github.com/nimburion/docops/pkg/repository"
	"github.com/nimburion/docops/pkg/repository/document"
	"github.com/nimburion/docops/pkg/schema"
)

// Prefix is the cache key prefix of the membership mirror.
const Prefix = "members"

var (
	// ErrInvalidInput reports operation input that fails domain checks.
	ErrInvalidInput = errors.New("membership: invalid input")
	// ErrMemberExists reports a create for an id that is already a member.
	ErrMemberExists = errors.New("membership: member already exists")
)

// NewMember is the input of members/create.
type NewMember struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Email   string   `json:"email"`
	Tags    []string `json:"tags,omitempty"`
	Address *Address `json:"address,omitempty"`
}

// MemberUpdate is the input of members/update. Patch keys are top-level
// Member fields.
type MemberUpdate struct {
	ID    string         `json:"id"`
	Patch map[string]any `json:"patch"`
}

// NewDonation is the input of members/donations/create.
type NewDonation struct {
	MemberID string  `json:"memberId"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Note     string  `json:"note,omitempty"`
}

// DonationQuery is the input of members/donations/list.
type DonationQuery struct {
	MemberID string          `json:"memberId"`
	Vars     query.Variables `json:"vars"`
}

// Option configures a Module.
type Option func(*Module)

// WithCache caches admin reads in client and invalidates them on writes.
func WithCache(client *querycache.Client, ttl time.Duration) Option {
	return func(m *Module) {
		m.cache = client
		m.ttl = ttl
	}
}

// WithClock sets the clock used for joinedAt and donatedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Module) {
		if now != nil {
			m.now = now
		}
	}
}

// Module holds the membership mirror and its typed leaves.
type Module struct {
	Mirror *registry.Mirror

	List           *registry.Bound[query.Variables, []schema.Record[Member]]
	Get            *registry.Bound[string, *schema.Record[Member]]
	Create         *registry.Bound[NewMember, string]
	Update         *registry.Bound[MemberUpdate, string]
	ListDonations  *registry.Bound[DonationQuery, []schema.Record[Donation]]
	CreateDonation *registry.Bound[NewDonation, string]
	AdminList      *registry.Bound[query.Variables, []schema.Record[Member]]
	AdminGet       *registry.Bound[string, *schema.Record[Member]]
	AdminDonations *registry.Bound[query.Variables, []schema.Record[Donation]]

	members        *repository.Repository[Member]
	donations      *repository.Repository[Donation]
	adminMembers   *repository.Repository[Member]
	adminDonations *repository.Repository[Donation]

	log   logger.Logger
	cache *querycache.Client
	ttl   time.Duration
	now   func() time.Time

	memberFields map[string]bool
}

// NewModule builds the membership mirror over the two stores.
func NewModule(privileged, unprivileged document.Store, log logger.Logger, opts ...Option) (*Module, error) {
	if privileged == nil || unprivileged == nil {
		return nil, fmt.Errorf("membership: both stores are required")
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("module", Prefix)
	read := []repository.Option{repository.WithLogger(log)}

	m := &Module{
		members:        repository.New(unprivileged, Members, read...),
		donations:      repository.New(unprivileged, Donations, read...),
		adminMembers:   repository.New(privileged, Members, read...),
		adminDonations: repository.New(privileged, Donations, append(read, repository.WithPartialResults())...),
		log:            log,
		now:            time.Now,
		memberFields:   map[string]bool{},
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, f := range query.Fields[Member]() {
		if !strings.Contains(f, ".") {
			m.memberFields[f] = true
		}
	}

	mirror, err := registry.Build(m.tree(), registry.WithPrefix(Prefix))
	if err != nil {
		return nil, err
	}
	m.Mirror = mirror
	m.bind()
	return m, nil
}

func (m *Module) tree() registry.Tree {
	return registry.Tree{
		registry.Op("list", m.list),
		registry.Op("get", m.get),
		registry.Op("create", m.create),
		registry.Op("update", m.update),
		registry.Group("donations",
			registry.Op("list", m.listDonations),
			registry.Op("create", m.createDonation),
		),
		registry.Group("admin",
			registry.Op("list", m.adminList),
			registry.Op("get", m.adminGet),
			registry.Op("donations", m.adminDonationList),
		),
	}
}

// bind panics only if tree and bind disagree.
func (m *Module) bind() {
	m.List = registry.MustBind[query.Variables, []schema.Record[Member]](m.Mirror, "list")
	m.Get = registry.MustBind[string, *schema.Record[Member]](m.Mirror, "get")
	m.Create = registry.MustBind[NewMember, string](m.Mirror, "create")
	m.Update = registry.MustBind[MemberUpdate, string](m.Mirror, "update")
	m.ListDonations = registry.MustBind[DonationQuery, []schema.Record[Donation]](m.Mirror, "donations", "list")
	m.CreateDonation = registry.MustBind[NewDonation, string](m.Mirror, "donations", "create")
	m.AdminList = registry.MustBind[query.Variables, []schema.Record[Member]](m.Mirror, "admin", "list")
	m.AdminGet = registry.MustBind[string, *schema.Record[Member]](m.Mirror, "admin", "get")
	m.AdminDonations = registry.MustBind[query.Variables, []schema.Record[Donation]](m.Mirror, "admin", "donations")
}

// Affected returns the key prefixes a write through the leaf at path makes
// stale. Reads outside the returned prefixes are untouched.
func (m *Module) Affected(path ...string) []registry.CacheKey {
	admin := m.Mirror.Node("admin")
	switch strings.Join(path, "/") {
	case "create", "update":
		return []registry.CacheKey{m.List.Base(), m.Get.Base(), admin.Child("list").Base(), admin.Child("get").Base()}
	case "donations/create":
		return []registry.CacheKey{m.ListDonations.Base(), admin.Child("donations").Base()}
	}
	return nil
}

// Collection runs vars against a collection by name on the privileged store
// and returns the records as generic values.
func (m *Module) Collection(ctx context.Context, name string, vars query.Variables) (any, error) {
	switch name {
	case Members.Name():
		return m.adminMembers.ListStrict(ctx, vars)
	case Donations.Name():
		return m.adminDonations.ListStrict(ctx, vars)
	}
	return nil, fmt.Errorf("%w: unknown collection %q", ErrInvalidInput, name)
}

func (m *Module) list(ctx context.Context, vars query.Variables) ([]schema.Record[Member], error) {
	return m.members.List(ctx, vars), nil
}

func (m *Module) get(ctx context.Context, id string) (*schema.Record[Member], error) {
	return m.members.Get(ctx, id), nil
}

func (m *Module) create(ctx context.Context, in NewMember) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}
	// TODO: move to a create-only store write once Store grants one; two
	// concurrent creates for one id can still both pass this check.
	switch _, err := m.members.GetStrict(ctx, in.ID); {
	case err == nil:
		return "", fmt.Errorf("%w: %s", ErrMemberExists, in.ID)
	case !errors.Is(err, document.ErrNotFound):
		return "", err
	}
	member := Member{
		Name:     strings.TrimSpace(in.Name),
		Email:    strings.ToLower(strings.TrimSpace(in.Email)),
		Status:   StatusActive,
		Tags:     in.Tags,
		Address:  in.Address,
		JoinedAt: m.now().UTC(),
	}
	if err := m.members.Set(ctx, in.ID, member); err != nil {
		return "", err
	}
	m.log.WithContext(ctx).Info("member created", "id", in.ID)
	m.invalidate(ctx, "create")
	return in.ID, nil
}

func (m *Module) update(ctx context.Context, in MemberUpdate) (string, error) {
	if in.ID == "" || len(in.Patch) == 0 {
		return "", fmt.Errorf("%w: update needs an id and a non-empty patch", ErrInvalidInput)
	}
	for field, v := range in.Patch {
		switch {
		case !m.memberFields[field]:
			return "", fmt.Errorf("%w: unknown member field %q", ErrInvalidInput, field)
		case field == "createdAt" || field == "updatedAt":
			return "", fmt.Errorf("%w: %s is maintained by the store", ErrInvalidInput, field)
		case field == "status":
			s, _ := v.(string)
			if !Status(s).Valid() {
				return "", fmt.Errorf("%w: unknown status %v", ErrInvalidInput, v)
			}
		}
	}
	if err := m.members.Update(ctx, in.ID, in.Patch); err != nil {
		return "", err
	}
	m.invalidate(ctx, "update")
	return in.ID, nil
}

func (m *Module) listDonations(ctx context.Context, in DonationQuery) ([]schema.Record[Donation], error) {
	if in.MemberID == "" {
		return nil, fmt.Errorf("%w: memberId is required", ErrInvalidInput)
	}
	return m.donations.List(ctx, in.Vars.Where("memberId", query.Equal, in.MemberID)), nil
}

func (m *Module) createDonation(ctx context.Context, in NewDonation) (string, error) {
	if in.MemberID == "" || in.Amount <= 0 {
		return "", fmt.Errorf("%w: a donation needs a member and a positive amount", ErrInvalidInput)
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = "EUR"
	}
	id, err := m.donations.Create(ctx, Donation{
		MemberID:  in.MemberID,
		Amount:    in.Amount,
		Currency:  currency,
		Note:      in.Note,
		DonatedAt: m.now().UTC(),
	})
	if err != nil {
		return "", err
	}
	m.invalidate(ctx, "donations", "create")
	return id, nil
}

func (m *Module) adminList(ctx context.Context, vars query.Variables) ([]schema.Record[Member], error) {
	return cachedRead(ctx, m, m.AdminList, vars, func(ctx context.Context) ([]schema.Record[Member], error) {
		return m.adminMembers.ListStrict(ctx, vars)
	})
}

func (m *Module) adminGet(ctx context.Context, id string) (*schema.Record[Member], error) {
	return cachedRead(ctx, m, m.AdminGet, id, func(ctx context.Context) (*schema.Record[Member], error) {
		rec, err := m.adminMembers.GetStrict(ctx, id)
		if errors.Is(err, document.ErrNotFound) {
			return nil, nil
		}
		return rec, err
	})
}

func (m *Module) adminDonationList(ctx context.Context, vars query.Variables) ([]schema.Record[Donation], error) {
	return cachedRead(ctx, m, m.AdminDonations, vars, func(ctx context.Context) ([]schema.Record[Donation], error) {
		return m.adminDonations.ListStrict(ctx, vars)
	})
}

func cachedRead[In, Out any](ctx context.Context, m *Module, op *registry.Bound[In, Out], in In, load func(context.Context) (Out, error)) (Out, error) {
	if m.cache == nil {
		return load(ctx)
	}
	key, err := op.EncodeKey(in)
	if err != nil {
		var zero Out
		return zero, err
	}
	return querycache.Fetch(ctx, m.cache, key, m.ttl, load)
}

func (m *Module) invalidate(ctx context.Context, path ...string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Invalidate(ctx, m.Affected(path...)...); err != nil {
		m.log.WithContext(ctx).Warn("cache invalidation failed", "op", strings.Join(path, "/"), "error", err)
	}
}

func (in NewMember) validate() error {
	switch {
	case in.ID == "":
		return fmt.Errorf("%w: member id is required", ErrInvalidInput)
	case strings.TrimSpace(in.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	case !strings.Contains(in.Email, "@"):
		return fmt.Errorf("%w: email %q is not an address", ErrInvalidInput, in.Email)
	}
	return nil
}
