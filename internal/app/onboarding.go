package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/okian/crewmap/internal/adapters/store"
	"github.com/okian/crewmap/internal/domain/invite"
	"github.com/okian/crewmap/internal/domain/model"
	"github.com/okian/crewmap/pkg/logger"
)

const defaultCodeAttempts = 10

// DeviceRegistrar registers a member's tracking device with the position
// provider. *feed.Client satisfies it.
type DeviceRegistrar interface {
	RegisterDevice(ctx context.Context, name, uniqueID string) (model.Device, error)
}

// CreateRequest starts a new crew with its first member.
type CreateRequest struct {
	CrewName       string `validate:"required,max=50"`
	MemberName     string `validate:"required,max=50"`
	DeviceUniqueID string `validate:"required,max=128"`
}

// JoinRequest adds a member to the crew using InviteCode.
type JoinRequest struct {
	InviteCode     string `validate:"required"`
	MemberName     string `validate:"required,max=50"`
	DeviceUniqueID string `validate:"required,max=128"`
}

// Onboarding creates and joins crews. Identity failures are returned to the
// caller and leave no session behind.
type Onboarding struct {
	directory    store.Directory
	registrar    DeviceRegistrar
	clock        model.Clock
	codeAttempts int
	newCode      func() (string, error)
	validate     *validator.Validate
	logger       logger.Logger
}

// OnboardingOption configures Onboarding.
type OnboardingOption func(*Onboarding)

// WithOnboardingClock sets the clock stamped on new crews and members.
func WithOnboardingClock(c model.Clock) OnboardingOption {
	return func(o *Onboarding) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithCodeAttempts bounds how many invite codes are tried on create.
func WithCodeAttempts(n int) OnboardingOption {
	return func(o *Onboarding) {
		if n > 0 {
			o.codeAttempts = n
		}
	}
}

// WithCodeGenerator replaces the invite code source.
func WithCodeGenerator(fn func() (string, error)) OnboardingOption {
	return func(o *Onboarding) {
		if fn != nil {
			o.newCode = fn
		}
	}
}

// WithOnboardingLogger sets a custom logger.
func WithOnboardingLogger(l logger.Logger) OnboardingOption {
	return func(o *Onboarding) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOnboarding returns create and join flows backed by dir and reg.
func NewOnboarding(dir store.Directory, reg DeviceRegistrar, opts ...OnboardingOption) *Onboarding {
	o := &Onboarding{
		directory:    dir,
		registrar:    reg,
		clock:        model.SystemClock{},
		codeAttempts: defaultCodeAttempts,
		newCode:      invite.NewCode,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		logger:       logger.Get().Named("onboarding"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateCrew creates a crew under a fresh invite code, registers the
// caller's device and adds the caller as its first member.
func (o *Onboarding) CreateCrew(ctx context.Context, req CreateRequest) (model.Session, error) {
	req.CrewName = strings.TrimSpace(req.CrewName)
	req.MemberName = strings.TrimSpace(req.MemberName)
	req.DeviceUniqueID = strings.TrimSpace(req.DeviceUniqueID)
	if err := o.validate.Struct(req); err != nil {
		return model.Session{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	device, err := o.registrar.RegisterDevice(ctx, req.MemberName, req.DeviceUniqueID)
	if err != nil {
		return model.Session{}, fmt.Errorf("register device: %w", err)
	}

	crew, err := o.insertCrew(ctx, req.CrewName)
	if err != nil {
		return model.Session{}, err
	}

	member, err := o.addMember(ctx, crew.ID, req.MemberName, device)
	if err != nil {
		return model.Session{}, err
	}

	o.logger.Info(ctx, "crew created",
		logger.String("crew", crew.ID), logger.String("invite_code", crew.InviteCode))
	return newSession(crew, member, req.DeviceUniqueID), nil
}

// JoinCrew adds the caller to the crew behind req.InviteCode.
func (o *Onboarding) JoinCrew(ctx context.Context, req JoinRequest) (model.Session, error) {
	req.InviteCode = invite.Normalize(req.InviteCode)
	req.MemberName = strings.TrimSpace(req.MemberName)
	req.DeviceUniqueID = strings.TrimSpace(req.DeviceUniqueID)
	if err := o.validate.Struct(req); err != nil {
		return model.Session{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !invite.Valid(req.InviteCode) {
		return model.Session{}, ErrInvalidInviteCode
	}

	crew, err := o.directory.CrewByInviteCode(ctx, req.InviteCode)
	if errors.Is(err, store.ErrNotFound) {
		return model.Session{}, ErrInvalidInviteCode
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("find crew: %w", err)
	}

	members, err := o.directory.Members(ctx, crew.ID)
	if err != nil {
		return model.Session{}, fmt.Errorf("list members: %w", err)
	}
	for _, m := range members {
		if strings.EqualFold(m.Name, req.MemberName) {
			return model.Session{}, ErrNameTaken
		}
	}

	device, err := o.registrar.RegisterDevice(ctx, req.MemberName, req.DeviceUniqueID)
	if err != nil {
		return model.Session{}, fmt.Errorf("register device: %w", err)
	}

	member, err := o.addMember(ctx, crew.ID, req.MemberName, device)
	if err != nil {
		return model.Session{}, err
	}

	o.logger.Info(ctx, "crew joined",
		logger.String("crew", crew.ID), logger.String("member", member.ID))
	return newSession(crew, member, req.DeviceUniqueID), nil
}

// insertCrew retries with new invite codes while the store reports a
// collision.
func (o *Onboarding) insertCrew(ctx context.Context, name string) (model.Crew, error) {
	for range o.codeAttempts {
		code, err := o.newCode()
		if err != nil {
			return model.Crew{}, fmt.Errorf("generate invite code: %w", err)
		}
		crew := model.Crew{
			ID:         uuid.NewString(),
			Name:       name,
			InviteCode: code,
			CreatedAt:  o.clock.Now().UTC(),
		}
		err = o.directory.CreateCrew(ctx, crew)
		if err == nil {
			return crew, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return model.Crew{}, fmt.Errorf("create crew: %w", err)
		}
		o.logger.Debug(ctx, "invite code collision", logger.String("invite_code", code))
	}
	return model.Crew{}, ErrInviteCodeExhausted
}

func (o *Onboarding) addMember(ctx context.Context, crewID, name string, device model.Device) (model.Member, error) {
	member := model.Member{
		ID:        uuid.NewString(),
		CrewID:    crewID,
		Name:      name,
		Color:     invite.RandomColor(),
		DeviceID:  device.ID,
		CreatedAt: o.clock.Now().UTC(),
	}
	err := o.directory.AddMember(ctx, member)
	if errors.Is(err, store.ErrDuplicate) {
		return model.Member{}, ErrNameTaken
	}
	if err != nil {
		return model.Member{}, fmt.Errorf("add member: %w", err)
	}
	return member, nil
}

func newSession(crew model.Crew, member model.Member, uniqueID string) model.Session {
	return model.Session{
		CrewID:         crew.ID,
		CrewName:       crew.Name,
		InviteCode:     crew.InviteCode,
		MemberID:       member.ID,
		MemberName:     member.Name,
		MemberColor:    member.Color,
		DeviceUniqueID: uniqueID,
		DeviceID:       member.DeviceID,
	}
}
