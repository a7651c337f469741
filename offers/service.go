package offers

import (
	"bytes"
	"context"
	"time"

	auth "github.com/goliatone/go-auth-session"
	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Service lists offers for everyone and restricts writes to the admin
// identity of the session in the call context, falling back to source.
type Service struct {
	repo     *Repository
	source   auth.SnapshotSource
	markdown goldmark.Markdown
	logger   auth.Logger
	provider auth.LoggerProvider
	now      func() time.Time
}

// NewService creates a service. source may be nil when every call
// carries its session through auth.ContextWithSnapshot.
func NewService(repo *Repository, source auth.SnapshotSource) *Service {
	provider, logger := auth.ResolveLogger("offers", nil, nil)
	return &Service{
		repo:   repo,
		source: source,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		logger:   logger,
		provider: provider,
		now:      time.Now,
	}
}

func (s *Service) WithLogger(logger auth.Logger) *Service {
	s.provider, s.logger = auth.ResolveLogger("offers", s.provider, logger)
	return s
}

func (s *Service) WithLoggerProvider(provider auth.LoggerProvider) *Service {
	s.provider, s.logger = auth.ResolveLogger("offers", provider, s.logger)
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// List returns all offers, newest first.
func (s *Service) List(ctx context.Context) ([]*Offer, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		s.logger.Error("could not fetch offers", "error", err)
		return nil, err
	}
	for _, item := range items {
		s.render(item)
	}
	return items, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Offer, error) {
	item, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.render(item), nil
}

// Create stores a new offer owned by the admin.
func (s *Service) Create(ctx context.Context, in Input) (*Offer, error) {
	owner, err := s.authorize(ctx)
	if err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	in = in.normalized()
	now := s.now().UTC()
	item, err := s.repo.Insert(ctx, &OfferModel{
		ID:           uuid.New(),
		UserID:       owner,
		Title:        in.Title,
		SiteName:     in.SiteName,
		Instructions: in.Instructions,
		Warnings:     in.Warnings,
		Link:         in.Link,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		s.logger.Error("failed to add offer", "error", err)
		return nil, err
	}

	s.logger.Info("offer added", "offer_id", item.ID, "user_id", owner)
	return s.render(item), nil
}

// Update replaces the editable fields of an offer. The editor becomes
// the owner.
func (s *Service) Update(ctx context.Context, id string, in Input) (*Offer, error) {
	owner, err := s.authorize(ctx)
	if err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	in = in.normalized()
	uid, _ := uuid.Parse(current.ID)
	item, err := s.repo.Update(ctx, &OfferModel{
		ID:           uid,
		UserID:       owner,
		Title:        in.Title,
		SiteName:     in.SiteName,
		Instructions: in.Instructions,
		Warnings:     in.Warnings,
		Link:         in.Link,
		CreatedAt:    current.CreatedAt,
		UpdatedAt:    s.now().UTC(),
	})
	if err != nil {
		s.logger.Error("failed to update offer", "offer_id", id, "error", err)
		return nil, err
	}

	s.logger.Info("offer updated", "offer_id", id, "user_id", owner)
	return s.render(item), nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	owner, err := s.authorize(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("offer removed", "offer_id", id, "user_id", owner)
	return nil
}

// authorize returns the admin id, reading a fresh snapshot every call.
func (s *Service) authorize(ctx context.Context) (string, error) {
	snap := auth.SnapshotFromContext(ctx, s.source)
	if !snap.Authenticated() {
		return "", auth.ErrNotAuthenticated
	}
	if !snap.IsAdmin {
		s.logger.Warn("non admin attempted an offer write", "user_id", snap.Identity.ID())
		return "", auth.ErrNotAdmin
	}
	return snap.Identity.ID(), nil
}

func (s *Service) render(item *Offer) *Offer {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(item.Instructions), &buf); err != nil {
		s.logger.Warn("failed to render offer instructions", "offer_id", item.ID, "error", err)
		item.InstructionsHTML = ""
		return item
	}
	item.InstructionsHTML = buf.String()
	return item
}
