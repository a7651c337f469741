package offers

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Repository stores offers with Bun.
type Repository struct {
	db bun.IDB
}

// NewRepository creates a new repository.
func NewRepository(db bun.IDB) *Repository {
	return &Repository{db: db}
}

// List returns every offer, newest first.
func (r *Repository) List(ctx context.Context) ([]*Offer, error) {
	var models []OfferModel
	err := r.db.NewSelect().
		Model(&models).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, storageError(err, "failed to list offers")
	}

	out := make([]*Offer, len(models))
	for i := range models {
		out[i] = models[i].toOffer()
	}
	return out, nil
}

// FindByID returns ErrOfferNotFound for an unknown or malformed id.
func (r *Repository) FindByID(ctx context.Context, id string) (*Offer, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrOfferNotFound
	}

	var model OfferModel
	err = r.db.NewSelect().
		Model(&model).
		Where("id = ?", uid).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOfferNotFound
	}
	if err != nil {
		return nil, storageError(err, "failed to load offer")
	}
	return model.toOffer(), nil
}

// Insert stores a new offer, assigning an id when it has none.
func (r *Repository) Insert(ctx context.Context, model *OfferModel) (*Offer, error) {
	if model.ID == uuid.Nil {
		model.ID = uuid.New()
	}
	if _, err := r.db.NewInsert().Model(model).Exec(ctx); err != nil {
		return nil, storageError(err, "failed to insert offer")
	}
	return model.toOffer(), nil
}

// Update overwrites the editable columns of an existing offer.
func (r *Repository) Update(ctx context.Context, model *OfferModel) (*Offer, error) {
	res, err := r.db.NewUpdate().
		Model(model).
		Column("user_id", "title", "site_name", "instructions", "warnings", "link", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, storageError(err, "failed to update offer")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrOfferNotFound
	}
	return r.FindByID(ctx, model.ID.String())
}

// Delete removes an offer by id.
func (r *Repository) Delete(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return ErrOfferNotFound
	}

	res, err := r.db.NewDelete().
		Model((*OfferModel)(nil)).
		Where("id = ?", uid).
		Exec(ctx)
	if err != nil {
		return storageError(err, "failed to delete offer")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOfferNotFound
	}
	return nil
}
