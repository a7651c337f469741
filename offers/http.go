package offers

import (
	"context"
	"net/http"

	auth "github.com/goliatone/go-auth-session"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// Controller exposes offers over JSON. Reads are public, writes go
// through the guard's admin check before reaching the service.
type Controller struct {
	Debug   bool
	Logger  auth.Logger
	Service *Service
	Guard   *auth.RouteGuard
	Path    string
}

func NewController(service *Service, guard *auth.RouteGuard) *Controller {
	_, logger := auth.ResolveLogger("offers.http", nil, nil)
	return &Controller{
		Logger:  logger,
		Service: service,
		Guard:   guard,
		Path:    "/api/offers",
	}
}

// RegisterRoutes mounts the offer endpoints on app.
func RegisterRoutes[T any](app router.Router[T], c *Controller) *Controller {
	admin := c.Guard.AdminOnly()

	app.Get(c.Path, c.List).SetName("offers.list")
	app.Get(c.Path+"/:id", c.Show).SetName("offers.get")
	app.Post(c.Path, admin(c.Create)).SetName("offers.create")
	app.Put(c.Path+"/:id", admin(c.Update)).SetName("offers.update")
	app.Delete(c.Path+"/:id", admin(c.Delete)).SetName("offers.delete")

	return c
}

type offerResponse struct {
	Success  bool           `json:"success"`
	Error    string         `json:"error,omitempty"`
	TextCode string         `json:"text_code,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
	Offer    *Offer         `json:"offer,omitempty"`
	Offers   []*Offer       `json:"offers,omitempty"`
}

func (c *Controller) List(ctx router.Context) error {
	items, err := c.Service.List(ctx.Context())
	if err != nil {
		return c.fail(ctx, err)
	}
	if items == nil {
		items = []*Offer{}
	}
	return ctx.JSON(router.StatusOK, offerResponse{Success: true, Offers: items})
}

func (c *Controller) Show(ctx router.Context) error {
	item, err := c.Service.Get(ctx.Context(), ctx.Param("id"))
	if err != nil {
		return c.fail(ctx, err)
	}
	return ctx.JSON(router.StatusOK, offerResponse{Success: true, Offer: item})
}

func (c *Controller) Create(ctx router.Context) error {
	in := new(Input)
	if err := c.bind(ctx, in); err != nil {
		return c.fail(ctx, err)
	}
	item, err := c.Service.Create(c.scoped(ctx), *in)
	if err != nil {
		return c.fail(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, offerResponse{Success: true, Offer: item})
}

func (c *Controller) Update(ctx router.Context) error {
	in := new(Input)
	if err := c.bind(ctx, in); err != nil {
		return c.fail(ctx, err)
	}
	item, err := c.Service.Update(c.scoped(ctx), ctx.Param("id"), *in)
	if err != nil {
		return c.fail(ctx, err)
	}
	return ctx.JSON(router.StatusOK, offerResponse{Success: true, Offer: item})
}

func (c *Controller) Delete(ctx router.Context) error {
	if err := c.Service.Delete(c.scoped(ctx), ctx.Param("id")); err != nil {
		return c.fail(ctx, err)
	}
	return ctx.JSON(router.StatusOK, offerResponse{Success: true})
}

// scoped carries the session of the request into the service call.
func (c *Controller) scoped(ctx router.Context) context.Context {
	return auth.ContextWithSnapshot(ctx.Context(), c.Guard.SnapshotFor(ctx))
}

func (c *Controller) bind(ctx router.Context, in *Input) error {
	if err := ctx.Bind(in); err != nil {
		c.Logger.Error("offers controller parse payload", "error", err)
		return auth.NewValidationError(auth.TextCodeValidationFailed, "Failed to parse request body")
	}
	if c.Debug {
		c.Logger.Debug("offers controller payload", "path", ctx.OriginalURL(), "payload", print.MaybePrettyJSON(in))
	}
	return nil
}

func (c *Controller) fail(ctx router.Context, err error) error {
	res := offerResponse{Error: auth.ErrorMessage(err)}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		res.TextCode = rich.TextCode
		if fields, ok := rich.Metadata["fields"].(map[string]any); ok {
			res.Fields = fields
		}
	}
	return ctx.JSON(auth.StatusFor(err), res)
}
