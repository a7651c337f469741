package auth

import (
	"context"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// DefaultSettleWait bounds how long a login waits for the sign in event
// before answering.
const DefaultSettleWait = 2 * time.Second

// RegisterSessionRoutes mounts the JSON session endpoints on app.
func RegisterSessionRoutes[T any](app router.Router[T], opts ...SessionControllerOption) *SessionController {
	controller := NewSessionController(opts...)
	protect := controller.Guard.ProtectAPI()

	app.Get(controller.Routes.Session, controller.SessionShow).
		SetName("session.get")

	app.Get(controller.Routes.Login, controller.LoginShow).
		SetName("sign-in.get")
	app.Post(controller.Routes.Login, controller.LoginPost).
		SetName("sign-in.post")

	app.Get(controller.Routes.Register, controller.RegisterShow).
		SetName("register.get")
	app.Post(controller.Routes.Register, controller.RegisterPost).
		SetName("register.post")

	app.Post(controller.Routes.Logout, controller.LogoutPost).
		SetName("sign-out.post")

	app.Post(controller.Routes.ForgotPassword, controller.ForgotPasswordPost).
		SetName("pwd-forgot.post")

	app.Post(controller.Routes.RecoveryLink, controller.RecoveryLinkPost).
		SetName("pwd-reset-link.post")
	app.Get(controller.Routes.ResetPassword, controller.ResetPasswordShow).
		SetName("pwd-reset.get")
	app.Post(controller.Routes.ResetPassword, controller.ResetPasswordPost).
		SetName("pwd-reset.post")

	app.Post(controller.Routes.Password, protect(controller.ChangePasswordPost)).
		SetName("profile-password.post")
	app.Post(controller.Routes.Username, protect(controller.UpdateUsernamePost)).
		SetName("profile-name.post")

	app.Get(controller.Routes.Notifications, controller.NotificationsShow).
		SetName("notifications.get")

	return controller
}

// SessionControllerRoutes holds the endpoint paths.
type SessionControllerRoutes struct {
	Session        string
	Login          string
	Logout         string
	Register       string
	ForgotPassword string
	RecoveryLink   string
	ResetPassword  string
	Password       string
	Username       string
	Notifications  string
}

// SessionController exposes the session manager and the credential
// actions over JSON. Every request runs against the client Sessions
// resolves for it; without Sessions all requests share Manager.
type SessionController struct {
	Debug      bool
	Logger     Logger
	Manager    *Manager
	Actions    *Actions
	Recovery   *RecoveryHandler
	Guard      *RouteGuard
	Queue      *NotificationQueue
	Sessions   SessionResolver
	Routes     *SessionControllerRoutes
	SettleWait time.Duration
}

// SessionControllerOption configures a SessionController.
type SessionControllerOption func(*SessionController) *SessionController

// WithControllerManager sets the manager and derives the defaults that
// depend on it.
func WithControllerManager(m *Manager) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Manager = m
		return c
	}
}

// WithControllerActions sets the credential actions.
func WithControllerActions(a *Actions) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Actions = a
		return c
	}
}

// WithControllerRecovery sets the recovery handler.
func WithControllerRecovery(h *RecoveryHandler) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Recovery = h
		return c
	}
}

// WithControllerGuard sets the route guard.
func WithControllerGuard(g *RouteGuard) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Guard = g
		return c
	}
}

// WithControllerQueue sets the queue for notifications raised outside
// of requests.
func WithControllerQueue(q *NotificationQueue) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Queue = q
		return c
	}
}

// WithControllerSessions resolves a session client per request.
func WithControllerSessions(r SessionResolver) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Sessions = r
		return c
	}
}

// WithControllerLogger sets the controller logger.
func WithControllerLogger(l Logger) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		if l != nil {
			c.Logger = l
		}
		return c
	}
}

// WithControllerDebug dumps payloads to the log.
func WithControllerDebug(debug bool) SessionControllerOption {
	return func(c *SessionController) *SessionController {
		c.Debug = debug
		return c
	}
}

// NewSessionController builds a controller. Either Sessions and Guard,
// or Manager and Actions, are required.
func NewSessionController(opts ...SessionControllerOption) *SessionController {
	c := &SessionController{
		Logger:     defaultLogger(),
		SettleWait: DefaultSettleWait,
		Routes: &SessionControllerRoutes{
			Session:        "/api/session",
			Login:          DefaultLoginPath,
			Logout:         "/logout",
			Register:       "/register",
			ForgotPassword: DefaultForgotPasswordPath,
			RecoveryLink:   "/reset-password/link",
			ResetPassword:  DefaultResetPasswordPath,
			Password:       "/profile/password",
			Username:       "/profile/name",
			Notifications:  "/api/notifications",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Sessions != nil {
		if c.Guard == nil {
			panic("Missing Guard in session controller...")
		}
		return c
	}

	if c.Manager == nil {
		panic("Missing Manager in session controller...")
	}

	if c.Actions == nil {
		panic("Missing Actions in session controller...")
	}

	if c.Guard == nil {
		c.Guard = NewRouteGuard(c.Manager, c.Manager.Config())
	}

	if c.Recovery == nil {
		c.Recovery = NewRecoveryHandler(c.Manager, c.Actions)
	}

	if c.Queue == nil {
		c.Queue = NewNotificationQueue(0)
	}

	c.Sessions = FixedSession{Client: &SessionClient{
		Manager:  c.Manager,
		Actions:  c.Actions,
		Recovery: c.Recovery,
		Queue:    c.Queue,
	}}
	return c
}

// ActionResponse is the body returned by every action endpoint.
type ActionResponse struct {
	Success       bool           `json:"success"`
	Error         string         `json:"error,omitempty"`
	TextCode      string         `json:"text_code,omitempty"`
	Redirect      string         `json:"redirect,omitempty"`
	Recovery      *RecoveryState `json:"recovery,omitempty"`
	Session       SnapshotView   `json:"session"`
	Notifications []Notification `json:"notifications"`
}

// LoginPayload is the login request body.
type LoginPayload struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate only checks presence; shape checks belong to the action.
func (p LoginPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required),
		validation.Field(&p.Password, validation.Required),
	)
}

// RegisterPayload is the registration request body.
type RegisterPayload struct {
	Name     string `form:"name" json:"name"`
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// EmailPayload is the forgot password request body.
type EmailPayload struct {
	Email string `form:"email" json:"email"`
}

// PasswordPayload carries a new password and its confirmation.
type PasswordPayload struct {
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// UsernamePayload carries a new display name.
type UsernamePayload struct {
	Name string `form:"name" json:"name"`
}

// RecoveryLinkPayload carries the full reset link, fragment included.
type RecoveryLinkPayload struct {
	URL string `form:"url" json:"url"`
}

func (c *SessionController) SessionShow(ctx router.Context) error {
	client, _ := c.lookup(ctx)
	return ctx.JSON(router.StatusOK, snapshotOf(client).View())
}

func (c *SessionController) LoginShow(ctx router.Context) error {
	return c.showUnlessAuthenticated(ctx, "login")
}

func (c *SessionController) RegisterShow(ctx router.Context) error {
	return c.showUnlessAuthenticated(ctx, "register")
}

func (c *SessionController) LoginPost(ctx router.Context) error {
	payload := new(LoginPayload)
	if err := c.bind(ctx, payload); err != nil {
		return c.badRequest(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		client, _ := c.lookup(ctx)
		return c.respond(ctx, client, nil, NewValidationError(TextCodeInvalidEmail, MsgInvalidEmail), nil)
	}

	client, err := c.Sessions.Acquire(ctx)
	if err != nil {
		return c.respond(ctx, nil, nil, err, nil)
	}

	rec := &NotificationRecorder{}
	rctx := ContextWithNotifier(ctx.Context(), rec)

	if err := client.Actions.Login(rctx, payload.Email, payload.Password); err != nil {
		return c.respond(ctx, client, rec, err, nil)
	}

	c.settle(rctx, client, func(s Snapshot) bool { return s.Identity != nil })

	return c.respond(ctx, client, rec, nil, func(r *ActionResponse) {
		r.Redirect = c.Guard.GetRedirect(ctx, "/")
	})
}

func (c *SessionController) RegisterPost(ctx router.Context) error {
	payload := new(RegisterPayload)
	if err := c.bind(ctx, payload); err != nil {
		return c.badRequest(ctx, err)
	}

	client, err := c.Sessions.Acquire(ctx)
	if err != nil {
		return c.respond(ctx, nil, nil, err, nil)
	}

	rec := &NotificationRecorder{}
	rctx := ContextWithNotifier(ctx.Context(), rec)

	err = client.Actions.Register(rctx, payload.Name, payload.Email, payload.Password)
	return c.respond(ctx, client, rec, err, func(r *ActionResponse) {
		r.Redirect = client.Manager.Config().GetSignUpSuccessPath()
	})
}

// LogoutPost signs the session of the request out. A request without a
// session has nothing to sign out and succeeds.
func (c *SessionController) LogoutPost(ctx router.Context) error {
	client, err := c.lookup(ctx)
	if err != nil || client == nil {
		return c.respond(ctx, nil, nil, err, func(r *ActionResponse) {
			r.Redirect = "/"
		})
	}

	rec := &NotificationRecorder{}
	rctx := ContextWithNotifier(ctx.Context(), rec)

	err = client.Actions.Logout(rctx)
	return c.respond(ctx, client, rec, err, func(r *ActionResponse) {
		r.Redirect = "/"
	})
}

func (c *SessionController) ForgotPasswordPost(ctx router.Context) error {
	payload := new(EmailPayload)
	if err := c.bind(ctx, payload); err != nil {
		return c.badRequest(ctx, err)
	}

	client, err := c.Sessions.Acquire(ctx)
	if err != nil {
		return c.respond(ctx, nil, nil, err, nil)
	}

	rec := &NotificationRecorder{}
	rctx := ContextWithNotifier(ctx.Context(), rec)

	err = client.Actions.SendPasswordResetEmail(rctx, payload.Email)
	return c.respond(ctx, client, rec, err, nil)
}

func (c *SessionController) RecoveryLinkPost(ctx router.Context) error {
	payload := new(RecoveryLinkPayload)
	if err := c.bind(ctx, payload); err != nil {
		return c.badRequest(ctx, err)
	}

	client, err := c.Sessions.Acquire(ctx)
	if err != nil {
		return c.respond(ctx, nil, nil, err, nil)
	}

	state, err := client.Recovery.Resolve(ctx.Context(), payload.URL)
	if err != nil {
		return c.respond(ctx, client, nil, err, nil)
	}

	status := router.StatusOK
	if state.View == RecoveryLinkError {
		status = router.StatusBadRequest
	}

	return ctx.JSON(status, ActionResponse{
		Success:       state.View != RecoveryLinkError,
		Error:         state.Message,
		Redirect:      state.RedirectTo,
		Recovery:      &state,
		Session:       client.Manager.Snapshot().View(),
		Notifications: []Notification{},
	})
}

func (c *SessionController) ResetPasswordShow(ctx router.Context) error {
	client, _ := c.lookup(ctx)
	state := RecoveryState{View: RecoveryAwaitingSession}
	if client != nil {
		state = client.Recovery.Status()
	}
	return ctx.JSON(router.StatusOK, ActionResponse{
		Success:       true,
		Recovery:      &state,
		Session:       snapshotOf(client).View(),
		Notifications: []Notification{},
	})
}

func (c *SessionController) ResetPasswordPost(ctx router.Context) error {
	payload := new(PasswordPayload)
	if err := c.bind(ctx, payload); err != nil {
		return c.badRequest(ctx, err)
	}

	client, err := c.lookup(ctx)
	if err != nil {
		return c.respond(ctx, nil, nil, err, nil)
	}
	if client == nil {
		return c.respond(ctx, nil, nil, ErrNoRecoverySession, nil)
	}

	rec := &NotificationRecorder{}
	rctx := ContextWithNotifier(ctx.Context(), rec)

	err = client.Recovery.Submit(rctx, payload.Password, payload.ConfirmPassword)
	return c.respond(ctx, client, rec, err, func(r *ActionResponse) {
		r.Redirect = client.Manager.Config().GetLoginPath()
	})
}

func (c *SessionController) ChangePasswordPost(ctx router.Context) error {
	payload := new(PasswordPayload)
	if err := c.bind(ctx, payload); err != nil {
		return c.badRequest(ctx, err)
	}

	client, err := c.signedIn(ctx)
	if err != nil {
		return c.respond(ctx, nil, nil, err, nil)
	}

	if payload.ConfirmPassword != "" && payload.ConfirmPassword != payload.Password {
		return c.respond(ctx, client, nil, NewValidationError(TextCodePasswordMismatch, MsgPasswordMismatch), nil)
	}

	rec := &NotificationRecorder{}
	rctx := ContextWithNotifier(ctx.Context(), rec)

	err = client.Actions.ChangePassword(rctx, payload.Password)
	return c.respond(ctx, client, rec, err, nil)
}

func (c *SessionController) UpdateUsernamePost(ctx router.Context) error {
	payload := new(UsernamePayload)
	if err := c.bind(ctx, payload); err != nil {
		return c.badRequest(ctx, err)
	}

	client, err := c.signedIn(ctx)
	if err != nil {
		return c.respond(ctx, nil, nil, err, nil)
	}

	rec := &NotificationRecorder{}
	rctx := ContextWithNotifier(ctx.Context(), rec)

	err = client.Actions.UpdateUsername(rctx, payload.Name)
	return c.respond(ctx, client, rec, err, nil)
}

func (c *SessionController) NotificationsShow(ctx router.Context) error {
	var items []Notification
	if client, _ := c.lookup(ctx); client != nil && client.Queue != nil {
		items = client.Queue.Drain()
	}
	if items == nil {
		items = []Notification{}
	}
	return ctx.JSON(router.StatusOK, router.ViewContext{
		"notifications": items,
	})
}

func (c *SessionController) showUnlessAuthenticated(ctx router.Context, view string) error {
	client, _ := c.lookup(ctx)
	snap := snapshotOf(client)
	if GuardStateOf(snap) == GuardAuthenticated {
		return ctx.Redirect("/", router.StatusSeeOther)
	}
	return ctx.JSON(router.StatusOK, router.ViewContext{
		"view":    view,
		"session": snap.View(),
	})
}

func (c *SessionController) lookup(ctx router.Context) (*SessionClient, error) {
	client, err := c.Sessions.Lookup(ctx)
	if err != nil {
		c.Logger.Warn("failed to resolve session client", "error", err)
	}
	return client, err
}

// signedIn returns the client of the request, failing when nobody is
// signed in on it.
func (c *SessionController) signedIn(ctx router.Context) (*SessionClient, error) {
	client, err := c.lookup(ctx)
	if err != nil {
		return nil, err
	}
	if client == nil || client.Manager.Snapshot().Identity == nil {
		return nil, ErrNotAuthenticated
	}
	return client, nil
}

func snapshotOf(client *SessionClient) Snapshot {
	if client == nil {
		return AnonymousSnapshot()
	}
	return client.Manager.Snapshot()
}

func (c *SessionController) bind(ctx router.Context, payload any) error {
	if err := ctx.Bind(payload); err != nil {
		c.Logger.Error("session controller parse payload", "error", err)
		return err
	}

	if c.Debug {
		c.Logger.Debug("session controller payload", "path", ctx.OriginalURL(), "payload", print.MaybePrettyJSON(redacted(payload)))
	}
	return nil
}

func (c *SessionController) badRequest(ctx router.Context, err error) error {
	client, _ := c.lookup(ctx)
	return ctx.JSON(router.StatusBadRequest, ActionResponse{
		Success:       false,
		Error:         "Failed to parse request body",
		TextCode:      TextCodeValidationFailed,
		Session:       snapshotOf(client).View(),
		Notifications: []Notification{},
	})
}

// settle waits briefly for the event an action caused, so the response
// carries the new session state.
func (c *SessionController) settle(ctx context.Context, client *SessionClient, cond func(Snapshot) bool) {
	if c.SettleWait <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.SettleWait)
	defer cancel()
	if _, err := client.Manager.WaitFor(ctx, cond); err != nil {
		c.Logger.Debug("session did not settle before responding", "error", err)
	}
}

func (c *SessionController) respond(ctx router.Context, client *SessionClient, rec *NotificationRecorder, err error, decorate func(*ActionResponse)) error {
	res := ActionResponse{
		Success:       err == nil,
		Notifications: []Notification{},
	}
	if rec != nil {
		res.Notifications = rec.Notifications()
	}

	status := router.StatusOK
	if err != nil {
		var rich *goerrors.Error
		if goerrors.As(err, &rich) {
			res.TextCode = rich.TextCode
		}
		res.Error = ErrorMessage(err)
		status = StatusFor(err)
	} else if decorate != nil {
		decorate(&res)
	}

	res.Session = snapshotOf(client).View()
	return ctx.JSON(status, res)
}

// StatusFor maps an action error to an HTTP status code.
func StatusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return http.StatusInternalServerError
	}

	switch {
	case rich.TextCode == TextCodeActionInFlight:
		return http.StatusConflict
	case rich.TextCode == TextCodeRequestTimeout:
		return http.StatusGatewayTimeout
	case rich.Category == goerrors.CategoryValidation:
		return http.StatusBadRequest
	case rich.Code >= 400 && rich.Code < 600:
		return rich.Code
	}
	return http.StatusBadRequest
}

func redacted(payload any) any {
	switch p := payload.(type) {
	case *LoginPayload:
		return LoginPayload{Email: p.Email, Password: "***"}
	case *RegisterPayload:
		return RegisterPayload{Name: p.Name, Email: p.Email, Password: "***"}
	case *PasswordPayload:
		return PasswordPayload{Password: "***", ConfirmPassword: "***"}
	}
	return payload
}
