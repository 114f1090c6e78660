package http

import (
	"net/http"

	"ledger/internal/gateway"
	"ledger/internal/log"
	"ledger/internal/session"
)

// pageData is what every full page template receives.
type pageData struct {
	Title  string
	Nav    string
	User   session.Principal
	Authed bool
	Error  string
	Notice string
	Form   map[string]string
	Data   any
}

func newPage(r *http.Request, title, nav string) pageData {
	p, ok := session.FromContext(r.Context())
	return pageData{Title: title, Nav: nav, User: p, Authed: ok, Form: map[string]string{}}
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	page := newPage(r, "Log in", "login")
	if r.URL.Query().Get("registered") == "1" {
		page.Notice = "Account created. Please log in."
	}
	if r.URL.Query().Get("reset") == "1" {
		page.Notice = "Password updated. Please log in."
	}
	s.render(w, r, http.StatusOK, "login.html", page)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	body := NewRequestBodyParser(r)
	if err := body.Parse(); err != nil {
		BadRequestError("Invalid request format").Write(w)
		return
	}
	email := body.Get("email")

	p, err := s.auth.Authenticate(r.Context(), email, body.Secret("password"))
	if err != nil {
		page := newPage(r, "Log in", "login")
		page.Error = userMessage(err)
		page.Form["email"] = email
		s.render(w, r, http.StatusUnprocessableEntity, "login.html", page)
		return
	}
	s.startSession(w, r, p)
}

// startSession persists the principal, sets the cookie and sends the user
// to the dashboard.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, p session.Principal) {
	sess, err := s.sessions.Start(r.Context(), p)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to start session",
			log.NewFields().WithOperation(log.OpLogin).WithUser(p.Email).WithError(err).ToSlice()...)
		InternalServerError("Could not start your session. Please try again.").Write(w)
		return
	}
	s.sessions.SetCookie(w, sess)
	if isHTMX(r) {
		NewHTMXResponse().Redirect("/").Write(w)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "register.html", newPage(r, "Create account", "register"))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	body := NewRequestBodyParser(r)
	if err := body.Parse(); err != nil {
		BadRequestError("Invalid request format").Write(w)
		return
	}
	reg := gateway.Registration{
		FirstName:       body.Get("firstName"),
		LastName:        body.Get("lastName"),
		Email:           body.Get("email"),
		Password:        body.Secret("password"),
		ConfirmPassword: body.Secret("confirmPassword"),
	}

	p, ok, err := s.auth.Register(r.Context(), reg)
	if err != nil {
		page := newPage(r, "Create account", "register")
		page.Error = userMessage(err)
		page.Form["firstName"] = reg.FirstName
		page.Form["lastName"] = reg.LastName
		page.Form["email"] = reg.Email
		s.render(w, r, http.StatusUnprocessableEntity, "register.html", page)
		return
	}
	if !ok {
		http.Redirect(w, r, "/login?registered=1", http.StatusSeeOther)
		return
	}
	s.startSession(w, r, p)
}

func (s *Server) handleForgotPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "forgot.html", newPage(r, "Forgot password", "forgot"))
}

func (s *Server) handleForgot(w http.ResponseWriter, r *http.Request) {
	body := NewRequestBodyParser(r)
	if err := body.Parse(); err != nil {
		BadRequestError("Invalid request format").Write(w)
		return
	}
	page := newPage(r, "Forgot password", "forgot")
	page.Form["email"] = body.Get("email")

	msg, err := s.auth.ForgotPassword(r.Context(), body.Get("email"))
	if err != nil {
		page.Error = userMessage(err)
		s.render(w, r, http.StatusUnprocessableEntity, "forgot.html", page)
		return
	}
	page.Notice = msg
	s.render(w, r, http.StatusOK, "forgot.html", page)
}

func (s *Server) handleResetPage(w http.ResponseWriter, r *http.Request) {
	page := newPage(r, "Reset password", "reset")
	page.Form["token"] = r.URL.Query().Get("token")
	if page.Form["token"] == "" {
		page.Error = "This reset link is incomplete. Request a new one."
	}
	s.render(w, r, http.StatusOK, "reset.html", page)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	body := NewRequestBodyParser(r)
	if err := body.Parse(); err != nil {
		BadRequestError("Invalid request format").Write(w)
		return
	}
	token := body.Get("token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	if _, err := s.auth.ResetPassword(r.Context(), token, body.Secret("newPassword"), body.Secret("confirmNewPassword")); err != nil {
		page := newPage(r, "Reset password", "reset")
		page.Form["token"] = token
		page.Error = userMessage(err)
		s.render(w, r, http.StatusUnprocessableEntity, "reset.html", page)
		return
	}
	http.Redirect(w, r, "/login?reset=1", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.endSession(w, r)
	if isHTMX(r) {
		NewHTMXResponse().Redirect("/login").Write(w)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	if p, ok := session.FromContext(r.Context()); ok {
		s.invalidate(p)
	}
	if err := s.sessions.End(r.Context(), session.TokenFromContext(r.Context())); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to end session",
			log.FieldOperation, log.OpLogout, log.FieldError, err)
	}
	s.sessions.ClearCookie(w)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "profile.html", newPage(r, "Profile", "profile"))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	p := principal(r)
	updated, err := s.auth.UpdateProfile(r.Context(), p,
		sanitizeInput(r.Form.Get("firstName")),
		sanitizeInput(r.Form.Get("lastName")),
		sanitizeInput(r.Form.Get("email")))
	if err != nil {
		failureResponse(err).Write(w)
		return
	}
	if err := s.sessions.Update(r.Context(), session.TokenFromContext(r.Context()), updated); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to store updated profile",
			log.FieldOperation, log.OpUpdate, log.FieldError, err)
		InternalServerError("Profile saved but your session could not be updated. Log in again.").Write(w)
		return
	}
	if updated.Email != p.Email {
		s.invalidate(p)
	}
	NewHTMXResponse().
		TriggerSuccessNotification("Profile updated").
		BodyHTML(`<div class="success">Profile updated</div>`).
		Write(w)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}
	msg, err := s.auth.ChangePassword(r.Context(), principal(r),
		r.Form.Get("oldPassword"), r.Form.Get("newPassword"), r.Form.Get("confirmNewPassword"))
	if err != nil {
		failureResponse(err).Write(w)
		return
	}
	if msg == "" {
		msg = "Password changed"
	}
	NewHTMXResponse().
		TriggerFormReset().
		TriggerSuccessNotification(msg).
		BodyHTML(`<div class="success">Password changed</div>`).
		Write(w)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.DeleteAccount(r.Context(), principal(r)); err != nil {
		failureResponse(err).Write(w)
		return
	}
	s.endSession(w, r)
	NewHTMXResponse().Redirect("/login").Write(w)
}
