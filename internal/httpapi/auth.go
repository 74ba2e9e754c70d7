package httpapi

import (
	"net/http"

	"hackboard/internal/auth"
	"hackboard/internal/toast"
	logx "hackboard/pkg/logx"
)

const checkEmailRedirect = "/auth/login?message=check-email"

type pageBody struct {
	Page     string `json:"page"`
	Error    string `json:"error,omitempty"`
	Message  string `json:"message,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

type loginBody struct {
	Redirect string    `json:"redirect"`
	User     auth.User `json:"user"`
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	body := pageBody{Page: "login"}
	switch {
	case q.Get("error") == "session-expired":
		body.Error = auth.Describe(auth.ErrSessionExpired, auth.OpSignIn)
	case q.Get("message") == "check-email":
		body.Message = "check-email"
		s.addToast(r, toast.Input{
			Title:       "📧 Registration Successful!",
			Description: "Please check your email and click the confirmation link to activate your account.",
		})
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	c, err := readCredentials(w, r)
	if err != nil {
		s.authFailure(w, r, auth.OpSignIn, err)
		return
	}
	sess, err := s.opts.Auth.SignIn(r.Context(), c)
	if err != nil {
		s.authFailure(w, r, auth.OpSignIn, err)
		return
	}
	s.setSession(w, sess)
	s.addToast(r, toast.Input{Title: "Success", Description: "Logged in successfully"})
	writeJSON(w, http.StatusOK, loginBody{Redirect: "/dashboard", User: sess.User})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	c, err := readCredentials(w, r)
	if err != nil {
		s.authFailure(w, r, auth.OpSignUp, err)
		return
	}
	if _, err := s.opts.Auth.SignUp(r.Context(), c); err != nil {
		s.authFailure(w, r, auth.OpSignUp, err)
		return
	}
	writeJSON(w, http.StatusCreated, pageBody{Page: "signup", Redirect: checkEmailRedirect})
}

// handleLogout always succeeds for the client, even when the store fails.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if err := s.opts.Auth.SignOut(r.Context(), c.Value); err != nil {
			s.log.Warn("sign out failed", logx.Err(err))
		}
	}
	s.clearSession(w)
	writeJSON(w, http.StatusOK, pageBody{Page: "logout", Redirect: "/auth/login"})
}

// authFailure renders err as the page would: an error line plus a
// destructive toast on the visitor's queue.
func (s *Server) authFailure(w http.ResponseWriter, r *http.Request, op auth.Op, err error) {
	status := statusFor(err)
	msg := auth.Describe(err, op)
	if status >= http.StatusInternalServerError {
		s.log.Error("auth request failed", logx.String("op", string(op)), logx.Err(err))
		msg = auth.Unavailable(op)
	}
	title := "🚨 Authentication Failed"
	page := "login"
	if op == auth.OpSignUp {
		title = "🚨 Registration Failed"
		page = "signup"
	}
	s.addToast(r, toast.Input{Title: title, Description: msg, Variant: toast.VariantDestructive})
	writeJSON(w, status, pageBody{Page: page, Error: msg})
}

func readCredentials(w http.ResponseWriter, r *http.Request) (auth.Credentials, error) {
	if isForm(r) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return auth.Credentials{}, errBadBody
		}
		return auth.Credentials{Email: r.PostForm.Get("email"), Password: r.PostForm.Get("password")}, nil
	}
	var c auth.Credentials
	if err := decodeJSON(w, r, &c); err != nil {
		return auth.Credentials{}, err
	}
	return c, nil
}
