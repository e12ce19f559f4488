package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"sociallink/client"
)

// refFrom turns a verification response into a session reference. Records
// without a parseable expiry live as long as the session.
func refFrom(rec client.VerificationRecord, fallback time.Time) VerificationRef {
	exp, ok := rec.Expiry()
	if !ok {
		exp = fallback
	}
	return VerificationRef{ID: rec.ID, ExpiresAt: exp}
}

func (a *App) handleStep1Form(w http.ResponseWriter, r *http.Request) {
	a.render(w, http.StatusOK, "step1", nil)
}

func (a *App) handleStep1Submit(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	if err := r.ParseForm(); err != nil {
		a.renderError(w, http.StatusBadRequest, errorView{Message: "Invalid form submission.", Retry: step1Path})
		return
	}
	api, ok := a.userAPI(w, r, sess)
	if !ok {
		return
	}

	a.Printer.Info("Get verification record ID by password")
	rec, err := api.CreatePasswordVerification(r.Context(), r.PostFormValue("password"))
	if err != nil {
		var se *client.StatusError
		if errors.As(err, &se) {
			a.Logger.Info("password verification rejected", "user_sub", sess.Subject, "status", se.StatusCode)
			a.render(w, http.StatusOK, "step1-result", step1ResultView{Body: string(se.Body)})
			return
		}
		a.remoteFailure(w, "Password verification failed", err, step1Path)
		return
	}

	// A new password record starts the wizard over.
	a.Sessions.Update(sess.ID, func(s *Session) {
		s.Wizard = WizardState{Password: refFrom(*rec, s.ExpiresAt)}
	})
	a.render(w, http.StatusOK, "step1-result", step1ResultView{OK: true, Body: prettyJSON(rec)})
}

func (a *App) handleStep2(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	if !sess.Wizard.Password.Valid(a.now()) {
		a.render(w, http.StatusOK, "missing-record", missingRecordView{Step: 1})
		return
	}
	api, ok := a.userAPI(w, r, sess)
	if !ok {
		return
	}

	state := randomToken(32)
	a.Printer.Info("Get verification record ID by social")
	social, err := api.CreateSocialVerification(r.Context(), client.SocialVerificationInput{
		ConnectorID: a.ConnectorID,
		RedirectURI: a.Config.SocialCallbackURL(),
		State:       state,
	})
	if err != nil {
		a.remoteFailure(w, "Social verification failed", err, step2Path)
		return
	}

	a.Sessions.Update(sess.ID, func(s *Session) {
		s.Wizard.Social = refFrom(social.VerificationRecord, s.ExpiresAt)
		s.Wizard.SocialState = state
	})
	a.render(w, http.StatusOK, "step2", step2View{
		AuthorizationURI: social.AuthorizationURI,
		Body:             prettyJSON(social),
	})
}

func (a *App) handleStep3(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	now := a.now()
	if !sess.Wizard.Password.Valid(now) {
		a.render(w, http.StatusOK, "missing-record", missingRecordView{Step: 1})
		return
	}
	if !sess.Wizard.Social.Valid(now) {
		a.render(w, http.StatusOK, "missing-record", missingRecordView{Step: 2})
		return
	}

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		a.renderError(w, http.StatusBadRequest, errorView{
			Title:   "GitHub authorization failed",
			Message: e + ": " + q.Get("error_description"),
			Retry:   step2Path,
		})
		return
	}
	state := q.Get("state")
	if state == "" || subtle.ConstantTimeCompare([]byte(state), []byte(sess.Wizard.SocialState)) != 1 {
		a.Logger.Warn("social callback state mismatch", "user_sub", sess.Subject)
		a.renderError(w, http.StatusBadRequest, errorView{
			Title:   "GitHub authorization failed",
			Message: "State mismatch. Please restart the GitHub authorization.",
			Retry:   step2Path,
		})
		return
	}

	a.Printer.Info("User has authorized the application to access the GitHub account")
	api, ok := a.userAPI(w, r, sess)
	if !ok {
		return
	}

	a.Printer.Info("Verify social connection")
	connectorData := map[string]string{"code": q.Get("code"), "state": state}
	if _, err := api.VerifySocialVerification(r.Context(), sess.Wizard.Social.ID, connectorData); err != nil {
		a.remoteFailure(w, "Social verification failed", err, step2Path)
		return
	}

	a.Printer.Info("Link the social connection")
	if err := api.LinkIdentity(r.Context(), sess.Wizard.Password.ID, sess.Wizard.Social.ID); err != nil {
		a.remoteFailure(w, "Linking failed", err, step1Path)
		return
	}

	a.Sessions.Update(sess.ID, func(s *Session) { s.Wizard = WizardState{} })
	a.Logger.Info("social identity linked", "user_sub", sess.Subject, "connector_id", a.ConnectorID)
	a.Printer.Info("🎉 Link GitHub Account Success")
	a.Printer.Print("You can stop the server now.")
	a.render(w, http.StatusOK, "step3", nil)
}
