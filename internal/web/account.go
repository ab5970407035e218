package web

import (
	"errors"
	"net/http"
	"strings"

	"peaklogger/internal/logging"
	"peaklogger/internal/peakbagger"
	"peaklogger/internal/session"
	"peaklogger/internal/strava"
)

type SportOption struct {
	Name    string
	Label   string
	Enabled bool
}

type AccountPageData struct {
	PageData
	Sports        []SportOption
	CanReadAll    bool
	ClimberLinked bool
}

func (s *Server) Account(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	enabled := strava.Bitfield(user.EnabledActivities)
	var sports []SportOption
	for _, st := range strava.SportTypes() {
		sports = append(sports, SportOption{
			Name:    st.String(),
			Label:   st.Pretty(),
			Enabled: enabled.Get(int(st)),
		})
	}
	data := AccountPageData{
		PageData:      s.pageData(r, "Account", "account"),
		Sports:        sports,
		CanReadAll:    strava.HasScope(strava.Bitfield(user.StravaApprovedScope), strava.ScopeActivityReadAll),
		ClimberLinked: user.HasClimber(),
	}
	s.render(w, r, "account", data)
}

func (s *Server) AccountPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.Ctx(ctx)
	user := currentUser(r)
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/account?msg=invalid+form", http.StatusFound)
		return
	}

	switch strings.TrimSpace(r.FormValue("action")) {
	case "settings":
		form := settingsForm{
			DetectionRadius:   formFloat(r, "detection_radius"),
			UpdateDescription: checkbox(r, "update_description"),
			PostSummits:       checkbox(r, "post_summits"),
			AscentsArePublic:  checkbox(r, "ascents_are_public"),
		}
		if err := s.validate.Struct(form); err != nil {
			http.Redirect(w, r, "/account?msg=invalid+detection+radius", http.StatusFound)
			return
		}
		user.DetectionRadius = form.DetectionRadius
		user.UpdateDescription = form.UpdateDescription
		user.PostSummits = form.PostSummits
		user.AscentsArePublic = form.AscentsArePublic
		if err := s.store.UpdateUser(ctx, *user); err != nil {
			log.Error().Err(err).Int64("user_id", user.ID).Msg("settings update failed")
			captureError(r, err)
			http.Redirect(w, r, "/account?msg=settings+save+failed", http.StatusFound)
			return
		}
		http.Redirect(w, r, "/account?msg=settings+saved", http.StatusFound)
	case "activities":
		user.EnabledActivities = int64(enabledFromForm(r))
		if err := s.store.UpdateUser(ctx, *user); err != nil {
			log.Error().Err(err).Int64("user_id", user.ID).Msg("activity types update failed")
			captureError(r, err)
			http.Redirect(w, r, "/account?msg=activity+types+save+failed", http.StatusFound)
			return
		}
		http.Redirect(w, r, "/account?msg=activity+types+saved", http.StatusFound)
	case "link-peakbagger":
		form := climberForm{
			Email:    strings.TrimSpace(r.FormValue("email")),
			Password: r.FormValue("password"),
		}
		if err := s.validate.Struct(form); err != nil {
			http.Redirect(w, r, "/account?msg=missing+peakbagger+credentials", http.StatusFound)
			return
		}
		if err := s.ops.LinkClimber(ctx, user, form.Email, form.Password); err != nil {
			if errors.Is(err, peakbagger.ErrLoginFailed) {
				http.Redirect(w, r, "/account?msg=peakbagger+login+failed", http.StatusFound)
				return
			}
			log.Error().Err(err).Int64("user_id", user.ID).Msg("link climber failed")
			captureError(r, err)
			http.Redirect(w, r, "/account?msg=peakbagger+unavailable", http.StatusFound)
			return
		}
		http.Redirect(w, r, "/account?msg=peakbagger+linked", http.StatusFound)
	case "unlink-peakbagger":
		if err := s.ops.UnlinkClimber(ctx, user); err != nil {
			log.Error().Err(err).Int64("user_id", user.ID).Msg("unlink climber failed")
			captureError(r, err)
			http.Redirect(w, r, "/account?msg=unlink+failed", http.StatusFound)
			return
		}
		http.Redirect(w, r, "/account?msg=peakbagger+unlinked", http.StatusFound)
	case "delete-account":
		if strings.TrimSpace(r.FormValue("confirm")) != "delete" {
			http.Redirect(w, r, "/account?msg=confirm+delete+account", http.StatusFound)
			return
		}
		if err := s.ops.DeleteAccount(ctx, user); err != nil {
			log.Error().Err(err).Int64("user_id", user.ID).Msg("delete account failed")
			captureError(r, err)
			http.Redirect(w, r, "/account?msg=delete+failed", http.StatusFound)
			return
		}
		session.ClearCookie(w, s.secure)
		http.Redirect(w, r, "/?msg=account+deleted", http.StatusFound)
	default:
		http.Redirect(w, r, "/account?msg=unknown+action", http.StatusFound)
	}
}
