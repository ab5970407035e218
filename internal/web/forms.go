package web

import (
	"net/http"
	"strconv"
	"strings"

	"peaklogger/internal/processor"
	"peaklogger/internal/storage"
	"peaklogger/internal/strava"
)

type settingsForm struct {
	DetectionRadius   float64 `validate:"gt=0,lte=1000"`
	UpdateDescription bool
	PostSummits       bool
	AscentsArePublic  bool
}

type climberForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

type summitForm struct {
	PeakID int64 `validate:"gt=0"`
}

type importForm struct {
	ActivityID int64 `validate:"gt=0"`
}

func checkbox(r *http.Request, name string) bool {
	v := r.FormValue(name)
	return v == "on" || v == "true" || v == "1"
}

func formInt(r *http.Request, name string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(r.FormValue(name)), 10, 64)
	return n
}

func formFloat(r *http.Request, name string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(r.FormValue(name)), 64)
	return f
}

// formOptions reads per-action overrides. Forms that do not carry the
// "custom" field fall back to the user's saved settings.
func formOptions(r *http.Request, user storage.User) *processor.Options {
	if r.FormValue("custom") == "" {
		return nil
	}
	o := processor.DefaultOptions(user)
	o.UpdateDescription = checkbox(r, "update_description")
	o.PostAscents = checkbox(r, "post_ascents")
	o.PublicAscents = checkbox(r, "public_ascents")
	o.RemoveAscents = checkbox(r, "remove_ascents")
	if radius := formFloat(r, "detection_radius"); radius > 0 {
		o.DetectionRadius = radius
	}
	return &o
}

// enabledFromForm collects the sport_<Type> checkboxes into a bitfield.
func enabledFromForm(r *http.Request) strava.Bitfield {
	var b strava.Bitfield
	for _, st := range strava.SportTypes() {
		b.Set(int(st), checkbox(r, "sport_"+st.String()))
	}
	return b
}
