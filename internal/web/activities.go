package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"peaklogger/internal/description"
	"peaklogger/internal/logging"
	"peaklogger/internal/storage"
	"peaklogger/internal/strava"
)

const (
	recentLimit = 50
	dateLayout  = "2006-01-02"
)

type PeakView struct {
	ID        int64
	Name      string
	Elevation string
	Distance  string
	URL       string
	AscentURL string
}

type ActivityView struct {
	ID        int64
	Name      string
	Sport     string
	Date      string
	StravaURL string
	Summits   []PeakView
	Nearby    []PeakView
}

type RecentPageData struct {
	PageData
	Activities []ActivityView
}

type ImportRow struct {
	ID       int64
	Name     string
	Sport    string
	Date     string
	Imported bool
}

type ImportPageData struct {
	PageData
	Activities []ImportRow
	PageNum    int
	PrevPage   int
	NextPage   int
}

type ActivityPageData struct {
	PageData
	Activity ActivityView
	Options  OptionsView
}

// OptionsView pre-fills the per-action override checkboxes.
type OptionsView struct {
	UpdateDescription bool
	PostAscents       bool
	PublicAscents     bool
	DetectionRadius   float64
}

func peakURL(id int64) string {
	return fmt.Sprintf("https://peakbagger.com/peak.aspx?pid=%d", id)
}

func ascentURL(id int64) string {
	return fmt.Sprintf("https://peakbagger.com/climber/ascent.aspx?aid=%d", id)
}

func stravaURL(id int64) string {
	return fmt.Sprintf("https://www.strava.com/activities/%d", id)
}

func formatDistance(meters float64) string {
	return fmt.Sprintf("%.0f m", meters)
}

// activityView resolves the peaks referenced by a record. Peaks missing
// from the cache are left out.
func activityView(record storage.Activity, peaks map[int64]storage.Peak, units description.Units) ActivityView {
	ascents := make(map[int64]int64, len(record.LoggedAscents))
	for _, a := range record.LoggedAscents {
		ascents[a.PeakID] = a.AscentID
	}
	toViews := func(list []storage.PeakDistance) []PeakView {
		var out []PeakView
		for _, pd := range list {
			p, ok := peaks[pd.PeakID]
			if !ok {
				continue
			}
			v := PeakView{
				ID:        p.ID,
				Name:      p.Name,
				Elevation: description.FormatElevation(p.ElevationFt, units),
				Distance:  formatDistance(pd.Dist),
				URL:       peakURL(p.ID),
			}
			if aid, ok := ascents[p.ID]; ok {
				v.AscentURL = ascentURL(aid)
			}
			out = append(out, v)
		}
		return out
	}
	return ActivityView{
		ID:        record.ID,
		Name:      record.Name,
		Sport:     strava.PrettyName(record.SportType),
		Date:      record.LocalDate().Format(dateLayout),
		StravaURL: stravaURL(record.ID),
		Summits:   toViews(record.SummitedPeaks),
		Nearby:    toViews(record.NearbyPeaks),
	}
}

func (s *Server) peakIndex(r *http.Request, records ...storage.Activity) (map[int64]storage.Peak, error) {
	var ids []int64
	for _, rec := range records {
		for _, p := range rec.SummitedPeaks {
			ids = append(ids, p.PeakID)
		}
		for _, p := range rec.NearbyPeaks {
			ids = append(ids, p.PeakID)
		}
	}
	peaks, err := s.store.GetPeaks(r.Context(), ids)
	if err != nil {
		return nil, err
	}
	index := make(map[int64]storage.Peak, len(peaks))
	for _, p := range peaks {
		index[p.ID] = p
	}
	return index, nil
}

func (s *Server) Recent(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	records, err := s.store.ListActivities(r.Context(), user.StravaID, recentLimit)
	if err != nil {
		http.Error(w, "failed to load activities", http.StatusInternalServerError)
		return
	}
	peaks, err := s.peakIndex(r, records...)
	if err != nil {
		http.Error(w, "failed to load peaks", http.StatusInternalServerError)
		return
	}
	units := unitsFor(user)
	views := make([]ActivityView, 0, len(records))
	for _, rec := range records {
		views = append(views, activityView(rec, peaks, units))
	}
	s.render(w, r, "recent", RecentPageData{
		PageData:   s.pageData(r, "Recent activities", "recent"),
		Activities: views,
	})
}

func (s *Server) Import(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := currentUser(r)
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	activities, err := s.importer.Recent(ctx, user, page)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int64("user_id", user.ID).Msg("list strava activities failed")
		http.Error(w, "failed to load strava activities", http.StatusBadGateway)
		return
	}
	rows := make([]ImportRow, 0, len(activities))
	for _, a := range activities {
		_, err := s.store.GetActivity(ctx, user.StravaID, a.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "failed to load activities", http.StatusInternalServerError)
			return
		}
		rows = append(rows, ImportRow{
			ID:       a.ID,
			Name:     a.Name,
			Sport:    strava.PrettyName(a.SportType),
			Date:     a.LocalDate().Format(dateLayout),
			Imported: err == nil,
		})
	}
	data := ImportPageData{
		PageData:   s.pageData(r, "Import", "import"),
		Activities: rows,
		PageNum:    page,
		PrevPage:   page - 1,
	}
	if len(activities) > 0 {
		data.NextPage = page + 1
	}
	s.render(w, r, "import", data)
}

func (s *Server) ImportPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := currentUser(r)
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/import?msg=invalid+form", http.StatusFound)
		return
	}
	switch strings.TrimSpace(r.FormValue("action")) {
	case "import":
		form := importForm{ActivityID: formInt(r, "activity_id")}
		if err := s.validate.Struct(form); err != nil {
			http.Redirect(w, r, "/import?msg=invalid+activity", http.StatusFound)
			return
		}
		if _, err := s.ops.Import(ctx, user, form.ActivityID, formOptions(r, *user)); err != nil {
			logging.Ctx(ctx).Error().Err(err).Int64("activity_id", form.ActivityID).Msg("import failed")
			captureError(r, err)
			http.Redirect(w, r, "/import?msg=import+failed", http.StatusFound)
			return
		}
		http.Redirect(w, r, fmt.Sprintf("/activity/%d?msg=imported", form.ActivityID), http.StatusFound)
	case "queue":
		pages := int(formInt(r, "pages"))
		n, err := s.importer.QueueRecent(ctx, user, pages)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Int("queued", n).Msg("queue recent failed")
			http.Redirect(w, r, "/import?msg=queueing+failed", http.StatusFound)
			return
		}
		http.Redirect(w, r, fmt.Sprintf("/import?msg=queued+%d+activities", n), http.StatusFound)
	default:
		http.Redirect(w, r, "/import?msg=unknown+action", http.StatusFound)
	}
}

func activityID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) Activity(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	id, ok := activityID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	record, err := s.store.GetActivity(r.Context(), user.StravaID, id)
	if errors.Is(err, storage.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, "failed to load activity", http.StatusInternalServerError)
		return
	}
	peaks, err := s.peakIndex(r, record)
	if err != nil {
		http.Error(w, "failed to load peaks", http.StatusInternalServerError)
		return
	}
	view := activityView(record, peaks, unitsFor(user))
	s.render(w, r, "activity", ActivityPageData{
		PageData: s.pageData(r, view.Name, "activity"),
		Activity: view,
		Options: OptionsView{
			UpdateDescription: user.UpdateDescription,
			PostAscents:       user.PostSummits,
			PublicAscents:     user.AscentsArePublic,
			DetectionRadius:   user.DetectionRadius,
		},
	})
}

func (s *Server) ActivityPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.Ctx(ctx)
	user := currentUser(r)
	id, ok := activityID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	back := func(msg string) {
		http.Redirect(w, r, fmt.Sprintf("/activity/%d?msg=%s", id, msg), http.StatusFound)
	}
	opts := formOptions(r, *user)

	switch strings.TrimSpace(r.FormValue("action")) {
	case "add-summit":
		form := summitForm{PeakID: formInt(r, "peak_id")}
		if err := s.validate.Struct(form); err != nil {
			back("invalid+peak")
			return
		}
		date, err := s.ascentDate(r, user.StravaID, id)
		if err != nil {
			back("invalid+date")
			return
		}
		done, err := s.ops.AddSummit(ctx, user, id, form.PeakID, date, opts)
		if err != nil {
			log.Error().Err(err).Int64("activity_id", id).Msg("add summit failed")
			captureError(r, err)
			back("add+summit+failed")
			return
		}
		if !done {
			back("peak+not+nearby")
			return
		}
		back("summit+added")
	case "remove-summit":
		form := summitForm{PeakID: formInt(r, "peak_id")}
		if err := s.validate.Struct(form); err != nil {
			back("invalid+peak")
			return
		}
		done, err := s.ops.RemoveSummit(ctx, user, id, form.PeakID, opts)
		if err != nil {
			log.Error().Err(err).Int64("activity_id", id).Msg("remove summit failed")
			captureError(r, err)
			back("remove+summit+failed")
			return
		}
		if !done {
			back("peak+not+summited")
			return
		}
		back("summit+removed")
	case "reanalyze":
		if _, err := s.ops.Reanalyze(ctx, user, id, opts); err != nil {
			log.Error().Err(err).Int64("activity_id", id).Msg("reanalyze failed")
			captureError(r, err)
			back("reanalyze+failed")
			return
		}
		back("reanalyzed")
	case "delete":
		if _, err := s.ops.DeleteActivity(ctx, user, id, opts); err != nil {
			log.Error().Err(err).Int64("activity_id", id).Msg("delete activity failed")
			captureError(r, err)
			back("delete+failed")
			return
		}
		http.Redirect(w, r, "/recent?msg=activity+deleted", http.StatusFound)
	default:
		back("unknown+action")
	}
}

// ascentDate takes the form's date when given, else the activity's local
// start date.
func (s *Server) ascentDate(r *http.Request, userStravaID, activityID int64) (time.Time, error) {
	if raw := strings.TrimSpace(r.FormValue("date")); raw != "" {
		return time.Parse(dateLayout, raw)
	}
	record, err := s.store.GetActivity(r.Context(), userStravaID, activityID)
	if errors.Is(err, storage.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return record.LocalDate(), nil
}
