package peakbagger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ascentListXML = `<pb><r n="Peak 1" i="18" f="20" o="122.1" z="38.2" a="19" d="2022-4-17 a" /><r n="Peak 2" i="19" f="21" o="123.2" z="39.3" a="20" d="2023-4-17 a" /></pb>`

func TestLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/m/li.aspx", r.URL.Path)
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte("<input name=\"__VIEWSTATE\" value=\"viewState\"/>\n<input name=\"__EVENTVALIDATION\" value=\"eventValidation\"/>"))
			return
		}
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "viewState", r.PostForm.Get("__VIEWSTATE"))
		assert.Equal(t, "eventValidation", r.PostForm.Get("__EVENTVALIDATION"))
		assert.Equal(t, "anna@example.com", r.PostForm.Get("email"))
		assert.Equal(t, "secret", r.PostForm.Get("pwd"))
		_, _ = w.Write([]byte("<span id=\"cid\">22</span>\n<span id=\"username\">Anna Jones</span>\n<span id=\"units\">m</span>"))
	}))
	defer server.Close()

	info, err := newTestClient(server).Login(context.Background(), "anna@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, LoginInfo{ClimberID: 22, Username: "Anna Jones", Units: "m"}, info)
}

func TestLoginUsesDefaultFormState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte("<html></html>"))
			return
		}
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, defaultViewState, r.PostForm.Get("__VIEWSTATE"))
		assert.Equal(t, defaultEventValidation, r.PostForm.Get("__EVENTVALIDATION"))
		_, _ = w.Write([]byte(`<span id="cid">5</span>`))
	}))
	defer server.Close()

	info, err := newTestClient(server).Login(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.ClimberID)
}

func TestLoginRejected(t *testing.T) {
	for name, body := range map[string]string{
		"zero cid":    `<span id="cid">0</span>`,
		"missing cid": `<p>Invalid login</p>`,
	} {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodPost {
					_, _ = w.Write([]byte(body))
				}
			}))
			defer server.Close()

			_, err := newTestClient(server).Login(context.Background(), "a", "b")
			assert.ErrorIs(t, err, ErrLoginFailed)
		})
	}
}

func TestAddAscent(t *testing.T) {
	tests := []struct {
		name   string
		public bool
		body   string
		want   int64
	}{
		{name: "public", public: true, body: `<span id="rc">222</span>`, want: 222},
		{name: "private", public: false, body: `<span id="rc">223</span>`, want: 223},
		{name: "no receipt", public: true, body: `<p>error</p>`, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/m/asc.aspx", r.URL.Path)
				assert.Equal(t, "0", r.URL.Query().Get("aid"))
				assert.NoError(t, r.ParseForm())
				assert.Equal(t, "42", r.PostForm.Get("pid"))
				assert.Equal(t, "2023-4-7", r.PostForm.Get("d"))
				assert.Equal(t, "S", r.PostForm.Get("at"))
				assert.Equal(t, "anna@example.com", r.PostForm.Get("email"))
				assert.Equal(t, "trip", r.PostForm.Get("tr"))
				if tt.public {
					assert.False(t, r.PostForm.Has("v"))
				} else {
					assert.Equal(t, "0", r.PostForm.Get("v"))
				}
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			climber := Climber{ID: 22, Email: "anna@example.com", Password: "secret"}
			date := time.Date(2023, 4, 7, 0, 0, 0, 0, time.UTC)
			aid, err := newTestClient(server).AddAscent(context.Background(), climber, date, 42, "trip", tt.public)
			require.NoError(t, err)
			assert.Equal(t, tt.want, aid)
		})
	}
}

func TestDeleteAscent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/m/ad.aspx", r.URL.Path)
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte("<input name=\"__VIEWSTATE\" value=\"vs\"/>"))
			return
		}
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "vs", r.PostForm.Get("__VIEWSTATE"))
		assert.Equal(t, "77", r.PostForm.Get("aid"))
		_, _ = w.Write([]byte(`<span id="rc">true</span>`))
	}))
	defer server.Close()

	ok, err := newTestClient(server).DeleteAscent(context.Background(), Climber{ID: 1}, 77)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClimbsAlreadyLogged(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(ascentListXML))
	}))
	defer server.Close()

	client := newTestClient(server)
	climber := Climber{ID: 7}

	logged, err := client.ClimbsAlreadyLogged(context.Background(), climber, []int64{19}, time.Date(2023, 4, 17, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []Logged{{PeakID: 19, AscentID: 20}}, logged)

	logged, err = client.ClimbsAlreadyLogged(context.Background(), climber, []int64{18}, time.Date(2022, 4, 17, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []Logged{{PeakID: 18, AscentID: 19}}, logged)

	logged, err = client.ClimbsAlreadyLogged(context.Background(), climber, []int64{18}, time.Date(2023, 4, 17, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, logged)
}

func TestAddAscentsForClimberReusesSameDayAscents(t *testing.T) {
	var posts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/m/pt.ashx":
			_, _ = w.Write([]byte(ascentListXML))
		case "/m/asc.aspx":
			posts.Add(1)
			assert.NoError(t, r.ParseForm())
			if r.PostForm.Get("pid") == "30" {
				_, _ = w.Write([]byte(`<span id="rc">300</span>`))
				return
			}
			_, _ = w.Write([]byte(`<p>rejected</p>`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	climber := Climber{ID: 7, Email: "a", Password: "b"}
	date := time.Date(2023, 4, 17, 0, 0, 0, 0, time.UTC)
	logged, err := newTestClient(server).AddAscentsForClimber(context.Background(), climber, []int64{19, 30, 31}, date, true)
	require.NoError(t, err)
	assert.Equal(t, []Logged{{PeakID: 19, AscentID: 20}, {PeakID: 30, AscentID: 300}}, logged)
	assert.Equal(t, int32(2), posts.Load())
}

func TestAddAscentsForClimberFailsWithoutAscentList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := newTestClient(server).AddAscentsForClimber(context.Background(), Climber{ID: 7}, []int64{1}, time.Now(), true)
	assert.Error(t, err)
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "2024-1-5", FormatDate(time.Date(2024, 1, 5, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-12-25", FormatDate(time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC)))
}

func TestSpanValue(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		key       string
		want      string
		wantFound bool
	}{
		{name: "value", line: `<span id="username">Amy Lo</span>`, key: "username", want: "Amy Lo", wantFound: true},
		{name: "empty value", line: `<span id="username"></span>`, key: "username", want: "", wantFound: true},
		{name: "unclosed tag", line: `<span id="username"Amy Lo</span>`, key: "username", want: "", wantFound: false},
		{name: "missing key", line: `<span id="cid">1</span>`, key: "username", want: "", wantFound: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := spanValue([]string{tt.line}, tt.key)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantFound, found)
		})
	}
}

func TestInputValue(t *testing.T) {
	lines := []string{
		`<input type="hidden" name="__VIEWSTATE" id="__VIEWSTATE" value="abc=" />`,
		`<input type="hidden" name="__EVENTVALIDATION" value=broken />`,
	}
	got, ok := inputValue(lines, "__VIEWSTATE")
	assert.True(t, ok)
	assert.Equal(t, "abc=", got)

	_, ok = inputValue(lines, "__EVENTVALIDATION")
	assert.False(t, ok)

	_, ok = inputValue(lines, "__OTHER")
	assert.False(t, ok)
}

func TestPasswordRoundTrip(t *testing.T) {
	sealed, err := EncryptPassword(12, "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "hunter2")

	again, err := EncryptPassword(12, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, sealed, again)

	plain, err := DecryptPassword(12, sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)

	_, err = DecryptPassword(13, sealed)
	assert.Error(t, err)

	_, err = DecryptPassword(12, "not hex")
	assert.Error(t, err)
}
