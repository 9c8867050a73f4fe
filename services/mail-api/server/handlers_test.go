package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/liftsmail/internal/auth"
	"github.com/Mutter0815/liftsmail/internal/mailing"
	"github.com/Mutter0815/liftsmail/internal/recurrence"
	"github.com/Mutter0815/liftsmail/internal/render"
	"github.com/Mutter0815/liftsmail/pkg/model"
)

type fakeStore struct {
	nextID    int64
	groups    map[int64]mailing.Group
	contacts  map[int64][]mailing.Contact
	templates map[int64]mailing.Template
	sessions  []mailing.EmailSession
	triggers  []mailing.Trigger
	failSched bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nextID:    100,
		groups:    map[int64]mailing.Group{},
		contacts:  map[int64][]mailing.Contact{},
		templates: map[int64]mailing.Template{},
	}
}

func (f *fakeStore) id() int64 { f.nextID++; return f.nextID }

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) CreateGroup(ctx context.Context, userID int64, name string) (mailing.Group, error) {
	g := mailing.Group{ID: f.id(), UserID: userID, Name: name}
	f.groups[g.ID] = g
	return g, nil
}

func (f *fakeStore) GetGroup(ctx context.Context, id int64) (mailing.Group, error) {
	g, ok := f.groups[id]
	if !ok {
		return mailing.Group{}, mailing.ErrRecordNotFound
	}
	return g, nil
}

func (f *fakeStore) ListGroups(ctx context.Context, userID int64) ([]mailing.Group, error) {
	out := []mailing.Group{}
	for _, g := range f.groups {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteGroup(ctx context.Context, id int64) error {
	delete(f.groups, id)
	delete(f.contacts, id)
	return nil
}

func (f *fakeStore) AddContact(ctx context.Context, groupID int64, c mailing.Contact) (mailing.Contact, error) {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	for _, ex := range f.contacts[groupID] {
		if ex.Email == c.Email {
			return mailing.Contact{}, mailing.ErrDuplicate
		}
	}
	c.ID = f.id()
	c.GroupID = groupID
	f.contacts[groupID] = append(f.contacts[groupID], c)
	return c, nil
}

func (f *fakeStore) ListContacts(ctx context.Context, groupID int64) ([]mailing.Contact, error) {
	return f.contacts[groupID], nil
}

func (f *fakeStore) DeleteContact(ctx context.Context, groupID, contactID int64) error {
	cs := f.contacts[groupID]
	for i, c := range cs {
		if c.ID == contactID {
			f.contacts[groupID] = append(cs[:i], cs[i+1:]...)
			return nil
		}
	}
	return mailing.ErrRecordNotFound
}

func (f *fakeStore) CreateTemplate(ctx context.Context, t mailing.Template) (mailing.Template, error) {
	for _, ex := range f.templates {
		if ex.UserID == t.UserID && ex.Name == t.Name {
			return mailing.Template{}, mailing.ErrDuplicate
		}
	}
	t.ID = f.id()
	f.templates[t.ID] = t
	return t, nil
}

func (f *fakeStore) GetTemplate(ctx context.Context, id int64) (mailing.Template, error) {
	t, ok := f.templates[id]
	if !ok {
		return mailing.Template{}, mailing.ErrRecordNotFound
	}
	return t, nil
}

func (f *fakeStore) ListTemplates(ctx context.Context, userID int64) ([]mailing.Template, error) {
	out := []mailing.Template{}
	for _, t := range f.templates {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateTemplate(ctx context.Context, t mailing.Template) (mailing.Template, error) {
	f.templates[t.ID] = t
	return t, nil
}

func (f *fakeStore) DeleteTemplate(ctx context.Context, id int64) error {
	delete(f.templates, id)
	return nil
}

func (f *fakeStore) RecordSession(ctx context.Context, s mailing.EmailSession) (mailing.EmailSession, error) {
	s.ID = f.id()
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeStore) RecordScheduled(ctx context.Context, s mailing.EmailSession, t mailing.Trigger) (mailing.EmailSession, mailing.Trigger, error) {
	if f.failSched {
		return mailing.EmailSession{}, mailing.Trigger{}, errors.New("relation periodic_tasks does not exist")
	}
	s.ID = f.id()
	f.sessions = append(f.sessions, s)
	t.ID = f.id()
	t.SessionID = s.ID
	f.triggers = append(f.triggers, t)
	return s, t, nil
}

func (f *fakeStore) ListSessions(ctx context.Context, userID int64, limit, offset int) ([]mailing.EmailSession, error) {
	out := []mailing.EmailSession{}
	for _, s := range f.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) ListTriggers(ctx context.Context, userID int64) ([]mailing.Trigger, error) {
	return f.triggers, nil
}

func (f *fakeStore) DeleteTrigger(ctx context.Context, userID, id int64) error {
	for i, t := range f.triggers {
		if t.ID == id {
			f.triggers = append(f.triggers[:i], f.triggers[i+1:]...)
			return nil
		}
	}
	return mailing.ErrRecordNotFound
}

type fakeSink struct {
	jobs []model.SendJob
	err  error
}

func (s *fakeSink) Submit(ctx context.Context, job model.SendJob) error {
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

const (
	alice int64 = 1
	bob   int64 = 2
)

type testAPI struct {
	t      *testing.T
	srv    *http.Server
	store  *fakeStore
	sink   *fakeSink
	tokens *auth.Tokens
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	loc, err := time.LoadLocation("Africa/Lagos")
	if err != nil {
		t.Fatal(err)
	}
	env := mailing.Env{
		Now:   func() time.Time { return time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC) },
		NewID: func() string { return "t" },
	}
	fs := newFakeStore()
	sink := &fakeSink{}
	r := render.New()
	h := &Handlers{
		Store:     fs,
		Validator: mailing.NewValidator(fs, loc, env),
		Pipeline:  mailing.NewPipeline(r, recurrence.NewCompiler(loc), sink, fs, env),
		Templates: r,
	}
	tokens := auth.NewTokens("test-secret", time.Hour)
	return &testAPI{t: t, srv: NewHTTPServer(":0", h, tokens), store: fs, sink: sink, tokens: tokens}
}

func (a *testAPI) do(user int64, method, path, body string) *httptest.ResponseRecorder {
	a.t.Helper()
	var rd *bytes.Buffer
	if body != "" {
		rd = bytes.NewBufferString(body)
	} else {
		rd = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if user != 0 {
		tok, err := a.tokens.Issue(user, "")
		if err != nil {
			a.t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rr := httptest.NewRecorder()
	a.srv.Handler.ServeHTTP(rr, req)
	return rr
}

// seed gives alice a template and a group with two contacts, and bob an
// empty group.
func (a *testAPI) seed() (tplID, groupID, bobGroup int64) {
	tpl, _ := a.store.CreateTemplate(context.Background(), mailing.Template{UserID: alice, Name: "welcome", Subject: "Hi", Body: "Hello {{ first_name }}"})
	g, _ := a.store.CreateGroup(context.Background(), alice, "friends")
	a.store.AddContact(context.Background(), g.ID, mailing.Contact{FirstName: "John", Email: "john@example.com"})
	a.store.AddContact(context.Background(), g.ID, mailing.Contact{Email: "jane@example.com"})
	bg, _ := a.store.CreateGroup(context.Background(), bob, "bob-empty")
	return tpl.ID, g.ID, bg.ID
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
}

func wantError(t *testing.T, rr *httptest.ResponseRecorder, code int, field string) {
	t.Helper()
	if rr.Code != code {
		t.Fatalf("status=%d want %d, body=%s", rr.Code, code, rr.Body.String())
	}
	if field == "" {
		return
	}
	var body struct {
		Error string `json:"error"`
		Field string `json:"field"`
	}
	decode(t, rr, &body)
	if body.Field != field {
		t.Fatalf("field=%q want %q (%s)", body.Field, field, body.Error)
	}
}

func TestAPI_RequiresToken(t *testing.T) {
	a := newTestAPI(t)
	rr := a.do(0, http.MethodGet, "/api/v1/groups", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestGroupsAndContacts(t *testing.T) {
	a := newTestAPI(t)

	rr := a.do(alice, http.MethodPost, "/api/v1/groups", `{"name":"Customers"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var g mailing.Group
	decode(t, rr, &g)
	path := "/api/v1/groups/" + itoa(g.ID) + "/contacts"

	rr = a.do(alice, http.MethodPost, path, `{"first_name":"Ada","email":"ADA@example.com"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	wantError(t, a.do(alice, http.MethodPost, path, `{"email":"ada@example.com"}`), http.StatusBadRequest, "email")
	wantError(t, a.do(alice, http.MethodPost, path, `{"email":"not-an-email"}`), http.StatusBadRequest, "email")
	wantError(t, a.do(alice, http.MethodPost, "/api/v1/groups", `{}`), http.StatusBadRequest, "name")

	wantError(t, a.do(bob, http.MethodGet, path, ""), http.StatusForbidden, "")
	wantError(t, a.do(alice, http.MethodGet, "/api/v1/groups/9999", ""), http.StatusNotFound, "")

	rr = a.do(alice, http.MethodGet, "/api/v1/groups/"+itoa(g.ID), "")
	var detail groupDetail
	decode(t, rr, &detail)
	if len(detail.Contacts) != 1 || detail.Contacts[0].Email != "ada@example.com" {
		t.Fatalf("unexpected detail %+v", detail)
	}
}

func TestTemplates(t *testing.T) {
	a := newTestAPI(t)

	rr := a.do(alice, http.MethodPost, "/api/v1/email/templates", `{"name":"promo","subject":"Sale","body":"Hi {{ first_name }}"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var tpl mailing.Template
	decode(t, rr, &tpl)

	wantError(t, a.do(alice, http.MethodPost, "/api/v1/email/templates", `{"name":"promo","subject":"x","body":"y"}`), http.StatusBadRequest, "name")
	wantError(t, a.do(alice, http.MethodPost, "/api/v1/email/templates", `{"name":"bad","subject":"x","body":"{% if x %}open"}`), http.StatusBadRequest, "body")

	// same name for another user is fine
	rr = a.do(bob, http.MethodPost, "/api/v1/email/templates", `{"name":"promo","subject":"x","body":"y"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	path := "/api/v1/email/templates/" + itoa(tpl.ID)
	rr = a.do(alice, http.MethodPatch, path, `{"subject":"Big sale"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	decode(t, rr, &tpl)
	if tpl.Subject != "Big sale" || tpl.Body != "Hi {{ first_name }}" {
		t.Fatalf("patch lost fields: %+v", tpl)
	}
	wantError(t, a.do(bob, http.MethodDelete, path, ""), http.StatusForbidden, "")
	if rr := a.do(alice, http.MethodDelete, path, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestSendNow_OK(t *testing.T) {
	a := newTestAPI(t)
	tplID, groupID, _ := a.seed()

	rr := a.do(alice, http.MethodPost, "/api/v1/email/send",
		`{"session":"launch","template_id":`+itoa(tplID)+`,"group_id":`+itoa(groupID)+`}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp sendResp
	decode(t, rr, &resp)
	if resp.Accepted != 2 || resp.SessionID == 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(a.sink.jobs) != 2 || len(a.store.sessions) != 1 {
		t.Fatalf("jobs=%d sessions=%d", len(a.sink.jobs), len(a.store.sessions))
	}
	if a.sink.jobs[1].Body != "Hello Guest" {
		t.Fatalf("guest fallback missing: %q", a.sink.jobs[1].Body)
	}
}

func TestSendNow_InlineTemplate(t *testing.T) {
	a := newTestAPI(t)
	_, groupID, _ := a.seed()

	rr := a.do(alice, http.MethodPost, "/api/v1/email/send",
		`{"session":"quick","group_id":`+itoa(groupID)+`,"template":{"subject":"S","body":"Yo {{ email }}"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if a.sink.jobs[0].Body != "Yo john@example.com" {
		t.Fatalf("body=%q", a.sink.jobs[0].Body)
	}
}

func TestSendNow_Errors(t *testing.T) {
	a := newTestAPI(t)
	tplID, groupID, bobGroup := a.seed()

	wantError(t, a.do(alice, http.MethodPost, "/api/v1/email/send", `{"template_id":`+itoa(tplID)+`,"group_id":`+itoa(groupID)+`}`),
		http.StatusBadRequest, "session")
	wantError(t, a.do(alice, http.MethodPost, "/api/v1/email/send", `{"session":"s","group_id":`+itoa(groupID)+`}`),
		http.StatusBadRequest, "template")
	wantError(t, a.do(alice, http.MethodPost, "/api/v1/email/send", `{"session":"s","template_id":`+itoa(tplID)+`,"group_id":`+itoa(bobGroup)+`}`),
		http.StatusForbidden, "")
	wantError(t, a.do(bob, http.MethodPost, "/api/v1/email/send", `{"session":"s","template_id":`+itoa(tplID)+`,"group_id":`+itoa(bobGroup)+`}`),
		http.StatusForbidden, "")
	wantError(t, a.do(alice, http.MethodPost, "/api/v1/email/send", `{"session":"s","template_id":424242,"group_id":`+itoa(groupID)+`}`),
		http.StatusNotFound, "")
	wantError(t, a.do(alice, http.MethodPost, "/api/v1/email/send", `{"session":`), http.StatusBadRequest, "body")

	empty, _ := a.store.CreateGroup(context.Background(), alice, "empty")
	wantError(t, a.do(alice, http.MethodPost, "/api/v1/email/send", `{"session":"s","template_id":`+itoa(tplID)+`,"group_id":`+itoa(empty.ID)+`}`),
		http.StatusBadRequest, "group")

	if len(a.sink.jobs) != 0 || len(a.store.sessions) != 0 {
		t.Fatal("rejected requests must leave no trace")
	}

	a.sink.err = errors.New("connection reset")
	wantError(t, a.do(alice, http.MethodPost, "/api/v1/email/send", `{"session":"s","template_id":`+itoa(tplID)+`,"group_id":`+itoa(groupID)+`}`),
		http.StatusBadGateway, "")
}

func TestSchedule_Once(t *testing.T) {
	a := newTestAPI(t)
	tplID, groupID, _ := a.seed()

	wantError(t, a.do(alice, http.MethodPost, "/api/v1/email/schedule",
		`{"session":"s","template_id":`+itoa(tplID)+`,"group_id":`+itoa(groupID)+`}`), http.StatusBadRequest, "schedule_time")

	rr := a.do(alice, http.MethodPost, "/api/v1/email/schedule",
		`{"session":"later","template_id":`+itoa(tplID)+`,"group_id":`+itoa(groupID)+`,"schedule_time":"2024-09-24T11:32:00+01:00"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if len(a.store.triggers) != 1 || !a.store.triggers[0].OneOff || len(a.sink.jobs) != 0 {
		t.Fatalf("unexpected triggers %+v", a.store.triggers)
	}
}

func TestSchedule_RecurringMonthly(t *testing.T) {
	a := newTestAPI(t)
	tplID, groupID, _ := a.seed()

	rr := a.do(alice, http.MethodPost, "/api/v1/email/schedule/recurring",
		`{"session":"newsletter","template_id":`+itoa(tplID)+`,"group_id":`+itoa(groupID)+`,
		  "granularity":"month","interval":2,"time":"09:00","starts":"2024-01-15"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp sendResp
	decode(t, rr, &resp)
	if resp.Trigger == nil {
		t.Fatal("trigger missing from response")
	}
	got := resp.Trigger.Spec
	if got.DayOfMonth != "15" || got.MonthOfYear != "*/2" || got.Hour != "9" || got.Minute != "0" || got.DayOfWeek != "*" {
		t.Fatalf("unexpected spec %+v", got)
	}
	if len(a.store.triggers) != 1 || len(a.store.sessions) != 1 {
		t.Fatalf("want exactly one trigger and one session, got %d/%d", len(a.store.triggers), len(a.store.sessions))
	}

	wantError(t, a.do(alice, http.MethodPost, "/api/v1/email/schedule/recurring",
		`{"session":"n","template_id":`+itoa(tplID)+`,"group_id":`+itoa(groupID)+`,
		  "granularity":"month","time":"09:00","starts":"2024-01-15","ends":"2024-01-10"}`), http.StatusBadRequest, "ends")
	wantError(t, a.do(alice, http.MethodPost, "/api/v1/email/schedule/recurring",
		`{"session":"n","template_id":`+itoa(tplID)+`,"group_id":`+itoa(groupID)+`,
		  "granularity":"fortnight","time":"09:00","starts":"2024-01-15"}`), http.StatusBadRequest, "granularity")

	rr = a.do(alice, http.MethodGet, "/api/v1/email/schedules", "")
	var triggers []mailing.Trigger
	decode(t, rr, &triggers)
	if len(triggers) != 1 {
		t.Fatalf("want 1 schedule, got %d", len(triggers))
	}
	if rr := a.do(alice, http.MethodDelete, "/api/v1/email/schedules/"+itoa(triggers[0].ID), ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestSchedule_BackendFailure(t *testing.T) {
	a := newTestAPI(t)
	tplID, groupID, _ := a.seed()
	a.store.failSched = true

	rr := a.do(alice, http.MethodPost, "/api/v1/email/schedule/recurring",
		`{"session":"n","template_id":`+itoa(tplID)+`,"group_id":`+itoa(groupID)+`,
		  "granularity":"day","time":"09:00","starts":"2024-01-15"}`)
	wantError(t, rr, http.StatusInternalServerError, "")
	if !strings.Contains(rr.Body.String(), "relation periodic_tasks does not exist") {
		t.Fatalf("backend cause missing from body: %s", rr.Body.String())
	}
}

func TestScheduleRecurring_ExplicitZeroInterval(t *testing.T) {
	a := newTestAPI(t)
	tplID, groupID, _ := a.seed()

	wantError(t, a.do(alice, http.MethodPost, "/api/v1/email/schedule/recurring",
		`{"session":"n","template_id":`+itoa(tplID)+`,"group_id":`+itoa(groupID)+`,
		  "granularity":"day","interval":0,"time":"09:00","starts":"2024-01-15"}`), http.StatusBadRequest, "interval")
	if len(a.store.triggers) != 0 {
		t.Fatalf("no trigger expected, got %d", len(a.store.triggers))
	}
}

func TestSessions(t *testing.T) {
	a := newTestAPI(t)
	tplID, groupID, _ := a.seed()
	a.do(alice, http.MethodPost, "/api/v1/email/send", `{"session":"one","template_id":`+itoa(tplID)+`,"group_id":`+itoa(groupID)+`}`)

	rr := a.do(alice, http.MethodGet, "/api/v1/email/sessions", "")
	var sessions []mailing.EmailSession
	decode(t, rr, &sessions)
	if len(sessions) != 1 || sessions[0].Session != "one" || sessions[0].Mode != mailing.ModeNow {
		t.Fatalf("unexpected sessions %+v", sessions)
	}
	rr = a.do(bob, http.MethodGet, "/api/v1/email/sessions", "")
	decode(t, rr, &sessions)
	if len(sessions) != 0 {
		t.Fatalf("bob must not see alice's sessions")
	}
}

func TestDocsEndpoints(t *testing.T) {
	a := newTestAPI(t)

	t.Run("html", func(t *testing.T) {
		rr := a.do(0, http.MethodGet, "/docs", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "SwaggerUIBundle") {
			t.Fatalf("swagger bundle not rendered: %s", rr.Body.String())
		}
	})

	t.Run("openapi", func(t *testing.T) {
		rr := a.do(0, http.MethodGet, "/docs/mail-api/openapi.yaml", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "yaml") {
			t.Fatalf("unexpected content type: %s", ct)
		}
		if !strings.Contains(rr.Body.String(), "openapi: 3.0.3") {
			t.Fatalf("unexpected body: %s", rr.Body.String())
		}
	})

	t.Run("healthz", func(t *testing.T) {
		if rr := a.do(0, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	})
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
