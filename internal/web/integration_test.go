package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/treetag/internal/auth"
	"github.com/vbonduro/treetag/internal/db"
	"github.com/vbonduro/treetag/internal/domain"
	"github.com/vbonduro/treetag/internal/identify"
	"github.com/vbonduro/treetag/internal/metrics"
	"github.com/vbonduro/treetag/internal/photostore/local"
	"github.com/vbonduro/treetag/internal/service"
	"github.com/vbonduro/treetag/internal/session"
	"github.com/vbonduro/treetag/internal/species"
	"github.com/vbonduro/treetag/internal/store"
	"github.com/vbonduro/treetag/internal/web"
)

// minimalJPEG is 512 bytes with the JPEG magic bytes header followed by zeros.
// http.DetectContentType identifies JPEG from the leading 0xFF 0xD8 bytes.
var minimalJPEG = func() []byte {
	b := make([]byte, 512)
	b[0] = 0xFF
	b[1] = 0xD8
	b[2] = 0xFF
	b[3] = 0xE0
	return b
}()

// recordingIdentifier captures the image bytes passed to it and returns
// pre-configured candidates.
type recordingIdentifier struct {
	mu         sync.Mutex
	lastBytes  []byte
	candidates []identify.Candidate
}

func (r *recordingIdentifier) Suggest(_ context.Context, rd io.Reader, _ string) ([]identify.Candidate, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("recordingIdentifier: read image: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastBytes = data
	return r.candidates, nil
}

func (r *recordingIdentifier) SetCandidates(c []identify.Candidate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates = c
}

func (r *recordingIdentifier) LastBytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastBytes
}

type testApp struct {
	server *httptest.Server
	tokens *auth.Tokens
	ident  *recordingIdentifier
}

type appOptions struct {
	burst int
}

func newTestApp(t *testing.T, opts appOptions) *testApp {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	staging, err := local.NewLocalPhotoStore(t.TempDir(), "/staging")
	require.NoError(t, err)
	photos, err := local.NewLocalPhotoStore(t.TempDir(), "/photos")
	require.NoError(t, err)

	catalog := species.NewCatalog([]domain.Species{
		{ID: "11", Common: "Red Oak", Scientific: "Quercus rubra"},
		{ID: "16", Common: "Red Maple", Scientific: "Acer rubrum"},
		{ID: "17", Common: "Sugar Maple", Scientific: "Acer saccharum"},
	})
	ident := &recordingIdentifier{}
	trees := service.NewTreeService(store.NewTreeStore(d), staging, photos, ident, catalog, logger)
	m := metrics.New()
	sessions := session.NewManager(time.Hour, catalog, trees, m, logger)
	m.RegisterActiveSessions(sessions.Count)

	if opts.burst == 0 {
		opts.burst = 100
	}
	tokens := auth.NewTokens("test-secret", time.Hour)
	srv := web.NewServer(web.Deps{
		Trees:    trees,
		Sessions: sessions,
		Catalog:  catalog,
		Photos:   photos,
		Tokens:   tokens,
		Limiter:  web.NewSubmitLimiter(0.001, opts.burst),
		Metrics:  m,
	}, logger)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &testApp{server: ts, tokens: tokens, ident: ident}
}

func (a *testApp) token(t *testing.T, user domain.User) string {
	t.Helper()
	signed, err := a.tokens.Issue(user)
	require.NoError(t, err)
	return signed
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
func (a *testApp) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, a.server.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (a *testApp) capture(t *testing.T, sessionID string, image []byte, fields map[string]string) (int, session.View) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "tree.jpg")
	require.NoError(t, err)
	_, err = fw.Write(image)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(a.server.URL+"/sessions/"+sessionID+"/capture", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var view session.View
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	}
	return resp.StatusCode, view
}

var captureFields = map[string]string{
	"width":     "640",
	"height":    "480",
	"latitude":  "45.5017",
	"longitude": "-73.5673",
}

func (a *testApp) openSession(t *testing.T) session.View {
	t.Helper()
	var view session.View
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/sessions", "", nil, &view))
	require.NotEmpty(t, view.ID)
	return view
}

// fillForm drives a session to a state that passes validation.
func (a *testApp) fillForm(t *testing.T, id string) {
	t.Helper()
	code, _ := a.capture(t, id, minimalJPEG, captureFields)
	require.Equal(t, http.StatusOK, code)

	require.Equal(t, http.StatusOK, a.do(t, http.MethodPatch, "/sessions/"+id+"/fields/dbh", "", map[string]any{"value": "42"}, nil))
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPatch, "/sessions/"+id+"/fields/landUseCategory", "", map[string]any{"value": "park"}, nil))

	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/sessions/"+id+"/picker/open", "", nil, nil))
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/sessions/"+id+"/picker/select", "", map[string]any{"id": "11"}, nil))
}

func TestFullSubmissionFlow(t *testing.T) {
	app := newTestApp(t, appOptions{})
	token := app.token(t, domain.User{ID: "user-1"})
	view := app.openSession(t)

	assert.Equal(t, domain.TreeTypeConifer, view.Form.Values.TreeType)
	assert.Empty(t, view.Form.Errors)

	app.fillForm(t, view.ID)

	var got struct {
		Tree    domain.Tree  `json:"tree"`
		Session session.View `json:"session"`
	}
	code := app.do(t, http.MethodPost, "/sessions/"+view.ID+"/submit", token, nil, &got)
	require.Equal(t, http.StatusCreated, code)

	assert.Equal(t, "user-1", got.Tree.UserID)
	assert.Equal(t, "Red Oak", got.Tree.SpeciesCommon)
	assert.Equal(t, "Quercus rubra", got.Tree.SpeciesScientific)
	assert.Equal(t, "42", got.Tree.DBH)
	assert.Equal(t, domain.LandUsePark, got.Tree.LandUseCategory)
	assert.Equal(t, 640, got.Tree.PhotoWidth)
	assert.InDelta(t, 45.5017, got.Tree.Latitude, 1e-9)
	assert.False(t, got.Tree.IsValidated)
	assert.Nil(t, got.Tree.Notes)
	assert.False(t, got.Session.Form.Submitting)
	require.True(t, strings.HasPrefix(got.Tree.PhotoURL, "/photos/tree_"), got.Tree.PhotoURL)

	// The uploaded photo is served back byte for byte.
	resp, err := http.Get(app.server.URL + got.Tree.PhotoURL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	served, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, minimalJPEG, served)

	var list struct {
		Trees []domain.Tree `json:"trees"`
	}
	require.Equal(t, http.StatusOK, app.do(t, http.MethodGet, "/trees", token, nil, &list))
	require.Len(t, list.Trees, 1)
	assert.Equal(t, got.Tree.ID, list.Trees[0].ID)
}

func TestSubmitInvalidFormShowsErrors(t *testing.T) {
	app := newTestApp(t, appOptions{})
	token := app.token(t, domain.User{ID: "user-1"})
	view := app.openSession(t)

	var got struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	code := app.do(t, http.MethodPost, "/sessions/"+view.ID+"/submit", token, nil, &got)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, map[string]string{
		"photo":   "You have to add photo",
		"dbh":     "Can't be blank",
		"species": "Can't be blank",
	}, got.Fields)

	var after session.View
	app.do(t, http.MethodGet, "/sessions/"+view.ID, "", nil, &after)
	assert.Len(t, after.Form.Touched, 7, "submit touches every field")
}

func TestSubmitRequiresToken(t *testing.T) {
	app := newTestApp(t, appOptions{})
	view := app.openSession(t)
	app.fillForm(t, view.ID)

	code := app.do(t, http.MethodPost, "/sessions/"+view.ID+"/submit", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	var after session.View
	app.do(t, http.MethodGet, "/sessions/"+view.ID, "", nil, &after)
	assert.False(t, after.Form.Submitting)
	assert.NotEmpty(t, after.Form.LastError)
	assert.Equal(t, "42", after.Form.Values.DBH, "values survive a failed submit")
}

func TestSubmitMissingLandUse(t *testing.T) {
	app := newTestApp(t, appOptions{})
	token := app.token(t, domain.User{ID: "user-1"})
	view := app.openSession(t)
	app.fillForm(t, view.ID)
	require.Equal(t, http.StatusOK, app.do(t, http.MethodPatch, "/sessions/"+view.ID+"/fields/landUseCategory", "", map[string]any{"value": nil}, nil))

	var got struct {
		Error string `json:"error"`
	}
	code := app.do(t, http.MethodPost, "/sessions/"+view.ID+"/submit", token, nil, &got)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, got.Error, "missing data")
}

func TestSubmitRateLimited(t *testing.T) {
	app := newTestApp(t, appOptions{burst: 1})
	token := app.token(t, domain.User{ID: "user-1"})
	view := app.openSession(t)

	assert.Equal(t, http.StatusUnprocessableEntity, app.do(t, http.MethodPost, "/sessions/"+view.ID+"/submit", token, nil, nil))
	assert.Equal(t, http.StatusTooManyRequests, app.do(t, http.MethodPost, "/sessions/"+view.ID+"/submit", token, nil, nil))
}

func TestFieldsStayUntouchedUntilTouched(t *testing.T) {
	app := newTestApp(t, appOptions{})
	view := app.openSession(t)
	base := "/sessions/" + view.ID

	var got session.View
	require.Equal(t, http.StatusOK, app.do(t, http.MethodPatch, base+"/fields/dbh", "", map[string]any{"value": ""}, &got))
	assert.Empty(t, got.Form.Errors)

	require.Equal(t, http.StatusOK, app.do(t, http.MethodPost, base+"/fields/dbh/touch", "", nil, &got))
	assert.Equal(t, "Can't be blank", got.Form.Errors["dbh"])
}

func TestSetFieldRejectsBadValues(t *testing.T) {
	app := newTestApp(t, appOptions{})
	base := "/sessions/" + app.openSession(t).ID

	assert.Equal(t, http.StatusBadRequest, app.do(t, http.MethodPatch, base+"/fields/dbh", "", map[string]any{"value": 12}, nil))
	assert.Equal(t, http.StatusBadRequest, app.do(t, http.MethodPatch, base+"/fields/treeType", "", map[string]any{"value": "palm"}, nil))
	assert.Equal(t, http.StatusBadRequest, app.do(t, http.MethodPatch, base+"/fields/height", "", map[string]any{"value": "1"}, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, app.do(t, http.MethodPatch, base+"/fields/species", "", map[string]any{"value": map[string]string{"id": "999"}}, nil))

	var got session.View
	require.Equal(t, http.StatusOK, app.do(t, http.MethodPatch, base+"/fields/treeType", "", map[string]any{"value": "broadleaf"}, &got))
	assert.Equal(t, domain.TreeTypeBroadleaf, got.Form.Values.TreeType)
}

func TestResetNeedsConfirmation(t *testing.T) {
	app := newTestApp(t, appOptions{})
	view := app.openSession(t)
	base := "/sessions/" + view.ID
	app.fillForm(t, view.ID)

	var got struct {
		Reset   bool         `json:"reset"`
		Session session.View `json:"session"`
	}
	require.Equal(t, http.StatusOK, app.do(t, http.MethodPost, base+"/reset", "", map[string]any{"confirm": false}, &got))
	assert.False(t, got.Reset)
	assert.Equal(t, "42", got.Session.Form.Values.DBH)

	require.Equal(t, http.StatusOK, app.do(t, http.MethodPost, base+"/reset", "", map[string]any{"confirm": true}, &got))
	assert.True(t, got.Reset)
	assert.Empty(t, got.Session.Form.Values.DBH)
	assert.Nil(t, got.Session.Form.Values.Photo)
	assert.Nil(t, got.Session.Form.Values.Species)
	assert.Empty(t, got.Session.Form.Touched)
}

func TestPickerOverHTTP(t *testing.T) {
	app := newTestApp(t, appOptions{})
	base := "/sessions/" + app.openSession(t).ID

	var picker session.PickerView
	require.Equal(t, http.StatusOK, app.do(t, http.MethodPost, base+"/picker/open", "", nil, &picker))
	assert.Equal(t, "open", picker.State)
	assert.Len(t, picker.Results, 3)

	require.Equal(t, http.StatusOK, app.do(t, http.MethodPut, base+"/picker/query", "", map[string]any{"query": "ma"}, &picker))
	assert.Len(t, picker.Results, 3, "short queries do not filter")

	require.Equal(t, http.StatusOK, app.do(t, http.MethodPut, base+"/picker/query", "", map[string]any{"query": "MAPLE"}, &picker))
	require.Len(t, picker.Results, 2)
	assert.Equal(t, "16", picker.Results[0].ID)

	assert.Equal(t, http.StatusConflict, app.do(t, http.MethodPatch, base+"/fields/dbh", "", map[string]any{"value": "3"}, nil),
		"the form is blocked while the picker is open")

	var view session.View
	require.Equal(t, http.StatusOK, app.do(t, http.MethodPost, base+"/picker/select", "", map[string]any{"id": "17"}, &view))
	assert.Equal(t, "closed", view.Picker.State)
	require.NotNil(t, view.Form.Values.Species)
	assert.Equal(t, "Sugar Maple", view.Form.Values.Species.Common)

	require.Equal(t, http.StatusOK, app.do(t, http.MethodPost, base+"/picker/open", "", nil, nil))
	require.Equal(t, http.StatusOK, app.do(t, http.MethodPost, base+"/picker/dismiss", "", nil, &view))
	assert.Nil(t, view.Form.Values.Species, "dismissing clears the species")

	assert.Equal(t, http.StatusConflict, app.do(t, http.MethodPost, base+"/picker/dismiss", "", nil, nil))
}

func TestSpeciesSearch(t *testing.T) {
	app := newTestApp(t, appOptions{})

	var got struct {
		Query   string           `json:"query"`
		Results []domain.Species `json:"results"`
	}
	require.Equal(t, http.StatusOK, app.do(t, http.MethodGet, "/species?q=rubr", "", nil, &got))
	require.Len(t, got.Results, 2)
	assert.Equal(t, "11", got.Results[0].ID)
	assert.Equal(t, "16", got.Results[1].ID)
}

func TestCaptureRejectsBadUploads(t *testing.T) {
	app := newTestApp(t, appOptions{})
	id := app.openSession(t).ID

	code, _ := app.capture(t, id, []byte("%PDF-1.4"), captureFields)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = app.capture(t, id, minimalJPEG, map[string]string{"width": "1", "height": "1"})
	assert.Equal(t, http.StatusBadRequest, code, "location is required")

	code, view := app.capture(t, id, minimalJPEG, captureFields)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, view.Form.Values.Photo)
	assert.Equal(t, 480, view.Form.Values.Photo.Height)
	require.NotNil(t, view.Form.Values.Coords)
	assert.InDelta(t, -73.5673, view.Form.Values.Coords.Longitude, 1e-9)
}

func TestSuggestions(t *testing.T) {
	app := newTestApp(t, appOptions{})
	id := app.openSession(t).ID

	assert.Equal(t, http.StatusUnprocessableEntity, app.do(t, http.MethodGet, "/sessions/"+id+"/suggestions", "", nil, nil))

	code, _ := app.capture(t, id, minimalJPEG, captureFields)
	require.Equal(t, http.StatusOK, code)
	app.ident.SetCandidates([]identify.Candidate{
		{Common: "Red Maple", Scientific: "Acer rubrum"},
		{Common: "Ginkgo", Scientific: "Ginkgo biloba"},
	})

	var got struct {
		Suggestions []domain.Species `json:"suggestions"`
	}
	require.Equal(t, http.StatusOK, app.do(t, http.MethodGet, "/sessions/"+id+"/suggestions", "", nil, &got))
	require.Len(t, got.Suggestions, 1)
	assert.Equal(t, "16", got.Suggestions[0].ID)
	assert.Equal(t, minimalJPEG, app.ident.LastBytes())
}

func TestTreeAccess(t *testing.T) {
	app := newTestApp(t, appOptions{})
	owner := app.token(t, domain.User{ID: "owner"})
	stranger := app.token(t, domain.User{ID: "stranger"})
	validator := app.token(t, domain.User{ID: "reviewer", Validator: true})

	view := app.openSession(t)
	app.fillForm(t, view.ID)
	var submitted struct {
		Tree domain.Tree `json:"tree"`
	}
	require.Equal(t, http.StatusCreated, app.do(t, http.MethodPost, "/sessions/"+view.ID+"/submit", owner, nil, &submitted))
	path := fmt.Sprintf("/trees/%d", submitted.Tree.ID)

	assert.Equal(t, http.StatusUnauthorized, app.do(t, http.MethodGet, path, "", nil, nil))
	assert.Equal(t, http.StatusOK, app.do(t, http.MethodGet, path, owner, nil, nil))
	assert.Equal(t, http.StatusNotFound, app.do(t, http.MethodGet, path, stranger, nil, nil))
	assert.Equal(t, http.StatusNotFound, app.do(t, http.MethodGet, "/trees/99999", owner, nil, nil))
	assert.Equal(t, http.StatusBadRequest, app.do(t, http.MethodGet, "/trees/abc", owner, nil, nil))

	assert.Equal(t, http.StatusForbidden, app.do(t, http.MethodPost, path+"/validate", owner, nil, nil))

	var validated domain.Tree
	require.Equal(t, http.StatusOK, app.do(t, http.MethodPost, path+"/validate", validator, nil, &validated))
	assert.True(t, validated.IsValidated)
	assert.Equal(t, http.StatusNotFound, app.do(t, http.MethodPost, "/trees/99999/validate", validator, nil, nil))
}

func TestSessionLifecycle(t *testing.T) {
	app := newTestApp(t, appOptions{})
	id := app.openSession(t).ID

	assert.Equal(t, http.StatusOK, app.do(t, http.MethodGet, "/sessions/"+id, "", nil, nil))
	assert.Equal(t, http.StatusNoContent, app.do(t, http.MethodDelete, "/sessions/"+id, "", nil, nil))
	assert.Equal(t, http.StatusNotFound, app.do(t, http.MethodGet, "/sessions/"+id, "", nil, nil))
	assert.Equal(t, http.StatusNotFound, app.do(t, http.MethodDelete, "/sessions/"+id, "", nil, nil))
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t, appOptions{})
	app.openSession(t)

	resp, err := http.Get(app.server.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "treetag_sessions_opened_total 1")
	assert.Contains(t, string(body), "treetag_sessions_active 1")
}

func TestSecurityHeaders(t *testing.T) {
	app := newTestApp(t, appOptions{})

	resp, err := http.Get(app.server.URL + "/species")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}
