package weightticket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ticketResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Lines  []struct {
		WasteStreamNumber string `json:"waste_stream_number"`
		Weight            string `json:"weight"`
	} `json:"lines"`
}

type problemResponse struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	svc, _, _ := newTestService(t, ServiceConfig{})
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, actor, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set("X-Actor", actor)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeTicket(t *testing.T, rr *httptest.ResponseRecorder) ticketResponse {
	t.Helper()
	var out ticketResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestHandlerTicketLifecycle(t *testing.T) {
	router := newTestRouter(t)
	create := `{"consignor_party_id":"` + uuid.NewString() + `","truck_license_plate":"12-ABC-3"}`

	rr := do(t, router, http.MethodPost, "/weight-tickets/", "weegmeester", create)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	ticket := decodeTicket(t, rr)
	assert.Equal(t, "DRAFT", ticket.Status)

	path := "/weight-tickets/" + strconv.FormatInt(ticket.ID, 10)
	rr = do(t, router, http.MethodPost, path+"/lines", "weegmeester", `{"waste_stream_number":"087970000001","weight":"1250.5"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, router, http.MethodPost, path+"/complete", "weegmeester", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	ticket = decodeTicket(t, rr)
	assert.Equal(t, "COMPLETED", ticket.Status)
	require.Len(t, ticket.Lines, 1)
	assert.Equal(t, "087970000001", ticket.Lines[0].WasteStreamNumber)

	rr = do(t, router, http.MethodPost, path+"/invoice", "administratie", `{"amount":{"amount":"125.40","currency":"EUR"}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "INVOICED", decodeTicket(t, rr).Status)

	rr = do(t, router, http.MethodGet, path, "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "INVOICED", decodeTicket(t, rr).Status)
}

func TestHandlerMapsErrors(t *testing.T) {
	router := newTestRouter(t)

	rr := do(t, router, http.MethodPost, "/weight-tickets/", "weegmeester", `{"consignor_party_id":"`+uuid.NewString()+`"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	path := "/weight-tickets/" + strconv.FormatInt(decodeTicket(t, rr).ID, 10)

	rr = do(t, router, http.MethodPost, path+"/cancel", "weegmeester", "")
	require.Equal(t, http.StatusOK, rr.Code)

	cases := []struct {
		name   string
		method string
		path   string
		actor  string
		body   string
		status int
		title  string
	}{
		{"cancel twice", http.MethodPost, path + "/cancel", "weegmeester", "", http.StatusConflict, "Invalid State"},
		{"missing actor", http.MethodPost, path + "/invoice", "", "", http.StatusBadRequest, "Validation Failed"},
		{"unknown ticket", http.MethodGet, "/weight-tickets/999", "", "", http.StatusNotFound, "Not Found"},
		{"bad ticket id", http.MethodGet, "/weight-tickets/abc", "", "", http.StatusBadRequest, "Validation Failed"},
		{"consignor not a uuid", http.MethodPost, "/weight-tickets/", "weegmeester", `{"consignor_party_id":"nope"}`, http.StatusBadRequest, "Validation Failed"},
		{"negative invoice amount", http.MethodPost, path + "/invoice", "administratie", `{"amount":{"amount":"-5"}}`, http.StatusBadRequest, "Validation Failed"},
		{"invalid waste stream", http.MethodPost, path + "/lines", "weegmeester", `{"waste_stream_number":"123","weight":"10"}`, http.StatusBadRequest, "Validation Failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, router, tc.method, tc.path, tc.actor, tc.body)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			var problem problemResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
			assert.Equal(t, tc.title, problem.Title)
		})
	}
}
