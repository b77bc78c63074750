package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

// newTestServer routes the fake board API the way the real one is laid out
func newTestServer(t *testing.T, register func(r *mux.Router)) *httptest.Server {
	t.Helper()

	r := mux.NewRouter()
	register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_BearerHeaderOnlyWithToken(t *testing.T) {
	var got []string
	srv := newTestServer(t, func(r *mux.Router) {
		r.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
			got = append(got, r.Header.Get("Authorization"))
			require.NotEmpty(t, r.Header.Get("X-Request-Id"))
			writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": []any{}})
		}).Methods("GET")
	})

	anon := NewClient(srv.URL)
	_, err := anon.ListMessages(context.Background(), MessageQuery{Campus: "Bulan"})
	require.NoError(t, err)

	empty := NewClient(srv.URL, WithTokenSource(staticToken("")))
	_, err = empty.ListMessages(context.Background(), MessageQuery{Campus: "Bulan"})
	require.NoError(t, err)

	authed := NewClient(srv.URL, WithTokenSource(staticToken("tok-1")))
	_, err = authed.ListMessages(context.Background(), MessageQuery{Campus: "Bulan"})
	require.NoError(t, err)

	require.Equal(t, []string{"", "", "Bearer tok-1"}, got)
}

func TestClient_ListMessagesQueryAndMeta(t *testing.T) {
	srv := newTestServer(t, func(r *mux.Router) {
		r.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "2", q.Get("page"))
			assert.Equal(t, "fun", q.Get("category"))
			assert.Equal(t, "Main Campus", q.Get("campus"))
			writeJSON(w, http.StatusOK, map[string]any{
				"status": "success",
				"data": []map[string]any{
					{"id": 3, "content": "hi", "category": "fun", "created_at": "2025-01-02T03:04:05.000000Z", "likes_count": 4},
					{"id": 4, "content": "yo", "category": nil, "created_at": "2025-01-02T03:04:05Z", "likes_count": 0},
				},
				"meta": map[string]any{"current_page": 2, "last_page": 3, "total": 30},
			})
		}).Methods("GET")
	})

	page, err := NewClient(srv.URL).ListMessages(context.Background(), MessageQuery{Category: "fun", Campus: "Main Campus", Page: 2})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, int64(3), page.Data[0].ID)
	assert.Equal(t, "fun", page.Data[0].CategoryName())
	assert.Equal(t, "", page.Data[1].CategoryName())
	assert.False(t, page.Data[0].Deleted())
	assert.Equal(t, PageMeta{CurrentPage: 2, LastPage: 3, Total: 30}, page.Meta)
}

func TestClient_LikeReturnsServerCount(t *testing.T) {
	srv := newTestServer(t, func(r *mux.Router) {
		r.HandleFunc("/messages/{id}/like", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "7", mux.Vars(r)["id"])
			writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": map[string]int{"likes_count": 12}})
		}).Methods("POST")
	})

	count, err := NewClient(srv.URL).LikeMessage(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 12, count)
}

func TestClient_LikeWithoutCountFails(t *testing.T) {
	bodies := []string{
		``,
		`{"status":"success"}`,
		`{"status":"success","data":{}}`,
	}
	for _, body := range bodies {
		srv := newTestServer(t, func(r *mux.Router) {
			r.HandleFunc("/messages/{id}/like", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(body))
			}).Methods("POST")
		})

		count, err := NewClient(srv.URL).LikeMessage(context.Background(), 7)
		require.ErrorIs(t, err, ErrMissingLikeCount, "body %q", body)
		assert.Zero(t, count)
	}
}

func TestClient_CreateMessageBody(t *testing.T) {
	srv := newTestServer(t, func(r *mux.Router) {
		r.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			raw, _ := io.ReadAll(r.Body)
			var body map[string]any
			require.NoError(t, json.Unmarshal(raw, &body))
			assert.Equal(t, "hello", body["content"])
			assert.Equal(t, "Bulan", body["campus"])
			_, hasCategory := body["category"]
			assert.False(t, hasCategory)
			writeJSON(w, http.StatusCreated, map[string]any{"status": "success", "data": map[string]any{"id": 9, "content": "hello", "campus": "Bulan"}})
		}).Methods("POST")
	})

	msg, err := NewClient(srv.URL).CreateMessage(context.Background(), NewMessage{Content: "hello", Campus: "Bulan"})
	require.NoError(t, err)
	assert.Equal(t, int64(9), msg.ID)
}

func TestClient_PublicAnnouncementsAcceptsBareArray(t *testing.T) {
	tcs := []struct {
		name string
		body any
	}{
		{"bare", []map[string]any{{"id": 1, "title": "t", "content": "c", "is_active": true}}},
		{"envelope", map[string]any{"status": "success", "data": []map[string]any{{"id": 1, "title": "t", "content": "c", "is_active": true}}}},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, func(r *mux.Router) {
				r.HandleFunc("/public-announcements", func(w http.ResponseWriter, r *http.Request) {
					writeJSON(w, http.StatusOK, tc.body)
				}).Methods("GET")
			})

			list, err := NewClient(srv.URL).ListAnnouncements(context.Background())
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "t", list[0].Title)
			assert.True(t, list[0].IsActive)
		})
	}
}

func TestClient_ErrorTaxonomy(t *testing.T) {
	tcs := []struct {
		name     string
		status   int
		body     any
		wantKind Kind
		wantText string
	}{
		{"unauthorized", http.StatusUnauthorized, map[string]any{"message": "Unauthenticated."}, KindUnauthorized, "Unauthenticated."},
		{"rate_limited", http.StatusTooManyRequests, map[string]any{"message": "Too Many Attempts."}, KindRateLimited, "Too many messages! Please wait a minute before posting again."},
		{"validation", http.StatusUnprocessableEntity, map[string]any{"message": "invalid", "errors": map[string][]string{"content": {"The content field is required."}}}, KindValidation, "The content field is required."},
		{"not_found", http.StatusNotFound, map[string]any{"message": "Message not found"}, KindNotFound, "Message not found"},
		{"server_no_message", http.StatusInternalServerError, "oops", KindServer, "Failed to post message."},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, func(r *mux.Router) {
				r.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
					writeJSON(w, tc.status, tc.body)
				}).Methods("POST")
			})

			_, err := NewClient(srv.URL).CreateMessage(context.Background(), NewMessage{Content: "x", Campus: "Bulan"})
			require.Error(t, err)

			var apiErr *Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.wantKind, apiErr.Kind)
			assert.Equal(t, tc.status, apiErr.Status)
			assert.Equal(t, tc.wantText, UserMessage(err, PostPhrases))
		})
	}
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).ListMessages(context.Background(), MessageQuery{Campus: "Bulan"})
	require.Error(t, err)
	assert.True(t, IsNetwork(err))
	assert.False(t, IsUnauthorized(err))
	assert.Equal(t, "Network error. Is the backend running?", UserMessage(err, LoginPhrases))
}

func TestClient_LoginPhrases(t *testing.T) {
	tcs := []struct {
		status int
		want   string
	}{
		{http.StatusUnauthorized, "Invalid email or password."},
		{http.StatusTooManyRequests, "Too many login attempts. Please wait a minute."},
		{http.StatusUnprocessableEntity, "Please enter a valid email and password."},
		{http.StatusInternalServerError, "Login failed."},
	}

	for _, tc := range tcs {
		err := &Error{Kind: kindFromStatus(tc.status, false), Status: tc.status}
		assert.Equal(t, tc.want, UserMessage(err, LoginPhrases), "status %d", tc.status)
	}
}

func TestClient_LoginAndAdminCalls(t *testing.T) {
	srv := newTestServer(t, func(r *mux.Router) {
		r.HandleFunc("/admin/login", func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": map[string]any{
				"token": "abc", "admin": map[string]any{"id": 1, "name": "Daniel", "email": "d@x.io"},
			}})
		}).Methods("POST")
		r.HandleFunc("/admin/messages", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
			assert.Equal(t, "true", r.URL.Query().Get("is_deleted"))
			writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": []map[string]any{
				{"id": 5, "content": "gone", "is_deleted": true},
			}, "meta": map[string]any{"current_page": 1, "last_page": 1, "per_page": 20, "total": 1}})
		}).Methods("GET")
		r.HandleFunc("/admin/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}).Methods("DELETE")
	})

	anon := NewClient(srv.URL)
	res, err := anon.Login(context.Background(), "d@x.io", "secret")
	require.NoError(t, err)
	require.Equal(t, "abc", res.Token)
	require.Equal(t, "Daniel", res.Admin.Name)

	admin := NewClient(srv.URL, WithTokenSource(staticToken(res.Token)))
	page, err := admin.AdminListMessages(context.Background(), AdminMessageQuery{IsDeleted: "true"})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.True(t, page.Data[0].Deleted())
	assert.Equal(t, 20, page.Meta.PerPage)

	require.NoError(t, admin.AdminDeleteMessage(context.Background(), 5))
}

func TestError_FirstFieldErrorKeepsServerOrder(t *testing.T) {
	srv := newTestServer(t, func(r *mux.Router) {
		r.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"The given data was invalid.","errors":{` +
				`"content":["The content field is required."],` +
				`"campus":["The campus field is required."]}}`))
		}).Methods("POST")
	})

	_, err := NewClient(srv.URL).CreateMessage(context.Background(), NewMessage{})
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindValidation, apiErr.Kind)
	assert.Equal(t, []string{"The campus field is required."}, apiErr.Fields.Get("campus"))
	assert.Equal(t, "The content field is required.", UserMessage(err, PostPhrases))
}

func TestFieldErrors_UnmarshalOrder(t *testing.T) {
	var fe FieldErrors
	require.NoError(t, json.Unmarshal([]byte(`{"title":["t1","t2"],"content":"c1","is_active":["a1"]}`), &fe))

	require.Len(t, fe, 3)
	assert.Equal(t, FieldError{Field: "title", Messages: []string{"t1", "t2"}}, fe[0])
	assert.Equal(t, FieldError{Field: "content", Messages: []string{"c1"}}, fe[1])
	assert.Equal(t, "is_active", fe[2].Field)

	msg, ok := (&Error{Fields: fe}).FirstFieldError()
	require.True(t, ok)
	assert.Equal(t, "t1", msg)

	var empty FieldErrors
	require.NoError(t, json.Unmarshal([]byte(`null`), &empty))
	_, ok = (&Error{Fields: empty}).FirstFieldError()
	assert.False(t, ok)
}
