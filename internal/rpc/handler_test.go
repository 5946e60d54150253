// internal/rpc/handler_test.go
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/markb/pgcall/internal/log"
	"github.com/markb/pgcall/internal/pgfunc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHandler(t *testing.T, aggregates ...string) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r := chi.NewRouter()
	NewHandler(db, aggregates).Routes(r)
	return r, mock
}

func TestHandleDescribe(t *testing.T) {
	router, mock := setupHandler(t)
	mock.ExpectQuery(`FROM pg_catalog\.pg_proc`).
		WithArgs("foo", "public").
		WillReturnRows(sqlmock.NewRows([]string{"proname", "pronargs", "proargnames", "proargmodes", "argtypes"}).
			AddRow("foo", int64(2), "{a,b}", "{}", "int4 text"))

	req := httptest.NewRequest(http.MethodGet, "/rpc/foo", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"name":"foo","num_args":2,"args":[{"name":"a","type":"int4"},{"name":"b","type":"text"}]}`, w.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleDescribe_FirstArgType(t *testing.T) {
	router, mock := setupHandler(t)
	mock.ExpectQuery(`p\.proargtypes\[0\]`).
		WithArgs("foo", "billing", "invoice", "billing").
		WillReturnRows(sqlmock.NewRows([]string{"proname", "pronargs", "proargnames", "proargmodes", "argtypes"}).
			AddRow("foo", int64(1), "{inv}", "{}", "invoice"))

	req := httptest.NewRequest(http.MethodGet, "/rpc/billing/foo?first_arg_type=invoice&first_arg_schema=billing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleDescribe_Errors(t *testing.T) {
	tests := []struct {
		name       string
		rows       *sqlmock.Rows
		wantStatus int
		wantCode   string
	}{
		{
			name:       "not found",
			rows:       sqlmock.NewRows([]string{"proname", "pronargs", "proargnames", "proargmodes", "argtypes"}),
			wantStatus: http.StatusNotFound,
			wantCode:   "PGRST202",
		},
		{
			name: "ambiguous",
			rows: sqlmock.NewRows([]string{"proname", "pronargs", "proargnames", "proargmodes", "argtypes"}).
				AddRow("foo", int64(1), "{a}", "{}", "int4").
				AddRow("foo", int64(1), "{a}", "{}", "text"),
			wantStatus: http.StatusMultipleChoices,
			wantCode:   "PGRST203",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, mock := setupHandler(t)
			mock.ExpectQuery(`FROM pg_catalog\.pg_proc`).WillReturnRows(tt.rows)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rpc/public/foo", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body["code"])
		})
	}
}

func TestHandleCall(t *testing.T) {
	router, mock := setupHandler(t, "sum(amount)")
	mock.ExpectPrepare(regexp.QuoteMeta(`SELECT *, sum(amount) OVER (ROWS UNBOUNDED PRECEDING) AS running_total FROM "public"."bar"($1, $2::"numeric") ORDER BY "amount" DESC`)).
		ExpectQuery().
		WithArgs("5", "10.5").
		WillReturnRows(sqlmock.NewRows([]string{"amount", "running_total"}).
			AddRow("3", "3").
			AddRow("2", "5"))

	body := `{"args":[5,{"cast":"numeric","value":"10.5"}],"order_by":["amount DESC"],"running":[{"agg":"sum(amount)","alias":"running_total"}]}`
	req := httptest.NewRequest(http.MethodPost, "/rpc/public/bar", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `[{"amount":"3","running_total":"3"},{"amount":"2","running_total":"5"}]`, w.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleCall_AggregateNotAllowed(t *testing.T) {
	router, mock := setupHandler(t, "sum(amount)")

	body := `{"running":[{"agg":"(SELECT password FROM users LIMIT 1)","alias":"x"}]}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/rpc/bar", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Running aggregate not allowed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleCall_InvalidJSON(t *testing.T) {
	router, _ := setupHandler(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/rpc/bar", strings.NewReader("{")))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "PGRST000")
}

func TestHandleCall_EmptyChunkedBody(t *testing.T) {
	router, mock := setupHandler(t)
	mock.ExpectPrepare(regexp.QuoteMeta(`SELECT * FROM "public"."ping"()`)).
		ExpectQuery().
		WillReturnRows(sqlmock.NewRows([]string{"ping"}).AddRow("pong"))

	req := httptest.NewRequest(http.MethodPost, "/rpc/ping", nil)
	req.Body = io.NopCloser(strings.NewReader(""))
	req.ContentLength = -1
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `[{"ping":"pong"}]`, w.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleCall_ByteColumns(t *testing.T) {
	router, mock := setupHandler(t)
	mock.ExpectPrepare(regexp.QuoteMeta(`SELECT * FROM "public"."doc"()`)).
		ExpectQuery().
		WillReturnRows(sqlmock.NewRows([]string{"payload", "total", "note", "raw"}).
			AddRow([]byte(`{"a":1}`), []byte("10.50"), []byte("{1,2}"), []byte{0xff, 0xfe}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/rpc/doc", nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `[{"payload":{"a":1},"total":10.50,"note":"{1,2}","raw":"//4="}]`, w.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleCall_LogsSubject(t *testing.T) {
	var buf bytes.Buffer
	log.Init(&log.Config{Level: "warn", Format: "text", Output: &buf})
	t.Cleanup(func() { log.Init(log.DefaultConfig()) })

	router, mock := setupHandler(t)
	mock.ExpectPrepare(regexp.QuoteMeta(`SELECT * FROM "public"."bar"()`)).
		WillReturnError(errors.New("function public.bar() does not exist"))

	req := httptest.NewRequest(http.MethodPost, "/rpc/bar", nil)
	req = req.WithContext(log.WithSubject(context.Background(), "user-1"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, buf.String(), "subject=user-1")
}

func TestHandleCall_SingleObject(t *testing.T) {
	tests := []struct {
		name       string
		rows       *sqlmock.Rows
		wantStatus int
	}{
		{"one row", sqlmock.NewRows([]string{"n"}).AddRow(int64(1)), http.StatusOK},
		{"two rows", sqlmock.NewRows([]string{"n"}).AddRow(int64(1)).AddRow(int64(2)), http.StatusNotAcceptable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, mock := setupHandler(t)
			mock.ExpectPrepare(regexp.QuoteMeta(`SELECT * FROM "public"."bar"()`)).
				ExpectQuery().
				WillReturnRows(tt.rows)

			req := httptest.NewRequest(http.MethodPost, "/rpc/bar", nil)
			req.Header.Set("Accept", "application/vnd.pgrst.object+json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestHandleCall_MinimalReturn(t *testing.T) {
	router, mock := setupHandler(t)
	mock.ExpectPrepare(regexp.QuoteMeta(`SELECT * FROM "public"."touch"()`)).
		ExpectQuery().
		WillReturnRows(sqlmock.NewRows([]string{"touch"}).AddRow(nil))

	req := httptest.NewRequest(http.MethodPost, "/rpc/touch", nil)
	req.Header.Set("Prefer", "return=minimal")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleCall_ExecutionFailure(t *testing.T) {
	router, mock := setupHandler(t)
	mock.ExpectPrepare(regexp.QuoteMeta(`SELECT * FROM "public"."bar"($1)`)).
		ExpectQuery().
		WillReturnError(errors.New("new row violates check constraint"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/rpc/bar", strings.NewReader(`{"args":[-1]}`)))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "check constraint")
}

func TestHandleCall_PreparationFailure(t *testing.T) {
	router, mock := setupHandler(t)
	mock.ExpectPrepare(regexp.QuoteMeta(`SELECT * FROM "public"."bar"()`)).
		WillReturnError(errors.New("function public.bar() does not exist"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/rpc/bar", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "PGRST100")
}

func TestToArgument(t *testing.T) {
	assert.Equal(t, "42", toArgument(json.Number("42")))
	assert.Equal(t, "x", toArgument("x"))
	assert.Equal(t, true, toArgument(true))
	assert.Nil(t, toArgument(nil))
	assert.Equal(t,
		pgfunc.Cast{Type: "numeric", Value: "1.5"},
		toArgument(map[string]any{"cast": "numeric", "value": json.Number("1.5")}))
	assert.Equal(t,
		pgfunc.Typed{Value: map[string]any{"a": "b"}, OID: pgtype.JSONBOID},
		toArgument(map[string]any{"a": "b"}))
	assert.Equal(t,
		pgfunc.Typed{Value: []any{"a"}, OID: pgtype.JSONBOID},
		toArgument([]any{"a"}))
}
