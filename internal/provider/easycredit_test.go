package provider

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pandashop/creditsync/internal/config"
	"github.com/pandashop/creditsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEasyCredit(t *testing.T) *EasyCredit {
	t.Helper()
	e := NewEasyCredit(config.EasyCreditConfig{
		BaseURL:     "https://ec.test",
		FilesURL:    "https://ec-files.test",
		Login:       "login",
		Password:    "password",
		Environment: "TEST",
	}, slog.Default())
	e.sleep = func(time.Duration) {}
	return e
}

func TestEasyCreditProductID(t *testing.T) {
	e := newTestEasyCredit(t)

	tests := []struct {
		term int
		want int
	}{
		{6, 54},
		{11, 54},
		{12, 55},
		{13, 56},
		{18, 56},
		{19, 57},
		{24, 57},
		{25, 58},
		{36, 58},
		{3, 54},
		{40, 54},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.ProductID(tt.term), "term %d", tt.term)
	}
}

func TestEasyCreditMapStatus(t *testing.T) {
	e := newTestEasyCredit(t)

	tests := []struct {
		raw  string
		want string
	}{
		{"New", models.StatusCreditCheck},
		{"More Data", models.StatusCreditCheck},
		{"Approved", models.StatusCreditApproved},
		{"Refused", models.StatusCreditDeclined},
		{"Rejected", models.StatusCreditDeclined},
		{"Canceled", models.StatusCreditDeclined},
		{"Disbursed", models.StatusPaid},
		{"Settled", models.StatusPaid},
	}
	for _, tt := range tests {
		got, ok := e.MapStatus(tt.raw)
		assert.True(t, ok, "status %q should be known", tt.raw)
		assert.Equal(t, tt.want, got)
	}

	assert.True(t, e.IsFinal("Disbursed"))
	assert.False(t, e.IsFinal("Approved"))
	assert.True(t, e.IsApprovedLike("Settled"))
	assert.False(t, e.IsApprovedLike("New"))
}

func TestEasyCreditConditionsChanged(t *testing.T) {
	e := newTestEasyCredit(t)
	requested := models.Terms{Amount: 5000, Term: 12}

	// the bank rolls commission into the principal, a drift within one leu
	// is expected and must not alarm the manager
	assert.False(t, e.ConditionsChanged(requested, models.Terms{Amount: 5000.99, Term: 12}))
	assert.False(t, e.ConditionsChanged(requested, models.Terms{Amount: 4999.01, Term: 12}))
	assert.True(t, e.ConditionsChanged(requested, models.Terms{Amount: 5001.01, Term: 12}))
	assert.True(t, e.ConditionsChanged(requested, models.Terms{Amount: 4998.50, Term: 12}))
	assert.True(t, e.ConditionsChanged(requested, models.Terms{Amount: 5000, Term: 6}))
}

func TestGoodsName(t *testing.T) {
	assert.Equal(t, "Товар", goodsName(&models.Order{}), "empty order gets the generic name")

	order := &models.Order{Items: []models.OrderItem{
		{Name: "Phone"},
		{Name: ""},
		{Name: "Case"},
	}}
	assert.Equal(t, "Phone, Товар, Case", goodsName(order))

	long := &models.Order{Items: []models.OrderItem{
		{Name: strings.Repeat("a", 300)},
	}}
	assert.Len(t, goodsName(long), 200)
}

func TestFirstInstallmentDate(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-02-04", FirstInstallmentDate(now))
}

// newServedEasyCredit points the API and files clients at httptest servers
// and records every sleep instead of waiting.
func newServedEasyCredit(t *testing.T, apiURL, filesURL string) (*EasyCredit, *[]time.Duration) {
	t.Helper()
	e := NewEasyCredit(config.EasyCreditConfig{
		BaseURL:     apiURL,
		FilesURL:    filesURL,
		Login:       "login",
		Password:    "password",
		Environment: "TEST",
	}, slog.Default())

	sleeps := &[]time.Duration{}
	e.sleep = func(d time.Duration) { *sleeps = append(*sleeps, d) }
	return e, sleeps
}

func TestEasyCreditUploadFilesRetriesTransientErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		require.Equal(t, "/TEST/files/upload", r.URL.Path)
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "URN-7", r.FormValue("URN"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, sleeps := newServedEasyCredit(t, "https://ec.test", srv.URL)

	err := e.UploadFiles(context.Background(), "URN-7", []models.File{
		{Name: "passport.jpg", Data: []byte("img")},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts, "503 is retried once the delay passes")
	assert.Equal(t, []time.Duration{easyCreditUploadDelay}, *sleeps)
}

func TestEasyCreditUploadFilesGivesUpAfterRetries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	e, sleeps := newServedEasyCredit(t, "https://ec.test", srv.URL)

	err := e.UploadFiles(context.Background(), "URN-7", []models.File{{Name: "passport.jpg"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, 1+easyCreditUploadRetries, attempts)
	assert.Len(t, *sleeps, easyCreditUploadRetries)
}

func TestEasyCreditUploadFilesDoesNotRetryPermanentErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	e, sleeps := newServedEasyCredit(t, "https://ec.test", srv.URL)

	err := e.UploadFiles(context.Background(), "URN-7", []models.File{{Name: "passport.jpg"}})
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "a 400 means the request itself is wrong")
	assert.Empty(t, *sleeps)
}

func TestEasyCreditSubmitUploadFailureIsPartialSuccess(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/TEST/Request_v3", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"response":{"Status":"OK","URN":"URN-9"}}`)
	}))
	defer api.Close()

	uploadAttempts := 0
	filesSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploadAttempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer filesSrv.Close()

	e, _ := newServedEasyCredit(t, api.URL, filesSrv.URL)

	order := &models.Order{Items: []models.OrderItem{{Name: "Phone"}}}
	data := models.OrderData{
		OrderID:     5,
		IDNP:        "2001001000001",
		Name:        "Ion",
		Surname:     "Popescu",
		Phone:       "+37360000000",
		CreditTerm:  12,
		TotalAmount: 5000,
	}

	result, err := e.Submit(context.Background(), order, data, []models.File{
		{Name: "passport.jpg", Data: []byte("img")},
	})
	require.NoError(t, err, "the application itself went through")
	require.NotNil(t, result)
	assert.Equal(t, "URN-9", result.ApplicationID)
	assert.False(t, result.FilesUploaded)
	assert.Equal(t, 1+easyCreditUploadRetries, uploadAttempts)
}
