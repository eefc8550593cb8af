package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pandashop/creditsync/internal/config"
	"github.com/pandashop/creditsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMicroinvest(t *testing.T) *Microinvest {
	t.Helper()
	return NewMicroinvest(config.MicroinvestConfig{
		BaseURL:   "https://bank.test",
		PartnerID: "partner",
		APIKey:    "key",
		LoanProducts: map[string]string{
			"0%_3":   "prod-zero-3",
			"0%_6":   "prod-zero-6",
			"retail": "prod-retail",
		},
	}, slog.Default())
}

func TestMicroinvestMapStatus(t *testing.T) {
	m := newTestMicroinvest(t)

	tests := []struct {
		raw  string
		want string
	}{
		{"Placed", models.StatusCreditCheck},
		{"Processing", models.StatusCreditCheck},
		{"Approved", models.StatusCreditApproved},
		{"PendingIssue", models.StatusCreditApproved},
		{"Refused", models.StatusCreditDeclined},
		{"IssueRejected", models.StatusCreditDeclined},
		{"SignedOnline", models.StatusSignedOnline},
		{"SignedPhysically", models.StatusSignedOnline},
		{"Issued", models.StatusPaid},
	}
	for _, tt := range tests {
		got, ok := m.MapStatus(tt.raw)
		require.True(t, ok, "status %q should be known", tt.raw)
		assert.Equal(t, tt.want, got)
	}

	_, ok := m.MapStatus("SomethingNew")
	assert.False(t, ok, "unknown raw statuses must not map")
}

func TestMicroinvestFinalAndApprovedLike(t *testing.T) {
	m := newTestMicroinvest(t)

	assert.True(t, m.IsFinal("Refused"))
	assert.True(t, m.IsFinal("Issued"))
	assert.True(t, m.IsFinal("IssueRejected"))
	assert.False(t, m.IsFinal("Approved"), "approval still allows signing and issue")
	assert.False(t, m.IsFinal("Placed"))

	assert.True(t, m.IsApprovedLike("Approved"))
	assert.True(t, m.IsApprovedLike("SignedPhysically"))
	assert.True(t, m.IsApprovedLike("Issued"))
	assert.False(t, m.IsApprovedLike("Placed"))
	assert.False(t, m.IsApprovedLike("Refused"))
}

func TestMicroinvestLoanProductID(t *testing.T) {
	m := newTestMicroinvest(t)

	assert.Equal(t, "prod-zero-3", m.loanProductID(true, 3))
	assert.Equal(t, "prod-zero-6", m.loanProductID(true, 6))
	assert.Equal(t, "prod-retail", m.loanProductID(true, 24), "unknown zero term falls back to retail")
	assert.Equal(t, "prod-retail", m.loanProductID(false, 3))
}

func TestMicroinvestConditionsChanged(t *testing.T) {
	m := newTestMicroinvest(t)
	requested := models.Terms{Amount: 5000, Term: 6, ProductType: "0%"}

	assert.False(t, m.ConditionsChanged(requested, requested))
	assert.True(t, m.ConditionsChanged(requested, models.Terms{Amount: 5000.01, Term: 6, ProductType: "0%"}),
		"any amount deviation counts")
	assert.True(t, m.ConditionsChanged(requested, models.Terms{Amount: 5000, Term: 12, ProductType: "0%"}))
	assert.True(t, m.ConditionsChanged(requested, models.Terms{Amount: 5000, Term: 6, ProductType: "retail"}))
}

func TestMicroinvestUploadFiles(t *testing.T) {
	var gotAppID string
	var gotBody struct {
		FileAttachmentSet []microinvestAttachment `json:"fileAttachmentSet"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/SendContracts", r.URL.Path)
		gotAppID = r.Header.Get("applicationID")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMicroinvest(config.MicroinvestConfig{
		BaseURL:   srv.URL,
		PartnerID: "partner",
		APIKey:    "key",
	}, slog.Default())

	err := m.UploadFiles(context.Background(), "777", []models.File{
		{Name: "contract.pdf", Data: []byte("pdf-bytes")},
	})
	require.NoError(t, err)

	assert.Equal(t, "777", gotAppID)
	require.Len(t, gotBody.FileAttachmentSet, 1)
	assert.Equal(t, "contract.pdf", gotBody.FileAttachmentSet[0].Name)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("pdf-bytes")), gotBody.FileAttachmentSet[0].Data)
}

func TestMicroinvestUploadFilesRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewMicroinvest(config.MicroinvestConfig{BaseURL: srv.URL}, slog.Default())

	err := m.UploadFiles(context.Background(), "777", []models.File{{Name: "contract.pdf"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestMicroinvestValidateOrderRequiresFiles(t *testing.T) {
	m := newTestMicroinvest(t)
	data := models.OrderData{OrderID: 42}

	err := m.ValidateOrder(data, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no passport photo")

	assert.NoError(t, m.ValidateOrder(data, []models.File{{Name: "passport.jpg"}}))
}
