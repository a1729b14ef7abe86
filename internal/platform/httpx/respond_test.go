package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProblemCarriesTypeURI(t *testing.T) {
	rec := httptest.NewRecorder()
	Problem(rec, http.StatusUnprocessableEntity, "Insufficient Stock", "available 4, requested 10")

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var pd ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pd))
	require.Equal(t, problemTypeBase+"insufficient-stock", pd.Type)
	require.Equal(t, "Insufficient Stock", pd.Title)
	require.Equal(t, http.StatusUnprocessableEntity, pd.Status)
}
