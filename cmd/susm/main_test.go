package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"susm/internal/domain"
)

// templateBackend serves template t1 with fields f0..f(n-1) and records the
// labels of every PUT.
func templateBackend(t *testing.T, n int) (*httptest.Server, *[][]string) {
	t.Helper()
	stored := domain.ProtocolTemplate{ID: "t1", Name: "Handover"}
	for i := 0; i < n; i++ {
		stored.Fields = append(stored.Fields, domain.ProtocolField{Label: fmt.Sprintf("f%d", i), Type: domain.Text(), Order: i})
	}
	var puts [][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/protocols/templates/t1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(stored)
		case http.MethodPut:
			var p domain.TemplatePayload
			if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			var labels []string
			for _, f := range p.Fields {
				labels = append(labels, f.Label)
			}
			puts = append(puts, labels)
			_ = json.NewEncoder(w).Encode(domain.ProtocolTemplate{ID: "t1", Name: p.Name, Fields: p.Fields})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &puts
}

func runTemplateEdit(t *testing.T, backend string, args ...string) error {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("workspace", t.TempDir())
	viper.Set("backend", backend)
	viper.Set("token", "tok")
	viper.Set("log-level", "error")
	cmd := templateEditCmd()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func TestTemplateEditRemovesFieldsByOriginalPosition(t *testing.T) {
	cases := []struct {
		name   string
		args   []string
		labels []string
	}{
		{"descending flags", []string{"--remove-field", "3", "--remove-field", "1"}, []string{"f0", "f2", "f4"}},
		{"ascending flags", []string{"--remove-field", "1", "--remove-field", "3"}, []string{"f0", "f2", "f4"}},
		{"repeated position", []string{"--remove-field", "1", "--remove-field", "1"}, []string{"f0", "f2", "f3", "f4"}},
		{"remove and add", []string{"--remove-field", "0,4", "--add-field", "Meter:number:required"}, []string{"f1", "f2", "f3", "Meter"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, puts := templateBackend(t, 5)
			require.NoError(t, runTemplateEdit(t, srv.URL, append([]string{"t1"}, tc.args...)...))
			require.Len(t, *puts, 1)
			assert.Equal(t, tc.labels, (*puts)[0])
		})
	}
}

func TestTemplateEditRejectsMissingFieldBeforeSaving(t *testing.T) {
	srv, puts := templateBackend(t, 3)
	err := runTemplateEdit(t, srv.URL, "t1", "--remove-field", "1", "--remove-field", "7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--remove-field 7")
	assert.Empty(t, *puts)
}

func TestParseFieldDef(t *testing.T) {
	cases := []struct {
		def      string
		label    string
		ft       domain.FieldType
		required bool
	}{
		{"When:date", "When", domain.Date(), false},
		{"Meter:number:required", "Meter", domain.Number(), true},
		{"Meter:custom:Meter reading:required", "Meter", domain.Custom("Meter reading"), true},
		{"Clock:custom:hh:mm", "Clock", domain.Custom("hh:mm"), false},
		{"Extra:custom", "Extra", domain.Custom(""), false},
	}
	for _, tc := range cases {
		label, ft, required, err := parseFieldDef(tc.def)
		require.NoError(t, err, tc.def)
		assert.Equal(t, tc.label, label, tc.def)
		assert.Equal(t, tc.ft, ft, tc.def)
		assert.Equal(t, tc.required, required, tc.def)
	}

	for _, bad := range []string{"Meter", "Meter:gauge"} {
		_, _, _, err := parseFieldDef(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseData(t *testing.T) {
	data, err := parseData(nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	data, err = parseData([]string{"Meter=12.5", "keys=true", " inspector =Ana", "note=a=b", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"Meter":     12.5,
		"keys":      true,
		"inspector": "Ana",
		"note":      "a=b",
		"empty":     "",
	}, data)

	for _, bad := range []string{"novalue", "=x"} {
		_, err := parseData([]string{bad})
		assert.Error(t, err, bad)
	}
}
