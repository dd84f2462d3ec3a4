package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/darpa-sail-on/docsearch/internal/searchindex"
	"github.com/darpa-sail-on/docsearch/internal/store"
)

func quickstartIndex() *searchindex.Index {
	return &searchindex.Index{
		DocNames:   []string{"intro"},
		EnvVersion: map[string]int{"sphinx": 56},
		FileNames:  []string{"intro.rst"},
		Objects:    map[string][]searchindex.ObjectEntry{},
		ObjNames:   map[int]searchindex.ObjName{},
		ObjTypes:   map[int]string{},
		Terms:      map[string]searchindex.DocSet{"quickstart": {0}},
		Titles:     []string{"Quickstart"},
		TitleTerms: map[string]searchindex.DocSet{"quickstart": {0}},
	}
}

func setup(t *testing.T) (*Handler, *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "html", "searchindex.js")
	catalog := store.NewCatalog(map[string]string{"docs": path})
	s, err := catalog.Get("docs")
	if err != nil {
		t.Fatal(err)
	}
	return New(catalog), s
}

func upload(h *Handler, project string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPut, "/api/v1/projects/"+project+"/searchindex.js", bytes.NewReader(body))
	req.SetPathValue("name", project)
	rec := httptest.NewRecorder()
	h.Upload(rec, req)
	return rec
}

func TestUploadSwapsIndex(t *testing.T) {
	h, s := setup(t)
	var buf bytes.Buffer
	if err := searchindex.Encode(&buf, quickstartIndex()); err != nil {
		t.Fatal(err)
	}

	rec := upload(h, "docs", buf.Bytes())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp UploadResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Changed || resp.Checksum == "" || resp.Stats.Documents != 1 {
		t.Errorf("response = %+v", resp)
	}
	if s.Current() == nil || s.Current().Titles[0] != "Quickstart" {
		t.Fatal("store did not pick up the upload")
	}
	if _, err := searchindex.Load(s.Path()); err != nil {
		t.Errorf("written file does not load: %v", err)
	}

	// Same build again, sent as plain JSON.
	buf.Reset()
	if err := searchindex.EncodeJSON(&buf, quickstartIndex(), false); err != nil {
		t.Fatal(err)
	}
	rec = upload(h, "docs", buf.Bytes())
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || resp.Changed {
		t.Errorf("re-upload: status %d changed %v", rec.Code, resp.Changed)
	}
}

func TestUploadRejects(t *testing.T) {
	h, s := setup(t)
	h.maxBytes = 1 << 10
	inconsistent := quickstartIndex()
	inconsistent.Terms["orphan"] = searchindex.DocSet{3}
	var bad bytes.Buffer
	if err := searchindex.EncodeJSON(&bad, inconsistent, false); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		project string
		body    []byte
		want    int
		errText string
	}{
		{"unknown project", "nope", []byte("{}"), http.StatusNotFound, "unknown project"},
		{"not an index", "docs", []byte("<html>"), http.StatusUnprocessableEntity, "malformed"},
		{"dangling reference", "docs", bad.Bytes(), http.StatusUnprocessableEntity, "out of range"},
		{"too large", "docs", []byte("{" + strings.Repeat(" ", 2<<10) + "}"), http.StatusRequestEntityTooLarge, "exceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := upload(h, tt.project, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.errText) {
				t.Errorf("body %q lacks %q", rec.Body.String(), tt.errText)
			}
		})
	}
	if s.Current() != nil {
		t.Error("rejected uploads must not load anything")
	}
	if changed, _ := s.Reload(context.Background()); changed {
		t.Error("rejected uploads must not write the index file")
	}
}
