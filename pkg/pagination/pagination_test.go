package pagination

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestFromContext(t *testing.T) {
	tests := []struct {
		query  string
		limit  int
		offset int
	}{
		{"", DefaultLimit, 0},
		{"limit=50&offset=10", 50, 10},
		{"limit=abc&offset=xyz", DefaultLimit, 0},
		{"limit=500", MaxLimit, 0},
		{"limit=-3&offset=-7", DefaultLimit, 0},
		{"limit=0", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			p := FromContext(echo.New().NewContext(req, httptest.NewRecorder()))
			if p.Limit != tt.limit || p.Offset != tt.offset {
				t.Errorf("expected limit=%d offset=%d, got %+v", tt.limit, tt.offset, p)
			}
		})
	}
}

func TestParams_NextPrevious(t *testing.T) {
	p := Params{Limit: 10, Offset: 15}

	next, ok := p.Next(30)
	if !ok || next.Offset != 25 {
		t.Errorf("expected next page at 25, got %+v ok=%v", next, ok)
	}
	if _, ok := p.Next(25); ok {
		t.Error("expected no next page when the current page reaches the total")
	}

	prev, ok := p.Previous()
	if !ok || prev.Offset != 5 {
		t.Errorf("expected previous page at 5, got %+v ok=%v", prev, ok)
	}
	prev, _ = Params{Limit: 10, Offset: 4}.Previous()
	if prev.Offset != 0 {
		t.Errorf("expected previous offset clamped to 0, got %d", prev.Offset)
	}
	if _, ok := (Params{Limit: 10}).Previous(); ok {
		t.Error("expected no previous page at offset 0")
	}
}

func TestParams_URLKeepsQuery(t *testing.T) {
	u, _ := url.Parse("/api/v1/admin/drafts?formId=f1&offset=99")
	got := Params{Limit: 5, Offset: 10}.URL(u)
	if got != "/api/v1/admin/drafts?formId=f1&limit=5&offset=10" {
		t.Errorf("unexpected url %q", got)
	}
}

func TestResponse(t *testing.T) {
	u, _ := url.Parse("/drafts")
	tests := []struct {
		name     string
		params   Params
		total    int
		hasMore  bool
		wantKeys []string
	}{
		{"single page", Params{Limit: 20}, 3, false, []string{"self"}},
		{"first of many", Params{Limit: 10}, 25, true, []string{"self", "next"}},
		{"middle", Params{Limit: 10, Offset: 10}, 25, true, []string{"self", "next", "previous"}},
		{"last", Params{Limit: 10, Offset: 20}, 25, false, []string{"self", "previous"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResponse([]string{"a"}, tt.total, tt.params).WithLinks(u)
			if r.HasMore != tt.hasMore {
				t.Errorf("expected has_more=%v", tt.hasMore)
			}
			if len(r.Links) != len(tt.wantKeys) {
				t.Errorf("expected links %v, got %v", tt.wantKeys, r.Links)
			}
			for _, k := range tt.wantKeys {
				if r.Links[k] == "" {
					t.Errorf("missing %s link", k)
				}
			}
		})
	}
}

func TestResponse_EmptyDataEncodesAsArray(t *testing.T) {
	var items []int
	b, err := json.Marshal(NewResponse(items, 0, Params{Limit: 20}))
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if string(out["data"]) != "[]" {
		t.Errorf("expected empty array, got %s", out["data"])
	}
	if _, ok := out["links"]; ok {
		t.Error("expected links omitted when not requested")
	}
}
