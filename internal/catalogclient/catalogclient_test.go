package catalogclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPrintingJSON_ImageURL(t *testing.T) {
	tests := []struct {
		name string
		p    PrintingJSON
		want string
	}{
		{
			name: "normal image present",
			p:    PrintingJSON{ImageURIs: struct{ Normal string `json:"normal"` }{Normal: "https://example.com/normal.jpg"}},
			want: "https://example.com/normal.jpg",
		},
		{
			name: "falls back to first card face",
			p: PrintingJSON{
				CardFaces: []CardFace{
					{ImageURIs: CardFaceImageURIs{Normal: "https://example.com/face0.jpg"}},
					{ImageURIs: CardFaceImageURIs{Normal: "https://example.com/face1.jpg"}},
				},
			},
			want: "https://example.com/face0.jpg",
		},
		{
			name: "no image anywhere",
			p:    PrintingJSON{},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.p.ImageURL()
			if got != tt.want {
				t.Errorf("ImageURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintingJSON_ReleasedAtUTC(t *testing.T) {
	t.Run("parses a valid date", func(t *testing.T) {
		p := PrintingJSON{ReleasedAt: "2003-07-28"}
		got := p.ReleasedAtUTC()
		want := time.Date(2003, 7, 28, 0, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("ReleasedAtUTC() = %v, want %v", got, want)
		}
	})

	t.Run("falls back to epoch-min on parse failure", func(t *testing.T) {
		p := PrintingJSON{ReleasedAt: "not-a-date"}
		got := p.ReleasedAtUTC()
		want := time.Unix(0, 0).UTC()
		if !got.Equal(want) {
			t.Errorf("ReleasedAtUTC() = %v, want %v", got, want)
		}
	})

	t.Run("falls back to epoch-min on empty string", func(t *testing.T) {
		p := PrintingJSON{}
		got := p.ReleasedAtUTC()
		want := time.Unix(0, 0).UTC()
		if !got.Equal(want) {
			t.Errorf("ReleasedAtUTC() = %v, want %v", got, want)
		}
	})
}

func TestSearchPage_OKReturnsDataAndNextPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cards/search" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "e:m11" {
			t.Errorf("unexpected query: %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"oracle_id":"abc","name":"Llanowar Elves","set":"m11"}],"next_page":"https://example.com/next"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "cardid-test/1.0")
	data, next, err := c.SearchPage(context.Background(), "M11", "")
	if err != nil {
		t.Fatalf("SearchPage() error = %v", err)
	}
	if len(data) != 1 || data[0].Name != "Llanowar Elves" {
		t.Fatalf("unexpected data: %+v", data)
	}
	if next != "https://example.com/next" {
		t.Errorf("next = %q, want next_page url", next)
	}
}

func TestSearchPage_UsesPageURLVerbatimWhenGiven(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cards/search" || r.URL.RawQuery != "page=2" {
			t.Errorf("unexpected request: %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		w.Write([]byte(`{"data":[],"next_page":""}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "cardid-test/1.0")
	_, next, err := c.SearchPage(context.Background(), "m11", "/cards/search?page=2")
	if err != nil {
		t.Fatalf("SearchPage() error = %v", err)
	}
	if next != "" {
		t.Errorf("next = %q, want empty", next)
	}
}

func TestSearchPage_404MapsToErrSetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "cardid-test/1.0")
	_, _, err := c.SearchPage(context.Background(), "zzz", "")
	var notFound *ErrSetNotFound
	if err == nil {
		t.Fatal("expected an error")
	}
	if se, ok := err.(*ErrSetNotFound); !ok {
		t.Fatalf("error = %T, want *ErrSetNotFound", err)
	} else {
		notFound = se
	}
	if notFound.SetCode != "zzz" {
		t.Errorf("SetCode = %q, want %q", notFound.SetCode, "zzz")
	}
}

func TestSearchPage_400MapsToErrSetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, "cardid-test/1.0")
	_, _, err := c.SearchPage(context.Background(), "zzz", "")
	if _, ok := err.(*ErrSetNotFound); !ok {
		t.Fatalf("error = %T, want *ErrSetNotFound", err)
	}
}

func TestSearchPage_429MapsToErrRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "cardid-test/1.0")
	_, _, err := c.SearchPage(context.Background(), "m11", "")
	if _, ok := err.(*ErrRateLimited); !ok {
		t.Fatalf("error = %T, want *ErrRateLimited", err)
	}
}

func TestSearchPage_OtherStatusIsAGenericError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(srv.URL, "cardid-test/1.0")
	_, _, err := c.SearchPage(context.Background(), "m11", "")
	if err == nil {
		t.Fatal("expected an error")
	}
	if _, ok := err.(*ErrSetNotFound); ok {
		t.Error("500 should not map to ErrSetNotFound")
	}
	if _, ok := err.(*ErrRateLimited); ok {
		t.Error("500 should not map to ErrRateLimited")
	}
}

func TestListSets_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sets" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"code":"m11","set_type":"core"},{"code":"pm11","set_type":"promo"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "cardid-test/1.0")
	sets, err := c.ListSets(context.Background())
	if err != nil {
		t.Fatalf("ListSets() error = %v", err)
	}
	if len(sets) != 2 || sets[0].Code != "m11" || sets[1].SetType != "promo" {
		t.Fatalf("unexpected sets: %+v", sets)
	}
}

func TestListSets_429MapsToErrRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "cardid-test/1.0")
	_, err := c.ListSets(context.Background())
	if _, ok := err.(*ErrRateLimited); !ok {
		t.Fatalf("error = %T, want *ErrRateLimited", err)
	}
}

func TestFetchImage_OKReturnsBody(t *testing.T) {
	want := []byte{0xff, 0xd8, 0xff, 0x00}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(want)
	}))
	defer srv.Close()

	c := New(srv.URL, "cardid-test/1.0")
	got, err := c.FetchImage(context.Background(), srv.URL+"/image.jpg")
	if err != nil {
		t.Fatalf("FetchImage() error = %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("FetchImage() = %v, want %v", got, want)
	}
}

func TestFetchImage_NonOKIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "cardid-test/1.0")
	_, err := c.FetchImage(context.Background(), srv.URL+"/missing.jpg")
	if err == nil {
		t.Fatal("expected an error")
	}
}
