package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestParseNominatimItems(t *testing.T) {
	items := []nominatimItem{
		{
			Lat:         "51.1605",
			Lon:         "71.4704",
			DisplayName: "Astana, Kazakhstan",
			Importance:  0.72,
		},
	}
	res, err := parseNominatimItems(items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Lat != 51.1605 || res.Lon != 71.4704 {
		t.Fatalf("unexpected coordinates: %+v", res)
	}
	if res.Confidence != 0.72 {
		t.Fatalf("unexpected confidence: %f", res.Confidence)
	}
}

func TestParseNominatimItemsEmpty(t *testing.T) {
	if _, err := parseNominatimItems(nil); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGeocodeCachesQueries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"lat":"51.1","lon":"71.4","display_name":"Astana","importance":0.8}]`))
	}))
	defer srv.Close()

	g := &NominatimGeocoder{BaseURL: srv.URL, MinInterval: 1}
	for i := 0; i < 3; i++ {
		lat, lon, _, _, err := g.Geocode(context.Background(), "Астана")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if lat != 51.1 || lon != 71.4 {
			t.Fatalf("unexpected coordinates: %f, %f", lat, lon)
		}
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected 1 upstream call, got %d", calls)
	}
}

func TestGeocodeNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	g := &NominatimGeocoder{BaseURL: srv.URL, MinInterval: 1}
	if _, _, _, _, err := g.Geocode(context.Background(), "nowhere"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
