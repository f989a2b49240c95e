package geocode

import (
	"testing"

	"github.com/fire-routing/backend/internal/models"
)

func TestBuildTicketQuery(t *testing.T) {
	ticket := models.Ticket{
		Region:   "Акмолинская область",
		City:     "Астана",
		Street:   "ул. Абая",
		Building: "10",
	}
	q := BuildTicketQuery(ticket, "Казахстан")
	if q != "Казахстан, Акмолинская область, Астана, ул. Абая 10" {
		t.Fatalf("unexpected query: %s", q)
	}
}

func TestBuildTicketQueryTooSparse(t *testing.T) {
	q := BuildTicketQuery(models.Ticket{}, "Казахстан")
	if q != "" {
		t.Fatalf("expected empty query for country-only address, got %s", q)
	}
}

func TestBuildTicketQueryExplicitCountry(t *testing.T) {
	ticket := models.Ticket{Country: "Kazakhstan", City: "Almaty"}
	q := BuildTicketQuery(ticket, "Казахстан")
	if q != "Kazakhstan, Almaty" {
		t.Fatalf("unexpected query: %s", q)
	}
}

func TestIsDomestic(t *testing.T) {
	cases := []struct {
		ticket models.Ticket
		want   bool
	}{
		{models.Ticket{Country: "Казахстан"}, true},
		{models.Ticket{Country: "kazakhstan"}, true},
		{models.Ticket{Country: "Россия"}, false},
		{models.Ticket{City: "Алматы"}, true},
		{models.Ticket{City: "almaty"}, true},
		{models.Ticket{Region: "Туркестанская область"}, true},
		{models.Ticket{City: "Москва"}, false},
		{models.Ticket{}, false},
	}
	for _, tc := range cases {
		if got := IsDomestic(tc.ticket, "Казахстан"); got != tc.want {
			t.Fatalf("IsDomestic(%+v) = %v, want %v", tc.ticket, got, tc.want)
		}
	}
}
