package geocode

import (
	"context"
	"errors"
	"strings"

	"github.com/fire-routing/backend/internal/models"
)

var ErrNotFound = errors.New("geocode not found")

type Geocoder interface {
	Geocode(ctx context.Context, query string) (lat float64, lon float64, displayName string, confidence float64, err error)
}

// BuildTicketQuery assembles a structured geocoding query for a ticket:
// "Country, Region, City, Street Building". Street and building are combined
// into one part for better accuracy. Returns "" when the address is too
// sparse to geocode (country alone is not enough).
func BuildTicketQuery(t models.Ticket, countryDefault string) string {
	country := strings.TrimSpace(t.Country)
	if country == "" {
		country = countryDefault
	}

	streetPart := strings.TrimSpace(strings.TrimSpace(t.Street) + " " + strings.TrimSpace(t.Building))

	parts := []string{}
	for _, p := range []string{country, strings.TrimSpace(t.Region), strings.TrimSpace(t.City), streetPart} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return ""
	}
	return strings.Join(parts, ", ")
}

// Cities and regions used to infer that an address without a country is
// domestic. Lowercase, matched as substrings.
var domesticIdentifiers = []string{
	"алматы", "almaty", "астана", "astana", "нур-султан", "nur-sultan",
	"шымкент", "shymkent", "караганда", "karaganda",
	"актобе", "aktobe", "тараз", "taraz", "павлодар", "pavlodar",
	"усть-каменогорск", "oskemen", "семей", "semey",
	"атырау", "atyrau", "костанай", "kostanay", "кызылорда", "kyzylorda",
	"актау", "aktau", "уральск", "oral", "петропавловск", "petropavl",
	"туркестан", "turkestan", "кокшетау", "kokshetau",
	"талдыкорган", "taldykorgan", "жезказган", "zhezkazgan",
	"экибастуз", "ekibastuz", "темиртау", "temirtau",
	"акмолинская", "алматинская", "актюбинская", "атырауская",
	"жамбылская", "карагандинская", "костанайская", "кызылординская",
	"мангистауская", "mangystau", "павлодарская", "северо-казахстанская",
	"туркестанская", "восточно-казахстанская", "западно-казахстанская",
	"абайская", "улытауская", "жетысуская",
}

// IsDomestic reports whether the ticket address is inside the service
// country. When the country field is empty it is inferred from the city or
// region.
func IsDomestic(t models.Ticket, countryDefault string) bool {
	country := strings.ToLower(strings.TrimSpace(t.Country))
	if country != "" {
		return country == strings.ToLower(strings.TrimSpace(countryDefault)) || country == "kazakhstan"
	}

	city := strings.ToLower(strings.TrimSpace(t.City))
	region := strings.ToLower(strings.TrimSpace(t.Region))
	for _, id := range domesticIdentifiers {
		if (city != "" && strings.Contains(city, id)) || (region != "" && strings.Contains(region, id)) {
			return true
		}
	}
	return false
}
