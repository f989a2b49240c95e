package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fire-routing/backend/internal/models"
)

func fp(v float64) *float64 { return &v }

var testParams = Params{MaxServiceRadiusKm: 100, Workers: 1}

func twoOffices() []models.Office {
	return []models.Office{
		// ~3 km and ~30 km from the test ticket location.
		{ID: 1, Name: "Center", Lat: fp(51.13), Lon: fp(71.47)},
		{ID: 2, Name: "Suburb", Lat: fp(51.43), Lon: fp(71.47)},
	}
}

func ticketAt(lat, lon float64) models.Ticket {
	return models.Ticket{
		ID:        1,
		GUID:      "t-1",
		Segment:   models.SegmentMass,
		Lat:       fp(lat),
		Lon:       fp(lon),
		GeoStatus: models.GeoResolved,
	}
}

func analytics() models.TicketAnalytics {
	return models.TicketAnalytics{Type: models.TypeConsultation, Language: "RU", Priority: 5}
}

func TestBuildCandidatesPrefersNearestOffice(t *testing.T) {
	managers := []models.Manager{
		{ID: 1, OfficeID: 1, Active: true, Skills: []string{"RU"}},
		{ID: 2, OfficeID: 2, Active: true, Skills: []string{"RU"}},
	}

	elig := BuildCandidates(ticketAt(51.16, 71.47), analytics(), twoOffices(), managers, testParams)
	require.Equal(t, ReasonGeoMatch, elig.ReasonCode)
	require.False(t, elig.FallbackUsed)
	require.NotEmpty(t, elig.Candidates)
	require.Equal(t, int64(1), elig.Candidates[0].Office.ID)
	require.NotNil(t, elig.Candidates[0].DistanceKm)
	require.Less(t, *elig.Candidates[0].DistanceKm, 10.0)
}

func TestBuildCandidatesRadiusExhausted(t *testing.T) {
	offices := []models.Office{{ID: 1, Name: "Far", Lat: fp(43.22), Lon: fp(76.85)}}
	managers := []models.Manager{{ID: 1, OfficeID: 1, Active: true}}

	elig := BuildCandidates(ticketAt(51.16, 71.47), analytics(), offices, managers, testParams)
	require.Equal(t, ReasonFallbackOfficeExhausted, elig.ReasonCode)
	require.True(t, elig.FallbackUsed)
	require.Len(t, elig.Candidates, 1)
	require.Equal(t, "fallback|seg-general", elig.RotationKey)
}

func TestBuildCandidatesNoGeoFallsBack(t *testing.T) {
	ticket := models.Ticket{ID: 1, Segment: models.SegmentMass, GeoStatus: models.GeoFailed}
	managers := []models.Manager{
		{ID: 1, OfficeID: 1, Active: true},
		{ID: 2, OfficeID: 2, Active: true},
	}

	elig := BuildCandidates(ticket, analytics(), twoOffices(), managers, testParams)
	require.Equal(t, ReasonFallbackNoGeo, elig.ReasonCode)
	require.True(t, elig.FallbackUsed)
	require.Len(t, elig.Candidates, 2)
	for _, c := range elig.Candidates {
		require.Nil(t, c.DistanceKm)
	}
}

func TestBuildCandidatesVIPPool(t *testing.T) {
	ticket := models.Ticket{ID: 1, Segment: models.SegmentVIP, GeoStatus: models.GeoFailed}
	managers := []models.Manager{
		{ID: 1, OfficeID: 1, Active: true, Skills: []string{"RU"}},
		{ID: 2, OfficeID: 1, Active: true, Skills: []string{"VIP", "RU"}},
		{ID: 3, OfficeID: 2, Active: true, Skills: []string{"VIP"}},
	}

	elig := BuildCandidates(ticket, analytics(), twoOffices(), managers, testParams)
	require.Equal(t, ReasonSegmentPool, elig.ReasonCode)
	require.Len(t, elig.Candidates, 2)
	for _, c := range elig.Candidates {
		require.True(t, c.Manager.HasSkill("VIP"))
	}
	require.Equal(t, "fallback|seg-vip", elig.RotationKey)
}

func TestBuildCandidatesVIPPoolEmptyRelaxes(t *testing.T) {
	ticket := models.Ticket{ID: 1, Segment: models.SegmentVIP, GeoStatus: models.GeoFailed}
	managers := []models.Manager{
		{ID: 1, OfficeID: 1, Active: true, Skills: []string{"RU"}},
		{ID: 2, OfficeID: 2, Active: true, Skills: []string{"RU"}},
	}

	elig := BuildCandidates(ticket, analytics(), twoOffices(), managers, testParams)
	require.Equal(t, ReasonFallbackNoPool, elig.ReasonCode)
	require.True(t, elig.FallbackUsed)
	require.Len(t, elig.Candidates, 2)
}

func TestBuildCandidatesDataChangeNeedsChief(t *testing.T) {
	ticket := models.Ticket{ID: 1, Segment: models.SegmentMass, GeoStatus: models.GeoFailed}
	an := models.TicketAnalytics{Type: models.TypeDataChange, Language: "RU"}
	managers := []models.Manager{
		{ID: 1, OfficeID: 1, Active: true, Position: models.PositionSpecialist},
		{ID: 2, OfficeID: 1, Active: true, Position: models.PositionChiefSpecialist},
	}

	elig := BuildCandidates(ticket, an, twoOffices(), managers, testParams)
	require.Len(t, elig.Candidates, 1)
	require.Equal(t, int64(2), elig.Candidates[0].Manager.ID)
}

func TestBuildCandidatesLanguageSkill(t *testing.T) {
	ticket := models.Ticket{ID: 1, Segment: models.SegmentMass, GeoStatus: models.GeoFailed}
	an := models.TicketAnalytics{Type: models.TypeConsultation, Language: "KZ"}
	managers := []models.Manager{
		{ID: 1, OfficeID: 1, Active: true, Skills: []string{"RU"}},
		{ID: 2, OfficeID: 1, Active: true, Skills: []string{"RU", "KZ"}},
	}

	elig := BuildCandidates(ticket, an, twoOffices(), managers, testParams)
	require.Len(t, elig.Candidates, 1)
	require.Equal(t, int64(2), elig.Candidates[0].Manager.ID)
}

func TestBuildCandidatesVIPWidensBeyondGeo(t *testing.T) {
	// VIP skill exists only in the far office; the geo pool must widen
	// rather than drop the skill requirement.
	managers := []models.Manager{
		{ID: 1, OfficeID: 1, Active: true, Skills: []string{"RU"}},
		{ID: 2, OfficeID: 2, Active: true, Skills: []string{"VIP"}},
	}
	ticket := ticketAt(51.16, 71.47)
	ticket.Segment = models.SegmentVIP

	elig := BuildCandidates(ticket, analytics(), twoOffices(), managers, testParams)
	require.Equal(t, ReasonSegmentPool, elig.ReasonCode)
	require.Len(t, elig.Candidates, 1)
	require.Equal(t, int64(2), elig.Candidates[0].Manager.ID)
	require.Equal(t, "office-2|seg-vip", elig.RotationKey)
}

func TestBuildCandidatesNoGeoPoolKeyStableAcrossLoads(t *testing.T) {
	// A cross-office pool must keep one rotation key no matter which
	// candidate currently heads the load sort.
	ticket := models.Ticket{ID: 1, Segment: models.SegmentVIP, GeoStatus: models.GeoFailed}
	managers := []models.Manager{
		{ID: 1, OfficeID: 1, Active: true, Skills: []string{"VIP"}, CurrentLoad: 0},
		{ID: 2, OfficeID: 2, Active: true, Skills: []string{"VIP"}, CurrentLoad: 5},
	}

	first := BuildCandidates(ticket, analytics(), twoOffices(), managers, testParams)
	require.Equal(t, "fallback|seg-vip", first.RotationKey)
	require.Equal(t, int64(1), first.Candidates[0].Manager.ID)

	managers[0].CurrentLoad, managers[1].CurrentLoad = 5, 0
	second := BuildCandidates(ticket, analytics(), twoOffices(), managers, testParams)
	require.Equal(t, int64(2), second.Candidates[0].Manager.ID)
	require.Equal(t, first.RotationKey, second.RotationKey)
}

func TestBuildCandidatesInactiveExcluded(t *testing.T) {
	managers := []models.Manager{
		{ID: 1, OfficeID: 1, Active: false},
		{ID: 2, OfficeID: 1, Active: true},
	}

	elig := BuildCandidates(ticketAt(51.16, 71.47), analytics(), twoOffices(), managers, testParams)
	require.Len(t, elig.Candidates, 1)
	require.Equal(t, int64(2), elig.Candidates[0].Manager.ID)
}

func TestBuildCandidatesNoActiveManagers(t *testing.T) {
	elig := BuildCandidates(ticketAt(51.16, 71.47), analytics(), twoOffices(), nil, testParams)
	require.Empty(t, elig.Candidates)
}

func TestBuildCandidatesSortLoadThenID(t *testing.T) {
	ticket := models.Ticket{ID: 1, Segment: models.SegmentMass, GeoStatus: models.GeoFailed}
	managers := []models.Manager{
		{ID: 3, OfficeID: 1, Active: true, CurrentLoad: 2},
		{ID: 2, OfficeID: 1, Active: true, CurrentLoad: 0},
		{ID: 1, OfficeID: 1, Active: true, CurrentLoad: 0},
	}

	elig := BuildCandidates(ticket, analytics(), twoOffices(), managers, testParams)
	require.Len(t, elig.Candidates, 3)
	require.Equal(t, int64(1), elig.Candidates[0].Manager.ID)
	require.Equal(t, int64(2), elig.Candidates[1].Manager.ID)
	require.Equal(t, int64(3), elig.Candidates[2].Manager.ID)
}
