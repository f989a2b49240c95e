package models

import "time"

type Segment string

const (
	SegmentMass     Segment = "Mass"
	SegmentVIP      Segment = "VIP"
	SegmentPriority Segment = "Priority"
)

type GeoStatus string

const (
	GeoPending    GeoStatus = "pending"
	GeoResolved   GeoStatus = "resolved"
	GeoPartial    GeoStatus = "partial"
	GeoFailed     GeoStatus = "failed"
	GeoUnresolved GeoStatus = "unresolved"
)

// HasCoordinates reports whether the status implies usable coordinates.
func (s GeoStatus) HasCoordinates() bool {
	return s == GeoResolved || s == GeoPartial
}

const (
	PositionSpecialist      = "Специалист"
	PositionSeniorSpec      = "Ведущий специалист"
	PositionChiefSpecialist = "Главный специалист"
)

const (
	TypeComplaint      = "Жалоба"
	TypeDataChange     = "Смена данных"
	TypeConsultation   = "Консультация"
	TypeClaim          = "Претензия"
	TypeAppMalfunction = "Неработоспособность приложения"
	TypeFraud          = "Мошеннические действия"
	TypeSpam           = "Спам"
)

const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

type Office struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Address string   `json:"address"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
}

// HasLocation reports whether the office can participate in distance matching.
func (o Office) HasLocation() bool {
	return o.Lat != nil && o.Lon != nil
}

type Manager struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Position    string    `json:"position"`
	OfficeID    int64     `json:"office_id"`
	Skills      []string  `json:"skills"`
	Active      bool      `json:"active"`
	CurrentLoad int       `json:"current_load"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (m Manager) HasSkill(skill string) bool {
	for _, s := range m.Skills {
		if s == skill {
			return true
		}
	}
	return false
}

func (m Manager) IsChiefSpecialist() bool {
	return m.Position == PositionChiefSpecialist
}

type Ticket struct {
	ID          int64     `json:"id"`
	GUID        string    `json:"guid"`
	Segment     Segment   `json:"segment"`
	Description string    `json:"description"`
	Country     string    `json:"country"`
	Region      string    `json:"region"`
	City        string    `json:"city"`
	Street      string    `json:"street"`
	Building    string    `json:"building"`
	Lat         *float64  `json:"lat"`
	Lon         *float64  `json:"lon"`
	GeoStatus   GeoStatus `json:"geo_status"`
	CreatedAt   time.Time `json:"created_at"`
}

func (t Ticket) HasCoordinates() bool {
	return t.Lat != nil && t.Lon != nil && t.GeoStatus.HasCoordinates()
}

func (t Ticket) RequiresVIPHandling() bool {
	return t.Segment == SegmentVIP || t.Segment == SegmentPriority
}

type TicketAnalytics struct {
	ID           int64     `json:"id"`
	TicketID     int64     `json:"ticket_id"`
	Type         string    `json:"type"`
	Sentiment    string    `json:"sentiment"`
	Priority     int       `json:"priority"`
	Language     string    `json:"language"`
	Summary      string    `json:"summary"`
	ModelVersion string    `json:"model_version"`
	CreatedAt    time.Time `json:"created_at"`
}

type Assignment struct {
	ID           int64     `json:"id"`
	TicketID     int64     `json:"ticket_id"`
	ManagerID    int64     `json:"manager_id"`
	OfficeID     int64     `json:"office_id"`
	DistanceKm   *float64  `json:"distance_km"`
	ReasonCode   string    `json:"reason_code"`
	Reason       string    `json:"reason"`
	FallbackUsed bool      `json:"fallback_used"`
	RuleTrace    []byte    `json:"rule_trace,omitempty"`
	AssignedAt   time.Time `json:"assigned_at"`
}

type RoundRobinState struct {
	Key           string    `json:"key"`
	Cursor        int64     `json:"cursor"`
	LastManagerID *int64    `json:"last_manager_id"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Run struct {
	ID         int64      `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Status     string     `json:"status"`
	Summary    []byte     `json:"summary"`
}
