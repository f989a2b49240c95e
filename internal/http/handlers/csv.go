package handlers

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/fire-routing/backend/internal/models"
)

type importFiles struct {
	offices  []byte
	managers []byte
	tickets  []byte
}

// collectImportFiles accepts either a single "archive" ZIP containing
// offices.csv, managers.csv and tickets.csv, or the three CSVs as separate
// form fields.
func collectImportFiles(c *gin.Context) (importFiles, error) {
	var files importFiles

	if archive, err := c.FormFile("archive"); err == nil {
		data, err := readFormFile(archive)
		if err != nil {
			return files, err
		}
		return extractArchive(data)
	}

	for _, f := range []struct {
		field string
		dst   *[]byte
	}{
		{"offices", &files.offices},
		{"managers", &files.managers},
		{"tickets", &files.tickets},
	} {
		fh, err := c.FormFile(f.field)
		if err != nil {
			return files, fmt.Errorf("%s file required (or upload a single archive)", f.field)
		}
		if strings.ToLower(filepath.Ext(fh.Filename)) != ".csv" {
			return files, fmt.Errorf("%s must be a .csv file", f.field)
		}
		data, err := readFormFile(fh)
		if err != nil {
			return files, err
		}
		*f.dst = data
	}
	return files, nil
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func extractArchive(data []byte) (importFiles, error) {
	var files importFiles

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return files, errors.Wrap(err, "open archive")
	}
	for _, zf := range zr.File {
		name := strings.ToLower(filepath.Base(zf.Name))
		var dst *[]byte
		switch {
		case strings.HasPrefix(name, "office"):
			dst = &files.offices
		case strings.HasPrefix(name, "manager"):
			dst = &files.managers
		case strings.HasPrefix(name, "ticket"):
			dst = &files.tickets
		default:
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return files, err
		}
		*dst, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return files, err
		}
	}
	if files.offices == nil || files.managers == nil || files.tickets == nil {
		return files, errors.New("archive must contain offices.csv, managers.csv and tickets.csv")
	}
	return files, nil
}

// readRecords parses a delimited file with the delimiter sniffed from the
// header line, since exports arrive with commas, semicolons or tabs.
func readRecords(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\uFEFF"))

	header := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		header = data[:i]
	}
	delim := ','
	best := bytes.Count(header, []byte(","))
	if n := bytes.Count(header, []byte(";")); n > best {
		delim, best = ';', n
	}
	if n := bytes.Count(header, []byte("\t")); n > best {
		delim = '\t'
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delim
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	return reader.ReadAll()
}

func headerIndex(headers []string) map[string]int {
	idx := map[string]int{}
	for i, h := range headers {
		idx[normalizeHeader(h)] = i
	}
	return idx
}

func normalizeHeader(h string) string {
	h = strings.ReplaceAll(h, "\uFEFF", "")
	return strings.ToLower(strings.TrimSpace(h))
}

func getField(rec []string, idx map[string]int, name string) string {
	pos, ok := idx[name]
	if !ok || pos >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[pos])
}

func getFieldAny(rec []string, idx map[string]int, names ...string) string {
	for _, name := range names {
		if v := getField(rec, idx, normalizeHeader(name)); v != "" {
			return v
		}
	}
	return ""
}

func parseOfficesCSV(data []byte) ([]models.Office, []string) {
	records, err := readRecords(data)
	if err != nil {
		return nil, []string{"offices: " + err.Error()}
	}
	if len(records) == 0 {
		return nil, []string{"offices: empty file"}
	}
	idx := headerIndex(records[0])

	var errs []string
	var out []models.Office
	for n, rec := range records[1:] {
		name := getFieldAny(rec, idx, "name", "office", "office_name", "офис", "название")
		address := getFieldAny(rec, idx, "address", "адрес")
		latStr := getFieldAny(rec, idx, "lat", "latitude", "широта")
		lonStr := getFieldAny(rec, idx, "lon", "lng", "longitude", "долгота")

		if name == "" {
			errs = append(errs, fmt.Sprintf("offices row %d: name required", n+2))
			continue
		}

		o := models.Office{Name: name, Address: address}
		if lat, err := strconv.ParseFloat(latStr, 64); err == nil {
			if lon, err := strconv.ParseFloat(lonStr, 64); err == nil {
				o.Lat, o.Lon = &lat, &lon
			}
		}
		out = append(out, o)
	}
	return out, errs
}

func parseManagersCSV(data []byte, officeIDs map[string]int64) ([]models.Manager, []string) {
	records, err := readRecords(data)
	if err != nil {
		return nil, []string{"managers: " + err.Error()}
	}
	if len(records) == 0 {
		return nil, []string{"managers: empty file"}
	}
	idx := headerIndex(records[0])

	var errs []string
	var out []models.Manager
	for n, rec := range records[1:] {
		name := getFieldAny(rec, idx, "name", "фио", "manager", "manager_name")
		position := getFieldAny(rec, idx, "position", "role", "должность")
		office := getFieldAny(rec, idx, "office", "office_name", "офис")
		skillsRaw := getFieldAny(rec, idx, "skills", "навыки")
		activeStr := getFieldAny(rec, idx, "active", "активен", "works", "работает")
		loadStr := getFieldAny(rec, idx, "current_load", "load", "нагрузка", "количество обращений в работе")

		if name == "" {
			errs = append(errs, fmt.Sprintf("managers row %d: name required", n+2))
			continue
		}
		officeID, ok := officeIDs[normalizeKey(office)]
		if !ok {
			errs = append(errs, fmt.Sprintf("managers row %d: unknown office %q", n+2, office))
			continue
		}

		load, _ := strconv.Atoi(loadStr)
		out = append(out, models.Manager{
			Name:        name,
			Position:    normalizePosition(position),
			OfficeID:    officeID,
			Skills:      normalizeSkills(skillsRaw),
			Active:      parseActive(activeStr),
			CurrentLoad: load,
		})
	}
	return out, errs
}

func parseTicketsCSV(data []byte) ([]models.Ticket, []string) {
	records, err := readRecords(data)
	if err != nil {
		return nil, []string{"tickets: " + err.Error()}
	}
	if len(records) == 0 {
		return nil, []string{"tickets: empty file"}
	}
	idx := headerIndex(records[0])

	var errs []string
	var out []models.Ticket
	for _, rec := range records[1:] {
		guid := getFieldAny(rec, idx, "guid", "guid клиента", "client_guid", "id")
		if guid == "" {
			guid = uuid.NewString()
		}
		segment := getFieldAny(rec, idx, "segment", "сегмент", "segment клиента", "сегмент клиента")
		description := getFieldAny(rec, idx, "description", "message", "описание", "текст")
		country := getFieldAny(rec, idx, "country", "страна")
		region := getFieldAny(rec, idx, "region", "область", "регион")
		city := getFieldAny(rec, idx, "city", "город", "населённый пункт")
		street := getFieldAny(rec, idx, "street", "address", "улица", "адрес")
		building := getFieldAny(rec, idx, "building", "house", "дом")
		latStr := getFieldAny(rec, idx, "lat", "latitude", "широта")
		lonStr := getFieldAny(rec, idx, "lon", "lng", "longitude", "долгота")

		t := models.Ticket{
			GUID:        guid,
			Segment:     normalizeSegment(segment),
			Description: description,
			Country:     country,
			Region:      region,
			City:        city,
			Street:      street,
			Building:    building,
			GeoStatus:   models.GeoPending,
		}
		if lat, err := strconv.ParseFloat(latStr, 64); err == nil {
			if lon, err := strconv.ParseFloat(lonStr, 64); err == nil {
				t.Lat, t.Lon = &lat, &lon
				t.GeoStatus = models.GeoResolved
			}
		}
		out = append(out, t)
	}
	return out, errs
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func normalizeSegment(value string) models.Segment {
	v := strings.ToLower(strings.TrimSpace(value))
	switch {
	case strings.Contains(v, "vip"), strings.Contains(v, "преми"):
		return models.SegmentVIP
	case strings.Contains(v, "priority"), strings.Contains(v, "приоритет"):
		return models.SegmentPriority
	default:
		return models.SegmentMass
	}
}

func normalizePosition(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	switch {
	case strings.Contains(v, "глав"):
		return models.PositionChiefSpecialist
	case strings.Contains(v, "ведущ"):
		return models.PositionSeniorSpec
	default:
		return models.PositionSpecialist
	}
}

func normalizeSkills(raw string) []string {
	raw = strings.ReplaceAll(raw, ";", ",")
	parts := strings.Split(raw, ",")
	seen := map[string]struct{}{}
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		upper := strings.ToUpper(p)
		switch upper {
		case "RU", "RUS", "RUSSIAN":
			upper = "RU"
		case "KZ", "KAZ", "KAZAKH":
			upper = "KZ"
		case "EN", "ENG", "ENGLISH":
			upper = "ENG"
		}
		if _, ok := seen[upper]; ok {
			continue
		}
		seen[upper] = struct{}{}
		out = append(out, upper)
	}
	return out
}

func parseActive(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return true
	}
	switch v {
	case "0", "false", "no", "нет", "inactive":
		return false
	}
	return true
}
