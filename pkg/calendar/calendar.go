// Package calendar builds the date dimension (dim_fecha).
//
// Names are Spanish and holidays follow the El Salvador calendar: fixed
// national holidays plus Holy Thursday, Good Friday and Holy Saturday.
package calendar

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ajitpratap0/orodw/pkg/frame"
)

// Table is the target name of the date dimension.
const Table = "dim_fecha"

// MonthNames are indexed by time.Month-1.
var MonthNames = [12]string{
	"Enero", "Febrero", "Marzo", "Abril", "Mayo", "Junio",
	"Julio", "Agosto", "Septiembre", "Octubre", "Noviembre", "Diciembre",
}

// DayNames start on Monday.
var DayNames = [7]string{"Lunes", "Martes", "Miércoles", "Jueves", "Viernes", "Sábado", "Domingo"}

type monthDay struct {
	month time.Month
	day   int
}

var fixedHolidays = map[monthDay]struct{}{
	{time.January, 1}:    {}, // Año Nuevo
	{time.May, 1}:        {}, // Día del Trabajo
	{time.May, 10}:       {}, // Día de la Madre
	{time.June, 17}:      {}, // Día del Padre
	{time.August, 6}:     {}, // Fiestas Agostinas
	{time.September, 15}: {}, // Independencia
	{time.November, 2}:   {}, // Día de los Difuntos
	{time.December, 25}:  {}, // Navidad
}

// Columns of dim_fecha in output order.
var Columns = []frame.Column{
	{Name: "id_fecha", Type: frame.TypeInt},
	{Name: "fecha", Type: frame.TypeDate},
	{Name: "anio", Type: frame.TypeInt},
	{Name: "mes", Type: frame.TypeInt},
	{Name: "nombre_mes", Type: frame.TypeString},
	{Name: "dia", Type: frame.TypeInt},
	{Name: "nombre_dia", Type: frame.TypeString},
	{Name: "dia_semana", Type: frame.TypeInt},
	{Name: "trimestre", Type: frame.TypeInt},
	{Name: "semana_anio", Type: frame.TypeInt},
	{Name: "anio_mes", Type: frame.TypeString},
	{Name: "es_fin_de_semana", Type: frame.TypeBool},
	{Name: "es_feriado", Type: frame.TypeBool},
}

// Easter returns Easter Sunday of year (anonymous Gregorian algorithm).
func Easter(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// IsHoliday reports whether d is a national holiday.
func IsHoliday(d time.Time) bool {
	if _, ok := fixedHolidays[monthDay{d.Month(), d.Day()}]; ok {
		return true
	}
	diff := int(Easter(d.Year()).Sub(dateOf(d)).Hours() / 24)
	return diff >= 1 && diff <= 3
}

// Weekday returns 1 for Monday through 7 for Sunday.
func Weekday(d time.Time) int {
	return (int(d.Weekday())+6)%7 + 1
}

// Row renders the dim_fecha attributes of d.
func Row(d time.Time) []any {
	d = dateOf(d)
	wd := Weekday(d)
	_, week := d.ISOWeek()
	return []any{
		int64(d.Year()*10000 + int(d.Month())*100 + d.Day()),
		d,
		int64(d.Year()),
		int64(d.Month()),
		MonthNames[d.Month()-1],
		int64(d.Day()),
		DayNames[wd-1],
		int64(wd),
		int64((int(d.Month())-1)/3 + 1),
		int64(week),
		d.Format("2006-01"),
		wd >= 6,
		IsHoliday(d),
	}
}

// Generate returns one row per day from from to to, inclusive.
func Generate(from, to time.Time) *frame.Frame {
	f := frame.New(Columns...)
	for d := dateOf(from); !d.After(dateOf(to)); d = d.AddDate(0, 0, 1) {
		f.Append(Row(d)...)
	}
	return f
}

// FromCSV builds the dimension from a CSV holding a "fecha" column
// (YYYY-MM-DD). Any other input columns are kept after the standard ones as
// text. Duplicate rows are removed and the result is sorted by date.
func FromCSV(r io.Reader) (*frame.Frame, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("calendar input is empty")
		}
		return nil, fmt.Errorf("failed to read calendar header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	dateIdx := -1
	standard := make(map[string]struct{}, len(Columns))
	for _, c := range Columns {
		standard[c.Name] = struct{}{}
	}
	var extras []int
	for i, h := range header {
		if h == "fecha" {
			dateIdx = i
			continue
		}
		if _, ok := standard[h]; !ok {
			extras = append(extras, i)
		}
	}
	if dateIdx < 0 {
		return nil, fmt.Errorf("calendar input must have a 'fecha' column (YYYY-MM-DD)")
	}

	cols := append([]frame.Column(nil), Columns...)
	for _, i := range extras {
		cols = append(cols, frame.Column{Name: header[i], Type: frame.TypeString})
	}
	f := frame.New(cols...)

	seen := make(map[string]struct{})
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if dateIdx >= len(rec) {
			return nil, fmt.Errorf("line %d: missing fecha", line)
		}
		d, err := time.Parse("2006-01-02", strings.TrimSpace(rec[dateIdx]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid fecha %q", line, rec[dateIdx])
		}
		row := Row(d)
		for _, i := range extras {
			if i < len(rec) {
				row = append(row, rec[i])
			} else {
				row = append(row, nil)
			}
		}
		key := fmt.Sprint(row...)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		f.Append(row...)
	}

	sort.SliceStable(f.Rows, func(i, j int) bool {
		return f.Rows[i][1].(time.Time).Before(f.Rows[j][1].(time.Time))
	})
	return f, nil
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
