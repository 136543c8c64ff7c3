package api

import (
	"net/http"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/telemetry.report/internal/db"
	"github.com/banshee-data/telemetry.report/internal/httputil"
	"github.com/banshee-data/telemetry.report/internal/monitoring"
	"github.com/banshee-data/telemetry.report/internal/packet"
	"github.com/banshee-data/telemetry.report/internal/units"
)

// Summary describes a numeric series. Zero-valued when Count is 0.
type Summary struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Last   float64 `json:"last"`
}

// Summarise computes a Summary of xs.
func Summarise(xs []float64) Summary {
	if len(xs) == 0 {
		return Summary{}
	}
	mean, std := stat.MeanStdDev(xs, nil)
	if len(xs) == 1 {
		std = 0
	}
	return Summary{
		Count:  len(xs),
		Min:    floats.Min(xs),
		Max:    floats.Max(xs),
		Mean:   mean,
		StdDev: std,
		Last:   xs[len(xs)-1],
	}
}

// StatsResponse is the body of /api/stats.
type StatsResponse struct {
	Serial      *uint16        `json:"serial,omitempty"`
	Types       []db.TypeCount `json:"types"`
	Total       int64          `json:"total"`
	CRCPassRate float64        `json:"crc_pass_rate"`
	Battery     Summary        `json:"battery_voltage"`
	Pyro        Summary        `json:"pyro_voltage"`
	MaxHeight   float64        `json:"max_height"`
	MaxSpeed    float64        `json:"max_speed"`
	HeightUnits string         `json:"height_units"`
	SpeedUnits  string         `json:"speed_units"`
}

// seriesSource names a stored field that feeds a statistic.
type seriesSource struct {
	typ   packet.Type
	field string
}

var (
	heightSources = []seriesSource{{packet.TypeSensor, "height"}, {packet.TypeKalman, "height"}}
	speedSources  = []seriesSource{{packet.TypeSensor, "speed"}, {packet.TypeKalman, "speed"}}
)

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.cfg.Store == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "packet store not configured")
		return
	}

	speedUnits := s.cfg.SpeedUnits
	if v := r.URL.Query().Get("units"); v != "" {
		if !units.IsValidSpeed(v) {
			httputil.BadRequest(w, "invalid 'units' parameter; must be one of "+units.GetValidSpeedUnitsString())
			return
		}
		speedUnits = v
	}
	heightUnits := s.cfg.HeightUnits
	if v := r.URL.Query().Get("height_units"); v != "" {
		if !units.IsValidHeight(v) {
			httputil.BadRequest(w, "invalid 'height_units' parameter")
			return
		}
		heightUnits = v
	}
	serial, ok := parseSerial(w, r)
	if !ok {
		return
	}

	resp, err := s.buildStats(serial, speedUnits, heightUnits)
	if err != nil {
		monitoring.Logf("failed to compute stats: %v", err)
		httputil.InternalServerError(w, "failed to compute stats")
		return
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) buildStats(serial *uint16, speedUnits, heightUnits string) (StatsResponse, error) {
	resp := StatsResponse{Serial: serial, SpeedUnits: speedUnits, HeightUnits: heightUnits}

	counts, err := s.cfg.Store.TypeCounts(serial)
	if err != nil {
		return resp, err
	}
	resp.Types = counts
	var ok int64
	for _, c := range counts {
		resp.Total += c.Total
		ok += c.CRCOK
	}
	if resp.Total > 0 {
		resp.CRCPassRate = float64(ok) / float64(resp.Total)
	}

	batt, err := s.cfg.Store.SeriesFor(packet.TypeKalman, "v_batt", serial, 0)
	if err != nil {
		return resp, err
	}
	resp.Battery = Summarise(batt)

	pyro, err := s.cfg.Store.SeriesFor(packet.TypeKalman, "v_pyro", serial, 0)
	if err != nil {
		return resp, err
	}
	resp.Pyro = Summarise(pyro)

	maxHeight, err := s.maxOf(heightSources, serial)
	if err != nil {
		return resp, err
	}
	resp.MaxHeight = units.ConvertHeight(maxHeight, heightUnits)

	maxSpeed, err := s.maxOf(speedSources, serial)
	if err != nil {
		return resp, err
	}
	resp.MaxSpeed = units.ConvertSpeed(maxSpeed, speedUnits)

	return resp, nil
}

// maxOf returns the largest value across the sources, or 0 when none have data.
func (s *Server) maxOf(sources []seriesSource, serial *uint16) (float64, error) {
	var all []float64
	for _, src := range sources {
		xs, err := s.cfg.Store.SeriesFor(src.typ, src.field, serial, 0)
		if err != nil {
			return 0, err
		}
		all = append(all, xs...)
	}
	if len(all) == 0 {
		return 0, nil
	}
	return floats.Max(all), nil
}
