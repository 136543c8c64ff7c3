package packet

import (
	"encoding/json"
	"time"
)

// Type is the frame discriminant found at byte 4.
type Type uint8

// Known telemetry packet types.
const (
	TypeSensor    Type = 1
	TypeConfig    Type = 4
	TypeGPS       Type = 5
	TypeSatellite Type = 6
	TypeKalman    Type = 9
)

// Record kind names, used in JSON output and storage.
const (
	KindSensor    = "sensor"
	KindConfig    = "config"
	KindGPS       = "gps"
	KindSatellite = "satellite"
	KindKalman    = "kalman"
	KindUnknown   = "unknown"
)

// Kind returns the record kind name for t.
func (t Type) Kind() string {
	switch t {
	case TypeSensor:
		return KindSensor
	case TypeConfig:
		return KindConfig
	case TypeGPS:
		return KindGPS
	case TypeSatellite:
		return KindSatellite
	case TypeKalman:
		return KindKalman
	default:
		return KindUnknown
	}
}

// Known reports whether t has a defined layout.
func (t Type) Known() bool {
	return t.Kind() != KindUnknown
}

// Record is a decoded frame. The concrete type is one of SensorRecord,
// ConfigRecord, GPSRecord, SatelliteRecord, KalmanRecord or UnknownRecord.
type Record interface {
	// PacketType returns the discriminant the record was decoded from.
	PacketType() Type
	// CRCMatch returns the upstream CRC result of the source frame.
	CRCMatch() bool
	isRecord()
}

// Header holds the fields common to every known packet type.
type Header struct {
	Serial uint16 `json:"serial"`
	// Tick is the onboard clock in seconds.
	Tick float64 `json:"tick"`
	Type Type    `json:"type"`
	CRC  bool    `json:"crc"`
}

func (h Header) PacketType() Type { return h.Type }
func (h Header) CRCMatch() bool   { return h.CRC }

// HeaderOf returns the common header of r. Unknown records have none.
func HeaderOf(r Record) (Header, bool) {
	switch rec := r.(type) {
	case SensorRecord:
		return rec.Header, true
	case ConfigRecord:
		return rec.Header, true
	case GPSRecord:
		return rec.Header, true
	case SatelliteRecord:
		return rec.Header, true
	case KalmanRecord:
		return rec.Header, true
	default:
		return Header{}, false
	}
}

// SensorRecord is the TeleMetrum v1 raw sensor packet.
type SensorRecord struct {
	Header
	State        uint8   `json:"state"`
	Accel        int16   `json:"accel"`
	Pres         int16   `json:"pres"`
	Temp         float64 `json:"temp"`
	VBatt        int16   `json:"v_batt"`
	SenseD       int16   `json:"sense_d"`
	SenseM       int16   `json:"sense_m"`
	Acceleration float64 `json:"acceleration"`
	Speed        float64 `json:"speed"`
	Height       int16   `json:"height"`
	GroundPress  int16   `json:"ground_press"`
	GroundAccel  int16   `json:"ground_accel"`
	AccelPlusG   int16   `json:"accel_plus_g"`
	AccelMinusG  int16   `json:"accel_minus_g"`
}

// ConfigRecord describes the flight computer configuration.
type ConfigRecord struct {
	Header
	Flight       uint16 `json:"flight"`
	ConfigMajor  uint8  `json:"config_major"`
	ConfigMinor  uint8  `json:"config_minor"`
	ApogeeDelay  uint16 `json:"apogee_delay"`
	MainDeploy   uint16 `json:"main_deploy"`
	FlightLogMax uint16 `json:"flight_log_max"`
	Callsign     string `json:"callsign"`
	Version      string `json:"version"`
}

// GPSRecord is a GPS position fix.
type GPSRecord struct {
	Header
	NSats       uint8   `json:"nsats"`
	Valid       bool    `json:"valid"`
	Running     bool    `json:"running"`
	DateValid   bool    `json:"date_valid"`
	CourseValid bool    `json:"course_valid"`
	Altitude    int16   `json:"altitude"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Year        uint16  `json:"year"`
	Month       uint8   `json:"month"`
	Day         uint8   `json:"day"`
	Hour        uint8   `json:"hour"`
	Minute      uint8   `json:"minute"`
	Second      uint8   `json:"second"`
	PDOP        float64 `json:"pdop"`
	HDOP        float64 `json:"hdop"`
	VDOP        float64 `json:"vdop"`
	Mode        uint8   `json:"mode"`
	GroundSpeed float64 `json:"ground_speed"`
	ClimbRate   float64 `json:"climb_rate"`
	Course      uint16  `json:"course"`
}

// Time returns the UTC time of the fix. ok is false unless the receiver
// flagged the date as valid.
func (r GPSRecord) Time() (t time.Time, ok bool) {
	if !r.DateValid {
		return time.Time{}, false
	}
	return time.Date(int(r.Year), time.Month(r.Month), int(r.Day),
		int(r.Hour), int(r.Minute), int(r.Second), 0, time.UTC), true
}

// SatelliteRecord lists the satellites tracked by the GPS receiver.
type SatelliteRecord struct {
	Header
	Channels uint8     `json:"channels"`
	Sats     [24]uint8 `json:"sats"`
}

// SatInfo is one tracked satellite.
type SatInfo struct {
	SVID uint8 `json:"svid"`
	CN0  uint8 `json:"c_n0"`
}

// maxSatellites is the number of svid/c_n0 pairs that fit in Sats.
const maxSatellites = 12

// Satellites interprets Sats as svid/c_n0 pairs, limited to Channels.
func (r SatelliteRecord) Satellites() []SatInfo {
	n := int(r.Channels)
	if n > maxSatellites {
		n = maxSatellites
	}
	out := make([]SatInfo, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, SatInfo{SVID: r.Sats[2*i], CN0: r.Sats[2*i+1]})
	}
	return out
}

// KalmanRecord carries filtered flight state plus battery, pyro and igniter
// voltages.
type KalmanRecord struct {
	Header
	State        uint8      `json:"state"`
	VBatt        float64    `json:"v_batt"`
	VPyro        float64    `json:"v_pyro"`
	Sense        [4]float64 `json:"sense"`
	VApogee      float64    `json:"v_apogee"`
	VMain        float64    `json:"v_main"`
	GroundPres   int32      `json:"ground_pres"`
	GroundAccel  int16      `json:"ground_accel"`
	AccelPlusG   int16      `json:"accel_plus_g"`
	AccelMinusG  int16      `json:"accel_minus_g"`
	Acceleration float64    `json:"acceleration"`
	Speed        float64    `json:"speed"`
	Height       int16      `json:"height"`
}

// UnknownRecord is produced for discriminants without a defined layout.
type UnknownRecord struct {
	Type Type `json:"type"`
	CRC  bool `json:"crc"`
}

func (r UnknownRecord) PacketType() Type { return r.Type }
func (r UnknownRecord) CRCMatch() bool   { return r.CRC }

func (SensorRecord) isRecord()    {}
func (ConfigRecord) isRecord()    {}
func (GPSRecord) isRecord()       {}
func (SatelliteRecord) isRecord() {}
func (KalmanRecord) isRecord()    {}
func (UnknownRecord) isRecord()   {}

// The JSON encodings below add a "kind" member naming the variant.

func (r SensorRecord) MarshalJSON() ([]byte, error) {
	type plain SensorRecord
	return json.Marshal(struct {
		Kind string `json:"kind"`
		plain
	}{KindSensor, plain(r)})
}

func (r ConfigRecord) MarshalJSON() ([]byte, error) {
	type plain ConfigRecord
	return json.Marshal(struct {
		Kind string `json:"kind"`
		plain
	}{KindConfig, plain(r)})
}

func (r GPSRecord) MarshalJSON() ([]byte, error) {
	type plain GPSRecord
	return json.Marshal(struct {
		Kind string `json:"kind"`
		plain
	}{KindGPS, plain(r)})
}

func (r SatelliteRecord) MarshalJSON() ([]byte, error) {
	type plain SatelliteRecord
	return json.Marshal(struct {
		Kind string `json:"kind"`
		plain
	}{KindSatellite, plain(r)})
}

func (r KalmanRecord) MarshalJSON() ([]byte, error) {
	type plain KalmanRecord
	return json.Marshal(struct {
		Kind string `json:"kind"`
		plain
	}{KindKalman, plain(r)})
}

func (r UnknownRecord) MarshalJSON() ([]byte, error) {
	type plain UnknownRecord
	return json.Marshal(struct {
		Kind string `json:"kind"`
		plain
	}{KindUnknown, plain(r)})
}
