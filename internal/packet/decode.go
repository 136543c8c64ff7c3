package packet

import "github.com/banshee-data/telemetry.report/internal/units"

// Decode interprets the first FrameSize bytes of frame according to its type
// discriminant. Frames shorter than FrameSize are rejected with a
// *ShortFrameError; unrecognised discriminants yield an UnknownRecord.
//
// Decode is safe for concurrent use.
func Decode(frame RawFrame) (Record, error) {
	if err := frame.CheckLength(); err != nil {
		return nil, err
	}
	v := newView(frame.Data)

	t := Type(v.u8(typeOffset))
	switch t {
	case TypeSensor:
		return decodeSensor(v, frame.CRC), nil
	case TypeConfig:
		return decodeConfig(v, frame.CRC), nil
	case TypeGPS:
		return decodeGPS(v, frame.CRC), nil
	case TypeSatellite:
		return decodeSatellite(v, frame.CRC), nil
	case TypeKalman:
		return decodeKalman(v, frame.CRC), nil
	default:
		return UnknownRecord{Type: t, CRC: frame.CRC}, nil
	}
}

func decodeHeader(v *view, crc bool) Header {
	return Header{
		Serial: v.u16(0),
		Tick:   float64(v.u16(1)) / 100,
		Type:   Type(v.u8(typeOffset)),
		CRC:    crc,
	}
}

func decodeSensor(v *view, crc bool) SensorRecord {
	return SensorRecord{
		Header:       decodeHeader(v, crc),
		State:        v.u8(5),
		Accel:        v.i16(3),
		Pres:         v.i16(4),
		Temp:         float64(v.i16(5)) / 100,
		VBatt:        v.i16(6),
		SenseD:       v.i16(7),
		SenseM:       v.i16(8),
		Acceleration: float64(v.i16(9)) / 16,
		Speed:        float64(v.i16(10)) / 16,
		Height:       v.i16(11),
		GroundPress:  v.i16(12),
		GroundAccel:  v.i16(13),
		AccelPlusG:   v.i16(14),
		AccelMinusG:  v.i16(15),
	}
}

func decodeConfig(v *view, crc bool) ConfigRecord {
	return ConfigRecord{
		Header:       decodeHeader(v, crc),
		Flight:       v.u16(3),
		ConfigMajor:  v.u8(8),
		ConfigMinor:  v.u8(9),
		ApogeeDelay:  v.u16(5),
		MainDeploy:   v.u16(6),
		FlightLogMax: v.u16(7),
		Callsign:     v.text(16, 8),
		Version:      v.text(24, 8),
	}
}

// GPS status flags packed into byte 5 alongside the satellite count.
const (
	gpsNSatsMask   = 0x07
	gpsValid       = 0x08
	gpsRunning     = 0x10
	gpsDateValid   = 0x20
	gpsCourseValid = 0x40
)

func decodeGPS(v *view, crc bool) GPSRecord {
	flags := v.u8(5)
	return GPSRecord{
		Header:      decodeHeader(v, crc),
		NSats:       flags & gpsNSatsMask,
		Valid:       flags&gpsValid != 0,
		Running:     flags&gpsRunning != 0,
		DateValid:   flags&gpsDateValid != 0,
		CourseValid: flags&gpsCourseValid != 0,
		Altitude:    v.i16(3),
		Latitude:    float64(v.i32(2)) / 1e7,
		Longitude:   float64(v.i32(3)) / 1e7,
		Year:        uint16(v.u8(16)) + 2000,
		Month:       v.u8(17),
		Day:         v.u8(18),
		Hour:        v.u8(19),
		Minute:      v.u8(20),
		Second:      v.u8(21),
		PDOP:        float64(v.u8(22)) / 5,
		HDOP:        float64(v.u8(23)) / 5,
		VDOP:        float64(v.u8(24)) / 5,
		Mode:        v.u8(25),
		GroundSpeed: float64(v.u16(13)) / 100,
		ClimbRate:   float64(v.i16(14)) / 100,
		Course:      uint16(v.u8(30)) * 2,
	}
}

func decodeSatellite(v *view, crc bool) SatelliteRecord {
	r := SatelliteRecord{
		Header:   decodeHeader(v, crc),
		Channels: v.u8(5),
	}
	copy(r.Sats[:], v[6:30])
	return r
}

func decodeKalman(v *view, crc bool) KalmanRecord {
	r := KalmanRecord{
		Header:       decodeHeader(v, crc),
		State:        v.u8(5),
		VBatt:        units.BatteryVoltage(v.i16(3)),
		VPyro:        units.PyroVoltage(v.i16(4)),
		VApogee:      units.IgniterVoltage(v.u8(14)),
		VMain:        units.IgniterVoltage(v.u8(15)),
		GroundPres:   v.i32(4),
		GroundAccel:  v.i16(10),
		AccelPlusG:   v.i16(11),
		AccelMinusG:  v.i16(12),
		Acceleration: float64(v.i16(13)) / 16,
		Speed:        float64(v.i16(14)) / 16,
		Height:       v.i16(15),
	}
	for i := range r.Sense {
		r.Sense[i] = units.IgniterVoltage(v.u8(10 + i))
	}
	return r
}
