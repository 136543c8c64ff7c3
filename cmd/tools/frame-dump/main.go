// frame-dump prints decoded telemetry packets as a table, either from a
// captured demodulator output file or from a running service.
//
//	frame-dump capture.jsonl
//	frame-dump -url http://localhost:8084 -limit 50
package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"github.com/banshee-data/telemetry.report/internal/db"
	"github.com/banshee-data/telemetry.report/internal/demod"
	"github.com/banshee-data/telemetry.report/internal/gfsk"
	"github.com/banshee-data/telemetry.report/internal/httputil"
	"github.com/banshee-data/telemetry.report/internal/packet"
)

var (
	serverURL = flag.String("url", "", "Base URL of a running telemetry service (reads /api/packets)")
	limit     = flag.Int("limit", 100, "Number of packets to request with -url")
	crcOnly   = flag.Bool("crc-only", false, "Hide packets that failed the CRC check")
)

var header = []string{"ID", "Serial", "Tick", "Kind", "CRC", "Summary"}

func main() {
	flag.Parse()

	var (
		rows [][]string
		err  error
	)
	switch {
	case *serverURL != "":
		rows, err = fetchRows(httputil.NewStandardClient(&http.Client{Timeout: 10 * time.Second}), *serverURL, *limit)
	case flag.NArg() == 1:
		rows, err = captureRows(flag.Arg(0))
	default:
		err = errors.New("usage: frame-dump [-crc-only] capture.jsonl | frame-dump -url http://host:8084")
	}
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}

	if len(rows) == 0 {
		pterm.Warning.Println("no packets")
		return
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(append([][]string{header}, rows...)).Render(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
	pterm.Info.Printfln("%d packets", len(rows))
}

// captureRows decodes every packet line of a capture file. Control messages
// are skipped; malformed lines are reported and skipped.
func captureRows(path string) ([][]string, error) {
	lines, err := demod.ReadCapture(path)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	for i, line := range lines {
		msg, err := gfsk.ParseMessage(line)
		if err != nil {
			if !errors.Is(err, gfsk.ErrEmptyLine) {
				pterm.Warning.Printfln("line %d: %v", i+1, err)
			}
			continue
		}
		frame, ok := msg.Frame()
		if !ok {
			continue
		}
		rec, err := packet.Decode(frame)
		if err != nil {
			pterm.Warning.Printfln("line %d: %v", i+1, err)
			continue
		}
		if *crcOnly && !rec.CRCMatch() {
			continue
		}
		rows = append(rows, recordRow(frame.ID, rec))
	}
	return rows, nil
}

// fetchRows lists recent packets from a running service, oldest first.
func fetchRows(c httputil.HTTPClient, base string, n int) ([][]string, error) {
	u, err := url.JoinPath(base, "/api/packets")
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", base, err)
	}
	u += "?limit=" + strconv.Itoa(n)

	var packets []db.StoredPacket
	if err := httputil.GetJSON(c, u, &packets); err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(packets))
	for i := len(packets) - 1; i >= 0; i-- {
		p := packets[i]
		if *crcOnly && !p.CRC {
			continue
		}
		serial, tick := "-", "-"
		if p.Serial != nil {
			serial = strconv.Itoa(int(*p.Serial))
		}
		if p.Tick != nil {
			tick = strconv.FormatFloat(*p.Tick, 'f', 2, 64)
		}
		rows = append(rows, []string{
			strconv.FormatUint(p.FrameID, 10), serial, tick, p.Kind, crcLabel(p.CRC), p.RawHex,
		})
	}
	return rows, nil
}

func recordRow(id uint64, rec packet.Record) []string {
	serial, tick := "-", "-"
	if h, ok := packet.HeaderOf(rec); ok {
		serial = strconv.Itoa(int(h.Serial))
		tick = strconv.FormatFloat(h.Tick, 'f', 2, 64)
	}
	return []string{
		strconv.FormatUint(id, 10), serial, tick, rec.PacketType().Kind(), crcLabel(rec.CRCMatch()), summary(rec),
	}
}

func crcLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "FAIL"
}

// summary is a one-line description of the most useful fields of rec.
func summary(rec packet.Record) string {
	switch r := rec.(type) {
	case packet.SensorRecord:
		return fmt.Sprintf("state=%d height=%dm speed=%.1fm/s", r.State, r.Height, r.Speed)
	case packet.KalmanRecord:
		return fmt.Sprintf("state=%d height=%dm speed=%.1fm/s batt=%.2fV", r.State, r.Height, r.Speed, r.VBatt)
	case packet.GPSRecord:
		if !r.Valid {
			return fmt.Sprintf("no fix (%d sats)", r.NSats)
		}
		return fmt.Sprintf("%.6f,%.6f alt=%dm (%d sats)", r.Latitude, r.Longitude, r.Altitude, r.NSats)
	case packet.SatelliteRecord:
		return fmt.Sprintf("%d channels", len(r.Satellites()))
	case packet.ConfigRecord:
		return fmt.Sprintf("%s flight=%d v%s", r.Callsign, r.Flight, r.Version)
	default:
		return fmt.Sprintf("type %d", rec.PacketType())
	}
}
