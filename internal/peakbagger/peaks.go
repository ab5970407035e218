package peakbagger

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"peaklogger/internal/logging"
)

// Peak is a summit as listed by Peakbagger. ElevationFt is in feet;
// Prominence is nil when Peakbagger did not report one.
type Peak struct {
	ID          int64
	Name        string
	ElevationFt float64
	Lat         float64
	Lon         float64
	Prominence  *float64
}

// Ascent is one entry from a climber's ascent list. Date carries only the
// calendar day, at midnight UTC.
type Ascent struct {
	PeakID      int64
	AscentID    int64
	Name        string
	ElevationFt float64
	Lat         float64
	Lon         float64
	Date        time.Time
}

type nearbyRow struct {
	ID         string  `xml:"i,attr"`
	Name       string  `xml:"n,attr"`
	Elevation  string  `xml:"f,attr"`
	Lat        string  `xml:"a,attr"`
	Lon        string  `xml:"o,attr"`
	Prominence *string `xml:"r,attr"`
}

type ascentRow struct {
	ID        string `xml:"i,attr"`
	Name      string `xml:"n,attr"`
	Elevation string `xml:"f,attr"`
	Lat       string `xml:"z,attr"`
	Lon       string `xml:"o,attr"`
	AscentID  string `xml:"a,attr"`
	Date      string `xml:"d,attr"`
}

type pbDocument[T any] struct {
	XMLName xml.Name `xml:"pb"`
	Rows    []T      `xml:"r"`
}

// NearbyPeaks returns up to n peaks nearest to the given point, nearest first.
// Results are cached per query.
func (c *Client) NearbyPeaks(ctx context.Context, lat, lon float64, n int) ([]Peak, error) {
	params := url.Values{}
	params.Set("pn", "APIGetNearbyPeaks")
	params.Set("p1", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("p2", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("p3", "0")      // climber id
	params.Set("p4", "1")      // include provisional peaks
	params.Set("p5", "0")      // do not exclude climbed peaks
	params.Set("p9", "0")      // listed and unlisted
	params.Set("p10", "0")     // with and without ascents
	params.Set("p6", "-32000") // min elevation, ft
	params.Set("p11", "32000") // max elevation, ft
	params.Set("p7", "0")      // min prominence, ft
	params.Set("p8", strconv.Itoa(n))
	params.Set("p12", "'en'")
	params.Set("p13", "0")
	params.Set("p14", "0")
	params.Set("p15", "''")
	params.Set("p16", "0")
	params.Set("p17", "0.0") // isolation, km
	endpoint := c.endpoint("pt.ashx", params)

	ttl := c.effectiveCacheTTL()
	if ttl > 0 {
		if cached, ok := c.getCached(endpoint); ok {
			return cached, nil
		}
	}

	body, err := c.getWithRetry(ctx, "nearby_peaks", endpoint)
	if err != nil {
		return nil, err
	}

	var rows []nearbyRow
	if err := decodeRows(body, &rows); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("unreadable peakbagger nearby response")
		return nil, nil
	}

	peaks := make([]Peak, 0, len(rows))
	for _, r := range rows {
		id, err := strconv.ParseInt(strings.TrimSpace(r.ID), 10, 64)
		if err != nil {
			continue
		}
		p := Peak{
			ID:          id,
			Name:        r.Name,
			ElevationFt: parseFloat(r.Elevation),
			Lat:         parseFloat(r.Lat),
			Lon:         parseFloat(r.Lon),
		}
		if r.Prominence != nil {
			v := parseFloat(*r.Prominence)
			p.Prominence = &v
		}
		peaks = append(peaks, p)
	}

	if ttl > 0 {
		c.setCached(endpoint, peaks, ttl)
	}
	return peaks, nil
}

// Ascents lists every ascent recorded by the climber.
func (c *Client) Ascents(ctx context.Context, climberID int64) ([]Ascent, error) {
	cid := strconv.FormatInt(climberID, 10)
	params := url.Values{}
	params.Set("pn", "APIGetAscents")
	params.Set("p1", cid)
	params.Set("p2", "1")
	params.Set("p3", "en")
	params.Set("p4", "0")
	params.Set("p5", cid)

	body, err := c.getWithRetry(ctx, "ascents", c.endpoint("pt.ashx", params))
	if err != nil {
		return nil, err
	}

	var rows []ascentRow
	if err := decodeRows(body, &rows); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int64("climber_id", climberID).Msg("unreadable peakbagger ascent list")
		return nil, nil
	}

	ascents := make([]Ascent, 0, len(rows))
	for _, r := range rows {
		id, err := strconv.ParseInt(strings.TrimSpace(r.ID), 10, 64)
		if err != nil {
			continue
		}
		day, _, _ := strings.Cut(strings.TrimSpace(r.Date), " ")
		date, err := time.Parse("2006-1-2", day)
		if err != nil {
			continue
		}
		aid, _ := strconv.ParseInt(strings.TrimSpace(r.AscentID), 10, 64)
		ascents = append(ascents, Ascent{
			PeakID:      id,
			AscentID:    aid,
			Name:        r.Name,
			ElevationFt: parseFloat(r.Elevation),
			Lat:         parseFloat(r.Lat),
			Lon:         parseFloat(r.Lon),
			Date:        date,
		})
	}
	return ascents, nil
}

func decodeRows[T any](body []byte, rows *[]T) error {
	dec := xml.NewDecoder(bytes.NewReader(body))
	// Peakbagger declares legacy charsets; attribute values we read are ASCII.
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	var doc pbDocument[T]
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("no <pb> document")
		}
		return err
	}
	*rows = doc.Rows
	return nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}
