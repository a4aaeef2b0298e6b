package feed

import (
	"math"
	"net"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"envfeed-go/types"
)

const crlf = "\r\n"

// Labels are the CSV datastream names.
type Labels struct {
	Temperature string
	Humidity    string
}

// Payload renders r as the two-line CSV body, values fixed to two decimals
// with halves rounded away from zero.
func Payload(l Labels, r types.Reading) []byte {
	var b strings.Builder
	b.WriteString(l.Temperature)
	b.WriteByte(',')
	b.WriteString(fixed2(r.Temperature))
	b.WriteString(crlf)
	b.WriteString(l.Humidity)
	b.WriteByte(',')
	b.WriteString(fixed2(r.Humidity))
	return []byte(b.String())
}

// finite reports whether both values of r can be rendered.
func finite(r types.Reading) bool {
	for _, v := range [...]float64{r.Temperature, r.Humidity} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func fixed2(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// Request returns the request line and the header block (ending with the
// blank line) of the PUT carrying a payload of contentLength bytes.
func Request(cfg Config, contentLength int) (line, header []byte) {
	line = []byte("PUT /v2/feeds/" + cfg.FeedID + ".csv HTTP/1.1" + crlf)

	host := cfg.Host
	switch {
	case cfg.Port != 0 && cfg.Port != 80:
		host = net.JoinHostPort(host, strconv.Itoa(cfg.Port))
	case strings.Contains(host, ":"):
		host = "[" + host + "]"
	}
	var b strings.Builder
	b.WriteString("Host: " + host + crlf)
	b.WriteString(cfg.APIKeyHeader + ": " + cfg.APIKey + crlf)
	b.WriteString("Content-Type: text/csv" + crlf)
	b.WriteString("Content-Length: " + strconv.Itoa(contentLength) + crlf)
	b.WriteString(crlf)
	return line, []byte(b.String())
}
