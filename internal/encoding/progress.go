package encoding

import (
	"strconv"
	"strings"
)

// progressParser accumulates ffmpeg "-progress" key=value lines. Each block
// ends with a progress=continue or progress=end line.
type progressParser struct {
	start  float64
	cur    Progress
	haveUs bool
}

func newProgressParser(startSeconds float64) *progressParser {
	return &progressParser{start: startSeconds}
}

// feed consumes one line and returns the completed block when line closes
// one.
func (p *progressParser) feed(line string) (Progress, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return Progress{}, false
	}
	value = strings.TrimSpace(value)
	switch key {
	case "frame":
		if n, err := strconv.ParseUint(value, 10, 64); err == nil {
			p.cur.Frame = n
		}
	case "out_time_us":
		if us, ok := parseMicros(value); ok {
			p.cur.TimelineSeconds = p.start + us
			p.haveUs = true
		}
	case "out_time_ms":
		// ffmpeg reports microseconds under this key as well.
		if p.haveUs {
			break
		}
		if us, ok := parseMicros(value); ok {
			p.cur.TimelineSeconds = p.start + us
			p.haveUs = true
		}
	case "out_time":
		if p.haveUs {
			break
		}
		if secs, ok := parseClock(value); ok {
			p.cur.TimelineSeconds = p.start + secs
		}
	case "speed":
		if speed, err := strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64); err == nil {
			p.cur.Speed = speed
		}
	case "progress":
		out := p.cur
		out.Final = value == "end"
		p.haveUs = false
		return out, true
	}
	return Progress{}, false
}

func parseMicros(value string) (float64, bool) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return float64(n) / 1e6, true
}

// parseClock parses HH:MM:SS.micro.
func parseClock(value string) (float64, bool) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	s, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || h < 0 || m < 0 || s < 0 {
		return 0, false
	}
	return float64(h*3600+m*60) + s, true
}
