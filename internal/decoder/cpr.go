package decoder

import (
	"math"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// cprPairWindow is the longest gap between an even and an odd frame that
// still allows an unambiguous global decode.
const cprPairWindow = 10 * time.Second

// cprMaxAircraft bounds the pair memory
const cprMaxAircraft = 10000

const (
	cprScale = 1 << 17
	cprNZ    = 15
)

type cprFrame struct {
	odd        bool
	lat, lon   int
	receivedAt time.Time
}

type cprPair struct {
	even, odd *cprFrame
}

// cprPairs remembers the latest even and odd frame per aircraft
type cprPairs struct {
	mu     sync.Mutex
	window time.Duration
	cache  *ttlcache.Cache[string, cprPair]
}

func newCPRPairs(window time.Duration) *cprPairs {
	return &cprPairs{
		window: window,
		cache: ttlcache.New[string, cprPair](
			ttlcache.WithTTL[string, cprPair](window),
			ttlcache.WithCapacity[string, cprPair](cprMaxAircraft),
		),
	}
}

// resolve records f and returns a global position once a fresh pair of
// opposite parity exists. The newest frame selects the latitude zone.
func (p *cprPairs) resolve(icao string, f cprFrame) (lat, lon float64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var pair cprPair
	if item := p.cache.Get(icao); item != nil {
		pair = item.Value()
	}
	if f.odd {
		pair.odd = &f
	} else {
		pair.even = &f
	}
	p.cache.Set(icao, pair, ttlcache.DefaultTTL)

	if pair.even == nil || pair.odd == nil {
		return 0, 0, false
	}
	gap := pair.even.receivedAt.Sub(pair.odd.receivedAt)
	if gap < 0 {
		gap = -gap
	}
	if gap > p.window {
		return 0, 0, false
	}

	return globalCPR(*pair.even, *pair.odd, f.odd)
}

func cprMod(a, b float64) float64 {
	return a - b*math.Floor(a/b)
}

// cprNL returns the number of longitude zones at lat
func cprNL(lat float64) int {
	lat = math.Abs(lat)
	switch {
	case lat == 0:
		return 59
	case lat == 87:
		return 2
	case lat > 87:
		return 1
	}
	a := 1 - math.Cos(math.Pi/(2*cprNZ))
	b := math.Pow(math.Cos(math.Pi/180*lat), 2)
	return int(math.Floor(2 * math.Pi / math.Acos(1-a/b)))
}

func globalCPR(even, odd cprFrame, oddNewest bool) (float64, float64, bool) {
	latE := float64(even.lat) / cprScale
	latO := float64(odd.lat) / cprScale
	lonE := float64(even.lon) / cprScale
	lonO := float64(odd.lon) / cprScale

	dLatEven := 360.0 / (4 * cprNZ)
	dLatOdd := 360.0 / (4*cprNZ - 1)

	j := math.Floor(59*latE - 60*latO + 0.5)
	latEven := dLatEven * (cprMod(j, 60) + latE)
	latOdd := dLatOdd * (cprMod(j, 59) + latO)
	if latEven >= 270 {
		latEven -= 360
	}
	if latOdd >= 270 {
		latOdd -= 360
	}

	// both frames must sit in the same longitude zone band
	if cprNL(latEven) != cprNL(latOdd) {
		return 0, 0, false
	}

	lat, lonCPR, nl := latEven, lonE, cprNL(latEven)
	ni := max(nl, 1)
	if oddNewest {
		lat, lonCPR, nl = latOdd, lonO, cprNL(latOdd)
		ni = max(nl-1, 1)
	}

	m := math.Floor(lonE*float64(nl-1) - lonO*float64(nl) + 0.5)
	lon := (360.0 / float64(ni)) * (cprMod(m, float64(ni)) + lonCPR)
	if lon >= 180 {
		lon -= 360
	}

	return lat, lon, true
}
