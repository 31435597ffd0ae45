package telemetry

import (
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/sensor"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandomSource draws unbounded values from a sensor profile.
type RandomSource struct {
	profile sensor.Profile
	rng     *rand.Rand
	dist    interface{ Rand() float64 }
	current string
	ready   bool
}

// NewRandomSource builds a source for profile. A zero seed uses the clock.
func NewRandomSource(profile sensor.Profile, seed uint64) *RandomSource {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)

	if profile.Type == "" {
		profile.Type = sensor.TypeFloat
	}
	if profile.Max < profile.Min {
		profile.Min, profile.Max = profile.Max, profile.Min
	}
	if profile.Length <= 0 {
		profile.Length = 8
	}

	s := &RandomSource{profile: profile, rng: rand.New(src)}
	switch {
	case profile.Distribution == sensor.Normal && profile.StdDev > 0:
		s.dist = distuv.Normal{Mu: profile.Mean, Sigma: profile.StdDev, Src: src}
	case profile.Type == sensor.TypeInt:
		// [min, max+1) floored gives every integer the same weight.
		s.dist = distuv.Uniform{Min: profile.Min, Max: profile.Max + 1, Src: src}
	default:
		s.dist = distuv.Uniform{Min: profile.Min, Max: profile.Max, Src: src}
	}
	return s
}

func (s *RandomSource) Peek() (string, error) {
	if !s.ready {
		s.current = s.next()
		s.ready = true
	}
	return s.current, nil
}

func (s *RandomSource) Advance() {
	s.ready = false
}

// Done is always false.
func (s *RandomSource) Done() bool {
	return false
}

func (s *RandomSource) next() string {
	p := s.profile
	switch p.Type {
	case sensor.TypeString:
		b := make([]byte, p.Length)
		for i := range b {
			b[i] = alphanumeric[s.rng.IntN(len(alphanumeric))]
		}
		return string(b)
	case sensor.TypeInt:
		v := math.Floor(s.dist.Rand())
		v = math.Max(p.Min, math.Min(p.Max, v))
		return strconv.Itoa(int(v))
	default:
		v := math.Max(p.Min, math.Min(p.Max, s.dist.Rand()))
		return strconv.FormatFloat(v, 'f', 2, 64)
	}
}
