package world

import (
	"math"
	"strings"
)

// Vec3 is a position or rotation in world space.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// V3 builds a Vec3 from a config slice. Missing components are zero.
func V3(s []float64) Vec3 {
	var v Vec3
	if len(s) > 0 {
		v.X = s[0]
	}
	if len(s) > 1 {
		v.Y = s[1]
	}
	if len(s) > 2 {
		v.Z = s[2]
	}
	return v
}

// DistanceTo returns the Euclidean distance between v and o.
func (v Vec3) DistanceTo(o Vec3) float64 {
	dx := v.X - o.X
	dy := v.Y - o.Y
	dz := v.Z - o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Pose is a position plus rotation.
type Pose struct {
	Position Vec3 `json:"position"`
	Rotation Vec3 `json:"rotation"`
}

// ModelHash converts a vehicle model name into the engine's model id
// (Jenkins one-at-a-time over the lower-cased name).
func ModelHash(name string) uint32 {
	var h uint32
	for _, c := range []byte(strings.ToLower(name)) {
		h += uint32(c)
		h += h << 10
		h ^= h >> 6
	}
	h += h << 3
	h ^= h >> 11
	h += h << 15
	return h
}
